package tacobot

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"github.com/stretchr/testify/require"
)

// mockDiscordSession is a mock implementation of the
// DiscordSessionHandler interface. It records sent messages and
// interaction responses so tests can assert on them.
type mockDiscordSession struct {
	logger *slog.Logger

	mu               sync.Mutex
	sentMessages     []mockSentMessage
	responses        []*discordgo.InteractionResponse
	responseEdits    []*discordgo.WebhookEdit
	channelMessages  map[string]*discordgo.Message
	guildInvites     map[string][]*discordgo.Invite
	guildRoles       map[string][]*discordgo.Role
	guildMembers     map[string][]*discordgo.Member
	customStatus     string
	openCalls        int
	closeCalls       int
	registeredBulk   []*discordgo.ApplicationCommand
	interactionError error
}

type mockSentMessage struct {
	channelID string
	content   string
}

func newMockDiscordSession() *mockDiscordSession {
	return &mockDiscordSession{
		logger: slog.New(
			tint.NewHandler(
				os.Stdout, &tint.Options{Level: slog.LevelDebug},
			),
		).With(loggerNameKey, "mock_discord_session"),
		channelMessages: map[string]*discordgo.Message{},
		guildInvites:    map[string][]*discordgo.Invite{},
		guildRoles:      map[string][]*discordgo.Role{},
		guildMembers:    map[string][]*discordgo.Member{},
	}
}

func (d *mockDiscordSession) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.openCalls++
	return nil
}

func (d *mockDiscordSession) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closeCalls++
	return nil
}

func (d *mockDiscordSession) AddHandler(_ any) func() {
	return func() {}
}

func (d *mockDiscordSession) ChannelMessageSend(
	channelID string,
	message string,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sentMessages = append(
		d.sentMessages,
		mockSentMessage{channelID: channelID, content: message},
	)
	return &discordgo.Message{ChannelID: channelID, Content: message}, nil
}

func (d *mockDiscordSession) ChannelMessageSendEmbed(
	channelID string,
	embed *discordgo.MessageEmbed,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sentMessages = append(
		d.sentMessages,
		mockSentMessage{channelID: channelID, content: embed.Title},
	)
	return &discordgo.Message{ChannelID: channelID}, nil
}

func (d *mockDiscordSession) ChannelMessageSendReply(
	channelID string,
	content string,
	reference *discordgo.MessageReference,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sentMessages = append(
		d.sentMessages,
		mockSentMessage{channelID: channelID, content: content},
	)
	msg := &discordgo.Message{Content: content, ChannelID: channelID}
	if reference != nil {
		msg.GuildID = reference.GuildID
	}
	return msg, nil
}

func (d *mockDiscordSession) ChannelMessage(
	channelID string,
	messageID string,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if msg, ok := d.channelMessages[channelID+"/"+messageID]; ok {
		return msg, nil
	}
	return &discordgo.Message{ID: messageID, ChannelID: channelID}, nil
}

func (d *mockDiscordSession) setChannelMessage(
	channelID string,
	messageID string,
	msg *discordgo.Message,
) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.channelMessages[channelID+"/"+messageID] = msg
}

func (d *mockDiscordSession) ApplicationCommandBulkOverwrite(
	_ string,
	_ string,
	commands []*discordgo.ApplicationCommand,
	_ ...discordgo.RequestOption,
) ([]*discordgo.ApplicationCommand, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.registeredBulk = commands
	return commands, nil
}

func (d *mockDiscordSession) InteractionRespond(
	_ *discordgo.Interaction,
	resp *discordgo.InteractionResponse,
	_ ...discordgo.RequestOption,
) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.interactionError != nil {
		return d.interactionError
	}
	d.responses = append(d.responses, resp)
	return nil
}

func (d *mockDiscordSession) InteractionResponseEdit(
	_ *discordgo.Interaction,
	newresp *discordgo.WebhookEdit,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.responseEdits = append(d.responseEdits, newresp)
	return &discordgo.Message{}, nil
}

func (d *mockDiscordSession) UpdateCustomStatus(status string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.customStatus = status
	return nil
}

func (d *mockDiscordSession) GuildInvites(
	guildID string,
	_ ...discordgo.RequestOption,
) ([]*discordgo.Invite, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.guildInvites[guildID], nil
}

func (d *mockDiscordSession) GuildRoles(
	guildID string,
	_ ...discordgo.RequestOption,
) ([]*discordgo.Role, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.guildRoles[guildID], nil
}

func (d *mockDiscordSession) GuildMembers(
	guildID string,
	_ string,
	_ int,
	_ ...discordgo.RequestOption,
) ([]*discordgo.Member, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.guildMembers[guildID], nil
}

func (d *mockDiscordSession) SetHTTPClient(_ *http.Client) {}

func (d *mockDiscordSession) SetLogLevel(_ slog.Level) error {
	return nil
}

func (d *mockDiscordSession) lastResponse() *discordgo.InteractionResponse {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.responses) == 0 {
		return nil
	}
	return d.responses[len(d.responses)-1]
}

func (d *mockDiscordSession) lastEdit() *discordgo.WebhookEdit {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.responseEdits) == 0 {
		return nil
	}
	return d.responseEdits[len(d.responseEdits)-1]
}

// memoryDataStore is an in-memory DataStore used in place of MongoDB
// for handler tests.
type memoryDataStore struct {
	mu sync.Mutex

	users         map[string]*User
	tacos         map[string]int64 // guildID/userID
	gifts         []TacoGift
	twitchLinks   map[string]*TwitchLink // userID
	whitelist     map[string][]MinecraftWhitelistEntry
	worlds        map[string][]MinecraftWorld
	gameKeys      []GameKey
	invites       map[string]InviteRecord // guildID/code
	trivia        map[string]*TriviaScore // guildID/userID
	guildSettings map[string]GuildSettings
	adminCreds    *AdminCredentials
	closed        bool
}

func newMemoryDataStore() *memoryDataStore {
	return &memoryDataStore{
		users:         map[string]*User{},
		tacos:         map[string]int64{},
		twitchLinks:   map[string]*TwitchLink{},
		whitelist:     map[string][]MinecraftWhitelistEntry{},
		worlds:        map[string][]MinecraftWorld{},
		invites:       map[string]InviteRecord{},
		trivia:        map[string]*TriviaScore{},
		guildSettings: map[string]GuildSettings{},
	}
}

func (m *memoryDataStore) UpsertUser(_ context.Context, u discordgo.User) (
	*User,
	bool,
	error,
) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.users[u.ID]
	if ok {
		existing.Username = u.Username
		existing.GlobalName = u.GlobalName
		existing.LastSeen = time.Now().UTC().UnixMilli()
		return existing, false, nil
	}
	user := NewUser(u)
	m.users[u.ID] = user
	return user, true, nil
}

func (m *memoryDataStore) GetUser(_ context.Context, userID string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return u, nil
}

func (m *memoryDataStore) AddTacos(
	_ context.Context,
	guildID string,
	userID string,
	amount int64,
) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := guildID + "/" + userID
	count := m.tacos[key] + amount
	if count < 0 {
		count = 0
	}
	m.tacos[key] = count
	return count, nil
}

func (m *memoryDataStore) TacoCount(
	_ context.Context,
	guildID string,
	userID string,
) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tacos[guildID+"/"+userID], nil
}

func (m *memoryDataStore) RecordGift(_ context.Context, gift TacoGift) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gifts = append(m.gifts, gift)
	return nil
}

func (m *memoryDataStore) GiftTotal24h(
	_ context.Context,
	guildID string,
	fromUserID string,
) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().Add(-24 * time.Hour).UTC().UnixMilli()
	var total int64
	for _, gift := range m.gifts {
		if gift.GuildID == guildID &&
			gift.FromUserID == fromUserID &&
			gift.Amount > 0 &&
			gift.CreatedAt >= cutoff {
			total += gift.Amount
		}
	}
	return total, nil
}

func (m *memoryDataStore) Leaderboard(
	_ context.Context,
	guildID string,
	limit int64,
) ([]TacoEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var entries []TacoEntry
	for key, count := range m.tacos {
		parts := strings.SplitN(key, "/", 2)
		if parts[0] != guildID || count == 0 {
			continue
		}
		entries = append(
			entries,
			TacoEntry{GuildID: guildID, UserID: parts[1], Count: count},
		)
	}
	sort.Slice(
		entries, func(a, b int) bool {
			return entries[a].Count > entries[b].Count
		},
	)
	if int64(len(entries)) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (m *memoryDataStore) CreateTwitchLink(
	_ context.Context,
	userID string,
	code string,
) (*TwitchLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	link := &TwitchLink{
		UserID:    userID,
		Code:      code,
		CreatedAt: time.Now().UTC().UnixMilli(),
	}
	m.twitchLinks[userID] = link
	return link, nil
}

func (m *memoryDataStore) SetTwitchName(
	_ context.Context,
	userID string,
	twitchName string,
) (*TwitchLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	link, ok := m.twitchLinks[userID]
	if !ok {
		link = &TwitchLink{UserID: userID}
		m.twitchLinks[userID] = link
	}
	link.TwitchName = twitchName
	link.Verified = false
	return link, nil
}

func (m *memoryDataStore) ConfirmTwitchLink(
	_ context.Context,
	code string,
	twitchName string,
) (*TwitchLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, link := range m.twitchLinks {
		if link.Code == code && !link.Verified {
			link.TwitchName = twitchName
			link.Verified = true
			return link, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memoryDataStore) GetTwitchLink(
	_ context.Context,
	userID string,
) (*TwitchLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	link, ok := m.twitchLinks[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return link, nil
}

func (m *memoryDataStore) RemoveTwitchLink(
	_ context.Context,
	userID string,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.twitchLinks[userID]; !ok {
		return ErrNotFound
	}
	delete(m.twitchLinks, userID)
	return nil
}

func (m *memoryDataStore) TwitchLinks(_ context.Context) ([]TwitchLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var links []TwitchLink
	for _, link := range m.twitchLinks {
		if link.Verified {
			links = append(links, *link)
		}
	}
	return links, nil
}

func (m *memoryDataStore) SetTwitchLive(
	_ context.Context,
	twitchName string,
	live bool,
) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, link := range m.twitchLinks {
		if link.Verified && link.TwitchName == twitchName {
			link.Live = live
			return true, nil
		}
	}
	return false, nil
}

func (m *memoryDataStore) WhitelistAdd(
	_ context.Context,
	entry MinecraftWhitelistEntry,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.whitelist[entry.GuildID] {
		if strings.EqualFold(existing.Username, entry.Username) {
			m.whitelist[entry.GuildID][i] = entry
			return nil
		}
	}
	m.whitelist[entry.GuildID] = append(m.whitelist[entry.GuildID], entry)
	return nil
}

func (m *memoryDataStore) WhitelistRemove(
	_ context.Context,
	guildID string,
	username string,
) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := m.whitelist[guildID]
	for i, entry := range entries {
		if strings.EqualFold(entry.Username, username) {
			m.whitelist[guildID] = append(entries[:i], entries[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (m *memoryDataStore) Whitelist(
	_ context.Context,
	guildID string,
) ([]MinecraftWhitelistEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MinecraftWhitelistEntry{}, m.whitelist[guildID]...), nil
}

func (m *memoryDataStore) Ops(
	_ context.Context,
	guildID string,
) ([]MinecraftWhitelistEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ops []MinecraftWhitelistEntry
	for _, entry := range m.whitelist[guildID] {
		if entry.Op.Enabled {
			ops = append(ops, entry)
		}
	}
	return ops, nil
}

func (m *memoryDataStore) SetOp(
	_ context.Context,
	guildID string,
	username string,
	op MinecraftOp,
) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, entry := range m.whitelist[guildID] {
		if strings.EqualFold(entry.Username, username) {
			m.whitelist[guildID][i].Op = op
			return true, nil
		}
	}
	return false, nil
}

func (m *memoryDataStore) Worlds(
	_ context.Context,
	guildID string,
) ([]MinecraftWorld, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MinecraftWorld{}, m.worlds[guildID]...), nil
}

func (m *memoryDataStore) ActiveWorld(
	_ context.Context,
	guildID string,
) (*MinecraftWorld, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, world := range m.worlds[guildID] {
		if world.Active {
			w := world
			return &w, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memoryDataStore) SelectWorld(
	_ context.Context,
	guildID string,
	worldID string,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	found := false
	for i := range m.worlds[guildID] {
		if m.worlds[guildID][i].WorldID == worldID {
			found = true
		}
	}
	if !found {
		return ErrNotFound
	}
	for i := range m.worlds[guildID] {
		m.worlds[guildID][i].Active = m.worlds[guildID][i].WorldID == worldID
	}
	return nil
}

func (m *memoryDataStore) UpsertWorld(
	_ context.Context,
	world MinecraftWorld,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.worlds[world.GuildID] {
		if existing.WorldID == world.WorldID {
			m.worlds[world.GuildID][i] = world
			return nil
		}
	}
	m.worlds[world.GuildID] = append(m.worlds[world.GuildID], world)
	return nil
}

func (m *memoryDataStore) AddGameKey(_ context.Context, key GameKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gameKeys = append(m.gameKeys, key)
	return nil
}

func (m *memoryDataStore) ClaimGameKey(
	_ context.Context,
	guildID string,
	title string,
	userID string,
) (*GameKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.gameKeys {
		key := &m.gameKeys[i]
		if key.GuildID == guildID &&
			strings.EqualFold(key.Title, title) &&
			key.RedeemedBy == "" {
			key.RedeemedBy = userID
			key.RedeemedAt = time.Now().UTC().UnixMilli()
			claimed := *key
			return &claimed, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memoryDataStore) AvailableGameKeys(
	_ context.Context,
	guildID string,
) ([]GameKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []GameKey
	for _, key := range m.gameKeys {
		if key.GuildID == guildID && key.RedeemedBy == "" {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (m *memoryDataStore) UpsertInvite(_ context.Context, inv InviteRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invites[inv.GuildID+"/"+inv.Code] = inv
	return nil
}

func (m *memoryDataStore) GuildInvites(
	_ context.Context,
	guildID string,
) ([]InviteRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var invites []InviteRecord
	for _, inv := range m.invites {
		if inv.GuildID == guildID {
			invites = append(invites, inv)
		}
	}
	return invites, nil
}

func (m *memoryDataStore) RecordTriviaAnswer(
	_ context.Context,
	guildID string,
	userID string,
	correct bool,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := guildID + "/" + userID
	score, ok := m.trivia[key]
	if !ok {
		score = &TriviaScore{GuildID: guildID, UserID: userID}
		m.trivia[key] = score
	}
	if correct {
		score.Correct++
	} else {
		score.Incorrect++
	}
	return nil
}

func (m *memoryDataStore) TriviaScore(
	_ context.Context,
	guildID string,
	userID string,
) (*TriviaScore, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	score, ok := m.trivia[guildID+"/"+userID]
	if !ok {
		return &TriviaScore{GuildID: guildID, UserID: userID}, nil
	}
	return score, nil
}

func (m *memoryDataStore) GetGuildSettings(
	_ context.Context,
	guildID string,
) (*GuildSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	settings, ok := m.guildSettings[guildID]
	if !ok {
		return nil, ErrNotFound
	}
	return &settings, nil
}

func (m *memoryDataStore) UpsertGuildSettings(
	_ context.Context,
	settings GuildSettings,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.guildSettings[settings.GuildID] = settings
	return nil
}

func (m *memoryDataStore) AllGuildSettings(_ context.Context) (
	[]GuildSettings,
	error,
) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []GuildSettings
	for _, settings := range m.guildSettings {
		all = append(all, settings)
	}
	return all, nil
}

func (m *memoryDataStore) AdminCredentials(_ context.Context) (
	*AdminCredentials,
	error,
) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.adminCreds == nil {
		return nil, ErrNotFound
	}
	return m.adminCreds, nil
}

func (m *memoryDataStore) SetAdminCredentials(
	_ context.Context,
	username string,
	passwordHash string,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.adminCreds = &AdminCredentials{Username: username, Password: passwordHash}
	return nil
}

func (m *memoryDataStore) Counts(_ context.Context) (*BotCounts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := &BotCounts{
		Guilds: int64(len(m.guildSettings)),
		Users:  int64(len(m.users)),
	}
	for _, count := range m.tacos {
		counts.TacosTotal += count
	}
	cutoff := time.Now().Add(-24 * time.Hour).UTC().UnixMilli()
	for _, gift := range m.gifts {
		if gift.CreatedAt >= cutoff {
			counts.TacoGifts24h++
		}
	}
	for _, link := range m.twitchLinks {
		if link.Verified {
			counts.TwitchLinks++
			if link.Live {
				counts.LiveNow++
			}
		}
	}
	for _, entries := range m.whitelist {
		counts.Whitelist += int64(len(entries))
	}
	for _, key := range m.gameKeys {
		if key.RedeemedBy == "" {
			counts.GameKeysFree++
		} else {
			counts.GameKeysRedeemed++
		}
	}
	counts.Invites = int64(len(m.invites))
	for _, score := range m.trivia {
		counts.TriviaCorrect += score.Correct
		counts.TriviaIncorrect += score.Incorrect
	}
	return counts, nil
}

func (m *memoryDataStore) Close(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// newTestBot builds a TacoBot wired to a mock discord session and an
// in-memory datastore. Config mutators run before New, so route and
// client wiring sees them.
func newTestBot(t testing.TB, mutators ...func(*Config)) (
	*TacoBot,
	*mockDiscordSession,
	*memoryDataStore,
) {
	t.Helper()

	config := DefaultConfig()
	config.Discord.Token = "test-token"
	config.Discord.ApplicationID = "test-app-id"
	config.API.Secret = "test-secret"
	config.API.WebhookToken = "test-webhook-token"
	config.Tacos.GiftsPerSecond = 1000
	for _, mutate := range mutators {
		mutate(config)
	}

	bot, err := New(config)
	require.NoError(t, err)

	session := newMockDiscordSession()
	store := newMemoryDataStore()
	bot.discord.session = session
	bot.db = store
	return bot, session, store
}

// newTestInteraction builds a slash command interaction for the given
// command data.
func newTestInteraction(
	guildID string,
	user *discordgo.User,
	data discordgo.ApplicationCommandInteractionData,
) *discordgo.InteractionCreate {
	return &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			ID:      "interaction-id",
			Type:    discordgo.InteractionApplicationCommand,
			GuildID: guildID,
			Member: &discordgo.Member{
				User:        user,
				Permissions: discordgo.PermissionAdministrator,
			},
			Data: data,
		},
	}
}
