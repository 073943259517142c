package tacobot

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func minecraftInteraction(
	user *discordgo.User,
	sub string,
	options ...*discordgo.ApplicationCommandInteractionDataOption,
) *discordgo.InteractionCreate {
	return newTestInteraction(
		"guild-1",
		user,
		discordgo.ApplicationCommandInteractionData{
			Name: slashCommandMinecraft,
			Options: []*discordgo.ApplicationCommandInteractionDataOption{
				{
					Name:    sub,
					Type:    discordgo.ApplicationCommandOptionSubCommand,
					Options: options,
				},
			},
		},
	)
}

// mojangTestServer resolves any username to Steve's profile.
func mojangTestServer(t testing.TB) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(
		http.HandlerFunc(
			func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write(
					[]byte(`{"id":"069a79f444e94726a5befca90e38aaf5","name":"Steve"}`),
				)
			},
		),
	)
	t.Cleanup(srv.Close)
	return srv
}

func TestMinecraftStatusCommand(t *testing.T) {
	bot, session, store := newTestBot(t)
	ctx := context.Background()

	srv := httptest.NewServer(
		http.HandlerFunc(
			func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write(
					[]byte(`{"online":true,"host":"mc.example.com","port":25565,` +
						`"version":"1.21","motd":"Taco craft!",` +
						`"players":["Steve","Alex"],"max_players":20}`),
				)
			},
		),
	)
	t.Cleanup(srv.Close)
	bot.external.Minecraft = &MinecraftBridgeClient{
		baseURL: srv.URL,
		client:  srv.Client(),
	}

	require.NoError(
		t, store.UpsertWorld(
			ctx, MinecraftWorld{
				GuildID: "guild-1",
				WorldID: "skyblock",
				Name:    "Skyblock",
			},
		),
	)
	require.NoError(t, store.SelectWorld(ctx, "guild-1", "skyblock"))

	bob := &discordgo.User{ID: "bob", Username: "bob"}
	bot.handleInteraction(ctx, minecraftInteraction(bob, "status"))

	edit := session.lastEdit()
	require.NotNil(t, edit)
	require.NotNil(t, edit.Embeds)
	require.Len(t, *edit.Embeds, 1)
	embed := (*edit.Embeds)[0]
	assert.Equal(t, "Taco craft!", embed.Description)

	fields := map[string]string{}
	for _, field := range embed.Fields {
		fields[field.Name] = field.Value
	}
	assert.Equal(t, "mc.example.com:25565", fields["Address"])
	assert.Equal(t, "1.21", fields["Version"])
	assert.Equal(t, "2/20", fields["Players"])
	assert.Equal(t, "Steve, Alex", fields["Online now"])
	assert.Equal(t, "Skyblock", fields["World"])
}

func TestMinecraftStatusOffline(t *testing.T) {
	bot, session, _ := newTestBot(t)

	srv := httptest.NewServer(
		http.HandlerFunc(
			func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(`{"online":false}`))
			},
		),
	)
	t.Cleanup(srv.Close)
	bot.external.Minecraft = &MinecraftBridgeClient{
		baseURL: srv.URL,
		client:  srv.Client(),
	}

	bob := &discordgo.User{ID: "bob", Username: "bob"}
	bot.handleInteraction(context.Background(), minecraftInteraction(bob, "status"))

	edit := session.lastEdit()
	require.NotNil(t, edit)
	require.NotNil(t, edit.Content)
	assert.Contains(t, *edit.Content, "offline")
}

func TestMinecraftWhitelistAdd(t *testing.T) {
	bot, session, store := newTestBot(t)
	ctx := context.Background()

	srv := mojangTestServer(t)
	bot.external.Mojang = &MojangClient{baseURL: srv.URL, client: srv.Client()}

	bob := &discordgo.User{ID: "bob", Username: "bob"}
	bot.handleInteraction(
		ctx,
		minecraftInteraction(
			bob,
			"whitelist-add",
			stringOption("username", " steve "),
		),
	)

	edit := session.lastEdit()
	require.NotNil(t, edit)
	require.NotNil(t, edit.Content)
	assert.Contains(t, *edit.Content, "`Steve` is whitelisted")

	entries, err := store.Whitelist(ctx, "guild-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Steve", entries[0].Username)
	assert.Equal(t, "069a79f4-44e9-4726-a5be-fca90e38aaf5", entries[0].UUID)
	assert.Equal(t, "bob", entries[0].AddedBy)
}

func TestMinecraftWhitelistAddUnknownUser(t *testing.T) {
	bot, session, store := newTestBot(t)

	srv := httptest.NewServer(
		http.HandlerFunc(
			func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusNotFound)
			},
		),
	)
	t.Cleanup(srv.Close)
	bot.external.Mojang = &MojangClient{baseURL: srv.URL, client: srv.Client()}

	bob := &discordgo.User{ID: "bob", Username: "bob"}
	bot.handleInteraction(
		context.Background(),
		minecraftInteraction(
			bob,
			"whitelist-add",
			stringOption("username", "nobody"),
		),
	)

	edit := session.lastEdit()
	require.NotNil(t, edit)
	require.NotNil(t, edit.Content)
	assert.Contains(t, *edit.Content, "No Minecraft account named `nobody`")
	assert.Empty(t, store.whitelist)
}

func TestMinecraftWhitelistRemove(t *testing.T) {
	bot, session, store := newTestBot(t)
	ctx := context.Background()

	require.NoError(
		t, store.WhitelistAdd(
			ctx, MinecraftWhitelistEntry{
				GuildID:  "guild-1",
				Username: "Steve",
				UUID:     "069a79f4-44e9-4726-a5be-fca90e38aaf5",
				AddedBy:  "bob",
			},
		),
	)

	mod := &discordgo.User{ID: "mod", Username: "mod"}
	bot.handleInteraction(
		ctx,
		minecraftInteraction(
			mod, "whitelist-remove", stringOption("username", "Steve"),
		),
	)
	resp := session.lastResponse()
	require.NotNil(t, resp)
	assert.Contains(t, resp.Data.Content, "removed from the whitelist")

	entries, err := store.Whitelist(ctx, "guild-1")
	require.NoError(t, err)
	assert.Empty(t, entries)

	// removing a name that isn't there
	bot.handleInteraction(
		ctx,
		minecraftInteraction(
			mod, "whitelist-remove", stringOption("username", "Alex"),
		),
	)
	resp = session.lastResponse()
	require.NotNil(t, resp)
	assert.Contains(t, resp.Data.Content, "`Alex` wasn't on the whitelist")
}

func TestMinecraftWhitelistRemoveRequiresModerator(t *testing.T) {
	bot, session, store := newTestBot(t)
	ctx := context.Background()

	require.NoError(
		t, store.WhitelistAdd(
			ctx, MinecraftWhitelistEntry{
				GuildID:  "guild-1",
				Username: "Steve",
			},
		),
	)

	i := minecraftInteraction(
		&discordgo.User{ID: "pleb", Username: "pleb"},
		"whitelist-remove",
		stringOption("username", "Steve"),
	)
	i.Member.Permissions = 0
	bot.handleInteraction(ctx, i)

	resp := session.lastResponse()
	require.NotNil(t, resp)
	assert.Contains(t, resp.Data.Content, "Only moderators")

	entries, err := store.Whitelist(ctx, "guild-1")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestMinecraftWhitelistList(t *testing.T) {
	bot, session, store := newTestBot(t)
	ctx := context.Background()

	bob := &discordgo.User{ID: "bob", Username: "bob"}
	bot.handleInteraction(ctx, minecraftInteraction(bob, "whitelist"))
	resp := session.lastResponse()
	require.NotNil(t, resp)
	assert.Contains(t, resp.Data.Content, "whitelist is empty")

	require.NoError(
		t, store.WhitelistAdd(
			ctx, MinecraftWhitelistEntry{GuildID: "guild-1", Username: "Steve"},
		),
	)
	require.NoError(
		t, store.WhitelistAdd(
			ctx, MinecraftWhitelistEntry{
				GuildID:  "guild-1",
				Username: "Alex",
				Op:       MinecraftOp{Enabled: true, Level: 4},
			},
		),
	)

	bot.handleInteraction(ctx, minecraftInteraction(bob, "whitelist"))
	resp = session.lastResponse()
	require.NotNil(t, resp)
	assert.Contains(t, resp.Data.Content, "Whitelisted players (2)")
	assert.Contains(t, resp.Data.Content, "Steve")
	assert.Contains(t, resp.Data.Content, "Alex (op)")
}

func TestMinecraftOps(t *testing.T) {
	bot, session, store := newTestBot(t)
	ctx := context.Background()

	bob := &discordgo.User{ID: "bob", Username: "bob"}
	bot.handleInteraction(ctx, minecraftInteraction(bob, "ops"))
	resp := session.lastResponse()
	require.NotNil(t, resp)
	assert.Contains(t, resp.Data.Content, "No operators")

	require.NoError(
		t, store.WhitelistAdd(
			ctx, MinecraftWhitelistEntry{GuildID: "guild-1", Username: "Steve"},
		),
	)
	require.NoError(
		t, store.WhitelistAdd(
			ctx, MinecraftWhitelistEntry{
				GuildID:  "guild-1",
				Username: "Alex",
				Op:       MinecraftOp{Enabled: true, Level: 2},
			},
		),
	)

	bot.handleInteraction(ctx, minecraftInteraction(bob, "ops"))
	resp = session.lastResponse()
	require.NotNil(t, resp)
	assert.Contains(t, resp.Data.Content, "`Alex` (level 2)")
	assert.NotContains(t, resp.Data.Content, "Steve")
}

func TestMinecraftSetOp(t *testing.T) {
	bot, session, store := newTestBot(t)
	ctx := context.Background()

	require.NoError(
		t, store.WhitelistAdd(
			ctx, MinecraftWhitelistEntry{GuildID: "guild-1", Username: "Steve"},
		),
	)

	mod := &discordgo.User{ID: "mod", Username: "mod"}
	bot.handleInteraction(
		ctx,
		minecraftInteraction(
			mod,
			"set-op",
			stringOption("username", "Steve"),
			&discordgo.ApplicationCommandInteractionDataOption{
				Name:  "level",
				Type:  discordgo.ApplicationCommandOptionInteger,
				Value: float64(2),
			},
		),
	)
	resp := session.lastResponse()
	require.NotNil(t, resp)
	assert.Contains(t, resp.Data.Content, "`Steve` is now a level 2 operator")

	entries, err := store.Whitelist(ctx, "guild-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Op.Enabled)
	assert.Equal(t, 2, entries[0].Op.Level)

	// revoke
	bot.handleInteraction(
		ctx,
		minecraftInteraction(
			mod,
			"set-op",
			stringOption("username", "Steve"),
			&discordgo.ApplicationCommandInteractionDataOption{
				Name:  "remove",
				Type:  discordgo.ApplicationCommandOptionBoolean,
				Value: true,
			},
		),
	)
	resp = session.lastResponse()
	require.NotNil(t, resp)
	assert.Contains(t, resp.Data.Content, "no longer an operator")

	entries, err = store.Whitelist(ctx, "guild-1")
	require.NoError(t, err)
	assert.False(t, entries[0].Op.Enabled)

	// not whitelisted
	bot.handleInteraction(
		ctx,
		minecraftInteraction(mod, "set-op", stringOption("username", "Alex")),
	)
	resp = session.lastResponse()
	require.NotNil(t, resp)
	assert.Contains(t, resp.Data.Content, "`Alex` isn't on the whitelist")

	// out-of-range level
	bot.handleInteraction(
		ctx,
		minecraftInteraction(
			mod,
			"set-op",
			stringOption("username", "Steve"),
			&discordgo.ApplicationCommandInteractionDataOption{
				Name:  "level",
				Type:  discordgo.ApplicationCommandOptionInteger,
				Value: float64(9),
			},
		),
	)
	resp = session.lastResponse()
	require.NotNil(t, resp)
	assert.Contains(t, resp.Data.Content, "between 1 and 4")

	// non-moderators can't manage ops
	i := minecraftInteraction(
		&discordgo.User{ID: "pleb", Username: "pleb"},
		"set-op",
		stringOption("username", "Steve"),
	)
	i.Member.Permissions = 0
	bot.handleInteraction(ctx, i)
	resp = session.lastResponse()
	require.NotNil(t, resp)
	assert.Contains(t, resp.Data.Content, "Only moderators")
}

func TestMinecraftWorlds(t *testing.T) {
	bot, session, store := newTestBot(t)
	ctx := context.Background()

	bob := &discordgo.User{ID: "bob", Username: "bob"}
	bot.handleInteraction(ctx, minecraftInteraction(bob, "worlds"))
	resp := session.lastResponse()
	require.NotNil(t, resp)
	assert.Contains(t, resp.Data.Content, "No worlds configured")

	require.NoError(
		t, store.UpsertWorld(
			ctx,
			MinecraftWorld{GuildID: "guild-1", WorldID: "overworld", Name: "Main"},
		),
	)
	require.NoError(
		t, store.UpsertWorld(
			ctx,
			MinecraftWorld{GuildID: "guild-1", WorldID: "skyblock", Name: "Skyblock"},
		),
	)
	require.NoError(t, store.SelectWorld(ctx, "guild-1", "overworld"))

	bot.handleInteraction(ctx, minecraftInteraction(bob, "worlds"))
	resp = session.lastResponse()
	require.NotNil(t, resp)
	assert.Contains(t, resp.Data.Content, "`overworld` - Main (active)")
	assert.Contains(t, resp.Data.Content, "`skyblock` - Skyblock")
}

func TestMinecraftSelectWorld(t *testing.T) {
	bot, session, store := newTestBot(t)
	ctx := context.Background()

	require.NoError(
		t, store.UpsertWorld(
			ctx,
			MinecraftWorld{GuildID: "guild-1", WorldID: "overworld", Name: "Main"},
		),
	)
	require.NoError(
		t, store.UpsertWorld(
			ctx,
			MinecraftWorld{
				GuildID: "guild-1",
				WorldID: "skyblock",
				Name:    "Skyblock",
				Active:  true,
			},
		),
	)

	mod := &discordgo.User{ID: "mod", Username: "mod"}
	bot.handleInteraction(
		ctx,
		minecraftInteraction(mod, "select-world", stringOption("world", "overworld")),
	)
	resp := session.lastResponse()
	require.NotNil(t, resp)
	assert.Contains(t, resp.Data.Content, "`overworld` is now active")

	world, err := store.ActiveWorld(ctx, "guild-1")
	require.NoError(t, err)
	assert.Equal(t, "overworld", world.WorldID)

	// unknown world
	bot.handleInteraction(
		ctx,
		minecraftInteraction(mod, "select-world", stringOption("world", "nether")),
	)
	resp = session.lastResponse()
	require.NotNil(t, resp)
	assert.Contains(t, resp.Data.Content, "No world with ID `nether`")

	// non-moderators can't switch
	i := minecraftInteraction(
		&discordgo.User{ID: "pleb", Username: "pleb"},
		"select-world",
		stringOption("world", "skyblock"),
	)
	i.Member.Permissions = 0
	bot.handleInteraction(ctx, i)
	resp = session.lastResponse()
	require.NotNil(t, resp)
	assert.Contains(t, resp.Data.Content, "Only moderators")

	world, err = store.ActiveWorld(ctx, "guild-1")
	require.NoError(t, err)
	assert.Equal(t, "overworld", world.WorldID)
}
