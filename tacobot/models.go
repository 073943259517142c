package tacobot

import (
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"
)

// Collection names in the tacobot database.
const (
	collectionTacos       = "tacos"
	collectionTacoGifts   = "taco_gifts"
	collectionUsers       = "users"
	collectionTwitchLinks = "twitch_links"
	collectionWhitelist   = "minecraft_whitelist"
	collectionWorlds      = "minecraft_worlds"
	collectionGameKeys    = "game_keys"
	collectionInvites     = "invites"
	collectionTrivia      = "trivia_scores"
	collectionSettings    = "guild_settings"
	collectionAdmin       = "admin"
)

// TacoGiftType distinguishes how tacos moved between users.
type TacoGiftType string

const (
	GiftTypeCommand  TacoGiftType = "command"
	GiftTypeReaction TacoGiftType = "reaction"
	GiftTypeWebhook  TacoGiftType = "webhook"
	GiftTypeTrivia   TacoGiftType = "trivia"
	GiftTypeRemove   TacoGiftType = "remove"
)

// TacoEntry is the per guild/user taco balance document. Exactly one
// exists per (guild_id, user_id) pair; Count never goes below zero.
type TacoEntry struct {
	GuildID   string `bson:"guild_id" json:"guild_id"`
	UserID    string `bson:"user_id" json:"user_id"`
	Count     int64  `bson:"count" json:"count"`
	UpdatedAt int64  `bson:"updated_at" json:"updated_at,omitempty"`
}

// TacoGift is an append-only ledger entry recording a taco transfer.
// The rolling 24-hour gift cap is computed from these.
type TacoGift struct {
	GuildID    string       `bson:"guild_id" json:"guild_id"`
	FromUserID string       `bson:"from_user_id" json:"from_user_id"`
	ToUserID   string       `bson:"to_user_id" json:"to_user_id"`
	Amount     int64        `bson:"amount" json:"amount"`
	Reason     string       `bson:"reason" json:"reason,omitempty"`
	Type       TacoGiftType `bson:"type" json:"type"`
	CreatedAt  int64        `bson:"created_at" json:"created_at,omitempty"`
}

// User is the bot's record of a Discord user it has seen.
type User struct {
	ID         string `bson:"user_id" json:"id"`
	Username   string `bson:"username" json:"username"`
	GlobalName string `bson:"global_name" json:"global_name,omitempty"`
	LastSeen   int64  `bson:"last_seen" json:"last_seen,omitempty"`

	// Ignored users get no replies and can't earn or gift tacos
	Ignored bool `bson:"ignored" json:"ignored"`
}

func NewUser(u discordgo.User) *User {
	return &User{
		ID:         u.ID,
		Username:   u.Username,
		GlobalName: u.GlobalName,
		LastSeen:   time.Now().UTC().UnixMilli(),
	}
}

func (u User) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("id", u.ID),
		slog.String("username", u.Username),
		slog.String("global_name", u.GlobalName),
	)
}

// userChangedDiscordUsername reports whether the discord-side username
// or global name differs from what's stored.
func (u User) userChangedDiscordUsername(d discordgo.User) bool {
	return u.Username != d.Username || u.GlobalName != d.GlobalName
}

// TwitchLink associates a Discord user with a Twitch account. Links are
// created unverified with a one-time code; an external flow confirms
// the code via the webhook API.
type TwitchLink struct {
	UserID     string `bson:"user_id" json:"user_id"`
	TwitchName string `bson:"twitch_name" json:"twitch_name,omitempty"`
	Code       string `bson:"code" json:"code,omitempty"`
	Verified   bool   `bson:"verified" json:"verified"`
	// Live tracks whether the linked channel is currently streaming,
	// flipped by the stream up/down webhook.
	Live      bool  `bson:"live" json:"live"`
	CreatedAt int64 `bson:"created_at" json:"created_at,omitempty"`
}

// MinecraftOp carries op status for a whitelist entry.
type MinecraftOp struct {
	Enabled bool `bson:"enabled" json:"enabled"`
	Level   int  `bson:"level" json:"level,omitempty"`
}

// MinecraftWhitelistEntry is a whitelisted player for a guild's server.
// UUID is resolved from the username via the Mojang API when added.
type MinecraftWhitelistEntry struct {
	GuildID   string      `bson:"guild_id" json:"-"`
	Username  string      `bson:"username" json:"name"`
	UUID      string      `bson:"uuid" json:"uuid"`
	AddedBy   string      `bson:"added_by" json:"-"`
	Op        MinecraftOp `bson:"op" json:"-"`
	CreatedAt int64       `bson:"created_at" json:"-"`
}

// MinecraftWorld is a selectable world for a guild's server. At most
// one world per guild has Active set.
type MinecraftWorld struct {
	GuildID string `bson:"guild_id" json:"guild_id"`
	WorldID string `bson:"world_id" json:"world_id"`
	Name    string `bson:"name" json:"name"`
	Active  bool   `bson:"active" json:"active"`
}

// GameKey is a free game key offered to the community.
type GameKey struct {
	GuildID    string `bson:"guild_id" json:"guild_id"`
	Title      string `bson:"title" json:"title"`
	Key        string `bson:"key" json:"-"`
	Platform   string `bson:"platform" json:"platform,omitempty"`
	OfferedBy  string `bson:"offered_by" json:"offered_by"`
	RedeemedBy string `bson:"redeemed_by" json:"redeemed_by,omitempty"`
	CreatedAt  int64  `bson:"created_at" json:"created_at,omitempty"`
	RedeemedAt int64  `bson:"redeemed_at" json:"redeemed_at,omitempty"`
}

// InviteRecord tracks a guild invite so member joins can be attributed
// to the inviter.
type InviteRecord struct {
	GuildID   string `bson:"guild_id" json:"guild_id"`
	Code      string `bson:"code" json:"code"`
	InviterID string `bson:"inviter_id" json:"inviter_id"`
	Uses      int    `bson:"uses" json:"uses"`
	CreatedAt int64  `bson:"created_at" json:"created_at,omitempty"`
}

// TriviaScore is the per guild/user trivia tally.
type TriviaScore struct {
	GuildID   string `bson:"guild_id" json:"guild_id"`
	UserID    string `bson:"user_id" json:"user_id"`
	Correct   int64  `bson:"correct" json:"correct"`
	Incorrect int64  `bson:"incorrect" json:"incorrect"`
	UpdatedAt int64  `bson:"updated_at" json:"updated_at,omitempty"`
}

// GuildSettings holds per-guild configuration, cached in-process with a
// TTL and refreshed from the database (see TacoBot.startSettingsRefresher).
type GuildSettings struct {
	GuildID string `bson:"guild_id" json:"guild_id"`
	Name    string `bson:"name" json:"name,omitempty"`

	// Channel for bot announcements (startup, game keys, new members)
	NotificationChannelID string `bson:"notification_channel_id" json:"notification_channel_id,omitempty"`

	// Overrides Config.Tacos.GiftLimit24h when > 0
	TacoGiftLimit24h int64 `bson:"taco_gift_limit_24h" json:"taco_gift_limit_24h,omitempty"`

	UpdatedAt int64 `bson:"updated_at" json:"updated_at,omitempty"`
}

// AdminCredentials is the single credential document for the admin API,
// written by `tacobot init`. Password is an argon2id hash.
type AdminCredentials struct {
	Username string `bson:"username" json:"username"`
	Password string `bson:"password" json:"-"`
}

// BotCounts carries the aggregate document counts the Prometheus
// exporter publishes.
type BotCounts struct {
	Guilds           int64 `json:"guilds"`
	Users            int64 `json:"users"`
	TacosTotal       int64 `json:"tacos_total"`
	TacoGifts24h     int64 `json:"taco_gifts_24h"`
	TwitchLinks      int64 `json:"twitch_links"`
	LiveNow          int64 `json:"live_now"`
	Whitelist        int64 `json:"minecraft_whitelist"`
	GameKeysFree     int64 `json:"game_keys_available"`
	GameKeysRedeemed int64 `json:"game_keys_redeemed"`
	Invites          int64 `json:"invites"`
	TriviaCorrect    int64 `json:"trivia_correct"`
	TriviaIncorrect  int64 `json:"trivia_incorrect"`
}
