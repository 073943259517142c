package tacobot

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func guildInvite(code, inviterID string, uses int) *discordgo.Invite {
	return &discordgo.Invite{
		Code:      code,
		Uses:      uses,
		Inviter:   &discordgo.User{ID: inviterID},
		CreatedAt: time.Now().UTC(),
	}
}

func TestHandleGuildCreate(t *testing.T) {
	bot, session, store := newTestBot(t)
	ctx := context.Background()

	session.guildInvites["guild-1"] = []*discordgo.Invite{
		guildInvite("code-a", "alice", 3),
		guildInvite("code-b", "bob", 0),
	}

	bot.handleGuildCreate(
		ctx, &discordgo.GuildCreate{
			Guild: &discordgo.Guild{ID: "guild-1", Name: "Taco Guild"},
		},
	)

	settings, err := store.GetGuildSettings(ctx, "guild-1")
	require.NoError(t, err)
	assert.Equal(t, "Taco Guild", settings.Name)

	// settings refresher gets poked for the new guild
	assert.Len(t, bot.triggerSettingsRefreshCh, 1)

	invites, err := store.GuildInvites(ctx, "guild-1")
	require.NoError(t, err)
	assert.Len(t, invites, 2)

	bot.inviteCacheMu.Lock()
	cache := bot.inviteCache["guild-1"]
	bot.inviteCacheMu.Unlock()
	require.Len(t, cache, 2)
	assert.Equal(t, 3, cache["code-a"].uses)
	assert.Equal(t, "alice", cache["code-a"].inviterID)
}

func TestHandleGuildCreateKeepsExistingSettings(t *testing.T) {
	bot, _, store := newTestBot(t)
	ctx := context.Background()

	require.NoError(
		t, store.UpsertGuildSettings(
			ctx, GuildSettings{
				GuildID:               "guild-1",
				Name:                  "Existing Name",
				NotificationChannelID: "channel-1",
			},
		),
	)

	bot.handleGuildCreate(
		ctx, &discordgo.GuildCreate{
			Guild: &discordgo.Guild{ID: "guild-1", Name: "Renamed Guild"},
		},
	)

	settings, err := store.GetGuildSettings(ctx, "guild-1")
	require.NoError(t, err)
	assert.Equal(t, "Existing Name", settings.Name)
	assert.Equal(t, "channel-1", settings.NotificationChannelID)
	assert.Empty(t, bot.triggerSettingsRefreshCh)
}

func TestHandleInviteCreate(t *testing.T) {
	bot, _, store := newTestBot(t)
	ctx := context.Background()

	bot.handleInviteCreate(
		ctx, &discordgo.InviteCreate{
			Invite:  &discordgo.Invite{Code: "new-code", Inviter: &discordgo.User{ID: "alice"}},
			GuildID: "guild-1",
		},
	)

	bot.inviteCacheMu.Lock()
	cache := bot.inviteCache["guild-1"]
	bot.inviteCacheMu.Unlock()
	require.Contains(t, cache, "new-code")
	assert.Equal(t, "alice", cache["new-code"].inviterID)
	assert.Zero(t, cache["new-code"].uses)

	invites, err := store.GuildInvites(ctx, "guild-1")
	require.NoError(t, err)
	require.Len(t, invites, 1)
	assert.Equal(t, "new-code", invites[0].Code)
}

func TestHandleGuildMemberAddAttributesInviter(t *testing.T) {
	bot, session, _ := newTestBot(t)
	ctx := context.Background()

	bot.settingsCache["guild-1"] = &GuildSettings{
		GuildID:               "guild-1",
		NotificationChannelID: "notify-channel",
	}

	session.guildInvites["guild-1"] = []*discordgo.Invite{
		guildInvite("code-a", "alice", 3),
		guildInvite("code-b", "bob", 1),
	}
	bot.refreshInviteCache(ctx, "guild-1")

	// carol joins through alice's invite
	session.guildInvites["guild-1"] = []*discordgo.Invite{
		guildInvite("code-a", "alice", 4),
		guildInvite("code-b", "bob", 1),
	}

	bot.handleGuildMemberAdd(
		ctx, &discordgo.GuildMemberAdd{
			Member: &discordgo.Member{
				GuildID: "guild-1",
				User:    &discordgo.User{ID: "carol", Username: "carol"},
			},
		},
	)

	session.mu.Lock()
	defer session.mu.Unlock()
	require.Len(t, session.sentMessages, 1)
	msg := session.sentMessages[0]
	assert.Equal(t, "notify-channel", msg.channelID)
	assert.Contains(t, msg.content, "<@carol>")
	assert.Contains(t, msg.content, "invited by <@alice>")
}

func TestHandleGuildMemberAddAmbiguousInvite(t *testing.T) {
	bot, session, _ := newTestBot(t)
	ctx := context.Background()

	bot.settingsCache["guild-1"] = &GuildSettings{
		GuildID:               "guild-1",
		NotificationChannelID: "notify-channel",
	}

	session.guildInvites["guild-1"] = []*discordgo.Invite{
		guildInvite("code-a", "alice", 0),
		guildInvite("code-b", "bob", 0),
	}
	bot.refreshInviteCache(ctx, "guild-1")

	// two counts moved between refresh and join: can't attribute
	session.guildInvites["guild-1"] = []*discordgo.Invite{
		guildInvite("code-a", "alice", 1),
		guildInvite("code-b", "bob", 1),
	}

	bot.handleGuildMemberAdd(
		ctx, &discordgo.GuildMemberAdd{
			Member: &discordgo.Member{
				GuildID: "guild-1",
				User:    &discordgo.User{ID: "carol", Username: "carol"},
			},
		},
	)

	session.mu.Lock()
	defer session.mu.Unlock()
	require.Len(t, session.sentMessages, 1)
	assert.NotContains(t, session.sentMessages[0].content, "invited by")
}

func TestHandleGuildMemberAddIgnoresBots(t *testing.T) {
	bot, session, store := newTestBot(t)

	bot.handleGuildMemberAdd(
		context.Background(), &discordgo.GuildMemberAdd{
			Member: &discordgo.Member{
				GuildID: "guild-1",
				User:    &discordgo.User{ID: "bot-user", Bot: true},
			},
		},
	)

	session.mu.Lock()
	defer session.mu.Unlock()
	assert.Empty(t, session.sentMessages)
	assert.Empty(t, store.users)
}

func TestHandleGuildMemberAddNoNotificationChannel(t *testing.T) {
	bot, session, store := newTestBot(t)
	ctx := context.Background()

	bot.settingsCache["guild-1"] = &GuildSettings{GuildID: "guild-1"}

	bot.handleGuildMemberAdd(
		ctx, &discordgo.GuildMemberAdd{
			Member: &discordgo.Member{
				GuildID: "guild-1",
				User:    &discordgo.User{ID: "carol", Username: "carol"},
			},
		},
	)

	// member still gets recorded even without a welcome
	_, err := store.GetUser(ctx, "carol")
	require.NoError(t, err)

	session.mu.Lock()
	defer session.mu.Unlock()
	assert.Empty(t, session.sentMessages)
}
