package tacobot

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// inviteUses is the last-seen use count for a single invite code,
// cached so member joins can be attributed to an inviter by spotting
// which code's count went up.
type inviteUses struct {
	inviterID string
	uses      int
}

// handleGuildCreate primes the invite cache for a guild and makes sure
// a settings document exists for it.
func (t *TacoBot) handleGuildCreate(
	ctx context.Context,
	g *discordgo.GuildCreate,
) {
	ctx, logger := t.getLogger(ctx)
	defer func() {
		if rc := recover(); rc != nil {
			t.handleRecover(ctx, rc)
		}
	}()

	logger = logger.With("guild_id", g.ID, "guild_name", g.Name)
	logger.InfoContext(ctx, "guild available")

	if _, err := t.db.GetGuildSettings(ctx, g.ID); err != nil {
		if upsertErr := t.db.UpsertGuildSettings(
			ctx, GuildSettings{
				GuildID:   g.ID,
				Name:      g.Name,
				UpdatedAt: time.Now().UTC().UnixMilli(),
			},
		); upsertErr != nil {
			logger.ErrorContext(
				ctx,
				"error creating guild settings",
				tint.Err(upsertErr),
			)
		} else {
			select {
			case t.triggerSettingsRefreshCh <- true:
			default:
			}
		}
	}

	t.refreshInviteCache(ctx, g.ID)
}

// refreshInviteCache fetches the guild's active invites and records
// their use counts, both in memory and in the invites collection.
func (t *TacoBot) refreshInviteCache(ctx context.Context, guildID string) {
	ctx, logger := t.getLogger(ctx)

	invites, err := t.discord.session.GuildInvites(guildID)
	if err != nil {
		logger.ErrorContext(
			ctx,
			"error fetching guild invites",
			tint.Err(err),
			"guild_id", guildID,
		)
		return
	}

	cache := make(map[string]inviteUses, len(invites))
	for _, invite := range invites {
		var inviterID string
		if invite.Inviter != nil {
			inviterID = invite.Inviter.ID
		}
		cache[invite.Code] = inviteUses{inviterID: inviterID, uses: invite.Uses}

		if err = t.db.UpsertInvite(
			ctx, InviteRecord{
				GuildID:   guildID,
				Code:      invite.Code,
				InviterID: inviterID,
				Uses:      invite.Uses,
				CreatedAt: invite.CreatedAt.UTC().UnixMilli(),
			},
		); err != nil {
			logger.ErrorContext(ctx, "error upserting invite", tint.Err(err))
		}
	}

	t.inviteCacheMu.Lock()
	t.inviteCache[guildID] = cache
	t.inviteCacheMu.Unlock()

	logger.DebugContext(
		ctx,
		"refreshed invite cache",
		"guild_id", guildID,
		"invites", len(cache),
	)
}

// handleInviteCreate adds a newly created invite to the cache.
func (t *TacoBot) handleInviteCreate(
	ctx context.Context,
	i *discordgo.InviteCreate,
) {
	ctx, logger := t.getLogger(ctx)

	var inviterID string
	if i.Inviter != nil {
		inviterID = i.Inviter.ID
	}

	t.inviteCacheMu.Lock()
	cache, ok := t.inviteCache[i.GuildID]
	if !ok {
		cache = map[string]inviteUses{}
		t.inviteCache[i.GuildID] = cache
	}
	cache[i.Code] = inviteUses{inviterID: inviterID, uses: 0}
	t.inviteCacheMu.Unlock()

	if err := t.db.UpsertInvite(
		ctx, InviteRecord{
			GuildID:   i.GuildID,
			Code:      i.Code,
			InviterID: inviterID,
			CreatedAt: time.Now().UTC().UnixMilli(),
		},
	); err != nil {
		logger.ErrorContext(ctx, "error upserting invite", tint.Err(err))
	}
}

// handleGuildMemberAdd welcomes a new member and attributes the join to
// an inviter by diffing invite use counts against the cache.
func (t *TacoBot) handleGuildMemberAdd(
	ctx context.Context,
	m *discordgo.GuildMemberAdd,
) {
	ctx, logger := t.getLogger(ctx)
	defer func() {
		if rc := recover(); rc != nil {
			t.handleRecover(ctx, rc)
		}
	}()

	if m.User == nil || m.User.Bot {
		return
	}

	if _, _, err := t.GetOrCreateUser(ctx, *m.User); err != nil {
		logger.ErrorContext(ctx, "error recording new member", tint.Err(err))
	}
	logger.InfoContext(ctx, "member joined", userLogAttrs(*m.User)...)

	inviterID := t.attributeJoin(ctx, m.GuildID)

	settings := t.guildSettings(ctx, m.GuildID)
	if settings == nil || settings.NotificationChannelID == "" {
		return
	}

	msg := fmt.Sprintf("Welcome to the server, <@%s>! %s", m.User.ID, tacoEmoji)
	if inviterID != "" {
		msg = fmt.Sprintf(
			"Welcome to the server, <@%s>! %s (invited by <@%s>)",
			m.User.ID,
			tacoEmoji,
			inviterID,
		)
	}
	if err := t.discord.channelMessageSend(
		settings.NotificationChannelID, msg,
	); err != nil {
		logger.ErrorContext(ctx, "error sending welcome message", tint.Err(err))
	}
}

// attributeJoin re-fetches the guild's invites and returns the inviter
// whose code's use count increased since the cache was last refreshed.
// Returns an empty string when no single invite can be identified
// (vanity URLs, expired single-use invites, stale cache).
func (t *TacoBot) attributeJoin(ctx context.Context, guildID string) string {
	ctx, logger := t.getLogger(ctx)

	invites, err := t.discord.session.GuildInvites(guildID)
	if err != nil {
		logger.ErrorContext(
			ctx,
			"error fetching invites for attribution",
			tint.Err(err),
			"guild_id", guildID,
		)
		return ""
	}

	t.inviteCacheMu.Lock()
	cache, ok := t.inviteCache[guildID]
	if !ok {
		cache = map[string]inviteUses{}
		t.inviteCache[guildID] = cache
	}

	var inviterID string
	var bumpedCode string
	var bumpedUses int
	var bumped int
	for _, invite := range invites {
		prev := cache[invite.Code]
		if invite.Uses > prev.uses {
			bumped++
			bumpedCode = invite.Code
			bumpedUses = invite.Uses
			if invite.Inviter != nil {
				inviterID = invite.Inviter.ID
			}
		}
		var cachedInviter string
		if invite.Inviter != nil {
			cachedInviter = invite.Inviter.ID
		}
		cache[invite.Code] = inviteUses{
			inviterID: cachedInviter,
			uses:      invite.Uses,
		}
	}
	t.inviteCacheMu.Unlock()

	// Ambiguous when more than one count moved
	if bumped != 1 {
		return ""
	}

	if bumpedCode != "" {
		if err = t.db.UpsertInvite(
			ctx, InviteRecord{
				GuildID:   guildID,
				Code:      bumpedCode,
				InviterID: inviterID,
				Uses:      bumpedUses,
			},
		); err != nil {
			logger.DebugContext(ctx, "error updating invite record", tint.Err(err))
		}
	}
	return inviterID
}
