package tacobot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const slashCommandTacos = "tacos"

const defaultLeaderboardSize = 10

// ErrGiftLimitReached indicates the giver hit their rolling 24-hour cap.
var ErrGiftLimitReached = errors.New("taco gift limit reached")

func appCommandTacos() *discordgo.ApplicationCommand {
	minAmount := float64(1)
	return &discordgo.ApplicationCommand{
		Name:        slashCommandTacos,
		Description: "Gift, count and rank tacos",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "give",
				Description: "Gift tacos to another member",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionUser,
						Name:        "user",
						Description: "Who gets the tacos",
						Required:    true,
					},
					{
						Type:        discordgo.ApplicationCommandOptionInteger,
						Name:        "amount",
						Description: "How many tacos",
						MinValue:    &minAmount,
						Required:    true,
					},
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "reason",
						Description: "Why they deserve them",
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "remove",
				Description: "Remove tacos from a member (moderators only)",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionUser,
						Name:        "user",
						Description: "Whose tacos to remove",
						Required:    true,
					},
					{
						Type:        discordgo.ApplicationCommandOptionInteger,
						Name:        "amount",
						Description: "How many tacos to remove",
						MinValue:    &minAmount,
						Required:    true,
					},
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "reason",
						Description: "Reason for the removal",
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "count",
				Description: "Check a taco balance",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionUser,
						Name:        "user",
						Description: "Member to check (defaults to you)",
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "leaderboard",
				Description: "Show the guild taco leaderboard",
			},
		},
	}
}

func (t *TacoBot) handleTacosCommand(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	u *User,
) {
	ctx, logger := t.getLogger(ctx)

	if i.GuildID == "" {
		t.respondEphemeral(ctx, i, "Tacos only exist in servers, sorry!")
		return
	}

	sub, options := subcommandOptions(i.ApplicationCommandData())
	switch sub {
	case "give":
		t.tacosGive(ctx, i, u, options)
	case "remove":
		t.tacosRemove(ctx, i, options)
	case "count":
		t.tacosCount(ctx, i, u, options)
	case "leaderboard":
		t.tacosLeaderboard(ctx, i)
	default:
		logger.WarnContext(ctx, "unknown tacos subcommand", "subcommand", sub)
	}
}

func (t *TacoBot) tacosGive(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	u *User,
	options map[string]*discordgo.ApplicationCommandInteractionDataOption,
) {
	ctx, logger := t.getLogger(ctx)

	target := options["user"].UserValue(nil)
	amount := options["amount"].IntValue()
	var reason string
	if opt, ok := options["reason"]; ok {
		reason = opt.StringValue()
	}

	if target.Bot {
		t.respondEphemeral(ctx, i, "Bots don't eat tacos.")
		return
	}

	if err := t.discord.session.InteractionRespond(
		i.Interaction, ackResponse(false),
	); err != nil {
		logger.ErrorContext(ctx, "error acknowledging interaction", tint.Err(err))
		return
	}

	newCount, err := t.giftTacos(
		ctx, TacoGift{
			GuildID:    i.GuildID,
			FromUserID: u.ID,
			ToUserID:   target.ID,
			Amount:     amount,
			Reason:     reason,
			Type:       GiftTypeCommand,
		},
	)
	switch {
	case errors.Is(err, ErrGiftLimitReached):
		remaining := t.giftRemaining24h(ctx, i.GuildID, u.ID)
		t.editResponse(
			ctx,
			i,
			fmt.Sprintf(
				"You've hit your 24-hour gift limit! You can give %d more "+
					"taco(s) right now.",
				remaining,
			),
		)
		return
	case errors.Is(err, errSelfGift):
		t.editResponse(ctx, i, "You can't gift tacos to yourself!")
		return
	case errors.Is(err, errIgnoredRecipient):
		t.editResponse(ctx, i, "That user can't receive tacos.")
		return
	case err != nil:
		logger.ErrorContext(ctx, "error gifting tacos", tint.Err(err))
		t.editResponse(ctx, i, "Something went wrong gifting those tacos.")
		return
	}

	msg := fmt.Sprintf(
		"%s <@%s> gave <@%s> %d taco(s)! They now have %d.",
		tacoEmoji,
		u.ID,
		target.ID,
		amount,
		newCount,
	)
	if reason != "" {
		msg = fmt.Sprintf("%s Reason: %s", msg, truncate(reason, 200))
	}
	t.editResponse(ctx, i, msg)
}

func (t *TacoBot) tacosRemove(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	options map[string]*discordgo.ApplicationCommandInteractionDataOption,
) {
	ctx, logger := t.getLogger(ctx)

	if !memberCanModerate(i.Member) {
		t.respondEphemeral(ctx, i, "Only moderators can remove tacos.")
		return
	}

	target := options["user"].UserValue(nil)
	amount := options["amount"].IntValue()
	var reason string
	if opt, ok := options["reason"]; ok {
		reason = opt.StringValue()
	}

	if err := t.discord.session.InteractionRespond(
		i.Interaction, ackResponse(false),
	); err != nil {
		logger.ErrorContext(ctx, "error acknowledging interaction", tint.Err(err))
		return
	}

	newCount, err := t.db.AddTacos(ctx, i.GuildID, target.ID, -amount)
	if err != nil {
		logger.ErrorContext(ctx, "error removing tacos", tint.Err(err))
		t.editResponse(ctx, i, "Something went wrong removing those tacos.")
		return
	}
	if err = t.db.RecordGift(
		ctx, TacoGift{
			GuildID:    i.GuildID,
			FromUserID: getDiscordUser(i).ID,
			ToUserID:   target.ID,
			Amount:     -amount,
			Reason:     reason,
			Type:       GiftTypeRemove,
			CreatedAt:  time.Now().UTC().UnixMilli(),
		},
	); err != nil {
		logger.ErrorContext(ctx, "error recording taco removal", tint.Err(err))
	}

	t.editResponse(
		ctx,
		i,
		fmt.Sprintf(
			"Removed %d taco(s) from <@%s>. They now have %d.",
			amount,
			target.ID,
			newCount,
		),
	)
}

func (t *TacoBot) tacosCount(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	u *User,
	options map[string]*discordgo.ApplicationCommandInteractionDataOption,
) {
	ctx, logger := t.getLogger(ctx)

	targetID := u.ID
	if opt, ok := options["user"]; ok {
		targetID = opt.UserValue(nil).ID
	}

	count, err := t.db.TacoCount(ctx, i.GuildID, targetID)
	if err != nil {
		logger.ErrorContext(ctx, "error counting tacos", tint.Err(err))
		t.respondEphemeral(ctx, i, "Couldn't fetch that taco count.")
		return
	}

	var msg string
	if targetID == u.ID {
		msg = fmt.Sprintf("%s You have %d taco(s).", tacoEmoji, count)
	} else {
		msg = fmt.Sprintf("%s <@%s> has %d taco(s).", tacoEmoji, targetID, count)
	}
	t.respondEphemeral(ctx, i, msg)
}

func (t *TacoBot) tacosLeaderboard(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) {
	ctx, logger := t.getLogger(ctx)

	entries, err := t.db.Leaderboard(ctx, i.GuildID, defaultLeaderboardSize)
	if err != nil {
		logger.ErrorContext(ctx, "error loading leaderboard", tint.Err(err))
		t.respondEphemeral(ctx, i, "Couldn't load the leaderboard.")
		return
	}
	if len(entries) == 0 {
		t.respondEphemeral(
			ctx,
			i,
			"No tacos have changed hands here yet. Be the first!",
		)
		return
	}

	lines := make([]string, 0, len(entries))
	for rank, entry := range entries {
		lines = append(
			lines,
			fmt.Sprintf(
				"%d. <@%s> - %d taco(s)",
				rank+1,
				entry.UserID,
				entry.Count,
			),
		)
	}

	err = t.discord.session.InteractionRespond(
		i.Interaction,
		&discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Embeds: []*discordgo.MessageEmbed{
					{
						Title:       fmt.Sprintf("%s Taco Leaderboard", tacoEmoji),
						Description: strings.Join(lines, "\n"),
					},
				},
			},
		},
	)
	if err != nil {
		logger.ErrorContext(ctx, "error sending leaderboard", tint.Err(err))
	}
}

var (
	errSelfGift         = errors.New("cannot gift tacos to yourself")
	errIgnoredRecipient = errors.New("recipient is ignored")
)

// giftTacos is the single path through which tacos are gifted, shared
// by the slash command, the reaction handler, trivia rewards and the
// webhook endpoint. It enforces the per-user rate limiter and the
// rolling 24-hour cap, records the ledger entry, and returns the
// recipient's new balance.
func (t *TacoBot) giftTacos(ctx context.Context, gift TacoGift) (int64, error) {
	ctx, logger := t.getLogger(ctx)

	if gift.Amount <= 0 {
		return 0, fmt.Errorf("gift amount must be positive, got %d", gift.Amount)
	}
	if gift.FromUserID == gift.ToUserID {
		return 0, errSelfGift
	}

	recipient, err := t.db.GetUser(ctx, gift.ToUserID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return 0, fmt.Errorf("error checking recipient: %w", err)
	}
	if recipient != nil && recipient.Ignored {
		return 0, errIgnoredRecipient
	}

	// Trivia rewards and webhook grants from the bot itself skip the
	// limiter and cap. The cap is checked first so a capped attempt
	// doesn't consume a limiter token.
	if gift.FromUserID != "" && gift.Type != GiftTypeTrivia {
		limit := t.giftLimit24h(ctx, gift.GuildID)
		if limit > 0 {
			total, err := t.db.GiftTotal24h(ctx, gift.GuildID, gift.FromUserID)
			if err != nil {
				return 0, fmt.Errorf("error checking gift total: %w", err)
			}
			if total+gift.Amount > limit {
				return 0, ErrGiftLimitReached
			}
		}

		if !t.giftLimiter(gift.FromUserID).Allow() {
			return 0, ErrGiftLimitReached
		}
	}

	newCount, err := t.db.AddTacos(ctx, gift.GuildID, gift.ToUserID, gift.Amount)
	if err != nil {
		return 0, err
	}

	gift.CreatedAt = time.Now().UTC().UnixMilli()
	if err = t.db.RecordGift(ctx, gift); err != nil {
		// Balance already moved. Log it and keep going.
		logger.ErrorContext(ctx, "error recording taco gift", tint.Err(err))
	}

	logger.InfoContext(
		ctx,
		"tacos gifted",
		"guild_id", gift.GuildID,
		"from", gift.FromUserID,
		"to", gift.ToUserID,
		"amount", gift.Amount,
		"type", gift.Type,
		"new_count", newCount,
	)
	return newCount, nil
}

// giftRemaining24h returns how many tacos the user can still gift
// within the rolling window. Best-effort: errors read as zero.
func (t *TacoBot) giftRemaining24h(
	ctx context.Context,
	guildID string,
	userID string,
) int64 {
	limit := t.giftLimit24h(ctx, guildID)
	if limit <= 0 {
		return 0
	}
	total, err := t.db.GiftTotal24h(ctx, guildID, userID)
	if err != nil {
		return 0
	}
	if total >= limit {
		return 0
	}
	return limit - total
}

// handleReactionAdd gifts a taco to a message's author when someone
// reacts with the taco emoji.
func (t *TacoBot) handleReactionAdd(
	ctx context.Context,
	r *discordgo.MessageReactionAdd,
) {
	ctx, logger := t.getLogger(ctx)
	defer func() {
		if rc := recover(); rc != nil {
			t.handleRecover(ctx, rc)
		}
	}()

	if r.GuildID == "" || r.Emoji.Name != tacoEmoji || t.paused.Load() {
		return
	}
	if r.Member == nil || r.Member.User == nil || r.Member.User.Bot {
		return
	}
	reactor := r.Member.User

	msg, err := t.discord.session.ChannelMessage(r.ChannelID, r.MessageID)
	if err != nil {
		logger.ErrorContext(
			ctx,
			"error fetching reacted message",
			tint.Err(err),
			"channel_id", r.ChannelID,
			"message_id", r.MessageID,
		)
		return
	}
	if msg.Author == nil || msg.Author.Bot || msg.Author.ID == reactor.ID {
		return
	}

	u, _, err := t.GetOrCreateUser(ctx, *reactor)
	if err != nil {
		logger.ErrorContext(ctx, "error getting or creating user", tint.Err(err))
		return
	}
	if u.Ignored {
		return
	}
	if _, _, err = t.GetOrCreateUser(ctx, *msg.Author); err != nil {
		logger.ErrorContext(ctx, "error getting or creating author", tint.Err(err))
		return
	}

	if _, err = t.giftTacos(
		ctx, TacoGift{
			GuildID:    r.GuildID,
			FromUserID: reactor.ID,
			ToUserID:   msg.Author.ID,
			Amount:     t.config.Tacos.ReactionAmount,
			Reason:     "taco reaction",
			Type:       GiftTypeReaction,
		},
	); err != nil {
		if !errors.Is(err, ErrGiftLimitReached) {
			logger.ErrorContext(ctx, "error gifting reaction taco", tint.Err(err))
		}
		return
	}
}

// memberCanModerate reports whether the member has manage-server or
// administrator permissions.
func memberCanModerate(m *discordgo.Member) bool {
	if m == nil {
		return false
	}
	return m.Permissions&(discordgo.PermissionAdministrator|
		discordgo.PermissionManageServer) != 0
}

// respondEphemeral sends an immediate ephemeral reply to an interaction.
func (t *TacoBot) respondEphemeral(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	content string,
) {
	_, logger := t.getLogger(ctx)
	if err := t.discord.session.InteractionRespond(
		i.Interaction,
		&discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Content: shortenString(content, discordMaxMessageLength),
				Flags:   discordgo.MessageFlagsEphemeral,
			},
		},
	); err != nil {
		logger.ErrorContext(ctx, "error responding to interaction", tint.Err(err))
	}
}

// editResponse edits a previously deferred interaction response.
func (t *TacoBot) editResponse(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	content string,
) {
	_, logger := t.getLogger(ctx)
	content = shortenString(content, discordMaxMessageLength)
	if _, err := t.discord.session.InteractionResponseEdit(
		i.Interaction,
		&discordgo.WebhookEdit{Content: &content},
	); err != nil {
		logger.ErrorContext(ctx, "error editing interaction response", tint.Err(err))
	}
}
