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

const slashCommandGameKey = "gamekey"

func appCommandGameKey() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        slashCommandGameKey,
		Description: "Offer and claim free game keys",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "offer",
				Description: "Offer a game key to the community",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "title",
						Description: "Game title",
						Required:    true,
					},
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "key",
						Description: "The key itself (only shown to the claimer)",
						Required:    true,
					},
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "platform",
						Description: "Platform (Steam, GOG, ...)",
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "claim",
				Description: "Claim an offered game key",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "title",
						Description: "Game title to claim",
						Required:    true,
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "list",
				Description: "List unclaimed game keys",
			},
		},
	}
}

func (t *TacoBot) handleGameKeyCommand(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	u *User,
) {
	ctx, logger := t.getLogger(ctx)

	if i.GuildID == "" {
		t.respondEphemeral(ctx, i, "Game keys only work in a server.")
		return
	}

	sub, options := subcommandOptions(i.ApplicationCommandData())
	switch sub {
	case "offer":
		t.gameKeyOffer(ctx, i, u, options)
	case "claim":
		t.gameKeyClaim(ctx, i, u, options)
	case "list":
		t.gameKeyList(ctx, i)
	default:
		logger.WarnContext(ctx, "unknown gamekey subcommand", "subcommand", sub)
	}
}

func (t *TacoBot) gameKeyOffer(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	u *User,
	options map[string]*discordgo.ApplicationCommandInteractionDataOption,
) {
	ctx, logger := t.getLogger(ctx)

	title := strings.TrimSpace(options["title"].StringValue())
	key := strings.TrimSpace(options["key"].StringValue())
	var platform string
	if opt, ok := options["platform"]; ok {
		platform = strings.TrimSpace(opt.StringValue())
	}

	if err := t.db.AddGameKey(
		ctx, GameKey{
			GuildID:   i.GuildID,
			Title:     title,
			Key:       key,
			Platform:  platform,
			OfferedBy: u.ID,
			CreatedAt: time.Now().UTC().UnixMilli(),
		},
	); err != nil {
		logger.ErrorContext(ctx, "error adding game key", tint.Err(err))
		t.respondEphemeral(ctx, i, "Couldn't save that key.")
		return
	}

	// The key itself never leaves the ephemeral response.
	t.respondEphemeral(
		ctx,
		i,
		fmt.Sprintf("Thanks! `%s` is up for grabs.", title),
	)

	if settings := t.guildSettings(ctx, i.GuildID); settings != nil &&
		settings.NotificationChannelID != "" {
		announcement := fmt.Sprintf(
			"<@%s> is offering a key for **%s**! Claim it with `/%s claim`.",
			u.ID,
			title,
			slashCommandGameKey,
		)
		if err := t.discord.channelMessageSend(
			settings.NotificationChannelID, announcement,
		); err != nil {
			logger.ErrorContext(ctx, "error announcing game key", tint.Err(err))
		}
	}
}

func (t *TacoBot) gameKeyClaim(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	u *User,
	options map[string]*discordgo.ApplicationCommandInteractionDataOption,
) {
	ctx, logger := t.getLogger(ctx)
	title := strings.TrimSpace(options["title"].StringValue())

	key, err := t.db.ClaimGameKey(ctx, i.GuildID, title, u.ID)
	switch {
	case errors.Is(err, ErrNotFound):
		t.respondEphemeral(
			ctx,
			i,
			fmt.Sprintf("No unclaimed key for `%s` right now.", title),
		)
		return
	case err != nil:
		logger.ErrorContext(ctx, "error claiming game key", tint.Err(err))
		t.respondEphemeral(ctx, i, "Couldn't claim that key.")
		return
	}

	msg := fmt.Sprintf("Your key for **%s**: `%s`", key.Title, key.Key)
	if key.Platform != "" {
		msg = fmt.Sprintf("%s (%s)", msg, key.Platform)
	}
	t.respondEphemeral(ctx, i, msg)
}

func (t *TacoBot) gameKeyList(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) {
	ctx, logger := t.getLogger(ctx)

	keys, err := t.db.AvailableGameKeys(ctx, i.GuildID)
	if err != nil {
		logger.ErrorContext(ctx, "error listing game keys", tint.Err(err))
		t.respondEphemeral(ctx, i, "Couldn't load the key list.")
		return
	}
	if len(keys) == 0 {
		t.respondEphemeral(ctx, i, "No keys are up for grabs right now.")
		return
	}

	lines := make([]string, 0, len(keys))
	for _, key := range keys {
		line := fmt.Sprintf("**%s** (offered by <@%s>)", key.Title, key.OfferedBy)
		if key.Platform != "" {
			line = fmt.Sprintf(
				"**%s** on %s (offered by <@%s>)",
				key.Title,
				key.Platform,
				key.OfferedBy,
			)
		}
		lines = append(lines, line)
	}
	t.respondEphemeral(
		ctx,
		i,
		truncate(strings.Join(lines, "\n"), discordMaxMessageLength),
	)
}
