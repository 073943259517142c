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

const slashCommandMinecraft = "minecraft"

func appCommandMinecraft() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        slashCommandMinecraft,
		Description: "Community Minecraft server tools",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "status",
				Description: "Show the server status",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "whitelist-add",
				Description: "Add a player to the whitelist",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "username",
						Description: "Minecraft username",
						Required:    true,
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "whitelist-remove",
				Description: "Remove a player from the whitelist (moderators only)",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "username",
						Description: "Minecraft username",
						Required:    true,
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "whitelist",
				Description: "List whitelisted players",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "ops",
				Description: "List server operators",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "set-op",
				Description: "Grant or revoke operator status (moderators only)",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "username",
						Description: "Minecraft username (must be whitelisted)",
						Required:    true,
					},
					{
						Type:        discordgo.ApplicationCommandOptionInteger,
						Name:        "level",
						Description: "Op permission level (1-4, default 4)",
					},
					{
						Type:        discordgo.ApplicationCommandOptionBoolean,
						Name:        "remove",
						Description: "Revoke operator status instead",
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "worlds",
				Description: "List the server's worlds",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "select-world",
				Description: "Make a world active (moderators only)",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "world",
						Description: "World ID to activate",
						Required:    true,
					},
				},
			},
		},
	}
}

func (t *TacoBot) handleMinecraftCommand(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	u *User,
) {
	ctx, logger := t.getLogger(ctx)

	if i.GuildID == "" {
		t.respondEphemeral(ctx, i, "Minecraft commands only work in a server.")
		return
	}

	sub, options := subcommandOptions(i.ApplicationCommandData())
	switch sub {
	case "status":
		t.minecraftStatus(ctx, i)
	case "whitelist-add":
		t.minecraftWhitelistAdd(ctx, i, u, options)
	case "whitelist-remove":
		t.minecraftWhitelistRemove(ctx, i, options)
	case "whitelist":
		t.minecraftWhitelist(ctx, i)
	case "ops":
		t.minecraftOps(ctx, i)
	case "set-op":
		t.minecraftSetOp(ctx, i, options)
	case "worlds":
		t.minecraftWorlds(ctx, i)
	case "select-world":
		t.minecraftSelectWorld(ctx, i, options)
	default:
		logger.WarnContext(ctx, "unknown minecraft subcommand", "subcommand", sub)
	}
}

func (t *TacoBot) minecraftStatus(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) {
	ctx, logger := t.getLogger(ctx)

	if err := t.discord.session.InteractionRespond(
		i.Interaction, ackResponse(false),
	); err != nil {
		logger.ErrorContext(ctx, "error acknowledging interaction", tint.Err(err))
		return
	}

	status, err := t.external.Minecraft.Status(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "error fetching server status", tint.Err(err))
		t.editResponse(ctx, i, "Couldn't reach the server right now.")
		return
	}

	if !status.Online {
		t.editResponse(ctx, i, "The server is offline.")
		return
	}

	fields := []*discordgo.MessageEmbedField{
		{
			Name:   "Address",
			Value:  fmt.Sprintf("%s:%d", status.Host, status.Port),
			Inline: true,
		},
		{Name: "Version", Value: status.Version, Inline: true},
		{
			Name: "Players",
			Value: fmt.Sprintf(
				"%d/%d",
				len(status.Players),
				status.MaxPlayers,
			),
			Inline: true,
		},
	}
	if len(status.Players) > 0 {
		fields = append(
			fields, &discordgo.MessageEmbedField{
				Name:  "Online now",
				Value: truncate(strings.Join(status.Players, ", "), 1024),
			},
		)
	}

	if world, worldErr := t.db.ActiveWorld(ctx, i.GuildID); worldErr == nil {
		fields = append(
			fields, &discordgo.MessageEmbedField{
				Name:   "World",
				Value:  world.Name,
				Inline: true,
			},
		)
	}

	if _, err = t.discord.session.InteractionResponseEdit(
		i.Interaction,
		&discordgo.WebhookEdit{
			Embeds: &[]*discordgo.MessageEmbed{
				{
					Title:       "Minecraft Server",
					Description: status.MOTD,
					Fields:      fields,
				},
			},
		},
	); err != nil {
		logger.ErrorContext(ctx, "error sending status embed", tint.Err(err))
	}
}

func (t *TacoBot) minecraftWhitelistAdd(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	u *User,
	options map[string]*discordgo.ApplicationCommandInteractionDataOption,
) {
	ctx, logger := t.getLogger(ctx)
	username := strings.TrimSpace(options["username"].StringValue())

	if err := t.discord.session.InteractionRespond(
		i.Interaction, ackResponse(true),
	); err != nil {
		logger.ErrorContext(ctx, "error acknowledging interaction", tint.Err(err))
		return
	}

	uuid, canonical, err := t.external.Mojang.ResolveUUID(ctx, username)
	switch {
	case errors.Is(err, ErrNotFound):
		t.editResponse(
			ctx,
			i,
			fmt.Sprintf("No Minecraft account named `%s` exists.", username),
		)
		return
	case err != nil:
		logger.ErrorContext(ctx, "error resolving minecraft uuid", tint.Err(err))
		t.editResponse(ctx, i, "Couldn't verify that username right now.")
		return
	}

	err = t.db.WhitelistAdd(
		ctx, MinecraftWhitelistEntry{
			GuildID:   i.GuildID,
			Username:  canonical,
			UUID:      uuid,
			AddedBy:   u.ID,
			CreatedAt: time.Now().UTC().UnixMilli(),
		},
	)
	if err != nil {
		logger.ErrorContext(ctx, "error adding whitelist entry", tint.Err(err))
		t.editResponse(ctx, i, "Couldn't update the whitelist.")
		return
	}

	t.editResponse(
		ctx,
		i,
		fmt.Sprintf(
			"`%s` is whitelisted! The change is picked up on the next sync.",
			canonical,
		),
	)
}

func (t *TacoBot) minecraftWhitelistRemove(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	options map[string]*discordgo.ApplicationCommandInteractionDataOption,
) {
	ctx, logger := t.getLogger(ctx)

	if !memberCanModerate(i.Member) {
		t.respondEphemeral(ctx, i, "Only moderators can remove whitelist entries.")
		return
	}
	username := strings.TrimSpace(options["username"].StringValue())

	removed, err := t.db.WhitelistRemove(ctx, i.GuildID, username)
	if err != nil {
		logger.ErrorContext(ctx, "error removing whitelist entry", tint.Err(err))
		t.respondEphemeral(ctx, i, "Couldn't update the whitelist.")
		return
	}
	if !removed {
		t.respondEphemeral(
			ctx,
			i,
			fmt.Sprintf("`%s` wasn't on the whitelist.", username),
		)
		return
	}
	t.respondEphemeral(
		ctx,
		i,
		fmt.Sprintf("`%s` removed from the whitelist.", username),
	)
}

func (t *TacoBot) minecraftWhitelist(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) {
	ctx, logger := t.getLogger(ctx)

	entries, err := t.db.Whitelist(ctx, i.GuildID)
	if err != nil {
		logger.ErrorContext(ctx, "error listing whitelist", tint.Err(err))
		t.respondEphemeral(ctx, i, "Couldn't load the whitelist.")
		return
	}
	if len(entries) == 0 {
		t.respondEphemeral(ctx, i, "The whitelist is empty.")
		return
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Username
		if entry.Op.Enabled {
			name += " (op)"
		}
		names = append(names, name)
	}
	t.respondEphemeral(
		ctx,
		i,
		fmt.Sprintf(
			"Whitelisted players (%d):\n%s",
			len(entries),
			truncate(strings.Join(names, ", "), discordMaxMessageLength-60),
		),
	)
}

func (t *TacoBot) minecraftOps(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) {
	ctx, logger := t.getLogger(ctx)

	entries, err := t.db.Whitelist(ctx, i.GuildID)
	if err != nil {
		logger.ErrorContext(ctx, "error listing ops", tint.Err(err))
		t.respondEphemeral(ctx, i, "Couldn't load the operator list.")
		return
	}

	var lines []string
	for _, entry := range entries {
		if entry.Op.Enabled {
			lines = append(
				lines,
				fmt.Sprintf("`%s` (level %d)", entry.Username, entry.Op.Level),
			)
		}
	}
	if len(lines) == 0 {
		t.respondEphemeral(ctx, i, "No operators are configured.")
		return
	}
	t.respondEphemeral(
		ctx,
		i,
		truncate(strings.Join(lines, "\n"), discordMaxMessageLength),
	)
}

func (t *TacoBot) minecraftSetOp(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	options map[string]*discordgo.ApplicationCommandInteractionDataOption,
) {
	ctx, logger := t.getLogger(ctx)

	if !memberCanModerate(i.Member) {
		t.respondEphemeral(ctx, i, "Only moderators can manage operators.")
		return
	}
	username := strings.TrimSpace(options["username"].StringValue())

	op := MinecraftOp{Enabled: true, Level: 4}
	if opt, ok := options["level"]; ok {
		level := int(opt.IntValue())
		if level < 1 || level > 4 {
			t.respondEphemeral(ctx, i, "Op level must be between 1 and 4.")
			return
		}
		op.Level = level
	}
	if opt, ok := options["remove"]; ok && opt.BoolValue() {
		op = MinecraftOp{}
	}

	found, err := t.db.SetOp(ctx, i.GuildID, username, op)
	if err != nil {
		logger.ErrorContext(ctx, "error setting op", tint.Err(err))
		t.respondEphemeral(ctx, i, "Couldn't update operator status.")
		return
	}
	if !found {
		t.respondEphemeral(
			ctx,
			i,
			fmt.Sprintf("`%s` isn't on the whitelist.", username),
		)
		return
	}

	if !op.Enabled {
		t.respondEphemeral(
			ctx,
			i,
			fmt.Sprintf("`%s` is no longer an operator.", username),
		)
		return
	}
	t.respondEphemeral(
		ctx,
		i,
		fmt.Sprintf("`%s` is now a level %d operator.", username, op.Level),
	)
}

func (t *TacoBot) minecraftWorlds(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) {
	ctx, logger := t.getLogger(ctx)

	worlds, err := t.db.Worlds(ctx, i.GuildID)
	if err != nil {
		logger.ErrorContext(ctx, "error listing worlds", tint.Err(err))
		t.respondEphemeral(ctx, i, "Couldn't load the world list.")
		return
	}
	if len(worlds) == 0 {
		t.respondEphemeral(ctx, i, "No worlds configured for this server.")
		return
	}

	lines := make([]string, 0, len(worlds))
	for _, world := range worlds {
		line := fmt.Sprintf("`%s` - %s", world.WorldID, world.Name)
		if world.Active {
			line += " (active)"
		}
		lines = append(lines, line)
	}
	t.respondEphemeral(ctx, i, strings.Join(lines, "\n"))
}

func (t *TacoBot) minecraftSelectWorld(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	options map[string]*discordgo.ApplicationCommandInteractionDataOption,
) {
	ctx, logger := t.getLogger(ctx)

	if !memberCanModerate(i.Member) {
		t.respondEphemeral(ctx, i, "Only moderators can switch worlds.")
		return
	}
	worldID := strings.TrimSpace(options["world"].StringValue())

	err := t.db.SelectWorld(ctx, i.GuildID, worldID)
	switch {
	case errors.Is(err, ErrNotFound):
		t.respondEphemeral(
			ctx,
			i,
			fmt.Sprintf("No world with ID `%s` exists.", worldID),
		)
		return
	case err != nil:
		logger.ErrorContext(ctx, "error selecting world", tint.Err(err))
		t.respondEphemeral(ctx, i, "Couldn't switch worlds.")
		return
	}

	t.respondEphemeral(
		ctx,
		i,
		fmt.Sprintf(
			"World `%s` is now active. It loads on the next server restart.",
			worldID,
		),
	)
}
