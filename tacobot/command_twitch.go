package tacobot

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const slashCommandTwitch = "twitch"

// twitchCodeLength is the length of the one-time link code shown to the
// user. The alphabet skips easily-confused characters.
const (
	twitchCodeLength   = 6
	twitchCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

func appCommandTwitch() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        slashCommandTwitch,
		Description: "Link your Twitch account",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "link",
				Description: "Get a one-time code to link your Twitch account",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "name",
				Description: "Set your Twitch username directly",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "username",
						Description: "Your Twitch username",
						Required:    true,
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "status",
				Description: "Show your current Twitch link",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "unlink",
				Description: "Remove your Twitch link",
			},
		},
	}
}

func (t *TacoBot) handleTwitchCommand(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	u *User,
) {
	ctx, logger := t.getLogger(ctx)

	sub, options := subcommandOptions(i.ApplicationCommandData())
	switch sub {
	case "link":
		t.twitchLink(ctx, i, u)
	case "name":
		t.twitchName(ctx, i, u, options)
	case "status":
		t.twitchStatus(ctx, i, u)
	case "unlink":
		t.twitchUnlink(ctx, i, u)
	default:
		logger.WarnContext(ctx, "unknown twitch subcommand", "subcommand", sub)
	}
}

func (t *TacoBot) twitchLink(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	u *User,
) {
	ctx, logger := t.getLogger(ctx)

	code, err := newTwitchLinkCode()
	if err != nil {
		logger.ErrorContext(ctx, "error generating link code", tint.Err(err))
		t.respondEphemeral(ctx, i, "Couldn't generate a link code right now.")
		return
	}

	if _, err = t.db.CreateTwitchLink(ctx, u.ID, code); err != nil {
		logger.ErrorContext(ctx, "error creating twitch link", tint.Err(err))
		t.respondEphemeral(ctx, i, "Couldn't start the link process.")
		return
	}

	t.respondEphemeral(
		ctx,
		i,
		fmt.Sprintf(
			"Your link code is `%s`. Type `!taco link %s` in the Twitch "+
				"chat to finish linking.",
			code,
			code,
		),
	)
}

func (t *TacoBot) twitchName(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	u *User,
	options map[string]*discordgo.ApplicationCommandInteractionDataOption,
) {
	ctx, logger := t.getLogger(ctx)
	username := strings.ToLower(strings.TrimSpace(options["username"].StringValue()))

	if _, err := t.db.SetTwitchName(ctx, u.ID, username); err != nil {
		logger.ErrorContext(ctx, "error setting twitch name", tint.Err(err))
		t.respondEphemeral(ctx, i, "Couldn't save that Twitch name.")
		return
	}
	t.respondEphemeral(
		ctx,
		i,
		fmt.Sprintf(
			"Saved! Your Twitch name is set to `%s` (unverified - use "+
				"`/%s link` to verify).",
			username,
			slashCommandTwitch,
		),
	)
}

func (t *TacoBot) twitchStatus(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	u *User,
) {
	ctx, logger := t.getLogger(ctx)

	link, err := t.db.GetTwitchLink(ctx, u.ID)
	switch {
	case errors.Is(err, ErrNotFound):
		t.respondEphemeral(
			ctx,
			i,
			fmt.Sprintf(
				"You haven't linked a Twitch account. Use `/%s link` to start.",
				slashCommandTwitch,
			),
		)
		return
	case err != nil:
		logger.ErrorContext(ctx, "error fetching twitch link", tint.Err(err))
		t.respondEphemeral(ctx, i, "Couldn't look up your Twitch link.")
		return
	}

	switch {
	case link.Verified:
		t.respondEphemeral(
			ctx,
			i,
			fmt.Sprintf("You're linked to `%s` (verified).", link.TwitchName),
		)
	case link.TwitchName != "":
		t.respondEphemeral(
			ctx,
			i,
			fmt.Sprintf("You're linked to `%s` (unverified).", link.TwitchName),
		)
	default:
		t.respondEphemeral(
			ctx,
			i,
			fmt.Sprintf(
				"Your link is pending. Type `!taco link %s` in the Twitch "+
					"chat to finish it.",
				link.Code,
			),
		)
	}
}

func (t *TacoBot) twitchUnlink(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	u *User,
) {
	ctx, logger := t.getLogger(ctx)

	err := t.db.RemoveTwitchLink(ctx, u.ID)
	switch {
	case errors.Is(err, ErrNotFound):
		t.respondEphemeral(ctx, i, "You don't have a Twitch link to remove.")
		return
	case err != nil:
		logger.ErrorContext(ctx, "error removing twitch link", tint.Err(err))
		t.respondEphemeral(ctx, i, "Couldn't remove your Twitch link.")
		return
	}
	t.respondEphemeral(ctx, i, "Twitch link removed.")
}

// newTwitchLinkCode returns a short random code from the unambiguous
// alphabet.
func newTwitchLinkCode() (string, error) {
	buf := make([]byte, twitchCodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	code := make([]byte, twitchCodeLength)
	for i, b := range buf {
		code[i] = twitchCodeAlphabet[int(b)%len(twitchCodeAlphabet)]
	}
	return string(code), nil
}
