package tacobot

import (
	"context"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const slashCommandGif = "gif"

func appCommandGif() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        slashCommandGif,
		Description: "Post a gif from Giphy",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "search",
				Description: "What to search for",
				Required:    true,
			},
		},
	}
}

func (t *TacoBot) handleGifCommand(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) {
	ctx, logger := t.getLogger(ctx)

	options := discordInteractionOptions(i.ApplicationCommandData())
	query := options["search"].StringValue()

	if err := t.discord.session.InteractionRespond(
		i.Interaction, ackResponse(false),
	); err != nil {
		logger.ErrorContext(ctx, "error acknowledging interaction", tint.Err(err))
		return
	}

	gifURL, err := t.external.Giphy.Search(ctx, query)
	if err != nil {
		logger.ErrorContext(ctx, "error searching giphy", tint.Err(err))
		t.editResponse(ctx, i, "Couldn't search for gifs right now.")
		return
	}
	if gifURL == "" {
		t.editResponse(ctx, i, "No gifs matched that search.")
		return
	}

	t.editResponse(ctx, i, gifURL)
}
