package tacobot

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	openai "github.com/sashabaranov/go-openai"
)

const slashCommandAsk = "ask"

// askSystemPrompt keeps the model's answers short enough for a single
// discord message.
const askSystemPrompt = "You are TacoBot, a friendly community discord " +
	"bot. Answer concisely, in at most a few short paragraphs."

func appCommandAsk() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        slashCommandAsk,
		Description: "Ask the bot a question",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "question",
				Description: "What do you want to know?",
				Required:    true,
			},
		},
	}
}

func (t *TacoBot) handleAskCommand(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	u *User,
) {
	ctx, logger := t.getLogger(ctx)

	if t.openaiClient == nil {
		t.respondEphemeral(ctx, i, "The /ask command isn't configured.")
		return
	}

	options := discordInteractionOptions(i.ApplicationCommandData())
	question := options["question"].StringValue()

	if !t.openaiLimiter.Allow() {
		t.respondEphemeral(
			ctx,
			i,
			"I'm thinking too hard right now - try again in a moment.",
		)
		return
	}

	if err := t.discord.session.InteractionRespond(
		i.Interaction, ackResponse(false),
	); err != nil {
		logger.ErrorContext(ctx, "error acknowledging interaction", tint.Err(err))
		return
	}

	resp, err := t.openaiClient.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model: t.config.OpenAI.Model,
			User:  u.ID,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleSystem,
					Content: askSystemPrompt,
				},
				{
					Role:    openai.ChatMessageRoleUser,
					Content: question,
				},
			},
		},
	)
	if err != nil {
		logger.ErrorContext(ctx, "error from chat completion", tint.Err(err))
		t.editResponse(ctx, i, "I couldn't come up with an answer, sorry!")
		return
	}
	if len(resp.Choices) == 0 {
		t.editResponse(ctx, i, "I couldn't come up with an answer, sorry!")
		return
	}

	logger.InfoContext(
		ctx,
		"ask answered",
		"user", u,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
	)

	t.editResponse(
		ctx,
		i,
		fmt.Sprintf(
			"> %s\n\n%s",
			truncate(question, 200),
			resp.Choices[0].Message.Content,
		),
	)
}
