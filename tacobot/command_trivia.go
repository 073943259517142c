package tacobot

import (
	"context"
	"fmt"
	"math/rand"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"
	"github.com/lmittmann/tint"
)

const slashCommandTrivia = "trivia"

// triviaSessionTTL is how long a posted question accepts answers.
const triviaSessionTTL = 5 * time.Minute

// triviaAnswerPattern matches the custom IDs on trivia answer buttons:
// trivia:<session uuid>:<answer index>
var triviaAnswerPattern = regexp.MustCompile(
	`^trivia:[0-9a-f-]{36}:[0-3]$`,
)

// triviaSession is an in-flight question. Sessions live in memory only;
// an unanswered question simply expires.
type triviaSession struct {
	id         string
	guildID    string
	question   string
	answers    []string
	correctIdx int
	reward     int64
	postedAt   time.Time

	// one attempt per user
	answeredBy map[string]bool
	mu         sync.Mutex
}

func appCommandTrivia() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        slashCommandTrivia,
		Description: "Answer trivia, win tacos",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "play",
				Description: "Post a trivia question to the channel",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "difficulty",
						Description: "Question difficulty",
						Choices: []*discordgo.ApplicationCommandOptionChoice{
							{Name: "easy", Value: "easy"},
							{Name: "medium", Value: "medium"},
							{Name: "hard", Value: "hard"},
						},
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "score",
				Description: "Show your trivia record",
			},
		},
	}
}

func (t *TacoBot) handleTriviaCommand(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	u *User,
) {
	ctx, logger := t.getLogger(ctx)

	if i.GuildID == "" {
		t.respondEphemeral(ctx, i, "Trivia only works in a server.")
		return
	}

	sub, options := subcommandOptions(i.ApplicationCommandData())
	switch sub {
	case "play":
		t.triviaPlay(ctx, i, options)
	case "score":
		t.triviaScore(ctx, i, u)
	default:
		logger.WarnContext(ctx, "unknown trivia subcommand", "subcommand", sub)
	}
}

func (t *TacoBot) triviaPlay(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	options map[string]*discordgo.ApplicationCommandInteractionDataOption,
) {
	ctx, logger := t.getLogger(ctx)

	var difficulty string
	if opt, ok := options["difficulty"]; ok {
		difficulty = opt.StringValue()
	}

	if err := t.discord.session.InteractionRespond(
		i.Interaction, ackResponse(false),
	); err != nil {
		logger.ErrorContext(ctx, "error acknowledging interaction", tint.Err(err))
		return
	}

	question, err := t.external.Trivia.Question(ctx, difficulty)
	if err != nil {
		logger.ErrorContext(ctx, "error fetching trivia question", tint.Err(err))
		t.editResponse(ctx, i, "Couldn't fetch a question right now.")
		return
	}

	answers := make([]string, 0, len(question.IncorrectAnswers)+1)
	answers = append(answers, question.IncorrectAnswers...)
	answers = append(answers, question.CorrectAnswer)
	rand.Shuffle(
		len(answers), func(a, b int) {
			answers[a], answers[b] = answers[b], answers[a]
		},
	)
	correctIdx := 0
	for idx, answer := range answers {
		if answer == question.CorrectAnswer {
			correctIdx = idx
			break
		}
	}

	session := &triviaSession{
		id:         uuid.NewString(),
		guildID:    i.GuildID,
		question:   question.Question,
		answers:    answers,
		correctIdx: correctIdx,
		reward:     t.config.Tacos.TriviaReward,
		postedAt:   time.Now(),
		answeredBy: map[string]bool{},
	}
	t.storeTriviaSession(session)

	buttons := make([]discordgo.MessageComponent, 0, len(answers))
	for idx, answer := range answers {
		buttons = append(
			buttons, discordgo.Button{
				Label:    truncate(answer, 80),
				Style:    discordgo.SecondaryButton,
				CustomID: fmt.Sprintf("trivia:%s:%d", session.id, idx),
			},
		)
	}

	var rows []discordgo.MessageComponent
	for _, chunk := range chunkItems(discordMaxButtonsPerActionRow, buttons...) {
		rows = append(rows, discordgo.ActionsRow{Components: chunk})
	}

	embed := &discordgo.MessageEmbed{
		Title:       "Trivia time!",
		Description: question.Question,
		Footer: &discordgo.MessageEmbedFooter{
			Text: fmt.Sprintf(
				"%s | %s | %d taco(s) for a correct answer",
				question.Category,
				question.Difficulty,
				session.reward,
			),
		},
	}

	if _, err = t.discord.session.InteractionResponseEdit(
		i.Interaction,
		&discordgo.WebhookEdit{
			Embeds:     &[]*discordgo.MessageEmbed{embed},
			Components: &rows,
		},
	); err != nil {
		logger.ErrorContext(ctx, "error posting trivia question", tint.Err(err))
	}
}

func (t *TacoBot) triviaScore(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	u *User,
) {
	ctx, logger := t.getLogger(ctx)

	score, err := t.db.TriviaScore(ctx, i.GuildID, u.ID)
	if err != nil {
		logger.ErrorContext(ctx, "error fetching trivia score", tint.Err(err))
		t.respondEphemeral(ctx, i, "Couldn't load your trivia record.")
		return
	}

	total := score.Correct + score.Incorrect
	if total == 0 {
		t.respondEphemeral(
			ctx,
			i,
			fmt.Sprintf(
				"You haven't answered any trivia yet. Try `/%s play`!",
				slashCommandTrivia,
			),
		)
		return
	}
	t.respondEphemeral(
		ctx,
		i,
		fmt.Sprintf(
			"Trivia record: %d/%d correct (%.0f%%).",
			score.Correct,
			total,
			float64(score.Correct)/float64(total)*100,
		),
	)
}

// handleTriviaAnswer resolves a trivia button press: one attempt per
// user per question, tacos for a correct answer.
func (t *TacoBot) handleTriviaAnswer(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	u *User,
	customID string,
) {
	ctx, logger := t.getLogger(ctx)

	parts := strings.Split(customID, ":")
	if len(parts) != 3 {
		return
	}
	sessionID := parts[1]
	answerIdx, err := strconv.Atoi(parts[2])
	if err != nil {
		return
	}

	session := t.loadTriviaSession(sessionID)
	if session == nil || time.Since(session.postedAt) > triviaSessionTTL {
		t.respondEphemeral(ctx, i, "That question has expired.")
		return
	}
	if answerIdx < 0 || answerIdx >= len(session.answers) {
		return
	}

	session.mu.Lock()
	alreadyAnswered := session.answeredBy[u.ID]
	if !alreadyAnswered {
		session.answeredBy[u.ID] = true
	}
	session.mu.Unlock()

	if alreadyAnswered {
		t.respondEphemeral(ctx, i, "You already had your shot at this one!")
		return
	}

	correct := answerIdx == session.correctIdx
	if err = t.db.RecordTriviaAnswer(
		ctx, session.guildID, u.ID, correct,
	); err != nil {
		logger.ErrorContext(ctx, "error recording trivia answer", tint.Err(err))
	}

	if !correct {
		t.respondEphemeral(
			ctx,
			i,
			fmt.Sprintf(
				"Nope! The answer was **%s**.",
				session.answers[session.correctIdx],
			),
		)
		return
	}

	if _, err = t.giftTacos(
		ctx, TacoGift{
			GuildID:  session.guildID,
			ToUserID: u.ID,
			Amount:   session.reward,
			Reason:   "correct trivia answer",
			Type:     GiftTypeTrivia,
		},
	); err != nil {
		logger.ErrorContext(ctx, "error awarding trivia tacos", tint.Err(err))
	}

	t.respondEphemeral(
		ctx,
		i,
		fmt.Sprintf(
			"Correct! %s %d taco(s) coming your way.",
			tacoEmoji,
			session.reward,
		),
	)
}

func (t *TacoBot) storeTriviaSession(session *triviaSession) {
	t.triviaMu.Lock()
	defer t.triviaMu.Unlock()
	if t.triviaSessions == nil {
		t.triviaSessions = map[string]*triviaSession{}
	}
	// drop expired sessions while we hold the lock
	for id, s := range t.triviaSessions {
		if time.Since(s.postedAt) > triviaSessionTTL {
			delete(t.triviaSessions, id)
		}
	}
	t.triviaSessions[session.id] = session
}

func (t *TacoBot) loadTriviaSession(id string) *triviaSession {
	t.triviaMu.Lock()
	defer t.triviaMu.Unlock()
	return t.triviaSessions[id]
}
