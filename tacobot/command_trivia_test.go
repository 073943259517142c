package tacobot

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// triviaTestServer serves a single fixed question.
func triviaTestServer(t testing.TB) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(
		http.HandlerFunc(
			func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write(
					[]byte(`{"response_code":0,"results":[{` +
						`"category":"Food","difficulty":"easy",` +
						`"question":"Which country did tacos come from?",` +
						`"correct_answer":"Mexico",` +
						`"incorrect_answers":["Spain","Peru","Portugal"]}]}`),
				)
			},
		),
	)
	t.Cleanup(srv.Close)
	return srv
}

func triviaPlayInteraction(user *discordgo.User) *discordgo.InteractionCreate {
	return newTestInteraction(
		"guild-1",
		user,
		discordgo.ApplicationCommandInteractionData{
			Name: slashCommandTrivia,
			Options: []*discordgo.ApplicationCommandInteractionDataOption{
				{
					Name: "play",
					Type: discordgo.ApplicationCommandOptionSubCommand,
				},
			},
		},
	)
}

func triviaAnswerInteraction(
	user *discordgo.User,
	customID string,
) *discordgo.InteractionCreate {
	return &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			ID:      "component-interaction",
			Type:    discordgo.InteractionMessageComponent,
			GuildID: "guild-1",
			Member:  &discordgo.Member{User: user},
			Data: discordgo.MessageComponentInteractionData{
				CustomID:      customID,
				ComponentType: discordgo.ButtonComponent,
			},
		},
	}
}

func TestTriviaPlayPostsQuestion(t *testing.T) {
	bot, session, _ := newTestBot(t)
	srv := triviaTestServer(t)
	bot.external.Trivia = &TriviaClient{baseURL: srv.URL, client: srv.Client()}
	ctx := context.Background()

	player := &discordgo.User{ID: "alice", Username: "alice"}
	bot.handleInteraction(ctx, triviaPlayInteraction(player))

	require.Len(t, bot.triviaSessions, 1)
	var ts *triviaSession
	for _, s := range bot.triviaSessions {
		ts = s
	}
	assert.Equal(t, "guild-1", ts.guildID)
	assert.Len(t, ts.answers, 4)
	assert.Equal(t, "Mexico", ts.answers[ts.correctIdx])
	assert.Equal(t, bot.config.Tacos.TriviaReward, ts.reward)

	edit := session.lastEdit()
	require.NotNil(t, edit)
	require.NotNil(t, edit.Embeds)
	require.Len(t, *edit.Embeds, 1)
	assert.Contains(t, (*edit.Embeds)[0].Description, "tacos come from")
	require.NotNil(t, edit.Components)
	// 4 buttons fit on a single action row
	require.Len(t, *edit.Components, 1)
	row, ok := (*edit.Components)[0].(discordgo.ActionsRow)
	require.True(t, ok)
	assert.Len(t, row.Components, 4)
	for _, component := range row.Components {
		button, isButton := component.(discordgo.Button)
		require.True(t, isButton)
		assert.Regexp(t, triviaAnswerPattern, button.CustomID)
	}
}

func TestTriviaAnswerFlow(t *testing.T) {
	bot, session, store := newTestBot(t)
	srv := triviaTestServer(t)
	bot.external.Trivia = &TriviaClient{baseURL: srv.URL, client: srv.Client()}
	ctx := context.Background()

	host := &discordgo.User{ID: "host", Username: "host"}
	bot.handleInteraction(ctx, triviaPlayInteraction(host))
	require.Len(t, bot.triviaSessions, 1)
	var ts *triviaSession
	for _, s := range bot.triviaSessions {
		ts = s
	}

	// correct answer gets the reward
	alice := &discordgo.User{ID: "alice", Username: "alice"}
	bot.handleInteraction(
		ctx,
		triviaAnswerInteraction(
			alice,
			fmt.Sprintf("trivia:%s:%d", ts.id, ts.correctIdx),
		),
	)
	resp := session.lastResponse()
	require.NotNil(t, resp)
	assert.Contains(t, resp.Data.Content, "Correct!")

	count, err := store.TacoCount(ctx, "guild-1", "alice")
	require.NoError(t, err)
	assert.Equal(t, bot.config.Tacos.TriviaReward, count)

	score, err := store.TriviaScore(ctx, "guild-1", "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1), score.Correct)

	// one attempt per user
	bot.handleInteraction(
		ctx,
		triviaAnswerInteraction(
			alice,
			fmt.Sprintf("trivia:%s:%d", ts.id, ts.correctIdx),
		),
	)
	resp = session.lastResponse()
	require.NotNil(t, resp)
	assert.Contains(t, resp.Data.Content, "already had your shot")

	count, err = store.TacoCount(ctx, "guild-1", "alice")
	require.NoError(t, err)
	assert.Equal(t, bot.config.Tacos.TriviaReward, count)

	// wrong answer reveals the correct one, no tacos
	wrongIdx := (ts.correctIdx + 1) % len(ts.answers)
	bob := &discordgo.User{ID: "bob", Username: "bob"}
	bot.handleInteraction(
		ctx,
		triviaAnswerInteraction(
			bob,
			fmt.Sprintf("trivia:%s:%d", ts.id, wrongIdx),
		),
	)
	resp = session.lastResponse()
	require.NotNil(t, resp)
	assert.Contains(t, resp.Data.Content, "Mexico")

	count, err = store.TacoCount(ctx, "guild-1", "bob")
	require.NoError(t, err)
	assert.Zero(t, count)

	score, err = store.TriviaScore(ctx, "guild-1", "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(1), score.Incorrect)
}

func TestTriviaAnswerExpired(t *testing.T) {
	bot, session, _ := newTestBot(t)
	srv := triviaTestServer(t)
	bot.external.Trivia = &TriviaClient{baseURL: srv.URL, client: srv.Client()}
	ctx := context.Background()

	host := &discordgo.User{ID: "host", Username: "host"}
	bot.handleInteraction(ctx, triviaPlayInteraction(host))
	var ts *triviaSession
	for _, s := range bot.triviaSessions {
		ts = s
	}
	ts.postedAt = time.Now().Add(-2 * triviaSessionTTL)

	alice := &discordgo.User{ID: "alice", Username: "alice"}
	bot.handleInteraction(
		ctx,
		triviaAnswerInteraction(
			alice,
			fmt.Sprintf("trivia:%s:%d", ts.id, ts.correctIdx),
		),
	)
	resp := session.lastResponse()
	require.NotNil(t, resp)
	assert.Contains(t, resp.Data.Content, "expired")
}

func TestTriviaScoreCommand(t *testing.T) {
	bot, session, store := newTestBot(t)
	ctx := context.Background()

	require.NoError(t, store.RecordTriviaAnswer(ctx, "guild-1", "alice", true))
	require.NoError(t, store.RecordTriviaAnswer(ctx, "guild-1", "alice", true))
	require.NoError(t, store.RecordTriviaAnswer(ctx, "guild-1", "alice", false))

	i := newTestInteraction(
		"guild-1",
		&discordgo.User{ID: "alice", Username: "alice"},
		discordgo.ApplicationCommandInteractionData{
			Name: slashCommandTrivia,
			Options: []*discordgo.ApplicationCommandInteractionDataOption{
				{
					Name: "score",
					Type: discordgo.ApplicationCommandOptionSubCommand,
				},
			},
		},
	)
	bot.handleInteraction(ctx, i)

	resp := session.lastResponse()
	require.NotNil(t, resp)
	assert.Contains(t, resp.Data.Content, "2/3 correct")
}

func TestTriviaScoreCommandNoAnswers(t *testing.T) {
	bot, session, _ := newTestBot(t)

	i := newTestInteraction(
		"guild-1",
		&discordgo.User{ID: "alice", Username: "alice"},
		discordgo.ApplicationCommandInteractionData{
			Name: slashCommandTrivia,
			Options: []*discordgo.ApplicationCommandInteractionDataOption{
				{
					Name: "score",
					Type: discordgo.ApplicationCommandOptionSubCommand,
				},
			},
		},
	)
	bot.handleInteraction(context.Background(), i)

	resp := session.lastResponse()
	require.NotNil(t, resp)
	assert.Contains(t, resp.Data.Content, "haven't answered any trivia yet")
}

func TestTriviaAnswerPattern(t *testing.T) {
	valid := "trivia:0b4fc1e8-8886-4a33-b057-7ad0a14b02e3:2"
	assert.True(t, triviaAnswerPattern.MatchString(valid))

	for _, invalid := range []string{
		"trivia:not-a-uuid:0",
		"trivia:0b4fc1e8-8886-4a33-b057-7ad0a14b02e3:9",
		"other:0b4fc1e8-8886-4a33-b057-7ad0a14b02e3:0",
		"trivia:0b4fc1e8-8886-4a33-b057-7ad0a14b02e3:2:extra",
	} {
		assert.False(
			t,
			triviaAnswerPattern.MatchString(invalid),
			"should not match %q",
			invalid,
		)
	}
}

func TestStoreTriviaSessionEvictsExpired(t *testing.T) {
	bot, _, _ := newTestBot(t)

	stale := &triviaSession{
		id:         "11111111-1111-1111-1111-111111111111",
		postedAt:   time.Now().Add(-2 * triviaSessionTTL),
		answeredBy: map[string]bool{},
	}
	bot.storeTriviaSession(stale)

	fresh := &triviaSession{
		id:         "22222222-2222-2222-2222-222222222222",
		postedAt:   time.Now(),
		answeredBy: map[string]bool{},
	}
	bot.storeTriviaSession(fresh)

	assert.Nil(t, bot.loadTriviaSession(stale.id))
	assert.NotNil(t, bot.loadTriviaSession(fresh.id))
}
