package tacobot

import (
	"strings"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTruncate(t *testing.T) {
	assert.Equal(t, "taco", truncate("taco", 10))
	assert.Equal(t, "tac", truncate("taco", 3))
	assert.Equal(t, "", truncate("", 5))
	// rune-aware, not byte-aware
	assert.Equal(t, "🌮🌮", truncate("🌮🌮🌮", 2))
}

func TestShortenString(t *testing.T) {
	short := "under the limit"
	assert.Equal(t, short, shortenString(short, 100))

	long := strings.Repeat("taco ", 1000)
	shortened := shortenString(long, 200)
	assert.LessOrEqual(t, len(shortened), 200)
	assert.Contains(t, shortened, "(output limit reached)")

	// double newlines collapse before anything gets cut
	newlines := strings.Repeat("a\n\n", 40)
	collapsed := shortenString(newlines, 90)
	assert.NotContains(t, collapsed, "\n\n")
}

func TestUserLogAttrs(t *testing.T) {
	attrs := userLogAttrs(
		discordgo.User{
			ID:         "user-1",
			Username:   "tacofan",
			GlobalName: "Taco Fan",
		},
	)
	assert.Equal(
		t,
		[]any{
			"id", "user-1",
			"username", "tacofan",
			"global_name", "Taco Fan",
		},
		attrs,
	)
}

func TestChunkItems(t *testing.T) {
	chunks := chunkItems(2, "a", "b", "c", "d", "e")
	require.Len(t, chunks, 3)
	assert.Equal(t, []string{"a", "b"}, chunks[0])
	assert.Equal(t, []string{"c", "d"}, chunks[1])
	assert.Equal(t, []string{"e"}, chunks[2])

	assert.Nil(t, chunkItems[string](5))
}

func TestSubcommandOptions(t *testing.T) {
	data := discordgo.ApplicationCommandInteractionData{
		Name: "tacos",
		Options: []*discordgo.ApplicationCommandInteractionDataOption{
			{
				Name: "give",
				Type: discordgo.ApplicationCommandOptionSubCommand,
				Options: []*discordgo.ApplicationCommandInteractionDataOption{
					{
						Name:  "user",
						Type:  discordgo.ApplicationCommandOptionUser,
						Value: "user-123",
					},
					{
						Name:  "amount",
						Type:  discordgo.ApplicationCommandOptionInteger,
						Value: float64(3),
					},
				},
			},
		},
	}

	sub, options := subcommandOptions(data)
	assert.Equal(t, "give", sub)
	require.Len(t, options, 2)
	assert.Equal(t, int64(3), options["amount"].IntValue())

	sub, options = subcommandOptions(
		discordgo.ApplicationCommandInteractionData{Name: "tacos"},
	)
	assert.Equal(t, "", sub)
	assert.Nil(t, options)
}

func TestHashVerifyPassword(t *testing.T) {
	hash, err := HashPassword("hunter2")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "$argon2id$"))
	assert.NotContains(t, hash, "hunter2")

	ok, err := VerifyPassword(hash, "hunter2")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifyPassword(hash, "wrong")
	require.NoError(t, err)
	assert.False(t, ok)

	// same password hashes differently each time (random salt)
	otherHash, err := HashPassword("hunter2")
	require.NoError(t, err)
	assert.NotEqual(t, hash, otherHash)

	_, err = VerifyPassword("not-a-hash", "hunter2")
	assert.Error(t, err)
}

func TestConstantTimeEquals(t *testing.T) {
	assert.True(t, constantTimeEquals("sekrit", "sekrit"))
	assert.False(t, constantTimeEquals("sekrit", "sekrit2"))
	assert.False(t, constantTimeEquals("sekrit", ""))
	assert.True(t, constantTimeEquals("", ""))
}

func TestStructToSlogValueRedaction(t *testing.T) {
	type fakeConfig struct {
		Token    string `json:"token" log:"[redacted]"`
		Name     string `json:"name"`
		Ignored  string `json:"ignored,omitempty"`
		internal string
	}
	v := structToSlogValue(
		fakeConfig{
			Token:    "super-secret",
			Name:     "taco",
			internal: "hidden",
		},
	)
	rendered := v.String()
	assert.NotContains(t, rendered, "super-secret")
	assert.Contains(t, rendered, "[redacted]")
	assert.Contains(t, rendered, "taco")
	assert.NotContains(t, rendered, "hidden")
}

func TestMessageMentionsUser(t *testing.T) {
	msg := &discordgo.Message{
		Mentions: []*discordgo.User{{ID: "bot-id"}},
	}
	assert.True(t, messageMentionsUser(msg, "bot-id"))
	assert.False(t, messageMentionsUser(msg, "someone-else"))
	assert.False(t, messageMentionsUser(&discordgo.Message{}, "bot-id"))
}

func TestDerive64ByteKey(t *testing.T) {
	key := derive64ByteKey("secret")
	assert.Len(t, key, 64)
	assert.Equal(t, key, derive64ByteKey("secret"))
	assert.NotEqual(t, key, derive64ByteKey("other"))
}
