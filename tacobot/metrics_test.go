package tacobot

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsUpdate(t *testing.T) {
	m := newMetrics(&MetricsConfig{Enabled: true})

	m.update(
		&BotCounts{
			Guilds:           2,
			Users:            150,
			TacosTotal:       9001,
			TacoGifts24h:     42,
			TwitchLinks:      7,
			Whitelist:        12,
			GameKeysFree:     3,
			GameKeysRedeemed: 9,
			Invites:          5,
			TriviaCorrect:    100,
			TriviaIncorrect:  40,
			LiveNow:          2,
		},
	)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.guilds))
	assert.Equal(t, float64(150), testutil.ToFloat64(m.users))
	assert.Equal(t, float64(9001), testutil.ToFloat64(m.tacosTotal))
	assert.Equal(t, float64(42), testutil.ToFloat64(m.tacoGifts24h))
	assert.Equal(t, float64(7), testutil.ToFloat64(m.twitchLinks))
	assert.Equal(t, float64(12), testutil.ToFloat64(m.whitelist))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.gameKeysFree))
	assert.Equal(t, float64(9), testutil.ToFloat64(m.gameKeysRedeemed))
	assert.Equal(t, float64(5), testutil.ToFloat64(m.invites))
	assert.Equal(t, float64(100), testutil.ToFloat64(m.triviaCorrect))
	assert.Equal(t, float64(40), testutil.ToFloat64(m.triviaIncorrect))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.liveNow))
}

func TestMetricsLiveNowFromStore(t *testing.T) {
	store := newMemoryDataStore()
	ctx := context.Background()

	_, err := store.CreateTwitchLink(ctx, "alice", "ABC123")
	require.NoError(t, err)
	_, err = store.ConfirmTwitchLink(ctx, "ABC123", "alicestreams")
	require.NoError(t, err)
	found, err := store.SetTwitchLive(ctx, "alicestreams", true)
	require.NoError(t, err)
	require.True(t, found)

	// pending links don't count
	_, err = store.CreateTwitchLink(ctx, "bob", "XYZ789")
	require.NoError(t, err)

	counts, err := store.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.TwitchLinks)
	assert.Equal(t, int64(1), counts.LiveNow)

	m := newMetrics(&MetricsConfig{Enabled: true})
	m.update(counts)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.liveNow))
}

func TestMetricsBuildInfo(t *testing.T) {
	m := newMetrics(&MetricsConfig{Enabled: true})

	families, err := m.registry.Gather()
	require.NoError(t, err)

	found := false
	for _, family := range families {
		if family.GetName() != "tacobot_build_info" {
			continue
		}
		found = true
		require.Len(t, family.GetMetric(), 1)
		assert.Equal(t, float64(1), family.GetMetric()[0].GetGauge().GetValue())
	}
	assert.True(t, found, "expected tacobot_build_info metric")
}

func TestMetricsStartUpdater(t *testing.T) {
	store := newMemoryDataStore()
	ctx := context.Background()

	_, err := store.AddTacos(ctx, "guild-1", "alice", 25)
	require.NoError(t, err)
	require.NoError(
		t,
		store.UpsertGuildSettings(ctx, GuildSettings{GuildID: "guild-1"}),
	)

	m := newMetrics(&MetricsConfig{Enabled: true, Interval: time.Hour})

	runCtx, cancel := context.WithCancel(ctx)
	wg := &sync.WaitGroup{}
	m.startUpdater(runCtx, wg, store, slog.Default())

	require.Eventually(
		t, func() bool {
			return testutil.ToFloat64(m.tacosTotal) == 25
		},
		5*time.Second,
		10*time.Millisecond,
	)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.guilds))

	cancel()
	wg.Wait()
}
