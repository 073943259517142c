package tacobot

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics owns the Prometheus registry and the tacobot_* gauges. The
// aggregate document counts are refreshed from the database on a timer
// rather than per-scrape, to keep scrape handling off the database.
type Metrics struct {
	config   *MetricsConfig
	registry *prometheus.Registry

	guilds           prometheus.Gauge
	users            prometheus.Gauge
	tacosTotal       prometheus.Gauge
	tacoGifts24h     prometheus.Gauge
	twitchLinks      prometheus.Gauge
	whitelist        prometheus.Gauge
	gameKeysFree     prometheus.Gauge
	gameKeysRedeemed prometheus.Gauge
	invites          prometheus.Gauge
	triviaCorrect    prometheus.Gauge
	triviaIncorrect  prometheus.Gauge
	liveNow          prometheus.Gauge

	buildInfo    *prometheus.GaugeVec
	httpRequests *prometheus.CounterVec
}

func newMetrics(config *MetricsConfig) *Metrics {
	registry := prometheus.NewRegistry()

	gauge := func(name, help string) prometheus.Gauge {
		g := prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "tacobot",
				Name:      name,
				Help:      help,
			},
		)
		registry.MustRegister(g)
		return g
	}

	m := &Metrics{
		config:   config,
		registry: registry,

		guilds:       gauge("guilds", "Guilds with settings documents"),
		users:        gauge("users", "Known discord users"),
		tacosTotal:   gauge("tacos_total", "Sum of all taco balances"),
		tacoGifts24h: gauge("taco_gifts_24h", "Gift ledger entries in the trailing 24h"),
		twitchLinks:  gauge("twitch_links", "Verified twitch account links"),
		whitelist: gauge(
			"minecraft_whitelist_entries",
			"Minecraft whitelist entries across all guilds",
		),
		gameKeysFree:     gauge("game_keys_available", "Unclaimed game keys"),
		gameKeysRedeemed: gauge("game_keys_redeemed", "Redeemed game keys"),
		invites:          gauge("invites", "Tracked guild invites"),
		triviaCorrect:    gauge("trivia_answers_correct", "Correct trivia answers"),
		triviaIncorrect:  gauge("trivia_answers_incorrect", "Incorrect trivia answers"),
		liveNow:          gauge("live_now", "Linked twitch channels currently streaming"),

		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tacobot",
				Name:      "api_requests_total",
				Help:      "HTTP requests served, by method, route and status",
			},
			[]string{"method", "route", "status"},
		),

		buildInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "tacobot",
				Name:      "build_info",
				Help:      "Build metadata, always 1",
			},
			[]string{"version", "commit"},
		),
	}
	registry.MustRegister(m.buildInfo)
	registry.MustRegister(m.httpRequests)
	m.buildInfo.WithLabelValues(Version, CommitSHA).Set(1)

	return m
}

// update publishes a counts snapshot to the gauges.
func (m *Metrics) update(counts *BotCounts) {
	m.guilds.Set(float64(counts.Guilds))
	m.users.Set(float64(counts.Users))
	m.tacosTotal.Set(float64(counts.TacosTotal))
	m.tacoGifts24h.Set(float64(counts.TacoGifts24h))
	m.twitchLinks.Set(float64(counts.TwitchLinks))
	m.whitelist.Set(float64(counts.Whitelist))
	m.gameKeysFree.Set(float64(counts.GameKeysFree))
	m.gameKeysRedeemed.Set(float64(counts.GameKeysRedeemed))
	m.invites.Set(float64(counts.Invites))
	m.triviaCorrect.Set(float64(counts.TriviaCorrect))
	m.triviaIncorrect.Set(float64(counts.TriviaIncorrect))
	m.liveNow.Set(float64(counts.LiveNow))
}

// startUpdater refreshes the gauges from the database on the configured
// interval until the context is canceled. The first refresh happens
// immediately.
func (m *Metrics) startUpdater(
	ctx context.Context,
	runtimeWG *sync.WaitGroup,
	db DataStore,
	logger *slog.Logger,
) {
	interval := m.config.Interval
	if interval <= 0 {
		interval = DefaultMetricsInterval
	}

	refresh := func() {
		counts, err := db.Counts(ctx)
		if err != nil {
			logger.ErrorContext(ctx, "error gathering metric counts", tint.Err(err))
			return
		}
		m.update(counts)
	}

	runtimeWG.Add(1)
	go func() {
		defer runtimeWG.Done()
		refresh()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				refresh()
			}
		}
	}()
}
