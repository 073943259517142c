package tacobot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"os"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

var (
	// When building, set these like:
	// -ldflags "-X github.com/TacoContent/tacobot/tacobot.Version=$$(date +'%Y%m%d')"

	Version   = "dev"
	CommitSHA = "unknown"
	BuildTime = "unknown"
)

var (
	defaultLogWriter io.Writer = os.Stdout

	// uses the same `binding` tags gin validates request payloads with
	structValidator = newStructValidator()
)

// TacoBot is the main application struct. It wires the Discord
// session, the MongoDB-backed DataStore, the embedded HTTP API server,
// the Prometheus exporter and the feature cogs together, and owns the
// run/shutdown lifecycle.
type TacoBot struct {
	config *Config

	db DataStore

	// Standard logger. Missing loggers will try to use this,
	// and fall back to slog.Default()
	logger *slog.Logger

	// Handler to use for the above
	logHandler slog.Handler

	// Handles discord integration, sessions
	discord *Discord

	// Provides the webhook endpoints, the versioned REST API and /metrics
	api *API

	// Prometheus exporter
	metrics *Metrics

	// Clients for Giphy, Mojang, Open Trivia DB and the Minecraft bridge
	external *ExternalClients

	// OpenAI client for the /ask cog. Nil when no token is configured.
	openaiClient *openai.Client

	// Limits OpenAI requests across all users
	openaiLimiter *rate.Limiter

	// signalStop enables an explicit stop signal to be sent to the bot,
	// such as by the admin `/api/quit` endpoint
	signalStop chan struct{}

	// signalReady has a value sent on it once Run has finished
	// initializing: database connected, API listening, discord
	// session open and commands registered
	signalReady chan struct{}

	// A signal is sent on this channel when shutdown finishes
	eventShutdown chan struct{}

	// prevents Run from executing concurrently
	runMu sync.Mutex

	// If true, the bot ignores commands and webhook taco mutations
	paused atomic.Bool

	// The time Run was called
	startedAt time.Time

	// Per-user taco gift limiters, smoothing bursts on top of the
	// rolling 24h cap
	giftLimiters  map[string]*rate.Limiter
	giftLimiterMu sync.Mutex

	// Guild settings cache, refreshed on a TTL (see startSettingsRefresher)
	settingsCache map[string]*GuildSettings
	settingsMu    sync.RWMutex

	// Cached invite uses per guild, for attributing member joins
	inviteCache   map[string]map[string]inviteUses
	inviteCacheMu sync.Mutex

	// In-flight trivia questions, keyed by session ID
	triviaSessions map[string]*triviaSession
	triviaMu       sync.Mutex

	triggerSettingsRefreshCh chan bool

	commandsInProgress atomic.Int64
}

func (t *TacoBot) getLogger(ctx context.Context) (
	context.Context,
	*slog.Logger,
) {
	logger, ok := ContextLogger(ctx)
	if logger == nil || !ok {
		logger = t.logger
		if logger == nil {
			logger = slog.Default()
		}
		ctx = WithLogger(ctx, logger)
	}
	return ctx, logger
}

// New creates a TacoBot from the given config. The database isn't
// touched until Run.
func New(config *Config) (*TacoBot, error) {
	var errs []error

	if config == nil {
		return nil, errors.New("nil config")
	}
	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}

	t := &TacoBot{
		config:                   config,
		signalReady:              make(chan struct{}, 1),
		eventShutdown:            make(chan struct{}, 1),
		triggerSettingsRefreshCh: make(chan bool, 1),
		giftLimiters:             map[string]*rate.Limiter{},
		settingsCache:            map[string]*GuildSettings{},
		inviteCache:              map[string]map[string]inviteUses{},
	}

	t.logHandler = tint.NewHandler(
		defaultLogWriter, &tint.Options{
			Level:     config.LogLevel,
			AddSource: true,
		},
	)
	t.logger = slog.New(t.logHandler)
	slog.SetDefault(t.logger)

	config.Discord.httpClient = config.HTTPClient

	disc, err := newDiscord(config.Discord)
	if err != nil {
		errs = append(errs, err)
	} else {
		discordgo.Logger = discordgoLoggerFunc(
			context.Background(),
			newTintHandler(config.Discord.DiscordGoLogLevel).
				WithAttrs([]slog.Attr{slog.String(loggerNameKey, "discordgo")}),
		)
		disc.logger = slog.New(newTintHandler(config.Discord.LogLevel)).
			With(loggerNameKey, "discord")
		t.discord = disc
		disc.bot = t
	}

	t.external = newExternalClients(config, config.HTTPClient)

	if config.OpenAI.Token != "" {
		clientCfg := openai.DefaultConfig(config.OpenAI.Token)
		clientCfg.HTTPClient = config.HTTPClient
		t.openaiClient = openai.NewClientWithConfig(clientCfg)
		t.openaiLimiter = rate.NewLimiter(
			rate.Limit(config.OpenAI.MaxRequestsPerSecond),
			1,
		)
	}

	t.metrics = newMetrics(config.Metrics)

	api, err := newAPI(t, config.API)
	if err != nil {
		errs = append(errs, err)
	}
	t.api = api

	return t, errors.Join(errs...)
}

func (t *TacoBot) ValidateConfig() error {
	return structValidator.Struct(t.config)
}

// Run starts TacoBot: connects to MongoDB, starts the HTTP server,
// opens the discord gateway session and registers slash commands, then
// blocks until the context is canceled or a stop signal arrives.
func (t *TacoBot) Run(ctx context.Context) error {
	// prevents concurrent runs
	t.runMu.Lock()
	defer t.runMu.Unlock()

	t.signalStop = make(chan struct{}, 1)
	t.startedAt = time.Now()
	logger := t.logger

	if err := t.ValidateConfig(); err != nil {
		logger.Error("invalid config", tint.Err(err))
		return err
	}

	ctx = WithLogger(ctx, logger)
	logger.LogAttrs(ctx, slog.LevelInfo, "starting", slog.Any("config", t.config))

	// the 'runtime' context, which triggers a graceful shutdown
	// when canceled
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-t.signalStop:
			t.logger.Warn("got stop signal, canceling")
			cancel()
		case <-ctx.Done():
			t.logger.Warn("context canceled, sending stop signal")
			t.signalStop <- struct{}{}
		}
	}()

	runtimeWG := &sync.WaitGroup{}

	startCtx, startCancel := context.WithTimeout(ctx, t.config.StartupTimeout)
	defer startCancel()

	initErr := make(chan error, 1)
	go func() {
		logger.Debug("initializing run...")
		initErr <- t.initRun(startCtx)
	}()

	select {
	case <-startCtx.Done():
		return fmt.Errorf("startup cancelled or timed out")
	case err := <-initErr:
		if err != nil {
			logger.ErrorContext(ctx, "init error", tint.Err(err))
			return err
		}
	}

	go func() {
		httpErr := t.api.Serve(ctx)
		if httpErr != nil && !errors.Is(httpErr, http.ErrServerClosed) {
			t.logger.ErrorContext(ctx, "error serving api HTTP", tint.Err(httpErr))
		}
	}()

	if err := t.initDiscordSession(ctx, runtimeWG); err != nil {
		t.logger.ErrorContext(ctx, "error creating discord session", tint.Err(err))
		return err
	}

	t.startSettingsRefresher(ctx, runtimeWG)
	if t.config.Metrics.Enabled {
		t.metrics.startUpdater(ctx, runtimeWG, t.db, t.logger)
	}

	t.signalReady <- struct{}{}
	t.logger.InfoContext(ctx, "sent ready signal")

	<-ctx.Done()

	return t.shutdown(runtimeWG)
}

// initRun connects the datastore and loads the guild settings cache.
func (t *TacoBot) initRun(ctx context.Context) error {
	if t.db == nil {
		store, err := NewMongoStore(ctx, t.config.Mongo, t.logHandler)
		if err != nil {
			return err
		}
		t.db = store
	}
	t.refreshSettings(ctx)
	return nil
}

// initDiscordSession creates and opens the gateway session, registers
// the event handlers and slash commands.
func (t *TacoBot) initDiscordSession(
	ctx context.Context,
	runtimeWG *sync.WaitGroup,
) error {
	session, err := t.discord.newSession()
	if err != nil {
		return err
	}
	t.discord.session = session

	t.discord.discordgoRemoveHandlerFuncs = []func(){
		session.AddHandler(t.discord.handlerReady()),
		session.AddHandler(t.discord.handlerConnect()),
		session.AddHandler(t.discord.handlerDisconnect()),
		session.AddHandler(
			func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
				runtimeWG.Add(1)
				go func() {
					defer runtimeWG.Done()
					t.handleInteraction(ctx, i)
				}()
			},
		),
		session.AddHandler(
			func(_ *discordgo.Session, m *discordgo.MessageCreate) {
				runtimeWG.Add(1)
				go func() {
					defer runtimeWG.Done()
					t.handleDiscordMessage(ctx, m)
				}()
			},
		),
		session.AddHandler(
			func(_ *discordgo.Session, r *discordgo.MessageReactionAdd) {
				runtimeWG.Add(1)
				go func() {
					defer runtimeWG.Done()
					t.handleReactionAdd(ctx, r)
				}()
			},
		),
		session.AddHandler(
			func(_ *discordgo.Session, g *discordgo.GuildCreate) {
				runtimeWG.Add(1)
				go func() {
					defer runtimeWG.Done()
					t.handleGuildCreate(ctx, g)
				}()
			},
		),
		session.AddHandler(
			func(_ *discordgo.Session, m *discordgo.GuildMemberAdd) {
				runtimeWG.Add(1)
				go func() {
					defer runtimeWG.Done()
					t.handleGuildMemberAdd(ctx, m)
				}()
			},
		),
		session.AddHandler(
			func(_ *discordgo.Session, i *discordgo.InviteCreate) {
				t.handleInviteCreate(ctx, i)
			},
		),
	}

	if err = session.Open(); err != nil {
		return fmt.Errorf("error opening discord session: %w", err)
	}

	if _, err = t.discord.registerCommands(); err != nil {
		return fmt.Errorf("error registering commands: %w", err)
	}
	return nil
}

// shutdown closes the discord session, stops the HTTP server within
// ShutdownTimeout, and disconnects from the database. It runs on a
// fresh context because the runtime context is already canceled by the
// time it's called.
func (t *TacoBot) shutdown(runtimeWG *sync.WaitGroup) error {
	t.logger.Warn("shutting down")
	defer func() {
		t.eventShutdown <- struct{}{}
	}()

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		t.config.ShutdownTimeout,
	)
	defer cancel()

	var errs []error

	if t.discord != nil && t.discord.session != nil {
		for _, removeHandler := range t.discord.discordgoRemoveHandlerFuncs {
			removeHandler()
		}
		if err := t.discord.session.Close(); err != nil {
			t.logger.Error("error closing discord session", tint.Err(err))
			errs = append(errs, err)
		}
	}

	if t.api != nil {
		if err := t.api.Shutdown(shutdownCtx); err != nil {
			t.logger.Error("error shutting down api", tint.Err(err))
			errs = append(errs, err)
		}
	}

	done := make(chan struct{}, 1)
	go func() {
		runtimeWG.Wait()
		done <- struct{}{}
	}()
	select {
	case <-done:
		//
	case <-shutdownCtx.Done():
		t.logger.Warn("shutdown timeout elapsed waiting on handlers")
	}

	if t.db != nil {
		if err := t.db.Close(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
	}

	t.logger.Warn("shutdown complete")
	return errors.Join(errs...)
}

// Stop signals the bot to shut down, and blocks until shutdown
// finishes. Calling Stop on a bot that was never started is a no-op.
func (t *TacoBot) Stop() {
	if t.signalStop == nil {
		return
	}
	t.signalStop <- struct{}{}
	<-t.eventShutdown
}

// Pause causes the bot to ignore commands and webhook taco mutations
// until Resume is called. Returns false if already paused.
func (t *TacoBot) Pause(ctx context.Context) bool {
	_, logger := t.getLogger(ctx)
	rv := t.paused.CompareAndSwap(false, true)
	if rv {
		logger.WarnContext(ctx, "paused")
	}
	return rv
}

// Resume un-pauses the bot. Returns false if it wasn't paused.
func (t *TacoBot) Resume(ctx context.Context) bool {
	_, logger := t.getLogger(ctx)
	rv := t.paused.CompareAndSwap(true, false)
	if rv {
		logger.WarnContext(ctx, "resumed")
	}
	return rv
}

func (t *TacoBot) Paused() bool {
	return t.paused.Load()
}

// guildSettings returns the cached settings for a guild, falling back
// to the database (and caching the result) on a miss. A nil return
// means the guild is unknown.
func (t *TacoBot) guildSettings(ctx context.Context, guildID string) *GuildSettings {
	t.settingsMu.RLock()
	settings, ok := t.settingsCache[guildID]
	t.settingsMu.RUnlock()
	if ok {
		return settings
	}

	settings, err := t.db.GetGuildSettings(ctx, guildID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			t.logger.ErrorContext(
				ctx,
				"error loading guild settings",
				tint.Err(err),
				"guild_id", guildID,
			)
		}
		return nil
	}
	t.settingsMu.Lock()
	t.settingsCache[guildID] = settings
	t.settingsMu.Unlock()
	return settings
}

// giftLimit24h returns the effective rolling 24h gift cap for a guild.
func (t *TacoBot) giftLimit24h(ctx context.Context, guildID string) int64 {
	if settings := t.guildSettings(ctx, guildID); settings != nil &&
		settings.TacoGiftLimit24h > 0 {
		return settings.TacoGiftLimit24h
	}
	return t.config.Tacos.GiftLimit24h
}

func (t *TacoBot) refreshSettings(ctx context.Context) {
	all, err := t.db.AllGuildSettings(ctx)
	if err != nil {
		t.logger.ErrorContext(ctx, "error refreshing guild settings", tint.Err(err))
		return
	}
	cache := make(map[string]*GuildSettings, len(all))
	for i := range all {
		s := all[i]
		cache[s.GuildID] = &s
	}
	t.settingsMu.Lock()
	t.settingsCache = cache
	t.settingsMu.Unlock()
	t.logger.DebugContext(ctx, "refreshed guild settings", "guilds", len(cache))
}

// startSettingsRefresher reloads the guild settings cache every
// SettingsTTL, or when triggered via triggerSettingsRefreshCh.
func (t *TacoBot) startSettingsRefresher(
	ctx context.Context,
	runtimeWG *sync.WaitGroup,
) {
	if t.config.SettingsTTL <= 0 {
		t.logger.Warn("settings refresh disabled")
		return
	}
	ticker := time.NewTicker(t.config.SettingsTTL)
	runtimeWG.Add(1)
	go func() {
		defer runtimeWG.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				t.refreshSettings(ctx)
			case <-t.triggerSettingsRefreshCh:
				t.refreshSettings(ctx)
				ticker.Reset(t.config.SettingsTTL)
			}
		}
	}()
}

// giftLimiter returns the per-user rate limiter used to smooth taco
// gift bursts. The burst is sized from the configured rate so a user
// can spend up to a second's worth of gifts at once.
func (t *TacoBot) giftLimiter(userID string) *rate.Limiter {
	t.giftLimiterMu.Lock()
	defer t.giftLimiterMu.Unlock()
	limiter, ok := t.giftLimiters[userID]
	if !ok {
		burst := int(math.Ceil(t.config.Tacos.GiftsPerSecond))
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(
			rate.Limit(t.config.Tacos.GiftsPerSecond),
			burst,
		)
		t.giftLimiters[userID] = limiter
	}
	return limiter
}

// GetOrCreateUser records a sighting of the given discord user.
func (t *TacoBot) GetOrCreateUser(ctx context.Context, u discordgo.User) (
	*User,
	bool,
	error,
) {
	return t.db.UpsertUser(ctx, u)
}

// announceToGuilds sends the given message to every guild with a
// configured notification channel.
func (t *TacoBot) announceToGuilds(message string) {
	t.settingsMu.RLock()
	var channels []string
	for _, settings := range t.settingsCache {
		if settings.NotificationChannelID != "" {
			channels = append(channels, settings.NotificationChannelID)
		}
	}
	t.settingsMu.RUnlock()

	for _, channelID := range channels {
		if err := t.discord.channelMessageSend(
			channelID,
			message,
			discordgo.WithRetryOnRatelimit(false),
			discordgo.WithRestRetries(1),
		); err != nil {
			t.logger.Error(
				"unable to send announcement",
				tint.Err(err),
				"channel_id", channelID,
			)
		}
	}
}

// applicationCommands returns every slash command the bot registers.
// Commands whose cogs are unconfigured (no OpenAI token, no Giphy key,
// no minecraft bridge) are omitted.
func (t *TacoBot) applicationCommands() []*discordgo.ApplicationCommand {
	commands := []*discordgo.ApplicationCommand{
		appCommandTacos(),
		appCommandTwitch(),
		appCommandTrivia(),
		appCommandGameKey(),
	}
	if t.config.Minecraft.BridgeURL != "" {
		commands = append(commands, appCommandMinecraft())
	}
	if t.config.Giphy.APIKey != "" {
		commands = append(commands, appCommandGif())
	}
	if t.openaiClient != nil {
		commands = append(commands, appCommandAsk())
	}
	return commands
}

// handleInteraction routes slash commands and message components to
// their cog handlers.
func (t *TacoBot) handleInteraction(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) {
	ctx, logger := t.getLogger(ctx)
	defer func() {
		if rc := recover(); rc != nil {
			t.handleRecover(ctx, rc)
		}
	}()

	t.commandsInProgress.Add(1)
	defer t.commandsInProgress.Add(-1)

	user := getDiscordUser(i)
	if user == nil {
		logger.WarnContext(
			ctx,
			"no user found for interaction",
			interactionLogAttrs(*i)...,
		)
		return
	}
	if user.Bot {
		return
	}

	if t.paused.Load() {
		logger.WarnContext(ctx, "paused, ignoring interaction")
		_ = t.discord.session.InteractionRespond(
			i.Interaction,
			&discordgo.InteractionResponse{
				Type: discordgo.InteractionResponseChannelMessageWithSource,
				Data: &discordgo.InteractionResponseData{
					Content: "I'm taking a quick siesta - try again soon!",
					Flags:   discordgo.MessageFlagsEphemeral,
				},
			},
		)
		return
	}

	u, isNew, err := t.GetOrCreateUser(ctx, *user)
	if err != nil {
		logger.ErrorContext(ctx, "error getting or creating user", tint.Err(err))
		return
	}
	if isNew {
		logger.InfoContext(ctx, "new user seen", userLogAttrs(*user)...)
	}
	if u.Ignored {
		logger.WarnContext(ctx, "ignoring interaction from ignored user", "user", u)
		return
	}

	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		data := i.ApplicationCommandData()
		logger = logger.With(
			slog.Group("interaction", interactionLogAttrs(*i)...),
			"command", data.Name,
		)
		ctx = WithLogger(ctx, logger)

		switch data.Name {
		case slashCommandTacos:
			t.handleTacosCommand(ctx, i, u)
		case slashCommandMinecraft:
			t.handleMinecraftCommand(ctx, i, u)
		case slashCommandTwitch:
			t.handleTwitchCommand(ctx, i, u)
		case slashCommandTrivia:
			t.handleTriviaCommand(ctx, i, u)
		case slashCommandGif:
			t.handleGifCommand(ctx, i)
		case slashCommandAsk:
			t.handleAskCommand(ctx, i, u)
		case slashCommandGameKey:
			t.handleGameKeyCommand(ctx, i, u)
		default:
			logger.WarnContext(ctx, "unknown command", "command", data.Name)
		}
	case discordgo.InteractionMessageComponent:
		t.handleMessageComponent(ctx, i, u)
	default:
		logger.DebugContext(
			ctx,
			"ignoring interaction type",
			"type", i.Type.String(),
		)
	}
}

// handleMessageComponent routes button presses (currently only trivia
// answers) to their handler.
func (t *TacoBot) handleMessageComponent(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	u *User,
) {
	data := i.MessageComponentData()
	if triviaAnswerPattern.MatchString(data.CustomID) {
		t.handleTriviaAnswer(ctx, i, u, data.CustomID)
		return
	}
	_, logger := t.getLogger(ctx)
	logger.WarnContext(ctx, "unknown component", "custom_id", data.CustomID)
}

// handleDiscordMessage replies with a greeting when a message mentions
// ONLY the bot and isn't a reply to another message. All other
// messages are left alone.
func (t *TacoBot) handleDiscordMessage(
	ctx context.Context,
	m *discordgo.MessageCreate,
) {
	ctx, logger := t.getLogger(ctx)

	if m.MentionEveryone || len(m.Mentions) != 1 {
		return
	}
	if m.ReferencedMessage != nil || m.MessageReference != nil {
		return
	}

	user := m.Author
	if user == nil && m.Member != nil {
		user = m.Member.User
	}
	if user == nil || user.Bot || user.ID == t.config.Discord.ApplicationID {
		return
	}

	if !messageMentionsUser(m.Message, t.config.Discord.ApplicationID) {
		return
	}

	u, _, err := t.GetOrCreateUser(ctx, *user)
	if err != nil {
		logger.ErrorContext(ctx, "error getting or creating user", tint.Err(err))
		return
	}
	if u.Ignored {
		logger.WarnContext(ctx, "ignoring mention from ignored user", "user", u)
		return
	}

	if _, err = t.discord.session.ChannelMessageSendReply(
		m.ChannelID,
		fmt.Sprintf(
			"Hey <@%s>! Use `/%s count` to check your tacos, or react to "+
				"a message with %s to gift one.",
			user.ID,
			slashCommandTacos,
			tacoEmoji,
		),
		m.Reference(),
	); err != nil {
		logger.ErrorContext(ctx, "error sending greeting", tint.Err(err))
	}
}

// handleRecover logs a panic from an event handler without taking the
// bot down.
func (t *TacoBot) handleRecover(ctx context.Context, rc any) {
	logger, ok := ContextLogger(ctx)
	if logger == nil || !ok {
		logger = slog.Default()
	}
	logger.ErrorContext(
		ctx,
		"recovered from panic",
		"panic", rc,
		"stack", string(debug.Stack()),
	)
}
