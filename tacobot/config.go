//nolint:lll // struct tags can't be split
package tacobot

import (
	"crypto/tls"
	"log/slog"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/gin-contrib/cors"
)

const (
	EnvvarSetEnvPrefix = "TACOBOT_ENV_PREFIX"
	DefaultEnvPrefix   = "TACOBOT"

	DefaultMongoURI      = "mongodb://127.0.0.1:27017"
	DefaultMongoDatabase = "tacobot"
	DefaultLogLevel      = slog.LevelInfo

	DefaultStartupTimeout  = 30 * time.Second
	DefaultShutdownTimeout = 60 * time.Second

	DefaultReadTimeout       = 5 * time.Second
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultIdleTimeout       = 30 * time.Second

	DefaultAPIListen        = "127.0.0.1:8931"
	DefaultAPITLSMinVersion = tls.VersionTLS12
	DefaultAPISessionMaxAge = 6 * time.Hour
	defaultListenNetwork    = "tcp"

	DefaultDatabaseLogLevel  = slog.LevelInfo
	DefaultDiscordLogLevel   = slog.LevelWarn
	DefaultDiscordgoLogLevel = slog.LevelWarn
	DefaultAPILogLevel       = slog.LevelInfo
	DefaultOpenAILogLevel    = slog.LevelInfo

	DefaultDatabaseSlowThreshold = 200 * time.Millisecond

	DefaultDiscordGatewayIntent = discordgo.IntentsAllWithoutPrivileged |
		discordgo.IntentGuildMembers |
		discordgo.IntentMessageContent
	DefaultDiscordStartupMessage = "\U0001F32E TacoBot is here!"
	DefaultDiscordCustomStatus   = "counting tacos"
	discordMaxMessageLength      = 2000

	// DefaultTacoGiftLimit24h is the rolling 24-hour cap on tacos a
	// single user may gift, across all recipients in a guild.
	DefaultTacoGiftLimit24h = 500

	// DefaultTacoGiftsPerSecond smooths burst gifting on top of the
	// 24-hour cap.
	DefaultTacoGiftsPerSecond = 1

	DefaultReactionTacoAmount = 1
	DefaultTriviaRewardTacos  = 5

	DefaultMetricsInterval = time.Minute
	DefaultSettingsTTL     = 5 * time.Minute

	DefaultGiphyBaseURL      = "https://api.giphy.com/v1"
	DefaultMojangBaseURL     = "https://api.mojang.com"
	DefaultTriviaBaseURL     = "https://opentdb.com"
	DefaultOpenAIModel       = "gpt-4o-mini"
	DefaultOpenAIMaxRequests = 1

	DefaultAPICORSAllowCredentials = true
)

var (
	DefaultCORSAllowMethods = []string{
		http.MethodGet,
		http.MethodPost,
		http.MethodPut,
		http.MethodPatch,
		http.MethodDelete,
		http.MethodOptions,
		http.MethodHead,
	}
	DefaultCORSAllowHeaders = []string{
		"Origin",
		"Content-Length",
		"Content-Type",
		"Accept",
		"Authorization",
		"X-Requested-With",
		"Cache-Control",
		webhookTokenHeader,
		xRequestIDHeader,
	}
	DefaultCORSExposeHeaders = []string{
		"Content-Type",
		"Content-Length",
		"Accept-Encoding",
		xRequestIDHeader,
		"Location",
		"ETag",
		"Last-Modified",
	}
	DefaultCORSMaxAge = 12 * time.Hour
)

// Config is the top-level TacoBot configuration, loaded via viper in
// the cmd package and validated with `binding` tags before startup.
type Config struct {
	// Mongo configures the MongoDB connection
	Mongo *MongoConfig `yaml:"mongo" mapstructure:"mongo" json:"mongo"`

	// Discord configures the discord bot itself
	Discord *DiscordConfig `yaml:"discord" mapstructure:"discord" json:"discord"`

	// API configures the embedded HTTP server (webhooks, REST API, metrics)
	API *APIConfig `yaml:"api" mapstructure:"api" json:"api"`

	// OpenAI configures the /ask cog
	OpenAI *OpenAIConfig `yaml:"openai" mapstructure:"openai" json:"openai"`

	// Giphy configures the /gif cog
	Giphy *GiphyConfig `yaml:"giphy" mapstructure:"giphy" json:"giphy"`

	// Minecraft configures the minecraft server bridge
	Minecraft *MinecraftConfig `yaml:"minecraft" mapstructure:"minecraft" json:"minecraft"`

	// Tacos configures the taco economy cog
	Tacos *TacoConfig `yaml:"tacos" mapstructure:"tacos" json:"tacos"`

	// Metrics configures the Prometheus exporter
	Metrics *MetricsConfig `yaml:"metrics" mapstructure:"metrics" json:"metrics"`

	// LogLevel is the base log level, for the default logger
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// StartupTimeout sets a limit on the amount of time the bot has to
	// initialize. If this is passed, the bot will abort startup.
	StartupTimeout time.Duration `yaml:"startup_timeout" mapstructure:"startup_timeout" json:"startup_timeout"`

	// ShutdownTimeout is the time to allow for a graceful shutdown. After
	// this elapses, the bot will force close all connections and exit.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" json:"shutdown_timeout"`

	// SettingsTTL sets the time-to-live for the in-process guild settings
	// cache. Settings are refreshed from the database at least every TTL.
	SettingsTTL time.Duration `yaml:"settings_ttl" mapstructure:"settings_ttl" json:"settings_ttl"`

	HTTPClient *http.Client `log:"[redacted]"`
}

func (c Config) LogValue() slog.Value {
	return structToSlogValue(c)
}

// MongoConfig configures the MongoDB connection.
type MongoConfig struct {
	// Mongo connection URI (ex: "mongodb://127.0.0.1:27017")
	URI string `yaml:"uri" mapstructure:"uri" json:"uri" log:"[redacted]" binding:"required"`

	// Database name
	Database string `yaml:"database" mapstructure:"database" json:"database" binding:"required"`

	// Log level for database operations
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Duration threshold for identifying slow commands
	SlowThreshold time.Duration `yaml:"slow_threshold" mapstructure:"slow_threshold" json:"slow_threshold"`
}

// DiscordConfig configures the discord bot itself.
//
//nolint:lll // can't break tags
type DiscordConfig struct {
	// Discord bot token (from the 'Bot' tab in the discord dev portal)
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]" binding:"required"`

	// Discord application ID (from the 'General Information' tab in the discord dev portal)
	ApplicationID string `yaml:"application_id" mapstructure:"application_id" json:"application_id" binding:"required"`

	// GuildID specifies the guild ID used when registering slash commands.
	// Leave empty for commands to be registered as global.
	GuildID string `yaml:"guild_id" mapstructure:"guild_id" json:"guild_id"`

	// Base discord logging level
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Log level for the `discordgo` library's logger
	DiscordGoLogLevel *slog.LevelVar `yaml:"discordgo_log_level" mapstructure:"discordgo_log_level" json:"discordgo_log_level"`

	// If set, the bot sends this message to a guild's configured
	// notification channel whenever it connects to the gateway.
	StartupMessage string `yaml:"startup_message" mapstructure:"startup_message" json:"startup_message"`

	// Custom status ('playing ...') shown for the bot user
	CustomStatus string `yaml:"custom_status" mapstructure:"custom_status" json:"custom_status"`

	// Discord gateway intents. See: https://discord.com/developers/docs/topics/gateway#gateway-intents
	GatewayIntents discordgo.Intent `yaml:"gateway_intents" mapstructure:"gateway_intents" json:"gateway_intents"`

	httpClient *http.Client
}

// APIConfig configures the embedded HTTP server.
type APIConfig struct {
	// The address and port on which the server should listen (e.g., "127.0.0.1:8931").
	Listen string `yaml:"listen" mapstructure:"listen" json:"listen" binding:"required,hostname_port|filepath"`

	// The network type for listening (e.g., "tcp", "tcp4", "tcp6", "unix").
	ListenNetwork string `yaml:"listen_network" mapstructure:"listen_network" json:"listen_network" binding:"required,oneof=tcp tcp4 tcp6 unix"`

	// Shared secret expected in the X-TACOBOT-TOKEN header on webhook
	// endpoints. Webhook routes return 401 when this is unset.
	WebhookToken string `yaml:"webhook_token" mapstructure:"webhook_token" json:"webhook_token" log:"[redacted]"`

	// Secret used for signing session cookies
	Secret string `yaml:"secret" mapstructure:"secret" json:"secret" log:"[redacted]"`

	// Configuration for SSL/TLS.
	SSL SSLConfig `yaml:"ssl" mapstructure:"ssl" json:"ssl"`

	// The logging level for the API server.
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Cross-origin configuration
	CORS CORSConfig `yaml:"cors" mapstructure:"cors" json:"cors"`

	// Maximum duration for reading the entire request, including the body.
	ReadTimeout time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" json:"read_timeout" binding:"min=1s"`

	// Amount of time allowed to read request headers.
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" mapstructure:"read_header_timeout" json:"read_header_timeout" binding:"min=1s"`

	// Maximum duration before timing out writes of the response.
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" json:"write_timeout" binding:"min=1s"`

	// Maximum amount of time to wait for the next request when keep-alives are enabled.
	IdleTimeout time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" json:"idle_timeout" binding:"min=1s"`

	// Max age for admin session cookies
	SessionMaxAge time.Duration `yaml:"session_max_age" mapstructure:"session_max_age" json:"session_max_age" binding:"min=10m,max=24h"`

	// If true, the SameSite attribute of the session cookie will be set
	// to 'None', and pprof endpoints are mounted under /debug
	Development bool `yaml:"development" mapstructure:"development" json:"development"`
}

// OpenAIConfig configures OpenAI API integration for the /ask cog.
type OpenAIConfig struct {
	// OpenAI API token. The /ask command is disabled when empty.
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]"`

	// Model passed to the chat completions API
	Model string `yaml:"model" mapstructure:"model" json:"model"`

	// OpenAI base log level
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Maximum OpenAI requests per second, across all users
	MaxRequestsPerSecond float64 `yaml:"max_requests_per_second" mapstructure:"max_requests_per_second" json:"max_requests_per_second"`
}

// GiphyConfig configures the Giphy API client for the /gif cog.
type GiphyConfig struct {
	// Giphy API key. The /gif command is disabled when empty.
	APIKey string `yaml:"api_key" mapstructure:"api_key" json:"api_key" log:"[redacted]"`

	// Base URL for the Giphy API
	BaseURL string `yaml:"base_url" mapstructure:"base_url" json:"base_url"`

	// Content rating filter (ex: "g", "pg-13")
	Rating string `yaml:"rating" mapstructure:"rating" json:"rating"`
}

// MinecraftConfig configures the HTTP bridge to the managed Minecraft
// server, plus the Mojang profile API used for UUID resolution.
type MinecraftConfig struct {
	// Base URL of the server bridge (ex: "http://127.0.0.1:8095").
	// Minecraft commands and REST endpoints return 503 when empty.
	BridgeURL string `yaml:"bridge_url" mapstructure:"bridge_url" json:"bridge_url"`

	// Base URL for the Mojang API
	MojangURL string `yaml:"mojang_url" mapstructure:"mojang_url" json:"mojang_url"`
}

// TacoConfig configures the taco economy cog.
type TacoConfig struct {
	// Rolling 24-hour cap on gifted tacos per user, per guild. 0=unlimited
	GiftLimit24h int64 `yaml:"gift_limit_24h" mapstructure:"gift_limit_24h" json:"gift_limit_24h"`

	// Token bucket rate for gifts, to smooth bursts
	GiftsPerSecond float64 `yaml:"gifts_per_second" mapstructure:"gifts_per_second" json:"gifts_per_second"`

	// Tacos awarded for a taco reaction on a message
	ReactionAmount int64 `yaml:"reaction_amount" mapstructure:"reaction_amount" json:"reaction_amount"`

	// Tacos awarded for a correct trivia answer
	TriviaReward int64 `yaml:"trivia_reward" mapstructure:"trivia_reward" json:"trivia_reward"`
}

// MetricsConfig configures the Prometheus exporter.
type MetricsConfig struct {
	// Enabled mounts /metrics and starts the periodic updater
	Enabled bool `yaml:"enabled" mapstructure:"enabled" json:"enabled"`

	// Interval between aggregate-count refreshes from the database
	Interval time.Duration `yaml:"interval" mapstructure:"interval" json:"interval"`
}

// SSLConfig specifies cert paths and the TLS version to use
type SSLConfig struct {
	// Path to an SSL certificate
	Cert string `yaml:"cert" mapstructure:"cert" json:"cert"`

	// Path to an SSL cert key
	Key string `yaml:"key" mapstructure:"key" json:"key"`

	// Minimum TLS version
	TLSMinVersion uint16 `yaml:"tls_min_version" mapstructure:"tls_min_version" json:"tls_min_version"`
}

// CORSConfig specifies cross-origin resource sharing settings
type CORSConfig struct {
	AllowOrigins     []string      `yaml:"allow_origins" mapstructure:"allow_origins" json:"allow_origins"`
	AllowMethods     []string      `yaml:"allow_methods" mapstructure:"allow_methods" json:"allow_methods"`
	AllowHeaders     []string      `yaml:"allow_headers" mapstructure:"allow_headers" json:"allow_headers"`
	ExposeHeaders    []string      `yaml:"expose_headers" mapstructure:"expose_headers" json:"expose_headers"`
	AllowCredentials bool          `yaml:"allow_credentials" mapstructure:"allow_credentials" json:"allow_credentials"`
	MaxAge           time.Duration `yaml:"max_age" mapstructure:"max_age" json:"max_age"`
}

func (c CORSConfig) GINConfig() cors.Config {
	return cors.Config{
		AllowOrigins:     c.AllowOrigins,
		AllowMethods:     c.AllowMethods,
		AllowHeaders:     c.AllowHeaders,
		MaxAge:           c.MaxAge,
		ExposeHeaders:    c.ExposeHeaders,
		AllowCredentials: c.AllowCredentials,
	}
}

func DefaultCORSConfig() CORSConfig {
	defaultMethods := make([]string, len(DefaultCORSAllowMethods))
	copy(defaultMethods, DefaultCORSAllowMethods)

	defaultHeaders := make([]string, len(DefaultCORSAllowHeaders))
	copy(defaultHeaders, DefaultCORSAllowHeaders)

	defaultExpose := make([]string, len(DefaultCORSExposeHeaders))
	copy(defaultExpose, DefaultCORSExposeHeaders)

	return CORSConfig{
		AllowOrigins:     []string{},
		AllowMethods:     defaultMethods,
		AllowHeaders:     defaultHeaders,
		ExposeHeaders:    defaultExpose,
		MaxAge:           DefaultCORSMaxAge,
		AllowCredentials: DefaultAPICORSAllowCredentials,
	}
}

// DefaultConfig returns a Config with all default settings populated
func DefaultConfig() *Config {
	mainLogLevel := &slog.LevelVar{}
	dbLogLevel := &slog.LevelVar{}
	discordLogLevel := &slog.LevelVar{}
	discordgoLogLevel := &slog.LevelVar{}
	apiLogLevel := &slog.LevelVar{}
	openaiLogLevel := &slog.LevelVar{}

	mainLogLevel.Set(DefaultLogLevel)
	dbLogLevel.Set(DefaultDatabaseLogLevel)
	discordLogLevel.Set(DefaultDiscordLogLevel)
	discordgoLogLevel.Set(DefaultDiscordgoLogLevel)
	apiLogLevel.Set(DefaultAPILogLevel)
	openaiLogLevel.Set(DefaultOpenAILogLevel)

	return &Config{
		LogLevel:        mainLogLevel,
		StartupTimeout:  DefaultStartupTimeout,
		ShutdownTimeout: DefaultShutdownTimeout,
		SettingsTTL:     DefaultSettingsTTL,
		Mongo: &MongoConfig{
			URI:           DefaultMongoURI,
			Database:      DefaultMongoDatabase,
			LogLevel:      dbLogLevel,
			SlowThreshold: DefaultDatabaseSlowThreshold,
		},
		Discord: &DiscordConfig{
			LogLevel:          discordLogLevel,
			DiscordGoLogLevel: discordgoLogLevel,
			GatewayIntents:    DefaultDiscordGatewayIntent,
			StartupMessage:    DefaultDiscordStartupMessage,
			CustomStatus:      DefaultDiscordCustomStatus,
		},
		API: &APIConfig{
			Listen:        DefaultAPIListen,
			ListenNetwork: defaultListenNetwork,
			SSL: SSLConfig{
				TLSMinVersion: DefaultAPITLSMinVersion,
			},
			LogLevel:          apiLogLevel,
			ReadHeaderTimeout: DefaultReadHeaderTimeout,
			ReadTimeout:       DefaultReadTimeout,
			WriteTimeout:      DefaultWriteTimeout,
			IdleTimeout:       DefaultIdleTimeout,
			SessionMaxAge:     DefaultAPISessionMaxAge,
			CORS:              DefaultCORSConfig(),
		},
		OpenAI: &OpenAIConfig{
			Model:                DefaultOpenAIModel,
			LogLevel:             openaiLogLevel,
			MaxRequestsPerSecond: DefaultOpenAIMaxRequests,
		},
		Giphy: &GiphyConfig{
			BaseURL: DefaultGiphyBaseURL,
			Rating:  "g",
		},
		Minecraft: &MinecraftConfig{
			MojangURL: DefaultMojangBaseURL,
		},
		Tacos: &TacoConfig{
			GiftLimit24h:   DefaultTacoGiftLimit24h,
			GiftsPerSecond: DefaultTacoGiftsPerSecond,
			ReactionAmount: DefaultReactionTacoAmount,
			TriviaReward:   DefaultTriviaRewardTacos,
		},
		Metrics: &MetricsConfig{
			Enabled:  true,
			Interval: DefaultMetricsInterval,
		},
	}
}
