package cmd

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"syscall"

	"github.com/TacoContent/tacobot/tacobot"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfg        = tacobot.DefaultConfig()
	configFile string
)

var rootCmd = &cobra.Command{
	Use: "tacobot [flags]",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		err := viper.Unmarshal(
			cfg,
			viper.DecodeHook(
				mapstructure.ComposeDecodeHookFunc(
					mapstructure.StringToTimeDurationHookFunc(),
					LevelToStringHookFunc(),
				),
			),
		)
		if err != nil {
			log.Fatalln(err)
		}
	},
}

func getLogLevel(level string) (slog.Level, error) {
	switch level {
	case slog.LevelDebug.String():
		return slog.LevelDebug, nil
	case slog.LevelInfo.String():
		return slog.LevelInfo, nil
	case slog.LevelWarn.String():
		return slog.LevelWarn, nil
	case slog.LevelError.String():
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s", level)
	}
}

func LevelToStringHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data any,
	) (any, error) {
		if f.Kind() != reflect.String {
			return data, nil
		}
		if t.Kind() != reflect.Ptr {
			return data, nil
		}

		typ := t.Elem()

		if typ != reflect.TypeOf(slog.LevelVar{}) {
			return data, nil
		}
		lvl, err := getLogLevel(data.(string))
		if err != nil {
			return nil, fmt.Errorf("invalid log level: %s", data)
		}
		lvlVar := &slog.LevelVar{}
		lvlVar.Set(lvl)
		return lvlVar, nil
	}
}

func Execute() {
	ctx, cancel := context.WithCancel(context.Background())
	rootCmd.SetContext(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(
		signals,
		os.Interrupt,
		syscall.SIGHUP,
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer func() {
		signal.Stop(signals)
		cancel()
	}()
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
			//
		}
	}()
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func initConfig() {
	if configFile == "" {
		if err := godotenv.Load(); err != nil {
			log.Println("No .env file found")
		}
	} else {
		fmt.Println("loading env from file", configFile)
		if err := godotenv.Load(configFile); err != nil {
			log.Println("No .env file found")
		}
	}

	viper.SetDefault("log_level", tacobot.DefaultLogLevel.String())
	viper.SetDefault("startup_timeout", tacobot.DefaultStartupTimeout)
	viper.SetDefault("shutdown_timeout", tacobot.DefaultShutdownTimeout)
	viper.SetDefault("settings_ttl", tacobot.DefaultSettingsTTL)

	// Mongo config
	viper.SetDefault("mongo.uri", tacobot.DefaultMongoURI)
	viper.SetDefault("mongo.database", tacobot.DefaultMongoDatabase)
	viper.SetDefault(
		"mongo.slow_threshold",
		tacobot.DefaultDatabaseSlowThreshold,
	)
	viper.SetDefault(
		"mongo.log_level",
		tacobot.DefaultDatabaseLogLevel.String(),
	)

	// Discord config
	viper.SetDefault("discord.token", "")
	viper.SetDefault("discord.application_id", "")
	viper.SetDefault("discord.guild_id", "")
	viper.SetDefault(
		"discord.log_level",
		tacobot.DefaultDiscordLogLevel.String(),
	)
	viper.SetDefault(
		"discord.discordgo_log_level",
		tacobot.DefaultDiscordgoLogLevel.String(),
	)
	viper.SetDefault(
		"discord.gateway_intents",
		tacobot.DefaultDiscordGatewayIntent,
	)
	viper.SetDefault(
		"discord.startup_message",
		tacobot.DefaultDiscordStartupMessage,
	)
	viper.SetDefault(
		"discord.custom_status",
		tacobot.DefaultDiscordCustomStatus,
	)

	// OpenAI config
	viper.SetDefault("openai.token", "")
	viper.SetDefault("openai.model", tacobot.DefaultOpenAIModel)
	viper.SetDefault("openai.log_level", tacobot.DefaultOpenAILogLevel.String())
	viper.SetDefault(
		"openai.max_requests_per_second",
		tacobot.DefaultOpenAIMaxRequests,
	)

	// Giphy config
	viper.SetDefault("giphy.api_key", "")
	viper.SetDefault("giphy.base_url", tacobot.DefaultGiphyBaseURL)
	viper.SetDefault("giphy.rating", "g")

	// Minecraft config
	viper.SetDefault("minecraft.bridge_url", "")
	viper.SetDefault("minecraft.mojang_url", tacobot.DefaultMojangBaseURL)

	// Taco economy config
	viper.SetDefault("tacos.gift_limit_24h", tacobot.DefaultTacoGiftLimit24h)
	viper.SetDefault(
		"tacos.gifts_per_second",
		tacobot.DefaultTacoGiftsPerSecond,
	)
	viper.SetDefault(
		"tacos.reaction_amount",
		tacobot.DefaultReactionTacoAmount,
	)
	viper.SetDefault("tacos.trivia_reward", tacobot.DefaultTriviaRewardTacos)

	// Metrics config
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.interval", tacobot.DefaultMetricsInterval)

	// API config
	viper.SetDefault("api.listen", tacobot.DefaultAPIListen)
	viper.SetDefault("api.listen_network", "tcp")
	viper.SetDefault("api.secret", "")
	viper.SetDefault("api.webhook_token", "")
	viper.SetDefault("api.log_level", tacobot.DefaultAPILogLevel.String())
	viper.SetDefault("api.session_max_age", tacobot.DefaultAPISessionMaxAge)
	viper.SetDefault("api.read_timeout", tacobot.DefaultReadTimeout)
	viper.SetDefault(
		"api.read_header_timeout",
		tacobot.DefaultReadHeaderTimeout,
	)
	viper.SetDefault("api.write_timeout", tacobot.DefaultWriteTimeout)
	viper.SetDefault("api.idle_timeout", tacobot.DefaultIdleTimeout)
	viper.SetDefault("api.development", false)

	fatalErr := func(err error) {
		if err != nil {
			log.Fatalf("error: %v", err)
		}
	}

	// API: SSL config
	fatalErr(viper.BindEnv("api.ssl.cert"))
	fatalErr(viper.BindEnv("api.ssl.key"))
	fatalErr(viper.BindEnv("api.ssl.tls_min_version"))

	// API: CORS config
	viper.SetDefault(
		"api.cors.allow_headers",
		tacobot.DefaultCORSAllowHeaders,
	)
	viper.SetDefault(
		"api.cors.allow_methods",
		tacobot.DefaultCORSAllowMethods,
	)
	viper.SetDefault(
		"api.cors.expose_headers",
		tacobot.DefaultCORSExposeHeaders,
	)
	viper.SetDefault("api.cors.allow_origins", []string{})
	viper.SetDefault("api.cors.max_age", tacobot.DefaultCORSMaxAge)
	viper.SetDefault(
		"api.cors.allow_credentials",
		tacobot.DefaultAPICORSAllowCredentials,
	)

	envPrefix := os.Getenv(tacobot.EnvvarSetEnvPrefix)
	if envPrefix == "" {
		envPrefix = tacobot.DefaultEnvPrefix
	}
	viper.SetEnvPrefix(envPrefix)

	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv()

	// Convert values to correct types
	viper.Set(
		"api.cors.allow_headers",
		viper.GetStringSlice("api.cors.allow_headers"),
	)
	viper.Set(
		"api.cors.allow_origins",
		viper.GetStringSlice("api.cors.allow_origins"),
	)
	viper.Set(
		"api.cors.allow_methods",
		viper.GetStringSlice("api.cors.allow_methods"),
	)
	viper.Set(
		"api.cors.expose_headers",
		viper.GetStringSlice("api.cors.expose_headers"),
	)

	for _, key := range []string{
		"log_level",
		"mongo.log_level",
		"discord.log_level",
		"discord.discordgo_log_level",
		"openai.log_level",
		"api.log_level",
	} {
		logLevelVar, err := levelStringToLevelVar(viper.GetString(key))
		if err != nil {
			log.Fatalf("error parsing %s: %v", key, err)
		}
		viper.Set(key, logLevelVar)
	}
}

func levelStringToLevelVar(lvl string) (*slog.LevelVar, error) {
	level := &slog.LevelVar{}
	err := level.UnmarshalText([]byte(lvl))
	return level, err
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(
		&configFile,
		"config",
		"",
		"Config file to use",
	)
}
