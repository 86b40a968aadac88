package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/joho/godotenv"
	"github.com/orchestra-mcp/socketclient/providers"
	"github.com/rs/zerolog"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (environment is used when empty)")
	envFile := flag.String("env", ".env", "dotenv file to load before reading the environment")
	flag.Parse()

	// Load .env file if exists
	_ = godotenv.Load(*envFile)

	logger := newLogger(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))

	cfg, err := loadConfig(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Str("config", *configPath).Msg("invalid configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	provider := providers.NewSocketClientProvider(cfg, logger)
	if err := provider.Activate(ctx); err != nil {
		logger.Fatal().Err(err).Msg("activate socket client")
	}

	app := fiber.New()
	provider.RegisterRoutes(app)

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info().Msg("shutting down socket client")
		cancel()
		if err := app.ShutdownWithTimeout(5 * time.Second); err != nil {
			logger.Error().Err(err).Msg("http shutdown")
		}
	}()

	logger.Info().Str("addr", cfg.HTTP.Addr).Str("upstream", cfg.Client.URL).Msg("control server listening")
	if err := app.Listen(cfg.HTTP.Addr, fiber.ListenConfig{DisableStartupMessage: true}); err != nil {
		logger.Error().Err(err).Msg("http server stopped")
	}

	if err := provider.Deactivate(); err != nil {
		logger.Error().Err(err).Msg("deactivate socket client")
	}
}

func loadConfig(path string) (providers.AppConfig, error) {
	if path != "" {
		return providers.LoadAppConfig(path)
	}
	cfg := providers.AppConfigFromEnv()
	if err := cfg.Client.Validate(); err != nil {
		return providers.AppConfig{}, err
	}
	return cfg, nil
}

// newLogger builds a console logger unless format is "json".
func newLogger(level, format string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if format == "json" {
		logger = zerolog.New(os.Stdout)
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05.000"})
	}
	return logger.Level(lvl).With().Timestamp().Str("service", "socketclient").Logger()
}
