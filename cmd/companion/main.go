package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	cli "github.com/spf13/pflag"

	"github.com/lmittmann/tint"
	log "log/slog"

	"companion/internal/app"
	"companion/internal/config"
)

var logLevelMap = map[string]log.Level{
	"debug": log.LevelDebug,
	"info":  log.LevelInfo,
	"warn":  log.LevelWarn,
	"error": log.LevelError,
}

func main() {
	envFile := cli.StringP("env", "e", ".env", "Env file path")
	configFile := cli.StringP("config", "c", "companion.yaml", "Config file path")
	proxyAddr := cli.StringP("proxy", "p", "", "Socks Proxy Address")
	logLevel := cli.StringP("log", "l", "", "Log level")
	cli.Parse()

	// .env only fills variables the shell did not set
	if err := godotenv.Load(*envFile); err != nil && !os.IsNotExist(err) {
		log.Warn("Failed to load env file", "path", *envFile, "err", err)
	}

	cfg, err := config.Load(*configFile, nil)
	if err != nil {
		log.Error("Failed to load config", "path", *configFile, "err", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *proxyAddr != "" {
		cfg.LLM.Proxy = *proxyAddr
	}

	level, ok := logLevelMap[cfg.LogLevel]
	if !ok {
		level = log.LevelInfo
	}
	log.SetDefault(log.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level: level,
	})))

	log.Info("Booting up")

	companion, err := app.New(cfg, app.Deps{})
	if err != nil {
		log.Error("Failed to boot", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := companion.Run(ctx); err != nil {
		log.Error("Companion stopped", "err", err)
		os.Exit(1)
	}
	log.Info("Shut down")
}
