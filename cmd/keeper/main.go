// Package main is the entry point for the order book keeper.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/openkeeper/keeper/internal/alerting"
	"github.com/openkeeper/keeper/internal/config"
	"github.com/openkeeper/keeper/internal/exchange"
	"github.com/openkeeper/keeper/internal/exchange/paper"
	"github.com/openkeeper/keeper/internal/exchange/rest"
	"github.com/openkeeper/keeper/internal/keeper"
	"github.com/openkeeper/keeper/internal/metrics"
	"github.com/openkeeper/keeper/internal/persistence"
)

// Version information (set by build flags).
var (
	Version   = "0.2.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "version", "-v", "--version":
		cmdVersion()
	case "help", "-h", "--help":
		printUsage()
	case "run":
		cmdRun(os.Args[2:])
	case "validate":
		cmdValidate(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Order Book Keeper - Resilient order book tracking for market making

Usage:
  keeper <command> [options]

Commands:
  run        Start the keeper
  validate   Validate configuration file
  version    Show version information
  help       Show this help message

Examples:
  keeper run --config config.yaml
  keeper validate --config config.yaml

Use "keeper <command> --help" for more information about a command.`)
}

func cmdVersion() {
	fmt.Printf("keeper version %s\n", Version)
	fmt.Printf("  Build time: %s\n", BuildTime)
	fmt.Printf("  Git commit: %s\n", GitCommit)
}

func cmdValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Configuration is valid!")
	fmt.Printf("  Exchange: %s\n", cfg.Exchange.Type)
	fmt.Printf("  Refresh frequency: %ds\n", cfg.Book.RefreshFrequencySec)
	fmt.Printf("  Balances: %v\n", cfg.Book.FetchBalances)
	fmt.Printf("  Persistence: %v\n", cfg.Persistence.Enabled)
	fmt.Printf("  Alerting: %v\n", cfg.Alerting.Enabled)
}

func cmdRun(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := buildLogger(cfg.Logging)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("keeper starting",
		"version", Version,
		"exchange", cfg.Exchange.Type,
		"refresh_frequency_sec", cfg.Book.RefreshFrequencySec,
	)

	exch, err := buildExchange(cfg, logger)
	if err != nil {
		logger.Error("failed to create exchange client", "err", err)
		os.Exit(1)
	}
	defer func() { _ = exch.Close() }()

	var repo persistence.Repository
	if cfg.Persistence.Enabled {
		sqlRepo, err := persistence.NewSQLiteRepository(cfg.Persistence.Path)
		if err != nil {
			logger.Error("failed to open journal", "err", err, "path", cfg.Persistence.Path)
			os.Exit(1)
		}
		defer func() { _ = sqlRepo.Close() }()
		repo = sqlRepo
		logger.Info("journal opened", "path", cfg.Persistence.Path)
	}

	alerter := buildAlerter(cfg, logger)

	k := keeper.NewKeeper(
		keeper.Config{
			WatchdogInterval:   cfg.WatchdogInterval(),
			StaleAfterFailures: cfg.Watchdog.StaleAfterFailures,
			SummaryInterval:    cfg.SummaryInterval(),
			FetchBalances:      cfg.Book.FetchBalances,
		},
		cfg.ToBookConfig(),
		exch,
		repo,
		alerter,
		logger,
	)

	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metrics.SetBuildInfo(Version, GitCommit, BuildTime)

		serverCfg := metrics.DefaultServerConfig()
		if cfg.Metrics.Port > 0 {
			serverCfg.Port = cfg.Metrics.Port
		}
		if cfg.Metrics.Path != "" {
			serverCfg.MetricsPath = cfg.Metrics.Path
		}

		metricsServer = metrics.NewServer(serverCfg, logger)
		metricsServer.RegisterHealthCheck("keeper", k.HealthCheck)
		if err := metricsServer.Start(); err != nil {
			logger.Error("failed to start metrics server", "err", err)
			os.Exit(1)
		}
	}

	if err := k.Start(ctx); err != nil {
		logger.Error("failed to start keeper", "err", err)
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := k.Stop(shutdownCtx); err != nil {
		logger.Error("failed to stop keeper", "err", err)
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("failed to shut down metrics server", "err", err)
		}
	}

	logger.Info("keeper shutdown complete")
}

// buildLogger creates the slog logger from config.
func buildLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// buildExchange creates the configured exchange client.
func buildExchange(cfg *config.Config, logger *slog.Logger) (exchange.Exchange, error) {
	switch cfg.Exchange.Type {
	case "paper":
		paperCfg := paper.DefaultConfig()
		if cfg.Exchange.PaperLatencyMs > 0 {
			paperCfg.Latency = time.Duration(cfg.Exchange.PaperLatencyMs) * time.Millisecond
		}
		return paper.New(paperCfg, logger), nil
	case "rest":
		return rest.NewClient(cfg.ToRESTConfig(), logger)
	default:
		return nil, fmt.Errorf("unsupported exchange type %q", cfg.Exchange.Type)
	}
}

// buildAlerter assembles the configured alert channels.
func buildAlerter(cfg *config.Config, logger *slog.Logger) alerting.Alerter {
	if !cfg.Alerting.Enabled {
		return nil
	}

	multi := alerting.NewMultiAlerter(logger)
	for _, ch := range cfg.Alerting.Channels {
		switch ch.Type {
		case "console":
			multi.AddAlerter(alerting.NewConsoleAlerter(logger))
		case "telegram":
			multi.AddAlerter(alerting.NewTelegramAlerter(alerting.TelegramConfig{
				BotToken: ch.BotToken,
				ChatID:   ch.ChatID,
			}))
		}
	}
	return multi
}
