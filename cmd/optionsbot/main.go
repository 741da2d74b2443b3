// Package main is the entry point for the options execution bot.
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

	"github.com/joho/godotenv"
	"github.com/quangdv/optionsbot/internal/alerting"
	"github.com/quangdv/optionsbot/internal/config"
	"github.com/quangdv/optionsbot/internal/exec"
	"github.com/quangdv/optionsbot/internal/gateway"
	"github.com/quangdv/optionsbot/internal/gateway/deribit"
	"github.com/quangdv/optionsbot/internal/gateway/sim"
	"github.com/quangdv/optionsbot/internal/lifecycle"
	"github.com/quangdv/optionsbot/internal/metrics"
	"github.com/quangdv/optionsbot/internal/persistence"
	"github.com/quangdv/optionsbot/internal/types"
)

// Version information (set by build flags).
var (
	Version   = "0.2.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	// Credentials referenced from config as ${VAR} can live in a .env file.
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "version", "-v", "--version":
		cmdVersion()
	case "help", "-h", "--help":
		printUsage()
	case "execute":
		cmdExecute(os.Args[2:])
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
	fmt.Println(`Options Bot - Smart Multi-Leg Orderbook Execution

Usage:
  optionsbot <command> [options]

Commands:
  execute    Execute a structure file once and print the fill report
  run        Open a structure as a managed trade and monitor its exits
  validate   Validate configuration and structure files
  version    Show version information
  help       Show this help message

Examples:
  optionsbot execute --config config.yaml --structure butterfly.yaml
  optionsbot run --config config.yaml --structure butterfly.yaml
  optionsbot validate --config config.yaml --structure butterfly.yaml

Use "optionsbot <command> --help" for more information about a command.`)
}

func cmdVersion() {
	fmt.Printf("optionsbot version %s\n", Version)
	fmt.Printf("  Build time: %s\n", BuildTime)
	fmt.Printf("  Git commit: %s\n", GitCommit)
}

func cmdValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	structurePath := fs.String("structure", "", "Path to structure file (optional)")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Configuration is valid!")
	fmt.Printf("  Gateway:          %s\n", cfg.Gateway.Type)
	fmt.Printf("  Chunks:           %d x %ds\n", cfg.Execution.ChunkCount, cfg.Execution.TimePerChunkSec)
	fmt.Printf("  Quote strategy:   %s\n", cfg.Execution.QuoteStrategy)
	fmt.Printf("  RFQ threshold:    $%.0f\n", cfg.Lifecycle.RFQMinNotional)

	if *structurePath == "" {
		return
	}
	s, err := config.LoadStructure(*structurePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Structure error: %v\n", err)
		os.Exit(1)
	}
	legs, _ := s.ToLegs()
	fmt.Printf("Structure %q is valid: %d legs, %d exit conditions\n",
		s.Label, len(legs), len(s.ToExitConditions()))
}

func cmdExecute(args []string) {
	fs := flag.NewFlagSet("execute", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	structurePath := fs.String("structure", "", "Path to structure file (required)")
	verbose := fs.Bool("verbose", false, "Verbose output")
	fs.Parse(args)

	if *structurePath == "" {
		fmt.Fprintln(os.Stderr, "Error: --structure is required")
		fs.Usage()
		os.Exit(1)
	}

	logger := setupLogger(*verbose, false)
	cfg, _, legs := mustLoad(*configPath, *structurePath)

	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gw, cleanup, err := buildGateway(ctx, cfg, logger, instrumentsOf(legs))
	if err != nil {
		slog.Error("gateway setup failed", "err", err)
		os.Exit(1)
	}
	defer cleanup()

	executor := exec.New(gw, logger)
	legs = executor.CaptureStartingPositions(ctx, legs)

	result, err := executor.Execute(ctx, legs, cfg.ToExecConfig())
	if err != nil && result == nil {
		slog.Error("execution failed", "err", err)
		os.Exit(1)
	}
	if err != nil {
		slog.Warn("execution aborted", "err", err)
	}

	fmt.Println(result.Report())
	if !result.Success {
		os.Exit(1)
	}
}

func cmdRun(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	structurePath := fs.String("structure", "", "Path to structure file (required)")
	verbose := fs.Bool("verbose", false, "Verbose output")
	fs.Parse(args)

	if *structurePath == "" {
		fmt.Fprintln(os.Stderr, "Error: --structure is required")
		fs.Usage()
		os.Exit(1)
	}

	logger := setupLogger(*verbose, true)
	cfg, s, legs := mustLoad(*configPath, *structurePath)

	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("optionsbot starting",
		"version", Version,
		"gateway", cfg.Gateway.Type,
		"structure", s.Label,
		"legs", len(legs),
	)

	gw, cleanup, err := buildGateway(ctx, cfg, logger, instrumentsOf(legs))
	if err != nil {
		slog.Error("gateway setup failed", "err", err)
		os.Exit(1)
	}
	defer cleanup()

	executor := exec.New(gw, logger)
	manager := lifecycle.NewManager(gw, executor, cfg.ToLifecycleConfig(), logger)

	alerter := buildAlerter(cfg, logger)
	if alerter != nil {
		manager = manager.WithAlerter(alerter)
	}

	if cfg.Persistence.Enabled {
		repo, err := persistence.NewSQLiteRepository(cfg.Persistence.Path)
		if err != nil {
			slog.Error("failed to open repository", "err", err)
			os.Exit(1)
		}
		defer func() { _ = repo.Close() }()
		manager = manager.WithRepository(repo)
	}

	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(metrics.ServerConfig{
			Port:        cfg.Metrics.Port,
			MetricsPath: cfg.Metrics.Path,
			HealthPath:  "/health",
		}, logger)
		metricsServer.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsServer.Shutdown(shutdownCtx)
		}()
	}

	if alerter != nil {
		_ = alerter.Alert(ctx, alerting.EventSeverity(alerting.EventBotStarted),
			"optionsbot started", "structure", s.Label, "gateway", cfg.Gateway.Type)
	}

	trade, err := manager.Create(s.Label, legs, s.ToExitConditions())
	if err != nil {
		slog.Error("failed to create trade", "err", err)
		os.Exit(1)
	}
	if err := manager.Open(ctx, trade.ID); err != nil {
		slog.Error("failed to open trade", "trade_id", trade.ID, "err", err)
		os.Exit(1)
	}

	ticker := time.NewTicker(cfg.TickInterval())
	defer ticker.Stop()

loop:
	for {
		select {
		case <-ctx.Done():
			slog.Info("shutdown signal received")
			break loop
		case <-ticker.C:
			manager.Tick(ctx)
			t, err := manager.Trade(trade.ID)
			if err == nil && t.State.IsTerminal() {
				slog.Info("trade reached terminal state",
					"trade_id", t.ID,
					"state", t.State,
					"realized_pl", t.RealizedPL(),
				)
				break loop
			}
		}
	}

	t, err := manager.Trade(trade.ID)
	if err == nil && !t.State.IsTerminal() {
		slog.Warn("exiting with trade still open; positions remain on the venue",
			"trade_id", t.ID, "state", t.State)
	}

	if alerter != nil {
		_ = alerter.Alert(context.WithoutCancel(ctx),
			alerting.EventSeverity(alerting.EventBotStopped), "optionsbot stopped")
	}
	slog.Info("optionsbot shutdown complete")
}

func setupLogger(verbose, jsonOutput bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if jsonOutput {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func mustLoad(configPath, structurePath string) (*config.Config, *config.Structure, []types.Leg) {
	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	s, err := config.LoadStructure(structurePath)
	if err != nil {
		slog.Error("failed to load structure", "err", err)
		os.Exit(1)
	}
	legs, err := s.ToLegs()
	if err != nil {
		slog.Error("invalid structure legs", "err", err)
		os.Exit(1)
	}
	return cfg, s, legs
}

// buildGateway constructs the configured venue gateway. The returned cleanup
// closes live connections and is a no-op for the simulator.
func buildGateway(ctx context.Context, cfg *config.Config, logger *slog.Logger, instruments []string) (gateway.Gateway, func(), error) {
	switch cfg.Gateway.Type {
	case "sim":
		return sim.New(logger), func() {}, nil
	case "deribit":
		dcfg := deribit.DefaultConfig()
		if cfg.Gateway.BaseURL != "" {
			dcfg.BaseURL = cfg.Gateway.BaseURL
		}
		if cfg.Gateway.WSURL != "" {
			dcfg.WSURL = cfg.Gateway.WSURL
		}
		dcfg.APIKey = cfg.Gateway.APIKey
		dcfg.APISecret = cfg.Gateway.APISecret
		dcfg.MaxRequestsPerSecond = cfg.Gateway.RateLimitPerSecond
		dcfg.RequestTimeout = cfg.GatewayTimeout()

		client := deribit.NewClient(dcfg, logger)
		if err := client.Connect(ctx, instruments); err != nil {
			// The orderbook feed is an optimization; HTTP polling still works.
			logger.Warn("orderbook feed unavailable, using HTTP polling", "err", err)
		}
		return client, func() { _ = client.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("%w: unknown gateway type %q", types.ErrInvalidConfig, cfg.Gateway.Type)
	}
}

func buildAlerter(cfg *config.Config, logger *slog.Logger) alerting.Alerter {
	if !cfg.Alerting.Enabled {
		return nil
	}

	var alerters []alerting.Alerter
	for _, ch := range cfg.Alerting.Channels {
		switch ch.Type {
		case "console":
			alerters = append(alerters, alerting.NewConsoleAlerter(logger))
		case "telegram":
			alerters = append(alerters, alerting.NewTelegramAlerter(alerting.TelegramConfig{
				BotToken: ch.BotToken,
				ChatID:   ch.ChatID,
			}))
		}
	}
	if len(alerters) == 0 {
		return nil
	}
	if len(alerters) == 1 {
		return alerters[0]
	}
	return alerting.NewMultiAlerter(logger, alerters...)
}

func instrumentsOf(legs []types.Leg) []string {
	seen := make(map[string]struct{}, len(legs))
	out := make([]string, 0, len(legs))
	for _, leg := range legs {
		if _, ok := seen[leg.Instrument]; ok {
			continue
		}
		seen[leg.Instrument] = struct{}{}
		out = append(out, leg.Instrument)
	}
	return out
}
