package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"socialhub/internal/config"
	"socialhub/internal/constants"
	"socialhub/internal/features"
	"socialhub/internal/ledger"
	"socialhub/internal/models"
	"socialhub/internal/notify"
	"socialhub/internal/platform"
	"socialhub/internal/refresh"
	"socialhub/internal/retry"
	"socialhub/internal/service"
	"socialhub/internal/tokenstore"
	"socialhub/internal/tracing"
	"socialhub/internal/webhook"

	"github.com/sirupsen/logrus"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	verbose    = flag.Bool("verbose", false, "Enable verbose logging (includes request details)")
	configPath = flag.String("config", "config.json", "Path to configuration file")
	envPath    = flag.String("env", ".env", "Path to an optional .env file")
	version    = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("socialhub %s\nBuild Time: %s\nGit Commit: %s\n", Version, BuildTime, GitCommit)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logrus.Fatalf("Application error: %v", err)
	}
}

func run(ctx context.Context) error {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	logger.WithFields(logrus.Fields{
		"version": Version,
		"build":   BuildTime,
		"commit":  GitCommit,
	}).Info("Starting socialhub")

	if err := config.LoadEnvFile(*envPath); err != nil {
		return fmt.Errorf("failed to load env file: %w", err)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	applyLogLevel(logger, cfg.LogLevel, *verbose)

	flags := features.NewFlagManager()
	if err := flags.LoadFromConfig(cfg.Features); err != nil {
		return fmt.Errorf("invalid feature flags: %w", err)
	}
	if ignored := flags.LoadFromEnvironment(); len(ignored) > 0 {
		logger.WithField("variables", ignored).Warn("Ignoring unrecognized feature flag overrides")
	}

	watcher := config.NewConfigWatcher(*configPath, logger)
	if !*verbose {
		watcher.OnConfigChange(config.LogLevelUpdater(logger))
	}
	go func() {
		if err := watcher.Start(ctx); err != nil {
			logger.WithError(err).Warn("Configuration watcher stopped")
		}
	}()

	tracingManager := tracing.NewTracingManager(tracingConfig(cfg.Tracing), logger)
	if err := tracingManager.Initialize(ctx); err != nil {
		logger.Warnf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		if err := tracingManager.Shutdown(context.Background()); err != nil {
			logger.Warnf("Failed to shutdown tracing: %v", err)
		}
	}()

	store, err := openTokenStore(ctx, cfg, flags.IsEnabled(features.FlagLegacyImport), logger)
	if err != nil {
		return err
	}
	defer store.Close()

	msgLedger, err := openLedger(ctx, cfg, logger)
	if err != nil {
		return err
	}

	hub := notify.NewHub(constants.DefaultSubscriberBuffer, logger)
	defer hub.Close()

	processor := webhook.NewProcessor(msgLedger, hub, cfg.WhatsApp.QueueSize, logger)
	if err := processor.Start(ctx); err != nil {
		return fmt.Errorf("failed to start webhook processor: %w", err)
	}
	defer processor.Stop()

	clients := newPlatformClients(cfg, logger)
	refresher := refresh.New(store, clients.refreshGraph, clients.refreshLinkedIn, logger)
	staleAfter := time.Duration(cfg.Tokens.RefreshIntervalHours) * time.Hour

	credentials := service.NewCredentialService(store, clients.graph, clients.linkedin, refresher, staleAfter, logger)
	messages := service.NewMessageService(msgLedger, hub, hub, logger)

	scheduler := service.NewScheduler(
		staleAfter,
		time.Duration(cfg.Tokens.WakeIntervalMinutes)*time.Minute,
		store,
		func(ctx context.Context) error {
			summary, err := refresher.RefreshStale(ctx, staleAfter)
			if err != nil {
				return err
			}
			logger.WithFields(logrus.Fields{
				"total":     summary.Total,
				"refreshed": summary.Refreshed,
				"partial":   summary.Partial,
				"skipped":   summary.Skipped,
				"failed":    summary.Failed,
			}).Info("Scheduled token refresh completed")
			return nil
		},
		logger,
	)
	if flags.IsEnabled(features.FlagScheduledRefresh) {
		go scheduler.Start(ctx)
		defer scheduler.Stop()
	} else {
		logger.Info("Scheduled token refresh is disabled")
	}

	server := NewServer(cfg, ServerDeps{
		Messages:    messages,
		Credentials: credentials,
		Processor:   processor,
		Live:        notify.NewWebSocketHandler(hub, cfg.Server.AllowedOrigins, logger),
		Features:    flags,
	}, logger, *verbose)
	go server.cleanupLoop(ctx)

	serverErrCh := make(chan error, constants.ServerErrorChannelSize)
	go func() {
		if err := server.Start(); err != nil {
			serverErrCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case err := <-serverErrCh:
		logger.Error(err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(constants.DefaultGracefulShutdownSec)*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown server gracefully: %w", err)
	}

	logger.Info("Server shutdown completed")
	return nil
}

// applyLogLevel sets the configured level. -verbose forces debug.
func applyLogLevel(logger *logrus.Logger, level string, verbose bool) {
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
		logger.Info("Verbose logging enabled")
		return
	}
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		if level != "" {
			logger.Warnf("Invalid log level %q, defaulting to info", level)
		}
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)
}

func tracingConfig(cfg models.TracingConfig) models.TracingConfig {
	defaults := tracing.DefaultTracingConfig()
	if cfg.ServiceName == "" {
		cfg.ServiceName = defaults.ServiceName
	}
	if cfg.ServiceVersion == "" {
		cfg.ServiceVersion = Version
	}
	if cfg.Environment == "" {
		cfg.Environment = defaults.Environment
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = defaults.SampleRate
	}
	return cfg
}

// openTokenStore opens the configured backend with retries, then imports a
// legacy flat file once when configured
func openTokenStore(ctx context.Context, cfg *models.Config, legacyImport bool, logger *logrus.Logger) (*tokenstore.Store, error) {
	backoff := retry.NewBackoff(retry.BackoffConfig{
		InitialDelay: time.Duration(cfg.Retry.InitialBackoffMs) * time.Millisecond,
		MaxDelay:     time.Duration(cfg.Retry.MaxBackoffMs) * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  constants.DefaultDatabaseRetryAttempts,
		Jitter:       true,
	})

	var backend tokenstore.Backend
	err := backoff.Retry(ctx, func() error {
		var openErr error
		backend, openErr = tokenstore.BuildBackendFromDSN(cfg.Tokens.StoreDSN)
		if openErr != nil {
			logger.Warnf("Failed to open token store: %v", openErr)
		}
		return openErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open token store after retries: %w", err)
	}

	store := tokenstore.NewStore(backend, logger)
	if legacyImport && cfg.Tokens.LegacyImportPath != "" {
		n, err := tokenstore.MigrateLegacyFile(ctx, cfg.Tokens.LegacyImportPath, store, logger)
		if err != nil {
			logger.WithError(err).Warn("Legacy credential import failed")
		} else if n > 0 {
			logger.WithField("count", n).Info("Imported legacy credentials")
		}
	}
	return store, nil
}

func openLedger(ctx context.Context, cfg *models.Config, logger *logrus.Logger) (*ledger.Ledger, error) {
	snapshots, err := ledger.NewFileSnapshotStore(cfg.Ledger.Dir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger directory: %w", err)
	}
	l := ledger.New(snapshots, cfg.Ledger.MaxMessages, logger)
	if err := l.Load(ctx); err != nil {
		return nil, fmt.Errorf("failed to load ledger: %w", err)
	}
	return l, nil
}

// platformClients holds the configured clients behind the interfaces each
// consumer expects. An unconfigured platform stays a nil interface.
type platformClients struct {
	graph           service.GraphAPI
	linkedin        service.LinkedInAPI
	refreshGraph    refresh.GraphAPI
	refreshLinkedIn refresh.LinkedInAPI
}

func newPlatformClients(cfg *models.Config, logger *logrus.Logger) platformClients {
	var clients platformClients
	retryCfg := retry.DefaultBackoffConfig()
	if cfg.Retry.MaxAttempts > 0 {
		retryCfg.MaxAttempts = cfg.Retry.MaxAttempts
	}
	if cfg.Retry.InitialBackoffMs > 0 {
		retryCfg.InitialDelay = time.Duration(cfg.Retry.InitialBackoffMs) * time.Millisecond
	}
	if cfg.Retry.MaxBackoffMs > 0 {
		retryCfg.MaxDelay = time.Duration(cfg.Retry.MaxBackoffMs) * time.Millisecond
	}

	if cfg.Meta.AppID != "" && cfg.Meta.AppSecret != "" {
		graph := platform.NewGraphClient(platform.GraphConfig{
			AppID:      cfg.Meta.AppID,
			AppSecret:  cfg.Meta.AppSecret,
			BaseURL:    cfg.Meta.BaseURL,
			APIVersion: cfg.Meta.APIVersion,
			Options: platform.ClientOptions{
				Timeout:    time.Duration(cfg.Meta.TimeoutSec) * time.Second,
				RatePerSec: cfg.Meta.RatePerSec,
				Burst:      cfg.Meta.Burst,
				Retry:      retryCfg,
			},
		}, nil, logger)
		clients.graph = graph
		clients.refreshGraph = graph
	} else {
		logger.Info("Meta app credentials not set, Facebook and Instagram are disabled")
	}

	if cfg.LinkedIn.ClientID != "" && cfg.LinkedIn.ClientSecret != "" {
		li := platform.NewLinkedInClient(platform.LinkedInConfig{
			ClientID:     cfg.LinkedIn.ClientID,
			ClientSecret: cfg.LinkedIn.ClientSecret,
			OAuthURL:     cfg.LinkedIn.OAuthURL,
			APIBaseURL:   cfg.LinkedIn.APIBaseURL,
			Options: platform.ClientOptions{
				Timeout:    time.Duration(cfg.LinkedIn.TimeoutSec) * time.Second,
				RatePerSec: cfg.LinkedIn.RatePerSec,
				Burst:      cfg.LinkedIn.Burst,
				Retry:      retryCfg,
			},
		}, nil, logger)
		clients.linkedin = li
		clients.refreshLinkedIn = li
	} else {
		logger.Info("LinkedIn client credentials not set, LinkedIn is disabled")
	}
	return clients
}
