package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/p-blackswan/sweeper/internal/accounts"
	"github.com/p-blackswan/sweeper/internal/api"
	"github.com/p-blackswan/sweeper/internal/config"
	"github.com/p-blackswan/sweeper/internal/dispatch"
	"github.com/p-blackswan/sweeper/internal/fleet"
	"github.com/p-blackswan/sweeper/internal/health"
	"github.com/p-blackswan/sweeper/internal/metrics"
	"github.com/p-blackswan/sweeper/internal/models"
	"github.com/p-blackswan/sweeper/internal/names"
	"github.com/p-blackswan/sweeper/internal/notify"
	"github.com/p-blackswan/sweeper/internal/retention"
	"github.com/p-blackswan/sweeper/internal/retry"
	"github.com/p-blackswan/sweeper/internal/scheduler"
	"github.com/p-blackswan/sweeper/internal/store"
	"github.com/p-blackswan/sweeper/internal/timeline"
)

func main() {
	// Setup structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(os.Stdout).With().Timestamp().Caller().Logger()

	if os.Getenv("ENVIRONMENT") == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	log.Logger = logger

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err == nil {
		zerolog.SetGlobalLevel(level)
	}

	loc, err := cfg.Location()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid scheduler timezone")
	}

	logger.Info().
		Str("environment", cfg.Environment).
		Int("http_port", cfg.HTTPPort).
		Str("mgmt_addr", cfg.MgmtListenAddr).
		Int("deletion_cap", cfg.DeletionCap).
		Str("fleet_schedule", cfg.FleetSchedule).
		Bool("slack_enabled", cfg.SlackEnabled()).
		Bool("telegram_enabled", cfg.TelegramEnabled()).
		Bool("monitor_enabled", cfg.MonitorEnabled()).
		Msg("starting sweeper")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	db, err := store.New(cfg.DBPath, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.DBPath).Msg("failed to open store")
	}
	defer db.Close()

	m := metrics.New()

	rc := retry.DefaultConfig()
	rc.MaxAttempts = cfg.XRetryAttempts
	rc.OnRetry = func(attempt int, err error, delay time.Duration) {
		m.RecordError("timeline", "retry")
		logger.Debug().Err(err).Int("attempt", attempt).Dur("delay", delay).Msg("retrying X API call")
	}
	client := timeline.NewClient(timeline.Config{
		BaseURL:      cfg.XAPIBaseURL,
		ClientID:     cfg.XClientID,
		ClientSecret: cfg.XClientSecret,
		BearerToken:  cfg.XBearerToken,
		Retry:        rc,
		Tokens:       db,
	}, logger)

	resolver := names.NewResolver(client, db, cfg.NameCacheSize, cfg.NameCacheTTL, logger)
	sweeper := retention.NewSweeper(retention.Config{DeletionCap: cfg.DeletionCap}, logger)

	worker := fleet.NewWorker(db, client, sweeper, logger,
		fleet.WithNames(resolver),
		fleet.WithRecorder(db),
		fleet.WithMetrics(m),
	)

	engine := dispatch.NewEngine(dispatch.Config{
		Workers:   cfg.SweepWorkers,
		QueueSize: cfg.SweepQueueSize,
		Timeout:   cfg.SweepTimeout,
	}, worker, logger)
	m.RegisterQueue(engine.InFlight, engine.QueueDepth)
	engine.Start(ctx)

	notifier := buildNotifier(cfg, client, logger)
	coordinator := fleet.NewCoordinator(fleet.CoordinatorConfig{
		MaxAccounts:    cfg.FleetMaxAccounts,
		PublishTimeout: cfg.NotifyTimeout,
	}, db, engine, notifier, m, logger)

	accountSvc := accounts.NewService(db, client, logger)

	sched := scheduler.New(loc, 0, logger)
	if err := sched.AddJob("fleet_sweep", cfg.FleetSchedule, scheduler.FleetJob(coordinator)); err != nil {
		logger.Fatal().Err(err).Msg("failed to schedule fleet sweep")
	}
	if err := sched.AddJob("prune_history", cfg.PruneSchedule, scheduler.PruneJob(db, cfg.HistoryRetention, resolver, logger)); err != nil {
		logger.Fatal().Err(err).Msg("failed to schedule history pruning")
	}
	sched.Start(ctx)

	checker := health.NewChecker(logger)
	checker.Register("store", health.PingCheck(db.Ping))
	checker.Register("dispatch", health.FlagCheck(engine.Running))
	checker.Register("scheduler", health.FlagCheck(sched.Running))
	checker.Register("fleet", health.FreshnessCheck(func() (time.Time, bool) {
		sum, ok := coordinator.Latest()
		return sum.FinishedAt, ok
	}, cfg.FleetStaleAfter, nil))

	// Probe port
	mux := http.NewServeMux()
	mux.HandleFunc("/health", health.LivenessHandler())
	mux.HandleFunc("/ready", checker.ReadinessHandler())
	mux.Handle("/metrics", m.Handler())

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	mgmtServer := api.NewServer(api.ServerConfig{
		ListenAddr: cfg.MgmtListenAddr,
		AuthConfig: api.AuthConfig{
			Mode:      cfg.MgmtAuthMode,
			APIKey:    cfg.MgmtAPIKey,
			JWTSecret: []byte(cfg.MgmtJWTSecret),
		},
		RateLimit: api.RateLimitConfig{
			RPS:   cfg.MgmtRateLimitRPS,
			Burst: cfg.MgmtRateLimitBurst,
		},
		CORSOrigins: cfg.CORSOriginList(),
	}, api.Deps{
		Accounts: accountSvc,
		Runs:     db,
		Tasks:    engine,
		Fleet:    coordinator,
		Schedule: sched,
		Checker:  checker,
		Metrics:  m,
	}, logger)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info().Int("port", cfg.HTTPPort).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := mgmtServer.Start(); err != nil {
			logger.Error().Err(err).Msg("management API server error")
		}
	}()

	// Refresh account gauges until shutdown.
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			if _, active, err := db.CountAccounts(ctx); err == nil {
				m.SetActiveAccounts(active)
			}
			if size, err := db.DBSizeBytes(ctx); err == nil {
				m.SetDBSize(size)
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("shutting down gracefully")

	// Scheduler first so no new fleet run starts while the engine drains.
	sched.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	}

	if err := mgmtServer.Shutdown(); err != nil {
		logger.Error().Err(err).Msg("management API server shutdown error")
	}

	engine.Stop()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info().Msg("all goroutines stopped")
	case <-time.After(15 * time.Second):
		logger.Warn().Msg("forced shutdown after timeout")
	}

	logger.Info().Msg("sweeper stopped")
}

// buildNotifier fans status lines out to every configured channel. The log
// notifier is always present.
func buildNotifier(cfg *config.Config, client *timeline.Client, logger zerolog.Logger) notify.Notifier {
	multi := notify.Multi{notify.NewLog(logger)}

	if cfg.SlackEnabled() {
		multi = append(multi, notify.NewSlack(cfg.SlackBotToken, cfg.SlackChannel))
		logger.Info().Str("channel", cfg.SlackChannel).Msg("Slack notifier enabled")
	}

	if cfg.TelegramEnabled() {
		tg, err := notify.NewTelegram(cfg.TelegramBotToken, cfg.TelegramChatID)
		if err != nil {
			logger.Error().Err(err).Msg("failed to init Telegram notifier (non-fatal)")
		} else {
			multi = append(multi, tg)
			logger.Info().Int64("chat_id", cfg.TelegramChatID).Msg("Telegram notifier enabled")
		}
	}

	if cfg.MonitorEnabled() {
		multi = append(multi, notify.NewXStatus(client, &models.Credentials{
			AccessToken:  cfg.MonitorAccessToken,
			RefreshToken: cfg.MonitorRefreshToken,
		}))
		logger.Info().Msg("monitor account notifier enabled")
	}

	return multi
}
