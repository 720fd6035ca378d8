package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/staffdesk/medbook/internal/auth"
	"github.com/staffdesk/medbook/internal/bot"
	"github.com/staffdesk/medbook/internal/conversation"
	"github.com/staffdesk/medbook/internal/guard"
	"github.com/staffdesk/medbook/internal/handler"
	"github.com/staffdesk/medbook/internal/infra"
	"github.com/staffdesk/medbook/internal/reminder"
	"github.com/staffdesk/medbook/internal/repository"
	"github.com/staffdesk/medbook/internal/service"
	"github.com/staffdesk/medbook/internal/telegram"
)

func main() {
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := run(logger, level); err != nil {
		logger.Error("bot failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger, level *slog.LevelVar) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := infra.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	level.Set(cfg.SlogLevel())
	loc := cfg.Location()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := infra.NewMetrics(reg)

	checks := map[string]handler.CheckFunc{}

	// Record store
	var (
		store service.Store
		pool  *pgxpool.Pool
	)
	switch cfg.StoreDriver {
	case infra.StoreDriverPostgres:
		if err := infra.RunMigrations(cfg.DSN(), logger); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		pool, err = infra.NewPostgresPool(ctx, cfg.DSN(), cfg.PoolOptions("medbook-bot"), logger)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pool.Close()
		store = service.NewRecordStore(pool,
			repository.NewPgStaffRepository(),
			repository.NewBlacklistRepository(),
			repository.NewOutboxRepository(),
			cfg.StoreTimeout,
			logger,
		)
		checks["postgres"] = func(ctx context.Context) error { return infra.PingPostgres(ctx, pool) }
	case infra.StoreDriverMemory:
		store = service.NewMemoryRecordStore()
		logger.Warn("using in-memory record store, data is lost on restart")
	}

	// Conversation sessions
	var sessions conversation.SessionStore
	switch cfg.SessionBackend {
	case infra.SessionBackendRedis:
		rdb, err := infra.NewRedisClient(ctx, cfg.RedisURL, logger)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer rdb.Close()
		sessions = conversation.NewRedisSessionStore(rdb, cfg.SessionTTL)
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	default:
		sessions = conversation.NewMemorySessionStore()
	}

	admins := auth.NewAdminSet(cfg.AdminIDs)
	if admins.Len() == 0 {
		logger.Warn("ADMIN_IDS is empty, admin features are unavailable")
	}

	machine := conversation.NewMachine(sessions, store, admins, logger,
		conversation.WithLocation(loc),
		conversation.WithReminderDays(cfg.ReminderDays),
	)

	// Telegram
	tg := telegram.NewClient(cfg.TelegramAPIURL, cfg.BotToken, cfg.PollTimeout+10*time.Second, logger)
	me, err := tg.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("verify bot token: %w", err)
	}
	logger.Info("telegram bot authorized", "username", me.Username)

	limiter := guard.NewRateLimiter(cfg.RateLimitPerMinute, time.Minute)
	dispatcher := bot.NewDispatcher(bot.Config{
		Machine:   machine,
		Records:   store,
		Messenger: tg,
		Admins:    admins,
		Dedup:     guard.NewIdempotencyGuard(4096),
		Limiter:   limiter,
		Metrics:   metrics,
		Logger:    logger,
	})
	poller := telegram.NewPoller(tg, dispatcher, cfg.Workers, cfg.PollTimeout, logger)

	// Reminders
	job := reminder.NewJob(reminder.JobConfig{
		Source:   store,
		Notifier: reminder.NewTelegramNotifier(tg),
		Windows:  cfg.ReminderDays,
		Admins:   admins.IDs(),
		Location: loc,
		Breaker:  guard.NewCircuitBreaker(3, 30*time.Minute),
		Metrics:  metrics,
		Events:   store,
		Logger:   logger,
	})
	scheduler := reminder.NewScheduler(loc, logger)
	err = scheduler.Register(reminder.JobID, reminder.DailySpec(cfg.ReminderHour, cfg.ReminderMinute), func(ctx context.Context) {
		if _, err := job.Run(ctx); err != nil {
			logger.Error("reminder run incomplete", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule reminders: %w", err)
	}

	// Ops HTTP
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.OpsPort),
		Handler:      handler.NewOpsRouter(checks, store, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return poller.Run(gctx) })
	g.Go(func() error { return scheduler.Run(gctx) })
	g.Go(func() error {
		logger.Info("ops server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("ops server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				limiter.Prune()
			}
		}
	})

	// Outbox relay runs in-process only when Kafka is on and events are in Postgres.
	if cfg.KafkaEnabled && pool != nil {
		producer := infra.NewKafkaProducer(cfg.KafkaBrokers, logger)
		defer producer.Close()
		relay := infra.NewOutboxPoller(pool, repository.NewOutboxRepository(), producer, cfg.OutboxPollInterval, metrics, logger).
			WithRetention(cfg.OutboxRetention)
		g.Go(func() error { return relay.Run(gctx) })
	}

	dispatcher.NotifyStartup(ctx)
	logger.Info("bot started",
		"store", cfg.StoreDriver,
		"sessions", cfg.SessionBackend,
		"reminder_at", fmt.Sprintf("%02d:%02d", cfg.ReminderHour, cfg.ReminderMinute),
		"timezone", cfg.Timezone,
		"reminder_days", cfg.ReminderDays,
	)

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("bot stopped")
	return nil
}
