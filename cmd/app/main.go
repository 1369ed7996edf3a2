package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/newtechdevloper/FitStack-sub000/internal/booking"
	"github.com/newtechdevloper/FitStack-sub000/internal/config"
	"github.com/newtechdevloper/FitStack-sub000/internal/db"
	"github.com/newtechdevloper/FitStack-sub000/internal/email"
	"github.com/newtechdevloper/FitStack-sub000/internal/lock"
	"github.com/newtechdevloper/FitStack-sub000/internal/logger"
	"github.com/newtechdevloper/FitStack-sub000/internal/outbox"
	"github.com/newtechdevloper/FitStack-sub000/internal/schedule"
	"github.com/newtechdevloper/FitStack-sub000/internal/server"
	"github.com/newtechdevloper/FitStack-sub000/internal/snapshot"
	"github.com/newtechdevloper/FitStack-sub000/internal/subscription"
	"github.com/newtechdevloper/FitStack-sub000/internal/tenancy"
	"github.com/newtechdevloper/FitStack-sub000/internal/tenant"
	"github.com/newtechdevloper/FitStack-sub000/internal/tracing"
	"github.com/newtechdevloper/FitStack-sub000/internal/usage"
	"github.com/newtechdevloper/FitStack-sub000/internal/user"
	"github.com/newtechdevloper/FitStack-sub000/internal/waitlist"
	"github.com/newtechdevloper/FitStack-sub000/internal/wallet"
	"github.com/newtechdevloper/FitStack-sub000/internal/webhook"
	"github.com/redis/go-redis/v9"
)

func main() {
	logger.Init()
	defer logger.Sync()
	logger.Info("Starting FitStack application")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := tracing.Init(ctx, cfg.OTLPEndpoint, "fitstack", cfg.Environment)
	if err != nil {
		logger.Fatalf("Failed to initialize tracing: %v", err)
	}

	logger.Info("Connecting to database...")
	database, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	if err := db.RunMigrations(database, "migrations"); err != nil {
		logger.Fatalf("Failed to run migrations: %v", err)
	}
	logger.Info("Migrations completed")

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Fatalf("Failed to connect to redis: %v", err)
	}

	gw := tenancy.NewGateway(database)

	lockOpts := lock.Options{TTL: cfg.LockTTL, Retries: cfg.LockRetries, RetryDelay: cfg.LockRetryDelay}
	if cfg.LockRetries <= 0 {
		lockOpts.Retries = lock.NoRetry
	}
	locks := lock.NewManager(lock.NewRedisStore(rdb), lockOpts)

	mailer := email.New(rdb, email.SMTPConfig{
		From:     cfg.EmailFrom,
		FromName: cfg.EmailFromName,
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		User:     cfg.SMTPUser,
		Pass:     cfg.SMTPPass,
	})
	go mailer.Start(ctx)

	users := user.NewRepository(gw)
	sessions := schedule.NewRepository(gw)
	notifier := booking.NewEmailNotifier(users, sessions, mailer)

	engine := waitlist.NewEngine(booking.NewWaitlistStore(gw), locks, notifier, waitlist.Config{
		PromotionCostCents: cfg.WaitlistPromotionCostCents,
		Lock:               lockOpts,
	})

	subscriptions := subscription.NewManager(gw, nil, cfg.ResumeGraceDays)

	var meter usage.Meter = usage.LogMeter{}
	if cfg.StripeAPIKey != "" {
		meter = usage.NewStripeMeter(cfg.StripeAPIKey)
	}

	publisher, err := newPublisher(cfg)
	if err != nil {
		logger.Fatalf("Failed to create outbox publisher: %v", err)
	}
	defer publisher.Close()
	dispatcher := outbox.NewDispatcher(gw, publisher)
	dispatcher.Handle(outbox.EventSpotFreed, booking.SpotFreedHandler(engine))
	go dispatcher.Run(ctx, cfg.OutboxInterval)

	srv := server.New(cfg, server.Services{
		DB:            database,
		Users:         user.NewService(users),
		Schedule:      schedule.NewService(sessions),
		Bookings:      booking.NewService(gw, sessions, locks, engine, notifier, lockOpts),
		Wallet:        wallet.NewService(gw),
		Subscriptions: subscriptions,
		Tenants:       tenant.NewRegistry(gw, tenant.NewDNSVerifier(net.DefaultResolver)),
		Webhooks: webhook.NewReconciler(gw,
			webhook.NewStripeProvider(cfg.StripeWebhookSecret),
			webhook.NewRazorpayProvider(cfg.RazorpayWebhookSecret),
		),
		Usage:     usage.NewTracker(gw, meter),
		Snapshots: snapshot.NewGenerator(gw),
		Resumer:   subscriptions,
		Outbox:    dispatcher,
	})

	serverErrChan := make(chan error, 1)
	go func() {
		logger.Infof("Server starting on port %s", cfg.Port)
		if err := srv.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrChan <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Infof("Received signal: %v", sig)
	case err := <-serverErrChan:
		logger.Errorf("Server error: %v", err)
	}

	logger.Info("Shutting down gracefully...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Error during server shutdown: %v", err)
	}
	cancel()
	notifier.Wait()

	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Errorf("Error flushing traces: %v", err)
	}

	logger.Info("Server stopped")
}

func newPublisher(cfg *config.Config) (outbox.Publisher, error) {
	if len(cfg.KafkaBrokers) == 0 {
		logger.Warn("KAFKA_BROKERS not set, outbox events will only be logged")
		return outbox.LogPublisher{}, nil
	}
	producer, err := outbox.NewSyncProducer(cfg.KafkaBrokers)
	if err != nil {
		return nil, err
	}
	return outbox.NewKafkaPublisher(producer, cfg.OutboxTopic), nil
}
