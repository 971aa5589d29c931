package main

import (
	"context"
	"crypto/tls"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/vittaclinic/agenda-platform/cmd/mainconfig"
	"github.com/vittaclinic/agenda-platform/internal/appointments"
	appconfig "github.com/vittaclinic/agenda-platform/internal/config"
	"github.com/vittaclinic/agenda-platform/internal/leadsync"
	"github.com/vittaclinic/agenda-platform/internal/notifications"
	"github.com/vittaclinic/agenda-platform/internal/observability/metrics"
	"github.com/vittaclinic/agenda-platform/internal/reminders"
	"github.com/vittaclinic/agenda-platform/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.DatabaseURL == "" {
		logger.Error("reminder worker requires DATABASE_URL")
		os.Exit(1)
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	leadsDB, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to open leads db", "error", err)
		os.Exit(1)
	}
	defer func() { _ = leadsDB.Close() }()

	redisOptions := &redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	redisClient := redis.NewClient(redisOptions)
	defer func() { _ = redisClient.Close() }()

	registry := prometheus.NewRegistry()
	agendaMetrics := metrics.NewAgendaMetrics(registry)

	notificationStore := notifications.NewStore(pool)
	enqueuer := notifications.NewEnqueuer(notificationStore, logger)
	leadSync := leadsync.NewPostgres(leadsDB, logger)

	appointmentStore := appointments.NewStore(pool)
	service := appointments.NewService(appointmentStore, enqueuer, leadSync, nil, agendaMetrics, logger)

	lock := reminders.NewTickLock(redisClient, cfg.ReminderScanTimeout)
	scanner := reminders.NewScanner(appointmentStore, service, lock, nil, agendaMetrics, logger).
		WithWindows(cfg.ReminderDayWindow, cfg.ReminderSoonWindow).
		WithTimeout(cfg.ReminderScanTimeout)

	schedule := cron.New()
	if _, err := schedule.AddFunc(cfg.ReminderScanSchedule, func() {
		scanner.RunOnce(ctx)
	}); err != nil {
		logger.Error("invalid reminder scan schedule", "error", err, "schedule", cfg.ReminderScanSchedule)
		os.Exit(1)
	}
	schedule.Start()
	logger.Info("reminder scanner scheduled", "schedule", cfg.ReminderScanSchedule)

	// Outbox dispatcher hands pending notifications to the delivery queue.
	if cfg.NotificationQueueURL != "" {
		awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
		if err != nil {
			logger.Error("failed to load AWS config", "error", err)
			os.Exit(1)
		}
		publisher := notifications.NewSQSPublisher(awssqs.NewFromConfig(awsCfg), cfg.NotificationQueueURL)
		dispatcher := notifications.NewDispatcher(notificationStore, publisher, logger).
			WithBatchSize(cfg.DispatchBatchSize).
			WithInterval(cfg.DispatchInterval)
		go dispatcher.Start(ctx)
		logger.Info("notification dispatcher started", "queue", cfg.NotificationQueueURL)
	} else {
		logger.Warn("NOTIFICATION_QUEUE_URL not set; notifications stay pending")
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("reminder worker shutting down")

	cancel()
	stopCtx := schedule.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(5 * time.Second):
	}
}
