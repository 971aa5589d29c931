package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vittaclinic/agenda-platform/internal/api/router"
	"github.com/vittaclinic/agenda-platform/internal/appointments"
	appconfig "github.com/vittaclinic/agenda-platform/internal/config"
	"github.com/vittaclinic/agenda-platform/internal/leadsync"
	"github.com/vittaclinic/agenda-platform/internal/notifications"
	"github.com/vittaclinic/agenda-platform/internal/observability/metrics"
	"github.com/vittaclinic/agenda-platform/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting agenda-platform API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.DatabaseURL == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	// Separate database/sql handle for the CRM lead table.
	leadsDB, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to open leads db", "error", err)
		os.Exit(1)
	}
	defer func() { _ = leadsDB.Close() }()

	registry := prometheus.NewRegistry()
	agendaMetrics := metrics.NewAgendaMetrics(registry)

	notificationStore := notifications.NewStore(pool)
	enqueuer := notifications.NewEnqueuer(notificationStore, logger)
	leadSync := leadsync.NewPostgres(leadsDB, logger)

	appointmentStore := appointments.NewStore(pool)
	service := appointments.NewService(appointmentStore, enqueuer, leadSync, nil, agendaMetrics, logger)

	routerCfg := &router.Config{
		Logger:               logger,
		AppointmentsHandler:  appointments.NewHandler(service, logger),
		NotificationsHandler: notifications.NewHandler(notificationStore, logger),
		NotificationsStore:   notificationStore,
		MetricsHandler:       promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		CORSAllowedOrigins:   splitOrigins(cfg.CORSAllowedOrigins),
	}
	r := router.New(routerCfg)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

func splitOrigins(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			origins = append(origins, p)
		}
	}
	return origins
}
