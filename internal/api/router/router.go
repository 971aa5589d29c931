package router

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/vittaclinic/agenda-platform/internal/appointments"
	httpmiddleware "github.com/vittaclinic/agenda-platform/internal/http/middleware"
	"github.com/vittaclinic/agenda-platform/internal/notifications"
	"github.com/vittaclinic/agenda-platform/internal/tenancy"
	"github.com/vittaclinic/agenda-platform/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger               *logging.Logger
	AppointmentsHandler  *appointments.Handler
	NotificationsHandler *notifications.Handler
	NotificationsStore   *notifications.Store
	MetricsHandler       http.Handler
	CORSAllowedOrigins   []string

	// Requests per second per IP; zero disables rate limiting.
	RateLimitPerSecond float64
	RateLimitBurst     int
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}
	if cfg.RateLimitPerSecond > 0 {
		r.Use(httpmiddleware.RateLimit(cfg.RateLimitPerSecond, cfg.RateLimitBurst))
	}

	// Public endpoints (health, metrics, delivery callbacks)
	r.Group(func(public chi.Router) {
		public.Get("/health", healthCheck)
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
		if cfg.NotificationsHandler != nil {
			public.Post("/notifications/{id}/status", cfg.NotificationsHandler.UpdateStatus)
		}
	})

	// Tenant-scoped API
	r.Group(func(api chi.Router) {
		api.Use(httpmiddleware.RequireTenant)
		if cfg.AppointmentsHandler != nil {
			if cfg.NotificationsStore != nil {
				cfg.AppointmentsHandler.WithNotificationsLog(listAppointmentNotifications(cfg))
			}
			api.Mount("/appointments", cfg.AppointmentsHandler.Routes())
		}
	})

	return r
}

func healthCheck(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func listAppointmentNotifications(cfg *Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, _ := tenancy.TenantIDFromContext(r.Context())
		id, err := parseUUIDParam(r, "id")
		if err != nil {
			http.Error(w, "invalid appointment id", http.StatusBadRequest)
			return
		}
		log, err := cfg.NotificationsStore.ListForAppointment(r.Context(), tenantID, id)
		if err != nil {
			if cfg.Logger != nil {
				cfg.Logger.Error("failed to list notifications", "error", err, "appointment_id", id)
			}
			http.Error(w, "failed to list notifications", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"data": log})
	}
}
