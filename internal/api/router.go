package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-appointment-scheduling/internal/appointment"
	"github.com/hackgods/clinic-appointment-scheduling/internal/auth"
	"github.com/hackgods/clinic-appointment-scheduling/internal/config"
	"github.com/hackgods/clinic-appointment-scheduling/internal/metrics"
	"github.com/hackgods/clinic-appointment-scheduling/internal/notification"
)

type AppointmentService interface {
	CreateAppointment(ctx context.Context, in appointment.CreateInput) (*appointment.Appointment, error)
	UpdateAppointment(ctx context.Context, id int64, in appointment.UpdateInput) (*appointment.Appointment, error)
	CancelAppointment(ctx context.Context, id int64) (*appointment.Appointment, error)
	DeleteAppointment(ctx context.Context, id int64) (*appointment.Appointment, error)
	GetAppointment(ctx context.Context, id int64) (*appointment.Appointment, error)
	ListAppointments(ctx context.Context, f appointment.ListFilter) ([]appointment.Appointment, error)
	CheckAvailability(ctx context.Context, q appointment.AvailabilityQuery) (bool, error)
	Slots(ctx context.Context, q appointment.SlotQuery) ([]time.Time, error)
}

type NotificationService interface {
	ListForUser(ctx context.Context, userID string) ([]notification.Notification, error)
	ListForAppointment(ctx context.Context, appointmentID int64) ([]notification.Notification, error)
	MarkRead(ctx context.Context, id int64, recipientID string) (*notification.Notification, error)
}

type RouterConfig struct {
	Appointments  AppointmentService
	Notifications NotificationService
	Config        config.Config
	Logger        zerolog.Logger
	PgPool        *pgxpool.Pool // nil with memory storage
	Redis         *redis.Client // nil without redis
	Version       string
}

func NewRouter(cfg RouterConfig) http.Handler {
	loc := cfg.Config.ClinicLocation
	if loc == nil {
		loc = time.UTC
	}

	var verifier *auth.Verifier
	if cfg.Config.JWTSecret != "" {
		verifier = auth.NewVerifier(cfg.Config.JWTSecret)
	}

	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	// Health endpoints
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Config.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(RateLimitMiddleware(cfg.Config.RateLimitRPS, cfg.Config.RateLimitBurst))
		r.Use(auth.Middleware(verifier))

		// Appointment endpoints
		r.Post("/appointments", createAppointmentHandler(cfg.Appointments, loc))
		r.Get("/appointments", listAppointmentsHandler(cfg.Appointments, loc))
		r.Post("/appointments/check-availability", checkAvailabilityHandler(cfg.Appointments, loc))
		r.Get("/appointments/availability", availableSlotsHandler(cfg.Appointments, loc, cfg.Config.Availability))
		r.Get("/appointments/{id}", getAppointmentHandler(cfg.Appointments))
		r.Put("/appointments/{id}", updateAppointmentHandler(cfg.Appointments, loc))
		r.Patch("/appointments/{id}/cancel", cancelAppointmentHandler(cfg.Appointments))
		r.Delete("/appointments/{id}", deleteAppointmentHandler(cfg.Appointments))

		// Notification endpoints
		r.Get("/notifications", listNotificationsHandler(cfg.Notifications))
		r.Get("/notifications/by-appointment/{id}", appointmentNotificationsHandler(cfg.Notifications))
		r.Patch("/notifications/{id}", markNotificationReadHandler(cfg.Notifications))
	})

	return r
}
