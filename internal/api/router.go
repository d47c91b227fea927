package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/hackgods/hospital-booking/internal/appointment"
	"github.com/hackgods/hospital-booking/internal/identity"
	"github.com/hackgods/hospital-booking/internal/notification"
	"github.com/hackgods/hospital-booking/internal/payment"
)

type AppointmentService interface {
	AttemptBook(ctx context.Context, req appointment.BookRequest) (*appointment.Appointment, error)
	SetStatus(ctx context.Context, id int64, status string, actor identity.Principal) (*appointment.Appointment, error)
	Cancel(ctx context.Context, id int64, actor identity.Principal) (*appointment.Appointment, error)
	GetAppointment(ctx context.Context, id int64, actor identity.Principal) (*appointment.Appointment, error)
	ListForPatient(ctx context.Context, patientID int64, limit, offset int) ([]appointment.Appointment, error)
	DoctorDay(ctx context.Context, doctorID int64, date time.Time) ([]appointment.Appointment, error)
	DoctorForUser(ctx context.Context, doctorID, userID int64) (bool, error)
}

type ScheduleService interface {
	AvailableDates(ctx context.Context, doctorID int64) ([]string, error)
	AvailableTimes(ctx context.Context, doctorID int64, date time.Time) ([]string, error)
	DisplayWindow(ctx context.Context, doctorID int64, date time.Time) (time.Duration, time.Duration, error)
	Location() *time.Location
}

type PaymentService interface {
	PayAppointment(ctx context.Context, patientID, appointmentID int64) (*payment.Receipt, error)
	CreateDeposit(ctx context.Context, patientID, amount int64) (*payment.Transaction, error)
	CompleteGatewayPayment(ctx context.Context, reference string, ok bool) (*payment.Transaction, error)
}

type NotificationService interface {
	List(ctx context.Context, userID int64, unreadOnly bool, page, perPage int) (notification.Page, error)
	MarkRead(ctx context.Context, id, userID int64) error
	MarkAllRead(ctx context.Context, userID int64) (int64, error)
}

// OnlineSupport reports the support staff currently connected.
type OnlineSupport interface {
	Snapshot() []int64
}

type RouterConfig struct {
	Appointments  AppointmentService
	Schedule      ScheduleService
	Payments      PaymentService
	Notifications NotificationService

	// Resolver authenticates the HTTP API. Only signed sessions belong here;
	// the query string identity of mobile clients is for Realtime alone.
	Resolver       identity.Resolver
	CallbackSecret string // empty leaves the gateway callback unmounted

	Presence OnlineSupport
	Realtime http.Handler
	Health   *HealthHandler
	Metrics  http.Handler
	Log      zerolog.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	h := &handlers{
		appointments:  cfg.Appointments,
		schedule:      cfg.Schedule,
		payments:      cfg.Payments,
		notifications: cfg.Notifications,
		presence:      cfg.Presence,
		log:           cfg.Log,
	}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Log))
	r.Use(RecoverMiddleware(cfg.Log))

	if cfg.Health != nil {
		r.Get("/health/live", cfg.Health.Liveness)
		r.Get("/health/ready", cfg.Health.Readiness)
	}
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics)
	}
	if cfg.Realtime != nil {
		r.Handle("/ws", cfg.Realtime)
	}

	r.Get("/doctors/{id}/available-dates", h.availableDates)
	r.Get("/doctors/{id}/available-times", h.availableTimes)
	r.Get("/support/online", h.onlineSupport)

	// The payment gateway calls back without a user identity.
	if cfg.CallbackSecret != "" {
		r.With(VerifyCallbackSignature(cfg.CallbackSecret)).Post("/payments/callback", h.paymentCallback)
	}

	r.Group(func(r chi.Router) {
		r.Use(RequireIdentity(cfg.Resolver))

		r.Get("/doctors/{id}/agenda", h.doctorAgenda)

		r.Post("/appointments", h.book)
		r.Get("/appointments", h.listAppointments)
		r.Get("/appointments/{id}", h.getAppointment)
		r.Post("/appointments/{id}/status", h.setStatus)
		r.Post("/appointments/{id}/cancel", h.cancel)
		r.Post("/appointments/{id}/pay", h.pay)

		r.Post("/wallet/deposits", h.createDeposit)

		r.Get("/notifications", h.listNotifications)
		r.Post("/notifications/read-all", h.markAllRead)
		r.Post("/notifications/{id}/read", h.markRead)
	})

	return r
}

type handlers struct {
	appointments  AppointmentService
	schedule      ScheduleService
	payments      PaymentService
	notifications NotificationService
	presence      OnlineSupport
	log           zerolog.Logger
}
