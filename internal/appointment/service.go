package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"github.com/hackgods/hospital-booking/internal/confirmation"
	"github.com/hackgods/hospital-booking/internal/events"
	"github.com/hackgods/hospital-booking/internal/identity"
	"github.com/hackgods/hospital-booking/internal/mail"
	"github.com/hackgods/hospital-booking/internal/metrics"
	"github.com/hackgods/hospital-booking/internal/realtime"
	redisclient "github.com/hackgods/hospital-booking/internal/redis"
)

const (
	EventAppointmentBooked        = "APPOINTMENT_BOOKED"
	EventAppointmentStatusChanged = "APPOINTMENT_STATUS_CHANGED"
	EventAppointmentCancelRefused = "APPOINTMENT_CANCEL_REFUSED"
	EventAppointmentReminded      = "APPOINTMENT_REMINDED"
)

// Mailer queues mail for background delivery.
type Mailer interface {
	Dispatch(m mail.Message)
}

type Deps struct {
	Store     Store
	Directory Directory
	Locker    redisclient.Locker
	Publisher realtime.Publisher
	Mailer    Mailer
	Events    events.Publisher
	QR        confirmation.Encoder
	Metrics   *metrics.Metrics
	Log       zerolog.Logger
}

type Options struct {
	// MaxRetries bounds how often a booking is retried after a
	// serialization failure.
	MaxRetries      int
	RetryBackoff    time.Duration
	ReminderHorizon time.Duration
	Location        *time.Location
	Now             func() time.Time
}

type Service struct {
	store     Store
	directory Directory
	locker    redisclient.Locker
	publisher realtime.Publisher
	mailer    Mailer
	events    events.Publisher
	qr        confirmation.Encoder
	metrics   *metrics.Metrics
	log       zerolog.Logger
	opts      Options
}

func NewService(deps Deps, opts Options) *Service {
	if deps.Locker == nil {
		deps.Locker = redisclient.NopLocker{}
	}
	if deps.Events == nil {
		deps.Events = events.Nop{}
	}
	if deps.QR == nil {
		deps.QR = confirmation.Encode
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 10 * time.Millisecond
	}
	if opts.ReminderHorizon <= 0 {
		opts.ReminderHorizon = 24 * time.Hour
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		store:     deps.Store,
		directory: deps.Directory,
		locker:    deps.Locker,
		publisher: deps.Publisher,
		mailer:    deps.Mailer,
		events:    deps.Events,
		qr:        deps.QR,
		metrics:   deps.Metrics,
		log:       deps.Log.With().Str("component", "appointment").Logger(),
		opts:      opts,
	}
}

// AttemptBook reserves the doctor's slot at req.At for the patient. Exactly
// one of any number of concurrent attempts for the same slot succeeds; the
// others get ErrSlotTaken. Storage and lock failures come back as
// *TransientError and never leave a partial booking behind.
func (s *Service) AttemptBook(ctx context.Context, req BookRequest) (*Appointment, error) {
	appt, err := s.attemptBook(ctx, req)
	s.metrics.BookingAttempt(bookingOutcome(err))
	return appt, err
}

func (s *Service) attemptBook(ctx context.Context, req BookRequest) (*Appointment, error) {
	if !req.At.After(s.opts.Now()) {
		return nil, ErrSlotInPast
	}

	patient, err := s.directory.GetPatient(ctx, req.PatientID)
	if err != nil {
		if errors.Is(err, ErrPatientNotFound) {
			return nil, err
		}
		return nil, transient("load patient", err)
	}
	doctor, err := s.directory.GetDoctor(ctx, req.DoctorID)
	if err != nil {
		if errors.Is(err, ErrDoctorNotFound) {
			return nil, err
		}
		return nil, transient("load doctor", err)
	}

	var created *Appointment
	err = s.locker.WithSlotLock(ctx, doctor.ID, req.At, func(lockCtx context.Context) error {
		appt, err := s.bookWithRetry(lockCtx, patient.ID, doctor.ID, req.At, req.Symptoms)
		created = appt
		return err
	})
	switch {
	case err == nil:
	case errors.Is(err, ErrSlotTaken):
		return nil, ErrSlotTaken
	case errors.Is(err, redisclient.ErrLockWaitTimeout):
		return nil, transient("wait for slot lock", err)
	default:
		return nil, transient("book appointment", err)
	}

	s.log.Info().
		Int64("appointment_id", created.ID).
		Int64("doctor_id", doctor.ID).
		Int64("patient_id", patient.ID).
		Time("scheduled_at", created.ScheduledAt).
		Msg("appointment booked")

	s.afterBooked(ctx, created, patient)
	return created, nil
}

func (s *Service) bookWithRetry(ctx context.Context, patientID, doctorID int64, at time.Time, symptoms string) (*Appointment, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.RetryBackoff
	b.MaxInterval = 20 * s.opts.RetryBackoff

	attempt := 0
	return backoff.Retry(ctx, func() (*Appointment, error) {
		if attempt > 0 {
			s.metrics.BookingRetry()
		}
		attempt++

		appt, err := s.bookOnce(ctx, patientID, doctorID, at, symptoms)
		if err == nil {
			return appt, nil
		}
		if errors.Is(err, ErrSerializationFailure) {
			return nil, err
		}
		return nil, backoff.Permanent(err)
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(s.opts.MaxRetries+1)))
}

// bookOnce is the serializable unit of work: the existence check, the insert
// and the audit row commit together or not at all.
func (s *Service) bookOnce(ctx context.Context, patientID, doctorID int64, at time.Time, symptoms string) (*Appointment, error) {
	var booked *Appointment
	err := s.store.InSerializableTx(ctx, func(tx Tx) error {
		taken, err := tx.SlotTaken(ctx, doctorID, at)
		if err != nil {
			return err
		}
		if taken {
			return ErrSlotTaken
		}

		appt := &Appointment{
			PatientID:   patientID,
			DoctorID:    doctorID,
			ScheduledAt: at,
			Symptoms:    symptoms,
			Status:      StatusPending,
		}
		if err := tx.InsertAppointment(ctx, appt); err != nil {
			return err
		}
		if err := tx.InsertEvent(ctx, s.newEvent(EventAppointmentBooked, appt.ID, map[string]any{
			"doctor_id":    doctorID,
			"patient_id":   patientID,
			"scheduled_at": at,
		})); err != nil {
			return err
		}
		booked = appt
		return nil
	})
	if err != nil {
		return nil, err
	}
	return booked, nil
}

func (s *Service) afterBooked(ctx context.Context, appt *Appointment, patient *Patient) {
	ctx, cancel := s.sideEffectContext(ctx)
	defer cancel()

	at := appt.ScheduledAt.In(s.opts.Location)
	s.publish(ctx, realtime.DoctorsGroup, realtime.EventNewBooking, realtime.NewBooking{
		AppointmentID: appt.ID,
		PatientName:   patient.Name,
		ScheduledAt:   appt.ScheduledAt,
		Message:       fmt.Sprintf("%s booked an appointment for %s", patient.Name, at.Format(displayLayout)),
	})
	s.emit(ctx, events.AppointmentBooked, appt)
}

// GetAppointment returns the appointment when actor may see it.
func (s *Service) GetAppointment(ctx context.Context, id int64, actor identity.Principal) (*Appointment, error) {
	appt, err := s.store.GetAppointment(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get appointment: %w", err)
	}

	switch actor.Role {
	case identity.RoleAdmin, identity.RoleSupport:
		return appt, nil
	case identity.RolePatient:
		if appt.PatientID == actor.ID {
			return appt, nil
		}
	case identity.RoleDoctor:
		doctor, err := s.directory.GetDoctor(ctx, appt.DoctorID)
		if err != nil {
			return nil, fmt.Errorf("load doctor: %w", err)
		}
		if doctor.UserID == actor.ID {
			return appt, nil
		}
	}
	// Hide existence from principals that may not see it.
	return nil, ErrAppointmentNotFound
}

// ListForPatient lists a patient's appointments, newest first.
func (s *Service) ListForPatient(ctx context.Context, patientID int64, limit, offset int) ([]Appointment, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	appts, err := s.store.ListByPatient(ctx, patientID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list appointments by patient: %w", err)
	}
	return appts, nil
}

// DoctorDay lists every appointment of a doctor on date, in time order.
func (s *Service) DoctorDay(ctx context.Context, doctorID int64, date time.Time) ([]Appointment, error) {
	y, m, d := date.In(s.opts.Location).Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, s.opts.Location)

	appts, err := s.store.ListByDoctor(ctx, doctorID, start, start.AddDate(0, 0, 1))
	if err != nil {
		return nil, fmt.Errorf("list appointments by doctor: %w", err)
	}
	return appts, nil
}

// DoctorForUser checks that userID is the account of doctorID.
func (s *Service) DoctorForUser(ctx context.Context, doctorID, userID int64) (bool, error) {
	doctor, err := s.directory.GetDoctor(ctx, doctorID)
	if err != nil {
		return false, err
	}
	return doctor.UserID == userID, nil
}

// Helpers

const displayLayout = "15:04 02/01/2006"

func (s *Service) sideEffectContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
}

func (s *Service) publish(ctx context.Context, group, event string, payload any) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, group, event, payload); err != nil {
		s.log.Warn().Err(err).Str("group", group).Str("event", event).Msg("realtime publish failed")
	}
}

func (s *Service) emit(ctx context.Context, key string, v any) {
	if err := s.events.PublishJSON(ctx, key, v); err != nil {
		s.log.Warn().Err(err).Str("event", key).Msg("integration event publish failed")
	}
}

func (s *Service) dispatchMail(m mail.Message) {
	if s.mailer == nil || len(m.To) == 0 || m.To[0] == "" {
		return
	}
	s.mailer.Dispatch(m)
}

func (s *Service) newEvent(eventType string, appointmentID int64, payload map[string]any) EventLog {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Warn().Err(err).Str("event", eventType).Msg("failed to marshal event payload")
		data = nil
	}
	id := appointmentID
	return EventLog{
		EventType:     eventType,
		AppointmentID: &id,
		Payload:       data,
		CreatedAt:     s.opts.Now(),
	}
}

func bookingOutcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeBooked
	case errors.Is(err, ErrSlotTaken):
		return metrics.OutcomeConflict
	case errors.Is(err, ErrPatientNotFound), errors.Is(err, ErrDoctorNotFound):
		return metrics.OutcomeNotFound
	case errors.Is(err, ErrSlotInPast):
		return metrics.OutcomeInvalid
	case IsTransient(err):
		return metrics.OutcomeTransient
	default:
		return metrics.OutcomeError
	}
}
