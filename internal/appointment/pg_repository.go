package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/hospital-booking/internal/db"
	"github.com/hackgods/hospital-booking/internal/notification"
	"github.com/hackgods/hospital-booking/internal/payment"
)

// slotIndex enforces one live appointment per doctor and instant.
const slotIndex = "appointments_doctor_slot_active"

const appointmentColumns = `id, patient_id, doctor_id, scheduled_at, symptoms, status, notified, created_at, updated_at`

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var status string

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&a.ScheduledAt,
		&a.Symptoms,
		&status,
		&a.Notified,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.Status = Status(status)
	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Appointment, error) {
		a, err := scanAppointment(row)
		if err != nil {
			return Appointment{}, err
		}
		return *a, nil
	})
}

// Ledger reads

func (r *PgRepository) GetAppointment(ctx context.Context, id int64) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id)
	return scanAppointment(row)
}

func (r *PgRepository) ListByDoctor(ctx context.Context, doctorID int64, from, to time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1 AND scheduled_at >= $2 AND scheduled_at < $3
		ORDER BY scheduled_at
	`, doctorID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list doctor appointments: %w", err)
	}
	return collectAppointments(rows)
}

func (r *PgRepository) ListByPatient(ctx context.Context, patientID int64, limit, offset int) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1
		ORDER BY scheduled_at DESC
		LIMIT $2 OFFSET $3
	`, patientID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list patient appointments: %w", err)
	}
	return collectAppointments(rows)
}

func (r *PgRepository) ListDueReminders(ctx context.Context, from, to time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = $1 AND notified = false AND scheduled_at > $2 AND scheduled_at <= $3
		ORDER BY scheduled_at
		LIMIT 500
	`, string(StatusConfirmed), from, to)
	if err != nil {
		return nil, fmt.Errorf("list due reminders: %w", err)
	}
	return collectAppointments(rows)
}

// ActiveBookingTimes lets the slot calculator see live bookings.
func (r *PgRepository) ActiveBookingTimes(ctx context.Context, doctorID int64, from, to time.Time) ([]time.Time, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT scheduled_at
		FROM appointments
		WHERE doctor_id = $1 AND status <> $2 AND scheduled_at >= $3 AND scheduled_at < $4
	`, doctorID, string(StatusCancelled), from, to)
	if err != nil {
		return nil, fmt.Errorf("list booked times: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[time.Time])
}

// Directory

func (r *PgRepository) GetPatient(ctx context.Context, id int64) (*Patient, error) {
	var p Patient
	var email *string
	err := r.pool.QueryRow(ctx, `SELECT id, name, email FROM patients WHERE id = $1`, id).
		Scan(&p.ID, &p.Name, &email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, fmt.Errorf("load patient: %w", err)
	}
	if email != nil {
		p.Email = *email
	}
	return &p, nil
}

func (r *PgRepository) GetDoctor(ctx context.Context, id int64) (*Doctor, error) {
	var d Doctor
	var email *string
	err := r.pool.QueryRow(ctx, `SELECT id, user_id, name, email FROM doctors WHERE id = $1`, id).
		Scan(&d.ID, &d.UserID, &d.Name, &email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, fmt.Errorf("load doctor: %w", err)
	}
	if email != nil {
		d.Email = *email
	}
	return &d, nil
}

// Transactions

func (r *PgRepository) InSerializableTx(ctx context.Context, fn func(tx Tx) error) error {
	return r.inTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable}, fn)
}

func (r *PgRepository) InTx(ctx context.Context, fn func(tx Tx) error) error {
	return r.inTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, fn)
}

func (r *PgRepository) inTx(ctx context.Context, opts pgx.TxOptions, fn func(tx Tx) error) error {
	err := pgx.BeginTxFunc(ctx, r.pool, opts, func(tx pgx.Tx) error {
		return fn(&pgTx{tx: tx})
	})
	if err != nil && db.IsSerializationFailure(err) {
		return fmt.Errorf("%w: %v", ErrSerializationFailure, err)
	}
	return err
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) SlotTaken(ctx context.Context, doctorID int64, at time.Time) (bool, error) {
	var taken bool
	err := t.tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM appointments
			WHERE doctor_id = $1 AND scheduled_at = $2 AND status <> $3
		)
	`, doctorID, at, string(StatusCancelled)).Scan(&taken)
	if err != nil {
		return false, fmt.Errorf("check slot: %w", err)
	}
	return taken, nil
}

func (t *pgTx) InsertAppointment(ctx context.Context, a *Appointment) error {
	row := t.tx.QueryRow(ctx, `
		INSERT INTO appointments (patient_id, doctor_id, scheduled_at, symptoms, status, notified, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, false, now(), now())
		RETURNING `+appointmentColumns,
		a.PatientID, a.DoctorID, a.ScheduledAt, a.Symptoms, string(a.Status))

	inserted, err := scanAppointment(row)
	if err != nil {
		if db.IsUniqueViolation(err, slotIndex) {
			return ErrSlotTaken
		}
		return fmt.Errorf("insert appointment: %w", err)
	}
	*a = *inserted
	return nil
}

func (t *pgTx) LockAppointment(ctx context.Context, id int64) (*Appointment, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1 FOR UPDATE`, id)
	return scanAppointment(row)
}

func (t *pgTx) HasSuccessfulPayment(ctx context.Context, appointmentID int64) (bool, error) {
	return payment.HasSuccessfulAppointmentPayment(ctx, t.tx, appointmentID)
}

func (t *pgTx) UpdateStatus(ctx context.Context, id int64, from, to Status) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE appointments
		SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2
	`, id, string(from), string(to))
	if err != nil {
		if db.IsUniqueViolation(err, slotIndex) {
			// Reviving a cancelled row onto a slot somebody else now holds.
			return ErrSlotTaken
		}
		return fmt.Errorf("update appointment status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStatusChanged
	}
	return nil
}

func (t *pgTx) MarkNotified(ctx context.Context, id int64) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		UPDATE appointments
		SET notified = true, updated_at = now()
		WHERE id = $1 AND notified = false AND status = $2
	`, id, string(StatusConfirmed))
	if err != nil {
		return false, fmt.Errorf("mark appointment notified: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) InsertNotification(ctx context.Context, n *notification.Notification) error {
	return notification.Insert(ctx, t.tx, n)
}

func (t *pgTx) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, $4)
	`, ev.EventType, ev.AppointmentID, []byte(ev.Payload), ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}
	return nil
}
