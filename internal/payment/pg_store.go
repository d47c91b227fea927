package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/hospital-booking/internal/db"
)

// HasSuccessfulAppointmentPayment reports whether appointmentID has a settled
// payment. It runs on q so the appointment state machine can ask inside its
// own transaction.
func HasSuccessfulAppointmentPayment(ctx context.Context, q db.DBTX, appointmentID int64) (bool, error) {
	var paid bool
	err := q.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM payment_transactions
			WHERE appointment_id = $1 AND kind = $2 AND status = $3
		)
	`, appointmentID, string(KindAppointmentPayment), string(StatusSuccess)).Scan(&paid)
	if err != nil {
		return false, fmt.Errorf("check appointment payment: %w", err)
	}
	return paid, nil
}

type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

type Tx interface {
	LockAppointment(ctx context.Context, id int64) (AppointmentRef, error)
	HasSuccessfulAppointmentPayment(ctx context.Context, appointmentID int64) (bool, error)
	// LockWallet returns the balance, creating an empty wallet on first use.
	LockWallet(ctx context.Context, patientID int64) (int64, error)
	SetBalance(ctx context.Context, patientID, balance int64) error
	InsertTransaction(ctx context.Context, t *Transaction) error
	LockTransactionByReference(ctx context.Context, reference string) (*Transaction, error)
	UpdateTransactionStatus(ctx context.Context, id int64, status Status) error
}

type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

func (s *PgStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(&pgTx{tx: tx})
	})
}

type pgTx struct {
	tx pgx.Tx
}

// LockAppointment takes the same row lock as a status change, so a payment
// and a cancellation of one appointment never interleave.
func (t *pgTx) LockAppointment(ctx context.Context, id int64) (AppointmentRef, error) {
	var ref AppointmentRef
	err := t.tx.QueryRow(ctx, `
		SELECT id, patient_id, status FROM appointments WHERE id = $1 FOR UPDATE
	`, id).Scan(&ref.ID, &ref.PatientID, &ref.Status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return AppointmentRef{}, ErrAppointmentNotFound
		}
		return AppointmentRef{}, fmt.Errorf("lock appointment: %w", err)
	}
	return ref, nil
}

func (t *pgTx) HasSuccessfulAppointmentPayment(ctx context.Context, appointmentID int64) (bool, error) {
	return HasSuccessfulAppointmentPayment(ctx, t.tx, appointmentID)
}

func (t *pgTx) LockWallet(ctx context.Context, patientID int64) (int64, error) {
	if _, err := t.tx.Exec(ctx, `
		INSERT INTO wallets (patient_id, balance, updated_at) VALUES ($1, 0, now())
		ON CONFLICT (patient_id) DO NOTHING
	`, patientID); err != nil {
		return 0, fmt.Errorf("ensure wallet: %w", err)
	}

	var balance int64
	if err := t.tx.QueryRow(ctx, `
		SELECT balance FROM wallets WHERE patient_id = $1 FOR UPDATE
	`, patientID).Scan(&balance); err != nil {
		return 0, fmt.Errorf("lock wallet: %w", err)
	}
	return balance, nil
}

func (t *pgTx) SetBalance(ctx context.Context, patientID, balance int64) error {
	if _, err := t.tx.Exec(ctx, `
		UPDATE wallets SET balance = $2, updated_at = now() WHERE patient_id = $1
	`, patientID, balance); err != nil {
		return fmt.Errorf("update wallet: %w", err)
	}
	return nil
}

func (t *pgTx) InsertTransaction(ctx context.Context, tr *Transaction) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO payment_transactions (patient_id, appointment_id, amount, kind, status, reference, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		RETURNING id, created_at
	`, tr.PatientID, tr.AppointmentID, tr.Amount, string(tr.Kind), string(tr.Status), tr.Reference).
		Scan(&tr.ID, &tr.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert payment transaction: %w", err)
	}
	return nil
}

func (t *pgTx) LockTransactionByReference(ctx context.Context, reference string) (*Transaction, error) {
	var (
		tr           Transaction
		kind, status string
	)
	err := t.tx.QueryRow(ctx, `
		SELECT id, patient_id, appointment_id, amount, kind, status, reference, created_at
		FROM payment_transactions
		WHERE reference = $1
		FOR UPDATE
	`, reference).Scan(&tr.ID, &tr.PatientID, &tr.AppointmentID, &tr.Amount, &kind, &status, &tr.Reference, &tr.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("lock payment transaction: %w", err)
	}
	tr.Kind = Kind(kind)
	tr.Status = Status(status)
	return &tr, nil
}

func (t *pgTx) UpdateTransactionStatus(ctx context.Context, id int64, status Status) error {
	if _, err := t.tx.Exec(ctx, `
		UPDATE payment_transactions SET status = $2, updated_at = now() WHERE id = $1
	`, id, string(status)); err != nil {
		return fmt.Errorf("update payment transaction: %w", err)
	}
	return nil
}
