package appointment

import (
	"context"
	"time"

	"github.com/hackgods/hospital-booking/internal/notification"
)

// Store is the booking ledger.
type Store interface {
	GetAppointment(ctx context.Context, id int64) (*Appointment, error)
	ListByDoctor(ctx context.Context, doctorID int64, from, to time.Time) ([]Appointment, error)
	ListByPatient(ctx context.Context, patientID int64, limit, offset int) ([]Appointment, error)
	ListDueReminders(ctx context.Context, from, to time.Time) ([]Appointment, error)

	// InSerializableTx runs fn under serializable isolation. Serialization
	// aborts are reported as ErrSerializationFailure.
	InSerializableTx(ctx context.Context, fn func(tx Tx) error) error
	// InTx runs fn under the default isolation. Rows that must not change
	// underneath fn are locked with LockAppointment.
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is one unit of work on the ledger.
type Tx interface {
	SlotTaken(ctx context.Context, doctorID int64, at time.Time) (bool, error)
	// InsertAppointment fills ID and timestamps. It returns ErrSlotTaken when
	// the doctor slot uniqueness rule rejects the row.
	InsertAppointment(ctx context.Context, a *Appointment) error
	LockAppointment(ctx context.Context, id int64) (*Appointment, error)
	HasSuccessfulPayment(ctx context.Context, appointmentID int64) (bool, error)
	UpdateStatus(ctx context.Context, id int64, from, to Status) error
	MarkNotified(ctx context.Context, id int64) (bool, error)
	InsertNotification(ctx context.Context, n *notification.Notification) error
	InsertEvent(ctx context.Context, ev EventLog) error
}

// Directory resolves the people an appointment refers to.
type Directory interface {
	GetPatient(ctx context.Context, id int64) (*Patient, error)
	GetDoctor(ctx context.Context, id int64) (*Doctor, error)
}
