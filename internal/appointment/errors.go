package appointment

import (
	"errors"
	"fmt"
)

var (
	ErrPatientNotFound     = errors.New("patient not found")
	ErrDoctorNotFound      = errors.New("doctor not found")
	ErrAppointmentNotFound = errors.New("appointment not found")

	// ErrSlotTaken is the booking conflict outcome: the doctor already has a
	// live appointment at that instant.
	ErrSlotTaken  = errors.New("slot already taken")
	ErrSlotInPast = errors.New("slot is in the past")

	ErrBlocked       = errors.New("status change blocked")
	ErrNotPermitted  = errors.New("not permitted to change this appointment")
	ErrInvalidStatus = errors.New("status is required")

	// ErrSerializationFailure is returned by stores when the database aborted
	// the transaction and it may be retried from the start.
	ErrSerializationFailure = errors.New("serialization failure")

	// ErrStatusChanged means a conditional update matched no row.
	ErrStatusChanged = errors.New("appointment status changed concurrently")
)

// BlockedError is a refused status change. The same actor retrying the same
// change will be refused again.
type BlockedError struct {
	Reason string
}

func (e *BlockedError) Error() string {
	return "status change blocked: " + e.Reason
}

func (e *BlockedError) Is(target error) bool {
	return target == ErrBlocked
}

// TransientError wraps storage or lock failures. Nothing was committed; the
// caller may try again later.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: temporarily unavailable: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

func transient(op string, err error) error {
	if IsTransient(err) {
		return err
	}
	return &TransientError{Op: op, Err: err}
}
