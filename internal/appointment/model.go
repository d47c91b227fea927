package appointment

import (
	"encoding/json"
	"strings"
	"time"
)

type Status string

const (
	StatusPending   Status = "Pending"
	StatusConfirmed Status = "Confirmed"
	StatusCancelled Status = "Cancelled"
	StatusCompleted Status = "Completed"
	StatusNoShow    Status = "NoShow"
)

// statusAliases covers the labels used by the web and mobile front ends.
var statusAliases = map[string]Status{
	"pending":      StatusPending,
	"chờ xác nhận": StatusPending,
	"confirmed":    StatusConfirmed,
	"đã xác nhận":  StatusConfirmed,
	"cancelled":    StatusCancelled,
	"canceled":     StatusCancelled,
	"đã hủy":       StatusCancelled,
	"completed":    StatusCompleted,
	"đã khám":      StatusCompleted,
	"noshow":       StatusNoShow,
	"no-show":      StatusNoShow,
	"vắng mặt":     StatusNoShow,
}

// ParseStatus normalizes a requested status. Unknown non-empty text is kept
// verbatim as a closing status.
func ParseStatus(raw string) (Status, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", ErrInvalidStatus
	}
	if s, ok := statusAliases[strings.ToLower(trimmed)]; ok {
		return s, nil
	}
	return Status(trimmed), nil
}

// Kind groups statuses for the transition table.
type Kind int

const (
	KindPending Kind = iota + 1
	KindConfirmed
	KindCancelled
	KindClosed // Completed, NoShow and free text statuses
)

func (s Status) Kind() Kind {
	switch s {
	case StatusPending:
		return KindPending
	case StatusConfirmed:
		return KindConfirmed
	case StatusCancelled:
		return KindCancelled
	default:
		return KindClosed
	}
}

type Appointment struct {
	ID          int64     `json:"id"`
	PatientID   int64     `json:"patientId"`
	DoctorID    int64     `json:"doctorId"`
	ScheduledAt time.Time `json:"scheduledAt"`
	Symptoms    string    `json:"symptoms"`
	Status      Status    `json:"status"`
	Notified    bool      `json:"notified"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type Patient struct {
	ID    int64
	Name  string
	Email string
}

// Doctor carries the user account id that doctors authenticate and receive
// notifications with.
type Doctor struct {
	ID     int64
	UserID int64
	Name   string
	Email  string
}

type BookRequest struct {
	PatientID int64
	DoctorID  int64
	At        time.Time
	Symptoms  string
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *int64
	Payload       json.RawMessage
	CreatedAt     time.Time
}
