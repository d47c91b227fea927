package realtime

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event names as seen by clients.
const (
	EventNewBooking        = "ReceiveNewBooking"
	EventStatusChange      = "ReceiveStatusChange"
	EventNotification      = "NewNotification"
	EventPaymentUpdated    = "PaymentUpdated"
	EventOnlineListChanged = "OnlineListChanged"
)

// DoctorsGroup reaches every connected doctor.
const DoctorsGroup = "Doctors"

// Envelope is the frame written to a websocket.
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type NewBooking struct {
	AppointmentID int64     `json:"appointmentId"`
	PatientName   string    `json:"patientName"`
	ScheduledAt   time.Time `json:"scheduledAt"`
	Message       string    `json:"message"`
}

type StatusChange struct {
	AppointmentID int64  `json:"appointmentId"`
	Status        string `json:"status"`
	Title         string `json:"title"`
	Message       string `json:"message"`
}

type NotificationPushed struct {
	ID            int64     `json:"id"`
	Title         string    `json:"title"`
	Content       string    `json:"content"`
	AppointmentID *int64    `json:"appointmentId,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

type PaymentUpdate struct {
	TransactionID int64  `json:"transactionId"`
	AppointmentID *int64 `json:"appointmentId,omitempty"`
	Status        string `json:"status"`
	Balance       *int64 `json:"balance,omitempty"`
	Message       string `json:"message"`
}

type OnlineList struct {
	SupportIDs []int64 `json:"supportIds"`
}

func encode(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(Envelope{Event: event, Data: payload})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", event, err)
	}
	return data, nil
}
