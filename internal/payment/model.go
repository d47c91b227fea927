package payment

import (
	"errors"
	"time"
)

type Kind string

const (
	KindAppointmentPayment Kind = "AppointmentPayment"
	KindDeposit            Kind = "Deposit"
	KindServiceFee         Kind = "ServiceFee"
	KindRefund             Kind = "Refund"
)

type Status string

const (
	StatusProcessing Status = "Processing"
	StatusSuccess    Status = "Success"
	StatusFailed     Status = "Failed"
)

var (
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrNotOwner            = errors.New("appointment belongs to another patient")
	ErrAppointmentClosed   = errors.New("appointment is cancelled")
	ErrAlreadyPaid         = errors.New("appointment already paid")
	ErrInsufficientFunds   = errors.New("insufficient wallet balance")
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrTransactionNotFound = errors.New("payment transaction not found")
	ErrAlreadySettled      = errors.New("payment transaction already settled")
)

// Amounts are in minor currency units.
type Transaction struct {
	ID            int64     `json:"id"`
	PatientID     int64     `json:"patientId"`
	AppointmentID *int64    `json:"appointmentId,omitempty"`
	Amount        int64     `json:"amount"`
	Kind          Kind      `json:"kind"`
	Status        Status    `json:"status"`
	Reference     string    `json:"reference"`
	CreatedAt     time.Time `json:"createdAt"`
}

// AppointmentRef is the slice of an appointment row a payment needs.
type AppointmentRef struct {
	ID        int64
	PatientID int64
	Status    string
}

type Receipt struct {
	Transaction Transaction `json:"transaction"`
	Balance     int64       `json:"balance"`
}
