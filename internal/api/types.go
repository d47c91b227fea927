package api

import (
	"encoding/json"
	"net/http"

	"github.com/hackgods/hospital-booking/internal/appointment"
)

type BookRequest struct {
	DoctorID int64  `json:"doctorId"`
	Date     string `json:"date"`
	Time     string `json:"time"`
	Symptoms string `json:"symptoms"`
}

type BookResponse struct {
	Success     bool                     `json:"success"`
	Message     string                   `json:"message"`
	Appointment *appointment.Appointment `json:"appointment"`
}

type StatusRequest struct {
	Status string `json:"status"`
}

type TimesResponse struct {
	Times []string `json:"times"`
}

type AgendaResponse struct {
	Date         string                    `json:"date"`
	WorkStart    string                    `json:"workStart"`
	WorkEnd      string                    `json:"workEnd"`
	Appointments []appointment.Appointment `json:"appointments"`
}

type DepositRequest struct {
	Amount int64 `json:"amount"`
}

type PaymentCallbackRequest struct {
	Reference string `json:"reference"`
	Success   bool   `json:"success"`
}

type OnlineSupportResponse struct {
	SupportIDs []int64 `json:"supportIds"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: message})
}
