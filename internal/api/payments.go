package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/hackgods/hospital-booking/internal/identity"
	"github.com/hackgods/hospital-booking/internal/payment"
)

func (h *handlers) pay(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	if p.Role != identity.RolePatient {
		writeError(w, http.StatusForbidden, "forbidden", "only patients can pay for appointments")
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	receipt, err := h.payments.PayAppointment(r.Context(), p.ID, id)
	if err != nil {
		h.paymentError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (h *handlers) createDeposit(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	if p.Role != identity.RolePatient {
		writeError(w, http.StatusForbidden, "forbidden", "only patients have a wallet")
		return
	}

	var req DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	tr, err := h.payments.CreateDeposit(r.Context(), p.ID, req.Amount)
	if err != nil {
		h.paymentError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tr)
}

func (h *handlers) paymentCallback(w http.ResponseWriter, r *http.Request) {
	var req PaymentCallbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}
	if strings.TrimSpace(req.Reference) == "" {
		writeError(w, http.StatusBadRequest, "invalid_reference", "reference is required")
		return
	}

	tr, err := h.payments.CompleteGatewayPayment(r.Context(), req.Reference, req.Success)
	if errors.Is(err, payment.ErrAlreadySettled) {
		// Gateways repeat callbacks until acknowledged.
		writeJSON(w, http.StatusOK, map[string]string{"status": "already_settled"})
		return
	}
	if err != nil {
		h.paymentError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tr)
}

func (h *handlers) paymentError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, payment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, payment.ErrTransactionNotFound):
		writeError(w, http.StatusNotFound, "transaction_not_found", err.Error())
	case errors.Is(err, payment.ErrNotOwner):
		writeError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, payment.ErrAlreadyPaid):
		writeError(w, http.StatusConflict, "already_paid", err.Error())
	case errors.Is(err, payment.ErrAppointmentClosed):
		writeError(w, http.StatusConflict, "appointment_closed", err.Error())
	case errors.Is(err, payment.ErrInsufficientFunds):
		writeError(w, http.StatusPaymentRequired, "insufficient_funds", err.Error())
	case errors.Is(err, payment.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, "invalid_amount", err.Error())
	default:
		h.internalError(w, r, err)
	}
}
