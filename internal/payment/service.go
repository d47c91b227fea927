package payment

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/hospital-booking/internal/events"
	"github.com/hackgods/hospital-booking/internal/identity"
	"github.com/hackgods/hospital-booking/internal/realtime"
)

// cancelledStatus is the appointment status that refuses payment.
const cancelledStatus = "Cancelled"

type Service struct {
	store     Store
	publisher realtime.Publisher
	events    events.Publisher
	fee       int64
	log       zerolog.Logger
}

func NewService(store Store, publisher realtime.Publisher, ev events.Publisher, fee int64, log zerolog.Logger) *Service {
	if ev == nil {
		ev = events.Nop{}
	}
	return &Service{
		store:     store,
		publisher: publisher,
		events:    ev,
		fee:       fee,
		log:       log.With().Str("component", "payment").Logger(),
	}
}

// PayAppointment debits the patient's wallet for the appointment fee and
// records a settled payment, all in one transaction.
func (s *Service) PayAppointment(ctx context.Context, patientID, appointmentID int64) (*Receipt, error) {
	var receipt Receipt

	err := s.store.InTx(ctx, func(tx Tx) error {
		appt, err := tx.LockAppointment(ctx, appointmentID)
		if err != nil {
			return err
		}
		if appt.PatientID != patientID {
			return ErrNotOwner
		}
		if appt.Status == cancelledStatus {
			return ErrAppointmentClosed
		}
		paid, err := tx.HasSuccessfulAppointmentPayment(ctx, appointmentID)
		if err != nil {
			return err
		}
		if paid {
			return ErrAlreadyPaid
		}

		balance, err := tx.LockWallet(ctx, patientID)
		if err != nil {
			return err
		}
		if balance < s.fee {
			return ErrInsufficientFunds
		}
		if err := tx.SetBalance(ctx, patientID, balance-s.fee); err != nil {
			return err
		}

		id := appointmentID
		receipt.Transaction = Transaction{
			PatientID:     patientID,
			AppointmentID: &id,
			Amount:        s.fee,
			Kind:          KindAppointmentPayment,
			Status:        StatusSuccess,
			Reference:     "wallet-" + uuid.NewString(),
		}
		receipt.Balance = balance - s.fee
		return tx.InsertTransaction(ctx, &receipt.Transaction)
	})
	if err != nil {
		return nil, err
	}

	balance := receipt.Balance
	s.notify(ctx, receipt.Transaction, &balance, "Appointment paid from wallet")
	return &receipt, nil
}

// CreateDeposit opens a Processing wallet top-up whose reference is handed
// to the payment gateway.
func (s *Service) CreateDeposit(ctx context.Context, patientID, amount int64) (*Transaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	tr := Transaction{
		PatientID: patientID,
		Amount:    amount,
		Kind:      KindDeposit,
		Status:    StatusProcessing,
		Reference: uuid.NewString(),
	}
	if err := s.store.InTx(ctx, func(tx Tx) error {
		return tx.InsertTransaction(ctx, &tr)
	}); err != nil {
		return nil, err
	}
	return &tr, nil
}

// CompleteGatewayPayment settles a Processing transaction from the gateway
// callback. A settled transaction is never settled twice.
func (s *Service) CompleteGatewayPayment(ctx context.Context, reference string, ok bool) (*Transaction, error) {
	var (
		settled Transaction
		balance *int64
	)

	err := s.store.InTx(ctx, func(tx Tx) error {
		tr, err := tx.LockTransactionByReference(ctx, reference)
		if err != nil {
			return err
		}
		if tr.Status != StatusProcessing {
			return ErrAlreadySettled
		}

		next := StatusFailed
		if ok {
			next = StatusSuccess
		}
		if err := tx.UpdateTransactionStatus(ctx, tr.ID, next); err != nil {
			return err
		}
		tr.Status = next

		if ok && tr.Kind == KindDeposit {
			current, err := tx.LockWallet(ctx, tr.PatientID)
			if err != nil {
				return err
			}
			updated := current + tr.Amount
			if err := tx.SetBalance(ctx, tr.PatientID, updated); err != nil {
				return err
			}
			balance = &updated
		}
		settled = *tr
		return nil
	})
	if err != nil {
		return nil, err
	}

	msg := "Payment failed"
	if ok {
		msg = "Payment completed"
	}
	s.notify(ctx, settled, balance, msg)
	return &settled, nil
}

func (s *Service) notify(ctx context.Context, tr Transaction, balance *int64, msg string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
	defer cancel()

	update := realtime.PaymentUpdate{
		TransactionID: tr.ID,
		AppointmentID: tr.AppointmentID,
		Status:        string(tr.Status),
		Balance:       balance,
		Message:       msg,
	}
	if err := s.publisher.Publish(ctx, identity.UserGroup(tr.PatientID), realtime.EventPaymentUpdated, update); err != nil {
		s.log.Warn().Err(err).Int64("transaction_id", tr.ID).Msg("payment fan-out failed")
	}
	if tr.Status == StatusSuccess {
		if err := s.events.PublishJSON(ctx, events.PaymentCompleted, tr); err != nil {
			s.log.Warn().Err(err).Int64("transaction_id", tr.ID).Str("event", events.PaymentCompleted).Msg("integration event publish failed")
		}
	}
}
