package appointment

import (
	"context"
	"errors"
	"fmt"

	"github.com/hackgods/hospital-booking/internal/confirmation"
	"github.com/hackgods/hospital-booking/internal/events"
	"github.com/hackgods/hospital-booking/internal/identity"
	"github.com/hackgods/hospital-booking/internal/mail"
	"github.com/hackgods/hospital-booking/internal/metrics"
	"github.com/hackgods/hospital-booking/internal/notification"
	"github.com/hackgods/hospital-booking/internal/realtime"
)

const reasonAlreadyPaid = "appointment has already been paid and cannot be cancelled"

// party is whoever should hear about a change made by someone else.
type party struct {
	userID int64
	name   string
	email  string
}

// SetStatus moves an appointment to the requested status on behalf of actor.
// Refused changes return a *BlockedError; nothing about the appointment
// changes, though a refused cancellation of a paid appointment still leaves
// the doctor a notification.
func (s *Service) SetStatus(ctx context.Context, id int64, raw string, actor identity.Principal) (*Appointment, error) {
	target, err := ParseStatus(raw)
	if err != nil {
		s.metrics.StatusTransition("invalid", metrics.OutcomeInvalid)
		return nil, err
	}

	appt, err := s.setStatus(ctx, id, target, actor)
	s.metrics.StatusTransition(statusLabel(target), transitionOutcome(err))
	return appt, err
}

// Cancel is SetStatus with StatusCancelled.
func (s *Service) Cancel(ctx context.Context, id int64, actor identity.Principal) (*Appointment, error) {
	return s.SetStatus(ctx, id, string(StatusCancelled), actor)
}

func (s *Service) setStatus(ctx context.Context, id int64, target Status, actor identity.Principal) (*Appointment, error) {
	current, err := s.store.GetAppointment(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, transient("load appointment", err)
	}
	doctor, err := s.directory.GetDoctor(ctx, current.DoctorID)
	if err != nil {
		return nil, transient("load doctor", err)
	}
	patient, err := s.directory.GetPatient(ctx, current.PatientID)
	if err != nil {
		return nil, transient("load patient", err)
	}
	if err := authorize(actor, current, doctor, target); err != nil {
		return nil, err
	}

	recipient := counterparty(actor, patient, doctor)

	var (
		updated *Appointment
		effects Effect
		note    *notification.Notification
		refused *notification.Notification
		blocked *BlockedError
	)
	err = s.store.InTx(ctx, func(tx Tx) error {
		appt, err := tx.LockAppointment(ctx, id)
		if err != nil {
			return err
		}

		e, ok := Transition(appt.Status, target)
		if !ok {
			blocked = &BlockedError{Reason: fmt.Sprintf("cannot change status from %s to %s", appt.Status, target)}
			return nil
		}

		if e.Has(EffectPaymentGuard) {
			paid, err := tx.HasSuccessfulPayment(ctx, id)
			if err != nil {
				return err
			}
			if paid {
				blocked = &BlockedError{Reason: reasonAlreadyPaid}
				refused = &notification.Notification{
					UserID:        doctor.UserID,
					Title:         "Cancellation refused: appointment already paid",
					Content:       fmt.Sprintf("A request to cancel appointment #%d for %s was refused because it has already been paid.", appt.ID, patient.Name),
					AppointmentID: &appt.ID,
				}
				if err := tx.InsertNotification(ctx, refused); err != nil {
					return err
				}
				return tx.InsertEvent(ctx, s.newEvent(EventAppointmentCancelRefused, appt.ID, map[string]any{
					"actor_id":   actor.ID,
					"actor_role": actor.Role.String(),
				}))
			}
		}

		if err := tx.UpdateStatus(ctx, id, appt.Status, target); err != nil {
			return err
		}
		from := appt.Status
		appt.Status = target

		if e.Has(EffectNotify) {
			title, content := s.statusMessage(appt, doctor, patient, target)
			note = &notification.Notification{
				UserID:        recipient.userID,
				Title:         title,
				Content:       content,
				AppointmentID: &appt.ID,
			}
			if err := tx.InsertNotification(ctx, note); err != nil {
				return err
			}
		}

		if err := tx.InsertEvent(ctx, s.newEvent(EventAppointmentStatusChanged, appt.ID, map[string]any{
			"from":       string(from),
			"to":         string(target),
			"actor_id":   actor.ID,
			"actor_role": actor.Role.String(),
		})); err != nil {
			return err
		}

		updated, effects = appt, e
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrAppointmentNotFound):
			return nil, err
		case errors.Is(err, ErrStatusChanged), errors.Is(err, ErrSerializationFailure):
			return nil, transient("change status", err)
		case errors.Is(err, ErrSlotTaken):
			return nil, &BlockedError{Reason: "the slot has been taken by another booking"}
		default:
			return nil, transient("change status", err)
		}
	}

	if refused != nil {
		ctx, cancel := s.sideEffectContext(ctx)
		s.pushNotification(ctx, refused)
		s.emit(ctx, events.AppointmentCancelRefused, map[string]any{"appointmentId": id, "actorId": actor.ID})
		cancel()
		s.log.Info().Int64("appointment_id", id).Int64("actor_id", actor.ID).Msg("cancellation refused, appointment already paid")
	}
	if blocked != nil {
		return nil, blocked
	}

	s.log.Info().
		Int64("appointment_id", id).
		Str("status", string(target)).
		Int64("actor_id", actor.ID).
		Stringer("actor_role", actor.Role).
		Msg("appointment status changed")

	s.afterStatusChanged(ctx, updated, effects, note, recipient, patient, doctor)
	return updated, nil
}

func (s *Service) afterStatusChanged(ctx context.Context, appt *Appointment, effects Effect, note *notification.Notification, recipient party, patient *Patient, doctor *Doctor) {
	ctx, cancel := s.sideEffectContext(ctx)
	defer cancel()

	if note != nil {
		s.publish(ctx, identity.UserGroup(recipient.userID), realtime.EventStatusChange, realtime.StatusChange{
			AppointmentID: appt.ID,
			Status:        string(appt.Status),
			Title:         note.Title,
			Message:       note.Content,
		})
		s.pushNotification(ctx, note)
	}

	switch {
	case effects.Has(EffectConfirmationMail):
		s.sendConfirmationMail(appt, patient, doctor)
	case effects.Has(EffectStatusMail):
		title, content := s.statusMessage(appt, doctor, patient, appt.Status)
		s.dispatchMail(mail.Message{
			To:       []string{recipient.email},
			Subject:  title,
			TextBody: content,
		})
	}

	s.emit(ctx, events.AppointmentStatusChanged, appt)
}

func (s *Service) sendConfirmationMail(appt *Appointment, patient *Patient, doctor *Doctor) {
	at := appt.ScheduledAt.In(s.opts.Location)
	text := fmt.Sprintf("Your appointment with Dr. %s at %s is confirmed. Please show the attached QR code at reception.", doctor.Name, at.Format(displayLayout))

	msg := mail.Message{
		To:       []string{patient.Email},
		Subject:  "Appointment confirmed",
		TextBody: text,
	}

	png, err := s.qr(confirmation.Payload(appt.ID, patient.Name, doctor.Name, appt.ScheduledAt))
	if err != nil {
		s.log.Warn().Err(err).Int64("appointment_id", appt.ID).Msg("qr render failed, sending confirmation without it")
	} else {
		msg.HTMLBody = fmt.Sprintf(`<p>%s</p><p><img src="cid:appointment-qr.png" alt="Appointment QR code"></p>`, text)
		msg.Inline = []mail.Inline{{Name: "appointment-qr.png", Data: png}}
	}
	s.dispatchMail(msg)
}

func (s *Service) pushNotification(ctx context.Context, n *notification.Notification) {
	s.publish(ctx, identity.UserGroup(n.UserID), realtime.EventNotification, realtime.NotificationPushed{
		ID:            n.ID,
		Title:         n.Title,
		Content:       n.Content,
		AppointmentID: n.AppointmentID,
		CreatedAt:     n.CreatedAt,
	})
}

// authorize limits who may move which appointment where. Patients may only
// cancel their own bookings; doctors act on their own appointments.
func authorize(actor identity.Principal, appt *Appointment, doctor *Doctor, target Status) error {
	switch actor.Role {
	case identity.RoleAdmin:
		return nil
	case identity.RoleDoctor:
		if doctor.UserID == actor.ID {
			return nil
		}
	case identity.RolePatient:
		if appt.PatientID == actor.ID && target == StatusCancelled {
			return nil
		}
	}
	return ErrNotPermitted
}

func counterparty(actor identity.Principal, patient *Patient, doctor *Doctor) party {
	if actor.Role == identity.RolePatient {
		return party{userID: doctor.UserID, name: doctor.Name, email: doctor.Email}
	}
	return party{userID: patient.ID, name: patient.Name, email: patient.Email}
}

func (s *Service) statusMessage(appt *Appointment, doctor *Doctor, patient *Patient, target Status) (string, string) {
	at := appt.ScheduledAt.In(s.opts.Location).Format(displayLayout)
	switch target {
	case StatusConfirmed:
		return "Appointment confirmed",
			fmt.Sprintf("Your appointment with Dr. %s at %s has been confirmed.", doctor.Name, at)
	case StatusCancelled:
		return "Appointment cancelled",
			fmt.Sprintf("The appointment #%d between %s and Dr. %s at %s has been cancelled.", appt.ID, patient.Name, doctor.Name, at)
	default:
		return "Appointment updated",
			fmt.Sprintf("The appointment #%d at %s is now %s.", appt.ID, at, target)
	}
}

func statusLabel(s Status) string {
	if s.Kind() == KindClosed && s != StatusCompleted && s != StatusNoShow {
		return "other"
	}
	return string(s)
}

func transitionOutcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case errors.Is(err, ErrBlocked):
		return metrics.OutcomeBlocked
	case errors.Is(err, ErrNotPermitted):
		return metrics.OutcomeForbidden
	case errors.Is(err, ErrAppointmentNotFound):
		return metrics.OutcomeNotFound
	case IsTransient(err):
		return metrics.OutcomeTransient
	default:
		return metrics.OutcomeError
	}
}
