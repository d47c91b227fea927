package appointment

import (
	"context"
	"fmt"

	"github.com/hackgods/hospital-booking/internal/events"
	"github.com/hackgods/hospital-booking/internal/mail"
	"github.com/hackgods/hospital-booking/internal/notification"
)

// SendReminders notifies patients of confirmed appointments starting within
// the reminder horizon. Each appointment is reminded at most once, even with
// several workers running. It returns how many reminders were sent.
func (s *Service) SendReminders(ctx context.Context) (int, error) {
	now := s.opts.Now()
	due, err := s.store.ListDueReminders(ctx, now, now.Add(s.opts.ReminderHorizon))
	if err != nil {
		return 0, fmt.Errorf("list due reminders: %w", err)
	}

	sent := 0
	for i := range due {
		appt := due[i]
		if ctx.Err() != nil {
			return sent, ctx.Err()
		}

		doctor, err := s.directory.GetDoctor(ctx, appt.DoctorID)
		if err != nil {
			s.log.Error().Err(err).Int64("appointment_id", appt.ID).Msg("reminder skipped, doctor lookup failed")
			continue
		}
		patient, err := s.directory.GetPatient(ctx, appt.PatientID)
		if err != nil {
			s.log.Error().Err(err).Int64("appointment_id", appt.ID).Msg("reminder skipped, patient lookup failed")
			continue
		}

		at := appt.ScheduledAt.In(s.opts.Location).Format(displayLayout)
		var note *notification.Notification
		err = s.store.InTx(ctx, func(tx Tx) error {
			claimed, err := tx.MarkNotified(ctx, appt.ID)
			if err != nil || !claimed {
				return err
			}
			note = &notification.Notification{
				UserID:        patient.ID,
				Title:         "Upcoming appointment reminder",
				Content:       fmt.Sprintf("Reminder: you have an appointment with Dr. %s at %s.", doctor.Name, at),
				AppointmentID: &appt.ID,
			}
			if err := tx.InsertNotification(ctx, note); err != nil {
				return err
			}
			return tx.InsertEvent(ctx, s.newEvent(EventAppointmentReminded, appt.ID, map[string]any{
				"scheduled_at": appt.ScheduledAt,
			}))
		})
		if err != nil {
			s.log.Error().Err(err).Int64("appointment_id", appt.ID).Msg("reminder failed")
			continue
		}
		if note == nil {
			continue
		}

		sideCtx, cancel := s.sideEffectContext(ctx)
		s.pushNotification(sideCtx, note)
		s.emit(sideCtx, events.AppointmentReminded, appt)
		cancel()

		s.dispatchMail(mail.Message{
			To:       []string{patient.Email},
			Subject:  "Appointment reminder",
			TextBody: note.Content,
		})
		sent++
	}
	return sent, nil
}
