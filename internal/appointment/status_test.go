package appointment

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/hospital-booking/internal/identity"
	"github.com/hackgods/hospital-booking/internal/realtime"
)

var (
	asPatient = identity.Principal{ID: patientID, Role: identity.RolePatient}
	asDoctor  = identity.Principal{ID: doctorUserID, Role: identity.RoleDoctor}
	asAdmin   = identity.Principal{ID: 500, Role: identity.RoleAdmin}
)

func TestTransitionTable(t *testing.T) {
	tests := []struct {
		from, to Status
		ok       bool
		effects  Effect
	}{
		{StatusPending, StatusConfirmed, true, EffectNotify | EffectConfirmationMail},
		{StatusPending, StatusCancelled, true, EffectNotify | EffectStatusMail | EffectPaymentGuard},
		{StatusConfirmed, StatusCancelled, true, EffectNotify | EffectStatusMail | EffectPaymentGuard},
		{StatusConfirmed, StatusCompleted, true, EffectNotify | EffectStatusMail},
		{StatusConfirmed, StatusNoShow, true, EffectNotify | EffectStatusMail},
		{StatusConfirmed, Status("Referred to specialist"), true, EffectNotify | EffectStatusMail},

		{StatusPending, StatusPending, false, 0},
		{StatusConfirmed, StatusConfirmed, false, 0},
		{StatusPending, StatusCompleted, false, 0},
		{StatusCancelled, StatusConfirmed, false, 0},
		{StatusCancelled, StatusPending, false, 0},
		{StatusCancelled, StatusCancelled, false, 0},
		{StatusCompleted, StatusCancelled, false, 0},
		{StatusCompleted, StatusConfirmed, false, 0},
		{StatusConfirmed, StatusPending, false, 0},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			e, ok := Transition(tt.from, tt.to)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.effects, e)
		})
	}
}

func TestParseStatus(t *testing.T) {
	tests := map[string]Status{
		"Confirmed":   StatusConfirmed,
		" cancelled ": StatusCancelled,
		"canceled":    StatusCancelled,
		"Đã hủy":      StatusCancelled,
		"no-show":     StatusNoShow,
		"Transferred": Status("Transferred"),
	}
	for raw, want := range tests {
		got, err := ParseStatus(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}

	_, err := ParseStatus("   ")
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestDoctorCancelNotifiesPatient(t *testing.T) {
	f := newFixture()
	id := f.store.seed(Appointment{PatientID: patientID, DoctorID: doctorID, ScheduledAt: slot, Status: StatusConfirmed})

	appt, err := f.svc.Cancel(context.Background(), id, asDoctor)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, appt.Status)
	assert.Equal(t, StatusCancelled, f.store.appointment(id).Status)

	notes := f.store.notificationsFor(patientID)
	require.Len(t, notes, 1)
	assert.False(t, notes[0].IsRead)
	require.NotNil(t, notes[0].AppointmentID)
	assert.Equal(t, id, *notes[0].AppointmentID)

	group := identity.UserGroup(patientID)
	changes := f.publisher.to(group, realtime.EventStatusChange)
	require.Len(t, changes, 1)
	sc := changes[0].payload.(realtime.StatusChange)
	assert.Equal(t, "Cancelled", sc.Status)
	assert.Len(t, f.publisher.to(group, realtime.EventNotification), 1)
	assert.Empty(t, f.publisher.to(identity.UserGroup(doctorUserID), realtime.EventStatusChange))

	require.Len(t, f.mailer.sent, 1)
	assert.Equal(t, []string{"a@example.com"}, f.mailer.sent[0].To)
	assert.Contains(t, f.store.eventTypes(), EventAppointmentStatusChanged)
}

func TestPatientCancelNotifiesDoctor(t *testing.T) {
	f := newFixture()
	id := f.store.seed(Appointment{PatientID: patientID, DoctorID: doctorID, ScheduledAt: slot, Status: StatusPending})

	_, err := f.svc.SetStatus(context.Background(), id, "Đã hủy", asPatient)
	require.NoError(t, err)

	assert.Len(t, f.store.notificationsFor(doctorUserID), 1)
	assert.Empty(t, f.store.notificationsFor(patientID))
	assert.Len(t, f.publisher.to(identity.UserGroup(doctorUserID), realtime.EventStatusChange), 1)
	require.Len(t, f.mailer.sent, 1)
	assert.Equal(t, []string{"minh@example.com"}, f.mailer.sent[0].To)
}

func TestPaidCancellationIsBlockedForEveryone(t *testing.T) {
	f := newFixture()
	id := f.store.seed(Appointment{PatientID: patientID, DoctorID: doctorID, ScheduledAt: slot, Status: StatusConfirmed})
	f.store.state.paid[id] = true

	for _, actor := range []identity.Principal{asPatient, asDoctor, asAdmin} {
		_, err := f.svc.Cancel(context.Background(), id, actor)
		assert.ErrorIs(t, err, ErrBlocked, actor.Role.String())
	}

	assert.Equal(t, StatusConfirmed, f.store.appointment(id).Status)

	notes := f.store.notificationsFor(doctorUserID)
	assert.Len(t, notes, 3, "the doctor hears about every refused attempt")
	assert.Empty(t, f.store.notificationsFor(patientID))
	assert.Len(t, f.publisher.to(identity.UserGroup(doctorUserID), realtime.EventNotification), 3)
	assert.Empty(t, f.publisher.to(identity.UserGroup(patientID), realtime.EventStatusChange))
	assert.Empty(t, f.mailer.sent)

	// Closing the visit is still possible.
	_, err := f.svc.SetStatus(context.Background(), id, "Completed", asDoctor)
	assert.NoError(t, err)
}

func TestIllegalTransitionsAreBlocked(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	cancelled := f.store.seed(Appointment{PatientID: patientID, DoctorID: doctorID, ScheduledAt: slot, Status: StatusCancelled})
	pending := f.store.seed(Appointment{PatientID: patientID, DoctorID: doctorID, ScheduledAt: slot.Add(30 * time.Minute), Status: StatusPending})

	_, err := f.svc.SetStatus(ctx, cancelled, "Confirmed", asDoctor)
	assert.ErrorIs(t, err, ErrBlocked)

	_, err = f.svc.SetStatus(ctx, pending, "Pending", asDoctor)
	assert.ErrorIs(t, err, ErrBlocked)

	_, err = f.svc.SetStatus(ctx, pending, "Completed", asDoctor)
	assert.ErrorIs(t, err, ErrBlocked)

	assert.Equal(t, StatusCancelled, f.store.appointment(cancelled).Status)
	assert.Equal(t, StatusPending, f.store.appointment(pending).Status)
	assert.Empty(t, f.publisher.sent)
	assert.Empty(t, f.store.eventTypes())
}

func TestSetStatusPermissions(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	id := f.store.seed(Appointment{PatientID: patientID, DoctorID: doctorID, ScheduledAt: slot, Status: StatusPending})

	_, err := f.svc.SetStatus(ctx, id, "Confirmed", asPatient)
	assert.ErrorIs(t, err, ErrNotPermitted, "patients may only cancel")

	_, err = f.svc.Cancel(ctx, id, identity.Principal{ID: otherPatient, Role: identity.RolePatient})
	assert.ErrorIs(t, err, ErrNotPermitted)

	_, err = f.svc.SetStatus(ctx, id, "Confirmed", identity.Principal{ID: 101, Role: identity.RoleDoctor})
	assert.ErrorIs(t, err, ErrNotPermitted, "another doctor's appointment")

	_, err = f.svc.SetStatus(ctx, id, "Confirmed", identity.Principal{ID: 600, Role: identity.RoleSupport})
	assert.ErrorIs(t, err, ErrNotPermitted)

	_, err = f.svc.SetStatus(ctx, 999, "Confirmed", asAdmin)
	assert.ErrorIs(t, err, ErrAppointmentNotFound)

	_, err = f.svc.SetStatus(ctx, id, "", asAdmin)
	assert.ErrorIs(t, err, ErrInvalidStatus)

	assert.Equal(t, StatusPending, f.store.appointment(id).Status)
}

func TestConfirmSendsQRCode(t *testing.T) {
	f := newFixture()
	id := f.store.seed(Appointment{PatientID: patientID, DoctorID: doctorID, ScheduledAt: slot, Status: StatusPending})

	_, err := f.svc.SetStatus(context.Background(), id, "Confirmed", asDoctor)
	require.NoError(t, err)

	require.Len(t, f.mailer.sent, 1)
	msg := f.mailer.sent[0]
	assert.Equal(t, []string{"a@example.com"}, msg.To)
	require.Len(t, msg.Inline, 1)
	assert.Equal(t, "appointment-qr.png", msg.Inline[0].Name)
	assert.Equal(t, []byte("png"), msg.Inline[0].Data)
	assert.Contains(t, msg.HTMLBody, "cid:appointment-qr.png")

	notes := f.store.notificationsFor(patientID)
	require.Len(t, notes, 1)
	assert.Equal(t, "Appointment confirmed", notes[0].Title)
}
