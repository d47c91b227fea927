package appointment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/hospital-booking/internal/identity"
	"github.com/hackgods/hospital-booking/internal/realtime"
	redisclient "github.com/hackgods/hospital-booking/internal/redis"
)

var slot = time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)

func TestAttemptBookCreatesPendingAppointment(t *testing.T) {
	f := newFixture()

	appt, err := f.svc.AttemptBook(context.Background(), BookRequest{
		PatientID: patientID,
		DoctorID:  doctorID,
		At:        slot,
		Symptoms:  "headache",
	})
	require.NoError(t, err)

	assert.NotZero(t, appt.ID)
	assert.Equal(t, StatusPending, appt.Status)
	assert.Equal(t, slot, appt.ScheduledAt)
	assert.Equal(t, []string{EventAppointmentBooked}, f.store.eventTypes())

	pushed := f.publisher.to(realtime.DoctorsGroup, realtime.EventNewBooking)
	require.Len(t, pushed, 1)
	nb := pushed[0].payload.(realtime.NewBooking)
	assert.Equal(t, appt.ID, nb.AppointmentID)
	assert.Equal(t, "Nguyen Van A", nb.PatientName)
	assert.Len(t, f.publisher.sent, 1, "booking is only announced to doctors")
}

func TestAttemptBookConcurrentSameSlot(t *testing.T) {
	f := newFixture()

	const attempts = 50
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		booked   int
		conflict int
		other    []error
	)
	start := make(chan struct{})
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, err := f.svc.AttemptBook(context.Background(), BookRequest{
				PatientID: patientID + int64(i%2),
				DoctorID:  doctorID,
				At:        slot,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				booked++
			case errors.Is(err, ErrSlotTaken):
				conflict++
			default:
				other = append(other, err)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Empty(t, other)
	assert.Equal(t, 1, booked)
	assert.Equal(t, attempts-1, conflict)
	assert.Len(t, f.publisher.to(realtime.DoctorsGroup, realtime.EventNewBooking), 1)
	assert.Len(t, f.store.list(func(Appointment) bool { return true }), 1)
}

func TestAttemptBookConflictIsStable(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.svc.AttemptBook(ctx, BookRequest{PatientID: patientID, DoctorID: doctorID, At: slot})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := f.svc.AttemptBook(ctx, BookRequest{PatientID: otherPatient, DoctorID: doctorID, At: slot})
		assert.ErrorIs(t, err, ErrSlotTaken)
	}

	// Another doctor at the same instant is a different slot.
	_, err = f.svc.AttemptBook(ctx, BookRequest{PatientID: otherPatient, DoctorID: otherDoctorID, At: slot})
	assert.NoError(t, err)
}

func TestAttemptBookAfterCancellationReusesSlot(t *testing.T) {
	f := newFixture()
	f.store.seed(Appointment{PatientID: patientID, DoctorID: doctorID, ScheduledAt: slot, Status: StatusCancelled})

	_, err := f.svc.AttemptBook(context.Background(), BookRequest{PatientID: otherPatient, DoctorID: doctorID, At: slot})
	assert.NoError(t, err)
}

func TestAttemptBookRetriesSerializationFailures(t *testing.T) {
	f := newFixture()
	f.store.serializationFailures = 2

	appt, err := f.svc.AttemptBook(context.Background(), BookRequest{PatientID: patientID, DoctorID: doctorID, At: slot})
	require.NoError(t, err)
	assert.NotZero(t, appt.ID)
	assert.Equal(t, 3, f.store.serializableRuns)
}

func TestAttemptBookGivesUpAsTransient(t *testing.T) {
	f := newFixture()
	f.store.serializationFailures = 100

	_, err := f.svc.AttemptBook(context.Background(), BookRequest{PatientID: patientID, DoctorID: doctorID, At: slot})
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.ErrorIs(t, err, ErrSerializationFailure)
	assert.Equal(t, 4, f.store.serializableRuns, "one attempt plus three retries")
	assert.Empty(t, f.store.list(func(Appointment) bool { return true }))
	assert.Empty(t, f.publisher.sent)
}

func TestAttemptBookLockTimeoutIsTransient(t *testing.T) {
	f := newFixture(func(d *Deps, _ *Options) {
		d.Locker = failingLocker{err: redisclient.ErrLockWaitTimeout}
	})

	_, err := f.svc.AttemptBook(context.Background(), BookRequest{PatientID: patientID, DoctorID: doctorID, At: slot})
	assert.True(t, IsTransient(err))
	assert.ErrorIs(t, err, redisclient.ErrLockWaitTimeout)
}

func TestAttemptBookWithRedisDownStillBooks(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb, err := redisclient.NewRedisClient(context.Background(), redisclient.Options{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })

	f := newFixture(func(d *Deps, _ *Options) {
		d.Locker = redisclient.NewRedisSlotLocker(rdb, time.Second, 100*time.Millisecond, zerolog.Nop())
	})
	mr.Close()

	appt, err := f.svc.AttemptBook(context.Background(), BookRequest{PatientID: patientID, DoctorID: doctorID, At: slot})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, appt.Status)

	_, err = f.svc.AttemptBook(context.Background(), BookRequest{PatientID: otherPatient, DoctorID: doctorID, At: slot})
	assert.ErrorIs(t, err, ErrSlotTaken)
	assert.False(t, IsTransient(err))
}

func TestAttemptBookRejectsInvalidRequests(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.svc.AttemptBook(ctx, BookRequest{PatientID: patientID, DoctorID: doctorID, At: clinicNow.Add(-time.Hour)})
	assert.ErrorIs(t, err, ErrSlotInPast)

	_, err = f.svc.AttemptBook(ctx, BookRequest{PatientID: patientID, DoctorID: doctorID, At: clinicNow})
	assert.ErrorIs(t, err, ErrSlotInPast)

	_, err = f.svc.AttemptBook(ctx, BookRequest{PatientID: 99, DoctorID: doctorID, At: slot})
	assert.ErrorIs(t, err, ErrPatientNotFound)

	_, err = f.svc.AttemptBook(ctx, BookRequest{PatientID: patientID, DoctorID: 99, At: slot})
	assert.ErrorIs(t, err, ErrDoctorNotFound)

	assert.Empty(t, f.publisher.sent)
}

func TestGetAppointmentHidesOthersBookings(t *testing.T) {
	f := newFixture()
	id := f.store.seed(Appointment{PatientID: patientID, DoctorID: doctorID, ScheduledAt: slot, Status: StatusPending})
	ctx := context.Background()

	allowed := []identity.Principal{
		{ID: patientID, Role: identity.RolePatient},
		{ID: doctorUserID, Role: identity.RoleDoctor},
		{ID: 500, Role: identity.RoleAdmin},
		{ID: 600, Role: identity.RoleSupport},
	}
	for _, p := range allowed {
		_, err := f.svc.GetAppointment(ctx, id, p)
		assert.NoError(t, err, p.Role.String())
	}

	denied := []identity.Principal{
		{ID: otherPatient, Role: identity.RolePatient},
		{ID: 101, Role: identity.RoleDoctor},
	}
	for _, p := range denied {
		_, err := f.svc.GetAppointment(ctx, id, p)
		assert.ErrorIs(t, err, ErrAppointmentNotFound, p.Role.String())
	}
}

func TestDoctorDayAndPatientHistory(t *testing.T) {
	f := newFixture()
	f.store.seed(Appointment{PatientID: patientID, DoctorID: doctorID, ScheduledAt: slot.Add(time.Hour), Status: StatusPending})
	f.store.seed(Appointment{PatientID: otherPatient, DoctorID: doctorID, ScheduledAt: slot, Status: StatusConfirmed})
	f.store.seed(Appointment{PatientID: patientID, DoctorID: doctorID, ScheduledAt: slot.AddDate(0, 0, 1), Status: StatusPending})

	day, err := f.svc.DoctorDay(context.Background(), doctorID, slot)
	require.NoError(t, err)
	require.Len(t, day, 2)
	assert.Equal(t, slot, day[0].ScheduledAt)

	history, err := f.svc.ListForPatient(context.Background(), patientID, 0, 0)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestSendRemindersOnce(t *testing.T) {
	f := newFixture()
	soon := f.store.seed(Appointment{PatientID: patientID, DoctorID: doctorID, ScheduledAt: clinicNow.Add(3 * time.Hour), Status: StatusConfirmed})
	f.store.seed(Appointment{PatientID: patientID, DoctorID: doctorID, ScheduledAt: clinicNow.Add(48 * time.Hour), Status: StatusConfirmed})
	f.store.seed(Appointment{PatientID: otherPatient, DoctorID: doctorID, ScheduledAt: clinicNow.Add(2 * time.Hour), Status: StatusPending})

	n, err := f.svc.SendReminders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, f.store.appointment(soon).Notified)

	notes := f.store.notificationsFor(patientID)
	require.Len(t, notes, 1)
	assert.False(t, notes[0].IsRead)
	assert.Len(t, f.publisher.to(identity.UserGroup(patientID), realtime.EventNotification), 1)
	require.Len(t, f.mailer.sent, 1)
	assert.Equal(t, []string{"a@example.com"}, f.mailer.sent[0].To)

	n, err = f.svc.SendReminders(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, f.store.notificationsFor(patientID), 1)
}
