package appointment

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/hospital-booking/internal/mail"
	"github.com/hackgods/hospital-booking/internal/notification"
)

type memState struct {
	appointments  map[int64]Appointment
	paid          map[int64]bool
	notifications []notification.Notification
	events        []EventLog
	nextID        int64
}

func (s memState) clone() memState {
	return memState{
		appointments:  maps.Clone(s.appointments),
		paid:          maps.Clone(s.paid),
		notifications: append([]notification.Notification(nil), s.notifications...),
		events:        append([]EventLog(nil), s.events...),
		nextID:        s.nextID,
	}
}

// memStore runs one transaction at a time on a copy of its state and keeps
// the copy only when fn succeeds.
type memStore struct {
	mu    sync.Mutex
	state memState
	now   func() time.Time

	// serializationFailures makes the next n serializable transactions abort.
	serializationFailures int
	serializableRuns      int
}

func newMemStore(now func() time.Time) *memStore {
	return &memStore{
		now: now,
		state: memState{
			appointments: map[int64]Appointment{},
			paid:         map[int64]bool{},
		},
	}
}

func (m *memStore) seed(a Appointment) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.nextID++
	a.ID = m.state.nextID
	m.state.appointments[a.ID] = a
	return a.ID
}

func (m *memStore) appointment(id int64) Appointment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.appointments[id]
}

func (m *memStore) notificationsFor(userID int64) []notification.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []notification.Notification
	for _, n := range m.state.notifications {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	return out
}

func (m *memStore) eventTypes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.state.events))
	for _, ev := range m.state.events {
		out = append(out, ev.EventType)
	}
	return out
}

func (m *memStore) GetAppointment(_ context.Context, id int64) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.state.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (m *memStore) list(keep func(Appointment) bool) []Appointment {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Appointment
	for _, a := range m.state.appointments {
		if keep(a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	return out
}

func (m *memStore) ListByDoctor(_ context.Context, doctorID int64, from, to time.Time) ([]Appointment, error) {
	return m.list(func(a Appointment) bool {
		return a.DoctorID == doctorID && !a.ScheduledAt.Before(from) && a.ScheduledAt.Before(to)
	}), nil
}

func (m *memStore) ListByPatient(_ context.Context, patientID int64, limit, offset int) ([]Appointment, error) {
	out := m.list(func(a Appointment) bool { return a.PatientID == patientID })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) ListDueReminders(_ context.Context, from, to time.Time) ([]Appointment, error) {
	return m.list(func(a Appointment) bool {
		return a.Status == StatusConfirmed && !a.Notified && a.ScheduledAt.After(from) && !a.ScheduledAt.After(to)
	}), nil
}

func (m *memStore) InSerializableTx(ctx context.Context, fn func(tx Tx) error) error {
	m.mu.Lock()
	m.serializableRuns++
	if m.serializationFailures > 0 {
		m.serializationFailures--
		m.mu.Unlock()
		return ErrSerializationFailure
	}
	m.mu.Unlock()
	return m.InTx(ctx, fn)
}

func (m *memStore) InTx(_ context.Context, fn func(tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	work := m.state.clone()
	if err := fn(&memTx{s: &work, now: m.now}); err != nil {
		return err
	}
	m.state = work
	return nil
}

type memTx struct {
	s   *memState
	now func() time.Time
}

func (t *memTx) slotTaken(doctorID int64, at time.Time, except int64) bool {
	for _, a := range t.s.appointments {
		if a.ID != except && a.DoctorID == doctorID && a.ScheduledAt.Equal(at) && a.Status != StatusCancelled {
			return true
		}
	}
	return false
}

func (t *memTx) SlotTaken(_ context.Context, doctorID int64, at time.Time) (bool, error) {
	return t.slotTaken(doctorID, at, 0), nil
}

func (t *memTx) InsertAppointment(_ context.Context, a *Appointment) error {
	if t.slotTaken(a.DoctorID, a.ScheduledAt, 0) {
		return ErrSlotTaken
	}
	t.s.nextID++
	a.ID = t.s.nextID
	a.CreatedAt = t.now()
	a.UpdatedAt = a.CreatedAt
	t.s.appointments[a.ID] = *a
	return nil
}

func (t *memTx) LockAppointment(_ context.Context, id int64) (*Appointment, error) {
	a, ok := t.s.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (t *memTx) HasSuccessfulPayment(_ context.Context, appointmentID int64) (bool, error) {
	return t.s.paid[appointmentID], nil
}

func (t *memTx) UpdateStatus(_ context.Context, id int64, from, to Status) error {
	a, ok := t.s.appointments[id]
	if !ok || a.Status != from {
		return ErrStatusChanged
	}
	if to != StatusCancelled && t.slotTaken(a.DoctorID, a.ScheduledAt, id) {
		return ErrSlotTaken
	}
	a.Status = to
	a.UpdatedAt = t.now()
	t.s.appointments[id] = a
	return nil
}

func (t *memTx) MarkNotified(_ context.Context, id int64) (bool, error) {
	a, ok := t.s.appointments[id]
	if !ok || a.Notified {
		return false, nil
	}
	a.Notified = true
	t.s.appointments[id] = a
	return true, nil
}

func (t *memTx) InsertNotification(_ context.Context, n *notification.Notification) error {
	n.ID = int64(len(t.s.notifications) + 1)
	n.CreatedAt = t.now()
	t.s.notifications = append(t.s.notifications, *n)
	return nil
}

func (t *memTx) InsertEvent(_ context.Context, ev EventLog) error {
	ev.ID = int64(len(t.s.events) + 1)
	t.s.events = append(t.s.events, ev)
	return nil
}

type memDirectory struct {
	patients map[int64]*Patient
	doctors  map[int64]*Doctor
}

func (d *memDirectory) GetPatient(_ context.Context, id int64) (*Patient, error) {
	if p, ok := d.patients[id]; ok {
		return p, nil
	}
	return nil, ErrPatientNotFound
}

func (d *memDirectory) GetDoctor(_ context.Context, id int64) (*Doctor, error) {
	if doc, ok := d.doctors[id]; ok {
		return doc, nil
	}
	return nil, ErrDoctorNotFound
}

type published struct {
	group, event string
	payload      any
}

type recordingPublisher struct {
	mu   sync.Mutex
	sent []published
}

func (r *recordingPublisher) Publish(_ context.Context, group, event string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, published{group, event, payload})
	return nil
}

func (r *recordingPublisher) to(group, event string) []published {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []published
	for _, p := range r.sent {
		if p.group == group && p.event == event {
			out = append(out, p)
		}
	}
	return out
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []mail.Message
}

func (r *recordingMailer) Dispatch(m mail.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, m)
}

type failingLocker struct {
	err error
}

func (l failingLocker) WithSlotLock(context.Context, int64, time.Time, func(context.Context) error) error {
	return l.err
}

const (
	patientID     = int64(1)
	otherPatient  = int64(2)
	doctorID      = int64(7)
	doctorUserID  = int64(100)
	otherDoctorID = int64(8)
)

var clinicNow = time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

type fixture struct {
	svc       *Service
	store     *memStore
	publisher *recordingPublisher
	mailer    *recordingMailer
}

func newFixture(mutate ...func(*Deps, *Options)) *fixture {
	now := func() time.Time { return clinicNow }
	f := &fixture{
		store:     newMemStore(now),
		publisher: &recordingPublisher{},
		mailer:    &recordingMailer{},
	}
	deps := Deps{
		Store: f.store,
		Directory: &memDirectory{
			patients: map[int64]*Patient{
				patientID:    {ID: patientID, Name: "Nguyen Van A", Email: "a@example.com"},
				otherPatient: {ID: otherPatient, Name: "Tran Thi B", Email: "b@example.com"},
			},
			doctors: map[int64]*Doctor{
				doctorID:      {ID: doctorID, UserID: doctorUserID, Name: "Le Minh", Email: "minh@example.com"},
				otherDoctorID: {ID: otherDoctorID, UserID: 101, Name: "Pham Hoa", Email: "hoa@example.com"},
			},
		},
		Publisher: f.publisher,
		Mailer:    f.mailer,
		QR:        func(string) ([]byte, error) { return []byte("png"), nil },
		Log:       zerolog.Nop(),
	}
	opts := Options{
		MaxRetries:   3,
		RetryBackoff: time.Millisecond,
		Location:     time.UTC,
		Now:          now,
	}
	for _, m := range mutate {
		m(&deps, &opts)
	}
	f.svc = NewService(deps, opts)
	return f
}
