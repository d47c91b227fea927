package schedule

import (
	"context"
	"fmt"
	"slices"
	"time"
)

// WindowStore reads working windows maintained by the scheduling back office.
type WindowStore interface {
	ConfirmedWindows(ctx context.Context, doctorID int64, date time.Time) ([]WorkingWindow, error)
	ConfirmedDatesFrom(ctx context.Context, doctorID int64, from time.Time) ([]time.Time, error)
}

// BookingSource lists the start instants of a doctor's live bookings in
// [from, to).
type BookingSource interface {
	ActiveBookingTimes(ctx context.Context, doctorID int64, from, to time.Time) ([]time.Time, error)
}

type Options struct {
	Step      time.Duration
	Tolerance time.Duration
	Location  *time.Location
	Now       func() time.Time
}

// Default display hours when a doctor has no confirmed window on a date.
const (
	DefaultDayStart = 7 * time.Hour
	DefaultDayEnd   = 17*time.Hour + 30*time.Minute
)

type Service struct {
	windows  WindowStore
	bookings BookingSource
	opts     Options
}

func NewService(windows WindowStore, bookings BookingSource, opts Options) *Service {
	if opts.Step <= 0 {
		opts.Step = 30 * time.Minute
	}
	if opts.Tolerance <= 0 {
		opts.Tolerance = time.Minute
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{windows: windows, bookings: bookings, opts: opts}
}

func (s *Service) Location() *time.Location {
	return s.opts.Location
}

// AvailableTimes lists free HH:mm start times for doctorID on date.
func (s *Service) AvailableTimes(ctx context.Context, doctorID int64, date time.Time) ([]string, error) {
	day := Midnight(date, s.opts.Location)

	windows, err := s.windows.ConfirmedWindows(ctx, doctorID, day)
	if err != nil {
		return nil, fmt.Errorf("load working windows: %w", err)
	}
	if len(windows) == 0 {
		return []string{}, nil
	}

	instants, err := s.bookings.ActiveBookingTimes(ctx, doctorID, day, day.AddDate(0, 0, 1))
	if err != nil {
		return nil, fmt.Errorf("load bookings: %w", err)
	}
	booked := make([]time.Duration, 0, len(instants))
	for _, at := range instants {
		booked = append(booked, TimeOfDay(at.In(s.opts.Location)))
	}

	now := s.opts.Now().In(s.opts.Location)
	free := AvailableTimes(windows, booked, day, now, s.opts.Step, s.opts.Tolerance)

	out := make([]string, 0, len(free))
	for _, t := range free {
		out = append(out, FormatClock(t))
	}
	return out, nil
}

// AvailableDates lists YYYY-MM-DD dates from today on that have at least one
// confirmed window.
func (s *Service) AvailableDates(ctx context.Context, doctorID int64) ([]string, error) {
	today := Midnight(s.opts.Now(), s.opts.Location)

	dates, err := s.windows.ConfirmedDatesFrom(ctx, doctorID, today)
	if err != nil {
		return nil, fmt.Errorf("load working dates: %w", err)
	}

	out := make([]string, 0, len(dates))
	for _, d := range dates {
		if Midnight(d, s.opts.Location).Before(today) {
			continue
		}
		out = append(out, d.Format(time.DateOnly))
	}
	slices.Sort(out)
	return slices.Compact(out), nil
}

// DisplayWindow is the span shown on a doctor's day view: the union of the
// confirmed windows, or the default clinic hours when there are none.
func (s *Service) DisplayWindow(ctx context.Context, doctorID int64, date time.Time) (time.Duration, time.Duration, error) {
	windows, err := s.windows.ConfirmedWindows(ctx, doctorID, Midnight(date, s.opts.Location))
	if err != nil {
		return 0, 0, fmt.Errorf("load working windows: %w", err)
	}
	if len(windows) == 0 {
		return DefaultDayStart, DefaultDayEnd, nil
	}

	start, end := windows[0].Start, windows[0].End
	for _, w := range windows[1:] {
		start = min(start, w.Start)
		end = max(end, w.End)
	}
	return start, end, nil
}
