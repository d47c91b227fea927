package schedule

import (
	"fmt"
	"slices"
	"time"
)

type WindowStatus string

const (
	WindowPending   WindowStatus = "Pending"
	WindowConfirmed WindowStatus = "Confirmed"
)

// WorkingWindow is a doctor's shift on one date. Start and End are offsets
// from local midnight; End is exclusive.
type WorkingWindow struct {
	ID       int64
	DoctorID int64
	Date     time.Time
	Start    time.Duration
	End      time.Duration
	Status   WindowStatus
}

// AvailableTimes walks every confirmed window in step increments and keeps
// the start times that are neither booked nor already past. booked holds
// times of day of the live bookings on date. The result is ascending and
// free of duplicates even when windows overlap.
func AvailableTimes(windows []WorkingWindow, booked []time.Duration, date, now time.Time, step, tolerance time.Duration) []time.Duration {
	if step <= 0 {
		return nil
	}

	today := sameDay(date, now)
	nowOfDay := TimeOfDay(now)

	var out []time.Duration
	for _, w := range windows {
		if w.Status != WindowConfirmed {
			continue
		}
		for t := w.Start; t < w.End; t += step {
			if today && t <= nowOfDay {
				continue
			}
			if isBooked(t, booked, tolerance) {
				continue
			}
			out = append(out, t)
		}
	}

	slices.Sort(out)
	return slices.Compact(out)
}

func isBooked(t time.Duration, booked []time.Duration, tolerance time.Duration) bool {
	for _, b := range booked {
		d := b - t
		if d < 0 {
			d = -d
		}
		if d < tolerance {
			return true
		}
	}
	return false
}

func sameDay(a, b time.Time) bool {
	b = b.In(a.Location())
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// TimeOfDay is the offset of t from midnight in t's location.
func TimeOfDay(t time.Time) time.Duration {
	h, m, s := t.Clock()
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute +
		time.Duration(s)*time.Second + time.Duration(t.Nanosecond())
}

// FormatClock renders an offset from midnight as HH:mm.
func FormatClock(d time.Duration) string {
	return fmt.Sprintf("%02d:%02d", int(d/time.Hour), int(d%time.Hour/time.Minute))
}

// ParseClock parses HH:mm into an offset from midnight.
func ParseClock(raw string) (time.Duration, error) {
	t, err := time.Parse("15:04", raw)
	if err != nil {
		return 0, fmt.Errorf("invalid time %q, want HH:mm", raw)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// ParseDate parses YYYY-MM-DD as local midnight in loc.
func ParseDate(raw string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(time.DateOnly, raw, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, want YYYY-MM-DD", raw)
	}
	return t, nil
}

// At combines a date and a wall clock offset. The offset is read as hours,
// minutes and seconds on the clock, so days with a DST change still land on
// the named time.
func At(date time.Time, offset time.Duration) time.Time {
	y, m, d := date.Date()
	h := int(offset / time.Hour)
	mins := int(offset % time.Hour / time.Minute)
	secs := int(offset % time.Minute / time.Second)
	nsec := int(offset % time.Second)
	return time.Date(y, m, d, h, mins, secs, nsec, date.Location())
}

// Midnight truncates t to the start of its day in loc.
func Midnight(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
