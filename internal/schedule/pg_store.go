package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/hackgods/hospital-booking/internal/db"
)

type PgStore struct {
	q   db.DBTX
	loc *time.Location
}

func NewPgStore(q db.DBTX, loc *time.Location) *PgStore {
	return &PgStore{q: q, loc: loc}
}

func (s *PgStore) ConfirmedWindows(ctx context.Context, doctorID int64, date time.Time) ([]WorkingWindow, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id, doctor_id, work_date, start_time, end_time, status
		FROM working_windows
		WHERE doctor_id = $1 AND work_date = $2::date AND status = $3
		ORDER BY start_time
	`, doctorID, date.Format(time.DateOnly), string(WindowConfirmed))
	if err != nil {
		return nil, fmt.Errorf("query working windows: %w", err)
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (WorkingWindow, error) {
		var (
			w          WorkingWindow
			day        pgtype.Date
			start, end pgtype.Time
			status     string
		)
		if err := row.Scan(&w.ID, &w.DoctorID, &day, &start, &end, &status); err != nil {
			return WorkingWindow{}, err
		}
		w.Date = s.localDate(day.Time)
		w.Start = time.Duration(start.Microseconds) * time.Microsecond
		w.End = time.Duration(end.Microseconds) * time.Microsecond
		w.Status = WindowStatus(status)
		return w, nil
	})
}

func (s *PgStore) ConfirmedDatesFrom(ctx context.Context, doctorID int64, from time.Time) ([]time.Time, error) {
	rows, err := s.q.Query(ctx, `
		SELECT DISTINCT work_date
		FROM working_windows
		WHERE doctor_id = $1 AND work_date >= $2::date AND status = $3
		ORDER BY work_date
	`, doctorID, from.Format(time.DateOnly), string(WindowConfirmed))
	if err != nil {
		return nil, fmt.Errorf("query working dates: %w", err)
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (time.Time, error) {
		var day pgtype.Date
		if err := row.Scan(&day); err != nil {
			return time.Time{}, err
		}
		return s.localDate(day.Time), nil
	})
}

// localDate reinterprets a DATE (decoded as UTC midnight) in the clinic zone.
func (s *PgStore) localDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, s.loc)
}
