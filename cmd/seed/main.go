package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hackgods/hospital-booking/internal/db"
	"github.com/hackgods/hospital-booking/internal/logging"
	"github.com/hackgods/hospital-booking/internal/schedule"
)

func main() {
	doctors := flag.Int("doctors", 20, "number of doctors")
	patients := flag.Int("patients", 2000, "number of patients")
	days := flag.Int("days", 14, "days of confirmed working windows from today")
	balance := flag.Int64("balance", 1000000, "starting wallet balance per patient")
	tz := flag.String("tz", "Asia/Ho_Chi_Minh", "clinic time zone the window dates are local to")
	applySchema := flag.Bool("schema", false, "create the tables before seeding")
	flag.Parse()

	log := logging.New(os.Getenv("APP_ENV"), os.Getenv("LOG_LEVEL")).With().Str("service", "seed").Logger()

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal().Msg("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	loc, err := time.LoadLocation(*tz)
	if err != nil {
		log.Fatal().Err(err).Msg("load time zone")
	}

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	if *applySchema {
		if err := db.ApplySchema(ctx, pool); err != nil {
			log.Fatal().Err(err).Msg("apply schema")
		}
		log.Info().Msg("schema applied")
	}

	doctorIDs, err := seedDoctors(ctx, pool, *doctors, log)
	if err != nil {
		log.Fatal().Err(err).Msg("seed doctors")
	}
	if err := seedWindows(ctx, pool, doctorIDs, *days, loc, log); err != nil {
		log.Fatal().Err(err).Msg("seed working windows")
	}
	if err := seedPatients(ctx, pool, *patients, *balance, log); err != nil {
		log.Fatal().Err(err).Msg("seed patients")
	}

	log.Info().Msg("seed complete")
}

func seedDoctors(ctx context.Context, pool *pgxpool.Pool, count int, log zerolog.Logger) ([]int64, error) {
	log.Info().Int("count", count).Msg("seeding doctors")

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]int64, 0, count)
	for i := 0; i < count; i++ {
		var id int64
		err := tx.QueryRow(ctx, `
			WITH a AS (
				INSERT INTO user_accounts (role) VALUES ('Doctor') RETURNING id
			)
			INSERT INTO doctors (user_id, name, email)
			SELECT id, $1, $2 FROM a
			RETURNING id
		`, gofakeit.Name(), gofakeit.Email()).Scan(&id)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	log.Info().Msg("doctors seeded")
	return ids, nil
}

// seedWindows gives each doctor a confirmed morning and afternoon window on
// most days, and leaves some days unconfirmed.
func seedWindows(ctx context.Context, pool *pgxpool.Pool, doctorIDs []int64, days int, loc *time.Location, log zerolog.Logger) error {
	log.Info().Int("doctors", len(doctorIDs)).Int("days", days).Msg("seeding working windows")

	shifts := []struct{ start, end time.Duration }{
		{8 * time.Hour, 11*time.Hour + 30*time.Minute},
		{13*time.Hour + 30*time.Minute, 17 * time.Hour},
	}
	today := schedule.Midnight(time.Now(), loc)

	rows := make([][]any, 0, len(doctorIDs)*days*len(shifts))
	for _, doctorID := range doctorIDs {
		for d := 0; d < days; d++ {
			y, m, dd := today.AddDate(0, 0, d).Date()
			date := pgtype.Date{Time: time.Date(y, m, dd, 0, 0, 0, 0, time.UTC), Valid: true}
			status := schedule.WindowConfirmed
			if gofakeit.Number(1, 10) == 1 {
				status = schedule.WindowPending
			}
			for _, s := range shifts {
				rows = append(rows, []any{doctorID, date, clock(s.start), clock(s.end), string(status)})
			}
		}
	}

	n, err := pool.CopyFrom(ctx, pgx.Identifier{"working_windows"},
		[]string{"doctor_id", "work_date", "start_time", "end_time", "status"},
		pgx.CopyFromRows(rows))
	if err != nil {
		return err
	}

	log.Info().Int64("windows", n).Msg("working windows seeded")
	return nil
}

func clock(d time.Duration) pgtype.Time {
	return pgtype.Time{Microseconds: d.Microseconds(), Valid: true}
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, count int, balance int64, log zerolog.Logger) error {
	log.Info().Int("count", count).Msg("seeding patients")

	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := min(offset+batchSize, count)

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for i := offset; i < end; i++ {
			_, err := tx.Exec(ctx, `
				WITH a AS (
					INSERT INTO user_accounts (role) VALUES ('Patient') RETURNING id
				), p AS (
					INSERT INTO patients (id, name, email) SELECT id, $1, $2 FROM a RETURNING id
				)
				INSERT INTO wallets (patient_id, balance) SELECT id, $3 FROM p
			`, gofakeit.Name(), gofakeit.Email(), balance)
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}

		log.Info().Int("seeded", end).Int("total", count).Msg("patients progress")
	}

	log.Info().Msg("patients seeded")
	return nil
}
