package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/hospital-booking/internal/appointment"
	"github.com/hackgods/hospital-booking/internal/config"
	"github.com/hackgods/hospital-booking/internal/db"
	"github.com/hackgods/hospital-booking/internal/events"
	"github.com/hackgods/hospital-booking/internal/logging"
	"github.com/hackgods/hospital-booking/internal/mail"
	"github.com/hackgods/hospital-booking/internal/realtime"
	redisclient "github.com/hackgods/hospital-booking/internal/redis"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fatalLog := zerolog.New(os.Stderr)
		fatalLog.Fatal().Err(err).Msg("config load error")
	}

	log := logging.New(cfg.Env, cfg.LogLevel).With().Str("service", "reminder-worker").Logger()
	log.Info().Str("env", cfg.Env).Dur("interval", cfg.Reminder.Interval).Dur("horizon", cfg.Reminder.Horizon).Msg("reminder-worker starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	log.Info().Msg("connected to Postgres")

	// Without the Redis relay the worker cannot reach websocket clients held
	// by the api-server; reminders then arrive as durable notifications only.
	var publisher realtime.Publisher
	if cfg.Realtime.Relay == "redis" {
		rdb, err := redisclient.NewRedisClient(rootCtx, redisclient.Options{
			Addr:     cfg.RedisAddr,
			Username: cfg.RedisUsername,
			Password: cfg.RedisPassword,
			PoolSize: 4,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("redis connection error")
		}
		defer func() {
			if err := rdb.Close(); err != nil {
				log.Warn().Err(err).Msg("error closing redis")
			}
		}()
		publisher = realtime.NewRedisRelay(rdb, cfg.Realtime.RelayChannel, nil, log)
		log.Info().Msg("connected to Redis")
	}

	var integration events.Publisher = events.Nop{}
	if cfg.AMQP.URL != "" {
		p, err := events.NewAMQPPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange)
		if err != nil {
			log.Fatal().Err(err).Msg("amqp connection error")
		}
		defer p.Close()
		integration = p
	}

	var mailer appointment.Mailer
	if cfg.Mail.Enabled {
		dispatcher := mail.NewDispatcher(mail.NewSMTPClient(mail.Config(cfg.Mail)), 64, cfg.Mail.Timeout, log)
		dispatcher.Start(1)
		defer dispatcher.Stop()
		mailer = dispatcher
	}

	repo := appointment.NewPgRepository(pgPool)
	svc := appointment.NewService(appointment.Deps{
		Store:     repo,
		Directory: repo,
		Publisher: publisher,
		Mailer:    mailer,
		Events:    integration,
		Log:       log,
	}, appointment.Options{
		ReminderHorizon: cfg.Reminder.Horizon,
		Location:        cfg.Location,
	})

	// Run once at startup
	runOnce(rootCtx, svc, log)

	ticker := time.NewTicker(cfg.Reminder.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Info().Msg("shutdown signal received, stopping reminder worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, svc, log)
		}
	}
}

func runOnce(ctx context.Context, svc *appointment.Service, log zerolog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	start := time.Now()
	sent, err := svc.SendReminders(runCtx)
	if err != nil {
		log.Error().Err(err).Int("sent", sent).Msg("reminder run error")
		return
	}
	log.Info().Int("sent", sent).Dur("took", time.Since(start)).Msg("reminder run complete")
}
