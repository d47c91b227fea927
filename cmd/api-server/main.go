package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/hospital-booking/internal/api"
	"github.com/hackgods/hospital-booking/internal/appointment"
	"github.com/hackgods/hospital-booking/internal/config"
	"github.com/hackgods/hospital-booking/internal/db"
	"github.com/hackgods/hospital-booking/internal/events"
	"github.com/hackgods/hospital-booking/internal/identity"
	"github.com/hackgods/hospital-booking/internal/logging"
	"github.com/hackgods/hospital-booking/internal/mail"
	"github.com/hackgods/hospital-booking/internal/metrics"
	"github.com/hackgods/hospital-booking/internal/notification"
	"github.com/hackgods/hospital-booking/internal/payment"
	"github.com/hackgods/hospital-booking/internal/realtime"
	redisclient "github.com/hackgods/hospital-booking/internal/redis"
	"github.com/hackgods/hospital-booking/internal/schedule"
)

const version = "0.3.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fatalLog := zerolog.New(os.Stderr)
		fatalLog.Fatal().Err(err).Msg("config load error")
	}

	log := logging.New(cfg.Env, cfg.LogLevel).With().Str("service", "api-server").Logger()
	log.Info().Str("env", cfg.Env).Str("http_port", cfg.HTTPPort).Str("version", version).Msg("api-server starting up")

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

	var rdb *redis.Client
	if cfg.Booking.LockEnabled || cfg.Realtime.Relay == "redis" {
		rdb, err = redisclient.NewRedisClient(rootCtx, redisclient.Options{
			Addr:     cfg.RedisAddr,
			Username: cfg.RedisUsername,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("redis connection error")
		}
		defer func() {
			if err := rdb.Close(); err != nil {
				log.Warn().Err(err).Msg("error closing redis")
			}
		}()
		log.Info().Msg("connected to Redis")
	}

	m := metrics.New()
	hub := realtime.NewHub(m)
	presence := realtime.NewPresence()

	var publisher realtime.Publisher = hub
	if cfg.Realtime.Relay == "redis" {
		relay := realtime.NewRedisRelay(rdb, cfg.Realtime.RelayChannel, hub, log)
		go func() {
			if err := relay.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("realtime relay stopped")
				stop()
			}
		}()
		select {
		case <-relay.Ready():
		case <-rootCtx.Done():
		}
		publisher = relay
	}

	var integration events.Publisher = events.Nop{}
	if cfg.AMQP.URL != "" {
		p, err := events.NewAMQPPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange)
		if err != nil {
			log.Fatal().Err(err).Msg("amqp connection error")
		}
		defer p.Close()
		integration = p
		log.Info().Str("exchange", cfg.AMQP.Exchange).Msg("connected to RabbitMQ")
	}

	var mailer appointment.Mailer
	if cfg.Mail.Enabled {
		dispatcher := mail.NewDispatcher(mail.NewSMTPClient(mail.Config(cfg.Mail)), 256, cfg.Mail.Timeout, log)
		dispatcher.Start(2)
		defer dispatcher.Stop()
		mailer = dispatcher
	}

	var locker redisclient.Locker = redisclient.NopLocker{}
	if cfg.Booking.LockEnabled {
		locker = redisclient.NewRedisSlotLocker(rdb, cfg.Booking.LockTTL, cfg.Booking.LockWait, log)
	}

	repo := appointment.NewPgRepository(pgPool)
	appointments := appointment.NewService(appointment.Deps{
		Store:     repo,
		Directory: repo,
		Locker:    locker,
		Publisher: publisher,
		Mailer:    mailer,
		Events:    integration,
		Metrics:   m,
		Log:       log,
	}, appointment.Options{
		MaxRetries:      cfg.Booking.MaxRetries,
		ReminderHorizon: cfg.Reminder.Horizon,
		Location:        cfg.Location,
	})

	slots := schedule.NewService(schedule.NewPgStore(pgPool, cfg.Location), repo, schedule.Options{
		Step:      cfg.Booking.SlotStep,
		Tolerance: cfg.Booking.MatchTolerance,
		Location:  cfg.Location,
	})

	payments := payment.NewService(payment.NewPgStore(pgPool), publisher, integration, cfg.Payment.AppointmentFee, log)
	notifications := notification.NewService(notification.NewPgStore(pgPool))

	sessions := identity.NewSessionResolver(cfg.Session.Secret, cfg.Session.Cookie)
	// Mobile websocket clients name themselves in the query string.
	realtimeResolver := identity.ByTransport{Explicit: identity.QueryResolver{}, Session: sessions}

	router := api.NewRouter(api.RouterConfig{
		Appointments:   appointments,
		Schedule:       slots,
		Payments:       payments,
		Notifications:  notifications,
		Resolver:       sessions,
		CallbackSecret: cfg.Payment.CallbackSecret,
		Presence:       presence,
		Realtime:       realtime.NewHandler(hub, realtimeResolver, presence, cfg.Realtime.AllowedOrigins, log),
		Health:         api.NewHealthHandler(pgPool, rdb, cfg.Env, version),
		Metrics:        m.Handler(),
		Log:            log,
	})

	srv := &http.Server{
		Addr:              net.JoinHostPort("", cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-rootCtx.Done():
	case err := <-errCh:
		log.Error().Err(err).Msg("http server error")
	}

	log.Info().Msg("shutting down api-server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}
