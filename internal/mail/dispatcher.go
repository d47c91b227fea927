package mail

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Dispatcher sends mail off the request path. Dispatch never blocks: when
// the queue is full the message is dropped and logged.
type Dispatcher struct {
	sender  Sender
	queue   chan Message
	timeout time.Duration
	log     zerolog.Logger

	wg       sync.WaitGroup
	stopOnce sync.Once
}

func NewDispatcher(sender Sender, queueSize int, timeout time.Duration, log zerolog.Logger) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 128
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Dispatcher{
		sender:  sender,
		queue:   make(chan Message, queueSize),
		timeout: timeout,
		log:     log.With().Str("component", "mail").Logger(),
	}
}

// Start launches the given number of delivery workers.
func (d *Dispatcher) Start(workers int) {
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.run()
	}
}

func (d *Dispatcher) Dispatch(m Message) {
	select {
	case d.queue <- m:
	default:
		d.log.Warn().Strs("to", m.To).Str("subject", m.Subject).Msg("mail queue full, dropping message")
	}
}

// Stop drains the queue and waits for in-flight deliveries.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() { close(d.queue) })
	d.wg.Wait()
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for m := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		err := d.sender.Send(ctx, m)
		cancel()
		switch {
		case err == nil:
			d.log.Debug().Strs("to", m.To).Str("subject", m.Subject).Msg("mail sent")
		case errors.Is(err, ErrDisabled):
		default:
			d.log.Error().Err(err).Strs("to", m.To).Str("subject", m.Subject).Msg("mail delivery failed")
		}
	}
}
