package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisRelay publishes through a Redis channel so every api-server instance
// delivers the event to its own sessions.
type RedisRelay struct {
	client  *redis.Client
	channel string
	hub     *Hub
	log     zerolog.Logger

	ready     chan struct{}
	readyOnce sync.Once
}

type relayFrame struct {
	Group string          `json:"group"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func NewRedisRelay(client *redis.Client, channel string, hub *Hub, log zerolog.Logger) *RedisRelay {
	return &RedisRelay{
		client:  client,
		channel: channel,
		hub:     hub,
		log:     log.With().Str("component", "realtime_relay").Logger(),
		ready:   make(chan struct{}),
	}
}

func (r *RedisRelay) Publish(ctx context.Context, group, event string, payload any) error {
	data, err := encode(event, payload)
	if err != nil {
		return err
	}
	frame, err := json.Marshal(relayFrame{Group: group, Event: event, Data: data})
	if err != nil {
		return fmt.Errorf("encode relay frame: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, frame).Err(); err != nil {
		return fmt.Errorf("relay publish %s: %w", event, err)
	}
	return nil
}

// Ready is closed once the subscription is confirmed.
func (r *RedisRelay) Ready() <-chan struct{} {
	return r.ready
}

// Run consumes the relay channel until ctx is done.
func (r *RedisRelay) Run(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	r.readyOnce.Do(func() { close(r.ready) })
	r.log.Info().Str("channel", r.channel).Msg("realtime relay subscribed")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var frame relayFrame
			if err := json.Unmarshal([]byte(msg.Payload), &frame); err != nil {
				r.log.Warn().Err(err).Msg("dropping malformed relay frame")
				continue
			}
			n := r.hub.deliver(frame.Group, frame.Data)
			r.hub.metrics.Delivered(frame.Event, n)
		}
	}
}
