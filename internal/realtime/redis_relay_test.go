package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/hospital-booking/internal/identity"
)

func TestRedisRelayDeliversAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	// Two instances share one channel; the session is connected to the second.
	hubA, hubB := NewHub(nil), NewHub(nil)
	relayA := NewRedisRelay(rdb, "test:realtime", hubA, zerolog.Nop())
	relayB := NewRedisRelay(rdb, "test:realtime", hubB, zerolog.Nop())

	patient := newClient("p", identity.Principal{ID: 8, Role: identity.RolePatient})
	hubB.Register(patient)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = relayB.Run(ctx) }()

	select {
	case <-relayB.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not subscribe")
	}

	require.NoError(t, relayA.Publish(context.Background(), "User_8", EventStatusChange, StatusChange{AppointmentID: 3, Status: "Cancelled"}))

	select {
	case raw := <-patient.Send:
		event, data := decode(t, raw)
		assert.Equal(t, EventStatusChange, event)
		assert.Equal(t, "Cancelled", data["status"])
	case <-time.After(2 * time.Second):
		t.Fatal("event not relayed")
	}
}
