package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/hospital-booking/internal/identity"
)

func startServer(t *testing.T) (*Hub, *Presence, string) {
	t.Helper()
	hub := NewHub(nil)
	presence := NewPresence()
	h := NewHandler(hub, identity.ByTransport{Explicit: identity.QueryResolver{}}, presence, nil, zerolog.Nop())

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return hub, presence, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestHandlerRejectsAnonymous(t *testing.T) {
	_, _, url := startServer(t)

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandlerRejectsUnknownRole(t *testing.T) {
	_, _, url := startServer(t)

	_, resp, err := websocket.DefaultDialer.Dial(url+"?userId=5&role=visitor", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestDoctorSessionReceivesPoolEvents(t *testing.T) {
	hub, _, url := startServer(t)
	conn := dial(t, url+"?userId=5&role=BacSi")

	require.Eventually(t, func() bool { return hub.GroupSize(DoctorsGroup) == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, hub.GroupSize("User_5"))

	require.NoError(t, hub.Publish(context.Background(), DoctorsGroup, EventNewBooking, NewBooking{AppointmentID: 12, PatientName: "An", Message: "New booking"}))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	event, data := decode(t, raw)
	assert.Equal(t, EventNewBooking, event)
	assert.Equal(t, "An", data["patientName"])
}

func TestSupportPresenceFollowsConnection(t *testing.T) {
	hub, presence, url := startServer(t)
	conn := dial(t, url+"?userId=42&role=CSKH")

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	event, data := decode(t, raw)
	assert.Equal(t, EventOnlineListChanged, event)
	assert.Equal(t, []any{float64(42)}, data["supportIds"])
	assert.Equal(t, []int64{42}, presence.Snapshot())

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool {
		return len(presence.Snapshot()) == 0 && hub.ClientCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}
