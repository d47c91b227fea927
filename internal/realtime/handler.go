package realtime

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/hackgods/hospital-booking/internal/identity"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 256
)

// Handler upgrades authenticated requests to websocket sessions.
type Handler struct {
	hub      *Hub
	resolver identity.Resolver
	presence *Presence
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

func NewHandler(hub *Hub, resolver identity.Resolver, presence *Presence, allowedOrigins []string, log zerolog.Logger) *Handler {
	h := &Handler{
		hub:      hub,
		resolver: resolver,
		presence: presence,
		log:      log.With().Str("component", "realtime").Logger(),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

// originChecker allows every origin when the list is empty.
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p, err := h.resolver.Resolve(r)
	if err != nil {
		status := http.StatusUnauthorized
		if errors.Is(err, identity.ErrInvalidIdentity) {
			status = http.StatusForbidden
		}
		http.Error(w, http.StatusText(status), status)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &Client{
		ID:        uuid.NewString(),
		Principal: p,
		Groups:    GroupsFor(p),
		Send:      make(chan []byte, sendBuffer),
	}
	h.hub.Register(c)
	h.log.Debug().Str("client_id", c.ID).Int64("principal_id", p.ID).Stringer("role", p.Role).Msg("session connected")

	if p.Role == identity.RoleSupport && h.presence.Add(p.ID) {
		h.broadcastPresence()
	}

	go h.writePump(c, conn)
	go h.readPump(c, conn)
}

func (h *Handler) broadcastPresence() {
	if err := h.hub.Broadcast(EventOnlineListChanged, OnlineList{SupportIDs: h.presence.Snapshot()}); err != nil {
		h.log.Warn().Err(err).Msg("presence broadcast failed")
	}
}

// readPump only watches for disconnects; clients do not send commands.
func (h *Handler) readPump(c *Client, conn *websocket.Conn) {
	defer func() {
		h.hub.Unregister(c)
		_ = conn.Close()
		if c.Principal.Role == identity.RoleSupport && h.presence.Remove(c.Principal.ID) {
			h.broadcastPresence()
		}
		h.log.Debug().Str("client_id", c.ID).Msg("session disconnected")
	}()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Handler) writePump(c *Client, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.Send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
