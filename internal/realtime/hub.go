package realtime

import (
	"context"
	"sync"

	"github.com/hackgods/hospital-booking/internal/identity"
	"github.com/hackgods/hospital-booking/internal/metrics"
)

// Publisher fans an event out to every session in a group. Delivery is
// best effort: a group with no sessions drops the event.
type Publisher interface {
	Publish(ctx context.Context, group, event string, payload any) error
}

// Client is one connected session.
type Client struct {
	ID        string
	Principal identity.Principal
	Groups    []string
	Send      chan []byte
}

// GroupsFor lists the groups a principal joins on connect.
func GroupsFor(p identity.Principal) []string {
	groups := []string{p.GroupKey()}
	if p.Role == identity.RoleDoctor {
		groups = append(groups, DoctorsGroup)
	}
	return groups
}

// Hub tracks the sessions connected to this process.
type Hub struct {
	mu      sync.RWMutex
	groups  map[string]map[*Client]struct{}
	all     map[*Client]struct{}
	metrics *metrics.Metrics
}

func NewHub(m *metrics.Metrics) *Hub {
	return &Hub{
		groups:  make(map[string]map[*Client]struct{}),
		all:     make(map[*Client]struct{}),
		metrics: m,
	}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.all[c] = struct{}{}
	for _, g := range c.Groups {
		if h.groups[g] == nil {
			h.groups[g] = make(map[*Client]struct{})
		}
		h.groups[g][c] = struct{}{}
	}
	h.metrics.ClientConnected()
}

// Unregister removes c from every group and closes its Send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[c]; !ok {
		return
	}
	for _, g := range c.Groups {
		if members, ok := h.groups[g]; ok {
			delete(members, c)
			if len(members) == 0 {
				delete(h.groups, g)
			}
		}
	}
	delete(h.all, c)
	close(c.Send)
	h.metrics.ClientDisconnected()
}

// Publish delivers to the local sessions of group.
func (h *Hub) Publish(_ context.Context, group, event string, payload any) error {
	data, err := encode(event, payload)
	if err != nil {
		return err
	}
	h.metrics.Delivered(event, h.deliver(group, data))
	return nil
}

// Broadcast delivers to every local session.
func (h *Hub) Broadcast(event string, payload any) error {
	data, err := encode(event, payload)
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for c := range h.all {
		if trySend(c, data) {
			n++
		}
	}
	h.metrics.Delivered(event, n)
	return nil
}

func (h *Hub) deliver(group string, data []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for c := range h.groups[group] {
		if trySend(c, data) {
			n++
		}
	}
	return n
}

// trySend never blocks; a session whose buffer is full misses the frame.
func trySend(c *Client, data []byte) bool {
	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

func (h *Hub) GroupSize(group string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[group])
}
