package hub

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/thankyoucode/livekit-webstream/domain"
)

type entry struct {
	conn domain.Connection
	role domain.Role
}

// Hub is the relay registry. A single mutex covers role changes and every
// fan-out, so a broadcast never observes a half-applied registration.
type Hub struct {
	conns    map[string]*entry
	streamer domain.Connection
	viewers  map[string]domain.Connection
	closed   []byte
	mu       sync.Mutex
}

func New() *Hub {
	closed, _ := json.Marshal(domain.Message{Type: domain.TypeBroadcasterClosed})
	return &Hub{
		conns:   make(map[string]*entry),
		viewers: make(map[string]domain.Connection),
		closed:  closed,
	}
}

func (h *Hub) Register(conn domain.Connection) {
	h.mu.Lock()
	h.ensure(conn)
	count := len(h.conns)
	h.mu.Unlock()

	slog.Info("client connected", "clientId", conn.ID(), "clients", count)
}

func (h *Hub) Unregister(conn domain.Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	e, exists := h.conns[conn.ID()]
	if !exists {
		return
	}
	delete(h.conns, conn.ID())

	switch e.role {
	case domain.RoleStreamer:
		h.streamer = nil
		notified := h.broadcast(h.closed)
		slog.Info("streamer disconnected", "clientId", conn.ID(), "notified", notified)
	case domain.RoleViewer:
		delete(h.viewers, conn.ID())
		slog.Info("viewer disconnected", "clientId", conn.ID(), "viewers", len(h.viewers))
	default:
		slog.Info("client disconnected", "clientId", conn.ID(), "clients", len(h.conns))
	}
}

func (h *Hub) ClaimStreamer(conn domain.Connection) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	e := h.ensure(conn)
	if h.streamer != nil && h.streamer.ID() != conn.ID() {
		return domain.ErrStreamerTaken
	}
	if e.role == domain.RoleViewer {
		return domain.ErrRoleAssigned
	}

	e.role = domain.RoleStreamer
	h.streamer = conn
	slog.Info("streamer connected", "clientId", conn.ID())
	return nil
}

func (h *Hub) AddViewer(conn domain.Connection) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	e := h.ensure(conn)
	switch e.role {
	case domain.RoleStreamer:
		return false, domain.ErrRoleAssigned
	case domain.RoleViewer:
		return false, nil
	}

	e.role = domain.RoleViewer
	h.viewers[conn.ID()] = conn
	slog.Info("viewer connected", "clientId", conn.ID(), "viewers", len(h.viewers))
	return true, nil
}

func (h *Hub) RoleOf(conn domain.Connection) domain.Role {
	h.mu.Lock()
	defer h.mu.Unlock()

	if e, ok := h.conns[conn.ID()]; ok {
		return e.role
	}
	return domain.RoleUnassigned
}

// BroadcastToViewers queues data for every open viewer and reports how many
// sends were accepted.
func (h *Hub) BroadcastToViewers(data []byte) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.broadcast(data)
}

func (h *Hub) SendToStreamer(data []byte) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.streamer == nil {
		return false
	}
	return h.send(h.streamer, data)
}

// CloseAll asks every registered connection to close. Each one is removed
// by its own close path.
func (h *Hub) CloseAll(code int, reason string) int {
	h.mu.Lock()
	conns := make([]domain.Connection, 0, len(h.conns))
	for _, e := range h.conns {
		conns = append(conns, e.conn)
	}
	h.mu.Unlock()

	for _, conn := range conns {
		conn.Close(code, reason)
	}
	return len(conns)
}

func (h *Hub) Stats() domain.Stats {
	h.mu.Lock()
	defer h.mu.Unlock()

	return domain.Stats{
		Connections: len(h.conns),
		Viewers:     len(h.viewers),
		Streamer:    h.streamer != nil,
	}
}

func (h *Hub) ensure(conn domain.Connection) *entry {
	e, ok := h.conns[conn.ID()]
	if !ok {
		e = &entry{conn: conn, role: domain.RoleUnassigned}
		h.conns[conn.ID()] = e
	}
	return e
}

func (h *Hub) broadcast(data []byte) int {
	delivered := 0
	for _, viewer := range h.viewers {
		if h.send(viewer, data) {
			delivered++
		}
	}
	return delivered
}

// send must be called with h.mu held. A connection whose queue is full is
// closed off the lock; its close path unregisters it later.
func (h *Hub) send(conn domain.Connection, data []byte) bool {
	if conn.State() != domain.StateOpen {
		return false
	}
	if err := conn.Send(data); err != nil {
		slog.Warn("send failed", "clientId", conn.ID(), "error", err)
		go func(c domain.Connection) {
			c.Close(domain.CloseTryAgainLater, "send buffer full")
		}(conn)
		return false
	}
	return true
}
