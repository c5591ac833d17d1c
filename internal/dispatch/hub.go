package dispatch

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/example/ride-dispatch/internal/presence"
)

// Envelope is the wire frame for every message on a live channel.
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// driverSession wraps one driver websocket with a write mutex; gorilla
// connections allow a single concurrent writer.
type driverSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *driverSession) Send(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(v)
}

type observerSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (o *observerSession) send(v any) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.conn.WriteJSON(v)
}

// Hub implements Notifier over websockets. Driver channels live in the
// presence registry (a connected driver is by definition online); observer
// connections (riders, admin consoles) are the hub's own broadcast set.
type Hub struct {
	registry *presence.Registry
	log      *slog.Logger

	mu        sync.Mutex
	observers map[*observerSession]struct{}
}

func NewHub(registry *presence.Registry, log *slog.Logger) *Hub {
	return &Hub{
		registry:  registry,
		log:       log,
		observers: make(map[*observerSession]struct{}),
	}
}

// DriverConn is the handle returned when a driver connects. Closing it
// detaches the channel from the registry unless a newer connection has
// already superseded it.
type DriverConn struct {
	hub      *Hub
	driverID string
	sess     *driverSession
}

func (d *DriverConn) Close() {
	d.hub.registry.Detach(d.driverID, d.sess)
	_ = d.sess.conn.Close()
}

// ConnectDriver attaches the websocket as the driver's live channel.
func (h *Hub) ConnectDriver(driverID string, conn *websocket.Conn) *DriverConn {
	sess := &driverSession{conn: conn}
	h.registry.Attach(driverID, sess)
	h.log.Info("driver channel connected", "driver_id", driverID)
	return &DriverConn{hub: h, driverID: driverID, sess: sess}
}

// PushToDriver sends one event to a specific connected driver. A missing or
// broken channel yields ErrChannelUnavailable.
func (h *Hub) PushToDriver(driverID, event string, payload any) error {
	ch := h.registry.ChannelFor(driverID)
	if ch == nil {
		return ErrChannelUnavailable
	}
	if err := ch.Send(Envelope{Event: event, Data: payload}); err != nil {
		return fmt.Errorf("%w: %v", ErrChannelUnavailable, err)
	}
	return nil
}

// AddObserver registers a status-event subscriber and returns a remove
// function for the connection's defer.
func (h *Hub) AddObserver(conn *websocket.Conn) func() {
	o := &observerSession{conn: conn}
	h.mu.Lock()
	h.observers[o] = struct{}{}
	h.mu.Unlock()
	return func() {
		h.mu.Lock()
		delete(h.observers, o)
		h.mu.Unlock()
		_ = conn.Close()
	}
}

// Broadcast fans one event out to every observer, dropping connections
// whose writes fail.
func (h *Hub) Broadcast(event string, payload any) {
	h.mu.Lock()
	targets := make([]*observerSession, 0, len(h.observers))
	for o := range h.observers {
		targets = append(targets, o)
	}
	h.mu.Unlock()

	env := Envelope{Event: event, Data: payload}
	for _, o := range targets {
		if err := o.send(env); err != nil {
			h.log.Warn("observer dropped", "error", err)
			h.mu.Lock()
			delete(h.observers, o)
			h.mu.Unlock()
			_ = o.conn.Close()
		}
	}
}
