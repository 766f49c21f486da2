package signaling

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/wilsonzlin/aero/proxy/screenshare-signaling/internal/coordinator"
	"github.com/wilsonzlin/aero/proxy/screenshare-signaling/internal/identity"
	"github.com/wilsonzlin/aero/proxy/screenshare-signaling/internal/metrics"
)

var (
	ErrUnknownConnection = errors.New("signaling: unknown connection")
	errSendQueueFull     = errors.New("signaling: send queue full")
	errClientClosed      = errors.New("signaling: connection closed")
)

// client is the hub's view of one open socket.
type client struct {
	id    identity.ConnectionID
	send  chan []byte
	done  chan struct{}
	close func()
}

// enqueue never blocks. A full queue drops the frame.
func (c *client) enqueue(frame []byte) error {
	select {
	case <-c.done:
		return errClientClosed
	default:
	}
	select {
	case c.send <- frame:
		return nil
	case <-c.done:
		return errClientClosed
	default:
		return errSendQueueFull
	}
}

// Hub tracks open sockets by ConnectionID and implements
// coordinator.Messenger on top of their send queues.
type Hub struct {
	metrics *metrics.Metrics

	mu      sync.RWMutex
	clients map[identity.ConnectionID]*client
}

var _ coordinator.Messenger = (*Hub)(nil)

func NewHub(m *metrics.Metrics) *Hub {
	return &Hub{
		metrics: m,
		clients: make(map[identity.ConnectionID]*client),
	}
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
}

func (h *Hub) remove(id identity.ConnectionID) {
	h.mu.Lock()
	delete(h.clients, id)
	h.mu.Unlock()
}

func (h *Hub) lookup(id identity.ConnectionID) (*client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[id]
	return c, ok
}

func (h *Hub) snapshot(except identity.ConnectionID) []*client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*client, 0, len(h.clients))
	for id, c := range h.clients {
		if id != except {
			out = append(out, c)
		}
	}
	return out
}

// Len returns the number of open sockets.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// CloseAll closes every open socket.
func (h *Hub) CloseAll() {
	for _, c := range h.snapshot("") {
		c.close()
	}
}

func (h *Hub) DeliverToOne(_ context.Context, conn identity.ConnectionID, event coordinator.Event, payload any) error {
	frame, err := encodeEvent(event, payload)
	if err != nil {
		return err
	}
	c, ok := h.lookup(conn)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownConnection, conn)
	}
	return h.deliver(c, frame)
}

func (h *Hub) DeliverToAll(ctx context.Context, event coordinator.Event, payload any) error {
	return h.DeliverToAllExcept(ctx, "", event, payload)
}

// DeliverToAllExcept queues the event on every socket but except. It reports
// every socket that could not take the frame.
func (h *Hub) DeliverToAllExcept(_ context.Context, except identity.ConnectionID, event coordinator.Event, payload any) error {
	frame, err := encodeEvent(event, payload)
	if err != nil {
		return err
	}
	var errs []error
	for _, c := range h.snapshot(except) {
		if err := h.deliver(c, frame); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h *Hub) deliver(c *client, frame []byte) error {
	err := c.enqueue(frame)
	if errors.Is(err, errSendQueueFull) {
		h.metrics.Inc(metrics.DropReasonQueueFull)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", c.id, err)
	}
	return nil
}
