package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"koma-chat/internal/broker"
	"koma-chat/pkg/logger"
)

// Hub is the broadcast group for one room.
type Hub struct {
	room string

	mu           sync.RWMutex
	clients      map[*Client]struct{}
	lastActivity time.Time

	// publishMu keeps every subscriber's view of the room in the same order.
	publishMu sync.Mutex
}

func NewHub(room string) *Hub {
	return &Hub{
		room:         room,
		clients:      make(map[*Client]struct{}),
		lastActivity: time.Now(),
	}
}

func (h *Hub) Room() string { return h.room }

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[c] = struct{}{}
	h.lastActivity = time.Now()
}

func (h *Hub) remove(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; !ok {
		return false
	}
	delete(h.clients, c)
	h.lastActivity = time.Now()
	return true
}

// Publish queues payload for every subscriber without blocking. Subscribers
// whose queue is full are dropped from the hub and closed. It returns how
// many subscribers accepted the payload.
func (h *Hub) Publish(payload []byte) int {
	h.publishMu.Lock()
	defer h.publishMu.Unlock()

	h.mu.RLock()
	delivered := 0
	var failed []*Client
	for c := range h.clients {
		if c.Send(payload) {
			delivered++
		} else {
			failed = append(failed, c)
		}
	}
	h.mu.RUnlock()

	if len(failed) > 0 {
		h.mu.Lock()
		for _, c := range failed {
			delete(h.clients, c)
		}
		h.mu.Unlock()

		for _, c := range failed {
			logger.Warn("Disconnecting slow client %s (%s) from room %s", c.ID(), c.Username(), h.room)
			c.Close()
		}
	}

	h.mu.Lock()
	h.lastActivity = time.Now()
	h.mu.Unlock()
	return delivered
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) idleSince() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastActivity
}

func (h *Hub) snapshot() []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	return clients
}

var ErrShuttingDown = errors.New("hub manager is shutting down")

// Manager owns the per-room hubs and routes publishes through the broker.
type Manager struct {
	mu           sync.Mutex
	hubs         map[string]*Hub
	broker       broker.Broker
	shuttingDown bool

	idleTimeout time.Duration
	stop        chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
}

func NewManager(b broker.Broker, idleTimeout time.Duration) *Manager {
	return &Manager{
		hubs:        make(map[string]*Hub),
		broker:      b,
		idleTimeout: idleTimeout,
		stop:        make(chan struct{}),
	}
}

// Start subscribes to the broker and launches idle hub cleanup.
func (m *Manager) Start(ctx context.Context) error {
	if err := m.broker.Subscribe(ctx, m.deliver); err != nil {
		return fmt.Errorf("subscribe to broker: %w", err)
	}

	if m.idleTimeout > 0 {
		m.wg.Add(1)
		go m.cleanupUnusedHubs()
	}
	return nil
}

func (m *Manager) deliver(room string, payload []byte) {
	m.mu.Lock()
	hub := m.hubs[room]
	m.mu.Unlock()

	if hub != nil {
		hub.Publish(payload)
	}
}

// Subscribe adds c to room's hub, creating the hub when needed. It fails
// once Shutdown has started.
func (m *Manager) Subscribe(room string, c *Client) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.shuttingDown {
		return ErrShuttingDown
	}

	hub, ok := m.hubs[room]
	if !ok {
		hub = NewHub(room)
		m.hubs[room] = hub
		logger.Debug("Created hub for room %s", room)
	}
	hub.add(c)
	return nil
}

// Unsubscribe removes c from room's hub. It is safe to call more than once.
func (m *Manager) Unsubscribe(room string, c *Client) {
	m.mu.Lock()
	hub := m.hubs[room]
	m.mu.Unlock()

	if hub != nil {
		hub.remove(c)
	}
}

// Publish marshals event once and sends it to every subscriber of room on
// every instance.
func (m *Manager) Publish(ctx context.Context, room string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %T: %w", event, err)
	}
	return m.PublishRaw(ctx, room, payload)
}

func (m *Manager) PublishRaw(ctx context.Context, room string, payload []byte) error {
	if err := m.broker.Publish(ctx, room, payload); err != nil {
		return fmt.Errorf("publish to room %s: %w", room, err)
	}
	return nil
}

func (m *Manager) ClientCount(room string) int {
	m.mu.Lock()
	hub := m.hubs[room]
	m.mu.Unlock()

	if hub == nil {
		return 0
	}
	return hub.Len()
}

// Rooms lists rooms that currently have a hub.
func (m *Manager) Rooms() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	rooms := make([]string, 0, len(m.hubs))
	for room := range m.hubs {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)
	return rooms
}

// ReapIdle removes hubs that have had no subscribers since before cutoff.
func (m *Manager) ReapIdle(cutoff time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for room, hub := range m.hubs {
		if hub.Len() == 0 && hub.idleSince().Before(cutoff) {
			delete(m.hubs, room)
			removed++
			logger.Debug("Cleaned up unused hub for room %s", room)
		}
	}
	return removed
}

func (m *Manager) cleanupUnusedHubs() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.idleTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case now := <-ticker.C:
			m.ReapIdle(now.Add(-m.idleTimeout))
		}
	}
}

// Shutdown closes every session and waits for them to unsubscribe or for
// ctx to expire.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.stopOnce.Do(func() { close(m.stop) })
	m.wg.Wait()

	m.mu.Lock()
	m.shuttingDown = true
	var clients []*Client
	for _, hub := range m.hubs {
		clients = append(clients, hub.snapshot()...)
	}
	m.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}

	for _, c := range clients {
		select {
		case <-c.Done():
		case <-ctx.Done():
			return fmt.Errorf("waiting for %d sessions to close: %w", len(clients), ctx.Err())
		}
	}
	return nil
}
