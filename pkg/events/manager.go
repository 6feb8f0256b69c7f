package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// heartbeatInterval is how often the Manager pings each connection
// (spec.md §6: "Heartbeat frames (protocol-level ping) every 30 s").
const heartbeatInterval = 30 * time.Second

// pingTimeout bounds how long one ping waits for its pong. Two consecutive
// failures (spec.md: "unanswered pings after two intervals") close the
// connection.
const pingTimeout = 10 * time.Second

// maxMissedPings is how many consecutive heartbeat failures a connection
// tolerates before Manager closes it.
const maxMissedPings = 2

// writeTimeout bounds a single WebSocket send. A client whose receive
// buffer is full enough to block past this is disconnected rather than
// queued for (spec.md §5: "drop-and-disconnect" for WebSocket clients).
const writeTimeout = 5 * time.Second

// Manager holds the set of live WebSocket connections and their channel
// subscriptions, and implements Hub so a Bus can fan out to it. Grounded
// on the teacher's ConnectionManager/Connection pair, with the Postgres
// catchup/LISTEN machinery removed: spec.md §4.11 states plainly that "no
// historical replay is provided — the REST surface is the source of
// record."
type Manager struct {
	connections map[string]*connection
	mu          sync.RWMutex

	channels  map[Channel]map[string]bool
	channelMu sync.RWMutex
}

// connection is a single WebSocket client.
//
// subscriptions is read/written only from the connection's own read loop
// goroutine (and its deferred cleanup), so it needs no lock of its own —
// mirrors the teacher's Connection.subscriptions comment.
type connection struct {
	id            string
	conn          *websocket.Conn
	subscriptions map[Channel]bool
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewManager constructs an empty Manager.
func NewManager() *Manager {
	return &Manager{
		connections: make(map[string]*connection),
		channels:    make(map[Channel]map[string]bool),
	}
}

// HandleConnection manages one WebSocket connection's lifecycle: message
// read loop, subscription bookkeeping, and heartbeat. Blocks until the
// connection closes or parentCtx is cancelled (daemon shutdown, spec.md §5:
// "WebSocket clients are closed with code 1001 going away").
func (m *Manager) HandleConnection(parentCtx context.Context, wsConn *websocket.Conn) {
	id := uuid.New().String()
	ctx, cancel := context.WithCancel(parentCtx)

	c := &connection{
		id:            id,
		conn:          wsConn,
		subscriptions: make(map[Channel]bool),
		ctx:           ctx,
		cancel:        cancel,
	}

	m.register(c)
	defer m.unregister(c)

	go m.runHeartbeat(c)

	for {
		_, data, err := wsConn.Read(ctx)
		if err != nil {
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("invalid websocket message", "connection_id", id, "error", err)
			continue
		}
		m.handleClientMessage(c, &msg)
	}
}

func (m *Manager) handleClientMessage(c *connection, msg *ClientMessage) {
	switch msg.Type {
	case "subscribe":
		for _, name := range msg.Channels {
			m.subscribe(c, Channel(name))
		}
	case "unsubscribe":
		for _, name := range msg.Channels {
			m.unsubscribe(c, Channel(name))
		}
	}
}

func (m *Manager) subscribe(c *connection, channel Channel) {
	m.channelMu.Lock()
	if m.channels[channel] == nil {
		m.channels[channel] = make(map[string]bool)
	}
	m.channels[channel][c.id] = true
	m.channelMu.Unlock()
	c.subscriptions[channel] = true
}

func (m *Manager) unsubscribe(c *connection, channel Channel) {
	m.channelMu.Lock()
	if subs, ok := m.channels[channel]; ok {
		delete(subs, c.id)
		if len(subs) == 0 {
			delete(m.channels, channel)
		}
	}
	m.channelMu.Unlock()
	delete(c.subscriptions, channel)
}

// Broadcast implements Hub: sends msg to every connection subscribed to
// channel. Per spec.md §4.11, "Slow clients are disconnected if their send
// buffer exceeds a bound" — here, a send that blows past writeTimeout.
func (m *Manager) Broadcast(channel Channel, msg ServerMessage) {
	m.channelMu.RLock()
	ids := make([]string, 0, len(m.channels[channel]))
	for id := range m.channels[channel] {
		ids = append(ids, id)
	}
	m.channelMu.RUnlock()
	if len(ids) == 0 {
		return
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		slog.Warn("failed to marshal broadcast message", "channel", channel, "error", err)
		return
	}

	m.mu.RLock()
	conns := make([]*connection, 0, len(ids))
	for _, id := range ids {
		if c, ok := m.connections[id]; ok {
			conns = append(conns, c)
		}
	}
	m.mu.RUnlock()

	for _, c := range conns {
		if err := m.send(c, payload); err != nil {
			slog.Warn("dropping slow websocket client", "connection_id", c.id, "error", err)
			m.unregister(c)
		}
	}
}

func (m *Manager) send(c *connection, data []byte) error {
	ctx, cancel := context.WithTimeout(c.ctx, writeTimeout)
	defer cancel()
	return c.conn.Write(ctx, websocket.MessageText, data)
}

// runHeartbeat pings the connection every heartbeatInterval; after
// maxMissedPings consecutive failures it closes the connection (spec.md
// §6).
func (m *Manager) runHeartbeat(c *connection) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	missed := 0
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(c.ctx, pingTimeout)
			err := c.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				missed++
				if missed >= maxMissedPings {
					slog.Info("closing websocket connection after missed heartbeats", "connection_id", c.id)
					m.unregister(c)
					return
				}
				continue
			}
			missed = 0
		}
	}
}

func (m *Manager) register(c *connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connections[c.id] = c
}

func (m *Manager) unregister(c *connection) {
	m.mu.Lock()
	_, ok := m.connections[c.id]
	delete(m.connections, c.id)
	m.mu.Unlock()
	if !ok {
		return
	}

	for ch := range c.subscriptions {
		m.unsubscribe(c, ch)
	}
	c.cancel()
	_ = c.conn.Close(websocket.StatusNormalClosure, "")
}

// Shutdown closes every connection with code 1001 (going away), per
// spec.md §5's drain behavior.
func (m *Manager) Shutdown() {
	m.mu.RLock()
	conns := make([]*connection, 0, len(m.connections))
	for _, c := range m.connections {
		conns = append(conns, c)
	}
	m.mu.RUnlock()

	for _, c := range conns {
		_ = c.conn.Close(websocket.StatusGoingAway, "daemon shutting down")
		c.cancel()
	}
}

// ActiveConnections reports the current connection count, for diagnostics.
func (m *Manager) ActiveConnections() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}
