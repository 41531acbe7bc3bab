package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/polyagents/polyagents/pkg/models"
)

const (
	// defaultWriteTimeout bounds a single WebSocket write.
	defaultWriteTimeout = 10 * time.Second

	// idleInterval is how long a connection may go without traffic
	// before the server sends a keep-alive "ping".
	idleInterval = 30 * time.Second

	// sweepInterval is how often idle connections are checked.
	sweepInterval = 10 * time.Second

	// defaultCatchupCount is the history size replayed when a catchup
	// request carries no count; maxCatchupCount caps client requests.
	defaultCatchupCount = 50
	maxCatchupCount     = 200
)

// HistorySource replays recent conversation messages for catchup
// requests. Implemented by bus.Bus.
type HistorySource interface {
	History(ctx context.Context, conversationID string, count int64) ([]*models.Message, error)
}

// ConnectionManager adapts WebSocket connections into hub subscribers.
// Each Handle call serves one connection until it closes: events flow
// subscriber-ward through the hub, and the read loop answers keep-alives
// ("ping" → "pong") and catchup requests.
type ConnectionManager struct {
	hub     *Hub
	history HistorySource
	relay   *Relay // nil when cross-instance relaying is disabled

	writeTimeout  time.Duration
	idleInterval  time.Duration // shortened by tests
	sweepInterval time.Duration

	mu     sync.Mutex
	conns  map[string]*wsConn
	closed bool
	stop   chan struct{}
	done   chan struct{}
}

// NewConnectionManager creates a manager publishing through hub. history
// may be nil to disable catchup and relay may be nil on single-instance
// deployments.
func NewConnectionManager(hub *Hub, history HistorySource, relay *Relay) *ConnectionManager {
	return &ConnectionManager{
		hub:           hub,
		history:       history,
		relay:         relay,
		writeTimeout:  defaultWriteTimeout,
		idleInterval:  idleInterval,
		sweepInterval: sweepInterval,
		conns:         make(map[string]*wsConn),
	}
}

// wsConn is one WebSocket client registered as a hub subscriber.
type wsConn struct {
	id             string
	conversationID string
	sock           *websocket.Conn
	writeTimeout   time.Duration

	mu        sync.Mutex // serializes writes and guards lastWrite
	lastWrite time.Time
}

func (c *wsConn) ID() string { return c.id }

// Send writes one text frame, bounded by the write timeout.
func (c *wsConn) Send(data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.writeTimeout)
	defer cancel()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastWrite = time.Now()
	return c.sock.Write(ctx, websocket.MessageText, data)
}

func (c *wsConn) idleFor(now time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return now.Sub(c.lastWrite)
}

// Handle upgrades the request to a WebSocket and serves it until the
// client disconnects or the manager shuts down. It blocks, so callers
// run it on the request goroutine.
func (m *ConnectionManager) Handle(w http.ResponseWriter, r *http.Request, conversationID string) error {
	sock, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Origin policy is enforced by the CORS middleware in front.
		InsecureSkipVerify: true,
	})
	if err != nil {
		return err
	}

	if m.hub == nil {
		return sock.Close(websocket.StatusTryAgainLater, "event hub unavailable")
	}

	c := &wsConn{
		id:             uuid.NewString(),
		conversationID: conversationID,
		sock:           sock,
		writeTimeout:   m.writeTimeout,
		lastWrite:      time.Now(),
	}
	if !m.register(c) {
		return sock.Close(websocket.StatusTryAgainLater, "server is shutting down")
	}
	defer m.unregister(c)

	m.hub.Attach(conversationID, c)
	defer m.hub.Detach(conversationID, c.id)

	if m.relay != nil {
		if err := m.relay.Attach(conversationID); err != nil {
			slog.Warn("Bus relay unavailable for conversation",
				"conversation_id", conversationID, "error", err)
		} else {
			defer m.relay.Detach(conversationID)
		}
	}

	slog.Info("WebSocket client connected",
		"conversation_id", conversationID, "connection_id", c.id)
	m.readLoop(r.Context(), c)
	slog.Info("WebSocket client disconnected",
		"conversation_id", conversationID, "connection_id", c.id)
	return nil
}

// readLoop processes client messages until the connection closes. The
// bare text "ping" is answered with "pong"; everything else must be a
// JSON ClientMessage and unknown messages are ignored.
func (m *ConnectionManager) readLoop(ctx context.Context, c *wsConn) {
	for {
		_, data, err := c.sock.Read(ctx)
		if err != nil {
			return
		}

		if string(data) == "ping" {
			if err := c.Send([]byte("pong")); err != nil {
				return
			}
			continue
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Debug("Ignoring unparseable WebSocket message",
				"connection_id", c.id, "error", err)
			continue
		}

		switch msg.Action {
		case "catchup":
			m.sendCatchup(ctx, c, msg.Count)
		default:
			slog.Debug("Ignoring unknown WebSocket action",
				"connection_id", c.id, "action", msg.Action)
		}
	}
}

// sendCatchup replays the most recent history to one connection as
// message events, oldest first.
func (m *ConnectionManager) sendCatchup(ctx context.Context, c *wsConn, count int64) {
	if m.history == nil {
		return
	}
	if count <= 0 {
		count = defaultCatchupCount
	}
	if count > maxCatchupCount {
		count = maxCatchupCount
	}

	msgs, err := m.history.History(ctx, c.conversationID, count)
	if err != nil {
		slog.Warn("Catchup history read failed",
			"conversation_id", c.conversationID, "error", err)
		return
	}
	for _, msg := range msgs {
		data, err := json.Marshal(NewMessage(msg))
		if err != nil {
			continue
		}
		if err := c.Send(data); err != nil {
			return
		}
	}
}

// Start launches the keep-alive sweep that pings idle connections.
func (m *ConnectionManager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stop != nil || m.closed {
		return
	}
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	go m.sweepLoop(m.stop, m.done)
}

func (m *ConnectionManager) sweepLoop(stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.pingIdle()
		}
	}
}

// pingIdle sends a keep-alive "ping" to every connection without traffic
// for idleInterval. A connection that cannot be written to is left for
// its read loop to reap.
func (m *ConnectionManager) pingIdle() {
	m.mu.Lock()
	conns := make([]*wsConn, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.Unlock()

	now := time.Now()
	for _, c := range conns {
		if c.idleFor(now) < m.idleInterval {
			continue
		}
		if err := c.Send([]byte("ping")); err != nil {
			slog.Debug("Keep-alive ping failed", "connection_id", c.id, "error", err)
		}
	}
}

// Shutdown stops the keep-alive sweep, refuses new connections, and
// closes every open one. Safe to call more than once.
func (m *ConnectionManager) Shutdown() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	stop, done := m.stop, m.done
	m.stop, m.done = nil, nil
	conns := make([]*wsConn, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
	for _, c := range conns {
		_ = c.sock.Close(websocket.StatusGoingAway, "server is shutting down")
	}
}

// ActiveConnections returns the number of open WebSocket connections.
func (m *ConnectionManager) ActiveConnections() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}

func (m *ConnectionManager) register(c *wsConn) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	m.conns[c.id] = c
	return true
}

func (m *ConnectionManager) unregister(c *wsConn) {
	m.mu.Lock()
	delete(m.conns, c.id)
	m.mu.Unlock()
	_ = c.sock.Close(websocket.StatusNormalClosure, "")
}
