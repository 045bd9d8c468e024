package pool

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"chart-gateway/src/helpers"
	"chart-gateway/src/logger"
	"chart-gateway/src/models"
	"chart-gateway/src/protocol"

	"github.com/gorilla/websocket"
)

// -----------------------------------------------------------------------------
// Connection state machine
// -----------------------------------------------------------------------------

type ConnState int

const (
	StateConnecting ConnState = iota
	StateAuthenticating
	StateReady
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateReady:
		return "ready"
	default:
		return "closed"
	}
}

// -----------------------------------------------------------------------------

// Connection is one streaming socket plus its logical sessions and the table
// of requests waiting on it. A single receive goroutine owns all reads and
// dispatch; everything shared with sender goroutines sits behind mu.
type Connection struct {
	Key    string
	Logger *logger.Logger

	conn         *websocket.Conn
	chartSession string
	quoteSession string

	mu           sync.Mutex
	state        ConnState
	pending      map[string]chan protocol.Message
	leases       int
	lastActivity time.Time

	writeMu sync.Mutex

	handshakeOnce sync.Once
	handshakeCh   chan struct{}

	closeOnce sync.Once
	closed    chan struct{}
	closeErr  error
}

// -----------------------------------------------------------------------------

// dialConnection opens the socket and starts the receive loop. The caller
// still has to drive the handshake before the connection is Ready.
func dialConnection(key string, cfg *models.MConfig, creds models.MChartingCredentials, log *logger.Logger) (*Connection, error) {
	header := http.Header{}
	if cfg.Charting.Origin != "" {
		header.Set("Origin", cfg.Charting.Origin)
	}
	if creds.SessionID != "" {
		cookie := "sessionid=" + creds.SessionID
		if creds.SessionIDSign != "" {
			cookie += "; sessionid_sign=" + creds.SessionIDSign
		}
		header.Set("Cookie", cookie)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: time.Duration(cfg.Charting.HandshakeTimeoutSeconds) * time.Second,
	}

	ws, _, err := dialer.Dial(cfg.Charting.StreamURL, header)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.Charting.StreamURL, err)
	}

	c := &Connection{
		Key:          key,
		Logger:       log,
		conn:         ws,
		chartSession: protocol.GenerateSessionID("cs"),
		quoteSession: protocol.GenerateSessionID("qs"),
		state:        StateAuthenticating,
		pending:      make(map[string]chan protocol.Message),
		lastActivity: time.Now(),
		handshakeCh:  make(chan struct{}),
		closed:       make(chan struct{}),
	}

	go c.receiveLoop()
	return c, nil
}

// -----------------------------------------------------------------------------

// send encodes and writes one call frame. Gorilla permits a single
// concurrent writer, hence writeMu.
func (c *Connection) send(method string, params ...interface{}) error {
	frame, err := protocol.Encode(protocol.NewCall(method, params...))
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	err = c.conn.WriteMessage(websocket.TextMessage, frame)
	c.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to send %s: %w", method, err)
	}

	c.touch()
	return nil
}

// -----------------------------------------------------------------------------

// receiveLoop is the single reader for this connection. Inbound buffers are
// decoded into logical messages and routed by id; no two handlers for the
// same connection ever run concurrently.
func (c *Connection) receiveLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.closed:
			default:
				c.fail(fmt.Errorf("read failed: %w", err))
			}
			return
		}

		c.touch()

		messages, err := protocol.Decode(data)
		if err != nil {
			// A desynchronized stream cannot be trusted; the frame error
			// is fatal for this connection.
			c.Logger.Error("%s : protocol error, closing connection: %v", c.Key, err)
			c.fail(err)
			return
		}

		for i := range messages {
			c.route(&messages[i])
		}
	}
}

// -----------------------------------------------------------------------------

// route dispatches one logical message to the request waiting on it.
func (c *Connection) route(msg *protocol.Message) {
	if msg.IsHandshake() {
		c.Logger.Debug("%s : handshake ack (server session %s)", c.Key, msg.HandshakeSessionID())
		c.handshakeOnce.Do(func() { close(c.handshakeCh) })
		return
	}

	switch msg.Method {
	case "critical_error", "protocol_error":
		c.fail(helpers.NewProtocolError(fmt.Sprintf("server reported %s", msg.Method), nil))

	case "symbol_resolved", "symbol_error", "series_completed", "study_completed", "study_error":
		// Responses that name the logical id as the second positional param.
		if len(msg.Params) >= 2 {
			if id, ok := msg.Params[1].(string); ok {
				c.deliver(id, *msg)
				return
			}
		}
		c.Logger.Debug("%s : %s without logical id dropped", c.Key, msg.Method)

	case "timescale_update", "du":
		// Data updates arrive as an object keyed by logical id.
		if len(msg.Params) >= 2 {
			if payload, ok := msg.Params[1].(map[string]interface{}); ok {
				delivered := false
				for id := range payload {
					if c.deliver(id, *msg) {
						delivered = true
					}
				}
				if delivered {
					return
				}
			}
		}
		c.Logger.Debug("%s : data update for unknown ids dropped", c.Key)

	default:
		// Control acks and quote noise; nothing is waiting on these.
		c.Logger.Debug("%s : unhandled method %s", c.Key, msg.Method)
	}
}

// -----------------------------------------------------------------------------

// deliver hands a message to the waiter registered under id, if any.
// Responses for unknown ids are dropped: a timed-out caller has already
// removed its entry and must not receive a late result.
func (c *Connection) deliver(id string, msg protocol.Message) bool {
	c.mu.Lock()
	ch, ok := c.pending[id]
	c.mu.Unlock()

	if !ok {
		return false
	}

	select {
	case ch <- msg:
	default:
		c.Logger.Warning("%s : waiter for %s is not draining, message dropped", c.Key, id)
	}
	return true
}

// -----------------------------------------------------------------------------

// register creates a waiter channel for a logical id. Buffered: a series can
// produce several updates before the waiter gets scheduled.
func (c *Connection) register(id string) chan protocol.Message {
	ch := make(chan protocol.Message, 8)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	return ch
}

// unregister removes a waiter. Safe to call after delivery or timeout.
func (c *Connection) unregister(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// -----------------------------------------------------------------------------

func (c *Connection) touch() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

func (c *Connection) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

func (c *Connection) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Connection) setState(s ConnState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Connection) pendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// lease marks the connection as held by a fetch. A fetch holds its lease
// from acquire until it returns, which covers the gap before its first
// logical id is registered.
func (c *Connection) lease() {
	c.mu.Lock()
	c.leases++
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

func (c *Connection) release() {
	c.mu.Lock()
	c.leases--
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

// busy reports whether any fetch is waiting on or holding the connection.
func (c *Connection) busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending) > 0 || c.leases > 0
}

// -----------------------------------------------------------------------------

// fail closes the connection with a cause and wakes every waiter by closing
// their receive path indirectly: waiters notice via the closed channel.
func (c *Connection) fail(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.state = StateClosed
		c.closeErr = err
		c.mu.Unlock()
		close(c.closed)
		c.conn.Close()
	})
}

// Close shuts the connection down without an error cause.
func (c *Connection) Close() {
	c.fail(nil)
}

// CloseErr returns the cause of the shutdown, nil for a clean close.
func (c *Connection) CloseErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeErr
}

// IsAlive reports whether the connection can still take requests.
func (c *Connection) IsAlive() bool {
	select {
	case <-c.closed:
		return false
	default:
		return true
	}
}
