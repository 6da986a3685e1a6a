// Package client is the in-process library owning one connection to
// the gateway: connect, authenticate, auto-reconnect with backoff,
// re-join rooms and dispatch incoming events to registered handlers.
package client

import (
	"context"
	"fmt"
	"log"
	"math"
	"math/rand"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/voluntr/realtime/internal/server"
	"github.com/voluntr/realtime/internal/types"
)

type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

// Handler consumes one delivered event. Handlers are invoked on the
// read goroutine in delivery order and must not block for long.
type Handler func(types.Event)

// TypingHandler observes the set of user ids currently typing in a
// room, after every change.
type TypingHandler func(room string, userIds []int)

type Config struct {
	// GatewayURL is the http(s) base URL of the gateway.
	GatewayURL string
	// Token is the session token issued by the REST layer.
	Token string

	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
	// StopTypingDelay is the inactivity window after which stop-typing
	// is emitted for a local typist.
	StopTypingDelay time.Duration
	// TypingExpiry clears a remote typing indicator that never saw a
	// stop-typing.
	TypingExpiry time.Duration

	Logger *log.Logger
}

func (c *Config) defaults() {
	if c.BaseDelay == 0 {
		c.BaseDelay = time.Second
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 10
	}
	if c.StopTypingDelay == 0 {
		c.StopTypingDelay = 2 * time.Second
	}
	if c.TypingExpiry == 0 {
		c.TypingExpiry = 5 * time.Second
	}
	if c.Logger == nil {
		c.Logger = log.Default()
	}
}

// Conn is the connection manager. One instance per process.
type Conn struct {
	cfg Config
	log *log.Logger

	mu      sync.Mutex
	state   State
	conn    *websocket.Conn
	joined  map[string]struct{}
	closed  bool
	running bool
	cancel  context.CancelFunc

	writeMu sync.Mutex

	handlersMu    sync.RWMutex
	handlers      map[types.EventType][]Handler
	catchAll      []Handler
	stateHandlers []func(State)

	typing *typingTracker
}

func New(cfg Config) *Conn {
	cfg.defaults()

	c := &Conn{
		cfg:      cfg,
		log:      cfg.Logger,
		state:    StateDisconnected,
		joined:   make(map[string]struct{}),
		handlers: make(map[types.EventType][]Handler),
	}
	c.typing = newTypingTracker(c)

	return c
}

// On registers a handler for one event type.
func (c *Conn) On(eventType types.EventType, h Handler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.handlers[eventType] = append(c.handlers[eventType], h)
}

// OnAny registers a catch-all handler for event types without a
// dedicated handler.
func (c *Conn) OnAny(h Handler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.catchAll = append(c.catchAll, h)
}

// OnStateChange registers an observer of connection state transitions,
// for passive connectivity indicators.
func (c *Conn) OnStateChange(h func(State)) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.stateHandlers = append(c.stateHandlers, h)
}

// OnTyping registers an observer of remote typing activity.
func (c *Conn) OnTyping(h TypingHandler) {
	c.typing.onChange(h)
}

func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect starts the manager goroutine. It is idempotent: calling it
// while connecting or connected is a no-op.
func (c *Conn) Connect() {
	c.mu.Lock()
	if c.closed || c.running {
		c.mu.Unlock()
		return
	}
	c.running = true

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.mu.Unlock()

	go c.run(ctx)
}

// run is the single manager goroutine: dial, pump, back off, repeat.
// Reconnect attempts are serialized by construction.
func (c *Conn) run(ctx context.Context) {
	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	attempt := 0
	for {
		c.setState(StateConnecting)

		conn, err := c.dial(ctx)
		if err == nil {
			attempt = 0
			c.mu.Lock()
			c.conn = conn
			c.mu.Unlock()

			// re-establish every recorded room before reporting
			// connected, so reconnects are invisible to callers
			c.rejoinRooms()
			c.setState(StateConnected)

			c.readLoop(conn)

			c.mu.Lock()
			c.conn = nil
			c.mu.Unlock()
		}
		c.setState(StateDisconnected)

		if ctx.Err() != nil {
			return
		}

		attempt++
		if attempt > c.cfg.MaxAttempts {
			// give up, the polling fallback keeps the UI consistent
			c.log.Printf("giving up after %d reconnect attempts", c.cfg.MaxAttempts)
			return
		}

		delay := backoff(c.cfg.BaseDelay, c.cfg.MaxDelay, attempt)
		c.log.Printf("reconnecting in %s (attempt %d/%d)", delay, attempt, c.cfg.MaxAttempts)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}
}

func (c *Conn) dial(ctx context.Context) (*websocket.Conn, error) {
	wsURL, err := websocketURL(c.cfg.GatewayURL, c.cfg.Token)
	if err != nil {
		return nil, err
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial gateway: %w", err)
	}

	return conn, nil
}

func websocketURL(gatewayURL, token string) (string, error) {
	u, err := url.Parse(gatewayURL)
	if err != nil {
		return "", fmt.Errorf("parse gateway url: %w", err)
	}

	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	return u.String(), nil
}

func backoff(base, max time.Duration, attempt int) time.Duration {
	d := time.Duration(float64(base) * math.Pow(2, float64(attempt-1)))
	if d > max {
		d = max
	}
	// jitter up to half the base delay so reconnect storms spread out
	return d + time.Duration(rand.Int63n(int64(base/2)+1))
}

func (c *Conn) readLoop(conn *websocket.Conn) {
	for {
		var msg server.ServerMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			conn.Close()
			return
		}

		c.dispatch(&msg)
	}
}

func (c *Conn) dispatch(msg *server.ServerMessage) {
	switch {
	case msg.Event != nil:
		c.dispatchEvent(*msg.Event)
	case msg.Typing != nil:
		c.typing.remoteNotice(msg.Typing.Room, msg.Typing.UserId, msg.Typing.Active)
	case msg.Response != nil:
		if msg.Response.Error != "" {
			c.log.Printf("gateway response %d: %s", msg.Response.ResponseCode, msg.Response.Error)
		}
	}
}

func (c *Conn) dispatchEvent(event types.Event) {
	c.handlersMu.RLock()
	handlers := c.handlers[event.Type]
	catchAll := c.catchAll
	c.handlersMu.RUnlock()

	if len(handlers) == 0 {
		for _, h := range catchAll {
			h(event)
		}
		return
	}

	for _, h := range handlers {
		h(event)
	}
}

func (c *Conn) setState(s State) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	c.mu.Unlock()

	c.handlersMu.RLock()
	handlers := c.stateHandlers
	c.handlersMu.RUnlock()

	for _, h := range handlers {
		h(s)
	}
}

// JoinRoom records the room and joins it if connected. Recorded rooms
// are re-joined automatically after every reconnect.
func (c *Conn) JoinRoom(room string) {
	c.mu.Lock()
	c.joined[room] = struct{}{}
	c.mu.Unlock()

	c.send(&server.ClientMessage{Join: &server.Join{Room: room}})
}

// LeaveRoom forgets the room, cancels any pending stop-typing timer
// for it and tells the gateway.
func (c *Conn) LeaveRoom(room string) {
	c.mu.Lock()
	delete(c.joined, room)
	c.mu.Unlock()

	c.typing.cancelLocal(room)
	c.send(&server.ClientMessage{Leave: &server.Leave{Room: room}})
}

func (c *Conn) rejoinRooms() {
	c.mu.Lock()
	rooms := make([]string, 0, len(c.joined))
	for room := range c.joined {
		rooms = append(rooms, room)
	}
	c.mu.Unlock()

	for _, room := range rooms {
		c.send(&server.ClientMessage{Join: &server.Join{Room: room}})
	}
}

// send marshals to the live connection, silently dropping when
// disconnected; control messages are re-issued on reconnect and events
// are recovered by polling.
func (c *Conn) send(msg *server.ClientMessage) bool {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return false
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := conn.WriteJSON(msg); err != nil {
		c.log.Printf("ws: write: %v", err)
		return false
	}

	return true
}

// Close tears the manager down: no further reconnect attempts, the
// transport is closed and the state settles at disconnected.
func (c *Conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	cancel := c.cancel
	conn := c.conn
	c.mu.Unlock()

	c.typing.stop()
	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close()
	}

	c.setState(StateDisconnected)
}
