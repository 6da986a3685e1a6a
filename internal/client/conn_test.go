package client

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/voluntr/realtime/internal/server"
	"github.com/voluntr/realtime/internal/testutil"
	"github.com/voluntr/realtime/internal/types"
)

// fakeGateway is a minimal ws endpoint recording everything the
// connection manager sends and able to push messages back.
type fakeGateway struct {
	ts       *httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	conns    []*websocket.Conn
	received []server.ClientMessage
	dials    int
}

func newFakeGateway(t *testing.T) *fakeGateway {
	t.Helper()

	g := &fakeGateway{
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		conn, err := g.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		g.mu.Lock()
		g.dials++
		g.conns = append(g.conns, conn)
		g.mu.Unlock()

		go func() {
			for {
				var msg server.ClientMessage
				if err := conn.ReadJSON(&msg); err != nil {
					return
				}
				g.mu.Lock()
				g.received = append(g.received, msg)
				g.mu.Unlock()
			}
		}()
	})

	g.ts = httptest.NewServer(mux)
	t.Cleanup(g.ts.Close)

	return g
}

func (g *fakeGateway) push(t *testing.T, msg *server.ServerMessage) {
	t.Helper()

	g.mu.Lock()
	defer g.mu.Unlock()

	require.NotEmpty(t, g.conns, "no connection to push to")
	require.NoError(t, g.conns[len(g.conns)-1].WriteJSON(msg))
}

func (g *fakeGateway) closeAll() {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, conn := range g.conns {
		conn.Close()
	}
	g.conns = nil
}

func (g *fakeGateway) dialCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dials
}

func (g *fakeGateway) countJoins(room string) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	var n int
	for _, msg := range g.received {
		if msg.Join != nil && msg.Join.Room == room {
			n++
		}
	}
	return n
}

func (g *fakeGateway) typingNotices(room string) (active, inactive int) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, msg := range g.received {
		if msg.Typing != nil && msg.Typing.Room == room {
			if msg.Typing.Active {
				active++
			} else {
				inactive++
			}
		}
	}
	return active, inactive
}

func newTestConn(t *testing.T, g *fakeGateway) *Conn {
	t.Helper()

	c := New(Config{
		GatewayURL:      g.ts.URL,
		Token:           "test-token",
		BaseDelay:       10 * time.Millisecond,
		MaxDelay:        50 * time.Millisecond,
		MaxAttempts:     100,
		StopTypingDelay: 75 * time.Millisecond,
		TypingExpiry:    100 * time.Millisecond,
		Logger:          testutil.TestLogger(t),
	})
	t.Cleanup(c.Close)

	return c
}

func waitForState(t *testing.T, c *Conn, want State) {
	t.Helper()

	assert.Eventually(t, func() bool {
		return c.State() == want
	}, 2*time.Second, 10*time.Millisecond, "expected state %s", want)
}

func TestConn_dispatchesEvents(t *testing.T) {
	g := newFakeGateway(t)
	c := newTestConn(t, g)

	got := make(chan types.Event, 1)
	c.On(types.EventNotification, func(e types.Event) {
		got <- e
	})

	fallback := make(chan types.Event, 1)
	c.OnAny(func(e types.Event) {
		fallback <- e
	})

	c.Connect()
	waitForState(t, c, StateConnected)

	g.push(t, &server.ServerMessage{
		Event: &types.Event{
			Id:      "n-1",
			Type:    types.EventNotification,
			UserId:  1,
			Payload: json.RawMessage(`{"id":5,"message":"hi"}`),
		},
	})

	select {
	case e := <-got:
		assert.Equal(t, "n-1", e.Id, "expected the pushed event")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the event handler")
	}

	// a type without a dedicated handler falls through to the catch-all
	g.push(t, &server.ServerMessage{
		Event: &types.Event{Id: "a-1", Type: types.EventAchievement, UserId: 1},
	})

	select {
	case e := <-fallback:
		assert.Equal(t, "a-1", e.Id, "expected the unhandled event on the catch-all")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the catch-all handler")
	}
}

func TestConn_connectIsIdempotent(t *testing.T) {
	g := newFakeGateway(t)
	c := newTestConn(t, g)

	c.Connect()
	c.Connect()
	c.Connect()
	waitForState(t, c, StateConnected)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, g.dialCount(), "expected a single dial despite repeated Connect calls")
}

func TestConn_rejoinsRoomsAfterReconnect(t *testing.T) {
	g := newFakeGateway(t)
	c := newTestConn(t, g)

	c.Connect()
	waitForState(t, c, StateConnected)

	c.JoinRoom("chat:7")
	assert.Eventually(t, func() bool {
		return g.countJoins("chat:7") == 1
	}, 2*time.Second, 10*time.Millisecond, "expected the initial join")

	// drop the connection out from under the client
	g.closeAll()

	assert.Eventually(t, func() bool {
		return g.dialCount() >= 2 && g.countJoins("chat:7") >= 2
	}, 2*time.Second, 10*time.Millisecond, "expected a reconnect that re-joins chat:7")
}

func TestConn_reportsStateTransitions(t *testing.T) {
	g := newFakeGateway(t)
	c := newTestConn(t, g)

	var (
		mu     sync.Mutex
		states []State
	)
	c.OnStateChange(func(s State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})

	c.Connect()
	waitForState(t, c, StateConnected)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{StateConnecting, StateConnected}, states, "expected connecting then connected")
}

func TestConn_closeStopsReconnecting(t *testing.T) {
	g := newFakeGateway(t)
	c := newTestConn(t, g)

	c.Connect()
	waitForState(t, c, StateConnected)

	c.Close()
	waitForState(t, c, StateDisconnected)

	dials := g.dialCount()
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, dials, g.dialCount(), "expected no reconnect attempts after Close")

	// Connect after Close stays a no-op
	c.Connect()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, dials, g.dialCount(), "expected Connect after Close to do nothing")
}

func Test_websocketURL(t *testing.T) {
	tcases := []struct {
		name    string
		gateway string
		want    string
		err     bool
	}{
		{name: "http", gateway: "http://gw.local:8000", want: "ws://gw.local:8000/ws?token=tok"},
		{name: "https", gateway: "https://gw.local", want: "wss://gw.local/ws?token=tok"},
		{name: "ws passthrough", gateway: "ws://gw.local", want: "ws://gw.local/ws?token=tok"},
		{name: "trailing slash", gateway: "http://gw.local/", want: "ws://gw.local/ws?token=tok"},
		{name: "unsupported scheme", gateway: "ftp://gw.local", err: true},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := websocketURL(tc.gateway, "tok")
			if tc.err {
				assert.Error(t, err, "expected an error")
				return
			}

			assert.NoError(t, err, "expected no error")
			assert.Equal(t, tc.want, got, "expected the ws url to match")
		})
	}
}

func Test_backoff(t *testing.T) {
	base := 100 * time.Millisecond
	max := time.Second

	prev := time.Duration(0)
	for attempt := 1; attempt <= 4; attempt++ {
		d := backoff(base, max, attempt)
		assert.GreaterOrEqual(t, d, prev, "expected delays to be non-decreasing")
		assert.LessOrEqual(t, d, max+base/2, "expected the delay to stay within max plus jitter")
		prev = time.Duration(float64(base) * float64(int(1)<<uint(attempt-1)))
		if prev > max {
			prev = max
		}
	}

	// deep attempts stay capped
	d := backoff(base, max, 30)
	assert.LessOrEqual(t, d, max+base/2, "expected the capped delay")
	assert.GreaterOrEqual(t, d, max, "expected the delay to reach max")
}
