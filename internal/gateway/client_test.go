package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// startFakeGateway runs a minimal gateway that accepts the connect handshake
// and then hands the socket to handle.
func startFakeGateway(t *testing.T, handle func(conn *websocket.Conn)) string {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var f Frame
		if err := conn.ReadJSON(&f); err != nil {
			return
		}
		if f.Type != "req" || f.Method != "connect" {
			return
		}
		ok := true
		conn.WriteJSON(Frame{Type: "res", ID: f.ID, OK: &ok})

		if handle != nil {
			handle(conn)
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func waitForState(t *testing.T, c *Client, want ConnState) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("State() = %v, want %v", c.State(), want)
}

func TestConnectAndRequest(t *testing.T) {
	url := startFakeGateway(t, func(conn *websocket.Conn) {
		for {
			var f Frame
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			if f.Type == "req" {
				ok := true
				conn.WriteJSON(Frame{Type: "res", ID: f.ID, OK: &ok})
			}
		}
	})

	c := NewClient(Config{URL: url, Token: "test-token"})
	defer c.Disconnect()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}
	if got := c.State(); got != StateConnected {
		t.Errorf("State() = %v, want %v", got, StateConnected)
	}

	if err := c.Health(context.Background()); err != nil {
		t.Errorf("Health returned error: %v", err)
	}
}

func TestConcurrentConnectDialsOnce(t *testing.T) {
	var handshakes atomic.Int32
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var f Frame
		if err := conn.ReadJSON(&f); err != nil {
			return
		}
		handshakes.Add(1)
		ok := true
		conn.WriteJSON(Frame{Type: "res", ID: f.ID, OK: &ok})

		// Hold the socket open so the winner stays connected
		for {
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	c := NewClient(Config{URL: "ws" + strings.TrimPrefix(srv.URL, "http")})
	defer c.Disconnect()

	errs := make([]error, 4)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = c.Connect(context.Background())
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("Connect #%d returned error: %v", i, err)
		}
	}
	if got := handshakes.Load(); got != 1 {
		t.Errorf("gateway completed %d handshakes, want 1", got)
	}
	if got := c.State(); got != StateConnected {
		t.Errorf("State() = %v, want %v", got, StateConnected)
	}
}

func TestRequestNotConnected(t *testing.T) {
	c := NewClient(Config{URL: "ws://127.0.0.1:1/ws"})
	err := c.Request(context.Background(), "health", nil, nil)
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("error = %v, want %v", err, ErrNotConnected)
	}
}

func TestConnectUpstreamUnavailable(t *testing.T) {
	c := NewClient(Config{URL: "ws://127.0.0.1:1/ws"})
	err := c.Connect(context.Background())
	if !errors.Is(err, ErrUpstreamUnavailable) {
		t.Errorf("error = %v, want %v", err, ErrUpstreamUnavailable)
	}
	if got := c.State(); got != StateDisconnected {
		t.Errorf("State() = %v, want %v", got, StateDisconnected)
	}
}

func TestPendingRequestFailsOnDisconnect(t *testing.T) {
	url := startFakeGateway(t, func(conn *websocket.Conn) {
		// Read the request but close instead of answering
		var f Frame
		conn.ReadJSON(&f)
	})

	c := NewClient(Config{URL: url})
	defer c.Disconnect()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}

	err := c.SendChat(context.Background(), "session-1", "hello")
	if !errors.Is(err, ErrConnectionLost) {
		t.Errorf("error = %v, want %v", err, ErrConnectionLost)
	}
}

func TestRequestTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	url := startFakeGateway(t, func(conn *websocket.Conn) {
		var f Frame
		conn.ReadJSON(&f)
		// Hold the socket open without answering
		<-release
	})

	c := NewClient(Config{URL: url, RequestTimeout: 50 * time.Millisecond})
	defer c.Disconnect()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}

	err := c.Request(context.Background(), "session.list", nil, nil)
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("error = %v, want %v", err, ErrTimeout)
	}
}

func TestRPCErrorPropagation(t *testing.T) {
	url := startFakeGateway(t, func(conn *websocket.Conn) {
		for {
			var f Frame
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			conn.WriteJSON(Frame{Type: "res", ID: f.ID, Error: &FrameError{Code: "NOT_FOUND", Message: "no such session"}})
		}
	})

	c := NewClient(Config{URL: url})
	defer c.Disconnect()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}

	err := c.AbortChat(context.Background(), "missing")
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("error = %v, want *RPCError", err)
	}
	if rpcErr.Code != "NOT_FOUND" {
		t.Errorf("rpcErr.Code = %q, want %q", rpcErr.Code, "NOT_FOUND")
	}
}

func TestDisconnectedErrorCodeFromWireIsRPCError(t *testing.T) {
	// A gateway is free to use "DISCONNECTED" as an application error code;
	// only a genuine socket loss maps to ErrConnectionLost.
	url := startFakeGateway(t, func(conn *websocket.Conn) {
		for {
			var f Frame
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			conn.WriteJSON(Frame{Type: "res", ID: f.ID, Error: &FrameError{Code: "DISCONNECTED", Message: "agent went away"}})
		}
	})

	c := NewClient(Config{URL: url})
	defer c.Disconnect()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}

	err := c.Health(context.Background())
	if errors.Is(err, ErrConnectionLost) {
		t.Fatalf("wire error reported as connection loss: %v", err)
	}
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("error = %v, want *RPCError", err)
	}
	if rpcErr.Code != "DISCONNECTED" {
		t.Errorf("rpcErr.Code = %q, want %q", rpcErr.Code, "DISCONNECTED")
	}
}

func TestEventDispatch(t *testing.T) {
	url := startFakeGateway(t, func(conn *websocket.Conn) {
		conn.WriteJSON(Frame{Type: "event", Event: EventChannelStatus, Payload: []byte(`{"name":"slack","status":"up"}`)})
		var f Frame
		conn.ReadJSON(&f)
	})

	c := NewClient(Config{URL: url})
	defer c.Disconnect()

	got := make(chan string, 1)
	c.On(EventChannelStatus, func(event string, data json.RawMessage) {
		got <- event
	})

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}

	select {
	case ev := <-got:
		if ev != EventChannelStatus {
			t.Errorf("event = %q, want %q", ev, EventChannelStatus)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler was not invoked")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	c := NewClient(Config{URL: "ws://127.0.0.1:1/ws"})

	var calls int
	off := c.On("session.updated", func(event string, data json.RawMessage) {
		calls++
	})

	c.dispatch("session.updated", nil)
	off()
	c.dispatch("session.updated", nil)

	if calls != 1 {
		t.Errorf("handler called %d times, want 1", calls)
	}
}

func TestReconnectsAfterDrop(t *testing.T) {
	url := startFakeGateway(t, nil) // closes right after the handshake

	c := NewClient(Config{URL: url, ReconnectInterval: 10 * time.Millisecond})
	defer c.Disconnect()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}

	// The fake gateway keeps accepting new handshakes, so the client should
	// come back on its own after the drop.
	deadline := time.Now().Add(2 * time.Second)
	sawReconnecting := false
	for time.Now().Before(deadline) {
		if c.State() == StateReconnecting {
			sawReconnecting = true
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	if !sawReconnecting && c.State() != StateConnected {
		t.Errorf("State() = %v, want reconnecting or connected after drop", c.State())
	}
}

func TestDisconnectIsTerminal(t *testing.T) {
	url := startFakeGateway(t, func(conn *websocket.Conn) {
		var f Frame
		conn.ReadJSON(&f)
	})

	c := NewClient(Config{URL: url})
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}

	c.Disconnect()
	waitForState(t, c, StateDisconnected)

	if err := c.Request(context.Background(), "health", nil, nil); !errors.Is(err, ErrNotConnected) {
		t.Errorf("error after Disconnect = %v, want %v", err, ErrNotConnected)
	}
}
