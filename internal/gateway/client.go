package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/clawdeck/clawdeck/internal/logger"
)

type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// EventHandler receives unsolicited gateway events. Handlers run on the read
// loop goroutine, so frames are delivered in transport order within one
// socket lifetime.
type EventHandler func(event string, data json.RawMessage)

type Config struct {
	URL   string
	Token string

	// ClientID identifies this client to the gateway.
	ClientID string
	Scopes   []string

	RequestTimeout       time.Duration
	ReconnectInterval    time.Duration
	MaxReconnectInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		URL:                  "ws://localhost:18789/ws/gateway",
		ClientID:             "clawdeck",
		Scopes:               []string{"operator.admin"},
		RequestTimeout:       30 * time.Second,
		ReconnectInterval:    1 * time.Second,
		MaxReconnectInterval: 30 * time.Second,
	}
}

// Client owns one logical connection to the upstream agent gateway. Requests
// multiplex over the socket with correlation ids; events fan out to
// registered handlers. On an unexpected close every pending request fails
// with ErrConnectionLost and the client reconnects with capped exponential
// backoff. Nothing is resent automatically; subscriptions survive reconnects.
type Client struct {
	cfg Config

	// connectMu serializes dial + handshake so concurrent Connect calls
	// (operator-triggered and the reconnect loop) never race into two
	// live sockets.
	connectMu sync.Mutex

	mu      sync.Mutex
	writeMu sync.Mutex
	conn    *websocket.Conn
	state   ConnState
	pending map[string]chan Frame
	subs    map[string]map[int]EventHandler
	nextSub int
	stopped bool
	stopCh  chan struct{}
	lastErr error
}

func NewClient(cfg Config) *Client {
	def := DefaultConfig()
	if cfg.ClientID == "" {
		cfg.ClientID = def.ClientID
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = def.Scopes
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.ReconnectInterval == 0 {
		cfg.ReconnectInterval = def.ReconnectInterval
	}
	if cfg.MaxReconnectInterval == 0 {
		cfg.MaxReconnectInterval = def.MaxReconnectInterval
	}

	return &Client{
		cfg:     cfg,
		pending: make(map[string]chan Frame),
		subs:    make(map[string]map[int]EventHandler),
		stopCh:  make(chan struct{}),
	}
}

func (c *Client) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastError returns the most recent connection-level error, if any.
func (c *Client) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

func (c *Client) IsConnected() bool {
	return c.State() == StateConnected
}

// Configure swaps the endpoint and credentials. An open socket is closed so
// reconnection picks up the new target; subscriptions are retained. When the
// client is idle the caller still owns the initial Connect.
func (c *Client) Configure(url, token string) {
	c.mu.Lock()
	c.cfg.URL = url
	c.cfg.Token = token
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

// Connect dials the gateway and completes the connect handshake. Dial
// failures are reported as ErrUpstreamUnavailable.
func (c *Client) Connect(ctx context.Context) error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	c.mu.Lock()
	if c.state == StateConnected {
		c.mu.Unlock()
		return nil
	}
	if c.stopped {
		c.mu.Unlock()
		return ErrNotConnected
	}
	prev := c.state
	c.state = StateConnecting
	// URL and token are mutable via Configure; snapshot them under the lock.
	url := c.cfg.URL
	token := c.cfg.Token
	c.mu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		c.mu.Lock()
		c.state = prev
		c.lastErr = err
		c.mu.Unlock()
		return fmt.Errorf("%w: dial %s: %v", ErrUpstreamUnavailable, url, err)
	}

	if err := c.handshake(ctx, conn, token); err != nil {
		conn.Close()
		c.mu.Lock()
		c.state = prev
		c.lastErr = err
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.state = StateConnected
	c.lastErr = nil
	c.mu.Unlock()

	go c.readLoop(conn)

	logger.WS("connected", url)
	return nil
}

// handshake sends the connect request as the first frame and waits for its
// response, skipping any events the gateway emits during the exchange.
func (c *Client) handshake(ctx context.Context, conn *websocket.Conn, token string) error {
	params := connectParams{
		MinProtocol: 3,
		MaxProtocol: 3,
		Client: connectClient{
			ID:       c.cfg.ClientID,
			Version:  "clawdeck/1.0",
			Platform: runtime.GOOS,
			Mode:     "backend",
		},
		Role:   "operator",
		Scopes: c.cfg.Scopes,
		Caps:   []string{},
	}
	if token != "" {
		params.Auth = &connectAuth{Token: token}
	}

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal connect params: %w", err)
	}

	reqID := uuid.New().String()
	reqBytes, _ := json.Marshal(Frame{Type: "req", ID: reqID, Method: "connect", Params: paramsJSON})
	if err := conn.WriteMessage(websocket.TextMessage, reqBytes); err != nil {
		return fmt.Errorf("send connect: %w", err)
	}

	deadline := time.Now().Add(10 * time.Second)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	for {
		conn.SetReadDeadline(deadline)
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read connect response: %w", err)
		}

		var resp Frame
		if err := json.Unmarshal(msg, &resp); err != nil {
			continue
		}
		if resp.Type == "event" {
			continue
		}
		if resp.Type == "res" && resp.ID == reqID {
			conn.SetReadDeadline(time.Time{})
			if resp.OK != nil && *resp.OK {
				return nil
			}
			if resp.Error != nil {
				return &RPCError{Code: resp.Error.Code, Message: resp.Error.Message}
			}
			return fmt.Errorf("connect rejected")
		}
	}
}

// readLoop dispatches inbound frames until the socket dies, then fails every
// pending request and kicks off reconnection.
func (c *Client) readLoop(conn *websocket.Conn) {
	defer func() {
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		for id, ch := range c.pending {
			ch <- Frame{Type: "res", ID: id, connLost: true}
			delete(c.pending, id)
		}
		stopped := c.stopped
		if stopped {
			c.state = StateDisconnected
		} else {
			c.state = StateReconnecting
		}
		url := c.cfg.URL
		c.mu.Unlock()

		logger.WS("disconnected", url)
		if !stopped {
			go c.reconnectLoop()
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			c.lastErr = err
			c.mu.Unlock()
			return
		}

		var frame Frame
		if err := json.Unmarshal(msg, &frame); err != nil {
			logger.Warn("Gateway sent unparseable frame: %v", err)
			continue
		}

		switch frame.Type {
		case "res":
			c.mu.Lock()
			ch, ok := c.pending[frame.ID]
			if ok {
				delete(c.pending, frame.ID)
			}
			c.mu.Unlock()
			if ok {
				ch <- frame
			}
		case "event":
			c.dispatch(frame.Event, frame.Payload)
		}
	}
}

func (c *Client) reconnectLoop() {
	backoff := c.cfg.ReconnectInterval
	for {
		// Jitter by ±25% so restarted fleets don't thundering-herd the gateway
		sleep := time.Duration(float64(backoff) * (0.75 + rand.Float64()*0.5))
		select {
		case <-c.stopCh:
			return
		case <-time.After(sleep):
		}

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := c.Connect(ctx)
		cancel()
		if err == nil {
			return
		}
		logger.Warn("Gateway reconnect failed: %v (next attempt in ~%s)", err, backoff*2)

		backoff *= 2
		if backoff > c.cfg.MaxReconnectInterval {
			backoff = c.cfg.MaxReconnectInterval
		}
	}
}

// Request issues an RPC and decodes the response payload into out (which may
// be nil). It fails with ErrNotConnected when no socket exists, ErrTimeout
// when the wait bound elapses, and ErrConnectionLost when the socket closes
// with the request in flight.
func (c *Client) Request(ctx context.Context, method string, params, out any) error {
	c.mu.Lock()
	if c.state != StateConnected || c.conn == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	conn := c.conn

	var raw json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			c.mu.Unlock()
			return fmt.Errorf("marshal %s params: %w", method, err)
		}
		raw = b
	}

	reqID := uuid.New().String()
	respCh := make(chan Frame, 1)
	c.pending[reqID] = respCh
	c.mu.Unlock()

	reqBytes, _ := json.Marshal(Frame{Type: "req", ID: reqID, Method: method, Params: raw})

	c.writeMu.Lock()
	err := conn.WriteMessage(websocket.TextMessage, reqBytes)
	c.writeMu.Unlock()
	if err != nil {
		c.mu.Lock()
		delete(c.pending, reqID)
		c.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrConnectionLost, err)
	}

	timer := time.NewTimer(c.cfg.RequestTimeout)
	defer timer.Stop()

	select {
	case resp := <-respCh:
		if resp.connLost {
			return ErrConnectionLost
		}
		if resp.Error != nil {
			return &RPCError{Code: resp.Error.Code, Message: resp.Error.Message}
		}
		if resp.OK != nil && !*resp.OK {
			return &RPCError{Code: "FAILED", Message: method + " failed"}
		}
		if out != nil && len(resp.Payload) > 0 {
			if err := json.Unmarshal(resp.Payload, out); err != nil {
				return fmt.Errorf("decode %s payload: %w", method, err)
			}
		}
		return nil

	case <-timer.C:
		c.mu.Lock()
		delete(c.pending, reqID)
		c.mu.Unlock()
		return fmt.Errorf("%w: %s after %s", ErrTimeout, method, c.cfg.RequestTimeout)

	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, reqID)
		c.mu.Unlock()
		return ctx.Err()
	}
}

// On registers a handler for a gateway event type and returns its
// unsubscribe func. Subscriptions persist across reconnects.
func (c *Client) On(event string, h EventHandler) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.subs[event] == nil {
		c.subs[event] = make(map[int]EventHandler)
	}
	id := c.nextSub
	c.nextSub++
	c.subs[event][id] = h

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if hs := c.subs[event]; hs != nil {
			delete(hs, id)
			if len(hs) == 0 {
				delete(c.subs, event)
			}
		}
	}
}

func (c *Client) dispatch(event string, data json.RawMessage) {
	if event == "" {
		logger.Warn("Gateway sent event frame with no event name")
		return
	}

	c.mu.Lock()
	hs := c.subs[event]
	handlers := make([]EventHandler, 0, len(hs))
	for _, h := range hs {
		handlers = append(handlers, h)
	}
	c.mu.Unlock()

	for _, h := range handlers {
		h(event, data)
	}
}

// Disconnect tears the connection down for good; no reconnection follows.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	close(c.stopCh)
	conn := c.conn
	c.conn = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	if conn != nil {
		c.writeMu.Lock()
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		conn.Close()
	}
}
