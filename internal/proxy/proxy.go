package proxy

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/clawdeck/clawdeck/internal/auth"
	"github.com/clawdeck/clawdeck/internal/gateway"
	"github.com/clawdeck/clawdeck/internal/logger"
	"github.com/clawdeck/clawdeck/internal/models"
)

// Close codes sent to the browser socket for distinct failure modes.
const (
	CloseNotConfigured       = 4000
	CloseUpstreamUnavailable = 4001
	CloseProtocolViolation   = 4002
)

const (
	firstFrameWait = 10 * time.Second
	writeWait      = 10 * time.Second
)

// SettingsFunc loads the current upstream connection settings, auth token
// already decrypted.
type SettingsFunc func() (*models.ConnectionSettings, error)

// Handler terminates browser sockets and relays them to the upstream
// gateway. The first browser frame must be a connect request; the handler
// swaps in the real auth token (the browser never holds the secret), dials
// exactly one upstream socket for this browser socket, and from then on
// relays frames verbatim in both directions.
type Handler struct {
	auth     *auth.Service
	settings SettingsFunc
	port     int
}

func NewHandler(authService *auth.Service, settings SettingsFunc, port int) *Handler {
	return &Handler{auth: authService, settings: settings, port: port}
}

func (h *Handler) HandleWS(w http.ResponseWriter, r *http.Request) {
	if !h.authenticate(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	browser, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("Proxy upgrade failed: %v", err)
		return
	}
	defer browser.Close()

	// First frame must be a connect request; nothing is dialed before it
	// checks out.
	browser.SetReadDeadline(time.Now().Add(firstFrameWait))
	msgType, first, err := browser.ReadMessage()
	if err != nil {
		return
	}
	browser.SetReadDeadline(time.Time{})

	var frame gateway.Frame
	if err := json.Unmarshal(first, &frame); err != nil || frame.Type != "req" || frame.Method != "connect" {
		closeWith(browser, CloseProtocolViolation, "protocol violation: first frame must be a connect request")
		return
	}

	settings, err := h.settings()
	if err != nil || settings == nil || settings.Host == "" {
		closeWith(browser, CloseNotConfigured, "gateway not configured")
		return
	}

	rewritten, err := injectToken(first, settings.AuthToken)
	if err != nil {
		closeWith(browser, CloseProtocolViolation, "protocol violation: malformed connect params")
		return
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	upstream, _, err := dialer.Dial(settings.URL(), nil)
	if err != nil {
		logger.Warn("Proxy dial %s failed: %v", settings.URL(), err)
		closeWith(browser, CloseUpstreamUnavailable, "upstream unavailable")
		return
	}
	defer upstream.Close()

	if err := upstream.WriteMessage(msgType, rewritten); err != nil {
		closeWith(browser, CloseUpstreamUnavailable, "upstream unavailable")
		return
	}

	logger.WS("proxy", settings.URL())

	done := make(chan struct{}, 2)
	go relay(browser, upstream, done) // upstream -> browser
	go relay(upstream, browser, done) // browser -> upstream
	<-done
}

// injectToken overwrites params.auth.token in the connect frame with the
// stored secret. Only this one frame is re-encoded; everything after is
// relayed byte-for-byte.
func injectToken(raw []byte, token string) ([]byte, error) {
	var frame map[string]json.RawMessage
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, err
	}

	var params map[string]json.RawMessage
	if p, ok := frame["params"]; ok && len(p) > 0 {
		if err := json.Unmarshal(p, &params); err != nil {
			return nil, err
		}
	}
	if params == nil {
		params = make(map[string]json.RawMessage)
	}

	authJSON, err := json.Marshal(map[string]string{"token": token})
	if err != nil {
		return nil, err
	}
	params["auth"] = authJSON

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	frame["params"] = paramsJSON

	return json.Marshal(frame)
}

// relay copies frames from src to dst until either side dies, then
// propagates the close to dst.
func relay(dst, src *websocket.Conn, done chan<- struct{}) {
	defer func() { done <- struct{}{} }()

	for {
		msgType, data, err := src.ReadMessage()
		if err != nil {
			code := websocket.CloseAbnormalClosure
			reason := ""
			if ce, ok := err.(*websocket.CloseError); ok {
				code = ce.Code
				reason = ce.Text
			}
			closeWith(dst, code, reason)
			return
		}
		dst.SetWriteDeadline(time.Now().Add(writeWait))
		if err := dst.WriteMessage(msgType, data); err != nil {
			return
		}
	}
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}

func (h *Handler) authenticate(r *http.Request) bool {
	tokenStr := ""
	if cookie, err := r.Cookie(auth.CookieName); err == nil {
		tokenStr = cookie.Value
	}
	if tokenStr == "" {
		if authHeader := r.Header.Get("Authorization"); authHeader != "" {
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) == 2 {
				tokenStr = parts[1]
			}
		}
	}
	if tokenStr == "" {
		tokenStr = r.URL.Query().Get("ticket")
	}
	if tokenStr == "" {
		return false
	}
	_, err := h.auth.ValidateToken(tokenStr)
	return err == nil
}

func (h *Handler) checkOrigin(req *http.Request) bool {
	origin := req.Header.Get("Origin")
	if origin == "" {
		return true
	}
	allowed := []string{
		fmt.Sprintf("http://localhost:%d", h.port),
		fmt.Sprintf("http://127.0.0.1:%d", h.port),
		fmt.Sprintf("https://localhost:%d", h.port),
		fmt.Sprintf("https://127.0.0.1:%d", h.port),
		"http://localhost:5173",
	}
	for _, a := range allowed {
		if origin == a {
			return true
		}
	}
	return false
}
