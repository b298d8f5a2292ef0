package gateway

import "encoding/json"

// Frame is a raw protocol frame. Requests go out as {type:"req",id,method,
// params}; the socket multiplexes responses (matched by id) and unsolicited
// events (matched by the event name) coming back.
type Frame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	OK      *bool           `json:"ok,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Event   string          `json:"event,omitempty"`
	Error   *FrameError     `json:"error,omitempty"`

	// connLost marks the synthetic response injected when the socket dies
	// with the request in flight. Unexported so no wire frame can set it.
	connLost bool
}

type FrameError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// connectParams is sent as the "connect" request. params.auth.token carries
// the bearer secret.
type connectParams struct {
	MinProtocol int           `json:"minProtocol"`
	MaxProtocol int           `json:"maxProtocol"`
	Client      connectClient `json:"client"`
	Auth        *connectAuth  `json:"auth,omitempty"`
	Role        string        `json:"role"`
	Scopes      []string      `json:"scopes"`
	Caps        []string      `json:"caps"`
}

type connectClient struct {
	ID       string `json:"id"`
	Version  string `json:"version"`
	Platform string `json:"platform"`
	Mode     string `json:"mode"`
}

type connectAuth struct {
	Token string `json:"token,omitempty"`
}

// Gateway event names this client subscribes to.
const (
	EventChatStream      = "chat.stream"
	EventChatMessage     = "chat.message"
	EventToolUse         = "chat.toolUse"
	EventToolResult      = "chat.toolResult"
	EventSessionCreated  = "session.created"
	EventSessionUpdated  = "session.updated"
	EventChannelStatus   = "channel.status"
	EventPresenceChanged = "presence.changed"
	EventTick            = "tick"
)

// SessionInfo describes one gateway-side agent run. The session key doubles
// as a thread identifier in the dashboard's data model.
type SessionInfo struct {
	Key            string `json:"key"`
	Channel        string `json:"channel,omitempty"`
	AgentID        string `json:"agentId,omitempty"`
	Model          string `json:"model,omitempty"`
	ThinkingLevel  string `json:"thinkingLevel,omitempty"`
	MessageCount   int    `json:"messageCount"`
	LastActivityAt int64  `json:"lastActivityAt,omitempty"`
}

// AgentInfo describes a configured agent on the gateway.
type AgentInfo struct {
	ID     string `json:"id"`
	Name   string `json:"name,omitempty"`
	Model  string `json:"model,omitempty"`
	Prompt string `json:"prompt,omitempty"`
}

// ChannelInfo describes one gateway channel and its connection status.
type ChannelInfo struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

// ApprovalRequest is a pending exec approval on the gateway.
type ApprovalRequest struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionId"`
	Command   string `json:"command"`
	CreatedAt int64  `json:"createdAt"`
}
