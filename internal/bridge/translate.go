package bridge

import (
	"encoding/json"

	"github.com/clawdeck/clawdeck/internal/gateway"
)

// AttachGateway registers translation handlers on the gateway client: each
// gateway event type maps to a room-scoped or global outbound message.
// Returns a detach func that removes every handler.
func (h *Hub) AttachGateway(gw *gateway.Client) func() {
	offs := []func(){
		gw.On(gateway.EventChannelStatus, func(event string, data json.RawMessage) {
			h.BroadcastAll(Message{Type: "channel-status", Data: data})
		}),
		gw.On(gateway.EventPresenceChanged, func(event string, data json.RawMessage) {
			h.BroadcastAll(Message{Type: "presence", Data: data})
		}),
		gw.On(gateway.EventTick, func(event string, data json.RawMessage) {
			h.BroadcastAll(Message{Type: "tick", Data: data})
		}),
		gw.On(gateway.EventSessionCreated, func(event string, data json.RawMessage) {
			h.Broadcast(sessionRoom(data), Message{Type: "session-created", ThreadID: sessionRoom(data), Data: data})
		}),
		gw.On(gateway.EventSessionUpdated, func(event string, data json.RawMessage) {
			h.Broadcast(sessionRoom(data), Message{Type: "session-updated", ThreadID: sessionRoom(data), Data: data})
		}),
		gw.On(gateway.EventChatStream, func(event string, data json.RawMessage) {
			h.Broadcast(sessionRoom(data), Message{Type: "chat-stream", ThreadID: sessionRoom(data), Data: data})
		}),
		gw.On(gateway.EventChatMessage, func(event string, data json.RawMessage) {
			h.Broadcast(sessionRoom(data), Message{Type: "chat-message", ThreadID: sessionRoom(data), Data: data})
		}),
	}

	return func() {
		for _, off := range offs {
			off()
		}
	}
}

// PublishGatewayState pushes the upstream connection state to every browser,
// so the UI can show its disconnected indicator.
func (h *Hub) PublishGatewayState(state gateway.ConnState) {
	data, _ := json.Marshal(map[string]string{"state": state.String()})
	h.BroadcastAll(Message{Type: "gateway-status", Data: data})
}

// sessionRoom extracts the room for a session-tagged event. The session key
// doubles as the thread id, so events land in the thread's room; events
// without a key fall back to the global room.
func sessionRoom(data json.RawMessage) string {
	var tag struct {
		SessionKey string `json:"sessionKey"`
		Key        string `json:"key"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		return GlobalRoom
	}
	if tag.SessionKey != "" {
		return tag.SessionKey
	}
	if tag.Key != "" {
		return tag.Key
	}
	return GlobalRoom
}
