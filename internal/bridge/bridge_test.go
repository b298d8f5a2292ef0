package bridge

import (
	"encoding/json"
	"testing"

	"github.com/clawdeck/clawdeck/internal/gateway"
)

func newTestClient(buf int) *Client {
	return &Client{
		send:  make(chan []byte, buf),
		rooms: make(map[string]bool),
	}
}

func drain(c *Client) []Message {
	var out []Message
	for {
		select {
		case data := <-c.send:
			var m Message
			if err := json.Unmarshal(data, &m); err == nil {
				out = append(out, m)
			}
		default:
			return out
		}
	}
}

func TestBroadcastScopedToRoom(t *testing.T) {
	h := NewHub(nil, 0)
	a := newTestClient(8)
	b := newTestClient(8)
	h.Subscribe("thread-a", a)
	h.Subscribe("thread-b", b)

	// Interleave room-scoped and global sends in the same tick.
	h.Broadcast("thread-a", Message{Type: "only-a", ThreadID: "thread-a"})
	h.BroadcastAll(Message{Type: "everyone"})
	h.Broadcast("thread-b", Message{Type: "only-b", ThreadID: "thread-b"})

	gotA := drain(a)
	gotB := drain(b)

	if len(gotA) != 2 || gotA[0].Type != "only-a" || gotA[1].Type != "everyone" {
		t.Errorf("client a received %+v, want [only-a everyone]", gotA)
	}
	if len(gotB) != 2 || gotB[0].Type != "everyone" || gotB[1].Type != "only-b" {
		t.Errorf("client b received %+v, want [everyone only-b]", gotB)
	}
}

func TestBroadcastToEmptyRoomIsNoOp(t *testing.T) {
	h := NewHub(nil, 0)
	h.Broadcast("nobody-home", Message{Type: "x"})
}

func TestLastUnsubscribeDropsRoom(t *testing.T) {
	h := NewHub(nil, 0)
	c := newTestClient(1)
	h.Subscribe("r", c)
	if got := h.RoomSize("r"); got != 1 {
		t.Fatalf("RoomSize = %d, want 1", got)
	}
	h.Unsubscribe("r", c)
	if got := h.RoomSize("r"); got != 0 {
		t.Errorf("RoomSize after unsubscribe = %d, want 0", got)
	}
	if _, ok := h.rooms["r"]; ok {
		t.Error("empty room was not removed from the room map")
	}
}

func TestSlowSubscriberEvicted(t *testing.T) {
	h := NewHub(nil, 0)
	c := newTestClient(1)
	h.Subscribe("r", c)

	h.Broadcast("r", Message{Type: "first"})
	h.Broadcast("r", Message{Type: "second"}) // buffer full: evict, don't block

	if got := h.RoomSize("r"); got != 0 {
		t.Errorf("RoomSize = %d, want 0 after eviction", got)
	}
	if !c.closed {
		t.Error("evicted client not marked closed")
	}

	// Further broadcasts must not panic on the closed channel.
	h.Subscribe("r", newTestClient(1))
	h.Broadcast("r", Message{Type: "third"})
}

func TestBroadcastAllOncePerClient(t *testing.T) {
	h := NewHub(nil, 0)
	c := newTestClient(8)
	h.Subscribe("r1", c)
	h.Subscribe("r2", c)

	h.BroadcastAll(Message{Type: "global"})

	if got := drain(c); len(got) != 1 {
		t.Errorf("client in two rooms received %d copies, want 1", len(got))
	}
}

func TestSessionRoom(t *testing.T) {
	cases := []struct {
		name string
		data string
		want string
	}{
		{"sessionKey tag", `{"sessionKey":"thread-7","kind":"delta"}`, "thread-7"},
		{"key tag", `{"key":"thread-9","messageCount":3}`, "thread-9"},
		{"no tag", `{"status":"up"}`, GlobalRoom},
		{"invalid json", `not-json`, GlobalRoom},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := sessionRoom(json.RawMessage(tc.data)); got != tc.want {
				t.Errorf("sessionRoom(%s) = %q, want %q", tc.data, got, tc.want)
			}
		})
	}
}

func TestPublishGatewayState(t *testing.T) {
	h := NewHub(nil, 0)
	c := newTestClient(1)
	h.Subscribe(GlobalRoom, c)

	h.PublishGatewayState(gateway.StateReconnecting)

	got := drain(c)
	if len(got) != 1 || got[0].Type != "gateway-status" {
		t.Fatalf("received %+v, want one gateway-status message", got)
	}
	var payload struct {
		State string `json:"state"`
	}
	if err := json.Unmarshal(got[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.State != "reconnecting" {
		t.Errorf("state = %q, want %q", payload.State, "reconnecting")
	}
}
