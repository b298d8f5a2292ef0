package gateway

// ChatEvent kinds streamed by the gateway for one session.
const (
	ChatTurnStart  = "turn-start"
	ChatDelta      = "delta"
	ChatToolResult = "tool-result"
	ChatTurnEnd    = "turn-end"
	ChatError      = "error"
)

// Delta payload types.
const (
	DeltaText     = "text"
	DeltaThinking = "thinking"
	DeltaToolCall = "tool-call"
)

// Tool call states.
const (
	ToolRunning   = "running"
	ToolCompleted = "completed"
	ToolErrored   = "errored"
)

// ChatEvent is one incremental fragment of streamed agent output, tagged
// with its session key. Consumed by the accumulator and discarded.
type ChatEvent struct {
	SessionKey string `json:"sessionKey"`
	Kind       string `json:"kind"`
	StreamID   string `json:"streamId,omitempty"`

	// delta fields
	DeltaType    string `json:"deltaType,omitempty"`
	Text         string `json:"text,omitempty"`
	ToolCallID   string `json:"toolCallId,omitempty"`
	ToolName     string `json:"toolName,omitempty"`
	ArgsFragment string `json:"argsFragment,omitempty"`

	// tool-result fields
	ToolOutput string `json:"toolOutput,omitempty"`
	IsError    bool   `json:"isError,omitempty"`

	// error kind
	Message string `json:"message,omitempty"`
}

type ToolCall struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Args   string `json:"args"`
	Output string `json:"output,omitempty"`
	Status string `json:"status"`
}

type Part struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ToolCall *ToolCall `json:"toolCall,omitempty"`
}

type Message struct {
	Role   string `json:"role"`
	Parts  []Part `json:"parts"`
	Sealed bool   `json:"sealed"`
}

// Accumulator folds a stream of chat events into an ordered message list for
// one session. It is not safe for concurrent use; callers bind one
// accumulator per active thread and must call Reset on thread switch, or
// state bleeds across threads.
type Accumulator struct {
	sessionKey string
	messages   []Message
	open       bool
	toolIndex  map[string]int
}

func NewAccumulator(sessionKey string) *Accumulator {
	return &Accumulator{
		sessionKey: sessionKey,
		toolIndex:  make(map[string]int),
	}
}

func (a *Accumulator) SessionKey() string {
	return a.sessionKey
}

// Reset drops all accumulated state. A reset accumulator behaves exactly
// like a freshly constructed one.
func (a *Accumulator) Reset() {
	a.messages = nil
	a.open = false
	a.toolIndex = make(map[string]int)
}

// ProcessEvent folds one event and returns the full current message list
// (a copy), so consumers replace their view wholesale. Events for other
// sessions are ignored.
func (a *Accumulator) ProcessEvent(ev ChatEvent) []Message {
	if ev.SessionKey != a.sessionKey {
		return a.snapshot()
	}

	switch ev.Kind {
	case ChatTurnStart:
		a.sealOpen()
		a.openMessage()

	case ChatDelta:
		if !a.open {
			a.openMessage()
		}
		a.applyDelta(ev)

	case ChatToolResult:
		a.closeToolCall(ev)

	case ChatTurnEnd:
		a.sealOpen()

	case ChatError:
		a.sealOpen()
		if ev.Message != "" {
			a.messages = append(a.messages, Message{
				Role:   "system",
				Parts:  []Part{{Type: DeltaText, Text: ev.Message}},
				Sealed: true,
			})
		}
	}

	return a.snapshot()
}

func (a *Accumulator) openMessage() {
	a.messages = append(a.messages, Message{Role: "agent"})
	a.open = true
	a.toolIndex = make(map[string]int)
}

func (a *Accumulator) sealOpen() {
	if !a.open {
		return
	}
	a.messages[len(a.messages)-1].Sealed = true
	a.open = false
}

func (a *Accumulator) applyDelta(ev ChatEvent) {
	msg := &a.messages[len(a.messages)-1]

	switch ev.DeltaType {
	case DeltaText, DeltaThinking:
		if n := len(msg.Parts); n > 0 && msg.Parts[n-1].Type == ev.DeltaType {
			msg.Parts[n-1].Text += ev.Text
			return
		}
		msg.Parts = append(msg.Parts, Part{Type: ev.DeltaType, Text: ev.Text})

	case DeltaToolCall:
		if idx, ok := a.toolIndex[ev.ToolCallID]; ok {
			msg.Parts[idx].ToolCall.Args += ev.ArgsFragment
			return
		}
		msg.Parts = append(msg.Parts, Part{
			Type: DeltaToolCall,
			ToolCall: &ToolCall{
				ID:     ev.ToolCallID,
				Name:   ev.ToolName,
				Args:   ev.ArgsFragment,
				Status: ToolRunning,
			},
		})
		a.toolIndex[ev.ToolCallID] = len(msg.Parts) - 1
	}
}

func (a *Accumulator) closeToolCall(ev ChatEvent) {
	if !a.open {
		return
	}
	idx, ok := a.toolIndex[ev.ToolCallID]
	if !ok {
		return
	}
	tc := a.messages[len(a.messages)-1].Parts[idx].ToolCall
	tc.Output = ev.ToolOutput
	if ev.IsError {
		tc.Status = ToolErrored
	} else {
		tc.Status = ToolCompleted
	}
}

func (a *Accumulator) snapshot() []Message {
	out := make([]Message, len(a.messages))
	for i, m := range a.messages {
		parts := make([]Part, len(m.Parts))
		for j, p := range m.Parts {
			if p.ToolCall != nil {
				tc := *p.ToolCall
				p.ToolCall = &tc
			}
			parts[j] = p
		}
		m.Parts = parts
		out[i] = m
	}
	return out
}
