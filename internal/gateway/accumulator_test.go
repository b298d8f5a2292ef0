package gateway

import (
	"reflect"
	"testing"
)

func TestSimpleTurnProducesOneSealedMessage(t *testing.T) {
	acc := NewAccumulator("S")

	events := []ChatEvent{
		{SessionKey: "S", Kind: ChatTurnStart},
		{SessionKey: "S", Kind: ChatDelta, DeltaType: DeltaText, Text: "a"},
		{SessionKey: "S", Kind: ChatDelta, DeltaType: DeltaText, Text: "b"},
		{SessionKey: "S", Kind: ChatTurnEnd},
	}

	var msgs []Message
	for _, ev := range events {
		msgs = acc.ProcessEvent(ev)
	}

	if len(msgs) != 1 {
		t.Fatalf("len(msgs) = %d, want 1", len(msgs))
	}
	msg := msgs[0]
	if msg.Role != "agent" {
		t.Errorf("Role = %q, want %q", msg.Role, "agent")
	}
	if !msg.Sealed {
		t.Error("message is not sealed after turn-end")
	}
	if len(msg.Parts) != 1 || msg.Parts[0].Type != DeltaText || msg.Parts[0].Text != "ab" {
		t.Errorf("Parts = %+v, want one text part %q", msg.Parts, "ab")
	}
}

func TestEventsForOtherSessionIgnored(t *testing.T) {
	acc := NewAccumulator("S")

	acc.ProcessEvent(ChatEvent{SessionKey: "S", Kind: ChatTurnStart})
	msgs := acc.ProcessEvent(ChatEvent{SessionKey: "OTHER", Kind: ChatDelta, DeltaType: DeltaText, Text: "leak"})

	if len(msgs) != 1 {
		t.Fatalf("len(msgs) = %d, want 1", len(msgs))
	}
	if len(msgs[0].Parts) != 0 {
		t.Errorf("Parts = %+v, want empty (other-session delta must be ignored)", msgs[0].Parts)
	}
}

func TestThinkingAndTextSplitIntoParts(t *testing.T) {
	acc := NewAccumulator("S")

	events := []ChatEvent{
		{SessionKey: "S", Kind: ChatTurnStart},
		{SessionKey: "S", Kind: ChatDelta, DeltaType: DeltaThinking, Text: "hmm "},
		{SessionKey: "S", Kind: ChatDelta, DeltaType: DeltaThinking, Text: "ok"},
		{SessionKey: "S", Kind: ChatDelta, DeltaType: DeltaText, Text: "answer"},
		{SessionKey: "S", Kind: ChatTurnEnd},
	}

	var msgs []Message
	for _, ev := range events {
		msgs = acc.ProcessEvent(ev)
	}

	parts := msgs[0].Parts
	if len(parts) != 2 {
		t.Fatalf("len(parts) = %d, want 2", len(parts))
	}
	if parts[0].Type != DeltaThinking || parts[0].Text != "hmm ok" {
		t.Errorf("parts[0] = %+v, want thinking %q", parts[0], "hmm ok")
	}
	if parts[1].Type != DeltaText || parts[1].Text != "answer" {
		t.Errorf("parts[1] = %+v, want text %q", parts[1], "answer")
	}
}

func TestToolCallAccumulatesAndCloses(t *testing.T) {
	acc := NewAccumulator("S")

	events := []ChatEvent{
		{SessionKey: "S", Kind: ChatTurnStart},
		{SessionKey: "S", Kind: ChatDelta, DeltaType: DeltaToolCall, ToolCallID: "t1", ToolName: "bash", ArgsFragment: `{"cmd":`},
		{SessionKey: "S", Kind: ChatDelta, DeltaType: DeltaToolCall, ToolCallID: "t1", ArgsFragment: `"ls"}`},
		{SessionKey: "S", Kind: ChatToolResult, ToolCallID: "t1", ToolOutput: "main.go"},
		{SessionKey: "S", Kind: ChatTurnEnd},
	}

	var msgs []Message
	for _, ev := range events {
		msgs = acc.ProcessEvent(ev)
	}

	parts := msgs[0].Parts
	if len(parts) != 1 || parts[0].ToolCall == nil {
		t.Fatalf("parts = %+v, want one tool-call part", parts)
	}
	tc := parts[0].ToolCall
	if tc.Name != "bash" {
		t.Errorf("Name = %q, want %q", tc.Name, "bash")
	}
	if tc.Args != `{"cmd":"ls"}` {
		t.Errorf("Args = %q, want %q", tc.Args, `{"cmd":"ls"}`)
	}
	if tc.Status != ToolCompleted {
		t.Errorf("Status = %q, want %q", tc.Status, ToolCompleted)
	}
	if tc.Output != "main.go" {
		t.Errorf("Output = %q, want %q", tc.Output, "main.go")
	}
}

func TestToolResultWithErrorMarksErrored(t *testing.T) {
	acc := NewAccumulator("S")

	acc.ProcessEvent(ChatEvent{SessionKey: "S", Kind: ChatTurnStart})
	acc.ProcessEvent(ChatEvent{SessionKey: "S", Kind: ChatDelta, DeltaType: DeltaToolCall, ToolCallID: "t1", ToolName: "bash"})
	msgs := acc.ProcessEvent(ChatEvent{SessionKey: "S", Kind: ChatToolResult, ToolCallID: "t1", ToolOutput: "exit 1", IsError: true})

	tc := msgs[0].Parts[0].ToolCall
	if tc.Status != ToolErrored {
		t.Errorf("Status = %q, want %q", tc.Status, ToolErrored)
	}
}

func TestAtMostOneOpenMessage(t *testing.T) {
	acc := NewAccumulator("S")

	// A second turn-start without a turn-end seals the first message.
	acc.ProcessEvent(ChatEvent{SessionKey: "S", Kind: ChatTurnStart})
	acc.ProcessEvent(ChatEvent{SessionKey: "S", Kind: ChatDelta, DeltaType: DeltaText, Text: "first"})
	msgs := acc.ProcessEvent(ChatEvent{SessionKey: "S", Kind: ChatTurnStart})

	if len(msgs) != 2 {
		t.Fatalf("len(msgs) = %d, want 2", len(msgs))
	}
	if !msgs[0].Sealed {
		t.Error("first message not sealed when second turn started")
	}
	if msgs[1].Sealed {
		t.Error("second message sealed before its turn ended")
	}
}

func TestResetMatchesFreshAccumulator(t *testing.T) {
	events := []ChatEvent{
		{SessionKey: "S", Kind: ChatTurnStart},
		{SessionKey: "S", Kind: ChatDelta, DeltaType: DeltaText, Text: "x"},
		{SessionKey: "S", Kind: ChatDelta, DeltaType: DeltaToolCall, ToolCallID: "t1", ToolName: "read", ArgsFragment: "{}"},
		{SessionKey: "S", Kind: ChatToolResult, ToolCallID: "t1", ToolOutput: "ok"},
		{SessionKey: "S", Kind: ChatTurnEnd},
	}

	used := NewAccumulator("S")
	used.ProcessEvent(ChatEvent{SessionKey: "S", Kind: ChatTurnStart})
	used.ProcessEvent(ChatEvent{SessionKey: "S", Kind: ChatDelta, DeltaType: DeltaText, Text: "stale"})
	used.Reset()

	fresh := NewAccumulator("S")

	var gotUsed, gotFresh []Message
	for _, ev := range events {
		gotUsed = used.ProcessEvent(ev)
		gotFresh = fresh.ProcessEvent(ev)
	}

	if !reflect.DeepEqual(gotUsed, gotFresh) {
		t.Errorf("after Reset, output diverges from fresh accumulator:\n got %+v\nwant %+v", gotUsed, gotFresh)
	}
}

func TestErrorEventSealsAndRecords(t *testing.T) {
	acc := NewAccumulator("S")

	acc.ProcessEvent(ChatEvent{SessionKey: "S", Kind: ChatTurnStart})
	acc.ProcessEvent(ChatEvent{SessionKey: "S", Kind: ChatDelta, DeltaType: DeltaText, Text: "partial"})
	msgs := acc.ProcessEvent(ChatEvent{SessionKey: "S", Kind: ChatError, Message: "agent crashed"})

	if len(msgs) != 2 {
		t.Fatalf("len(msgs) = %d, want 2", len(msgs))
	}
	if !msgs[0].Sealed {
		t.Error("partial message not sealed on error")
	}
	if msgs[1].Role != "system" || msgs[1].Parts[0].Text != "agent crashed" {
		t.Errorf("error message = %+v, want system message with error text", msgs[1])
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	acc := NewAccumulator("S")
	acc.ProcessEvent(ChatEvent{SessionKey: "S", Kind: ChatTurnStart})
	snap := acc.ProcessEvent(ChatEvent{SessionKey: "S", Kind: ChatDelta, DeltaType: DeltaText, Text: "a"})

	snap[0].Parts[0].Text = "mutated"

	after := acc.ProcessEvent(ChatEvent{SessionKey: "S", Kind: ChatDelta, DeltaType: DeltaText, Text: "b"})
	if after[0].Parts[0].Text != "ab" {
		t.Errorf("internal state = %q, want %q (snapshot mutation leaked)", after[0].Parts[0].Text, "ab")
	}
}
