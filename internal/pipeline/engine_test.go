package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/clawdeck/clawdeck/internal/database"
	"github.com/clawdeck/clawdeck/internal/gateway"
	"github.com/clawdeck/clawdeck/internal/models"
)

type fakeSpawner struct {
	mu       sync.Mutex
	spawned  []gateway.SpawnSessionParams
	aborted  []string
	injected map[string]string
	spawnErr error
}

func (f *fakeSpawner) SpawnSession(ctx context.Context, p gateway.SpawnSessionParams) (*gateway.SessionInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.spawnErr != nil {
		return nil, f.spawnErr
	}
	f.spawned = append(f.spawned, p)
	return &gateway.SessionInfo{Key: p.SessionKey, AgentID: p.AgentID}, nil
}

func (f *fakeSpawner) AbortChat(ctx context.Context, sessionKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aborted = append(f.aborted, sessionKey)
	return nil
}

func (f *fakeSpawner) InjectContext(ctx context.Context, sessionKey, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.injected == nil {
		f.injected = make(map[string]string)
	}
	f.injected[sessionKey] = content
	return nil
}

func setup(t *testing.T, stages []string) (*Engine, *fakeSpawner, *database.DB, string, string) {
	t.Helper()
	db, err := database.New(t.TempDir())
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	tmpl := &models.PipelineTemplate{ID: uuid.New().String(), Name: "test", Stages: stages}
	if err := db.CreatePipelineTemplate(tmpl); err != nil {
		t.Fatalf("create template: %v", err)
	}

	threadID := uuid.New().String()
	if err := db.CreateThread(&models.Thread{ID: threadID, Name: "t"}); err != nil {
		t.Fatalf("create thread: %v", err)
	}

	gw := &fakeSpawner{}
	return NewEngine(db, gw, nil), gw, db, threadID, tmpl.ID
}

func TestStartProducesRunningFirstStage(t *testing.T) {
	e, gw, _, threadID, tmplID := setup(t, []string{"implement", "ci"})

	state, err := e.Start(context.Background(), threadID, tmplID)
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	if state.CurrentStage != "implement" {
		t.Errorf("CurrentStage = %q, want %q", state.CurrentStage, "implement")
	}
	if len(state.History) != 1 {
		t.Fatalf("len(History) = %d, want 1", len(state.History))
	}
	run := state.History[0]
	if run.Stage != "implement" || run.Status != RunRunning {
		t.Errorf("run = {stage:%q status:%q}, want {implement running}", run.Stage, run.Status)
	}
	if len(gw.spawned) != 1 {
		t.Errorf("spawned %d sessions, want 1", len(gw.spawned))
	}
	if !strings.Contains(run.SessionKey, threadID) {
		t.Errorf("session key %q does not contain thread id %q", run.SessionKey, threadID)
	}
}

func TestStartWhileRunningRejected(t *testing.T) {
	e, _, _, threadID, tmplID := setup(t, []string{"implement", "ci"})

	if _, err := e.Start(context.Background(), threadID, tmplID); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	_, err := e.Start(context.Background(), threadID, tmplID)
	if !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start error = %v, want %v", err, ErrAlreadyRunning)
	}
}

func TestAdvanceThroughPipeline(t *testing.T) {
	e, _, _, threadID, tmplID := setup(t, []string{"implement", "ci"})
	ctx := context.Background()

	if _, err := e.Start(ctx, threadID, tmplID); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	state, err := e.Advance(ctx, threadID)
	if err != nil {
		t.Fatalf("Advance returned error: %v", err)
	}
	if state.CurrentStage != "ci" {
		t.Errorf("CurrentStage = %q, want %q", state.CurrentStage, "ci")
	}
	if len(state.History) != 2 {
		t.Fatalf("len(History) = %d, want 2", len(state.History))
	}
	if state.History[0].Status != RunPassed {
		t.Errorf("History[0].Status = %q, want %q", state.History[0].Status, RunPassed)
	}
	if state.History[1].Status != RunRunning {
		t.Errorf("History[1].Status = %q, want %q", state.History[1].Status, RunRunning)
	}

	state, err = e.Advance(ctx, threadID)
	if err != nil {
		t.Fatalf("second Advance returned error: %v", err)
	}
	if state.CurrentStage != StageDone {
		t.Errorf("CurrentStage = %q, want %q", state.CurrentStage, StageDone)
	}
	if !state.Done() {
		t.Error("Done() = false after final advance")
	}
}

func TestZeroStageTemplateImmediatelyDone(t *testing.T) {
	e, gw, db, threadID, tmplID := setup(t, []string{})

	state, err := e.Start(context.Background(), threadID, tmplID)
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if state.CurrentStage != StageDone {
		t.Errorf("CurrentStage = %q, want %q", state.CurrentStage, StageDone)
	}
	if len(state.History) != 0 {
		t.Errorf("len(History) = %d, want 0", len(state.History))
	}
	if len(gw.spawned) != 0 {
		t.Errorf("spawned %d sessions, want 0", len(gw.spawned))
	}

	thread, err := db.GetThread(threadID)
	if err != nil {
		t.Fatalf("GetThread: %v", err)
	}
	if thread.Status != models.ThreadWorkingDone {
		t.Errorf("thread status = %q, want %q", thread.Status, models.ThreadWorkingDone)
	}
}

func TestRetryStageRespawnsWithFeedback(t *testing.T) {
	e, gw, _, threadID, tmplID := setup(t, []string{"review"})
	ctx := context.Background()

	if _, err := e.Start(ctx, threadID, tmplID); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if _, err := e.Fail(threadID, "tests are red"); err != nil {
		t.Fatalf("Fail returned error: %v", err)
	}

	state, err := e.RetryStage(ctx, threadID, "fix the flaky assertion")
	if err != nil {
		t.Fatalf("RetryStage returned error: %v", err)
	}

	run := state.History[0]
	if run.Status != RunRunning {
		t.Errorf("run status = %q, want %q", run.Status, RunRunning)
	}
	if run.RetryCount != 1 {
		t.Errorf("RetryCount = %d, want 1", run.RetryCount)
	}
	if len(gw.spawned) != 2 {
		t.Fatalf("spawned %d sessions, want 2", len(gw.spawned))
	}
	feedback := gw.injected[run.SessionKey]
	if !strings.Contains(feedback, "tests are red") || !strings.Contains(feedback, "fix the flaky assertion") {
		t.Errorf("injected feedback = %q, want accumulated feedback", feedback)
	}
}

func TestRetryBudgetExhausted(t *testing.T) {
	e, gw, _, threadID, tmplID := setup(t, []string{"review"})
	ctx := context.Background()

	if _, err := e.Start(ctx, threadID, tmplID); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	for i := 0; i < MaxReviewRetries; i++ {
		if _, err := e.Fail(threadID, ""); err != nil {
			t.Fatalf("Fail %d returned error: %v", i, err)
		}
		if _, err := e.RetryStage(ctx, threadID, ""); err != nil {
			t.Fatalf("RetryStage %d returned error: %v", i, err)
		}
	}
	if _, err := e.Fail(threadID, ""); err != nil {
		t.Fatalf("final Fail returned error: %v", err)
	}

	spawnsBefore := len(gw.spawned)
	state, err := e.RetryStage(ctx, threadID, "")
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Errorf("error = %v, want %v", err, ErrRetriesExhausted)
	}
	if len(gw.spawned) != spawnsBefore {
		t.Error("RetryStage spawned a session past the retry budget")
	}
	if state != nil {
		t.Errorf("state = %+v, want nil on exhausted retries", state)
	}

	persisted, err := e.GetState(threadID)
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if got := persisted.activeRun().Status; got != RunFailed {
		t.Errorf("run status = %q, want %q", got, RunFailed)
	}
}

func TestCancelFreezesPipeline(t *testing.T) {
	e, gw, _, threadID, tmplID := setup(t, []string{"implement", "ci"})
	ctx := context.Background()

	started, err := e.Start(ctx, threadID, tmplID)
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	state, err := e.Cancel(ctx, threadID)
	if err != nil {
		t.Fatalf("Cancel returned error: %v", err)
	}
	if state.CurrentStage != "implement" {
		t.Errorf("CurrentStage = %q, want unchanged %q", state.CurrentStage, "implement")
	}
	if got := state.activeRun().Status; got != RunSkipped {
		t.Errorf("run status = %q, want %q", got, RunSkipped)
	}
	if len(gw.aborted) != 1 || gw.aborted[0] != started.History[0].SessionKey {
		t.Errorf("aborted = %v, want the active session key", gw.aborted)
	}
}

func TestStateSurvivesEngineRestart(t *testing.T) {
	e, gw, db, threadID, tmplID := setup(t, []string{"implement", "ci"})
	ctx := context.Background()

	if _, err := e.Start(ctx, threadID, tmplID); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	// A fresh engine over the same database picks up where the old one was.
	e2 := NewEngine(db, gw, nil)
	state, err := e2.Advance(ctx, threadID)
	if err != nil {
		t.Fatalf("Advance on restarted engine returned error: %v", err)
	}
	if state.CurrentStage != "ci" {
		t.Errorf("CurrentStage = %q, want %q", state.CurrentStage, "ci")
	}
}

func TestProgress(t *testing.T) {
	cases := []struct {
		name  string
		state State
		want  float64
	}{
		{"empty template", State{}, 1},
		{"nothing run", State{Stages: []string{"a", "b"}}, 0},
		{"one passed of two", State{Stages: []string{"a", "b"}, History: []StageRun{{Status: RunPassed}, {Status: RunRunning}}}, 0.5},
		{"failed counts as consumed", State{Stages: []string{"a", "b"}, History: []StageRun{{Status: RunPassed}, {Status: RunFailed}}}, 1},
		{"retries do not overcount", State{Stages: []string{"a"}, History: []StageRun{{Status: RunFailed}, {Status: RunPassed}}}, 1},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.state.Progress(); got != tc.want {
				t.Errorf("Progress() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestSpawnFailureRecordedAsFailedRun(t *testing.T) {
	e, gw, _, threadID, tmplID := setup(t, []string{"implement"})
	gw.spawnErr = gateway.ErrNotConnected

	_, err := e.Start(context.Background(), threadID, tmplID)
	if err == nil {
		t.Fatal("Start returned nil error, want spawn failure")
	}

	state, err := e.GetState(threadID)
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if got := state.activeRun().Status; got != RunFailed {
		t.Errorf("run status = %q, want %q (failure must stay in the audit trail)", got, RunFailed)
	}
}
