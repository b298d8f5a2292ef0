package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clawdeck/clawdeck/internal/database"
	"github.com/clawdeck/clawdeck/internal/gateway"
	"github.com/clawdeck/clawdeck/internal/logger"
	"github.com/clawdeck/clawdeck/internal/models"
)

var (
	ErrAlreadyRunning   = errors.New("pipeline: a stage is already running for this thread")
	ErrNoPipeline       = errors.New("pipeline: no pipeline exists for this thread")
	ErrNoActiveStage    = errors.New("pipeline: no stage in the expected status")
	ErrRetriesExhausted = errors.New("pipeline: retry budget exhausted")
)

// Spawner is the slice of the gateway RPC surface the engine drives.
// *gateway.Client satisfies it.
type Spawner interface {
	SpawnSession(ctx context.Context, p gateway.SpawnSessionParams) (*gateway.SessionInfo, error)
	AbortChat(ctx context.Context, sessionKey string) error
	InjectContext(ctx context.Context, sessionKey, content string) error
}

// Notifier pushes pipeline updates to the realtime layer. May be nil.
type Notifier func(threadID string, update models.WSPipelineUpdate)

// Engine sequences a per-thread staged workflow: each stage runs as one
// gateway agent session. Threads are serialized individually; different
// threads' pipelines run fully concurrently.
type Engine struct {
	db     *database.DB
	gw     Spawner
	notify Notifier

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewEngine(db *database.DB, gw Spawner, notify Notifier) *Engine {
	return &Engine{
		db:     db,
		gw:     gw,
		notify: notify,
		locks:  make(map[string]*sync.Mutex),
	}
}

func (e *Engine) threadLock(threadID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.locks[threadID] == nil {
		e.locks[threadID] = &sync.Mutex{}
	}
	return e.locks[threadID]
}

// Start begins a pipeline for the thread from the template's stage list. A
// thread with a running stage rejects with ErrAlreadyRunning. A zero-stage
// template completes immediately with empty history.
func (e *Engine) Start(ctx context.Context, threadID, templateID string) (*State, error) {
	lock := e.threadLock(threadID)
	lock.Lock()
	defer lock.Unlock()

	existing, err := e.load(threadID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if run := existing.activeRun(); run != nil && run.Status == RunRunning {
			return nil, ErrAlreadyRunning
		}
	}

	tmpl, err := e.db.GetPipelineTemplate(templateID)
	if err != nil {
		return nil, fmt.Errorf("load template %s: %w", templateID, err)
	}

	state := &State{TemplateID: templateID, Stages: tmpl.Stages}

	if len(tmpl.Stages) == 0 {
		state.CurrentStage = StageDone
		if err := e.persist(threadID, state); err != nil {
			return nil, err
		}
		e.db.UpdateThreadStatus(threadID, "", models.ThreadWorkingDone)
		e.publish(threadID, state)
		return state, nil
	}

	state.CurrentStage = tmpl.Stages[0]
	if err := e.startStage(ctx, threadID, state, ""); err != nil {
		return state, err
	}
	e.db.UpdateThreadStatus(threadID, "", models.ThreadWorking)
	e.publish(threadID, state)
	return state, nil
}

// Advance marks the running stage passed and starts the next one, or
// finishes the pipeline when no stages remain. Called when the stage's
// agent session signals completion.
func (e *Engine) Advance(ctx context.Context, threadID string) (*State, error) {
	lock := e.threadLock(threadID)
	lock.Lock()
	defer lock.Unlock()

	state, err := e.load(threadID)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, ErrNoPipeline
	}
	run := state.activeRun()
	if run == nil || run.Status != RunRunning {
		return nil, ErrNoActiveStage
	}

	now := time.Now().UTC()
	run.Status = RunPassed
	run.CompletedAt = &now
	if err := e.persist(threadID, state); err != nil {
		return nil, err
	}

	next := state.nextStage()
	state.CurrentStage = next
	if next == StageDone {
		if err := e.persist(threadID, state); err != nil {
			return nil, err
		}
		e.db.UpdateThreadStatus(threadID, "", models.ThreadWorkingDone)
		e.publish(threadID, state)
		logger.Success("Pipeline done for thread %s", threadID)
		return state, nil
	}

	if err := e.startStage(ctx, threadID, state, ""); err != nil {
		return state, err
	}
	e.publish(threadID, state)
	return state, nil
}

// RetryStage re-runs the failed stage with accumulated feedback injected as
// context, until the retry budget is spent.
func (e *Engine) RetryStage(ctx context.Context, threadID, feedback string) (*State, error) {
	lock := e.threadLock(threadID)
	lock.Lock()
	defer lock.Unlock()

	state, err := e.load(threadID)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, ErrNoPipeline
	}
	run := state.activeRun()
	if run == nil || run.Status != RunFailed {
		return nil, ErrNoActiveStage
	}
	if run.RetryCount >= MaxReviewRetries {
		return nil, ErrRetriesExhausted
	}

	run.RetryCount++
	run.Status = RunRunning
	run.CompletedAt = nil
	if feedback != "" {
		if run.Feedback != "" {
			run.Feedback += "\n"
		}
		run.Feedback += feedback
	}

	session, err := e.gw.SpawnSession(ctx, gateway.SpawnSessionParams{
		SessionKey: sessionKey(threadID, run.Stage),
		AgentID:    run.AgentID,
	})
	if err != nil {
		run.Status = RunFailed
		now := time.Now().UTC()
		run.CompletedAt = &now
		e.persist(threadID, state)
		return state, fmt.Errorf("respawn %s stage: %w", run.Stage, err)
	}
	run.SessionKey = session.Key
	run.AgentID = session.AgentID

	if run.Feedback != "" {
		if err := e.gw.InjectContext(ctx, session.Key, run.Feedback); err != nil {
			logger.Warn("Feedback injection for %s/%s failed: %v", threadID, run.Stage, err)
		}
	}

	if err := e.persist(threadID, state); err != nil {
		return nil, err
	}
	e.db.UpdateThreadStatus(threadID, "", models.ThreadWorking)
	e.publish(threadID, state)
	return state, nil
}

// Fail records a stage failure; the pipeline stops auto-advancing until
// RetryStage or Cancel.
func (e *Engine) Fail(threadID, feedback string) (*State, error) {
	lock := e.threadLock(threadID)
	lock.Lock()
	defer lock.Unlock()

	state, err := e.load(threadID)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, ErrNoPipeline
	}
	run := state.activeRun()
	if run == nil || run.Status != RunRunning {
		return nil, ErrNoActiveStage
	}

	now := time.Now().UTC()
	run.Status = RunFailed
	run.CompletedAt = &now
	if feedback != "" {
		if run.Feedback != "" {
			run.Feedback += "\n"
		}
		run.Feedback += feedback
	}
	if err := e.persist(threadID, state); err != nil {
		return nil, err
	}
	e.publish(threadID, state)
	return state, nil
}

// Cancel aborts the active session (best-effort) and freezes the pipeline:
// the run becomes skipped, the current stage stays where it was, nothing
// auto-resumes.
func (e *Engine) Cancel(ctx context.Context, threadID string) (*State, error) {
	lock := e.threadLock(threadID)
	lock.Lock()
	defer lock.Unlock()

	state, err := e.load(threadID)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, ErrNoPipeline
	}
	run := state.activeRun()
	if run == nil || run.Status != RunRunning {
		return nil, ErrNoActiveStage
	}

	if run.SessionKey != "" {
		// Best-effort: the agent may emit a few trailing events after this.
		if err := e.gw.AbortChat(ctx, run.SessionKey); err != nil {
			logger.Warn("Abort for %s/%s failed: %v", threadID, run.Stage, err)
		}
	}

	now := time.Now().UTC()
	run.Status = RunSkipped
	run.CompletedAt = &now
	if err := e.persist(threadID, state); err != nil {
		return nil, err
	}
	e.db.UpdateThreadStatus(threadID, "", models.ThreadStopping)
	e.publish(threadID, state)
	return state, nil
}

// GetState returns the persisted pipeline state, or nil when none exists.
func (e *Engine) GetState(threadID string) (*State, error) {
	return e.load(threadID)
}

// startStage appends a running StageRun for the current stage, spawns its
// gateway session, and persists. A spawn failure is recorded as a failed
// run so the audit trail keeps it.
func (e *Engine) startStage(ctx context.Context, threadID string, state *State, agentID string) error {
	run := StageRun{
		ID:        uuid.New().String(),
		Stage:     state.CurrentStage,
		AgentID:   agentID,
		Status:    RunRunning,
		StartedAt: time.Now().UTC(),
	}
	state.History = append(state.History, run)
	active := state.activeRun()

	session, err := e.gw.SpawnSession(ctx, gateway.SpawnSessionParams{
		SessionKey: sessionKey(threadID, state.CurrentStage),
		AgentID:    agentID,
	})
	if err != nil {
		now := time.Now().UTC()
		active.Status = RunFailed
		active.CompletedAt = &now
		e.persist(threadID, state)
		return fmt.Errorf("spawn %s stage: %w", state.CurrentStage, err)
	}
	active.SessionKey = session.Key
	active.AgentID = session.AgentID

	return e.persist(threadID, state)
}

func (e *Engine) load(threadID string) (*State, error) {
	blob, err := e.db.LoadPipelineState(threadID)
	if err != nil {
		return nil, err
	}
	if blob == nil {
		return nil, nil
	}
	return DecodeState(blob)
}

func (e *Engine) persist(threadID string, state *State) error {
	blob, err := state.Encode()
	if err != nil {
		return err
	}
	return e.db.SavePipelineState(threadID, blob)
}

func (e *Engine) publish(threadID string, state *State) {
	if e.notify == nil {
		return
	}
	status := ""
	if run := state.activeRun(); run != nil {
		status = run.Status
	}
	e.notify(threadID, models.WSPipelineUpdate{
		ThreadID: threadID,
		Stage:    state.CurrentStage,
		Status:   status,
		Progress: state.Progress(),
	})
}

// sessionKey names the gateway session for one stage run. It embeds the
// thread id, which the recovery monitor relies on to correlate live
// sessions back to threads.
func sessionKey(threadID, stage string) string {
	return fmt.Sprintf("%s-%s-%s", threadID, stage, uuid.New().String()[:8])
}
