package pipeline

import (
	"encoding/json"
	"time"
)

// Stage names of the default template.
var DefaultStages = []string{"brainstorm", "plan", "implement", "review", "test", "ci"}

// StageDone is the terminal pseudo-stage.
const StageDone = "done"

// MaxReviewRetries bounds automatic stage retries; past it the stage stays
// failed until an operator steps in.
const MaxReviewRetries = 3

// StageRun statuses.
const (
	RunPending = "pending"
	RunRunning = "running"
	RunPassed  = "passed"
	RunFailed  = "failed"
	RunSkipped = "skipped"
)

// StageRun is one historical execution record of a stage. Runs are appended
// when a stage starts and mutated in place; never deleted.
type StageRun struct {
	ID          string     `json:"id"`
	Stage       string     `json:"stage"`
	AgentID     string     `json:"agentId,omitempty"`
	SessionKey  string     `json:"sessionKey,omitempty"`
	Status      string     `json:"status"`
	StartedAt   time.Time  `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	RetryCount  int        `json:"retryCount"`
	Feedback    string     `json:"feedback,omitempty"`
}

// State is the per-thread pipeline state machine, persisted as an opaque
// JSON blob after every transition.
type State struct {
	TemplateID   string     `json:"templateId"`
	Stages       []string   `json:"stages"`
	CurrentStage string     `json:"currentStage"`
	History      []StageRun `json:"stageHistory"`
}

func (s *State) Encode() ([]byte, error) {
	return json.Marshal(s)
}

func DecodeState(data []byte) (*State, error) {
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// activeRun returns the trailing stage run, or nil when there is none.
func (s *State) activeRun() *StageRun {
	if len(s.History) == 0 {
		return nil
	}
	return &s.History[len(s.History)-1]
}

// Done reports whether the pipeline reached its terminal stage.
func (s *State) Done() bool {
	return s.CurrentStage == StageDone
}

// Progress is completed runs over total template stages, for display only.
// Failed and skipped runs count as consumed progress.
func (s *State) Progress() float64 {
	if len(s.Stages) == 0 {
		return 1
	}
	completed := 0
	for _, run := range s.History {
		switch run.Status {
		case RunPassed, RunFailed, RunSkipped:
			completed++
		}
	}
	if completed > len(s.Stages) {
		completed = len(s.Stages)
	}
	return float64(completed) / float64(len(s.Stages))
}

// nextStage returns the stage after current, or StageDone at the end.
func (s *State) nextStage() string {
	for i, stage := range s.Stages {
		if stage == s.CurrentStage {
			if i+1 < len(s.Stages) {
				return s.Stages[i+1]
			}
			return StageDone
		}
	}
	return StageDone
}
