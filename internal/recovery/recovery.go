package recovery

import (
	"context"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/clawdeck/clawdeck/internal/gateway"
	"github.com/clawdeck/clawdeck/internal/logger"
	"github.com/clawdeck/clawdeck/internal/models"
)

// SessionLister is the slice of the gateway client the monitor needs.
// *gateway.Client satisfies it.
type SessionLister interface {
	IsConnected() bool
	ListSessions(ctx context.Context) ([]gateway.SessionInfo, error)
}

// ThreadStore is the database surface the monitor touches.
type ThreadStore interface {
	ListThreadsByStatus(statuses ...string) ([]*models.Thread, error)
	UpdateThreadStatus(id, expect, status string) (bool, error)
}

// Notifier pushes thread status changes to the realtime layer. May be nil.
type Notifier func(threadID, status string)

// Monitor sweeps for threads stuck in a busy status whose gateway session
// no longer exists. That happens when the gateway restarts or an agent
// session dies without a terminal event reaching us. Stale threads are
// moved to working-done so the operator sees them as finished rather than
// perpetually busy.
type Monitor struct {
	db     ThreadStore
	gw     SessionLister
	notify Notifier
	cron   *cron.Cron
}

func NewMonitor(db ThreadStore, gw SessionLister, notify Notifier) *Monitor {
	return &Monitor{
		db:     db,
		gw:     gw,
		notify: notify,
		cron:   cron.New(),
	}
}

// Start schedules the sweep every minute. Call Stop to halt it.
func (m *Monitor) Start() error {
	_, err := m.cron.AddFunc("@every 60s", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := m.RunNow(ctx); err != nil {
			logger.Warn("Stale thread sweep failed: %v", err)
		}
	})
	if err != nil {
		return err
	}
	m.cron.Start()
	return nil
}

func (m *Monitor) Stop() {
	ctx := m.cron.Stop()
	<-ctx.Done()
}

// RunNow performs one sweep. While the gateway is disconnected it does
// nothing: session liveness cannot be judged, and marking threads done on
// a flaky link would be wrong.
func (m *Monitor) RunNow(ctx context.Context) error {
	if !m.gw.IsConnected() {
		return nil
	}

	threads, err := m.db.ListThreadsByStatus(models.ThreadWorking, models.ThreadStopping)
	if err != nil {
		return err
	}
	if len(threads) == 0 {
		return nil
	}

	sessions, err := m.gw.ListSessions(ctx)
	if err != nil {
		return err
	}
	keys := make([]string, len(sessions))
	for i, s := range sessions {
		keys[i] = s.Key
	}

	for _, t := range threads {
		if hasLiveSession(t.ID, keys) {
			continue
		}
		// CAS on the old status: if the pipeline engine moved the thread
		// meanwhile, leave its write alone.
		changed, err := m.db.UpdateThreadStatus(t.ID, t.Status, models.ThreadWorkingDone)
		if err != nil {
			logger.Warn("Stale thread %s: status update failed: %v", t.ID, err)
			continue
		}
		if changed {
			logger.Info("Thread %s had no live session, marked done", t.ID)
			if m.notify != nil {
				m.notify(t.ID, models.ThreadWorkingDone)
			}
		}
	}
	return nil
}

// hasLiveSession reports whether any session key embeds the thread id.
// Stage sessions are keyed "<threadID>-<stage>-<suffix>".
func hasLiveSession(threadID string, keys []string) bool {
	for _, k := range keys {
		if strings.Contains(k, threadID) {
			return true
		}
	}
	return false
}
