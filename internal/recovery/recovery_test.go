package recovery

import (
	"context"
	"errors"
	"testing"

	"github.com/clawdeck/clawdeck/internal/gateway"
	"github.com/clawdeck/clawdeck/internal/models"
)

type fakeGateway struct {
	connected bool
	sessions  []gateway.SessionInfo
	listErr   error
	listCalls int
}

func (f *fakeGateway) IsConnected() bool { return f.connected }

func (f *fakeGateway) ListSessions(ctx context.Context) ([]gateway.SessionInfo, error) {
	f.listCalls++
	return f.sessions, f.listErr
}

type fakeStore struct {
	threads []*models.Thread
	updates map[string]string
}

func (f *fakeStore) ListThreadsByStatus(statuses ...string) ([]*models.Thread, error) {
	var out []*models.Thread
	for _, t := range f.threads {
		for _, s := range statuses {
			if t.Status == s {
				out = append(out, t)
			}
		}
	}
	return out, nil
}

func (f *fakeStore) UpdateThreadStatus(id, expect, status string) (bool, error) {
	for _, t := range f.threads {
		if t.ID == id && t.Status == expect {
			t.Status = status
			if f.updates == nil {
				f.updates = make(map[string]string)
			}
			f.updates[id] = status
			return true, nil
		}
	}
	return false, nil
}

func TestSweepSkipsWhileDisconnected(t *testing.T) {
	gw := &fakeGateway{connected: false}
	store := &fakeStore{threads: []*models.Thread{{ID: "t1", Status: models.ThreadWorking}}}
	m := NewMonitor(store, gw, nil)

	if err := m.RunNow(context.Background()); err != nil {
		t.Fatalf("RunNow returned error: %v", err)
	}
	if gw.listCalls != 0 {
		t.Error("ListSessions called while disconnected")
	}
	if store.threads[0].Status != models.ThreadWorking {
		t.Errorf("thread status = %q, want untouched %q", store.threads[0].Status, models.ThreadWorking)
	}
}

func TestSweepMarksThreadsWithoutSessionsDone(t *testing.T) {
	gw := &fakeGateway{
		connected: true,
		sessions: []gateway.SessionInfo{
			{Key: "t1-implement-ab12cd34"},
			{Key: "unrelated-session"},
		},
	}
	store := &fakeStore{threads: []*models.Thread{
		{ID: "t1", Status: models.ThreadWorking},
		{ID: "t2", Status: models.ThreadWorking},
		{ID: "t3", Status: models.ThreadStopping},
		{ID: "t4", Status: models.ThreadIdle},
	}}

	var notified []string
	m := NewMonitor(store, gw, func(threadID, status string) {
		notified = append(notified, threadID+":"+status)
	})

	if err := m.RunNow(context.Background()); err != nil {
		t.Fatalf("RunNow returned error: %v", err)
	}

	cases := []struct {
		id   string
		want string
	}{
		{"t1", models.ThreadWorking},     // live session, left alone
		{"t2", models.ThreadWorkingDone}, // working, no session
		{"t3", models.ThreadWorkingDone}, // stopping, no session
		{"t4", models.ThreadIdle},        // idle threads are out of scope
	}
	for _, tc := range cases {
		for _, th := range store.threads {
			if th.ID == tc.id && th.Status != tc.want {
				t.Errorf("thread %s status = %q, want %q", tc.id, th.Status, tc.want)
			}
		}
	}

	if len(notified) != 2 {
		t.Errorf("notified %v, want exactly t2 and t3", notified)
	}
}

func TestSweepListErrorPropagates(t *testing.T) {
	gw := &fakeGateway{connected: true, listErr: errors.New("boom")}
	store := &fakeStore{threads: []*models.Thread{{ID: "t1", Status: models.ThreadWorking}}}
	m := NewMonitor(store, gw, nil)

	if err := m.RunNow(context.Background()); err == nil {
		t.Fatal("RunNow returned nil error, want list failure")
	}
	if store.threads[0].Status != models.ThreadWorking {
		t.Error("thread status changed despite list failure")
	}
}

func TestSweepNoBusyThreadsSkipsListing(t *testing.T) {
	gw := &fakeGateway{connected: true}
	store := &fakeStore{threads: []*models.Thread{{ID: "t1", Status: models.ThreadIdle}}}
	m := NewMonitor(store, gw, nil)

	if err := m.RunNow(context.Background()); err != nil {
		t.Fatalf("RunNow returned error: %v", err)
	}
	if gw.listCalls != 0 {
		t.Error("ListSessions called with nothing to sweep")
	}
}

func TestHasLiveSession(t *testing.T) {
	keys := []string{"abc-implement-12345678", "other"}
	if !hasLiveSession("abc", keys) {
		t.Error("hasLiveSession(abc) = false, want true")
	}
	if hasLiveSession("zzz", keys) {
		t.Error("hasLiveSession(zzz) = true, want false")
	}
	if hasLiveSession("abc", nil) {
		t.Error("hasLiveSession with no sessions = true, want false")
	}
}
