package rotation_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/credmux/credmux/internal/rotation"
	"github.com/credmux/credmux/internal/session"
)

type mockRotator struct {
	mu      sync.Mutex
	rotated []string
	err     error
}

func (m *mockRotator) Rotate(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rotated = append(m.rotated, id)
	return m.err
}

func (m *mockRotator) ids() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.rotated))
	copy(out, m.rotated)
	return out
}

type mockLister struct {
	sessions []*session.Session
	err      error
}

func (m *mockLister) Sessions() ([]*session.Session, error) {
	return m.sessions, m.err
}

func activeSession(id string, age time.Duration) *session.Session {
	started := time.Now().Add(-age)
	return &session.Session{
		ID:        id,
		Status:    session.StatusActive,
		StartedAt: &started,
		Type:      session.TypeIAMUser,
	}
}

func waitRotated(t *testing.T, rotator *mockRotator, want int) []string {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if ids := rotator.ids(); len(ids) >= want {
			return ids
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("got %v, wanted %d rotations", rotator.ids(), want)
	return nil
}

func Test_Sweep_rotates_only_expired_active_sessions(t *testing.T) {
	expired := activeSession("expired", 2*time.Hour)
	young := activeSession("young", time.Minute)
	idle := activeSession("idle", 2*time.Hour)
	idle.Status = session.StatusInactive
	neverStarted := &session.Session{ID: "fresh", Status: session.StatusActive}

	rotator := &mockRotator{}
	driver := &rotation.Driver{
		Engine: rotator,
		Store:  &mockLister{sessions: []*session.Session{expired, young, idle, neverStarted}},
		MaxAge: time.Hour,
	}

	driver.Sweep(context.Background())

	ids := waitRotated(t, rotator, 1)
	if len(ids) != 1 || ids[0] != "expired" {
		t.Errorf("got %v, wanted only the expired session", ids)
	}
}

func Test_Sweep_failure_does_not_stop_other_rotations(t *testing.T) {
	rotator := &mockRotator{err: errors.New("sts throttled")}
	driver := &rotation.Driver{
		Engine: rotator,
		Store: &mockLister{sessions: []*session.Session{
			activeSession("a", 2*time.Hour),
			activeSession("b", 2*time.Hour),
		}},
		MaxAge: time.Hour,
	}

	driver.Sweep(context.Background())

	ids := waitRotated(t, rotator, 2)
	if len(ids) != 2 {
		t.Errorf("got %v, wanted both sessions attempted", ids)
	}
}

func Test_Sweep_list_failure_is_a_noop(t *testing.T) {
	rotator := &mockRotator{}
	driver := &rotation.Driver{
		Engine: rotator,
		Store:  &mockLister{err: errors.New("document corrupted")},
	}

	driver.Sweep(context.Background())

	time.Sleep(20 * time.Millisecond)
	if ids := rotator.ids(); len(ids) != 0 {
		t.Errorf("got %v, wanted no rotations", ids)
	}
}

func Test_Run_sweeps_until_canceled(t *testing.T) {
	rotator := &mockRotator{}
	driver := &rotation.Driver{
		Engine:   rotator,
		Store:    &mockLister{sessions: []*session.Session{activeSession("a", 2*time.Hour)}},
		Interval: 5 * time.Millisecond,
		MaxAge:   time.Hour,
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		driver.Run(ctx)
		close(done)
	}()

	waitRotated(t, rotator, 2)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("driver did not stop on cancel")
	}
}
