package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/replydesk/replydesk/internal/config"
	"github.com/replydesk/replydesk/internal/registry"
)

type fakeChecker struct {
	calls atomic.Int32
}

func (f *fakeChecker) CheckNow(ctx context.Context) (int, error) {
	f.calls.Add(1)
	return 3, nil
}

// consumeTasks runs bridge tasks the way the engine loop does.
func consumeTasks(ctx context.Context, bridge *registry.Bridge) {
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-bridge.Tasks():
			task.Execute(ctx)
		}
	}
}

func newTestScheduler(t *testing.T, checkInterval time.Duration) (*Scheduler, *fakeChecker, context.CancelFunc) {
	t.Helper()

	bridge := registry.NewBridge(2 * time.Second)
	checker := &fakeChecker{}
	bridge.Publish(checker)

	ctx, cancel := context.WithCancel(context.Background())
	go consumeTasks(ctx, bridge)

	s := New(config.SchedulerConfig{
		Enabled:       true,
		TickInterval:  50 * time.Millisecond,
		CheckInterval: checkInterval,
		MaxConcurrent: 1,
	}, bridge, nil)
	s.lock = NewRunLock(t.TempDir() + "/test.lock")
	return s, checker, cancel
}

func TestTickRunsCheckThroughBridge(t *testing.T) {
	s, checker, cancel := newTestScheduler(t, time.Hour)
	defer cancel()

	s.tick(context.Background(), time.Now())

	if got := checker.calls.Load(); got != 1 {
		t.Errorf("expected 1 check, got %d", got)
	}
}

func TestTickHonorsCheckInterval(t *testing.T) {
	s, checker, cancel := newTestScheduler(t, time.Hour)
	defer cancel()

	now := time.Now()
	s.tick(context.Background(), now)
	s.tick(context.Background(), now.Add(time.Minute))
	s.tick(context.Background(), now.Add(2*time.Minute))

	if got := checker.calls.Load(); got != 1 {
		t.Errorf("expected 1 check within the interval, got %d", got)
	}

	s.tick(context.Background(), now.Add(time.Hour+time.Second))
	if got := checker.calls.Load(); got != 2 {
		t.Errorf("expected a second check after the interval, got %d", got)
	}
}

func TestTickSkipsWithoutEngine(t *testing.T) {
	bridge := registry.NewBridge(200 * time.Millisecond)
	s := New(config.SchedulerConfig{
		Enabled:       true,
		TickInterval:  50 * time.Millisecond,
		CheckInterval: time.Hour,
		MaxConcurrent: 1,
	}, bridge, nil)
	s.lock = NewRunLock(t.TempDir() + "/test.lock")

	// No handle published; Submit fails fast and the tick is a no-op.
	s.tick(context.Background(), time.Now())
}

type fakePruner struct {
	calls  atomic.Int32
	window time.Duration
}

func (f *fakePruner) PruneDecisions(olderThan time.Duration) (int64, error) {
	f.calls.Add(1)
	f.window = olderThan
	return 2, nil
}

func TestTickRunsRetentionAfterCheck(t *testing.T) {
	bridge := registry.NewBridge(2 * time.Second)
	checker := &fakeChecker{}
	bridge.Publish(checker)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go consumeTasks(ctx, bridge)

	pruner := &fakePruner{}
	s := New(config.SchedulerConfig{
		Enabled:         true,
		TickInterval:    50 * time.Millisecond,
		CheckInterval:   time.Hour,
		MaxConcurrent:   1,
		RetainDecisions: 30 * 24 * time.Hour,
	}, bridge, pruner)
	s.lock = NewRunLock(t.TempDir() + "/test.lock")

	s.tick(context.Background(), time.Now())

	if got := pruner.calls.Load(); got != 1 {
		t.Fatalf("expected 1 retention pass, got %d", got)
	}
	if pruner.window != 30*24*time.Hour {
		t.Errorf("retention window = %v", pruner.window)
	}

	// Within the check interval the tick is a no-op, so no extra prune.
	s.tick(context.Background(), time.Now().Add(time.Minute))
	if got := pruner.calls.Load(); got != 1 {
		t.Errorf("retention ran without a check, calls = %d", got)
	}
}

func TestRetentionDisabledWithoutWindow(t *testing.T) {
	bridge := registry.NewBridge(2 * time.Second)
	checker := &fakeChecker{}
	bridge.Publish(checker)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go consumeTasks(ctx, bridge)

	pruner := &fakePruner{}
	s := New(config.SchedulerConfig{
		Enabled:       true,
		TickInterval:  50 * time.Millisecond,
		CheckInterval: time.Hour,
		MaxConcurrent: 1,
	}, bridge, pruner)
	s.lock = NewRunLock(t.TempDir() + "/test.lock")

	s.tick(context.Background(), time.Now())

	if got := pruner.calls.Load(); got != 0 {
		t.Errorf("retention must not run with a zero window, calls = %d", got)
	}
}

func TestLockPreventsOverlap(t *testing.T) {
	lockPath := t.TempDir() + "/overlap.lock"
	l1 := NewRunLock(lockPath)
	l2 := NewRunLock(lockPath)

	acquired, err := l1.TryLock()
	if err != nil || !acquired {
		t.Fatalf("first lock: acquired=%v err=%v", acquired, err)
	}

	acquired2, err := l2.TryLock()
	if err != nil {
		t.Fatalf("second lock: %v", err)
	}
	if acquired2 {
		l2.Unlock()
		t.Fatal("second process must not acquire a held lock")
	}

	l1.Unlock()

	acquired3, err := l2.TryLock()
	if err != nil || !acquired3 {
		t.Fatalf("lock after release: acquired=%v err=%v", acquired3, err)
	}
	l2.Unlock()
}

func TestSemaphoreConcurrencyLimit(t *testing.T) {
	sem := NewSemaphore(2)

	if !sem.TryAcquire() {
		t.Error("first acquire should succeed")
	}
	if !sem.TryAcquire() {
		t.Error("second acquire should succeed")
	}
	if sem.TryAcquire() {
		t.Error("third acquire should fail (cap=2)")
	}
	if sem.Available() != 0 {
		t.Errorf("Available() = %d, want 0", sem.Available())
	}

	sem.Release()
	if sem.Available() != 1 {
		t.Errorf("Available() = %d, want 1", sem.Available())
	}
	if !sem.TryAcquire() {
		t.Error("acquire after release should succeed")
	}
}
