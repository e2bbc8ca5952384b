package autoreply

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type blockingExecutor struct {
	calls   atomic.Int32
	release chan struct{}
	// honourCancel makes runs return when the scheduler cancels them.
	honourCancel bool
	panicWith    any
	cancelled    atomic.Int32
}

func newBlockingExecutor() *blockingExecutor {
	return &blockingExecutor{release: make(chan struct{}), honourCancel: true}
}

func (e *blockingExecutor) Run(ctx context.Context, _ Resume) (Report, error) {
	e.calls.Add(1)
	if e.panicWith != nil {
		panic(e.panicWith)
	}

	if !e.honourCancel {
		<-e.release
		return Report{StopReason: StopCompleted}, nil
	}

	select {
	case <-e.release:
		return Report{StopReason: StopCompleted}, nil
	case <-ctx.Done():
		e.cancelled.Add(1)
		return Report{StopReason: StopCancelled}, ctx.Err()
	}
}

func waitForIdle(t *testing.T, s *Scheduler) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for len(s.Active()) > 0 {
		if time.Now().After(deadline) {
			t.Fatalf("runs still active: %v", s.Active())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSchedulerDoesNotDuplicateRuns(t *testing.T) {
	resume := testResume()
	executor := newBlockingExecutor()
	scheduler := NewScheduler(&fakeResumes{list: []Resume{resume}}, executor, SchedulerConfig{}, nil)

	ctx := context.Background()
	if err := scheduler.Tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if err := scheduler.Tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}

	active := scheduler.Active()
	if len(active) != 1 || active[0].ResumeID != resume.ID {
		t.Fatalf("expected a single active run, got %v", active)
	}

	close(executor.release)
	waitForIdle(t, scheduler)

	if executor.calls.Load() != 1 {
		t.Fatalf("expected one run, got %d", executor.calls.Load())
	}

	// A finished run frees the slot for the next tick.
	executor.release = make(chan struct{})
	if err := scheduler.Tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}
	close(executor.release)
	waitForIdle(t, scheduler)

	if executor.calls.Load() != 2 {
		t.Fatalf("expected a second run after the first finished, got %d", executor.calls.Load())
	}
}

func TestSchedulerRunsResumesIndependently(t *testing.T) {
	first, second := testResume(), testResume()
	executor := newBlockingExecutor()
	scheduler := NewScheduler(&fakeResumes{list: []Resume{first, second}}, executor, SchedulerConfig{}, nil)

	if err := scheduler.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(scheduler.Active()) != 2 {
		t.Fatalf("expected two active runs, got %d", len(scheduler.Active()))
	}

	close(executor.release)
	waitForIdle(t, scheduler)
}

func TestSchedulerCleansUpAfterPanic(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	executor := newBlockingExecutor()
	executor.panicWith = "boom"

	scheduler := NewScheduler(&fakeResumes{list: []Resume{testResume()}}, executor, SchedulerConfig{}, zap.New(core))

	if err := scheduler.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	waitForIdle(t, scheduler)

	if logs.FilterMessage("auto-reply run panicked").Len() != 1 {
		t.Fatalf("expected panic to be logged")
	}
}

func TestSchedulerTickErrors(t *testing.T) {
	listErr := errors.New("database is down")
	scheduler := NewScheduler(&fakeResumes{listErr: listErr}, newBlockingExecutor(), SchedulerConfig{}, nil)

	if err := scheduler.Tick(context.Background()); !errors.Is(err, listErr) {
		t.Fatalf("expected list error, got %v", err)
	}
}

type panickingLister struct{}

func (panickingLister) ListAutoReplyEnabled(context.Context) ([]Resume, error) {
	panic("unexpected")
}

func TestSchedulerTickRecoversPanic(t *testing.T) {
	scheduler := NewScheduler(panickingLister{}, newBlockingExecutor(), SchedulerConfig{}, nil)

	if err := scheduler.Tick(context.Background()); err == nil {
		t.Fatalf("expected an error from a panicking tick")
	}
}

func TestSchedulerShutdownCancelsRuns(t *testing.T) {
	executor := newBlockingExecutor()
	scheduler := NewScheduler(&fakeResumes{list: []Resume{testResume(), testResume()}}, executor, SchedulerConfig{Interval: time.Hour}, nil)

	if err := scheduler.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := scheduler.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	if err := scheduler.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if executor.cancelled.Load() != 2 {
		t.Fatalf("expected both runs cancelled, got %d", executor.cancelled.Load())
	}
	if len(scheduler.Active()) != 0 {
		t.Fatalf("expected no active runs after shutdown")
	}

	if err := scheduler.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(scheduler.Active()) != 0 {
		t.Fatalf("no runs may start after shutdown")
	}
}

func TestSchedulerStartsOnce(t *testing.T) {
	scheduler := NewScheduler(&fakeResumes{}, newBlockingExecutor(), SchedulerConfig{Interval: time.Hour}, nil)

	if err := scheduler.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := scheduler.Start(); !errors.Is(err, errSchedulerStarted) {
		t.Fatalf("expected a second start to fail, got %v", err)
	}

	if err := scheduler.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if err := scheduler.Start(); !errors.Is(err, errSchedulerClosed) {
		t.Fatalf("expected start after shutdown to fail, got %v", err)
	}
}

func TestSchedulerShutdownGracePeriod(t *testing.T) {
	executor := newBlockingExecutor()
	executor.honourCancel = false
	scheduler := NewScheduler(&fakeResumes{list: []Resume{testResume()}}, executor, SchedulerConfig{ShutdownGrace: 20 * time.Millisecond}, nil)

	if err := scheduler.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	if err := scheduler.Shutdown(context.Background()); err == nil {
		t.Fatalf("expected grace period error")
	}

	close(executor.release)
	waitForIdle(t, scheduler)
}

func TestSchedulerActiveSnapshot(t *testing.T) {
	executor := newBlockingExecutor()
	ids := []uuid.UUID{uuid.New(), uuid.New()}
	resumes := []Resume{{ID: ids[0]}, {ID: ids[1]}}
	scheduler := NewScheduler(&fakeResumes{list: resumes}, executor, SchedulerConfig{}, nil)

	var mu sync.Mutex
	tick := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	scheduler.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		tick = tick.Add(time.Second)
		return tick
	}

	if err := scheduler.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	active := scheduler.Active()
	if len(active) != 2 || active[0].ResumeID != ids[0] || !active[0].StartedAt.Before(active[1].StartedAt) {
		t.Fatalf("unexpected snapshot %v", active)
	}

	close(executor.release)
	waitForIdle(t, scheduler)
}
