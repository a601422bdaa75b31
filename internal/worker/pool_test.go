package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewPool_Defaults(t *testing.T) {
	p := NewPool(0, 0, nil)

	if p.workers != 3 {
		t.Errorf("Expected 3 workers by default, got %d", p.workers)
	}
	if p.timeout != 10*time.Second {
		t.Errorf("Expected 10s timeout by default, got %v", p.timeout)
	}
	if cap(p.jobCh) != 6 {
		t.Errorf("Expected queue capacity 6, got %d", cap(p.jobCh))
	}
}

func TestPool_ProcessesSubmittedJobs(t *testing.T) {
	var mu sync.Mutex
	seen := make(map[uint]time.Time)

	p := NewPool(2, time.Second, func(ctx context.Context, job Job) error {
		mu.Lock()
		seen[job.TaskID] = job.FireAt
		mu.Unlock()
		return nil
	})
	p.Start()

	fireAt := time.Date(2030, 1, 1, 8, 0, 0, 0, time.UTC)
	for i := uint(1); i <= 10; i++ {
		if err := p.Submit(context.Background(), Job{TaskID: i, FireAt: fireAt}); err != nil {
			t.Fatalf("Submit(%d) error = %v", i, err)
		}
	}

	p.Stop()

	if len(seen) != 10 {
		t.Fatalf("Expected 10 jobs processed before Stop returned, got %d", len(seen))
	}
	if !seen[7].Equal(fireAt) {
		t.Errorf("Expected FireAt to be passed through, got %v", seen[7])
	}

	stats := p.GetStats()
	if stats["jobs_processed"].(int64) != 10 {
		t.Errorf("Expected jobs_processed 10, got %v", stats["jobs_processed"])
	}
	if stats["running"].(bool) {
		t.Error("Expected pool to report stopped")
	}
}

func TestNewJob_AssignsDistinctDeliveryIDs(t *testing.T) {
	fireAt := time.Date(2030, 1, 1, 8, 0, 0, 0, time.UTC)
	claimed := fireAt.Add(time.Second)

	a := NewJob(7, fireAt, claimed)
	b := NewJob(7, fireAt, claimed)

	if a.TaskID != 7 || !a.FireAt.Equal(fireAt) || !a.ClaimedAt.Equal(claimed) {
		t.Errorf("Unexpected job %+v", a)
	}
	if a.DeliveryID == "" || a.DeliveryID == b.DeliveryID {
		t.Errorf("Expected distinct delivery ids, got %q and %q", a.DeliveryID, b.DeliveryID)
	}
}

func TestPool_SubmitAfterStop(t *testing.T) {
	p := NewPool(1, time.Second, func(ctx context.Context, job Job) error { return nil })

	if err := p.Submit(context.Background(), Job{TaskID: 1}); !errors.Is(err, ErrPoolStopped) {
		t.Errorf("Expected ErrPoolStopped before Start, got %v", err)
	}

	p.Start()
	p.Stop()
	p.Stop()

	if err := p.Submit(context.Background(), Job{TaskID: 1}); !errors.Is(err, ErrPoolStopped) {
		t.Errorf("Expected ErrPoolStopped after Stop, got %v", err)
	}
}

func TestPool_SubmitBlocksUntilContextDone(t *testing.T) {
	release := make(chan struct{})
	p := NewPool(1, time.Second, func(ctx context.Context, job Job) error {
		<-release
		return nil
	})
	p.Start()
	defer func() {
		close(release)
		p.Stop()
	}()

	// One job held by the worker plus a full queue.
	for i := 0; i < 3; i++ {
		if err := p.Submit(context.Background(), Job{TaskID: uint(i + 1)}); err != nil {
			t.Fatalf("Submit error = %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := p.Submit(ctx, Job{TaskID: 99})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected DeadlineExceeded on a full queue, got %v", err)
	}
}

func TestPool_HandlerErrorsAndPanics(t *testing.T) {
	var calls atomic.Int32
	p := NewPool(1, time.Second, func(ctx context.Context, job Job) error {
		calls.Add(1)
		switch job.TaskID {
		case 1:
			return errors.New("delivery failed")
		case 2:
			panic("boom")
		}
		return nil
	})
	p.Start()

	for i := uint(1); i <= 3; i++ {
		if err := p.Submit(context.Background(), Job{TaskID: i}); err != nil {
			t.Fatalf("Submit error = %v", err)
		}
	}
	p.Stop()

	if calls.Load() != 3 {
		t.Errorf("Expected handler to run 3 times, got %d", calls.Load())
	}

	stats := p.GetStats()
	if stats["total_errors"].(int64) != 2 {
		t.Errorf("Expected 2 errors, got %v", stats["total_errors"])
	}
	if stats["panics"].(int64) != 1 {
		t.Errorf("Expected 1 panic, got %v", stats["panics"])
	}
}

func TestPool_HandlerGetsDeadline(t *testing.T) {
	var hadDeadline atomic.Bool
	p := NewPool(1, 50*time.Millisecond, func(ctx context.Context, job Job) error {
		_, ok := ctx.Deadline()
		hadDeadline.Store(ok)
		return nil
	})
	p.Start()
	p.Submit(context.Background(), Job{TaskID: 1})
	p.Stop()

	if !hadDeadline.Load() {
		t.Error("Expected handler context to carry the delivery timeout")
	}
}
