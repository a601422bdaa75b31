package bot

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestCircuitBreaker_OpensAfterFailures(t *testing.T) {
	now := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(2, time.Minute)
	cb.now = func() time.Time { return now }

	fail := func() error { return errors.New("send failed") }

	cb.Call(fail)
	if cb.State() != stateClosed {
		t.Fatalf("Expected closed after 1 failure, got %s", cb.State())
	}
	cb.Call(fail)
	if cb.State() != stateOpen {
		t.Fatalf("Expected open after 2 failures, got %s", cb.State())
	}

	called := false
	err := cb.Call(func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) || called {
		t.Errorf("Expected short circuit, got err=%v called=%v", err, called)
	}

	now = now.Add(2 * time.Minute)
	if err := cb.Call(func() error { return nil }); err != nil {
		t.Errorf("Expected half-open trial to pass, got %v", err)
	}
	if cb.State() != stateClosed {
		t.Errorf("Expected closed after successful trial, got %s", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	now := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(1, time.Minute)
	cb.now = func() time.Time { return now }

	cb.Call(func() error { return errors.New("x") })
	now = now.Add(2 * time.Minute)
	cb.Call(func() error { return errors.New("still down") })

	if cb.State() != stateOpen {
		t.Errorf("Expected open after failed trial, got %s", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenAllowsSingleTrial(t *testing.T) {
	now := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(1, time.Minute)
	cb.now = func() time.Time { return now }

	cb.Call(func() error { return errors.New("down") })
	now = now.Add(2 * time.Minute)

	release := make(chan struct{})
	entered := make(chan struct{})
	trialDone := make(chan error)
	var calls atomic.Int32

	go func() {
		trialDone <- cb.Call(func() error {
			calls.Add(1)
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := cb.Call(func() error { calls.Add(1); return nil })
			if !errors.Is(err, ErrCircuitOpen) {
				t.Errorf("Expected ErrCircuitOpen while trial runs, got %v", err)
			}
		}()
	}
	wg.Wait()
	close(release)

	if err := <-trialDone; err != nil {
		t.Fatalf("Trial call error = %v", err)
	}
	if cb.State() != stateClosed {
		t.Errorf("Expected closed after successful trial, got %s", cb.State())
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("Expected exactly one trial call, got %d", got)
	}
}

func TestMaxNotifier_FailingUsersDoNotBlockOthers(t *testing.T) {
	var delivered []int64
	n := newNotifier(func(ctx context.Context, userID int64, text string) error {
		if userID <= 5 {
			return errors.New("chat not found")
		}
		delivered = append(delivered, userID)
		return nil
	}, time.Second)

	for round := 0; round < 3; round++ {
		for user := int64(1); user <= 5; user++ {
			n.Notify(context.Background(), user, "🔔 Reminder: x")
		}
	}

	if err := n.Notify(context.Background(), 6, "🔔 Reminder: Buy milk"); err != nil {
		t.Fatalf("Expected delivery to user 6, got %v", err)
	}
	if len(delivered) != 1 || delivered[0] != 6 {
		t.Errorf("Expected one delivery to user 6, got %v", delivered)
	}
	if len(n.breakers) != 5 {
		t.Errorf("Expected breakers only for failing users, got %d", len(n.breakers))
	}
}

func TestMaxNotifier_UsesTimeoutAndBreaker(t *testing.T) {
	var gotUser int64
	var gotText string
	var hadDeadline bool

	n := newNotifier(func(ctx context.Context, userID int64, text string) error {
		gotUser, gotText = userID, text
		_, hadDeadline = ctx.Deadline()
		return nil
	}, time.Second)

	if err := n.Notify(context.Background(), 42, "🔔 Reminder: Buy milk"); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	if gotUser != 42 || gotText != "🔔 Reminder: Buy milk" {
		t.Errorf("Unexpected send(%d, %q)", gotUser, gotText)
	}
	if !hadDeadline {
		t.Error("Expected delivery timeout on context")
	}

	failing := newNotifier(func(ctx context.Context, userID int64, text string) error {
		return errors.New("chat not found")
	}, time.Second)
	for i := 0; i < 5; i++ {
		failing.Notify(context.Background(), 1, "x")
	}
	if err := failing.Notify(context.Background(), 1, "x"); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen after repeated failures, got %v", err)
	}
}
