package retry

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

var errNotReady = errors.New("not ready")

func testPolicy() Policy {
	return Policy{Attempts: 5, Base: time.Millisecond}
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := testPolicy().Do(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := testPolicy().Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return Retryable(errNotReady)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDoExhaustsAfterBudget(t *testing.T) {
	calls := 0
	err := testPolicy().Do(context.Background(), func(ctx context.Context) error {
		calls++
		return Retryable(errNotReady)
	})
	if err == nil {
		t.Fatal("expected error after exhaustion")
	}
	if calls != 5 {
		t.Errorf("calls = %d, want exactly 5", calls)
	}
	if !errors.Is(err, errNotReady) {
		t.Errorf("error %v does not wrap the last attempt error", err)
	}
	if !strings.Contains(err.Error(), "exhausted") {
		t.Errorf("error %q does not report exhaustion", err)
	}
}

func TestDoStopsOnTerminalError(t *testing.T) {
	terminal := errors.New("boom")
	calls := 0
	err := testPolicy().Do(context.Background(), func(ctx context.Context) error {
		calls++
		return terminal
	})
	if !errors.Is(err, terminal) {
		t.Fatalf("err = %v, want %v", err, terminal)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 for non-retryable error", calls)
	}
	if strings.Contains(err.Error(), "exhausted") {
		t.Errorf("terminal error %q should not be labeled exhaustion", err)
	}
}

func TestDoZeroBudget(t *testing.T) {
	p := Policy{}
	err := p.Do(context.Background(), func(ctx context.Context) error { return nil })
	if err == nil {
		t.Fatal("expected error for zero attempt budget")
	}
}
