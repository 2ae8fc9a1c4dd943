package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	cb := NewCircuitBreaker(3, time.Minute)
	boom := errors.New("boom")

	for i := 0; i < 3; i++ {
		if err := cb.Execute(context.Background(), func() error { return boom }); !errors.Is(err, boom) {
			t.Fatalf("Expected boom, got %v", err)
		}
	}

	if cb.GetState() != StateOpen {
		t.Errorf("Expected open state after %d failures", 3)
	}

	err := cb.Execute(context.Background(), func() error { return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen while open, got %v", err)
	}
}

func TestCircuitBreaker_RecoversAfterTimeout(t *testing.T) {
	cb := NewCircuitBreaker(1, 10*time.Millisecond)
	boom := errors.New("boom")

	cb.Execute(context.Background(), func() error { return boom })
	if cb.GetState() != StateOpen {
		t.Fatal("Expected open state")
	}

	time.Sleep(20 * time.Millisecond)

	if err := cb.Execute(context.Background(), func() error { return nil }); err != nil {
		t.Errorf("Expected the probe to succeed, got %v", err)
	}
	if cb.GetState() != StateClosed {
		t.Errorf("Expected closed state after a successful probe")
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(1, 10*time.Millisecond)
	boom := errors.New("boom")

	cb.Execute(context.Background(), func() error { return boom })
	time.Sleep(20 * time.Millisecond)

	cb.Execute(context.Background(), func() error { return boom })
	if cb.GetState() != StateOpen {
		t.Error("Expected the circuit to reopen on a failed probe")
	}
}

func TestCircuitBreaker_CanceledContext(t *testing.T) {
	cb := NewCircuitBreaker(3, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := cb.Execute(ctx, func() error { called = true; return nil })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if called {
		t.Error("Expected the call to be skipped on a canceled context")
	}
}
