package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func testPolicy() Policy {
	return Policy{
		MaxAttempts:    3,
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     40 * time.Millisecond,
		Multiplier:     2.0,
		Retryable: map[Class]bool{
			ClassServer:  true,
			ClassNetwork: true,
		},
	}
}

func TestDefaultPolicy(t *testing.T) {
	policy := DefaultPolicy()

	if policy.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", policy.MaxAttempts)
	}
	if policy.InitialBackoff != 1*time.Second {
		t.Errorf("InitialBackoff = %v, want 1s", policy.InitialBackoff)
	}
	if policy.MaxBackoff != 10*time.Second {
		t.Errorf("MaxBackoff = %v, want 10s", policy.MaxBackoff)
	}
	if policy.Multiplier != 2.0 {
		t.Errorf("Multiplier = %v, want 2.0", policy.Multiplier)
	}
	if !policy.ShouldRetry(ClassServer) || !policy.ShouldRetry(ClassNetwork) {
		t.Error("server and network failures should be retryable by default")
	}
	if policy.ShouldRetry(ClassClient) || policy.ShouldRetry(ClassUnknown) {
		t.Error("client and unknown failures should not be retryable by default")
	}
}

func TestPolicyBackoffFor(t *testing.T) {
	policy := DefaultPolicy()

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second}, // capped at MaxBackoff
		{6, 10 * time.Second},
	}

	for _, tt := range tests {
		if got := policy.BackoffFor(tt.attempt); got != tt.expected {
			t.Errorf("BackoffFor(%d) = %v, want %v", tt.attempt, got, tt.expected)
		}
	}
}

func TestDo_Success(t *testing.T) {
	exec := NewExecutor(testPolicy(), nil)

	callCount := 0
	err := exec.Do(context.Background(), "test", func() error {
		callCount++
		return nil
	})

	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if callCount != 1 {
		t.Errorf("Expected 1 call, got %d", callCount)
	}
}

func TestDo_SuccessAfterRetry(t *testing.T) {
	exec := NewExecutor(testPolicy(), nil)

	callCount := 0
	err := exec.Do(context.Background(), "test", func() error {
		callCount++
		if callCount < 3 {
			return &RemoteError{StatusCode: 503, Class: ClassServer, Message: "unavailable"}
		}
		return nil
	})

	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if callCount != 3 {
		t.Errorf("Expected 3 calls, got %d", callCount)
	}
}

func TestDo_TransientExhaustsMaxAttempts(t *testing.T) {
	exec := NewExecutor(testPolicy(), nil)

	serverErr := &RemoteError{StatusCode: 500, Class: ClassServer, Message: "boom"}
	callCount := 0
	err := exec.Do(context.Background(), "test", func() error {
		callCount++
		return serverErr
	})

	// MaxAttempts is the total number of calls, not extra retries.
	if callCount != 3 {
		t.Errorf("Expected 3 calls total, got %d", callCount)
	}
	// The last failure propagates unchanged.
	if !errors.Is(err, serverErr) {
		t.Errorf("Expected the original error to propagate, got %v", err)
	}
}

func TestDo_PermanentFailsImmediately(t *testing.T) {
	exec := NewExecutor(testPolicy(), nil)

	clientErr := &RemoteError{StatusCode: 400, Class: ClassClient, Message: "bad request"}
	callCount := 0
	err := exec.Do(context.Background(), "test", func() error {
		callCount++
		return clientErr
	})

	if callCount != 1 {
		t.Errorf("Expected exactly 1 call for a permanent failure, got %d", callCount)
	}
	if !errors.Is(err, clientErr) {
		t.Errorf("Expected the original error to propagate, got %v", err)
	}
}

func TestDo_UnclassifiedFailsImmediately(t *testing.T) {
	exec := NewExecutor(testPolicy(), nil)

	plainErr := errors.New("programming error")
	callCount := 0
	err := exec.Do(context.Background(), "test", func() error {
		callCount++
		return plainErr
	})

	if callCount != 1 {
		t.Errorf("Expected exactly 1 call for an unclassified failure, got %d", callCount)
	}
	if !errors.Is(err, plainErr) {
		t.Errorf("Expected the original error to propagate, got %v", err)
	}
}

func TestDo_BackoffScheduleNonDecreasing(t *testing.T) {
	policy := testPolicy()
	exec := NewExecutor(policy, nil)

	var callTimes []time.Time
	_ = exec.Do(context.Background(), "test", func() error {
		callTimes = append(callTimes, time.Now())
		return &RemoteError{StatusCode: 502, Class: ClassServer, Message: "bad gateway"}
	})

	if len(callTimes) != 3 {
		t.Fatalf("Expected 3 attempts, got %d", len(callTimes))
	}

	firstGap := callTimes[1].Sub(callTimes[0])
	secondGap := callTimes[2].Sub(callTimes[1])

	if firstGap < policy.InitialBackoff {
		t.Errorf("First gap %v shorter than initial backoff %v", firstGap, policy.InitialBackoff)
	}
	if secondGap < firstGap {
		t.Errorf("Backoff decreased: first %v, second %v", firstGap, secondGap)
	}
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	exec := NewExecutor(Policy{
		MaxAttempts:    3,
		InitialBackoff: 10 * time.Second,
		MaxBackoff:     10 * time.Second,
		Multiplier:     2.0,
		Retryable:      map[Class]bool{ClassServer: true},
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	callCount := 0
	err := exec.Do(ctx, "test", func() error {
		callCount++
		return &RemoteError{StatusCode: 500, Class: ClassServer, Message: "boom"}
	})

	if callCount != 1 {
		t.Errorf("Expected 1 call before cancellation, got %d", callCount)
	}
	if !errors.Is(err, ErrContextCancelled) {
		t.Errorf("Expected ErrContextCancelled, got %v", err)
	}
}
