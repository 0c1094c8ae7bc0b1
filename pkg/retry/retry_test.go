package retry

import (
	"context"
	"errors"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"
)

// instantAfter fires immediately and records the requested delays.
func instantAfter(delays *[]time.Duration) func(time.Duration) <-chan time.Time {
	return func(d time.Duration) <-chan time.Time {
		*delays = append(*delays, d)
		ch := make(chan time.Time, 1)
		ch <- time.Now()
		return ch
	}
}

func testConfig(attempts int, delays *[]time.Duration) Config {
	return Config{
		MaxAttempts:    attempts,
		InitialDelay:   10 * time.Millisecond,
		MaxDelay:       50 * time.Millisecond,
		Multiplier:     2.0,
		JitterStrategy: JitterNone,
		After:          instantAfter(delays),
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.MaxAttempts != 3 {
		t.Errorf("expected MaxAttempts=3, got %d", cfg.MaxAttempts)
	}
	if cfg.InitialDelay != time.Second {
		t.Errorf("expected InitialDelay=1s, got %v", cfg.InitialDelay)
	}
	if cfg.JitterStrategy != JitterDecorrelated {
		t.Errorf("expected decorrelated jitter, got %v", cfg.JitterStrategy)
	}
}

func TestNormalize_Invalid(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"zero attempts", Config{InitialDelay: time.Millisecond}},
		{"zero initial delay", Config{MaxAttempts: 1}},
		{"min above max", Config{MaxAttempts: 1, InitialDelay: time.Second, MinDelay: time.Minute, MaxDelay: time.Second}},
		{"multiplier below one", Config{MaxAttempts: 1, InitialDelay: time.Millisecond, Multiplier: 0.5}},
		{"negative elapsed", Config{MaxAttempts: 1, InitialDelay: time.Millisecond, MaxElapsedTime: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			if err := cfg.Normalize(); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestDefaultRetryable(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"context canceled", context.Canceled, false},
		{"deadline exceeded", context.DeadlineExceeded, true},
		{"regular error", errors.New("regular"), true},
		{"permanent", Permanent(errors.New("bad payload")), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DefaultRetryable(tt.err); got != tt.expected {
				t.Errorf("DefaultRetryable(%v) = %v, want %v", tt.err, got, tt.expected)
			}
		})
	}
}

func TestCalculateDelay(t *testing.T) {
	config := Config{
		InitialDelay: 100 * time.Millisecond,
		MinDelay:     100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
	}

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second},
		{6, time.Second},
	}

	for _, tt := range tests {
		if got := config.calculateDelay(tt.attempt); got != tt.expected {
			t.Errorf("attempt %d: got %v, want %v", tt.attempt, got, tt.expected)
		}
	}
}

func TestApplyJitter_Bounds(t *testing.T) {
	cfg := Config{
		MinDelay:       10 * time.Millisecond,
		MaxDelay:       time.Second,
		JitterStrategy: JitterDecorrelated,
		Rand:           rand.New(rand.NewSource(1)),
	}
	for i := 0; i < 100; i++ {
		d := cfg.applyJitter(100 * time.Millisecond)
		if d < 100*time.Millisecond || d >= 150*time.Millisecond {
			t.Fatalf("decorrelated jitter out of range: %v", d)
		}
	}

	cfg.JitterStrategy = JitterEqual
	for i := 0; i < 100; i++ {
		d := cfg.applyJitter(100 * time.Millisecond)
		if d < cfg.MinDelay || d > 100*time.Millisecond {
			t.Fatalf("equal jitter out of range: %v", d)
		}
	}
}

func TestDo_SucceedsAfterFailures(t *testing.T) {
	var delays []time.Duration
	var calls int32

	err := Do(context.Background(), testConfig(5, &delays), func(ctx context.Context) error {
		if atomic.AddInt32(&calls, 1) < 3 {
			return errors.New("flaky")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
	want := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}
	if len(delays) != len(want) || delays[0] != want[0] || delays[1] != want[1] {
		t.Errorf("delays = %v, want %v", delays, want)
	}
}

func TestDo_SingleAttemptReturnsRawError(t *testing.T) {
	var delays []time.Duration
	boom := errors.New("boom")

	err := Do(context.Background(), testConfig(1, &delays), func(ctx context.Context) error {
		return boom
	})

	if err != boom {
		t.Errorf("expected raw error, got %v", err)
	}
	if len(delays) != 0 {
		t.Errorf("expected no waits, got %v", delays)
	}
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	var delays []time.Duration
	var retried []int
	boom := errors.New("boom")

	cfg := testConfig(3, &delays)
	cfg.OnRetry = func(attempt int, err error, next time.Duration) {
		retried = append(retried, attempt)
	}

	err := Do(context.Background(), cfg, func(ctx context.Context) error { return boom })

	var exceeded *RetriesExceededError
	if !errors.As(err, &exceeded) {
		t.Fatalf("expected RetriesExceededError, got %v", err)
	}
	if exceeded.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", exceeded.Attempts)
	}
	if !errors.Is(err, boom) {
		t.Error("expected last error to be wrapped")
	}
	if len(retried) != 2 {
		t.Errorf("expected OnRetry twice, got %v", retried)
	}
}

func TestDo_PermanentStops(t *testing.T) {
	var delays []time.Duration
	var calls int32
	bad := errors.New("bad payload")

	err := Do(context.Background(), testConfig(5, &delays), func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return Permanent(bad)
	})

	if err != bad {
		t.Errorf("expected unwrapped permanent error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected a single call, got %d", calls)
	}
}

func TestDo_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var delays []time.Duration
	err := Do(ctx, testConfig(3, &delays), func(ctx context.Context) error {
		t.Error("fn must not run with a canceled context")
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestDo_MaxElapsedTime(t *testing.T) {
	var delays []time.Duration
	now := time.Unix(0, 0)

	cfg := testConfig(10, &delays)
	cfg.MaxElapsedTime = 15 * time.Millisecond
	cfg.Now = func() time.Time { return now }

	err := Do(context.Background(), cfg, func(ctx context.Context) error {
		now = now.Add(10 * time.Millisecond)
		return errors.New("slow")
	})

	var exceeded *RetriesExceededError
	if !errors.As(err, &exceeded) {
		t.Fatalf("expected RetriesExceededError, got %v", err)
	}
	if exceeded.Reason != "max elapsed time exceeded" {
		t.Errorf("unexpected reason %q", exceeded.Reason)
	}
}
