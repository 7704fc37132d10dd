package backoff_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/medocr/docflow/backoff"
)

func TestConstant_ReturnsFixedDelay(t *testing.T) {
	c := backoff.NewConstant(5 * time.Second)
	for retry := 1; retry <= 5; retry++ {
		if got := c.Delay(retry); got != 5*time.Second {
			t.Errorf("Delay(%d) = %v, want 5s", retry, got)
		}
	}
}

func TestExponential_DoublesFromInitial(t *testing.T) {
	e := backoff.NewExponential(500*time.Millisecond, 10*time.Second)
	want := []time.Duration{500 * time.Millisecond, time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second}
	for i, w := range want {
		if got := e.Delay(i + 1); got != w {
			t.Errorf("Delay(%d) = %v, want %v", i+1, got, w)
		}
	}
}

func TestExponentialWithJitter_WithinBounds(t *testing.T) {
	e := backoff.NewExponentialWithJitter(time.Second, 4*time.Second)
	seen := make(map[time.Duration]bool)
	for range 200 {
		d := e.Delay(3)
		if d < 0 || d > 4*time.Second {
			t.Fatalf("Delay(3) = %v, out of [0, 4s]", d)
		}
		seen[d] = true
	}
	if len(seen) < 2 {
		t.Errorf("expected jitter variance, got %d distinct values", len(seen))
	}
}

func TestPolicy_DefaultAllowsThreeAttempts(t *testing.T) {
	p := backoff.DefaultPolicy()

	d, ok := p.Next(1)
	if !ok || d != 500*time.Millisecond {
		t.Fatalf("Next(1) = %v, %v; want 500ms, true", d, ok)
	}
	d, ok = p.Next(2)
	if !ok || d != time.Second {
		t.Fatalf("Next(2) = %v, %v; want 1s, true", d, ok)
	}
	if _, ok := p.Next(3); ok {
		t.Fatal("Next(3) allowed a fourth attempt")
	}
}

func TestPolicy_NoRetry(t *testing.T) {
	p := backoff.NoRetry()
	if p.Attempts() != 1 {
		t.Fatalf("Attempts = %d, want 1", p.Attempts())
	}
	if _, ok := p.Next(1); ok {
		t.Fatal("NoRetry allowed a retry")
	}
	if (backoff.Policy{}).Attempts() != 1 {
		t.Fatal("zero policy should attempt once")
	}
}

func TestSleep_ReturnsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := backoff.Sleep(ctx, time.Hour)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("Sleep ignored cancellation")
	}
}

func TestSleep_Elapses(t *testing.T) {
	if err := backoff.Sleep(context.Background(), time.Millisecond); err != nil {
		t.Fatalf("Sleep: %v", err)
	}
}
