package clients

import (
	"testing"
	"time"
)

func TestBreakerOpensAfterThreshold(t *testing.T) {
	t.Parallel()

	b := newBreaker(3, time.Hour)
	for i := 0; i < 3; i++ {
		if !b.allow() {
			t.Fatalf("breaker should allow before threshold, attempt %d", i)
		}
		b.failure()
	}
	if b.allow() {
		t.Fatal("breaker should be open after threshold failures")
	}
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	t.Parallel()

	b := newBreaker(2, 10*time.Millisecond)
	b.failure()
	b.failure()
	if b.allow() {
		t.Fatal("breaker should be open")
	}

	time.Sleep(20 * time.Millisecond)
	if !b.allow() {
		t.Fatal("breaker should allow a probe after cooldown")
	}

	// probe fails: open again immediately
	b.failure()
	if b.allow() {
		t.Fatal("breaker should re-open after failed probe")
	}
}

func TestBreakerSuccessResets(t *testing.T) {
	t.Parallel()

	b := newBreaker(3, time.Hour)
	b.failure()
	b.failure()
	b.success()
	b.failure()
	b.failure()
	if !b.allow() {
		t.Fatal("success should have reset the failure count")
	}
}
