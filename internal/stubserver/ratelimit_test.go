package stubserver

import (
	"testing"
	"time"
)

func TestClaimLimiter_perIP(t *testing.T) {
	l := newClaimLimiter(0.001, 1)

	if !l.allow("192.0.2.1") {
		t.Fatal("first request denied")
	}
	if l.allow("192.0.2.1") {
		t.Error("second request within burst allowed")
	}
	if !l.allow("192.0.2.2") {
		t.Error("other IP denied")
	}
}

func TestClaimLimiter_nilAllows(t *testing.T) {
	var l *claimLimiter
	for range 10 {
		if !l.allow("192.0.2.1") {
			t.Fatal("nil limiter denied")
		}
	}
}

func TestClaimLimiter_sweepsIdle(t *testing.T) {
	l := newClaimLimiter(1, 1)
	l.allow("192.0.2.1")

	l.mu.Lock()
	l.limiters["192.0.2.1"].lastSeen = time.Now().Add(-2 * limiterIdle)
	l.lastSweep = time.Now().Add(-2 * limiterSweep)
	l.mu.Unlock()

	l.allow("192.0.2.2")

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.limiters["192.0.2.1"]; ok {
		t.Error("idle limiter not swept")
	}
	if len(l.limiters) != 1 {
		t.Errorf("limiters = %d, want 1", len(l.limiters))
	}
}
