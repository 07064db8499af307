package ratelimit

import (
	"testing"
	"time"
)

func TestAllowWithinBurst(t *testing.T) {
	l := New(Config{RequestsPerSecond: 1, BurstSize: 5, CleanupInterval: time.Minute})
	defer l.Stop()

	for i := 0; i < 5; i++ {
		if !l.Allow("client-1") {
			t.Fatalf("request %d within burst should be allowed", i)
		}
	}
	if l.Allow("client-1") {
		t.Fatal("request beyond burst should be rejected")
	}
}

func TestRefill(t *testing.T) {
	l := New(Config{RequestsPerSecond: 100, BurstSize: 2, CleanupInterval: time.Minute})
	defer l.Stop()

	l.Allow("client-1")
	l.Allow("client-1")
	if l.Allow("client-1") {
		t.Fatal("bucket should be empty")
	}

	// 100 req/s refills a token in 10ms
	time.Sleep(30 * time.Millisecond)
	if !l.Allow("client-1") {
		t.Fatal("bucket should have refilled")
	}
}

func TestIndependentClients(t *testing.T) {
	l := New(Config{RequestsPerSecond: 1, BurstSize: 1, CleanupInterval: time.Minute})
	defer l.Stop()

	if !l.Allow("client-1") {
		t.Fatal("first client should be allowed")
	}
	if !l.Allow("client-2") {
		t.Fatal("second client has its own bucket")
	}
	if l.Allow("client-1") {
		t.Fatal("first client should now be limited")
	}
}

func TestDefaultsApplied(t *testing.T) {
	l := New(Config{})
	defer l.Stop()

	if l.cfg.RequestsPerSecond != DefaultConfig().RequestsPerSecond {
		t.Errorf("expected default rate, got %d", l.cfg.RequestsPerSecond)
	}
	if !l.Allow("client-1") {
		t.Fatal("default config should allow requests")
	}
}
