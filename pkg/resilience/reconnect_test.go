package resilience

import (
	"testing"
	"time"
)

func TestReconnectPolicySkipCodes(t *testing.T) {
	p := NewReconnectPolicy(0, 0)
	if p.Delay != 3*time.Second {
		t.Fatalf("default delay = %v", p.Delay)
	}
	if p.ShouldReconnect(1000, 0) {
		t.Fatalf("normal close must not reconnect")
	}
	if p.ShouldReconnect(1006, 0) {
		t.Fatalf("abnormal close must not reconnect")
	}
	if !p.ShouldReconnect(1005, 0) {
		t.Fatalf("1005 should reconnect")
	}
	if !p.ShouldReconnect(1011, 0) {
		t.Fatalf("1011 should reconnect")
	}
}

func TestReconnectPolicyAttemptBudget(t *testing.T) {
	unbounded := NewReconnectPolicy(time.Second, 0)
	if !unbounded.ShouldReconnect(1005, 100000) {
		t.Fatalf("zero max attempts means unbounded")
	}
	capped := NewReconnectPolicy(time.Second, 3)
	if !capped.ShouldReconnect(1005, 2) {
		t.Fatalf("attempt below budget should reconnect")
	}
	if capped.ShouldReconnect(1005, 3) {
		t.Fatalf("attempt at budget should stop")
	}
}
