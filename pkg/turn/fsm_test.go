package turn

import (
	"errors"
	"sync"
	"testing"
)

type captureListener struct {
	mu     sync.Mutex
	events []StateChange
}

func (c *captureListener) OnStateChange(ev StateChange) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *captureListener) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func TestMachineHappyPath(t *testing.T) {
	m := NewMachine()
	l := &captureListener{}
	m.AddListener(l)

	steps := []State{StateConnecting, StateListening, StateAgentSpeaking, StateListening, StateIdle}
	for _, s := range steps {
		if err := m.Transition(s, "test"); err != nil {
			t.Fatalf("transition to %s: %v", s, err)
		}
	}
	if m.State() != StateIdle {
		t.Fatalf("final state = %s", m.State())
	}
	if l.Count() != len(steps) {
		t.Fatalf("listener saw %d events, want %d", l.Count(), len(steps))
	}
}

func TestMachineRejectsInvalidTransitions(t *testing.T) {
	m := NewMachine()
	err := m.Transition(StateAgentSpeaking, "skips connecting and listening")
	if err == nil {
		t.Fatalf("expected rejection")
	}
	var ite *InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("unexpected error type: %v", err)
	}
	if m.State() != StateIdle {
		t.Fatalf("failed transition must not change state, got %s", m.State())
	}
}

func TestMachineInterruptionPath(t *testing.T) {
	m := NewMachine()
	for _, s := range []State{StateConnecting, StateListening, StateAgentSpeaking} {
		if err := m.Transition(s, "setup"); err != nil {
			t.Fatalf("setup: %v", err)
		}
	}
	if err := m.Transition(StateInterrupted, "user barge-in"); err != nil {
		t.Fatalf("interrupt: %v", err)
	}
	if err := m.Transition(StateListening, "resume"); err != nil {
		t.Fatalf("resume: %v", err)
	}
}

func TestGateFirstChunkSemantics(t *testing.T) {
	g := NewGate()
	g.ArmForChunk(0)
	if g.Open() {
		t.Fatalf("gate must stay closed on first chunk")
	}
	if g.TryFire() {
		t.Fatalf("closed gate must not fire")
	}
	g.ArmForChunk(1)
	if !g.Open() {
		t.Fatalf("gate should open on second chunk")
	}
	if !g.TryFire() {
		t.Fatalf("open gate should fire once")
	}
	if g.TryFire() {
		t.Fatalf("gate must fire at most once per armed window")
	}
}
