package turn

import (
	"sync"
	"time"
)

// StateChange represents a state transition event.
type StateChange struct {
	FromState State
	ToState   State
	Timestamp time.Time
	Reason    string
}

// StateListener observes turn state changes.
type StateListener interface {
	OnStateChange(event StateChange)
}

// Machine is the finite state machine replacing the original component's
// independently-mutated mode booleans. All transitions go through the
// transition table; invalid ones are rejected with InvalidTransitionError.
type Machine struct {
	currentState State
	mu           sync.RWMutex

	speakingStartTime  time.Time
	listeningStartTime time.Time

	stateChangeListeners []StateListener
}

// NewMachine creates a machine in the Idle state.
func NewMachine() *Machine {
	return &Machine{currentState: StateIdle}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.currentState
}

// transitionValid checks if a state transition is valid (must be called with lock held).
func (m *Machine) transitionValid(from, to State) bool {
	validTransitions := map[State][]State{
		StateIdle:          {StateConnecting},
		StateConnecting:    {StateListening, StateIdle},
		StateListening:     {StateAgentSpeaking, StateIdle},
		StateAgentSpeaking: {StateListening, StateInterrupted, StateIdle},
		StateInterrupted:   {StateListening, StateIdle},
	}

	allowedStates, exists := validTransitions[from]
	if !exists {
		return false
	}

	for _, allowed := range allowedStates {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transition moves to a new state with validation.
func (m *Machine) Transition(state State, reason string) error {
	m.mu.Lock()

	if !m.transitionValid(m.currentState, state) {
		m.mu.Unlock()
		return &InvalidTransitionError{
			From: m.currentState,
			To:   state,
		}
	}

	oldState := m.currentState
	m.currentState = state

	switch state {
	case StateListening:
		m.listeningStartTime = time.Now()
	case StateAgentSpeaking:
		m.speakingStartTime = time.Now()
	}

	event := StateChange{
		FromState: oldState,
		ToState:   state,
		Timestamp: time.Now(),
		Reason:    reason,
	}

	// Notify listeners outside the lock to avoid deadlocks when a listener
	// transitions the machine again.
	listeners := make([]StateListener, len(m.stateChangeListeners))
	copy(listeners, m.stateChangeListeners)
	m.mu.Unlock()

	for _, listener := range listeners {
		listener.OnStateChange(event)
	}

	return nil
}

// AddListener registers a listener for state change events.
func (m *Machine) AddListener(listener StateListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stateChangeListeners = append(m.stateChangeListeners, listener)
}

// SpeakingDuration reports how long the agent has been speaking, zero when
// not in AgentSpeaking.
func (m *Machine) SpeakingDuration() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.currentState != StateAgentSpeaking {
		return 0
	}
	return time.Since(m.speakingStartTime)
}

// InvalidTransitionError represents an invalid state transition attempt
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return "invalid state transition from " + e.From.String() + " to " + e.To.String()
}
