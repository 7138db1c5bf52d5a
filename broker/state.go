package broker

import (
	"fmt"
	"sync"
)

// State is a session lifecycle state.
type State string

const (
	// StateUninitialized is the zero state before any process is attached.
	StateUninitialized State = "uninitialized"
	// StateCreating means a fresh agent process is being spawned.
	StateCreating State = "creating"
	// StateResuming means a process is being spawned against persisted history.
	StateResuming State = "resuming"
	// StateReady means the session accepts user messages.
	StateReady State = "ready"
	// StateForking means the process is being replaced with a forked copy
	// of the conversation.
	StateForking State = "forking"
	// StateContinuing means the process is being replaced to continue the
	// most recent conversation.
	StateContinuing State = "continuing"
	// StateStartingFresh means the process is being replaced with a blank
	// conversation.
	StateStartingFresh State = "starting_fresh"
	// StateShuttingDown means the session is tearing down its process.
	StateShuttingDown State = "shutting_down"
	// StateTerminated is the final state.
	StateTerminated State = "terminated"
)

// validTransitions enumerates the allowed state machine edges.
var validTransitions = map[State][]State{
	StateUninitialized: {StateCreating, StateResuming, StateTerminated},
	StateCreating:      {StateReady, StateShuttingDown, StateTerminated},
	StateResuming:      {StateReady, StateShuttingDown, StateTerminated},
	StateReady:         {StateForking, StateContinuing, StateStartingFresh, StateShuttingDown},
	StateForking:       {StateReady, StateShuttingDown, StateTerminated},
	StateContinuing:    {StateReady, StateShuttingDown, StateTerminated},
	StateStartingFresh: {StateReady, StateShuttingDown, StateTerminated},
	StateShuttingDown:  {StateTerminated},
	StateTerminated:    {},
}

// stateMachine guards the session lifecycle. Transitions outside the
// enumerated edges fail rather than silently corrupting the lifecycle.
type stateMachine struct {
	mu    sync.Mutex
	state State
}

func newStateMachine() *stateMachine {
	return &stateMachine{state: StateUninitialized}
}

// Current returns the current state.
func (sm *stateMachine) Current() State {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.state
}

// TransitionTo moves to the target state, failing on an invalid edge.
func (sm *stateMachine) TransitionTo(target State) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	for _, allowed := range validTransitions[sm.state] {
		if allowed == target {
			sm.state = target
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidState, sm.state, target)
}

// Is reports whether the current state is one of the given states.
func (sm *stateMachine) Is(states ...State) bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	for _, s := range states {
		if sm.state == s {
			return true
		}
	}
	return false
}
