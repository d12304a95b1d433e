package pipeline

import (
	"fmt"
	"sync"

	"github.com/MeKo-Tech/omnishelf/internal/common"
)

// State is a pipeline run phase.
type State int

const (
	StateInit State = iota
	StateProposing
	StateClassifying
	StateDeduping
	StateVerifying
	StateDone
	StateFailed
)

var stateNames = [...]string{
	StateInit:        "INIT",
	StateProposing:   "PROPOSING",
	StateClassifying: "CLASSIFYING",
	StateDeduping:    "DEDUPING",
	StateVerifying:   "VERIFYING",
	StateDone:        "DONE",
	StateFailed:      "FAILED",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// MarshalText renders the state name in JSON.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool { return s == StateDone || s == StateFailed }

// stateMachine tracks one run. Transitions only move forward; VERIFYING may
// be skipped and FAILED is reachable from any non-terminal state.
type stateMachine struct {
	mu       sync.Mutex
	state    State
	err      error
	observer Observer
}

func newStateMachine(obs Observer) *stateMachine {
	if obs == nil {
		obs = NoOpObserver{}
	}
	return &stateMachine{state: StateInit, observer: obs}
}

func (m *stateMachine) current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *stateMachine) advance(next State) error {
	m.mu.Lock()
	if m.state.Terminal() || next == StateFailed || next <= m.state {
		cur := m.state
		m.mu.Unlock()
		return fmt.Errorf("invalid state transition %s -> %s", cur, next)
	}
	m.state = next
	m.mu.Unlock()
	m.observer.OnStateChange(next)
	return nil
}

// enter advances to next. A rejected transition fails the run with a
// StageError naming the target state.
func (m *stateMachine) enter(next State) error {
	if err := m.advance(next); err != nil {
		return m.fail(&common.StageError{Stage: next.String(), Err: err})
	}
	return nil
}

// fail moves to FAILED and records err. It returns err for convenience.
func (m *stateMachine) fail(err error) error {
	m.mu.Lock()
	if m.state.Terminal() {
		m.mu.Unlock()
		return err
	}
	m.state = StateFailed
	m.err = err
	m.mu.Unlock()
	m.observer.OnStateChange(StateFailed)
	return err
}

func (m *stateMachine) failure() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}
