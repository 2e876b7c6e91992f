package master

import (
	"fmt"
	"time"
)

// State is the lifecycle state of a slave
type State int

const (
	StateInit State = iota
	StateWaitDiag
	StateWaitPrm
	StateWaitCfg
	StateWaitDxReady
	StateDataEx

	stateNone State = -1
)

// String returns string representation of State
func (s State) String() string {
	switch s {
	case StateInit:
		return "Init"
	case StateWaitDiag:
		return "WaitDiag"
	case StateWaitPrm:
		return "WaitPrm"
	case StateWaitCfg:
		return "WaitCfg"
	case StateWaitDxReady:
		return "WaitDxReady"
	case StateDataEx:
		return "DataEx"
	case stateNone:
		return "None"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// SlaveState tracks a slave through its lifecycle. Transitions are staged
// with SetNext and take effect on the next Commit, once per tick.
type SlaveState struct {
	current   State
	next      State
	previous  State
	retries   int
	dataValid bool
	deadline  time.Time
}

// newSlaveState stages Init so the first Commit enters it and runs its
// entry actions
func newSlaveState() SlaveState {
	return SlaveState{current: stateNone, next: StateInit, previous: stateNone}
}

// Current returns the committed state
func (s *SlaveState) Current() State {
	return s.current
}

// Next returns the staged state
func (s *SlaveState) Next() State {
	return s.next
}

// SetNext stages a transition
func (s *SlaveState) SetNext(state State) {
	s.next = state
}

// Commit applies the staged transition
func (s *SlaveState) Commit() {
	s.previous = s.current
	s.current = s.next
}

// Changed reports whether the last commit entered a new state
func (s *SlaveState) Changed() bool {
	return s.previous != s.current
}

// Changing reports whether a transition is staged but not committed
func (s *SlaveState) Changing() bool {
	return s.next != s.current
}

// Retries returns the consecutive data exchange failure count
func (s *SlaveState) Retries() int {
	return s.retries
}

// DataValid reports whether the last data exchange succeeded
func (s *SlaveState) DataValid() bool {
	return s.dataValid
}

// force moves straight into state, bypassing the staging step
func (s *SlaveState) force(state State) {
	s.previous = state
	s.current = state
	s.next = state
}

// reset returns to the initial state
func (s *SlaveState) reset() {
	*s = newSlaveState()
}
