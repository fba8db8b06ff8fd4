package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/chatline/internal/bus"
)

// State represents the state of the inbound synchronization loop.
type State string

const (
	Idle     State = "IDLE"
	Running  State = "RUNNING"
	Degraded State = "DEGRADED"
	Stopped  State = "STOPPED"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Idle:     {Running, Degraded, Stopped},
	Running:  {Degraded, Stopped},
	Degraded: {Running, Stopped},
	Stopped:  {Running, Degraded},
}

// Machine tracks the poll loop state and publishes every change on the bus.
type Machine struct {
	mu        sync.RWMutex
	current   State
	lastError string
	changedAt time.Time
	bus       *bus.Bus
}

// NewMachine creates a new state machine starting in Idle state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current:   Idle,
		changedAt: time.Now(),
		bus:       b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Snapshot returns the current state, the last recorded poll error and when
// the state last changed.
func (m *Machine) Snapshot() (State, string, time.Time) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current, m.lastError, m.changedAt
}

// Transition attempts to move to a new state. Moving to the current state is
// a no-op. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	return m.transition(to, "")
}

// Fail moves to Degraded and records reason.
func (m *Machine) Fail(reason string) error {
	return m.transition(Degraded, reason)
}

func (m *Machine) transition(to State, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if to == Degraded {
		m.lastError = reason
	} else if to == Running {
		m.lastError = ""
	}
	if m.current == to {
		return nil
	}
	if !slices.Contains(validTransitions[m.current], to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	m.changedAt = time.Now()
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      bus.SyncStatusChanged,
			Timestamp: m.changedAt,
			Payload: StatusChange{
				From:  from,
				To:    to,
				Error: m.lastError,
			},
		})
	}
	return nil
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From  State
	To    State
	Error string
}
