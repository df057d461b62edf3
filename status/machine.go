package status

import (
	"fmt"
	"sync"
)

// InvalidTransitionError indicates an attempt to move a resource through an
// edge that is not part of its declared transition graph. This is a
// programming or configuration error and is always fatal to the resource.
type InvalidTransitionError struct {
	Entity string
	From   Status
	To     Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition for %s: %s -> %s", e.Entity, e.From, e.To)
}

// Listener observes successful state changes. Listeners must not call back
// into the machine.
type Listener func(from, to Status)

// Machine is a finite-state lifecycle shared by every managed resource.
// The zero graph contains the minimum edges every resource supports:
//
//	PENDING -> STARTING -> STARTED -> STOPPING -> STOPPED
//
// plus STARTING -> STOPPING for abort-during-start. Subtypes declare extra
// edges with Allow before first use.
type Machine struct {
	mu        sync.Mutex
	entity    string
	current   Status
	edges     map[Status]map[Status]bool
	listeners []Listener
}

// NewMachine creates a lifecycle machine for the named entity, starting in
// PENDING with the default transition graph.
func NewMachine(entity string) *Machine {
	m := &Machine{
		entity:  entity,
		current: Pending,
		edges:   make(map[Status]map[Status]bool),
	}
	m.Allow(Pending, Starting)
	m.Allow(Starting, Started)
	m.Allow(Started, Stopping)
	m.Allow(Stopping, Stopped)
	m.Allow(Starting, Stopping) // abort during start
	return m
}

// Allow declares an additional legal edge in the transition graph.
func (m *Machine) Allow(from, to Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.edges[from] == nil {
		m.edges[from] = make(map[Status]bool)
	}
	m.edges[from][to] = true
}

// OnChange registers a listener invoked after every successful transition.
func (m *Machine) OnChange(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// Current returns the current lifecycle state.
func (m *Machine) Current() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Change moves the machine to the new state, failing with
// InvalidTransitionError if the edge is not declared. A transition to the
// current state is a no-op.
func (m *Machine) Change(to Status) error {
	m.mu.Lock()
	from := m.current
	if from == to {
		m.mu.Unlock()
		return nil
	}
	if !m.edges[from][to] {
		m.mu.Unlock()
		return &InvalidTransitionError{Entity: m.entity, From: from, To: to}
	}
	m.current = to
	listeners := make([]Listener, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	for _, l := range listeners {
		l(from, to)
	}
	return nil
}
