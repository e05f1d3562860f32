package fsm

import (
	"fmt"
	"sync"
)

type State string
type Event string

// Handler is executed when a transition occurs
type Handler func(event Event, args ...interface{}) error

// Observer is notified after every successful transition.
type Observer func(from, to State, event Event)

type StateMachine struct {
	mu          sync.RWMutex
	notifyMu    sync.Mutex
	current     State
	transitions map[State]map[Event]State
	callbacks   map[State]map[Event]Handler
	wildcard    map[Event]State
	terminal    map[State]bool
	observers   []Observer
}

func New(initial State) *StateMachine {
	return &StateMachine{
		current:     initial,
		transitions: make(map[State]map[Event]State),
		callbacks:   make(map[State]map[Event]Handler),
		wildcard:    make(map[Event]State),
		terminal:    make(map[State]bool),
	}
}

func (sm *StateMachine) Current() State {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.current
}

// Is reports whether the machine is currently in s.
func (sm *StateMachine) Is(s State) bool {
	return sm.Current() == s
}

func (sm *StateMachine) AddTransition(from, to State, event Event, callback Handler) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if _, ok := sm.transitions[from]; !ok {
		sm.transitions[from] = make(map[Event]State)
		sm.callbacks[from] = make(map[Event]Handler)
	}
	sm.transitions[from][event] = to
	sm.callbacks[from][event] = callback
}

// AddWildcard registers event as valid from every non-terminal state.
// Explicit transitions registered with AddTransition take precedence.
func (sm *StateMachine) AddWildcard(to State, event Event) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.wildcard[event] = to
}

// SetTerminal marks states that accept no further events, wildcards included.
func (sm *StateMachine) SetTerminal(states ...State) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	for _, s := range states {
		sm.terminal[s] = true
	}
}

// Observe registers fn to run after each transition, outside the state lock.
// Observers see transitions in commit order and must not call Fire.
func (sm *StateMachine) Observe(fn Observer) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.observers = append(sm.observers, fn)
}

// Can reports whether event is valid from the current state.
func (sm *StateMachine) Can(event Event) bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	_, ok := sm.lookup(event)
	return ok
}

func (sm *StateMachine) lookup(event Event) (State, bool) {
	if sm.terminal[sm.current] {
		return "", false
	}
	if next, ok := sm.transitions[sm.current][event]; ok {
		return next, true
	}
	next, ok := sm.wildcard[event]
	return next, ok
}

// Fire triggers a state transition. It is thread-safe.
// The new state is committed before the handler runs, so handlers observe the
// destination state and may fire follow-up events without deadlocking. A
// handler error is returned but does not roll the transition back.
func (sm *StateMachine) Fire(event Event, args ...interface{}) error {
	sm.mu.Lock()
	from := sm.current
	next, ok := sm.lookup(event)
	if !ok {
		sm.mu.Unlock()
		return fmt.Errorf("invalid transition from %s via %s", from, event)
	}
	handler := sm.callbacks[from][event]
	sm.current = next
	observers := append([]Observer(nil), sm.observers...)
	// Taken before mu is released so a concurrent Fire cannot notify first.
	sm.notifyMu.Lock()
	sm.mu.Unlock()

	for _, fn := range observers {
		fn(from, next, event)
	}
	sm.notifyMu.Unlock()
	if handler != nil {
		return handler(event, args...)
	}
	return nil
}

// Personal.AI order the ending
