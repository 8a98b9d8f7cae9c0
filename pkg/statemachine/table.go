package statemachine

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Table is an immutable-after-build transition lookup keyed by [from][event].
// Safe for concurrent use.
type Table[S, E comparable, D any] struct {
	mu          sync.RWMutex
	transitions map[S]map[E][]Transition[S, E, D]
}

// New builds a table from the given transitions.
func New[S, E comparable, D any](transitions []Transition[S, E, D]) (*Table[S, E, D], error) {
	t := &Table[S, E, D]{
		transitions: make(map[S]map[E][]Transition[S, E, D]),
	}
	for i, tr := range transitions {
		if err := t.Add(tr); err != nil {
			return nil, fmt.Errorf("failed to add transition[%d] %v->%v on %v: %w", i, tr.From, tr.To, tr.Event, err)
		}
	}
	return t, nil
}

// MustNew is like New but panics on an invalid definition.
func MustNew[S, E comparable, D any](transitions []Transition[S, E, D]) *Table[S, E, D] {
	t, err := New(transitions)
	if err != nil {
		panic(fmt.Sprintf("statemachine: %v", err))
	}
	return t
}

// Add registers one more candidate transition.
// Multiple candidates for the same from/event are tried in registration order.
func (t *Table[S, E, D]) Add(tr Transition[S, E, D]) error {
	var (
		zeroS S
		zeroE E
	)
	if tr.From == zeroS || tr.To == zeroS || tr.Event == zeroE {
		return ErrInvalidTransition
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.transitions[tr.From]; !ok {
		t.transitions[tr.From] = make(map[E][]Transition[S, E, D])
	}
	t.transitions[tr.From][tr.Event] = append(t.transitions[tr.From][tr.Event], tr)
	return nil
}

// Next resolves the transition for event fired in state from, runs its
// actions against data and returns the target state.
func (t *Table[S, E, D]) Next(ctx context.Context, from S, event E, data D) (S, error) {
	tr, err := t.resolve(ctx, from, event, data)
	if err != nil {
		return from, err
	}

	for _, action := range tr.Actions {
		if action == nil {
			continue
		}
		if err := action(ctx, from, tr.To, event, data); err != nil {
			return from, errors.Join(ErrActionFailed, err)
		}
	}

	return tr.To, nil
}

// Can reports whether event would be accepted in state from. Actions are not run.
func (t *Table[S, E, D]) Can(ctx context.Context, from S, event E, data D) bool {
	_, err := t.resolve(ctx, from, event, data)
	return err == nil
}

// Target reports the state event would lead to without running actions.
func (t *Table[S, E, D]) Target(ctx context.Context, from S, event E, data D) (S, bool) {
	tr, err := t.resolve(ctx, from, event, data)
	if err != nil {
		return from, false
	}
	return tr.To, true
}

// Events lists the events that have at least one candidate from the given state.
func (t *Table[S, E, D]) Events(from S) []E {
	t.mu.RLock()
	defer t.mu.RUnlock()

	events := make([]E, 0, len(t.transitions[from]))
	for e := range t.transitions[from] {
		events = append(events, e)
	}
	return events
}

func (t *Table[S, E, D]) resolve(ctx context.Context, from S, event E, data D) (Transition[S, E, D], error) {
	t.mu.RLock()
	candidates := t.transitions[from][event]
	t.mu.RUnlock()

	if len(candidates) == 0 {
		return Transition[S, E, D]{}, newTransitionError(from, event, ErrNoTransition)
	}

	// First candidate with passing guards wins
	for _, c := range candidates {
		if guardsPass(ctx, c, from, event, data) {
			return c, nil
		}
	}

	return Transition[S, E, D]{}, newTransitionError(from, event, ErrTransitionRejected)
}

func guardsPass[S, E comparable, D any](ctx context.Context, tr Transition[S, E, D], from S, event E, data D) bool {
	for _, g := range tr.Guards {
		if g != nil && !g(ctx, from, event, data) {
			return false
		}
	}
	return true
}
