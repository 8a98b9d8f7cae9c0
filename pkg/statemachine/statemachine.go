package statemachine

import "context"

// Guard vetoes a transition when it returns false.
type Guard[S, E comparable, D any] func(ctx context.Context, from S, event E, data D) bool

// Action executes a side effect of a transition. Returning an error aborts it.
type Action[S, E comparable, D any] func(ctx context.Context, from, to S, event E, data D) error

// Transition defines a state change triggered by an event.
type Transition[S, E comparable, D any] struct {
	From    S
	To      S
	Event   E
	Guards  []Guard[S, E, D]  // All must pass for the transition to be chosen
	Actions []Action[S, E, D] // Executed in order once chosen
}
