package statemachine

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidTransition  = errors.New("invalid transition: from, to, or event cannot be empty")
	ErrActionFailed       = errors.New("transition action failed")
	ErrNoTransition       = errors.New("no transition defined")
	ErrTransitionRejected = errors.New("transition rejected by guards")
)

// TransitionError names the state and event that could not be resolved.
// It unwraps to ErrNoTransition or ErrTransitionRejected.
type TransitionError struct {
	State string
	Event string
	Err   error
}

func newTransitionError[S, E comparable](state S, event E, reason error) *TransitionError {
	return &TransitionError{State: fmt.Sprint(state), Event: fmt.Sprint(event), Err: reason}
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: state %q, event %q", e.Err, e.State, e.Event)
}

func (e *TransitionError) Unwrap() error { return e.Err }
