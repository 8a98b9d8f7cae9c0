// Package statemachine provides a generic, stateless transition table for
// finite-state machines whose current state lives elsewhere (typically in a
// persisted record).
//
// A Table maps (from state, event) to one or more candidate transitions. Each
// candidate may carry Guards, which must all pass for it to be chosen, and
// Actions, which run in order once it is chosen. The first candidate whose
// guards pass wins, so ordering expresses priority:
//
//	type change struct{ cycleEnd bool }
//
//	table := statemachine.MustNew([]statemachine.Transition[string, string, *change]{
//	    {From: "active", To: "active", Event: "cancel", Guards: []statemachine.Guard[string, string, *change]{
//	        func(_ context.Context, _ string, _ string, c *change) bool { return c.cycleEnd },
//	    }},
//	    {From: "active", To: "cancelled", Event: "cancel"},
//	})
//
//	next, err := table.Next(ctx, "active", "cancel", &change{cycleEnd: true}) // "active"
//
// Because the table holds no current state, one Table is shared by every
// record and by every goroutine. Callers persist the returned state together
// with whatever the Actions mutated.
//
// # Error Handling
//
// Next returns a *TransitionError that matches ErrNoTransition when nothing
// is defined for the pair, or ErrTransitionRejected when every candidate was
// vetoed by a guard. An Action error aborts the transition and is wrapped
// with ErrActionFailed.
package statemachine
