// Package clock provides an injectable source of the current time.
//
// Production code uses System, which reports wall-clock time in UTC. Tests use
// Mock, which only moves when told to, so every time-dependent decision
// (trial windows, processing grace, session refresh, breaker recovery) can be
// asserted against literal instants.
//
//	c := clock.NewMock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
//	c.Advance(5 * 24 * time.Hour)
//	now := c.Now()
package clock
