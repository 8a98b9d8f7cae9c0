// Package scheduler runs idempotent maintenance jobs on fixed schedules.
//
// Jobs run in the calling process; there is no shared queue. Every job must
// tolerate running on several replicas at once.
//
//	s := scheduler.New(scheduler.WithLogger(log))
//	_ = s.Add("prune_usage", scheduler.DailyAt(3, 0), pruneUsage)
//	go s.Start(ctx)
//
// RunDue performs a single check and is what tests drive with a mock clock.
package scheduler
