// Package persistence schedules index flushes and writes files atomically.
//
// Scheduler calls Flush on a Flusher every interval while it reports Dirty,
// and once more on Close. Close waits for a flush that is already running
// instead of interrupting it, so a snapshot is never left half written.
//
//	sched := persistence.NewScheduler(engine, time.Minute, logger)
//	_ = sched.Start(ctx)
//	defer sched.Close(context.Background())
//
// SaveToFile writes through a temp file in the target directory, fsyncs it
// and renames it over the target.
package persistence
