package allocator

import "time"

// SweepReport summarizes one pass over the ready sessions.
type SweepReport struct {
	// Skipped is set when another replica held the sweep lease.
	Skipped   bool
	Ready     int
	Allocated int
	// Pending sessions stay ready because the server pool was empty.
	Pending int
	Failed  int
	Reaped  int

	StartedAt time.Time
	Duration  time.Duration
}
