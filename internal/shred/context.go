package shred

// schedCtx bundles the per-session state every group needs to reach
// session-wide services, threaded explicitly rather than kept as
// ambient globals (spec.md §9 "Global mutable state").
type schedCtx struct {
	cfg *Config
	gov *governor

	// enqueue hands a file to its device queue. Set once by the
	// Scheduler before any group is created.
	enqueue func(f *fileRecord)

	// onFinalize receives a finished class's member files (spec.md
	// §4.3 lifecycle step 6 / C9). Set once by the Scheduler.
	onFinalize func(members []*fileRecord)
}
