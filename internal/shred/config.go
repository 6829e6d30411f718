package shred

import "os"

// Config mirrors spec.md §6's Configuration collaborator: options
// consumed narrowly by the scheduler. Built from CLI flags in
// cmd/dupedog, the same way the teacher builds dedupeOptions.
type Config struct {
	ChecksumKind DigestKind

	MinMTime int64 // unix nanoseconds; files newer than this set newerThanMin

	// TaggedPaths are path prefixes the preprocessor marks preferredPath
	// against (spec.md §3 "preferred path" / C2's "tagged" flag) -
	// generalizing the teacher's deduper.pathPriority from a source-pick
	// tiebreaker into the group-promotion predicate spec.md §3 describes.
	TaggedPaths []string

	MustMatchTagged   bool
	MustMatchUntagged bool
	KeepAllTagged     bool
	KeepAllUntagged   bool

	MergeDirectories bool

	ReadFromXattr  bool
	WriteToXattr   bool
	WriteUnfinished bool

	ParanoidMemBytes    int64
	TotalMemBytes       int64
	ReadBufferMemBytes  int64
	// ParanoidBytes is the governor's per-increment cap (spec.md §4.3
	// step 4), distinct from ParanoidMemBytes (the total budget).
	ParanoidBytes int64

	SweepSizeBytes int64
	SweepCount     int

	Threads int

	UseBufferedRead bool

	AlwaysWait bool
	NeverWait  bool

	BuildFiemap         bool
	FakePathIndexAsDisk bool
	// CacheFileStructs mirrors the source's config surface (spec.md §6)
	// for CLI/flag parity. The source toggles whether RmFile structs are
	// pooled across passes instead of re-stat()'d; internal/types.FileInfo
	// is already held resident in memory for the lifetime of a run
	// regardless (Go's GC, not a manual pool, owns that decision), so
	// this field is accepted but has no effect - see DESIGN.md.
	CacheFileStructs bool
	SeeSymlinks      bool

	// LegacyWaitHeuristic selects the source's probabilistic worth_waiting
	// formula (spec.md §4.5 step 2) instead of the deterministic
	// offset_factor-keyed policy documented as the default in
	// SPEC_FULL.md's Open Questions resolution.
	LegacyWaitHeuristic bool
}

// DefaultConfig returns the scheduler defaults, matching the source's
// documented defaults where spec.md does not otherwise constrain them.
func DefaultConfig() Config {
	return Config{
		ChecksumKind:       DigestStreaming,
		ParanoidMemBytes:   256 << 20,
		ParanoidBytes:      256 << 20,
		TotalMemBytes:      1 << 30,
		ReadBufferMemBytes: 64 << 20,
		SweepSizeBytes:     1 << 30,
		SweepCount:         16,
		Threads:            1,
		UseBufferedRead:    true,
	}
}

// needsShadowHash implements the Open Question resolution recorded in
// SPEC_FULL.md §9.3: switch every group to paranoid (byte-buffering)
// digests whenever directory merging or xattr caching is on,
// rather than the source's always-on default.
func (c Config) needsShadowHash() bool {
	return c.MergeDirectories || c.ReadFromXattr || c.WriteToXattr
}

// effectiveChecksumKind applies needsShadowHash: directory-merge and
// xattr-cache comparisons both need byte-exact certainty (a streaming
// digest's collision is astronomically unlikely but not provable), so
// either feature upgrades every group in the session to DigestParanoid
// regardless of the configured --checksum, matching the source's
// NEEDS_SHADOW_HASH forcing paranoid comparison on for any codepath that
// persists or acts on a cross-run trust claim.
func (c Config) effectiveChecksumKind() DigestKind {
	if c.needsShadowHash() {
		return DigestParanoid
	}
	return c.ChecksumKind
}

var pageSize = int64(os.Getpagesize())
