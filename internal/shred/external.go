package shred

import "github.com/ivoronin/shreddupe/internal/types"

// This file declares the narrow contracts spec.md §6 calls External
// interfaces (C10): the hasher service, the offset oracle, the xattr
// sidecar, and the reporter. internal/shred depends only on these
// interfaces, never on their concrete implementations, per spec.md's
// Non-goals ("does not itself compute cryptographic digests... does not
// itself perform filesystem I/O").

// StateCacheable is implemented by digests whose internal state can be
// serialized and restored, letting a hasher skip re-reading bytes whose
// cumulative hash a cache already has on file (streaming digests only -
// paranoid digests must see every byte since equality is byte-exact, so
// paranoidDigest intentionally does not implement this).
type StateCacheable interface {
	MarshalState() (data []byte, bytes int64, err error)
	UnmarshalState(data []byte, bytes int64) error
}

// IncrementCallback is invoked exactly once per increment, with either a
// populated digest or an error - matching the hasher service's contract
// in spec.md §6.
type IncrementCallback func(d Digest, err error)

// Task represents one in-flight hashing increment.
type Task interface {
	// Finish registers callback to be invoked exactly once, from
	// whatever goroutine the hasher service uses internally, when the
	// increment's I/O completes. The call itself does not block - a
	// device worker that needs to wait for this specific result (spec.md
	// §4.5 step 7, "worth_waiting") does so on its own channel, signaled
	// from inside callback.
	Finish(callback IncrementCallback)
}

// Hasher is the hasher service consumed by the scheduler (spec.md §6).
type Hasher interface {
	// StartIncrement begins reading length bytes starting at start from
	// path, extending d. is_symlink tells the hasher to hash the link
	// target string instead of opening the path for read.
	StartIncrement(path string, d Digest, start, length int64, isSymlink bool) (Task, error)
}

// OffsetOracle is the physical-offset probing collaborator (spec.md §6).
// Returns 0 if unknown; the device-queue ordering function (§4.4) falls
// back to inode order whenever either side of a comparison is 0.
type OffsetOracle interface {
	PhysicalOffset(path string, logicalOffset uint64) uint64
	// IsRotational reports whether the device backing deviceID benefits
	// from locality-ordered reads (spec.md §4.4's rotational flag).
	// Unknown devices should report true, the conservative default.
	IsRotational(deviceID uint64) bool
}

// XattrCache is the persisted sidecar-checksum collaborator (spec.md §6).
type XattrCache interface {
	ReadHash(path string) (hash []byte, ok bool)
	WriteHash(path string, digest []byte) error
}

// Phase is the reporter's batch-update phase, per spec.md §6.
type Phase int

const (
	PhasePreprocess Phase = iota
	PhaseShredder
)

// Reporter is the output collaborator consumed by the finalizer (C9).
type Reporter interface {
	LockState()
	UnlockState()
	SetState(phase Phase)
	Write(group types.DuplicateGroup)
}
