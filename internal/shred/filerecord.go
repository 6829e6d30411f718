package shred

import (
	"sync"

	"github.com/ivoronin/shreddupe/internal/types"
)

// fileState is the per-file status flag described in spec.md's File
// record (C2): normal files progress through the tree; fragment files
// are mid-read and must be requeued by physical offset; ignored files
// dropped out (I/O error, stuck hash offset) and take no further part.
type fileState int

const (
	stateNormal fileState = iota
	stateFragment
	stateIgnore
)

func (s fileState) String() string {
	switch s {
	case stateFragment:
		return "fragment"
	case stateIgnore:
		return "ignore"
	default:
		return "normal"
	}
}

// hardlinkCluster is the owned set of hardlinked siblings represented by
// one fileRecord (the cluster head). Only the head is ever hashed or
// advanced; the cluster's other paths are carried along for reporting.
type hardlinkCluster struct {
	paths []string // all paths sharing (device, inode), head's path first
}

// fileRecord is the Go realization of spec.md §3's File record (C2).
//
// H (the hashed prefix length) is only ever advanced by the device
// worker that currently holds the record - the spec's single-writer
// invariant - so fields mutated during hashing are unguarded by a
// lock of their own; callers serialize access via the owning group's
// lock or by construction (only one worker ever touches a given file).
type fileRecord struct {
	info *types.FileInfo

	deviceID uint64 // (device_id, inode, path_index) identity, device half
	pathIdx  int

	size int64 // S
	h    int64 // current hashed prefix length, 0 <= h <= size

	digest Digest // present iff h > 0 or a cached digest was inherited

	group   *group       // owning group (non-owning back reference)
	cluster *hardlinkCluster // nil unless this record is a cluster head

	// Flags (spec.md §3).
	preferredPath bool
	newerThanMin  bool
	isSymlink     bool
	hasExtCksum   bool
	state         fileState
	devlistWaiting bool

	mu sync.Mutex // guards devlistWaiting/state transitions visible across goroutines
}

// advanceBy extends H by n bytes. Only the owning device worker may call
// this (spec.md §4.2's single-writer constraint); it is not safe to call
// concurrently with another advanceBy on the same record.
func (f *fileRecord) advanceBy(n int64) {
	f.h += n
	if f.h > f.size {
		f.h = f.size
	}
}

// attachDigest installs a freshly computed digest. The digest's Bytes()
// must equal f.h for DigestParanoid, per spec.md §4.2.
func (f *fileRecord) attachDigest(d Digest) {
	f.digest = d
}

func (f *fileRecord) detachDigest() {
	f.digest = nil
}

// setState transitions the file's lifecycle flag under the record's own
// lock, since state may be observed from the scheduler's completion
// callback concurrently with the owning worker loop.
func (f *fileRecord) setState(s fileState) {
	f.mu.Lock()
	f.state = s
	f.mu.Unlock()
}

func (f *fileRecord) getState() fileState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fileRecord) setWaiting(w bool) {
	f.mu.Lock()
	f.devlistWaiting = w
	f.mu.Unlock()
}

func (f *fileRecord) waiting() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.devlistWaiting
}

// physicalOffset returns the current fragment's on-disk offset, used
// only by the device-queue ordering function on rotational devices.
func (f *fileRecord) physicalOffset() uint64 { return f.info.PhysicalOffset }

// path exposes the path on demand, per spec.md §4.2 ("get path on
// demand") rather than keeping it hot on every record access path.
func (f *fileRecord) path() string { return f.info.Path }
