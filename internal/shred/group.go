package shred

import "sync"

// groupStatus is the shred group's lifecycle state (spec.md §3).
type groupStatus int

const (
	statusDormant groupStatus = iota
	statusStartHashing
	statusHashing
	statusFinishing
	statusFinished
)

func (s groupStatus) String() string {
	switch s {
	case statusStartHashing:
		return "START_HASHING"
	case statusHashing:
		return "HASHING"
	case statusFinishing:
		return "FINISHING"
	case statusFinished:
		return "FINISHED"
	default:
		return "DORMANT"
	}
}

// balancedPages and paranoidBytes realize spec.md §4.3's read-size
// policy constants.
const balancedPages = 4

// maxReadFactor caps offset_factor growth: 256 MiB of balanced-page
// reads is the largest single increment the scheduler will ever issue.
func maxReadFactor() int64 {
	return (256 << 20) / (balancedPages * pageSize)
}

// group is the Go realization of spec.md §3's Shred group (C3): a node
// in the tree of equivalence classes refined by ever-longer prefix
// hashes. All mutation goes through g.mu; spec.md §5's deadlock
// discipline is maintained by never calling into a parent or child
// while g.mu is held (see free/unref/makeOrphan).
type group struct {
	mu sync.Mutex

	ctx *schedCtx

	fileSize   int64
	hashOffset int64 // prefix length at which this class was separated
	nextOffset int64 // prefix length members are being extended to
	digestKind DigestKind

	digest Digest // prototype digest, used for child lookup by content equality

	heldFiles  []*fileRecord          // files parked before promotion, or finished members
	inProgress map[*fileRecord]Digest // members still extending to nextOffset

	children map[string]*group // keyed by hex digest sum
	parent   *group             // non-owning; cleared when parent dies

	refCount int

	numFiles     int
	numExtCksums int

	hasPref          bool
	hasNPref         bool
	hasNew           bool
	hasOnlyExtCksums bool
	isActive         bool

	offsetFactor  int64
	memAllocation int64

	status groupStatus
}

// newGroup creates a shred group. hashOffset is the prefix length
// already known to be shared by every member (0 for a same-size root).
// protoDigest is the prototype digest new children are keyed against;
// nil for a root group awaiting its first member.
func newGroup(ctx *schedCtx, parent *group, hashOffset, fileSize int64, protoDigest Digest) *group {
	g := &group{
		ctx:        ctx,
		fileSize:   fileSize,
		hashOffset: hashOffset,
		digestKind: ctx.cfg.effectiveChecksumKind(),
		digest:     protoDigest,
		parent:     parent,
		inProgress: make(map[*fileRecord]Digest),
		status:     statusDormant,
	}
	if parent != nil {
		factor := parent.offsetFactorSnapshot() * 8
		if max := maxReadFactor(); factor > max {
			factor = max
		}
		g.offsetFactor = factor
		g.refCount = 1 // "1 if parent alive"
	} else {
		g.offsetFactor = 1
	}

	// Boundary case (spec.md §8): a group created already fully hashed
	// (hash_offset == file_size, e.g. a zero-size root, or a child whose
	// separating digest covered the whole file) needs no further
	// reading - it goes straight to FINISHING.
	if g.hashOffset >= g.fileSize {
		g.status = statusFinishing
	}
	return g
}

func (g *group) offsetFactorSnapshot() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.offsetFactor
}

// applyFlagsLocked folds one file's tag/mtime/externally-checksummed
// state into the group's promotion-predicate inputs. Must hold g.mu.
func (g *group) applyFlagsLocked(f *fileRecord) {
	if f.preferredPath {
		g.hasPref = true
	} else {
		g.hasNPref = true
	}
	if f.newerThanMin {
		g.hasNew = true
	}
}

// promotionSatisfiedLocked evaluates spec.md §3's promotion predicates.
// Must hold g.mu.
func (g *group) promotionSatisfiedLocked() bool {
	cfg := g.ctx.cfg
	if g.numFiles < 2 {
		return false
	}
	if cfg.MustMatchTagged && !g.hasPref {
		return false
	}
	if cfg.MustMatchUntagged && !g.hasNPref {
		return false
	}
	if cfg.MinMTime > 0 && !g.hasNew {
		return false
	}
	return true
}

// computeNextOffsetLocked implements spec.md §4.3's read-size policy.
// Must hold g.mu; called exactly once, at the moment a group starts
// hashing (root or child, whichever is earlier).
func (g *group) computeNextOffsetLocked() {
	target := roundUpPages(pageSize * balancedPages * g.offsetFactor)
	tailSlack := int64(balancedPages) * pageSize

	if g.hashOffset+target+tailSlack >= g.fileSize {
		g.nextOffset = g.fileSize
	} else {
		g.nextOffset = g.hashOffset + target
	}

	if g.digestKind == DigestParanoid {
		cap := g.hashOffset + g.ctx.cfg.ParanoidBytes
		if g.nextOffset > cap {
			g.nextOffset = cap
		}
		if g.nextOffset > g.fileSize {
			g.nextOffset = g.fileSize
		}
	}
}

func roundUpPages(n int64) int64 {
	if n <= 0 {
		return pageSize
	}
	if rem := n % pageSize; rem != 0 {
		return n + (pageSize - rem)
	}
	return n
}

// pushFile places file into the group under the group's lock (spec.md
// §4.3's push_file). Returns whether the device worker that owns f may
// continue hashing f immediately, without a trip through a device
// queue - possible only when f was flagged devlist_waiting and the
// group is (now) actively hashing.
func (g *group) pushFile(f *fileRecord, initial bool) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.applyFlagsLocked(f)
	g.numFiles++
	if f.hasExtCksum {
		g.numExtCksums++
	}
	f.group = g

	if g.status == statusFinishing || g.status == statusFinished {
		// Members of a finishing group never move on to a child, so they
		// hold no reference on it.
		g.heldFiles = append(g.heldFiles, f)
		return false
	}
	g.refCount++

	if g.status == statusDormant {
		if !g.promotionSatisfiedLocked() {
			g.heldFiles = append(g.heldFiles, f)
			return false
		}
		held := g.heldFiles
		g.heldFiles = nil
		g.status = statusStartHashing
		g.computeNextOffsetLocked()
		g.status = statusHashing
		for _, hf := range held {
			g.enqueueLocked(hf)
		}
	}

	if f.waiting() {
		return true
	}
	g.enqueueLocked(f)
	return false
}

// seedPush records file as a member of a same-size root group without
// making any hashing decision (spec.md §4.9's insertion step,
// `original_source/lib/shredder.c`'s `rm_shred_file_preprocess` - the
// first of the two loops `rm_shred_preprocess_input` runs over
// size_groups). The group's fate - whether it is entirely backed by
// external checksums, or should be promoted to real hashing - is decided
// once, by finishSeeding, after every same-size sibling has been
// inserted.
func (g *group) seedPush(f *fileRecord) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.applyFlagsLocked(f)
	g.numFiles++
	if f.hasExtCksum {
		g.numExtCksums++
	}
	g.refCount++
	f.group = g
	g.heldFiles = append(g.heldFiles, f)
}

// finishSeeding implements spec.md §4.9/§3's post-insertion decision for a
// root group, run once every same-size sibling has been seedPush'd
// (`rm_shred_preprocess_input`'s second loop over size_groups). A root
// where every member already carries a trusted external checksum never
// reads a byte: each member's digest is seeded from its own stored
// checksum and routed through the ordinary sift-by-digest-equality path,
// so members whose stored checksums disagree land in different child
// classes instead of being merged into one. Otherwise the group is
// promoted to hashing exactly as pushFile's dormant branch would, now
// that promotionSatisfiedLocked has the full membership to evaluate.
func (g *group) finishSeeding() {
	g.mu.Lock()
	held := g.heldFiles
	g.heldFiles = nil
	shortCircuit := g.ctx.cfg.ReadFromXattr && g.numFiles > 0 && g.numExtCksums == g.numFiles
	if shortCircuit {
		g.hasOnlyExtCksums = true
		g.nextOffset = g.fileSize
	}
	g.mu.Unlock()

	if shortCircuit {
		for _, f := range held {
			f.digest = newExternalDigest(g.digestKind, f.info.ExternalChecksum)
			sift(g, f)
		}
		return
	}

	g.mu.Lock()
	if !g.promotionSatisfiedLocked() {
		g.heldFiles = held
		g.mu.Unlock()
		return
	}
	g.status = statusStartHashing
	g.computeNextOffsetLocked()
	g.status = statusHashing
	for _, f := range held {
		g.enqueueLocked(f)
	}
	g.mu.Unlock()
}

// enqueueLocked hands a file to its device queue. Must hold g.mu -
// the callback itself must not re-enter the group, only the device
// queue (spec.md §5 deadlock discipline).
func (g *group) enqueueLocked(f *fileRecord) {
	g.ctx.enqueue(f)
}

// registerInProgress records that f's digest is being extended toward
// nextOffset, so a new sibling class can notify it of a candidate twin
// (spec.md §4.1/§4.6).
func (g *group) registerInProgress(f *fileRecord, d Digest) {
	g.mu.Lock()
	g.inProgress[f] = d
	g.mu.Unlock()
}

func (g *group) notifyCandidates(sum []byte) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, d := range g.inProgress {
		d.NotifyCandidate(sum)
	}
}

// childCount reports how many child classes currently exist, used by
// the worth-waiting re-evaluation in spec.md §4.5 step 5.
func (g *group) childCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.children)
}

// unref implements spec.md §4.3's unref(): decrements ref_count and, on
// reaching zero, resolves the group's fate per its status. Never calls
// into parent or child while holding g.mu.
func (g *group) unref() {
	g.mu.Lock()
	g.refCount--
	rc := g.refCount
	st := g.status
	parent := g.parent
	g.mu.Unlock()

	if rc < 0 {
		panic("shred: group ref_count went negative")
	}
	if rc > 0 {
		return
	}

	switch st {
	case statusDormant:
		g.free()
	case statusFinishing:
		if parent == nil {
			g.finalize()
		}
	case statusHashing, statusStartHashing:
		g.free()
	}
}

// makeOrphan implements spec.md §4.3's make_orphan(): severs the parent
// link (the "1 for parent alive" share of ref_count) and unrefs.
func (g *group) makeOrphan() {
	g.mu.Lock()
	g.parent = nil
	g.mu.Unlock()
	g.unref()
}

// free releases a group that will never produce output: it orphans any
// remaining children (clearing their "parent alive" contribution) and
// returns its memory allocation to the governor.
func (g *group) free() {
	g.mu.Lock()
	children := make([]*group, 0, len(g.children))
	for _, c := range g.children {
		children = append(children, c)
	}
	g.children = nil
	g.digest = nil
	g.mu.Unlock()

	for _, c := range children {
		c.makeOrphan()
	}
	g.ctx.gov.release(g)
}

// finalize hands a fully-matched class to the finalizer (C9), then
// frees it. Only called once ref_count reaches zero with status
// FINISHING and a dead parent - i.e. no more siblings can ever arrive.
func (g *group) finalize() {
	g.mu.Lock()
	g.status = statusFinished
	members := g.heldFiles
	numFiles := g.numFiles
	g.heldFiles = nil
	g.mu.Unlock()

	if numFiles >= 2 && g.ctx.onFinalize != nil {
		g.ctx.onFinalize(members)
	}
	g.free()
}
