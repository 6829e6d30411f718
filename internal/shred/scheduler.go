package shred

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/ivoronin/shreddupe/internal/progress"
)

// rotationalWaitCeiling is the §4.5 step 2 threshold below which a
// rotational device worker considers it worth blocking for a result
// rather than seeking away to the next file.
const rotationalWaitCeiling = 64 << 20

// activeGroupThreshold is the governor's caller-supplied ceiling for
// admission rule (c) in spec.md §4.7: once this many groups are already
// paying paranoid rent, new groups are admitted anyway rather than
// refused forever when the budget is simply fragmented thin.
const activeGroupThreshold = 64

// Scheduler is the Go realization of spec.md §4.8's Scheduler (C7): one
// worker goroutine per device, a finalizer goroutine, and an MPSC
// device-return channel driving per-pass quota recomputation. It
// subsumes and replaces the teacher's internal/verifier package.
type Scheduler struct {
	cfg      *Config
	ctx      *schedCtx
	gov      *governor
	hasher   Hasher
	reporter Reporter
	bar      *progress.Bar

	devMu   sync.Mutex
	devices map[uint64]*deviceQueue

	xattr  XattrCache   // set by Seed; nil disables xattr checksum persistence
	oracle OffsetOracle // set by Seed; nil disables physical-offset reseeking

	finalizeCh chan []*fileRecord
	finalizeWG sync.WaitGroup

	aborted atomic.Bool
}

// NewScheduler wires the collaborators spec.md §6 lists as External
// interfaces (C10) into a driver ready to accept preprocessed devices
// (see Scheduler.Seed in preprocessor.go) and then Run.
func NewScheduler(cfg Config, hasher Hasher, reporter Reporter, bar *progress.Bar) *Scheduler {
	cfgCopy := cfg
	s := &Scheduler{
		cfg:        &cfgCopy,
		gov:        newGovernor(cfg.ParanoidMemBytes),
		hasher:     hasher,
		reporter:   reporter,
		bar:        bar,
		devices:    make(map[uint64]*deviceQueue),
		finalizeCh: make(chan []*fileRecord, 64),
	}
	s.ctx = &schedCtx{
		cfg:        s.cfg,
		gov:        s.gov,
		enqueue:    s.enqueueFile,
		onFinalize: s.queueFinalize,
	}
	return s
}

// Abort implements spec.md §5's cancellation: a single session-wide
// flag polled at every loop boundary.
func (s *Scheduler) Abort() { s.aborted.Store(true) }

func (s *Scheduler) deviceQueueFor(id uint64, rotational bool) *deviceQueue {
	s.devMu.Lock()
	defer s.devMu.Unlock()
	dq, ok := s.devices[id]
	if !ok {
		dq = newDeviceQueue(id, rotational)
		s.devices[id] = dq
	}
	return dq
}

// enqueueFile is the schedCtx.enqueue hook: routes a file back onto its
// owning device's queue, sorted by locality, whenever a group's push
// path doesn't let the worker continue hashing it inline (spec.md §4.4
// step 5's "push back sorted" case).
func (s *Scheduler) enqueueFile(f *fileRecord) {
	s.devMu.Lock()
	dq := s.devices[f.deviceID]
	s.devMu.Unlock()
	if dq == nil {
		return
	}
	dq.pushSorted(f)
}

// reportSeek implements spec.md §4.4 step 2: once a fragment
// continuation reports a fresh physical-offset reading, the owning
// device queue advances past entries the read already passed, before
// the fragment itself is pushed back in sorted order by enqueueFile.
func (s *Scheduler) reportSeek(f *fileRecord, offset uint64) {
	s.devMu.Lock()
	dq := s.devices[f.deviceID]
	s.devMu.Unlock()
	if dq != nil {
		dq.seekTo(offset)
	}
}

// queueFinalize is the schedCtx.onFinalize hook: hands a finished
// class's members to the finalizer goroutine (C9) without blocking the
// caller, which may be holding a group's lock's former owner chain.
func (s *Scheduler) queueFinalize(members []*fileRecord) {
	s.finalizeCh <- members
}

// Run drives passes to completion (spec.md §4.8): it launches one
// worker per device, recomputes per-pass quotas as total_quota /
// devices_left each time a device reports back with remaining work,
// and returns once every device has drained or ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	if s.reporter != nil {
		s.reporter.LockState()
		s.reporter.SetState(PhaseShredder)
		s.reporter.UnlockState()
	}

	s.finalizeWG.Add(1)
	go s.runFinalizer()

	s.devMu.Lock()
	devicesLeft := len(s.devices)
	all := make([]*deviceQueue, 0, devicesLeft)
	for _, dq := range s.devices {
		all = append(all, dq)
	}
	s.devMu.Unlock()

	if devicesLeft == 0 {
		close(s.finalizeCh)
		s.finalizeWG.Wait()
		return
	}

	returnCh := make(chan *deviceQueue, devicesLeft)

	submit := func(dq *deviceQueue, left int) {
		byteQuota := ceilDiv(s.cfg.SweepSizeBytes, int64(left))
		fileQuota := 0
		if s.cfg.SweepCount > 0 {
			fileQuota = (s.cfg.SweepCount + left - 1) / left
		}
		dq.setPassBudget(byteQuota, fileQuota)
		go s.runDevicePass(ctx, dq, returnCh)
	}

	for _, dq := range all {
		submit(dq, devicesLeft)
	}

	for devicesLeft > 0 {
		select {
		case <-ctx.Done():
			s.Abort()
		default:
		}

		dq := <-returnCh
		if s.aborted.Load() {
			devicesLeft--
			continue
		}
		if dq.hasRemaining() {
			submit(dq, devicesLeft)
		} else {
			devicesLeft--
		}
	}

	for _, dq := range all {
		dq.close()
	}

	if s.bar != nil {
		s.bar.Finish(stringer("shredding complete"))
	}
	close(s.finalizeCh)
	s.finalizeWG.Wait()
}

type stringer string

func (s stringer) String() string { return string(s) }

// runDevicePass implements spec.md §4.4's worker loop for a single pass:
// pop, admit, process, repeat until the pass budget is exceeded or the
// queue is drained; then report back on returnCh for the driver to
// recompute quotas (spec.md §4.8).
func (s *Scheduler) runDevicePass(ctx context.Context, dq *deviceQueue, returnCh chan<- *deviceQueue) {
	for {
		if s.aborted.Load() {
			break
		}
		select {
		case <-ctx.Done():
			s.Abort()
		default:
		}
		if s.aborted.Load() || dq.passBudgetExceeded() {
			break
		}

		f, ok := dq.popNext()
		if !ok {
			break
		}

		if !s.gov.admit(f.group, activeGroupThreshold) {
			// Refused, not blocked (spec.md §5(iv)): give the pass back
			// to the driver so other groups get a chance to free budget
			// before this device is resubmitted.
			dq.pushTail(f)
			break
		}

		for s.processFile(dq, f) {
			// sift reported the same file may continue hashing
			// immediately, without another device-queue round trip.
		}
	}
	returnCh <- dq
}

// worthWaitingHeuristic resolves the "continue with same file" vs "push
// back for a larger read" tie-break spec.md §9's Open Questions leaves to
// the implementer. The default is the deterministic policy SPEC_FULL.md
// settles on: keep waiting on the same file while its group's read size
// is still growing (offset_factor has not saturated), a cheap local
// signal that more, larger increments are still coming. --legacy-wait-
// heuristic restores the source's probabilistic rule instead, for parity
// testing against the rmlint-derived scenario properties.
func (s *Scheduler) worthWaitingHeuristic(g *group, dq *deviceQueue, f *fileRecord, bytesToRead int64) bool {
	if s.cfg.LegacyWaitHeuristic {
		return dq.rotational && bytesToRead < rotationalWaitCeiling && f.getState() == stateNormal
	}
	g.mu.Lock()
	factor := g.offsetFactor
	g.mu.Unlock()
	return factor < maxReadFactor()
}

// processFile implements spec.md §4.5's per-file processing steps.
// Returns true iff the caller should immediately process the same
// record again (another increment), false once it has left the
// worker's hands (enqueued elsewhere, or handed to the finalizer path).
func (s *Scheduler) processFile(dq *deviceQueue, f *fileRecord) bool {
	g := f.group
	g.mu.Lock()
	nextOffset := g.nextOffset
	fileSize := g.fileSize
	kind := g.digestKind
	g.mu.Unlock()

	bytesToRead := nextOffset - f.h

	worthWaiting := nextOffset != fileSize && !s.cfg.NeverWait &&
		(s.cfg.AlwaysWait || s.worthWaitingHeuristic(g, dq, f, bytesToRead))

	d := f.digest
	if d == nil {
		d = NewDigest(kind)
	}

	task, err := s.hasher.StartIncrement(f.path(), d, f.h, bytesToRead, f.isSymlink)
	if err != nil {
		f.setState(stateIgnore)
		dq.adjustCounters(0, true)
		g.unref()
		return false
	}

	// spec.md §4.5 steps 1/3/4: only the device-counter decrement
	// substitutes a symlink's full size for the increment just issued
	// (`original_source/lib/shredder.c`'s `rm_shred_adjust_counters`) -
	// the bytes actually extended into the digest, and H's advance, stay
	// governed by the same read-size policy as every other file.
	counterBytes := bytesToRead
	if f.isSymlink {
		counterBytes = fileSize - f.h
	}
	dq.adjustCounters(counterBytes, false)

	// Re-evaluate worth_waiting under G's lock (spec.md §4.5 step 5): a
	// candidate must already exist to make waiting pay off.
	g.mu.Lock()
	worthWaiting = worthWaiting && len(g.children) > 0
	if kind == DigestParanoid {
		worthWaiting = worthWaiting && d.CandidateCount() > 0
	}
	g.mu.Unlock()
	f.setWaiting(worthWaiting)

	var resultCh chan bool
	if worthWaiting {
		resultCh = make(chan bool, 1)
	}

	task.Finish(func(digest Digest, err error) {
		cont := s.completeIncrement(g, f, digest, bytesToRead, err)
		if resultCh != nil {
			resultCh <- cont
		}
	})

	if resultCh != nil {
		return <-resultCh
	}
	return false
}

// completeIncrement is the hasher completion callback of spec.md §4.5:
// on success it attaches the digest and advances H, then routes the
// file either back to the waiting caller, onto the device queue
// (fragment state), or into the Sifter.
func (s *Scheduler) completeIncrement(g *group, f *fileRecord, d Digest, bytesRead int64, err error) bool {
	if err != nil {
		f.setState(stateIgnore)
		g.unref()
		return false
	}

	f.attachDigest(d)
	f.advanceBy(bytesRead)

	switch f.getState() {
	case stateIgnore:
		g.unref()
		return false
	case stateFragment:
		// Not terminal: the group's hold on this file persists until a
		// later increment reaches the sifter, so no unref here. A fresh
		// physical-offset reading lets the device queue skip entries the
		// read already passed (spec.md §4.4 step 2) before f rejoins it.
		if s.oracle != nil && s.cfg.BuildFiemap {
			if off := s.oracle.PhysicalOffset(f.path(), uint64(f.h)); off != 0 {
				f.info.PhysicalOffset = off
				s.reportSeek(f, off)
			}
		}
		if !f.waiting() {
			s.enqueueFile(f)
		}
		return false
	}

	return sift(g, f)
}
