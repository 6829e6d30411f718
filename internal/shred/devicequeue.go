package shred

import (
	"sort"
	"sync"
	"time"
)

// waitInterval bounds the device worker's condvar wait when the queue is
// empty but more work is still expected (spec.md §5 "bounded wait,
// ~50ms").
const waitInterval = 50 * time.Millisecond

// deviceQueue is the Go realization of spec.md §4.4's Device queue (C4):
// a per-device ordered work list with its own lock, condition variable,
// and per-pass budgets.
type deviceQueue struct {
	mu   sync.Mutex
	cond *sync.Cond

	diskID     uint64
	rotational bool

	files []*fileRecord // kept sorted by the ordering function

	remainingFiles int
	remainingBytes int64

	passBytesBudget int64
	passFilesBudget int
	passBytesRead   int64
	passFilesRead   int

	closed   bool // no more work will ever arrive (scheduler shutting down)
	tickerOn bool
}

func newDeviceQueue(diskID uint64, rotational bool) *deviceQueue {
	q := &deviceQueue{diskID: diskID, rotational: rotational}
	q.cond = sync.NewCond(&q.mu)
	q.tickerOn = true
	go q.ticker()
	return q
}

// ticker periodically broadcasts so popNext's bounded wait (spec.md §5
// "bounded condvar wait, ~50ms") never sleeps past waitInterval even
// with no new work arriving.
func (q *deviceQueue) ticker() {
	t := time.NewTicker(waitInterval)
	defer t.Stop()
	for range t.C {
		q.mu.Lock()
		if !q.tickerOn {
			q.mu.Unlock()
			return
		}
		q.mu.Unlock()
		q.cond.Broadcast()
	}
}

// less implements spec.md §4.4's ordering function: device number (0 if
// same subvolume/path-index), physical offset of current fragment
// (rotational benefit), inode.
func less(a, b *fileRecord) bool {
	if a.deviceID != b.deviceID {
		return a.deviceID < b.deviceID
	}
	ao, bo := a.physicalOffset(), b.physicalOffset()
	if ao != bo {
		// A zero offset means "unknown" (oracle miss); spec.md's
		// mandated fallback treats it as equal here and defers to
		// inode order below, rather than sorting unknowns first.
		if ao != 0 && bo != 0 {
			return ao < bo
		}
	}
	return a.info.Ino < b.info.Ino
}

// pushSorted inserts f preserving sort order (spec.md §4.4's
// push-sorted-by-locality), used for initial seeding and for files the
// sifter deferred.
func (q *deviceQueue) pushSorted(f *fileRecord) {
	q.mu.Lock()
	idx := sort.Search(len(q.files), func(i int) bool { return !less(q.files[i], f) })
	q.files = append(q.files, nil)
	copy(q.files[idx+1:], q.files[idx:])
	q.files[idx] = f
	q.remainingFiles++
	q.remainingBytes += f.size - f.h
	q.mu.Unlock()
	q.cond.Signal()
}

// pushTail appends without resorting, used when a worker is continuing
// to work through the queue and locality has already been established.
func (q *deviceQueue) pushTail(f *fileRecord) {
	q.mu.Lock()
	q.files = append(q.files, f)
	q.remainingFiles++
	q.remainingBytes += f.size - f.h
	q.mu.Unlock()
	q.cond.Signal()
}

// popNext implements spec.md §4.4's worker loop steps 1-2: take the
// head record (skipping past a reported seek position is seekTo's job).
// While the queue is empty it waits as long as files remain and the
// queue is open; ok is false when the queue is empty and either closed
// or without remaining files.
func (q *deviceQueue) popNext() (f *fileRecord, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.files) == 0 && q.remainingFiles > 0 && !q.closed {
		q.waitBounded()
	}
	if len(q.files) == 0 {
		return nil, false
	}

	f = q.files[0]
	q.files = q.files[1:]
	return f, true
}

// waitBounded waits on the condvar, woken either by new work or by the
// background ticker - the "bounded condvar wait" suspension point of
// spec.md §5(i). Must be called with q.mu held; Wait releases and
// reacquires it, and the ticker guarantees a wakeup within
// waitInterval even if nothing else signals.
func (q *deviceQueue) waitBounded() {
	q.cond.Wait()
}

// seekTo advances past queue entries preceding the given physical
// offset, wrapping from the head if the jump moved backwards (spec.md
// §4.4 step 2). Used when a running read reports a new seek position
// for a fragmented file.
func (q *deviceQueue) seekTo(offset uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, f := range q.files {
		if f.physicalOffset() >= offset {
			if i > 0 {
				q.files = append(q.files[i:], q.files[:i]...)
			}
			return
		}
	}
}

// adjustCounters implements spec.md §4.4's adjust-counters: records
// bytes actually scheduled for reading this pass and decrements the
// device's remaining-bytes estimate.
func (q *deviceQueue) adjustCounters(bytesRead int64, fileDone bool) {
	q.mu.Lock()
	q.remainingBytes -= bytesRead
	if q.remainingBytes < 0 {
		q.remainingBytes = 0
	}
	q.passBytesRead += bytesRead
	if fileDone {
		q.remainingFiles--
		q.passFilesRead++
	}
	q.mu.Unlock()
}

// setPassBudget installs this pass's byte/file quotas (spec.md §4.8).
func (q *deviceQueue) setPassBudget(bytesBudget int64, filesBudget int) {
	q.mu.Lock()
	q.passBytesBudget = bytesBudget
	q.passFilesBudget = filesBudget
	q.passBytesRead = 0
	q.passFilesRead = 0
	q.mu.Unlock()
}

// passBudgetExceeded reports whether this pass has read enough to stop
// (spec.md §4.4's worker-loop exit condition).
func (q *deviceQueue) passBudgetExceeded() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.passBytesBudget > 0 && q.passBytesRead >= q.passBytesBudget {
		return true
	}
	if q.passFilesBudget > 0 && q.passFilesRead >= q.passFilesBudget {
		return true
	}
	return false
}

func (q *deviceQueue) hasRemaining() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.remainingFiles > 0
}

// close marks the queue as permanently drained, waking any waiter and
// stopping the background ticker.
func (q *deviceQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.tickerOn = false
	q.mu.Unlock()
	q.cond.Broadcast()
}
