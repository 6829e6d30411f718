// Package hasher is the concrete implementation of internal/shred's
// Hasher collaborator: it performs the actual file I/O a shred group
// only ever describes as (path, start, length), extending whatever
// Digest it is handed. Grounded on the teacher's internal/verifier
// hashRange, generalized from a single SHA-256 call into repeated
// Digest.Update calls so streaming and paranoid comparisons share one
// read path.
package hasher

import (
	"bufio"
	"io"
	"os"
	"sync"

	"github.com/ivoronin/shreddupe/internal/cache"
	"github.com/ivoronin/shreddupe/internal/shred"
	"github.com/ivoronin/shreddupe/internal/types"
)

// blockSize is the read buffer size, matching the teacher's verifier.
const blockSize = 64 * 1024

// Service is a thread-per-CPU hasher backed by a bounded worker
// semaphore (spec.md §5 "one hasher service, internally parallel,
// thread-per-CPU"), with an optional persisted hash-range cache.
type Service struct {
	sem             types.Semaphore
	cache           *cache.Cache
	writeUnfinished bool
	useBufferedRead bool
	lookup          func(path string) *types.FileInfo
	bufPool         sync.Pool
}

// New creates a hasher service. workers bounds concurrent file reads;
// lookup resolves a path back to the types.FileInfo the cache keys on
// (size/ino/mtime), since the Hasher contract itself only carries a
// path. A nil cache disables caching. writeUnfinished mirrors
// config::write_unfinished (spec.md §6): when false, a previously
// cached range is still honored on read, but no new partial state is
// persisted for a file this run does not finish hashing. useBufferedRead
// mirrors config::use_buffered_read: when true, reads go through a
// bufio.Reader (fewer, readahead-sized syscalls - better for spinning
// disks reading sequentially); when false, each increment issues direct
// blockSize-sized reads against the file descriptor.
func New(workers int, c *cache.Cache, writeUnfinished, useBufferedRead bool, lookup func(path string) *types.FileInfo) *Service {
	if workers < 1 {
		workers = 1
	}
	return &Service{
		sem:             types.NewSemaphore(workers),
		cache:           c,
		writeUnfinished: writeUnfinished,
		useBufferedRead: useBufferedRead,
		lookup:          lookup,
		bufPool: sync.Pool{New: func() any {
			b := make([]byte, blockSize)
			return &b
		}},
	}
}

// task is the shred.Task realization: the read already started in its
// own goroutine when StartIncrement returned; Finish attaches (or
// immediately fires) the completion callback.
type task struct {
	mu       sync.Mutex
	finished bool
	digest   shred.Digest
	err      error
	callback shred.IncrementCallback
}

func (t *task) complete(d shred.Digest, err error) {
	t.mu.Lock()
	t.finished = true
	t.digest = d
	t.err = err
	cb := t.callback
	t.mu.Unlock()
	if cb != nil {
		cb(d, err)
	}
}

func (t *task) Finish(callback shred.IncrementCallback) {
	t.mu.Lock()
	if t.finished {
		d, err := t.digest, t.err
		t.mu.Unlock()
		callback(d, err)
		return
	}
	t.callback = callback
	t.mu.Unlock()
}

// StartIncrement begins reading length bytes at start from path into d,
// in its own goroutine, and returns immediately (spec.md §6's
// start_increment). is_symlink hashes the link target text instead of
// opening the path for read.
func (s *Service) StartIncrement(path string, d shred.Digest, start, length int64, isSymlink bool) (shred.Task, error) {
	t := &task{}
	go func() {
		s.sem.Acquire()
		defer s.sem.Release()
		err := s.runIncrement(path, d, start, length, isSymlink)
		t.complete(d, err)
	}()
	return t, nil
}

func (s *Service) runIncrement(path string, d shred.Digest, start, length int64, isSymlink bool) error {
	if isSymlink {
		target, err := os.Readlink(path)
		if err != nil {
			return err
		}
		d.Update([]byte(target))
		return nil
	}

	sc, cacheable := d.(shred.StateCacheable)
	totalOffset := start + length

	if s.cache != nil && cacheable && s.lookup != nil {
		if fi := s.lookup(path); fi != nil {
			if cached, err := s.cache.Lookup(fi, 0, totalOffset); err == nil && cached != nil {
				if err := sc.UnmarshalState(cached, totalOffset); err == nil {
					return nil
				}
			}
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Seek(start, io.SeekStart); err != nil {
		return err
	}

	bufPtr := s.bufPool.Get().(*[]byte)
	defer s.bufPool.Put(bufPtr)
	buf := *bufPtr

	var src io.Reader = f
	if s.useBufferedRead {
		src = bufio.NewReaderSize(f, blockSize)
	}

	r := io.LimitReader(src, length)
	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			d.Update(buf[:n])
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return rerr
		}
	}

	if s.cache != nil && cacheable && s.lookup != nil {
		if fi := s.lookup(path); fi != nil && (s.writeUnfinished || totalOffset >= fi.Size) {
			if data, bytesAt, err := sc.MarshalState(); err == nil {
				_ = s.cache.Store(fi, 0, bytesAt, data)
			}
		}
	}

	return nil
}
