package shred

import (
	"context"
	"sync"
	"testing"

	"github.com/ivoronin/shreddupe/internal/types"
)

// fakeHasher hashes from an in-memory path→content map, synchronously,
// so scheduler tests don't depend on real file I/O.
type fakeHasher struct {
	content map[string][]byte
}

type fakeTask struct {
	digest Digest
	err    error
}

func (t *fakeTask) Finish(callback IncrementCallback) { callback(t.digest, t.err) }

func (h *fakeHasher) StartIncrement(path string, d Digest, start, length int64, isSymlink bool) (Task, error) {
	data := h.content[path]
	end := start + length
	if end > int64(len(data)) {
		end = int64(len(data))
	}
	if start < end {
		d.Update(data[start:end])
	}
	return &fakeTask{digest: d}, nil
}

// fakeReporter collects finalized duplicate sets for assertions.
type fakeReporter struct {
	mu     sync.Mutex
	groups []types.DuplicateGroup
}

func (r *fakeReporter) LockState()          { r.mu.Lock() }
func (r *fakeReporter) UnlockState()        { r.mu.Unlock() }
func (r *fakeReporter) SetState(Phase)      {}
func (r *fakeReporter) Write(g types.DuplicateGroup) {
	r.groups = append(r.groups, g)
}

func TestSchedulerFindsIdenticalFiles(t *testing.T) {
	a := &types.FileInfo{Path: "/a", Size: 10, Dev: 1, Ino: 1}
	b := &types.FileInfo{Path: "/b", Size: 10, Dev: 1, Ino: 2}
	candidates := types.NewCandidateGroups([]types.CandidateGroup{candidateGroupOf(a, b)})

	h := &fakeHasher{content: map[string][]byte{
		"/a": []byte("0123456789"),
		"/b": []byte("0123456789"),
	}}
	rep := &fakeReporter{}

	s := NewScheduler(DefaultConfig(), h, rep, nil)
	s.Seed(candidates, fakeOracle{}, nil, nil)
	s.Run(context.Background())

	rep.mu.Lock()
	defer rep.mu.Unlock()
	if len(rep.groups) != 1 {
		t.Fatalf("reported groups = %d, want 1", len(rep.groups))
	}
	if rep.groups[0].Len() != 2 {
		t.Errorf("members in duplicate group = %d, want 2", rep.groups[0].Len())
	}
}

func TestSchedulerSeparatesDifferentFiles(t *testing.T) {
	a := &types.FileInfo{Path: "/a", Size: 10, Dev: 1, Ino: 1}
	b := &types.FileInfo{Path: "/b", Size: 10, Dev: 1, Ino: 2}
	candidates := types.NewCandidateGroups([]types.CandidateGroup{candidateGroupOf(a, b)})

	h := &fakeHasher{content: map[string][]byte{
		"/a": []byte("0123456789"),
		"/b": []byte("9876543210"),
	}}
	rep := &fakeReporter{}

	s := NewScheduler(DefaultConfig(), h, rep, nil)
	s.Seed(candidates, fakeOracle{}, nil, nil)
	s.Run(context.Background())

	rep.mu.Lock()
	defer rep.mu.Unlock()
	if len(rep.groups) != 0 {
		t.Fatalf("reported groups = %d, want 0 (content differs)", len(rep.groups))
	}
}

func TestSchedulerRunWithNoDevicesReturnsImmediately(t *testing.T) {
	rep := &fakeReporter{}
	s := NewScheduler(DefaultConfig(), &fakeHasher{content: map[string][]byte{}}, rep, nil)
	s.Run(context.Background())
}
