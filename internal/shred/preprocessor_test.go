package shred

import (
	"testing"

	"github.com/ivoronin/shreddupe/internal/types"
)

type fakeOracle struct{}

func (fakeOracle) PhysicalOffset(path string, logicalOffset uint64) uint64 { return 0 }
func (fakeOracle) IsRotational(deviceID uint64) bool                      { return true }

type fakeXattr struct {
	hashes map[string][]byte
}

func (x fakeXattr) ReadHash(path string) ([]byte, bool) {
	h, ok := x.hashes[path]
	return h, ok
}
func (x fakeXattr) WriteHash(path string, digest []byte) error { return nil }

func candidateGroupOf(files ...*types.FileInfo) types.CandidateGroup {
	siblings := make([]types.SiblingGroup, 0, len(files))
	for _, f := range files {
		siblings = append(siblings, types.NewSiblingGroup([]*types.FileInfo{f}))
	}
	return types.NewCandidateGroup(siblings)
}

func TestSeedAssignsSameDeviceQueue(t *testing.T) {
	s := NewScheduler(DefaultConfig(), nil, nil, nil)

	a := &types.FileInfo{Path: "/data/a", Size: 100, Dev: 5}
	b := &types.FileInfo{Path: "/data/b", Size: 100, Dev: 5}
	candidates := types.NewCandidateGroups([]types.CandidateGroup{candidateGroupOf(a), candidateGroupOf(b)})

	s.Seed(candidates, fakeOracle{}, nil, nil)

	if len(s.devices) != 1 {
		t.Fatalf("devices = %d, want 1 (both files share dev 5)", len(s.devices))
	}
	dq := s.devices[5]
	if dq == nil {
		t.Fatal("expected a device queue keyed by device id 5")
	}
	if dq.remainingFiles != 2 {
		t.Errorf("remainingFiles = %d, want 2", dq.remainingFiles)
	}
}

func TestSeedFakePathIndexAsDisk(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FakePathIndexAsDisk = true
	s := NewScheduler(cfg, nil, nil, nil)

	a := &types.FileInfo{Path: "/root1/a", Size: 100, Dev: 9}
	b := &types.FileInfo{Path: "/root2/b", Size: 100, Dev: 9}
	candidates := types.NewCandidateGroups([]types.CandidateGroup{candidateGroupOf(a), candidateGroupOf(b)})

	s.Seed(candidates, fakeOracle{}, nil, []string{"/root1", "/root2"})

	if len(s.devices) != 2 {
		t.Fatalf("devices = %d, want 2 (fake path index should split by scan root)", len(s.devices))
	}
}

func TestSeedTaggedPathMarksPreferred(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TaggedPaths = []string{"/canonical/"}
	s := NewScheduler(cfg, nil, nil, nil)

	f := &types.FileInfo{Path: "/canonical/keep.txt", Size: 10, Dev: 1}
	if !isTagged(f.Path, cfg.TaggedPaths) {
		t.Error("path under a tagged prefix should be tagged")
	}
	if isTagged("/other/file.txt", cfg.TaggedPaths) {
		t.Error("path outside tagged prefixes should not be tagged")
	}
}

func TestSeedReadsTrustedXattrChecksum(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ReadFromXattr = true
	s := NewScheduler(cfg, nil, nil, nil)

	a := &types.FileInfo{Path: "/data/a", Size: 100, Dev: 1}
	b := &types.FileInfo{Path: "/data/b", Size: 100, Dev: 1}
	candidates := types.NewCandidateGroups([]types.CandidateGroup{candidateGroupOf(a), candidateGroupOf(b)})

	xattr := fakeXattr{hashes: map[string][]byte{"/data/a": []byte("trusted-sum")}}
	s.Seed(candidates, fakeOracle{}, xattr, nil)

	if !a.HasExternalChecksum {
		t.Error("file with a stored xattr hash should be flagged HasExternalChecksum")
	}
	if b.HasExternalChecksum {
		t.Error("file without a stored xattr hash should not be flagged")
	}
}
