package shred

import (
	"strings"

	"github.com/ivoronin/shreddupe/internal/types"
)

// Seed is the Go realization of spec.md §4.9's Preprocessor adapter
// (C8): it consumes the screener's size-grouped candidates, derives
// each file's owning device, seeds the same-size root groups and
// device queues, and inserts every file via seedPush. Call once,
// before Run.
//
// Insertion runs as the two passes spec.md §4.9 and
// `original_source/lib/shredder.c`'s `rm_shred_preprocess_input`
// describe: every file is first seedPush'd into its root group with no
// hashing decision made, and only once every same-size sibling is known
// does finishSeeding decide each root's fate (all-external-checksum
// short circuit, or promotion to real hashing). Deciding per-push, as a
// plain pushFile would, is order-dependent on the screener's candidate
// ordering; this is not.
func (s *Scheduler) Seed(candidates types.CandidateGroups, oracle OffsetOracle, xattr XattrCache, scanRoots []string) {
	s.xattr = xattr
	s.oracle = oracle
	if s.reporter != nil {
		s.reporter.LockState()
		s.reporter.SetState(PhasePreprocess)
		s.reporter.UnlockState()
	}

	roots := make(map[int64]*group)

	for _, candidateGroup := range candidates.Items() {
		for _, siblings := range candidateGroup.Items() {
			if siblings.Len() == 0 {
				continue
			}
			head := siblings.First()

			// spec.md §4.9 drops singleton roots after insertion; the
			// screener already filters each CandidateGroup down to 2+
			// distinct inodes, so every root seeded here already has
			// the multiplicity a root group needs to ever promote.
			root, ok := roots[head.Size]
			if !ok {
				root = newGroup(s.ctx, nil, 0, head.Size, nil)
				roots[head.Size] = root
			}

			f := s.newFileRecord(head, siblings, oracle, xattr, scanRoots)
			root.seedPush(f)
		}
	}

	for _, root := range roots {
		root.finishSeeding()
	}
}

// newFileRecord builds the fileRecord for a sibling group's cluster
// head, wiring in the offset oracle and xattr cache per spec.md §4.9.
func (s *Scheduler) newFileRecord(head *types.FileInfo, siblings types.SiblingGroup, oracle OffsetOracle, xattr XattrCache, scanRoots []string) *fileRecord {
	deviceID := deriveDeviceID(s.cfg, head, scanRoots)
	rotational := true
	if oracle != nil {
		rotational = oracle.IsRotational(deviceID)
		if s.cfg.BuildFiemap {
			head.PhysicalOffset = oracle.PhysicalOffset(head.Path, 0)
		}
	}
	s.deviceQueueFor(deviceID, rotational)

	hasExt := head.HasExternalChecksum
	if !hasExt && xattr != nil && s.cfg.ReadFromXattr {
		if sum, ok := xattr.ReadHash(head.Path); ok {
			head.HasExternalChecksum = true
			head.ExternalChecksum = sum
			hasExt = true
		}
	}

	var cluster *hardlinkCluster
	if siblings.Len() > 1 {
		paths := make([]string, 0, siblings.Len())
		for _, fi := range siblings.Items() {
			paths = append(paths, fi.Path)
		}
		cluster = &hardlinkCluster{paths: paths}
	}

	f := &fileRecord{
		info:          head,
		deviceID:      deviceID,
		size:          head.Size,
		preferredPath: isTagged(head.Path, s.cfg.TaggedPaths),
		newerThanMin:  s.cfg.MinMTime > 0 && head.ModTime.UnixNano() > s.cfg.MinMTime,
		isSymlink:     head.IsSymlink && s.cfg.SeeSymlinks,
		hasExtCksum:   hasExt,
		cluster:       cluster,
	}
	return f
}

// deriveDeviceID implements spec.md §4.9's device derivation: the real
// backing device by default, or the index of the scan root the file was
// found under when fake_pathindex_as_disk is configured (useful when
// comparing several independently-mounted trees that share one real
// device, e.g. bind mounts or a test harness).
func deriveDeviceID(cfg *Config, f *types.FileInfo, scanRoots []string) uint64 {
	if !cfg.FakePathIndexAsDisk {
		return f.Dev
	}
	for i, root := range scanRoots {
		if strings.HasPrefix(f.Path, root) {
			return uint64(i)
		}
	}
	return 0
}

func isTagged(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}
