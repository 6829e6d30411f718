package shred

import (
	"crypto/sha256"

	"github.com/ivoronin/shreddupe/internal/types"
)

// runFinalizer is the Go realization of spec.md §4.10's single-threaded
// finalizer pool (C9): it drains finished classes handed over by
// group.finalize via schedCtx.onFinalize and turns each into a
// types.DuplicateGroup for the Reporter.
func (s *Scheduler) runFinalizer() {
	defer s.finalizeWG.Done()
	for members := range s.finalizeCh {
		s.finalizeGroup(members)
	}
}

// finalizeGroup unbundles hardlink clusters back into flat sibling
// groups, then forwards the assembled set to the reporter. Selecting
// which member is the "original" for on-disk dedup purposes is left to
// the caller (cmd/dupedog mirrors the teacher's deduper.selectSource
// against the group this produces) - the finalizer's job per spec.md
// §4.10 is assembly and forwarding, not the link-replacement decision.
func (s *Scheduler) finalizeGroup(members []*fileRecord) {
	if len(members) < 2 {
		return
	}

	if s.cfg.WriteToXattr && s.xattr != nil {
		for _, f := range members {
			s.persistChecksum(f)
		}
	}

	siblings := make([]types.SiblingGroup, 0, len(members))
	for _, f := range members {
		paths := []string{f.path()}
		if f.cluster != nil {
			paths = f.cluster.paths
		}
		files := make([]*types.FileInfo, 0, len(paths))
		for _, p := range paths {
			if p == f.path() {
				files = append(files, f.info)
				continue
			}
			clone := *f.info
			clone.Path = p
			files = append(files, &clone)
		}
		siblings = append(siblings, types.NewSiblingGroup(files))
	}

	group := types.NewDuplicateGroup(siblings)

	if s.reporter == nil {
		return
	}
	s.reporter.LockState()
	s.reporter.Write(group)
	s.reporter.UnlockState()
}

// persistChecksum implements the finalizer half of spec.md §6's
// write_cksum_to_xattr: a class that reached FINISHING by full-file
// agreement gets its digest stamped onto every member path, so a later
// run with --xattr-read can skip hashing it again. A paranoid digest's
// Sum() is the raw buffered file content rather than a fixed-size sum -
// since needsShadowHash forces paranoid comparison whenever xattr
// caching is on (config.go), every checksum actually persisted here
// passes through sha256 first so the xattr payload stays small and
// portable regardless of which digest kind produced it.
func (s *Scheduler) persistChecksum(f *fileRecord) {
	if f.digest == nil || f.h != f.size {
		return
	}
	sum := f.digest.Sum()
	if f.digest.Kind() == DigestParanoid {
		h := sha256.Sum256(sum)
		sum = h[:]
	}
	paths := []string{f.path()}
	if f.cluster != nil {
		paths = f.cluster.paths
	}
	for _, p := range paths {
		_ = s.xattr.WriteHash(p, sum)
	}
}
