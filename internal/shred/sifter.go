package shred

import "encoding/hex"

// sift implements spec.md §4.6: takes a file whose digest has been
// advanced to g.nextOffset and moves it into the correct child group,
// creating one if needed. Returns whether the worker that owns file may
// continue hashing it immediately (see group.pushFile).
func sift(g *group, f *fileRecord) bool {
	g.mu.Lock()

	delete(g.inProgress, f)

	key := hex.EncodeToString(f.digest.Sum())
	if g.children == nil {
		g.children = make(map[string]*group)
	}

	child, ok := g.children[key]
	if !ok {
		child = newGroup(g.ctx, g, g.nextOffset, g.fileSize, f.digest.Clone())
		child.hasOnlyExtCksums = g.hasOnlyExtCksums
		g.children[key] = child
		for _, d := range g.inProgress {
			d.NotifyCandidate(f.digest.Sum())
		}
	}
	g.mu.Unlock()

	cont := child.pushFile(f, false)
	g.unref()
	return cont
}
