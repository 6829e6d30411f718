// Package report implements internal/shred's Reporter collaborator
// (spec.md §6/C9's output sink) and formats the resulting duplicate
// sets for human or machine consumption, the way cmd/dupedog's other
// stages report via a Stringer-driven progress.Bar.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/dustin/go-humanize"

	"github.com/ivoronin/shreddupe/internal/shred"
	"github.com/ivoronin/shreddupe/internal/types"
)

// Collector is a shred.Reporter that accumulates finished duplicate
// sets in memory for the caller to format once shredding completes.
type Collector struct {
	mu     sync.Mutex
	phase  shred.Phase
	groups []types.DuplicateGroup

	Files int64
	Bytes int64
}

// NewCollector creates an empty Collector.
func NewCollector() *Collector { return &Collector{} }

func (c *Collector) LockState()   { c.mu.Lock() }
func (c *Collector) UnlockState() { c.mu.Unlock() }

// SetState records which processing phase produced subsequent writes.
// Must be called with the state lock held, same as Write.
func (c *Collector) SetState(phase shred.Phase) { c.phase = phase }

// Write appends a finished duplicate set. Must be called with the
// state lock held (spec.md §6's lock_state/unlock_state bracket).
func (c *Collector) Write(group types.DuplicateGroup) {
	c.groups = append(c.groups, group)
	if group.Len() < 2 {
		return
	}
	size := group.First().First().Size
	for _, siblings := range group.Items()[1:] {
		c.Files += int64(siblings.Len())
		c.Bytes += size * int64(siblings.Len())
	}
}

// Groups returns everything collected so far, sorted deterministically.
func (c *Collector) Groups() types.DuplicateGroups {
	c.mu.Lock()
	defer c.mu.Unlock()
	return types.NewDuplicateGroups(c.groups)
}

// summary mirrors the *Bar-facing stats.String() pattern every other
// pipeline stage in this codebase uses.
type summary struct {
	sets  int
	files int64
	bytes int64
}

func (s summary) String() string {
	return fmt.Sprintf("Found %d duplicate sets, %d redundant files (%s)",
		s.sets, s.files, humanize.IBytes(uint64(s.bytes)))
}

// Summary returns the Stringer progress.Bar.Finish expects.
func (c *Collector) Summary() fmt.Stringer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return summary{sets: len(c.groups), files: c.Files, bytes: c.Bytes}
}

// jsonGroup is the on-the-wire shape for WriteJSON: one entry per
// sibling group (hardlink cluster) in a duplicate set.
type jsonGroup struct {
	Size    int64      `json:"size"`
	Members [][]string `json:"members"`
}

// WriteJSON emits groups as a JSON array, one object per duplicate set.
func WriteJSON(w io.Writer, groups types.DuplicateGroups) error {
	out := make([]jsonGroup, 0, groups.Len())
	for _, g := range groups.Items() {
		if g.Len() < 2 {
			continue
		}
		jg := jsonGroup{Size: g.First().First().Size}
		for _, siblings := range g.Items() {
			paths := make([]string, 0, siblings.Len())
			for _, f := range siblings.Items() {
				paths = append(paths, f.Path)
			}
			jg.Members = append(jg.Members, paths)
		}
		out = append(out, jg)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// WriteText emits groups in rmlint-style plain text: a blank-separated
// list of paths per set, each headed by the file size and the number of
// paths in the set. Sets are written in the order given.
func WriteText(w io.Writer, groups types.DuplicateGroups) {
	for _, g := range groups.Items() {
		if g.Len() < 2 {
			continue
		}
		size := g.First().First().Size
		fmt.Fprintf(w, "# %s each, %d copies\n", humanize.IBytes(uint64(size)), totalPaths(g))
		for _, siblings := range g.Items() {
			for _, f := range siblings.Items() {
				fmt.Fprintln(w, f.Path)
			}
		}
		fmt.Fprintln(w)
	}
}

func totalPaths(g types.DuplicateGroup) int {
	n := 0
	for _, siblings := range g.Items() {
		n += siblings.Len()
	}
	return n
}
