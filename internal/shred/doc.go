// Package shred implements the progressive duplicate-file detection
// scheduler: the subsystem that decides, for a set of files already known
// to share a size, which ones are byte-identical, while minimizing reads,
// disk seeks, and memory.
//
// # Overview
//
// Files enter as same-size candidate groups (produced by
// internal/screener) and are organized into a tree of shred groups: every
// node is an equivalence class of files known to agree on a growing
// prefix of bytes. One worker goroutine per device pulls files from that
// device's queue in physical-locality order, extends each file's digest
// by one increment via the hasher service, and hands the result to the
// sifter, which moves the file into the child class keyed by its new
// digest, creating that class if needed. Classes that reach full-file
// agreement with two or more members are handed to the finalizer, which
// assembles the set and forwards it to a Reporter; choosing an original
// is left to the Reporter's consumer.
//
// # Processing Pipeline
//
//	types.CandidateGroups
//	    │
//	    ├──► Scheduler.Seed: seed root groups + per-device queues     (C8)
//	    │
//	    ├──► Scheduler.Run: one worker goroutine per device            (C7)
//	    │        │
//	    │        ├──► deviceQueue.popNext                               (C4)
//	    │        ├──► governor.admit (paranoid only)                    (C5)
//	    │        ├──► Hasher.StartIncrement / Task.Finish
//	    │        └──► sift                                              (C6)
//	    │                 │
//	    │                 └──► group.pushFile → child group              (C3)
//	    │
//	    └──► runFinalizer / finalizeGroup → Reporter                     (C9)
//
// # Why This Design?
//
//   - Per-device worker goroutines exploit physical locality on rotational
//     media and bound concurrent reads per spindle.
//   - The shred-group tree amortizes I/O: a prefix read once is never
//     re-read, and divergence is detected at the smallest increment that
//     proves it.
//   - A memory governor caps paranoid-mode buffering so deep trees of
//     large files cannot exhaust RAM.
//   - Reference counting on groups (rather than GC-only cleanup) lets a
//     group be freed and handed to the finalizer the instant it is safe,
//     without waiting for the whole tree to finish.
package shred
