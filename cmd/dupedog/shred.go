package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ivoronin/shreddupe/internal/cache"
	"github.com/ivoronin/shreddupe/internal/hasher"
	"github.com/ivoronin/shreddupe/internal/oracle"
	"github.com/ivoronin/shreddupe/internal/progress"
	"github.com/ivoronin/shreddupe/internal/report"
	"github.com/ivoronin/shreddupe/internal/shred"
	"github.com/ivoronin/shreddupe/internal/types"
)

// shredOptions holds the CLI flags that feed shred.Config (spec.md §1's
// Ambient Stack configuration surface), shared by the dedupe and find
// subcommands.
type shredOptions struct {
	checksum            string
	paranoidMemStr      string
	totalMemStr         string
	readBufferMemStr    string
	sweepSizeStr        string
	sweepCount          int
	taggedPaths         []string
	mustMatchTagged     bool
	mustMatchUntagged   bool
	keepAllTagged       bool
	keepAllUntagged     bool
	mergeDirectories    bool
	xattrRead           bool
	xattrWrite          bool
	writeUnfinished     bool
	buildFiemap         bool
	fakePathIndexAsDisk bool
	cacheFileStructs    bool
	seeSymlinks         bool
	alwaysWait          bool
	neverWait           bool
	legacyWaitHeuristic bool
	noBufferedRead      bool
}

func addShredFlags(cmd *cobra.Command, opts *shredOptions) {
	def := shred.DefaultConfig()
	opts.checksum = "streaming"
	opts.paranoidMemStr = fmt.Sprintf("%d", def.ParanoidMemBytes)
	opts.totalMemStr = fmt.Sprintf("%d", def.TotalMemBytes)
	opts.readBufferMemStr = fmt.Sprintf("%d", def.ReadBufferMemBytes)
	opts.sweepSizeStr = fmt.Sprintf("%d", def.SweepSizeBytes)
	opts.sweepCount = def.SweepCount

	cmd.Flags().StringVar(&opts.checksum, "checksum", opts.checksum,
		"Comparison mode: streaming (hash-based) or paranoid (byte-exact)")
	cmd.Flags().StringVar(&opts.paranoidMemStr, "paranoid-mem", opts.paranoidMemStr,
		"Memory budget for paranoid-mode read buffers")
	cmd.Flags().StringVar(&opts.totalMemStr, "total-mem", opts.totalMemStr,
		"Total memory budget the governor admits against")
	cmd.Flags().StringVar(&opts.readBufferMemStr, "read-buffer-mem", opts.readBufferMemStr,
		"Per-increment read buffer cap")
	cmd.Flags().StringVar(&opts.sweepSizeStr, "sweep-size", opts.sweepSizeStr,
		"Byte quota per device pass")
	cmd.Flags().IntVar(&opts.sweepCount, "sweep-count", opts.sweepCount,
		"File-count quota per device pass")
	cmd.Flags().StringSliceVar(&opts.taggedPaths, "tag", nil,
		"Path prefix treated as a preferred/tagged location (repeatable)")
	cmd.Flags().BoolVar(&opts.mustMatchTagged, "must-match-tagged", false,
		"Only report duplicate sets with at least one tagged member")
	cmd.Flags().BoolVar(&opts.mustMatchUntagged, "must-match-untagged", false,
		"Only report duplicate sets with at least one untagged member")
	cmd.Flags().BoolVar(&opts.keepAllTagged, "keep-all-tagged", false,
		"Never select a tagged file as a duplicate to remove")
	cmd.Flags().BoolVar(&opts.keepAllUntagged, "keep-all-untagged", false,
		"Never select an untagged file as a duplicate to remove")
	cmd.Flags().BoolVar(&opts.mergeDirectories, "merge-directories", false,
		"Force byte-exact (paranoid) comparison; directories are not merged, sets are reported file by file")
	cmd.Flags().BoolVar(&opts.xattrRead, "xattr-read", false,
		"Trust previously stored checksums in extended attributes")
	cmd.Flags().BoolVar(&opts.xattrWrite, "xattr-write", false,
		"Store computed checksums in extended attributes")
	cmd.Flags().BoolVar(&opts.writeUnfinished, "write-unfinished", false,
		"Persist partial hash state for files interrupted before this run completed")
	cmd.Flags().BoolVar(&opts.buildFiemap, "build-fiemap", false,
		"Probe physical extent offsets for locality-ordered reads")
	cmd.Flags().BoolVar(&opts.fakePathIndexAsDisk, "fake-pathindex-as-disk", false,
		"Treat each scan root as its own device, ignoring real device IDs")
	cmd.Flags().BoolVar(&opts.cacheFileStructs, "cache-file-structs", false,
		"Accepted for parity with the source config surface; has no effect (file metadata is always retained in memory)")
	cmd.Flags().BoolVar(&opts.seeSymlinks, "see-symlinks", false,
		"Hash a symlink's target path text instead of its content (the scanner skips symlinks, so none reach the shredder)")
	cmd.Flags().BoolVar(&opts.alwaysWait, "always-wait", false,
		"Always block for a file's hash result before moving to the next file")
	cmd.Flags().BoolVar(&opts.neverWait, "never-wait", false,
		"Never block for a result; always move on to the next queued file")
	cmd.Flags().BoolVar(&opts.legacyWaitHeuristic, "legacy-wait-heuristic", false,
		"Use the rotational/size-based worth-waiting heuristic instead of the offset-factor-based default")
	cmd.Flags().BoolVar(&opts.noBufferedRead, "no-buffered-read", false,
		"Issue direct fixed-size reads instead of going through a buffered reader")
}

// buildConfig parses the sizes/flags in opts into a shred.Config.
func buildConfig(opts *shredOptions, workers int) (shred.Config, error) {
	cfg := shred.DefaultConfig()
	cfg.Threads = workers

	switch opts.checksum {
	case "streaming", "":
		cfg.ChecksumKind = shred.DigestStreaming
	case "paranoid":
		cfg.ChecksumKind = shred.DigestParanoid
	default:
		return cfg, fmt.Errorf("invalid --checksum %q (want streaming or paranoid)", opts.checksum)
	}

	var err error
	if cfg.ParanoidMemBytes, err = parseSize(opts.paranoidMemStr); err != nil {
		return cfg, fmt.Errorf("invalid --paranoid-mem: %w", err)
	}
	if cfg.TotalMemBytes, err = parseSize(opts.totalMemStr); err != nil {
		return cfg, fmt.Errorf("invalid --total-mem: %w", err)
	}
	if cfg.ReadBufferMemBytes, err = parseSize(opts.readBufferMemStr); err != nil {
		return cfg, fmt.Errorf("invalid --read-buffer-mem: %w", err)
	}
	cfg.ParanoidBytes = cfg.ReadBufferMemBytes
	if cfg.SweepSizeBytes, err = parseSize(opts.sweepSizeStr); err != nil {
		return cfg, fmt.Errorf("invalid --sweep-size: %w", err)
	}
	cfg.SweepCount = opts.sweepCount

	cfg.TaggedPaths = opts.taggedPaths
	cfg.MustMatchTagged = opts.mustMatchTagged
	cfg.MustMatchUntagged = opts.mustMatchUntagged
	cfg.KeepAllTagged = opts.keepAllTagged
	cfg.KeepAllUntagged = opts.keepAllUntagged
	cfg.MergeDirectories = opts.mergeDirectories
	cfg.ReadFromXattr = opts.xattrRead
	cfg.WriteToXattr = opts.xattrWrite
	cfg.WriteUnfinished = opts.writeUnfinished
	cfg.BuildFiemap = opts.buildFiemap
	cfg.FakePathIndexAsDisk = opts.fakePathIndexAsDisk
	cfg.CacheFileStructs = opts.cacheFileStructs
	cfg.SeeSymlinks = opts.seeSymlinks
	cfg.AlwaysWait = opts.alwaysWait
	cfg.NeverWait = opts.neverWait
	cfg.LegacyWaitHeuristic = opts.legacyWaitHeuristic
	cfg.UseBufferedRead = !opts.noBufferedRead

	return cfg, nil
}

// buildLookup builds the path→FileInfo resolver internal/hasher needs
// to key its cache lookups, since the Hasher contract only carries a
// path string.
func buildLookup(files []*types.FileInfo) func(path string) *types.FileInfo {
	byPath := make(map[string]*types.FileInfo, len(files))
	for _, f := range files {
		byPath[f.Path] = f
	}
	return func(path string) *types.FileInfo { return byPath[path] }
}

// runShredder wires internal/shred's scheduler (oracle, hasher, xattr
// store, collector) and runs it to completion, returning the finalized
// duplicate sets for the caller (dedupe's hardlink pass, find's report).
func runShredder(
	files []*types.FileInfo,
	candidates types.CandidateGroups,
	opts *shredOptions,
	workers int,
	hashCache *cache.Cache,
	showProgress bool,
) (types.DuplicateGroups, error) {
	cfg, err := buildConfig(opts, workers)
	if err != nil {
		return types.DuplicateGroups{}, err
	}

	lookup := buildLookup(files)
	h := hasher.New(workers, hashCache, cfg.WriteUnfinished, cfg.UseBufferedRead, lookup)
	collector := report.NewCollector()
	bar := progress.New(showProgress, -1)

	sched := shred.NewScheduler(cfg, h, collector, bar)

	orc := oracle.New()
	xattr := cache.NewXattrStore(opts.xattrRead || opts.xattrWrite)
	sched.Seed(candidates, orc, xattr, nil)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sched.Run(ctx)

	return collector.Groups(), nil
}
