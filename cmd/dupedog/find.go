package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/ivoronin/shreddupe/internal/cache"
	"github.com/ivoronin/shreddupe/internal/report"
	"github.com/ivoronin/shreddupe/internal/scanner"
	"github.com/ivoronin/shreddupe/internal/screener"
)

// findOptions holds the CLI flags for the read-only find command.
type findOptions struct {
	shredOptions

	minSizeStr            string
	excludes              []string
	workers               int
	noProgress            bool
	trustDeviceBoundaries bool
	cacheFile             string
	jsonOutput            bool
}

// newFindCmd creates the find subcommand: the same scan/screen/shred
// pipeline as dedupe, but reporting only - no hardlinking.
func newFindCmd() *cobra.Command {
	opts := &findOptions{
		minSizeStr: "1",
		workers:    runtime.NumCPU(),
	}

	cmd := &cobra.Command{
		Use:   "find [paths...]",
		Short: "Find duplicate files without modifying anything",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runFind(args, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.minSizeStr, "min-size", "m", opts.minSizeStr, "Minimum file size (e.g., 100, 1K, 10M, 1G)")
	cmd.Flags().StringSliceVarP(&opts.excludes, "exclude", "e", nil, "Glob patterns to exclude")
	cmd.Flags().IntVarP(&opts.workers, "workers", "w", opts.workers, "Number of parallel workers")
	cmd.Flags().BoolVar(&opts.noProgress, "no-progress", false, "Disable progress output")
	cmd.Flags().BoolVar(&opts.trustDeviceBoundaries, "trust-device-boundaries", false,
		"Assume devices have independent inode spaces. WARNING: Unsafe if the same filesystem is mounted at multiple paths (e.g., NFS)")
	cmd.Flags().StringVar(&opts.cacheFile, "cache-file", "", "Path to hash cache file (enables caching)")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Emit machine-readable JSON instead of plain text")
	addShredFlags(cmd, &opts.shredOptions)

	return cmd
}

func runFind(paths []string, opts *findOptions) error {
	minSize, err := parseSize(opts.minSizeStr)
	if err != nil {
		return fmt.Errorf("invalid --min-size: %w", err)
	}

	if err := validateGlobPatterns(opts.excludes); err != nil {
		return fmt.Errorf("invalid --exclude: %w", err)
	}

	showProgress := !opts.noProgress

	errors := make(chan error, 100)
	go drainErrors(errors)
	defer close(errors)

	files := scanner.New(paths, minSize, opts.excludes, opts.workers, showProgress, errors).Run()
	if len(files) == 0 {
		return nil
	}

	candidates := screener.New(files, showProgress, opts.trustDeviceBoundaries).Run()
	if candidates.Len() == 0 {
		return nil
	}

	hashCache, err := cache.Open(opts.cacheFile)
	if err != nil {
		return fmt.Errorf("open cache: %w", err)
	}
	defer func() { _ = hashCache.Close() }()

	duplicates, err := runShredder(files, candidates, &opts.shredOptions, opts.workers, hashCache, showProgress)
	if err != nil {
		return err
	}

	if opts.jsonOutput {
		return report.WriteJSON(os.Stdout, duplicates)
	}
	report.WriteText(os.Stdout, duplicates)
	return nil
}
