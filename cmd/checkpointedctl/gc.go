package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

type gcOptions struct {
	dryRun bool
}

func newGCCmd(logger *zerolog.Logger) *cobra.Command {
	opts := &gcOptions{}

	cmd := &cobra.Command{
		Use:   "gc <checkpoint-root> <pipeline-name>",
		Short: "Remove stranded _temp entries left by a crash mid-remap",
		Long: "A crash between the two rename phases of a checkpoint remap\n" +
			"leaves *_temp data directories or metadata files behind. A store\n" +
			"opened normally resolves these itself on the next run; gc is a\n" +
			"standalone escape hatch for inspecting or cleaning a checkpoint\n" +
			"root without running the pipeline that owns it.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGC(cmd, logger, args[0], args[1], opts)
		},
	}

	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "List stranded entries without removing them")

	return cmd
}

func runGC(cmd *cobra.Command, logger *zerolog.Logger, checkpointRoot, pipelineName string, opts *gcOptions) error {
	root := filepath.Join(checkpointRoot, pipelineName)

	var removed int
	for _, dir := range []string{filepath.Join(root, "metadata"), filepath.Join(root, "data")} {
		entries, err := os.ReadDir(dir)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return fmt.Errorf("scan %s: %w", dir, err)
		}

		for _, e := range entries {
			if !isStrandedTemp(e.Name()) {
				continue
			}
			path := filepath.Join(dir, e.Name())
			if opts.dryRun {
				fmt.Fprintf(cmd.OutOrStdout(), "would remove %s\n", path)
				continue
			}
			logger.Info().Str("path", path).Msg("removing stranded temp entry")
			if err := os.RemoveAll(path); err != nil {
				return fmt.Errorf("remove %s: %w", path, err)
			}
			removed++
		}
	}

	if !opts.dryRun {
		fmt.Fprintf(cmd.OutOrStdout(), "removed %d stranded entries\n", removed)
	}
	return nil
}

// isStrandedTemp mirrors the suffixes pipeline/store's own crash-recovery
// scan treats as stranded: a "*_temp" data directory or "*_temp.json"
// metadata file.
func isStrandedTemp(name string) bool {
	return strings.HasSuffix(name, "_temp") || strings.HasSuffix(name, "_temp.json")
}
