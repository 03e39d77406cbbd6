package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

type runsOptions struct {
	configPath string
}

func newRunsCmd(logger *zerolog.Logger) *cobra.Command {
	opts := &runsOptions{}

	cmd := &cobra.Command{
		Use:   "runs <pipeline-name>",
		Short: "List run history recorded by a configured run registry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRuns(cmd, logger, args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.configPath, "config", "", "Path to a checkpointedctl YAML config naming a registry driver/DSN")
	_ = cmd.MarkFlagRequired("config")

	return cmd
}

func runRuns(cmd *cobra.Command, logger *zerolog.Logger, pipelineName string, opts *runsOptions) error {
	cfg, err := LoadConfig(opts.configPath)
	if err != nil {
		return err
	}

	reg, err := cfg.OpenRegistry()
	if err != nil {
		return fmt.Errorf("open registry: %w", err)
	}
	if reg == nil {
		return fmt.Errorf("config %s declares no registry", opts.configPath)
	}
	defer func() {
		if err := reg.Close(); err != nil {
			logger.Warn().Err(err).Msg("failed to close registry")
		}
	}()

	runs, err := reg.Runs(pipelineName)
	if err != nil {
		return fmt.Errorf("list runs for %q: %w", pipelineName, err)
	}
	if len(runs) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "no recorded runs for %q\n", pipelineName)
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RUN ID\tSTARTED\tCOMPLETED\tMATCHED/TOTAL\tERROR")
	for _, r := range runs {
		completed := "(in progress)"
		if !r.CompletedAt.IsZero() {
			completed = r.CompletedAt.Format("2006-01-02T15:04:05Z07:00")
		}
		errStr := r.Err
		if errStr == "" {
			errStr = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%s\n",
			r.RunID,
			r.StartedAt.Format("2006-01-02T15:04:05Z07:00"),
			completed,
			r.MatchedCount, r.TotalCount,
			errStr,
		)
	}
	return w.Flush()
}
