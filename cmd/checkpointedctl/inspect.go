package main

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"text/tabwriter"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/gml4tdm/checkpointed-go/pipeline"
)

type inspectOptions struct {
	jsonOutput bool
}

func newInspectCmd(logger *zerolog.Logger) *cobra.Command {
	opts := &inspectOptions{}

	cmd := &cobra.Command{
		Use:   "inspect <checkpoint-root> <pipeline-name>",
		Short: "Print the checkpoint graph persisted for a pipeline",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(cmd, logger, args[0], args[1], opts)
		},
	}

	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Print the raw checkpoint graph as JSON")

	return cmd
}

func runInspect(cmd *cobra.Command, logger *zerolog.Logger, checkpointRoot, pipelineName string, opts *inspectOptions) error {
	metadataDir := filepath.Join(checkpointRoot, pipelineName, "metadata")

	graph, err := pipeline.LoadCheckpointGraph(metadataDir)
	if err != nil {
		return fmt.Errorf("load checkpoint graph: %w", err)
	}
	if graph == nil {
		logger.Info().Str("pipeline", pipelineName).Msg("no checkpoint graph found; this pipeline has never run here")
		fmt.Fprintf(cmd.OutOrStdout(), "no checkpoint graph found for %q under %s\n", pipelineName, checkpointRoot)
		return nil
	}

	if opts.jsonOutput {
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(graph)
	}

	return renderGraphTable(cmd, graph)
}

func renderGraphTable(cmd *cobra.Command, graph *pipeline.CheckpointGraph) error {
	nodes := append([]pipeline.CheckpointNode(nil), graph.Nodes...)
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Handle < nodes[j].Handle })

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "HANDLE\tNAME\tTYPE\tINPUT\tOUTPUT")
	for _, n := range nodes {
		fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%v\n", n.Handle, n.Name, n.TypeID, n.IsInput, n.IsOutput)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), "\nEDGES")
	ew := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(ew, "SOURCE\tTARGET\tLABEL")
	for _, e := range graph.Edges {
		fmt.Fprintf(ew, "%s\t%s\t%s\n", e.Source, e.Target, e.Label)
	}
	return ew.Flush()
}
