package main

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

type rootFlags struct {
	logLevel string
}

func newRootCmd(logger *zerolog.Logger) *cobra.Command {
	flags := &rootFlags{logLevel: "info"}

	cmd := &cobra.Command{
		Use:           "checkpointedctl",
		Short:         "Inspect and maintain on-disk checkpoint stores",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			lvl, err := zerolog.ParseLevel(flags.logLevel)
			if err != nil {
				return err
			}
			*logger = logger.Level(lvl)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	cmd.AddCommand(newInspectCmd(logger))
	cmd.AddCommand(newGCCmd(logger))
	cmd.AddCommand(newRunsCmd(logger))

	return cmd
}
