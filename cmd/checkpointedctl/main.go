// Command checkpointedctl is a debugging and maintenance companion for
// pipelines built with this module. It has no way to run a pipeline itself
// (there is no dynamic step-loading mechanism outside of linking Go code
// against the library), so its subcommands work on what previous program
// runs left behind: inspecting the persisted checkpoint graph of a
// checkpoint root, pruning stranded temp entries left by a crash
// mid-remap, and listing run history from the registry a YAML config
// names.
package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
)

func main() {
	logger := newLogger(os.Stderr, "info")

	root := newRootCmd(&logger)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger(w *os.File, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}).
		Level(lvl).
		With().Timestamp().Logger()
}
