package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "tribeam",
		Short: "TriBeam - Serial Sectioning Experiment Engine",
		Long: `TriBeam orchestrates automated serial sectioning experiments on a
dual-beam (electron/ion) microscope: imaging, FIB milling, EDS/EBSD
mapping, and external collaborator steps, slice after slice.

Features:
  - Declarative YAML experiment plans validated against CUE schemas
  - Verified settings application with readback tolerances
  - Crash-safe resume from an atomic checkpoint
  - Operator pause at step boundaries via a sentinel file
  - SQLite run history with per-slice step results`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newInfoCommand(version, commit, buildDate))
	rootCmd.AddCommand(newGuiCommand())

	return rootCmd
}
