package commands

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newGuiCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gui [plan.yml]",
		Short: "Launch the experiment GUI",
		Long: `Launch the graphical experiment builder if it is installed.

The GUI ships as a separate tribeam-gui binary; this command locates it
on PATH and hands over the optional plan path.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			binary, err := exec.LookPath("tribeam-gui")
			if err != nil {
				return fmt.Errorf("tribeam-gui is not installed or not on PATH")
			}

			log.Info().Str("binary", binary).Msg("Launching GUI")

			gui := exec.CommandContext(cmd.Context(), binary, args...)
			gui.Stdin = os.Stdin
			gui.Stdout = os.Stdout
			gui.Stderr = os.Stderr
			return gui.Run()
		},
	}

	return cmd
}
