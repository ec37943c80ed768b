package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/opentribeam/tribeam/pkg/plan"
)

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <plan.yml>",
		Short: "Validate an experiment plan",
		Long: `Validate an experiment plan without touching the instrument.

This command checks:
  - YAML syntax and plan file version
  - Structural validity and step payload schemas
  - Settings envelopes (beam, detector, scan, stage)
  - Cross-field rules (ion beams reject angular corrections,
    FIB imaging uses the ion beam, analysis uses the electron beam)`,
		Example: `  # Validate a plan
  tribeam validate experiment.yml

  # Machine-readable report
  tribeam validate --json experiment.yml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			planPath := args[0]

			p, err := plan.NewLoader().Load(cmd.Context(), planPath)
			if err != nil {
				return fmt.Errorf("plan %s is invalid: %w", planPath, err)
			}

			log.Info().
				Str("plan", planPath).
				Str("hash", p.Hash).
				Msg("Plan is valid")

			if jsonOutput {
				report := struct {
					Plan   string `json:"plan"`
					Hash   string `json:"hash"`
					Slices int    `json:"slices"`
					Steps  int    `json:"steps"`
				}{
					Plan:   planPath,
					Hash:   p.Hash,
					Slices: p.General.LastSlice - p.General.FirstSlice + 1,
					Steps:  len(p.Steps),
				}
				raw, err := json.MarshalIndent(report, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(os.Stdout, string(raw))
				return nil
			}

			fmt.Printf("%s: valid (%d slices, %d steps)\n",
				planPath, p.General.LastSlice-p.General.FirstSlice+1, len(p.Steps))
			for i, step := range p.Steps {
				fmt.Printf("  %d. %s (%s, every %d slice(s))\n", i+1, step.Name, step.Kind, step.Frequency)
			}
			return nil
		},
	}

	return cmd
}
