package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/opentribeam/tribeam/pkg/instrument"
	"github.com/opentribeam/tribeam/pkg/plan"
	"github.com/opentribeam/tribeam/pkg/settings"
)

func newInfoCommand(version, commit, buildDate string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info",
		Short: "Show version and compatibility information",
		Long: `Show engine version, supported plan file versions, available preset image
resolutions, and the simulator's instrument API version.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			apiVersion := simAPIVersion(cmd.Context())

			if jsonOutput {
				report := struct {
					Version        string   `json:"version"`
					Commit         string   `json:"commit"`
					BuildDate      string   `json:"build_date"`
					MinPlanVersion string   `json:"min_plan_version"`
					MaxPlanVersion string   `json:"max_plan_version"`
					InstrumentAPI  string   `json:"instrument_api"`
					PresetKeys     []string `json:"preset_resolutions"`
				}{
					Version:        version,
					Commit:         commit,
					BuildDate:      buildDate,
					MinPlanVersion: fmt.Sprintf("%.1f", plan.MinSupportedVersion),
					MaxPlanVersion: fmt.Sprintf("%.1f", plan.MaxSupportedVersion),
					InstrumentAPI:  apiVersion,
					PresetKeys:     settings.PresetKeys(),
				}
				raw, err := json.MarshalIndent(report, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(os.Stdout, string(raw))
				return nil
			}

			fmt.Printf("tribeam %s (commit: %s, built: %s)\n", version, commit, buildDate)
			fmt.Printf("plan file versions: %.1f to %.1f\n", plan.MinSupportedVersion, plan.MaxSupportedVersion)
			fmt.Printf("instrument API: %s\n", apiVersion)
			fmt.Printf("preset resolutions: %s\n", strings.Join(settings.PresetKeys(), ", "))
			return nil
		},
	}

	return cmd
}

func simAPIVersion(ctx context.Context) string {
	drv := instrument.NewSimDriver()
	if err := drv.Connect(ctx, "localhost", 0); err != nil {
		return "unavailable"
	}
	defer drv.Disconnect(ctx)
	version, err := drv.APIVersion(ctx)
	if err != nil {
		return "unavailable"
	}
	return version
}
