package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/opentribeam/tribeam/pkg/engine"
	"github.com/opentribeam/tribeam/pkg/instrument"
	"github.com/opentribeam/tribeam/pkg/plan"
	"github.com/opentribeam/tribeam/pkg/session"
	"github.com/opentribeam/tribeam/pkg/stores"
	"github.com/opentribeam/tribeam/pkg/telemetry"
)

func newRunCommand() *cobra.Command {
	var (
		resume     bool
		startSlice int
		startStep  string
		assumeYes  bool
		simulate   bool
		dbPath     string
		maxRetries int
	)

	cmd := &cobra.Command{
		Use:   "run <plan.yml>",
		Short: "Run an experiment plan",
		Long: `Execute an experiment plan against the microscope, slice by slice.

The engine checkpoints progress after every step; an interrupted run is
continued with --resume. Dropping a file named "pause" into the
experiment directory pauses the run at the next step boundary.`,
		Example: `  # Run a plan from the beginning
  tribeam run experiment.yml

  # Continue an interrupted run from its checkpoint
  tribeam run experiment.yml --resume

  # Start at a specific slice and step
  tribeam run experiment.yml --start-slice 12 --start-step mill_pattern

  # Unattended run with history recording
  tribeam run experiment.yml --yes --db runs.db`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			planPath := args[0]
			ctx := cmd.Context()

			p, err := plan.NewLoader().Load(ctx, planPath)
			if err != nil {
				return fmt.Errorf("loading plan: %w", err)
			}

			log.Info().
				Str("plan", planPath).
				Int("first_slice", p.General.FirstSlice).
				Int("last_slice", p.General.LastSlice).
				Int("steps", len(p.Steps)).
				Bool("resume", resume).
				Msg("Starting run")

			if !simulate {
				return fmt.Errorf("no hardware driver in this build, rerun with --simulate")
			}

			tel, err := telemetry.NewTelemetry(telemetryConfig())
			if err != nil {
				return fmt.Errorf("initializing telemetry: %w", err)
			}
			defer func() {
				if err := tel.Shutdown(ctx); err != nil {
					log.Warn().Err(err).Msg("Telemetry shutdown failed")
				}
			}()

			opts := session.Options{
				PlanPath:   planPath,
				Driver:     instrument.NewSimDriver(),
				Resume:     resume,
				StartSlice: startSlice,
				StartStep:  startStep,
				Telemetry:  tel,
			}
			if assumeYes {
				opts.Confirm = session.AutoConfirm{}
			}
			if cmd.Flags().Changed("max-retries") {
				policy := engine.DefaultRetryPolicy()
				policy.MaxRetries = maxRetries
				opts.Policy = &policy
			}

			if dbPath != "" {
				history, err := stores.NewSQLiteStore(stores.Config{Path: dbPath})
				if err != nil {
					return fmt.Errorf("opening run history: %w", err)
				}
				if err := history.Init(ctx); err != nil {
					return fmt.Errorf("initializing run history: %w", err)
				}
				defer history.Close()
				if err := history.Migrate(ctx); err != nil {
					return fmt.Errorf("migrating run history: %w", err)
				}
				opts.Store = history
			}

			sess, err := session.New(p, opts)
			if err != nil {
				return err
			}

			summary, runErr := sess.Run(ctx)
			printSummary(summary)
			return runErr
		},
	}

	cmd.Flags().BoolVar(&resume, "resume", false, "continue from the checkpoint in the experiment directory")
	cmd.Flags().IntVar(&startSlice, "start-slice", 0, "start at this slice instead of the plan's first")
	cmd.Flags().StringVar(&startStep, "start-step", "", "start at this step within the start slice")
	cmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "answer yes to all prompts")
	cmd.Flags().BoolVar(&simulate, "simulate", true, "run against the built-in instrument simulator")
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite run history database path")
	cmd.Flags().IntVar(&maxRetries, "max-retries", engine.DefaultRetryPolicy().MaxRetries, "retry budget per step")

	return cmd
}

func telemetryConfig() *telemetry.Config {
	cfg := telemetry.DefaultConfig()
	if verbose {
		cfg.Logging.Level = "debug"
	}
	return cfg
}

func printSummary(summary session.Summary) {
	if jsonOutput {
		raw, err := json.MarshalIndent(summary, "", "  ")
		if err == nil {
			fmt.Fprintln(os.Stdout, string(raw))
			return
		}
	}
	fmt.Printf("run %s: %s (%d slices, %d steps)\n",
		summary.RunID, summary.Status, summary.SlicesCompleted, summary.StepsCompleted)
}
