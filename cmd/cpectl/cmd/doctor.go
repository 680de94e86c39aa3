package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/cpe/internal/cerr"
	"github.com/Aman-CERP/cpe/internal/config"
	"github.com/Aman-CERP/cpe/internal/preflight"
)

func newDoctorCmd() *cobra.Command {
	var (
		verbose    bool
		jsonOutput bool
		offline    bool
	)

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the external interfaces cpectl depends on",
		Long: `Doctor probes, pass/fail, the external interfaces named for this
engine: disk space, memory, write permissions, file descriptor
limits, and embedder reachability. It never attempts auto-repair.

Use --verbose for detailed diagnostic information.
Use --json for machine-readable output.`,
		Example: `  cpectl doctor
  cpectl doctor --verbose
  cpectl doctor --json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDoctor(cmd, verbose, jsonOutput, offline)
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show detailed diagnostic info")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&offline, "offline", false, "Skip checks that require reaching the embedder over HTTP")

	return cmd
}

func runDoctor(cmd *cobra.Command, verbose, jsonOutput, offline bool) error {
	ctx := cmd.Context()

	root, err := config.FindProjectRoot(".")
	if err != nil {
		root, _ = os.Getwd()
	}

	checker := preflight.New(
		preflight.WithOffline(offline),
		preflight.WithVerbose(verbose),
		preflight.WithOutput(cmd.OutOrStdout()),
	)

	results := checker.RunAll(ctx, root)

	if jsonOutput {
		if err := outputDoctorJSON(cmd, checker, results); err != nil {
			return cerr.Wrap(cerr.KindInternal, err)
		}
	} else {
		checker.PrintResults(results)

		dataDir := filepath.Join(root, ".cpe")
		if !preflight.NeedsCheck(dataDir) {
			if age := preflight.MarkerAge(dataDir); age > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "\nLast successful check: %s ago\n", age.Round(time.Second))
			}
		}
	}

	if checker.HasCriticalFailures(results) {
		return cerr.New(cerr.KindIoError, "system check failed", nil).WithSuggestion("run 'cpectl doctor --verbose' for details")
	}

	return nil
}

type doctorJSONOutput struct {
	Status   string               `json:"status"`
	Checks   []doctorJSONCheck    `json:"checks"`
	Warnings []string             `json:"warnings,omitempty"`
	Errors   []string             `json:"errors,omitempty"`
}

type doctorJSONCheck struct {
	Name     string `json:"name"`
	Status   string `json:"status"`
	Message  string `json:"message"`
	Required bool   `json:"required"`
	Details  string `json:"details,omitempty"`
}

func outputDoctorJSON(cmd *cobra.Command, checker *preflight.Checker, results []preflight.CheckResult) error {
	out := doctorJSONOutput{
		Status: checker.SummaryStatus(results),
		Checks: make([]doctorJSONCheck, len(results)),
	}

	for i, r := range results {
		out.Checks[i] = doctorJSONCheck{
			Name:     r.Name,
			Status:   r.Status.String(),
			Message:  r.Message,
			Required: r.Required,
			Details:  r.Details,
		}
		if r.IsCritical() {
			out.Errors = append(out.Errors, r.Name+": "+r.Message)
		} else if r.Status == preflight.StatusWarn {
			out.Warnings = append(out.Warnings, r.Name+": "+r.Message)
		}
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
