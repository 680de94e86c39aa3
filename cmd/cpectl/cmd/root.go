// Package cmd provides the CLI commands for cpectl.
package cmd

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/cpe/internal/cerr"
	"github.com/Aman-CERP/cpe/internal/logging"
	"github.com/Aman-CERP/cpe/internal/profiling"
	"github.com/Aman-CERP/cpe/pkg/version"
)

var (
	profileCPU   string
	profileMem   string
	profileTrace string
	profiler     = profiling.NewProfiler()
	cpuCleanup   func()
	traceCleanup func()

	debugMode      bool
	loggingCleanup func()
)

// NewRootCmd creates the root command for the cpectl CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "cpectl",
		Short: "Context packet engine: build, publish, fetch, and query versioned code-context packets",
		Long: `cpectl turns a source tree into a versioned, content-addressed context
packet (chunked code, BM25 + vector indexes) and serves trust-verified,
policy-gated hybrid retrieval over it.

Run 'cpectl build' to produce a packet from the current directory, then
'cpectl query "<question>"' to retrieve and compile a context package.`,
		Version:           version.Version,
		SilenceErrors:     true,
		SilenceUsage:      true,
		PersistentPreRunE: startProfilingAndLogging,
		PersistentPostRunE: func(c *cobra.Command, args []string) error {
			stopProfilingAndLogging()
			return nil
		},
	}

	root.SetVersionTemplate("cpectl version {{.Version}}\n")

	root.PersistentFlags().StringVar(&profileCPU, "profile-cpu", "", "Write CPU profile to file")
	root.PersistentFlags().StringVar(&profileMem, "profile-mem", "", "Write memory profile to file")
	root.PersistentFlags().StringVar(&profileTrace, "profile-trace", "", "Write execution trace to file")
	root.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to ~/.cpe/logs/")

	root.AddCommand(newBuildCmd())
	root.AddCommand(newQueryCmd())
	root.AddCommand(newPublishCmd())
	root.AddCommand(newFetchCmd())
	root.AddCommand(newDiffCmd())
	root.AddCommand(newReplayCmd())
	root.AddCommand(newDoctorCmd())
	root.AddCommand(newDevCmd())
	root.AddCommand(newHistoryCmd())
	root.AddCommand(newConfigCmd())
	root.AddCommand(newVersionCmd())

	return root
}

func startProfilingAndLogging(_ *cobra.Command, _ []string) error {
	if debugMode {
		logger, cleanup, err := logging.Setup(logging.DebugConfig())
		if err != nil {
			return fmt.Errorf("cpectl: setting up debug logging: %w", err)
		}
		loggingCleanup = cleanup
		slog.SetDefault(logger)
		slog.Info("debug logging enabled", slog.String("log_file", logging.DefaultLogPath()))
	}

	var err error
	if profileCPU != "" {
		cpuCleanup, err = profiler.StartCPU(profileCPU)
		if err != nil {
			return fmt.Errorf("cpectl: starting cpu profile: %w", err)
		}
	}
	if profileTrace != "" {
		traceCleanup, err = profiler.StartTrace(profileTrace)
		if err != nil {
			if cpuCleanup != nil {
				cpuCleanup()
			}
			return fmt.Errorf("cpectl: starting trace: %w", err)
		}
	}
	return nil
}

func stopProfilingAndLogging() {
	if cpuCleanup != nil {
		cpuCleanup()
		cpuCleanup = nil
	}
	if traceCleanup != nil {
		traceCleanup()
		traceCleanup = nil
	}
	if profileMem != "" {
		_ = profiler.WriteHeap(profileMem)
	}
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
}

// Execute runs the root command, returning any error so the caller can pick
// an exit code via ExitCodeFor.
func Execute() error {
	root := NewRootCmd()
	err := root.Execute()
	if err != nil {
		fmt.Fprintln(root.ErrOrStderr(), cerr.FormatForCLI(err))
	}
	return err
}

// ExitCodeFor maps err to a process exit code via internal/cerr.ExitCode.
// This is the one cmd/ boundary point that translates a typed engine
// error into a process exit status.
func ExitCodeFor(err error) int {
	if err == nil {
		return 0
	}
	var ce *cerr.Error
	if errors.As(err, &ce) {
		return cerr.ExitCode(ce.Kind)
	}
	return cerr.ExitCode(cerr.KindInternal)
}

// Main runs the CLI end to end and returns the process exit code.
func Main() int {
	err := Execute()
	return ExitCodeFor(err)
}
