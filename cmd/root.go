package cmd

import (
	"context"
	"os"

	"github.com/pkg/errors"
	"github.com/signalnine/sirun/internal/env"
	"github.com/signalnine/sirun/internal/logging"
	"github.com/signalnine/sirun/internal/runner"
	"github.com/spf13/cobra"
)

// Process exit codes.
const (
	ExitOK          = 0
	ExitFailure     = 1
	ExitTimeout     = 124
	ExitInterrupted = 130
)

var (
	settings      *env.Settings
	flagSummarize bool
)

func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "sirun <config>",
		Short: "Measure the resource usage of a program across iterations and variants",
		Long: `sirun runs the command described by a JSON or YAML benchmark file, measures
CPU time, memory and any statsd metrics it reports, and prints one JSON
document per variant on standard output.

With --summarize it instead reads such documents from standard input and
prints summary statistics.`,
		Args:              cobra.MaximumNArgs(1),
		SilenceUsage:      true,
		PersistentPreRunE: loadSettings,
		RunE: func(cmd *cobra.Command, args []string) error {
			if flagSummarize {
				return summarize(cmd, nil, "json")
			}
			if len(args) == 0 {
				return cmd.Help()
			}
			return runBenchmark(cmd, args)
		},
	}
	env.RegisterFlags(root.PersistentFlags())
	root.Flags().BoolVar(&flagSummarize, "summarize", false, "summarize result documents read from standard input")
	addRunFlags(root)
	root.AddCommand(newRunCmd())
	root.AddCommand(newSummarizeCmd())
	root.AddCommand(newVariantsCmd())
	return root
}

func loadSettings(cmd *cobra.Command, _ []string) error {
	s, err := env.Load(cmd.Flags())
	if err != nil {
		return err
	}
	if err := logging.Setup(s.LogLevel); err != nil {
		return err
	}
	settings = s
	return nil
}

// ExitCode maps the error returned by the root command to a process exit
// status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, runner.ErrTimeout):
		return ExitTimeout
	case errors.Is(err, context.Canceled):
		return ExitInterrupted
	default:
		return ExitFailure
	}
}

// Execute runs the root command under ctx and returns the exit code.
func Execute(ctx context.Context) int {
	root := NewRootCmd()
	root.SetErr(os.Stderr)
	return ExitCode(root.ExecuteContext(ctx))
}
