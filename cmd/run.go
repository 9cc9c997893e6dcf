package cmd

import (
	"context"
	"io"

	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/signalnine/sirun/internal/config"
	"github.com/signalnine/sirun/internal/export"
	"github.com/signalnine/sirun/internal/result"
	"github.com/signalnine/sirun/internal/runner"
	"github.com/spf13/cobra"
)

var (
	flagResultsDir  string
	flagPushgateway string
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <config>",
		Short: "Execute a benchmark file",
		Args:  cobra.ExactArgs(1),
		RunE:  runBenchmark,
	}
	addRunFlags(cmd)
	return cmd
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&flagResultsDir, "results-dir", "", "also append documents to DIR/runs/<timestamp>/"+result.FileName)
	cmd.Flags().StringVar(&flagPushgateway, "pushgateway", "", "push per-run statistics to this Prometheus pushgateway URL")
}

func runBenchmark(cmd *cobra.Command, args []string) error {
	file, err := config.Load(args[0])
	if err != nil {
		return err
	}
	plans, err := file.Expand(settings.Overrides())
	if err != nil {
		return err
	}

	r := runner.New(settings)
	r.Stdout = cmd.OutOrStdout()
	r.Stderr = cmd.ErrOrStderr()

	sink := &documentSink{out: cmd.OutOrStdout()}
	if flagResultsDir != "" {
		sink.runDir, err = result.CreateRunDir(flagResultsDir)
		if err != nil {
			return err
		}
		grip.Info(message.Fields{"message": "writing results", "run_dir": sink.runDir})
	}
	if flagPushgateway != "" {
		sink.pusher = export.NewPusher(flagPushgateway)
	}

	ctx := cmd.Context()
	return r.RunAll(ctx, plans, func(doc *result.Document) error {
		return sink.emit(ctx, doc)
	})
}

// documentSink fans a finished document out to every configured output.
// Standard output is authoritative; the other outputs only log failures.
type documentSink struct {
	out    io.Writer
	runDir string
	pusher *export.Pusher
}

func (s *documentSink) emit(ctx context.Context, doc *result.Document) error {
	if err := result.WriteDocument(s.out, doc); err != nil {
		return err
	}
	if s.runDir != "" {
		grip.Error(message.WrapError(result.AppendDocument(s.runDir, doc), message.Fields{
			"message": "storing document",
			"run_dir": s.runDir,
		}))
	}
	if s.pusher != nil {
		grip.Error(message.WrapError(s.pusher.Push(ctx, doc), message.Fields{
			"message": "pushing document",
			"variant": doc.Variant,
		}))
	}
	return nil
}
