package cmd

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/signalnine/sirun/internal/report"
	"github.com/signalnine/sirun/internal/summary"
	"github.com/spf13/cobra"
)

var (
	flagFormat string
	flagRunDir string
)

func newSummarizeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "summarize [file...]",
		Short: "Summarize result documents",
		Long: `Reads newline-delimited result documents from the given files, from every
document log below --run-dir, or from standard input, and prints count,
mean, standard deviation, median, min and max for each metric of each
(name, variant) pair.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return summarize(cmd, args, flagFormat)
		},
	}
	cmd.Flags().StringVar(&flagFormat, "format", "json", "output format (json, table, markdown)")
	cmd.Flags().StringVar(&flagRunDir, "run-dir", "", "read every document log below this directory (e.g. results/latest)")
	return cmd
}

func summarize(cmd *cobra.Command, files []string, format string) error {
	if flagRunDir != "" && cmd.Name() == "summarize" {
		resolved, err := filepath.EvalSymlinks(flagRunDir)
		if err != nil {
			return errors.Wrap(err, "resolving run dir")
		}
		return report.Generate(resolved, format, cmd.OutOrStdout())
	}

	s := summary.New()
	if len(files) > 0 {
		for _, path := range files {
			if err := readFile(s, path); err != nil {
				return err
			}
		}
	} else if err := s.Read(cmd.InOrStdin()); err != nil {
		return err
	}
	report.LogSkipped(s)
	return report.Write(s.Entries(), format, cmd.OutOrStdout())
}

func readFile(s *summary.Summarizer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "opening results")
	}
	defer f.Close()
	return errors.Wrapf(s.Read(f), "reading %s", path)
}
