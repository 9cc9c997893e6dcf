package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
	"github.com/signalnine/sirun/internal/result"
	"github.com/signalnine/sirun/internal/summary"
)

// Formats accepted by Write.
var Formats = []string{"json", "table", "markdown"}

// Generate summarizes every document log below runDir and renders it.
func Generate(runDir, format string, w io.Writer) error {
	s := summary.New()
	if err := CollectRunDir(runDir, s); err != nil {
		return err
	}
	LogSkipped(s)
	return Write(s.Entries(), format, w)
}

// LogSkipped reports how many input lines s could not use.
func LogSkipped(s *summary.Summarizer) {
	grip.InfoWhen(s.Skipped() > 0, message.Fields{
		"message": "skipped malformed input lines",
		"skipped": s.Skipped(),
	})
}

// CollectRunDir feeds every document log found below runDir to s.
func CollectRunDir(runDir string, s *summary.Summarizer) error {
	logs, err := result.FindDocumentLogs(runDir)
	if err != nil {
		return err
	}
	for _, path := range logs {
		if err := collectFile(path, s); err != nil {
			return err
		}
	}
	return nil
}

func collectFile(path string, s *summary.Summarizer) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "opening document log")
	}
	defer f.Close()
	return errors.Wrapf(s.Read(f), "reading %s", path)
}

// Write renders entries in the given format.
func Write(entries []summary.Entry, format string, w io.Writer) error {
	switch format {
	case "markdown":
		return writeMarkdown(entries, w)
	case "table":
		return writeTable(entries, w)
	case "json", "":
		return writeJSON(entries, w)
	default:
		return errors.Errorf("unknown format %q (want one of %s)", format, strings.Join(Formats, ", "))
	}
}

type row struct {
	name, variant, metric string
	st                    summary.Stats
}

func rows(entries []summary.Entry) []row {
	var out []row
	for _, e := range entries {
		metrics := make([]string, 0, len(e.Metrics))
		for m := range e.Metrics {
			metrics = append(metrics, m)
		}
		sort.Strings(metrics)
		for _, m := range metrics {
			out = append(out, row{name: e.Name, variant: e.Variant, metric: m, st: e.Metrics[m]})
		}
	}
	return out
}

func pct(st summary.Stats) string {
	if st.StdDevPct == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f%%", *st.StdDevPct)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func writeTable(entries []summary.Entry, w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tVARIANT\tMETRIC\tCOUNT\tMEAN\tSTDDEV\tSTDDEV %\tMIN\tMAX")
	fmt.Fprintln(tw, strings.Repeat("-", 100))
	for _, r := range rows(entries) {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%.3f\t%.3f\t%s\t%.3f\t%.3f\n",
			orDash(r.name), orDash(r.variant), r.metric, r.st.Count, r.st.Mean, r.st.StdDev, pct(r.st), r.st.Min, r.st.Max)
	}
	return tw.Flush()
}

func writeMarkdown(entries []summary.Entry, w io.Writer) error {
	fmt.Fprintln(w, "| Name | Variant | Metric | Count | Mean | Stddev | Stddev % | Min | Max |")
	fmt.Fprintln(w, "|---|---|---|---|---|---|---|---|---|")
	for _, r := range rows(entries) {
		fmt.Fprintf(w, "| %s | %s | %s | %d | %.3f | %.3f | %s | %.3f | %.3f |\n",
			orDash(r.name), orDash(r.variant), r.metric, r.st.Count, r.st.Mean, r.st.StdDev, pct(r.st), r.st.Min, r.st.Max)
	}
	return nil
}

func writeJSON(entries []summary.Entry, w io.Writer) error {
	if entries == nil {
		entries = []summary.Entry{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(entries)
}
