// Package summary folds result documents into per (name, variant)
// statistics.
package summary

import (
	"io"
	"sort"

	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/signalnine/sirun/internal/result"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Stats describes every observation of one metric under one key.
type Stats struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`
	// StdDevPct is the standard deviation relative to the mean, in
	// percent. Absent when the mean is zero.
	StdDevPct *float64 `json:"stddev_pct,omitempty"`
	Median    float64  `json:"median"`
	Min       float64  `json:"min"`
	Max       float64  `json:"max"`
}

// Entry is the summary of all documents sharing a name and variant.
type Entry struct {
	Name      string           `json:"name"`
	Variant   string           `json:"variant"`
	Documents int              `json:"documents"`
	Versions  []string         `json:"versions,omitempty"`
	Metrics   map[string]Stats `json:"metrics"`
}

type key struct {
	name, variant string
}

type bucket struct {
	documents int
	versions  map[string]struct{}
	samples   map[string][]float64
}

// Summarizer accumulates documents. The zero value is not usable; call
// New.
type Summarizer struct {
	buckets map[key]*bucket
	skipped int
}

func New() *Summarizer {
	return &Summarizer{buckets: map[key]*bucket{}}
}

// Add folds every iteration of doc into the entry for its name and
// variant. A metric missing from an iteration simply contributes nothing.
// The legacy top-level instruction count is folded as an instructions
// sample.
func (s *Summarizer) Add(doc *result.Document) {
	k := key{name: doc.Name, variant: doc.Variant}
	b, ok := s.buckets[k]
	if !ok {
		b = &bucket{versions: map[string]struct{}{}, samples: map[string][]float64{}}
		s.buckets[k] = b
	}
	b.documents++
	if doc.Version != "" {
		b.versions[doc.Version] = struct{}{}
	}
	for _, it := range doc.Iterations {
		for metric, v := range it {
			b.samples[metric] = append(b.samples[metric], v)
		}
	}
	if doc.Instructions != nil {
		b.samples["instructions"] = append(b.samples["instructions"], *doc.Instructions)
	}
}

// Read adds every document in a newline-delimited stream. Malformed lines
// are skipped.
func (s *Summarizer) Read(r io.Reader) error {
	return result.ReadDocuments(r, s.Add, func(line int, err error) {
		s.skipped++
		grip.Debug(message.WrapError(err, message.Fields{
			"message": "skipping malformed document",
			"line":    line,
		}))
	})
}

// Skipped is the number of input lines Read could not decode.
func (s *Summarizer) Skipped() int { return s.skipped }

// Entries computes the statistics, sorted by name and then variant. The
// result does not depend on the order documents were added in.
func (s *Summarizer) Entries() []Entry {
	entries := make([]Entry, 0, len(s.buckets))
	for k, b := range s.buckets {
		e := Entry{
			Name:      k.name,
			Variant:   k.variant,
			Documents: b.documents,
			Metrics:   make(map[string]Stats, len(b.samples)),
		}
		for v := range b.versions {
			e.Versions = append(e.Versions, v)
		}
		sort.Strings(e.Versions)
		for metric, samples := range b.samples {
			e.Metrics[metric] = Compute(samples)
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Name != entries[j].Name {
			return entries[i].Name < entries[j].Name
		}
		return entries[i].Variant < entries[j].Variant
	})
	return entries
}

// Compute returns the statistics of a non-empty sample set using the
// population standard deviation. samples is not modified.
func Compute(samples []float64) Stats {
	x := append([]float64(nil), samples...)
	// summing in sorted order keeps the floating point result independent
	// of arrival order
	sort.Float64s(x)
	mean, std := stat.PopMeanStdDev(x, nil)
	st := Stats{
		Count:  len(x),
		Mean:   mean,
		StdDev: std,
		Median: stat.Quantile(0.5, stat.Empirical, x, nil),
		Min:    floats.Min(x),
		Max:    floats.Max(x),
	}
	if mean != 0 {
		pct := 100 * std / mean
		st.StdDevPct = &pct
	}
	return st
}
