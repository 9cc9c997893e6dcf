package summary_test

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/signalnine/sirun/internal/result"
	"github.com/signalnine/sirun/internal/summary"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeThreeSamples(t *testing.T) {
	st := summary.Compute([]float64{30, 10, 20})
	assert.Equal(t, 3, st.Count)
	assert.InDelta(t, 20, st.Mean, 1e-12)
	assert.InDelta(t, 8.1649658, st.StdDev, 1e-6)
	assert.Equal(t, 10.0, st.Min)
	assert.Equal(t, 30.0, st.Max)
	assert.Equal(t, 20.0, st.Median)
	require.NotNil(t, st.StdDevPct)
	assert.InDelta(t, 40.824829, *st.StdDevPct, 1e-5)
}

func TestComputeZeroMean(t *testing.T) {
	st := summary.Compute([]float64{-1, 1})
	assert.Zero(t, st.Mean)
	assert.Nil(t, st.StdDevPct)
	assert.InDelta(t, 1, st.StdDev, 1e-12)
}

func TestSummarizeExample(t *testing.T) {
	s := summary.New()
	s.Add(&result.Document{
		Name:       "t",
		Iterations: []result.Iteration{{"m": 10}, {"m": 20}, {"m": 30}},
	})
	entries := s.Entries()
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, "t", e.Name)
	assert.Equal(t, "", e.Variant)
	st := e.Metrics["m"]
	assert.Equal(t, 3, st.Count)
	assert.InDelta(t, 20, st.Mean, 1e-12)
	assert.InDelta(t, 8.16, st.StdDev, 0.01)
	assert.Equal(t, 10.0, st.Min)
	assert.Equal(t, 30.0, st.Max)
}

func TestHeterogeneousMetrics(t *testing.T) {
	s := summary.New()
	s.Add(&result.Document{Name: "t", Iterations: []result.Iteration{{"a": 1, "b": 5}, {"a": 3}}})
	s.Add(&result.Document{Name: "t", Version: "v2", Iterations: []result.Iteration{{"b": 7, "c": 1}}})
	s.Add(&result.Document{Name: "t", Version: "v1", Iterations: []result.Iteration{}})

	entries := s.Entries()
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, 3, e.Documents)
	assert.Equal(t, []string{"v1", "v2"}, e.Versions)
	assert.Equal(t, 2, e.Metrics["a"].Count)
	assert.Equal(t, 2.0, e.Metrics["a"].Mean)
	assert.Equal(t, 2, e.Metrics["b"].Count)
	assert.Equal(t, 6.0, e.Metrics["b"].Mean)
	assert.Equal(t, 1, e.Metrics["c"].Count)
	assert.Zero(t, e.Metrics["c"].StdDev)
}

func TestEntriesSortedByNameAndVariant(t *testing.T) {
	s := summary.New()
	for _, k := range [][2]string{{"b", "1"}, {"a", "z"}, {"b", "0"}, {"a", ""}} {
		s.Add(&result.Document{Name: k[0], Variant: k[1], Iterations: []result.Iteration{{"m": 1}}})
	}
	var got []string
	for _, e := range s.Entries() {
		got = append(got, e.Name+"/"+e.Variant)
	}
	assert.Equal(t, []string{"a/", "a/z", "b/0", "b/1"}, got)
}

func TestOrderIndependence(t *testing.T) {
	var docs []*result.Document
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 20; i++ {
		doc := &result.Document{Name: "bench", Variant: []string{"x", "y"}[i%2]}
		for j := 0; j < 5; j++ {
			doc.Iterations = append(doc.Iterations, result.Iteration{
				"wall.time": rng.Float64() * 1e6,
				"user.time": rng.Float64() * 1e5,
			})
		}
		docs = append(docs, doc)
	}

	forward := summary.New()
	for _, d := range docs {
		forward.Add(d)
	}
	shuffled := summary.New()
	for _, i := range rng.Perm(len(docs)) {
		shuffled.Add(docs[i])
	}
	assert.Equal(t, forward.Entries(), shuffled.Entries())
}

func TestInstructionsFolded(t *testing.T) {
	n := 1500.0
	s := summary.New()
	s.Add(&result.Document{Name: "t", Instructions: &n, Iterations: []result.Iteration{{"m": 1}}})
	st := s.Entries()[0].Metrics["instructions"]
	assert.Equal(t, 1, st.Count)
	assert.Equal(t, 1500.0, st.Mean)
}

func TestReadSkipsMalformedLines(t *testing.T) {
	in := strings.Join([]string{
		`{"name":"t","iterations":[{"m":10}]}`,
		`{broken`,
		`{"name":"t","iterations":[{"m":20}]}`,
		`{"name":"t","iterations":[{"m":30}]}`,
	}, "\n") + "\n"

	s := summary.New()
	require.NoError(t, s.Read(strings.NewReader(in)))
	assert.Equal(t, 1, s.Skipped())
	entries := s.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, 3, entries[0].Documents)
	assert.InDelta(t, 20, entries[0].Metrics["m"].Mean, 1e-12)
}

func TestReadNumericVariant(t *testing.T) {
	s := summary.New()
	require.NoError(t, s.Read(strings.NewReader(`{"name":"t","variant":0,"iterations":[{"m":5}]}`+"\n")))
	assert.Zero(t, s.Skipped())
	entries := s.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "0", entries[0].Variant)
	assert.Equal(t, 1, entries[0].Metrics["m"].Count)
}
