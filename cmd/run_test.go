package cmd_test

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/signalnine/sirun/cmd"
	"github.com/signalnine/sirun/internal/config"
	"github.com/signalnine/sirun/internal/result"
	"github.com/signalnine/sirun/internal/runner"
	"github.com/signalnine/sirun/internal/summary"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const variantsConfig = `
name: demo
run: "sh -c 'echo child output'"
iterations: 2
variants:
  first:
    env:
      X: "1"
  second:
    iterations: 1
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bench.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	for _, v := range []string{"SIRUN_NAME", "SIRUN_VARIANT", "SIRUN_NO_STDIO", "SIRUN_STATSD_PORT", "SIRUN_SKIP_SETUP", "GIT_COMMIT_HASH"} {
		t.Setenv(v, "")
	}
	var out, errOut bytes.Buffer
	root := cmd.NewRootCmd()
	root.SetArgs(args)
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetIn(strings.NewReader(stdin))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func decode(t *testing.T, out string) []result.Document {
	t.Helper()
	var docs []result.Document
	require.NoError(t, result.ReadDocuments(strings.NewReader(out), func(d *result.Document) {
		docs = append(docs, *d)
	}, func(line int, err error) {
		t.Errorf("line %d is not a document: %v", line, err)
	}))
	return docs
}

func TestRunAllVariants(t *testing.T) {
	path := writeConfig(t, variantsConfig)
	out, err := execute(t, "", "--no-stdio", path)
	require.NoError(t, err)

	docs := decode(t, out)
	require.Len(t, docs, 2)
	assert.Equal(t, "first", docs[0].Variant)
	assert.Len(t, docs[0].Iterations, 2)
	assert.Equal(t, "second", docs[1].Variant)
	assert.Len(t, docs[1].Iterations, 1)
	assert.Equal(t, "demo", docs[0].Name)
	assert.NotContains(t, out, "child output")
}

func TestRunSubcommandSelectsVariant(t *testing.T) {
	path := writeConfig(t, variantsConfig)
	out, err := execute(t, "", "run", "--no-stdio", "--variant", "second", "--name", "override", path)
	require.NoError(t, err)

	docs := decode(t, out)
	require.Len(t, docs, 1)
	assert.Equal(t, "second", docs[0].Variant)
	assert.Equal(t, "override", docs[0].Name)
}

func TestRunVariantFromEnvironment(t *testing.T) {
	path := writeConfig(t, variantsConfig)
	t.Setenv("SIRUN_VARIANT", "first")
	var out bytes.Buffer
	root := cmd.NewRootCmd()
	root.SetArgs([]string{"--no-stdio", path})
	root.SetOut(&out)
	require.NoError(t, root.Execute())
	docs := decode(t, out.String())
	require.Len(t, docs, 1)
	assert.Equal(t, "first", docs[0].Variant)
}

func TestRunUnknownVariant(t *testing.T) {
	path := writeConfig(t, variantsConfig)
	out, err := execute(t, "", "--variant", "third", path)
	var cfgErr *config.Error
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, err.Error(), "variant key third does not exist in object")
	assert.Empty(t, out)
	assert.Equal(t, cmd.ExitFailure, cmd.ExitCode(err))
}

func TestRunChildOutputGoesToStdout(t *testing.T) {
	path := writeConfig(t, "run: \"echo hello\"\n")
	out, err := execute(t, "", path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "hello\n"), out)
}

func TestRunTimeoutExitCode(t *testing.T) {
	path := writeConfig(t, "run: \"sleep 30\"\ntimeout: 0.2\n")
	out, err := execute(t, "", "--no-stdio", path)
	require.ErrorIs(t, err, runner.ErrTimeout)
	assert.Empty(t, out)
	assert.Equal(t, cmd.ExitTimeout, cmd.ExitCode(err))
}

func TestRunResultsDir(t *testing.T) {
	path := writeConfig(t, variantsConfig)
	dir := t.TempDir()
	out, err := execute(t, "", "--no-stdio", "--results-dir", dir, path)
	require.NoError(t, err)
	assert.Len(t, decode(t, out), 2)

	stored, err := os.ReadFile(filepath.Join(dir, "latest", result.FileName))
	require.NoError(t, err)
	assert.Equal(t, out, string(stored))
}

func TestSummarizeFlagReadsStdin(t *testing.T) {
	in := `{"name":"t","iterations":[{"m":10},{"m":20},{"m":30}]}` + "\nnot json\n"
	out, err := execute(t, in, "--summarize")
	require.NoError(t, err)

	var entries []summary.Entry
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 1)
	st := entries[0].Metrics["m"]
	assert.Equal(t, 3, st.Count)
	assert.InDelta(t, 8.16, st.StdDev, 0.01)
	assert.Contains(t, out, "\n  ", "summary is pretty printed")
}

func TestSummarizeRunDirTable(t *testing.T) {
	path := writeConfig(t, variantsConfig)
	dir := t.TempDir()
	_, err := execute(t, "", "--no-stdio", "--results-dir", dir, path)
	require.NoError(t, err)

	out, err := execute(t, "", "summarize", "--format", "table", "--run-dir", filepath.Join(dir, "latest"))
	require.NoError(t, err)
	assert.Contains(t, out, "VARIANT")
	assert.Contains(t, out, "first")
	assert.Contains(t, out, "wall.time")
}

func TestSummarizeFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.ndjson")
	require.NoError(t, os.WriteFile(path, []byte(`{"name":"a","variant":"0","iterations":[{"m":1}]}`+"\n"), 0o644))
	out, err := execute(t, "", "summarize", "--format", "markdown", path)
	require.NoError(t, err)
	assert.Contains(t, out, "| a | 0 | m | 1 |")
}

func TestVariantsCommand(t *testing.T) {
	path := writeConfig(t, variantsConfig)
	out, err := execute(t, "", "variants", path)
	require.NoError(t, err)
	assert.Equal(t, "first\nsecond\n", out)
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, cmd.ExitOK},
		{errors.New("boom"), cmd.ExitFailure},
		{errors.Wrap(runner.ErrTimeout, "iteration 2"), cmd.ExitTimeout},
		{errors.Wrap(context.Canceled, "iteration 0"), cmd.ExitInterrupted},
	}
	for _, tt := range tests {
		if got := cmd.ExitCode(tt.err); got != tt.want {
			t.Errorf("ExitCode(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
