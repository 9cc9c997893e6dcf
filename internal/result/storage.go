package result

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/pkg/errors"
)

// FileName is the document log kept in every run directory.
const FileName = "results.ndjson"

func CreateRunDir(baseDir string) (string, error) {
	runsDir := filepath.Join(baseDir, "runs")
	stamp := time.Now().UTC().Format("2006-01-02T15-04-05.000")
	runDir, err := filepath.Abs(filepath.Join(runsDir, stamp))
	if err != nil {
		return "", errors.Wrap(err, "resolving run dir")
	}
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", errors.Wrap(err, "creating run dir")
	}
	latest := filepath.Join(baseDir, "latest")
	os.Remove(latest)
	if err := os.Symlink(runDir, latest); err != nil {
		return "", errors.Wrap(err, "creating latest symlink")
	}
	return runDir, nil
}

// WriteDocument writes doc as one compact JSON line.
func WriteDocument(w io.Writer, doc *Document) error {
	if doc.Iterations == nil {
		doc.Iterations = []Iteration{}
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "marshaling document")
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		return errors.Wrap(err, "writing document")
	}
	return nil
}

// AppendDocument adds doc to the document log of runDir.
func AppendDocument(runDir string, doc *Document) error {
	f, err := os.OpenFile(filepath.Join(runDir, FileName), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrap(err, "opening document log")
	}
	if err := WriteDocument(f, doc); err != nil {
		f.Close()
		return err
	}
	return errors.Wrap(f.Close(), "closing document log")
}

// ReadDocuments decodes newline-delimited documents from r and hands each
// to fn. Lines that are not a valid document are passed to skip, if set,
// and otherwise ignored. Lines are not length limited.
func ReadDocuments(r io.Reader, fn func(*Document), skip func(line int, err error)) error {
	br := bufio.NewReader(r)
	for n := 1; ; n++ {
		line, err := br.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			var doc Document
			if derr := json.Unmarshal(line, &doc); derr != nil {
				if skip != nil {
					skip(n, derr)
				}
			} else {
				fn(&doc)
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "reading documents")
		}
	}
}

// FindDocumentLogs returns every document log below dir in lexical order,
// which for run directories is chronological.
func FindDocumentLogs(dir string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && d.Name() == FileName {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "scanning %s", dir)
	}
	sort.Strings(paths)
	return paths, nil
}
