package usage

import (
	"bufio"
	"io"
	"os/exec"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// cache geometry is pinned so counts are comparable across hosts
var cachegrindFlags = []string{
	"--tool=cachegrind",
	"--trace-children=yes",
	"--I1=32768,8,64",
	"--D1=32768,8,64",
	"--LL=8388608,16,64",
}

// Cachegrind runs a command under valgrind's cache simulator to obtain a
// deterministic instruction count.
type Cachegrind struct {
	Valgrind string
}

// FindCachegrind locates valgrind on PATH.
func FindCachegrind() (*Cachegrind, error) {
	path, err := exec.LookPath("valgrind")
	if err != nil {
		return nil, errors.Wrap(err, "locating valgrind")
	}
	return &Cachegrind{Valgrind: path}, nil
}

// Command wraps run in a valgrind invocation.
func (c *Cachegrind) Command(run []string) []string {
	args := make([]string, 0, 1+len(cachegrindFlags)+len(run))
	args = append(args, c.Valgrind)
	args = append(args, cachegrindFlags...)
	return append(args, run...)
}

// ParseCachegrind sums the "I   refs:" totals valgrind writes to stderr,
// one per traced process.
func ParseCachegrind(r io.Reader) (float64, error) {
	var total float64
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.Contains(line, "I   refs:") {
			continue
		}
		fields := strings.Fields(line)
		last := strings.ReplaceAll(fields[len(fields)-1], ",", "")
		n, err := strconv.ParseFloat(last, 64)
		if err != nil {
			return 0, errors.Errorf("bad cachegrind output: invalid number in %q", line)
		}
		total += n
	}
	if err := scanner.Err(); err != nil {
		return 0, errors.Wrap(err, "reading cachegrind output")
	}
	if total <= 0 {
		return 0, errors.New("bad cachegrind output: no instructions parsed")
	}
	return total, nil
}
