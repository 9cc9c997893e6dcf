package usage

import "github.com/pkg/errors"

// ErrCounterUnavailable means the hardware instruction counter could not
// be used on this host. The instructions metric is omitted in that case.
var ErrCounterUnavailable = errors.New("instruction counter unavailable")

// Counter counts user-space instructions retired by a single process.
// Attach must be called while the process is stopped before its first
// instruction; Read after it exited.
type Counter interface {
	Attach(pid int) error
	Read() (uint64, error)
	Close() error
}
