package usage

import (
	"encoding/binary"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

type perfCounter struct {
	fd int
}

// NewCounter returns a counter backed by perf_event_open.
func NewCounter() Counter {
	return &perfCounter{fd: -1}
}

func (c *perfCounter) Attach(pid int) error {
	attr := unix.PerfEventAttr{
		Type:   unix.PERF_TYPE_HARDWARE,
		Config: unix.PERF_COUNT_HW_INSTRUCTIONS,
		Bits:   unix.PerfBitExcludeKernel | unix.PerfBitExcludeHv,
	}
	attr.Size = uint32(unsafe.Sizeof(attr))
	fd, err := unix.PerfEventOpen(&attr, pid, -1, -1, unix.PERF_FLAG_FD_CLOEXEC)
	if err != nil {
		return errors.Wrapf(ErrCounterUnavailable, "perf_event_open for pid %d: %v", pid, err)
	}
	c.fd = fd
	return nil
}

func (c *perfCounter) Read() (uint64, error) {
	if c.fd < 0 {
		return 0, ErrCounterUnavailable
	}
	buf := make([]byte, 8)
	n, err := unix.Read(c.fd, buf)
	if err != nil {
		return 0, errors.Wrap(err, "reading instruction counter")
	}
	if n != len(buf) {
		return 0, errors.Errorf("short read from instruction counter: %d bytes", n)
	}
	return binary.NativeEndian.Uint64(buf), nil
}

func (c *perfCounter) Close() error {
	if c.fd < 0 {
		return nil
	}
	err := unix.Close(c.fd)
	c.fd = -1
	return errors.Wrap(err, "closing instruction counter")
}
