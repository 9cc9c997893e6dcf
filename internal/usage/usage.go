// Package usage turns a reaped child into the kernel-derived metrics of an
// iteration.
package usage

import (
	"runtime"
	"syscall"
	"time"

	"github.com/signalnine/sirun/internal/subproc"
)

// Metric keys reported for every iteration.
const (
	KeyUserTime     = "user.time"
	KeySystemTime   = "system.time"
	KeyWallTime     = "wall.time"
	KeyMaxRSS       = "max.res.size"
	KeyCPUPct       = "cpu.pct.wall.time"
	KeyInstructions = "instructions"
)

// Usage is the resource consumption of exactly one child process. Times
// are in microseconds, MaxRSS in kilobytes.
type Usage struct {
	User   float64
	System float64
	Wall   float64
	MaxRSS float64
}

// FromExit reads the rusage that wait4 returned for the child. It never
// looks at RUSAGE_CHILDREN, so earlier children do not leak into the
// numbers.
func FromExit(exit *subproc.Exit) Usage {
	u := Usage{Wall: micros(exit.Wall)}
	if exit.State == nil {
		return u
	}
	ru, ok := exit.State.SysUsage().(*syscall.Rusage)
	if !ok || ru == nil {
		return u
	}
	u.User = micros(time.Duration(ru.Utime.Nano()))
	u.System = micros(time.Duration(ru.Stime.Nano()))
	u.MaxRSS = maxRSS(ru)
	return u
}

// Metrics returns the kernel keys. cpu.pct.wall.time is left out when the
// wall time is zero.
func (u Usage) Metrics() map[string]float64 {
	m := map[string]float64{
		KeyUserTime:   u.User,
		KeySystemTime: u.System,
		KeyWallTime:   u.Wall,
		KeyMaxRSS:     u.MaxRSS,
	}
	if u.Wall > 0 {
		m[KeyCPUPct] = 100 * (u.User + u.System) / u.Wall
	}
	return m
}

func micros(d time.Duration) float64 {
	return float64(d.Nanoseconds()) / 1e3
}

func maxRSS(ru *syscall.Rusage) float64 {
	// darwin reports bytes, everything else kilobytes
	if runtime.GOOS == "darwin" {
		return float64(ru.Maxrss) / 1024
	}
	return float64(ru.Maxrss)
}
