package statsd

import (
	"math"
	"strconv"
	"strings"
)

// Kind says how repeated updates of one metric combine.
type Kind int

const (
	// Gauge keeps the last value received.
	Gauge Kind = iota
	// Counter sums every value received.
	Counter
)

// Line is one decoded metric update.
type Line struct {
	Name  string
	Value float64
	Kind  Kind
}

// ParseLine decodes name:value|type[|@rate][|#tags]. Only "c" is a
// counter; timers, histograms, sets, a missing type and types we do not
// know all behave like gauges. ok is false for anything malformed.
func ParseLine(s string) (Line, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Line{}, false
	}
	fields := strings.Split(s, "|")
	name, raw, found := strings.Cut(fields[0], ":")
	name = strings.TrimSpace(name)
	if !found || name == "" {
		return Line{}, false
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
		return Line{}, false
	}

	l := Line{Name: name, Value: value, Kind: Gauge}
	if len(fields) > 1 && strings.TrimSpace(fields[1]) == "c" {
		l.Kind = Counter
	}
	for _, f := range fields[min(2, len(fields)):] {
		f = strings.TrimSpace(f)
		if !strings.HasPrefix(f, "@") {
			continue
		}
		rate, err := strconv.ParseFloat(f[1:], 64)
		if err != nil || rate <= 0 || rate > 1 {
			return Line{}, false
		}
		if l.Kind == Counter {
			l.Value /= rate
		}
	}
	return l, true
}

// Accumulator holds the metrics of one iteration.
type Accumulator map[string]float64

// Apply folds one update into the accumulator.
func (a Accumulator) Apply(l Line) {
	if l.Kind == Counter {
		a[l.Name] += l.Value
		return
	}
	a[l.Name] = l.Value
}

// Feed decodes a datagram and applies every well formed line in it. It
// returns the number of lines that were dropped.
func (a Accumulator) Feed(datagram []byte) int {
	dropped := 0
	for _, raw := range strings.Split(string(datagram), "\n") {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		l, ok := ParseLine(raw)
		if !ok {
			dropped++
			continue
		}
		a.Apply(l)
	}
	return dropped
}
