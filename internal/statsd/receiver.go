// Package statsd is the minimal statsd listener the measured program
// reports its own metrics to.
package statsd

import (
	"bytes"
	"fmt"
	"net"
	"time"

	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
)

const (
	maxDatagram = 65535
	// DefaultBarrierWait bounds how long Begin and End wait for their
	// own marker datagram to come back through the socket.
	DefaultBarrierWait = time.Second
)

var barrierPrefix = []byte("\x00sirun-barrier:")

type phase int

const (
	phaseBegin phase = iota
	phaseEnd
)

type request struct {
	phase phase
	token []byte
	reply chan Accumulator
}

// Receiver owns a UDP socket on the loopback interface. A reader goroutine
// moves datagrams to an aggregator goroutine, which is the only code that
// touches the accumulator. Datagrams are counted only between Begin and
// End.
type Receiver struct {
	conn *net.UDPConn
	addr *net.UDPAddr

	BarrierWait time.Duration

	packets  chan []byte
	requests chan request
	quit     chan struct{}
	readDone chan struct{}
	aggDone  chan struct{}
	seq      int
}

// Listen binds 127.0.0.1:port; port 0 lets the kernel choose.
func Listen(port int) (*Receiver, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port})
	if err != nil {
		return nil, errors.Wrapf(err, "binding statsd port %d", port)
	}
	r := &Receiver{
		conn:        conn,
		addr:        conn.LocalAddr().(*net.UDPAddr),
		BarrierWait: DefaultBarrierWait,
		packets:     make(chan []byte, 1024),
		requests:    make(chan request),
		quit:        make(chan struct{}),
		readDone:    make(chan struct{}),
		aggDone:     make(chan struct{}),
	}
	go r.read()
	go r.aggregate()
	return r, nil
}

// Port is the port the receiver is bound to.
func (r *Receiver) Port() int { return r.addr.Port }

// Begin clears the accumulator and starts counting. Anything still queued
// from before the call is discarded.
func (r *Receiver) Begin() {
	r.barrier(phaseBegin)
}

// End stops counting and returns what was received since Begin. Every
// datagram that reached the socket before End was called is included.
func (r *Receiver) End() map[string]float64 {
	acc := r.barrier(phaseEnd)
	if acc == nil {
		acc = Accumulator{}
	}
	return acc
}

// Close releases the port and stops both goroutines.
func (r *Receiver) Close() error {
	err := r.conn.Close()
	<-r.readDone
	close(r.quit)
	<-r.aggDone
	return errors.Wrap(err, "closing statsd socket")
}

func (r *Receiver) barrier(p phase) Accumulator {
	r.seq++
	token := append(append([]byte{}, barrierPrefix...), fmt.Sprintf("%d", r.seq)...)
	req := request{phase: p, token: token, reply: make(chan Accumulator, 1)}
	r.requests <- req
	if _, err := r.conn.WriteToUDP(token, r.addr); err != nil {
		grip.Warning(message.WrapError(err, message.Fields{
			"message": "sending statsd barrier",
			"port":    r.Port(),
		}))
	}
	return <-req.reply
}

func (r *Receiver) read() {
	defer close(r.readDone)
	buf := make([]byte, maxDatagram)
	for {
		n, _, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			grip.Debug(message.WrapError(err, "reading statsd datagram"))
			continue
		}
		pkt := make([]byte, n)
		copy(pkt, buf[:n])
		select {
		case r.packets <- pkt:
		case <-r.quit:
			return
		}
	}
}

func (r *Receiver) aggregate() {
	defer close(r.aggDone)
	var (
		acc       Accumulator
		accepting bool
		pending   *request
		expired   <-chan time.Time
	)
	finish := func() {
		switch pending.phase {
		case phaseBegin:
			acc = Accumulator{}
			accepting = true
			pending.reply <- nil
		case phaseEnd:
			accepting = false
			pending.reply <- acc
			acc = nil
		}
		pending = nil
		expired = nil
	}

	for {
		select {
		case pkt := <-r.packets:
			if bytes.HasPrefix(pkt, barrierPrefix) {
				if pending != nil && bytes.Equal(pkt, pending.token) {
					finish()
				}
				continue
			}
			if !accepting {
				continue
			}
			if dropped := acc.Feed(pkt); dropped > 0 {
				grip.Debug(message.Fields{
					"message": "dropped malformed statsd lines",
					"dropped": dropped,
				})
			}
		case req := <-r.requests:
			pending = &req
			expired = time.After(r.BarrierWait)
		case <-expired:
			grip.Warning(message.Fields{
				"message": "statsd barrier lost, using metrics received so far",
				"port":    r.Port(),
			})
			finish()
		case <-r.quit:
			return
		}
	}
}
