package mailbox

import (
	"sync/atomic"

	"npu/hal"
	"npu/kernel"
)

// MaxReportBytes is the longest log line carried on the report ring.
const MaxReportBytes = 128

const reportSlots = 8

type reportLine struct {
	ready atomic.Bool
	n     int
	data  [MaxReportBytes]byte
}

// Report forwards log lines to the host over the report ring.
//
// Lines are posted from any context, interrupt handlers and other
// goroutines included, into a fixed multi-producer queue; the report task
// drains the queue into the ring. Lines that find the queue or the ring
// full are dropped and counted.
type Report struct {
	_ [0]func() // prevent accidental copying.

	mem   hal.SharedMemory
	ev    *kernel.Event
	hctrl uint32
	ring  Ring

	head  atomic.Uint32
	tail  atomic.Uint32
	lines [reportSlots]reportLine

	dropped atomic.Uint32
	sent    atomic.Uint32
}

// NewReport returns a report channel signalling ev when lines are queued.
func NewReport(mem hal.SharedMemory, ev *kernel.Event) *Report {
	return &Report{mem: mem, ev: ev}
}

func (r *Report) attach(l Layout, h Header) {
	r.hctrl = l.ctrl(ChanReport)
	r.ring = NewRing(r.mem, l, h.Ctrl(ChanReport))
}

// Post queues a line, truncated to MaxReportBytes. It reports false if the
// queue is full.
func (r *Report) Post(b []byte) bool {
	for {
		head := r.head.Load()
		tail := r.tail.Load()
		if head-tail >= reportSlots {
			r.dropped.Add(1)
			return false
		}
		if !r.head.CompareAndSwap(head, head+1) {
			continue
		}
		sl := &r.lines[head%reportSlots]
		sl.n = copy(sl.data[:], b)
		sl.ready.Store(true)
		return true
	}
}

// WriteLineString implements hal.Logger.
func (r *Report) WriteLineString(s string) { r.Post([]byte(s)) }

// WriteLineBytes implements hal.Logger.
func (r *Report) WriteLineBytes(b []byte) { r.Post(b) }

// Queued returns the number of lines waiting for the report task.
func (r *Report) Queued() int { return int(r.head.Load() - r.tail.Load()) }

// Kick signals the report event when lines are queued. It is called from
// the timer interrupt.
func (r *Report) Kick() {
	if r.Queued() > 0 {
		r.ev.Set()
	}
}

func (r *Report) take() ([]byte, bool) {
	tail := r.tail.Load()
	if tail == r.head.Load() {
		return nil, false
	}
	sl := &r.lines[tail%reportSlots]
	if !sl.ready.Load() {
		// reserved but not yet written
		return nil, false
	}
	b := append([]byte(nil), sl.data[:sl.n]...)
	sl.ready.Store(false)
	r.tail.Store(tail + 1)
	return b, true
}

// drain moves queued lines onto the report ring. Each line is padded to a
// word multiple.
func (r *Report) drain() int {
	if r.ring.Len() == 0 {
		return 0
	}
	n := 0
	for {
		b, ok := r.take()
		if !ok {
			return n
		}
		if len(b) == 0 {
			continue
		}
		payload := make([]byte, (len(b)+3)&^3)
		copy(payload, b)

		hc := loadCtrl(r.mem, r.hctrl)
		m := Message{Command: ReportLog, Length: uint32(len(payload))}
		if err := r.ring.Put(&hc, &m, payload); err != nil {
			r.dropped.Add(1)
			continue
		}
		r.mem.PutUint32(r.hctrl+ctrlWptr, hc.Wptr)
		r.sent.Add(1)
		n++
	}
}

// Dropped returns the number of lines lost to a full queue or ring.
func (r *Report) Dropped() uint32 { return r.dropped.Load() }

// Sent returns the number of lines written to the ring.
func (r *Report) Sent() uint32 { return r.sent.Load() }
