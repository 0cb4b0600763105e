//go:build !tinygo

package hal

import (
	"sync"
	"sync/atomic"
	"time"
)

// TickPeriod is the host timer period.
const TickPeriod = time.Millisecond

// hostTime feeds the tick stream. A tick the firmware has not drained when
// the buffer is full is counted as lost; the producer never blocks.
type hostTime struct {
	ch   chan uint64
	seq  atomic.Uint64
	lost atomic.Uint64

	mu    sync.Mutex
	epoch time.Time
	due   uint64
}

func newHostTime() *hostTime {
	return &hostTime{ch: make(chan uint64, 1024)}
}

func (t *hostTime) Ticks() <-chan uint64 { return t.ch }

// sync emits the ticks owed to wall-clock time elapsed since the first call.
func (t *hostTime) sync(now time.Time) {
	t.mu.Lock()
	if t.epoch.IsZero() {
		t.epoch = now
		t.mu.Unlock()
		t.advance(1)
		return
	}
	due := uint64(now.Sub(t.epoch) / TickPeriod)
	n := due - t.due
	if due < t.due {
		n = 0
	} else {
		t.due = due
	}
	t.mu.Unlock()
	t.advance(n)
}

func (t *hostTime) advance(n uint64) {
	for ; n > 0; n-- {
		seq := t.seq.Add(1)
		select {
		case t.ch <- seq:
		default:
			t.lost.Add(1)
		}
	}
}

// Lost returns the number of ticks dropped on a full stream.
func (t *hostTime) Lost() uint64 { return t.lost.Load() }
