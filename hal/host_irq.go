//go:build !tinygo

package hal

import (
	"fmt"
	"math/bits"
	"sync"
)

const irqWords = MaxIRQ / 64

type hostInterrupts struct {
	mu      sync.Mutex
	enabled [irqWords]uint64
	pending [irqWords]uint64
	notify  chan struct{}
}

func newHostInterrupts() *hostInterrupts {
	return &hostInterrupts{notify: make(chan struct{}, 1)}
}

func checkIRQ(n int) error {
	if n < 0 || n >= MaxIRQ {
		return fmt.Errorf("irq %d: %w", n, ErrBadIRQ)
	}
	return nil
}

func (c *hostInterrupts) Enable(n int) error {
	if err := checkIRQ(n); err != nil {
		return err
	}
	c.mu.Lock()
	c.enabled[n/64] |= 1 << (n % 64)
	pending := c.pending[n/64]&(1<<(n%64)) != 0
	c.mu.Unlock()
	if pending {
		c.signal()
	}
	return nil
}

func (c *hostInterrupts) Disable(n int) error {
	if err := checkIRQ(n); err != nil {
		return err
	}
	c.mu.Lock()
	c.enabled[n/64] &^= 1 << (n % 64)
	c.mu.Unlock()
	return nil
}

// Raise latches the line; a disabled line stays pending until enabled.
func (c *hostInterrupts) Raise(n int) error {
	if err := checkIRQ(n); err != nil {
		return err
	}
	c.mu.Lock()
	c.pending[n/64] |= 1 << (n % 64)
	c.mu.Unlock()
	c.signal()
	return nil
}

func (c *hostInterrupts) Ack() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for w := 0; w < irqWords; w++ {
		live := c.pending[w] & c.enabled[w]
		if live == 0 {
			continue
		}
		b := bits.TrailingZeros64(live)
		c.pending[w] &^= 1 << b
		return w*64 + b, true
	}
	return 0, false
}

func (c *hostInterrupts) EOI(n int) {}

func (c *hostInterrupts) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for w := 0; w < irqWords; w++ {
		if c.pending[w]&c.enabled[w] != 0 {
			return true
		}
	}
	return false
}

func (c *hostInterrupts) Notify() <-chan struct{} { return c.notify }

func (c *hostInterrupts) signal() {
	select {
	case c.notify <- struct{}{}:
	default:
	}
}
