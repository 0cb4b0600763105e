//go:build !tinygo

package hal

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// hostContext is one execution context, backed by a goroutine that only
// runs while it holds the baton.
type hostContext struct {
	entry   func()
	run     chan struct{}
	started bool
}

// hostCPU emulates a single core by passing a baton between goroutines.
// Interrupts are taken synchronously, on the running goroutine, whenever it
// unmasks or idles.
type hostCPU struct {
	irq *hostInterrupts

	mu   sync.Mutex
	ctxs map[int]*hostContext

	enabled atomic.Bool
	trap    atomic.Value // func()

	halted   chan struct{}
	haltOnce sync.Once
}

func newHostCPU(irq *hostInterrupts) *hostCPU {
	return &hostCPU{
		irq:    irq,
		ctxs:   make(map[int]*hostContext),
		halted: make(chan struct{}),
	}
}

func (c *hostCPU) DisableInterrupts() IRQState {
	return IRQState(c.enabled.Swap(false))
}

func (c *hostCPU) RestoreInterrupts(s IRQState) {
	if !s.Enabled() {
		c.enabled.Store(false)
		return
	}
	c.enabled.Store(true)
	c.takePending()
}

func (c *hostCPU) SetTrap(fn func()) { c.trap.Store(fn) }

func (c *hostCPU) takePending() {
	for c.enabled.Load() && c.irq.Pending() {
		fn, _ := c.trap.Load().(func())
		if fn == nil {
			return
		}
		c.enabled.Store(false)
		fn()
		c.enabled.Store(true)
	}
}

func (c *hostCPU) InitContext(id int, entry func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ctxs[id] = &hostContext{entry: entry, run: make(chan struct{}, 1)}
}

func (c *hostCPU) context(id int) *hostContext {
	c.mu.Lock()
	defer c.mu.Unlock()
	ctx := c.ctxs[id]
	if ctx == nil {
		panic("hal: switch to uninitialised context")
	}
	return ctx
}

func (c *hostCPU) Switch(from, to int) {
	if from == to {
		return
	}
	f := c.context(from)
	c.resume(c.context(to))
	c.park(f)
}

func (c *hostCPU) Start(to int) {
	c.resume(c.context(to))
	<-c.halted
}

func (c *hostCPU) Halt() {
	c.haltOnce.Do(func() { close(c.halted) })
}

func (c *hostCPU) WaitForInterrupt() {
	for {
		select {
		case <-c.halted:
			runtime.Goexit()
		default:
		}
		if c.irq.Pending() {
			c.takePending()
			return
		}
		select {
		case <-c.irq.Notify():
		case <-c.halted:
			runtime.Goexit()
		}
	}
}

func (c *hostCPU) resume(t *hostContext) {
	if !t.started {
		t.started = true
		go c.enter(t)
		return
	}
	t.run <- struct{}{}
}

func (c *hostCPU) park(f *hostContext) {
	select {
	case <-f.run:
	case <-c.halted:
		runtime.Goexit()
	}
}

func (c *hostCPU) enter(t *hostContext) {
	select {
	case <-c.halted:
		return
	default:
	}
	t.entry()
	c.Halt()
}
