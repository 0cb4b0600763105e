// Package kernel is the NPU firmware's real-time kernel: a 256-priority
// preemptive scheduler, wait queues, semaphores, events and interrupt
// routing for a single core.
//
// All kernel state lives in one Kernel value created at boot. Mutation is
// serialised by masking interrupts on the core; there are no locks.
package kernel

import (
	"sync/atomic"

	"npu/hal"
	"npu/kernel/list"
	"npu/klog"
)

const (
	// DefaultMaxTasks is the size of the task table.
	DefaultMaxTasks = 32
	// NumPriorities is the number of priority levels; 0 is the highest.
	NumPriorities = 256
)

// Config wires the kernel to the platform.
type Config struct {
	CPU hal.CPU
	IRQ hal.Interrupts
	Log *klog.Logger

	MaxTasks int
	// NoSliceCount stops timer ticks from consuming task quanta.
	NoSliceCount bool
}

// Kernel is the process-wide kernel context.
type Kernel struct {
	cpu hal.CPU
	irq hal.Interrupts
	log *klog.Logger

	tasks []task
	// links holds the ready/delayed/pending membership of every task; a task
	// sits on at most one of those lists.
	links   *list.Arena
	all     *list.List
	allLink *list.Arena

	ready   [NumPriorities]*list.List
	grp0    uint8
	grp1    [8]uint8
	grp2    [8][8]uint8
	delayed *list.List

	current TaskID
	next    TaskID

	stopped     bool
	forbid      bool
	countSlices bool
	inIRQ       int
	doSchedule  bool
	ticks       atomic.Uint64

	sems   []*Semaphore
	events eventTable

	vectors  [hal.MaxIRQ]IRQHandler
	spurious uint32
}

// New creates a kernel in the stopped state. Tasks, semaphores, events and
// interrupt handlers are set up before Start.
func New(cfg Config) *Kernel {
	n := cfg.MaxTasks
	if n <= 0 {
		n = DefaultMaxTasks
	}
	log := cfg.Log
	if log == nil {
		log = klog.Discard()
	}

	k := &Kernel{
		cpu:         cfg.CPU,
		irq:         cfg.IRQ,
		log:         log.With("kernel"),
		tasks:       make([]task, n),
		links:       list.NewArena(n),
		allLink:     list.NewArena(n),
		current:     NoTask,
		next:        NoTask,
		stopped:     true,
		forbid:      true,
		countSlices: !cfg.NoSliceCount,
	}
	k.all = k.allLink.NewList()
	k.delayed = k.links.NewList()
	for i := range k.ready {
		k.ready[i] = k.links.NewList()
	}
	k.events.init()

	log.SetClock(k.Ticks)
	k.cpu.SetTrap(k.HandleIRQ)
	return k
}

// Ticks returns the number of timer ticks since boot.
func (k *Kernel) Ticks() uint64 { return k.ticks.Load() }

// Log returns the kernel's logger.
func (k *Kernel) Log() *klog.Logger { return k.log }

// CPU returns the core the kernel runs on.
func (k *Kernel) CPU() hal.CPU { return k.cpu }

// InInterrupt reports whether the caller runs inside an interrupt handler.
func (k *Kernel) InInterrupt() bool { return k.inIRQ > 0 }

// Running reports whether the scheduler has been started and not halted.
func (k *Kernel) Running() bool {
	s := k.cpu.DisableInterrupts()
	defer k.cpu.RestoreInterrupts(s)
	return !k.stopped
}

// lock masks interrupts; callers defer unlock with the returned state.
func (k *Kernel) lock() hal.IRQState { return k.cpu.DisableInterrupts() }

func (k *Kernel) unlock(s hal.IRQState) { k.cpu.RestoreInterrupts(s) }

// Lock masks interrupts for a critical section outside the kernel, such as
// mailbox bookkeeping shared with interrupt handlers.
func (k *Kernel) Lock() hal.IRQState { return k.lock() }

// Unlock ends a critical section begun with Lock.
func (k *Kernel) Unlock(s hal.IRQState) { k.unlock(s) }
