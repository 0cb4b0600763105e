// Package app boots the NPU firmware on a HAL: logging, heap, kernel,
// mailbox and the native task table.
package app

import (
	"errors"
	"sync/atomic"

	"npu/console"
	"npu/hal"
	"npu/kernel"
	"npu/kernel/heap"
	"npu/klog"
	"npu/mailbox"
	"npu/ncp"
)

// ErrPowerdown is returned by the step function once the host has powered
// the firmware down.
var ErrPowerdown = errors.New("firmware powered down")

// Config selects the boot options.
type Config struct {
	LogLevel     klog.Level
	NoSliceCount bool
	Jobs         ncp.Config
	// MonitorTicks is the period of the monitor dump. Zero disables it.
	MonitorTicks uint32
	// HoldOnPanic parks the faulting task after the fatal screen is drawn
	// instead of crashing the process.
	HoldOnPanic bool
}

// DefaultConfig returns the options of the firmware image.
func DefaultConfig() Config {
	return Config{LogLevel: klog.LevelInfo, Jobs: ncp.DefaultConfig()}
}

// System is one booted firmware instance.
type System struct {
	h   hal.HAL
	cfg Config

	log  *klog.Logger
	con  *console.Console
	heap *heap.Heap
	k    *kernel.Kernel
	mbx  *mailbox.Mailbox
	ncp  *ncp.Service

	tasks  []nativeTask
	halted chan struct{}
	err    error
	ticked atomic.Uint64
}

// New boots the firmware with the default config and returns the host
// step function.
func New(h hal.HAL) func() error {
	return NewWithConfig(h, DefaultConfig())
}

// NewWithConfig boots the firmware and returns the host step function. The
// step flushes the console and reports ErrPowerdown once the scheduler
// has stopped.
func NewWithConfig(h hal.HAL, cfg Config) func() error {
	s, err := Boot(h, cfg)
	if err != nil {
		return func() error { return err }
	}
	return s.Step
}

// Step is called by the host runner once per frame.
func (s *System) Step() error {
	if !kernel.InPanicMode() {
		s.con.Flush()
	}
	select {
	case <-s.halted:
		if s.err != nil {
			return s.err
		}
		return ErrPowerdown
	default:
		return nil
	}
}

// Kernel returns the booted kernel.
func (s *System) Kernel() *kernel.Kernel { return s.k }

// Mailbox returns the mailbox controller.
func (s *System) Mailbox() *mailbox.Mailbox { return s.mbx }

// Service returns the command service.
func (s *System) Service() *ncp.Service { return s.ncp }

// Console returns the framebuffer log sink.
func (s *System) Console() *console.Console { return s.con }

// Heap returns the allocator the task stacks were carved from.
func (s *System) Heap() *heap.Heap { return s.heap }

// Halted is closed once the scheduler has stopped.
func (s *System) Halted() <-chan struct{} { return s.halted }

// Ticks returns the number of host ticks forwarded to the timer line.
func (s *System) Ticks() uint64 { return s.ticked.Load() }

// forwardTicks turns the HAL tick stream into timer interrupts.
func (s *System) forwardTicks() {
	ht := s.h.Time()
	if ht == nil {
		return
	}
	ch := ht.Ticks()
	if ch == nil {
		return
	}
	irq := s.h.Interrupts()
	for {
		select {
		case <-s.halted:
			return
		case <-ch:
			s.ticked.Add(1)
			_ = irq.Raise(kernel.TimerIRQ)
		}
	}
}
