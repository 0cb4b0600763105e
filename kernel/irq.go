package kernel

import (
	"npu/hal"
)

// TimerIRQ is the interrupt line of the system tick.
const TimerIRQ = 30

// IRQHandler services one interrupt line. It runs with interrupts masked
// and must not block.
type IRQHandler func(k *Kernel)

// RequestIRQ routes line n to fn and enables it.
func (k *Kernel) RequestIRQ(n int, fn IRQHandler) error {
	if n < 0 || n >= hal.MaxIRQ {
		k.Fatalf("request irq %d: out of range", n)
	}
	if fn == nil {
		k.Fatalf("request irq %d: nil handler", n)
	}
	s := k.lock()
	k.vectors[n] = fn
	k.unlock(s)
	return k.irq.Enable(n)
}

// FreeIRQ disables line n and drops its handler.
func (k *Kernel) FreeIRQ(n int) error {
	if n < 0 || n >= hal.MaxIRQ {
		k.Fatalf("free irq %d: out of range", n)
	}
	if err := k.irq.Disable(n); err != nil {
		return err
	}
	s := k.lock()
	k.vectors[n] = nil
	k.unlock(s)
	return nil
}

// HandleIRQ is the core's interrupt entry: it dispatches every pending line,
// then reschedules once if a handler made a higher-priority task ready.
func (k *Kernel) HandleIRQ() {
	s := k.lock()
	defer k.unlock(s)

	k.inIRQ++
	k.doSchedule = false
	for {
		n, ok := k.irq.Ack()
		if !ok {
			break
		}
		if fn := k.vectors[n]; fn != nil {
			fn(k)
		} else {
			k.spurious++
			k.log.Warnf("spurious irq %d", n)
		}
		k.irq.EOI(n)
	}
	k.inIRQ--

	if k.doSchedule && k.inIRQ == 0 {
		k.doSchedule = false
		k.schedule()
	}
}

// Spurious returns the number of interrupts taken with no handler.
func (k *Kernel) Spurious() uint32 {
	s := k.lock()
	defer k.unlock(s)
	return k.spurious
}

func tickHandler(k *Kernel) { k.Tick() }

// EnableTick routes the timer interrupt to Tick.
func (k *Kernel) EnableTick() error { return k.RequestIRQ(TimerIRQ, tickHandler) }
