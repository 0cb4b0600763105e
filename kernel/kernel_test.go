package kernel

import (
	"errors"
	"strings"
	"testing"
	"time"

	"npu/hal"
)

func newTestKernel(t *testing.T) (*Kernel, hal.HAL) {
	t.Helper()
	h := hal.New()
	k := New(Config{CPU: h.CPU(), IRQ: h.Interrupts()})
	t.Cleanup(h.CPU().Halt)
	return k, h
}

func mustCreate(t *testing.T, k *Kernel, name string, prio int, fn TaskFunc) TaskID {
	t.Helper()
	id, err := k.CreateTask(TaskSpec{
		Name:      name,
		Priority:  prio,
		Handler:   fn,
		MaxSlices: 100,
		StackAddr: 0x1000,
		StackSize: 0x200,
	})
	if err != nil {
		t.Fatalf("CreateTask(%q) error: %v", name, err)
	}
	return id
}

func mustSpawn(t *testing.T, k *Kernel, name string, prio int, fn TaskFunc) TaskID {
	t.Helper()
	id := mustCreate(t, k, name, prio, fn)
	if err := k.Resume(id); err != nil {
		t.Fatalf("Resume(%q) error: %v", name, err)
	}
	return id
}

func addIdle(t *testing.T, k *Kernel) TaskID {
	t.Helper()
	return mustSpawn(t, k, "_IDLE", NumPriorities-1, func(ctx *Context) {
		for {
			ctx.Idle()
		}
	})
}

// run starts the scheduler and returns a func that waits for Shutdown.
func run(t *testing.T, k *Kernel) func() {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- k.Start() }()
	return func() {
		t.Helper()
		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("Start() error: %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for scheduler shutdown")
		}
	}
}

func TestNewKernelIsStopped(t *testing.T) {
	k, _ := newTestKernel(t)
	if k.Running() {
		t.Fatal("expected stopped kernel")
	}
	if got := k.Current(); got != NoTask {
		t.Fatalf("Current() = %d, want %d", got, NoTask)
	}
	if got := k.FreeEvents(); got != MaxEvents {
		t.Fatalf("FreeEvents() = %d, want %d", got, MaxEvents)
	}
}

func TestStartWithoutReadyTask(t *testing.T) {
	k, h := newTestKernel(t)
	h.CPU().RestoreInterrupts(hal.IRQState(true))
	err := k.Start()
	if !errors.Is(err, ErrEmptyList) {
		t.Fatalf("Start() error = %v, want ErrEmptyList", err)
	}
	if s := h.CPU().DisableInterrupts(); !s.Enabled() {
		t.Fatal("interrupts masked after failed Start()")
	}
}

func TestHandleIRQDispatch(t *testing.T) {
	k, h := newTestKernel(t)

	hits := 0
	if err := k.RequestIRQ(41, func(*Kernel) { hits++ }); err != nil {
		t.Fatalf("RequestIRQ error: %v", err)
	}
	if err := k.EnableTick(); err != nil {
		t.Fatalf("EnableTick error: %v", err)
	}
	if err := h.Interrupts().Enable(40); err != nil {
		t.Fatalf("Enable error: %v", err)
	}

	irq := h.Interrupts()
	_ = irq.Raise(41)
	_ = irq.Raise(40)
	_ = irq.Raise(TimerIRQ)
	k.HandleIRQ()

	if hits != 1 {
		t.Fatalf("handler hits = %d, want 1", hits)
	}
	if got := k.Spurious(); got != 1 {
		t.Fatalf("Spurious() = %d, want 1", got)
	}
	if got := k.Ticks(); got != 1 {
		t.Fatalf("Ticks() = %d, want 1", got)
	}
	if irq.Pending() {
		t.Fatal("expected no pending interrupts")
	}

	if err := k.FreeIRQ(41); err != nil {
		t.Fatalf("FreeIRQ error: %v", err)
	}
	_ = irq.Raise(41)
	k.HandleIRQ()
	if hits != 1 {
		t.Fatalf("handler hits after free = %d, want 1", hits)
	}
}

func TestRequestIRQOutOfRangeIsFatal(t *testing.T) {
	k, _ := newTestKernel(t)
	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected panic")
		}
		msg, _ := r.(string)
		if !strings.Contains(msg, "request irq 600") {
			t.Fatalf("unexpected panic %v", r)
		}
		if !InPanicMode() {
			t.Fatal("expected panic mode")
		}
	}()
	_ = k.RequestIRQ(600, tickHandler)
}

func TestErrorKind(t *testing.T) {
	k, _ := newTestKernel(t)
	err := k.Delay(0)
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("Delay(0) error = %v, want ErrInvalidArgument", err)
	}
	if got := KindOf(err); got != KindScheduler {
		t.Fatalf("KindOf() = %v, want %v", got, KindScheduler)
	}
	if got := KindOf(errors.New("plain")); got != 0 {
		t.Fatalf("KindOf(plain) = %v, want 0", got)
	}
}
