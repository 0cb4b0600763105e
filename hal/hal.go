package hal

import "errors"

// Logger writes newline-delimited log lines.
type Logger interface {
	WriteLineString(s string)
	WriteLineBytes(b []byte)
}

var (
	ErrNotImplemented = errors.New("not implemented")
	ErrBadIRQ         = errors.New("interrupt number out of range")
	ErrBadAddress     = errors.New("address outside shared memory")
)

// MaxIRQ is the number of interrupt lines the controller routes.
const MaxIRQ = 512

// PixelFormat defines the framebuffer pixel encoding.
type PixelFormat uint8

const (
	// PixelFormatRGB565 is 16bpp: rrrrrggggggbbbbb.
	PixelFormatRGB565 PixelFormat = iota + 1
)

// Framebuffer is a simple pixel buffer plus a "present" hook.
type Framebuffer interface {
	Width() int
	Height() int
	Format() PixelFormat
	StrideBytes() int
	Buffer() []byte
	ClearRGB(r, g, b uint8)
	Present() error
}

// Display provides access to the debug framebuffer (if available).
type Display interface {
	Framebuffer() Framebuffer
}

// IRQState is the interrupt mask state returned by DisableInterrupts.
type IRQState bool

// IRQEnabled is the state with interrupts unmasked.
const IRQEnabled IRQState = true

func (s IRQState) Enabled() bool { return bool(s) }

// CPU is the execution-context boundary of the core.
//
// Contexts are identified by small integers chosen by the kernel (one per
// task). Exactly one context runs at a time.
type CPU interface {
	// DisableInterrupts masks interrupts and returns the previous state.
	DisableInterrupts() IRQState
	// RestoreInterrupts puts back a state returned by DisableInterrupts.
	// Unmasking takes any pending interrupt before returning.
	RestoreInterrupts(s IRQState)

	// SetTrap installs the function run when an interrupt is taken.
	// It runs with interrupts masked.
	SetTrap(fn func())

	// InitContext prepares a never-run context whose first resumption runs entry.
	InitContext(id int, entry func())
	// Switch saves the running context from and resumes to. It returns
	// when from is resumed again.
	Switch(from, to int)
	// Start resumes the first context with nothing to save. It returns
	// once Halt has been called.
	Start(to int)
	// Halt stops the core. Called from a running context it does not return.
	Halt()
	// WaitForInterrupt idles until an interrupt is pending, then takes it.
	WaitForInterrupt()
}

// Interrupts is the interrupt controller.
type Interrupts interface {
	Enable(n int) error
	Disable(n int) error
	// Raise latches line n pending. Used by devices and the host side.
	Raise(n int) error
	// Ack returns the lowest pending enabled line and clears it.
	Ack() (n int, ok bool)
	EOI(n int)
	Pending() bool
	// Notify is signalled whenever a line is raised.
	Notify() <-chan struct{}
}

// Time provides a base tick stream.
//
// The tick duration is platform-defined.
type Time interface {
	Ticks() <-chan uint64
}

// SharedMemory is the mapped host/device region that holds the mailbox.
//
// Addresses are absolute device addresses in [Base, Base+Size). Words are
// little-endian.
type SharedMemory interface {
	Base() uint32
	Size() uint32
	ReadAt(p []byte, addr uint32) (int, error)
	WriteAt(p []byte, addr uint32) (int, error)
	Uint32(addr uint32) uint32
	PutUint32(addr uint32, v uint32)
	// Sync flushes the region to its backing store, if any.
	Sync() error
}

// HAL provides the only contact point between the firmware and the outside world.
type HAL interface {
	Logger() Logger
	CPU() CPU
	Interrupts() Interrupts
	Time() Time
	SharedMemory() SharedMemory
	Display() Display
}
