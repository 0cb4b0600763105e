//go:build !tinygo

package hal

import (
	"fmt"
	"os"
	"sync"
)

// HostConfig sizes the simulated board.
type HostConfig struct {
	// SRAMBase and SRAMSize place the shared mailbox region.
	SRAMBase uint32
	SRAMSize uint32
	// SRAMPath, when set, loads the region from and syncs it to a file.
	SRAMPath string

	FBWidth  int
	FBHeight int
}

// DefaultHostConfig returns the board layout used by the firmware image.
// NPU_SRAM_PATH selects a file-backed shared region.
func DefaultHostConfig() HostConfig {
	return HostConfig{
		SRAMBase: DefaultSRAMBase,
		SRAMSize: DefaultSRAMSize,
		SRAMPath: os.Getenv("NPU_SRAM_PATH"),
		FBWidth:  320,
		FBHeight: 240,
	}
}

type hostHAL struct {
	logger *hostLogger
	cpu    *hostCPU
	irq    *hostInterrupts
	t      *hostTime
	sram   *hostSRAM
	fb     *hostFramebuffer
}

// New returns a host HAL implementation with the default board layout.
func New() HAL {
	return NewWithConfig(DefaultHostConfig())
}

// NewWithConfig returns a host HAL implementation.
func NewWithConfig(cfg HostConfig) HAL {
	if cfg.FBWidth <= 0 || cfg.FBHeight <= 0 {
		cfg.FBWidth, cfg.FBHeight = 320, 240
	}
	irq := newHostInterrupts()
	return &hostHAL{
		logger: &hostLogger{w: os.Stdout},
		cpu:    newHostCPU(irq),
		irq:    irq,
		t:      newHostTime(),
		sram:   newHostSRAM(cfg.SRAMBase, cfg.SRAMSize, cfg.SRAMPath),
		fb:     newHostFramebuffer(cfg.FBWidth, cfg.FBHeight),
	}
}

func (h *hostHAL) Logger() Logger             { return h.logger }
func (h *hostHAL) CPU() CPU                   { return h.cpu }
func (h *hostHAL) Interrupts() Interrupts     { return h.irq }
func (h *hostHAL) Time() Time                 { return h.t }
func (h *hostHAL) SharedMemory() SharedMemory { return h.sram }
func (h *hostHAL) Display() Display           { return hostDisplay{fb: h.fb} }

// Step advances the host tick stream by n ticks.
func (h *hostHAL) Step(n uint64) { h.t.advance(n) }

type hostDisplay struct {
	fb *hostFramebuffer
}

func (d hostDisplay) Framebuffer() Framebuffer { return d.fb }

type hostLogger struct {
	mu sync.Mutex
	w  *os.File
}

func (l *hostLogger) WriteLineString(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintln(l.w, s)
}

func (l *hostLogger) WriteLineBytes(b []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.w.Write(b)
	l.w.Write([]byte{'\n'})
}
