package mailbox

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"npu/hal"
)

// HostConfig sizes the rings the host driver publishes.
type HostConfig struct {
	// Segment lengths of the low, high, response and report rings. Each
	// must be a power of two.
	Segments [4]uint32
	LogLevel uint32
	// LogDRAM asks the firmware to mirror its log to the report ring.
	LogDRAM   bool
	DebugTime uint32
}

// DefaultHostConfig returns 4 KiB rings with the firmware log mirrored.
func DefaultHostConfig() HostConfig {
	return HostConfig{
		Segments: [4]uint32{0x1000, 0x1000, 0x1000, 0x1000},
		LogDRAM:  true,
	}
}

// Host is the host driver's side of the protocol. It owns the write
// counters of the downward rings and the read counters of the upward rings.
type Host struct {
	mem    hal.SharedMemory
	irq    hal.Interrupts
	layout Layout
}

// NewHost returns a driver for the region mem; irq carries its doorbells.
func NewHost(mem hal.SharedMemory, irq hal.Interrupts) *Host {
	return &Host{mem: mem, irq: irq, layout: LayoutOf(mem)}
}

// Reply is one decoded message of the response ring.
type Reply struct {
	MID    uint32
	Result Result
}

// Publish writes the header geometry. Segments are stacked downwards from
// the header in channel order. The signature words are left alone so the
// firmware may already be waiting in its handshake.
func (h *Host) Publish(cfg HostConfig) error {
	l := h.layout
	ofs := uint32(HeaderSize)
	var total uint32
	for c := ChanLow; c <= ChanReport; c++ {
		n := cfg.Segments[c]
		if n == 0 || n&(n-1) != 0 {
			return fmt.Errorf("%v segment length %#x: %w", c, n, ErrBadHeader)
		}
		ofs += n
		total += n
		if ofs > l.Start-l.Base {
			return fmt.Errorf("%v segment does not fit below the header: %w", c, ErrBadHeader)
		}
		addr := l.ctrl(c)
		h.mem.PutUint32(addr+ctrlOfs, ofs)
		h.mem.PutUint32(addr+ctrlLen, n)
		h.mem.PutUint32(addr+ctrlWptr, 0)
		h.mem.PutUint32(addr+ctrlRptr, 0)
	}
	var dram uint32
	if cfg.LogDRAM {
		dram = 1
	}
	h.mem.PutUint32(l.Header+offMaxSlot, NumMessages)
	h.mem.PutUint32(l.Header+offDebugTime, cfg.DebugTime)
	h.mem.PutUint32(l.Header+offLogLevel, cfg.LogLevel)
	h.mem.PutUint32(l.Header+offLogDRAM, dram)
	h.mem.PutUint32(l.Header+offTotSize, total)
	h.mem.PutUint32(l.Header+offVersion, Version)
	return nil
}

// Handshake waits for the firmware signature and acknowledges it.
func (h *Host) Handshake(ctx context.Context, poll time.Duration) error {
	if poll <= 0 {
		poll = time.Millisecond
	}
	t := time.NewTicker(poll)
	defer t.Stop()
	for h.mem.Uint32(h.layout.Header+offSignature1) != Signature1 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	h.mem.PutUint32(h.layout.Header+offSignature2, Signature2)
	return nil
}

// Ready reports whether the firmware has written its signature.
func (h *Host) Ready() bool {
	return h.mem.Uint32(h.layout.Header+offSignature1) == Signature1
}

func (h *Host) ring(c Channel) (Ring, Ctrl, uint32) {
	addr := h.layout.ctrl(c)
	ctrl := loadCtrl(h.mem, addr)
	return NewRing(h.mem, h.layout, ctrl), ctrl, addr
}

// Submit appends a request to a downward ring and rings its doorbell. It
// returns the counter of the request header.
func (h *Host) Submit(c Channel, mid uint32, cmd Command, payload []byte) (uint32, error) {
	if c > ChanHigh {
		return 0, fmt.Errorf("submit on %v: %w", c, ErrBadChannel)
	}
	r, ctrl, addr := h.ring(c)
	if r.Len() == 0 {
		return 0, fmt.Errorf("submit on %v: %w", c, ErrNotReady)
	}
	m := Message{MID: mid, Command: cmd, Length: uint32(len(payload))}
	if err := r.Put(&ctrl, &m, payload); err != nil {
		return 0, err
	}
	h.mem.PutUint32(addr+ctrlWptr, ctrl.Wptr)

	irq := IRQLow
	if c == ChanHigh {
		irq = IRQHigh
	}
	if err := h.irq.Raise(irq); err != nil {
		return m.Self, fmt.Errorf("doorbell %#x: %w", irq, err)
	}
	return m.Self, nil
}

// Words encodes little-endian payload words.
func Words(w ...uint32) []byte {
	b := make([]byte, 4*len(w))
	for i, v := range w {
		binary.LittleEndian.PutUint32(b[4*i:], v)
	}
	return b
}

// Responded reports whether the request at counter self has been answered.
func (h *Host) Responded(c Channel, self uint32) bool {
	r, _, _ := h.ring(c)
	return r.Len() != 0 && r.word(self) == ResponseMagic
}

// Outstanding returns the bytes of a downward ring not yet released by the
// firmware.
func (h *Host) Outstanding(c Channel) uint32 {
	_, ctrl, _ := h.ring(c)
	return ctrl.Wptr - ctrl.Rptr
}

// Corrupt overwrites the magic of a submitted request.
func (h *Host) Corrupt(c Channel, self, magic uint32) {
	r, _, _ := h.ring(c)
	r.putWord(self, magic)
}

func (h *Host) drain(c Channel, fn func(m Message, payload []byte) error) error {
	r, ctrl, addr := h.ring(c)
	if r.Len() == 0 {
		return fmt.Errorf("drain %v: %w", c, ErrNotReady)
	}
	defer func() { h.mem.PutUint32(addr+ctrlRptr, ctrl.Rptr) }()
	for {
		var m Message
		n, err := r.Get(&ctrl, &m)
		if err != nil {
			ctrl.Rptr = ctrl.Wptr
			return err
		}
		if n == 0 {
			return nil
		}
		payload, err := r.Read(m.Data, m.Length)
		if err != nil {
			return err
		}
		ctrl.Rptr = m.Data + m.Length
		if err := fn(m, payload); err != nil {
			return err
		}
	}
}

// Responses drains the response ring.
func (h *Host) Responses() ([]Reply, error) {
	var out []Reply
	err := h.drain(ChanResponse, func(m Message, payload []byte) error {
		res, err := DecodeResult(m.Command, payload)
		if err != nil {
			return fmt.Errorf("response mid %d: %w", m.MID, err)
		}
		out = append(out, Reply{MID: m.MID, Result: res})
		return nil
	})
	return out, err
}

// Reports drains the report ring.
func (h *Host) Reports() ([]string, error) {
	var out []string
	err := h.drain(ChanReport, func(m Message, payload []byte) error {
		out = append(out, string(bytes.TrimRight(payload, "\x00")))
		return nil
	})
	return out, err
}
