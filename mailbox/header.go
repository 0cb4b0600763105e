// Package mailbox implements the host/firmware message protocol over the
// shared memory region: two downward request rings, the upward response
// ring with its slot pool, the report ring, and the message hub that routes
// requests to command handlers.
package mailbox

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"npu/hal"
)

const (
	// HeaderSize is the size of the mailbox header at the top of the region.
	HeaderSize = 132
	// MessageSize is the size of one ring message header.
	MessageSize = 24

	Version    = 0x80007
	Signature1 = 0x0C0FFEE0
	Signature2 = 0xC0DEC0DE
	// DebugCode is written by the firmware before the handshake.
	DebugCode = 0x14

	MessageMagic  = 0xC0DECAFE
	ResponseMagic = 0xCAFEC0DE

	NumMessages = 32
	NumCommands = 8
)

// Ctrl is one ring control block. wptr and rptr are ever-increasing byte
// counters; the buffer offset is the counter modulo SgmtLen.
type Ctrl struct {
	SgmtOfs uint32
	SgmtLen uint32
	Wptr    uint32
	Rptr    uint32
}

const (
	ctrlOfs  = 0
	ctrlLen  = 4
	ctrlWptr = 8
	ctrlRptr = 12
	ctrlSize = 16
)

// Header is the mailbox header shared with the host driver.
type Header struct {
	MaxSlot   uint32
	DebugTime uint32
	DebugCode uint32
	LogLevel  uint32
	LogDRAM   uint32
	Reserved  [8]uint32
	H2F       [2]Ctrl
	F2H       [2]Ctrl
	TotSize   uint32
	Version   uint32
	// Signature2 is written by the host to acknowledge Signature1.
	Signature2 uint32
	Signature1 uint32
}

// Byte offsets of the header fields.
const (
	offMaxSlot    = 0
	offDebugTime  = 4
	offDebugCode  = 8
	offLogLevel   = 12
	offLogDRAM    = 16
	offH2F        = 52
	offF2H        = offH2F + 2*ctrlSize
	offTotSize    = offF2H + 2*ctrlSize
	offVersion    = offTotSize + 4
	offSignature2 = offVersion + 4
	offSignature1 = offSignature2 + 4
)

// Channel names a control block.
type Channel uint8

const (
	// ChanLow and ChanHigh are the downward request rings.
	ChanLow Channel = iota
	ChanHigh
	// ChanResponse and ChanReport are the upward rings.
	ChanResponse
	ChanReport
)

func (c Channel) String() string {
	switch c {
	case ChanLow:
		return "low"
	case ChanHigh:
		return "high"
	case ChanResponse:
		return "response"
	case ChanReport:
		return "report"
	default:
		return fmt.Sprintf("channel(%d)", uint8(c))
	}
}

// ParseChannel maps a channel name to its value.
func ParseChannel(s string) (Channel, error) {
	for c := ChanLow; c <= ChanReport; c++ {
		if c.String() == s {
			return c, nil
		}
	}
	return 0, fmt.Errorf("channel %q: %w", s, ErrBadChannel)
}

// Event IDs and interrupt lines of the channels.
const (
	eventBase = 0x46

	EventLow      = eventBase + 0
	EventHigh     = eventBase + 2
	EventResponse = eventBase + 3
	EventReport   = eventBase + 4

	IRQLow     = 0x70
	IRQLowAlt  = 0x160
	IRQHigh    = 0x71
	IRQHighAlt = 0x161
)

// Layout locates the header inside a shared region: the header sits just
// below start, the top of the region, and segments hang below it.
type Layout struct {
	Start  uint32
	Header uint32
	Base   uint32
}

// LayoutOf returns the layout of a shared region.
func LayoutOf(mem hal.SharedMemory) Layout {
	start := mem.Base() + mem.Size()
	return Layout{Start: start, Header: start - HeaderSize, Base: mem.Base()}
}

func (l Layout) ctrl(c Channel) uint32 {
	if c <= ChanHigh {
		return l.Header + offH2F + uint32(c)*ctrlSize
	}
	return l.Header + offF2H + uint32(c-ChanResponse)*ctrlSize
}

// Segment returns the first byte of a ring segment.
func (l Layout) Segment(c Ctrl) uint32 { return l.Start - c.SgmtOfs }

// ReadHeader decodes the header from shared memory.
func ReadHeader(mem hal.SharedMemory, l Layout) (Header, error) {
	var buf [HeaderSize]byte
	if _, err := mem.ReadAt(buf[:], l.Header); err != nil {
		return Header{}, fmt.Errorf("read header: %w", err)
	}
	var h Header
	if err := binary.Read(bytes.NewReader(buf[:]), binary.LittleEndian, &h); err != nil {
		return Header{}, fmt.Errorf("decode header: %w", err)
	}
	return h, nil
}

// WriteHeader encodes the header into shared memory.
func WriteHeader(mem hal.SharedMemory, l Layout, h Header) error {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, &h); err != nil {
		return fmt.Errorf("encode header: %w", err)
	}
	if _, err := mem.WriteAt(buf.Bytes(), l.Header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	return nil
}

// Ctrl returns a channel's control block.
func (h *Header) Ctrl(c Channel) Ctrl {
	if c <= ChanHigh {
		return h.H2F[c]
	}
	return h.F2H[c-ChanResponse]
}

// Check validates the ring geometry: every segment length is a power of two
// and every segment lies between the region base and the header.
func (h *Header) Check(l Layout) error {
	for c := ChanLow; c <= ChanReport; c++ {
		ctrl := h.Ctrl(c)
		if ctrl.SgmtLen == 0 || ctrl.SgmtLen&(ctrl.SgmtLen-1) != 0 {
			return ipcErr("check header", fmt.Errorf("%v segment length %#x: %w", c, ctrl.SgmtLen, ErrBadHeader))
		}
		if ctrl.SgmtOfs < HeaderSize+ctrl.SgmtLen || ctrl.SgmtOfs > l.Start-l.Base {
			return ipcErr("check header", fmt.Errorf("%v segment at -%#x+%#x: %w", c, ctrl.SgmtOfs, ctrl.SgmtLen, ErrBadHeader))
		}
	}
	return nil
}

func loadCtrl(mem hal.SharedMemory, addr uint32) Ctrl {
	return Ctrl{
		SgmtOfs: mem.Uint32(addr + ctrlOfs),
		SgmtLen: mem.Uint32(addr + ctrlLen),
		Wptr:    mem.Uint32(addr + ctrlWptr),
		Rptr:    mem.Uint32(addr + ctrlRptr),
	}
}
