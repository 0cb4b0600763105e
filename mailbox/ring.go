package mailbox

import (
	"fmt"

	"npu/hal"
)

// Ring is one segment of the shared region addressed through ever-increasing
// byte counters. Every word access wraps on its own, so a header may straddle
// the end of the segment.
type Ring struct {
	mem  hal.SharedMemory
	base uint32
	size uint32
}

// NewRing returns the ring for a control block.
func NewRing(mem hal.SharedMemory, l Layout, c Ctrl) Ring {
	return Ring{mem: mem, base: l.Segment(c), size: c.SgmtLen}
}

// Len returns the segment length.
func (r Ring) Len() uint32 { return r.size }

// Cursor converts a counter to a device address.
func (r Ring) Cursor(counter uint32) uint32 { return r.base + counter%r.size }

func (r Ring) word(counter uint32) uint32 { return r.mem.Uint32(r.Cursor(counter)) }

func (r Ring) putWord(counter, v uint32) { r.mem.PutUint32(r.Cursor(counter), v) }

// ReadHeader decodes the message header at counter at.
func (r Ring) ReadHeader(at uint32) Message {
	return Message{
		Magic:   r.word(at),
		MID:     r.word(at + 4),
		Command: Command(r.word(at + 8)),
		Length:  r.word(at + 12),
		Self:    r.word(at + 16),
		Data:    r.word(at + 20),
	}
}

// WriteHeader encodes m at counter at.
func (r Ring) WriteHeader(at uint32, m Message) {
	r.putWord(at, m.Magic)
	r.putWord(at+4, m.MID)
	r.putWord(at+8, uint32(m.Command))
	r.putWord(at+12, m.Length)
	r.putWord(at+16, m.Self)
	r.putWord(at+20, m.Data)
}

// Read copies n bytes starting at counter at, wrapping as needed.
func (r Ring) Read(at, n uint32) ([]byte, error) {
	out := make([]byte, n)
	for done := uint32(0); done < n; {
		off := (at + done) % r.size
		chunk := min(n-done, r.size-off)
		if _, err := r.mem.ReadAt(out[done:done+chunk], r.base+off); err != nil {
			return nil, err
		}
		done += chunk
	}
	return out, nil
}

// Write copies p starting at counter at, wrapping as needed.
func (r Ring) Write(at uint32, p []byte) error {
	n := uint32(len(p))
	for done := uint32(0); done < n; {
		off := (at + done) % r.size
		chunk := min(n-done, r.size-off)
		if _, err := r.mem.WriteAt(p[done:done+chunk], r.base+off); err != nil {
			return err
		}
		done += chunk
	}
	return nil
}

// Get decodes the message at c.Rptr. It returns 0 when the ring is empty and
// MessageSize otherwise, leaving c.Rptr just past the header; the caller
// moves it past the payload. A header with a bad magic is still returned so
// the caller can answer it.
func (r Ring) Get(c *Ctrl, m *Message) (int, error) {
	avail := c.Wptr - c.Rptr
	if avail == 0 {
		return 0, nil
	}
	if avail < MessageSize {
		return 0, ipcErr("ring get", fmt.Errorf("%d bytes at %#x: %w", avail, c.Rptr, ErrPartial))
	}
	*m = r.ReadHeader(c.Rptr)
	m.Self = c.Rptr
	c.Rptr += MessageSize
	if m.Magic != MessageMagic {
		return MessageSize, ipcErr("ring get", fmt.Errorf("magic %#x at %#x: %w", m.Magic, m.Self, ErrBadMagic))
	}
	return MessageSize, nil
}

// Put appends m and its payload at c.Wptr and advances c.Wptr. When the
// payload would run past the end of the segment the tail is skipped and the
// payload starts at offset 0; the skipped bytes count against the space.
func (r Ring) Put(c *Ctrl, m *Message, payload []byte) error {
	if m.Length == 0 {
		return ipcErr("ring put", ErrEmptyMessage)
	}
	if m.Length&3 != 0 {
		return ipcErr("ring put", fmt.Errorf("length %d: %w", m.Length, ErrMisaligned))
	}
	if uint32(len(payload)) < m.Length {
		return ipcErr("ring put", fmt.Errorf("%d of %d bytes: %w", len(payload), m.Length, ErrPayload))
	}
	if r.size-(c.Wptr-c.Rptr) < MessageSize {
		return ipcErr("ring put", fmt.Errorf("header at %#x: %w", c.Wptr, ErrNoSpace))
	}

	tail := r.size - (c.Wptr+MessageSize)%r.size
	data := c.Wptr + MessageSize
	next := data + m.Length
	if m.Length > tail {
		data += tail
		next += tail
	}
	if next-c.Rptr > r.size {
		return ipcErr("ring put", fmt.Errorf("%d bytes at %#x: %w", m.Length, c.Wptr, ErrNoSpace))
	}

	m.Magic = MessageMagic
	m.Self = c.Wptr
	m.Data = data
	if err := r.Write(data, payload[:m.Length]); err != nil {
		return ipcErr("ring put", err)
	}
	r.WriteHeader(c.Wptr, *m)
	c.Wptr = next
	return nil
}
