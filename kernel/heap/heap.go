// Package heap implements the kernel's first-fit, address-ordered,
// coalescing allocator over a fixed arena.
//
// Chunks are addressed with 32-bit addresses inside the arena. A chunk
// starts with a 4-byte size word (header included, multiple of 8); while the
// chunk is free the following word links to the next free chunk. Allocated
// payloads start right after the size word and are 8-byte aligned.
package heap

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Addr is an address inside the arena. Zero is the nil address.
type Addr uint32

const (
	// MinChunkSize is the smallest chunk that can be split off.
	MinChunkSize = 8

	headerSize = 4
	frontSize  = 16
)

// Default arena bounds of the NPU firmware.
const (
	DefaultStart Addr = 0x80000
	DefaultEnd   Addr = 0xE0000
)

var (
	ErrArenaTooSmall = errors.New("heap: arena too small")
	ErrSizeOverflow  = errors.New("heap: size overflow")
	ErrNoMemory      = errors.New("heap: out of memory")
	ErrBadPointer    = errors.New("heap: bad pointer")
	ErrDoubleFree    = errors.New("heap: double free")
)

// Heap is not safe for concurrent use; the kernel calls it with interrupts
// masked.
type Heap struct {
	mem  []byte
	base Addr
	end  Addr

	// freelist is the sentinel chunk kept in the front header.
	freelist Addr
	start    Addr
	usable   uint32
}

// Chunk describes one free chunk.
type Chunk struct {
	Addr Addr
	Size uint32
}

// Stats summarises the free list.
type Stats struct {
	Free    uint32
	Used    uint32
	Chunks  int
	Largest uint32
}

// New builds a heap over [base, base+size). The whole usable region becomes
// one free chunk.
func New(base Addr, size uint32) (*Heap, error) {
	end := uint64(base) + uint64(size)
	if end >= 1<<32 {
		return nil, fmt.Errorf("heap at %#x size %#x: %w", base, size, ErrBadPointer)
	}
	if size < frontSize+MinChunkSize+8 {
		return nil, fmt.Errorf("heap size %#x: %w", size, ErrArenaTooSmall)
	}

	h := &Heap{
		mem:      make([]byte, size),
		base:     base,
		end:      Addr(end),
		freelist: base,
	}
	h.setSize(h.freelist, 0)
	h.setNext(h.freelist, 0)

	start := ((base + frontSize + 3) &^ 7) + headerSize
	if uint64(start)+MinChunkSize > end {
		return nil, fmt.Errorf("heap size %#x: %w", size, ErrArenaTooSmall)
	}
	usable := (uint32(h.end) - uint32(start)) &^ 7
	if usable < MinChunkSize {
		return nil, fmt.Errorf("heap size %#x: %w", size, ErrArenaTooSmall)
	}
	h.start = start
	h.usable = usable
	h.setSize(start, usable)
	h.setNext(start, 0)
	h.setNext(h.freelist, start)
	return h, nil
}

// Usable returns the address and size of the region chunks are carved from.
func (h *Heap) Usable() (Addr, uint32) { return h.start, h.usable }

// Alloc returns the payload address of a chunk holding at least n bytes.
func (h *Heap) Alloc(n uint32) (Addr, error) {
	need := (n + headerSize + 7) &^ 7
	if need <= n {
		return 0, fmt.Errorf("alloc %d: %w", n, ErrSizeOverflow)
	}

	prev := h.freelist
	cur := h.next(prev)
	for cur != 0 && h.size(cur) < need {
		prev = cur
		cur = h.next(cur)
	}
	if cur == 0 {
		return 0, fmt.Errorf("alloc %d: %w", n, ErrNoMemory)
	}

	if size := h.size(cur); size >= need+MinChunkSize {
		rest := cur + Addr(need)
		h.setSize(rest, size-need)
		h.setNext(rest, h.next(cur))
		h.setNext(prev, rest)
		h.setSize(cur, need)
	} else {
		h.setNext(prev, h.next(cur))
	}
	return cur + headerSize, nil
}

// Free returns the chunk owning payload address p to the free list,
// merging it with contiguous free neighbours. Freeing 0 is a no-op.
func (h *Heap) Free(p Addr) error {
	if p == 0 {
		return nil
	}
	c := p - headerSize
	if p < h.start+headerSize || p >= h.end || (c-h.start)%8 != 0 {
		return fmt.Errorf("free %#x: %w", p, ErrBadPointer)
	}
	size := h.size(c)
	if size < MinChunkSize || size%8 != 0 || uint64(c)+uint64(size) > uint64(h.start)+uint64(h.usable) {
		return fmt.Errorf("free %#x: %w", p, ErrBadPointer)
	}

	prev := h.freelist
	next := h.next(prev)
	for next != 0 && next < c {
		prev = next
		next = h.next(next)
	}
	if next == c || (prev != h.freelist && prev+Addr(h.size(prev)) > c) {
		return fmt.Errorf("free %#x: %w", p, ErrDoubleFree)
	}
	if next != 0 && c+Addr(size) > next {
		return fmt.Errorf("free %#x: %w", p, ErrDoubleFree)
	}

	cur := c
	if prev != h.freelist && prev+Addr(h.size(prev)) == c {
		h.setSize(prev, h.size(prev)+size)
		cur = prev
	} else {
		h.setNext(prev, c)
	}
	if next != 0 && cur+Addr(h.size(cur)) == next {
		h.setNext(cur, h.next(next))
		h.setSize(cur, h.size(cur)+h.size(next))
	} else {
		h.setNext(cur, next)
	}
	return nil
}

// Bytes returns the n bytes at payload address p, or nil when out of range.
func (h *Heap) Bytes(p Addr, n uint32) []byte {
	if p < h.base || uint64(p)+uint64(n) > uint64(h.end) {
		return nil
	}
	off := uint32(p - h.base)
	return h.mem[off : off+n : off+n]
}

// FreeChunks lists the free list in address order.
func (h *Heap) FreeChunks() []Chunk {
	var out []Chunk
	for c := h.next(h.freelist); c != 0; c = h.next(c) {
		out = append(out, Chunk{Addr: c, Size: h.size(c)})
	}
	return out
}

func (h *Heap) Stats() Stats {
	var s Stats
	for c := h.next(h.freelist); c != 0; c = h.next(c) {
		size := h.size(c)
		s.Free += size
		s.Chunks++
		if size > s.Largest {
			s.Largest = size
		}
	}
	s.Used = h.usable - s.Free
	return s
}

func (h *Heap) word(a Addr) []byte {
	off := uint32(a - h.base)
	return h.mem[off : off+4]
}

func (h *Heap) size(c Addr) uint32        { return binary.LittleEndian.Uint32(h.word(c)) }
func (h *Heap) setSize(c Addr, v uint32)  { binary.LittleEndian.PutUint32(h.word(c), v) }
func (h *Heap) next(c Addr) Addr          { return Addr(binary.LittleEndian.Uint32(h.word(c + 4))) }
func (h *Heap) setNext(c Addr, next Addr) { binary.LittleEndian.PutUint32(h.word(c+4), uint32(next)) }
