//go:build !tinygo

package hal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
)

// Default placement of the shared region. The mailbox header sits at its top.
const (
	DefaultSRAMBase = 0x00400000
	DefaultSRAMSize = 0x00040000
)

type hostSRAM struct {
	mu   sync.Mutex
	base uint32
	mem  []byte
	path string
}

func newHostSRAM(base, size uint32, path string) *hostSRAM {
	if size == 0 {
		base, size = DefaultSRAMBase, DefaultSRAMSize
	}
	s := &hostSRAM{base: base, mem: make([]byte, size), path: path}
	if path == "" {
		return s
	}
	data, err := os.ReadFile(path)
	if err == nil {
		copy(s.mem, data)
	} else if !errors.Is(err, fs.ErrNotExist) {
		s.path = ""
	}
	return s
}

func (s *hostSRAM) Base() uint32 { return s.base }
func (s *hostSRAM) Size() uint32 { return uint32(len(s.mem)) }

func (s *hostSRAM) span(addr uint32, n int) (int, error) {
	if addr < s.base || uint64(addr)+uint64(n) > uint64(s.base)+uint64(len(s.mem)) {
		return 0, fmt.Errorf("sram %#x+%d: %w", addr, n, ErrBadAddress)
	}
	return int(addr - s.base), nil
}

func (s *hostSRAM) ReadAt(p []byte, addr uint32) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	off, err := s.span(addr, len(p))
	if err != nil {
		return 0, err
	}
	return copy(p, s.mem[off:]), nil
}

func (s *hostSRAM) WriteAt(p []byte, addr uint32) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	off, err := s.span(addr, len(p))
	if err != nil {
		return 0, err
	}
	return copy(s.mem[off:], p), nil
}

// Uint32 reads a word; out-of-range reads return 0.
func (s *hostSRAM) Uint32(addr uint32) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	off, err := s.span(addr, 4)
	if err != nil {
		return 0
	}
	return binary.LittleEndian.Uint32(s.mem[off:])
}

// PutUint32 writes a word; out-of-range writes are dropped.
func (s *hostSRAM) PutUint32(addr uint32, v uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	off, err := s.span(addr, 4)
	if err != nil {
		return
	}
	binary.LittleEndian.PutUint32(s.mem[off:], v)
}

func (s *hostSRAM) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.path == "" {
		return nil
	}
	if err := os.WriteFile(s.path, s.mem, 0o644); err != nil {
		return fmt.Errorf("sram sync %s: %w", s.path, err)
	}
	return nil
}
