//go:build !tinygo

package hal

import (
	"sync"
	"sync/atomic"
)

// hostFramebuffer is the debug console surface. Present publishes the
// buffer; the window only copies frames it has not shown yet.
type hostFramebuffer struct {
	mu     sync.Mutex
	width  int
	height int
	buf    []byte

	presented atomic.Uint64
}

func newHostFramebuffer(width, height int) *hostFramebuffer {
	return &hostFramebuffer{width: width, height: height, buf: make([]byte, width*height*2)}
}

func (f *hostFramebuffer) Width() int          { return f.width }
func (f *hostFramebuffer) Height() int         { return f.height }
func (f *hostFramebuffer) Format() PixelFormat { return PixelFormatRGB565 }
func (f *hostFramebuffer) StrideBytes() int    { return f.width * 2 }
func (f *hostFramebuffer) Buffer() []byte      { return f.buf }

func (f *hostFramebuffer) Present() error {
	f.presented.Add(1)
	return nil
}

func (f *hostFramebuffer) ClearRGB(r, g, b uint8) {
	f.mu.Lock()
	defer f.mu.Unlock()
	putRGB565(f.buf, RGB565(r, g, b))
}

// copyIfNewer copies the buffer into dst when a frame newer than seen was
// presented and returns the sequence of the frame now in dst.
func (f *hostFramebuffer) copyIfNewer(dst []byte, seen uint64) (uint64, bool) {
	seq := f.presented.Load()
	if seq == seen {
		return seen, false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	copy(dst, f.buf)
	return seq, true
}

func putRGB565(buf []byte, pixel uint16) {
	for i := 0; i+1 < len(buf); i += 2 {
		buf[i] = byte(pixel)
		buf[i+1] = byte(pixel >> 8)
	}
}
