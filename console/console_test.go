package console

import (
	"image/color"
	"strings"
	"testing"

	"npu/hal"
)

func testFB(t *testing.T) hal.Framebuffer {
	t.Helper()
	h := hal.NewWithConfig(hal.HostConfig{FBWidth: 160, FBHeight: 40})
	t.Cleanup(h.CPU().Halt)
	return h.Display().Framebuffer()
}

func lit(fb hal.Framebuffer) int {
	n := 0
	buf := fb.Buffer()
	for i := 0; i+1 < len(buf); i += 2 {
		if buf[i] != 0 || buf[i+1] != 0 {
			n++
		}
	}
	return n
}

func TestFlushDrawsLines(t *testing.T) {
	fb := testFB(t)
	c := New(fb)
	if got := c.Flush(); got != 0 {
		t.Fatalf("Flush() on empty console = %d, want 0", got)
	}
	c.WriteLineString("[       1] I mbx: ready")
	c.WriteLineBytes([]byte("[       2] E mbx: version mismatch"))
	if got := lit(fb); got != 0 {
		t.Fatalf("pixels before Flush = %d, want 0", got)
	}
	if got := c.Flush(); got != 2 {
		t.Fatalf("Flush() = %d, want 2", got)
	}
	if lit(fb) == 0 {
		t.Fatal("Flush() drew nothing")
	}
	if got := c.Drawn(); got != 2 {
		t.Fatalf("Drawn() = %d, want 2", got)
	}
}

func TestScrollKeepsDrawing(t *testing.T) {
	fb := testFB(t)
	c := New(fb)
	for i := 0; i < 20; i++ {
		c.WriteLineString(strings.Repeat("x", 30))
	}
	c.Flush()
	if lit(fb) == 0 {
		t.Fatal("nothing visible after scrolling")
	}
}

func TestPendingBound(t *testing.T) {
	c := New(nil)
	for i := 0; i < MaxPending+5; i++ {
		c.WriteLineString("line")
	}
	if got := c.Flush(); got != MaxPending {
		t.Fatalf("Flush() = %d, want %d", got, MaxPending)
	}
}

func TestTint(t *testing.T) {
	cases := []struct {
		line string
		want string
	}{
		{"[       5] E kern: fault", sgrRed},
		{"[       5] W mbx: resync", sgrYellow},
		{"[       5] I mbx: ready", ""},
		{"plain", ""},
	}
	for _, tc := range cases {
		if got := tint(tc.line); got != tc.want {
			t.Fatalf("tint(%q) = %q, want %q", tc.line, got, tc.want)
		}
	}
}

func TestDisplayFillAndScroll(t *testing.T) {
	fb := testFB(t)
	d := NewDisplay(fb)
	red := color.RGBA{R: 255, A: 255}
	if err := d.FillRectangle(0, 30, 160, 10, red); err != nil {
		t.Fatalf("FillRectangle error: %v", err)
	}
	if got, want := lit(fb), 160*10; got != want {
		t.Fatalf("lit = %d, want %d", got, want)
	}
	if err := d.ScrollUp(10, color.RGBA{}); err != nil {
		t.Fatalf("ScrollUp error: %v", err)
	}
	buf := fb.Buffer()
	off := 20*fb.StrideBytes() + 5*2
	if got := uint16(buf[off]) | uint16(buf[off+1])<<8; got != hal.RGB565(255, 0, 0) {
		t.Fatalf("pixel after scroll = %#x, want %#x", got, hal.RGB565(255, 0, 0))
	}
	if got, want := lit(fb), 160*10; got != want {
		t.Fatalf("lit after scroll = %d, want %d", got, want)
	}
	d.SetPixel(-1, 500, red)
}
