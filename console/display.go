package console

import (
	"image/color"

	"npu/hal"

	"tinygo.org/x/drivers"
)

// Display adapts an RGB565 framebuffer to the tinyfont and tinyterm
// drawing interfaces.
type Display struct {
	fb hal.Framebuffer
}

// NewDisplay wraps fb. A nil framebuffer draws nothing.
func NewDisplay(fb hal.Framebuffer) *Display {
	return &Display{fb: fb}
}

func (d *Display) ok() bool {
	return d.fb != nil && d.fb.Format() == hal.PixelFormatRGB565 && d.fb.Buffer() != nil
}

func (d *Display) Size() (x, y int16) {
	if d.fb == nil {
		return 0, 0
	}
	return int16(d.fb.Width()), int16(d.fb.Height())
}

func (d *Display) SetPixel(x, y int16, c color.RGBA) {
	if !d.ok() {
		return
	}
	ix, iy := int(x), int(y)
	if ix < 0 || ix >= d.fb.Width() || iy < 0 || iy >= d.fb.Height() {
		return
	}
	buf := d.fb.Buffer()
	off := iy*d.fb.StrideBytes() + ix*2
	if off+1 >= len(buf) {
		return
	}
	px := hal.RGB565(c.R, c.G, c.B)
	buf[off] = byte(px)
	buf[off+1] = byte(px >> 8)
}

func (d *Display) Display() error {
	if d.fb == nil {
		return nil
	}
	return d.fb.Present()
}

// ScrollUp moves the picture up by pixels rows and clears the bottom.
func (d *Display) ScrollUp(pixels int16, bg color.RGBA) error {
	if !d.ok() || pixels <= 0 {
		return nil
	}
	w, h := d.fb.Width(), d.fb.Height()
	n := int(pixels)
	if n >= h {
		return d.FillRectangle(0, 0, int16(w), int16(h), bg)
	}
	buf := d.fb.Buffer()
	stride := d.fb.StrideBytes()
	keep := min((h-n)*stride, len(buf)-n*stride)
	copy(buf[:keep], buf[n*stride:n*stride+keep])
	return d.FillRectangle(0, int16(h-n), int16(w), int16(n), bg)
}

func (d *Display) FillRectangle(x, y, width, height int16, c color.RGBA) error {
	if !d.ok() {
		return nil
	}
	w, h := d.fb.Width(), d.fb.Height()
	x0, x1 := clamp(int(x), 0, w), clamp(int(x)+int(width), 0, w)
	y0, y1 := clamp(int(y), 0, h), clamp(int(y)+int(height), 0, h)
	if x0 >= x1 || y0 >= y1 {
		return nil
	}
	px := hal.RGB565(c.R, c.G, c.B)
	lo, hi := byte(px), byte(px>>8)
	buf := d.fb.Buffer()
	stride := d.fb.StrideBytes()
	for py := y0; py < y1; py++ {
		row := py * stride
		for qx := x0; qx < x1; qx++ {
			off := row + qx*2
			if off+1 >= len(buf) {
				break
			}
			buf[off] = lo
			buf[off+1] = hi
		}
	}
	return nil
}

// SetScroll is a no-op: the framebuffer has no hardware scroll.
func (d *Display) SetScroll(line int16) {}

func (d *Display) SetRotation(rotation drivers.Rotation) error { return nil }

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
