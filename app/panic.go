package app

import (
	"fmt"
	"image/color"
	"strings"
	"unicode/utf8"

	"npu/console"
	"npu/hal"
	"npu/kernel"

	"tinygo.org/x/tinyfont"
)

// installPanicHandler logs a fatal fault and paints it over the debug
// framebuffer. With hold set the faulting task is parked afterwards.
func installPanicHandler(h hal.HAL, hold bool) {
	kernel.SetPanicHandler(func(info kernel.PanicInfo) {
		lines := panicLines(info)
		if l := h.Logger(); l != nil {
			for _, line := range lines {
				l.WriteLineString(line)
			}
		}

		if disp := h.Display(); disp != nil {
			if fb := disp.Framebuffer(); fb != nil {
				drawPanic(fb, lines)
			}
		}
		if hold {
			select {}
		}
	})
}

func panicLines(info kernel.PanicInfo) []string {
	lines := []string{
		"NPU fatal:",
		fmt.Sprintf("task: %d %s", info.TaskID, info.Task),
		fmt.Sprintf("panic: %v", info.Value),
	}
	if len(info.Stack) == 0 {
		return append(lines, "stack: unavailable")
	}
	lines = append(lines, "stack:")
	for _, line := range strings.Split(string(info.Stack), "\n") {
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func drawPanic(fb hal.Framebuffer, lines []string) {
	fb.ClearRGB(255, 255, 255)
	d := console.NewDisplay(fb)

	font := console.Font
	_, outboxWidth := tinyfont.LineWidth(font, "0")
	fontWidth := int16(outboxWidth)
	fontHeight, fontOffset := console.FontHeight, console.FontOffset
	if fontWidth <= 0 || fontHeight <= 0 {
		_ = fb.Present()
		return
	}

	fg := color.RGBA{R: 0, G: 0, B: 0, A: 255}
	maxH := int16(fb.Height())
	cols := max(int16(fb.Width())/fontWidth, 1)

	y := int16(0)
	for _, line := range lines {
		for len(line) > 0 {
			if y+fontHeight > maxH {
				_ = fb.Present()
				return
			}
			chunk, rest := takeRunes(line, cols)
			drawTextLine(d, font, fontWidth, fontOffset, 0, y, chunk, fg)
			y += fontHeight
			line = strings.TrimLeft(rest, " ")
		}
	}
	_ = fb.Present()
}

func drawTextLine(
	d *console.Display,
	font tinyfont.Fonter,
	fontWidth, fontOffset int16,
	x0, y0 int16,
	s string,
	fg color.RGBA,
) {
	drawX := x0
	for _, r := range s {
		tinyfont.DrawChar(d, font, drawX, y0+fontOffset, r, fg)
		drawX += fontWidth
	}
}

func takeRunes(s string, n int16) (prefix, rest string) {
	if n <= 0 || s == "" {
		return "", s
	}
	if int64(len(s)) <= int64(n) {
		return s, ""
	}
	var i int
	var count int16
	for i < len(s) && count < n {
		_, size := utf8.DecodeRuneInString(s[i:])
		if size <= 0 {
			break
		}
		i += size
		count++
	}
	if i >= len(s) {
		return s, ""
	}
	return s[:i], s[i:]
}
