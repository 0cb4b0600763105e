// Package console renders the firmware log onto the debug framebuffer.
//
// Lines are queued by WriteLineString/WriteLineBytes from any context and
// drawn by Flush, which the host window calls once per frame.
package console

import (
	"sync"

	"npu/hal"

	"tinygo.org/x/tinyfont"
	"tinygo.org/x/tinyfont/proggy"
	"tinygo.org/x/tinyterm"
)

// MaxPending bounds the lines buffered between two flushes.
const MaxPending = 256

const (
	sgrReset  = "\x1b[0m"
	sgrRed    = "\x1b[31m"
	sgrYellow = "\x1b[33m"
	sgrCyan   = "\x1b[36m"
)

// Font is the terminal font with its line metrics.
var (
	Font       tinyfont.Fonter = &proggy.TinySZ8pt7b
	FontHeight int16           = 10
	FontOffset int16           = 6
)

// Console is a hal.Logger drawing into a framebuffer.
type Console struct {
	mu      sync.Mutex
	d       *Display
	term    *tinyterm.Terminal
	pending []string
	dropped int
	drawn   int
}

// New returns a console on fb. A nil framebuffer yields a console that
// only counts lines.
func New(fb hal.Framebuffer) *Console {
	c := &Console{d: NewDisplay(fb)}
	if fb == nil {
		return c
	}
	fb.ClearRGB(0, 0, 0)
	c.term = tinyterm.NewTerminal(c.d)
	c.term.Configure(&tinyterm.Config{
		Font:              Font,
		FontHeight:        FontHeight,
		FontOffset:        FontOffset,
		UseSoftwareScroll: true,
	})
	return c
}

func (c *Console) WriteLineString(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pending) >= MaxPending {
		c.dropped++
		return
	}
	c.pending = append(c.pending, s)
}

func (c *Console) WriteLineBytes(b []byte) { c.WriteLineString(string(b)) }

// Flush draws the queued lines and presents the framebuffer. It returns
// the number of lines drawn.
func (c *Console) Flush() int {
	c.mu.Lock()
	lines := c.pending
	c.pending = nil
	dropped := c.dropped
	c.dropped = 0
	c.mu.Unlock()

	if len(lines) == 0 && dropped == 0 {
		return 0
	}
	if c.term == nil {
		c.drawn += len(lines)
		return len(lines)
	}
	if dropped > 0 {
		c.line(sgrCyan, "... dropped lines")
	}
	for _, s := range lines {
		c.line(tint(s), s)
	}
	c.drawn += len(lines)
	c.term.Display()
	return len(lines)
}

// Drawn returns the number of lines flushed so far.
func (c *Console) Drawn() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.drawn
}

func (c *Console) line(sgr, s string) {
	if sgr != "" {
		_, _ = c.term.Write([]byte(sgr))
	}
	_, _ = c.term.Write([]byte(s))
	_, _ = c.term.Write([]byte(sgrReset + "\r\n"))
}

// tint picks a colour from the level tag of a klog line.
func tint(s string) string {
	if len(s) < 12 || s[0] != '[' {
		return ""
	}
	switch s[11] {
	case 'E':
		return sgrRed
	case 'W':
		return sgrYellow
	}
	return ""
}
