//go:build !tinygo

// Command mkmailbox writes a shared memory image holding a published
// mailbox header, and inspects or renders existing images.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"npu/hal"
	"npu/mailbox"

	"github.com/fogleman/gg"
)

const defaultImagePath = "sram.bin"

func main() {
	var (
		outPath  string
		inspect  string
		pngPath  string
		segments string
		base     uint
		size     uint
		logLevel uint
		logDRAM  bool
	)
	flag.StringVar(&outPath, "out", defaultImagePath, "Output shared memory image path.")
	flag.StringVar(&inspect, "inspect", "", "Print the header of an existing image instead of writing one.")
	flag.StringVar(&pngPath, "png", "", "Also render the segment map to this PNG file.")
	flag.StringVar(&segments, "seg", "0x1000,0x1000,0x1000,0x1000", "Low, high, response and report segment lengths.")
	flag.UintVar(&base, "base", hal.DefaultSRAMBase, "Device address of the region.")
	flag.UintVar(&size, "size", hal.DefaultSRAMSize, "Region size (bytes).")
	flag.UintVar(&logLevel, "log-level", 0, "Firmware log level published in the header (0 = keep).")
	flag.BoolVar(&logDRAM, "log-dram", true, "Mirror the firmware log to the report ring.")
	flag.Parse()

	region := hal.HostConfig{SRAMBase: uint32(base), SRAMSize: uint32(size)}
	if inspect != "" {
		region.SRAMPath = inspect
		if err := inspectImage(os.Stdout, region, pngPath); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		return
	}

	if outPath == "" {
		fmt.Fprintln(os.Stderr, "error: -out is required")
		os.Exit(2)
	}
	segs, err := parseSegments(segments)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(2)
	}
	cfg := mailbox.HostConfig{Segments: segs, LogLevel: uint32(logLevel), LogDRAM: logDRAM}
	region.SRAMPath = outPath
	if err := run(region, cfg, pngPath); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func parseSegments(s string) ([4]uint32, error) {
	var out [4]uint32
	parts := strings.Split(s, ",")
	if len(parts) != len(out) {
		return out, fmt.Errorf("-seg wants %d lengths, got %d", len(out), len(parts))
	}
	for i, p := range parts {
		v, err := strconv.ParseUint(strings.TrimSpace(p), 0, 32)
		if err != nil {
			return out, fmt.Errorf("-seg %q: %w", p, err)
		}
		out[i] = uint32(v)
	}
	return out, nil
}

// run writes a fresh image with a published header.
func run(region hal.HostConfig, cfg mailbox.HostConfig, pngPath string) error {
	if err := os.Remove(region.SRAMPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove %q: %w", region.SRAMPath, err)
	}
	h := hal.NewWithConfig(region)
	defer h.CPU().Halt()

	mem := h.SharedMemory()
	if err := mailbox.NewHost(mem, h.Interrupts()).Publish(cfg); err != nil {
		return err
	}
	if err := mem.Sync(); err != nil {
		return fmt.Errorf("write %q: %w", region.SRAMPath, err)
	}
	if pngPath == "" {
		return nil
	}
	l := mailbox.LayoutOf(mem)
	hdr, err := mailbox.ReadHeader(mem, l)
	if err != nil {
		return err
	}
	return renderMap(pngPath, l, hdr)
}

func inspectImage(w io.Writer, region hal.HostConfig, pngPath string) error {
	if _, err := os.Stat(region.SRAMPath); err != nil {
		return err
	}
	h := hal.NewWithConfig(region)
	defer h.CPU().Halt()

	mem := h.SharedMemory()
	l := mailbox.LayoutOf(mem)
	hdr, err := mailbox.ReadHeader(mem, l)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "region    %#x+%#x header at %#x\n", l.Base, l.Start-l.Base, l.Header)
	fmt.Fprintf(w, "version   %#x (firmware %#x)\n", hdr.Version, mailbox.Version)
	fmt.Fprintf(w, "max slot  %d\n", hdr.MaxSlot)
	fmt.Fprintf(w, "log       level %d dram %d\n", hdr.LogLevel, hdr.LogDRAM)
	fmt.Fprintf(w, "debug     code %#x time %d\n", hdr.DebugCode, hdr.DebugTime)
	fmt.Fprintf(w, "signature %#x %#x\n", hdr.Signature1, hdr.Signature2)
	for c := mailbox.ChanLow; c <= mailbox.ChanReport; c++ {
		ctrl := hdr.Ctrl(c)
		fmt.Fprintf(w, "%-9v at %#x len %#x wptr %d rptr %d\n", c, l.Segment(ctrl), ctrl.SgmtLen, ctrl.Wptr, ctrl.Rptr)
	}
	if err := hdr.Check(l); err != nil {
		fmt.Fprintf(w, "check     %v\n", err)
	} else {
		fmt.Fprintln(w, "check     ok")
	}
	if pngPath == "" {
		return nil
	}
	return renderMap(pngPath, l, hdr)
}

var segmentColors = [4][3]float64{
	{0.25, 0.55, 0.95},
	{0.95, 0.45, 0.25},
	{0.30, 0.75, 0.40},
	{0.65, 0.45, 0.85},
}

// renderMap draws the region as a vertical bar, highest address on top.
func renderMap(path string, l mailbox.Layout, hdr mailbox.Header) error {
	const (
		width  = 360
		height = 640
		barX   = 20
		barW   = 120
	)
	span := float64(l.Start - l.Base)
	if span <= 0 {
		return fmt.Errorf("render: empty region")
	}
	y := func(addr uint32) float64 { return float64(l.Start-addr) / span * height }

	dc := gg.NewContext(width, height)
	dc.SetRGB(1, 1, 1)
	dc.Clear()

	dc.SetRGB(0.2, 0.2, 0.2)
	dc.DrawRectangle(barX, 0, barW, max(y(l.Header), 2))
	dc.Fill()
	dc.DrawString(fmt.Sprintf("header %#x", l.Header), barX+barW+10, 12)

	for c := mailbox.ChanLow; c <= mailbox.ChanReport; c++ {
		ctrl := hdr.Ctrl(c)
		top := l.Segment(ctrl) + ctrl.SgmtLen
		y0, y1 := y(top), y(l.Segment(ctrl))
		col := segmentColors[c]
		dc.SetRGB(col[0], col[1], col[2])
		dc.DrawRectangle(barX, y0, barW, max(y1-y0, 2))
		dc.Fill()
		dc.SetRGB(0, 0, 0)
		dc.DrawString(fmt.Sprintf("%v %#x+%#x", c, l.Segment(ctrl), ctrl.SgmtLen), barX+barW+10, y0+12)
	}

	dc.SetRGB(0, 0, 0)
	dc.SetLineWidth(1)
	dc.DrawRectangle(barX, 0, barW, height)
	dc.Stroke()
	if err := dc.SavePNG(path); err != nil {
		return fmt.Errorf("render %q: %w", path, err)
	}
	return nil
}
