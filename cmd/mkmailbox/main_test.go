//go:build !tinygo

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"npu/hal"
	"npu/mailbox"
)

func TestWriteAndInspect(t *testing.T) {
	dir := t.TempDir()
	region := hal.HostConfig{SRAMBase: 0x10000, SRAMSize: 0x8000, SRAMPath: filepath.Join(dir, "sram.bin")}
	cfg := mailbox.DefaultHostConfig()
	cfg.LogLevel = 4

	if err := run(region, cfg, ""); err != nil {
		t.Fatalf("run error: %v", err)
	}
	st, err := os.Stat(region.SRAMPath)
	if err != nil {
		t.Fatalf("Stat error: %v", err)
	}
	if st.Size() != int64(region.SRAMSize) {
		t.Fatalf("image size = %d, want %d", st.Size(), region.SRAMSize)
	}

	var out bytes.Buffer
	pngPath := filepath.Join(dir, "map.png")
	if err := inspectImage(&out, region, pngPath); err != nil {
		t.Fatalf("inspectImage error: %v", err)
	}
	for _, want := range []string{"check     ok", "log       level 4 dram 1", "version   0x80007"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("inspect output missing %q:\n%s", want, out.String())
		}
	}
	if _, err := os.Stat(pngPath); err != nil {
		t.Fatalf("png not written: %v", err)
	}
}

func TestRunRejectsOversizedSegments(t *testing.T) {
	region := hal.HostConfig{SRAMBase: 0x10000, SRAMSize: 0x8000, SRAMPath: filepath.Join(t.TempDir(), "sram.bin")}
	cfg := mailbox.HostConfig{Segments: [4]uint32{0x4000, 0x4000, 0x4000, 0x4000}}
	if err := run(region, cfg, ""); err == nil {
		t.Fatal("run with oversized segments succeeded")
	}
}

func TestParseSegments(t *testing.T) {
	got, err := parseSegments("0x100, 256,0x1000,4096")
	if err != nil {
		t.Fatalf("parseSegments error: %v", err)
	}
	if want := [4]uint32{0x100, 0x100, 0x1000, 0x1000}; got != want {
		t.Fatalf("parseSegments = %v, want %v", got, want)
	}
	for _, bad := range []string{"1,2,3", "1,2,3,x"} {
		if _, err := parseSegments(bad); err == nil {
			t.Fatalf("parseSegments(%q) succeeded", bad)
		}
	}
}
