//go:build !tinygo

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"npu/app"
	"npu/hal"
	"npu/hostsim"
	"npu/internal/buildinfo"
	"npu/klog"
	"npu/mailbox"
)

func main() {
	var cfg hal.HeadlessConfig
	var (
		logLevel    string
		script      string
		interactive bool
		monitor     uint
		noSlices    bool
		showVersion bool
	)
	cfg.Host = hal.DefaultHostConfig()
	flag.BoolVar(&cfg.Enabled, "headless", false, "Run without a window.")
	flag.IntVar(&cfg.Hz, "hz", 1000, "Host step rate in headless mode.")
	flag.Uint64Var(&cfg.Ticks, "ticks", 0, "Stop after N steps in headless mode (0 = run forever).")
	flag.StringVar(&logLevel, "log-level", "info", "Firmware log level: off|error|warn|info|debug.")
	flag.StringVar(&script, "script", "", "Replay a host command script against the firmware.")
	flag.BoolVar(&interactive, "interactive", false, "Read host commands from the terminal.")
	flag.StringVar(&cfg.Host.SRAMPath, "sram", cfg.Host.SRAMPath, "Shared memory image for headless mode (default $NPU_SRAM_PATH).")
	flag.UintVar(&monitor, "monitor", 0, "Dump kernel state every N ticks (0 = off).")
	flag.BoolVar(&noSlices, "no-slices", false, "Do not consume task quanta on timer ticks.")
	flag.BoolVar(&showVersion, "version", false, "Print the build version and exit.")
	flag.Parse()

	if showVersion {
		fmt.Println(buildinfo.String())
		return
	}
	level, err := klog.ParseLevel(logLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(2)
	}
	if script != "" && interactive {
		fmt.Fprintln(os.Stderr, "error: -script and -interactive are exclusive")
		os.Exit(2)
	}

	appCfg := app.DefaultConfig()
	appCfg.LogLevel = level
	appCfg.MonitorTicks = uint32(monitor)
	appCfg.NoSliceCount = noSlices
	appCfg.HoldOnPanic = !cfg.Enabled
	newApp := func(h hal.HAL) func() error { return app.NewWithConfig(h, appCfg) }

	hostCfg := mailbox.DefaultHostConfig()
	hostCfg.LogLevel = uint32(level)
	switch {
	case script != "":
		f, err := os.Open(script)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		defer f.Close()
		cfg.Peers = append(cfg.Peers, hostsim.ScriptPeer(f, os.Stdout, hostCfg))
	case interactive:
		cfg.Peers = append(cfg.Peers, hostsim.InteractivePeer(hostCfg))
	}

	if cfg.Enabled {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		err = hal.RunHeadless(ctx, newApp, cfg)
	} else {
		err = hal.RunWindow(newApp, cfg.Peers...)
	}
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, app.ErrPowerdown) {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
