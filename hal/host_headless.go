//go:build !tinygo

package hal

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// Peer runs on the host side next to the firmware, for example a mailbox
// driver replaying a command script. When a peer returns, the run ends.
type Peer func(ctx context.Context, h HAL) error

// HeadlessConfig controls the no-window host runner.
type HeadlessConfig struct {
	Enabled bool
	Hz      int
	Ticks   uint64
	// StepBudget is the number of timer ticks emitted per host step.
	StepBudget int

	Host  HostConfig
	Peers []Peer
}

// RunHeadless runs the firmware without opening a window.
func RunHeadless(ctx context.Context, newApp func(HAL) func() error, cfg HeadlessConfig) error {
	if cfg.Hz <= 0 {
		cfg.Hz = 1000
	}
	if cfg.StepBudget <= 0 {
		cfg.StepBudget = 1
	}
	if cfg.Host.SRAMSize == 0 {
		cfg.Host = DefaultHostConfig()
	}

	d := time.Second / time.Duration(cfg.Hz)
	if d <= 0 {
		return fmt.Errorf("invalid headless hz: %d", cfg.Hz)
	}

	h := NewWithConfig(cfg.Host).(*hostHAL)
	defer h.cpu.Halt()
	step := newApp(h)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()
		t := time.NewTicker(d)
		defer t.Stop()

		var tick uint64
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-t.C:
				h.t.advance(uint64(cfg.StepBudget))
				if step != nil {
					if err := step(); err != nil {
						return err
					}
				}
				tick++
				if cfg.Ticks > 0 && tick >= cfg.Ticks {
					return nil
				}
			}
		}
	})
	for _, p := range cfg.Peers {
		p := p
		g.Go(func() error {
			defer cancel()
			return p(ctx, h)
		})
	}
	return g.Wait()
}
