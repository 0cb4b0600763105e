package hostsim

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"npu/hal"
	"npu/mailbox"

	tty "github.com/mattn/go-tty"
)

// ScriptPeer connects to the firmware and replays script. The run ends
// when the script does.
func ScriptPeer(script io.Reader, out io.Writer, cfg mailbox.HostConfig) hal.Peer {
	return func(ctx context.Context, h hal.HAL) error {
		d := New(h, out, cfg)
		if err := d.Connect(ctx); err != nil {
			return err
		}
		return d.Run(ctx, script)
	}
}

// InteractivePeer connects to the firmware and reads commands from the
// controlling terminal until quit or EOF.
func InteractivePeer(cfg mailbox.HostConfig) hal.Peer {
	return func(ctx context.Context, h hal.HAL) error {
		t, err := tty.Open()
		if err != nil {
			return fmt.Errorf("open tty: %w", err)
		}
		defer t.Close()

		out := t.Output()
		d := New(h, out, cfg)
		if err := d.Connect(ctx); err != nil {
			return err
		}

		type input struct {
			line string
			err  error
		}
		lines := make(chan input)
		go func() {
			for {
				fmt.Fprint(out, "npu> ")
				s, err := t.ReadString()
				select {
				case lines <- input{s, err}:
				case <-ctx.Done():
					return
				}
				if err != nil {
					return
				}
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return nil
			case in := <-lines:
				if errors.Is(in.err, io.EOF) {
					return nil
				}
				if in.err != nil {
					return in.err
				}
				err := d.Exec(ctx, strings.TrimSpace(in.line))
				if errors.Is(err, errQuit) {
					return nil
				}
				if err != nil {
					fmt.Fprintf(out, "error: %v\n", err)
				}
			}
		}
	}
}
