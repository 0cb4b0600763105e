package hostsim

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"npu/hal"
	"npu/kernel"
	"npu/mailbox"
)

// firmware boots a kernel serving the mailbox with two handlers.
func firmware(t *testing.T) hal.HAL {
	t.Helper()
	h := hal.NewWithConfig(hal.HostConfig{SRAMBase: 0x10000, SRAMSize: 0x8000})
	t.Cleanup(h.CPU().Halt)
	k := kernel.New(kernel.Config{CPU: h.CPU(), IRQ: h.Interrupts()})
	if err := k.EnableTick(); err != nil {
		t.Fatalf("EnableTick error: %v", err)
	}
	m, err := mailbox.New(k, h.SharedMemory(), nil)
	if err != nil {
		t.Fatalf("mailbox.New error: %v", err)
	}
	if err := m.RequestIRQs(); err != nil {
		t.Fatalf("RequestIRQs error: %v", err)
	}
	_ = m.Hub.Register(mailbox.CmdFWTest, func(req *mailbox.Request) error {
		w, err := req.Word(1)
		if err != nil {
			w = 0
		}
		p, err := req.Word(0)
		if err != nil {
			return err
		}
		return req.Complete(mailbox.Done(p + w))
	})
	_ = m.Hub.Register(mailbox.CmdPowerdown, func(req *mailbox.Request) error {
		return req.Complete(mailbox.Done(0))
	})

	spawn := func(name string, prio int, fn kernel.TaskFunc) {
		id, err := k.CreateTask(kernel.TaskSpec{Name: name, Priority: prio, Handler: fn, MaxSlices: 100, StackAddr: 0x1000, StackSize: 0x400})
		if err != nil {
			t.Fatalf("CreateTask(%q) error: %v", name, err)
		}
		if err := k.Resume(id); err != nil {
			t.Fatalf("Resume(%q) error: %v", name, err)
		}
	}
	spawn("__MON", 0, func(ctx *kernel.Context) {
		if err := m.Init(ctx); err != nil {
			ctx.Kernel().Shutdown()
		}
	})
	spawn("_IDLE", kernel.NumPriorities-1, func(ctx *kernel.Context) {
		for {
			ctx.Idle()
		}
	})
	spawn("__LOW", 0x14, m.LowTask)
	spawn("_HIGH", 0x0A, m.HighTask)
	spawn("_RSPS", 9, m.ResponseTask)

	stop := make(chan struct{})
	t.Cleanup(func() { close(stop) })
	go func() {
		tk := time.NewTicker(100 * time.Microsecond)
		defer tk.Stop()
		for {
			select {
			case <-stop:
				return
			case <-tk.C:
				_ = h.Interrupts().Raise(kernel.TimerIRQ)
			}
		}
	}()
	go func() { _ = k.Start() }()
	return h
}

func TestScriptPeer(t *testing.T) {
	h := firmware(t)
	script := `
# echo on both rings
submit high fw_test 0x10 mid=3
submit low fw_test 1 2
wait 3 2s
wait
dump
ticks 2
submit high powerdown mid=31
wait 31
quit
submit high fw_test 7
`
	var out bytes.Buffer
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	peer := ScriptPeer(strings.NewReader(script), &out, mailbox.DefaultHostConfig())
	if err := peer(ctx, h); err != nil {
		t.Fatalf("ScriptPeer error: %v\n%s", err, out.String())
	}
	for _, want := range []string{
		"connected",
		"reply mid 3: done 16",
		"reply mid 0: done 3",
		"reply mid 31: done 0",
		"low outstanding 0 bytes",
	} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("output missing %q:\n%s", want, out.String())
		}
	}
	if strings.Contains(out.String(), "fw_test [7]") {
		t.Fatalf("command after quit ran:\n%s", out.String())
	}
}

func TestExecErrors(t *testing.T) {
	h := hal.NewWithConfig(hal.HostConfig{SRAMBase: 0x10000, SRAMSize: 0x8000})
	t.Cleanup(h.CPU().Halt)
	d := New(h, nil, mailbox.DefaultHostConfig())
	if err := d.Host().Publish(mailbox.DefaultHostConfig()); err != nil {
		t.Fatalf("Publish error: %v", err)
	}
	ctx := context.Background()

	cases := []struct {
		line string
		want error
	}{
		{"frobnicate", ErrUsage},
		{"submit high", ErrUsage},
		{"submit high fw_test nope", ErrUsage},
		{"submit sideways fw_test 1", mailbox.ErrBadChannel},
		{"submit response fw_test 1", mailbox.ErrBadChannel},
		{"ticks", ErrUsage},
		{"sleep soon", ErrUsage},
		{"wait 1 10ms", ErrTimeout},
	}
	for _, tc := range cases {
		if err := d.Exec(ctx, tc.line); !errors.Is(err, tc.want) {
			t.Fatalf("Exec(%q) error = %v, want %v", tc.line, err, tc.want)
		}
	}
	for _, line := range []string{"", "   ", "# comment only"} {
		if err := d.Exec(ctx, line); err != nil {
			t.Fatalf("Exec(%q) error = %v, want nil", line, err)
		}
	}
	if _, err := mailbox.ParseCommand("fw_test"); err != nil {
		t.Fatalf("ParseCommand error: %v", err)
	}
}

func TestFormatResult(t *testing.T) {
	cases := []struct {
		r    mailbox.Result
		want string
	}{
		{mailbox.Done(7), "done 7"},
		{mailbox.NotDone(2, mailbox.CodeNoHandler), "ndone 2 (no handler)"},
		{mailbox.Result{Command: mailbox.CmdDone, Args: [4]uint32{1}}, "done 0 args [1 0 0 0]"},
	}
	for _, tc := range cases {
		if got := FormatResult(tc.r); got != tc.want {
			t.Fatalf("FormatResult(%+v) = %q, want %q", tc.r, got, tc.want)
		}
	}
}
