package ncp

import (
	"context"
	"testing"
	"time"

	"npu/hal"
	"npu/kernel"
	"npu/mailbox"
)

type rig struct {
	hal  hal.HAL
	k    *kernel.Kernel
	m    *mailbox.Mailbox
	svc  *Service
	host *mailbox.Host
	done chan error
	ctx  context.Context

	replies map[uint32][]mailbox.Result
}

func startRig(t *testing.T, cfg Config) *rig {
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
	svc, err := New(k, nil, cfg)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if err := svc.Register(m.Hub); err != nil {
		t.Fatalf("Register error: %v", err)
	}

	spawn := func(name string, prio int, arg any, fn kernel.TaskFunc) {
		id, err := k.CreateTask(kernel.TaskSpec{Name: name, Priority: prio, Handler: fn, Arg: arg, MaxSlices: 100, StackAddr: 0x1000, StackSize: 0x400})
		if err != nil {
			t.Fatalf("CreateTask(%q) error: %v", name, err)
		}
		if err := k.Resume(id); err != nil {
			t.Fatalf("Resume(%q) error: %v", name, err)
		}
	}
	spawn("__MON", 0, nil, func(ctx *kernel.Context) {
		if err := m.Init(ctx); err != nil {
			t.Errorf("Init error: %v", err)
			ctx.Kernel().Shutdown()
		}
	})
	spawn("_IDLE", kernel.NumPriorities-1, nil, func(ctx *kernel.Context) {
		for {
			ctx.Idle()
		}
	})
	spawn("__LOW", 0x14, nil, m.LowTask)
	spawn("_HIGH", 0x0A, nil, m.HighTask)
	spawn("_RSPS", 9, nil, m.ResponseTask)
	spawn("__IMM", 0x0E, nil, svc.ImmTask)
	spawn("__BAT", 0x0F, nil, svc.BatTask)
	for i := 0; i < 3; i++ {
		spawn("JOBQ"+string(rune('0'+i)), 0x15+i, i, svc.JobTask)
	}

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

	r := &rig{hal: h, k: k, m: m, svc: svc, host: mailbox.NewHost(h.SharedMemory(), h.Interrupts()), done: make(chan error, 1), replies: map[uint32][]mailbox.Result{}}
	if err := r.host.Publish(mailbox.DefaultHostConfig()); err != nil {
		t.Fatalf("Publish error: %v", err)
	}
	go func() { r.done <- k.Start() }()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	t.Cleanup(cancel)
	r.ctx = ctx
	if err := r.host.Handshake(ctx, 100*time.Microsecond); err != nil {
		t.Fatalf("Handshake error: %v", err)
	}
	return r
}

func (r *rig) submit(t *testing.T, ch mailbox.Channel, mid uint32, cmd mailbox.Command, words ...uint32) {
	t.Helper()
	if _, err := r.host.Submit(ch, mid, cmd, mailbox.Words(words...)); err != nil {
		t.Fatalf("Submit(%v mid %d) error: %v", cmd, mid, err)
	}
}

// wait collects replies until mid has n of them.
func (r *rig) wait(t *testing.T, mid uint32, n int) []mailbox.Result {
	t.Helper()
	for len(r.replies[mid]) < n {
		got, err := r.host.Responses()
		if err != nil {
			t.Fatalf("Responses error: %v", err)
		}
		for _, rep := range got {
			r.replies[rep.MID] = append(r.replies[rep.MID], rep.Result)
		}
		select {
		case <-r.ctx.Done():
			t.Fatalf("timed out waiting for mid %d", mid)
		case <-time.After(100 * time.Microsecond):
		}
	}
	out := r.replies[mid]
	delete(r.replies, mid)
	return out
}

func (r *rig) call(t *testing.T, ch mailbox.Channel, mid uint32, cmd mailbox.Command, words ...uint32) mailbox.Result {
	t.Helper()
	r.submit(t, ch, mid, cmd, words...)
	return r.wait(t, mid, 1)[0]
}

func (r *rig) powerdown(t *testing.T) {
	t.Helper()
	if res := r.call(t, mailbox.ChanHigh, 31, mailbox.CmdPowerdown, 0); res.Command != mailbox.CmdDone {
		t.Fatalf("powerdown = %+v, want done", res)
	}
	select {
	case err := <-r.done:
		if err != nil {
			t.Fatalf("Start() error: %v", err)
		}
	case <-r.ctx.Done():
		t.Fatal("timed out waiting for shutdown")
	}
}

func TestCommands(t *testing.T) {
	r := startRig(t, DefaultConfig())
	hi, lo := mailbox.ChanHigh, mailbox.ChanLow

	if res := r.call(t, hi, 1, mailbox.CmdFWTest, 0x1234); res != mailbox.Done(0x1234) {
		t.Fatalf("fw_test = %+v, want done 0x1234", res)
	}
	if res := r.call(t, lo, 2, mailbox.CmdLoad, 2, 5); res != mailbox.Done(2) {
		t.Fatalf("load = %+v, want done 2", res)
	}
	if res := r.call(t, hi, 3, mailbox.CmdProcess, 2, 7); res != mailbox.Done(7) {
		t.Fatalf("process = %+v, want done 7", res)
	}
	if res := r.call(t, lo, 4, mailbox.CmdProcess, 3, 8); res != mailbox.NotDone(8, CodeNoObject) {
		t.Fatalf("process unloaded = %+v, want ndone %#x", res, CodeNoObject)
	}
	if res := r.call(t, lo, 5, mailbox.CmdUnload, 2); res != mailbox.Done(2) {
		t.Fatalf("unload = %+v, want done 2", res)
	}
	if res := r.call(t, lo, 6, mailbox.CmdUnload, 2); res != mailbox.NotDone(2, CodeNoObject) {
		t.Fatalf("second unload = %+v, want ndone %#x", res, CodeNoObject)
	}
	if res := r.call(t, hi, 7, mailbox.CmdProfileCtl, 1); res != mailbox.Done(1) {
		t.Fatalf("profile_ctl = %+v, want done 1", res)
	}
	r.call(t, lo, 8, mailbox.CmdLoad, 1, 0)
	res := r.call(t, lo, 9, mailbox.CmdProcess, 1, 11)
	if res.Command != mailbox.CmdDone || res.ID != 11 {
		t.Fatalf("profiled process = %+v, want done 11", res)
	}
	if res.Args[0] < DefaultConfig().JobTicks || res.Args[1] > 2 {
		t.Fatalf("profile args = %v, want queued >= %d and instance < 3", res.Args, DefaultConfig().JobTicks)
	}

	r.powerdown(t)
	if got := r.svc.Completed(); got != 2 {
		t.Fatalf("Completed() = %d, want 2", got)
	}
	if r.svc.Loaded(2) || !r.svc.Loaded(1) {
		t.Fatal("unexpected object table after unload")
	}
}

func TestPurgeFailsUnclaimedFrames(t *testing.T) {
	r := startRig(t, Config{QueueSize: 8, JobTicks: 200})
	lo := mailbox.ChanLow

	r.call(t, lo, 1, mailbox.CmdLoad, 4, 0)
	for mid := uint32(2); mid <= 6; mid++ {
		r.submit(t, lo, mid, mailbox.CmdProcess, 4, 100+mid)
	}
	purge := r.call(t, lo, 7, mailbox.CmdPurge, 0)
	if purge.Command != mailbox.CmdDone || purge.Args[0] != 2 {
		t.Fatalf("purge = %+v, want done with 2 purged", purge)
	}

	var done, purged int
	for mid := uint32(2); mid <= 6; mid++ {
		res := r.wait(t, mid, 1)[0]
		switch res {
		case mailbox.Done(100 + mid):
			done++
		case mailbox.NotDone(100+mid, CodePurged):
			purged++
		default:
			t.Fatalf("mid %d result = %+v", mid, res)
		}
	}
	if done != 3 || purged != 2 {
		t.Fatalf("done %d purged %d, want 3 2", done, purged)
	}
	r.powerdown(t)
}
