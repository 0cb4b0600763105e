package app

import (
	"errors"
	"fmt"

	"npu/console"
	"npu/hal"
	"npu/internal/buildinfo"
	"npu/kernel"
	"npu/kernel/heap"
	"npu/klog"
	"npu/mailbox"
	"npu/ncp"
)

const (
	// StackBudget caps the heap carved for native task stacks.
	StackBudget = 0x5000
	// TaskSlices is the quantum of every native task.
	TaskSlices = 100
)

var ErrStackBudget = errors.New("native task stacks exceed budget")

type nativeTask struct {
	name  string
	prio  int
	stack uint32
	arg   any
	fn    kernel.TaskFunc

	addr heap.Addr
}

// Boot brings the firmware up and starts the scheduler on its own
// goroutine. Kernel invariant violations during boot are fatal.
func Boot(h hal.HAL, cfg Config) (*System, error) {
	s := &System{h: h, cfg: cfg, halted: make(chan struct{})}

	var fb hal.Framebuffer
	if d := h.Display(); d != nil {
		fb = d.Framebuffer()
	}
	s.con = console.New(fb)
	s.log = klog.New(h.Logger(), cfg.LogLevel)
	s.log.AddSink(s.con)
	installPanicHandler(h, cfg.HoldOnPanic)

	hp, err := heap.New(heap.DefaultStart, uint32(heap.DefaultEnd-heap.DefaultStart))
	if err != nil {
		return nil, fmt.Errorf("boot heap: %w", err)
	}
	s.heap = hp

	s.k = kernel.New(kernel.Config{
		CPU:          h.CPU(),
		IRQ:          h.Interrupts(),
		Log:          s.log,
		NoSliceCount: cfg.NoSliceCount,
	})

	if s.mbx, err = mailbox.New(s.k, h.SharedMemory(), s.log); err != nil {
		return nil, fmt.Errorf("boot: %w", err)
	}
	report := s.mbx.Report
	if err := s.k.RequestIRQ(kernel.TimerIRQ, func(k *kernel.Kernel) {
		k.Tick()
		report.Kick()
	}); err != nil {
		return nil, fmt.Errorf("boot timer: %w", err)
	}
	if err := s.mbx.RequestIRQs(); err != nil {
		return nil, fmt.Errorf("boot: %w", err)
	}

	if s.ncp, err = ncp.New(s.k, s.log, cfg.Jobs); err != nil {
		return nil, fmt.Errorf("boot: %w", err)
	}
	if err := s.ncp.Register(s.mbx.Hub); err != nil {
		return nil, fmt.Errorf("boot: %w", err)
	}

	s.tasks = s.nativeTasks()
	if err := carveStacks(s.heap, s.tasks); err != nil {
		s.k.Fatalf("boot: %v", err)
	}
	for _, t := range s.tasks {
		id, err := s.k.CreateTask(kernel.TaskSpec{
			Name:      t.name,
			Priority:  t.prio,
			Handler:   t.fn,
			Arg:       t.arg,
			MaxSlices: TaskSlices,
			StackAddr: uint32(t.addr),
			StackSize: t.stack,
		})
		if err != nil {
			return nil, fmt.Errorf("boot task %s: %w", t.name, err)
		}
		if err := s.k.Resume(id); err != nil {
			return nil, fmt.Errorf("boot task %s: %w", t.name, err)
		}
	}
	st := s.heap.Stats()
	blog := s.log.With("boot")
	blog.Infof("%s", buildinfo.String())
	blog.Infof("%d tasks, heap free %#x used %#x", len(s.tasks), st.Free, st.Used)

	go func() {
		s.err = s.k.Start()
		if err := h.SharedMemory().Sync(); err != nil {
			s.log.Warnf("%v", err)
		}
		close(s.halted)
	}()
	go s.forwardTicks()
	return s, nil
}

func (s *System) nativeTasks() []nativeTask {
	tasks := []nativeTask{
		{name: "__MON", prio: 0, stack: 0x400, fn: s.monitor},
		{name: "_IDLE", prio: kernel.NumPriorities - 1, stack: 0x200, fn: idle},
		{name: "__LOW", prio: 0x14, stack: 0x800, fn: s.mbx.LowTask},
		{name: "_HIGH", prio: 0x0A, stack: 0x400, fn: s.mbx.HighTask},
		{name: "_RSPS", prio: 9, stack: 0x400, fn: s.mbx.ResponseTask},
		{name: "__RPT", prio: 0x14, stack: 0x400, fn: s.mbx.ReportTask},
		{name: "__IMM", prio: 0x0E, stack: 0x800, fn: s.ncp.ImmTask},
		{name: "__BAT", prio: 0x0F, stack: 0x800, fn: s.ncp.BatTask},
	}
	for i, size := range [...]uint32{0x1000, 0x200, 0x200} {
		tasks = append(tasks, nativeTask{
			name:  fmt.Sprintf("JOBQ%d", i),
			prio:  0x15 + i,
			stack: size,
			arg:   i,
			fn:    s.ncp.JobTask,
		})
	}
	return tasks
}

// carveStacks allocates every task stack from hp. Nothing is allocated
// when the table exceeds StackBudget.
func carveStacks(hp *heap.Heap, tasks []nativeTask) error {
	var total uint32
	for _, t := range tasks {
		total += t.stack
	}
	if total > StackBudget {
		return fmt.Errorf("%#x > %#x: %w", total, StackBudget, ErrStackBudget)
	}
	for i := range tasks {
		p, err := hp.Alloc(tasks[i].stack)
		if err != nil {
			return fmt.Errorf("stack of %s: %w", tasks[i].name, err)
		}
		tasks[i].addr = p
	}
	return nil
}

// monitor runs the mailbox handshake, then dumps the kernel and mailbox
// state every MonitorTicks.
func (s *System) monitor(ctx *kernel.Context) {
	if err := s.mbx.Init(ctx); err != nil {
		s.k.Fatalf("mailbox init: %v", err)
	}
	if s.cfg.MonitorTicks == 0 {
		return
	}
	for {
		if err := ctx.Delay(s.cfg.MonitorTicks); err != nil {
			return
		}
		s.k.Dump()
		s.mbx.Dump()
	}
}

func idle(ctx *kernel.Context) {
	for {
		ctx.Idle()
	}
}
