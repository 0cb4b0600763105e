package kernel

import (
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"

	"npu/hal"
	"npu/klog"
)

func TestNewSemaphoreValidation(t *testing.T) {
	k, _ := newTestKernel(t)
	if _, err := k.NewSemaphore(1, -1); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("NewSemaphore(-1) error = %v, want ErrInvalidArgument", err)
	}
	sem, err := k.NewSemaphore(1, 2)
	if err != nil {
		t.Fatalf("NewSemaphore error: %v", err)
	}
	if !sem.TryDown() || !sem.TryDown() {
		t.Fatal("expected two units")
	}
	if sem.TryDown() {
		t.Fatal("expected empty semaphore")
	}
	sem.Up()
	if got := sem.Count(); got != 1 {
		t.Fatalf("Count() = %d, want 1", got)
	}
	if got := k.Semaphores(); got != 1 {
		t.Fatalf("Semaphores() = %d, want 1", got)
	}
	if err := sem.Delete(); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if got := k.Semaphores(); got != 0 {
		t.Fatalf("Semaphores() after delete = %d, want 0", got)
	}
}

func TestSemaphoreWakesByPriority(t *testing.T) {
	k, _ := newTestKernel(t)
	addIdle(t, k)
	sem, err := k.NewSemaphore(0x53454d, 0)
	if err != nil {
		t.Fatalf("NewSemaphore error: %v", err)
	}

	woke := make(chan string, 8)
	waiter := func(ctx *Context) {
		if err := sem.Down(); err != nil {
			woke <- err.Error()
			return
		}
		woke <- ctx.Name()
	}

	type result struct {
		waiters []TaskID
		count   int
		order   []string
		tryDown [2]bool
	}
	res := make(chan result, 1)

	ids := map[string]TaskID{}
	for _, w := range []struct {
		name string
		prio int
	}{{"l1", 20}, {"l2", 20}, {"m", 10}, {"h", 5}} {
		ids[w.name] = mustCreate(t, k, w.name, w.prio, waiter)
	}

	mustSpawn(t, k, "ctl", 30, func(ctx *Context) {
		var r result
		for _, name := range []string{"l1", "l2", "m", "h"} {
			if err := ctx.Kernel().Resume(ids[name]); err != nil {
				t.Errorf("Resume(%s) error: %v", name, err)
			}
		}
		r.waiters = sem.Waiters()
		for i := 0; i < 4; i++ {
			sem.Up()
			r.order = append(r.order, <-woke)
		}
		r.count = sem.Count()
		sem.Up()
		r.tryDown = [2]bool{sem.TryDown(), sem.TryDown()}
		res <- r
		ctx.Kernel().Shutdown()
	})

	run(t, k)()

	r := <-res
	if want := []TaskID{ids["h"], ids["m"], ids["l1"], ids["l2"]}; !reflect.DeepEqual(r.waiters, want) {
		t.Fatalf("waiters = %v, want %v", r.waiters, want)
	}
	if want := []string{"h", "m", "l1", "l2"}; !reflect.DeepEqual(r.order, want) {
		t.Fatalf("wake order = %v, want %v", r.order, want)
	}
	if r.count != 0 {
		t.Fatalf("count after handoff = %d, want 0", r.count)
	}
	if r.tryDown != [2]bool{true, false} {
		t.Fatalf("TryDown results = %v, want [true false]", r.tryDown)
	}
}

func TestSemaphoreDeleteWakesWaiters(t *testing.T) {
	k, _ := newTestKernel(t)
	addIdle(t, k)
	sem, err := k.NewSemaphore(7, 0)
	if err != nil {
		t.Fatalf("NewSemaphore error: %v", err)
	}

	got := make(chan error, 2)
	w := mustCreate(t, k, "w", 10, func(ctx *Context) {
		got <- sem.Down()
	})
	mustSpawn(t, k, "ctl", 30, func(ctx *Context) {
		_ = ctx.Kernel().Resume(w)
		if err := sem.Delete(); err != nil {
			t.Errorf("Delete error: %v", err)
		}
		ctx.Kernel().Shutdown()
	})

	run(t, k)()

	if err := <-got; !errors.Is(err, ErrDeleted) {
		t.Fatalf("Down() after delete = %v, want ErrDeleted", err)
	}
}

func TestSuspendPendingTaskLeavesCount(t *testing.T) {
	k, _ := newTestKernel(t)
	addIdle(t, k)
	sem, err := k.NewSemaphore(9, 0)
	if err != nil {
		t.Fatalf("NewSemaphore error: %v", err)
	}

	type result struct {
		state   State
		count   int
		waiters int
	}
	res := make(chan result, 1)
	w := mustCreate(t, k, "w", 10, func(ctx *Context) {
		_ = sem.Down()
	})
	mustSpawn(t, k, "ctl", 30, func(ctx *Context) {
		k := ctx.Kernel()
		_ = k.Resume(w)
		if err := k.Suspend(w); err != nil {
			t.Errorf("Suspend error: %v", err)
		}
		info, _ := k.Task(w)
		res <- result{state: info.State, count: sem.Count(), waiters: len(sem.Waiters())}
		k.Shutdown()
	})

	run(t, k)()

	r := <-res
	if r.state != StateSuspended || r.count != 0 || r.waiters != 0 {
		t.Fatalf("after suspend: state %v count %d waiters %d, want suspended 0 0", r.state, r.count, r.waiters)
	}
}

func TestAllocEventValidation(t *testing.T) {
	k, _ := newTestKernel(t)
	if _, err := k.AllocEvent(NumEventIDs, RuleLatch); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("AllocEvent(151) error = %v, want ErrInvalidArgument", err)
	}
	if _, err := k.AllocEvent(1, Rule(3)); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("AllocEvent(rule 3) error = %v, want ErrInvalidArgument", err)
	}
	ev, err := k.AllocEvent(1, RuleLatch)
	if err != nil {
		t.Fatalf("AllocEvent error: %v", err)
	}
	if _, err := k.AllocEvent(1, RuleSingle); !errors.Is(err, ErrRuleConflict) {
		t.Fatalf("AllocEvent(conflict) error = %v, want ErrRuleConflict", err)
	}
	if _, err := k.AllocEvent(1, RuleLatch); err != nil {
		t.Fatalf("AllocEvent(same rule) error: %v", err)
	}
	if st, _ := k.Event(1); st.Standby != 2 {
		t.Fatalf("standby = %d, want 2", st.Standby)
	}

	for i := 2; i < MaxEvents; i++ {
		if _, err := k.AllocEvent(uint32(i), RuleBroadcast); err != nil {
			t.Fatalf("AllocEvent(%d) error: %v", i, err)
		}
	}
	if _, err := k.AllocEvent(100, RuleBroadcast); !errors.Is(err, ErrNoEventSlot) {
		t.Fatalf("AllocEvent(exhausted) error = %v, want ErrNoEventSlot", err)
	}
	if err := ev.Free(); err != nil {
		t.Fatalf("Free error: %v", err)
	}
	if _, err := k.AllocEvent(100, RuleBroadcast); err != nil {
		t.Fatalf("AllocEvent after free error: %v", err)
	}
}

func TestEventCredits(t *testing.T) {
	k, _ := newTestKernel(t)
	bcast, _ := k.AllocEvent(10, RuleBroadcast)
	latch, _ := k.AllocEvent(11, RuleLatch)
	single, _ := k.AllocEvent(12, RuleSingle)

	bcast.SetNoSchedule()
	latch.SetNoSchedule()
	latch.SetNoSchedule()
	single.SetNoSchedule()

	for _, tc := range []struct {
		id   uint32
		want uint32
	}{{10, 0}, {11, 2}, {12, 1}} {
		st, _ := k.Event(tc.id)
		if st.Trigger != tc.want {
			t.Fatalf("event %d trigger = %d, want %d", tc.id, st.Trigger, tc.want)
		}
	}

	if err := k.SetEvent(13); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("SetEvent(unallocated) error = %v, want ErrInvalidState", err)
	}
	if err := k.SetEvent(NumEventIDs); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("SetEvent(151) error = %v, want ErrInvalidArgument", err)
	}
}

func TestEventRules(t *testing.T) {
	k, _ := newTestKernel(t)
	addIdle(t, k)

	e1, _ := k.AllocEvent(5, RuleSingle)
	e2, _ := k.AllocEvent(5, RuleSingle)
	l1, _ := k.AllocEvent(6, RuleLatch)
	gone, _ := k.AllocEvent(7, RuleBroadcast)

	woke := make(chan string, 16)
	waitOn := func(ev *Event) TaskFunc {
		return func(ctx *Context) {
			if err := ev.Wait(); err != nil {
				woke <- ctx.Name() + ":" + err.Error()
				return
			}
			woke <- ctx.Name()
		}
	}
	ids := map[string]TaskID{
		"w1": mustCreate(t, k, "w1", 20, waitOn(e1)),
		"w2": mustCreate(t, k, "w2", 20, waitOn(e1)),
		"w3": mustCreate(t, k, "w3", 20, waitOn(e2)),
		"l1": mustCreate(t, k, "l1", 20, waitOn(l1)),
		"l2": mustCreate(t, k, "l2", 20, waitOn(l1)),
		"g":  mustCreate(t, k, "g", 20, waitOn(gone)),
	}

	type result struct {
		single  []string
		credit  uint32
		latched []string
		deleted string
	}
	res := make(chan result, 1)

	mustSpawn(t, k, "ctl", 30, func(ctx *Context) {
		k := ctx.Kernel()
		var r result
		for _, name := range []string{"w1", "w2", "w3", "l1", "l2", "g"} {
			_ = k.Resume(ids[name])
		}

		for i := 0; i < 3; i++ {
			e1.Set()
			r.single = append(r.single, <-woke)
		}
		e2.Set()
		st, _ := k.Event(5)
		r.credit = st.Trigger
		if err := e1.Wait(); err != nil {
			t.Errorf("Wait with credit error: %v", err)
		}

		l1.Set()
		r.latched = []string{<-woke, <-woke}

		_ = gone.Free()
		r.deleted = <-woke

		res <- r
		k.Shutdown()
	})

	run(t, k)()

	r := <-res
	if want := []string{"w1", "w2", "w3"}; !reflect.DeepEqual(r.single, want) {
		t.Fatalf("single wake order = %v, want %v", r.single, want)
	}
	if r.credit != 1 {
		t.Fatalf("credit = %d, want 1", r.credit)
	}
	if want := []string{"l1", "l2"}; !reflect.DeepEqual(r.latched, want) {
		t.Fatalf("latch woke %v, want %v", r.latched, want)
	}
	if want := "g:" + syncErr("wait event", ErrDeleted).Error(); r.deleted != want {
		t.Fatalf("deleted waiter = %q, want %q", r.deleted, want)
	}
	if st, _ := k.Event(6); st.Trigger != 0 {
		t.Fatalf("latch trigger after wake = %d, want 0", st.Trigger)
	}
}

type lineLog struct {
	mu    sync.Mutex
	lines []string
}

func (l *lineLog) WriteLineString(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, s)
}

func (l *lineLog) WriteLineBytes(b []byte) { l.WriteLineString(string(b)) }

func (l *lineLog) contains(sub string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, s := range l.lines {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func TestCorruptSyncObjectIsFatal(t *testing.T) {
	h := hal.New()
	t.Cleanup(h.CPU().Halt)
	out := &lineLog{}
	k := New(Config{CPU: h.CPU(), IRQ: h.Interrupts(), Log: klog.New(out, klog.LevelError)})

	sem, err := k.NewSemaphore(0x534D, 1)
	if err != nil {
		t.Fatalf("NewSemaphore error: %v", err)
	}
	ev, err := k.AllocEvent(3, RuleLatch)
	if err != nil {
		t.Fatalf("AllocEvent error: %v", err)
	}
	if err := ev.Free(); err != nil {
		t.Fatalf("Free error: %v", err)
	}
	sem.magic = 0

	cases := []struct {
		name string
		fn   func()
		want string
	}{
		{"semaphore", sem.Up, "up: invalid semaphore"},
		{"freed event", ev.Set, "set event: invalid event"},
	}
	for _, tc := range cases {
		func() {
			defer func() {
				if r := recover(); r == nil {
					t.Fatalf("%s: expected panic", tc.name)
				}
			}()
			tc.fn()
		}()
		if !out.contains("fatal: " + tc.want) {
			t.Fatalf("%s: log %q lacks %q", tc.name, out.lines, tc.want)
		}
	}
	if !InPanicMode() {
		t.Fatal("expected panic mode")
	}
}
