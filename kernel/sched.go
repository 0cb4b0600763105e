package kernel

import (
	"fmt"

	"npu/kernel/list"
)

// lowestBit maps a non-zero byte to the index of its lowest set bit.
var lowestBit = func() (t [256]uint8) {
	for v := 1; v < 256; v++ {
		b := uint8(0)
		for v&(1<<b) == 0 {
			b++
		}
		t[v] = b
	}
	return t
}()

// prioGroups splits a priority into its three bitmap coordinates.
func prioGroups(prio uint8) (g0, g1, g2 uint8) {
	return prio >> 6, (prio >> 3) & 7, prio & 7
}

// highest returns the numerically smallest priority with a ready task,
// three table lookups deep.
func (k *Kernel) highest() (uint8, bool) {
	if k.grp0 == 0 {
		return 0, false
	}
	g0 := lowestBit[k.grp0]
	g1 := lowestBit[k.grp1[g0]]
	g2 := lowestBit[k.grp2[g0][g1]]
	return g0<<6 | g1<<3 | g2, true
}

func (k *Kernel) addReady(id TaskID) {
	t := k.mustTask(id)
	bucket := k.ready[t.prio]
	if bucket.Empty() {
		g0, g1, g2 := prioGroups(t.prio)
		k.grp0 |= 1 << g0
		k.grp1[g0] |= 1 << g1
		k.grp2[g0][g1] |= 1 << g2
	}
	t.remaining = t.maxSlices
	if err := bucket.PushBack(list.Index(id)); err != nil {
		k.Fatalf("ready task %q: %v", t.name, err)
	}
	t.state = StateReady
}

func (k *Kernel) delReady(id TaskID) error {
	t := k.mustTask(id)
	if t.state&StateReady == 0 {
		return schedErr("del ready", fmt.Errorf("task %q %v: %w", t.name, t.state, ErrInvalidState))
	}
	bucket := k.ready[t.prio]
	if bucket.Empty() {
		return schedErr("del ready", fmt.Errorf("priority %d: %w", t.prio, ErrEmptyList))
	}
	if bucket.Len() == 1 {
		g0, g1, g2 := prioGroups(t.prio)
		k.grp2[g0][g1] &^= 1 << g2
		if k.grp2[g0][g1] == 0 {
			k.grp1[g0] &^= 1 << g1
			if k.grp1[g0] == 0 {
				k.grp0 &^= 1 << g0
			}
		}
	}
	if err := bucket.Remove(list.Index(id)); err != nil {
		k.Fatalf("unready task %q: %v", t.name, err)
	}
	t.state |= StateNotReady
	return nil
}

// pick chooses the task to run next. A running task whose quantum is used
// up goes to the tail of its priority list first, so an equal-priority
// peer gets the core; a lower priority never preempts it.
func (k *Kernel) pick() {
	if k.forbid {
		return
	}
	cur := k.mustTask(k.current)
	if cur.state&primaryStates == 0 {
		k.Fatalf("task %q in state %v", cur.name, cur.state)
	}

	if cur.state == StateReady|StateRunning && cur.remaining <= 0 {
		bucket := k.ready[cur.prio]
		if err := bucket.Remove(list.Index(cur.id)); err != nil {
			k.Fatalf("requeue task %q: %v", cur.name, err)
		}
		cur.remaining = cur.maxSlices
		if err := bucket.PushBack(list.Index(cur.id)); err != nil {
			k.Fatalf("requeue task %q: %v", cur.name, err)
		}
	}

	prio, ok := k.highest()
	if !ok {
		k.Fatalf("no ready task")
	}
	bucket := k.ready[prio]
	if bucket.Empty() {
		k.Fatalf("priority %d marked ready with an empty list", prio)
	}
	next := TaskID(bucket.Front())
	cur.state &^= StateRunning
	k.tasks[next].state |= StateRunning
	k.next = next
}

// schedule is the scheduling point. Called with interrupts masked. Inside
// an interrupt handler it only records that the epilogue must reschedule.
func (k *Kernel) schedule() {
	if k.inIRQ > 0 {
		k.doSchedule = true
		return
	}
	if k.forbid || k.current == NoTask {
		return
	}
	k.pick()
	if k.next == k.current {
		return
	}
	prev := k.current
	k.current = k.next
	k.cpu.Switch(int(prev), int(k.current))
}

// Start runs the highest-priority ready task. It returns only after the
// core has been halted.
func (k *Kernel) Start() error {
	s := k.cpu.DisableInterrupts()

	prio, ok := k.highest()
	if !ok {
		k.cpu.RestoreInterrupts(s)
		return schedErr("start", ErrEmptyList)
	}
	id := TaskID(k.ready[prio].Front())
	t := k.mustTask(id)

	k.current = id
	k.next = id
	t.state |= StateRunning
	k.stopped = false
	k.forbid = false
	k.log.Infof("scheduler start: %q prio %d", t.name, t.prio)
	k.cpu.Start(int(id))
	return nil
}

// Yield gives the core to the next ready task of the same priority, if any.
func (k *Kernel) Yield() {
	s := k.lock()
	defer k.unlock(s)
	if t := k.taskOrNil(k.current); t != nil && t.state == StateReady|StateRunning {
		t.remaining = 0
	}
	k.schedule()
}

// Shutdown stops scheduling and halts the core. Called from a task it does
// not return.
func (k *Kernel) Shutdown() {
	k.cpu.DisableInterrupts()
	k.stopped = true
	k.forbid = true
	k.log.Infof("shutdown at tick %d", k.Ticks())
	k.cpu.Halt()
	for {
		k.cpu.WaitForInterrupt()
	}
}
