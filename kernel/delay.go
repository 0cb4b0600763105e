package kernel

import (
	"fmt"
	"math"

	"npu/kernel/list"
)

// Delay puts the running task to sleep for the given number of ticks.
//
// The delayed list is kept in wake order with each task's delay stored
// relative to its predecessor, so a tick only touches the head.
func (k *Kernel) Delay(ticks uint32) error {
	if ticks == 0 || ticks > math.MaxInt32 {
		return schedErr("delay", fmt.Errorf("%d ticks: %w", ticks, ErrInvalidArgument))
	}

	s := k.lock()
	defer k.unlock(s)

	if k.inIRQ > 0 {
		k.Fatalf("delay from interrupt context")
	}
	if k.forbid {
		return nil
	}
	id := k.current
	if err := k.delReady(id); err != nil {
		return err
	}
	k.addDelayed(id, int32(ticks))
	k.schedule()
	return nil
}

// addDelayed links a not-ready task into the delayed list d ticks from now.
func (k *Kernel) addDelayed(id TaskID, d int32) {
	t := k.mustTask(id)
	after := list.None
	for i := k.delayed.Front(); i != list.None; i = k.delayed.Next(i) {
		if d < k.tasks[i].delay {
			break
		}
		d -= k.tasks[i].delay
		after = i
	}

	var err error
	if after == list.None {
		err = k.delayed.PushFront(list.Index(id))
	} else {
		err = k.delayed.InsertAfter(list.Index(id), after)
	}
	if err != nil {
		k.Fatalf("delay task %q: %v", t.name, err)
	}
	if next := k.delayed.Next(list.Index(id)); next != list.None {
		k.tasks[next].delay -= d
	}
	t.delay = d
	t.state = StateSleeping
}

func (k *Kernel) delDelayed(id TaskID) error {
	t := k.mustTask(id)
	if t.state&StateSleeping == 0 {
		return schedErr("del delayed", fmt.Errorf("task %q %v: %w", t.name, t.state, ErrInvalidState))
	}
	if next := k.delayed.Next(list.Index(id)); next != list.None {
		k.tasks[next].delay += t.delay
	}
	if err := k.delayed.Remove(list.Index(id)); err != nil {
		k.Fatalf("wake task %q: %v", t.name, err)
	}
	t.delay = 0
	t.state |= StateNotReady
	return nil
}

// Tick is the timer interrupt handler: it advances the tick counter,
// charges the running task's quantum and wakes expired sleepers.
func (k *Kernel) Tick() {
	s := k.lock()
	defer k.unlock(s)

	k.ticks.Add(1)
	if k.stopped {
		return
	}
	cur := k.mustTask(k.current)
	cur.totalSlices++
	if k.countSlices {
		cur.remaining--
		if cur.remaining <= 0 && cur.state == StateReady|StateRunning {
			k.schedule()
		}
	}

	head := k.delayed.Front()
	if head == list.None {
		return
	}
	k.tasks[head].delay--
	for head != list.None && k.tasks[head].delay <= 0 {
		t := k.mustTask(TaskID(head))
		if t.state&StateSleeping == 0 {
			k.Fatalf("task %q on delayed list in state %v", t.name, t.state)
		}
		next := k.delayed.Next(head)
		if next != list.None {
			k.tasks[next].delay += t.delay
		}
		if err := k.delayed.Remove(head); err != nil {
			k.Fatalf("wake task %q: %v", t.name, err)
		}
		t.delay = 0
		k.addReady(t.id)
		k.schedule()
		head = next
	}
}

// Sleepers returns the delayed list in wake order with relative delays.
func (k *Kernel) Sleepers() []TaskInfo {
	s := k.lock()
	defer k.unlock(s)

	var out []TaskInfo
	k.delayed.Each(func(i list.Index) bool {
		out = append(out, k.tasks[i].info())
		return true
	})
	return out
}
