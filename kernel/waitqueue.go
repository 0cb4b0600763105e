package kernel

import (
	"fmt"

	"npu/kernel/list"
)

// Discipline selects where a blocking task is inserted in a wait queue.
type Discipline uint8

const (
	// FIFO appends at the tail.
	FIFO Discipline = iota
	// PriorityOrder inserts before the first strictly lower-priority task,
	// keeping arrival order among equal priorities.
	PriorityOrder
)

// WaitQueue holds the tasks blocked on one semaphore or event.
type WaitQueue struct {
	k       *Kernel
	obj     any
	disc    Discipline
	pending *list.List
}

func (k *Kernel) initWaitQueue(q *WaitQueue, disc Discipline, obj any) {
	if obj == nil {
		k.Fatalf("wait queue without owner")
	}
	*q = WaitQueue{k: k, obj: obj, disc: disc, pending: k.links.NewList()}
}

// deinit detaches the queue from its owner; it must be empty.
func (q *WaitQueue) deinit() error {
	if q.pending == nil {
		q.k.Fatalf("deinit of uninitialised wait queue")
	}
	if !q.pending.Empty() {
		return syncErr("deinit wait queue", fmt.Errorf("%d waiters: %w", q.pending.Len(), ErrBusy))
	}
	q.obj = nil
	return nil
}

// Len returns the number of blocked tasks.
func (q *WaitQueue) Len() int { return q.pending.Len() }

// block moves the running task from the ready list onto q and gives up the
// core. Called with interrupts masked.
func (q *WaitQueue) block(op string) error {
	k := q.k
	if k.inIRQ > 0 {
		k.Fatalf("%s: blocking in interrupt context", op)
	}
	id := k.current
	if err := k.delReady(id); err != nil {
		return err
	}
	if err := q.add(id); err != nil {
		return err
	}
	k.schedule()

	t := k.mustTask(id)
	if t.wokenByDelete {
		t.wokenByDelete = false
		return syncErr(op, ErrDeleted)
	}
	return nil
}

func (q *WaitQueue) add(id TaskID) error {
	k := q.k
	t := k.mustTask(id)
	if t.state&StateNotReady == 0 {
		return syncErr("add pending", fmt.Errorf("task %q %v: %w", t.name, t.state, ErrInvalidState))
	}

	var err error
	switch q.disc {
	case FIFO:
		err = q.pending.PushBack(list.Index(id))
	case PriorityOrder:
		mark := list.None
		q.pending.Each(func(i list.Index) bool {
			if t.prio < k.tasks[i].prio {
				mark = i
				return false
			}
			return true
		})
		if mark == list.None {
			err = q.pending.PushBack(list.Index(id))
		} else {
			err = q.pending.InsertBefore(list.Index(id), mark)
		}
	default:
		return syncErr("add pending", fmt.Errorf("discipline %d: %w", q.disc, ErrInvalidArgument))
	}
	if err != nil {
		k.Fatalf("pend task %q: %v", t.name, err)
	}
	t.state = StatePending
	t.waitq = q
	return nil
}

func (k *Kernel) delPending(id TaskID) error {
	t := k.mustTask(id)
	if t.waitq == nil {
		k.Fatalf("pending task %q without wait queue", t.name)
	}
	if t.state&StatePending == 0 {
		return syncErr("del pending", fmt.Errorf("task %q %v: %w", t.name, t.state, ErrInvalidState))
	}
	if t.waitq.pending.Empty() {
		return syncErr("del pending", ErrEmptyList)
	}
	if err := t.waitq.pending.Remove(list.Index(id)); err != nil {
		k.Fatalf("unpend task %q: %v", t.name, err)
	}
	t.waitq = nil
	t.state |= StateNotReady
	return nil
}

func (q *WaitQueue) wake(id TaskID, deleted bool) {
	k := q.k
	if err := k.delPending(id); err != nil {
		k.Fatalf("wake: %v", err)
	}
	if deleted {
		k.tasks[id].wokenByDelete = true
	}
	k.addReady(id)
}

// wakeOne readies the task at the head of q. It does not reschedule.
func (q *WaitQueue) wakeOne() bool {
	head := q.pending.Front()
	if head == list.None {
		return false
	}
	q.wake(TaskID(head), false)
	return true
}

// wakeAll readies every blocked task in queue order. It does not reschedule.
func (q *WaitQueue) wakeAll() int {
	n := 0
	q.pending.Each(func(i list.Index) bool {
		q.wake(TaskID(i), false)
		n++
		return true
	})
	return n
}

// cleanup wakes every blocked task with the deleted flag set.
func (q *WaitQueue) cleanup() int {
	n := 0
	q.pending.Each(func(i list.Index) bool {
		q.wake(TaskID(i), true)
		n++
		return true
	})
	return n
}

// Waiters lists the blocked tasks in queue order.
func (q *WaitQueue) Waiters() []TaskID {
	var out []TaskID
	q.pending.Each(func(i list.Index) bool {
		out = append(out, TaskID(i))
		return true
	})
	return out
}
