package kernel

import (
	"fmt"

	"npu/kernel/list"
)

const (
	// NumEventIDs is the number of event identifiers; IDs run 0..150.
	NumEventIDs = 151
	// MaxEvents is the size of the event object pool.
	MaxEvents = 60

	eventMagic = 0xF3CD03ED
)

// Rule selects how setting an event ID treats its waiters.
type Rule uint8

const (
	// RuleBroadcast wakes every waiting event; a set with no waiter is lost.
	RuleBroadcast Rule = iota
	// RuleLatch wakes every waiting event, or records a trigger credit.
	RuleLatch
	// RuleSingle wakes exactly one waiting task, or records a trigger credit.
	RuleSingle

	numRules
)

func (r Rule) String() string {
	switch r {
	case RuleBroadcast:
		return "broadcast"
	case RuleLatch:
		return "latch"
	case RuleSingle:
		return "single"
	default:
		return fmt.Sprintf("rule(%d)", uint8(r))
	}
}

// Event is a handle on one event ID. Several events may share an ID; each
// has its own FIFO of blocked tasks.
type Event struct {
	k     *Kernel
	magic uint32
	idx   list.Index
	id    uint32
	q     WaitQueue
}

type eventTable struct {
	pool [MaxEvents]Event

	links *list.Arena
	free  *list.List
	// waiting[id] lists the events of id that have blocked tasks.
	waiting [NumEventIDs]*list.List

	trigger [NumEventIDs]uint32
	standby [NumEventIDs]uint32
	rule    [NumEventIDs]Rule
}

func (t *eventTable) init() {
	t.links = list.NewArena(MaxEvents)
	// Free slots live on their own arena; an allocated event may sit on a
	// waiting list while it is off the free list.
	freeLinks := list.NewArena(MaxEvents)
	t.free = freeLinks.NewList()
	for i := range t.pool {
		t.pool[i].idx = list.Index(i)
		_ = t.free.PushBack(list.Index(i))
	}
	for i := range t.waiting {
		t.waiting[i] = t.links.NewList()
	}
}

// AllocEvent takes an event object for id from the pool. Every event of an
// id shares the id's rule.
func (k *Kernel) AllocEvent(id uint32, rule Rule) (*Event, error) {
	if id >= NumEventIDs || rule >= numRules {
		return nil, syncErr("alloc event", fmt.Errorf("id %d rule %d: %w", id, rule, ErrInvalidArgument))
	}

	s := k.lock()
	defer k.unlock(s)

	t := &k.events
	if t.standby[id] != 0 && t.rule[id] != rule {
		return nil, syncErr("alloc event", fmt.Errorf("id %#x is %v, want %v: %w", id, t.rule[id], rule, ErrRuleConflict))
	}
	i, err := t.free.PopFront()
	if err != nil {
		return nil, syncErr("alloc event", ErrNoEventSlot)
	}

	ev := &t.pool[i]
	ev.k = k
	ev.id = id
	k.initWaitQueue(&ev.q, FIFO, ev)
	ev.magic = eventMagic
	t.standby[id]++
	t.rule[id] = rule
	return ev, nil
}

func (ev *Event) check(op string) {
	if ev == nil || ev.k == nil {
		panic("kernel: " + op + ": invalid event")
	}
	if ev.magic != eventMagic {
		ev.k.Fatalf("%s: invalid event %#x", op, ev.id)
	}
}

// ID returns the event identifier.
func (ev *Event) ID() uint32 { return ev.id }

// Wait consumes a pending trigger credit of the event's ID, or blocks until
// the ID is set.
func (ev *Event) Wait() error {
	ev.check("wait event")
	k := ev.k
	s := k.lock()
	defer k.unlock(s)

	t := &k.events
	if t.trigger[ev.id] > 0 {
		t.trigger[ev.id]--
		return nil
	}
	if w := t.waiting[ev.id]; !w.Contains(ev.idx) {
		if err := w.PushBack(ev.idx); err != nil {
			k.Fatalf("wait event %#x: %v", ev.id, err)
		}
	}
	return ev.q.block("wait event")
}

// Set sets the event's ID and reschedules.
func (ev *Event) Set() {
	ev.check("set event")
	ev.k.setEvent(ev.id, true)
}

// SetNoSchedule sets the event's ID without a scheduling point.
func (ev *Event) SetNoSchedule() {
	ev.check("set event")
	ev.k.setEvent(ev.id, false)
}

// SetEvent sets an event ID from code that holds no handle, such as an
// interrupt handler.
func (k *Kernel) SetEvent(id uint32) error {
	if id >= NumEventIDs {
		return syncErr("set event", fmt.Errorf("id %d: %w", id, ErrInvalidArgument))
	}
	s := k.lock()
	standby := k.events.standby[id]
	k.unlock(s)
	if standby == 0 {
		return syncErr("set event", fmt.Errorf("id %#x not allocated: %w", id, ErrInvalidState))
	}
	k.setEvent(id, true)
	return nil
}

func (k *Kernel) setEvent(id uint32, resched bool) {
	s := k.lock()
	defer k.unlock(s)

	t := &k.events
	w := t.waiting[id]
	woken := 0
	switch t.rule[id] {
	case RuleBroadcast, RuleLatch:
		w.Each(func(i list.Index) bool {
			woken += t.pool[i].q.wakeAll()
			_ = w.Remove(i)
			return true
		})
		if woken == 0 && t.rule[id] == RuleLatch {
			t.trigger[id]++
		}
	case RuleSingle:
		for woken == 0 && !w.Empty() {
			i := w.Front()
			q := &t.pool[i].q
			if q.wakeOne() {
				woken++
			}
			if q.Len() == 0 {
				_ = w.Remove(i)
			}
		}
		if woken == 0 {
			t.trigger[id]++
		}
	default:
		k.Fatalf("event %#x: bad rule %d", id, t.rule[id])
	}
	if woken > 0 && resched {
		k.schedule()
	}
}

// Free wakes the event's blocked tasks with ErrDeleted and returns the
// event to the pool.
func (ev *Event) Free() error {
	ev.check("free event")
	k := ev.k
	s := k.lock()
	defer k.unlock(s)

	t := &k.events
	woken := ev.q.cleanup()
	if err := ev.q.deinit(); err != nil {
		return err
	}
	if w := t.waiting[ev.id]; w.Contains(ev.idx) {
		_ = w.Remove(ev.idx)
	}
	t.standby[ev.id]--
	if t.standby[ev.id] == 0 {
		t.trigger[ev.id] = 0
	}
	ev.magic = 0
	if err := t.free.PushBack(ev.idx); err != nil {
		k.Fatalf("free event %#x: %v", ev.id, err)
	}
	if woken > 0 {
		k.schedule()
	}
	return nil
}

// EventState is a snapshot of one event ID.
type EventState struct {
	ID      uint32
	Rule    Rule
	Trigger uint32
	Standby uint32
	Waiting int
}

// Event returns the state of one event ID.
func (k *Kernel) Event(id uint32) (EventState, bool) {
	if id >= NumEventIDs {
		return EventState{}, false
	}
	s := k.lock()
	defer k.unlock(s)

	t := &k.events
	st := EventState{ID: id, Rule: t.rule[id], Trigger: t.trigger[id], Standby: t.standby[id]}
	t.waiting[id].Each(func(i list.Index) bool {
		st.Waiting += t.pool[i].q.Len()
		return true
	})
	return st, true
}

// FreeEvents returns the number of unallocated event objects.
func (k *Kernel) FreeEvents() int {
	s := k.lock()
	defer k.unlock(s)
	return k.events.free.Len()
}
