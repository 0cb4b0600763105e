package kernel

import (
	"fmt"

	"npu/hal"
	"npu/kernel/list"
)

// TaskID indexes the task table.
type TaskID int

// NoTask is the ID used before the scheduler has a current task.
const NoTask TaskID = -1

const (
	taskMagic = 0xC0FFEE0

	// MinStackSize is the initial register frame pushed on a new task stack.
	MinStackSize = 16 * 4
)

// State is a task state bitmask. A task is in exactly one of Suspended,
// Ready, Sleeping or Pending; Running and NotReady overlay those.
type State uint32

const (
	StateSuspended State = 1 << iota
	StateReady
	StateSleeping
	StatePending
	StateNotReady
	StateRunning

	primaryStates = StateSuspended | StateReady | StateSleeping | StatePending
)

func (s State) String() string {
	var base string
	switch s & primaryStates {
	case StateSuspended:
		base = "suspended"
	case StateReady:
		base = "ready"
	case StateSleeping:
		base = "sleeping"
	case StatePending:
		base = "pending"
	case 0:
		base = "none"
	default:
		return fmt.Sprintf("state(%#x)", uint32(s))
	}
	if s&StateRunning != 0 {
		base += "+running"
	}
	if s&StateNotReady != 0 {
		base += "+notready"
	}
	return base
}

// TaskFunc is a task body. When it returns the task suspends itself; a
// later Resume runs the body again from the start.
type TaskFunc func(ctx *Context)

// TaskSpec describes a task to create.
type TaskSpec struct {
	Name      string
	Priority  int
	Handler   TaskFunc
	Arg       any
	MaxSlices int32
	StackAddr uint32
	StackSize uint32
}

type task struct {
	magic uint32
	id    TaskID
	name  string
	prio  uint8
	state State

	maxSlices   int32
	remaining   int32
	totalSlices uint64

	handler TaskFunc
	arg     any

	stackAddr uint32
	stackSize uint32

	// delay is relative to the previous task on the delayed list.
	delay int32

	waitq         *WaitQueue
	wokenByDelete bool
}

// TaskInfo is a snapshot of one task.
type TaskInfo struct {
	ID              TaskID
	Name            string
	Priority        uint8
	State           State
	MaxSlices       int32
	RemainingSlices int32
	TotalSlices     uint64
	StackAddr       uint32
	StackSize       uint32
	Delay           int32
}

func (k *Kernel) taskOrNil(id TaskID) *task {
	if id < 0 || int(id) >= len(k.tasks) {
		return nil
	}
	t := &k.tasks[id]
	if t.magic != taskMagic {
		return nil
	}
	return t
}

// mustTask returns a live task or aborts.
func (k *Kernel) mustTask(id TaskID) *task {
	if id < 0 || int(id) >= len(k.tasks) {
		k.Fatalf("task id %d out of range", id)
	}
	t := &k.tasks[id]
	if t.magic != taskMagic {
		k.Fatalf("task %d: bad magic %#x", id, t.magic)
	}
	return t
}

// CreateTask registers a suspended task. Resume makes it runnable.
func (k *Kernel) CreateTask(spec TaskSpec) (TaskID, error) {
	if spec.Handler == nil {
		k.Fatalf("create task %q: nil handler", spec.Name)
	}
	if spec.Priority < 0 || spec.Priority >= NumPriorities {
		return NoTask, schedErr("create task", fmt.Errorf("priority %d: %w", spec.Priority, ErrInvalidArgument))
	}
	if spec.StackAddr&3 != 0 || spec.StackSize&3 != 0 || spec.StackSize < MinStackSize {
		return NoTask, schedErr("create task", fmt.Errorf("stack %#x+%#x: %w", spec.StackAddr, spec.StackSize, ErrInvalidArgument))
	}

	s := k.lock()
	defer k.unlock(s)

	id := NoTask
	for i := range k.tasks {
		if k.tasks[i].magic != taskMagic {
			id = TaskID(i)
			break
		}
	}
	if id == NoTask {
		return NoTask, schedErr("create task", ErrNoTaskSlot)
	}

	k.tasks[id] = task{
		id:        id,
		name:      spec.Name,
		prio:      uint8(spec.Priority),
		maxSlices: spec.MaxSlices,
		remaining: spec.MaxSlices,
		handler:   spec.Handler,
		arg:       spec.Arg,
		stackAddr: spec.StackAddr,
		stackSize: spec.StackSize,
	}
	k.cpu.InitContext(int(id), k.entry(id))
	if err := k.all.PushBack(list.Index(id)); err != nil {
		k.Fatalf("create task %q: %v", spec.Name, err)
	}
	t := &k.tasks[id]
	t.state = StateSuspended
	t.magic = taskMagic
	k.log.Debugf("task %d %q prio %d stack %#x+%#x", id, t.name, t.prio, t.stackAddr, t.stackSize)
	return id, nil
}

// entry is the trampoline every task starts in: run the body, then suspend,
// forever.
func (k *Kernel) entry(id TaskID) func() {
	return func() {
		k.cpu.RestoreInterrupts(hal.IRQEnabled)
		for {
			t := k.mustTask(id)
			t.handler(&Context{k: k, id: id, arg: t.arg})

			s := k.lock()
			if err := k.suspendLocked(id); err != nil {
				k.Fatalf("task %q: suspend on return: %v", t.name, err)
			}
			k.unlock(s)
		}
	}
}

// Resume moves a suspended task to the ready list.
func (k *Kernel) Resume(id TaskID) error {
	s := k.lock()
	defer k.unlock(s)

	t := k.mustTask(id)
	if t.state&StateSuspended == 0 {
		return schedErr("resume", fmt.Errorf("task %q %v: %w", t.name, t.state, ErrInvalidState))
	}
	k.addReady(id)
	k.schedule()
	return nil
}

// Suspend removes a task from whatever list holds it. A task blocked on a
// semaphore or event is released without acquiring it.
func (k *Kernel) Suspend(id TaskID) error {
	s := k.lock()
	defer k.unlock(s)
	return k.suspendLocked(id)
}

func (k *Kernel) suspendLocked(id TaskID) error {
	t := k.mustTask(id)
	if t.state&(StateReady|StateSleeping|StatePending) == 0 {
		return schedErr("suspend", fmt.Errorf("task %q %v: %w", t.name, t.state, ErrInvalidState))
	}

	var err error
	switch t.state {
	case StateReady, StateReady | StateRunning:
		err = k.delReady(id)
	case StateSleeping:
		err = k.delDelayed(id)
	case StatePending:
		err = k.delPending(id)
	default:
		k.Fatalf("suspend task %q: impossible state %v", t.name, t.state)
	}
	if err != nil {
		return err
	}
	t.state = StateSuspended
	k.schedule()
	return nil
}

// Current returns the running task.
func (k *Kernel) Current() TaskID {
	s := k.lock()
	defer k.unlock(s)
	return k.current
}

// Task returns a snapshot of one task.
func (k *Kernel) Task(id TaskID) (TaskInfo, bool) {
	s := k.lock()
	defer k.unlock(s)
	t := k.taskOrNil(id)
	if t == nil {
		return TaskInfo{}, false
	}
	return t.info(), true
}

// Tasks returns a snapshot of every task in creation order.
func (k *Kernel) Tasks() []TaskInfo {
	s := k.lock()
	defer k.unlock(s)

	out := make([]TaskInfo, 0, k.all.Len())
	k.all.Each(func(i list.Index) bool {
		out = append(out, k.tasks[i].info())
		return true
	})
	return out
}

// TaskByName finds a task by name.
func (k *Kernel) TaskByName(name string) (TaskID, bool) {
	for _, info := range k.Tasks() {
		if info.Name == name {
			return info.ID, true
		}
	}
	return NoTask, false
}

func (t *task) info() TaskInfo {
	return TaskInfo{
		ID:              t.id,
		Name:            t.name,
		Priority:        t.prio,
		State:           t.state,
		MaxSlices:       t.maxSlices,
		RemainingSlices: t.remaining,
		TotalSlices:     t.totalSlices,
		StackAddr:       t.stackAddr,
		StackSize:       t.stackSize,
		Delay:           t.delay,
	}
}
