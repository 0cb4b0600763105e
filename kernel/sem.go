package kernel

import (
	"fmt"
)

const semMagic = 0x5E3A0F0

// Semaphore is a counting semaphore whose waiters are served in priority
// order.
type Semaphore struct {
	k     *Kernel
	magic uint32
	name  uint32
	count int
	q     WaitQueue
}

// NewSemaphore creates a semaphore with an initial count.
func (k *Kernel) NewSemaphore(name uint32, count int) (*Semaphore, error) {
	if name == 0 {
		k.Fatalf("semaphore without name")
	}
	if count < 0 {
		return nil, syncErr("new semaphore", fmt.Errorf("count %d: %w", count, ErrInvalidArgument))
	}

	s := k.lock()
	defer k.unlock(s)

	sem := &Semaphore{k: k, name: name, count: count}
	k.initWaitQueue(&sem.q, PriorityOrder, sem)
	sem.magic = semMagic
	k.sems = append(k.sems, sem)
	return sem, nil
}

func (sem *Semaphore) check(op string) {
	if sem == nil || sem.k == nil {
		panic("kernel: " + op + ": invalid semaphore")
	}
	if sem.magic != semMagic {
		sem.k.Fatalf("%s: invalid semaphore %#x", op, sem.name)
	}
}

// Down takes one unit, blocking while the count is zero.
func (sem *Semaphore) Down() error {
	sem.check("down")
	k := sem.k
	s := k.lock()
	defer k.unlock(s)

	if sem.count > 0 {
		sem.count--
		return nil
	}
	return sem.q.block("down")
}

// TryDown takes one unit if available without blocking.
func (sem *Semaphore) TryDown() bool {
	sem.check("try down")
	k := sem.k
	s := k.lock()
	defer k.unlock(s)

	if sem.count > 0 {
		sem.count--
		return true
	}
	return false
}

// Up releases one unit. With waiters the unit is handed straight to the
// highest-priority one and the count stays unchanged. Safe from interrupt
// context, where the reschedule is deferred to the handler epilogue.
func (sem *Semaphore) Up() {
	sem.check("up")
	k := sem.k
	s := k.lock()
	defer k.unlock(s)

	if !sem.q.wakeOne() {
		sem.count++
		return
	}
	k.schedule()
}

// Count returns the number of available units.
func (sem *Semaphore) Count() int {
	sem.check("count")
	s := sem.k.lock()
	defer sem.k.unlock(s)
	return sem.count
}

// Waiters returns the blocked tasks in service order.
func (sem *Semaphore) Waiters() []TaskID {
	sem.check("waiters")
	s := sem.k.lock()
	defer sem.k.unlock(s)
	return sem.q.Waiters()
}

// Name returns the semaphore's name tag.
func (sem *Semaphore) Name() uint32 { return sem.name }

// Delete wakes every waiter with ErrDeleted and unregisters the semaphore.
func (sem *Semaphore) Delete() error {
	sem.check("delete")
	k := sem.k
	s := k.lock()
	defer k.unlock(s)

	woken := sem.q.cleanup()
	if err := sem.q.deinit(); err != nil {
		return err
	}
	for i, other := range k.sems {
		if other == sem {
			k.sems = append(k.sems[:i], k.sems[i+1:]...)
			break
		}
	}
	sem.magic = 0
	if woken > 0 {
		k.schedule()
	}
	return nil
}

// Semaphores returns the number of live semaphores.
func (k *Kernel) Semaphores() int {
	s := k.lock()
	defer k.unlock(s)
	return len(k.sems)
}
