package mailbox

import (
	"fmt"

	"npu/hal"
	"npu/kernel"
	"npu/kernel/list"
	"npu/klog"
)

// Response is one queued answer: the request header to stamp on the
// downward ring and the result to write on the response ring.
type Response struct {
	Request Message
	MID     uint32
	Result  Result

	dn *Downward
}

type respSlot struct {
	priority uint16
	resp     Response
}

// Upward is the firmware-to-host response ring and its fixed pool of
// response slots. A slot sits on the available list, on the pending list,
// or on neither while the response task delivers it.
type Upward struct {
	k   *kernel.Kernel
	mem hal.SharedMemory
	log *klog.Logger
	ev  *kernel.Event

	hctrl uint32
	ring  Ring

	links     *list.Arena
	available *list.List
	pending   *list.List
	slots     [NumMessages]respSlot

	issued    uint64
	delivered uint64
}

// NewUpward returns a response channel with every slot available.
func NewUpward(k *kernel.Kernel, mem hal.SharedMemory, log *klog.Logger, ev *kernel.Event) *Upward {
	u := &Upward{k: k, mem: mem, log: log.With("up"), ev: ev, links: list.NewArena(NumMessages)}
	u.available = u.links.NewList()
	u.pending = u.links.NewList()
	for i := range u.slots {
		u.insert(u.available, list.Index(i))
	}
	return u
}

func (u *Upward) attach(l Layout, h Header) {
	u.hctrl = l.ctrl(ChanResponse)
	u.ring = NewRing(u.mem, l, h.Ctrl(ChanResponse))
}

// insert queues slot i behind every slot of equal or higher priority.
func (u *Upward) insert(l *list.List, i list.Index) {
	prio := u.slots[i].priority
	mark := list.None
	l.Each(func(j list.Index) bool {
		if u.slots[j].priority > prio {
			mark = j
			return false
		}
		return true
	})
	var err error
	if mark == list.None {
		err = l.PushBack(i)
	} else {
		err = l.InsertBefore(i, mark)
	}
	if err != nil {
		u.k.Fatalf("response slot %d: %v", i, err)
	}
}

// Issue queues a response and wakes the response task. It never blocks:
// with no slot available it fails with ErrSaturated.
func (u *Upward) Issue(resp Response) error {
	s := u.k.Lock()
	err := u.issueLocked(resp)
	u.k.Unlock(s)
	if err != nil {
		return err
	}
	u.ev.Set()
	return nil
}

// issueLocked takes a slot for resp. The caller holds the kernel lock and
// sets the event once it has dropped it.
func (u *Upward) issueLocked(resp Response) error {
	i, err := u.available.PopFront()
	if err != nil {
		return ipcErr("upward issue", fmt.Errorf("mid %d: %w", resp.MID, ErrSaturated))
	}
	u.slots[i] = respSlot{resp: resp}
	u.insert(u.pending, i)
	u.issued++
	return nil
}

// Get takes the oldest pending response, blocking while there is none. The
// slot stays out of both lists until Release.
func (u *Upward) Get() (int, Response, error) {
	for {
		s := u.k.Lock()
		if i, err := u.pending.PopFront(); err == nil {
			resp := u.slots[i].resp
			u.k.Unlock(s)
			return int(i), resp, nil
		}
		u.k.Unlock(s)
		if err := u.ev.Wait(); err != nil {
			return -1, Response{}, err
		}
	}
}

// Put writes a response onto the response ring.
func (u *Upward) Put(resp Response) error {
	if u.ring.Len() == 0 {
		return ipcErr("upward put", ErrNotReady)
	}
	hc := loadCtrl(u.mem, u.hctrl)
	m := Message{MID: resp.MID, Command: resp.Result.Command, Length: ResultSize}
	if err := u.ring.Put(&hc, &m, resp.Result.Encode()); err != nil {
		return err
	}
	u.mem.PutUint32(u.hctrl+ctrlWptr, hc.Wptr)
	u.delivered++
	return nil
}

// Release returns a delivered slot to the available list.
func (u *Upward) Release(slot int) error {
	if slot < 0 || slot >= NumMessages {
		return ipcErr("upward release", fmt.Errorf("slot %d: %w", slot, kernel.ErrInvalidArgument))
	}
	s := u.k.Lock()
	defer u.k.Unlock(s)

	i := list.Index(slot)
	if u.links.Owner(i) != nil {
		return ipcErr("upward release", fmt.Errorf("slot %d: %w", slot, ErrSlotState))
	}
	u.slots[i] = respSlot{}
	u.insert(u.available, i)
	return nil
}

// Available returns the number of free response slots.
func (u *Upward) Available() int {
	s := u.k.Lock()
	defer u.k.Unlock(s)
	return u.available.Len()
}

// Pending returns the number of responses waiting for delivery.
func (u *Upward) Pending() int {
	s := u.k.Lock()
	defer u.k.Unlock(s)
	return u.pending.Len()
}

// Stats returns the number of responses issued and written to the ring.
func (u *Upward) Stats() (issued, delivered uint64) {
	s := u.k.Lock()
	defer u.k.Unlock(s)
	return u.issued, u.delivered
}
