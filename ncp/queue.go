package ncp

import (
	"errors"
	"fmt"

	"npu/kernel"
	"npu/mailbox"
)

var ErrQueueFull = errors.New("queue full")

// Frame is one PROCESS request travelling from a dispatcher to a job task.
type Frame struct {
	OID uint32
	FID uint32
	// Queued is the tick at which the frame was accepted.
	Queued uint64

	req *mailbox.Request
}

// Queue is a fixed ring of frames whose fill level is a kernel semaphore,
// so consumers block in Pop while producers never block.
type Queue struct {
	k    *kernel.Kernel
	name string
	sem  *kernel.Semaphore

	buf  []Frame
	head int
	n    int
}

// NewQueue returns an empty queue of size frames. tag names the semaphore.
func NewQueue(k *kernel.Kernel, name string, tag uint32, size int) (*Queue, error) {
	if size <= 0 {
		return nil, fmt.Errorf("queue %s size %d: %w", name, size, kernel.ErrInvalidArgument)
	}
	sem, err := k.NewSemaphore(tag, 0)
	if err != nil {
		return nil, fmt.Errorf("queue %s: %w", name, err)
	}
	return &Queue{k: k, name: name, sem: sem, buf: make([]Frame, size)}, nil
}

// Push appends f and wakes one consumer.
func (q *Queue) Push(f Frame) error {
	s := q.k.Lock()
	defer q.k.Unlock(s)
	if q.n == len(q.buf) {
		return fmt.Errorf("%s fid %d: %w", q.name, f.FID, ErrQueueFull)
	}
	q.buf[(q.head+q.n)%len(q.buf)] = f
	q.n++
	q.sem.Up()
	return nil
}

// Pop blocks until a frame is queued and removes it.
func (q *Queue) Pop() (Frame, error) {
	if err := q.sem.Down(); err != nil {
		return Frame{}, err
	}
	s := q.k.Lock()
	defer q.k.Unlock(s)
	return q.take(), nil
}

func (q *Queue) take() Frame {
	f := q.buf[q.head]
	q.buf[q.head] = Frame{}
	q.head = (q.head + 1) % len(q.buf)
	q.n--
	return f
}

// Drain removes every frame no consumer has claimed yet.
func (q *Queue) Drain() []Frame {
	s := q.k.Lock()
	defer q.k.Unlock(s)
	var out []Frame
	for q.n > 0 && q.sem.TryDown() {
		out = append(out, q.take())
	}
	return out
}

// Len returns the number of queued frames.
func (q *Queue) Len() int {
	s := q.k.Lock()
	defer q.k.Unlock(s)
	return q.n
}
