package kernel

import (
	"errors"
	"fmt"
)

// Kind names the subsystem that reported an error.
type Kind uint8

const (
	KindScheduler Kind = iota + 1
	KindSync
	KindAllocator
	KindIPC
)

func (k Kind) String() string {
	switch k {
	case KindScheduler:
		return "scheduler"
	case KindSync:
		return "sync"
	case KindAllocator:
		return "allocator"
	case KindIPC:
		return "ipc"
	default:
		return "unknown"
	}
}

var (
	ErrInvalidState    = errors.New("invalid state")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrEmptyList       = errors.New("empty list")
	ErrNoTaskSlot      = errors.New("no free task slot")
	ErrNoEventSlot     = errors.New("no free event slot")
	ErrRuleConflict    = errors.New("event id registered with another rule")
	ErrBusy            = errors.New("wait queue busy")
	ErrDeleted         = errors.New("object deleted while waiting")
)

// Error is a recoverable kernel error tagged with its subsystem.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func schedErr(op string, err error) error { return &Error{Kind: KindScheduler, Op: op, Err: err} }
func syncErr(op string, err error) error  { return &Error{Kind: KindSync, Op: op, Err: err} }

// KindOf returns the subsystem of a kernel error, or 0.
func KindOf(err error) Kind {
	var ke *Error
	if errors.As(err, &ke) {
		return ke.Kind
	}
	return 0
}
