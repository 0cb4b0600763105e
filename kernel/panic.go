package kernel

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// PanicInfo describes a fatal kernel fault.
type PanicInfo struct {
	TaskID TaskID
	Task   string
	Value  any
	Stack  []byte
}

var (
	panicActive atomic.Bool
	panicOnce   sync.Once

	panicHandler atomic.Value // func(PanicInfo)
)

// InPanicMode reports whether a fatal fault has been raised.
func InPanicMode() bool {
	return panicActive.Load()
}

// SetPanicHandler installs a process-wide fatal fault handler.
//
// The handler is invoked at most once (on the first fault). It must not panic.
func SetPanicHandler(fn func(PanicInfo)) {
	panicHandler.Store(fn)
}

func triggerPanic(info PanicInfo) {
	panicOnce.Do(func() {
		panicActive.Store(true)
		info.Stack = captureStack()
		if v := panicHandler.Load(); v != nil {
			if fn, ok := v.(func(PanicInfo)); ok && fn != nil {
				fn(info)
			}
		}
	})
}

// Fatalf reports a kernel invariant violation and aborts the caller.
func (k *Kernel) Fatalf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	info := PanicInfo{TaskID: k.current, Value: msg}
	if t := k.taskOrNil(k.current); t != nil {
		info.Task = t.name
	}
	k.log.Errorf("fatal: %s", msg)
	triggerPanic(info)
	panic("kernel: " + msg)
}
