//go:build !tinygo

package kernel

import "runtime/debug"

// captureStack returns the faulting goroutine's stack; on the host each task
// runs on its own goroutine, so this is the task's call chain.
func captureStack() []byte {
	return debug.Stack()
}
