package kernel

// Context provides task-local access to kernel operations.
type Context struct {
	k   *Kernel
	id  TaskID
	arg any
}

// TaskID returns the current task ID.
func (c *Context) TaskID() TaskID { return c.id }

// Kernel returns the kernel the task runs on.
func (c *Context) Kernel() *Kernel { return c.k }

// Arg returns the argument the task was created with.
func (c *Context) Arg() any { return c.arg }

// Name returns the task's name.
func (c *Context) Name() string {
	info, _ := c.k.Task(c.id)
	return info.Name
}

// Delay sleeps for the given number of ticks.
func (c *Context) Delay(ticks uint32) error { return c.k.Delay(ticks) }

// Yield hands the core to an equal-priority peer.
func (c *Context) Yield() { c.k.Yield() }

// Suspend suspends the calling task until another task resumes it.
func (c *Context) Suspend() error { return c.k.Suspend(c.id) }

// Idle waits for the next interrupt with the core otherwise unused.
func (c *Context) Idle() { c.k.cpu.WaitForInterrupt() }
