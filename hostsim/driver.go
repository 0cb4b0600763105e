// Package hostsim drives the host side of the mailbox protocol against a
// running firmware: it publishes the header, performs the handshake and
// submits requests from command scripts or an interactive console.
package hostsim

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"npu/hal"
	"npu/mailbox"

	"github.com/google/shlex"
)

var (
	ErrUsage   = errors.New("usage")
	ErrTimeout = errors.New("timed out")

	// errQuit ends a script or console session without error.
	errQuit = errors.New("quit")
)

// DefaultWait bounds a wait command without an explicit timeout.
const DefaultWait = 5 * time.Second

// Driver is one host session on a shared region.
type Driver struct {
	host *mailbox.Host
	out  io.Writer
	cfg  mailbox.HostConfig

	poll    time.Duration
	nextMID uint32
	// waiting maps the mids submitted and not yet answered to their ring.
	waiting map[uint32]mailbox.Channel
	replies map[uint32]mailbox.Result
}

// New returns a driver for the firmware behind h. Output goes to out.
func New(h hal.HAL, out io.Writer, cfg mailbox.HostConfig) *Driver {
	if out == nil {
		out = io.Discard
	}
	return &Driver{
		host:    mailbox.NewHost(h.SharedMemory(), h.Interrupts()),
		out:     out,
		cfg:     cfg,
		poll:    hal.TickPeriod,
		waiting: make(map[uint32]mailbox.Channel),
		replies: make(map[uint32]mailbox.Result),
	}
}

// Host returns the protocol driver.
func (d *Driver) Host() *mailbox.Host { return d.host }

// Connect publishes the header and completes the handshake.
func (d *Driver) Connect(ctx context.Context) error {
	if err := d.host.Publish(d.cfg); err != nil {
		return err
	}
	if err := d.host.Handshake(ctx, d.poll); err != nil {
		return fmt.Errorf("handshake: %w", err)
	}
	fmt.Fprintln(d.out, "connected")
	return nil
}

// Exec runs one command line. Blank lines and comments are ignored.
func (d *Driver) Exec(ctx context.Context, line string) error {
	args, err := shlex.Split(line)
	if err != nil {
		return fmt.Errorf("parse %q: %w", line, err)
	}
	if len(args) == 0 {
		return nil
	}
	switch args[0] {
	case "submit":
		return d.submit(args[1:])
	case "wait":
		return d.wait(ctx, args[1:])
	case "ticks":
		return d.ticks(ctx, args[1:])
	case "sleep":
		return d.sleep(ctx, args[1:])
	case "reports":
		return d.reports()
	case "dump":
		d.dump()
		return nil
	case "quit", "exit":
		return errQuit
	}
	return fmt.Errorf("command %q: %w", args[0], ErrUsage)
}

// Run executes every line of r. The session ends at EOF or quit.
func (d *Driver) Run(ctx context.Context, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	for n, line := range strings.Split(string(data), "\n") {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := d.Exec(ctx, line)
		if errors.Is(err, errQuit) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("line %d: %w", n+1, err)
		}
	}
	return nil
}

// submit <low|high> <command> [mid=N] [word|key=word ...]
func (d *Driver) submit(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("submit <low|high> <command> [mid=N] [words]: %w", ErrUsage)
	}
	ch, err := mailbox.ParseChannel(args[0])
	if err != nil {
		return err
	}
	cmd, err := mailbox.ParseCommand(args[1])
	if err != nil {
		return err
	}
	mid := d.nextMID
	hasMID := false
	var words []uint32
	for _, a := range args[2:] {
		key, val, kv := strings.Cut(a, "=")
		if !kv {
			val = a
		}
		w, err := strconv.ParseUint(val, 0, 32)
		if err != nil {
			return fmt.Errorf("argument %q: %w", a, ErrUsage)
		}
		if kv && key == "mid" {
			mid, hasMID = uint32(w), true
			continue
		}
		words = append(words, uint32(w))
	}
	if len(words) == 0 {
		words = []uint32{0}
	}
	if !hasMID {
		d.nextMID = (d.nextMID + 1) % mailbox.NumMessages
	}
	self, err := d.host.Submit(ch, mid, cmd, mailbox.Words(words...))
	if err != nil {
		return err
	}
	d.waiting[mid] = ch
	fmt.Fprintf(d.out, "submit %v mid %d %v %v at %#x\n", ch, mid, cmd, words, self)
	return nil
}

// wait [mid] [timeout] blocks until mid, or every outstanding mid, is
// answered.
func (d *Driver) wait(ctx context.Context, args []string) error {
	timeout := DefaultWait
	want := -1
	for _, a := range args {
		if v, err := strconv.ParseUint(a, 0, 32); err == nil {
			want = int(v)
			continue
		}
		t, err := time.ParseDuration(a)
		if err != nil {
			return fmt.Errorf("wait [mid] [timeout]: %w", ErrUsage)
		}
		timeout = t
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := func() bool {
		if want >= 0 {
			_, ok := d.replies[uint32(want)]
			return ok
		}
		return len(d.waiting) == 0
	}
	t := time.NewTicker(d.poll)
	defer t.Stop()
	for {
		if err := d.collect(); err != nil {
			return err
		}
		if done() {
			break
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("wait %v: %w", args, ErrTimeout)
			}
			return ctx.Err()
		case <-t.C:
		}
	}
	if want >= 0 {
		delete(d.replies, uint32(want))
	} else {
		clear(d.replies)
	}
	return nil
}

// collect drains the response ring and prints every reply.
func (d *Driver) collect() error {
	got, err := d.host.Responses()
	if err != nil {
		return err
	}
	for _, r := range got {
		delete(d.waiting, r.MID)
		d.replies[r.MID] = r.Result
		fmt.Fprintf(d.out, "reply mid %d: %s\n", r.MID, FormatResult(r.Result))
	}
	return nil
}

// Reply returns the last unconsumed reply for mid.
func (d *Driver) Reply(mid uint32) (mailbox.Result, bool) {
	r, ok := d.replies[mid]
	return r, ok
}

func (d *Driver) ticks(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("ticks N: %w", ErrUsage)
	}
	n, err := strconv.ParseUint(args[0], 0, 32)
	if err != nil {
		return fmt.Errorf("ticks %q: %w", args[0], ErrUsage)
	}
	return pause(ctx, time.Duration(n)*hal.TickPeriod)
}

func (d *Driver) sleep(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("sleep DURATION: %w", ErrUsage)
	}
	t, err := time.ParseDuration(args[0])
	if err != nil {
		return fmt.Errorf("sleep %q: %w", args[0], ErrUsage)
	}
	return pause(ctx, t)
}

func pause(ctx context.Context, t time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(t):
		return nil
	}
}

func (d *Driver) reports() error {
	lines, err := d.host.Reports()
	if err != nil {
		return err
	}
	for _, l := range lines {
		fmt.Fprintf(d.out, "report: %s\n", l)
	}
	return nil
}

func (d *Driver) dump() {
	fmt.Fprintf(d.out, "ready %v\n", d.host.Ready())
	for _, c := range []mailbox.Channel{mailbox.ChanLow, mailbox.ChanHigh} {
		fmt.Fprintf(d.out, "%v outstanding %d bytes\n", c, d.host.Outstanding(c))
	}
	mids := make([]int, 0, len(d.waiting))
	for mid := range d.waiting {
		mids = append(mids, int(mid))
	}
	sort.Ints(mids)
	fmt.Fprintf(d.out, "waiting %v\n", mids)
}

// FormatResult renders a reply for the console.
func FormatResult(r mailbox.Result) string {
	s := fmt.Sprintf("%v %d", r.Command, r.ID)
	if r.Return != 0 {
		s += fmt.Sprintf(" (%v)", mailbox.Code(-r.Return))
	}
	if r.Args != [4]uint32{} {
		s += fmt.Sprintf(" args %v", r.Args)
	}
	return s
}
