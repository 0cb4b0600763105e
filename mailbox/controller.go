package mailbox

import (
	"errors"
	"fmt"
	"sync/atomic"

	"npu/hal"
	"npu/kernel"
	"npu/klog"
)

// Mailbox ties the channels of one shared region to the kernel: the channel
// events, the interrupt lines, the hub and the tasks that serve them.
type Mailbox struct {
	k      *kernel.Kernel
	mem    hal.SharedMemory
	log    *klog.Logger
	layout Layout

	Low    *Downward
	High   *Downward
	Up     *Upward
	Hub    *Hub
	Report *Report

	ready     atomic.Bool
	header    Header
	debugTime uint32

	onPowerdown func()
}

// New allocates the channel events and builds the channels. The rings are
// attached by Init once the host has published the header.
func New(k *kernel.Kernel, mem hal.SharedMemory, log *klog.Logger) (*Mailbox, error) {
	if log == nil {
		log = klog.Discard()
	}
	log = log.With("mbx")

	var evs [4]*kernel.Event
	for i, id := range [...]uint32{EventLow, EventHigh, EventResponse, EventReport} {
		ev, err := k.AllocEvent(id, kernel.RuleLatch)
		if err != nil {
			return nil, fmt.Errorf("mailbox event %#x: %w", id, err)
		}
		evs[i] = ev
	}

	m := &Mailbox{k: k, mem: mem, log: log, layout: LayoutOf(mem)}
	m.Low = newDownward(mem, log, ChanLow, evs[0])
	m.High = newDownward(mem, log, ChanHigh, evs[1])
	m.Up = NewUpward(k, mem, log, evs[2])
	m.Hub = NewHub(k, m.Up, log)
	m.Report = NewReport(mem, evs[3])
	return m, nil
}

// RequestIRQs routes both interrupt lines of each downward channel to its
// event.
func (m *Mailbox) RequestIRQs() error {
	routes := []struct {
		n  int
		dn *Downward
	}{
		{IRQLow, m.Low},
		{IRQLowAlt, m.Low},
		{IRQHigh, m.High},
		{IRQHighAlt, m.High},
	}
	for _, r := range routes {
		ev := r.dn.ev
		if err := m.k.RequestIRQ(r.n, func(*kernel.Kernel) { ev.Set() }); err != nil {
			return fmt.Errorf("mailbox irq %#x: %w", r.n, err)
		}
	}
	return nil
}

// Layout returns the placement of the header in the shared region.
func (m *Mailbox) Layout() Layout { return m.layout }

// Header returns the header read during Init.
func (m *Mailbox) Header() Header { return m.header }

// DebugTime returns the host time latched at the handshake.
func (m *Mailbox) DebugTime() uint32 { return m.debugTime }

// Ready reports whether Init completed.
func (m *Mailbox) Ready() bool { return m.ready.Load() }

// OnPowerdown replaces the action taken once a POWERDOWN completion has been
// delivered. By default the scheduler is shut down.
func (m *Mailbox) OnPowerdown(fn func()) { m.onPowerdown = fn }

// Init performs the handshake with the host driver and attaches the rings.
// It polls once per tick until the host acknowledges the signature.
func (m *Mailbox) Init(ctx *kernel.Context) error {
	l := m.layout
	m.mem.PutUint32(l.Header+offDebugCode, DebugCode)
	m.mem.PutUint32(l.Header+offSignature1, Signature1)
	for m.mem.Uint32(l.Header+offSignature2) != Signature2 {
		if err := ctx.Delay(1); err != nil {
			return fmt.Errorf("mailbox handshake: %w", err)
		}
	}
	m.debugTime = m.mem.Uint32(l.Header + offDebugTime)

	h, err := ReadHeader(m.mem, l)
	if err != nil {
		return err
	}
	if err := h.Check(l); err != nil {
		return err
	}
	m.header = h
	m.Low.attach(l, h)
	m.High.attach(l, h)
	m.Up.attach(l, h)
	m.Report.attach(l, h)

	if h.LogLevel != 0 {
		m.log.SetLevel(min(klog.Level(h.LogLevel), klog.LevelDebug))
	}
	if h.LogDRAM != 0 {
		m.log.AddSink(m.Report)
	}
	if h.Version != Version {
		return ipcErr("init", fmt.Errorf("host %#x firmware %#x: %w", h.Version, Version, ErrVersion))
	}
	m.ready.Store(true)
	m.log.Infof("ready: version %#x debug time %d segments %#x/%#x/%#x/%#x",
		h.Version, m.debugTime, h.H2F[0].SgmtLen, h.H2F[1].SgmtLen, h.F2H[0].SgmtLen, h.F2H[1].SgmtLen)
	return nil
}

// WaitReady blocks the calling task until Init has completed.
func (m *Mailbox) WaitReady(ctx *kernel.Context) error {
	for !m.ready.Load() {
		if err := ctx.Delay(1); err != nil {
			return err
		}
	}
	return nil
}

// Serve runs a downward channel: every request is taken off the ring and
// handed to the hub. It returns only if the channel event is freed.
func (m *Mailbox) Serve(ctx *kernel.Context, dn *Downward) {
	if err := m.WaitReady(ctx); err != nil {
		return
	}
	for {
		req, err := dn.Get()
		switch {
		case errors.Is(err, kernel.ErrDeleted):
			return
		case errors.Is(err, ErrBadMagic):
			m.log.Warnf("%v: %v", dn.ch, err)
		case err != nil:
			m.log.Warnf("%v: %v", dn.ch, err)
			continue
		}
		if err := m.dispatch(ctx, req); err != nil {
			m.log.Errorf("%v mid %d: %v", dn.ch, req.Msg.MID, err)
			if errors.Is(err, kernel.ErrDeleted) {
				return
			}
		}
	}
}

// dispatch hands req to the hub, retrying every tick while its rejection
// cannot be queued on a saturated response pool.
func (m *Mailbox) dispatch(ctx *kernel.Context, req Request) error {
	for {
		err := m.Hub.Request(req)
		if !errors.Is(err, ErrSaturated) {
			return err
		}
		if err := ctx.Delay(1); err != nil {
			return err
		}
	}
}

// LowTask is the body of the low priority downward task.
func (m *Mailbox) LowTask(ctx *kernel.Context) { m.Serve(ctx, m.Low) }

// HighTask is the body of the high priority downward task.
func (m *Mailbox) HighTask(ctx *kernel.Context) { m.Serve(ctx, m.High) }

// ResponseTask delivers queued responses: it releases the request on its
// downward ring, writes the result to the response ring and recycles the
// slot. A full response ring is retried every tick.
func (m *Mailbox) ResponseTask(ctx *kernel.Context) {
	if err := m.WaitReady(ctx); err != nil {
		return
	}
	for {
		slot, resp, err := m.Up.Get()
		if err != nil {
			return
		}
		if resp.dn != nil {
			if err := resp.dn.Put(resp.Request); err != nil {
				m.log.Warnf("release mid %d: %v", resp.MID, err)
			}
		}
		for {
			err = m.Up.Put(resp)
			if !errors.Is(err, ErrNoSpace) {
				break
			}
			if err := ctx.Delay(1); err != nil {
				return
			}
		}
		if err != nil {
			m.log.Errorf("respond mid %d: %v", resp.MID, err)
		}
		if err := m.Up.Release(slot); err != nil {
			m.k.Fatalf("release response slot %d: %v", slot, err)
		}

		if resp.Request.Command == CmdPowerdown && resp.Result.Command == CmdDone {
			m.log.Infof("powerdown")
			if m.onPowerdown != nil {
				m.onPowerdown()
			} else {
				m.k.Shutdown()
			}
		}
	}
}

// ReportTask drains queued log lines onto the report ring.
func (m *Mailbox) ReportTask(ctx *kernel.Context) {
	if err := m.WaitReady(ctx); err != nil {
		return
	}
	for {
		if err := m.Report.ev.Wait(); err != nil {
			return
		}
		m.Report.drain()
	}
}

// Dump logs the ring counters and the hub state.
func (m *Mailbox) Dump() {
	if !m.ready.Load() {
		m.log.Infof("not ready")
		return
	}
	for _, dn := range []*Downward{m.Low, m.High} {
		hc := loadCtrl(m.mem, dn.hctrl)
		m.log.Infof("%-4v wptr %#x rptr %#x local %#x faults %d", dn.ch, hc.Wptr, hc.Rptr, dn.fctrl.Rptr, dn.faults)
	}
	issued, delivered := m.Up.Stats()
	m.log.Infof("responses issued %d delivered %d reports sent %d dropped %d",
		issued, delivered, m.Report.Sent(), m.Report.Dropped())
	m.Hub.Dump()
}
