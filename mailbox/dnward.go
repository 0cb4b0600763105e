package mailbox

import (
	"errors"
	"fmt"

	"npu/hal"
	"npu/kernel"
	"npu/klog"
)

// Downward is a host-to-firmware request ring. The host owns wptr; the
// firmware keeps a local read counter and publishes the host-visible rptr
// only as requests are answered.
type Downward struct {
	mem hal.SharedMemory
	log *klog.Logger
	ch  Channel
	ev  *kernel.Event

	hctrl uint32
	ring  Ring
	fctrl Ctrl

	faults uint32
}

func newDownward(mem hal.SharedMemory, log *klog.Logger, ch Channel, ev *kernel.Event) *Downward {
	return &Downward{mem: mem, log: log.With(ch.String()), ch: ch, ev: ev}
}

func (d *Downward) attach(l Layout, h Header) {
	d.hctrl = l.ctrl(d.ch)
	d.fctrl = h.Ctrl(d.ch)
	d.ring = NewRing(d.mem, l, d.fctrl)
}

// Channel returns the ring's channel.
func (d *Downward) Channel() Channel { return d.ch }

// Faults returns the number of protocol faults seen on the ring.
func (d *Downward) Faults() uint32 { return d.faults }

// Request is one message taken from a downward ring.
type Request struct {
	Msg Message
	// Cursor is the device address of the first payload byte.
	Cursor uint32

	dn  *Downward
	hub *Hub
}

// Channel returns the ring the request arrived on.
func (r *Request) Channel() Channel { return r.dn.ch }

// Payload copies the request payload out of the ring.
func (r *Request) Payload() ([]byte, error) {
	return r.dn.ring.Read(r.Msg.Data, r.Msg.Length)
}

// Word returns payload word i.
func (r *Request) Word(i int) (uint32, error) {
	if i < 0 || uint32(i+1)*4 > r.Msg.Length {
		return 0, ipcErr("payload word", fmt.Errorf("word %d of %d bytes: %w", i, r.Msg.Length, ErrPayload))
	}
	return r.dn.ring.word(r.Msg.Data + uint32(i)*4), nil
}

// InProgress marks the request as being processed.
func (r *Request) InProgress() error { return r.hub.InProgress(r.Msg.MID) }

// Complete hands the request's result to the response pipeline.
func (r *Request) Complete(res Result) error { return r.hub.Result(r.Msg.MID, res) }

// Get returns the next request, blocking on the channel event while the
// ring is empty. A request with a bad magic is returned together with
// ErrBadMagic; it spans the rest of the written data so answering it
// releases that data to the host. Other faults drop the written data.
func (d *Downward) Get() (Request, error) {
	for {
		hw := d.mem.Uint32(d.hctrl + ctrlWptr)
		d.fctrl.Wptr = hw
		fr := d.fctrl.Rptr

		if fr == hw {
			if err := d.ev.Wait(); err != nil {
				return Request{}, err
			}
			continue
		}
		if int32(hw-fr) < 0 {
			d.resync(hw)
			return Request{}, ipcErr("dnward get", fmt.Errorf("rptr %#x wptr %#x: %w", fr, hw, ErrCounter))
		}

		var m Message
		n, err := d.ring.Get(&d.fctrl, &m)
		switch {
		case errors.Is(err, ErrBadMagic):
			d.faults++
			m.Data = m.Self + MessageSize
			m.Length = hw - m.Data
			d.fctrl.Rptr = hw
			return Request{Msg: m, Cursor: d.ring.Cursor(m.Data), dn: d}, err
		case err != nil:
			d.resync(hw)
			return Request{}, err
		case n == 0:
			continue
		}

		if m.Data-m.Self < MessageSize || m.Data-m.Self+m.Length > hw-m.Self {
			d.resync(hw)
			return Request{}, ipcErr("dnward get", fmt.Errorf("mid %d data %#x+%#x wptr %#x: %w", m.MID, m.Data, m.Length, hw, ErrBounds))
		}
		d.fctrl.Rptr = m.Data + m.Length
		return Request{Msg: m, Cursor: d.ring.Cursor(m.Data), dn: d}, nil
	}
}

func (d *Downward) resync(hw uint32) {
	d.faults++
	d.log.Warnf("resync rptr %#x -> %#x", d.fctrl.Rptr, hw)
	d.fctrl.Rptr = hw
}

// Put marks the request whose header sits at m.Self as answered and moves
// the host-visible rptr over every consecutive answered request.
func (d *Downward) Put(m Message) error {
	hc := loadCtrl(d.mem, d.hctrl)
	m.Magic = ResponseMagic
	d.ring.WriteHeader(m.Self, m)

	hr, hw := hc.Rptr, hc.Wptr
	for int32(hw-hr) > 0 {
		at := d.ring.ReadHeader(hr)
		if at.Magic != ResponseMagic {
			break
		}
		next := at.Data + at.Length
		if int32(next-hr) <= 0 {
			break
		}
		hr = next
	}
	d.mem.PutUint32(d.hctrl+ctrlRptr, hr)

	if int32(d.fctrl.Rptr-hr) < 0 {
		return ipcErr("dnward put", fmt.Errorf("local rptr %#x host rptr %#x: %w", d.fctrl.Rptr, hr, ErrCounter))
	}
	return nil
}
