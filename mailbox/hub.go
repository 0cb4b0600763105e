package mailbox

import (
	"fmt"

	"npu/kernel"
	"npu/klog"
)

// SlotState is the lifecycle of one message id.
type SlotState uint8

const (
	SlotFree SlotState = iota
	SlotReady
	SlotInProgress
)

func (s SlotState) String() string {
	switch s {
	case SlotFree:
		return "free"
	case SlotReady:
		return "ready"
	case SlotInProgress:
		return "in-progress"
	default:
		return fmt.Sprintf("slot(%d)", uint8(s))
	}
}

// Handler runs a request command. It returns once the command is accepted;
// the result is delivered later through Request.Complete.
type Handler func(req *Request) error

type hubSlot struct {
	state SlotState
	req   Request
}

// Hub routes requests to command handlers and correlates their results
// with the request slots.
type Hub struct {
	k   *kernel.Kernel
	up  *Upward
	log *klog.Logger

	handlers [NumCommands]Handler
	slots    [NumMessages]hubSlot

	rejected uint32
}

// NewHub returns a hub delivering results through up.
func NewHub(k *kernel.Kernel, up *Upward, log *klog.Logger) *Hub {
	return &Hub{k: k, up: up, log: log.With("hub")}
}

// Register installs the handler of a request command.
func (h *Hub) Register(cmd Command, fn Handler) error {
	if cmd >= NumCommands || fn == nil {
		return ipcErr("register", fmt.Errorf("command %v: %w", cmd, kernel.ErrInvalidArgument))
	}
	h.handlers[cmd] = fn
	return nil
}

// Request validates a request and runs its handler. Malformed requests are
// answered with an NDONE response instead; when the response pool is
// saturated that answer is not queued, Request fails with ErrSaturated and
// the caller retries the request.
func (h *Hub) Request(req Request) error {
	m := req.Msg
	var code Code
	switch {
	case m.Magic != MessageMagic:
		code = CodeBadMagic
	case m.MID >= NumMessages:
		code = CodeBadMID
	case m.Command >= NumCommands:
		code = CodeBadCommand
	case h.handlers[m.Command] == nil:
		code = CodeNoHandler
	}
	if code != 0 {
		return h.reject(req, code)
	}

	s := h.k.Lock()
	sl := &h.slots[m.MID]
	if sl.state != SlotFree {
		h.k.Unlock(s)
		return h.reject(req, CodeBusy)
	}
	sl.state = SlotReady
	sl.req = req
	sl.req.hub = h
	h.k.Unlock(s)

	if err := h.handlers[m.Command](&sl.req); err != nil {
		h.log.Warnf("%v mid %d: %v", m.Command, m.MID, err)
		h.Dump()
	}
	return nil
}

func (h *Hub) reject(req Request, code Code) error {
	err := h.up.Issue(Response{
		Request: req.Msg,
		MID:     req.Msg.MID,
		Result:  Result{Command: CmdNDone, Return: -int32(code)},
		dn:      req.dn,
	})
	if err != nil {
		return err
	}
	h.rejected++
	h.log.Warnf("reject mid %d %v: %v", req.Msg.MID, req.Msg.Command, code)
	return nil
}

// Rejected returns the number of requests answered with a protocol error.
func (h *Hub) Rejected() uint32 { return h.rejected }

// InProgress marks a ready message as being processed.
func (h *Hub) InProgress(mid uint32) error {
	if mid >= NumMessages {
		return ipcErr("in progress", fmt.Errorf("mid %d: %w", mid, kernel.ErrInvalidArgument))
	}
	s := h.k.Lock()
	defer h.k.Unlock(s)

	sl := &h.slots[mid]
	if sl.state != SlotReady {
		return ipcErr("in progress", fmt.Errorf("mid %d %v: %w", mid, sl.state, ErrSlotState))
	}
	sl.state = SlotInProgress
	return nil
}

// Result frees a message slot and queues its response. If the response
// pool is saturated the slot keeps its state and the caller may retry.
func (h *Hub) Result(mid uint32, res Result) error {
	if mid >= NumMessages {
		h.k.Fatalf("result for mid %d", mid)
	}
	s := h.k.Lock()
	sl := &h.slots[mid]
	if sl.state == SlotFree {
		h.k.Unlock(s)
		return ipcErr("result", fmt.Errorf("mid %d %v: %w", mid, sl.state, ErrSlotState))
	}
	err := h.up.issueLocked(Response{Request: sl.req.Msg, MID: mid, Result: res, dn: sl.req.dn})
	if err == nil {
		sl.state = SlotFree
	}
	h.k.Unlock(s)
	if err != nil {
		return err
	}
	h.up.ev.Set()
	return nil
}

// State returns the state of a message slot.
func (h *Hub) State(mid uint32) SlotState {
	if mid >= NumMessages {
		return SlotFree
	}
	s := h.k.Lock()
	defer h.k.Unlock(s)
	return h.slots[mid].state
}

// Dump logs every busy slot and the response pool.
func (h *Hub) Dump() {
	s := h.k.Lock()
	slots := h.slots
	h.k.Unlock(s)

	for mid, sl := range slots {
		if sl.state == SlotFree {
			continue
		}
		h.log.Infof("mid %2d %-11v %v len %d self %#x data %#x", mid, sl.state, sl.req.Msg.Command, sl.req.Msg.Length, sl.req.Msg.Self, sl.req.Msg.Data)
	}
	h.log.Infof("responses available %d pending %d rejected %d", h.up.Available(), h.up.Pending(), h.rejected)
}
