package mailbox

import (
	"encoding/binary"
	"errors"
	"fmt"

	"npu/kernel"
)

var (
	ErrBadHeader    = errors.New("malformed mailbox header")
	ErrVersion      = errors.New("protocol version mismatch")
	ErrBadChannel   = errors.New("unknown channel")
	ErrEmptyMessage = errors.New("empty message")
	ErrMisaligned   = errors.New("length not a multiple of 4")
	ErrNoSpace      = errors.New("no space in segment")
	ErrPartial      = errors.New("partial message")
	ErrBadMagic     = errors.New("bad message magic")
	ErrCounter      = errors.New("read counter past write counter")
	ErrBounds       = errors.New("payload outside written data")
	ErrSaturated    = errors.New("response channel saturated")
	ErrSlotState    = errors.New("message slot in wrong state")
	ErrNotReady     = errors.New("mailbox not initialised")
	ErrPayload      = errors.New("payload too short")
)

func ipcErr(op string, err error) error {
	return &kernel.Error{Kind: kernel.KindIPC, Op: op, Err: err}
}

// Command is a message command code. Requests use 0..7, completions 100+.
type Command uint32

const (
	CmdLoad Command = iota
	CmdUnload
	CmdProcess
	CmdProfileCtl
	CmdPurge
	CmdPowerdown
	CmdFWTest

	CmdDone Command = iota + 93
	CmdNDone
	CmdGroupDone
	CmdRollover
)

// ReportLog is the command code of a log line on the report ring.
const ReportLog Command = 0x200

var commandNames = map[Command]string{
	CmdLoad:       "load",
	CmdUnload:     "unload",
	CmdProcess:    "process",
	CmdProfileCtl: "profile_ctl",
	CmdPurge:      "purge",
	CmdPowerdown:  "powerdown",
	CmdFWTest:     "fw_test",
	CmdDone:       "done",
	CmdNDone:      "ndone",
	CmdGroupDone:  "group_done",
	CmdRollover:   "rollover",
	ReportLog:     "log",
}

func (c Command) String() string {
	if s, ok := commandNames[c]; ok {
		return s
	}
	return fmt.Sprintf("cmd(%d)", uint32(c))
}

// ParseCommand maps a command name to its code.
func ParseCommand(s string) (Command, error) {
	for c, name := range commandNames {
		if name == s {
			return c, nil
		}
	}
	return 0, fmt.Errorf("command %q: unknown", s)
}

// Code is the error code carried by a synthesized NDONE response. The
// response's return value is its negation.
type Code uint32

const (
	CodeBadMagic   Code = 0x101
	CodeBadMID     Code = 0x102
	CodeBusy       Code = 0x103
	CodeBadCommand Code = 0x104
	CodeNoHandler  Code = 0x105
)

func (c Code) String() string {
	switch c {
	case CodeBadMagic:
		return "bad magic"
	case CodeBadMID:
		return "message id out of range"
	case CodeBusy:
		return "message slot busy"
	case CodeBadCommand:
		return "command out of range"
	case CodeNoHandler:
		return "no handler"
	default:
		return fmt.Sprintf("code(%#x)", uint32(c))
	}
}

// Message is a decoded ring message header.
type Message struct {
	Magic   uint32
	MID     uint32
	Command Command
	Length  uint32
	// Self is the counter the header was read at.
	Self uint32
	// Data is the counter of the first payload byte.
	Data uint32
}

// ResultSize is the payload length of every response.
const ResultSize = 0x18

// Result is a response payload: six little-endian words.
type Result struct {
	Command Command
	// ID is the first word, the frame or group index for completions.
	ID     uint32
	Return int32
	Args   [4]uint32
}

// Done is a successful completion for frame or object id.
func Done(id uint32) Result { return Result{Command: CmdDone, ID: id} }

// NotDone is a failed completion carrying a negated error code.
func NotDone(id uint32, code Code) Result {
	return Result{Command: CmdNDone, ID: id, Return: -int32(code)}
}

// Encode returns the wire form of the result.
func (r Result) Encode() []byte {
	b := make([]byte, ResultSize)
	binary.LittleEndian.PutUint32(b[0:], r.ID)
	binary.LittleEndian.PutUint32(b[4:], uint32(r.Return))
	for i, a := range r.Args {
		binary.LittleEndian.PutUint32(b[8+4*i:], a)
	}
	return b
}

// DecodeResult parses a response payload.
func DecodeResult(cmd Command, b []byte) (Result, error) {
	if len(b) < ResultSize {
		return Result{}, fmt.Errorf("result %d bytes: %w", len(b), ErrPayload)
	}
	r := Result{
		Command: cmd,
		ID:      binary.LittleEndian.Uint32(b[0:]),
		Return:  int32(binary.LittleEndian.Uint32(b[4:])),
	}
	for i := range r.Args {
		r.Args[i] = binary.LittleEndian.Uint32(b[8+4*i:])
	}
	return r, nil
}
