// Package klog is the firmware's leveled line logger.
//
// Lines go to a hal.Logger and to any number of extra sinks (the debug
// console, the mailbox report ring). Each line carries the kernel tick at
// which it was produced.
package klog

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"npu/hal"
)

type Level uint32

const (
	LevelOff Level = iota
	LevelError
	LevelWarn
	LevelInfo
	LevelDebug
)

func (l Level) String() string {
	switch l {
	case LevelOff:
		return "off"
	case LevelError:
		return "error"
	case LevelWarn:
		return "warn"
	case LevelInfo:
		return "info"
	case LevelDebug:
		return "debug"
	default:
		return fmt.Sprintf("level(%d)", uint32(l))
	}
}

func (l Level) tag() byte {
	switch l {
	case LevelError:
		return 'E'
	case LevelWarn:
		return 'W'
	case LevelInfo:
		return 'I'
	default:
		return 'D'
	}
}

// ParseLevel accepts a level name or its numeric value.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "off", "0":
		return LevelOff, nil
	case "error", "1":
		return LevelError, nil
	case "warn", "warning", "2":
		return LevelWarn, nil
	case "info", "3":
		return LevelInfo, nil
	case "debug", "4":
		return LevelDebug, nil
	}
	return LevelOff, fmt.Errorf("unknown log level %q", s)
}

type core struct {
	mu    sync.Mutex
	out   hal.Logger
	sinks []hal.Logger
	level atomic.Uint32
	clock atomic.Value // func() uint64
}

// Logger writes leveled lines under a component prefix.
type Logger struct {
	c      *core
	prefix string
}

// New returns a root logger writing to out.
func New(out hal.Logger, level Level) *Logger {
	c := &core{out: out}
	c.level.Store(uint32(level))
	return &Logger{c: c}
}

// Discard returns a logger that drops every line.
func Discard() *Logger { return New(nil, LevelOff) }

// With returns a logger sharing l's outputs with an extra component prefix.
func (l *Logger) With(component string) *Logger {
	p := component
	if l.prefix != "" {
		p = l.prefix + "/" + component
	}
	return &Logger{c: l.c, prefix: p}
}

func (l *Logger) SetLevel(level Level) { l.c.level.Store(uint32(level)) }
func (l *Logger) Level() Level         { return Level(l.c.level.Load()) }

// Enabled reports whether lines at level are written.
func (l *Logger) Enabled(level Level) bool {
	return level != LevelOff && level <= l.Level()
}

// SetClock installs the tick source used to stamp lines.
func (l *Logger) SetClock(fn func() uint64) { l.c.clock.Store(fn) }

// AddSink mirrors every written line to s.
func (l *Logger) AddSink(s hal.Logger) {
	if s == nil {
		return
	}
	l.c.mu.Lock()
	l.c.sinks = append(l.c.sinks, s)
	l.c.mu.Unlock()
}

func (l *Logger) Errorf(format string, args ...any) { l.logf(LevelError, format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.logf(LevelWarn, format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.logf(LevelInfo, format, args...) }
func (l *Logger) Debugf(format string, args ...any) { l.logf(LevelDebug, format, args...) }

func (l *Logger) logf(level Level, format string, args ...any) {
	if l == nil || !l.Enabled(level) {
		return
	}
	var tick uint64
	if fn, ok := l.c.clock.Load().(func() uint64); ok && fn != nil {
		tick = fn()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[%8d] %c ", tick, level.tag())
	if l.prefix != "" {
		b.WriteString(l.prefix)
		b.WriteString(": ")
	}
	fmt.Fprintf(&b, format, args...)
	line := b.String()

	l.c.mu.Lock()
	defer l.c.mu.Unlock()
	if l.c.out != nil {
		l.c.out.WriteLineString(line)
	}
	for _, s := range l.c.sinks {
		s.WriteLineString(line)
	}
}
