// Package ncp serves the mailbox commands of the NPU firmware. The
// compute path itself is out of scope: PROCESS frames are routed through
// the immediate and batch dispatchers to the job tasks, which complete them.
package ncp

import (
	"errors"
	"fmt"

	"npu/kernel"
	"npu/klog"
	"npu/mailbox"
)

// Codes carried by NDONE completions of this package.
const (
	CodeNoObject  mailbox.Code = 0x110
	CodeQueueFull mailbox.Code = 0x111
	CodePurged    mailbox.Code = 0x112
)

// MaxObjects is the number of object ids LOAD accepts.
const MaxObjects = 16

// Config sizes the service.
type Config struct {
	QueueSize int
	// JobTicks is the time a job task spends on one frame.
	JobTicks uint32
}

// DefaultConfig returns the sizes used by the firmware image.
func DefaultConfig() Config {
	return Config{QueueSize: 16, JobTicks: 1}
}

type object struct {
	loaded bool
	tid    uint32
	frames uint32
}

// Service owns the command handlers and the frame queues.
type Service struct {
	k   *kernel.Kernel
	log *klog.Logger
	cfg Config

	Imm  *Queue
	Bat  *Queue
	Jobs *Queue

	objects   [MaxObjects]object
	profiling bool
	completed uint32
}

// New creates the queues. Register installs the handlers on a hub.
func New(k *kernel.Kernel, log *klog.Logger, cfg Config) (*Service, error) {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if log == nil {
		log = klog.Discard()
	}
	s := &Service{k: k, log: log.With("ncp"), cfg: cfg}
	var err error
	if s.Imm, err = NewQueue(k, "imm", 0x494D4D, cfg.QueueSize); err != nil {
		return nil, err
	}
	if s.Bat, err = NewQueue(k, "bat", 0x424154, cfg.QueueSize); err != nil {
		return nil, err
	}
	if s.Jobs, err = NewQueue(k, "jobq", 0x4A4F42, cfg.QueueSize); err != nil {
		return nil, err
	}
	return s, nil
}

// Register installs every command handler on hub.
func (s *Service) Register(hub *mailbox.Hub) error {
	handlers := []struct {
		cmd mailbox.Command
		fn  mailbox.Handler
	}{
		{mailbox.CmdLoad, s.load},
		{mailbox.CmdUnload, s.unload},
		{mailbox.CmdProcess, s.process},
		{mailbox.CmdProfileCtl, s.profileCtl},
		{mailbox.CmdPurge, s.purge},
		{mailbox.CmdPowerdown, s.powerdown},
		{mailbox.CmdFWTest, s.fwTest},
	}
	for _, h := range handlers {
		if err := hub.Register(h.cmd, h.fn); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) words(req *mailbox.Request, n int) ([]uint32, error) {
	out := make([]uint32, n)
	for i := range out {
		w, err := req.Word(i)
		if err != nil {
			return nil, err
		}
		out[i] = w
	}
	return out, nil
}

func (s *Service) lookup(oid uint32) (*object, bool) {
	if oid >= MaxObjects {
		return nil, false
	}
	return &s.objects[oid], true
}

func (s *Service) load(req *mailbox.Request) error {
	w, err := s.words(req, 2)
	if err != nil {
		return err
	}
	oid, tid := w[0], w[1]
	obj, ok := s.lookup(oid)
	if !ok {
		return req.Complete(mailbox.NotDone(oid, CodeNoObject))
	}
	st := s.k.Lock()
	*obj = object{loaded: true, tid: tid}
	s.k.Unlock(st)
	s.log.Debugf("load oid %d tid %d", oid, tid)
	return req.Complete(mailbox.Done(oid))
}

func (s *Service) unload(req *mailbox.Request) error {
	w, err := s.words(req, 1)
	if err != nil {
		return err
	}
	oid := w[0]
	obj, ok := s.lookup(oid)
	st := s.k.Lock()
	if ok && obj.loaded {
		*obj = object{}
	} else {
		ok = false
	}
	s.k.Unlock(st)
	if !ok {
		return req.Complete(mailbox.NotDone(oid, CodeNoObject))
	}
	return req.Complete(mailbox.Done(oid))
}

// process accepts a frame: the high ring feeds the immediate dispatcher,
// the low ring the batch dispatcher.
func (s *Service) process(req *mailbox.Request) error {
	w, err := s.words(req, 2)
	if err != nil {
		return err
	}
	oid, fid := w[0], w[1]
	if obj, ok := s.lookup(oid); !ok || !obj.loaded {
		return req.Complete(mailbox.NotDone(fid, CodeNoObject))
	}
	if err := req.InProgress(); err != nil {
		return err
	}
	q := s.Bat
	if req.Channel() == mailbox.ChanHigh {
		q = s.Imm
	}
	f := Frame{OID: oid, FID: fid, Queued: s.k.Ticks(), req: req}
	if err := q.Push(f); err != nil {
		s.log.Warnf("process oid %d: %v", oid, err)
		return req.Complete(mailbox.NotDone(fid, CodeQueueFull))
	}
	return nil
}

func (s *Service) profileCtl(req *mailbox.Request) error {
	w, err := s.words(req, 1)
	if err != nil {
		return err
	}
	st := s.k.Lock()
	s.profiling = w[0] != 0
	s.k.Unlock(st)
	return req.Complete(mailbox.Done(w[0]))
}

// purge fails every frame not yet claimed by a job task.
func (s *Service) purge(req *mailbox.Request) error {
	var n uint32
	for _, q := range []*Queue{s.Imm, s.Bat, s.Jobs} {
		for _, f := range q.Drain() {
			if err := f.req.Complete(mailbox.NotDone(f.FID, CodePurged)); err != nil {
				s.log.Warnf("purge fid %d: %v", f.FID, err)
				continue
			}
			n++
		}
	}
	s.log.Infof("purged %d frames", n)
	res := mailbox.Done(0)
	res.Args[0] = n
	return req.Complete(res)
}

func (s *Service) powerdown(req *mailbox.Request) error {
	s.log.Infof("powerdown requested")
	return req.Complete(mailbox.Done(0))
}

func (s *Service) fwTest(req *mailbox.Request) error {
	w, err := s.words(req, 1)
	if err != nil {
		return err
	}
	return req.Complete(mailbox.Done(w[0]))
}

// Completed returns the number of frames finished by the job tasks.
func (s *Service) Completed() uint32 {
	st := s.k.Lock()
	defer s.k.Unlock(st)
	return s.completed
}

// Loaded reports whether an object id is loaded.
func (s *Service) Loaded(oid uint32) bool {
	obj, ok := s.lookup(oid)
	if !ok {
		return false
	}
	st := s.k.Lock()
	defer s.k.Unlock(st)
	return obj.loaded
}

// complete posts a result, retrying each tick while the response pool is
// saturated.
func complete(ctx *kernel.Context, req *mailbox.Request, res mailbox.Result) error {
	for {
		err := req.Complete(res)
		if !errors.Is(err, mailbox.ErrSaturated) {
			return err
		}
		if err := ctx.Delay(1); err != nil {
			return fmt.Errorf("complete fid %d: %w", res.ID, err)
		}
	}
}
