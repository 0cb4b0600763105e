package ncp

import (
	"errors"

	"npu/kernel"
	"npu/mailbox"
)

// Dispatch moves frames from one dispatcher queue to the job queue. A frame
// the job queue cannot take is failed back to the host.
func (s *Service) Dispatch(ctx *kernel.Context, from *Queue) {
	for {
		f, err := from.Pop()
		if err != nil {
			return
		}
		if err := s.Jobs.Push(f); err != nil {
			s.log.Warnf("%s: %v", from.name, err)
			if err := complete(ctx, f.req, mailbox.NotDone(f.FID, CodeQueueFull)); err != nil {
				s.log.Errorf("fid %d: %v", f.FID, err)
			}
		}
	}
}

// ImmTask is the body of the immediate dispatcher.
func (s *Service) ImmTask(ctx *kernel.Context) { s.Dispatch(ctx, s.Imm) }

// BatTask is the body of the batch dispatcher.
func (s *Service) BatTask(ctx *kernel.Context) { s.Dispatch(ctx, s.Bat) }

// JobTask runs frames off the job queue. Several instances share the
// queue. With profiling on, a completion carries the ticks the frame spent
// queued and the instance that ran it.
func (s *Service) JobTask(ctx *kernel.Context) {
	inst, _ := ctx.Arg().(int)
	for {
		f, err := s.Jobs.Pop()
		if errors.Is(err, kernel.ErrDeleted) {
			return
		}
		if err != nil {
			s.log.Errorf("job %d: %v", inst, err)
			return
		}
		if s.cfg.JobTicks > 0 {
			if err := ctx.Delay(s.cfg.JobTicks); err != nil {
				return
			}
		}

		res := mailbox.Done(f.FID)
		st := s.k.Lock()
		if obj, ok := s.lookup(f.OID); ok {
			obj.frames++
		}
		s.completed++
		if s.profiling {
			res.Args[0] = uint32(s.k.Ticks() - f.Queued)
			res.Args[1] = uint32(inst)
		}
		s.k.Unlock(st)

		if err := complete(ctx, f.req, res); err != nil {
			s.log.Errorf("job %d fid %d: %v", inst, f.FID, err)
		}
	}
}
