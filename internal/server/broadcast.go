package server

import (
	"context"
	"time"

	apperrors "databroadcast/internal/errors"
	"databroadcast/internal/eventbus"
	"databroadcast/internal/registry"
	logx "databroadcast/pkg/logx"
)

// broadcast makes one pass over the registry per entry and waits the interval
// after each, including the last. Running out of entries stops the session.
func (s *session) broadcast(ctx context.Context) {
	if d := s.plan.startDelay; d > 0 {
		if !s.sleep(ctx, d) {
			return
		}
	}

	total := len(s.plan.entries)
	for i, e := range s.plan.entries {
		if ctx.Err() != nil {
			return
		}

		targets := s.clients.Snapshot()
		failures := 0
		for _, cl := range targets {
			if ctx.Err() != nil {
				return
			}
			if err := cl.WriteString(string(e), s.plan.writeTimeout); err != nil {
				failures++
				s.writeFailed(cl, err)
			}
		}

		s.sent.Add(1)
		s.ctl.metrics.EntrySent()
		s.log.Info("entry sent",
			logx.Int("index", i+1),
			logx.Int("total", total),
			logx.Int("clients", len(targets)),
			logx.Int("failures", failures),
			logx.String("entry", string(e)),
		)
		s.ctl.publish(eventbus.EntrySent, EntryEvent{
			SessionID: s.id.String(),
			Index:     i,
			Total:     total,
			Clients:   len(targets),
			Failures:  failures,
		})

		if !s.sleep(ctx, s.plan.interval) {
			return
		}
	}
	s.ctl.beginStop(s, StopExhausted)
}

// writeFailed marks cl broken; its supervisor removes and closes it. The
// remaining clients of the pass are unaffected.
func (s *session) writeFailed(cl *registry.Client, err error) {
	cl.MarkBroken()
	s.ctl.metrics.WriteFailed()

	werr := apperrors.ClientIOError("write failed", err).WithContext("client", cl.ID.String())
	fields := []logx.Field{logx.String("client", cl.ID.String()), logx.String("remote", cl.Addr), logx.Err(werr)}
	if s.failLog.Allow() {
		s.log.Warn("client write failed", fields...)
		return
	}
	s.log.Debug("client write failed", fields...)
}

func (s *session) sleep(ctx context.Context, d time.Duration) bool {
	t := s.ctl.clock.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.Chan():
		return true
	}
}
