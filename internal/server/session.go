package server

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"databroadcast/internal/registry"
	"databroadcast/internal/runtime/supervisor"
	logx "databroadcast/pkg/logx"
)

type session struct {
	id        uuid.UUID
	ctl       *Controller
	log       logx.Logger
	plan      plan
	addr      string
	ln        net.Listener
	clients   *registry.Registry
	sup       *supervisor.Supervisor
	startedAt time.Time

	// Write failures can arrive once per client per entry; keep the warning
	// rate bounded and log the rest at debug.
	failLog *rate.Limiter

	sent atomic.Int64

	stopOnce sync.Once
	reason   atomic.Value // StopReason
	stopped  chan struct{}
}

func newSession(parent context.Context, ctl *Controller, p plan, ln net.Listener) *session {
	id := uuid.New()
	log := ctl.log.With(logx.String("session", id.String()))
	return &session{
		id:        id,
		ctl:       ctl,
		log:       log,
		plan:      p,
		addr:      ln.Addr().String(),
		ln:        ln,
		clients:   registry.New(),
		sup:       supervisor.New(parent, supervisor.WithLogger(log), supervisor.WithPanicHook(ctl.metrics.Panicked)),
		startedAt: ctl.clock.Now(),
		failLog:   rate.NewLimiter(rate.Every(time.Second), 5),
		stopped:   make(chan struct{}),
	}
}

func (s *session) launch() {
	s.sup.Go("session.accept", s.accept)
	s.sup.Go0("session.broadcast", s.broadcast)
	s.sup.Go0("session.watch", s.watch)
}

func (s *session) watch(ctx context.Context) {
	<-ctx.Done()
	s.ctl.beginStop(s, StopCanceled)
}

// shutdown cancels the session, closes the listener and every client, then
// reports back to the controller once all goroutines have returned. Only the
// first call has any effect.
func (s *session) shutdown(reason StopReason) {
	s.stopOnce.Do(func() {
		s.reason.Store(reason)
		s.sup.Cancel()

		if err := s.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.log.Debug("listener close failed", logx.Err(err))
		}

		errs := s.clients.CloseAll()
		s.ctl.metrics.CloseFailed(len(errs))
		for _, err := range errs {
			s.log.Debug("client close failed", logx.Err(err))
		}

		go func() {
			if err := s.sup.Wait(context.Background()); err != nil {
				s.log.Debug("session goroutine error", logx.Err(err))
			}
			s.ctl.sessionEnded(s)
		}()
	})
}

func (s *session) stopReason() StopReason {
	if r, ok := s.reason.Load().(StopReason); ok {
		return r
	}
	return ""
}

func (s *session) status() Status {
	return Status{
		State:           StateRunning,
		Text:            runningText(s.addr, s.plan.interval),
		SessionID:       s.id.String(),
		Addr:            s.addr,
		IntervalSeconds: s.plan.interval.Seconds(),
		Entries:         len(s.plan.entries),
		Files:           s.plan.files,
		Clients:         s.clients.Len(),
		Sent:            s.sent.Load(),
		StartedAt:       s.startedAt,
		StopReason:      s.stopReason(),
	}
}
