package server

import (
	"context"
	"sync"

	"github.com/jonboulle/clockwork"

	apperrors "databroadcast/internal/errors"
	"databroadcast/internal/eventbus"
	"databroadcast/internal/metrics"
	logx "databroadcast/pkg/logx"
)

// Controller owns at most one session at a time.
type Controller struct {
	log     logx.Logger
	clock   clockwork.Clock
	bus     eventbus.Bus
	metrics *metrics.Metrics

	mu      sync.Mutex
	state   State
	sess    *session
	last    Status
	lastErr error
}

type Option func(*Controller)

func WithClock(c clockwork.Clock) Option {
	return func(ctl *Controller) {
		if c != nil {
			ctl.clock = c
		}
	}
}

func WithBus(b eventbus.Bus) Option {
	return func(ctl *Controller) {
		if b != nil {
			ctl.bus = b
		}
	}
}

// WithMetrics attaches collectors; nil keeps metrics off.
func WithMetrics(m *metrics.Metrics) Option {
	return func(ctl *Controller) { ctl.metrics = m }
}

func NewController(log logx.Logger, opts ...Option) *Controller {
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Controller{
		log:   log.With(logx.String("comp", "server")),
		clock: clockwork.NewRealClock(),
		bus:   eventbus.Nop(),
	}
	for _, o := range opts {
		o(c)
	}
	c.metrics.SetState(int(StateIdle))
	return c
}

// Start validates req, binds the listener and launches a session. It returns
// once the session is running; the session lives until Stop, until its
// entries are exhausted, or until ctx is canceled.
//
// Errors are *apperrors.Error: KindState when a session is already active,
// KindConfiguration for bad entries or settings, KindBind when the address
// cannot be bound. On any error the controller is left idle.
func (c *Controller) Start(ctx context.Context, req StartRequest) error {
	c.mu.Lock()
	if c.state != StateIdle {
		st := c.state
		c.mu.Unlock()
		c.metrics.SessionStart(metrics.StartRejected)
		return apperrors.StateError("server is already running").WithContext("state", st.String())
	}
	c.setStateLocked(StateStarting)
	c.mu.Unlock()

	p, err := req.resolve()
	if err != nil {
		c.failStart(err, metrics.StartConfigError)
		return err
	}

	ln, err := listen(ctx, p.addr)
	if err != nil {
		berr := apperrors.BindError(p.addr, err).WithContext("addr", p.addr)
		c.failStart(berr, metrics.StartBindError)
		return berr
	}

	sess := newSession(ctx, c, p, ln)

	c.mu.Lock()
	c.sess = sess
	c.lastErr = nil
	c.setStateLocked(StateRunning)
	// Launch under the lock so a concurrent Stop cannot observe the session
	// before its goroutines are registered with the supervisor.
	sess.launch()
	c.mu.Unlock()

	c.metrics.SessionStart(metrics.StartOK)
	c.log.Info("session started",
		logx.String("session", sess.id.String()),
		logx.String("addr", sess.addr),
		logx.Duration("interval", p.interval),
		logx.Int("entries", len(p.entries)),
		logx.Int("files", p.files),
	)
	c.publish(eventbus.SessionStarted, SessionEvent{
		SessionID: sess.id.String(),
		Addr:      sess.addr,
		Entries:   len(p.entries),
		Interval:  p.interval,
	})
	return nil
}

func (c *Controller) failStart(err error, result string) {
	c.mu.Lock()
	c.lastErr = err
	c.setStateLocked(StateIdle)
	c.mu.Unlock()

	c.metrics.SessionStart(result)
	c.log.Warn("session start failed", logx.String("kind", string(apperrors.KindOf(err))), logx.Err(err))
	c.publish(eventbus.SessionStartFailed, SessionEvent{Err: apperrors.UserMessage(err)})
}

// Stop ends the active session and waits for it to release every resource,
// bounded by ctx. Stopping an idle controller is a no-op.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if sess == nil {
		return nil
	}

	c.beginStop(sess, StopRequested)

	select {
	case <-sess.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// beginStop starts tearing sess down without waiting. Session goroutines use
// it directly since they cannot wait on their own supervisor.
func (c *Controller) beginStop(sess *session, reason StopReason) {
	c.mu.Lock()
	if c.sess == sess && c.state == StateRunning {
		c.setStateLocked(StateStopping)
	}
	c.mu.Unlock()
	sess.shutdown(reason)
}

// sessionEnded runs once per session after every goroutine has returned.
func (c *Controller) sessionEnded(sess *session) {
	st := sess.status()
	st.State = StateIdle
	st.Clients = 0
	st.Text = "Stopped"

	c.mu.Lock()
	if c.sess == sess {
		c.sess = nil
		c.last = st
		c.setStateLocked(StateIdle)
	}
	c.mu.Unlock()

	c.log.Info("session stopped",
		logx.String("session", st.SessionID),
		logx.String("reason", string(st.StopReason)),
		logx.Int64("sent", st.Sent),
	)
	c.publish(eventbus.SessionStopped, SessionEvent{
		SessionID: st.SessionID,
		Addr:      st.Addr,
		Entries:   st.Entries,
		Reason:    st.StopReason,
		Sent:      st.Sent,
	})
	close(sess.stopped)
}

func (c *Controller) setStateLocked(s State) {
	c.state = s
	c.metrics.SetState(int(s))
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Addr is the bound address of the active session, or "".
func (c *Controller) Addr() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return ""
	}
	return c.sess.addr
}

var closedCh = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// Done is closed when the active session has fully stopped. With no active
// session it is already closed.
func (c *Controller) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return closedCh
	}
	return c.sess.stopped
}

// LastError is the error from the most recent failed Start, cleared by the
// next successful one.
func (c *Controller) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	state, sess, st, lastErr := c.state, c.sess, c.last, c.lastErr
	c.mu.Unlock()

	if sess != nil {
		st = sess.status()
		if state != StateRunning {
			st.Text = "Stopping"
		}
	} else if st.Text == "" || state == StateStarting {
		st.Text = "Stopped"
	}
	st.State = state
	if lastErr != nil {
		st.LastError = apperrors.UserMessage(lastErr)
		st.LastErrorKind = string(apperrors.KindOf(lastErr))
	}
	return st
}

func (c *Controller) publish(typ string, data any) {
	c.bus.Publish(eventbus.Event{Type: typ, Time: c.clock.Now(), Data: data})
}
