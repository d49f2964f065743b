// Package schedule starts broadcast sessions on a cron spec.
package schedule

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	apperrors "databroadcast/internal/errors"
	logx "databroadcast/pkg/logx"
)

// SecondOptional allows both 5-field and 6-field (with seconds) specs.
var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

type Config struct {
	// Start is a cron spec; empty disables the trigger.
	Start    string
	Timezone string
}

// Trigger starts a session. A KindState error means one is already running
// and the tick is skipped.
type Trigger func(ctx context.Context) error

type Service struct {
	log     logx.Logger
	trigger Trigger

	mu      sync.Mutex
	cfg     Config
	ctx     context.Context
	c       *cron.Cron
	entryID cron.EntryID
	fired   uint64
	skipped uint64
}

// ParseSpec validates a start spec without registering it.
func ParseSpec(spec string) (cron.Schedule, error) {
	sched, err := parser.Parse(strings.TrimSpace(spec))
	if err != nil {
		return nil, apperrors.ConfigurationErrorf("invalid schedule.start", err).WithContext("spec", spec)
	}
	return sched, nil
}

func New(cfg Config, trigger Trigger, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, trigger: trigger, log: log.With(logx.String("comp", "schedule"))}
}

// Start begins triggering. With no spec it only remembers ctx so a later
// Apply can enable the trigger.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	s.ctx = ctx
	return s.startLocked()
}

func (s *Service) startLocked() error {
	spec := strings.TrimSpace(s.cfg.Start)
	if spec == "" {
		s.log.Debug("no start schedule configured")
		return nil
	}
	loc, err := loadLocation(s.cfg.Timezone)
	if err != nil {
		return err
	}

	c := cron.New(
		cron.WithParser(parser),
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(cronLogger{s.log}), cron.SkipIfStillRunning(cronLogger{s.log})),
	)
	id, err := c.AddFunc(spec, s.fire)
	if err != nil {
		return apperrors.ConfigurationErrorf("invalid schedule.start", err).WithContext("spec", spec)
	}
	c.Start()
	s.c, s.entryID = c, id
	s.log.Info("start schedule armed", logx.String("spec", spec), logx.String("tz", loc.String()))
	return nil
}

func (s *Service) stopLocked() *cron.Cron {
	c := s.c
	s.c, s.entryID = nil, 0
	return c
}

// Apply swaps the config, re-arming the trigger when running.
func (s *Service) Apply(cfg Config) error {
	s.mu.Lock()
	prev := s.cfg
	s.cfg = cfg
	if s.ctx == nil || (prev == cfg && s.c != nil) {
		s.mu.Unlock()
		return nil
	}
	old := s.stopLocked()
	err := s.startLocked()
	s.mu.Unlock()

	if old != nil {
		old.Stop()
	}
	return err
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.stopLocked()
	s.ctx = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("start schedule stopped")
}

// Next is the next planned start, or zero when disarmed.
func (s *Service) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return time.Time{}
	}
	return s.c.Entry(s.entryID).Next
}

// Counts reports fired and skipped ticks.
func (s *Service) Counts() (fired, skipped uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fired, s.skipped
}

func (s *Service) fire() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil || ctx.Err() != nil || s.trigger == nil {
		return
	}

	err := s.trigger(ctx)

	s.mu.Lock()
	if err != nil && apperrors.IsKind(err, apperrors.KindState) {
		s.skipped++
	} else {
		s.fired++
	}
	s.mu.Unlock()

	switch {
	case err == nil:
		s.log.Info("scheduled session started")
	case apperrors.IsKind(err, apperrors.KindState):
		s.log.Debug("scheduled start skipped; session already running")
	default:
		s.log.Warn("scheduled session start failed", logx.Err(err))
	}
}

func loadLocation(tz string) (*time.Location, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, apperrors.ConfigurationErrorf("invalid schedule.timezone", err).WithContext("timezone", tz)
	}
	return loc, nil
}

// cronLogger routes cron's own messages into logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
