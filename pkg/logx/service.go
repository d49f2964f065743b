package logx

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

type Config struct {
	Level   string
	Console bool
	File    FileConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

const defaultLogPath = "./broadcastd.log"

// retireGrace keeps a replaced log file open so events that loaded the
// previous logger before Apply can still land.
const retireGrace = 2 * time.Second

// Service owns the sinks. Loggers built from it follow every Apply, so
// components keep their Logger across hot reloads.
type Service struct {
	mu      sync.Mutex
	cfg     Config
	file    *os.File
	retired map[*os.File]*time.Timer

	zl atomic.Pointer[zerolog.Logger]
}

// New applies cfg and returns the service together with its root Logger.
func New(cfg Config) (*Service, Logger) {
	setGlobals()
	s := &Service{}
	s.Apply(cfg)
	return s, Logger{src: s}
}

func (s *Service) current() zerolog.Logger {
	if zl := s.zl.Load(); zl != nil {
		return *zl
	}
	return zerolog.Nop()
}

// Config is the last applied config.
func (s *Service) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Apply reopens sinks and sets the level. Logging may continue concurrently;
// events already in flight finish on the old sinks.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, f := openSinks(cfg)
	zl := zerolog.New(w).
		Level(ParseLevel(cfg.Level, zerolog.InfoLevel)).
		With().Timestamp().Logger()

	old := s.file
	s.cfg, s.file = cfg, f
	s.zl.Store(&zl)
	if old != nil {
		s.retire(old)
	}
}

// retire closes f after retireGrace. Caller holds s.mu.
func (s *Service) retire(f *os.File) {
	if s.retired == nil {
		s.retired = make(map[*os.File]*time.Timer)
	}
	s.retired[f] = time.AfterFunc(retireGrace, func() {
		s.mu.Lock()
		delete(s.retired, f)
		s.mu.Unlock()
		_ = f.Close()
	})
}

// Close releases the log file and any replaced files still in their grace
// period. Console output continues.
func (s *Service) Close() error {
	s.mu.Lock()
	f := s.file
	s.file = nil
	retired := s.retired
	s.retired = nil
	s.mu.Unlock()

	for old, t := range retired {
		if t.Stop() {
			_ = old.Close()
		}
	}
	if f == nil {
		return nil
	}
	return f.Close()
}

// openSinks builds the writer for cfg. A file that cannot be opened is
// reported on stderr and skipped; with no sink left, console is used.
func openSinks(cfg Config) (io.Writer, *os.File) {
	var (
		writers []io.Writer
		file    *os.File
	)
	if cfg.Console {
		writers = append(writers, console(os.Stdout))
	}
	if cfg.File.Enabled {
		path := strings.TrimSpace(cfg.File.Path)
		if path == "" {
			path = defaultLogPath
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "logx: cannot open log file %q: %v\n", path, err)
		} else {
			file = f
			writers = append(writers, zerolog.SyncWriter(f))
		}
	}
	switch len(writers) {
	case 0:
		return console(os.Stdout), file
	case 1:
		return writers[0], file
	}
	return zerolog.MultiLevelWriter(writers...), file
}

func console(w io.Writer) io.Writer {
	return zerolog.ConsoleWriter{
		Out:          w,
		TimeFormat:   timeFormat,
		FormatCaller: func(i any) string { s, _ := i.(string); return s },
	}
}
