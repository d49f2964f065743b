package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"databroadcast/internal/app"
	apperrors "databroadcast/internal/errors"
)

const stopTimeout = 10 * time.Second

type fileList []string

func (f *fileList) String() string { return strings.Join(*f, ",") }

func (f *fileList) Set(v string) error {
	*f = append(*f, v)
	return nil
}

func main() {
	var (
		cfgPath     string
		host        string
		port        int
		interval    string
		defaultFile string
		logLevel    string
		files       fileList
	)
	flag.StringVar(&cfgPath, "config", "", "path to config json/yaml (empty: built-in defaults)")
	flag.StringVar(&host, "host", "", "listen IP (overrides server.host)")
	flag.IntVar(&port, "port", 0, "listen port (overrides server.port)")
	flag.StringVar(&interval, "interval", "", "seconds or duration between entries (overrides server.interval)")
	flag.Var(&files, "file", "entry file; repeat for several (overrides server.files)")
	flag.StringVar(&defaultFile, "default-file", "", "fallback entry file (overrides server.default_file)")
	flag.StringVar(&logLevel, "log-level", "", "trace|debug|info|warn|error (overrides logging.level)")
	flag.Parse()

	ov := app.Overrides{Files: files}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "host":
			ov.Host = &host
		case "port":
			ov.Port = &port
		case "interval":
			ov.Interval = &interval
		case "default-file":
			ov.DefaultFile = &defaultFile
		case "log-level":
			ov.LogLevel = &logLevel
		}
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(cfgPath, ov)
	if err != nil {
		fatal("fatal:", err)
	}
	if err := a.Start(ctx); err != nil {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
		_ = a.Stop(stopCtx, app.StopFatalError)
		stopCancel()
		fatal("fatal start:", err)
	}

	reason := app.StopUnknown
	select {
	case sig := <-sigCh:
		reason = app.StopSIGINT
		if sig == syscall.SIGTERM {
			reason = app.StopSIGTERM
		}
	case <-a.Finished():
		reason = app.StopSessionDone
	case <-a.Done():
		reason = app.StopFatalError
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
	_ = a.Stop(stopCtx, reason)
	stopCancel()

	if reason == app.StopFatalError {
		fatal("fatal:", a.Err())
	}
}

// fatal prints the operator message; the underlying cause follows on its own
// line for configuration problems, where it names the offending key.
func fatal(prefix string, err error) {
	fmt.Fprintln(os.Stderr, prefix, apperrors.UserMessage(err))
	var e *apperrors.Error
	if errors.As(err, &e) && e.Kind == apperrors.KindConfiguration && e.Cause != nil {
		fmt.Fprintln(os.Stderr, "  cause:", e.Cause)
	}
	os.Exit(1)
}
