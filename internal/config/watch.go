package config

import (
	"context"
	"errors"
	"math/rand/v2"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "databroadcast/pkg/logx"
)

const (
	reloadDebounce   = 250 * time.Millisecond
	watchBackoffBase = 250 * time.Millisecond
	watchBackoffMax  = 5 * time.Second
)

// Watch reloads the config whenever its file changes, until ctx is done.
// The parent directory is watched so editors that replace the file on save
// are followed. Bursts of events collapse into one reload after
// reloadDebounce. A broken watcher is rebuilt with jittered backoff.
func (m *ConfigManager) Watch(ctx context.Context) error {
	if m.path == "" {
		<-ctx.Done()
		return nil
	}
	dir, name := filepath.Dir(m.path), filepath.Base(m.path)
	delay := watchBackoffBase

	for {
		began := time.Now()
		err := m.watchOnce(ctx, dir, name)
		if ctx.Err() != nil {
			return nil
		}
		if time.Since(began) > time.Minute {
			delay = watchBackoffBase
		}
		wait := delay + rand.N(delay/2+1)
		m.log.Warn("config watcher failed; retrying",
			logx.String("dir", dir),
			logx.Duration("backoff", wait),
			logx.Err(err),
		)
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
		delay = min(delay*2, watchBackoffMax)
	}
}

var errWatcherClosed = errors.New("fsnotify watcher closed")

// watchOnce runs one fsnotify watcher. It returns nil when ctx ends and an
// error when the watcher cannot be used.
func (m *ConfigManager) watchOnce(ctx context.Context, dir, name string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return err
	}
	m.log.Debug("config watcher started", logx.String("dir", dir), logx.String("file", name))

	debounce := time.NewTimer(time.Hour)
	debounce.Stop()
	defer debounce.Stop()
	arm := func() { debounce.Reset(reloadDebounce) }

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return errWatcherClosed
			}
			if filepath.Base(ev.Name) == name {
				arm()
			}

		case err, ok := <-w.Errors:
			if !ok {
				return errWatcherClosed
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				// Events were lost; the file may have changed.
				m.log.Warn("config watch overflow; reloading", logx.Err(err))
				arm()
				continue
			}
			m.log.Warn("config watch error", logx.Err(err))

		case <-debounce.C:
			if _, err := m.Reload(ctx); err != nil {
				m.log.Warn("config rejected", logx.String("path", m.path), logx.Err(err))
			}
		}
	}
}
