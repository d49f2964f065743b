package app

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "databroadcast/pkg/logx"
)

// systemdNotifier speaks sd_notify. Outside a Type=notify unit
// (NOTIFY_SOCKET unset) every call is a no-op.
type systemdNotifier struct {
	enabled bool
	log     logx.Logger
	notify  func(state string) (bool, error)
}

func newSystemdNotifier(enabled bool, log logx.Logger) *systemdNotifier {
	return &systemdNotifier{
		enabled: enabled,
		log:     log.With(logx.String("comp", "systemd")),
		notify: func(state string) (bool, error) {
			return daemon.SdNotify(false, state)
		},
	}
}

func (n *systemdNotifier) send(state string) {
	if n == nil || !n.enabled {
		return
	}
	sent, err := n.notify(state)
	if err != nil {
		n.log.Debug("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		n.log.Trace("sd_notify", logx.String("state", state))
	}
}

func (n *systemdNotifier) ready(status string) {
	n.send(daemon.SdNotifyReady + "\nSTATUS=" + status)
}

func (n *systemdNotifier) status(s string) { n.send("STATUS=" + s) }

func (n *systemdNotifier) stopping() { n.send(daemon.SdNotifyStopping) }

// watchdogInterval is the ping period (half of WATCHDOG_USEC), or 0.
func (n *systemdNotifier) watchdogInterval() time.Duration {
	if n == nil || !n.enabled {
		return 0
	}
	d, err := daemon.SdWatchdogEnabled(false)
	if err != nil || d <= 0 {
		return 0
	}
	return d / 2
}

func (n *systemdNotifier) watchdog(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n.send(daemon.SdNotifyWatchdog)
		}
	}
}
