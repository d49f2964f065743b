package app

import (
	"context"
	"strings"

	"databroadcast/internal/config"
	"databroadcast/internal/server"
	logx "databroadcast/pkg/logx"
)

// reloadLoop applies published configs. Bursts are coalesced so only the
// newest config is applied.
func (a *App) reloadLoop(ctx context.Context) {
	ch := a.cfgm.Subscribe(4)
	defer a.cfgm.Unsubscribe(ch)

	prev := a.Config()
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-ch:
			if !ok {
				return
			}
		drain:
			for {
				select {
				case next, ok := <-ch:
					if !ok {
						break drain
					}
					raw = next
				default:
					break drain
				}
			}

			next := a.overrides.apply(raw)
			a.applyConfig(ctx, prev, next)
			prev = next
		}
	}
}

func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	changed, fields := config.SummarizeConfigChange(prev, next)
	if len(changed) == 0 {
		a.log.Debug("config reloaded; nothing changed")
		return
	}
	fields = append(fields, logx.String("sections", strings.Join(changed, ",")))
	a.log.Info("config reloaded", fields...)

	a.applyRuntime(ctx, next)

	for _, s := range changed {
		if s == "server" && a.ctl.State() != server.StateIdle {
			a.log.Info("server settings apply to the next session")
			break
		}
	}
	if prev.Systemd.Notify != next.Systemd.Notify {
		a.log.Warn("systemd.notify changes need a restart")
	}
}
