package app

import (
	"context"

	"databroadcast/internal/server"
	logx "databroadcast/pkg/logx"
)

// StartSession starts a broadcast session with the current server settings.
// The session outlives ctx; it runs until stopped, exhausted or the app
// shuts down.
func (a *App) StartSession(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	parent := ctx
	if a.sup != nil {
		parent = a.sup.Context()
	}

	cfg := a.Config()
	req, err := startRequest(cfg)
	if err != nil {
		return err
	}
	if err := a.ctl.Start(parent, req); err != nil {
		return err
	}

	id := a.ctl.Status().SessionID
	done := a.ctl.Done()
	if a.sup != nil {
		a.sup.Go0("session.exit", func(c context.Context) {
			select {
			case <-c.Done():
			case <-done:
				a.sessionFinished(id)
			}
		})
	}
	return nil
}

// sessionFinished closes Finished when the session ran out of entries and
// exit_when_done is set. Stops by operators or shutdown never end the app.
func (a *App) sessionFinished(id string) {
	st := a.ctl.Status()
	if st.SessionID != id || st.StopReason != server.StopExhausted {
		return
	}
	if !a.Config().Server.ExitWhenDone {
		a.log.Info("session finished; staying up", logx.String("session", id), logx.Int64("sent", st.Sent))
		return
	}
	a.log.Info("session finished; exiting", logx.String("session", id), logx.Int64("sent", st.Sent))
	a.finish()
}

func (a *App) StopSession(ctx context.Context) error {
	return a.ctl.Stop(ctx)
}

func (a *App) Status() server.Status {
	return a.ctl.Status()
}
