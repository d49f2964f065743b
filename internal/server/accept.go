package server

import (
	"context"
	"errors"
	"net"

	apperrors "databroadcast/internal/errors"
	"databroadcast/internal/eventbus"
	"databroadcast/internal/registry"
	logx "databroadcast/pkg/logx"
)

// accept registers connections until the listener closes. An unexpected
// accept error ends the loop; broadcasting to already connected clients
// carries on.
func (s *session) accept(ctx context.Context) error {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			aerr := apperrors.AcceptError("accept failed", err).WithContext("addr", s.addr)
			s.ctl.metrics.AcceptFailed()
			s.log.Warn("accept failed", logx.Err(err))
			s.ctl.publish(eventbus.AcceptFailed, SessionEvent{SessionID: s.id.String(), Addr: s.addr, Err: err.Error()})
			return aerr
		}

		cl := registry.NewClient(conn)
		s.clients.Add(cl)
		n := s.clients.Len()
		s.ctl.metrics.ClientConnected()
		s.log.Info("client connected", logx.String("client", cl.ID.String()), logx.String("remote", cl.Addr), logx.Int("clients", n))
		s.ctl.publish(eventbus.ClientConnected, ClientEvent{SessionID: s.id.String(), ClientID: cl.ID.String(), Addr: cl.Addr, Clients: n})

		s.sup.Go0("session.client", func(ctx context.Context) { s.superviseClient(ctx, cl) })
	}
}
