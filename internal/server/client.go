package server

import (
	"context"

	"databroadcast/internal/eventbus"
	"databroadcast/internal/registry"
	logx "databroadcast/pkg/logx"
)

// superviseClient retires cl when the session ends or a write breaks it.
// Whoever removes cl from the registry owns closing it.
func (s *session) superviseClient(ctx context.Context, cl *registry.Client) {
	select {
	case <-ctx.Done():
	case <-cl.Broken():
	}

	if s.clients.Remove(cl) {
		if err := cl.Close(); err != nil {
			s.ctl.metrics.CloseFailed(1)
			s.log.Debug("client close failed", logx.String("client", cl.ID.String()), logx.Err(err))
		}
	}

	n := s.clients.Len()
	s.ctl.metrics.ClientDisconnected()
	s.log.Info("client disconnected", logx.String("client", cl.ID.String()), logx.String("remote", cl.Addr), logx.Int("clients", n))
	s.ctl.publish(eventbus.ClientDisconnected, ClientEvent{SessionID: s.id.String(), ClientID: cl.ID.String(), Addr: cl.Addr, Clients: n})
}
