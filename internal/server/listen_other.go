//go:build !unix

package server

import (
	"context"
	"net"
)

// listen uses the runtime's default backlog. SO_REUSEADDR on Windows lets
// another socket steal the port, so it is left off.
func listen(ctx context.Context, addr string) (net.Listener, error) {
	var lc net.ListenConfig
	return lc.Listen(ctx, "tcp", addr)
}
