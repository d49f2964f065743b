package registry

import (
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Client is one live subscriber connection.
type Client struct {
	ID   uuid.UUID
	Addr string

	conn net.Conn

	closeOnce sync.Once
	closeErr  error

	brokenOnce sync.Once
	broken     chan struct{}
}

func NewClient(conn net.Conn) *Client {
	addr := ""
	if ra := conn.RemoteAddr(); ra != nil {
		addr = ra.String()
	}
	return &Client{
		ID:     uuid.New(),
		Addr:   addr,
		conn:   conn,
		broken: make(chan struct{}),
	}
}

// WriteString sends s in full. A positive timeout bounds the write; zero
// blocks until the kernel accepts the bytes or the connection fails.
func (c *Client) WriteString(s string, timeout time.Duration) error {
	if timeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return err
		}
	}
	_, err := io.WriteString(c.conn, s)
	return err
}

// MarkBroken flags the connection as unusable. It does not close or remove
// the client; whoever supervises it does that after observing Broken().
func (c *Client) MarkBroken() {
	c.brokenOnce.Do(func() { close(c.broken) })
}

// Broken is closed once MarkBroken has been called.
func (c *Client) Broken() <-chan struct{} { return c.broken }

// Close shuts the connection down. Only the first call touches the socket;
// later calls return the first result.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		if tc, ok := c.conn.(*net.TCPConn); ok {
			_ = tc.CloseWrite()
		}
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
