// Package transport provides the byte pipe an association runs over.
//
// Every tunable is carried by an explicit Config handed to the constructor;
// the package keeps no process-wide settings.
package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/marmos91/dicomul/pkg/ul/cond"
)

// Connection is the capability the association state machine reads from
// and writes to. Read returns io.EOF when the peer closed the stream in
// order and a cond.ReadTimeout condition when no data arrived in time.
type Connection interface {
	io.Reader
	io.Writer
	io.Closer
	RemoteAddr() string
}

// Config holds the transport settings of one connection.
type Config struct {
	// ConnectTimeout bounds Dial. Zero means no timeout beyond the context.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`

	// ReadTimeout bounds each read. Zero disables it.
	ReadTimeout time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`

	// WriteTimeout bounds each write. Zero disables it.
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`

	// KeepAlive is the TCP keep-alive period. Negative disables keep-alives.
	KeepAlive time.Duration `mapstructure:"keep_alive" yaml:"keep_alive"`

	// NoDelay disables Nagle's algorithm.
	NoDelay bool `mapstructure:"no_delay" yaml:"no_delay"`

	// SendBufferSize and ReceiveBufferSize set the socket buffers when
	// positive.
	SendBufferSize    int `mapstructure:"send_buffer_size" yaml:"send_buffer_size,omitempty"`
	ReceiveBufferSize int `mapstructure:"receive_buffer_size" yaml:"receive_buffer_size,omitempty"`
}

// DefaultConfig returns the settings used when none are configured.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout: 30 * time.Second,
		ReadTimeout:    5 * time.Minute,
		WriteTimeout:   60 * time.Second,
		KeepAlive:      30 * time.Second,
		NoDelay:        true,
	}
}

// NetConnection adapts a net.Conn to Connection, applying per-operation
// deadlines from its Config.
type NetConnection struct {
	conn      net.Conn
	cfg       Config
	closeOnce sync.Once
	closeErr  error
}

// NewConnection wraps conn. Socket options are applied when conn is a TCP
// connection.
func NewConnection(conn net.Conn, cfg Config) *NetConnection {
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(cfg.NoDelay)
		if cfg.KeepAlive > 0 {
			_ = tcp.SetKeepAlive(true)
			_ = tcp.SetKeepAlivePeriod(cfg.KeepAlive)
		} else if cfg.KeepAlive < 0 {
			_ = tcp.SetKeepAlive(false)
		}
		if cfg.SendBufferSize > 0 {
			_ = tcp.SetWriteBuffer(cfg.SendBufferSize)
		}
		if cfg.ReceiveBufferSize > 0 {
			_ = tcp.SetReadBuffer(cfg.ReceiveBufferSize)
		}
	}
	return &NetConnection{conn: conn, cfg: cfg}
}

// Dial opens a TCP connection to address.
func Dial(ctx context.Context, address string, cfg Config) (*NetConnection, error) {
	d := net.Dialer{Timeout: cfg.ConnectTimeout, KeepAlive: cfg.KeepAlive}
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, cond.TransportFailed.Wrap(err, "connecting to %s", address)
	}
	return NewConnection(conn, cfg), nil
}

func (c *NetConnection) Read(p []byte) (int, error) {
	if c.cfg.ReadTimeout > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout)); err != nil {
			return 0, c.mapErr(err, "read")
		}
	}
	n, err := c.conn.Read(p)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return n, io.EOF
		}
		return n, c.mapErr(err, "read")
	}
	return n, nil
}

func (c *NetConnection) Write(p []byte) (int, error) {
	if c.cfg.WriteTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
			return 0, c.mapErr(err, "write")
		}
	}
	n, err := c.conn.Write(p)
	if err != nil {
		return n, c.mapErr(err, "write")
	}
	return n, nil
}

// Close closes the underlying connection once; later calls return the
// first result.
func (c *NetConnection) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// Interrupt unblocks a pending Read without closing the connection.
func (c *NetConnection) Interrupt() {
	_ = c.conn.SetReadDeadline(time.Now())
}

func (c *NetConnection) RemoteAddr() string {
	if a := c.conn.RemoteAddr(); a != nil {
		return a.String()
	}
	return ""
}

// Conn returns the wrapped connection.
func (c *NetConnection) Conn() net.Conn {
	return c.conn
}

func (c *NetConnection) mapErr(err error, op string) error {
	switch {
	case errors.Is(err, os.ErrDeadlineExceeded):
		if op == "read" {
			return cond.ReadTimeout.Wrap(err, "no data from %s within %s", c.RemoteAddr(), c.cfg.ReadTimeout)
		}
		return cond.TransportFailed.Wrap(err, "%s to %s timed out after %s", op, c.RemoteAddr(), c.cfg.WriteTimeout)
	case errors.Is(err, net.ErrClosed), errors.Is(err, io.ErrClosedPipe):
		return cond.TransportClosed.Wrap(err, "%s on closed connection", op)
	default:
		return cond.TransportFailed.Wrap(err, "%s %s", op, c.RemoteAddr())
	}
}

// Pipe returns two connected in-memory connections.
func Pipe(cfg Config) (*NetConnection, *NetConnection) {
	a, b := net.Pipe()
	return NewConnection(a, cfg), NewConnection(b, cfg)
}
