package adapter

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/dicomul/internal/logger"
)

// interruptGrace is the read deadline set on live connections when shutdown
// starts, so blocked PDU reads return promptly.
const interruptGrace = 100 * time.Millisecond

// ConnectionHandler serves one accepted connection. Serve blocks until the
// connection is closed or ctx is cancelled.
type ConnectionHandler interface {
	Serve(ctx context.Context)
}

// ConnectionFactory creates a handler for each accepted connection.
type ConnectionFactory interface {
	NewConnection(conn net.Conn) ConnectionHandler
}

// BaseConfig holds the listener settings shared by protocol adapters.
type BaseConfig struct {
	// BindAddress is the IP address to bind to. Empty binds all interfaces.
	BindAddress string

	Port int

	// MaxConnections bounds concurrent connections. When the bound is
	// reached the accept loop waits for a slot. 0 means unlimited.
	MaxConnections int

	// ShutdownTimeout bounds how long shutdown waits for connections
	// before force-closing them.
	ShutdownTimeout time.Duration

	// MetricsLogInterval enables a periodic INFO line with the connection
	// count. 0 disables it.
	MetricsLogInterval time.Duration
}

// MetricsRecorder records connection lifecycle metrics.
// metrics.AssociationMetrics satisfies it.
type MetricsRecorder interface {
	RecordConnectionAccepted()
	RecordConnectionRefused(reason string)
	RecordConnectionForceClosed()
	SetActiveAssociations(count int32)
}

// RefusedNetwork is reported to MetricsRecorder.RecordConnectionRefused when
// a peer address is outside the allowed networks.
const RefusedNetwork = "network"

// OnConnectionClose is called with the remote address when a connection's
// goroutine ends, before its slot is released.
type OnConnectionClose func(addr string)

// BaseAdapter owns the TCP side of an adapter: the listener, the accept
// loop, the connection limit and shutdown. The protocol is plugged in
// through a ConnectionFactory.
//
// Shutdown closes the listener, sets a short read deadline on every live
// connection and cancels the context handed to handlers. It then waits up
// to ShutdownTimeout before closing whatever is left.
type BaseAdapter struct {
	Config BaseConfig

	// Metrics is optional.
	Metrics MetricsRecorder

	protocol string
	slots    chan struct{} // nil when unlimited

	listenerMu sync.RWMutex
	listener   net.Listener
	ready      chan struct{}

	connsMu sync.Mutex
	conns   map[net.Conn]struct{}
	count   atomic.Int32
	wg      sync.WaitGroup

	stopOnce sync.Once
	stopping chan struct{}
	serveCtx context.Context
	cancel   context.CancelFunc
}

// NewBaseAdapter creates a stopped BaseAdapter. protocol names it in logs.
func NewBaseAdapter(config BaseConfig, protocol string) *BaseAdapter {
	ctx, cancel := context.WithCancel(context.Background())
	b := &BaseAdapter{
		Config:   config,
		protocol: protocol,
		ready:    make(chan struct{}),
		conns:    make(map[net.Conn]struct{}),
		stopping: make(chan struct{}),
		serveCtx: ctx,
		cancel:   cancel,
	}
	if config.MaxConnections > 0 {
		b.slots = make(chan struct{}, config.MaxConnections)
	}
	return b
}

// ServeWithFactory listens and accepts connections until ctx is cancelled
// or Stop is called, then shuts down.
//
// preAccept, when set, may refuse a connection before it is tracked; the
// connection is closed. onClose is optional.
//
// It returns nil after a graceful shutdown and an error when the listener
// cannot be created or connections had to be force-closed.
func (b *BaseAdapter) ServeWithFactory(
	ctx context.Context,
	factory ConnectionFactory,
	preAccept func(net.Conn) bool,
	onClose OnConnectionClose,
) error {
	addr := net.JoinHostPort(b.Config.BindAddress, fmt.Sprint(b.Config.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to create %s listener on %s: %w", b.protocol, addr, err)
	}
	b.listenerMu.Lock()
	b.listener = ln
	b.listenerMu.Unlock()
	close(b.ready)

	logger.Info(b.protocol+" server listening", "address", ln.Addr().String(), "max_connections", b.Config.MaxConnections)

	go func() {
		select {
		case <-ctx.Done():
			logger.Info(b.protocol+" shutdown signal received", logger.Err(ctx.Err()))
		case <-b.stopping:
		}
		b.initiateShutdown()
	}()
	if b.Config.MetricsLogInterval > 0 {
		go b.logMetrics(ctx)
	}

	for {
		if !b.acquire() {
			return b.waitForConnections(time.After(b.Config.ShutdownTimeout))
		}

		conn, err := ln.Accept()
		if err != nil {
			b.release()
			if b.isStopping() {
				return b.waitForConnections(time.After(b.Config.ShutdownTimeout))
			}
			logger.Debug("Error accepting "+b.protocol+" connection", logger.Err(err))
			continue
		}

		if preAccept != nil && !preAccept(conn) {
			_ = conn.Close()
			b.release()
			continue
		}

		b.track(conn)
		handler := factory.NewConnection(conn)
		go func() {
			defer func() {
				if onClose != nil {
					onClose(conn.RemoteAddr().String())
				}
				b.untrack(conn)
				b.release()
			}()
			handler.Serve(b.serveCtx)
		}()
	}
}

// acquire takes a connection slot. It returns false when shutdown started
// while waiting.
func (b *BaseAdapter) acquire() bool {
	if b.slots == nil {
		return !b.isStopping()
	}
	select {
	case b.slots <- struct{}{}:
		return true
	case <-b.stopping:
		return false
	}
}

func (b *BaseAdapter) release() {
	if b.slots != nil {
		<-b.slots
	}
}

func (b *BaseAdapter) isStopping() bool {
	select {
	case <-b.stopping:
		return true
	default:
		return false
	}
}

func (b *BaseAdapter) track(conn net.Conn) {
	b.wg.Add(1)
	b.connsMu.Lock()
	b.conns[conn] = struct{}{}
	b.connsMu.Unlock()
	n := b.count.Add(1)

	if b.Metrics != nil {
		b.Metrics.RecordConnectionAccepted()
		b.Metrics.SetActiveAssociations(n)
	}
	logger.Debug(b.protocol+" connection accepted", logger.Peer(conn.RemoteAddr().String()), "active", n)
}

func (b *BaseAdapter) untrack(conn net.Conn) {
	b.connsMu.Lock()
	delete(b.conns, conn)
	b.connsMu.Unlock()
	n := b.count.Add(-1)
	b.wg.Done()

	if b.Metrics != nil {
		b.Metrics.SetActiveAssociations(n)
	}
	logger.Debug(b.protocol+" connection closed", logger.Peer(conn.RemoteAddr().String()), "active", n)
}

// eachConn calls fn for a snapshot of the live connections.
func (b *BaseAdapter) eachConn(fn func(net.Conn)) {
	b.connsMu.Lock()
	live := make([]net.Conn, 0, len(b.conns))
	for c := range b.conns {
		live = append(live, c)
	}
	b.connsMu.Unlock()
	for _, c := range live {
		fn(c)
	}
}

func (b *BaseAdapter) initiateShutdown() {
	b.stopOnce.Do(func() {
		close(b.stopping)

		b.listenerMu.RLock()
		if b.listener != nil {
			_ = b.listener.Close()
		}
		b.listenerMu.RUnlock()

		deadline := time.Now().Add(interruptGrace)
		b.eachConn(func(c net.Conn) { _ = c.SetReadDeadline(deadline) })
		b.cancel()
		logger.Debug(b.protocol + " shutdown initiated")
	})
}

// waitForConnections blocks until every connection goroutine has returned
// or timeout fires, in which case the remaining connections are closed.
func (b *BaseAdapter) waitForConnections(timeout <-chan time.Time) error {
	remaining := b.count.Load()
	if remaining > 0 {
		logger.Info(b.protocol+" graceful shutdown: waiting for active connections",
			"active", remaining, "timeout", b.Config.ShutdownTimeout)
	}

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info(b.protocol + " shutdown complete")
		return nil
	case <-timeout:
		n := b.forceClose()
		logger.Warn(b.protocol+" shutdown timeout exceeded, connections force-closed", "count", n)
		return fmt.Errorf("%s shutdown timeout: %d connections force-closed", b.protocol, n)
	}
}

func (b *BaseAdapter) forceClose() int {
	closed := 0
	b.eachConn(func(c net.Conn) {
		if err := c.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			logger.Debug("Error force-closing connection", logger.Peer(c.RemoteAddr().String()), logger.Err(err))
			return
		}
		closed++
		if b.Metrics != nil {
			b.Metrics.RecordConnectionForceClosed()
		}
	})
	return closed
}

// Stop starts shutdown and waits for connections until ctx is done. A nil
// ctx waits up to ShutdownTimeout. It is safe to call more than once and
// concurrently with ServeWithFactory.
func (b *BaseAdapter) Stop(ctx context.Context) error {
	b.initiateShutdown()
	if ctx == nil {
		return b.waitForConnections(time.After(b.Config.ShutdownTimeout))
	}

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *BaseAdapter) logMetrics(ctx context.Context) {
	ticker := time.NewTicker(b.Config.MetricsLogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logger.Info(b.protocol+" metrics", "active_connections", b.count.Load())
		}
	}
}

// GetActiveConnections returns the number of live connections.
func (b *BaseAdapter) GetActiveConnections() int32 {
	return b.count.Load()
}

// GetListenerAddr blocks until the listener is bound and returns its
// address.
func (b *BaseAdapter) GetListenerAddr() string {
	<-b.ready
	b.listenerMu.RLock()
	defer b.listenerMu.RUnlock()
	return b.listener.Addr().String()
}

// Port returns the configured TCP port.
func (b *BaseAdapter) Port() int {
	return b.Config.Port
}

// Protocol returns the protocol name used in logs.
func (b *BaseAdapter) Protocol() string {
	return b.protocol
}
