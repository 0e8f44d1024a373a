package conduit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/burre/midiconduit/internal/core"
	coredebug "github.com/burre/midiconduit/internal/core/debug"
	"github.com/burre/midiconduit/internal/core/midi"
)

// ConnectionOption configures a Connection.
type ConnectionOption func(*Connection)

// WithConnectionLogger sets the logger used for the connection's read loop.
func WithConnectionLogger(logger logrus.FieldLogger) ConnectionOption {
	return func(c *Connection) {
		c.logger = logger
	}
}

// WithConnectionQueue moves dispatch off the read loop onto a dedicated
// goroutine fed by a queue of the given size. Frames are still delivered in
// the order they were read, and a full queue blocks the read loop.
func WithConnectionQueue(size int) ConnectionOption {
	return func(c *Connection) {
		if size > 0 {
			c.queue = make(chan midi.Message, size)
		}
	}
}

// WithConnectionFrameLogging dumps every frame sent or received at debug level.
func WithConnectionFrameLogging(enabled bool) ConnectionOption {
	return func(c *Connection) {
		c.frameLogging = enabled
	}
}

// WithConnectionWriteTimeout bounds how long a single write may block on a
// peer that is not reading. 0 disables the bound.
func WithConnectionWriteTimeout(d time.Duration) ConnectionOption {
	return func(c *Connection) {
		c.writeTimeout = d
	}
}

// WithConnectionContext stops dispatch to sinks once ctx is cancelled.
func WithConnectionContext(ctx context.Context) ConnectionOption {
	return func(c *Connection) {
		c.ctx = ctx
	}
}

// WithCloseHook registers a function called once the connection's loops have
// exited and its socket is closed.
func WithCloseHook(fn func(*Connection)) ConnectionOption {
	return func(c *Connection) {
		c.onClose = fn
	}
}

// Connection owns the socket of one peer. Frames read from the peer are
// delivered to every sink in the shared Registry.
type Connection struct {
	conn     net.Conn
	addr     string
	registry *Registry

	ctx          context.Context
	logger       logrus.FieldLogger
	frameLogging bool
	writeTimeout time.Duration
	queue        chan midi.Message
	onClose      func(*Connection)

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
	closing   chan struct{}
	done      chan struct{}

	connectedAt    time.Time
	disconnectedAt atomic.Int64
	lastSeen       atomic.Int64
	framesIn       atomic.Uint64
	framesOut      atomic.Uint64
}

// NewConnection wraps conn and starts reading frames from it in a new goroutine.
func NewConnection(conn net.Conn, registry *Registry, opts ...ConnectionOption) (*Connection, error) {
	c, err := newConnection(conn, registry, opts...)
	if err != nil {
		return nil, err
	}
	c.start()
	return c, nil
}

// newConnection builds a Connection without starting its read loop.
func newConnection(conn net.Conn, registry *Registry, opts ...ConnectionOption) (*Connection, error) {
	if conn == nil {
		return nil, &ConnectionError{Err: errors.New("nil socket")}
	}
	remote := conn.RemoteAddr()
	if remote == nil {
		return nil, &ConnectionError{Err: errors.New("socket is not connected")}
	}
	if registry == nil {
		registry = NewRegistry()
	}

	c := &Connection{
		conn:        conn,
		addr:        remote.String(),
		registry:    registry,
		ctx:         context.Background(),
		closing:     make(chan struct{}),
		done:        make(chan struct{}),
		connectedAt: time.Now(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = core.DiscardLogger()
	}
	c.logger = c.logger.WithField("peer", c.addr)

	return c, nil
}

func (c *Connection) start() {
	dispatched := make(chan struct{})
	if c.queue != nil {
		go c.dispatchLoop(dispatched)
	} else {
		close(dispatched)
	}
	go c.readLoop(dispatched)
}

func (c *Connection) RemoteAddr() string { return c.addr }

// Done is closed once the connection's loops have exited.
func (c *Connection) Done() <-chan struct{} { return c.done }

// readLoop is a blocking loop dedicated to reading frames sent by the peer
// and only returns once the connection has closed.
func (c *Connection) readLoop(dispatched chan struct{}) {
	defer c.finish(dispatched)

	buffer := make([]byte, midi.MessageSize)
	for {
		received, err := c.readFrame(buffer)
		if received == midi.MessageSize {
			if !c.enqueue(midi.Message{Status: buffer[0], Data1: buffer[1], Data2: buffer[2]}) {
				return
			}
		}

		if err == nil {
			continue
		}

		switch {
		case c.isClosing():
			// Closed locally, nothing worth reporting.
		case errors.Is(err, io.EOF) && received == 0:
			c.logger.Debug("peer closed the connection")
		case errors.Is(err, io.EOF):
			c.logger.Warnf("peer disconnected with a truncated frame (% X)", buffer[:received])
		default:
			c.logger.Warn((&IOError{Op: "read", Addr: c.addr, Err: err}).Error())
		}
		return
	}
}

// readFrame blocks until len(buffer) bytes have been read from the peer,
// accumulating across as many reads as it takes. The number of bytes read is
// returned along with any error that ended the read early.
func (c *Connection) readFrame(buffer []byte) (int, error) {
	received := 0

	for received < len(buffer) {
		n, err := c.conn.Read(buffer[received:])
		received += n

		if err != nil {
			return received, err
		}
	}

	return received, nil
}

// enqueue hands a frame to the sinks, returning false if the connection is
// shutting down and the frame was not delivered.
func (c *Connection) enqueue(msg midi.Message) bool {
	c.framesIn.Add(1)
	c.lastSeen.Store(time.Now().UnixNano())

	if c.frameLogging {
		coredebug.DumpFrame(c.logger, coredebug.Inbound, c.addr, msg)
	}

	if c.queue == nil {
		if c.ctx.Err() != nil {
			return false
		}
		c.registry.Deliver(msg)
		return true
	}

	select {
	case c.queue <- msg:
		return true
	case <-c.closing:
		return false
	case <-c.ctx.Done():
		return false
	}
}

func (c *Connection) dispatchLoop(dispatched chan struct{}) {
	defer close(dispatched)
	defer c.recoverSink()

	for msg := range c.queue {
		if c.ctx.Err() != nil {
			return
		}
		c.registry.Deliver(msg)
	}
}

// finish is the failsafe that catches any panics from the sinks, closes the
// socket, and notifies the owner regardless of how the read loop exited.
func (c *Connection) finish(dispatched chan struct{}) {
	if err := recover(); err != nil {
		c.logger.Errorf("sink panicked while handling a frame: %v\n%s", err, debug.Stack())
	}

	if err := c.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		c.logger.Warnf("failed to close connection: %s", err)
	}

	if c.queue != nil {
		close(c.queue)
	}
	select {
	case <-dispatched:
	case <-c.ctx.Done():
	}
	c.disconnectedAt.Store(time.Now().UnixNano())
	close(c.done)

	if c.onClose != nil {
		c.onClose(c)
	}
}

func (c *Connection) recoverSink() {
	if err := recover(); err != nil {
		c.logger.Errorf("sink panicked while handling a frame: %v\n%s", err, debug.Stack())
		_ = c.Close()
	}
}

// Write sends one message to the peer.
func (c *Connection) Write(status, data1, data2 byte) error {
	return c.WriteMessage(midi.Message{Status: status, Data1: data1, Data2: data2})
}

// WriteMessage sends msg to the peer. Failed writes are not retried, and a
// write that times out closes the connection since part of the frame may
// already have been sent.
func (c *Connection) WriteMessage(msg midi.Message) error {
	if c.isClosing() {
		return &IOError{Op: "write", Addr: c.addr, Err: ErrConnectionClosed}
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	raw := msg.Bytes()
	if err := c.transmit(raw[:]); err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			c.logger.Warnf("timed out writing to peer after %v; closing", c.writeTimeout)
			_ = c.Close()
		} else if c.isClosing() {
			err = fmt.Errorf("%w: %v", ErrConnectionClosed, err)
		}
		return &IOError{Op: "write", Addr: c.addr, Err: err}
	}

	c.framesOut.Add(1)
	if c.frameLogging {
		coredebug.DumpFrame(c.logger, coredebug.Outbound, c.addr, msg)
	}
	return nil
}

// transmit writes the contents of data to the socket until all of it has been sent.
func (c *Connection) transmit(data []byte) error {
	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}

	bytesSent := 0

	for bytesSent < len(data) {
		n, err := c.conn.Write(data[bytesSent:])
		if err != nil {
			return err
		}
		bytesSent += n
	}

	return nil
}

// Close closes the socket, which unblocks the read loop. It is safe to call
// more than once and from any goroutine.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		close(c.closing)
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

func (c *Connection) isClosing() bool {
	select {
	case <-c.closing:
		return true
	default:
		return false
	}
}

// Stats returns a snapshot of the traffic exchanged with the peer.
func (c *Connection) Stats() PeerStats {
	stats := PeerStats{
		RemoteAddr:  c.addr,
		Connected:   true,
		ConnectedAt: c.connectedAt,
		FramesIn:    c.framesIn.Load(),
		FramesOut:   c.framesOut.Load(),
	}
	if ns := c.lastSeen.Load(); ns != 0 {
		stats.LastSeen = time.Unix(0, ns)
	}
	select {
	case <-c.done:
		stats.Connected = false
		stats.DisconnectedAt = time.Unix(0, c.disconnectedAt.Load())
	default:
	}
	return stats
}
