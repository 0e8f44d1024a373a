// Package conduit implements the network transport that carries MIDI
// messages between local devices and remote peers.
//
// A Server accepts peer connections and reads 3-byte frames from each of them
// on its own goroutine. Every frame is delivered to the sinks in a Registry
// shared by the Server and all of its Connections, and messages originating
// locally can be broadcast to every connected peer.
package conduit

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/burre/midiconduit/internal/core"
	"github.com/burre/midiconduit/internal/core/midi"
)

// State is a step in the Server lifecycle.
type State int32

const (
	StateCreated State = iota
	StateStarted
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarted:
		return "started"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown(" + strconv.Itoa(int(s)) + ")"
	}
}

const (
	DefaultShutdownTimeout = time.Second
	DefaultPeerHistoryTTL  = 10 * time.Minute
	DefaultWriteTimeout    = time.Second

	maxAcceptBackoff = time.Second
)

// Option configures a Server.
type Option func(*Server)

// WithHost sets the hostname or IP to bind. Blank binds every interface.
func WithHost(host string) Option {
	return func(s *Server) {
		s.host = host
	}
}

func WithLogger(logger logrus.FieldLogger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithMaxConnections limits the number of concurrently connected peers. 0 means no limit.
func WithMaxConnections(n int) Option {
	return func(s *Server) {
		s.maxConnections = n
	}
}

// WithShutdownTimeout bounds how long Stop waits for the server's loops to exit.
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.shutdownTimeout = d
		}
	}
}

// WithDispatchQueue gives each connection a queue of the given size between
// its socket reader and the sinks. See WithConnectionQueue.
func WithDispatchQueue(size int) Option {
	return func(s *Server) {
		s.queueSize = size
	}
}

// WithFrameLogging dumps every frame at debug level.
func WithFrameLogging(enabled bool) Option {
	return func(s *Server) {
		s.frameLogging = enabled
	}
}

// WithWriteTimeout bounds each write to a peer, so that a peer that stops
// reading cannot stall a Broadcast to everyone else. 0 disables the bound.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.writeTimeout = d
	}
}

// WithPeerHistory sets how long stats for disconnected peers are kept. 0 disables history.
func WithPeerHistory(ttl time.Duration) Option {
	return func(s *Server) {
		s.historyTTL = ttl
	}
}

// Server listens for peers, maintains the set of live Connections, and owns
// the Registry shared with them.
type Server struct {
	host            string
	port            int
	logger          logrus.FieldLogger
	maxConnections  int
	shutdownTimeout time.Duration
	queueSize       int
	frameLogging    bool
	writeTimeout    time.Duration
	historyTTL      time.Duration

	registry    *Registry
	connections *connectionList
	history     *peerHistory

	// mu guards the lifecycle fields below.
	mu         sync.Mutex
	state      State
	listener   net.Listener
	ctx        context.Context
	cancel     context.CancelFunc
	acceptDone chan struct{}
	stopped    chan struct{}
	stopErr    error

	stopping atomic.Bool
	connWg   sync.WaitGroup
}

// NewServer validates port and returns a Server that has not yet been bound.
// Port 0 asks the OS for an ephemeral port.
func NewServer(port int, opts ...Option) (*Server, error) {
	if port < 0 || port > 65535 {
		return nil, &ConfigError{Port: port}
	}

	s := &Server{
		port:            port,
		shutdownTimeout: DefaultShutdownTimeout,
		historyTTL:      DefaultPeerHistoryTTL,
		writeTimeout:    DefaultWriteTimeout,
		registry:        NewRegistry(),
		connections:     newConnectionList(),
		state:           StateCreated,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = core.DiscardLogger()
	}
	s.history = newPeerHistory(s.historyTTL)
	s.registry.logger = s.logger

	return s, nil
}

// Start binds the listening socket and spins off the accept loop. It returns
// as soon as the socket is bound.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateCreated {
		return &StateError{Op: "start", State: s.state}
	}

	address := net.JoinHostPort(s.host, strconv.Itoa(s.port))
	hostAddr, err := net.ResolveTCPAddr("tcp", address)
	if err != nil {
		return &BindError{Addr: address, Err: err}
	}

	listener, err := net.ListenTCP("tcp", hostAddr)
	if err != nil {
		return &BindError{Addr: address, Err: err}
	}

	s.serve(listener)
	return nil
}

// serve takes ownership of listener and spins off the accept loop. mu must be held.
func (s *Server) serve(listener net.Listener) {
	s.listener = listener
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.acceptDone = make(chan struct{})
	s.stopped = make(chan struct{})
	s.state = StateStarted

	s.logger.Infof("waiting for connections on %v", listener.Addr())
	go s.acceptLoop(listener)
}

// acceptLoop is purely responsible for accepting new connections and handing
// them off to their own read loops.
func (s *Server) acceptLoop(listener net.Listener) {
	defer close(s.acceptDone)

	var backoff time.Duration
	for {
		conn, err := listener.Accept()
		if err != nil {
			if s.stopping.Load() || errors.Is(err, net.ErrClosed) {
				s.logger.Debug("accept loop exiting")
				return
			}

			if backoff == 0 {
				backoff = 5 * time.Millisecond
			} else {
				backoff *= 2
			}
			if backoff > maxAcceptBackoff {
				backoff = maxAcceptBackoff
			}
			s.logger.Warnf("failed to accept connection: %s; retrying in %v", err, backoff)

			select {
			case <-time.After(backoff):
			case <-s.ctx.Done():
				return
			}
			continue
		}

		backoff = 0
		s.acceptConnection(conn)
	}
}

func (s *Server) acceptConnection(conn net.Conn) {
	remote := conn.RemoteAddr().String()

	// Holding mu keeps Stop from draining the live set while this connection is added to it.
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateStarted {
		_ = conn.Close()
		return
	}

	if s.maxConnections > 0 && s.connections.len() >= s.maxConnections {
		s.logger.Warnf("rejected connection from %s: server is full (%d connections)", remote, s.maxConnections)
		_ = conn.Close()
		return
	}

	c, err := newConnection(conn, s.registry,
		WithConnectionLogger(s.logger),
		WithConnectionQueue(s.queueSize),
		WithConnectionFrameLogging(s.frameLogging),
		WithConnectionWriteTimeout(s.writeTimeout),
		WithConnectionContext(s.ctx),
		WithCloseHook(s.dropConnection),
	)
	if err != nil {
		s.logger.Warnf("failed to set up connection from %s: %s", remote, err)
		_ = conn.Close()
		return
	}

	s.connWg.Add(1)
	s.connections.add(c)
	c.start()

	s.logger.Infof("accepted connection from %s", remote)
}

// dropConnection is called by a Connection once its loops have exited.
func (s *Server) dropConnection(c *Connection) {
	defer s.connWg.Done()

	s.connections.remove(c)

	stats := c.Stats()
	s.history.record(stats)
	s.logger.Infof("disconnected peer %s (frames in: %d, out: %d)", stats.RemoteAddr, stats.FramesIn, stats.FramesOut)
}

// Register adds a sink that receives messages from every current and future connection.
func (s *Server) Register(sink Sink) { s.registry.Register(sink) }

// Unregister removes a sink from every current and future connection.
func (s *Server) Unregister(sink Sink) { s.registry.Unregister(sink) }

// Broadcast writes msg to every connected peer. Peers that cannot be written
// to are disconnected and their errors are combined into the returned error.
func (s *Server) Broadcast(msg midi.Message) error {
	var errs error
	for _, c := range s.connections.snapshot() {
		if err := c.WriteMessage(msg); err != nil {
			errs = multierr.Append(errs, err)
			_ = c.Close()
		}
	}
	return errs
}

// Stop closes every connection and the listening socket, then waits for the
// accept loop and all read loops to exit. If they do not exit within the
// shutdown timeout, the server's context is cancelled to abandon any work
// still in progress and ErrShutdownTimeout is returned.
//
// Stop does nothing if the server was never started or has already stopped.
// Calls made while another Stop is in progress wait for it and share its result.
func (s *Server) Stop() error {
	s.mu.Lock()
	switch s.state {
	case StateCreated, StateStopped:
		s.mu.Unlock()
		return nil
	case StateStopping:
		stopped := s.stopped
		s.mu.Unlock()
		<-stopped
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.stopErr
	}

	s.state = StateStopping
	s.stopping.Store(true)
	listener := s.listener
	s.mu.Unlock()

	s.logger.Info("shutting down (closing connections)")

	var closeErrs error
	for _, c := range s.connections.drain() {
		if err := c.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			closeErrs = multierr.Append(closeErrs, err)
		}
	}
	for _, err := range multierr.Errors(closeErrs) {
		s.logger.Warnf("failed to close connection: %s", err)
	}

	if err := listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		s.logger.Warnf("failed to close listener: %s", err)
	}

	err := s.waitForLoops()

	s.mu.Lock()
	s.state = StateStopped
	s.stopErr = err
	close(s.stopped)
	s.mu.Unlock()

	s.logger.Info("exited")
	return err
}

func (s *Server) waitForLoops() error {
	loopsDone := make(chan struct{})
	go func() {
		<-s.acceptDone
		s.connWg.Wait()
		close(loopsDone)
	}()

	timer := time.NewTimer(s.shutdownTimeout)
	defer timer.Stop()

	select {
	case <-loopsDone:
		s.cancel()
		return nil
	case <-timer.C:
		s.logger.Warnf("server loops still running after %v; cancelling", s.shutdownTimeout)
		s.cancel()
		return ErrShutdownTimeout
	}
}

func (s *Server) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Addr returns the address of the listening socket, or nil if the server has not been started.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Port returns the port the server is listening on, which differs from the
// configured port when an ephemeral port was requested.
func (s *Server) Port() int {
	if addr, ok := s.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return s.port
}

func (s *Server) ConnectionCount() int { return s.connections.len() }

// Peer returns the stats of the peer at addr, whether it is connected or was
// recently disconnected.
func (s *Server) Peer(addr string) (PeerStats, bool) {
	for _, c := range s.connections.snapshot() {
		if c.RemoteAddr() == addr {
			return c.Stats(), true
		}
	}
	return s.history.get(addr)
}

// PeerStats returns stats for every live connection along with any recently
// disconnected peers, ordered by address.
func (s *Server) PeerStats() []PeerStats {
	var stats []PeerStats
	live := make(map[string]bool)
	for _, c := range s.connections.snapshot() {
		stats = append(stats, c.Stats())
		live[c.RemoteAddr()] = true
	}

	for _, past := range s.history.all() {
		if !live[past.RemoteAddr] {
			stats = append(stats, past)
		}
	}

	sortPeerStats(stats)
	return stats
}
