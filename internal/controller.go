package internal

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/burre/midiconduit/internal/bridge"
	"github.com/burre/midiconduit/internal/conduit"
	"github.com/burre/midiconduit/internal/core"
	"github.com/burre/midiconduit/internal/core/debug"
)

// loopbackBufferSize is the number of messages the loopback device holds for
// the echo forwarder before it starts dropping them.
const loopbackBufferSize = 256

// ErrAlreadyStarted is returned when Start is called on a Controller more than once.
var ErrAlreadyStarted = errors.New("controller already started")

// Controller is the main entrypoint for the conduit. It's responsible for
// initializing the shared resources (logging, debug utilities), building the
// server and its sinks from the config, and tearing everything down again.
type Controller struct {
	Config *core.Config
	// Logger is built from Config when nil.
	Logger *logrus.Logger

	server      *conduit.Server
	loopback    *bridge.LoopbackDevice
	pprofServer *http.Server
	forwarders  sync.WaitGroup

	started   atomic.Bool
	ready     chan struct{}
	once      sync.Once
	readyOnce sync.Once
}

func NewController(cfg *core.Config) *Controller {
	return &Controller{Config: cfg}
}

// Ready is closed once the server is accepting peers.
func (c *Controller) Ready() <-chan struct{} {
	c.once.Do(func() { c.ready = make(chan struct{}) })
	return c.ready
}

// Addr returns the address the server is listening on, or nil before Ready.
func (c *Controller) Addr() net.Addr {
	select {
	case <-c.Ready():
		return c.server.Addr()
	default:
		return nil
	}
}

// Loopback returns the loopback device if one is configured.
func (c *Controller) Loopback() *bridge.LoopbackDevice { return c.loopback }

// Start runs the conduit until ctx is cancelled. The returned error is nil on
// a clean shutdown. A Controller can only be started once.
func (c *Controller) Start(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	if c.Logger == nil {
		logger, err := core.NewLogger(c.Config)
		if err != nil {
			return fmt.Errorf("error initializing logger: %w", err)
		}
		c.Logger = logger
	}

	// Start any debug utilities if we're configured to do so.
	if c.Config.Debugging.PprofEnabled {
		c.pprofServer = debug.StartPprofServer(c.Logger, c.Config.PprofAddress())
	}

	if err := c.startServer(); err != nil {
		c.stopDebugUtilities()
		return err
	}

	forwardCtx, cancelForwarders := context.WithCancel(ctx)
	if c.loopback != nil && c.Config.Bridge.Echo {
		c.forwarders.Add(1)
		go func() {
			defer c.forwarders.Done()
			bridge.Forward(forwardCtx, c.loopback.Input(), c.server, c.Logger.WithField("component", "echo"))
		}()
	}

	c.Logger.Infof("waiting for peers on %v", c.server.Addr())
	c.Ready()
	c.readyOnce.Do(func() { close(c.ready) })

	<-ctx.Done()
	cancelForwarders()
	return c.Shutdown()
}

func (c *Controller) startServer() error {
	server, err := conduit.NewServer(c.Config.Port,
		conduit.WithHost(c.Config.Hostname),
		conduit.WithLogger(c.Logger),
		conduit.WithMaxConnections(c.Config.MaxConnections),
		conduit.WithShutdownTimeout(c.Config.ShutdownTimeout),
		conduit.WithWriteTimeout(c.Config.WriteTimeout),
		conduit.WithDispatchQueue(c.Config.Dispatch.QueueSize),
		conduit.WithFrameLogging(c.Config.Debugging.FrameLoggingEnabled),
		conduit.WithPeerHistory(c.Config.PeerHistoryTTL),
	)
	if err != nil {
		return err
	}

	if c.Config.Logging.LogMessages {
		server.Register(bridge.NewLogSink(c.Logger.WithField("component", "messages")))
	}
	if c.Config.Bridge.Loopback {
		c.loopback = bridge.NewLoopbackDevice("loopback", loopbackBufferSize)
		server.Register(bridge.NewDeviceSink(c.loopback, c.Logger))
	}

	if err := server.Start(); err != nil {
		return err
	}
	c.server = server
	return nil
}

// Shutdown stops the server and releases everything Start acquired.
func (c *Controller) Shutdown() error {
	var err error
	if c.server != nil {
		err = multierr.Append(err, c.server.Stop())
	}
	if c.loopback != nil {
		err = multierr.Append(err, c.loopback.Close())
	}
	c.forwarders.Wait()
	c.stopDebugUtilities()

	if err != nil {
		c.Logger.Errorf("error shutting down: %v", err)
	} else {
		c.Logger.Info("shut down")
	}
	return err
}

func (c *Controller) stopDebugUtilities() {
	if c.pprofServer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.pprofServer.Shutdown(ctx); err != nil {
		c.Logger.Warnf("error stopping pprof server: %v", err)
	}
}
