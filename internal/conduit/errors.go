package conduit

import (
	"errors"
	"fmt"
)

var (
	// ErrConnectionClosed is the cause reported when writing to a Connection that has been closed.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrShutdownTimeout is returned by Stop when the accept or read loops did not exit in time.
	ErrShutdownTimeout = errors.New("timed out waiting for server loops to exit")
)

// ConfigError is returned when a Server is constructed with an invalid port.
type ConfigError struct {
	Port int
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid port %d: must be between 0 and 65535", e.Port)
}

// BindError is returned by Start when the listening socket cannot be acquired.
type BindError struct {
	Addr string
	Err  error
}

func (e *BindError) Error() string { return fmt.Sprintf("error listening on %s: %v", e.Addr, e.Err) }
func (e *BindError) Unwrap() error { return e.Err }

// ConnectionError is returned when a peer's socket is unusable.
type ConnectionError struct {
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	if e.Addr == "" {
		return fmt.Sprintf("unusable connection: %v", e.Err)
	}
	return fmt.Sprintf("unusable connection %s: %v", e.Addr, e.Err)
}
func (e *ConnectionError) Unwrap() error { return e.Err }

// IOError is returned when a read or write on a peer's socket fails.
type IOError struct {
	Op   string
	Addr string
	Err  error
}

func (e *IOError) Error() string { return fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err) }
func (e *IOError) Unwrap() error { return e.Err }

// StateError is returned for an illegal lifecycle transition, such as starting a Server twice.
type StateError struct {
	Op    string
	State State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("cannot %s server in state %v", e.Op, e.State)
}
