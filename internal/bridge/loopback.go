package bridge

import (
	"errors"
	"sync"

	"github.com/burre/midiconduit/internal/core/midi"
)

// ErrDeviceClosed is returned when sending to a closed LoopbackDevice.
var ErrDeviceClosed = errors.New("device closed")

// LoopbackDevice is an in-process Device. Everything sent to it is recorded
// and republished on Input, which makes it usable both as an output device and
// as an input source for Forward.
type LoopbackDevice struct {
	name string

	mu       sync.Mutex
	closed   bool
	received []midi.Message
	input    chan midi.Message
}

// NewLoopbackDevice creates a device whose Input channel buffers up to
// bufferSize messages. Messages sent while the buffer is full are still
// recorded but are not republished.
func NewLoopbackDevice(name string, bufferSize int) *LoopbackDevice {
	return &LoopbackDevice{
		name:  name,
		input: make(chan midi.Message, bufferSize),
	}
}

func (l *LoopbackDevice) Name() string { return l.name }

func (l *LoopbackDevice) Send(msg midi.Message) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrDeviceClosed
	}

	l.received = append(l.received, msg)
	select {
	case l.input <- msg:
	default:
	}
	return nil
}

// Input returns the channel on which sent messages are republished.
func (l *LoopbackDevice) Input() <-chan midi.Message { return l.input }

// Received returns every message sent to the device so far.
func (l *LoopbackDevice) Received() []midi.Message {
	l.mu.Lock()
	defer l.mu.Unlock()

	received := make([]midi.Message, len(l.received))
	copy(received, l.received)
	return received
}

// Close stops the device and closes its Input channel.
func (l *LoopbackDevice) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.closed {
		l.closed = true
		close(l.input)
	}
	return nil
}
