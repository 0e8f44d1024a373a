package conduit

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/burre/midiconduit/internal/core/midi"
)

const testTimeout = 2 * time.Second

// recordingSink keeps every message delivered to it.
type recordingSink struct {
	name     string
	mu       sync.Mutex
	messages []midi.Message
	notify   chan struct{}
}

func newRecordingSink(name string) *recordingSink {
	return &recordingSink{name: name, notify: make(chan struct{}, 1)}
}

func (r *recordingSink) Deliver(msg midi.Message) {
	r.mu.Lock()
	r.messages = append(r.messages, msg)
	r.mu.Unlock()

	select {
	case r.notify <- struct{}{}:
	default:
	}
}

func (r *recordingSink) received() []midi.Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	messages := make([]midi.Message, len(r.messages))
	copy(messages, r.messages)
	return messages
}

// waitFor blocks until at least n messages have been delivered.
func (r *recordingSink) waitFor(t *testing.T, n int) []midi.Message {
	t.Helper()

	deadline := time.After(testTimeout)
	for {
		if messages := r.received(); len(messages) >= n {
			return messages
		}
		select {
		case <-r.notify:
		case <-deadline:
			t.Fatalf("sink %s: timed out waiting for %d messages, got %d", r.name, n, len(r.received()))
		}
	}
}

// blockingSink blocks every delivery until release is closed.
type blockingSink struct {
	entered chan struct{}
	release chan struct{}
}

func newBlockingSink() *blockingSink {
	return &blockingSink{entered: make(chan struct{}, 16), release: make(chan struct{})}
}

func (b *blockingSink) Deliver(midi.Message) {
	b.entered <- struct{}{}
	<-b.release
}

type panicSink struct {
	reason string
}

func (p *panicSink) Deliver(midi.Message) { panic(p.reason) }

func newTestListener(t *testing.T) (*net.TCPListener, *net.TCPAddr) {
	listener, err := net.ListenTCP("tcp", &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("error initializing test listener: %v", err)
	}
	t.Cleanup(func() { listener.Close() })
	return listener, listener.Addr().(*net.TCPAddr)
}

func newTestConnection(t *testing.T, addr *net.TCPAddr) *net.TCPConn {
	conn, err := net.DialTCP("tcp", nil, addr)
	if err != nil {
		t.Fatalf("error initializing test connection: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// newTestSocketPair returns both ends of a loopback TCP connection.
func newTestSocketPair(t *testing.T) (server *net.TCPConn, peer *net.TCPConn) {
	listener, addr := newTestListener(t)
	peer = newTestConnection(t, addr)

	server, err := listener.AcceptTCP()
	if err != nil {
		t.Fatalf("error accepting test connection: %v", err)
	}
	t.Cleanup(func() { server.Close() })
	return server, peer
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(testTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func waitClosed(t *testing.T, what string, ch <-chan struct{}) {
	t.Helper()

	select {
	case <-ch:
	case <-time.After(testTimeout):
		t.Fatalf("timed out waiting for %s", what)
	}
}
