// Package board owns the serial link to the sensor/actuator board: the
// connection lifecycle, a background reader that feeds the frame
// parser, and synchronous frame writes.
package board

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/greenroomlabs/envirodash/internal/protocol"
)

// State is the connection state of a Transport.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// ErrNotConnected is returned by Send when no port is open.
var ErrNotConnected = errors.New("board: not connected")

// FrameHandler receives every decoded frame from the reader goroutine.
// It is invoked on that goroutine; implementations must synchronize.
type FrameHandler func(frame protocol.Frame)

const (
	defaultBaudRate = 115200

	// readTimeout bounds each port read so the reader can observe the
	// stop signal; a zero-byte read is the cooperative poll interval.
	readTimeout = 20 * time.Millisecond

	// joinTimeout bounds how long Disconnect waits for the reader to
	// exit before closing the port out from under it.
	joinTimeout = 1 * time.Second
)

// Transport manages one serial connection to the board. There is no
// automatic reconnect: Connect and Disconnect are the only paths that
// open or close the port, except that a reader I/O failure drops the
// connection so the reported state never goes stale.
type Transport struct {
	mu      sync.Mutex
	port    serial.Port
	state   State
	stop    chan struct{}
	done    chan struct{}
	handler FrameHandler

	// Seams for tests; default to the real serial stack.
	open func(name string, mode *serial.Mode) (serial.Port, error)
	list func() ([]string, error)
}

// New creates a disconnected Transport. handler may be nil, in which
// case decoded frames are discarded.
func New(handler FrameHandler) *Transport {
	return &Transport{
		handler: handler,
		open:    serial.Open,
		list:    serial.GetPortsList,
	}
}

// State returns the current connection state.
func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Connected reports whether the link is up.
func (t *Transport) Connected() bool {
	return t.State() == Connected
}

// ListPorts enumerates serial ports on the host. Enumeration failure
// (no serial subsystem, permission problems) degrades to an empty list
// rather than an error: the caller only ever sees what is usable.
func (t *Transport) ListPorts() []string {
	ports, err := t.list()
	if err != nil {
		log.Printf("[board] port enumeration failed: %v", err)
		return []string{}
	}
	if ports == nil {
		ports = []string{}
	}
	return ports
}

// Connect opens portName at baud and starts the reader goroutine. An
// existing connection is torn down first, so Connect doubles as
// reconnect. On failure the state is left Disconnected.
func (t *Transport) Connect(portName string, baud int) error {
	t.Disconnect()

	t.mu.Lock()
	t.state = Connecting
	t.mu.Unlock()

	if baud <= 0 {
		baud = defaultBaudRate
	}
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := t.open(portName, mode)
	if err != nil {
		t.setState(Disconnected)
		return fmt.Errorf("board: open %s: %w", portName, err)
	}
	if err := port.SetReadTimeout(readTimeout); err != nil {
		port.Close()
		t.setState(Disconnected)
		return fmt.Errorf("board: set read timeout on %s: %w", portName, err)
	}

	stop := make(chan struct{})
	done := make(chan struct{})

	t.mu.Lock()
	t.port = port
	t.state = Connected
	t.stop = stop
	t.done = done
	t.mu.Unlock()

	go t.readLoop(port, stop, done)

	log.Printf("[board] connected to %s at %d baud", portName, baud)
	return nil
}

// Disconnect stops the reader and closes the port. It always succeeds
// and is safe to call when already disconnected. If the reader does not
// exit within joinTimeout the port is closed anyway; the orphaned
// reader then observes a read error and exits on its own.
func (t *Transport) Disconnect() {
	t.mu.Lock()
	port := t.port
	stop := t.stop
	done := t.done
	t.port = nil
	t.stop = nil
	t.done = nil
	t.state = Disconnected
	t.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	if done != nil {
		select {
		case <-done:
		case <-time.After(joinTimeout):
			log.Printf("[board] reader did not stop within %v, closing port anyway", joinTimeout)
		}
	}
	if port != nil {
		port.Close()
		log.Printf("[board] disconnected")
	}
}

// Send encodes cmd+payload and writes the frame synchronously. Write
// failures are reported to the caller; there is no queueing or retry.
func (t *Transport) Send(cmd byte, payload []byte) error {
	t.mu.Lock()
	port := t.port
	state := t.state
	t.mu.Unlock()

	if state != Connected || port == nil {
		return ErrNotConnected
	}
	if _, err := port.Write(protocol.Encode(cmd, payload)); err != nil {
		return fmt.Errorf("board: write: %w", err)
	}
	return nil
}

func (t *Transport) setState(s State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

// readLoop runs until stopped or the port errors. Each read is bounded
// by the port's read timeout; zero-byte reads are the idle poll. Every
// received byte goes through the parser and each decoded frame to the
// handler.
func (t *Transport) readLoop(port serial.Port, stop, done chan struct{}) {
	defer close(done)

	parser := protocol.NewParser()
	buf := make([]byte, 256)

	for {
		select {
		case <-stop:
			return
		default:
		}

		n, err := port.Read(buf)
		if err != nil {
			select {
			case <-stop:
				// Port closed under us during Disconnect; not a fault.
			default:
				log.Printf("[board] read error: %v", err)
				t.readerFailed(stop, port)
			}
			return
		}
		if n == 0 {
			continue // read timeout elapsed with no data
		}
		for _, b := range buf[:n] {
			if frame, ok := parser.Feed(b); ok && t.handler != nil {
				t.handler(frame)
			}
		}
	}
}

// readerFailed drops the connection after a reader I/O error, but only
// if this reader still owns it (a concurrent Connect may have swapped
// in a new port already).
func (t *Transport) readerFailed(stop chan struct{}, port serial.Port) {
	t.mu.Lock()
	if t.stop == stop {
		t.port = nil
		t.stop = nil
		t.done = nil
		t.state = Disconnected
	}
	t.mu.Unlock()
	port.Close()
}
