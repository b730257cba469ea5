// Package link owns the byte-level serial connection to a printer: opening
// a port, framing reads around newlines, writing lines, purging stale
// bytes, and performing the M115 capability handshake used to accept or
// reject a port during connect and during auto-discovery.
package link

import (
	"bytes"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"go.bug.st/serial"

	"github.com/mfosse/marlinctl/errs"
	"github.com/mfosse/marlinctl/protocol"
)

// ErrTimeout is returned by ReadLine when the read timeout elapses with no
// complete line buffered. It is not a connection failure.
var ErrTimeout = fmt.Errorf("link: read timeout: %w", errs.ErrTimedOut)

// HandshakeTimeout bounds how long Open waits for an M115 reply before
// giving up on a candidate port.
const HandshakeTimeout = 500 * time.Millisecond

// readTimeout is the per-Read deadline handed to the serial port; ReadLine
// loops over several of these while assembling one line. Kept short so a
// timed-out read never stalls the control loop's tick cadence.
const readTimeout = 10 * time.Millisecond

// Port is the subset of serial.Port's method set Link depends on, narrowed
// so a caller can substitute its own transport (or a test fake) without a
// real device. Read must return (0, nil) on a read timeout, matching
// go.bug.st/serial.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
}

// Link is one open serial connection, plus the capability map obtained
// during the handshake.
type Link struct {
	port Port
	path string
	baud int

	buf []byte
	tmp [256]byte
}

// Open opens path at baud, performs the M115 handshake, and rejects the
// port if the reply isn't from Marlin-family firmware. On any failure the
// port is closed before returning.
func Open(path string, baud int) (*Link, map[string]string, error) {
	mode := &serial.Mode{BaudRate: baud, DataBits: 8, Parity: serial.NoParity, StopBits: serial.OneStopBit}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, nil, fmt.Errorf("link: open %s: %w", path, err)
	}
	if err := port.SetReadTimeout(readTimeout); err != nil {
		port.Close()
		return nil, nil, fmt.Errorf("link: set read timeout on %s: %w", path, err)
	}

	l := newLink(port, path, baud)
	if err := l.Purge(); err != nil {
		port.Close()
		return nil, nil, fmt.Errorf("link: purge %s: %w", path, err)
	}

	if err := l.WriteLine("M115"); err != nil {
		port.Close()
		return nil, nil, err
	}

	var reply strings.Builder
	deadline := time.Now().Add(HandshakeTimeout)
	for time.Now().Before(deadline) {
		line, err := l.ReadLine()
		if err != nil {
			if errors.Is(err, ErrTimeout) {
				continue
			}
			port.Close()
			return nil, nil, fmt.Errorf("link: handshake read on %s: %w", path, err)
		}
		reply.WriteString(line)
		reply.WriteString("\n")
		if strings.Contains(reply.String(), "FIRMWARE_NAME") {
			break
		}
	}

	caps := protocol.ParseCapabilities(reply.String())
	if !protocol.IsAcceptableFirmware(caps) {
		port.Close()
		return nil, nil, fmt.Errorf("link: %s @ %d baud: %w", path, baud, errNoHandshake)
	}
	log.Printf("link: connected to %s @ %d baud, firmware %q", path, baud, caps["FIRMWARE_NAME"])
	return l, caps, nil
}

var errNoHandshake = fmt.Errorf("no firmware handshake reply: %w", errs.ErrNotFound)

func newLink(port Port, path string, baud int) *Link {
	return &Link{port: port, path: path, baud: baud}
}

// NewFromPort wraps an already-open Port, skipping the handshake. The
// caller keeps responsibility for the port's read timeout configuration.
func NewFromPort(port Port, path string) *Link {
	return newLink(port, path, 0)
}

// ReadLine returns the next newline-terminated line with its terminator
// stripped. If no complete line is available before the read timeout,
// ReadLine returns ErrTimeout; previously-buffered partial bytes are kept
// for the next call.
func (l *Link) ReadLine() (string, error) {
	for {
		if idx := bytes.IndexByte(l.buf, '\n'); idx >= 0 {
			line := string(l.buf[:idx])
			l.buf = l.buf[idx+1:]
			return strings.TrimRight(line, "\r"), nil
		}
		n, err := l.port.Read(l.tmp[:])
		if err != nil {
			return "", fmt.Errorf("link: read %s: %w", l.path, err)
		}
		if n == 0 {
			return "", ErrTimeout
		}
		l.buf = append(l.buf, l.tmp[:n]...)
	}
}

// WriteLine writes text terminated by a single newline. Trailing
// whitespace on text is stripped first, since the caller is responsible
// for framing, not for line endings.
func (l *Link) WriteLine(text string) error {
	trimmed := strings.TrimRight(text, " \t\r\n")
	if _, err := l.port.Write([]byte(trimmed + "\n")); err != nil {
		return fmt.Errorf("link: write %s: %w", l.path, err)
	}
	return nil
}

// Purge discards any bytes already sitting in the OS read buffer, so a
// handshake doesn't see a stale reply left over from a previous session.
// It never blocks beyond the configured read timeout.
func (l *Link) Purge() error {
	l.buf = l.buf[:0]
	if err := l.port.ResetInputBuffer(); err != nil {
		return err
	}
	for {
		n, err := l.port.Read(l.tmp[:])
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
	}
}

// Close releases the underlying port.
func (l *Link) Close() error {
	return l.port.Close()
}

// Path reports the device path this Link was opened against.
func (l *Link) Path() string { return l.path }

// ListPorts enumerates candidate serial device paths for discovery.
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("link: list ports: %w", err)
	}
	return ports, nil
}

// BaudRates is the fixed probing order used by auto-discovery, fastest
// first.
var BaudRates = []int{256000, 115200, 57600, 38400, 19200, 14400, 12800, 9600}
