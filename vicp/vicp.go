// Package vicp implements the LeCroy Versatile Instrument Control Protocol,
// the TCP framing used by LeCroy/Teledyne scopes for remote control commands
// and waveform transfer.
package vicp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"
)

// DefaultPort is the TCP port scopes listen on for VICP.
const DefaultPort = "1861"

// Header operation flags.
const (
	OpData     = 0x80
	OpRemote   = 0x40
	OpLockout  = 0x20
	OpClear    = 0x10
	OpSRQ      = 0x08
	OpReserved = 0x04
	OpEOI      = 0x01
)

const (
	headerSize      = 8
	protocolVersion = 1
)

var (
	ErrBadVersion = errors.New("vicp: unsupported protocol version in reply")
	ErrClosed     = errors.New("vicp: connection closed")
)

// Header is the 8 byte frame header preceding every VICP payload.
// All multi-byte fields are big-endian.
type Header struct {
	Operation uint8
	Version   uint8
	Sequence  uint8
	Spare     uint8
	Length    uint32
}

func (h *Header) encode(b []byte) {
	b[0] = h.Operation
	b[1] = h.Version
	b[2] = h.Sequence
	b[3] = h.Spare
	binary.BigEndian.PutUint32(b[4:8], h.Length)
}

func decodeHeader(b []byte) Header {
	return Header{
		Operation: b[0],
		Version:   b[1],
		Sequence:  b[2],
		Spare:     b[3],
		Length:    binary.BigEndian.Uint32(b[4:8]),
	}
}

// Conn is a VICP connection to a scope.
type Conn struct {
	nc      net.Conn
	timeout time.Duration
	seq     uint8
}

// Dial connects to a scope at addr. The default VICP port is assumed
// when addr carries none. The timeout covers the dial and every
// subsequent send or receive operation.
func Dial(addr string, timeout time.Duration) (*Conn, error) {
	if !strings.Contains(addr, ":") {
		addr = net.JoinHostPort(addr, DefaultPort)
	}

	nc, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("vicp: dial %s: %w", addr, err)
	}

	return NewConn(nc, timeout), nil
}

// NewConn wraps an established connection. Used by tests.
func NewConn(nc net.Conn, timeout time.Duration) *Conn {
	return &Conn{nc: nc, timeout: timeout}
}

func (c *Conn) Close() error {
	if c.nc == nil {
		return nil
	}
	err := c.nc.Close()
	c.nc = nil
	return err
}

// nextSeq returns the next frame sequence number. Zero is never used.
func (c *Conn) nextSeq() uint8 {
	c.seq++
	if c.seq == 0 {
		c.seq = 1
	}
	return c.seq
}

func (c *Conn) sendFrame(op uint8, payload []byte) error {
	if c.nc == nil {
		return ErrClosed
	}
	if c.timeout > 0 {
		if err := c.nc.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
			return err
		}
	}

	h := Header{
		Operation: op,
		Version:   protocolVersion,
		Sequence:  c.nextSeq(),
		Length:    uint32(len(payload)),
	}

	buf := make([]byte, headerSize+len(payload))
	h.encode(buf)
	copy(buf[headerSize:], payload)

	if _, err := c.nc.Write(buf); err != nil {
		return fmt.Errorf("vicp: send: %w", err)
	}
	return nil
}

// SendCommand sends a single device command or query.
func (c *Conn) SendCommand(cmd string) error {
	payload := cmd
	if !strings.HasSuffix(payload, "\n") {
		payload += "\n"
	}
	return c.sendFrame(OpData|OpRemote|OpEOI, []byte(payload))
}

// SendBlock sends a raw payload, e.g. a settings block captured earlier.
func (c *Conn) SendBlock(data []byte) error {
	return c.sendFrame(OpData|OpRemote|OpEOI, data)
}

// Recv reads one logical response, reassembling it across frames until a
// frame flagged EOI completes it. SRQ frames are connection keepalives and
// are skipped.
func (c *Conn) Recv() ([]byte, error) {
	if c.nc == nil {
		return nil, ErrClosed
	}

	var out []byte
	hdr := make([]byte, headerSize)

	for {
		if c.timeout > 0 {
			if err := c.nc.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
				return nil, err
			}
		}

		if _, err := io.ReadFull(c.nc, hdr); err != nil {
			return nil, fmt.Errorf("vicp: read header: %w", err)
		}

		h := decodeHeader(hdr)
		if h.Version != protocolVersion {
			return nil, fmt.Errorf("%w: %d", ErrBadVersion, h.Version)
		}

		payload := make([]byte, h.Length)
		if _, err := io.ReadFull(c.nc, payload); err != nil {
			return nil, fmt.Errorf("vicp: read payload: %w", err)
		}

		if h.Operation&OpSRQ != 0 {
			continue
		}

		out = append(out, payload...)
		if h.Operation&OpEOI != 0 {
			return out, nil
		}
	}
}

// Clear aborts the current device operation and resets frame sequencing.
func (c *Conn) Clear() error {
	err := c.sendFrame(OpClear, nil)
	c.seq = 0
	return err
}
