package vicp

import (
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConn(t *testing.T) (*Conn, net.Conn) {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return NewConn(client, time.Second), server
}

func readFrame(t *testing.T, r io.Reader) (Header, []byte) {
	t.Helper()
	hdr := make([]byte, headerSize)
	_, err := io.ReadFull(r, hdr)
	require.NoError(t, err)
	h := decodeHeader(hdr)
	payload := make([]byte, h.Length)
	_, err = io.ReadFull(r, payload)
	require.NoError(t, err)
	return h, payload
}

func writeFrame(t *testing.T, w io.Writer, op uint8, payload []byte) {
	t.Helper()
	h := Header{Operation: op, Version: protocolVersion, Sequence: 1, Length: uint32(len(payload))}
	buf := make([]byte, headerSize+len(payload))
	h.encode(buf)
	copy(buf[headerSize:], payload)
	_, err := w.Write(buf)
	require.NoError(t, err)
}

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{Operation: OpData | OpRemote | OpEOI, Version: 1, Sequence: 42, Length: 0xDEADBEEF}
	b := make([]byte, headerSize)
	h.encode(b)
	assert.Equal(t, uint32(0xDEADBEEF), binary.BigEndian.Uint32(b[4:]))
	assert.Equal(t, h, decodeHeader(b))
}

func TestSendCommandFraming(t *testing.T) {
	c, server := testConn(t)

	go func() {
		c.SendCommand("CHDR ON")
	}()

	h, payload := readFrame(t, server)
	assert.Equal(t, uint8(OpData|OpRemote|OpEOI), h.Operation)
	assert.Equal(t, uint8(protocolVersion), h.Version)
	assert.Equal(t, uint8(1), h.Sequence)
	assert.Equal(t, "CHDR ON\n", string(payload))

	// a trailing newline is not doubled up
	go func() {
		c.SendCommand("CMR?\n")
	}()
	h, payload = readFrame(t, server)
	assert.Equal(t, uint8(2), h.Sequence)
	assert.Equal(t, "CMR?\n", string(payload))
}

func TestSequenceNumbersSkipZero(t *testing.T) {
	c, server := testConn(t)
	c.seq = 254

	go func() {
		for i := 0; i < 3; i++ {
			c.SendBlock([]byte{0})
		}
	}()

	var seqs []uint8
	for i := 0; i < 3; i++ {
		h, _ := readFrame(t, server)
		seqs = append(seqs, h.Sequence)
	}
	assert.Equal(t, []uint8{255, 1, 2}, seqs)
}

func TestRecvReassemblesFrames(t *testing.T) {
	c, server := testConn(t)

	go func() {
		writeFrame(t, server, OpData, []byte("first part, "))
		writeFrame(t, server, OpData, []byte("second part, "))
		writeFrame(t, server, OpData|OpEOI, []byte("last part"))
	}()

	resp, err := c.Recv()
	require.NoError(t, err)
	assert.Equal(t, "first part, second part, last part", string(resp))
}

func TestRecvSkipsSRQFrames(t *testing.T) {
	c, server := testConn(t)

	go func() {
		writeFrame(t, server, OpData|OpSRQ, []byte("1"))
		writeFrame(t, server, OpData|OpEOI, []byte("CMR 0"))
	}()

	resp, err := c.Recv()
	require.NoError(t, err)
	assert.Equal(t, "CMR 0", string(resp))
}

func TestRecvRejectsBadVersion(t *testing.T) {
	c, server := testConn(t)

	go func() {
		h := Header{Operation: OpData | OpEOI, Version: 9, Sequence: 1}
		buf := make([]byte, headerSize)
		h.encode(buf)
		server.Write(buf)
	}()

	_, err := c.Recv()
	assert.ErrorIs(t, err, ErrBadVersion)
}

func TestClearResetsSequence(t *testing.T) {
	c, server := testConn(t)

	go func() {
		c.SendCommand("TRMD SINGLE")
		c.Clear()
		c.SendCommand("CHDR ON")
	}()

	h, _ := readFrame(t, server)
	assert.Equal(t, uint8(1), h.Sequence)

	h, payload := readFrame(t, server)
	assert.Equal(t, uint8(OpClear), h.Operation)
	assert.Empty(t, payload)

	h, _ = readFrame(t, server)
	assert.Equal(t, uint8(1), h.Sequence)
}

func TestClosedConn(t *testing.T) {
	c, _ := testConn(t)
	require.NoError(t, c.Close())

	assert.ErrorIs(t, c.SendCommand("CHDR ON"), ErrClosed)
	_, err := c.Recv()
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, c.Close())
}
