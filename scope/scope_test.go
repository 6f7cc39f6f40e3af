package scope

import (
	"bytes"
	"encoding/binary"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RoanBrand/ScopeCapture/vicp"
)

// mockInstrument is a minimal VICP endpoint for driving the client against.
// Queries it has no canned reply for are answered with "<header> 0".
type mockInstrument struct {
	ln net.Listener

	mu      sync.Mutex
	replies map[string][]byte
	sent    []string
	cleared int
}

func startMockInstrument(t *testing.T) *mockInstrument {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	m := &mockInstrument{ln: ln, replies: make(map[string][]byte)}
	go m.acceptLoop()
	t.Cleanup(func() { ln.Close() })
	return m
}

func (m *mockInstrument) addr() string { return m.ln.Addr().String() }

func (m *mockInstrument) setReply(query string, resp []byte) {
	m.mu.Lock()
	m.replies[query] = resp
	m.mu.Unlock()
}

func (m *mockInstrument) commands() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.sent...)
}

func (m *mockInstrument) acceptLoop() {
	for {
		conn, err := m.ln.Accept()
		if err != nil {
			return
		}
		go m.serve(conn)
	}
}

func (m *mockInstrument) serve(conn net.Conn) {
	defer conn.Close()

	hdr := make([]byte, 8)
	for {
		if _, err := io.ReadFull(conn, hdr); err != nil {
			return
		}
		op := hdr[0]
		payload := make([]byte, binary.BigEndian.Uint32(hdr[4:]))
		if _, err := io.ReadFull(conn, payload); err != nil {
			return
		}

		if op&vicp.OpClear != 0 {
			m.mu.Lock()
			m.cleared++
			m.mu.Unlock()
			continue
		}

		cmd := strings.TrimSuffix(string(payload), "\n")
		m.mu.Lock()
		m.sent = append(m.sent, cmd)
		resp, ok := m.replies[cmd]
		m.mu.Unlock()

		if !strings.Contains(cmd, "?") {
			continue
		}
		if !ok {
			resp = []byte(strings.Replace(cmd, "?", " 0", 1))
		}
		m.reply(conn, resp)
	}
}

func (m *mockInstrument) reply(conn net.Conn, payload []byte) {
	buf := make([]byte, 8+len(payload))
	buf[0] = vicp.OpData | vicp.OpEOI
	buf[1] = 1
	buf[2] = 1
	binary.BigEndian.PutUint32(buf[4:], uint32(len(payload)))
	copy(buf[8:], payload)
	conn.Write(buf)
}

func dialMock(t *testing.T, m *mockInstrument) *Scope {
	t.Helper()
	s, err := Dial(m.addr(), 2*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestDialEnablesCommandHeaders(t *testing.T) {
	m := startMockInstrument(t)
	s := dialMock(t, m)

	// force a round trip so the mock has seen everything sent so far
	require.NoError(t, s.CheckLastCommand())

	assert.Equal(t, []string{"CHDR ON", "CMR?"}, m.commands())
}

func TestCheckLastCommand(t *testing.T) {
	m := startMockInstrument(t)
	s := dialMock(t, m)

	require.NoError(t, s.CheckLastCommand())

	m.setReply("CMR?", []byte("CMR 5"))
	err := s.CheckLastCommand()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unrecognized keyword")
	assert.Contains(t, err.Error(), "CMR 5")

	m.setReply("CMR?", []byte("CMR bogus"))
	assert.Error(t, s.CheckLastCommand())
}

func TestSettingsSnapshot(t *testing.T) {
	m := startMockInstrument(t)
	m.setReply("SEQUENCE?", []byte("SEQ ON,50,2.5E+3 SAMPLE"))
	m.setReply("C2:VOLT_DIV?", []byte("C2:VDIV 50E-3 V"))
	s := dialMock(t, m)

	settings, err := s.Settings()
	require.NoError(t, err)
	require.Len(t, settings, len(settingQueries))
	assert.Equal(t, "SEQ ON,50,2.5E+3 SAMPLE", settings["SEQUENCE"])
	assert.Equal(t, "C2:VDIV 50E-3 V", settings["C2:VOLT_DIV"])
	assert.Equal(t, 50, settings.SequenceCount())
}

func TestSequenceCount(t *testing.T) {
	cases := []struct {
		reply string
		want  int
	}{
		{"SEQ ON,100,2.5E+3 SAMPLE", 100},
		{"SEQ OFF,100,2.5E+3 SAMPLE", 1},
		{"SEQ ON", 1},
		{"SEQ ON,junk", 1},
		{"", 1},
	}
	for _, c := range cases {
		s := Settings{"SEQUENCE": c.reply}
		assert.Equal(t, c.want, s.SequenceCount(), "reply %q", c.reply)
	}
	assert.Equal(t, 1, Settings{}.SequenceCount())
}

func TestSetSequenceMode(t *testing.T) {
	m := startMockInstrument(t)
	s := dialMock(t, m)

	require.NoError(t, s.SetSequenceMode(10))
	require.NoError(t, s.SetSequenceMode(1))

	cmds := m.commands()
	assert.Contains(t, cmds, "SEQ ON,10")
	assert.Contains(t, cmds, "SEQ OFF")
}

func TestActiveChannels(t *testing.T) {
	m := startMockInstrument(t)
	m.setReply("C1:TRACE?", []byte("C1:TRA ON"))
	m.setReply("C2:TRACE?", []byte("C2:TRA OFF"))
	m.setReply("C3:TRACE?", []byte("C3:TRA ON"))
	m.setReply("C4:TRACE?", []byte("C4:TRA OFF"))
	s := dialMock(t, m)

	channels, err := s.ActiveChannels()
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3}, channels)
}

func TestTrigger(t *testing.T) {
	m := startMockInstrument(t)
	m.setReply("*OPC?", []byte("*OPC 1"))
	s := dialMock(t, m)

	require.NoError(t, s.Trigger())
	cmds := m.commands()
	assert.Contains(t, cmds, "TRMD SINGLE")
	assert.Contains(t, cmds, "WAIT")

	m.setReply("*OPC?", []byte("*OPC 0"))
	assert.Error(t, s.Trigger())
}

func TestWaveformFetch(t *testing.T) {
	timing := []SegmentTiming{
		{TriggerTime: 0, TriggerOffset: -1e-8},
		{TriggerTime: 0.5, TriggerOffset: -1.2e-8},
	}
	p := descParams{
		littleEndian: true,
		wordSamples:  true,
		segments:     2,
		samples:      8,
		vertGain:     1e-3,
		vertOffset:   0.1,
		horizInt:     1e-9,
		acqDuration:  0.5,
		timing:       timing,
		data:         rampData(16),
	}

	m := startMockInstrument(t)
	m.setReply("C1:WF? ALL", buildWaveform(t, p))
	s := dialMock(t, m)

	wf, err := s.Waveform(1)
	require.NoError(t, err)
	assert.Equal(t, int32(2), wf.Desc.SubarrayCount)
	assert.Equal(t, int32(16), wf.Desc.WaveArrayCount)
	assert.Equal(t, timing, wf.Timing)
	assert.Equal(t, rampData(16), wf.Samples)

	_, err = s.Waveform(2)
	assert.ErrorIs(t, err, ErrNoWaveDesc)
}

func TestWaveformGarbledTransfer(t *testing.T) {
	p := descParams{
		littleEndian: true,
		wordSamples:  true,
		segments:     1,
		samples:      8,
		data:         rampData(8),
	}

	// negative TRIGTIME length in an otherwise valid transfer
	resp := buildWaveform(t, p)
	start := bytes.Index(resp, []byte("WAVEDESC"))
	require.True(t, start >= 0)
	negLen := int32(-16)
	binary.LittleEndian.PutUint32(resp[start+offTrigTimeLen:], uint32(negLen))

	m := startMockInstrument(t)
	m.setReply("C1:WF? ALL", resp)
	s := dialMock(t, m)

	_, err := s.Waveform(1)
	assert.ErrorIs(t, err, ErrBadDesc)
}

func TestWaveDescQuery(t *testing.T) {
	p := descParams{
		littleEndian: true,
		wordSamples:  true,
		segments:     1,
		samples:      4,
		data:         rampData(4),
	}

	m := startMockInstrument(t)
	m.setReply("C3:WF? DESC", buildWaveform(t, p))
	s := dialMock(t, m)

	desc, err := s.WaveDesc(3)
	require.NoError(t, err)
	assert.Equal(t, int32(1), desc.SubarrayCount)
	assert.Equal(t, 2, desc.SampleSize())
}

func TestSetDisplay(t *testing.T) {
	m := startMockInstrument(t)
	s := dialMock(t, m)

	require.NoError(t, s.SetDisplay(false))
	require.NoError(t, s.SetDisplay(true))

	cmds := m.commands()
	assert.Contains(t, cmds, "DISP OFF")
	assert.Contains(t, cmds, "DISP ON")
}

func TestApplyResendsSettings(t *testing.T) {
	m := startMockInstrument(t)
	s := dialMock(t, m)

	settings := Settings{
		"TRIG_MODE":   "TRMD NORM",
		"C1:VOLT_DIV": "C1:VDIV 100E-3 V",
	}
	require.NoError(t, s.Apply(settings))

	cmds := m.commands()
	assert.Contains(t, cmds, "TRMD NORM")
	assert.Contains(t, cmds, "C1:VDIV 100E-3 V")
}
