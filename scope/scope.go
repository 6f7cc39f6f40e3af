// Package scope is a remote control client for LeCroy digital oscilloscopes.
package scope

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/RoanBrand/ScopeCapture/log"
	"github.com/RoanBrand/ScopeCapture/vicp"
)

// MaxChannels is the number of input channels probed for activity.
const MaxChannels = 4

// settingQueries are the setup queries captured by Settings, in the order
// they are read back and restored. The replies are full command strings
// (the scope is set to CHDR ON) and can be resent verbatim.
var settingQueries = []string{
	"COMM_FORMAT",
	"COMM_HEADER",
	"COMM_ORDER",
	"SEQUENCE",
	"TRIG_MODE",
	"TRIG_SELECT",
	"TRIG_DELAY",
	"TIME_DIV",
	"C1:TRACE", "C2:TRACE", "C3:TRACE", "C4:TRACE",
	"C1:VOLT_DIV", "C2:VOLT_DIV", "C3:VOLT_DIV", "C4:VOLT_DIV",
	"C1:OFFSET", "C2:OFFSET", "C3:OFFSET", "C4:OFFSET",
	"C1:COUPLING", "C2:COUPLING", "C3:COUPLING", "C4:COUPLING",
	"C1:TRIG_LEVEL", "C2:TRIG_LEVEL", "C3:TRIG_LEVEL", "C4:TRIG_LEVEL",
}

// Settings is a snapshot of scope setup state, keyed by query name.
type Settings map[string]string

// Scope is a connected LeCroy oscilloscope.
type Scope struct {
	conn *vicp.Conn
	addr string
}

// Dial connects to the scope at addr and puts it in remote mode with
// command headers enabled.
func Dial(addr string, timeout time.Duration) (*Scope, error) {
	conn, err := vicp.Dial(addr, timeout)
	if err != nil {
		return nil, err
	}

	s := &Scope{conn: conn, addr: addr}
	if err = s.Send("CHDR ON"); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *Scope) Close() error {
	return s.conn.Close()
}

// Send issues a command without awaiting a reply.
func (s *Scope) Send(cmd string) error {
	log.Debugf("scope <- %s", cmd)
	return s.conn.SendCommand(cmd)
}

// Query issues a query and returns the raw reply.
func (s *Scope) Query(cmd string) ([]byte, error) {
	if err := s.Send(cmd); err != nil {
		return nil, err
	}
	resp, err := s.conn.Recv()
	if err != nil {
		return nil, fmt.Errorf("query %q: %w", cmd, err)
	}
	return resp, nil
}

// Clear aborts whatever the scope is doing and flushes the link.
func (s *Scope) Clear() error {
	log.Debugf("scope <- device clear")
	return s.conn.Clear()
}

// cmrMessages per the remote control manual's command error register.
var cmrMessages = map[int]string{
	1: "unrecognized command/query header",
	2: "illegal header path",
	3: "illegal number",
	4: "illegal number suffix",
	5: "unrecognized keyword",
	6: "string error",
	7: "GET embedded in another message",
	8: "arbitrary data block expected",
	9: "non-digit character in byte count field of arbitrary data block",
}

// CheckLastCommand queries the command error register and reports a
// non-zero code as an error.
func (s *Scope) CheckLastCommand() error {
	resp, err := s.Query("CMR?")
	if err != nil {
		return err
	}

	code, err := strconv.Atoi(lastField(string(resp)))
	if err != nil {
		return fmt.Errorf("scope: unparsable CMR reply %q", resp)
	}
	if code == 0 {
		return nil
	}

	msg, ok := cmrMessages[code]
	if !ok {
		msg = "unknown command error"
	}
	return fmt.Errorf("scope: last command failed: %s (CMR %d)", msg, code)
}

// lastField strips a command header and surrounding space from a reply,
// e.g. "CMR 0" -> "0".
func lastField(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexAny(s, " \t"); i >= 0 {
		s = s[i+1:]
	}
	return s
}

// Settings reads back the setup state of the scope.
func (s *Scope) Settings() (Settings, error) {
	out := make(Settings, len(settingQueries))
	for _, q := range settingQueries {
		resp, err := s.Query(q + "?")
		if err != nil {
			return nil, err
		}
		out[q] = strings.TrimSpace(string(resp))
	}
	return out, nil
}

// Apply resends captured settings to the scope, verifying each one.
func (s *Scope) Apply(settings Settings) error {
	for _, q := range settingQueries {
		cmd, ok := settings[q]
		if !ok || cmd == "" {
			continue
		}
		if err := s.Send(cmd); err != nil {
			return err
		}
		if err := s.CheckLastCommand(); err != nil {
			return fmt.Errorf("applying %q: %w", cmd, err)
		}
	}
	return nil
}

// SequenceCount reports the number of traces per acquisition from a
// settings snapshot. It is 1 when sequence mode is off.
func (settings Settings) SequenceCount() int {
	seq, ok := settings["SEQUENCE"]
	if !ok || !strings.Contains(seq, "ON") {
		return 1
	}

	parts := strings.Split(seq, ",")
	if len(parts) < 2 {
		return 1
	}
	n, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil || n < 1 {
		return 1
	}
	return n
}

// SetSequenceMode configures the scope for n traces per acquisition,
// or turns sequence mode off for n <= 1.
func (s *Scope) SetSequenceMode(n int) error {
	var cmd string
	if n <= 1 {
		cmd = "SEQ OFF"
	} else {
		cmd = fmt.Sprintf("SEQ ON,%d", n)
	}
	if err := s.Send(cmd); err != nil {
		return err
	}
	return s.CheckLastCommand()
}

// Enable16Bit selects 16 bit (word) binary waveform transfer.
func (s *Scope) Enable16Bit() error {
	if err := s.Send("CFMT DEF9,WORD,BIN"); err != nil {
		return err
	}
	return s.CheckLastCommand()
}

// ActiveChannels reports the input channels whose trace display is on.
func (s *Scope) ActiveChannels() ([]int, error) {
	var active []int
	for ch := 1; ch <= MaxChannels; ch++ {
		resp, err := s.Query(fmt.Sprintf("C%d:TRACE?", ch))
		if err != nil {
			return nil, err
		}
		if strings.Contains(string(resp), "ON") {
			active = append(active, ch)
		}
	}
	return active, nil
}

// Trigger arms the scope for a single acquisition and blocks until it
// has completed.
func (s *Scope) Trigger() error {
	if err := s.Send("TRMD SINGLE"); err != nil {
		return err
	}
	if err := s.Send("WAIT"); err != nil {
		return err
	}
	// *OPC? only returns once the armed acquisition has finished.
	resp, err := s.Query("*OPC?")
	if err != nil {
		return err
	}
	if lastField(string(resp)) != "1" {
		return fmt.Errorf("scope: unexpected *OPC? reply %q", resp)
	}
	return nil
}

// WaveDesc fetches and parses the waveform descriptor of a channel.
func (s *Scope) WaveDesc(ch int) (*WaveDesc, error) {
	resp, err := s.Query(fmt.Sprintf("C%d:WF? DESC", ch))
	if err != nil {
		return nil, err
	}
	desc, _, err := ParseWaveDesc(resp)
	if err != nil {
		return nil, fmt.Errorf("channel %d: %w", ch, err)
	}
	return desc, nil
}

// Waveform is one channel's data from a completed acquisition.
type Waveform struct {
	Desc *WaveDesc

	// Timing holds one entry per segment in sequence mode. It is empty
	// for single-trace acquisitions.
	Timing []SegmentTiming

	// Samples are the raw ADC values of all segments, flattened.
	// Byte-wide transfers are widened to int16.
	Samples []int16
}

// Waveform fetches a channel's full waveform: descriptor, per-segment
// trigger timing and the raw sample array.
func (s *Scope) Waveform(ch int) (*Waveform, error) {
	resp, err := s.Query(fmt.Sprintf("C%d:WF? ALL", ch))
	if err != nil {
		return nil, err
	}

	desc, block, err := ParseWaveDesc(resp)
	if err != nil {
		return nil, fmt.Errorf("channel %d: %w", ch, err)
	}

	trigStart := int(desc.DescLength) + int(desc.UserTextLen)
	dataStart := trigStart + int(desc.TrigTimeLen)
	if len(block) < dataStart {
		return nil, fmt.Errorf("channel %d: waveform block truncated before sample data", ch)
	}

	timing, err := parseTrigTimes(block[trigStart:dataStart], desc.ByteOrder())
	if err != nil {
		return nil, fmt.Errorf("channel %d: %w", ch, err)
	}

	samples, err := parseSamples(block[dataStart:], desc)
	if err != nil {
		return nil, fmt.Errorf("channel %d: %w", ch, err)
	}

	return &Waveform{Desc: desc, Timing: timing, Samples: samples}, nil
}

// SetDisplay turns the scope screen on or off.
func (s *Scope) SetDisplay(on bool) error {
	state := "OFF"
	if on {
		state = "ON"
	}
	if err := s.Send("DISP " + state); err != nil {
		return err
	}
	return s.CheckLastCommand()
}

// Volts converts a raw ADC value using the descriptor's vertical scale.
func (d *WaveDesc) Volts(adc int16) float64 {
	return d.VerticalGain*float64(adc) - d.VerticalOffset
}
