package scope

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// descParams drives the synthetic WAVEDESC blocks used across the package
// tests.
type descParams struct {
	littleEndian bool
	wordSamples  bool
	segments     int
	samples      int // per segment
	vertGain     float32
	vertOffset   float32
	horizInt     float32
	horizOffset  float64
	acqDuration  float32
	timing       []SegmentTiming
	data         []int16
}

func (p *descParams) byteOrder() binary.ByteOrder {
	if p.littleEndian {
		return binary.LittleEndian
	}
	return binary.BigEndian
}

// buildWaveform renders a complete C<n>:WF? ALL response body: descriptor,
// TRIGTIME array and sample data, prefixed with the textual header a scope
// sends before the binary block.
func buildWaveform(t *testing.T, p descParams) []byte {
	t.Helper()

	bo := p.byteOrder()
	sampleSize := 1
	if p.wordSamples {
		sampleSize = 2
	}
	total := p.segments * p.samples
	require.Equal(t, total, len(p.data), "bad test setup: data length")

	desc := make([]byte, waveDescSize)
	copy(desc[0:], "WAVEDESC")
	copy(desc[16:], "LECROY_2_3")
	copy(desc[offInstrumentName:], "LECROYHDO4054")

	putU16 := func(off int, v uint16) { bo.PutUint16(desc[off:], v) }
	putU32 := func(off int, v uint32) { bo.PutUint32(desc[off:], v) }
	putF32 := func(off int, v float32) { bo.PutUint32(desc[off:], math.Float32bits(v)) }
	putF64 := func(off int, v float64) { bo.PutUint64(desc[off:], math.Float64bits(v)) }

	if p.wordSamples {
		putU16(offCommType, 1)
	}
	if p.littleEndian {
		putU16(offCommOrder, 1)
	}
	putU32(offDescLength, waveDescSize)
	putU32(offTrigTimeLen, uint32(len(p.timing)*16))
	putU32(offWaveArray1Len, uint32(total*sampleSize))
	putU32(offWaveArrayCount, uint32(total))
	putU32(offSubarrayCount, uint32(p.segments))
	putF32(offVerticalGain, p.vertGain)
	putF32(offVerticalOffset, p.vertOffset)
	putU16(offNominalBits, 12)
	putF32(offHorizInterval, p.horizInt)
	putF64(offHorizOffset, p.horizOffset)
	putF32(offAcqDuration, p.acqDuration)

	// trigger_time: 14:30:05.25 on 2021-06-17
	putF64(offTriggerTime, 5.25)
	desc[offTriggerTime+8] = 30
	desc[offTriggerTime+9] = 14
	desc[offTriggerTime+10] = 17
	desc[offTriggerTime+11] = 6
	bo.PutUint16(desc[offTriggerTime+12:], 2021)

	out := append([]byte("C1:WF ALL,#9000000000"), desc...)

	for _, tt := range p.timing {
		var e [16]byte
		bo.PutUint64(e[0:], math.Float64bits(tt.TriggerTime))
		bo.PutUint64(e[8:], math.Float64bits(tt.TriggerOffset))
		out = append(out, e[:]...)
	}

	for _, v := range p.data {
		if p.wordSamples {
			var e [2]byte
			bo.PutUint16(e[:], uint16(v))
			out = append(out, e[:]...)
		} else {
			out = append(out, byte(int8(v)))
		}
	}

	return out
}

func rampData(n int) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(i - n/2)
	}
	return out
}

func TestParseWaveDescBothByteOrders(t *testing.T) {
	for _, le := range []bool{true, false} {
		p := descParams{
			littleEndian: le,
			wordSamples:  true,
			segments:     1,
			samples:      100,
			vertGain:     2.5e-4,
			vertOffset:   0.75,
			horizInt:     5e-10,
			horizOffset:  -2.5e-8,
			acqDuration:  1.5,
			data:         rampData(100),
		}
		resp := buildWaveform(t, p)

		desc, block, err := ParseWaveDesc(resp)
		require.NoError(t, err)
		require.NotNil(t, block)

		assert.Equal(t, "WAVEDESC", desc.DescriptorName)
		assert.Equal(t, "LECROY_2_3", desc.TemplateName)
		assert.Equal(t, "LECROYHDO4054", desc.InstrumentName)
		assert.Equal(t, uint16(1), desc.CommType)
		assert.Equal(t, 2, desc.SampleSize())
		assert.Equal(t, int32(100), desc.WaveArrayCount)
		assert.Equal(t, int32(200), desc.WaveArray1Len)
		assert.InDelta(t, 2.5e-4, desc.VerticalGain, 1e-12)
		assert.InDelta(t, 0.75, desc.VerticalOffset, 1e-9)
		assert.InDelta(t, 5e-10, desc.HorizInterval, 1e-18)
		assert.InDelta(t, -2.5e-8, desc.HorizOffset, 1e-16)
		assert.InDelta(t, 1.5, desc.AcqDuration, 1e-6)
		assert.Equal(t, int16(12), desc.NominalBits)

		tt := desc.TriggerTime
		assert.Equal(t, 2021, tt.Year())
		assert.Equal(t, 17, tt.Day())
		assert.Equal(t, 14, tt.Hour())
		assert.Equal(t, 30, tt.Minute())
		assert.Equal(t, 5, tt.Second())
	}
}

func TestParseWaveDescErrors(t *testing.T) {
	_, _, err := ParseWaveDesc([]byte("C1:WF DESC,no binary block here"))
	assert.ErrorIs(t, err, ErrNoWaveDesc)

	_, _, err = ParseWaveDesc([]byte("garbage WAVEDESC too short"))
	assert.ErrorIs(t, err, ErrShortDesc)
}

func TestParseWaveDescRejectsNegativeLengths(t *testing.T) {
	corrupt := []struct {
		name string
		off  int
		val  int32
	}{
		{"trig_time_len", offTrigTimeLen, -16},
		{"wave_array_count", offWaveArrayCount, -8},
		{"user_text_len", offUserTextLen, -1},
		{"desc_length", offDescLength, -346},
	}
	for _, c := range corrupt {
		p := descParams{
			littleEndian: true,
			wordSamples:  true,
			segments:     1,
			samples:      10,
			data:         rampData(10),
		}
		resp := buildWaveform(t, p)

		start := bytes.Index(resp, []byte("WAVEDESC"))
		require.True(t, start >= 0)
		binary.LittleEndian.PutUint32(resp[start+c.off:], uint32(c.val))

		_, _, err := ParseWaveDesc(resp)
		assert.ErrorIs(t, err, ErrBadDesc, c.name)
	}
}

func TestParseTrigTimes(t *testing.T) {
	timing := []SegmentTiming{
		{TriggerTime: 0, TriggerOffset: -1e-8},
		{TriggerTime: 0.125, TriggerOffset: -1.5e-8},
		{TriggerTime: 0.25, TriggerOffset: -0.5e-8},
	}
	p := descParams{
		littleEndian: true,
		segments:     3,
		samples:      10,
		timing:       timing,
		data:         rampData(30),
	}
	resp := buildWaveform(t, p)

	desc, block, err := ParseWaveDesc(resp)
	require.NoError(t, err)

	start := int(desc.DescLength) + int(desc.UserTextLen)
	got, err := parseTrigTimes(block[start:start+int(desc.TrigTimeLen)], desc.ByteOrder())
	require.NoError(t, err)
	assert.Equal(t, timing, got)

	_, err = parseTrigTimes(make([]byte, 17), desc.ByteOrder())
	assert.Error(t, err)
}

func TestParseSamplesWidensBytes(t *testing.T) {
	data := []int16{-128, -1, 0, 1, 127}
	p := descParams{
		littleEndian: true,
		segments:     1,
		samples:      5,
		data:         data,
	}
	resp := buildWaveform(t, p)

	desc, block, err := ParseWaveDesc(resp)
	require.NoError(t, err)
	assert.Equal(t, 1, desc.SampleSize())

	start := int(desc.DescLength) + int(desc.UserTextLen) + int(desc.TrigTimeLen)
	got, err := parseSamples(block[start:], desc)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestVolts(t *testing.T) {
	d := &WaveDesc{VerticalGain: 0.001, VerticalOffset: 0.5}
	assert.InDelta(t, -0.5, d.Volts(0), 1e-12)
	assert.InDelta(t, 0.5, d.Volts(1000), 1e-12)
}
