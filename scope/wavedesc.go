package scope

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

// WaveDesc holds the fields of the LeCroy WAVEDESC descriptor block that
// precedes every waveform transfer. Offsets follow the scope's waveform
// template; all numerics after COMM_ORDER use the byte order it selects.
type WaveDesc struct {
	DescriptorName string
	TemplateName   string
	CommType       uint16 // 0: byte samples, 1: word samples
	CommOrder      uint16 // 0: big-endian, 1: little-endian
	DescLength     int32  // length of this descriptor block
	UserTextLen    int32
	TrigTimeLen    int32 // length in bytes of the TRIGTIME array
	WaveArray1Len  int32 // length in bytes of the first sample array
	InstrumentName string
	WaveArrayCount int32 // total samples across all segments
	SubarrayCount  int32 // segments in this acquisition
	VerticalGain   float64
	VerticalOffset float64
	MaxValue       float64
	MinValue       float64
	NominalBits    int16
	HorizInterval  float64
	HorizOffset    float64
	TriggerTime    time.Time
	AcqDuration    float64
	RecordType     uint16
	ProcessingDone uint16
}

const (
	waveDescSize = 346

	offCommType       = 32
	offCommOrder      = 34
	offDescLength     = 36
	offUserTextLen    = 40
	offTrigTimeLen    = 48
	offWaveArray1Len  = 60
	offInstrumentName = 76
	offWaveArrayCount = 116
	offSubarrayCount  = 144
	offVerticalGain   = 156
	offVerticalOffset = 160
	offMaxValue       = 164
	offMinValue       = 168
	offNominalBits    = 172
	offHorizInterval  = 176
	offHorizOffset    = 180
	offTriggerTime    = 296
	offAcqDuration    = 312
	offRecordType     = 316
	offProcessingDone = 318
)

var waveDescMagic = []byte("WAVEDESC")

var (
	ErrNoWaveDesc = errors.New("scope: no WAVEDESC block in response")
	ErrShortDesc  = errors.New("scope: truncated WAVEDESC block")
	ErrBadDesc    = errors.New("scope: invalid WAVEDESC block")
)

// ByteOrder returns the byte order the scope used for this transfer.
func (d *WaveDesc) ByteOrder() binary.ByteOrder {
	if d.CommOrder == 1 {
		return binary.LittleEndian
	}
	return binary.BigEndian
}

// SampleSize returns the width in bytes of one sample.
func (d *WaveDesc) SampleSize() int {
	if d.CommType == 1 {
		return 2
	}
	return 1
}

func cstr(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(bytes.TrimSpace(b))
}

// ParseWaveDesc locates the WAVEDESC block inside a raw query response and
// parses it. It returns the descriptor and the response trimmed to start at
// the descriptor, so sample data can be addressed by template offsets.
func ParseWaveDesc(resp []byte) (*WaveDesc, []byte, error) {
	start := bytes.Index(resp, waveDescMagic)
	if start < 0 {
		return nil, nil, ErrNoWaveDesc
	}
	block := resp[start:]
	if len(block) < waveDescSize {
		return nil, nil, fmt.Errorf("%w: %d bytes", ErrShortDesc, len(block))
	}

	d := &WaveDesc{
		DescriptorName: cstr(block[0:16]),
		TemplateName:   cstr(block[16:32]),
		InstrumentName: cstr(block[offInstrumentName : offInstrumentName+16]),
	}

	// COMM_ORDER governs the endianness of everything that follows it,
	// including itself. A little-endian read of a valid value (0 or 1)
	// exceeding 1 means the field was written big-endian.
	d.CommOrder = binary.LittleEndian.Uint16(block[offCommOrder:])
	if d.CommOrder > 1 {
		d.CommOrder = 0
	}
	bo := d.ByteOrder()

	d.CommType = bo.Uint16(block[offCommType:])
	d.DescLength = int32(bo.Uint32(block[offDescLength:]))
	d.UserTextLen = int32(bo.Uint32(block[offUserTextLen:]))
	d.TrigTimeLen = int32(bo.Uint32(block[offTrigTimeLen:]))
	d.WaveArray1Len = int32(bo.Uint32(block[offWaveArray1Len:]))
	d.WaveArrayCount = int32(bo.Uint32(block[offWaveArrayCount:]))
	d.SubarrayCount = int32(bo.Uint32(block[offSubarrayCount:]))
	d.VerticalGain = float64(math.Float32frombits(bo.Uint32(block[offVerticalGain:])))
	d.VerticalOffset = float64(math.Float32frombits(bo.Uint32(block[offVerticalOffset:])))
	d.MaxValue = float64(math.Float32frombits(bo.Uint32(block[offMaxValue:])))
	d.MinValue = float64(math.Float32frombits(bo.Uint32(block[offMinValue:])))
	d.NominalBits = int16(bo.Uint16(block[offNominalBits:]))
	d.HorizInterval = float64(math.Float32frombits(bo.Uint32(block[offHorizInterval:])))
	d.HorizOffset = math.Float64frombits(bo.Uint64(block[offHorizOffset:]))
	d.AcqDuration = float64(math.Float32frombits(bo.Uint32(block[offAcqDuration:])))
	d.RecordType = bo.Uint16(block[offRecordType:])
	d.ProcessingDone = bo.Uint16(block[offProcessingDone:])

	d.TriggerTime = parseTriggerTime(block[offTriggerTime:offTriggerTime+16], bo)

	// A garbled transfer can put anything in the length fields. Reject
	// negatives here so downstream slicing can trust them.
	if d.DescLength < 0 || d.UserTextLen < 0 || d.TrigTimeLen < 0 ||
		d.WaveArray1Len < 0 || d.WaveArrayCount < 0 || d.SubarrayCount < 0 {
		return nil, nil, fmt.Errorf("%w: negative length field", ErrBadDesc)
	}

	if d.DescLength < waveDescSize {
		d.DescLength = waveDescSize
	}

	return d, block, nil
}

// parseTriggerTime decodes the template's time_stamp: double seconds then
// minutes, hours, days, months as int8 and the year as int16.
func parseTriggerTime(b []byte, bo binary.ByteOrder) time.Time {
	secs := math.Float64frombits(bo.Uint64(b[0:8]))
	min := int(b[8])
	hour := int(b[9])
	day := int(b[10])
	month := time.Month(b[11])
	year := int(bo.Uint16(b[12:14]))

	if year == 0 {
		return time.Time{}
	}

	whole := int(secs)
	nanos := int((secs - float64(whole)) * 1e9)
	return time.Date(year, month, day, hour, min, whole, nanos, time.UTC)
}

// SegmentTiming is the per-segment entry of the TRIGTIME array.
type SegmentTiming struct {
	TriggerTime   float64 // seconds since first trigger of the sequence
	TriggerOffset float64 // seconds between trigger and first sample
}

// parseTrigTimes decodes the TRIGTIME array that follows the descriptor in
// sequence mode. It is empty for single-trace acquisitions.
func parseTrigTimes(b []byte, bo binary.ByteOrder) ([]SegmentTiming, error) {
	const entrySize = 16
	if len(b)%entrySize != 0 {
		return nil, fmt.Errorf("scope: TRIGTIME array length %d not a multiple of %d", len(b), entrySize)
	}

	out := make([]SegmentTiming, len(b)/entrySize)
	for i := range out {
		e := b[i*entrySize:]
		out[i].TriggerTime = math.Float64frombits(bo.Uint64(e[0:8]))
		out[i].TriggerOffset = math.Float64frombits(bo.Uint64(e[8:16]))
	}
	return out, nil
}

// parseSamples decodes the raw sample array into int16 values. Byte-wide
// samples are widened; the descriptor records the native width.
func parseSamples(b []byte, d *WaveDesc) ([]int16, error) {
	ss := d.SampleSize()
	n := int(d.WaveArrayCount)
	if len(b) < n*ss {
		return nil, fmt.Errorf("scope: sample array has %d bytes, need %d", len(b), n*ss)
	}

	out := make([]int16, n)
	if ss == 1 {
		for i := 0; i < n; i++ {
			out[i] = int16(int8(b[i]))
		}
		return out, nil
	}

	bo := d.ByteOrder()
	for i := 0; i < n; i++ {
		out[i] = int16(bo.Uint16(b[i*2:]))
	}
	return out, nil
}
