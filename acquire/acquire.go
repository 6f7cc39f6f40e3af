// Package acquire runs waveform capture loops against a LeCroy scope and
// stores the results to a trace file.
package acquire

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/RoanBrand/ScopeCapture/log"
	"github.com/RoanBrand/ScopeCapture/scope"
	"github.com/RoanBrand/ScopeCapture/tracefile"
)

// Scope is the part of the scope client the capture loops use.
type Scope interface {
	Clear() error
	Settings() (scope.Settings, error)
	SetSequenceMode(n int) error
	Enable16Bit() error
	ActiveChannels() ([]int, error)
	Trigger() error
	WaveDesc(ch int) (*scope.WaveDesc, error)
	Waveform(ch int) (*scope.Waveform, error)
}

type Options struct {
	Events     int  // total events to capture
	Sequence   int  // traces per acquisition
	SixteenBit bool // force 16 bit sample transfer
	Quiet      bool // no progress or summary output
}

var ErrNoActiveChannels = errors.New("acquire: no active channels on scope")

// setup puts the scope in the requested acquisition mode and returns the
// settings snapshot and the effective sequence count.
func setup(s Scope, opts Options) (scope.Settings, int, error) {
	log.Infof("Setting scope settings...")
	if err := s.Clear(); err != nil {
		return nil, 0, err
	}
	if err := s.SetSequenceMode(opts.Sequence); err != nil {
		return nil, 0, err
	}
	log.Infof("Mode set to %d sequences", opts.Sequence)

	if opts.SixteenBit {
		if err := s.Enable16Bit(); err != nil {
			return nil, 0, err
		}
		log.Infof("Scope configured to 16bits mode")
	}

	// Read the settings again to check the scope is in the proper mode.
	settings, err := s.Settings()
	if err != nil {
		return nil, 0, err
	}

	seqCount := settings.SequenceCount()
	if seqCount != opts.Sequence {
		log.Println("Could not configure sequence mode properly")
	}
	log.Infof("Scope setting completed")
	return settings, seqCount, nil
}

// descAttrs renders waveform descriptor fields as dataset attributes.
func descAttrs(d *scope.WaveDesc) map[string]string {
	return map[string]string{
		"descriptor_name":  d.DescriptorName,
		"template_name":    d.TemplateName,
		"instrument_name":  d.InstrumentName,
		"comm_type":        strconv.Itoa(int(d.CommType)),
		"comm_order":       strconv.Itoa(int(d.CommOrder)),
		"wave_array_count": strconv.Itoa(int(d.WaveArrayCount)),
		"wave_array_1":     strconv.Itoa(int(d.WaveArray1Len)),
		"subarray_count":   strconv.Itoa(int(d.SubarrayCount)),
		"nominal_bits":     strconv.Itoa(int(d.NominalBits)),
		"vertical_gain":    strconv.FormatFloat(d.VerticalGain, 'g', -1, 64),
		"vertical_offset":  strconv.FormatFloat(d.VerticalOffset, 'g', -1, 64),
		"horiz_interval":   strconv.FormatFloat(d.HorizInterval, 'g', -1, 64),
		"horiz_offset":     strconv.FormatFloat(d.HorizOffset, 'g', -1, 64),
		"acq_duration":     strconv.FormatFloat(d.AcqDuration, 'g', -1, 64),
		"record_type":      strconv.Itoa(int(d.RecordType)),
		"processing_done":  strconv.Itoa(int(d.ProcessingDone)),
	}
}

func writeSettingsAttrs(w *tracefile.Writer, settings scope.Settings) {
	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		w.SetAttr(k, settings[k])
	}
}

func sampleDType(d *scope.WaveDesc) tracefile.DType {
	if d.SampleSize() == 2 {
		return tracefile.Int16
	}
	return tracefile.Int8
}

func writeSamplesRow(w *tracefile.Writer, name string, dt tracefile.DType, row int, vals []int16) error {
	if dt == tracefile.Int8 {
		b := make([]int8, len(vals))
		for i, v := range vals {
			b[i] = int8(v)
		}
		return w.WriteRowInt8(name, row, b)
	}
	return w.WriteRowInt16(name, row, vals)
}

// perEventSets are the per-event scalar datasets kept for every channel.
var perEventSets = []string{
	"vert_offset", "vert_scale", "horiz_offset", "horiz_scale", "trig_offset", "trig_time",
}

// Run captures opts.Events events into w, storing raw ADC samples together
// with everything needed to reconstruct the waveforms. It is faster than
// RunSimple but files need a little more code to analyze.
//
// Events captured before a cancellation or an unrecoverable error remain
// stored; the number of completed events is returned.
func Run(ctx context.Context, s Scope, w *tracefile.Writer, opts Options, tr *Tracker) (int, error) {
	settings, seqCount, err := setup(s, opts)
	if err != nil {
		return 0, err
	}
	if seqCount != 1 {
		log.Progress("Using sequence mode with %d traces per aquisition\n", seqCount)
	}

	channels, err := s.ActiveChannels()
	if err != nil {
		return 0, err
	}
	if len(channels) == 0 {
		return 0, ErrNoActiveChannels
	}
	log.Infof("Active channels %v", channels)
	log.Progress("Active channels: %v\n", channels)

	writeSettingsAttrs(w, settings)

	currentDim := make(map[int]int, len(channels))
	dtypes := make(map[int]tracefile.DType, len(channels))
	lastDesc := make(map[int]*scope.WaveDesc, len(channels))

	for _, ch := range channels {
		desc, err := s.WaveDesc(ch)
		if err != nil {
			return 0, err
		}

		currentDim[ch] = int(desc.WaveArrayCount) / seqCount
		dtypes[ch] = sampleDType(desc)

		name := fmt.Sprintf("c%d_samples", ch)
		if err = w.CreateDataset(name, dtypes[ch], opts.Events, currentDim[ch], descAttrs(desc)); err != nil {
			return 0, err
		}
		for _, suffix := range perEventSets {
			if err = w.CreateDataset(fmt.Sprintf("c%d_%s", ch, suffix), tracefile.Float64, opts.Events, 1, nil); err != nil {
				return 0, err
			}
		}
	}
	if err = w.CreateDataset("seconds_from_start", tracefile.Float64, opts.Events, 1, nil); err != nil {
		return 0, err
	}
	log.Infof("Created datasets with attributes for all channels")

	tr.begin(opts.Events, channels, settings)
	defer tr.end()

	i := 0
	startTime := time.Now()

	for i < opts.Events {
		if ctx.Err() != nil {
			log.Progress("\rUser interrupted fetch early\n")
			break
		}

		if seqCount == 1 {
			log.Progress("\rSCOPE: fetching event: %d", i)
		} else {
			log.Progress("\rSCOPE: fetching events: %d..%d", i, i+seqCount)
		}

		fromStart := time.Since(startTime).Seconds()
		log.Infof("Event %d, from start of acquisition %.3f seconds", i, fromStart)
		if err = w.WriteValue("seconds_from_start", i, fromStart); err != nil {
			return i, err
		}

		if err = captureEvent(s, w, i, seqCount, channels, currentDim, dtypes, lastDesc); err != nil {
			log.Println("Error:", err)
			tr.fail(err)
			if cerr := s.Clear(); cerr != nil {
				return i, fmt.Errorf("clearing scope after %v: %v", err, cerr)
			}
			continue
		}

		i += seqCount
		tr.progress(i)
		for _, ch := range channels {
			tr.addBytes(ch, int64(currentDim[ch]*seqCount*dtypes[ch].Size()))
		}
	}

	if !opts.Quiet && i > 0 {
		printSummary(w, i, seqCount, channels, currentDim, lastDesc, time.Since(startTime))
	}
	return i, nil
}

// captureEvent triggers one acquisition and stores all channels' data at
// event index i. Any error leaves the event incomplete so it can be retried.
func captureEvent(s Scope, w *tracefile.Writer, i, seqCount int, channels []int,
	currentDim map[int]int, dtypes map[int]tracefile.DType, lastDesc map[int]*scope.WaveDesc) error {

	if err := s.Trigger(); err != nil {
		return err
	}
	log.Infof("Acquiring data for event %d", i)

	for _, ch := range channels {
		log.Infof("Asking scope for channel %d data", ch)
		before := time.Now()
		wf, err := s.Waveform(ch)
		if err != nil {
			return err
		}
		log.Infof("Data ready, took %.3f s", time.Since(before).Seconds())

		desc := wf.Desc
		lastDesc[ch] = desc
		numSamples := int(desc.WaveArrayCount) / seqCount
		name := fmt.Sprintf("c%d_samples", ch)

		if currentDim[ch] < numSamples {
			currentDim[ch] = numSamples
			if err = w.Resize(name, numSamples); err != nil {
				return err
			}
		}

		for n := 0; n < seqCount; n++ {
			row := wf.Samples[n*numSamples : (n+1)*numSamples]
			if err = writeSamplesRow(w, name, dtypes[ch], i+n, row); err != nil {
				return err
			}
			if err = w.WriteValue(fmt.Sprintf("c%d_vert_offset", ch), i+n, desc.VerticalOffset); err != nil {
				return err
			}
			if err = w.WriteValue(fmt.Sprintf("c%d_vert_scale", ch), i+n, desc.VerticalGain); err != nil {
				return err
			}
			if err = w.WriteValue(fmt.Sprintf("c%d_horiz_offset", ch), i+n, desc.HorizOffset); err != nil {
				return err
			}
			if err = w.WriteValue(fmt.Sprintf("c%d_horiz_scale", ch), i+n, desc.HorizInterval); err != nil {
				return err
			}
			// Trigger offsets and times may not be available in
			// single trace mode.
			if n < len(wf.Timing) {
				if err = w.WriteValue(fmt.Sprintf("c%d_trig_offset", ch), i+n, wf.Timing[n].TriggerOffset); err != nil {
					return err
				}
				if err = w.WriteValue(fmt.Sprintf("c%d_trig_time", ch), i+n, wf.Timing[n].TriggerTime); err != nil {
					return err
				}
			}
		}
		log.Infof("Channel %d data packed", ch)
	}
	return nil
}

func printSummary(w *tracefile.Writer, events, seqCount int, channels []int,
	currentDim map[int]int, lastDesc map[int]*scope.WaveDesc, elapsed time.Duration) {

	log.Progress("\rCompleted %d events in %.3f seconds.\n", events, elapsed.Seconds())
	log.Progress("Averaged %.5f seconds per event.\n", elapsed.Seconds()/float64(events))

	for _, ch := range channels {
		numSamples := currentDim[ch]
		datapoints := numSamples * seqCount
		log.Progress("Channel %d:\n", ch)
		log.Progress("\t %d (#seq)\n", seqCount)
		log.Progress("\t %d == %s (#samples)\n", numSamples, SIValue(float64(numSamples)))
		log.Progress("\t %d == %s (#datapoints)\n", datapoints, SIValue(float64(datapoints)))
		log.Progress("\t %d == %d x %d\n", datapoints, seqCount, numSamples)

		d := lastDesc[ch]
		if d == nil {
			continue
		}
		log.Progress("\t size of %d sequences: %s\n", seqCount, HumanBytes(int64(d.WaveArray1Len)))
		log.Progress("\t sequence length %ss\n", SIValue(float64(numSamples)*d.HorizInterval))
		log.Progress("\t horizontal: interval %ss, freq %sHz, offset %ss\n",
			SIValue(d.HorizInterval), SIValue(1/d.HorizInterval), SIValue(d.HorizOffset))
		log.Progress("\t   vertical: gain %sV, offset %sV\n",
			SIValue(d.VerticalGain), SIValue(d.VerticalOffset))
	}
	log.Progress("Data written: %s\n", HumanBytes(w.BytesWritten()))
}
