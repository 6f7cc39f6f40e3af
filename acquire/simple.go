package acquire

import (
	"context"
	"fmt"
	"time"

	"github.com/RoanBrand/ScopeCapture/log"
	"github.com/RoanBrand/ScopeCapture/tracefile"
)

// RunSimple captures events storing voltage-converted samples together with
// a computed time axis per segment. Files are larger and capture is slower
// than Run, but the result is trivial to plot.
func RunSimple(ctx context.Context, s Scope, w *tracefile.Writer, opts Options, tr *Tracker) (int, error) {
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
	log.Progress("Channels: %v\n", channels)

	writeSettingsAttrs(w, settings)

	currentDim := make(map[int]int, len(channels))
	for _, ch := range channels {
		desc, err := s.WaveDesc(ch)
		if err != nil {
			return 0, err
		}
		currentDim[ch] = int(desc.WaveArrayCount) / seqCount

		attrs := descAttrs(desc)
		if err = w.CreateDataset(fmt.Sprintf("c%d_samples", ch), tracefile.Float64, opts.Events, currentDim[ch], attrs); err != nil {
			return 0, err
		}
		if err = w.CreateDataset(fmt.Sprintf("c%d_time", ch), tracefile.Float64, opts.Events, currentDim[ch], nil); err != nil {
			return 0, err
		}
		if err = w.CreateDataset(fmt.Sprintf("c%d_trig_time", ch), tracefile.Float64, opts.Events, 1, nil); err != nil {
			return 0, err
		}
	}

	tr.begin(opts.Events, channels, settings)
	defer tr.end()

	i := 0
	startTime := time.Now()

	for i < opts.Events {
		if ctx.Err() != nil {
			log.Progress("\rUser interrupted fetch early\n")
			break
		}
		log.Progress("\rfetching event: %d", i)

		if err = captureEventSimple(s, w, i, seqCount, channels, currentDim); err != nil {
			log.Println("Error:", err)
			tr.fail(err)
			if cerr := s.Clear(); cerr != nil {
				return i, fmt.Errorf("clearing scope after %v: %v", err, cerr)
			}
			continue
		}

		i += seqCount
		tr.progress(i)
	}

	if !opts.Quiet && i > 0 {
		elapsed := time.Since(startTime)
		log.Progress("\rCompleted %d events in %.3f seconds.\n", i, elapsed.Seconds())
		log.Progress("Averaged %.5f seconds per acquisition.\n", elapsed.Seconds()/float64(i))
	}
	return i, nil
}

func captureEventSimple(s Scope, w *tracefile.Writer, i, seqCount int, channels []int,
	currentDim map[int]int) error {

	if err := s.Trigger(); err != nil {
		return err
	}

	for _, ch := range channels {
		wf, err := s.Waveform(ch)
		if err != nil {
			return err
		}

		desc := wf.Desc
		numSamples := int(desc.WaveArrayCount) / seqCount

		samplesName := fmt.Sprintf("c%d_samples", ch)
		timeName := fmt.Sprintf("c%d_time", ch)
		if currentDim[ch] < numSamples {
			currentDim[ch] = numSamples
			if err = w.Resize(samplesName, numSamples); err != nil {
				return err
			}
			if err = w.Resize(timeName, numSamples); err != nil {
				return err
			}
		}

		volts := make([]float64, numSamples)
		for n := 0; n < seqCount; n++ {
			seg := wf.Samples[n*numSamples : (n+1)*numSamples]
			for j, adc := range seg {
				volts[j] = desc.Volts(adc)
			}
			if err = w.WriteRowFloat64(samplesName, i+n, volts); err != nil {
				return err
			}

			trigOffset := desc.HorizOffset
			if n < len(wf.Timing) {
				trigOffset = wf.Timing[n].TriggerOffset
			}
			if err = w.WriteRowFloat64(timeName, i+n, timeAxis(trigOffset, desc.HorizInterval, numSamples)); err != nil {
				return err
			}

			if n < len(wf.Timing) {
				if err = w.WriteValue(fmt.Sprintf("c%d_trig_time", ch), i+n, wf.Timing[n].TriggerTime); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// timeAxis computes the sample times of one segment, evenly spaced from the
// trigger offset to the end of the capture window.
func timeAxis(trigOffset, interval float64, n int) []float64 {
	out := make([]float64, n)
	if n == 1 {
		out[0] = trigOffset
		return out
	}

	stop := interval*float64(n-1) - trigOffset
	step := (stop - trigOffset) / float64(n-1)
	for i := range out {
		out[i] = trigOffset + float64(i)*step
	}
	return out
}
