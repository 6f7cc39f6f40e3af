package acquire

import (
	"context"

	"github.com/RoanBrand/ScopeCapture/log"
	"github.com/RoanBrand/ScopeCapture/scope"
)

// MeasureRate acquires events without storing waveforms and reports the
// average trigger rate per channel in Hz. Sequence mode with many traces
// per acquisition gives the best estimate.
func MeasureRate(ctx context.Context, s Scope, opts Options) (map[int]float64, int, error) {
	_, seqCount, err := setup(s, opts)
	if err != nil {
		return nil, 0, err
	}
	if seqCount != 1 {
		log.Progress("Using sequence mode with %d traces per aquisition\n", seqCount)
	}

	channels, err := s.ActiveChannels()
	if err != nil {
		return nil, 0, err
	}
	if len(channels) == 0 {
		return nil, 0, ErrNoActiveChannels
	}

	sums := make(map[int]float64, len(channels))
	counts := make(map[int]int, len(channels))

	i := 0
	for i < opts.Events {
		if ctx.Err() != nil {
			log.Progress("\rUser interrupted fetch early\n")
			break
		}
		log.Progress("\rStarting acquisition of %d triggers", i)

		if err = s.Trigger(); err != nil {
			log.Println("Error:", err)
			if cerr := s.Clear(); cerr != nil {
				return nil, i, cerr
			}
			continue
		}

		failed := false
		for _, ch := range channels {
			wf, err := s.Waveform(ch)
			if err != nil {
				log.Println("Error:", err)
				failed = true
				break
			}

			if r, ok := triggerRate(wf.Desc.AcqDuration, seqCount, wf.Timing); ok {
				sums[ch] += r
				counts[ch]++
			}
		}
		if failed {
			if cerr := s.Clear(); cerr != nil {
				return nil, i, cerr
			}
			continue
		}

		i += seqCount
	}

	rates := make(map[int]float64, len(channels))
	for _, ch := range channels {
		if counts[ch] > 0 {
			rates[ch] = sums[ch] / float64(counts[ch])
		}
	}
	return rates, i, nil
}

// triggerRate estimates the trigger rate of one acquisition, preferring the
// mean spacing of the per-segment trigger times over the coarser
// acquisition duration.
func triggerRate(acqDuration float64, seqCount int, timing []scope.SegmentTiming) (float64, bool) {
	if len(timing) > 1 {
		span := timing[len(timing)-1].TriggerTime - timing[0].TriggerTime
		if span > 0 {
			return float64(len(timing)-1) / span, true
		}
	}
	if acqDuration > 0 {
		return float64(seqCount) / acqDuration, true
	}
	return 0, false
}
