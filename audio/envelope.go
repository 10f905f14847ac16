// Package audio derives timing information from a decoded music track: an
// RMS energy envelope, onset times for rhythm cuts, threshold crossings for
// energy cuts and sliding-window scores for highlight selection.
package audio

import (
	"math"
)

const (
	frameSeconds = 0.05
	hopSeconds   = 0.025
)

// Envelope is the RMS energy of a signal sampled every 1/Rate seconds.
type Envelope struct {
	Rate     float64
	Values   []float64
	Duration float64
}

// NewEnvelope computes frame RMS values over 50 ms frames with a 25 ms hop.
func NewEnvelope(samples []float32, sampleRate int) Envelope {
	if sampleRate <= 0 || len(samples) == 0 {
		return Envelope{}
	}
	frame := int(frameSeconds * float64(sampleRate))
	hop := int(hopSeconds * float64(sampleRate))
	if frame < 1 {
		frame = 1
	}
	if hop < 1 {
		hop = 1
	}

	var values []float64
	for start := 0; start < len(samples); start += hop {
		end := start + frame
		if end > len(samples) {
			end = len(samples)
		}
		values = append(values, rms(samples[start:end]))
		if end == len(samples) {
			break
		}
	}
	return Envelope{
		Rate:     float64(sampleRate) / float64(hop),
		Values:   values,
		Duration: float64(len(samples)) / float64(sampleRate),
	}
}

// Time returns the start time of frame i.
func (e Envelope) Time(i int) float64 {
	return float64(i) / e.Rate
}

func rms(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

func meanStd(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	var sq float64
	for _, v := range values {
		sq += (v - mean) * (v - mean)
	}
	return mean, math.Sqrt(sq / float64(len(values)))
}

// OnsetOptions tune peak picking. Zero values select the defaults.
type OnsetOptions struct {
	// Delta is added to the local mean; 0 means half the flux deviation.
	Delta float64
	// MinGap is the minimum spacing between onsets, default 0.1 s.
	MinGap float64
	// Window is the half width of the local mean, default 0.5 s.
	Window float64
}

// Onsets returns the times where the energy rises sharply: peaks of the
// positive energy flux that stand above the local average.
func Onsets(env Envelope, opts OnsetOptions) []float64 {
	n := len(env.Values)
	if n < 3 || env.Rate <= 0 {
		return nil
	}
	if opts.MinGap <= 0 {
		opts.MinGap = 0.1
	}
	if opts.Window <= 0 {
		opts.Window = 0.5
	}

	flux := make([]float64, n)
	for i := 1; i < n; i++ {
		if d := env.Values[i] - env.Values[i-1]; d > 0 {
			flux[i] = d
		}
	}
	_, std := meanStd(flux)
	delta := opts.Delta
	if delta <= 0 {
		delta = std / 2
	}
	half := int(opts.Window * env.Rate)
	if half < 1 {
		half = 1
	}

	var (
		onsets   []float64
		strength []float64
	)
	for i := 1; i < n; i++ {
		if flux[i] <= 0 || flux[i] < flux[i-1] || (i+1 < n && flux[i] < flux[i+1]) {
			continue
		}
		lo, hi := max(0, i-half), min(n, i+half+1)
		localMean, _ := meanStd(flux[lo:hi])
		if flux[i] <= localMean+delta {
			continue
		}
		t := env.Time(i)
		if k := len(onsets) - 1; k >= 0 && t-onsets[k] < opts.MinGap {
			if flux[i] > strength[k] {
				onsets[k], strength[k] = t, flux[i]
			}
			continue
		}
		onsets = append(onsets, t)
		strength = append(strength, flux[i])
	}
	return onsets
}

// Crossings returns the times where the envelope rises across threshold.
// A threshold <= 0 uses the envelope mean.
func Crossings(env Envelope, threshold float64) []float64 {
	if len(env.Values) < 2 || env.Rate <= 0 {
		return nil
	}
	if threshold <= 0 {
		threshold, _ = meanStd(env.Values)
	}
	var times []float64
	for i := 1; i < len(env.Values); i++ {
		if env.Values[i-1] < threshold && env.Values[i] >= threshold {
			times = append(times, env.Time(i))
		}
	}
	return times
}

// WindowScores returns the mean energy of windows starting at 0, hop,
// 2*hop, ... that fit inside the signal. A signal shorter than one window
// yields a single score for the whole signal.
func WindowScores(env Envelope, window, hop float64) []float64 {
	if len(env.Values) == 0 || env.Rate <= 0 || window <= 0 {
		return nil
	}
	if hop <= 0 {
		hop = window
	}
	count := 1
	if env.Duration > window {
		count = int(math.Floor((env.Duration-window)/hop+1e-9)) + 1
	}
	scores := make([]float64, count)
	for w := 0; w < count; w++ {
		lo := int(math.Round(float64(w) * hop * env.Rate))
		hi := int(math.Round((float64(w)*hop + window) * env.Rate))
		lo = min(lo, len(env.Values)-1)
		hi = max(lo+1, min(hi, len(env.Values)))
		scores[w], _ = meanStd(env.Values[lo:hi])
	}
	return scores
}
