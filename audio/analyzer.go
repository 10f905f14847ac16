package audio

import (
	"context"
	"fmt"
)

// Decoder turns a media file into mono samples.
type Decoder interface {
	DecodeSamples(ctx context.Context, path string, sampleRate int) ([]float32, error)
}

// Analyzer decodes tracks through a Decoder and runs the envelope analyses.
type Analyzer struct {
	decoder    Decoder
	sampleRate int
}

func NewAnalyzer(decoder Decoder, sampleRate int) *Analyzer {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	return &Analyzer{decoder: decoder, sampleRate: sampleRate}
}

func (a *Analyzer) envelope(ctx context.Context, path string) (Envelope, error) {
	samples, err := a.decoder.DecodeSamples(ctx, path, a.sampleRate)
	if err != nil {
		return Envelope{}, fmt.Errorf("decode %s: %w", path, err)
	}
	if len(samples) == 0 {
		return Envelope{}, fmt.Errorf("decode %s: no audio samples", path)
	}
	return NewEnvelope(samples, a.sampleRate), nil
}

// RhythmPoints returns onset times of the track.
func (a *Analyzer) RhythmPoints(ctx context.Context, path string) ([]float64, error) {
	env, err := a.envelope(ctx, path)
	if err != nil {
		return nil, err
	}
	return Onsets(env, OnsetOptions{}), nil
}

// EnergyPoints returns the times the track's energy rises above its mean.
func (a *Analyzer) EnergyPoints(ctx context.Context, path string) ([]float64, error) {
	env, err := a.envelope(ctx, path)
	if err != nil {
		return nil, err
	}
	return Crossings(env, 0), nil
}

// WindowScores scores sliding windows of the file's audio.
func (a *Analyzer) WindowScores(ctx context.Context, path string, window, hop float64) ([]float64, error) {
	env, err := a.envelope(ctx, path)
	if err != nil {
		return nil, err
	}
	return WindowScores(env, window, hop), nil
}
