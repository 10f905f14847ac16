package planner

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockAnalyzer is a mock implementation of the Analyzer and Scorer interfaces for testing.
type mockAnalyzer struct {
	points []float64
	err    error
	scores map[string][]float64
}

func (m *mockAnalyzer) RhythmPoints(_ context.Context, _ string) ([]float64, error) {
	return m.points, m.err
}

func (m *mockAnalyzer) EnergyPoints(_ context.Context, _ string) ([]float64, error) {
	return m.points, m.err
}

func (m *mockAnalyzer) WindowScores(_ context.Context, path string, _, _ float64) ([]float64, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.scores[path], nil
}

func clips(durations ...float64) []Clip {
	out := make([]Clip, len(durations))
	for i, d := range durations {
		out[i] = Clip{Path: string(rune('a'+i)) + ".mp4", Duration: d}
	}
	return out
}

func durationsOf(plan *Plan) []float64 {
	out := make([]float64, len(plan.Segments))
	for i, s := range plan.Segments {
		out[i] = s.Duration()
	}
	return out
}

func TestPlan_Even(t *testing.T) {
	p := New(nil, nil)

	t.Run("splits the target evenly over the clips", func(t *testing.T) {
		plan, err := p.Plan(context.Background(), Request{Clips: clips(10, 10, 10), Strategy: Even, Target: 30})
		require.NoError(t, err)
		require.Len(t, plan.Segments, 3)
		for i, s := range plan.Segments {
			assert.Equal(t, i, s.Clip)
			assert.InDelta(t, 10, s.Duration(), epsilon)
			assert.LessOrEqual(t, s.Out, plan.Clips[s.Clip].Duration)
		}
		assert.Zero(t, plan.Transitions())
		assert.InDelta(t, 30, plan.OutputDuration(), epsilon)
	})

	t.Run("transitions keep the output at the target", func(t *testing.T) {
		plan, err := p.Plan(context.Background(), Request{
			Clips:      clips(12, 12, 12),
			Strategy:   Even,
			Target:     30,
			Transition: &Transition{Kind: "fade", Duration: 0.5},
		})
		require.NoError(t, err)
		require.Len(t, plan.Segments, 3)
		assert.Nil(t, plan.Segments[0].Transition)
		assert.Equal(t, 2, plan.Transitions())
		for _, s := range plan.Segments {
			assert.InDelta(t, 10, s.Contribution(), epsilon)
			assert.LessOrEqual(t, s.Out, 12.0)
		}
		assert.InDelta(t, 10.25, plan.Segments[0].Duration(), epsilon)
		assert.InDelta(t, 10.5, plan.Segments[1].Duration(), epsilon)
		assert.InDelta(t, 30, plan.OutputDuration(), epsilon)
	})

	t.Run("min segment limits the count", func(t *testing.T) {
		plan, err := p.Plan(context.Background(), Request{Clips: clips(5, 5, 5, 5, 5), Strategy: Even, Target: 6, MinSegment: 2})
		require.NoError(t, err)
		assert.Len(t, plan.Segments, 3)
	})

	t.Run("target defaults to music then clip total", func(t *testing.T) {
		plan, err := p.Plan(context.Background(), Request{Clips: clips(8, 8), Strategy: Even, MusicDuration: 12})
		require.NoError(t, err)
		assert.InDelta(t, 12, plan.Target, epsilon)

		plan, err = p.Plan(context.Background(), Request{Clips: clips(8, 4), Strategy: Even})
		require.NoError(t, err)
		assert.InDelta(t, 12, plan.Target, epsilon)
	})

	t.Run("segments outnumbering clips continue where the clip stopped", func(t *testing.T) {
		plan, err := p.Plan(context.Background(), Request{Clips: clips(20, 20), Strategy: Even, Target: 40, SegmentCount: 4})
		require.NoError(t, err)
		require.Len(t, plan.Segments, 4)
		assert.Equal(t, []int{0, 1, 0, 1}, []int{plan.Segments[0].Clip, plan.Segments[1].Clip, plan.Segments[2].Clip, plan.Segments[3].Clip})
		assert.InDelta(t, 10, plan.Segments[2].In, epsilon)
		assert.InDelta(t, 20, plan.Segments[2].Out, epsilon)
	})
}

func TestPlan_ShortClipDegrades(t *testing.T) {
	p := New(nil, nil)
	req := Request{Clips: clips(20, 4, 20), Strategy: Even, Target: 40, SegmentCount: 4}

	t.Run("proportional", func(t *testing.T) {
		plan, err := p.Plan(context.Background(), req)
		require.NoError(t, err)
		require.Len(t, plan.Segments, 4)
		got := durationsOf(plan)
		assert.InDeltaSlice(t, []float64{10, 4, 13, 10}, got, epsilon)
		assert.InDelta(t, 37, plan.OutputDuration(), epsilon)
	})

	t.Run("next", func(t *testing.T) {
		req := req
		req.Redistribute = Next
		plan, err := p.Plan(context.Background(), req)
		require.NoError(t, err)
		got := durationsOf(plan)
		assert.InDeltaSlice(t, []float64{10, 4, 16, 10}, got, epsilon)
		assert.InDelta(t, 40, plan.OutputDuration(), epsilon)
	})

	t.Run("shortfall on the last segment is accepted", func(t *testing.T) {
		plan, err := p.Plan(context.Background(), Request{Clips: clips(10, 10, 3), Strategy: Even, Target: 30})
		require.NoError(t, err)
		require.Len(t, plan.Segments, 3)
		assert.InDelta(t, 3, plan.Segments[2].Duration(), epsilon)
		assert.NoError(t, plan.Validate())
	})
}

func TestPlan_Rhythm(t *testing.T) {
	t.Run("cut points become boundaries", func(t *testing.T) {
		an := &mockAnalyzer{points: []float64{9.9, 3.0, 2.5, 7.2, 12}}
		plan, err := New(an, nil).Plan(context.Background(), Request{
			Clips:         clips(10, 10, 10),
			Strategy:      Rhythm,
			Music:         "music.mp3",
			MusicDuration: 10,
			MinSegment:    2,
		})
		require.NoError(t, err)
		assert.Equal(t, Rhythm, plan.Strategy)
		assert.InDeltaSlice(t, []float64{2.5, 4.7, 2.8}, durationsOf(plan), epsilon)
	})

	t.Run("falls back to even without usable points", func(t *testing.T) {
		an := &mockAnalyzer{points: []float64{0.5, 14.5}}
		plan, err := New(an, nil).Plan(context.Background(), Request{
			Clips:         clips(10, 10, 10),
			Strategy:      Energy,
			Music:         "music.mp3",
			MusicDuration: 15,
			MinSegment:    2,
		})
		require.NoError(t, err)
		assert.Equal(t, Even, plan.Strategy)
		assert.InDeltaSlice(t, []float64{5, 5, 5}, durationsOf(plan), epsilon)
	})

	t.Run("analysis failure fails the plan", func(t *testing.T) {
		an := &mockAnalyzer{err: errors.New("decode failed")}
		_, err := New(an, nil).Plan(context.Background(), Request{Clips: clips(10), Strategy: Rhythm, Music: "m.mp3"})
		assert.ErrorContains(t, err, "decode failed")
	})

	t.Run("needs a music track", func(t *testing.T) {
		_, err := New(&mockAnalyzer{}, nil).Plan(context.Background(), Request{Clips: clips(10), Strategy: Rhythm})
		assert.Error(t, err)
	})
}

func TestPlan_RejectsEmptyInput(t *testing.T) {
	_, err := New(nil, nil).Plan(context.Background(), Request{})
	assert.Error(t, err)

	_, err = New(nil, nil).Plan(context.Background(), Request{Clips: clips(10, 0)})
	assert.ErrorContains(t, err, "has no duration")
}

func TestSequence(t *testing.T) {
	t.Run("merge without transition", func(t *testing.T) {
		plan, err := Sequence(clips(4, 6), nil)
		require.NoError(t, err)
		require.Len(t, plan.Segments, 2)
		assert.Zero(t, plan.Transitions())
		assert.InDelta(t, 10, plan.OutputDuration(), epsilon)
	})

	t.Run("transition is clamped to half the shorter clip", func(t *testing.T) {
		plan, err := Sequence(clips(1, 6, 6), &Transition{Kind: "dissolve", Duration: 2})
		require.NoError(t, err)
		assert.Equal(t, 2, plan.Transitions())
		assert.InDelta(t, 0.5, plan.Segments[1].Transition.Duration, epsilon)
		assert.InDelta(t, 2, plan.Segments[2].Transition.Duration, epsilon)
		assert.InDelta(t, 13-2.5, plan.OutputDuration(), epsilon)
	})
}

func TestHighlights(t *testing.T) {
	scores := map[string][]float64{
		"a.mp4": {0.1, 0.1, 0.8, 0.1, 0.1, 0.1, 0.9, 0.1, 0.1},
		"b.mp4": {0.95, 0.1, 0.1, 0.1, 0.1, 0.1, 0.1, 0.1, 0.1},
	}

	t.Run("best windows in clip order", func(t *testing.T) {
		p := New(nil, &mockAnalyzer{scores: scores})
		plan, err := p.Highlights(context.Background(), HighlightRequest{Clips: clips(10, 10), Count: 3, Window: 2})
		require.NoError(t, err)
		require.Len(t, plan.Segments, 3)
		want := []Segment{{Clip: 0, In: 2, Out: 4}, {Clip: 0, In: 6, Out: 8}, {Clip: 1, In: 0, Out: 2}}
		for i, s := range plan.Segments {
			assert.Equal(t, want[i].Clip, s.Clip)
			assert.InDelta(t, want[i].In, s.In, epsilon)
			assert.InDelta(t, want[i].Out, s.Out, epsilon)
		}
		assert.Equal(t, Highlight, plan.Strategy)
	})

	t.Run("music length scales the windows", func(t *testing.T) {
		p := New(nil, &mockAnalyzer{scores: scores})
		plan, err := p.Highlights(context.Background(), HighlightRequest{
			Clips: clips(10, 10), Count: 3, Window: 2, MaxDuration: 3,
			Transition: &Transition{Kind: "fade", Duration: 0.5},
		})
		require.NoError(t, err)
		for _, s := range plan.Segments {
			assert.InDelta(t, 1, s.Duration(), epsilon)
		}
		assert.Equal(t, 2, plan.Transitions())
		assert.InDelta(t, 2, plan.OutputDuration(), epsilon)
	})

	t.Run("unscored clips use their first windows", func(t *testing.T) {
		p := New(nil, &mockAnalyzer{err: errors.New("no audio")})
		plan, err := p.Highlights(context.Background(), HighlightRequest{Clips: clips(10), Count: 2, Window: 3})
		require.NoError(t, err)
		require.Len(t, plan.Segments, 2)
		assert.InDelta(t, 0, plan.Segments[0].In, epsilon)
		assert.InDelta(t, 3, plan.Segments[1].In, epsilon)
	})

	t.Run("short clip contributes whole", func(t *testing.T) {
		p := New(nil, nil)
		plan, err := p.Highlights(context.Background(), HighlightRequest{Clips: clips(1.5, 10), Count: 5, Window: 3})
		require.NoError(t, err)
		assert.InDelta(t, 1.5, plan.Segments[0].Duration(), epsilon)
		assert.Len(t, plan.Segments, 4)
	})
}

func TestValidate(t *testing.T) {
	base := clips(5)
	tests := []struct {
		name string
		plan Plan
	}{
		{"empty", Plan{Clips: base}},
		{"past clip end", Plan{Clips: base, Segments: []Segment{{Clip: 0, In: 1, Out: 6}}}},
		{"inverted", Plan{Clips: base, Segments: []Segment{{Clip: 0, In: 3, Out: 2}}}},
		{"bad clip index", Plan{Clips: base, Segments: []Segment{{Clip: 2, In: 0, Out: 1}}}},
		{"transition on first", Plan{Clips: base, Segments: []Segment{{Clip: 0, Out: 4, Transition: &Transition{Duration: 1}}}}},
		{"transition too long", Plan{Clips: base, Segments: []Segment{{Clip: 0, Out: 2}, {Clip: 0, In: 2, Out: 4, Transition: &Transition{Duration: 1.5}}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.plan.Validate())
		})
	}
}

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy("energy")
	require.NoError(t, err)
	assert.Equal(t, Energy, s)

	_, err = ParseStrategy("highlight")
	assert.Error(t, err)
}

func TestParseRedistribution(t *testing.T) {
	for in, want := range map[string]Redistribution{"": Proportional, "proportional": Proportional, " Next ": Next} {
		got, err := ParseRedistribution(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseRedistribution("first")
	assert.Error(t, err)
}
