package planner

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/charmbracelet/log"
)

const defaultFrame = 1.0 / 30

// Analyzer derives cut points from a music track.
type Analyzer interface {
	RhythmPoints(ctx context.Context, path string) ([]float64, error)
	EnergyPoints(ctx context.Context, path string) ([]float64, error)
}

// Scorer rates windows of a clip; score i belongs to the window starting at
// i*hop.
type Scorer interface {
	WindowScores(ctx context.Context, path string, window, hop float64) ([]float64, error)
}

// Request describes one auto-edit.
type Request struct {
	Clips    []Clip
	Strategy Strategy
	// Music is required for rhythm and energy.
	Music         string
	MusicDuration float64
	// Target wins over the music duration; without both the clips' total
	// duration is used.
	Target float64
	// SegmentCount overrides the number of even segments.
	SegmentCount int
	// MinSegment is the shortest segment the cut points may produce.
	MinSegment   float64
	Transition   *Transition
	Redistribute Redistribution
	// Frame is the smallest usable clip remainder, default 1/30 s.
	Frame float64
}

type Planner struct {
	analyzer Analyzer
	scorer   Scorer
}

func New(analyzer Analyzer, scorer Scorer) *Planner {
	return &Planner{analyzer: analyzer, scorer: scorer}
}

// Plan derives segment boundaries for the strategy, allocates clips round
// robin and sizes each segment within its clip.
func (p *Planner) Plan(ctx context.Context, req Request) (*Plan, error) {
	if len(req.Clips) == 0 {
		return nil, fmt.Errorf("no clips to plan")
	}
	var total float64
	for i, c := range req.Clips {
		if c.Duration <= 0 {
			return nil, fmt.Errorf("clip %d (%s) has no duration", i, c.Path)
		}
		total += c.Duration
	}
	if req.Frame <= 0 {
		req.Frame = defaultFrame
	}

	target := req.Target
	if target <= 0 {
		target = req.MusicDuration
	}
	if target <= 0 {
		target = total
	}

	strategy := req.Strategy
	if strategy == "" {
		strategy = Even
	}
	durations, err := p.segmentDurations(ctx, req, strategy, target)
	if err != nil {
		return nil, err
	}
	if durations == nil {
		log.Warnf("No usable %s cut points in %s, falling back to even segments.", strategy, req.Music)
		strategy = Even
		durations = evenDurations(req, target)
	}

	want := transitionRequests(durations, req.Transition)
	segments := allocate(req, durations, want)

	plan := &Plan{Strategy: strategy, Target: target, Clips: req.Clips, Segments: segments}
	if req.Transition != nil {
		assignTransitions(plan.Segments, req.Transition.Kind, want)
	}
	if err := plan.Validate(); err != nil {
		return nil, fmt.Errorf("invalid plan: %w", err)
	}
	log.Debugf("Planned %d segments (%s) for target %.2fs, output %.2fs.", len(segments), strategy, target, plan.OutputDuration())
	return plan, nil
}

// segmentDurations returns nil when a cut-point strategy produced nothing
// usable.
func (p *Planner) segmentDurations(ctx context.Context, req Request, strategy Strategy, target float64) ([]float64, error) {
	var (
		points []float64
		err    error
	)
	switch strategy {
	case Even:
		return evenDurations(req, target), nil
	case Rhythm, Energy:
		if p.analyzer == nil || req.Music == "" {
			return nil, fmt.Errorf("strategy %s needs a music track", strategy)
		}
		if strategy == Rhythm {
			points, err = p.analyzer.RhythmPoints(ctx, req.Music)
		} else {
			points, err = p.analyzer.EnergyPoints(ctx, req.Music)
		}
		if err != nil {
			return nil, fmt.Errorf("analyze music: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown strategy %q", strategy)
	}

	bounds := cutPoints(points, target, math.Max(req.MinSegment, req.Frame))
	if len(bounds) == 0 {
		return nil, nil
	}
	durations := make([]float64, 0, len(bounds)+1)
	last := 0.0
	for _, b := range bounds {
		durations = append(durations, b-last)
		last = b
	}
	return append(durations, target-last), nil
}

// cutPoints keeps the points inside (0, target) that are at least minGap
// after the previous boundary. A last segment shorter than minGap is merged
// into its predecessor.
func cutPoints(points []float64, target, minGap float64) []float64 {
	sorted := append([]float64(nil), points...)
	sort.Float64s(sorted)

	var kept []float64
	last := 0.0
	for _, pt := range sorted {
		if pt <= 0 || pt >= target {
			continue
		}
		if pt-last >= minGap {
			kept = append(kept, pt)
			last = pt
		}
	}
	if n := len(kept); n > 0 && target-kept[n-1] < minGap {
		kept = kept[:n-1]
	}
	return kept
}

func evenDurations(req Request, target float64) []float64 {
	n := req.SegmentCount
	if n <= 0 {
		n = len(req.Clips)
	}
	if req.MinSegment > 0 && target/float64(n) < req.MinSegment {
		n = max(1, int(target/req.MinSegment))
	}
	durations := make([]float64, n)
	for i := range durations {
		durations[i] = target / float64(n)
	}
	return durations
}

// transitionRequests clamps the transition into each segment to half of both
// nominal neighbours. Index 0 is always zero.
func transitionRequests(durations []float64, transition *Transition) []float64 {
	want := make([]float64, len(durations))
	if transition == nil || transition.Duration <= 0 {
		return want
	}
	for i := 1; i < len(durations); i++ {
		want[i] = math.Min(transition.Duration, math.Min(durations[i-1], durations[i])/2)
	}
	return want
}

// allocate cycles through the clips, continuing each clip where its previous
// segment ended. Every segment is extended by half of each adjoining
// transition so the overlaps do not shorten the output. A clip that cannot
// supply the full length yields what it has; the missing time moves to the
// later segments.
func allocate(req Request, durations, want []float64) []Segment {
	n := len(durations)
	nominal := append([]float64(nil), durations...)
	need := append([]float64(nil), durations...)
	offsets := make([]float64, len(req.Clips))
	segments := make([]Segment, 0, n)

	for i := 0; i < n; i++ {
		c := i % len(req.Clips)
		clip := req.Clips[c]
		if clip.Duration-offsets[c] < req.Frame {
			offsets[c] = 0
		}

		length := need[i] + want[i]/2
		if i+1 < n {
			length += want[i+1] / 2
		}
		available := clip.Duration - offsets[c]
		shortfall := 0.0
		if length > available {
			shortfall = length - available
			length = available
		}

		in := offsets[c]
		segments = append(segments, Segment{Clip: c, In: in, Out: in + length})
		offsets[c] = in + length

		if shortfall > epsilon {
			if i+1 == n {
				log.Debugf("Clip %s is %.2fs short for the last segment, output will be shorter.", clip.Path, shortfall)
				continue
			}
			redistribute(need, nominal, i+1, shortfall, req.Redistribute)
		}
	}
	return segments
}

func redistribute(need, nominal []float64, from int, shortfall float64, policy Redistribution) {
	if policy == Next {
		need[from] += shortfall
		return
	}
	var weight float64
	for j := from; j < len(nominal); j++ {
		weight += nominal[j]
	}
	if weight <= 0 {
		need[from] += shortfall
		return
	}
	for j := from; j < len(need); j++ {
		need[j] += shortfall * nominal[j] / weight
	}
}
