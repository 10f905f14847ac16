// Package planner turns source clips and an optional music track into a
// segment plan: an ordered list of clip excerpts joined by transitions.
// Assembling the plan into a video is left to the caller.
package planner

import (
	"fmt"
	"math"
	"strings"
)

const epsilon = 1e-6

type Strategy string

const (
	Rhythm Strategy = "rhythm"
	Energy Strategy = "energy"
	Even   Strategy = "even"
	// Highlight marks plans built by Highlights.
	Highlight Strategy = "highlight"
	// Whole marks plans built by Sequence.
	Whole Strategy = "sequence"
)

// ParseStrategy accepts the strategies a caller may request.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case Rhythm, Energy, Even:
		return Strategy(s), nil
	}
	return "", fmt.Errorf("unknown strategy %q", s)
}

// Redistribution decides where a short clip's missing time goes.
type Redistribution string

const (
	// Proportional spreads it over the remaining segments by nominal length.
	Proportional Redistribution = "proportional"
	// Next adds all of it to the following segment.
	Next Redistribution = "next"
)

// ParseRedistribution accepts a configured policy; "" means Proportional.
func ParseRedistribution(s string) (Redistribution, error) {
	switch r := Redistribution(strings.ToLower(strings.TrimSpace(s))); r {
	case "":
		return Proportional, nil
	case Proportional, Next:
		return r, nil
	}
	return "", fmt.Errorf("unknown redistribution policy %q", s)
}

type Clip struct {
	Path     string  `json:"path"`
	Duration float64 `json:"duration"`
	HasAudio bool    `json:"has_audio"`
}

type Transition struct {
	Kind     string  `json:"kind"`
	Duration float64 `json:"duration"`
}

// Segment is one excerpt [In, Out) of Plan.Clips[Clip]. Transition is the
// transition from the previous segment into this one; the first segment has
// none.
type Segment struct {
	Clip       int         `json:"clip"`
	In         float64     `json:"in"`
	Out        float64     `json:"out"`
	Transition *Transition `json:"transition,omitempty"`

	// Halves of the overlaps at the segment's start and end.
	head, tail float64
}

func (s Segment) Duration() float64 { return s.Out - s.In }

// Contribution is the time the segment adds to the output once the
// transition overlaps on both sides are taken out.
func (s Segment) Contribution() float64 { return s.Duration() - s.head - s.tail }

type Plan struct {
	Strategy Strategy  `json:"strategy"`
	Target   float64   `json:"target"`
	Clips    []Clip    `json:"clips"`
	Segments []Segment `json:"segments"`
}

// Transitions counts the segments that carry a transition.
func (p *Plan) Transitions() int {
	n := 0
	for _, s := range p.Segments {
		if s.Transition != nil {
			n++
		}
	}
	return n
}

// OutputDuration is the length of the assembled output.
func (p *Plan) OutputDuration() float64 {
	var total float64
	for _, s := range p.Segments {
		total += s.Duration()
		if s.Transition != nil {
			total -= s.Transition.Duration
		}
	}
	return total
}

// Validate checks that every segment lies inside its clip and that every
// transition fits into both neighbours.
func (p *Plan) Validate() error {
	if len(p.Segments) == 0 {
		return fmt.Errorf("plan has no segments")
	}
	for i, s := range p.Segments {
		if s.Clip < 0 || s.Clip >= len(p.Clips) {
			return fmt.Errorf("segment %d: clip index %d out of range", i, s.Clip)
		}
		clip := p.Clips[s.Clip]
		if s.In < 0 || s.Out <= s.In {
			return fmt.Errorf("segment %d: invalid range [%.3f, %.3f)", i, s.In, s.Out)
		}
		if s.Out > clip.Duration+epsilon {
			return fmt.Errorf("segment %d: out %.3f exceeds clip duration %.3f", i, s.Out, clip.Duration)
		}
		if s.Transition == nil {
			continue
		}
		if i == 0 {
			return fmt.Errorf("segment 0 cannot have a transition")
		}
		td := s.Transition.Duration
		if td <= 0 || td > s.Duration()/2+epsilon || td > p.Segments[i-1].Duration()/2+epsilon {
			return fmt.Errorf("segment %d: transition %.3f does not fit its neighbours", i, td)
		}
	}
	return nil
}

// Sequence plays every clip whole, in order. It is used for plain merges.
func Sequence(clips []Clip, transition *Transition) (*Plan, error) {
	if len(clips) == 0 {
		return nil, fmt.Errorf("no clips to sequence")
	}
	plan := &Plan{Strategy: Whole, Clips: clips}
	for i, c := range clips {
		if c.Duration <= 0 {
			return nil, fmt.Errorf("clip %d (%s) has no duration", i, c.Path)
		}
		plan.Segments = append(plan.Segments, Segment{Clip: i, In: 0, Out: c.Duration})
		plan.Target += c.Duration
	}
	if transition != nil {
		assignTransitions(plan.Segments, transition.Kind, uniform(transition, len(clips)))
	}
	return plan, plan.Validate()
}

// assignTransitions puts a transition of the given kind on every boundary.
// want[i] is the duration requested into segment i; it is clamped to half of
// each neighbour's length and the overlap shares are recorded.
func assignTransitions(segments []Segment, kind string, want []float64) {
	for i := range segments {
		segments[i].Transition = nil
		segments[i].head, segments[i].tail = 0, 0
	}
	for i := 1; i < len(segments) && i < len(want); i++ {
		td := math.Min(want[i], math.Min(segments[i-1].Duration(), segments[i].Duration())/2)
		if td <= epsilon {
			continue
		}
		segments[i].Transition = &Transition{Kind: kind, Duration: td}
		segments[i].head = td / 2
		segments[i-1].tail = td / 2
	}
}

// uniform requests the transition's duration on all n segments.
func uniform(transition *Transition, n int) []float64 {
	if transition == nil || transition.Duration <= 0 {
		return nil
	}
	want := make([]float64, n)
	for i := range want {
		want[i] = transition.Duration
	}
	return want
}
