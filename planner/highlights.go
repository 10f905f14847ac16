package planner

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/charmbracelet/log"
)

type HighlightRequest struct {
	Clips []Clip
	Count int
	// Window is the length of one highlight.
	Window float64
	// MaxDuration, when positive, scales all highlights down to fit.
	MaxDuration float64
	Transition  *Transition
}

type candidate struct {
	clip  int
	start float64
	end   float64
	score float64
}

// Highlights picks the best-scoring windows of each clip and plays them in
// clip order. Each clip offers at most ceil(Count/len(Clips)) windows that
// do not overlap; the Count best of those are kept.
func (p *Planner) Highlights(ctx context.Context, req HighlightRequest) (*Plan, error) {
	if len(req.Clips) == 0 {
		return nil, fmt.Errorf("no clips to plan")
	}
	if req.Count <= 0 || req.Window <= 0 {
		return nil, fmt.Errorf("highlight count and window must be positive")
	}
	perClip := int(math.Ceil(float64(req.Count) / float64(len(req.Clips))))

	var picked []candidate
	for i, clip := range req.Clips {
		if clip.Duration <= 0 {
			return nil, fmt.Errorf("clip %d (%s) has no duration", i, clip.Path)
		}
		cands, err := p.candidates(ctx, i, clip, req.Window)
		if err != nil {
			return nil, err
		}
		picked = append(picked, selectWindows(cands, perClip)...)
	}

	sort.SliceStable(picked, func(a, b int) bool { return better(picked[a], picked[b]) })
	if len(picked) > req.Count {
		picked = picked[:req.Count]
	}
	sort.Slice(picked, func(a, b int) bool {
		if picked[a].clip != picked[b].clip {
			return picked[a].clip < picked[b].clip
		}
		return picked[a].start < picked[b].start
	})

	var total float64
	for _, c := range picked {
		total += c.end - c.start
	}
	scale := 1.0
	if req.MaxDuration > 0 && total > req.MaxDuration {
		scale = req.MaxDuration / total
	}

	plan := &Plan{Strategy: Highlight, Target: total * scale, Clips: req.Clips}
	for _, c := range picked {
		plan.Segments = append(plan.Segments, Segment{Clip: c.clip, In: c.start, Out: c.start + (c.end-c.start)*scale})
	}
	if req.Transition != nil {
		assignTransitions(plan.Segments, req.Transition.Kind, uniform(req.Transition, len(plan.Segments)))
	}
	if err := plan.Validate(); err != nil {
		return nil, fmt.Errorf("invalid plan: %w", err)
	}
	return plan, nil
}

// candidates lists the windows of one clip with their scores. Windows hop by
// half their length. Clips without usable scores keep their windows at score
// zero, so selection falls back to the earliest ones.
func (p *Planner) candidates(ctx context.Context, idx int, clip Clip, window float64) ([]candidate, error) {
	if clip.Duration <= window {
		return []candidate{{clip: idx, start: 0, end: clip.Duration}}, nil
	}
	hop := window / 2
	n := int(math.Floor((clip.Duration-window)/hop+epsilon)) + 1

	var scores []float64
	if p.scorer != nil {
		var err error
		scores, err = p.scorer.WindowScores(ctx, clip.Path, window, hop)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Warnf("Could not score %s, using unscored windows: %v", clip.Path, err)
			scores = nil
		}
	}

	cands := make([]candidate, n)
	for w := range cands {
		start := math.Min(float64(w)*hop, clip.Duration-window)
		cands[w] = candidate{clip: idx, start: start, end: start + window}
		if w < len(scores) {
			cands[w].score = scores[w]
		}
	}
	return cands, nil
}

func better(a, b candidate) bool {
	if a.score != b.score {
		return a.score > b.score
	}
	if a.clip != b.clip {
		return a.clip < b.clip
	}
	return a.start < b.start
}

// selectWindows takes the k best windows that do not overlap each other.
func selectWindows(cands []candidate, k int) []candidate {
	sorted := append([]candidate(nil), cands...)
	sort.SliceStable(sorted, func(a, b int) bool { return better(sorted[a], sorted[b]) })

	var chosen []candidate
	for _, c := range sorted {
		if len(chosen) == k {
			break
		}
		overlaps := false
		for _, o := range chosen {
			if c.start < o.end-epsilon && o.start < c.end-epsilon {
				overlaps = true
				break
			}
		}
		if !overlaps {
			chosen = append(chosen, c)
		}
	}
	return chosen
}
