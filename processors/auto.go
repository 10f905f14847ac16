package processors

import (
	"context"
	"fmt"
	"math"

	"github.com/charmbracelet/log"

	"videdit/params"
	"videdit/planner"
	"videdit/task"
)

// AutoProcessor builds edits from a plan: music-driven cuts, an even
// summary, or the highest scoring highlights.
type AutoProcessor struct {
	env    Env
	params *params.Validator
}

func NewAutoProcessor(env Env) *AutoProcessor {
	return &AutoProcessor{env: env, params: params.NewValidator(env.MaxInputSize)}
}

func (p *AutoProcessor) Name() string { return "auto" }

func (p *AutoProcessor) Operations() []string {
	return []string{"music_edit", "smart_edit", "highlight_edit"}
}

type musicEditParams struct {
	VideoPaths         []string `json:"video_paths" validate:"required,min=1,dive,mediafile=video"`
	MusicPath          string   `json:"music_path" validate:"required,mediafile=audio"`
	Strategy           string   `json:"strategy" validate:"oneof=rhythm energy even"`
	MinClipDuration    float64  `json:"min_clip_duration" validate:"gte=0.5,lte=10"`
	TransitionType     *string  `json:"transition_type" validate:"omitempty,oneof=fade dissolve wipe slide"`
	TransitionDuration float64  `json:"transition_duration" validate:"gte=0,lte=2"`
}

type smartEditParams struct {
	VideoPaths         []string `json:"video_paths" validate:"required,min=1,dive,mediafile=video"`
	TargetDuration     float64  `json:"target_duration" validate:"gt=0"`
	MusicPath          *string  `json:"music_path" validate:"omitempty,mediafile=audio"`
	TransitionType     *string  `json:"transition_type" validate:"omitempty,oneof=fade dissolve wipe slide"`
	TransitionDuration float64  `json:"transition_duration" validate:"gte=0,lte=2"`
}

type highlightEditParams struct {
	VideoPaths         []string `json:"video_paths" validate:"required,min=1,dive,mediafile=video"`
	HighlightCount     int      `json:"highlight_count" validate:"gte=1"`
	ClipDuration       float64  `json:"clip_duration" validate:"gt=0"`
	MusicPath          *string  `json:"music_path" validate:"omitempty,mediafile=audio"`
	TransitionType     *string  `json:"transition_type" validate:"omitempty,oneof=fade dissolve wipe slide"`
	TransitionDuration float64  `json:"transition_duration" validate:"gte=0,lte=2"`
}

func fadeTransition() *string {
	kind := "fade"
	return &kind
}

func (p *AutoProcessor) Validate(operation string, raw map[string]any) (params.Set, error) {
	var out any
	switch operation {
	case "music_edit":
		out = &musicEditParams{
			Strategy:           string(planner.Rhythm),
			MinClipDuration:    2.0,
			TransitionType:     fadeTransition(),
			TransitionDuration: 0.5,
		}
	case "smart_edit":
		out = &smartEditParams{TargetDuration: 30, TransitionType: fadeTransition(), TransitionDuration: 0.5}
	case "highlight_edit":
		out = &highlightEditParams{HighlightCount: 5, ClipDuration: 3, TransitionType: fadeTransition(), TransitionDuration: 0.5}
	default:
		return params.Set{}, fmt.Errorf("auto: unsupported operation %q", operation)
	}
	return p.params.Bind(raw, out)
}

func transitionOf(ps params.Set) *planner.Transition {
	kind, ok := ps.OptionalString("transition_type")
	d := ps.Float("transition_duration")
	if !ok || d <= 0 {
		return nil
	}
	return &planner.Transition{Kind: xfadeName(kind, ""), Duration: d}
}

func (p *AutoProcessor) Execute(ctx context.Context, operation string, ps params.Set) (*task.Result, error) {
	paths := ps.Strings("video_paths")
	infos, err := p.env.probeAll(ctx, paths)
	if err != nil {
		return nil, err
	}
	clips := toClips(paths, infos)

	music, _ := ps.OptionalString("music_path")
	var musicDuration float64
	if music != "" {
		info, err := p.env.Engine.Probe(ctx, music)
		if err != nil {
			return nil, fmt.Errorf("probe music: %w", err)
		}
		musicDuration = info.Duration
	}

	var plan *planner.Plan
	switch operation {
	case "music_edit":
		plan, err = p.env.Planner.Plan(ctx, planner.Request{
			Clips:         clips,
			Strategy:      planner.Strategy(ps.String("strategy")),
			Music:         music,
			MusicDuration: musicDuration,
			MinSegment:    ps.Float("min_clip_duration"),
			Transition:    transitionOf(ps),
			Redistribute:  p.env.Redistribution,
		})
	case "smart_edit":
		plan, err = p.env.Planner.Plan(ctx, planner.Request{
			Clips:        clips,
			Strategy:     planner.Even,
			Target:       smartTarget(ps.Float("target_duration"), musicDuration, clips),
			Transition:   transitionOf(ps),
			Redistribute: p.env.Redistribution,
		})
	case "highlight_edit":
		plan, err = p.env.Planner.Highlights(ctx, planner.HighlightRequest{
			Clips:       clips,
			Count:       ps.Int("highlight_count"),
			Window:      ps.Float("clip_duration"),
			MaxDuration: musicDuration,
			Transition:  transitionOf(ps),
		})
	default:
		return nil, fmt.Errorf("auto: unsupported operation %q", operation)
	}
	if err != nil {
		return nil, err
	}
	log.Infof("Assembling %s: %d segments, %d transitions, planned %.2fs.", operation, len(plan.Segments), plan.Transitions(), plan.OutputDuration())

	res, err := newAssembler(p.env).assemble(ctx, plan, infos, music, p.env.output("auto", operation))
	if err != nil {
		return nil, err
	}
	return &task.Result{
		OutputPath: res.OutputPath,
		Duration:   res.Duration,
		Details:    planDetails(plan, len(paths)),
	}, nil
}

// smartTarget caps the requested duration by the music, or by the clips
// when there is no music.
func smartTarget(requested, musicDuration float64, clips []planner.Clip) float64 {
	if musicDuration > 0 {
		return math.Min(requested, musicDuration)
	}
	var total float64
	for _, c := range clips {
		total += c.Duration
	}
	return math.Min(requested, total)
}

func planDetails(plan *planner.Plan, videos int) map[string]any {
	return map[string]any{
		"strategy":    string(plan.Strategy),
		"target":      plan.Target,
		"segments":    len(plan.Segments),
		"transitions": plan.Transitions(),
		"video_count": videos,
	}
}
