package processors

import (
	"context"
	"fmt"
	"strings"

	"videdit/params"
	"videdit/planner"
	"videdit/task"
)

var directions = map[string][]string{
	"wipe":   {"left-to-right", "right-to-left", "top-to-bottom", "bottom-to-top"},
	"slide":  {"left", "right", "up", "down"},
	"zoom":   {"in", "out"},
	"rotate": {"clockwise", "counterclockwise"},
}

var xfadeNames = map[string]map[string]string{
	"fade":      {"": "fade"},
	"crossfade": {"": "fade"},
	"dissolve":  {"": "dissolve"},
	"flash":     {"": "fadewhite"},
	"wipe": {
		"left-to-right": "wiperight",
		"right-to-left": "wipeleft",
		"top-to-bottom": "wipedown",
		"bottom-to-top": "wipeup",
	},
	"slide": {
		"left":  "slideleft",
		"right": "slideright",
		"up":    "slideup",
		"down":  "slidedown",
	},
	"zoom": {
		"in":  "zoomin",
		"out": "circleclose",
	},
	"rotate": {
		"clockwise":        "radial",
		"counterclockwise": "radial",
	},
}

// xfadeName maps a transition and its direction to the engine's xfade
// transition. An empty direction selects the transition's default one.
func xfadeName(kind, direction string) string {
	if opts, ok := directions[kind]; ok && direction == "" {
		direction = opts[0]
	}
	if name, ok := xfadeNames[kind][direction]; ok {
		return name
	}
	return "fade"
}

// TransitionProcessor joins two videos with one transition.
type TransitionProcessor struct {
	env    Env
	params *params.Validator
}

func NewTransitionProcessor(env Env) *TransitionProcessor {
	return &TransitionProcessor{env: env, params: params.NewValidator(env.MaxInputSize)}
}

func (p *TransitionProcessor) Name() string { return "transition" }

func (p *TransitionProcessor) Operations() []string {
	return []string{"fade", "dissolve", "crossfade", "wipe", "slide", "zoom", "rotate", "flash"}
}

type transitionParams struct {
	Video1Path string  `json:"video1_path" validate:"required,mediafile=video"`
	Video2Path string  `json:"video2_path" validate:"required,mediafile=video"`
	Duration   float64 `json:"duration" validate:"gt=0"`
}

// directedParams serves the transitions that move in a direction; the
// allowed directions depend on the transition.
type directedParams struct {
	Video1Path string  `json:"video1_path" validate:"required,mediafile=video"`
	Video2Path string  `json:"video2_path" validate:"required,mediafile=video"`
	Direction  string  `json:"direction"`
	Duration   float64 `json:"duration" validate:"gt=0"`
}

type flashParams struct {
	Video1Path string  `json:"video1_path" validate:"required,mediafile=video"`
	Video2Path string  `json:"video2_path" validate:"required,mediafile=video"`
	Intensity  float64 `json:"intensity" validate:"gt=0,lte=2"`
	Duration   float64 `json:"duration" validate:"gt=0"`
}

func (p *TransitionProcessor) Validate(operation string, raw map[string]any) (params.Set, error) {
	switch operation {
	case "fade", "dissolve", "crossfade":
		return p.params.Bind(raw, &transitionParams{Duration: 1.0})
	case "wipe", "slide", "zoom", "rotate":
		opts := directions[operation]
		set, err := p.params.Bind(raw, &directedParams{Direction: opts[0], Duration: 1.0})
		if err != nil {
			return params.Set{}, err
		}
		if err := p.params.Var("direction", set.String("direction"), "oneof="+strings.Join(opts, " ")); err != nil {
			return params.Set{}, err
		}
		return set, nil
	case "flash":
		return p.params.Bind(raw, &flashParams{Intensity: 1.0, Duration: 0.5})
	}
	return params.Set{}, fmt.Errorf("transition: unsupported operation %q", operation)
}

func (p *TransitionProcessor) Execute(ctx context.Context, operation string, ps params.Set) (*task.Result, error) {
	paths := []string{ps.String("video1_path"), ps.String("video2_path")}
	infos, err := p.env.probeAll(ctx, paths)
	if err != nil {
		return nil, err
	}

	direction, _ := ps.OptionalString("direction")
	name := xfadeName(operation, direction)
	plan, err := planner.Sequence(toClips(paths, infos), &planner.Transition{Kind: name, Duration: ps.Float("duration")})
	if err != nil {
		return nil, err
	}
	res, err := newAssembler(p.env).assemble(ctx, plan, infos, "", p.env.output("transition", operation))
	if err != nil {
		return nil, err
	}

	details := map[string]any{"transition": name}
	if seg := plan.Segments[1]; seg.Transition != nil {
		details["duration"] = seg.Transition.Duration
	}
	if direction != "" {
		details["direction"] = direction
	}
	if operation == "flash" {
		details["intensity"] = ps.Float("intensity")
	}
	return &task.Result{OutputPath: res.OutputPath, Duration: res.Duration, Details: details}, nil
}
