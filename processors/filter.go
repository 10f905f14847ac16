package processors

import (
	"context"
	"fmt"

	"videdit/ffmpeg"
	"videdit/params"
	"videdit/task"
)

const sepiaMatrix = "colorchannelmixer=.393:.769:.189:0:.349:.686:.168:0:.272:.534:.131"

// FilterProcessor applies one visual filter to a whole video.
type FilterProcessor struct {
	env    Env
	params *params.Validator
}

func NewFilterProcessor(env Env) *FilterProcessor {
	return &FilterProcessor{env: env, params: params.NewValidator(env.MaxInputSize)}
}

func (p *FilterProcessor) Name() string { return "filter" }

func (p *FilterProcessor) Operations() []string {
	return []string{"brightness", "contrast", "saturation", "blur", "sharpen", "grayscale", "sepia", "vignette"}
}

// levelParams serves brightness, contrast and saturation.
type levelParams struct {
	VideoPath string   `json:"video_path" validate:"required,mediafile=video"`
	Level     *float64 `json:"level" validate:"required,gte=-100,lte=100"`
}

type blurParams struct {
	VideoPath string  `json:"video_path" validate:"required,mediafile=video"`
	Radius    float64 `json:"radius" validate:"gte=0"`
}

type sharpenParams struct {
	VideoPath string  `json:"video_path" validate:"required,mediafile=video"`
	Amount    float64 `json:"amount" validate:"gte=0"`
}

type vignetteParams struct {
	VideoPath string  `json:"video_path" validate:"required,mediafile=video"`
	Amount    float64 `json:"amount" validate:"gte=0,lte=1"`
}

type plainFilterParams struct {
	VideoPath string `json:"video_path" validate:"required,mediafile=video"`
}

func (p *FilterProcessor) Validate(operation string, raw map[string]any) (params.Set, error) {
	var out any
	switch operation {
	case "brightness", "contrast", "saturation":
		out = &levelParams{}
	case "blur":
		out = &blurParams{Radius: 5}
	case "sharpen":
		out = &sharpenParams{Amount: 1.0}
	case "vignette":
		out = &vignetteParams{Amount: 0.3}
	case "grayscale", "sepia":
		out = &plainFilterParams{}
	default:
		return params.Set{}, fmt.Errorf("filter: unsupported operation %q", operation)
	}
	return p.params.Bind(raw, out)
}

// filterExpr maps an operation to its video filter and the parameter that
// shaped it, if any.
func filterExpr(operation string, ps params.Set) (string, string, error) {
	switch operation {
	case "brightness":
		return "eq=brightness=" + seconds(ps.Float("level")/100), "level", nil
	case "contrast":
		return "eq=contrast=" + seconds(1+ps.Float("level")/100), "level", nil
	case "saturation":
		return "eq=saturation=" + seconds(1+ps.Float("level")/50), "level", nil
	case "blur":
		return fmt.Sprintf("boxblur=luma_radius=%s:luma_power=1", seconds(ps.Float("radius"))), "radius", nil
	case "sharpen":
		a := ps.Float("amount")
		return fmt.Sprintf("unsharp=5:5:%s:5:5:%s", seconds(a), seconds(a/2)), "amount", nil
	case "grayscale":
		return "format=gray", "", nil
	case "sepia":
		return sepiaMatrix, "", nil
	case "vignette":
		return fmt.Sprintf("vignette=angle=PI/4*%s:mode=backward", seconds(1-ps.Float("amount"))), "amount", nil
	}
	return "", "", fmt.Errorf("filter: unsupported operation %q", operation)
}

func (p *FilterProcessor) Execute(ctx context.Context, operation string, ps params.Set) (*task.Result, error) {
	vf, field, err := filterExpr(operation, ps)
	if err != nil {
		return nil, err
	}
	res, err := p.env.Engine.Transform(ctx, ffmpeg.CommandSpec{
		Inputs: []ffmpeg.Input{{Path: ps.String("video_path")}},
		Args:   []string{"-vf", vf, "-c:v", "libx264", "-pix_fmt", "yuv420p", "-c:a", "copy"},
		Output: p.env.output("filter", operation),
		Encode: true,
	})
	if err != nil {
		return nil, err
	}
	details := map[string]any{"filter": vf}
	if field != "" {
		details[field] = ps.Float(field)
	}
	return &task.Result{OutputPath: res.OutputPath, Duration: res.Duration, Details: details}, nil
}
