package processors

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/lithammer/shortuuid/v4"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/multierr"

	"videdit/ffmpeg"
	"videdit/params"
	"videdit/planner"
	"videdit/task"
)

const minSplitPart = 0.1

// ClipProcessor cuts and rearranges whole clips.
type ClipProcessor struct {
	env    Env
	params *params.Validator
}

func NewClipProcessor(env Env) *ClipProcessor {
	return &ClipProcessor{env: env, params: params.NewValidator(env.MaxInputSize)}
}

func (p *ClipProcessor) Name() string { return "clip" }

func (p *ClipProcessor) Operations() []string {
	return []string{"trim", "split", "merge", "speed", "reverse"}
}

type trimParams struct {
	VideoPath string   `json:"video_path" validate:"required,mediafile=video"`
	StartTime float64  `json:"start_time" validate:"gte=0"`
	EndTime   *float64 `json:"end_time" validate:"required,gtfield=StartTime"`
	CopyCodec bool     `json:"copy_codec"`
}

type splitParams struct {
	VideoPath   string    `json:"video_path" validate:"required,mediafile=video"`
	SplitPoints []float64 `json:"split_points" validate:"required,min=1,dive,gt=0"`
	CopyCodec   bool      `json:"copy_codec"`
}

// Normalize sorts the split points and drops duplicates.
func (sp *splitParams) Normalize() {
	slices.Sort(sp.SplitPoints)
	sp.SplitPoints = slices.Compact(sp.SplitPoints)
}

type mergeParams struct {
	VideoPaths         []string `json:"video_paths" validate:"required,min=2,dive,mediafile=video"`
	Transition         *string  `json:"transition" validate:"omitempty,oneof=fade dissolve wipe slide"`
	TransitionDuration float64  `json:"transition_duration" validate:"gt=0,lte=2"`
}

type speedParams struct {
	VideoPath   string   `json:"video_path" validate:"required,mediafile=video"`
	SpeedFactor *float64 `json:"speed_factor" validate:"required,gte=0.1,lte=10"`
}

type reverseParams struct {
	VideoPath string `json:"video_path" validate:"required,mediafile=video"`
	WithAudio bool   `json:"with_audio"`
}

func (p *ClipProcessor) Validate(operation string, raw map[string]any) (params.Set, error) {
	var out any
	switch operation {
	case "trim":
		out = &trimParams{}
	case "split":
		out = &splitParams{}
	case "merge":
		out = &mergeParams{TransitionDuration: 0.5}
	case "speed":
		out = &speedParams{}
	case "reverse":
		out = &reverseParams{}
	default:
		return params.Set{}, fmt.Errorf("clip: unsupported operation %q", operation)
	}
	return p.params.Bind(raw, out)
}

func (p *ClipProcessor) Execute(ctx context.Context, operation string, ps params.Set) (*task.Result, error) {
	switch operation {
	case "trim":
		return p.trim(ctx, ps)
	case "split":
		return p.split(ctx, ps)
	case "merge":
		return p.merge(ctx, ps)
	case "speed":
		return p.speed(ctx, ps)
	case "reverse":
		return p.reverse(ctx, ps)
	}
	return nil, fmt.Errorf("clip: unsupported operation %q", operation)
}

func codecArgs(copyCodec bool) []string {
	if copyCodec {
		return []string{"-c", "copy"}
	}
	return encodeArgs(false)
}

func (p *ClipProcessor) trim(ctx context.Context, ps params.Set) (*task.Result, error) {
	path := ps.String("video_path")
	info, err := p.env.Engine.Probe(ctx, path)
	if err != nil {
		return nil, err
	}
	start, end := ps.Float("start_time"), ps.Float("end_time")
	if start >= info.Duration {
		return nil, fmt.Errorf("start_time %.2f is beyond the video duration %.2f", start, info.Duration)
	}
	if end > info.Duration {
		end = info.Duration
	}

	copyCodec := ps.Bool("copy_codec")
	res, err := p.env.Engine.Transform(ctx, ffmpeg.CommandSpec{
		Inputs: []ffmpeg.Input{{Path: path, Options: []string{"-ss", seconds(start)}}},
		Args:   append([]string{"-t", seconds(end - start)}, codecArgs(copyCodec)...),
		Output: p.env.output("clip", "trim"),
		Encode: !copyCodec,
	})
	if err != nil {
		return nil, err
	}
	return &task.Result{
		OutputPath: res.OutputPath,
		Duration:   res.Duration,
		Details:    map[string]any{"start_time": start, "end_time": end},
	}, nil
}

// split cuts the video at every point inside it. The parts are encoded
// concurrently into one directory; if any part fails, the directory is
// removed.
func (p *ClipProcessor) split(ctx context.Context, ps params.Set) (*task.Result, error) {
	path := ps.String("video_path")
	info, err := p.env.Engine.Probe(ctx, path)
	if err != nil {
		return nil, err
	}

	bounds := []float64{0}
	for _, pt := range ps.Floats("split_points") {
		if pt < info.Duration {
			bounds = append(bounds, pt)
		}
	}
	bounds = append(bounds, info.Duration)

	type span struct{ start, end float64 }
	var spans []span
	for i := 0; i+1 < len(bounds); i++ {
		if bounds[i+1]-bounds[i] >= minSplitPart {
			spans = append(spans, span{bounds[i], bounds[i+1]})
		}
	}
	if len(spans) < 2 {
		return nil, fmt.Errorf("no split point falls inside the %.2fs video", info.Duration)
	}

	dir := filepath.Join(p.env.VideosDir, "split_"+strings.ToLower(shortuuid.New()[:10]))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("could not create split directory: %w", err)
	}

	copyCodec := ps.Bool("copy_codec")
	parts := make([]task.Artifact, len(spans))
	pl := pool.New().WithMaxGoroutines(p.env.parallelism()).WithContext(ctx).WithCancelOnError()
	for i, s := range spans {
		pl.Go(func(ctx context.Context) error {
			res, err := p.env.Engine.Transform(ctx, ffmpeg.CommandSpec{
				Inputs: []ffmpeg.Input{{Path: path, Options: []string{"-ss", seconds(s.start)}}},
				Args:   append([]string{"-t", seconds(s.end - s.start)}, codecArgs(copyCodec)...),
				Output: filepath.Join(dir, fmt.Sprintf("part_%d.mp4", i+1)),
				Encode: !copyCodec,
			})
			if err != nil {
				return fmt.Errorf("part %d: %w", i+1, err)
			}
			parts[i] = task.Artifact{Path: res.OutputPath, Duration: res.Duration}
			return nil
		})
	}
	if err := pl.Wait(); err != nil {
		if cleanupErr := removeParts(dir, parts); cleanupErr != nil {
			log.Warnf("Could not remove split parts in %s: %v", dir, cleanupErr)
		}
		return nil, err
	}

	var total float64
	for _, part := range parts {
		total += part.Duration
	}
	return &task.Result{
		Duration: total,
		Parts:    parts,
		Details:  map[string]any{"output_dir": dir, "part_count": len(parts)},
	}, nil
}

func removeParts(dir string, parts []task.Artifact) error {
	var err error
	for _, part := range parts {
		if part.Path != "" {
			if rmErr := os.Remove(part.Path); rmErr != nil && !os.IsNotExist(rmErr) {
				err = multierr.Append(err, rmErr)
			}
		}
	}
	return multierr.Append(err, os.RemoveAll(dir))
}

func (p *ClipProcessor) merge(ctx context.Context, ps params.Set) (*task.Result, error) {
	paths := ps.Strings("video_paths")
	infos, err := p.env.probeAll(ctx, paths)
	if err != nil {
		return nil, err
	}
	var transition *planner.Transition
	if kind, ok := ps.OptionalString("transition"); ok {
		transition = &planner.Transition{Kind: xfadeName(kind, ""), Duration: ps.Float("transition_duration")}
	}
	plan, err := planner.Sequence(toClips(paths, infos), transition)
	if err != nil {
		return nil, err
	}
	res, err := newAssembler(p.env).assemble(ctx, plan, infos, "", p.env.output("clip", "merge"))
	if err != nil {
		return nil, err
	}
	return &task.Result{
		OutputPath: res.OutputPath,
		Duration:   res.Duration,
		Details:    map[string]any{"video_count": len(paths), "transitions": plan.Transitions()},
	}, nil
}

// atempoChain expresses factor as a product of atempo steps within [0.5, 2].
func atempoChain(factor float64) string {
	var steps []string
	for factor > 2 {
		steps = append(steps, "atempo=2.0")
		factor /= 2
	}
	for factor < 0.5 {
		steps = append(steps, "atempo=0.5")
		factor /= 0.5
	}
	steps = append(steps, "atempo="+seconds(factor))
	return strings.Join(steps, ",")
}

func (p *ClipProcessor) speed(ctx context.Context, ps params.Set) (*task.Result, error) {
	path := ps.String("video_path")
	info, err := p.env.Engine.Probe(ctx, path)
	if err != nil {
		return nil, err
	}
	factor := ps.Float("speed_factor")

	args := []string{"-map", "[v]"}
	filter := fmt.Sprintf("[0:v]setpts=PTS/%s[v]", seconds(factor))
	if info.HasAudio {
		filter += fmt.Sprintf(";[0:a]%s[a]", atempoChain(factor))
		args = append(args, "-map", "[a]")
	}
	res, err := p.env.Engine.Transform(ctx, ffmpeg.CommandSpec{
		Inputs: []ffmpeg.Input{{Path: path}},
		Filter: filter,
		Args:   append(args, encodeArgs(false)...),
		Output: p.env.output("clip", "speed"),
		Encode: true,
	})
	if err != nil {
		return nil, err
	}
	return &task.Result{
		OutputPath: res.OutputPath,
		Duration:   res.Duration,
		Details:    map[string]any{"speed_factor": factor, "original_duration": info.Duration},
	}, nil
}

func (p *ClipProcessor) reverse(ctx context.Context, ps params.Set) (*task.Result, error) {
	path := ps.String("video_path")
	withAudio := ps.Bool("with_audio")
	args := []string{"-vf", "reverse"}
	if withAudio {
		args = append(args, "-af", "areverse")
		args = append(args, encodeArgs(false)...)
	} else {
		args = append(args, "-an", "-c:v", "libx264", "-pix_fmt", "yuv420p")
	}
	res, err := p.env.Engine.Transform(ctx, ffmpeg.CommandSpec{
		Inputs: []ffmpeg.Input{{Path: path}},
		Args:   args,
		Output: p.env.output("clip", "reverse"),
		Encode: true,
	})
	if err != nil {
		return nil, err
	}
	return &task.Result{
		OutputPath: res.OutputPath,
		Duration:   res.Duration,
		Details:    map[string]any{"with_audio": withAudio},
	}, nil
}
