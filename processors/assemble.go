package processors

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sourcegraph/conc/pool"

	"videdit/ffmpeg"
	"videdit/planner"
)

const (
	assembleFPS     = 30
	defaultWidth    = 1280
	defaultHeight   = 720
	musicVolume     = "0.8"
	audioSampleRate = "44100"
)

// assembler turns a segment plan into a video: one extraction per segment,
// then a single join invocation, then an optional music mux.
type assembler struct {
	env Env
}

func newAssembler(env Env) *assembler {
	return &assembler{env: env}
}

type extracted struct {
	path     string
	duration float64
}

// assemble writes the plan to output. When music is set, the clips' own
// audio is replaced by the music track cut to the video's length.
func (a *assembler) assemble(ctx context.Context, plan *planner.Plan, infos []*ffmpeg.MediaInfo, music, output string) (*ffmpeg.Result, error) {
	if len(plan.Segments) == 0 {
		return nil, fmt.Errorf("plan has no segments")
	}
	if err := os.MkdirAll(a.env.WorkDir, 0o755); err != nil {
		return nil, fmt.Errorf("could not create work directory: %w", err)
	}
	tmp, err := os.MkdirTemp(a.env.WorkDir, "assemble_")
	if err != nil {
		return nil, fmt.Errorf("could not create work directory: %w", err)
	}
	defer removeDir(tmp)

	keepAudio := music == ""
	for _, info := range infos {
		keepAudio = keepAudio && info.HasAudio
	}

	parts, err := a.extract(ctx, plan, infos, keepAudio, tmp)
	if err != nil {
		return nil, err
	}

	joined := output
	if music != "" {
		joined = filepath.Join(tmp, "joined.mp4")
	}
	res, err := a.join(ctx, plan, parts, keepAudio, joined)
	if err != nil {
		return nil, err
	}
	if music == "" {
		return res, nil
	}
	return a.mux(ctx, res, music, output)
}

// extract cuts every segment into a normalized intermediate so the join
// sees identical frame size, rate and pixel format.
func (a *assembler) extract(ctx context.Context, plan *planner.Plan, infos []*ffmpeg.MediaInfo, keepAudio bool, dir string) ([]extracted, error) {
	w, h := defaultWidth, defaultHeight
	if len(infos) > 0 && infos[0].Width > 0 && infos[0].Height > 0 {
		w, h = infos[0].Width, infos[0].Height
	}
	vf := fmt.Sprintf(
		"scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2,setsar=1,fps=%d,format=yuv420p",
		w, h, w, h, assembleFPS)

	parts := make([]extracted, len(plan.Segments))
	p := pool.New().WithMaxGoroutines(a.env.parallelism()).WithContext(ctx).WithCancelOnError()
	for i, seg := range plan.Segments {
		p.Go(func(ctx context.Context) error {
			args := []string{"-t", seconds(seg.Duration()), "-vf", vf, "-c:v", "libx264", "-pix_fmt", "yuv420p"}
			if keepAudio {
				args = append(args, "-c:a", "aac", "-ar", audioSampleRate, "-ac", "2")
			} else {
				args = append(args, "-an")
			}
			res, err := a.env.Engine.Transform(ctx, ffmpeg.CommandSpec{
				Inputs: []ffmpeg.Input{{Path: plan.Clips[seg.Clip].Path, Options: []string{"-ss", seconds(seg.In)}}},
				Args:   args,
				Output: filepath.Join(dir, fmt.Sprintf("segment_%03d.mp4", i)),
			})
			if err != nil {
				return fmt.Errorf("segment %d: %w", i, err)
			}
			parts[i] = extracted{path: res.OutputPath, duration: res.Duration}
			if parts[i].duration <= 0 {
				parts[i].duration = seg.Duration()
			}
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return nil, err
	}
	return parts, nil
}

func (a *assembler) join(ctx context.Context, plan *planner.Plan, parts []extracted, keepAudio bool, output string) (*ffmpeg.Result, error) {
	spec := ffmpeg.CommandSpec{Output: output}
	for _, part := range parts {
		spec.Inputs = append(spec.Inputs, ffmpeg.Input{Path: part.path})
	}
	if len(parts) == 1 {
		spec.Args = []string{"-c", "copy"}
		return a.env.Engine.Transform(ctx, spec)
	}

	spec.Filter = joinFilter(plan, parts, keepAudio)
	spec.Args = []string{"-map", "[v]"}
	if keepAudio {
		spec.Args = append(spec.Args, "-map", "[a]")
	}
	spec.Args = append(spec.Args, encodeArgs(false)...)
	spec.Encode = true
	return a.env.Engine.Transform(ctx, spec)
}

// joinFilter chains the parts with a single concat when no boundary has a
// transition. Otherwise each boundary is joined pairwise: xfade (and
// acrossfade) where a transition is planned, a two-input concat elsewhere.
// An xfade starts at the accumulated length minus its duration.
func joinFilter(plan *planner.Plan, parts []extracted, keepAudio bool) string {
	aflag := 0
	if keepAudio {
		aflag = 1
	}
	if plan.Transitions() == 0 {
		var b strings.Builder
		for i := range parts {
			fmt.Fprintf(&b, "[%d:v]", i)
			if keepAudio {
				fmt.Fprintf(&b, "[%d:a]", i)
			}
		}
		a := ""
		if keepAudio {
			a = "[a]"
		}
		fmt.Fprintf(&b, "concat=n=%d:v=1:a=%d[v]%s", len(parts), aflag, a)
		return b.String()
	}

	var chains []string
	vPrev, aPrev := "[0:v]", "[0:a]"
	acc := parts[0].duration
	for i := 1; i < len(parts); i++ {
		vOut, aOut := fmt.Sprintf("[v%d]", i), fmt.Sprintf("[a%d]", i)
		if i == len(parts)-1 {
			vOut, aOut = "[v]", "[a]"
		}
		if t := plan.Segments[i].Transition; t != nil {
			offset := acc - t.Duration
			if offset < 0 {
				offset = 0
			}
			chains = append(chains, fmt.Sprintf("%s[%d:v]xfade=transition=%s:duration=%s:offset=%s%s",
				vPrev, i, t.Kind, seconds(t.Duration), seconds(offset), vOut))
			if keepAudio {
				chains = append(chains, fmt.Sprintf("%s[%d:a]acrossfade=d=%s%s", aPrev, i, seconds(t.Duration), aOut))
			}
			acc += parts[i].duration - t.Duration
		} else {
			chains = append(chains, fmt.Sprintf("%s[%d:v]concat=n=2:v=1:a=0%s", vPrev, i, vOut))
			if keepAudio {
				chains = append(chains, fmt.Sprintf("%s[%d:a]concat=n=2:v=0:a=1%s", aPrev, i, aOut))
			}
			acc += parts[i].duration
		}
		vPrev, aPrev = vOut, aOut
	}
	return strings.Join(chains, ";")
}

// mux lays the music under the joined video, trimmed to the video's length.
func (a *assembler) mux(ctx context.Context, video *ffmpeg.Result, music, output string) (*ffmpeg.Result, error) {
	duration := video.Duration
	if duration <= 0 {
		info, err := a.env.Engine.Probe(ctx, video.OutputPath)
		if err != nil {
			return nil, err
		}
		duration = info.Duration
	}
	return a.env.Engine.Transform(ctx, ffmpeg.CommandSpec{
		Inputs: []ffmpeg.Input{{Path: video.OutputPath}, {Path: music}},
		Filter: fmt.Sprintf("[1:a]atrim=0:%s,asetpts=PTS-STARTPTS,volume=%s[a]", seconds(duration), musicVolume),
		Args:   []string{"-map", "0:v", "-map", "[a]", "-c:v", "copy", "-c:a", "aac", "-shortest"},
		Output: output,
	})
}
