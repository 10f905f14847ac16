// Package processors implements the clip, filter, transition and auto
// processors. Each one validates its operations' parameters and turns them
// into media engine invocations.
package processors

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/sourcegraph/conc/pool"

	"videdit/ffmpeg"
	"videdit/planner"
)

// Engine runs media transformations.
type Engine interface {
	Transform(ctx context.Context, spec ffmpeg.CommandSpec) (*ffmpeg.Result, error)
	Probe(ctx context.Context, path string) (*ffmpeg.MediaInfo, error)
}

// Env holds what every processor needs. It is built once at startup.
type Env struct {
	Engine  Engine
	Planner *planner.Planner
	// VideosDir receives final artifacts; WorkDir holds intermediates.
	VideosDir    string
	WorkDir      string
	MaxInputSize int64
	Parallelism  int
	// Redistribution places the time a too-short clip cannot supply.
	Redistribution planner.Redistribution
}

func (e Env) parallelism() int {
	if e.Parallelism < 1 {
		return 1
	}
	return e.Parallelism
}

func (e Env) output(processor, operation string) string {
	return ffmpeg.OutputPath(e.VideosDir, processor, operation, "mp4")
}

// probeAll probes every path concurrently, keeping the input order.
func (e Env) probeAll(ctx context.Context, paths []string) ([]*ffmpeg.MediaInfo, error) {
	infos := make([]*ffmpeg.MediaInfo, len(paths))
	p := pool.New().WithMaxGoroutines(e.parallelism()).WithContext(ctx).WithCancelOnError()
	for i, path := range paths {
		p.Go(func(ctx context.Context) error {
			info, err := e.Engine.Probe(ctx, path)
			if err != nil {
				return fmt.Errorf("probe %s: %w", path, err)
			}
			if info.Duration <= 0 {
				return fmt.Errorf("probe %s: media has no duration", path)
			}
			infos[i] = info
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return nil, err
	}
	return infos, nil
}

func toClips(paths []string, infos []*ffmpeg.MediaInfo) []planner.Clip {
	clips := make([]planner.Clip, len(paths))
	for i, path := range paths {
		clips[i] = planner.Clip{Path: path, Duration: infos[i].Duration, HasAudio: infos[i].HasAudio}
	}
	return clips
}

func seconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

// encodeArgs re-encodes video with the default codec and copies or encodes
// audio.
func encodeArgs(copyAudio bool) []string {
	args := []string{"-c:v", "libx264", "-pix_fmt", "yuv420p"}
	if copyAudio {
		return append(args, "-c:a", "copy")
	}
	return append(args, "-c:a", "aac")
}

func removeDir(dir string) {
	if dir != "" {
		_ = os.RemoveAll(dir)
	}
}
