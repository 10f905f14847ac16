package ffmpeg

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
)

// MediaInfo is the subset of ffprobe output the processors need.
type MediaInfo struct {
	Duration float64
	Size     int64
	HasVideo bool
	HasAudio bool
	Width    int
	Height   int
	FPS      float64
}

type probeOutput struct {
	Format struct {
		Duration string `json:"duration"`
		Size     string `json:"size"`
	} `json:"format"`
	Streams []struct {
		CodecType  string `json:"codec_type"`
		Width      int    `json:"width"`
		Height     int    `json:"height"`
		RFrameRate string `json:"r_frame_rate"`
	} `json:"streams"`
}

// Probe reads container and stream information with ffprobe.
func (r *Runner) Probe(ctx context.Context, path string) (*MediaInfo, error) {
	cmd := exec.CommandContext(ctx, r.cfg.FFProbeBin,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("probe %s: %w: %s", path, err, excerpt(stderr.String()))
	}
	return parseProbe(stdout.Bytes())
}

func parseProbe(data []byte) (*MediaInfo, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode probe output: %w", err)
	}
	info := &MediaInfo{}
	if out.Format.Duration != "" {
		d, err := strconv.ParseFloat(out.Format.Duration, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid duration %q", out.Format.Duration)
		}
		info.Duration = d
	}
	if out.Format.Size != "" {
		info.Size, _ = strconv.ParseInt(out.Format.Size, 10, 64)
	}
	for _, s := range out.Streams {
		switch s.CodecType {
		case "video":
			if info.HasVideo {
				continue
			}
			info.HasVideo = true
			info.Width, info.Height = s.Width, s.Height
			info.FPS = parseRate(s.RFrameRate)
		case "audio":
			info.HasAudio = true
		}
	}
	return info, nil
}

func parseRate(rate string) float64 {
	num, den, found := strings.Cut(rate, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !found {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}

// DecodeSamples decodes the first audio stream of path into mono float
// samples in [-1, 1] at the given rate.
func (r *Runner) DecodeSamples(ctx context.Context, path string, sampleRate int) ([]float32, error) {
	cmd := exec.CommandContext(ctx, r.cfg.FFBin,
		"-i", path,
		"-vn",
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ar", strconv.Itoa(sampleRate),
		"-ac", "1",
		"-loglevel", "error",
		"pipe:1",
	)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start decoder: %w", err)
	}

	samples, readErr := readPCM(bufio.NewReader(stdout))
	waitErr := cmd.Wait()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if waitErr != nil {
		status := -1
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			status = exitErr.ExitCode()
		}
		return nil, &EngineError{ExitStatus: status, Stderr: excerpt(stderr.String())}
	}
	if readErr != nil {
		return nil, fmt.Errorf("failed to read audio: %w", readErr)
	}
	return samples, nil
}

// readPCM converts 16-bit little-endian samples. A trailing odd byte is ignored.
func readPCM(reader io.Reader) ([]float32, error) {
	var samples []float32
	buf := make([]byte, 4096)
	var carry []byte
	for {
		n, err := reader.Read(buf)
		chunk := append(carry, buf[:n]...)
		even := len(chunk) &^ 1
		for i := 0; i < even; i += 2 {
			samples = append(samples, float32(int16(binary.LittleEndian.Uint16(chunk[i:])))/32768.0)
		}
		carry = append([]byte(nil), chunk[even:]...)
		if errors.Is(err, io.EOF) {
			return samples, nil
		}
		if err != nil {
			return samples, err
		}
	}
}
