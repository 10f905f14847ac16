package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/lithammer/shortuuid/v4"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"videdit/config"
)

const stderrExcerptLimit = 2048

// Input is one engine input with the options placed before its -i.
type Input struct {
	Path    string
	Options []string
}

// CommandSpec describes one engine invocation. Output is the final artifact
// path; the engine itself writes to a staging path first.
type CommandSpec struct {
	Inputs []Input
	Filter string
	Args   []string
	Output string
	// Encode appends the configured encoder arguments.
	Encode bool
}

type Result struct {
	OutputPath string
	Duration   float64
	ExitStatus int
	Log        string
}

// EngineError is a non-zero engine exit.
type EngineError struct {
	ExitStatus int
	Stderr     string
}

func (e *EngineError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		return fmt.Sprintf("engine exited with status %d", e.ExitStatus)
	}
	return fmt.Sprintf("engine exited with status %d: %s", e.ExitStatus, msg)
}

func (e *EngineError) ErrorKind() string { return "engine" }

type Runner struct {
	cfg        *config.Config
	engineArgs []string
	stagingDir string
}

func NewRunner(cfg *config.Config) (*Runner, error) {
	for _, bin := range []string{cfg.FFBin, cfg.FFProbeBin} {
		if _, err := exec.LookPath(bin); err != nil {
			return nil, fmt.Errorf("engine binary not found or not in PATH: %s", bin)
		}
	}

	engineArgs, err := ParseEngineArgs(cfg.EngineArgs)
	if err != nil {
		return nil, err
	}

	for _, dir := range []string{cfg.VideosDir(), cfg.StagingDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("could not create directory %s: %w", dir, err)
		}
	}
	log.Infof("Using data directory: %s", cfg.DataDir)

	return &Runner{
		cfg:        cfg,
		engineArgs: engineArgs,
		stagingDir: cfg.StagingDir(),
	}, nil
}

// Transform runs one engine invocation. The output appears at spec.Output
// only if the engine succeeded; on failure or cancellation the staging file
// is removed.
func (r *Runner) Transform(ctx context.Context, spec CommandSpec) (*Result, error) {
	if len(spec.Inputs) == 0 || spec.Output == "" {
		return nil, errors.New("command needs at least one input and an output")
	}
	if err := r.checkResources(); err != nil {
		return nil, fmt.Errorf("insufficient system resources: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(spec.Output), 0o755); err != nil {
		return nil, fmt.Errorf("could not create output directory: %w", err)
	}

	staging := filepath.Join(r.stagingDir, shortuuid.New()+"_"+filepath.Base(spec.Output))
	args := r.buildArgs(spec, staging)

	cmd := exec.CommandContext(ctx, r.cfg.FFBin, args...)
	var outputBuf bytes.Buffer
	cmd.Stdout = &outputBuf
	cmd.Stderr = &outputBuf

	log.Debugf("Executing: %s %s", cmd.Path, strings.Join(args, " "))

	err := cmd.Run()
	outputLog := outputBuf.String()
	if err != nil {
		os.Remove(staging)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		status := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			status = exitErr.ExitCode()
		}
		return nil, &EngineError{ExitStatus: status, Stderr: excerpt(outputLog)}
	}

	if err := os.Rename(staging, spec.Output); err != nil {
		os.Remove(staging)
		return nil, fmt.Errorf("could not move output into place: %w", err)
	}

	res := &Result{OutputPath: spec.Output, Log: outputLog}
	info, err := r.Probe(ctx, spec.Output)
	if err != nil {
		log.Warnf("Could not probe output %s: %v", spec.Output, err)
	} else {
		res.Duration = info.Duration
	}
	return res, nil
}

func (r *Runner) buildArgs(spec CommandSpec, output string) []string {
	args := []string{"-y", "-hide_banner", "-loglevel", "error"}
	for _, in := range spec.Inputs {
		args = append(args, in.Options...)
		args = append(args, "-i", in.Path)
	}
	if spec.Filter != "" {
		args = append(args, "-filter_complex", spec.Filter)
	}
	args = append(args, spec.Args...)
	if spec.Encode {
		args = append(args, r.engineArgs...)
	}
	return append(args, output)
}

func excerpt(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= stderrExcerptLimit {
		return s
	}
	return s[len(s)-stderrExcerptLimit:]
}

// OutputPath returns a fresh artifact path under the videos directory:
// <processor>_<operation>_<yyyymmdd_hhmmss>_<id>.<ext>.
func OutputPath(videosDir, processor, operation, ext string) string {
	ext = strings.TrimPrefix(ext, ".")
	name := fmt.Sprintf("%s_%s_%s_%s.%s", processor, operation, time.Now().Format("20060102_150405"), shortuuid.New()[:8], ext)
	return filepath.Join(videosDir, name)
}

// checkResources verifies that the system has enough free resources to start a new job.
func (r *Runner) checkResources() error {
	// CPU
	if r.cfg.ThrottleCPU > 0 {
		p, err := cpu.Percent(time.Second, false)
		if err != nil {
			log.Warnf("Could not get CPU usage: %v", err)
		} else if len(p) > 0 && p[0] > (100.0-r.cfg.ThrottleCPU) {
			return fmt.Errorf("not enough idle CPU. Current usage: %.2f%%, Idle threshold: %.2f%%", p[0], r.cfg.ThrottleCPU)
		}
	}

	// Memory
	if r.cfg.ThrottleFreeMem > 0 {
		vm, err := mem.VirtualMemory()
		if err != nil {
			log.Warnf("Could not get memory usage: %v", err)
		} else if vm.Available < uint64(r.cfg.ThrottleFreeMem) {
			return fmt.Errorf("not enough free memory. Available: %d, Required: %d", vm.Available, r.cfg.ThrottleFreeMem)
		}
	}

	// Disk
	if r.cfg.ThrottleFreeDisk > 0 {
		d, err := disk.Usage(r.stagingDir)
		if err != nil {
			log.Warnf("Could not get disk usage for %s: %v", r.stagingDir, err)
		} else if d.Free < uint64(r.cfg.ThrottleFreeDisk) {
			return fmt.Errorf("not enough free disk space. Available: %d, Required: %d", d.Free, r.cfg.ThrottleFreeDisk)
		}
	}
	return nil
}
