// Package media inspects uploaded clips with the ffmpeg tool suite.
package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// ErrToolUnavailable is returned when the probe has no binary configured.
var ErrToolUnavailable = errors.New("media tool unavailable")

// CommandRunner executes external commands and returns stdout bytes.
type CommandRunner func(ctx context.Context, binary string, args ...string) ([]byte, error)

// Probe reads clip durations with ffprobe and grabs poster frames with ffmpeg.
type Probe struct {
	FFProbe string
	FFmpeg  string
	Run     CommandRunner
	Timeout time.Duration
}

// NewProbe constructs a Probe that shells out to the given binaries.
func NewProbe(ffprobe, ffmpeg string, timeout time.Duration) *Probe {
	if strings.TrimSpace(ffprobe) == "" {
		ffprobe = "ffprobe"
	}
	if strings.TrimSpace(ffmpeg) == "" {
		ffmpeg = "ffmpeg"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Probe{FFProbe: ffprobe, FFmpeg: ffmpeg, Run: defaultCommandRunner, Timeout: timeout}
}

// Duration returns the container duration of the clip at path.
func (p *Probe) Duration(ctx context.Context, path string) (time.Duration, error) {
	if p == nil || p.FFProbe == "" {
		return 0, ErrToolUnavailable
	}
	execCtx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	out, err := p.runner()(execCtx, p.FFProbe,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "json",
		path,
	)
	if err != nil {
		return 0, fmt.Errorf("ffprobe %s: %w", path, err)
	}

	var payload struct {
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
	}
	if err := json.Unmarshal(out, &payload); err != nil {
		return 0, fmt.Errorf("parse ffprobe output: %w", err)
	}
	if payload.Format.Duration == "" || payload.Format.Duration == "N/A" {
		return 0, errors.New("ffprobe reported no duration")
	}
	seconds, err := strconv.ParseFloat(payload.Format.Duration, 64)
	if err != nil || seconds < 0 {
		return 0, fmt.Errorf("ffprobe duration %q: invalid", payload.Format.Duration)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

// Thumbnail writes a single JPEG frame taken one second into the clip, or
// the first frame of shorter clips, to out.
func (p *Probe) Thumbnail(ctx context.Context, path, out string, clip time.Duration) error {
	if p == nil || p.FFmpeg == "" {
		return ErrToolUnavailable
	}
	execCtx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	offset := "1"
	if clip > 0 && clip <= time.Second {
		offset = "0"
	}
	if _, err := p.runner()(execCtx, p.FFmpeg,
		"-v", "error",
		"-y",
		"-ss", offset,
		"-i", path,
		"-frames:v", "1",
		"-q:v", "3",
		out,
	); err != nil {
		return fmt.Errorf("ffmpeg thumbnail %s: %w", path, err)
	}
	return nil
}

func (p *Probe) runner() CommandRunner {
	if p.Run == nil {
		return defaultCommandRunner
	}
	return p.Run
}

func defaultCommandRunner(ctx context.Context, binary string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, binary, args...)
	return cmd.Output()
}
