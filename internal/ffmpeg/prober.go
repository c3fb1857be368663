package ffmpeg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// Resolution is a video frame size in pixels.
type Resolution struct {
	Width  int
	Height int
}

// String returns the resolution as WIDTHxHEIGHT.
func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// Prober inspects media files with ffprobe.
type Prober struct {
	ffprobePath string
	timeout     time.Duration
}

// NewProber creates a prober using the given ffprobe binary.
func NewProber(ffprobePath string) *Prober {
	return &Prober{
		ffprobePath: ffprobePath,
		timeout:     30 * time.Second,
	}
}

// WithTimeout sets a custom probe timeout.
func (p *Prober) WithTimeout(timeout time.Duration) *Prober {
	p.timeout = timeout
	return p
}

// VideoResolution probes the dimensions of the first video stream.
func (p *Prober) VideoResolution(ctx context.Context, path string) (Resolution, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.ffprobePath,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height",
		"-of", "json",
		path,
	)

	output, err := cmd.Output()
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Resolution{}, fmt.Errorf("probe timeout after %v", p.timeout)
		}
		return Resolution{}, fmt.Errorf("ffprobe failed: %w", err)
	}

	return parseResolution(output, path)
}

func parseResolution(data []byte, path string) (Resolution, error) {
	var probed struct {
		Streams []struct {
			Width  int `json:"width"`
			Height int `json:"height"`
		} `json:"streams"`
	}
	if err := json.Unmarshal(data, &probed); err != nil {
		return Resolution{}, fmt.Errorf("parsing ffprobe output: %w", err)
	}
	if len(probed.Streams) == 0 {
		return Resolution{}, fmt.Errorf("no video stream in %s", path)
	}
	res := Resolution{
		Width:  probed.Streams[0].Width,
		Height: probed.Streams[0].Height,
	}
	if res.Width <= 0 || res.Height <= 0 {
		return Resolution{}, fmt.Errorf("stream reports no dimensions for %s", path)
	}
	return res, nil
}
