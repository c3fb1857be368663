package ffmpeg

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// BinaryInfo describes the resolved ffmpeg installation.
type BinaryInfo struct {
	FFmpegPath  string `json:"ffmpeg_path"`
	FFprobePath string `json:"ffprobe_path"`
	Version     string `json:"version"`
}

// BinaryDetector resolves and caches ffmpeg binary locations.
type BinaryDetector struct {
	ffmpegName  string
	ffprobeName string

	mu           sync.RWMutex
	info         *BinaryInfo
	lastDetected time.Time
	cacheTTL     time.Duration
}

// NewBinaryDetector creates a detector for the configured binary
// names. Bare names are resolved through PATH.
func NewBinaryDetector(ffmpegName, ffprobeName string) *BinaryDetector {
	return &BinaryDetector{
		ffmpegName:  ffmpegName,
		ffprobeName: ffprobeName,
		cacheTTL:    5 * time.Minute,
	}
}

// WithCacheTTL sets the cache TTL for binary detection.
func (d *BinaryDetector) WithCacheTTL(ttl time.Duration) *BinaryDetector {
	d.cacheTTL = ttl
	return d
}

// Detect resolves the binaries and the ffmpeg version, serving cached
// results within the TTL window.
func (d *BinaryDetector) Detect(ctx context.Context) (*BinaryInfo, error) {
	d.mu.RLock()
	if d.info != nil && time.Since(d.lastDetected) < d.cacheTTL {
		info := d.info
		d.mu.RUnlock()
		return info, nil
	}
	d.mu.RUnlock()

	d.mu.Lock()
	defer d.mu.Unlock()

	// Double-check after acquiring write lock
	if d.info != nil && time.Since(d.lastDetected) < d.cacheTTL {
		return d.info, nil
	}

	info, err := d.detect(ctx)
	if err != nil {
		return nil, err
	}

	d.info = info
	d.lastDetected = time.Now()
	return info, nil
}

// Clear clears the cached binary information.
func (d *BinaryDetector) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.info = nil
}

func (d *BinaryDetector) detect(ctx context.Context) (*BinaryInfo, error) {
	info := &BinaryInfo{}

	ffmpegPath, err := exec.LookPath(d.ffmpegName)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found: %w", err)
	}
	info.FFmpegPath = ffmpegPath

	// ffprobe is optional. Subtitle conversion needs it to size the
	// overlay; when it is missing those files are skipped with a
	// logged error instead of failing detection.
	if ffprobePath, err := exec.LookPath(d.ffprobeName); err == nil {
		info.FFprobePath = ffprobePath
	}

	version, err := d.getVersion(ctx, ffmpegPath)
	if err != nil {
		return nil, fmt.Errorf("getting ffmpeg version: %w", err)
	}
	info.Version = version

	return info, nil
}

func (d *BinaryDetector) getVersion(ctx context.Context, ffmpegPath string) (string, error) {
	cmd := exec.CommandContext(ctx, ffmpegPath, "-version")
	output, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return parseVersion(string(output))
}

// parseVersion extracts the version token from ffmpeg -version output,
// e.g. "6.0", "n6.0-2-g..." or "6.0.1".
func parseVersion(output string) (string, error) {
	for _, line := range strings.Split(output, "\n") {
		if !strings.HasPrefix(line, "ffmpeg version") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) >= 3 {
			return parts[2], nil
		}
	}
	return "", fmt.Errorf("failed to parse ffmpeg version")
}
