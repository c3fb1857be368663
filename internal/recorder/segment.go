package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/livarr/livarr/internal/danmaku"
	"github.com/livarr/livarr/internal/observability"
)

// CaptureSource describes where a segment's video and chat come from.
type CaptureSource struct {
	StreamURL string
	Headers   map[string]string
	RoomID    string
}

// SegmentResult reports what one segment capture produced.
type SegmentResult struct {
	ExitCode     int
	ChatMessages int
	VideoPath    string
	ChatPath     string
}

// Pipeline captures a video segment and its chat transcript together.
type Pipeline struct {
	recorder  *Recorder
	collector *danmaku.Collector
	logger    *slog.Logger
}

// NewPipeline creates a segment pipeline.
func NewPipeline(recorder *Recorder, collector *danmaku.Collector, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		recorder:  recorder,
		collector: collector,
		logger:    observability.WithComponent(logger, "recorder.pipeline"),
	}
}

// Capture records src into basePath.flv and basePath.xml for duration.
// Video and chat run concurrently for the full duration regardless of
// each other's outcome. Both artifacts are written with a .part suffix
// and promoted once their capture finishes; an artifact that was never
// produced is simply skipped.
func (p *Pipeline) Capture(ctx context.Context, src CaptureSource, basePath string, duration time.Duration) (*SegmentResult, error) {
	if duration <= 0 {
		return &SegmentResult{}, nil
	}

	videoPart := basePath + ".flv.part"
	chatPart := basePath + ".xml.part"

	var (
		wg        sync.WaitGroup
		exitCode  int
		recordErr error
		messages  int
		chatErr   error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		exitCode, recordErr = p.recorder.Record(ctx, src.StreamURL, src.Headers, videoPart, duration)
	}()
	go func() {
		defer wg.Done()
		messages, chatErr = p.collector.Collect(ctx, src.RoomID, chatPart, duration)
	}()
	wg.Wait()

	result := &SegmentResult{ExitCode: exitCode, ChatMessages: messages}

	var videoErr, chatPromoteErr error
	result.VideoPath, videoErr = promote(videoPart)
	result.ChatPath, chatPromoteErr = promote(chatPart)

	return result, errors.Join(recordErr, chatErr, videoErr, chatPromoteErr)
}

// promote strips the .part suffix from an artifact that exists. A
// missing artifact is not an error: a capture that produced no output
// has nothing to promote.
func promote(partPath string) (string, error) {
	final, ok := strings.CutSuffix(partPath, ".part")
	if !ok {
		return "", fmt.Errorf("artifact %s lacks .part suffix", partPath)
	}
	if _, err := os.Stat(partPath); err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	if err := os.Rename(partPath, final); err != nil {
		return "", fmt.Errorf("promoting %s: %w", partPath, err)
	}
	return final, nil
}
