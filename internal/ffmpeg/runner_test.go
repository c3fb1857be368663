package ffmpeg

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRunner() *Runner {
	return NewRunner(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func shCommand(script string) *Command {
	return &Command{Binary: "sh", Args: []string{"-c", script}, Input: "test"}
}

func TestRunner_Success(t *testing.T) {
	res, err := testRunner().Run(context.Background(), shCommand("exit 0"), time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Success())
	assert.Equal(t, 0, res.ExitCode)
	assert.False(t, res.Terminated)
}

func TestRunner_NonzeroExitIsNotAnError(t *testing.T) {
	res, err := testRunner().Run(context.Background(), shCommand("exit 3"), time.Minute)
	require.NoError(t, err)
	assert.False(t, res.Success())
	assert.Equal(t, 3, res.ExitCode)
	assert.False(t, res.Terminated)
}

func TestRunner_CapturesStderr(t *testing.T) {
	res, err := testRunner().Run(context.Background(), shCommand("echo boom >&2; exit 1"), time.Minute)
	require.NoError(t, err)
	assert.Contains(t, res.Stderr, "boom")
}

func TestRunner_WaitBudgetTerminates(t *testing.T) {
	start := time.Now()
	res, err := testRunner().Run(context.Background(), shCommand("sleep 30"), 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, ExitCodeTimeout, res.ExitCode)
	assert.True(t, res.Terminated)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestRunner_ContextCancelTerminates(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	res, err := testRunner().Run(ctx, shCommand("sleep 30"), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, ExitCodeTimeout, res.ExitCode)
	assert.True(t, res.Terminated)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestRunner_ZeroWaitDisablesBudget(t *testing.T) {
	res, err := testRunner().Run(context.Background(), shCommand("exit 0"), 0)
	require.NoError(t, err)
	assert.True(t, res.Success())
	assert.False(t, res.Terminated)
}

func TestRunner_StartError(t *testing.T) {
	cmd := &Command{Binary: "/nonexistent/ffmpeg", Args: []string{"-version"}}
	_, err := testRunner().Run(context.Background(), cmd, time.Minute)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "starting")
}

func TestTailBuffer_RetainsTail(t *testing.T) {
	buf := newTailBuffer(8)

	n, err := buf.Write([]byte("0123456789AB"))
	require.NoError(t, err)
	assert.Equal(t, 12, n)
	assert.Equal(t, "456789AB", buf.String())

	_, err = buf.Write([]byte("CD"))
	require.NoError(t, err)
	assert.Equal(t, "6789ABCD", buf.String())
}

func TestTailBuffer_UnderLimit(t *testing.T) {
	buf := newTailBuffer(64)
	_, err := buf.Write([]byte("short"))
	require.NoError(t, err)
	assert.Equal(t, "short", buf.String())
}
