package processing

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanup(t *testing.T) {
	env := newStageEnv(t)

	env.writeProc(t, "small.flv", "123")
	env.writeProc(t, "small.xml", transcriptFixture)
	env.writeProc(t, "recording.flv", "12")
	env.writeProc(t, "recording.flv.part", "")
	env.writeProc(t, "boundary.flv", strings.Repeat("x", 10))
	env.writeProc(t, "big.flv", strings.Repeat("x", 64))
	env.writeProc(t, "big.xml", transcriptFixture)

	require.NoError(t, env.stage.cleanup(context.Background(), env.procDir))

	// Undersized segment and its transcript are gone.
	assert.NoFileExists(t, filepath.Join(env.procDir, "small.flv"))
	assert.NoFileExists(t, filepath.Join(env.procDir, "small.xml"))

	// A segment still being written is untouched.
	assert.FileExists(t, filepath.Join(env.procDir, "recording.flv"))

	// Exactly at the limit is retained.
	assert.FileExists(t, filepath.Join(env.procDir, "boundary.flv"))

	// Large segments keep their transcripts.
	assert.FileExists(t, filepath.Join(env.procDir, "big.flv"))
	assert.FileExists(t, filepath.Join(env.procDir, "big.xml"))
}

func TestCleanup_NoTranscriptPair(t *testing.T) {
	env := newStageEnv(t)
	env.writeProc(t, "small.flv", "1")

	require.NoError(t, env.stage.cleanup(context.Background(), env.procDir))
	assert.NoFileExists(t, filepath.Join(env.procDir, "small.flv"))
}
