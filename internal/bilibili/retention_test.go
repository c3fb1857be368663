package bilibili

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetention_PolicyGatesSweep(t *testing.T) {
	env := newUploadEnv(t, &fakeBackend{})
	r := NewRetention(env.cfg, env.videos, testLogger())
	ctx := context.Background()

	ts := time.Now().Add(-3 * time.Hour)
	name := recordingName("主播", ts, "mp4")
	path := filepath.Join(env.uploadDir, name)
	require.NoError(t, os.WriteFile(path, []byte("video"), 0o644))
	row := mustVideo(t, env.videos, "旧回放", name, ts, nil)
	backdateRow(t, env.db, row.ID, time.Now().Add(-2*time.Hour))

	t.Run("deletion disabled", func(t *testing.T) {
		require.NoError(t, r.Sweep(ctx))
		assert.FileExists(t, path)
	})

	t.Run("immediate policy is not the sweeper's job", func(t *testing.T) {
		env.cfg.Processing.DeleteUploadedFiles = true
		env.cfg.Processing.DeleteUploadedFilesDelay = 0
		require.NoError(t, r.Sweep(ctx))
		assert.FileExists(t, path)
	})
}

func TestRetention_RemovesExpiredArtifacts(t *testing.T) {
	env := newUploadEnv(t, &fakeBackend{})
	env.cfg.Processing.DeleteUploadedFiles = true
	env.cfg.Processing.DeleteUploadedFilesDelay = time.Hour
	r := NewRetention(env.cfg, env.videos, testLogger())
	ctx := context.Background()

	oldTs := time.Now().Add(-3 * time.Hour)
	oldName := recordingName("主播", oldTs, "mp4")
	oldPath := filepath.Join(env.uploadDir, oldName)
	require.NoError(t, os.WriteFile(oldPath, []byte("video"), 0o644))
	oldRow := mustVideo(t, env.videos, "旧回放", oldName, oldTs, nil)
	backdateRow(t, env.db, oldRow.ID, time.Now().Add(-2*time.Hour))

	freshTs := time.Now().Add(-30 * time.Minute)
	freshName := recordingName("主播", freshTs, "mp4")
	freshPath := filepath.Join(env.uploadDir, freshName)
	require.NoError(t, os.WriteFile(freshPath, []byte("video"), 0o644))
	mustVideo(t, env.videos, "新回放", freshName, freshTs, nil)

	require.NoError(t, r.Sweep(ctx))

	assert.NoFileExists(t, oldPath)
	assert.FileExists(t, freshPath, "younger than the deletion delay")
}

func TestRetention_MissingArtifactTolerated(t *testing.T) {
	env := newUploadEnv(t, &fakeBackend{})
	env.cfg.Processing.DeleteUploadedFiles = true
	env.cfg.Processing.DeleteUploadedFilesDelay = time.Hour
	r := NewRetention(env.cfg, env.videos, testLogger())

	ts := time.Now().Add(-3 * time.Hour)
	row := mustVideo(t, env.videos, "旧回放", recordingName("主播", ts, "mp4"), ts, nil)
	backdateRow(t, env.db, row.ID, time.Now().Add(-2*time.Hour))

	require.NoError(t, r.Sweep(context.Background()))
}
