package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sifterhq/sifter/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testWorkspace(t *testing.T) *Workspace {
	t.Helper()
	root := t.TempDir()
	ws := New(config.StorageConfig{
		TempDir:        filepath.Join(root, "tmp"),
		DigestDir:      filepath.Join(root, "digests"),
		AudioURLPrefix: "/audio/digests",
	}, nil)
	require.NoError(t, ws.Init())
	return ws
}

func TestWorkspace_Paths(t *testing.T) {
	ws := testWorkspace(t)

	audio := ws.EpisodeAudioPath("01EP", ".mp3")
	assert.Contains(t, audio, "episodes")
	assert.Contains(t, audio, "01EP.mp3")

	// Default extension.
	assert.Contains(t, ws.EpisodeAudioPath("01EP", ""), "01EP.mp3")

	chunks := ws.EpisodeChunkDir("01EP")
	assert.Contains(t, chunks, "01EP-chunks")

	work := ws.DigestWorkDir("01DG")
	assert.Contains(t, work, "01DG")
}

func TestWorkspace_CleanupEpisode(t *testing.T) {
	ws := testWorkspace(t)

	audio := ws.EpisodeAudioPath("01EP", ".mp3")
	require.NoError(t, os.WriteFile(audio, []byte("audio"), 0o644))

	chunkDir := ws.EpisodeChunkDir("01EP")
	require.NoError(t, ws.EnsureDir(chunkDir))
	require.NoError(t, os.WriteFile(filepath.Join(chunkDir, "chunk-000.mp3"), []byte("c"), 0o644))

	ws.CleanupEpisode("01EP")

	assert.NoFileExists(t, audio)
	assert.NoDirExists(t, chunkDir)

	// Cleanup is idempotent.
	ws.CleanupEpisode("01EP")
}

func TestWorkspace_Publish(t *testing.T) {
	ws := testWorkspace(t)

	work := ws.DigestWorkDir("01DG")
	require.NoError(t, ws.EnsureDir(work))
	src := filepath.Join(work, "final.mp3")
	require.NoError(t, os.WriteFile(src, []byte("mp3 bytes"), 0o644))

	audioURL, err := ws.Publish(src, "01DG")
	require.NoError(t, err)
	assert.Equal(t, "/audio/digests/01DG.mp3", audioURL)

	published := ws.PublishedPath("01DG")
	data, err := os.ReadFile(published)
	require.NoError(t, err)
	assert.Equal(t, "mp3 bytes", string(data))
	assert.NoFileExists(t, src)

	size, err := FileSize(published)
	require.NoError(t, err)
	assert.Equal(t, int64(9), size)
}
