// Package storage manages sifter's on-disk layout: ephemeral per-entity
// work directories and the published digest directory.
package storage

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/sifterhq/sifter/internal/config"
)

// Workspace provides working directories for pipeline stages and the
// publish location for finished digests. All per-entity paths are
// deterministic so interrupted stages can resume or clean up.
type Workspace struct {
	cfg    config.StorageConfig
	logger *slog.Logger
}

// New creates a workspace rooted at the configured directories.
func New(cfg config.StorageConfig, logger *slog.Logger) *Workspace {
	if logger == nil {
		logger = slog.Default()
	}
	return &Workspace{cfg: cfg, logger: logger}
}

// Init creates the root directories.
func (w *Workspace) Init() error {
	for _, dir := range []string{w.cfg.TempDir, w.cfg.EpisodeTempDir(), w.cfg.DigestDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}
	return nil
}

// EpisodeAudioPath returns the download target for an episode's audio.
func (w *Workspace) EpisodeAudioPath(episodeID, ext string) string {
	if ext == "" {
		ext = ".mp3"
	}
	return filepath.Join(w.cfg.EpisodeTempDir(), episodeID+ext)
}

// EpisodeChunkDir returns the directory holding an episode's
// transcription chunks.
func (w *Workspace) EpisodeChunkDir(episodeID string) string {
	return filepath.Join(w.cfg.EpisodeTempDir(), episodeID+"-chunks")
}

// EpisodeCompressedPath returns the path for an episode's compressed
// intermediate used during chunked transcription.
func (w *Workspace) EpisodeCompressedPath(episodeID string) string {
	return filepath.Join(w.cfg.EpisodeTempDir(), episodeID+"-compressed.mp3")
}

// DigestWorkDir returns the scratch directory for digest assembly.
func (w *Workspace) DigestWorkDir(digestID string) string {
	return filepath.Join(w.cfg.TempDir, "digests", digestID)
}

// EnsureDir creates dir and any parents.
func (w *Workspace) EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}
	return nil
}

// CleanupEpisode removes all ephemeral files for an episode. Idempotent:
// missing files are not an error.
func (w *Workspace) CleanupEpisode(episodeID string) {
	paths := []string{
		w.EpisodeAudioPath(episodeID, ".mp3"),
		w.EpisodeCompressedPath(episodeID),
	}
	for _, path := range paths {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			w.logger.Warn("failed to remove episode file",
				slog.String("path", path),
				slog.Any("error", err))
		}
	}
	if err := os.RemoveAll(w.EpisodeChunkDir(episodeID)); err != nil {
		w.logger.Warn("failed to remove episode chunk dir",
			slog.String("episode_id", episodeID),
			slog.Any("error", err))
	}
}

// CleanupDigest removes the digest's scratch directory. Idempotent.
func (w *Workspace) CleanupDigest(digestID string) {
	if err := os.RemoveAll(w.DigestWorkDir(digestID)); err != nil {
		w.logger.Warn("failed to remove digest work dir",
			slog.String("digest_id", digestID),
			slog.Any("error", err))
	}
}

// Publish moves a finished digest MP3 into the publish directory and
// returns its opaque audio URL. Falls back to copy when the rename
// crosses filesystems.
func (w *Workspace) Publish(srcPath, digestID string) (string, error) {
	if err := os.MkdirAll(w.cfg.DigestDir, 0o755); err != nil {
		return "", fmt.Errorf("creating digest dir: %w", err)
	}

	dst := w.cfg.DigestPath(digestID)
	if err := os.Rename(srcPath, dst); err != nil {
		if err := copyFile(srcPath, dst); err != nil {
			return "", fmt.Errorf("publishing digest: %w", err)
		}
		os.Remove(srcPath)
	}

	w.logger.Info("published digest audio",
		slog.String("digest_id", digestID),
		slog.String("path", dst))

	return w.cfg.DigestAudioURL(digestID), nil
}

// PublishedPath returns the location of a published digest artifact.
func (w *Workspace) PublishedPath(digestID string) string {
	return w.cfg.DigestPath(digestID)
}

// FileSize returns the size in bytes of the file at path.
func FileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("stating file: %w", err)
	}
	return info.Size(), nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("reading source: %w", err)
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return fmt.Errorf("writing destination: %w", err)
	}
	return nil
}
