// Package download fetches episode audio over HTTP with streaming
// writes, so large files never live in memory.
package download

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/sifterhq/sifter/internal/config"
	"github.com/sifterhq/sifter/internal/httpclient"
)

// Downloader fetches episode audio to local files.
type Downloader struct {
	client *httpclient.Client
	cfg    config.DownloadConfig
	logger *slog.Logger
}

// New creates a downloader. Retries and backoff are delegated to the
// shared HTTP client.
func New(cfg config.DownloadConfig, logger *slog.Logger) *Downloader {
	if logger == nil {
		logger = slog.Default()
	}

	clientCfg := httpclient.DefaultConfig()
	clientCfg.Timeout = cfg.Timeout
	clientCfg.UserAgent = cfg.UserAgent
	clientCfg.Logger = logger
	if cfg.Attempts > 0 {
		clientCfg.RetryAttempts = cfg.Attempts - 1
	}
	if cfg.RetryDelay > 0 {
		clientCfg.RetryDelay = cfg.RetryDelay
	}

	return &Downloader{
		client: httpclient.New(clientCfg),
		cfg:    cfg,
		logger: logger,
	}
}

// Fetch downloads the audio at url to destPath, streaming the body to
// disk. The destination is written via a temp file and renamed into
// place so a partially written file never looks complete.
func (d *Downloader) Fetch(ctx context.Context, url, destPath string) (int64, error) {
	if d.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.Timeout)
		defer cancel()
	}

	d.logger.Info("downloading episode audio",
		slog.String("url", url),
		slog.String("dest", destPath))

	resp, err := d.client.Get(ctx, url)
	if err != nil {
		return 0, fmt.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("fetching %s: unexpected status %d", url, resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return 0, fmt.Errorf("creating destination dir: %w", err)
	}

	tmpPath := destPath + ".part"
	out, err := os.Create(tmpPath)
	if err != nil {
		return 0, fmt.Errorf("creating destination file: %w", err)
	}

	written, err := io.Copy(out, resp.Body)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("writing audio to %s: %w", destPath, err)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("finalizing download: %w", err)
	}

	d.logger.Info("episode audio downloaded",
		slog.String("dest", destPath),
		slog.Int64("bytes", written))

	return written, nil
}
