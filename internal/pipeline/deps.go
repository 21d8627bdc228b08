package pipeline

import (
	"context"

	"github.com/sifterhq/sifter/internal/ffmpeg"
)

// Fetcher downloads remote audio to a local path.
// *download.Downloader satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, url, destPath string) (int64, error)
}

// AudioToolkit is the slice of ffmpeg operations the stages use.
// *ffmpeg.Toolkit satisfies it.
type AudioToolkit interface {
	Probe(ctx context.Context, path string) (*ffmpeg.ProbeResult, error)
	SliceClip(ctx context.Context, srcPath, destPath string, start, duration float64) error
	Normalize(ctx context.Context, srcPath, destPath string) error
	Compress(ctx context.Context, srcPath, destPath, bitrate string) error
	ExtractWindow(ctx context.Context, srcPath, destPath string, start, duration float64) error
	Concatenate(ctx context.Context, segmentPaths []string, destPath string) error
}

var _ AudioToolkit = (*ffmpeg.Toolkit)(nil)
