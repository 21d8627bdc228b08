package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/sifterhq/sifter/internal/config"
	"github.com/sifterhq/sifter/internal/storage"
)

const (
	// compressionBitrate shrinks oversized episodes before chunking.
	compressionBitrate = "64k"

	// compressedWindowStretch widens the configured window on the
	// 64 kbps intermediate, where a minute costs half the bytes of the
	// 128 kbps baseline the window length is tuned for. The default
	// 20-minute window stretches to 25.
	compressedWindowStretch = 1.25
)

// Chunk is one transcription unit on the original episode timeline.
type Chunk struct {
	Index    int
	Path     string
	Start    float64
	End      float64
	Duration float64
}

// ChunkPlan is the set of files to feed the transcriber, in order.
type ChunkPlan struct {
	Chunks []Chunk

	// Compressed reports whether the plan runs against a re-encoded
	// low-bitrate intermediate rather than the original download.
	Compressed bool
}

// Chunker prepares oversized episode audio for transcription: files at
// or under the per-call limit pass through untouched, larger ones are
// compressed and, if still too big, sliced into overlapping windows.
type Chunker struct {
	toolkit   AudioToolkit
	workspace *storage.Workspace
	sttCfg    config.STTConfig
	pipeCfg   config.PipelineConfig
	logger    *slog.Logger
}

// NewChunker creates a chunker.
func NewChunker(toolkit AudioToolkit, workspace *storage.Workspace, sttCfg config.STTConfig, pipeCfg config.PipelineConfig, logger *slog.Logger) *Chunker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chunker{
		toolkit:   toolkit,
		workspace: workspace,
		sttCfg:    sttCfg,
		pipeCfg:   pipeCfg,
		logger:    logger,
	}
}

// Prepare plans transcription for the downloaded episode audio. The
// size limit comparison is strictly greater-than: a file exactly at the
// limit does not need chunking.
func (c *Chunker) Prepare(ctx context.Context, episodeID, audioPath string) (*ChunkPlan, error) {
	size, err := storage.FileSize(audioPath)
	if err != nil {
		return nil, fmt.Errorf("sizing episode audio: %w", err)
	}
	limit := int64(c.sttCfg.MaxFileSize)

	if size <= limit {
		chunk, err := c.singleChunk(ctx, audioPath)
		if err != nil {
			return nil, err
		}
		return &ChunkPlan{Chunks: []Chunk{chunk}}, nil
	}

	// Try one pass of low-bitrate compression first.
	compressedPath := c.workspace.EpisodeCompressedPath(episodeID)
	if err := c.toolkit.Compress(ctx, audioPath, compressedPath, compressionBitrate); err != nil {
		return nil, fmt.Errorf("compressing episode audio: %w", err)
	}

	compressedSize, err := storage.FileSize(compressedPath)
	if err != nil {
		return nil, fmt.Errorf("sizing compressed audio: %w", err)
	}

	c.logger.Info("compressed oversized episode audio",
		slog.String("episode_id", episodeID),
		slog.Int64("original_bytes", size),
		slog.Int64("compressed_bytes", compressedSize))

	if compressedSize <= limit {
		chunk, err := c.singleChunk(ctx, compressedPath)
		if err != nil {
			return nil, err
		}
		return &ChunkPlan{Chunks: []Chunk{chunk}, Compressed: true}, nil
	}

	return c.sliceWindows(ctx, episodeID, compressedPath)
}

func (c *Chunker) singleChunk(ctx context.Context, path string) (Chunk, error) {
	probe, err := c.toolkit.Probe(ctx, path)
	if err != nil {
		return Chunk{}, fmt.Errorf("probing episode audio: %w", err)
	}
	duration := probe.DurationSeconds()
	return Chunk{
		Index:    0,
		Path:     path,
		Start:    0,
		End:      duration,
		Duration: duration,
	}, nil
}

func (c *Chunker) sliceWindows(ctx context.Context, episodeID, srcPath string) (*ChunkPlan, error) {
	probe, err := c.toolkit.Probe(ctx, srcPath)
	if err != nil {
		return nil, fmt.Errorf("probing compressed audio: %w", err)
	}
	total := probe.DurationSeconds()
	if total <= 0 {
		return nil, fmt.Errorf("compressed audio reports non-positive duration")
	}

	windows := planWindows(total, c.windowLen(), float64(c.pipeCfg.ChunkOverlap))

	chunkDir := c.workspace.EpisodeChunkDir(episodeID)
	if err := c.workspace.EnsureDir(chunkDir); err != nil {
		return nil, err
	}

	plan := &ChunkPlan{Compressed: true}
	for i, w := range windows {
		chunkPath := filepath.Join(chunkDir, fmt.Sprintf("chunk-%03d.mp3", i))
		if err := c.toolkit.ExtractWindow(ctx, srcPath, chunkPath, w.start, w.end-w.start); err != nil {
			return nil, fmt.Errorf("extracting chunk %d: %w", i, err)
		}
		plan.Chunks = append(plan.Chunks, Chunk{
			Index:    i,
			Path:     chunkPath,
			Start:    w.start,
			End:      w.end,
			Duration: w.end - w.start,
		})
	}

	c.logger.Info("sliced episode audio into chunks",
		slog.String("episode_id", episodeID),
		slog.Int("chunks", len(plan.Chunks)),
		slog.Float64("total_duration", total))

	return plan, nil
}

// windowLen is the transcription window length in seconds. Windows are
// only ever sliced from the compressed intermediate, so the configured
// base duration always stretches by the bitrate ratio.
func (c *Chunker) windowLen() float64 {
	base := c.pipeCfg.ChunkDuration
	if base <= 0 {
		base = 1200
	}
	return float64(base) * compressedWindowStretch
}

type window struct {
	start float64
	end   float64
}

// planWindows covers [0, total] with overlapping windows. Successive
// windows begin overlap seconds before the previous one ends, so no
// transcriber cutoff at a boundary loses content.
func planWindows(total, windowLen, overlap float64) []window {
	if windowLen <= 0 || total <= 0 {
		return nil
	}
	if overlap >= windowLen {
		overlap = 0
	}

	var windows []window
	stride := windowLen - overlap
	for start := 0.0; start < total; start += stride {
		end := start + windowLen
		if end > total {
			end = total
		}
		windows = append(windows, window{start: start, end: end})
		if end >= total {
			break
		}
	}
	return windows
}
