package ffmpeg

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/sifterhq/sifter/internal/config"
)

// Canonical output format for digest audio. Every segment is normalized
// to this before concatenation so the concat demuxer can stream-copy.
const (
	CanonicalCodec      = "libmp3lame"
	CanonicalBitrate    = "128k"
	CanonicalSampleRate = 44100
	CanonicalChannels   = 2

	// fadeDuration softens clip boundaries.
	fadeDuration = 0.3
)

// Toolkit exposes the audio operations the pipeline needs on top of
// resolved ffmpeg/ffprobe binaries.
type Toolkit struct {
	bins   *Binaries
	logger *slog.Logger
}

// NewToolkit resolves binaries from config and returns a toolkit.
func NewToolkit(cfg config.FFmpegConfig, logger *slog.Logger) (*Toolkit, error) {
	bins, err := FindBinaries(cfg)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Toolkit{bins: bins, logger: logger}, nil
}

// Available reports whether both binaries respond to -version.
func (t *Toolkit) Available(ctx context.Context) bool {
	for _, bin := range []string{t.bins.FFmpeg, t.bins.FFprobe} {
		if err := exec.CommandContext(ctx, bin, "-version").Run(); err != nil {
			return false
		}
	}
	return true
}

// Probe inspects a media file.
func (t *Toolkit) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	return probe(ctx, t.bins.FFprobe, path)
}

// SliceClip extracts [start, start+duration) from srcPath, applies short
// fades at both edges, and writes canonical MP3 to destPath.
func (t *Toolkit) SliceClip(ctx context.Context, srcPath, destPath string, start, duration float64) error {
	if duration <= 0 {
		return fmt.Errorf("slicing clip: non-positive duration %v", duration)
	}

	fadeOutStart := duration - fadeDuration
	if fadeOutStart < 0 {
		fadeOutStart = 0
	}
	filter := fmt.Sprintf("afade=t=in:st=0:d=%s,afade=t=out:st=%s:d=%s",
		formatSeconds(fadeDuration), formatSeconds(fadeOutStart), formatSeconds(fadeDuration))

	err := NewCommand(t.bins.FFmpeg).
		FastSeek(start).
		Input(srcPath).
		Duration(duration).
		NoVideo().
		AudioFilter(filter).
		AudioCodec(CanonicalCodec).
		AudioBitrate(CanonicalBitrate).
		SampleRate(CanonicalSampleRate).
		Channels(CanonicalChannels).
		Overwrite().
		Output(destPath).
		Run(ctx)
	if err != nil {
		return fmt.Errorf("slicing clip from %s: %w", srcPath, err)
	}

	t.logger.Debug("sliced clip",
		slog.String("src", srcPath),
		slog.Float64("start", start),
		slog.Float64("duration", duration))
	return nil
}

// Normalize re-encodes an arbitrary audio file to canonical MP3 so it
// can be concatenated with sliced clips.
func (t *Toolkit) Normalize(ctx context.Context, srcPath, destPath string) error {
	err := NewCommand(t.bins.FFmpeg).
		Input(srcPath).
		NoVideo().
		AudioCodec(CanonicalCodec).
		AudioBitrate(CanonicalBitrate).
		SampleRate(CanonicalSampleRate).
		Channels(CanonicalChannels).
		Overwrite().
		Output(destPath).
		Run(ctx)
	if err != nil {
		return fmt.Errorf("normalizing %s: %w", srcPath, err)
	}
	return nil
}

// AddFades re-encodes srcPath with a fade-in of fadeIn seconds and a
// fade-out of fadeOut seconds ending at the end of the file.
func (t *Toolkit) AddFades(ctx context.Context, srcPath, destPath string, fadeIn, fadeOut float64) error {
	info, err := t.Probe(ctx, srcPath)
	if err != nil {
		return fmt.Errorf("adding fades to %s: %w", srcPath, err)
	}
	filter := fadeFilter(info.DurationSeconds(), fadeIn, fadeOut)
	if filter == "" {
		return t.Normalize(ctx, srcPath, destPath)
	}

	err = NewCommand(t.bins.FFmpeg).
		Input(srcPath).
		NoVideo().
		AudioFilter(filter).
		AudioCodec(CanonicalCodec).
		AudioBitrate(CanonicalBitrate).
		SampleRate(CanonicalSampleRate).
		Channels(CanonicalChannels).
		Overwrite().
		Output(destPath).
		Run(ctx)
	if err != nil {
		return fmt.Errorf("adding fades to %s: %w", srcPath, err)
	}
	return nil
}

// MixTrack is one input to MixTracks with its gain.
type MixTrack struct {
	Path   string
	Volume float64
}

// MixTracks mixes the tracks into destPath with per-track gain. The
// output runs for the longest input.
func (t *Toolkit) MixTracks(ctx context.Context, tracks []MixTrack, destPath string) error {
	if len(tracks) == 0 {
		return fmt.Errorf("mixing tracks: no inputs")
	}

	cmd := NewCommand(t.bins.FFmpeg)
	for _, track := range tracks {
		cmd.Input(track.Path)
	}

	err := cmd.
		OutputArgs("-filter_complex", mixFilter(tracks), "-map", "[mix]").
		AudioCodec(CanonicalCodec).
		AudioBitrate(CanonicalBitrate).
		SampleRate(CanonicalSampleRate).
		Channels(CanonicalChannels).
		Overwrite().
		Output(destPath).
		Run(ctx)
	if err != nil {
		return fmt.Errorf("mixing %d tracks: %w", len(tracks), err)
	}
	return nil
}

// fadeFilter builds an afade chain for a file of the given total
// duration. Returns "" when neither fade applies.
func fadeFilter(total, fadeIn, fadeOut float64) string {
	var filters []string
	if fadeIn > 0 {
		filters = append(filters, fmt.Sprintf("afade=t=in:st=0:d=%s", formatSeconds(fadeIn)))
	}
	if fadeOut > 0 {
		fadeOutStart := total - fadeOut
		if fadeOutStart < 0 {
			fadeOutStart = 0
		}
		filters = append(filters, fmt.Sprintf("afade=t=out:st=%s:d=%s",
			formatSeconds(fadeOutStart), formatSeconds(fadeOut)))
	}
	return strings.Join(filters, ",")
}

// mixFilter builds the amix filtergraph: per-track gain, mixed for the
// longest input, labeled [mix].
func mixFilter(tracks []MixTrack) string {
	var sb strings.Builder
	for i, track := range tracks {
		volume := track.Volume
		if volume <= 0 {
			volume = 1
		}
		fmt.Fprintf(&sb, "[%d:a]volume=%s[a%d];", i, formatSeconds(volume), i)
	}
	for i := range tracks {
		fmt.Fprintf(&sb, "[a%d]", i)
	}
	fmt.Fprintf(&sb, "amix=inputs=%d:duration=longest[mix]", len(tracks))
	return sb.String()
}

// Compress re-encodes srcPath at a lower bitrate. Used to shrink
// episode audio below transcription upload limits.
func (t *Toolkit) Compress(ctx context.Context, srcPath, destPath, bitrate string) error {
	err := NewCommand(t.bins.FFmpeg).
		Input(srcPath).
		NoVideo().
		AudioCodec(CanonicalCodec).
		AudioBitrate(bitrate).
		Overwrite().
		Output(destPath).
		Run(ctx)
	if err != nil {
		return fmt.Errorf("compressing %s: %w", srcPath, err)
	}
	return nil
}

// ExtractWindow copies [start, start+duration) of srcPath into destPath
// without filters. Used for transcription chunking, where exact edges
// matter less than throughput.
func (t *Toolkit) ExtractWindow(ctx context.Context, srcPath, destPath string, start, duration float64) error {
	err := NewCommand(t.bins.FFmpeg).
		FastSeek(start).
		Input(srcPath).
		Duration(duration).
		NoVideo().
		AudioCodec(CanonicalCodec).
		AudioBitrate("64k").
		Overwrite().
		Output(destPath).
		Run(ctx)
	if err != nil {
		return fmt.Errorf("extracting window from %s: %w", srcPath, err)
	}
	return nil
}

// Concatenate joins already-canonical MP3 segments in order into
// destPath using the concat demuxer with stream copy. A single segment
// is copied directly.
func (t *Toolkit) Concatenate(ctx context.Context, segmentPaths []string, destPath string) error {
	if len(segmentPaths) == 0 {
		return fmt.Errorf("concatenating: no segments")
	}

	if len(segmentPaths) == 1 {
		err := NewCommand(t.bins.FFmpeg).
			Input(segmentPaths[0]).
			Copy().
			Overwrite().
			Output(destPath).
			Run(ctx)
		if err != nil {
			return fmt.Errorf("copying single segment: %w", err)
		}
		return nil
	}

	listPath := destPath + ".concat.txt"
	if err := writeConcatList(listPath, segmentPaths); err != nil {
		return err
	}
	defer os.Remove(listPath)

	err := NewCommand(t.bins.FFmpeg).
		InputArgs("-f", "concat", "-safe", "0").
		Input(listPath).
		Copy().
		Overwrite().
		Output(destPath).
		Run(ctx)
	if err != nil {
		return fmt.Errorf("concatenating %d segments: %w", len(segmentPaths), err)
	}

	t.logger.Debug("concatenated segments",
		slog.Int("count", len(segmentPaths)),
		slog.String("dest", destPath))
	return nil
}

// writeConcatList writes a concat demuxer file list. Single quotes in
// paths are escaped per the demuxer's quoting rules.
func writeConcatList(listPath string, segmentPaths []string) error {
	var sb strings.Builder
	for _, p := range segmentPaths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return fmt.Errorf("resolving segment path %s: %w", p, err)
		}
		escaped := strings.ReplaceAll(abs, "'", `'\''`)
		fmt.Fprintf(&sb, "file '%s'\n", escaped)
	}
	if err := os.WriteFile(listPath, []byte(sb.String()), 0o644); err != nil {
		return fmt.Errorf("writing concat list: %w", err)
	}
	return nil
}
