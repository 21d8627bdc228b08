// Package ffmpeg wraps the ffmpeg and ffprobe binaries for the audio
// operations the pipeline needs: probing, slicing, compression, fades,
// and concatenation.
package ffmpeg

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/sifterhq/sifter/internal/config"
)

// Environment overrides for binary locations, checked before PATH.
const (
	EnvFFmpegBinary  = "SIFTER_FFMPEG_BINARY"
	EnvFFprobeBinary = "SIFTER_FFPROBE_BINARY"
)

// Binaries holds resolved ffmpeg and ffprobe paths.
type Binaries struct {
	FFmpeg  string
	FFprobe string
}

// FindBinaries resolves ffmpeg and ffprobe. Explicit config paths win,
// then environment overrides, then PATH lookup.
func FindBinaries(cfg config.FFmpegConfig) (*Binaries, error) {
	ffmpegPath, err := findBinary(cfg.BinaryPath, EnvFFmpegBinary, "ffmpeg")
	if err != nil {
		return nil, err
	}
	ffprobePath, err := findBinary(cfg.ProbePath, EnvFFprobeBinary, "ffprobe")
	if err != nil {
		return nil, err
	}
	return &Binaries{FFmpeg: ffmpegPath, FFprobe: ffprobePath}, nil
}

func findBinary(configured, envVar, name string) (string, error) {
	if configured != "" {
		if _, err := os.Stat(configured); err != nil {
			return "", fmt.Errorf("configured %s binary %s: %w", name, configured, err)
		}
		return configured, nil
	}

	if fromEnv := os.Getenv(envVar); fromEnv != "" {
		if _, err := os.Stat(fromEnv); err != nil {
			return "", fmt.Errorf("%s from %s: %w", name, envVar, err)
		}
		return fromEnv, nil
	}

	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("%s not found in PATH: %w", name, err)
	}
	return path, nil
}
