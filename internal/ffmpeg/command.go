package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"time"
)

// CommandBuilder assembles ffmpeg argument lists. Order matters to
// ffmpeg: fast-seek and other input options must precede -i, output
// options precede the output path.
type CommandBuilder struct {
	binary     string
	inputOpts  []string
	inputs     []string
	outputOpts []string
	output     string
	overwrite  bool
}

// NewCommand creates a builder for the given ffmpeg binary.
func NewCommand(binary string) *CommandBuilder {
	return &CommandBuilder{binary: binary}
}

// FastSeek seeks to the offset before demuxing. Placed before -i this
// is a keyframe-accurate fast seek.
func (b *CommandBuilder) FastSeek(offset float64) *CommandBuilder {
	b.inputOpts = append(b.inputOpts, "-ss", formatSeconds(offset))
	return b
}

// InputArgs appends raw input options (before -i).
func (b *CommandBuilder) InputArgs(args ...string) *CommandBuilder {
	b.inputOpts = append(b.inputOpts, args...)
	return b
}

// Input adds an input file.
func (b *CommandBuilder) Input(path string) *CommandBuilder {
	b.inputs = append(b.inputs, path)
	return b
}

// Duration limits the output to d seconds of audio.
func (b *CommandBuilder) Duration(d float64) *CommandBuilder {
	b.outputOpts = append(b.outputOpts, "-t", formatSeconds(d))
	return b
}

// AudioCodec sets the output audio codec.
func (b *CommandBuilder) AudioCodec(codec string) *CommandBuilder {
	b.outputOpts = append(b.outputOpts, "-acodec", codec)
	return b
}

// AudioBitrate sets the output audio bitrate, e.g. "128k".
func (b *CommandBuilder) AudioBitrate(bitrate string) *CommandBuilder {
	b.outputOpts = append(b.outputOpts, "-b:a", bitrate)
	return b
}

// SampleRate sets the output sample rate in Hz.
func (b *CommandBuilder) SampleRate(hz int) *CommandBuilder {
	b.outputOpts = append(b.outputOpts, "-ar", strconv.Itoa(hz))
	return b
}

// Channels sets the output channel count.
func (b *CommandBuilder) Channels(n int) *CommandBuilder {
	b.outputOpts = append(b.outputOpts, "-ac", strconv.Itoa(n))
	return b
}

// AudioFilter applies an -af filtergraph.
func (b *CommandBuilder) AudioFilter(filter string) *CommandBuilder {
	b.outputOpts = append(b.outputOpts, "-af", filter)
	return b
}

// NoVideo drops any video streams (podcast files sometimes carry
// embedded artwork as a video stream).
func (b *CommandBuilder) NoVideo() *CommandBuilder {
	b.outputOpts = append(b.outputOpts, "-vn")
	return b
}

// Copy uses stream copy instead of re-encoding.
func (b *CommandBuilder) Copy() *CommandBuilder {
	b.outputOpts = append(b.outputOpts, "-c", "copy")
	return b
}

// OutputArgs appends raw output options.
func (b *CommandBuilder) OutputArgs(args ...string) *CommandBuilder {
	b.outputOpts = append(b.outputOpts, args...)
	return b
}

// Overwrite allows ffmpeg to replace an existing output file.
func (b *CommandBuilder) Overwrite() *CommandBuilder {
	b.overwrite = true
	return b
}

// Output sets the output path.
func (b *CommandBuilder) Output(path string) *CommandBuilder {
	b.output = path
	return b
}

// Args returns the complete argument list.
func (b *CommandBuilder) Args() []string {
	args := []string{"-hide_banner", "-loglevel", "error"}
	if b.overwrite {
		args = append(args, "-y")
	}
	for _, input := range b.inputs {
		args = append(args, b.inputOpts...)
		args = append(args, "-i", input)
	}
	args = append(args, b.outputOpts...)
	if b.output != "" {
		args = append(args, b.output)
	}
	return args
}

// Run executes the command, returning ffmpeg's stderr in the error on
// failure.
func (b *CommandBuilder) Run(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, b.binary, b.Args()...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		msg := stderr.String()
		if len(msg) > 500 {
			msg = msg[len(msg)-500:]
		}
		return fmt.Errorf("ffmpeg failed after %s: %w: %s",
			time.Since(start).Round(time.Millisecond), err, msg)
	}
	return nil
}

// formatSeconds renders a duration for ffmpeg arguments, trimming
// needless precision.
func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', -1, 64)
}
