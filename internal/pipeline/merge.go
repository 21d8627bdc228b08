package pipeline

import (
	"strings"

	"github.com/sifterhq/sifter/internal/models"
)

// ChunkTranscript pairs a transcribed chunk with its position on the
// original episode timeline.
type ChunkTranscript struct {
	Index int

	// Start is the chunk's offset into the original audio in seconds.
	Start float64

	// Duration is the chunk's window length, used when the transcriber
	// does not report one.
	Duration float64

	Transcript *models.Transcript
}

// MergeChunks reconciles per-chunk transcripts into one episode
// transcript. Segment timestamps are offset by each chunk's start, the
// aggregated list is sorted by start ascending, and texts join with a
// single space. Overlap regions are not de-duplicated: the overlap is a
// safety margin against transcriber cutoffs, not a content filter.
func MergeChunks(chunks []ChunkTranscript) *models.Transcript {
	merged := &models.Transcript{}
	var texts []string

	for _, chunk := range chunks {
		if chunk.Transcript == nil {
			continue
		}

		if text := strings.TrimSpace(chunk.Transcript.Text); text != "" {
			texts = append(texts, text)
		}
		if merged.Language == "" {
			merged.Language = chunk.Transcript.Language
		}

		for _, seg := range chunk.Transcript.Segments {
			merged.Segments = append(merged.Segments, models.Segment{
				Start: chunk.Start + seg.Start,
				End:   chunk.Start + seg.End,
				Text:  seg.Text,
			})
		}

		reported := chunk.Transcript.Duration
		if reported == 0 {
			reported = chunk.Duration
		}
		if end := chunk.Start + reported; end > merged.Duration {
			merged.Duration = end
		}
	}

	merged.Text = strings.Join(texts, " ")
	merged.SortSegments()
	return merged
}
