package models

import (
	"sort"
	"strings"
)

// Segment is a speech-to-text sub-unit carrying a (start, end, text)
// triple. Times are seconds relative to the episode's original audio.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Transcript is the canonical timestamped transcript persisted on an
// Episode. Segments are sorted by start ascending.
type Transcript struct {
	Text     string    `json:"text"`
	Segments []Segment `json:"segments"`
	Language string    `json:"language,omitempty"`
	Duration float64   `json:"duration"`
}

// IsEmpty returns true when the transcript carries no content.
func (t *Transcript) IsEmpty() bool {
	return t == nil || (t.Text == "" && len(t.Segments) == 0)
}

// SortSegments orders segments by start time ascending.
func (t *Transcript) SortSegments() {
	sort.SliceStable(t.Segments, func(i, j int) bool {
		return t.Segments[i].Start < t.Segments[j].Start
	})
}

// SegmentsSorted reports whether segments are already ordered by start.
func (t *Transcript) SegmentsSorted() bool {
	return sort.SliceIsSorted(t.Segments, func(i, j int) bool {
		return t.Segments[i].Start < t.Segments[j].Start
	})
}

// TextInRange returns the concatenation of segment texts whose span
// overlaps [start, end], joined by single spaces. Clip transcripts are
// built this way so they match segment granularity exactly.
func (t *Transcript) TextInRange(start, end float64) string {
	var parts []string
	for _, seg := range t.Segments {
		if seg.End <= start || seg.Start >= end {
			continue
		}
		if text := strings.TrimSpace(seg.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}
