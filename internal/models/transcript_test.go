package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTranscript_IsEmpty(t *testing.T) {
	tests := []struct {
		name       string
		transcript *Transcript
		want       bool
	}{
		{
			name:       "nil transcript",
			transcript: nil,
			want:       true,
		},
		{
			name:       "zero value",
			transcript: &Transcript{},
			want:       true,
		},
		{
			name:       "text only",
			transcript: &Transcript{Text: "hello"},
			want:       false,
		},
		{
			name: "segments only",
			transcript: &Transcript{
				Segments: []Segment{{Start: 0, End: 1, Text: "hello"}},
			},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.transcript.IsEmpty())
		})
	}
}

func TestTranscript_SortSegments(t *testing.T) {
	tr := &Transcript{
		Segments: []Segment{
			{Start: 30, End: 40, Text: "c"},
			{Start: 0, End: 10, Text: "a"},
			{Start: 10, End: 20, Text: "b"},
		},
	}

	assert.False(t, tr.SegmentsSorted())
	tr.SortSegments()
	assert.True(t, tr.SegmentsSorted())
	assert.Equal(t, "a", tr.Segments[0].Text)
	assert.Equal(t, "b", tr.Segments[1].Text)
	assert.Equal(t, "c", tr.Segments[2].Text)
}

func TestTranscript_TextInRange(t *testing.T) {
	tr := &Transcript{
		Segments: []Segment{
			{Start: 0, End: 10, Text: " welcome to the show "},
			{Start: 10, End: 20, Text: "today we discuss Go"},
			{Start: 20, End: 30, Text: "and concurrency"},
			{Start: 30, End: 40, Text: "thanks for listening"},
		},
	}

	tests := []struct {
		name       string
		start, end float64
		want       string
	}{
		{
			name:  "exact segment",
			start: 10,
			end:   20,
			want:  "today we discuss Go",
		},
		{
			name:  "overlapping two segments",
			start: 15,
			end:   25,
			want:  "today we discuss Go and concurrency",
		},
		{
			name:  "trims whitespace and joins with single spaces",
			start: 0,
			end:   20,
			want:  "welcome to the show today we discuss Go",
		},
		{
			name:  "range beyond transcript",
			start: 100,
			end:   200,
			want:  "",
		},
		{
			name:  "boundary touch is not overlap",
			start: 20,
			end:   20,
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tr.TextInRange(tt.start, tt.end))
		})
	}
}
