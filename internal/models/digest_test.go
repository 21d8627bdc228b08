package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDigestStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status DigestStatus
		want   bool
	}{
		{DigestStatusCurating, false},
		{DigestStatusPending, false},
		{DigestStatusGeneratingScript, false},
		{DigestStatusGeneratingAudio, false},
		{DigestStatusStitching, false},
		{DigestStatusReady, true},
		{DigestStatusFailed, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.status.IsTerminal())
		})
	}
}

func TestDigest_TableName(t *testing.T) {
	assert.Equal(t, "digests", Digest{}.TableName())
	assert.Equal(t, "digest_clips", DigestClip{}.TableName())
}
