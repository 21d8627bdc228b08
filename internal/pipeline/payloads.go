// Package pipeline implements the five digest stages and the
// orchestrator that drives an end-to-end run: transcription, analysis,
// curation, assembly, all coordinated over the queue substrate.
package pipeline

import "fmt"

// TranscriptionPayload is the transcription queue's job payload.
type TranscriptionPayload struct {
	EpisodeID string `json:"episode_id"`
	AudioURL  string `json:"audio_url,omitempty"`
}

// AnalysisPayload is the analysis queue's job payload.
type AnalysisPayload struct {
	EpisodeID     string   `json:"episode_id"`
	UserID        string   `json:"user_id"`
	UserInterests []string `json:"user_interests"`
}

// CurationPayload is the curation stage's payload, queued or inline.
type CurationPayload struct {
	DigestID      string   `json:"digest_id"`
	UserID        string   `json:"user_id"`
	EpisodeIDs    []string `json:"episode_ids"`
	UserInterests []string `json:"user_interests"`

	// TargetDuration in seconds. Zero means the configured default.
	TargetDuration int `json:"target_duration,omitempty"`
	MinClips       int `json:"min_clips,omitempty"`
	MaxClips       int `json:"max_clips,omitempty"`
}

// AssemblyPayload is the digest assembly stage's payload.
type AssemblyPayload struct {
	DigestID string `json:"digest_id"`
	UserID   string `json:"user_id"`

	// SkipScriptGeneration reuses a previously persisted narrator script.
	SkipScriptGeneration bool `json:"skip_script_generation,omitempty"`

	// ExistingTTSPaths points at narrator files from a prior run, for
	// resumption after a crash between synthesis and stitching.
	ExistingTTSPaths *TTSPaths `json:"existing_tts_paths,omitempty"`
}

// TTSPaths locates previously synthesized narrator audio.
type TTSPaths struct {
	Intro       string   `json:"intro"`
	Transitions []string `json:"transitions"`
	Outro       string   `json:"outro"`
}

// Dedup keys collapse concurrent work on the same target.

func TranscriptionDedupKey(episodeID string) string {
	return fmt.Sprintf("transcription-%s", episodeID)
}

func AnalysisDedupKey(episodeID, userID string) string {
	return fmt.Sprintf("analysis-%s-%s", episodeID, userID)
}

func CurationDedupKey(digestID string) string {
	return fmt.Sprintf("curation-%s", digestID)
}

func AssemblyDedupKey(digestID string) string {
	return fmt.Sprintf("digest-%s", digestID)
}
