package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"

	"github.com/sifterhq/sifter/internal/llm"
	"github.com/sifterhq/sifter/internal/models"
	"github.com/sifterhq/sifter/internal/queue"
	"github.com/sifterhq/sifter/internal/repository"
	"github.com/sifterhq/sifter/internal/storage"
	"github.com/sifterhq/sifter/internal/tts"
)

// publishedBitrateBPS is the canonical output bitrate used to derive
// digest duration from file size.
const publishedBitrateBPS = 128 * 1024

// NarratorScript is the persisted script document: one intro, one
// transition per gap between clips, one outro.
type NarratorScript struct {
	Intro       string   `json:"intro"`
	Transitions []string `json:"transitions"`
	Outro       string   `json:"outro"`
}

// ParseNarratorScript decodes a persisted script string.
func ParseNarratorScript(raw string) (*NarratorScript, error) {
	var script NarratorScript
	if err := json.Unmarshal([]byte(raw), &script); err != nil {
		return nil, fmt.Errorf("parsing narrator script: %w", err)
	}
	if script.Intro == "" {
		return nil, fmt.Errorf("narrator script has no intro")
	}
	return &script, nil
}

// AssemblyResult summarizes a finished digest.
type AssemblyResult struct {
	DigestID     string  `json:"digest_id"`
	AudioURL     string  `json:"audio_url"`
	Duration     float64 `json:"duration"`
	EpisodeCount int     `json:"episode_count"`
	ClipCount    int     `json:"clip_count"`
}

// AssemblyStage turns an ordered set of digest clips into a published
// MP3: narrator script, TTS, clip extraction with fades, concatenation.
type AssemblyStage struct {
	digests     repository.DigestRepository
	users       repository.UserRepository
	downloader  Fetcher
	toolkit     AudioToolkit
	synthesizer tts.Synthesizer
	client      llm.Client
	workspace   *storage.Workspace
	logger      *slog.Logger
}

// NewAssemblyStage creates the stage.
func NewAssemblyStage(
	digests repository.DigestRepository,
	users repository.UserRepository,
	downloader Fetcher,
	toolkit AudioToolkit,
	synthesizer tts.Synthesizer,
	client llm.Client,
	workspace *storage.Workspace,
	logger *slog.Logger,
) *AssemblyStage {
	if logger == nil {
		logger = slog.Default()
	}
	return &AssemblyStage{
		digests:     digests,
		users:       users,
		downloader:  downloader,
		toolkit:     toolkit,
		synthesizer: synthesizer,
		client:      client,
		workspace:   workspace,
		logger:      logger,
	}
}

// Execute implements queue.Handler for the digest queue.
func (s *AssemblyStage) Execute(ctx context.Context, stage queue.StageContext) (string, error) {
	var payload AssemblyPayload
	if err := stage.Bind(&payload); err != nil {
		return "", err
	}

	result, err := s.Assemble(ctx, payload, stage)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("published %s (%.0fs, %d clips)", result.AudioURL, result.Duration, result.ClipCount), nil
}

// Assemble runs the stage for one digest. Ready digests return their
// existing artifact.
func (s *AssemblyStage) Assemble(ctx context.Context, payload AssemblyPayload, stage queue.StageContext) (*AssemblyResult, error) {
	digestID, err := models.ParseULID(payload.DigestID)
	if err != nil {
		return nil, fmt.Errorf("assembly payload: %w", err)
	}
	log := stage.Log().With(slog.String("digest_id", digestID.String()))

	digest, err := s.digests.GetByID(ctx, digestID)
	if err != nil {
		return nil, fmt.Errorf("loading digest: %w", err)
	}
	if digest == nil {
		return nil, fmt.Errorf("digest %s: %w", digestID, models.ErrNotFound)
	}

	clips, err := s.digests.GetClips(ctx, digestID)
	if err != nil {
		return nil, fmt.Errorf("loading digest clips: %w", err)
	}
	if len(clips) == 0 {
		return nil, fmt.Errorf("digest %s has no clips", digestID)
	}

	if digest.Status == models.DigestStatusReady {
		log.Info("digest already assembled")
		return s.resultFor(digest, clips), nil
	}

	ok, err := s.digests.TransitionStatus(ctx, digestID,
		[]models.DigestStatus{models.DigestStatusPending, models.DigestStatusFailed},
		models.DigestStatusGeneratingScript)
	if err != nil {
		return nil, fmt.Errorf("claiming digest: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("digest %s claimed by another worker: %w", digestID, models.ErrBusy)
	}

	result, err := s.run(ctx, digest, clips, payload, stage, log)
	if err != nil {
		if markErr := s.digests.MarkFailed(ctx, digestID, err); markErr != nil {
			log.Error("failed to record digest failure", slog.Any("error", markErr))
		}
		return nil, err
	}
	return result, nil
}

func (s *AssemblyStage) run(ctx context.Context, digest *models.Digest, clips []*models.DigestClip, payload AssemblyPayload, stage queue.StageContext, log *slog.Logger) (*AssemblyResult, error) {
	digestID := digest.ID.String()
	n := len(clips)

	workDir := s.workspace.DigestWorkDir(digestID)
	if err := s.workspace.EnsureDir(workDir); err != nil {
		return nil, err
	}
	// Scratch files go regardless of outcome; the published artifact is
	// moved out before cleanup runs.
	defer s.workspace.CleanupDigest(digestID)

	script, err := s.prepareScript(ctx, digest, clips, payload, log)
	if err != nil {
		return nil, err
	}
	stage.UpdateProgress(ctx, 20)

	if _, err := s.digests.TransitionStatus(ctx, digest.ID,
		[]models.DigestStatus{models.DigestStatusGeneratingScript},
		models.DigestStatusGeneratingAudio); err != nil {
		return nil, fmt.Errorf("starting narration synthesis: %w", err)
	}

	narratorPaths, err := s.prepareNarration(ctx, script, n, workDir, payload.ExistingTTSPaths, log)
	if err != nil {
		return nil, err
	}
	stage.UpdateProgress(ctx, 50)

	if _, err := s.digests.TransitionStatus(ctx, digest.ID,
		[]models.DigestStatus{models.DigestStatusGeneratingAudio},
		models.DigestStatusStitching); err != nil {
		return nil, fmt.Errorf("starting stitching: %w", err)
	}

	clipPaths, err := s.extractClips(ctx, clips, workDir, stage, log)
	if err != nil {
		return nil, err
	}

	sequence := buildSequence(narratorPaths, clipPaths)
	finalPath := filepath.Join(workDir, "final_digest.mp3")
	if err := s.toolkit.Concatenate(ctx, sequence, finalPath); err != nil {
		return nil, fmt.Errorf("concatenating digest: %w", err)
	}
	stage.UpdateProgress(ctx, 90)

	size, err := storage.FileSize(finalPath)
	if err != nil {
		return nil, fmt.Errorf("sizing final digest: %w", err)
	}

	audioURL, err := s.workspace.Publish(finalPath, digestID)
	if err != nil {
		return nil, err
	}

	// Approximate: the artifact is canonical 128 kbps MP3.
	duration := float64(size) / (publishedBitrateBPS / 8)

	digest.AudioURL = audioURL
	digest.Duration = &duration
	digest.LastError = ""
	if err := s.digests.Update(ctx, digest); err != nil {
		return nil, fmt.Errorf("persisting digest artifact: %w", err)
	}

	ok, err := s.digests.TransitionStatus(ctx, digest.ID,
		[]models.DigestStatus{models.DigestStatusStitching}, models.DigestStatusReady)
	if err != nil {
		return nil, fmt.Errorf("finishing digest: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("digest %s left stitching state: %w", digest.ID, models.ErrBusy)
	}

	stage.UpdateProgress(ctx, 100)
	log.Info("digest published",
		slog.String("audio_url", audioURL),
		slog.Float64("duration", duration),
		slog.Int("clips", n))

	return s.resultFor(digest, clips), nil
}

// prepareScript reuses or generates the narrator script and persists
// it. A transition count mismatch is surfaced as a warning, not an
// abort.
func (s *AssemblyStage) prepareScript(ctx context.Context, digest *models.Digest, clips []*models.DigestClip, payload AssemblyPayload, log *slog.Logger) (*NarratorScript, error) {
	if payload.SkipScriptGeneration && digest.NarratorScript != "" {
		script, err := ParseNarratorScript(digest.NarratorScript)
		if err != nil {
			return nil, err
		}
		log.Info("reusing persisted narrator script")
		checkTransitionCount(script, len(clips), log)
		return script, nil
	}

	userName := ""
	if user, err := s.users.GetByID(ctx, digest.UserID); err == nil && user != nil {
		userName = user.Name
	}

	content, err := s.client.Complete(ctx, llm.Request{
		System:      scriptSystemPrompt,
		Prompt:      buildScriptPrompt(userName, clips),
		MaxTokens:   2000,
		Temperature: 0.7,
	})
	if err != nil {
		return nil, fmt.Errorf("script completion: %w", err)
	}

	script, err := ParseNarratorScript(llm.ExtractJSON(content))
	if err != nil {
		return nil, err
	}
	checkTransitionCount(script, len(clips), log)

	raw, err := json.Marshal(script)
	if err != nil {
		return nil, fmt.Errorf("encoding narrator script: %w", err)
	}
	digest.NarratorScript = string(raw)
	if err := s.digests.Update(ctx, digest); err != nil {
		return nil, fmt.Errorf("persisting narrator script: %w", err)
	}

	return script, nil
}

func checkTransitionCount(script *NarratorScript, clipCount int, log *slog.Logger) {
	if len(script.Transitions) != clipCount-1 {
		log.Warn("narrator script transition count does not match clip count",
			slog.Int("transitions", len(script.Transitions)),
			slog.Int("clips", clipCount))
	}
}

// narratorPaths holds the synthesized narration files in speak order.
type narratorPaths struct {
	intro       string
	transitions []string
	outro       string
}

// prepareNarration synthesizes narrator audio, or validates and reuses
// files from a prior run. Fresh synthesis goes through a canonical
// re-encode so concatenation can stream-copy.
func (s *AssemblyStage) prepareNarration(ctx context.Context, script *NarratorScript, clipCount int, workDir string, existing *TTSPaths, log *slog.Logger) (*narratorPaths, error) {
	if existing != nil {
		paths := &narratorPaths{
			intro:       existing.Intro,
			transitions: existing.Transitions,
			outro:       existing.Outro,
		}
		for _, p := range append([]string{paths.intro, paths.outro}, paths.transitions...) {
			if _, err := os.Stat(p); err != nil {
				return nil, fmt.Errorf("existing narration file %s: %w", p, err)
			}
		}
		log.Info("reusing narration files from prior run",
			slog.Int("transitions", len(paths.transitions)))
		return paths, nil
	}

	paths := &narratorPaths{}
	synth := func(text, name string) (string, error) {
		raw := filepath.Join(workDir, name+".src.mp3")
		final := filepath.Join(workDir, name+".mp3")
		if _, err := s.synthesizer.Synthesize(ctx, text, raw); err != nil {
			return "", fmt.Errorf("synthesizing %s: %w", name, err)
		}
		if err := s.toolkit.Normalize(ctx, raw, final); err != nil {
			return "", fmt.Errorf("normalizing %s: %w", name, err)
		}
		os.Remove(raw)
		return final, nil
	}

	var err error
	if paths.intro, err = synth(script.Intro, "narrator_intro"); err != nil {
		return nil, err
	}
	for i, transition := range script.Transitions {
		if i >= clipCount-1 {
			break
		}
		p, err := synth(transition, fmt.Sprintf("narrator_transition_%d", i))
		if err != nil {
			return nil, err
		}
		paths.transitions = append(paths.transitions, p)
	}
	if paths.outro, err = synth(script.Outro, "narrator_outro"); err != nil {
		return nil, err
	}

	return paths, nil
}

// extractClips downloads each clip's source episode and slices the clip
// range with fades. Sequential on purpose: one full episode file on
// disk at a time bounds peak usage.
func (s *AssemblyStage) extractClips(ctx context.Context, clips []*models.DigestClip, workDir string, stage queue.StageContext, log *slog.Logger) ([]string, error) {
	n := len(clips)
	paths := make([]string, 0, n)

	for i, dc := range clips {
		clip := dc.Clip
		if clip == nil || clip.Episode == nil {
			return nil, fmt.Errorf("digest clip %d is missing its episode", i)
		}

		episodePath := filepath.Join(workDir, fmt.Sprintf("episode_%d.mp3", i))
		if _, err := s.downloader.Fetch(ctx, clip.Episode.AudioURL, episodePath); err != nil {
			return nil, fmt.Errorf("downloading episode for clip %d: %w", i, err)
		}

		clipPath := filepath.Join(workDir, fmt.Sprintf("clip_%d.mp3", i))
		if err := s.toolkit.SliceClip(ctx, episodePath, clipPath, clip.StartTime, clip.Duration()); err != nil {
			return nil, fmt.Errorf("slicing clip %d: %w", i, err)
		}

		if err := os.Remove(episodePath); err != nil {
			log.Warn("failed to remove episode temp file",
				slog.String("path", episodePath),
				slog.Any("error", err))
		}

		paths = append(paths, clipPath)
		stage.UpdateProgress(ctx, 50+int(math.Ceil(float64(i)/float64(n)*30)))
	}

	return paths, nil
}

// buildSequence interleaves narration and clips:
// intro, clip0, t0, clip1, t1, ..., clipN-1, outro. When fewer
// transitions exist than gaps, the extra gaps run back to back.
func buildSequence(narration *narratorPaths, clipPaths []string) []string {
	sequence := []string{narration.intro}
	for i, clipPath := range clipPaths {
		sequence = append(sequence, clipPath)
		if i < len(clipPaths)-1 && i < len(narration.transitions) {
			sequence = append(sequence, narration.transitions[i])
		}
	}
	return append(sequence, narration.outro)
}

func (s *AssemblyStage) resultFor(digest *models.Digest, clips []*models.DigestClip) *AssemblyResult {
	episodes := make(map[string]bool)
	for _, dc := range clips {
		if dc.Clip != nil {
			episodes[dc.Clip.EpisodeID.String()] = true
		}
	}

	var duration float64
	if digest.Duration != nil {
		duration = *digest.Duration
	}
	return &AssemblyResult{
		DigestID:     digest.ID.String(),
		AudioURL:     digest.AudioURL,
		Duration:     duration,
		EpisodeCount: len(episodes),
		ClipCount:    len(clips),
	}
}
