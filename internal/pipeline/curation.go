package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/sifterhq/sifter/internal/config"
	"github.com/sifterhq/sifter/internal/llm"
	"github.com/sifterhq/sifter/internal/models"
	"github.com/sifterhq/sifter/internal/queue"
	"github.com/sifterhq/sifter/internal/repository"
)

// CurationStage selects 6-8 clips across a digest's source episodes
// that together fit the duration target and maximize diversity.
type CurationStage struct {
	digests repository.DigestRepository
	clips   repository.ClipRepository
	client  llm.Client
	cfg     config.PipelineConfig
	logger  *slog.Logger
}

// NewCurationStage creates the stage.
func NewCurationStage(
	digests repository.DigestRepository,
	clips repository.ClipRepository,
	client llm.Client,
	cfg config.PipelineConfig,
	logger *slog.Logger,
) *CurationStage {
	if logger == nil {
		logger = slog.Default()
	}
	return &CurationStage{
		digests: digests,
		clips:   clips,
		client:  client,
		cfg:     cfg,
		logger:  logger,
	}
}

type curationResponse struct {
	SelectedClipIDs   []string `json:"selectedClipIds"`
	Reasoning         string   `json:"reasoning"`
	EstimatedDuration float64  `json:"estimatedDuration"`
	TopicCoverage     []string `json:"topicCoverage"`
}

// Execute implements queue.Handler for the curation queue.
func (s *CurationStage) Execute(ctx context.Context, stage queue.StageContext) (string, error) {
	var payload CurationPayload
	if err := stage.Bind(&payload); err != nil {
		return "", err
	}

	count, err := s.Curate(ctx, payload, stage)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("selected %d clips", count), nil
}

// Curate runs clip selection for one digest and leaves it in the
// pending state for assembly. A digest that already has clips and a
// narrator script is a no-op.
func (s *CurationStage) Curate(ctx context.Context, payload CurationPayload, stage queue.StageContext) (int, error) {
	digestID, err := models.ParseULID(payload.DigestID)
	if err != nil {
		return 0, fmt.Errorf("curation payload: %w", err)
	}
	log := stage.Log().With(slog.String("digest_id", digestID.String()))

	digest, err := s.digests.GetByID(ctx, digestID)
	if err != nil {
		return 0, fmt.Errorf("loading digest: %w", err)
	}
	if digest == nil {
		return 0, fmt.Errorf("digest %s: %w", digestID, models.ErrNotFound)
	}

	existing, err := s.digests.GetClips(ctx, digestID)
	if err != nil {
		return 0, fmt.Errorf("loading digest clips: %w", err)
	}
	if len(existing) > 0 {
		if digest.NarratorScript != "" {
			log.Info("digest already curated with script, skipping")
			return len(existing), nil
		}
		// Clips survive, only the script is missing: hand off to assembly.
		log.Info("digest already curated, reusing clip set")
		if _, err := s.digests.TransitionStatus(ctx, digestID,
			[]models.DigestStatus{models.DigestStatusCurating}, models.DigestStatusPending); err != nil {
			return 0, fmt.Errorf("releasing curated digest: %w", err)
		}
		return len(existing), nil
	}

	count, err := s.run(ctx, digest, payload, stage, log)
	if err != nil {
		if markErr := s.digests.MarkFailed(ctx, digestID, err); markErr != nil {
			log.Error("failed to record digest failure", slog.Any("error", markErr))
		}
		return 0, err
	}
	return count, nil
}

func (s *CurationStage) run(ctx context.Context, digest *models.Digest, payload CurationPayload, stage queue.StageContext, log *slog.Logger) (int, error) {
	episodeIDs, err := models.ParseULIDs(payload.EpisodeIDs)
	if err != nil {
		return 0, fmt.Errorf("curation payload episode ids: %w", err)
	}
	if len(episodeIDs) == 0 {
		episodeIDs, err = models.ParseULIDs(digest.EpisodeIDs)
		if err != nil {
			return 0, fmt.Errorf("digest episode ids: %w", err)
		}
	}

	candidates, err := s.clips.GetCandidates(ctx, episodeIDs)
	if err != nil {
		return 0, fmt.Errorf("loading clip candidates: %w", err)
	}
	if len(candidates) == 0 {
		return 0, fmt.Errorf("no clip candidates for digest %s", digest.ID)
	}

	stage.UpdateProgress(ctx, 20)

	targetDuration := payload.TargetDuration
	if targetDuration == 0 {
		targetDuration = s.targetDuration()
	}
	minClips, maxClips := s.clipRange(payload)

	content, err := s.client.Complete(ctx, llm.Request{
		System:      curationSystemPrompt,
		Prompt:      buildCurationPrompt(payload.UserInterests, targetDuration, s.tolerance(), minClips, maxClips, candidates),
		MaxTokens:   s.maxTokens(),
		Temperature: s.temperature(),
	})
	if err != nil {
		return 0, fmt.Errorf("curation completion: %w", err)
	}

	var parsed curationResponse
	if err := json.Unmarshal([]byte(llm.ExtractJSON(content)), &parsed); err != nil {
		return 0, fmt.Errorf("parsing curation response: %w", err)
	}

	stage.UpdateProgress(ctx, 60)

	selected := validateSelection(parsed.SelectedClipIDs, candidates, minClips, log)
	if len(selected) == 0 {
		return 0, fmt.Errorf("curation selected no usable clips")
	}

	if err := s.digests.SetClips(ctx, digest.ID, selected); err != nil {
		return 0, fmt.Errorf("persisting digest clips: %w", err)
	}

	ok, err := s.digests.TransitionStatus(ctx, digest.ID,
		[]models.DigestStatus{models.DigestStatusCurating}, models.DigestStatusPending)
	if err != nil {
		return 0, fmt.Errorf("finishing curation: %w", err)
	}
	if !ok {
		return 0, fmt.Errorf("digest %s left curating state: %w", digest.ID, models.ErrBusy)
	}

	stage.UpdateProgress(ctx, 100)
	log.Info("digest curated",
		slog.Int("selected", len(selected)),
		slog.Int("candidates", len(candidates)),
		slog.String("reasoning", parsed.Reasoning))

	return len(selected), nil
}

// validateSelection keeps selections that exist in the candidate set,
// in the model's order. When fewer than min survive, the next
// highest-scored unselected candidates fill the gap; candidates arrive
// already ordered by score descending.
func validateSelection(selectedIDs []string, candidates []*models.Clip, min int, log *slog.Logger) []models.ULID {
	byID := make(map[string]*models.Clip, len(candidates))
	for _, c := range candidates {
		byID[c.ID.String()] = c
	}

	var selected []models.ULID
	chosen := make(map[string]bool)
	for _, id := range selectedIDs {
		clip, ok := byID[id]
		if !ok {
			log.Warn("curation selected unknown clip id", slog.String("clip_id", id))
			continue
		}
		if chosen[id] {
			continue
		}
		chosen[id] = true
		selected = append(selected, clip.ID)
	}

	for _, c := range candidates {
		if len(selected) >= min {
			break
		}
		id := c.ID.String()
		if chosen[id] {
			continue
		}
		chosen[id] = true
		selected = append(selected, c.ID)
		log.Info("filling curation selection from top candidates", slog.String("clip_id", id))
	}

	return selected
}

func (s *CurationStage) maxTokens() int {
	if s.cfg.CurationMaxTokens > 0 {
		return s.cfg.CurationMaxTokens
	}
	return 2000
}

func (s *CurationStage) temperature() float64 {
	if s.cfg.CurationTemperature > 0 {
		return s.cfg.CurationTemperature
	}
	return 0.7
}

func (s *CurationStage) targetDuration() int {
	if s.cfg.TargetDigestDuration > 0 {
		return s.cfg.TargetDigestDuration
	}
	return 420
}

func (s *CurationStage) tolerance() int {
	if s.cfg.DigestDurationTolerance > 0 {
		return s.cfg.DigestDurationTolerance
	}
	return 60
}

func (s *CurationStage) clipRange(payload CurationPayload) (int, int) {
	min, max := payload.MinClips, payload.MaxClips
	if min == 0 {
		min = s.cfg.MinDigestClips
	}
	if max == 0 {
		max = s.cfg.MaxDigestClips
	}
	if min == 0 {
		min = 6
	}
	if max == 0 {
		max = 8
	}
	return min, max
}
