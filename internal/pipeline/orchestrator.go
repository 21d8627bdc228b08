package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/sifterhq/sifter/internal/config"
	"github.com/sifterhq/sifter/internal/models"
	"github.com/sifterhq/sifter/internal/queue"
	"github.com/sifterhq/sifter/internal/repository"
)

// DigestResult is the orchestrator's outcome for one run.
type DigestResult struct {
	Status       string  `json:"status"` // ready, no_episodes
	DigestID     string  `json:"digest_id,omitempty"`
	AudioURL     string  `json:"audio_url,omitempty"`
	Duration     float64 `json:"duration,omitempty"`
	EpisodeCount int     `json:"episode_count,omitempty"`
	ClipCount    int     `json:"clip_count,omitempty"`
}

// Orchestrator drives a digest run end to end: fan out transcription
// and analysis over the queue, wait for them, then run curation and
// assembly inline.
type Orchestrator struct {
	users    repository.UserRepository
	episodes repository.EpisodeRepository
	digests  repository.DigestRepository
	service  *queue.Service
	curation *CurationStage
	assembly *AssemblyStage
	cfg      config.OrchestratorConfig
	logger   *slog.Logger
}

// NewOrchestrator creates the orchestrator.
func NewOrchestrator(
	users repository.UserRepository,
	episodes repository.EpisodeRepository,
	digests repository.DigestRepository,
	service *queue.Service,
	curation *CurationStage,
	assembly *AssemblyStage,
	cfg config.OrchestratorConfig,
	logger *slog.Logger,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		users:    users,
		episodes: episodes,
		digests:  digests,
		service:  service,
		curation: curation,
		assembly: assembly,
		cfg:      cfg,
		logger:   logger,
	}
}

// Execute implements queue.Handler for the orchestrator queue, used by
// cron-scheduled digest runs.
func (o *Orchestrator) Execute(ctx context.Context, stage queue.StageContext) (string, error) {
	var payload queue.OrchestratorPayload
	if err := stage.Bind(&payload); err != nil {
		return "", err
	}

	userID, err := models.ParseULID(payload.UserID)
	if err != nil {
		return "", fmt.Errorf("orchestrator payload: %w", err)
	}

	result, err := o.GenerateDigest(ctx, userID, stage)
	if err != nil {
		return "", err
	}
	if result.Status == "no_episodes" {
		return "no recent episodes", nil
	}
	return fmt.Sprintf("digest %s ready (%.0fs, %d clips from %d episodes)",
		result.DigestID, result.Duration, result.ClipCount, result.EpisodeCount), nil
}

// GenerateDigest runs one digest for the user. Per-episode failures do
// not fail the run unless every episode fails.
func (o *Orchestrator) GenerateDigest(ctx context.Context, userID models.ULID, stage queue.StageContext) (*DigestResult, error) {
	log := stage.Log().With(slog.String("user_id", userID.String()))

	user, err := o.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading user: %w", err)
	}
	if user == nil {
		return nil, fmt.Errorf("user %s: %w", userID, models.ErrNotFound)
	}

	subs, err := o.users.GetSubscriptions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading subscriptions: %w", err)
	}
	podcastIDs := make([]models.ULID, 0, len(subs))
	for _, sub := range subs {
		podcastIDs = append(podcastIDs, sub.PodcastID)
	}

	since := time.Now().Add(-episodeWindow(user.Frequency))
	episodes, err := o.episodes.GetRecentByPodcasts(ctx, podcastIDs, since)
	if err != nil {
		return nil, fmt.Errorf("loading recent episodes: %w", err)
	}
	if len(episodes) == 0 {
		log.Info("no recent episodes for digest window",
			slog.String("frequency", string(user.Frequency)))
		return &DigestResult{Status: "no_episodes"}, nil
	}

	if err := o.fanOut(ctx, episodes, user, log); err != nil {
		return nil, err
	}

	analyzed, err := o.awaitAnalysis(ctx, episodes, user, stage, log)
	if err != nil {
		return nil, err
	}

	digest, err := o.createDigest(ctx, user, analyzed)
	if err != nil {
		return nil, err
	}
	log = log.With(slog.String("digest_id", digest.ID.String()))

	result, err := o.finishInline(ctx, digest, user, stage, log)
	if err != nil {
		if markErr := o.digests.MarkFailed(ctx, digest.ID, err); markErr != nil {
			log.Error("failed to record digest failure", slog.Any("error", markErr))
		}
		return nil, err
	}
	return result, nil
}

// fanOut enqueues transcription for unprocessed episodes and analysis
// for already-transcribed ones. Failed episodes get a fresh attempt.
func (o *Orchestrator) fanOut(ctx context.Context, episodes []*models.Episode, user *models.User, log *slog.Logger) error {
	for _, ep := range episodes {
		switch ep.Status {
		case models.EpisodeStatusFailed:
			if _, err := o.episodes.TransitionStatus(ctx, ep.ID,
				[]models.EpisodeStatus{models.EpisodeStatusFailed}, models.EpisodeStatusPending); err != nil {
				return fmt.Errorf("resetting failed episode: %w", err)
			}
			fallthrough
		case models.EpisodeStatusPending:
			if err := o.enqueueTranscription(ctx, ep); err != nil {
				return err
			}
		case models.EpisodeStatusTranscribed:
			if err := o.enqueueAnalysis(ctx, ep, user); err != nil {
				return err
			}
		}
	}
	log.Info("fanned out episode processing", slog.Int("episodes", len(episodes)))
	return nil
}

// awaitAnalysis polls episode states until none are in flight or the
// ceiling is hit, promoting newly transcribed episodes into analysis as
// they appear. Returns the analyzed episodes.
func (o *Orchestrator) awaitAnalysis(ctx context.Context, episodes []*models.Episode, user *models.User, stage queue.StageContext, log *slog.Logger) ([]*models.Episode, error) {
	n := len(episodes)
	deadline := time.Now().Add(o.pollCeiling())
	ticker := time.NewTicker(o.pollInterval())
	defer ticker.Stop()

	for {
		var analyzed []*models.Episode
		var failedCount, processing int

		for i, ep := range episodes {
			fresh, err := o.episodes.GetByID(ctx, ep.ID)
			if err != nil {
				return nil, fmt.Errorf("polling episode: %w", err)
			}
			if fresh == nil {
				continue
			}
			episodes[i] = fresh

			switch fresh.Status {
			case models.EpisodeStatusAnalyzed:
				analyzed = append(analyzed, fresh)
			case models.EpisodeStatusFailed:
				failedCount++
			case models.EpisodeStatusTranscribed:
				// Dedup keeps repeated enqueues harmless.
				if err := o.enqueueAnalysis(ctx, fresh, user); err != nil {
					return nil, err
				}
				processing++
			default:
				processing++
			}
		}

		stage.UpdateProgress(ctx, int(math.Ceil(float64(len(analyzed)+failedCount)/float64(n)*50)))

		if processing == 0 {
			if len(analyzed) == 0 {
				return nil, fmt.Errorf("all %d episodes failed processing", n)
			}
			return analyzed, nil
		}

		if time.Now().After(deadline) {
			log.Warn("poll ceiling reached, proceeding with analyzed episodes",
				slog.Int("analyzed", len(analyzed)),
				slog.Int("still_processing", processing))
			if len(analyzed) == 0 {
				return nil, fmt.Errorf("no episodes finished analysis within %s", o.pollCeiling())
			}
			return analyzed, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (o *Orchestrator) createDigest(ctx context.Context, user *models.User, analyzed []*models.Episode) (*models.Digest, error) {
	digest := &models.Digest{
		UserID:     user.ID,
		Status:     models.DigestStatusCurating,
		EpisodeIDs: make(models.StringList, 0, len(analyzed)),
	}

	podcasts := make(map[models.ULID]bool)
	for _, ep := range analyzed {
		digest.EpisodeIDs = append(digest.EpisodeIDs, ep.ID.String())
		podcasts[ep.PodcastID] = true
	}
	if len(podcasts) == 1 {
		id := analyzed[0].PodcastID
		digest.PodcastID = &id
	}

	if err := o.digests.Create(ctx, digest); err != nil {
		return nil, fmt.Errorf("creating digest: %w", err)
	}
	return digest, nil
}

// finishInline runs curation and assembly inside the orchestrator's
// own job, mapping their progress into the run's 50-100 band.
func (o *Orchestrator) finishInline(ctx context.Context, digest *models.Digest, user *models.User, stage queue.StageContext, log *slog.Logger) (*DigestResult, error) {
	curationPayload := CurationPayload{
		DigestID:      digest.ID.String(),
		UserID:        user.ID.String(),
		EpisodeIDs:    digest.EpisodeIDs,
		UserInterests: user.Interests,
	}
	curationStage := &queue.InlineStage{
		Payload: curationPayload,
		Logger:  log,
		OnProgress: func(p int) {
			stage.UpdateProgress(ctx, 50+p*20/100)
		},
	}
	if _, err := o.curation.Curate(ctx, curationPayload, curationStage); err != nil {
		return nil, fmt.Errorf("curation: %w", err)
	}

	assemblyPayload := AssemblyPayload{
		DigestID: digest.ID.String(),
		UserID:   user.ID.String(),
	}
	assemblyStage := &queue.InlineStage{
		Payload: assemblyPayload,
		Logger:  log,
		OnProgress: func(p int) {
			stage.UpdateProgress(ctx, 70+p*30/100)
		},
	}
	result, err := o.assembly.Assemble(ctx, assemblyPayload, assemblyStage)
	if err != nil {
		return nil, fmt.Errorf("assembly: %w", err)
	}

	return &DigestResult{
		Status:       "ready",
		DigestID:     result.DigestID,
		AudioURL:     result.AudioURL,
		Duration:     result.Duration,
		EpisodeCount: result.EpisodeCount,
		ClipCount:    result.ClipCount,
	}, nil
}

func (o *Orchestrator) enqueueTranscription(ctx context.Context, ep *models.Episode) error {
	_, _, err := o.service.Enqueue(ctx, models.QueueTranscription, "transcribe-episode",
		TranscriptionPayload{EpisodeID: ep.ID.String(), AudioURL: ep.AudioURL},
		queue.EnqueueOptions{DedupKey: TranscriptionDedupKey(ep.ID.String())})
	if err != nil {
		return fmt.Errorf("enqueueing transcription: %w", err)
	}
	return nil
}

func (o *Orchestrator) enqueueAnalysis(ctx context.Context, ep *models.Episode, user *models.User) error {
	_, _, err := o.service.Enqueue(ctx, models.QueueAnalysis, "analyze-episode",
		AnalysisPayload{
			EpisodeID:     ep.ID.String(),
			UserID:        user.ID.String(),
			UserInterests: user.Interests,
		},
		queue.EnqueueOptions{DedupKey: AnalysisDedupKey(ep.ID.String(), user.ID.String())})
	if err != nil {
		return fmt.Errorf("enqueueing analysis: %w", err)
	}
	return nil
}

func (o *Orchestrator) pollInterval() time.Duration {
	if o.cfg.PollInterval > 0 {
		return o.cfg.PollInterval
	}
	return 5 * time.Second
}

func (o *Orchestrator) pollCeiling() time.Duration {
	if o.cfg.PollCeiling > 0 {
		return o.cfg.PollCeiling
	}
	return 20 * time.Minute
}

func episodeWindow(freq models.Frequency) time.Duration {
	if freq == models.FrequencyDaily {
		return 24 * time.Hour
	}
	return 7 * 24 * time.Hour
}
