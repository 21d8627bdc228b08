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

// AnalysisStage extracts ranked clip candidates from a transcribed
// episode for a user's interests. Clips are a per-episode resource:
// re-analysis replaces the episode's clips wholesale.
type AnalysisStage struct {
	episodes repository.EpisodeRepository
	podcasts repository.PodcastRepository
	clips    repository.ClipRepository
	client   llm.Client
	cfg      config.PipelineConfig
	logger   *slog.Logger
}

// NewAnalysisStage creates the stage.
func NewAnalysisStage(
	episodes repository.EpisodeRepository,
	podcasts repository.PodcastRepository,
	clips repository.ClipRepository,
	client llm.Client,
	cfg config.PipelineConfig,
	logger *slog.Logger,
) *AnalysisStage {
	if logger == nil {
		logger = slog.Default()
	}
	return &AnalysisStage{
		episodes: episodes,
		podcasts: podcasts,
		clips:    clips,
		client:   client,
		cfg:      cfg,
		logger:   logger,
	}
}

// clipCandidate mirrors the JSON the model returns per clip.
type clipCandidate struct {
	StartTime      float64 `json:"startTime"`
	EndTime        float64 `json:"endTime"`
	Transcript     string  `json:"transcript"`
	RelevanceScore float64 `json:"relevanceScore"`
	Reasoning      string  `json:"reasoning"`
	Summary        string  `json:"summary"`
}

type analysisResponse struct {
	Clips []clipCandidate `json:"clips"`
}

// Execute implements queue.Handler for the analysis queue.
func (s *AnalysisStage) Execute(ctx context.Context, stage queue.StageContext) (string, error) {
	var payload AnalysisPayload
	if err := stage.Bind(&payload); err != nil {
		return "", err
	}

	episodeID, err := models.ParseULID(payload.EpisodeID)
	if err != nil {
		return "", fmt.Errorf("analysis payload: %w", err)
	}

	clips, err := s.Analyze(ctx, episodeID, payload.UserInterests, stage)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("extracted %d clips", len(clips)), nil
}

// Analyze runs clip extraction for one episode. Already-analyzed
// episodes return their existing clips without an LLM call.
func (s *AnalysisStage) Analyze(ctx context.Context, episodeID models.ULID, interests []string, stage queue.StageContext) ([]*models.Clip, error) {
	log := stage.Log().With(slog.String("episode_id", episodeID.String()))

	episode, err := s.episodes.GetByID(ctx, episodeID)
	if err != nil {
		return nil, fmt.Errorf("loading episode: %w", err)
	}
	if episode == nil {
		return nil, fmt.Errorf("episode %s: %w", episodeID, models.ErrNotFound)
	}

	if episode.Status == models.EpisodeStatusAnalyzed {
		log.Info("episode already analyzed")
		return s.clips.GetByEpisodeID(ctx, episodeID)
	}
	if episode.Status == models.EpisodeStatusAnalyzing {
		return nil, fmt.Errorf("episode %s is analyzing: %w", episodeID, models.ErrBusy)
	}
	if !episode.HasTranscript() {
		return nil, fmt.Errorf("episode %s: %w", episodeID, models.ErrNoTranscript)
	}

	ok, err := s.episodes.TransitionStatus(ctx, episodeID,
		[]models.EpisodeStatus{models.EpisodeStatusTranscribed},
		models.EpisodeStatusAnalyzing)
	if err != nil {
		return nil, fmt.Errorf("claiming episode for analysis: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("episode %s claimed by another worker: %w", episodeID, models.ErrBusy)
	}

	clips, err := s.run(ctx, episode, interests, stage, log)
	if err != nil {
		if markErr := s.episodes.MarkFailed(ctx, episodeID, err); markErr != nil {
			log.Error("failed to record episode failure", slog.Any("error", markErr))
		}
		return nil, err
	}
	return clips, nil
}

func (s *AnalysisStage) run(ctx context.Context, episode *models.Episode, interests []string, stage queue.StageContext, log *slog.Logger) ([]*models.Clip, error) {
	podcastTitle := ""
	if podcast, err := s.podcasts.GetByID(ctx, episode.PodcastID); err == nil && podcast != nil {
		podcastTitle = podcast.Title
	}

	stage.UpdateProgress(ctx, 10)

	content, err := s.client.Complete(ctx, llm.Request{
		System:      analysisSystemPrompt,
		Prompt:      buildAnalysisPrompt(interests, podcastTitle, episode),
		MaxTokens:   s.maxTokens(),
		Temperature: s.temperature(),
	})
	if err != nil {
		return nil, fmt.Errorf("analysis completion: %w", err)
	}

	stage.UpdateProgress(ctx, 70)

	var parsed analysisResponse
	if err := json.Unmarshal([]byte(llm.ExtractJSON(content)), &parsed); err != nil {
		return nil, fmt.Errorf("parsing analysis response: %w", err)
	}

	duration := episode.Transcript.Duration
	clips := make([]*models.Clip, 0, len(parsed.Clips))
	for _, cand := range parsed.Clips {
		clip := &models.Clip{
			EpisodeID:      episode.ID,
			StartTime:      cand.StartTime,
			EndTime:        cand.EndTime,
			Transcript:     cand.Transcript,
			RelevanceScore: cand.RelevanceScore,
			Reasoning:      cand.Reasoning,
			Summary:        cand.Summary,
		}
		if !clip.WithinTranscript(duration) {
			log.Warn("dropping clip outside transcript range",
				slog.Float64("start", cand.StartTime),
				slog.Float64("end", cand.EndTime),
				slog.Float64("transcript_duration", duration))
			continue
		}
		if clip.Transcript == "" {
			clip.Transcript = episode.Transcript.TextInRange(clip.StartTime, clip.EndTime)
		}
		clips = append(clips, clip)
	}

	if err := s.clips.ReplaceForEpisode(ctx, episode.ID, clips); err != nil {
		return nil, fmt.Errorf("replacing episode clips: %w", err)
	}

	ok, err := s.episodes.TransitionStatus(ctx, episode.ID,
		[]models.EpisodeStatus{models.EpisodeStatusAnalyzing},
		models.EpisodeStatusAnalyzed)
	if err != nil {
		return nil, fmt.Errorf("finishing analysis: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("episode %s left analyzing state: %w", episode.ID, models.ErrBusy)
	}

	stage.UpdateProgress(ctx, 100)
	log.Info("episode analyzed", slog.Int("clips", len(clips)))

	return clips, nil
}

func (s *AnalysisStage) maxTokens() int {
	if s.cfg.AnalysisMaxTokens > 0 {
		return s.cfg.AnalysisMaxTokens
	}
	return 4000
}

func (s *AnalysisStage) temperature() float64 {
	if s.cfg.AnalysisTemperature > 0 {
		return s.cfg.AnalysisTemperature
	}
	return 0.7
}
