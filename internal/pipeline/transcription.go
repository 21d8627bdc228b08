package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/sifterhq/sifter/internal/models"
	"github.com/sifterhq/sifter/internal/queue"
	"github.com/sifterhq/sifter/internal/repository"
	"github.com/sifterhq/sifter/internal/storage"
	"github.com/sifterhq/sifter/internal/stt"
)

// TranscriptionStage produces the canonical timestamped transcript for
// an episode: download, optional compress-and-chunk, sequential STT,
// merge, persist.
type TranscriptionStage struct {
	episodes    repository.EpisodeRepository
	downloader  Fetcher
	chunker     *Chunker
	transcriber stt.Transcriber
	workspace   *storage.Workspace
	logger      *slog.Logger
}

// NewTranscriptionStage creates the stage.
func NewTranscriptionStage(
	episodes repository.EpisodeRepository,
	downloader Fetcher,
	chunker *Chunker,
	transcriber stt.Transcriber,
	workspace *storage.Workspace,
	logger *slog.Logger,
) *TranscriptionStage {
	if logger == nil {
		logger = slog.Default()
	}
	return &TranscriptionStage{
		episodes:    episodes,
		downloader:  downloader,
		chunker:     chunker,
		transcriber: transcriber,
		workspace:   workspace,
		logger:      logger,
	}
}

// Execute implements queue.Handler for the transcription queue.
func (s *TranscriptionStage) Execute(ctx context.Context, stage queue.StageContext) (string, error) {
	var payload TranscriptionPayload
	if err := stage.Bind(&payload); err != nil {
		return "", err
	}

	episodeID, err := models.ParseULID(payload.EpisodeID)
	if err != nil {
		return "", fmt.Errorf("transcription payload: %w", err)
	}

	transcript, err := s.Transcribe(ctx, episodeID, stage)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("transcribed %d segments, %.0fs", len(transcript.Segments), transcript.Duration), nil
}

// Transcribe runs the stage for one episode. Already-transcribed
// episodes return their existing transcript without re-work; episodes
// another worker currently owns yield with ErrBusy.
func (s *TranscriptionStage) Transcribe(ctx context.Context, episodeID models.ULID, stage queue.StageContext) (*models.Transcript, error) {
	log := stage.Log().With(slog.String("episode_id", episodeID.String()))

	episode, err := s.episodes.GetByID(ctx, episodeID)
	if err != nil {
		return nil, fmt.Errorf("loading episode: %w", err)
	}
	if episode == nil {
		return nil, fmt.Errorf("episode %s: %w", episodeID, models.ErrNotFound)
	}

	// Fast paths: done, or another worker owns the episode.
	if episode.IsTranscribed() || episode.HasTranscript() {
		log.Info("episode already transcribed")
		return episode.Transcript, nil
	}
	if episode.IsProcessing() {
		return nil, fmt.Errorf("episode %s is %s: %w", episodeID, episode.Status, models.ErrBusy)
	}

	ok, err := s.episodes.TransitionStatus(ctx, episodeID,
		[]models.EpisodeStatus{models.EpisodeStatusPending, models.EpisodeStatusFailed},
		models.EpisodeStatusDownloading)
	if err != nil {
		return nil, fmt.Errorf("claiming episode: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("episode %s claimed by another worker: %w", episodeID, models.ErrBusy)
	}

	transcript, err := s.run(ctx, episode, stage, log)
	if err != nil {
		if markErr := s.episodes.MarkFailed(ctx, episodeID, err); markErr != nil {
			log.Error("failed to record episode failure", slog.Any("error", markErr))
		}
		return nil, err
	}
	return transcript, nil
}

func (s *TranscriptionStage) run(ctx context.Context, episode *models.Episode, stage queue.StageContext, log *slog.Logger) (*models.Transcript, error) {
	episodeID := episode.ID.String()

	// Temp and chunk files go regardless of outcome.
	defer s.workspace.CleanupEpisode(episodeID)

	audioPath := s.workspace.EpisodeAudioPath(episodeID, ".mp3")
	if _, err := s.downloader.Fetch(ctx, episode.AudioURL, audioPath); err != nil {
		return nil, fmt.Errorf("downloading episode audio: %w", err)
	}

	ok, err := s.episodes.TransitionStatus(ctx, episode.ID,
		[]models.EpisodeStatus{models.EpisodeStatusDownloading},
		models.EpisodeStatusTranscribing)
	if err != nil {
		return nil, fmt.Errorf("starting transcription: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("episode %s left downloading state: %w", episodeID, models.ErrBusy)
	}

	plan, err := s.chunker.Prepare(ctx, episodeID, audioPath)
	if err != nil {
		return nil, err
	}

	n := len(plan.Chunks)
	log.Info("transcribing episode",
		slog.Int("chunks", n),
		slog.Bool("compressed", plan.Compressed))

	// The first chunk's detected language pins all later chunks.
	chunkTranscripts := make([]ChunkTranscript, 0, n)
	language := ""
	for i, chunk := range plan.Chunks {
		t, err := s.transcriber.Transcribe(ctx, chunk.Path, stt.Options{Language: language})
		if err != nil {
			return nil, fmt.Errorf("transcribing chunk %d/%d: %w", i+1, n, err)
		}
		if i == 0 {
			language = t.Language
		}
		chunkTranscripts = append(chunkTranscripts, ChunkTranscript{
			Index:      chunk.Index,
			Start:      chunk.Start,
			Duration:   chunk.Duration,
			Transcript: t,
		})
		stage.UpdateProgress(ctx, int(math.Ceil(float64(i+1)/float64(n)*100)))
	}

	merged := MergeChunks(chunkTranscripts)
	if merged.IsEmpty() {
		return nil, fmt.Errorf("transcription produced an empty transcript")
	}

	if err := s.episodes.SaveTranscript(ctx, episode.ID, merged); err != nil {
		return nil, fmt.Errorf("persisting transcript: %w", err)
	}

	log.Info("episode transcribed",
		slog.Int("segments", len(merged.Segments)),
		slog.Float64("duration", merged.Duration))

	return merged, nil
}
