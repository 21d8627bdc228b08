package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/sifterhq/sifter/internal/config"
	"github.com/sifterhq/sifter/internal/models"
	"github.com/sifterhq/sifter/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newOrchestrator(t *testing.T, db *gorm.DB, client *fakeLLM) (*Orchestrator, *assemblyFixture) {
	t.Helper()
	users, _, episodes, clips, digests, jobs := newRepos(db)
	service := queue.NewService(jobs, testLogger())

	curation := NewCurationStage(digests, clips, client, config.PipelineConfig{
		TargetDigestDuration:    420,
		DigestDurationTolerance: 60,
		MinDigestClips:          2,
		MaxDigestClips:          4,
	}, testLogger())

	fx := newAssemblyFixture(t, db, client)
	orch := NewOrchestrator(users, episodes, digests, service, curation, fx.stage,
		config.OrchestratorConfig{
			PollInterval: 10 * time.Millisecond,
			PollCeiling:  5 * time.Second,
		}, testLogger())
	return orch, fx
}

func subscribe(t *testing.T, db *gorm.DB, user *models.User, podcast *models.Podcast) {
	t.Helper()
	require.NoError(t, db.Create(&models.Subscription{
		UserID:    user.ID,
		PodcastID: podcast.ID,
	}).Error)
}

func TestOrchestrator_NoRecentEpisodes(t *testing.T) {
	db := setupPipelineDB(t)
	user := createUser(t, db, models.FrequencyDaily)
	podcast := createPodcast(t, db)
	subscribe(t, db, user, podcast)

	// One episode, published outside the daily window.
	episode := createEpisode(t, db, podcast.ID, models.EpisodeStatusPending)
	require.NoError(t, db.Model(episode).UpdateColumn("published_at", time.Now().Add(-48*time.Hour)).Error)

	orch, _ := newOrchestrator(t, db, &fakeLLM{})
	result, err := orch.GenerateDigest(context.Background(), user.ID, inlineStage())
	require.NoError(t, err)
	assert.Equal(t, "no_episodes", result.Status)
	assert.Empty(t, result.DigestID)
}

func TestOrchestrator_UnknownUser(t *testing.T) {
	db := setupPipelineDB(t)
	orch, _ := newOrchestrator(t, db, &fakeLLM{})

	_, err := orch.GenerateDigest(context.Background(), models.NewULID(), inlineStage())
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestOrchestrator_AnalyzedEpisodesProduceDigest(t *testing.T) {
	db := setupPipelineDB(t)
	user := createUser(t, db, models.FrequencyWeekly)
	podcast := createPodcast(t, db)
	subscribe(t, db, user, podcast)

	ep1 := createEpisode(t, db, podcast.ID, models.EpisodeStatusAnalyzed)
	ep2 := createEpisode(t, db, podcast.ID, models.EpisodeStatusAnalyzed)
	clip1 := createClip(t, db, ep1.ID, 60, 150, 95)
	clip2 := createClip(t, db, ep2.ID, 300, 400, 88)

	client := &fakeLLM{responses: []string{
		curationSelection(clip1.ID.String(), clip2.ID.String()),
		scriptResponse("your weekly digest", 1, "until next week"),
	}}
	orch, fx := newOrchestrator(t, db, client)

	var progress []int
	stage := &queue.InlineStage{
		Logger:     testLogger(),
		OnProgress: func(p int) { progress = append(progress, p) },
	}

	result, err := orch.GenerateDigest(context.Background(), user.ID, stage)
	require.NoError(t, err)

	assert.Equal(t, "ready", result.Status)
	assert.NotEmpty(t, result.DigestID)
	assert.NotEmpty(t, result.AudioURL)
	assert.Equal(t, 2, result.ClipCount)
	assert.Equal(t, 2, result.EpisodeCount)

	digestID, err := models.ParseULID(result.DigestID)
	require.NoError(t, err)
	digest, err := fx.digests.GetByID(context.Background(), digestID)
	require.NoError(t, err)
	assert.Equal(t, models.DigestStatusReady, digest.Status)
	assert.ElementsMatch(t, models.StringList{ep1.ID.String(), ep2.ID.String()}, digest.EpisodeIDs)

	// Single-podcast digest records the podcast.
	require.NotNil(t, digest.PodcastID)
	assert.Equal(t, podcast.ID, *digest.PodcastID)

	// Inline stages map into the run's progress band and land on 100.
	require.NotEmpty(t, progress)
	assert.Equal(t, 100, progress[len(progress)-1])
	for i := 1; i < len(progress); i++ {
		assert.GreaterOrEqual(t, progress[i], progress[i-1])
	}
}

func TestOrchestrator_FansOutWithDedupKeys(t *testing.T) {
	db := setupPipelineDB(t)
	user := createUser(t, db, models.FrequencyDaily)
	podcast := createPodcast(t, db)
	subscribe(t, db, user, podcast)

	pending := createEpisode(t, db, podcast.ID, models.EpisodeStatusPending)
	failed := createEpisode(t, db, podcast.ID, models.EpisodeStatusFailed)
	transcribed := createEpisode(t, db, podcast.ID, models.EpisodeStatusTranscribed)
	withTranscript(t, db, transcribed, 600)

	orch, _ := newOrchestrator(t, db, &fakeLLM{})
	orch.cfg.PollCeiling = 30 * time.Millisecond

	// No workers are draining the queues, so the run times out waiting.
	_, err := orch.GenerateDigest(context.Background(), user.ID, inlineStage())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no episodes finished analysis")

	var jobs []models.Job
	require.NoError(t, db.Order("created_at").Find(&jobs).Error)

	keys := make(map[string]string)
	for _, job := range jobs {
		require.NotEmpty(t, job.DedupKey)
		keys[job.DedupKey] = job.Queue
	}
	assert.Equal(t, models.QueueTranscription, keys[TranscriptionDedupKey(pending.ID.String())])
	assert.Equal(t, models.QueueTranscription, keys[TranscriptionDedupKey(failed.ID.String())])
	assert.Equal(t, models.QueueAnalysis, keys[AnalysisDedupKey(transcribed.ID.String(), user.ID.String())])

	// The failed episode got a fresh attempt.
	fresh := &models.Episode{}
	require.NoError(t, db.First(fresh, "id = ?", failed.ID).Error)
	assert.Equal(t, models.EpisodeStatusPending, fresh.Status)
}

func TestOrchestrator_AllEpisodesFailed(t *testing.T) {
	db := setupPipelineDB(t)
	user := createUser(t, db, models.FrequencyDaily)
	podcast := createPodcast(t, db)
	subscribe(t, db, user, podcast)

	ep1 := createEpisode(t, db, podcast.ID, models.EpisodeStatusDownloading)
	ep2 := createEpisode(t, db, podcast.ID, models.EpisodeStatusTranscribing)

	orch, _ := newOrchestrator(t, db, &fakeLLM{})

	// Simulate workers failing both episodes mid-run.
	go func() {
		time.Sleep(30 * time.Millisecond)
		db.Model(&models.Episode{}).
			Where("id IN ?", []models.ULID{ep1.ID, ep2.ID}).
			UpdateColumn("status", models.EpisodeStatusFailed)
	}()

	_, err := orch.GenerateDigest(context.Background(), user.ID, inlineStage())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all 2 episodes failed")
}

func TestOrchestrator_ProceedsWithPartialFailures(t *testing.T) {
	db := setupPipelineDB(t)
	user := createUser(t, db, models.FrequencyWeekly)
	podcast := createPodcast(t, db)
	subscribe(t, db, user, podcast)

	analyzed := createEpisode(t, db, podcast.ID, models.EpisodeStatusAnalyzed)
	stuck := createEpisode(t, db, podcast.ID, models.EpisodeStatusDownloading)
	clip1 := createClip(t, db, analyzed.ID, 60, 150, 95)
	clip2 := createClip(t, db, analyzed.ID, 400, 500, 90)

	client := &fakeLLM{responses: []string{
		curationSelection(clip1.ID.String(), clip2.ID.String()),
		scriptResponse("partial digest", 1, "bye"),
	}}
	orch, fx := newOrchestrator(t, db, client)

	go func() {
		time.Sleep(30 * time.Millisecond)
		db.Model(&models.Episode{}).
			Where("id = ?", stuck.ID).
			UpdateColumn("status", models.EpisodeStatusFailed)
	}()

	result, err := orch.GenerateDigest(context.Background(), user.ID, inlineStage())
	require.NoError(t, err)
	assert.Equal(t, "ready", result.Status)

	digestID, err := models.ParseULID(result.DigestID)
	require.NoError(t, err)
	digest, err := fx.digests.GetByID(context.Background(), digestID)
	require.NoError(t, err)

	// Only the analyzed episode made the digest.
	assert.Equal(t, models.StringList{analyzed.ID.String()}, digest.EpisodeIDs)
}

func TestOrchestrator_CurationFailureMarksDigestFailed(t *testing.T) {
	db := setupPipelineDB(t)
	user := createUser(t, db, models.FrequencyWeekly)
	podcast := createPodcast(t, db)
	subscribe(t, db, user, podcast)

	// Analyzed but clipless: curation finds no candidates.
	createEpisode(t, db, podcast.ID, models.EpisodeStatusAnalyzed)

	orch, _ := newOrchestrator(t, db, &fakeLLM{})
	_, err := orch.GenerateDigest(context.Background(), user.ID, inlineStage())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "curation")

	var digest models.Digest
	require.NoError(t, db.Where("user_id = ?", user.ID).First(&digest).Error)
	assert.Equal(t, models.DigestStatusFailed, digest.Status)
	assert.NotEmpty(t, digest.LastError)
}

func TestOrchestrator_ExecuteBindsPayload(t *testing.T) {
	db := setupPipelineDB(t)
	user := createUser(t, db, models.FrequencyDaily)

	orch, _ := newOrchestrator(t, db, &fakeLLM{})
	stage := &queue.InlineStage{
		Payload: queue.OrchestratorPayload{UserID: user.ID.String()},
		Logger:  testLogger(),
	}

	// No subscriptions means no episodes.
	msg, err := orch.Execute(context.Background(), stage)
	require.NoError(t, err)
	assert.Equal(t, "no recent episodes", msg)
}
