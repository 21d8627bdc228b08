package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/sifterhq/sifter/internal/config"
	"github.com/sifterhq/sifter/internal/ffmpeg"
	"github.com/sifterhq/sifter/internal/llm"
	"github.com/sifterhq/sifter/internal/models"
	"github.com/sifterhq/sifter/internal/queue"
	"github.com/sifterhq/sifter/internal/repository"
	"github.com/sifterhq/sifter/internal/storage"
	"github.com/sifterhq/sifter/internal/stt"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupPipelineDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	err = db.AutoMigrate(
		&models.User{}, &models.Podcast{}, &models.Subscription{},
		&models.Episode{}, &models.Clip{},
		&models.Digest{}, &models.DigestClip{},
		&models.Job{}, &models.JobHistory{},
	)
	require.NoError(t, err)
	return db
}

func testWorkspace(t *testing.T) *storage.Workspace {
	t.Helper()
	root := t.TempDir()
	ws := storage.New(config.StorageConfig{
		TempDir:        filepath.Join(root, "tmp"),
		DigestDir:      filepath.Join(root, "digests"),
		AudioURLPrefix: "/audio/digests",
	}, testLogger())
	require.NoError(t, ws.Init())
	return ws
}

func inlineStage() *queue.InlineStage {
	return &queue.InlineStage{Logger: testLogger()}
}

// fakeFetcher writes fixed bytes to the destination.
type fakeFetcher struct {
	mu    sync.Mutex
	body  []byte
	calls []string
	err   error
}

func (f *fakeFetcher) Fetch(ctx context.Context, url, destPath string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, url)
	if f.err != nil {
		return 0, f.err
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return 0, err
	}
	body := f.body
	if body == nil {
		body = []byte("episode audio")
	}
	if err := os.WriteFile(destPath, body, 0o644); err != nil {
		return 0, err
	}
	return int64(len(body)), nil
}

// fakeToolkit materializes output files instead of running ffmpeg and
// records every operation in order.
type fakeToolkit struct {
	mu       sync.Mutex
	ops      []string
	duration float64

	// compressedSize controls the size of Compress output so chunking
	// decisions can be steered.
	compressedSize int
}

func (f *fakeToolkit) record(op string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, op)
}

func (f *fakeToolkit) opsSeen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.ops...)
}

func (f *fakeToolkit) write(path string, size int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strings.Repeat("x", size)), 0o644)
}

func (f *fakeToolkit) Probe(ctx context.Context, path string) (*ffmpeg.ProbeResult, error) {
	f.record("probe")
	return &ffmpeg.ProbeResult{Format: ffmpeg.ProbeFormat{
		Duration: fmt.Sprintf("%f", f.duration),
		BitRate:  "64000",
	}}, nil
}

func (f *fakeToolkit) SliceClip(ctx context.Context, srcPath, destPath string, start, duration float64) error {
	f.record(fmt.Sprintf("slice %s %.1f+%.1f", filepath.Base(destPath), start, duration))
	return f.write(destPath, 64)
}

func (f *fakeToolkit) Normalize(ctx context.Context, srcPath, destPath string) error {
	f.record("normalize " + filepath.Base(destPath))
	return f.write(destPath, 32)
}

func (f *fakeToolkit) Compress(ctx context.Context, srcPath, destPath, bitrate string) error {
	f.record("compress " + bitrate)
	size := f.compressedSize
	if size == 0 {
		size = 100
	}
	return f.write(destPath, size)
}

func (f *fakeToolkit) ExtractWindow(ctx context.Context, srcPath, destPath string, start, duration float64) error {
	f.record(fmt.Sprintf("window %s %.0f+%.0f", filepath.Base(destPath), start, duration))
	return f.write(destPath, 64)
}

func (f *fakeToolkit) Concatenate(ctx context.Context, segmentPaths []string, destPath string) error {
	f.record(fmt.Sprintf("concat %d", len(segmentPaths)))
	var names []string
	for _, p := range segmentPaths {
		names = append(names, filepath.Base(p))
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return err
	}
	// The file body records the sequence so tests can assert order, and
	// its size drives the duration derivation.
	return os.WriteFile(destPath, []byte(strings.Join(names, "\n")), 0o644)
}

var _ AudioToolkit = (*fakeToolkit)(nil)

// fakeTranscriber returns scripted transcripts in call order and
// records the language hint of every call.
type fakeTranscriber struct {
	mu          sync.Mutex
	transcripts []*models.Transcript
	languages   []string
	calls       int
	err         error
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, audioPath string, opts stt.Options) (*models.Transcript, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.languages = append(f.languages, opts.Language)
	if f.err != nil {
		return nil, f.err
	}
	if f.calls >= len(f.transcripts) {
		return nil, fmt.Errorf("unexpected transcribe call %d", f.calls)
	}
	t := f.transcripts[f.calls]
	f.calls++
	return t, nil
}

// fakeLLM returns scripted completions in call order.
type fakeLLM struct {
	mu        sync.Mutex
	responses []string
	requests  []llm.Request
	err       error
}

func (f *fakeLLM) Complete(ctx context.Context, req llm.Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return "", f.err
	}
	if len(f.requests) > len(f.responses) {
		return "", fmt.Errorf("unexpected completion call %d", len(f.requests))
	}
	return f.responses[len(f.requests)-1], nil
}

func (f *fakeLLM) Provider() string { return "fake" }

var _ llm.Client = (*fakeLLM)(nil)

// fakeSynthesizer writes placeholder narration files.
type fakeSynthesizer struct {
	mu    sync.Mutex
	texts []string
}

func (f *fakeSynthesizer) Synthesize(ctx context.Context, text, destPath string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return 0, err
	}
	return 0, os.WriteFile(destPath, []byte("narration: "+text), 0o644)
}

// Entity builders shared across the stage tests.

func createUser(t *testing.T, db *gorm.DB, freq models.Frequency) *models.User {
	t.Helper()
	user := &models.User{
		Email:     fmt.Sprintf("%s@example.com", models.NewULID()),
		Name:      "Alex",
		Interests: models.StringList{"ai", "distributed systems"},
		Frequency: freq,
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

func createPodcast(t *testing.T, db *gorm.DB) *models.Podcast {
	t.Helper()
	podcast := &models.Podcast{
		RSSURL: fmt.Sprintf("https://feeds.example.com/%s.xml", models.NewULID()),
		Title:  "The Test Feed",
	}
	require.NoError(t, db.Create(podcast).Error)
	return podcast
}

func createEpisode(t *testing.T, db *gorm.DB, podcastID models.ULID, status models.EpisodeStatus) *models.Episode {
	t.Helper()
	episode := &models.Episode{
		PodcastID:   podcastID,
		GUID:        models.NewULID().String(),
		Title:       "Episode Under Test",
		AudioURL:    "https://cdn.example.com/audio.mp3",
		PublishedAt: time.Now(),
		Status:      status,
	}
	require.NoError(t, db.Create(episode).Error)
	return episode
}

func withTranscript(t *testing.T, db *gorm.DB, episode *models.Episode, duration float64) {
	t.Helper()
	episode.Transcript = &models.Transcript{
		Text:     "full episode text",
		Duration: duration,
		Language: "en",
		Segments: []models.Segment{
			{Start: 0, End: duration / 2, Text: "first half"},
			{Start: duration / 2, End: duration, Text: "second half"},
		},
	}
	episode.Duration = &duration
	require.NoError(t, db.Save(episode).Error)
}

func createClip(t *testing.T, db *gorm.DB, episodeID models.ULID, start, end, score float64) *models.Clip {
	t.Helper()
	clip := &models.Clip{
		EpisodeID:      episodeID,
		StartTime:      start,
		EndTime:        end,
		Transcript:     "clip transcript text",
		RelevanceScore: score,
		Summary:        "a clip about the topic",
	}
	require.NoError(t, db.Create(clip).Error)
	return clip
}

func newRepos(db *gorm.DB) (repository.UserRepository, repository.PodcastRepository, repository.EpisodeRepository, repository.ClipRepository, repository.DigestRepository, repository.JobRepository) {
	return repository.NewUserRepository(db),
		repository.NewPodcastRepository(db),
		repository.NewEpisodeRepository(db),
		repository.NewClipRepository(db),
		repository.NewDigestRepository(db),
		repository.NewJobRepository(db)
}
