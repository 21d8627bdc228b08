package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sifterhq/sifter/internal/models"
	"github.com/sifterhq/sifter/internal/queue"
	"github.com/sifterhq/sifter/internal/repository"
	"github.com/sifterhq/sifter/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type assemblyFixture struct {
	stage       *AssemblyStage
	digests     repository.DigestRepository
	workspace   *storage.Workspace
	toolkit     *fakeToolkit
	synthesizer *fakeSynthesizer
	client      *fakeLLM
	fetcher     *fakeFetcher
}

func newAssemblyFixture(t *testing.T, db *gorm.DB, client *fakeLLM) *assemblyFixture {
	t.Helper()
	workspace := testWorkspace(t)
	toolkit := &fakeToolkit{duration: 90}
	synthesizer := &fakeSynthesizer{}
	fetcher := &fakeFetcher{}
	digests := repository.NewDigestRepository(db)
	stage := NewAssemblyStage(digests, repository.NewUserRepository(db),
		fetcher, toolkit, synthesizer, client, workspace, testLogger())
	return &assemblyFixture{
		stage:       stage,
		digests:     digests,
		workspace:   workspace,
		toolkit:     toolkit,
		synthesizer: synthesizer,
		client:      client,
		fetcher:     fetcher,
	}
}

// seedAssembly creates a pending digest with an ordered set of clips.
func seedAssembly(t *testing.T, db *gorm.DB, clipCount int) *models.Digest {
	t.Helper()
	digest, clips, _ := seedCuration(t, db, clipCount)
	digests := repository.NewDigestRepository(db)

	var ids []models.ULID
	for _, c := range clips {
		ids = append(ids, c.ID)
	}
	require.NoError(t, digests.SetClips(context.Background(), digest.ID, ids))
	require.NoError(t, db.Model(digest).UpdateColumn("status", models.DigestStatusPending).Error)
	digest.Status = models.DigestStatusPending
	return digest
}

func scriptResponse(intro string, transitionCount int, outro string) string {
	transitions := make([]string, 0, transitionCount)
	for i := 0; i < transitionCount; i++ {
		transitions = append(transitions, fmt.Sprintf("moving on %d", i))
	}
	out, _ := json.Marshal(NarratorScript{Intro: intro, Transitions: transitions, Outro: outro})
	return string(out)
}

func TestParseNarratorScript(t *testing.T) {
	script, err := ParseNarratorScript(`{"intro":"hello","transitions":["a","b"],"outro":"bye"}`)
	require.NoError(t, err)
	assert.Equal(t, "hello", script.Intro)
	assert.Len(t, script.Transitions, 2)

	_, err = ParseNarratorScript(`{"transitions":[],"outro":"bye"}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no intro")

	_, err = ParseNarratorScript("not json")
	require.Error(t, err)
}

func TestBuildSequence(t *testing.T) {
	narration := &narratorPaths{
		intro:       "intro.mp3",
		transitions: []string{"t0.mp3", "t1.mp3"},
		outro:       "outro.mp3",
	}

	got := buildSequence(narration, []string{"c0.mp3", "c1.mp3", "c2.mp3"})
	assert.Equal(t, []string{
		"intro.mp3", "c0.mp3", "t0.mp3", "c1.mp3", "t1.mp3", "c2.mp3", "outro.mp3",
	}, got)

	// Fewer transitions than gaps: the short transitions list is used up
	// and the remaining clips run back to back.
	short := &narratorPaths{intro: "intro.mp3", transitions: []string{"t0.mp3"}, outro: "outro.mp3"}
	got = buildSequence(short, []string{"c0.mp3", "c1.mp3", "c2.mp3"})
	assert.Equal(t, []string{
		"intro.mp3", "c0.mp3", "t0.mp3", "c1.mp3", "c2.mp3", "outro.mp3",
	}, got)
}

func TestAssemblyStage_PublishesDigest(t *testing.T) {
	db := setupPipelineDB(t)
	digest := seedAssembly(t, db, 3)

	client := &fakeLLM{responses: []string{scriptResponse("welcome Alex", 2, "that is all")}}
	fx := newAssemblyFixture(t, db, client)

	result, err := fx.stage.Assemble(context.Background(), AssemblyPayload{
		DigestID: digest.ID.String(),
		UserID:   digest.UserID.String(),
	}, inlineStage())
	require.NoError(t, err)

	assert.Equal(t, 3, result.ClipCount)
	assert.Equal(t, 2, result.EpisodeCount)
	assert.NotEmpty(t, result.AudioURL)

	fresh, err := fx.digests.GetByID(context.Background(), digest.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DigestStatusReady, fresh.Status)
	assert.Equal(t, result.AudioURL, fresh.AudioURL)
	assert.NotEmpty(t, fresh.NarratorScript)
	assert.Empty(t, fresh.LastError)

	// The published artifact records the concatenation order.
	published, err := os.ReadFile(fx.workspace.PublishedPath(digest.ID.String()))
	require.NoError(t, err)
	assert.Equal(t, []string{
		"narrator_intro.mp3",
		"clip_0.mp3", "narrator_transition_0.mp3",
		"clip_1.mp3", "narrator_transition_1.mp3",
		"clip_2.mp3",
		"narrator_outro.mp3",
	}, strings.Split(string(published), "\n"))

	// Duration derives from the artifact size at 128 kbps.
	require.NotNil(t, fresh.Duration)
	assert.InDelta(t, float64(len(published))/16384, *fresh.Duration, 0.001)

	// Narration was synthesized once per script part.
	assert.Equal(t, []string{"welcome Alex", "moving on 0", "moving on 1", "that is all"}, fx.synthesizer.texts)

	// One full episode is downloaded per clip.
	assert.Len(t, fx.fetcher.calls, 3)

	// The work directory is cleaned up after publishing.
	assert.NoDirExists(t, fx.workspace.DigestWorkDir(digest.ID.String()))
}

func TestAssemblyStage_ClipExtractionProgress(t *testing.T) {
	db := setupPipelineDB(t)
	digest := seedAssembly(t, db, 3)

	client := &fakeLLM{responses: []string{scriptResponse("hi", 2, "bye")}}
	fx := newAssemblyFixture(t, db, client)

	var progress []int
	stageCtx := &queue.InlineStage{
		Logger:     testLogger(),
		OnProgress: func(p int) { progress = append(progress, p) },
	}

	_, err := fx.stage.Assemble(context.Background(), AssemblyPayload{
		DigestID: digest.ID.String(),
	}, stageCtx)
	require.NoError(t, err)

	// Clip i of N reports 50 plus i/N of the 30-point extraction band,
	// so the band is entered at 50 and left short of 80.
	assert.Subset(t, progress, []int{50, 60, 70})
	assert.NotContains(t, progress, 80)
	for i := 1; i < len(progress); i++ {
		assert.GreaterOrEqual(t, progress[i], progress[i-1])
	}
	assert.Equal(t, 100, progress[len(progress)-1])
}

func TestAssemblyStage_SlicesClipRanges(t *testing.T) {
	db := setupPipelineDB(t)
	digest := seedAssembly(t, db, 2)

	client := &fakeLLM{responses: []string{scriptResponse("hi", 1, "bye")}}
	fx := newAssemblyFixture(t, db, client)

	_, err := fx.stage.Assemble(context.Background(), AssemblyPayload{
		DigestID: digest.ID.String(),
	}, inlineStage())
	require.NoError(t, err)

	// seedCuration spaces clips 200 s apart with 90 s length.
	ops := fx.toolkit.opsSeen()
	assert.Contains(t, ops, "slice clip_0.mp3 0.0+90.0")
	assert.Contains(t, ops, "slice clip_1.mp3 200.0+90.0")
}

func TestAssemblyStage_ResumeSkipsScriptAndTTS(t *testing.T) {
	db := setupPipelineDB(t)
	digest := seedAssembly(t, db, 2)
	digests := repository.NewDigestRepository(db)

	script := scriptResponse("persisted intro", 1, "persisted outro")
	require.NoError(t, db.Model(digest).UpdateColumn("narrator_script", script).Error)

	// Narration files left over from the interrupted run.
	ttsDir := t.TempDir()
	paths := &TTSPaths{
		Intro:       filepath.Join(ttsDir, "narrator_intro.mp3"),
		Transitions: []string{filepath.Join(ttsDir, "narrator_transition_0.mp3")},
		Outro:       filepath.Join(ttsDir, "narrator_outro.mp3"),
	}
	for _, p := range append([]string{paths.Intro, paths.Outro}, paths.Transitions...) {
		require.NoError(t, os.WriteFile(p, []byte("narration"), 0o644))
	}

	client := &fakeLLM{} // any call would error
	fx := newAssemblyFixture(t, db, client)

	result, err := fx.stage.Assemble(context.Background(), AssemblyPayload{
		DigestID:             digest.ID.String(),
		SkipScriptGeneration: true,
		ExistingTTSPaths:     paths,
	}, inlineStage())
	require.NoError(t, err)
	assert.Equal(t, 2, result.ClipCount)

	assert.Empty(t, client.requests)
	assert.Empty(t, fx.synthesizer.texts)

	fresh, err := digests.GetByID(context.Background(), digest.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DigestStatusReady, fresh.Status)
}

func TestAssemblyStage_ResumeWithMissingNarrationFails(t *testing.T) {
	db := setupPipelineDB(t)
	digest := seedAssembly(t, db, 2)

	script := scriptResponse("persisted intro", 1, "persisted outro")
	require.NoError(t, db.Model(digest).UpdateColumn("narrator_script", script).Error)

	fx := newAssemblyFixture(t, db, &fakeLLM{})

	_, err := fx.stage.Assemble(context.Background(), AssemblyPayload{
		DigestID:             digest.ID.String(),
		SkipScriptGeneration: true,
		ExistingTTSPaths: &TTSPaths{
			Intro: filepath.Join(t.TempDir(), "gone.mp3"),
			Outro: filepath.Join(t.TempDir(), "also-gone.mp3"),
		},
	}, inlineStage())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "existing narration file")

	fresh, err := fx.digests.GetByID(context.Background(), digest.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DigestStatusFailed, fresh.Status)
}

func TestAssemblyStage_ReadyDigestReturnsExisting(t *testing.T) {
	db := setupPipelineDB(t)
	digest := seedAssembly(t, db, 2)

	duration := 410.0
	require.NoError(t, db.Model(digest).Updates(map[string]any{
		"status":    models.DigestStatusReady,
		"audio_url": "/audio/digests/existing.mp3",
		"duration":  duration,
	}).Error)

	client := &fakeLLM{}
	fx := newAssemblyFixture(t, db, client)

	result, err := fx.stage.Assemble(context.Background(), AssemblyPayload{
		DigestID: digest.ID.String(),
	}, inlineStage())
	require.NoError(t, err)
	assert.Equal(t, "/audio/digests/existing.mp3", result.AudioURL)
	assert.InDelta(t, 410, result.Duration, 0.001)
	assert.Empty(t, client.requests)
	assert.Empty(t, fx.toolkit.opsSeen())
}

func TestAssemblyStage_NoClipsFails(t *testing.T) {
	db := setupPipelineDB(t)
	user := createUser(t, db, models.FrequencyDaily)
	digest := &models.Digest{UserID: user.ID, Status: models.DigestStatusPending}
	require.NoError(t, db.Create(digest).Error)

	fx := newAssemblyFixture(t, db, &fakeLLM{})
	_, err := fx.stage.Assemble(context.Background(), AssemblyPayload{
		DigestID: digest.ID.String(),
	}, inlineStage())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no clips")
}

func TestAssemblyStage_BusyDigestYields(t *testing.T) {
	db := setupPipelineDB(t)
	digest := seedAssembly(t, db, 2)
	require.NoError(t, db.Model(digest).UpdateColumn("status", models.DigestStatusStitching).Error)

	fx := newAssemblyFixture(t, db, &fakeLLM{})
	_, err := fx.stage.Assemble(context.Background(), AssemblyPayload{
		DigestID: digest.ID.String(),
	}, inlineStage())
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrBusy)
}

func TestAssemblyStage_ExtraTransitionsAreDropped(t *testing.T) {
	db := setupPipelineDB(t)
	digest := seedAssembly(t, db, 2)

	// Model produced 4 transitions for a 2-clip digest; only the first
	// gap's transition is synthesized and stitched.
	client := &fakeLLM{responses: []string{scriptResponse("hi", 4, "bye")}}
	fx := newAssemblyFixture(t, db, client)

	_, err := fx.stage.Assemble(context.Background(), AssemblyPayload{
		DigestID: digest.ID.String(),
	}, inlineStage())
	require.NoError(t, err)

	assert.Equal(t, []string{"hi", "moving on 0", "bye"}, fx.synthesizer.texts)

	published, err := os.ReadFile(fx.workspace.PublishedPath(digest.ID.String()))
	require.NoError(t, err)
	assert.Equal(t, []string{
		"narrator_intro.mp3",
		"clip_0.mp3", "narrator_transition_0.mp3",
		"clip_1.mp3",
		"narrator_outro.mp3",
	}, strings.Split(string(published), "\n"))
}
