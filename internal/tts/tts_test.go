package tts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/sifterhq/sifter/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_ProviderSelection(t *testing.T) {
	openai, err := New(config.TTSConfig{Provider: "openai", APIKey: "sk-test"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &openaiSynthesizer{}, openai)

	mock, err := New(config.TTSConfig{Provider: "mock"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &mockSynthesizer{}, mock)

	_, err = New(config.TTSConfig{Provider: "openai"}, nil)
	assert.Error(t, err)

	_, err = New(config.TTSConfig{Provider: "parrot"}, nil)
	assert.Error(t, err)
}

func TestOpenAISynthesizer_Synthesize(t *testing.T) {
	var gotReq speechRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/audio/speech", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		w.Write([]byte("mp3 speech bytes"))
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "narration", "intro.mp3")
	s := newOpenAISynthesizer(config.TTSConfig{
		APIKey:  "sk-test",
		Voice:   "nova",
		Model:   "tts-1-hd",
		BaseURL: server.URL + "/v1",
		Speed:   1.1,
	}, nil)

	duration, err := s.Synthesize(context.Background(), "Welcome to your digest.", dest)
	require.NoError(t, err)
	assert.Zero(t, duration)

	assert.Equal(t, "tts-1-hd", gotReq.Model)
	assert.Equal(t, "nova", gotReq.Voice)
	assert.Equal(t, "mp3", gotReq.ResponseFormat)
	assert.InDelta(t, 1.1, gotReq.Speed, 0.001)
	assert.Equal(t, "Welcome to your digest.", gotReq.Input)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "mp3 speech bytes", string(data))
}

func TestOpenAISynthesizer_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("input too long"))
	}))
	defer server.Close()

	s := newOpenAISynthesizer(config.TTSConfig{APIKey: "sk", BaseURL: server.URL}, nil)
	_, err := s.Synthesize(context.Background(), "text", filepath.Join(t.TempDir(), "out.mp3"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
}

func TestOpenAISynthesizer_EmptyText(t *testing.T) {
	s := newOpenAISynthesizer(config.TTSConfig{APIKey: "sk"}, nil)
	_, err := s.Synthesize(context.Background(), "", "/tmp/out.mp3")
	assert.Error(t, err)
}

func TestMockSynthesizer_Synthesize(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "work", "transition-1.mp3")
	s := newMockSynthesizer(nil)

	// 300 words at 150 wpm is 120 seconds.
	duration, err := s.Synthesize(context.Background(), repeatWords(300), dest)
	require.NoError(t, err)
	assert.InDelta(t, 120.0, duration, 0.001)
	assert.FileExists(t, dest)
}

func TestEstimateDuration(t *testing.T) {
	assert.Zero(t, EstimateDuration(""))
	assert.InDelta(t, 0.4, EstimateDuration("just a clip"), 0.001)
	assert.InDelta(t, 60.0, EstimateDuration(repeatWords(150)), 0.001)
}

func repeatWords(n int) string {
	out := ""
	for i := 0; i < n; i++ {
		if i > 0 {
			out += " "
		}
		out += "word"
	}
	return out
}
