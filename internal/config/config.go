// Package config provides configuration management for sifter using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultMaxOpenConns        = 25
	defaultMaxIdleConns        = 10
	defaultConnMaxIdleTime     = 30 * time.Minute
	defaultWorkerCount         = 2
	defaultQueuePollInterval   = 5 * time.Second
	defaultJobTimeout          = time.Hour
	defaultJobRetention        = 7 * 24 * time.Hour
	defaultLockTimeout         = 30 * time.Minute
	defaultDownloadTimeout     = 30 * time.Minute
	defaultDownloadAttempts    = 3
	defaultDownloadRetryDelay  = time.Second
	defaultSTTMaxFileSize      = 25 << 20 // 25 MiB
	defaultTargetChunkSize     = 22 << 20 // 22 MiB
	defaultChunkDurationSecs   = 1200     // 20 minutes at 128 kbps
	defaultChunkOverlapSecs    = 2
	defaultTargetDigestSecs    = 420
	defaultDigestTolerance     = 60
	defaultMinDigestClips      = 6
	defaultMaxDigestClips      = 8
	defaultPollInterval        = 5 * time.Second
	defaultPollCeiling         = 20 * time.Minute
	defaultAnalysisMaxTokens   = 4000
	defaultAnalysisTemperature = 0.7
	defaultCurationMaxTokens   = 2000
	defaultCurationTemperature = 0.7
)

// Config holds all configuration for the application.
type Config struct {
	Database     DatabaseConfig     `mapstructure:"database"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Queue        QueueConfig        `mapstructure:"queue"`
	Download     DownloadConfig     `mapstructure:"download"`
	STT          STTConfig          `mapstructure:"stt"`
	LLM          LLMConfig          `mapstructure:"llm"`
	TTS          TTSConfig          `mapstructure:"tts"`
	Pipeline     PipelineConfig     `mapstructure:"pipeline"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	FFmpeg       FFmpegConfig       `mapstructure:"ffmpeg"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite, postgres
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

// StorageConfig holds working-directory and published-artifact paths.
type StorageConfig struct {
	// TempDir is the root for ephemeral episode and digest work files.
	TempDir string `mapstructure:"temp_dir"`
	// DigestDir is where finished digest MP3s are published.
	DigestDir string `mapstructure:"digest_dir"`
	// AudioURLPrefix is the opaque handle prefix persisted on ready digests.
	AudioURLPrefix string `mapstructure:"audio_url_prefix"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// QueueConfig holds job queue worker configuration.
type QueueConfig struct {
	WorkerCount  int           `mapstructure:"worker_count"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	JobTimeout   time.Duration `mapstructure:"job_timeout"`
	LockTimeout  time.Duration `mapstructure:"lock_timeout"`
	Retention    time.Duration `mapstructure:"retention"`
}

// DownloadConfig holds episode download configuration.
type DownloadConfig struct {
	Timeout    time.Duration `mapstructure:"timeout"`
	Attempts   int           `mapstructure:"attempts"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
	UserAgent  string        `mapstructure:"user_agent"`
}

// STTConfig holds speech-to-text configuration.
type STTConfig struct {
	// Mode selects the backend: "api" or "local".
	Mode   string `mapstructure:"mode"`
	Model  string `mapstructure:"model"`
	APIKey string `mapstructure:"api_key"`
	// BaseURL overrides the API endpoint (empty = vendor default).
	BaseURL string `mapstructure:"base_url"`
	// LocalScript is the whisper wrapper invoked in local mode.
	LocalScript string `mapstructure:"local_script"`
	// MaxFileSize is the per-call upload limit. Inputs strictly above
	// this size are compressed and chunked before transcription.
	MaxFileSize ByteSize `mapstructure:"max_file_size"`
	// TargetChunkSize is the soft target for individual chunk size.
	TargetChunkSize ByteSize `mapstructure:"target_chunk_size"`
}

// LLMConfig holds chat-completion configuration.
type LLMConfig struct {
	Provider         string `mapstructure:"provider"` // openai, anthropic
	Model            string `mapstructure:"model"`
	OpenAIKey        string `mapstructure:"openai_key"`
	AnthropicKey     string `mapstructure:"anthropic_key"`
	FallbackToOpenAI bool   `mapstructure:"fallback_to_openai"`
	BaseURL          string `mapstructure:"base_url"`
}

// TTSConfig holds speech-synthesis configuration.
type TTSConfig struct {
	Provider string  `mapstructure:"provider"` // openai, mock
	Voice    string  `mapstructure:"voice"`
	Model    string  `mapstructure:"model"`
	APIKey   string  `mapstructure:"api_key"`
	BaseURL  string  `mapstructure:"base_url"`
	Speed    float64 `mapstructure:"speed"`
}

// PipelineConfig holds stage tuning parameters.
type PipelineConfig struct {
	// ChunkDuration is the default transcription window length in seconds
	// for a 128 kbps source. Compressed sources use a longer window.
	ChunkDuration int `mapstructure:"chunk_duration"`
	// ChunkOverlap is the window overlap in seconds.
	ChunkOverlap int `mapstructure:"chunk_overlap"`
	// TargetDigestDuration is the curation duration budget in seconds.
	TargetDigestDuration int `mapstructure:"target_digest_duration"`
	// DigestDurationTolerance widens the budget in both directions.
	DigestDurationTolerance int `mapstructure:"digest_duration_tolerance"`
	MinDigestClips          int `mapstructure:"min_digest_clips"`
	MaxDigestClips          int `mapstructure:"max_digest_clips"`
	// AnalysisMaxTokens bounds the clip-analysis completion.
	AnalysisMaxTokens   int     `mapstructure:"analysis_max_tokens"`
	AnalysisTemperature float64 `mapstructure:"analysis_temperature"`
	// CurationMaxTokens bounds the clip-selection completion.
	CurationMaxTokens   int     `mapstructure:"curation_max_tokens"`
	CurationTemperature float64 `mapstructure:"curation_temperature"`
}

// OrchestratorConfig holds end-to-end digest run configuration.
type OrchestratorConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	PollCeiling  time.Duration `mapstructure:"poll_ceiling"`
	// Schedule enables cron-driven digest generation when true.
	ScheduleEnabled bool `mapstructure:"schedule_enabled"`
	// DailyCron and WeeklyCron fire digest runs for users with the
	// matching frequency preference.
	DailyCron  string `mapstructure:"daily_cron"`
	WeeklyCron string `mapstructure:"weekly_cron"`
}

// FFmpegConfig holds media binary configuration.
type FFmpegConfig struct {
	BinaryPath string `mapstructure:"binary_path"` // Path to ffmpeg (empty = auto-detect)
	ProbePath  string `mapstructure:"probe_path"`  // Path to ffprobe (empty = auto-detect)
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with SIFTER_ and use underscores
// for nesting. Example: SIFTER_STT_MAX_FILE_SIZE=25MiB.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/sifter")
		v.AddConfigPath("$HOME/.sifter")
	}

	v.SetEnvPrefix("SIFTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
func SetDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "sifter.db")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", defaultConnMaxIdleTime)
	v.SetDefault("database.log_level", "warn")

	// Storage defaults
	v.SetDefault("storage.temp_dir", "/tmp/sifter")
	v.SetDefault("storage.digest_dir", "/tmp/sifter/digests")
	v.SetDefault("storage.audio_url_prefix", "/audio/digests")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Queue defaults
	v.SetDefault("queue.worker_count", defaultWorkerCount)
	v.SetDefault("queue.poll_interval", defaultQueuePollInterval)
	v.SetDefault("queue.job_timeout", defaultJobTimeout)
	v.SetDefault("queue.lock_timeout", defaultLockTimeout)
	v.SetDefault("queue.retention", defaultJobRetention)

	// Download defaults
	v.SetDefault("download.timeout", defaultDownloadTimeout)
	v.SetDefault("download.attempts", defaultDownloadAttempts)
	v.SetDefault("download.retry_delay", defaultDownloadRetryDelay)
	v.SetDefault("download.user_agent", "sifter/1.0 (podcast digest service)")

	// STT defaults
	v.SetDefault("stt.mode", "api")
	v.SetDefault("stt.model", "whisper-1")
	v.SetDefault("stt.local_script", "whisper-transcribe")
	v.SetDefault("stt.max_file_size", defaultSTTMaxFileSize)
	v.SetDefault("stt.target_chunk_size", defaultTargetChunkSize)

	// LLM defaults
	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.model", "gpt-4o")
	v.SetDefault("llm.fallback_to_openai", false)

	// TTS defaults
	v.SetDefault("tts.provider", "openai")
	v.SetDefault("tts.voice", "nova")
	v.SetDefault("tts.model", "tts-1")
	v.SetDefault("tts.speed", 1.0)

	// Pipeline defaults
	v.SetDefault("pipeline.chunk_duration", defaultChunkDurationSecs)
	v.SetDefault("pipeline.chunk_overlap", defaultChunkOverlapSecs)
	v.SetDefault("pipeline.target_digest_duration", defaultTargetDigestSecs)
	v.SetDefault("pipeline.digest_duration_tolerance", defaultDigestTolerance)
	v.SetDefault("pipeline.min_digest_clips", defaultMinDigestClips)
	v.SetDefault("pipeline.max_digest_clips", defaultMaxDigestClips)
	v.SetDefault("pipeline.analysis_max_tokens", defaultAnalysisMaxTokens)
	v.SetDefault("pipeline.analysis_temperature", defaultAnalysisTemperature)
	v.SetDefault("pipeline.curation_max_tokens", defaultCurationMaxTokens)
	v.SetDefault("pipeline.curation_temperature", defaultCurationTemperature)

	// Orchestrator defaults
	v.SetDefault("orchestrator.poll_interval", defaultPollInterval)
	v.SetDefault("orchestrator.poll_ceiling", defaultPollCeiling)
	v.SetDefault("orchestrator.schedule_enabled", false)
	v.SetDefault("orchestrator.daily_cron", "0 7 * * *")
	v.SetDefault("orchestrator.weekly_cron", "0 7 * * 1")

	// FFmpeg defaults
	v.SetDefault("ffmpeg.binary_path", "")
	v.SetDefault("ffmpeg.probe_path", "")
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	validDrivers := map[string]bool{"sqlite": true, "postgres": true}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("database.driver must be one of: sqlite, postgres")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	if c.Storage.TempDir == "" {
		return fmt.Errorf("storage.temp_dir is required")
	}
	if c.Storage.DigestDir == "" {
		return fmt.Errorf("storage.digest_dir is required")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.Queue.WorkerCount < 1 {
		return fmt.Errorf("queue.worker_count must be at least 1")
	}

	switch c.STT.Mode {
	case "api", "local":
	default:
		return fmt.Errorf("stt.mode must be one of: api, local")
	}
	if c.STT.MaxFileSize <= 0 {
		return fmt.Errorf("stt.max_file_size must be positive")
	}

	switch c.LLM.Provider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("llm.provider must be one of: openai, anthropic")
	}

	switch c.TTS.Provider {
	case "openai", "mock":
	default:
		return fmt.Errorf("tts.provider must be one of: openai, mock")
	}

	if c.Pipeline.MinDigestClips < 1 || c.Pipeline.MaxDigestClips < c.Pipeline.MinDigestClips {
		return fmt.Errorf("pipeline clip count range is invalid")
	}
	if c.Pipeline.ChunkOverlap < 0 || c.Pipeline.ChunkOverlap >= c.Pipeline.ChunkDuration {
		return fmt.Errorf("pipeline.chunk_overlap must be shorter than pipeline.chunk_duration")
	}

	return nil
}

// EpisodeTempDir returns the directory for ephemeral episode files.
func (c *StorageConfig) EpisodeTempDir() string {
	return filepath.Join(c.TempDir, "episodes")
}

// DigestPath returns the published location for a digest artifact.
func (c *StorageConfig) DigestPath(digestID string) string {
	return filepath.Join(c.DigestDir, digestID+".mp3")
}

// DigestAudioURL returns the opaque handle persisted on a ready digest.
func (c *StorageConfig) DigestAudioURL(digestID string) string {
	return c.AudioURLPrefix + "/" + digestID + ".mp3"
}
