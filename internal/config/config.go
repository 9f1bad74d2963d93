package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"live-transcriber/internal/domain"
)

// Config represents the complete service configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Capture  CaptureConfig  `yaml:"capture"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Retry    RetryConfig    `yaml:"retry"`
	Session  SessionConfig  `yaml:"session"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig contains HTTP API server configuration.
type ServerConfig struct {
	Address     string `yaml:"address"`
	Port        int    `yaml:"port"`
	MaxUploadMB int    `yaml:"max_upload_mb"`
}

// CaptureConfig describes the chunk source collaborator's cadence.
type CaptureConfig struct {
	ChunkIntervalSeconds int `yaml:"chunk_interval_seconds"`
}

// PipelineConfig locates the external tools and bounds each stage.
type PipelineConfig struct {
	FFmpegPath              string   `yaml:"ffmpeg_path"`
	WhisperPath             string   `yaml:"whisper_path"`
	ModelPath               string   `yaml:"model_path"`
	ScratchDir              string   `yaml:"scratch_dir"`
	NormalizeTimeoutSeconds int      `yaml:"normalize_timeout_seconds"`
	InferTimeoutSeconds     int      `yaml:"infer_timeout_seconds"`
	Languages               []string `yaml:"languages"`
}

// RetryConfig bounds the per-chunk attempt loop.
type RetryConfig struct {
	MaxAttempts int `yaml:"max_attempts"`
	BaseDelayMS int `yaml:"base_delay_ms"`
	MaxDelayMS  int `yaml:"max_delay_ms"`
}

// SessionConfig bounds the in-memory outcome buffers.
type SessionConfig struct {
	MaxErrors int `yaml:"max_errors"`
	MaxEvents int `yaml:"max_events"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the baseline configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Address:     "127.0.0.1",
			Port:        8090,
			MaxUploadMB: 64,
		},
		Capture: CaptureConfig{
			ChunkIntervalSeconds: 120,
		},
		Pipeline: PipelineConfig{
			FFmpegPath:              "ffmpeg",
			WhisperPath:             "whisper.cpp",
			ScratchDir:              os.TempDir(),
			NormalizeTimeoutSeconds: 120,
			InferTimeoutSeconds:     300,
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelayMS: 1000,
			MaxDelayMS:  30000,
		},
		Session: SessionConfig{
			MaxErrors: 50,
			MaxEvents: 500,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads and parses the configuration file, falling back to defaults
// when the path is empty or the file does not exist.
func Load(path string) (*Config, error) {
	config := Default()
	if path == "" {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return config, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs validation across all configuration sections.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.Capture.Validate(); err != nil {
		return fmt.Errorf("capture config: %w", err)
	}

	if err := c.Pipeline.Validate(); err != nil {
		return fmt.Errorf("pipeline config: %w", err)
	}

	if err := c.Retry.Validate(); err != nil {
		return fmt.Errorf("retry config: %w", err)
	}

	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates server configuration.
func (s *ServerConfig) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", s.Port)
	}

	if s.Address == "" {
		return fmt.Errorf("address cannot be empty")
	}

	if s.MaxUploadMB < 1 {
		return fmt.Errorf("max_upload_mb must be at least 1, got %d", s.MaxUploadMB)
	}

	return nil
}

// Validate validates capture configuration.
func (c *CaptureConfig) Validate() error {
	if c.ChunkIntervalSeconds < 1 {
		return fmt.Errorf("chunk_interval_seconds must be at least 1, got %d", c.ChunkIntervalSeconds)
	}

	return nil
}

// Validate validates pipeline configuration. The inference deadline must
// be strictly longer than the normalize deadline.
func (p *PipelineConfig) Validate() error {
	if p.FFmpegPath == "" {
		return fmt.Errorf("ffmpeg_path cannot be empty")
	}

	if p.WhisperPath == "" {
		return fmt.Errorf("whisper_path cannot be empty")
	}

	if p.ModelPath == "" {
		return fmt.Errorf("model_path cannot be empty")
	}

	if p.NormalizeTimeoutSeconds < 1 {
		return fmt.Errorf("normalize_timeout_seconds must be at least 1, got %d", p.NormalizeTimeoutSeconds)
	}

	if p.InferTimeoutSeconds <= p.NormalizeTimeoutSeconds {
		return fmt.Errorf("infer_timeout_seconds (%d) must be greater than normalize_timeout_seconds (%d)",
			p.InferTimeoutSeconds, p.NormalizeTimeoutSeconds)
	}

	for _, lang := range p.Languages {
		normalized := domain.NormalizeLanguage(lang)
		if !domain.SupportedLanguage(normalized) {
			return fmt.Errorf("unsupported language code: %s", lang)
		}
	}

	return nil
}

// Validate validates retry configuration.
func (r *RetryConfig) Validate() error {
	if r.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1, got %d", r.MaxAttempts)
	}

	if r.BaseDelayMS < 1 {
		return fmt.Errorf("base_delay_ms must be at least 1, got %d", r.BaseDelayMS)
	}

	if r.MaxDelayMS < r.BaseDelayMS {
		return fmt.Errorf("max_delay_ms (%d) must be at least base_delay_ms (%d)", r.MaxDelayMS, r.BaseDelayMS)
	}

	return nil
}

// Validate validates session configuration.
func (s *SessionConfig) Validate() error {
	if s.MaxErrors < 1 {
		return fmt.Errorf("max_errors must be at least 1, got %d", s.MaxErrors)
	}

	if s.MaxEvents < 1 {
		return fmt.Errorf("max_events must be at least 1, got %d", s.MaxEvents)
	}

	return nil
}

// Validate validates logging configuration.
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// GetChunkInterval returns the chunk cadence as a time.Duration.
func (c *CaptureConfig) GetChunkInterval() time.Duration {
	return time.Duration(c.ChunkIntervalSeconds) * time.Second
}

// GetNormalizeTimeout returns the normalize deadline as a time.Duration.
func (p *PipelineConfig) GetNormalizeTimeout() time.Duration {
	return time.Duration(p.NormalizeTimeoutSeconds) * time.Second
}

// GetInferTimeout returns the inference deadline as a time.Duration.
func (p *PipelineConfig) GetInferTimeout() time.Duration {
	return time.Duration(p.InferTimeoutSeconds) * time.Second
}

// GetBaseDelay returns the first backoff delay as a time.Duration.
func (r *RetryConfig) GetBaseDelay() time.Duration {
	return time.Duration(r.BaseDelayMS) * time.Millisecond
}

// GetMaxDelay returns the backoff cap as a time.Duration.
func (r *RetryConfig) GetMaxDelay() time.Duration {
	return time.Duration(r.MaxDelayMS) * time.Millisecond
}

// MaxUploadBytes returns the ingress body cap in bytes.
func (s *ServerConfig) MaxUploadBytes() int64 {
	return int64(s.MaxUploadMB) << 20
}
