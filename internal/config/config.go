package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPath    = "config/orion-speak.json"
	DefaultEnvFile = ".env"
)

type AppConfig struct {
	Logging  LoggingConfig  `json:"logging" yaml:"logging"`
	TTS      TTSConfig      `json:"tts" yaml:"tts"`
	Playback PlaybackConfig `json:"playback" yaml:"playback"`
	Pipeline PipelineConfig `json:"pipeline" yaml:"pipeline"`
	Bus      BusConfig      `json:"bus" yaml:"bus"`
	Journal  JournalConfig  `json:"journal" yaml:"journal"`
	Metrics  MetricsConfig  `json:"metrics" yaml:"metrics"`
	Sentry   SentryConfig   `json:"sentry" yaml:"sentry"`
}

type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

type TTSConfig struct {
	APIKey      string `json:"api_key" yaml:"api_key"`
	Endpoint    string `json:"endpoint" yaml:"endpoint"`
	Model       string `json:"model" yaml:"model"`
	Voice       string `json:"voice" yaml:"voice"`
	Speed       string `json:"speed" yaml:"speed"`
	Language    string `json:"language" yaml:"language"`
	SampleRate  int    `json:"sample_rate" yaml:"sample_rate"`
	DialTimeout int    `json:"dial_timeout_ms" yaml:"dial_timeout_ms"`
}

type PlaybackConfig struct {
	DeviceSampleRate int     `json:"device_sample_rate" yaml:"device_sample_rate"`
	FramesPerBuffer  int     `json:"frames_per_buffer" yaml:"frames_per_buffer"`
	Volume           float64 `json:"volume" yaml:"volume"`
	Rate             float64 `json:"rate" yaml:"rate"`
}

type PipelineConfig struct {
	Workers             int `json:"workers" yaml:"workers"`
	SetupTimeoutMs      int `json:"setup_timeout_ms" yaml:"setup_timeout_ms"`
	PollIntervalMs      int `json:"poll_interval_ms" yaml:"poll_interval_ms"`
	ConnectBackoffMs    int `json:"connect_backoff_ms" yaml:"connect_backoff_ms"`
	MissingKeyBackoffMs int `json:"missing_key_backoff_ms" yaml:"missing_key_backoff_ms"`
}

type BusConfig struct {
	Enabled          bool     `json:"enabled" yaml:"enabled"`
	Servers          []string `json:"servers" yaml:"servers"`
	SubjectPrefix    string   `json:"subject_prefix" yaml:"subject_prefix"`
	ConnectTimeoutMs int      `json:"connect_timeout_ms" yaml:"connect_timeout_ms"`
}

type JournalConfig struct {
	Enabled       bool   `json:"enabled" yaml:"enabled"`
	Path          string `json:"path" yaml:"path"`
	RetentionDays int    `json:"retention_days" yaml:"retention_days"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type SentryConfig struct {
	DSN         string `json:"dsn" yaml:"dsn"`
	Environment string `json:"environment" yaml:"environment"`
}

func DefaultConfig() *AppConfig {
	return &AppConfig{
		Logging: LoggingConfig{},
		TTS: TTSConfig{
			Endpoint:    "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent",
			Model:       "models/gemini-2.5-flash-native-audio-preview-09-2025",
			Voice:       "Aoede",
			Speed:       "Normal",
			Language:    "auto",
			SampleRate:  24000,
			DialTimeout: 10000,
		},
		Playback: PlaybackConfig{
			DeviceSampleRate: 24000,
			FramesPerBuffer:  1024,
			Volume:           1.0,
			Rate:             1.0,
		},
		Pipeline: PipelineConfig{
			Workers:             2,
			SetupTimeoutMs:      10000,
			PollIntervalMs:      20,
			ConnectBackoffMs:    2000,
			MissingKeyBackoffMs: 5000,
		},
		Bus: BusConfig{
			Servers:          []string{"nats://127.0.0.1:4222"},
			SubjectPrefix:    "orion.speak",
			ConnectTimeoutMs: 2000,
		},
		Journal: JournalConfig{
			Path:          "data/journal.db",
			RetentionDays: 30,
		},
		Metrics: MetricsConfig{
			Addr: ":9464",
		},
	}
}

// Load reads path (JSON, or YAML for .yaml/.yml), then .env, then the process
// environment. A missing config file is not an error.
func Load(path string) (*AppConfig, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = DefaultPath
	}

	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := decode(path, data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := LoadDotEnv(DefaultEnvFile); err != nil {
		return nil, err
	}

	cfg.ApplyEnv()
	return cfg, cfg.Validate()
}

func decode(path string, data []byte, cfg *AppConfig) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	default:
		return json.Unmarshal(data, cfg)
	}
}

// LoadDotEnv merges KEY=VALUE pairs from file into the environment without
// overriding variables that are already set.
func LoadDotEnv(file string) error {
	if err := godotenv.Load(file); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", file, err)
	}
	return nil
}

func (c *AppConfig) ApplyEnv() {
	if level := strings.TrimSpace(os.Getenv("LOG_LEVEL")); level != "" {
		c.Logging.Level = level
	}
	if format := strings.TrimSpace(os.Getenv("LOG_FORMAT")); format != "" {
		c.Logging.Format = format
	}
	if key := strings.TrimSpace(os.Getenv("GEMINI_API_KEY")); key != "" {
		c.TTS.APIKey = key
	}
	if url := strings.TrimSpace(os.Getenv("ORION_SPEAK_NATS_URL")); url != "" {
		c.Bus.Servers = strings.Split(url, ",")
		c.Bus.Enabled = true
	}
	if dsn := strings.TrimSpace(os.Getenv("SENTRY_DSN")); dsn != "" {
		c.Sentry.DSN = dsn
	}
}

func (c *AppConfig) Validate() error {
	if c.TTS.SampleRate <= 0 {
		return errors.New("tts.sample_rate must be positive")
	}
	if c.Playback.DeviceSampleRate <= 0 {
		return errors.New("playback.device_sample_rate must be positive")
	}
	if c.Playback.Volume < 0 {
		return errors.New("playback.volume must be non-negative")
	}
	if c.Playback.Rate <= 0 {
		return errors.New("playback.rate must be positive")
	}
	switch strings.ToLower(strings.TrimSpace(c.TTS.Speed)) {
	case "", "slow", "normal", "fast":
	default:
		return fmt.Errorf("invalid tts.speed: %s", c.TTS.Speed)
	}
	if c.Pipeline.Workers <= 0 {
		return errors.New("pipeline.workers must be positive")
	}
	if c.Pipeline.PollIntervalMs <= 0 {
		return errors.New("pipeline.poll_interval_ms must be positive")
	}
	if c.Pipeline.SetupTimeoutMs <= 0 {
		return errors.New("pipeline.setup_timeout_ms must be positive")
	}
	if c.Pipeline.ConnectBackoffMs < 0 || c.Pipeline.MissingKeyBackoffMs < 0 {
		return errors.New("pipeline backoffs must be non-negative")
	}
	if c.Bus.Enabled && len(c.Bus.Servers) == 0 {
		return errors.New("bus.servers is required when the bus is enabled")
	}
	if c.Journal.Enabled && strings.TrimSpace(c.Journal.Path) == "" {
		return errors.New("journal.path is required when the journal is enabled")
	}
	return nil
}

func (c *AppConfig) ValidateKeys(requireTTS bool) error {
	if requireTTS && strings.TrimSpace(c.TTS.APIKey) == "" {
		return errors.New("tts api_key is required (set GEMINI_API_KEY)")
	}
	return nil
}

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}

func (t TTSConfig) DialTimeoutDuration() time.Duration { return ms(t.DialTimeout) }

func (p PipelineConfig) SetupTimeout() time.Duration      { return ms(p.SetupTimeoutMs) }
func (p PipelineConfig) PollInterval() time.Duration      { return ms(p.PollIntervalMs) }
func (p PipelineConfig) ConnectBackoff() time.Duration    { return ms(p.ConnectBackoffMs) }
func (p PipelineConfig) MissingKeyBackoff() time.Duration { return ms(p.MissingKeyBackoffMs) }

// EnvCredentials re-reads the key on every call so a key exported after start
// is picked up by the next request.
type EnvCredentials struct {
	Fallback string
	Var      string
}

func (c EnvCredentials) APIKey() string {
	name := c.Var
	if name == "" {
		name = "GEMINI_API_KEY"
	}
	if key := strings.TrimSpace(os.Getenv(name)); key != "" {
		return key
	}
	return strings.TrimSpace(c.Fallback)
}
