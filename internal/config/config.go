// Package config loads pipeline configuration from a YAML file with
// environment overrides. Secrets (API keys, tokens, connection strings)
// come from the environment only; a local .env file is honored in dev.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Script   ScriptConfig   `yaml:"script"`
	Media    MediaConfig    `yaml:"media"`
	Speech   SpeechConfig   `yaml:"speech"`
	Retry    RetryConfig    `yaml:"retry"`
	Publish  PublishConfig  `yaml:"publish"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Paths    PathsConfig    `yaml:"paths"`
}

type ScriptConfig struct {
	Model             string  `yaml:"model"`
	Temperature       float64 `yaml:"temperature"`
	MaxTokens         int     `yaml:"max_tokens"`
	Niche             string  `yaml:"niche"`
	SceneCount        int     `yaml:"scene_count"`
	MinWordsPerScene  int     `yaml:"min_words_per_scene"`
	MaxWordsPerScene  int     `yaml:"max_words_per_scene"`
	MinTotalWords     int     `yaml:"min_total_words"`
	MaxTotalWords     int     `yaml:"max_total_words"`
	WordsPerMinute    int     `yaml:"words_per_minute"`
	MaxDurationSec    int     `yaml:"max_duration_sec"`
	MaxRegenerations  int     `yaml:"max_regenerations"`
}

type MediaConfig struct {
	Width           int     `yaml:"width"`
	Height          int     `yaml:"height"`
	Steps           int     `yaml:"steps"`
	DegradeFraction float64 `yaml:"degrade_fraction"`
}

type SpeechConfig struct {
	Voice string `yaml:"voice"`
}

type RetryConfig struct {
	MaxAttempts    int     `yaml:"max_attempts"`
	BaseDelaySec   float64 `yaml:"base_delay_sec"`
	MaxDelaySec    float64 `yaml:"max_delay_sec"`
	Multiplier     float64 `yaml:"multiplier"`
	JitterFraction float64 `yaml:"jitter_fraction"`
}

func (r RetryConfig) BaseDelay() time.Duration {
	return time.Duration(r.BaseDelaySec * float64(time.Second))
}

func (r RetryConfig) MaxDelay() time.Duration {
	return time.Duration(r.MaxDelaySec * float64(time.Second))
}

type PublishConfig struct {
	CategoryID      string   `yaml:"category_id"`
	PrivacyStatus   string   `yaml:"privacy_status"`
	MadeForKids     bool     `yaml:"made_for_kids"`
	DefaultLanguage string   `yaml:"default_language"`
	DefaultTags     []string `yaml:"default_tags"`
}

type ScheduleConfig struct {
	Enabled       bool `yaml:"enabled"`
	IntervalHours int  `yaml:"interval_hours"`
}

type PathsConfig struct {
	DataDir string `yaml:"data_dir"`
}

// Default returns the configuration used when no YAML file is present.
// Values mirror the platform constraints for vertical short-form video:
// 1080x1920 output, hard 59s duration ceiling.
func Default() Config {
	return Config{
		Script: ScriptConfig{
			Model:            "gpt-4o-mini",
			Temperature:      0.8,
			MaxTokens:        2048,
			Niche:            "science and technology",
			SceneCount:       5,
			MinWordsPerScene: 10,
			MaxWordsPerScene: 40,
			MinTotalWords:    80,
			MaxTotalWords:    150,
			WordsPerMinute:   150,
			MaxDurationSec:   59,
			MaxRegenerations: 3,
		},
		Media: MediaConfig{
			Width:           1080,
			Height:          1920,
			Steps:           30,
			DegradeFraction: 0.70,
		},
		Speech: SpeechConfig{
			Voice: "en-US-GuyNeural",
		},
		Retry: RetryConfig{
			MaxAttempts:    3,
			BaseDelaySec:   2,
			MaxDelaySec:    60,
			Multiplier:     2,
			JitterFraction: 0.5,
		},
		Publish: PublishConfig{
			CategoryID:      "28",
			PrivacyStatus:   "public",
			MadeForKids:     false,
			DefaultLanguage: "en",
			DefaultTags:     []string{"shorts"},
		},
		Schedule: ScheduleConfig{
			Enabled:       false,
			IntervalHours: 8,
		},
		Paths: PathsConfig{
			DataDir: "data",
		},
	}
}

// Load reads the YAML config at path, falling back to defaults when the
// file does not exist. A .env file next to the binary is loaded first so
// env overrides work the same in dev and CI.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(&cfg)
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	applyEnvOverrides(&cfg)
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	cfg.Paths.DataDir = Env("DATA_DIR", cfg.Paths.DataDir)
	cfg.Schedule.Enabled = BoolEnv("SCHEDULE_ENABLED", cfg.Schedule.Enabled)
	cfg.Schedule.IntervalHours = IntEnv("SCHEDULE_INTERVAL_HOURS", cfg.Schedule.IntervalHours)
	cfg.Media.Width = IntEnv("VIDEO_WIDTH", cfg.Media.Width)
	cfg.Media.Height = IntEnv("VIDEO_HEIGHT", cfg.Media.Height)
	cfg.Script.MaxDurationSec = IntEnv("MAX_VIDEO_DURATION", cfg.Script.MaxDurationSec)
}

func (c Config) validate() error {
	if c.Script.SceneCount < 1 {
		return fmt.Errorf("script.scene_count must be >= 1, got %d", c.Script.SceneCount)
	}
	if c.Script.MinWordsPerScene > c.Script.MaxWordsPerScene {
		return fmt.Errorf("script word bounds inverted: min %d > max %d",
			c.Script.MinWordsPerScene, c.Script.MaxWordsPerScene)
	}
	if c.Media.DegradeFraction <= 0 || c.Media.DegradeFraction > 1 {
		return fmt.Errorf("media.degrade_fraction must be in (0,1], got %v", c.Media.DegradeFraction)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be >= 1, got %d", c.Retry.MaxAttempts)
	}
	return nil
}
