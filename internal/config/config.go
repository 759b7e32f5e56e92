// Package config resolves runtime configuration from the environment.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the fully materialized runtime configuration used by viva.
type Config struct {
	Platform PlatformConfig
	Audio    AudioConfig
	Speech   SpeechConfig
	Timing   TimingConfig
	Draft    DraftConfig
}

// PlatformConfig locates the externally-owned exam platform surfaces.
type PlatformConfig struct {
	AttemptURL        string
	SignURL           string
	IntakeURL         string
	FallbackIntakeURL string
	EvalURL           string
	Bucket            string
	Visibility        string
	HTTPTimeout       time.Duration
}

// AudioConfig controls preferred and fallback input-source selection.
type AudioConfig struct {
	Input    string
	Fallback string
}

// SpeechConfig controls prompt announcement and audible cues.
type SpeechConfig struct {
	TTS  CommandConfig
	Cues bool
}

// CommandConfig stores a raw command string and its parsed argv form.
type CommandConfig struct {
	Raw  string
	Argv []string
}

// TimingConfig controls countdown tick granularity and the capture ceiling
// grace beyond the nominal response window.
type TimingConfig struct {
	Tick         time.Duration
	CeilingGrace time.Duration
}

// DraftConfig locates the local draft database.
type DraftConfig struct {
	Path string
}

// Load reads configuration from an optional .env file and the environment.
// A missing .env file is not an error.
func Load(envFile string) (*Config, error) {
	if strings.TrimSpace(envFile) != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("load env file %q: %w", envFile, err)
		}
	} else {
		_ = godotenv.Load()
	}

	ttsRaw := getEnv("VIVA_TTS_CMD", "espeak-ng")
	ttsArgv, err := parseArgv(ttsRaw)
	if err != nil {
		return nil, fmt.Errorf("parse VIVA_TTS_CMD: %w", err)
	}

	cfg := &Config{
		Platform: PlatformConfig{
			AttemptURL:        getEnv("VIVA_ATTEMPT_URL", ""),
			SignURL:           getEnv("VIVA_SIGN_URL", ""),
			IntakeURL:         getEnv("VIVA_INTAKE_URL", ""),
			FallbackIntakeURL: getEnv("VIVA_FALLBACK_INTAKE_URL", ""),
			EvalURL:           getEnv("VIVA_EVAL_URL", ""),
			Bucket:            getEnv("VIVA_BUCKET", "speaking-responses"),
			Visibility:        getEnv("VIVA_VISIBILITY", "private"),
			HTTPTimeout:       getEnvDurationMS("VIVA_HTTP_TIMEOUT_MS", 15*time.Second),
		},
		Audio: AudioConfig{
			Input:    getEnv("VIVA_AUDIO_INPUT", "default"),
			Fallback: getEnv("VIVA_AUDIO_FALLBACK", ""),
		},
		Speech: SpeechConfig{
			TTS:  CommandConfig{Raw: ttsRaw, Argv: ttsArgv},
			Cues: getEnvBool("VIVA_CUES", true),
		},
		Timing: TimingConfig{
			Tick:         getEnvDurationMS("VIVA_TICK_MS", 250*time.Millisecond),
			CeilingGrace: getEnvDurationMS("VIVA_CEILING_GRACE_MS", time.Second),
		},
		Draft: DraftConfig{
			Path: getEnv("VIVA_DRAFT_DB", "./data/drafts.db"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks structural validity. Platform URLs are optional (the
// harness can run capture-only against an unset platform) but must parse
// when present.
func (c *Config) Validate() error {
	if c.Timing.Tick <= 0 {
		return fmt.Errorf("VIVA_TICK_MS must be > 0")
	}
	if c.Timing.CeilingGrace < 0 {
		return fmt.Errorf("VIVA_CEILING_GRACE_MS must be >= 0")
	}
	if c.Draft.Path == "" {
		return fmt.Errorf("VIVA_DRAFT_DB cannot be empty")
	}
	for name, raw := range map[string]string{
		"VIVA_ATTEMPT_URL":         c.Platform.AttemptURL,
		"VIVA_SIGN_URL":            c.Platform.SignURL,
		"VIVA_INTAKE_URL":          c.Platform.IntakeURL,
		"VIVA_FALLBACK_INTAKE_URL": c.Platform.FallbackIntakeURL,
		"VIVA_EVAL_URL":            c.Platform.EvalURL,
	} {
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s is not an absolute URL: %q", name, raw)
		}
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	parsed, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvDurationMS(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	ms, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || ms <= 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}
