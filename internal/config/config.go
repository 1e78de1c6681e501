package config

import (
	"fmt"
	"os"
	"path/filepath"
)

type Config struct {
	Server   ServerConfig
	Gemini   GeminiConfig
	Queue    QueueConfig
	Analysis AnalysisConfig
	Storage  StorageConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port int
}

type GeminiConfig struct {
	BaseURL string
	Model   string

	// APIKey is the primary key. The round keys are optional; when set,
	// each council round uses its own key so the three parallel calls per
	// round stay under the free-tier per-key RPM limit.
	APIKey    string
	Round1Key string
	Round2Key string
	Round3Key string

	// RequestDelay spaces out condensation batches, e.g. "2s".
	RequestDelay string
}

type QueueConfig struct {
	DailyLimit       int
	TimeoutSeconds   int
	AvgSeconds       int
	RetentionMinutes int

	// ChargePolicy is "completion" (quota consumed on every finished
	// analysis, failed or not) or "success".
	ChargePolicy string
}

type AnalysisConfig struct {
	MaxContextChars int
	ChunkChars      int
	ChunkOverlap    int
	MaxRetries      int
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 8000,
		},
		Gemini: GeminiConfig{
			BaseURL:      "https://generativelanguage.googleapis.com",
			Model:        "gemini-2.5-flash",
			RequestDelay: "2s",
		},
		Queue: QueueConfig{
			DailyLimit:       6,
			TimeoutSeconds:   180,
			AvgSeconds:       90,
			RetentionMinutes: 5,
			ChargePolicy:     "completion",
		},
		Analysis: AnalysisConfig{
			MaxContextChars: 100000,
			ChunkChars:      25000,
			ChunkOverlap:    500,
			MaxRetries:      3,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".specgap"
	}
	return filepath.Join(home, ".specgap")
}

// Load reads configuration from defaults overridden by SPECGAP_* environment
// variables. The primary Gemini API key is required; everything else has a
// sensible default.
func Load() (Config, error) {
	cfg := defaults()
	applyEnvOverrides(&cfg)

	if cfg.Gemini.APIKey == "" {
		return Config{}, fmt.Errorf("missing required config: Gemini API key. Set SPECGAP_GEMINI_API_KEY")
	}

	if cfg.Queue.ChargePolicy != "completion" && cfg.Queue.ChargePolicy != "success" {
		return Config{}, fmt.Errorf("invalid SPECGAP_QUEUE_CHARGE_POLICY %q (want \"completion\" or \"success\")", cfg.Queue.ChargePolicy)
	}

	return cfg, nil
}
