package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
)

// keySpec maps one environment variable onto one Config field.
type keySpec struct {
	env   string
	typ   keyType
	apply func(cfg *Config, v any)
}

var specs = []keySpec{
	{env: "SPECGAP_SERVER_PORT", typ: kInt,
		apply: func(cfg *Config, v any) { cfg.Server.Port = v.(int) }},

	{env: "SPECGAP_GEMINI_BASE_URL", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Gemini.BaseURL = v.(string) }},
	{env: "SPECGAP_GEMINI_MODEL", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Gemini.Model = v.(string) }},
	{env: "SPECGAP_GEMINI_API_KEY", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Gemini.APIKey = v.(string) }},
	{env: "SPECGAP_GEMINI_API_KEY_ROUND1", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Gemini.Round1Key = v.(string) }},
	{env: "SPECGAP_GEMINI_API_KEY_ROUND2", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Gemini.Round2Key = v.(string) }},
	{env: "SPECGAP_GEMINI_API_KEY_ROUND3", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Gemini.Round3Key = v.(string) }},
	{env: "SPECGAP_GEMINI_REQUEST_DELAY", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Gemini.RequestDelay = v.(string) }},

	{env: "SPECGAP_QUEUE_DAILY_LIMIT", typ: kInt,
		apply: func(cfg *Config, v any) { cfg.Queue.DailyLimit = v.(int) }},
	{env: "SPECGAP_QUEUE_TIMEOUT_SECONDS", typ: kInt,
		apply: func(cfg *Config, v any) { cfg.Queue.TimeoutSeconds = v.(int) }},
	{env: "SPECGAP_QUEUE_AVG_SECONDS", typ: kInt,
		apply: func(cfg *Config, v any) { cfg.Queue.AvgSeconds = v.(int) }},
	{env: "SPECGAP_QUEUE_RETENTION_MINUTES", typ: kInt,
		apply: func(cfg *Config, v any) { cfg.Queue.RetentionMinutes = v.(int) }},
	{env: "SPECGAP_QUEUE_CHARGE_POLICY", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Queue.ChargePolicy = v.(string) }},

	{env: "SPECGAP_MAX_CONTEXT_CHARS", typ: kInt,
		apply: func(cfg *Config, v any) { cfg.Analysis.MaxContextChars = v.(int) }},
	{env: "SPECGAP_CHUNK_CHARS", typ: kInt,
		apply: func(cfg *Config, v any) { cfg.Analysis.ChunkChars = v.(int) }},
	{env: "SPECGAP_CHUNK_OVERLAP", typ: kInt,
		apply: func(cfg *Config, v any) { cfg.Analysis.ChunkOverlap = v.(int) }},
	{env: "SPECGAP_MAX_RETRIES", typ: kInt,
		apply: func(cfg *Config, v any) { cfg.Analysis.MaxRetries = v.(int) }},

	{env: "SPECGAP_DATA_DIR", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) }},

	{env: "SPECGAP_LOG_LEVEL", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Log.Level = v.(string) }},
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
