package config

import (
	"os"
	"strconv"
)

// FromEnv overlays WHISPER_* environment variables onto cfg.
func FromEnv(cfg *Config) {
	if v := os.Getenv("WHISPER_SHARD"); v != "" {
		cfg.Shard = v
	}
	if v := os.Getenv("WHISPER_SOURCE_ENDPOINT"); v != "" {
		cfg.Source.Endpoint = v
	}
	setInt64(&cfg.Source.PollIntervalMs, "WHISPER_SOURCE_POLL_INTERVAL_MS")
	setInt64(&cfg.Source.StallTimeoutMs, "WHISPER_SOURCE_STALL_TIMEOUT_MS")
	setInt64(&cfg.Source.Backoff.BaseMs, "WHISPER_SOURCE_BACKOFF_BASE_MS")
	setInt64(&cfg.Source.Backoff.CapMs, "WHISPER_SOURCE_BACKOFF_CAP_MS")
	if v := os.Getenv("WHISPER_SOURCE_BACKOFF_FACTOR"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.Source.Backoff.Factor = f
		}
	}
	setInt(&cfg.Source.Backoff.MaxAttempts, "WHISPER_SOURCE_BACKOFF_MAX_ATTEMPTS")
	if v := os.Getenv("WHISPER_FINALITY_DEPTH"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Ingest.FinalityDepth = n
		}
	}
	setInt(&cfg.Ingest.MaxStaged, "WHISPER_INGEST_MAX_STAGED")
	setInt(&cfg.Fanout.SubscriberBuffer, "WHISPER_SUB_BUF")
	setInt(&cfg.Fanout.QueryMaxLimit, "WHISPER_QUERY_MAX_LIMIT")
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n >= 0 {
			*dst = n
		}
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			*dst = n
		}
	}
}
