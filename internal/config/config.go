package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration loaded from file and env.
type Config struct {
	// Shard names the logical event-source shard this node consumes.
	// One pipeline, cursor, and sequence counter exist per shard.
	Shard string `json:"shard" yaml:"shard"`

	Source SourceConfig `json:"source" yaml:"source"`
	Ingest IngestConfig `json:"ingest" yaml:"ingest"`
	Fanout FanoutConfig `json:"fanout" yaml:"fanout"`
}

// SourceConfig controls the event-source client.
type SourceConfig struct {
	// Endpoint is the HTTP endpoint serving block batches.
	Endpoint string `json:"endpoint" yaml:"endpoint"`
	// PollIntervalMs is the idle poll interval when the source has no new blocks.
	PollIntervalMs int64 `json:"pollIntervalMs" yaml:"pollIntervalMs"`
	// StallTimeoutMs raises the liveness alarm when no block arrives for this long.
	StallTimeoutMs int64 `json:"stallTimeoutMs" yaml:"stallTimeoutMs"`
	// Backoff bounds reconnection delays on transient source errors.
	Backoff BackoffConfig `json:"backoff" yaml:"backoff"`
}

// BackoffConfig describes bounded exponential backoff with jitter.
type BackoffConfig struct {
	BaseMs      int64   `json:"baseMs" yaml:"baseMs"`
	CapMs       int64   `json:"capMs" yaml:"capMs"`
	Factor      float64 `json:"factor" yaml:"factor"`
	MaxAttempts int     `json:"maxAttempts" yaml:"maxAttempts"`
}

// IngestConfig controls the ingestion pipeline.
type IngestConfig struct {
	// FinalityDepth is the number of subsequent blocks required before a
	// block is treated as irreversible and its events are sequenced.
	FinalityDepth uint64 `json:"finalityDepth" yaml:"finalityDepth"`
	// MaxStaged is the provisional-candidate high watermark; exceeding it
	// raises an alarm. Hard backpressure lives at the source buffer.
	MaxStaged int `json:"maxStaged" yaml:"maxStaged"`
}

// FanoutConfig controls delivery to subscribers.
type FanoutConfig struct {
	// SubscriberBuffer is the buffered queue length per live subscriber.
	SubscriberBuffer int `json:"subscriberBuffer" yaml:"subscriberBuffer"`
	// QueryMaxLimit caps page size on the pull API.
	QueryMaxLimit int `json:"queryMaxLimit" yaml:"queryMaxLimit"`
}

// Default returns built-in defaults. None of the finality or backoff values
// are authoritative; deployments tune them per chain.
func Default() Config {
	return Config{
		Shard: "0",
		Source: SourceConfig{
			PollIntervalMs: 1000,
			StallTimeoutMs: 30_000,
			Backoff: BackoffConfig{
				BaseMs:      200,
				CapMs:       30_000,
				Factor:      2.0,
				MaxAttempts: 0, // unlimited; the stall alarm covers liveness
			},
		},
		Ingest: IngestConfig{
			FinalityDepth: 3,
			MaxStaged:     4096,
		},
		Fanout: FanoutConfig{
			SubscriberBuffer: 1024,
			QueryMaxLimit:    1000,
		},
	}
}

// Load reads configuration from a JSON or YAML file by extension. An empty
// path returns defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	return cfg, nil
}
