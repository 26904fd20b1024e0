// Package config loads the pipeline's startup configuration from
// environment variables, matching the teacher's cmd/api envOr pattern
// but making the rate-limit and provider settings spec §6 calls
// "required" into a hard startup failure instead of a silent default
// (spec §A: "missing is a fatal startup error").
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config is the full set of settings shared across the pipeline's
// cmd/ entrypoints (ingest API, worker, scheduler, reaper). Not every
// binary uses every field.
type Config struct {
	Port       string
	PostgresDSN string
	RedisAddr   string

	S3Bucket string
	S3Region string

	Neo4jURL  string
	Neo4jUser string
	Neo4jPass string

	AnthropicAPIKey string
	AnthropicModel  string

	TranscriptionBaseURL string
	TranscriptionAPIKey  string

	GDriveOAuthClientID     string
	GDriveOAuthClientSecret string

	NATSURL string

	CORSOrigin string

	MetricsPort int

	// RPMLimits/TPMLimits are keyed by upper-case provider label
	// ("ANTHROPIC", "TRANSCRIPTION", "GRAPH"); spec §6: "{PROVIDER}_RPM_LIMIT", "{PROVIDER}_TPM_LIMIT".
	RPMLimits map[string]int
	TPMLimits map[string]int

	ChunkingMaxConcurrent int
	KGMaxConcurrent       int
}

// requiredProviders names the providers whose RPM/TPM env vars spec §6
// requires at startup. Load reads limits for exactly these three
// providers; no other provider label is configurable.
var requiredProviders = []string{"ANTHROPIC", "TRANSCRIPTION", "GRAPH"}

// Load reads configuration from the process environment. Any missing
// required variable is a fatal startup error (spec §6, §A): this
// function never substitutes a zero-value default for them.
func Load() (Config, error) {
	var missing []string
	req := func(key string) string {
		v := os.Getenv(key)
		if v == "" {
			missing = append(missing, key)
		}
		return v
	}
	reqInt := func(key string) int {
		v := os.Getenv(key)
		if v == "" {
			missing = append(missing, key)
			return 0
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			missing = append(missing, key+" (not an integer)")
			return 0
		}
		return n
	}

	cfg := Config{
		Port:        envOr("PORT", "8080"),
		PostgresDSN: req("POSTGRES_DSN"),
		RedisAddr:   req("REDIS_ADDR"),

		S3Bucket: req("S3_BUCKET"),
		S3Region: envOr("S3_REGION", "us-east-1"),

		Neo4jURL:  req("NEO4J_URL"),
		Neo4jUser: req("NEO4J_USER"),
		Neo4jPass: req("NEO4J_PASS"),

		AnthropicAPIKey: req("ANTHROPIC_API_KEY"),
		AnthropicModel:  envOr("ANTHROPIC_MODEL", "claude-sonnet-4-5"),

		TranscriptionBaseURL: req("TRANSCRIPTION_BASE_URL"),
		TranscriptionAPIKey:  req("TRANSCRIPTION_API_KEY"),

		GDriveOAuthClientID:     envOr("GDRIVE_OAUTH_CLIENT_ID", ""),
		GDriveOAuthClientSecret: envOr("GDRIVE_OAUTH_CLIENT_SECRET", ""),

		NATSURL: envOr("NATS_URL", "nats://localhost:4222"),

		CORSOrigin: envOr("CORS_ORIGIN", "*"),

		MetricsPort: envOrInt("METRICS_PORT", 9091),

		RPMLimits: map[string]int{},
		TPMLimits: map[string]int{},

		ChunkingMaxConcurrent: reqInt("CHUNKING_MAX_CONCURRENT"),
		KGMaxConcurrent:       reqInt("KG_MAX_CONCURRENT"),
	}

	for _, provider := range requiredProviders {
		cfg.RPMLimits[provider] = reqInt(provider + "_RPM_LIMIT")
		cfg.TPMLimits[provider] = reqInt(provider + "_TPM_LIMIT")
	}

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("config: missing required settings: %v", missing)
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
