package config

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed thresholds.yaml
var thresholdsYAML []byte

type Config struct {
	Embedding EmbeddingConfig
	Session   SessionConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Ledger    LedgerConfig
	Notify    NotifyConfig
	Matching  MatchingConfig
}

type EmbeddingConfig struct {
	URL     string        // face embedding service base URL (defaults to http://localhost:8000)
	Dim     int           // embedding dimension (defaults to 512 for FaceNet-class models)
	Timeout time.Duration // per-request timeout for the embedding service
}

type SessionConfig struct {
	TTL       time.Duration // verification session lifetime (default 10m)
	Retention time.Duration // how long terminal sessions are kept before purge
	Sweep     time.Duration // interval of the background expiry sweep
}

type DatabaseConfig struct {
	URL          string // PostgreSQL connection URL for face templates
	MaxOpenConns int    // Maximum open connections (default 25)
	MaxIdleConns int    // Maximum idle connections (default 5)
}

type RedisConfig struct {
	Addr     string // if set, sessions are stored in Redis instead of memory
	Password string
	DB       int
}

type LedgerConfig struct {
	Path string // SQLite file for the ballot ledger (default votegate.db)
}

type NotifyConfig struct {
	ChatWebhookURL string        // optional chat collaborator webhook for session outcomes
	Grace          time.Duration // how long subscriptions outlive a terminal status
}

// MatchingConfig carries the face matching thresholds. Defaults ship in the
// embedded thresholds.yaml; env vars override per deployment.
type MatchingConfig struct {
	Purposes            map[string]PurposeMatching `yaml:"purposes"`
	ComparableFaceRatio float64                    `yaml:"comparable_face_ratio"`
	MinConfidence       float64                    `yaml:"min_confidence"`
}

type PurposeMatching struct {
	Threshold float64 `yaml:"threshold"`
}

// Threshold returns the matching threshold for a purpose, falling back to 0.4
// when the purpose is unknown.
func (m *MatchingConfig) Threshold(purpose string) float64 {
	if p, ok := m.Purposes[purpose]; ok && p.Threshold > 0 {
		return p.Threshold
	}
	return 0.4
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envDuration reads an environment variable as a time.Duration.
func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return defaultVal
}

// envFloat reads an environment variable as a float64 in (0, 2].
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 && f <= 2 {
		return f
	}
	return defaultVal
}

func Load() *Config {
	var matching MatchingConfig
	if err := yaml.Unmarshal(thresholdsYAML, &matching); err != nil {
		// This is an embedded file so this error should never happen in practice.
		panic("failed to unmarshal embedded thresholds.yaml: " + err.Error())
	}

	// Env overrides for thresholds: MATCH_THRESHOLD for all purposes,
	// MATCH_THRESHOLD_<PURPOSE> per purpose.
	if v := os.Getenv("MATCH_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 && f <= 2 {
			for name, p := range matching.Purposes {
				p.Threshold = f
				matching.Purposes[name] = p
			}
		}
	}
	for name, p := range matching.Purposes {
		key := "MATCH_THRESHOLD_" + strings.ToUpper(name)
		if f := envFloat(key, 0); f > 0 {
			p.Threshold = f
			matching.Purposes[name] = p
		}
	}
	matching.ComparableFaceRatio = envFloat("MATCH_COMPARABLE_FACE_RATIO", matching.ComparableFaceRatio)
	if v := os.Getenv("MATCH_MIN_CONFIDENCE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 && f <= 1 {
			matching.MinConfidence = f
		}
	}

	return &Config{
		Embedding: EmbeddingConfig{
			URL:     os.Getenv("EMBEDDING_URL"),
			Dim:     envInt("EMBEDDING_DIM", 512),
			Timeout: envDuration("EMBEDDING_TIMEOUT", 30*time.Second),
		},
		Session: SessionConfig{
			TTL:       envDuration("SESSION_TTL", 10*time.Minute),
			Retention: envDuration("SESSION_RETENTION", time.Hour),
			Sweep:     envDuration("SESSION_SWEEP_INTERVAL", time.Minute),
		},
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 5),
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       envInt("REDIS_DB", 0),
		},
		Ledger: LedgerConfig{
			Path: envOr("LEDGER_PATH", "votegate.db"),
		},
		Notify: NotifyConfig{
			ChatWebhookURL: os.Getenv("CHAT_WEBHOOK_URL"),
			Grace:          envDuration("NOTIFY_GRACE", 30*time.Second),
		},
		Matching: matching,
	}
}

// envOr returns the env value or a default when unset.
func envOr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// Validate checks settings that serve cannot run without.
func (c *Config) Validate() error {
	if c.Embedding.URL == "" {
		return fmt.Errorf("EMBEDDING_URL environment variable is required")
	}
	return nil
}
