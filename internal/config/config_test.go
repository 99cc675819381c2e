package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.Session.TTL != 10*time.Minute {
		t.Errorf("expected default session TTL 10m, got %v", cfg.Session.TTL)
	}
	if cfg.Embedding.Dim != 512 {
		t.Errorf("expected default embedding dim 512, got %d", cfg.Embedding.Dim)
	}
	if cfg.Ledger.Path != "votegate.db" {
		t.Errorf("expected default ledger path votegate.db, got %s", cfg.Ledger.Path)
	}
}

func TestEmbeddedThresholds(t *testing.T) {
	cfg := Load()

	for _, purpose := range []string{"admin_auth", "voter_auth", "voter_enrollment"} {
		if got := cfg.Matching.Threshold(purpose); got != 0.4 {
			t.Errorf("expected threshold 0.4 for %s, got %v", purpose, got)
		}
	}
	// Unknown purpose falls back to the default.
	if got := cfg.Matching.Threshold("unknown"); got != 0.4 {
		t.Errorf("expected fallback threshold 0.4, got %v", got)
	}
	if cfg.Matching.ComparableFaceRatio != 0.8 {
		t.Errorf("expected comparable face ratio 0.8, got %v", cfg.Matching.ComparableFaceRatio)
	}
}

func TestThresholdEnvOverride(t *testing.T) {
	t.Setenv("MATCH_THRESHOLD_VOTER_AUTH", "0.25")
	t.Setenv("SESSION_TTL", "5m")

	cfg := Load()

	if got := cfg.Matching.Threshold("voter_auth"); got != 0.25 {
		t.Errorf("expected overridden threshold 0.25, got %v", got)
	}
	if got := cfg.Matching.Threshold("admin_auth"); got != 0.4 {
		t.Errorf("expected admin threshold untouched at 0.4, got %v", got)
	}
	if cfg.Session.TTL != 5*time.Minute {
		t.Errorf("expected session TTL 5m, got %v", cfg.Session.TTL)
	}
}

func TestEnvIntInvalid(t *testing.T) {
	t.Setenv("DATABASE_MAX_OPEN_CONNS", "not-a-number")

	cfg := Load()
	if cfg.Database.MaxOpenConns != 25 {
		t.Errorf("expected default 25 for invalid env value, got %d", cfg.Database.MaxOpenConns)
	}
}
