package config

import (
	"testing"
	"time"
)

func TestDefaultThresholds(t *testing.T) {
	cfg := Default()

	if cfg.RateLimitAnonymous != 50 {
		t.Fatalf("anonymous limit = %d, want 50", cfg.RateLimitAnonymous)
	}
	if cfg.RateLimitSuspicious != 10 {
		t.Fatalf("suspicious limit = %d, want 10", cfg.RateLimitSuspicious)
	}
	if cfg.RateLimitWindow != time.Minute {
		t.Fatalf("window = %v, want 1m", cfg.RateLimitWindow)
	}
	if cfg.SuspiciousThreshold != 50 || cfg.BlockThreshold != 100 {
		t.Fatalf("thresholds = %d/%d, want 50/100", cfg.SuspiciousThreshold, cfg.BlockThreshold)
	}
	if cfg.BlockDuration != time.Hour {
		t.Fatalf("block duration = %v, want 1h", cfg.BlockDuration)
	}
	if cfg.FailClosed {
		t.Fatal("default policy must be fail-open")
	}
}

func TestLoadFromEnvOverrides(t *testing.T) {
	t.Setenv("RATE_LIMIT_ANONYMOUS", "80")
	t.Setenv("RATE_LIMIT_WINDOW_MS", "30000")
	t.Setenv("IP_BLOCK_DURATION_MS", "600000")
	t.Setenv("MISSING_USER_AGENT_SCORE", "40")
	t.Setenv("GUARD_FAIL_CLOSED", "true")

	cfg := LoadFromEnv()

	if cfg.RateLimitAnonymous != 80 {
		t.Fatalf("anonymous limit = %d, want 80", cfg.RateLimitAnonymous)
	}
	if cfg.RateLimitWindow != 30*time.Second {
		t.Fatalf("window = %v, want 30s", cfg.RateLimitWindow)
	}
	if cfg.BlockDuration != 10*time.Minute {
		t.Fatalf("block duration = %v, want 10m", cfg.BlockDuration)
	}
	if cfg.MissingUserAgentScore != 40 {
		t.Fatalf("missing agent score = %d, want 40", cfg.MissingUserAgentScore)
	}
	if !cfg.FailClosed {
		t.Fatal("GUARD_FAIL_CLOSED=true must switch the policy")
	}
	// Untouched keys keep their defaults.
	if cfg.RateLimitSuspicious != 10 {
		t.Fatalf("suspicious limit = %d, want default 10", cfg.RateLimitSuspicious)
	}
}

func TestSanitizeRejectsBrokenValues(t *testing.T) {
	cfg := Default()
	cfg.RateLimitAnonymous = 0
	cfg.RateLimitWindow = -time.Second
	cfg.MaxActivityHistory = -1
	cfg.NightTimeStart = 99

	cfg = sanitize(cfg)

	if cfg.RateLimitAnonymous != 50 {
		t.Fatalf("anonymous limit = %d, want default restored", cfg.RateLimitAnonymous)
	}
	if cfg.RateLimitWindow != time.Minute {
		t.Fatalf("window = %v, want default restored", cfg.RateLimitWindow)
	}
	if cfg.MaxActivityHistory != 50 {
		t.Fatalf("history bound = %d, want default restored", cfg.MaxActivityHistory)
	}
	if cfg.NightTimeStart != 2 {
		t.Fatalf("night start = %d, want default restored", cfg.NightTimeStart)
	}
}

func TestReloadPublishesSnapshot(t *testing.T) {
	t.Setenv("RATE_LIMIT_ANONYMOUS", "123")
	previous := Get()
	t.Cleanup(func() { Set(previous) })

	Reload()

	if got := Get().RateLimitAnonymous; got != 123 {
		t.Fatalf("snapshot limit = %d, want 123", got)
	}
}
