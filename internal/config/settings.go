package config

import (
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"bouncer/internal/support"
)

// Config carries every tunable threshold of the protection layer. The
// configuration surface is environment-only: each field maps to one
// key=value entry with a stated default.
type Config struct {
	// Requests per minute per tier.
	RateLimitAnonymous  int
	RateLimitSuspicious int
	RateLimitNormal     int
	RateLimitWindow     time.Duration

	// Score thresholds and auto-block duration.
	SuspiciousThreshold int
	BlockThreshold      int
	BlockDuration       time.Duration

	// Scoring signals.
	MinRequestInterval      time.Duration
	HighFrequencyScore      int
	DailyRequestThreshold   int
	DailyVolumeScore        int
	UniqueEndpointThreshold int
	EndpointDiversityScore  int
	NightTimeStart          int
	NightTimeEnd            int
	NightTimeScore          int
	MissingUserAgentScore   int

	// Bounded log sizes.
	MaxActivityHistory   int
	MaxSuspiciousEntries int

	// Failure policy and store deadline.
	FailClosed   bool
	StoreTimeout time.Duration

	BlockSweepInterval time.Duration
}

var configValue atomic.Value

func init() {
	configValue.Store(Default())
}

// Default returns the built-in thresholds, before any environment
// overrides are applied.
func Default() Config {
	return Config{
		RateLimitAnonymous:  50,
		RateLimitSuspicious: 10,
		RateLimitNormal:     100,
		RateLimitWindow:     time.Minute,

		SuspiciousThreshold: 50,
		BlockThreshold:      100,
		BlockDuration:       time.Hour,

		MinRequestInterval:      500 * time.Millisecond,
		HighFrequencyScore:      15,
		DailyRequestThreshold:   1000,
		DailyVolumeScore:        20,
		UniqueEndpointThreshold: 30,
		EndpointDiversityScore:  15,
		NightTimeStart:          2,
		NightTimeEnd:            5,
		NightTimeScore:          5,
		MissingUserAgentScore:   25,

		MaxActivityHistory:   50,
		MaxSuspiciousEntries: 20,

		FailClosed:   false,
		StoreTimeout: 2 * time.Second,

		BlockSweepInterval: 5 * time.Minute,
	}
}

// LoadFromEnv builds a Config from the environment, falling back to
// the defaults for any missing key.
func LoadFromEnv() Config {
	def := Default()

	cfg := Config{
		RateLimitAnonymous:  support.GetEnvInt("RATE_LIMIT_ANONYMOUS", def.RateLimitAnonymous),
		RateLimitSuspicious: support.GetEnvInt("RATE_LIMIT_SUSPICIOUS", def.RateLimitSuspicious),
		RateLimitNormal:     support.GetEnvInt("RATE_LIMIT_NORMAL", def.RateLimitNormal),
		RateLimitWindow:     support.GetEnvMillis("RATE_LIMIT_WINDOW_MS", def.RateLimitWindow),

		SuspiciousThreshold: support.GetEnvInt("IP_SUSPICIOUS_THRESHOLD", def.SuspiciousThreshold),
		BlockThreshold:      support.GetEnvInt("IP_BLOCK_THRESHOLD", def.BlockThreshold),
		BlockDuration:       support.GetEnvMillis("IP_BLOCK_DURATION_MS", def.BlockDuration),

		MinRequestInterval:      support.GetEnvMillis("IP_MIN_INTERVAL_MS", def.MinRequestInterval),
		HighFrequencyScore:      support.GetEnvInt("HIGH_FREQUENCY_SCORE", def.HighFrequencyScore),
		DailyRequestThreshold:   support.GetEnvInt("IP_DAILY_REQUEST_THRESHOLD", def.DailyRequestThreshold),
		DailyVolumeScore:        support.GetEnvInt("DAILY_VOLUME_SCORE", def.DailyVolumeScore),
		UniqueEndpointThreshold: support.GetEnvInt("IP_UNIQUE_ENDPOINT_THRESHOLD", def.UniqueEndpointThreshold),
		EndpointDiversityScore:  support.GetEnvInt("ENDPOINT_DIVERSITY_SCORE", def.EndpointDiversityScore),
		NightTimeStart:          support.GetEnvInt("NIGHT_TIME_START", def.NightTimeStart),
		NightTimeEnd:            support.GetEnvInt("NIGHT_TIME_END", def.NightTimeEnd),
		NightTimeScore:          support.GetEnvInt("NIGHT_TIME_SCORE", def.NightTimeScore),
		MissingUserAgentScore:   support.GetEnvInt("MISSING_USER_AGENT_SCORE", def.MissingUserAgentScore),

		MaxActivityHistory:   support.GetEnvInt("MAX_USER_ACTIVITY_HISTORY", def.MaxActivityHistory),
		MaxSuspiciousEntries: support.GetEnvInt("MAX_SUSPICIOUS_LOG_ENTRIES", def.MaxSuspiciousEntries),

		FailClosed:   support.GetEnvBool("GUARD_FAIL_CLOSED", def.FailClosed),
		StoreTimeout: support.GetEnvMillis("STORE_TIMEOUT_MS", def.StoreTimeout),

		BlockSweepInterval: support.GetEnvMillis("BLOCK_SWEEP_INTERVAL_MS", def.BlockSweepInterval),
	}

	return sanitize(cfg)
}

// Reload re-reads the environment and publishes the new snapshot.
func Reload() {
	configValue.Store(LoadFromEnv())
	log.Debug("Configuration applied", "source", "env")
}

// Get returns the current configuration snapshot.
func Get() Config {
	return configValue.Load().(Config)
}

// Set replaces the snapshot directly. Intended for tests.
func Set(cfg Config) {
	configValue.Store(sanitize(cfg))
}

func sanitize(cfg Config) Config {
	def := Default()

	if cfg.RateLimitAnonymous <= 0 {
		cfg.RateLimitAnonymous = def.RateLimitAnonymous
	}
	if cfg.RateLimitSuspicious <= 0 {
		cfg.RateLimitSuspicious = def.RateLimitSuspicious
	}
	if cfg.RateLimitNormal <= 0 {
		cfg.RateLimitNormal = def.RateLimitNormal
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = def.RateLimitWindow
	}
	if cfg.BlockDuration <= 0 {
		cfg.BlockDuration = def.BlockDuration
	}
	if cfg.MaxActivityHistory <= 0 {
		cfg.MaxActivityHistory = def.MaxActivityHistory
	}
	if cfg.MaxSuspiciousEntries <= 0 {
		cfg.MaxSuspiciousEntries = def.MaxSuspiciousEntries
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = def.StoreTimeout
	}
	if cfg.NightTimeStart < 0 || cfg.NightTimeStart > 23 {
		cfg.NightTimeStart = def.NightTimeStart
	}
	if cfg.NightTimeEnd < 0 || cfg.NightTimeEnd > 24 {
		cfg.NightTimeEnd = def.NightTimeEnd
	}

	return cfg
}
