package activity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"

	"bouncer/internal/config"
	"bouncer/internal/domain"
	"bouncer/internal/ratelimit"
	"bouncer/internal/scoring"
)

// Tier names reported in admission results and admin responses.
const (
	TierAnonymous  = "anonymous"
	TierSuspicious = "suspicious"
)

// CountryResolver maps an IP to a country name, empty when unknown.
type CountryResolver interface {
	Country(ip string) string
}

// Admission is the outcome of one pre-request check. Limit, Remaining
// and ResetIn describe the rate window that was consulted;
// BlockRemaining is only set when the IP is blocked.
type Admission struct {
	Allowed        bool
	Blocked        bool
	Tier           string
	Limit          int
	Remaining      int
	ResetIn        time.Duration
	BlockRemaining time.Duration
}

// Manager coordinates the per-IP record store, the rate limiter and
// the scoring signals. All admin operations go through it as well.
type Manager struct {
	store   Store
	limiter ratelimit.Limiter
	geo     CountryResolver

	now func() time.Time

	statsGroup singleflight.Group
}

func NewManager(store Store, limiter ratelimit.Limiter, geo CountryResolver) *Manager {
	return &Manager{
		store:   store,
		limiter: limiter,
		geo:     geo,
		now:     time.Now,
	}
}

// CheckRequest decides whether a request from ip may proceed. The
// check consults the block state first, then the rate window for the
// IP's tier. A denied request consumes no budget beyond the window
// increment and is never recorded or scored. On a store or limiter
// failure the configured policy applies: fail open by default, fail
// closed when GUARD_FAIL_CLOSED is set.
func (m *Manager) CheckRequest(ctx context.Context, rawIP string) (Admission, error) {
	cfg := config.Get()
	now := m.now()

	ip, err := domain.NormalizeIP(rawIP)
	if err != nil {
		return Admission{}, fmt.Errorf("%w: %q", ErrInvalidIP, rawIP)
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.StoreTimeout)
	defer cancel()

	record, err := m.store.Get(ctx, ip)
	if err != nil {
		return m.failPolicy(cfg, "store lookup", ip, err)
	}

	if record != nil && record.BlockedNow(now) {
		adm := m.blockedAdmission(ctx, cfg, ip, record, now)
		return adm, ErrBlocked
	}

	tier, limit := m.tierLimit(cfg, record)

	decision, err := m.limiter.Check(ctx, ip, limit, cfg.RateLimitWindow)
	if err != nil {
		return m.failPolicy(cfg, "rate limiter", ip, err)
	}

	adm := Admission{
		Allowed:   decision.Allowed,
		Tier:      tier,
		Limit:     decision.Limit,
		Remaining: decision.Remaining,
		ResetIn:   decision.ResetIn,
	}
	if !decision.Allowed {
		return adm, ErrRateLimited
	}
	return adm, nil
}

// CanMakeRequest answers the advisory admin probe: it inspects block
// state and the current rate window without consuming budget or
// recording activity.
func (m *Manager) CanMakeRequest(ctx context.Context, rawIP string) (Admission, error) {
	cfg := config.Get()
	now := m.now()

	ip, err := domain.NormalizeIP(rawIP)
	if err != nil {
		return Admission{}, fmt.Errorf("%w: %q", ErrInvalidIP, rawIP)
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.StoreTimeout)
	defer cancel()

	record, err := m.store.Get(ctx, ip)
	if err != nil {
		return m.failPolicy(cfg, "store lookup", ip, err)
	}

	if record != nil && record.BlockedNow(now) {
		return m.blockedAdmission(ctx, cfg, ip, record, now), nil
	}

	tier, limit := m.tierLimit(cfg, record)

	decision, err := m.limiter.Peek(ctx, ip, limit, cfg.RateLimitWindow)
	if err != nil {
		return m.failPolicy(cfg, "rate limiter", ip, err)
	}

	return Admission{
		Allowed:   decision.Allowed,
		Tier:      tier,
		Limit:     decision.Limit,
		Remaining: decision.Remaining,
		ResetIn:   decision.ResetIn,
	}, nil
}

// Observe records one admitted request for ip and runs the scoring
// signals over the updated record. A positive delta is persisted to
// the suspicious activity log, and a score crossing the block
// threshold triggers the automatic block exactly once.
func (m *Manager) Observe(ctx context.Context, rawIP string, entry domain.ActivityEntry) error {
	cfg := config.Get()

	ip, err := domain.NormalizeIP(rawIP)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidIP, rawIP)
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = m.now()
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.StoreTimeout)
	defer cancel()

	var country string
	if m.geo != nil {
		country = m.geo.Country(ip)
	}

	record, prev, err := m.store.RecordRequest(ctx, ip, country, entry, cfg.MaxActivityHistory)
	if err != nil {
		return fmt.Errorf("%w: record request: %v", ErrStoreUnavailable, err)
	}

	result := scoring.Evaluate(record, entry, prev, scoring.FromConfig(cfg))
	if result.Delta <= 0 {
		return nil
	}

	suspicion := domain.SuspicionEntry{
		Score:     result.Delta,
		Reasons:   domain.StringList(result.Reasons),
		Timestamp: entry.Timestamp,
	}
	record, err = m.store.ApplySuspicion(ctx, ip, suspicion, cfg.MaxSuspiciousEntries, cfg.SuspiciousThreshold)
	if err != nil {
		return fmt.Errorf("%w: apply suspicion: %v", ErrStoreUnavailable, err)
	}

	log.Warn("Suspicious activity scored",
		"ip", ip,
		"delta", result.Delta,
		"score", record.BotScore,
		"reasons", strings.Join(result.Reasons, ","))

	if record.BotScore < cfg.BlockThreshold {
		return nil
	}

	reason := fmt.Sprintf("bot score %d reached threshold (%s)",
		record.BotScore, strings.Join(result.Reasons, ", "))
	applied, err := m.store.BlockIfUnblocked(ctx, ip, reason, entry.Timestamp, entry.Timestamp.Add(cfg.BlockDuration))
	if err != nil {
		return fmt.Errorf("%w: auto block: %v", ErrStoreUnavailable, err)
	}
	if applied {
		log.Warn("IP blocked automatically",
			"ip", ip,
			"score", record.BotScore,
			"duration", cfg.BlockDuration)
	}
	return nil
}

// BlockIP applies a manual block. durationMinutes <= 0 falls back to
// the configured auto-block duration.
func (m *Manager) BlockIP(ctx context.Context, rawIP, reason string, durationMinutes int) (*domain.IPActivity, error) {
	cfg := config.Get()
	now := m.now()

	ip, err := domain.NormalizeIP(rawIP)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidIP, rawIP)
	}

	duration := cfg.BlockDuration
	if durationMinutes > 0 {
		duration = time.Duration(durationMinutes) * time.Minute
	}
	if reason == "" {
		reason = "manually blocked"
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.StoreTimeout)
	defer cancel()

	if err := m.store.Block(ctx, ip, reason, now, now.Add(duration)); err != nil {
		return nil, fmt.Errorf("%w: block: %v", ErrStoreUnavailable, err)
	}

	log.Info("IP blocked manually", "ip", ip, "reason", reason, "duration", duration)
	return m.store.Get(ctx, ip)
}

// UnblockIP lifts a block without touching the score or suspicion
// flag.
func (m *Manager) UnblockIP(ctx context.Context, rawIP string) (*domain.IPActivity, error) {
	cfg := config.Get()

	ip, err := domain.NormalizeIP(rawIP)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidIP, rawIP)
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.StoreTimeout)
	defer cancel()

	if err := m.store.Unblock(ctx, ip); err != nil {
		return nil, fmt.Errorf("%w: unblock: %v", ErrStoreUnavailable, err)
	}

	log.Info("IP unblocked", "ip", ip)
	return m.store.Get(ctx, ip)
}

// ResetIP zeroes the record: score, counters, logs and block state.
func (m *Manager) ResetIP(ctx context.Context, rawIP string) (*domain.IPActivity, error) {
	cfg := config.Get()

	ip, err := domain.NormalizeIP(rawIP)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidIP, rawIP)
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.StoreTimeout)
	defer cancel()

	if err := m.store.Reset(ctx, ip); err != nil {
		return nil, fmt.Errorf("%w: reset: %v", ErrStoreUnavailable, err)
	}

	log.Info("IP activity reset", "ip", ip)
	return m.store.Get(ctx, ip)
}

// GetIP returns the record for an address, nil when never seen.
func (m *Manager) GetIP(ctx context.Context, rawIP string) (*domain.IPActivity, error) {
	cfg := config.Get()

	ip, err := domain.NormalizeIP(rawIP)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidIP, rawIP)
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.StoreTimeout)
	defer cancel()

	return m.store.Get(ctx, ip)
}

func (m *Manager) ListBlocked(ctx context.Context, limit int) ([]domain.IPActivity, error) {
	ctx, cancel := context.WithTimeout(ctx, config.Get().StoreTimeout)
	defer cancel()
	return m.store.ListBlocked(ctx, m.now(), limit)
}

func (m *Manager) ListSuspicious(ctx context.Context, limit int) ([]domain.IPActivity, error) {
	ctx, cancel := context.WithTimeout(ctx, config.Get().StoreTimeout)
	defer cancel()
	return m.store.ListSuspicious(ctx, limit)
}

// Stats aggregates the overview counters. Concurrent callers share one
// store query through singleflight.
func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	v, err, _ := m.statsGroup.Do("stats", func() (any, error) {
		ctx, cancel := context.WithTimeout(ctx, config.Get().StoreTimeout)
		defer cancel()
		return m.store.Stats(ctx)
	})
	if err != nil {
		return Stats{}, fmt.Errorf("%w: stats: %v", ErrStoreUnavailable, err)
	}
	return v.(Stats), nil
}

// ClearExpiredBlocks is the periodic hygiene sweep entry point.
func (m *Manager) ClearExpiredBlocks(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, config.Get().StoreTimeout)
	defer cancel()
	return m.store.ClearExpiredBlocks(ctx, m.now())
}

func (m *Manager) tierLimit(cfg config.Config, record *domain.IPActivity) (string, int) {
	if record != nil && record.IsSuspicious {
		return TierSuspicious, cfg.RateLimitSuspicious
	}
	return TierAnonymous, cfg.RateLimitAnonymous
}

// blockedAdmission builds the denial for a blocked IP. The rate window
// is still reported so responses carry the full header set.
func (m *Manager) blockedAdmission(ctx context.Context, cfg config.Config, ip string, record *domain.IPActivity, now time.Time) Admission {
	tier, limit := m.tierLimit(cfg, record)

	adm := Admission{
		Allowed:        false,
		Blocked:        true,
		Tier:           tier,
		Limit:          limit,
		BlockRemaining: record.BlockRemaining(now),
	}
	if decision, err := m.limiter.Peek(ctx, ip, limit, cfg.RateLimitWindow); err == nil {
		adm.Limit = decision.Limit
		adm.Remaining = decision.Remaining
		adm.ResetIn = decision.ResetIn
	}
	return adm
}

// failPolicy converts an infrastructure failure into an admission per
// the configured policy. The wrapped error always reports the outage;
// callers inspect Admission.Allowed for the decision.
func (m *Manager) failPolicy(cfg config.Config, stage, ip string, cause error) (Admission, error) {
	err := fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, stage, cause)
	if cfg.FailClosed {
		log.Error("Denying request on backend failure", "ip", ip, "stage", stage, "err", cause)
		return Admission{Allowed: false, Tier: TierAnonymous}, err
	}
	log.Error("Admitting request on backend failure", "ip", ip, "stage", stage, "err", cause)
	return Admission{
		Allowed:   true,
		Tier:      TierAnonymous,
		Limit:     cfg.RateLimitAnonymous,
		Remaining: cfg.RateLimitAnonymous,
	}, err
}
