package activity

import (
	"context"
	"time"

	"bouncer/internal/domain"
)

// Stats aggregates the admin overview counters.
type Stats struct {
	TotalIPs      int64  `json:"totalIPs"`
	BlockedIPs    int64  `json:"blockedIPs"`
	SuspiciousIPs int64  `json:"suspiciousIPs"`
	TotalRequests uint64 `json:"totalRequests"`
}

// Store is the persistence contract for per-IP records. Every
// read-modify-write operation must be atomic per IP: two concurrent
// writers for the same address never lose an update, and operations on
// distinct addresses never contend on a shared lock. Mutations on an
// unknown IP create the record (upsert semantics).
type Store interface {
	// Get returns the record for ip, or nil when none exists.
	Get(ctx context.Context, ip string) (*domain.IPActivity, error)

	// RecordRequest upserts the record with one observed request:
	// counters incremented, the daily counter rolled over at the UTC
	// day boundary of the event, the activity log appended and bounded
	// to maxLog. country is only applied when the record is created.
	// Returns the updated record and the previous request timestamp
	// (nil for a first-seen IP).
	RecordRequest(ctx context.Context, ip, country string, entry domain.ActivityEntry, maxLog int) (*domain.IPActivity, *time.Time, error)

	// ApplySuspicion atomically adds entry.Score to the bot score,
	// appends the entry to the suspicious log bounded to maxLog, and
	// raises the suspicious flag once the score reaches
	// suspiciousThreshold. Returns the updated record.
	ApplySuspicion(ctx context.Context, ip string, entry domain.SuspicionEntry, maxLog, suspiciousThreshold int) (*domain.IPActivity, error)

	// BlockIfUnblocked sets the block fields only when no block is in
	// force at time at (an expired block counts as unblocked). Reports
	// whether the block was applied, so a score crossing triggers the
	// transition exactly once.
	BlockIfUnblocked(ctx context.Context, ip, reason string, at, until time.Time) (bool, error)

	// Block forces the block fields regardless of current state.
	Block(ctx context.Context, ip, reason string, at, until time.Time) error

	// Unblock clears the block fields only; score and suspicion are
	// untouched.
	Unblock(ctx context.Context, ip string) error

	// Reset returns the record to a zeroed state: score, suspicion,
	// counters, both logs, and block fields cleared. Identity and
	// createdAt are preserved.
	Reset(ctx context.Context, ip string) error

	// ListBlocked returns records whose block is in force at now,
	// newest-blocked first.
	ListBlocked(ctx context.Context, now time.Time, limit int) ([]domain.IPActivity, error)

	// ListSuspicious returns suspicious records, most recently updated
	// first.
	ListSuspicious(ctx context.Context, limit int) ([]domain.IPActivity, error)

	Stats(ctx context.Context) (Stats, error)

	// ClearExpiredBlocks eagerly clears block fields whose expiry has
	// passed. Housekeeping only; lazy expiry at read time remains the
	// source of truth.
	ClearExpiredBlocks(ctx context.Context, now time.Time) (int64, error)
}
