package domain

import (
	"errors"
	"net"
	"time"
)

// IPActivity is the per-IP behavior record. One row per observed
// address, created lazily on the first request and never deleted
// automatically; admin reset zeroes it in place.
type IPActivity struct {
	ID uint64 `gorm:"primaryKey;autoIncrement" json:"-"`

	// IP holds the normalized address string, the natural key.
	IP      string `gorm:"size:45;uniqueIndex;not null" json:"ip"`
	Country string `gorm:"size:56;not null;default:''" json:"country,omitempty"`

	IsBlocked     bool       `gorm:"index;not null;default:false" json:"isBlocked"`
	BlockedAt     *time.Time `json:"blockedAt,omitempty"`
	BlockedUntil  *time.Time `json:"blockedUntil,omitempty"`
	BlockedReason string     `gorm:"size:512;not null;default:''" json:"blockedReason,omitempty"`

	IsSuspicious bool `gorm:"index;not null;default:false" json:"isSuspicious"`
	BotScore     int  `gorm:"not null;default:0" json:"botScore"`

	TotalRequests uint64 `gorm:"not null;default:0" json:"totalRequests"`
	RequestsToday uint64 `gorm:"not null;default:0" json:"requestsToday"`

	// DayStart anchors RequestsToday to a UTC-midnight boundary; the
	// counter is reset lazily when a request arrives on a later day.
	DayStart      time.Time  `json:"-"`
	LastRequestAt *time.Time `json:"lastRequestAt,omitempty"`

	ActivityLog   ActivityLog  `gorm:"type:jsonb" json:"activityLog"`
	SuspicionsLog SuspicionLog `gorm:"column:suspicious_activity_log;type:jsonb" json:"suspiciousActivityLog"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (IPActivity) TableName() string {
	return "ip_activities"
}

// BlockedNow reports whether the block is in force at the given
// instant. Expiry is lazy: a record whose blockedUntil has passed is
// treated as unblocked even before any write clears the fields.
func (a *IPActivity) BlockedNow(now time.Time) bool {
	if !a.IsBlocked || a.BlockedUntil == nil {
		return false
	}
	return now.Before(*a.BlockedUntil)
}

// BlockRemaining returns the time left on the block, zero if none.
func (a *IPActivity) BlockRemaining(now time.Time) time.Duration {
	if !a.BlockedNow(now) {
		return 0
	}
	return a.BlockedUntil.Sub(now)
}

// DistinctEndpointsSince counts unique endpoints in the activity log
// observed at or after the cutoff.
func (a *IPActivity) DistinctEndpointsSince(cutoff time.Time) int {
	seen := make(map[string]struct{}, len(a.ActivityLog))
	for _, entry := range a.ActivityLog {
		if entry.Timestamp.Before(cutoff) {
			continue
		}
		seen[entry.Endpoint] = struct{}{}
	}
	return len(seen)
}

// DayStartUTC returns the UTC midnight boundary containing ts.
func DayStartUTC(ts time.Time) time.Time {
	u := ts.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// NormalizeIP validates and canonicalizes an IP address string.
func NormalizeIP(raw string) (string, error) {
	parsed := net.ParseIP(raw)
	if parsed == nil {
		return "", errors.New("invalid IP address")
	}
	if v4 := parsed.To4(); v4 != nil {
		return v4.String(), nil
	}
	return parsed.String(), nil
}
