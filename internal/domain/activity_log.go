package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// ActivityEntry is one observed request from an IP.
type ActivityEntry struct {
	Endpoint  string    `json:"endpoint"`
	Method    string    `json:"method"`
	Timestamp time.Time `json:"timestamp"`
	UserAgent string    `json:"userAgent"`
}

// SuspicionEntry records one scoring event that raised the bot score.
type SuspicionEntry struct {
	Score     int        `json:"score"`
	Reasons   StringList `json:"reasons"`
	Timestamp time.Time  `json:"timestamp"`
}

// ActivityLog stores a bounded slice of request entries inside a JSON column.
type ActivityLog []ActivityEntry

// Value implements driver.Valuer so ActivityLog can be stored as JSON.
func (l ActivityLog) Value() (driver.Value, error) {
	if len(l) == 0 {
		return []byte("[]"), nil
	}
	return json.Marshal([]ActivityEntry(l))
}

// Scan implements sql.Scanner to hydrate the ActivityLog from the database.
func (l *ActivityLog) Scan(value any) error {
	return scanJSON(value, l, "domain.ActivityLog")
}

// Append adds an entry and evicts the oldest ones beyond max.
func (l ActivityLog) Append(entry ActivityEntry, max int) ActivityLog {
	out := append(l, entry)
	if max > 0 && len(out) > max {
		out = out[len(out)-max:]
	}
	return out
}

// SuspicionLog stores a bounded slice of suspicion entries inside a JSON column.
type SuspicionLog []SuspicionEntry

func (l SuspicionLog) Value() (driver.Value, error) {
	if len(l) == 0 {
		return []byte("[]"), nil
	}
	return json.Marshal([]SuspicionEntry(l))
}

func (l *SuspicionLog) Scan(value any) error {
	return scanJSON(value, l, "domain.SuspicionLog")
}

// Append adds an entry and evicts the oldest ones beyond max.
func (l SuspicionLog) Append(entry SuspicionEntry, max int) SuspicionLog {
	out := append(l, entry)
	if max > 0 && len(out) > max {
		out = out[len(out)-max:]
	}
	return out
}

func scanJSON(value any, target any, label string) error {
	if value == nil {
		return nil
	}

	switch v := value.(type) {
	case []byte:
		if len(v) == 0 {
			return nil
		}
		return json.Unmarshal(v, target)
	case string:
		if v == "" {
			return nil
		}
		return json.Unmarshal([]byte(v), target)
	default:
		return fmt.Errorf("%s: unsupported type %T", label, value)
	}
}
