package activity

import (
	"context"
	"sort"
	"sync"
	"time"

	"bouncer/internal/domain"
)

// MemoryStore keeps the per-IP records in process memory. It backs
// single-node deployments without a database and every test of the
// core. Each record carries its own mutex so the critical section is
// per IP, not global.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*memoryRecord
}

type memoryRecord struct {
	mu  sync.Mutex
	rec domain.IPActivity
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*memoryRecord)}
}

func (ms *MemoryStore) Get(_ context.Context, ip string) (*domain.IPActivity, error) {
	ms.mu.RLock()
	holder, ok := ms.records[ip]
	ms.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	holder.mu.Lock()
	defer holder.mu.Unlock()
	return cloneRecord(&holder.rec), nil
}

func (ms *MemoryStore) RecordRequest(_ context.Context, ip, country string, entry domain.ActivityEntry, maxLog int) (*domain.IPActivity, *time.Time, error) {
	holder := ms.holderFor(ip, country, entry.Timestamp)

	holder.mu.Lock()
	defer holder.mu.Unlock()

	rec := &holder.rec
	prev := rec.LastRequestAt

	dayStart := domain.DayStartUTC(entry.Timestamp)
	if rec.DayStart.Before(dayStart) {
		rec.DayStart = dayStart
		rec.RequestsToday = 0
	}

	rec.TotalRequests++
	rec.RequestsToday++
	ts := entry.Timestamp
	rec.LastRequestAt = &ts
	rec.ActivityLog = rec.ActivityLog.Append(entry, maxLog)
	rec.UpdatedAt = entry.Timestamp

	return cloneRecord(rec), prev, nil
}

func (ms *MemoryStore) ApplySuspicion(_ context.Context, ip string, entry domain.SuspicionEntry, maxLog, suspiciousThreshold int) (*domain.IPActivity, error) {
	holder := ms.holderFor(ip, "", entry.Timestamp)

	holder.mu.Lock()
	defer holder.mu.Unlock()

	rec := &holder.rec
	rec.BotScore += entry.Score
	rec.SuspicionsLog = rec.SuspicionsLog.Append(entry, maxLog)
	if suspiciousThreshold > 0 && rec.BotScore >= suspiciousThreshold {
		rec.IsSuspicious = true
	}
	rec.UpdatedAt = entry.Timestamp

	return cloneRecord(rec), nil
}

func (ms *MemoryStore) BlockIfUnblocked(_ context.Context, ip, reason string, at, until time.Time) (bool, error) {
	holder := ms.holderFor(ip, "", at)

	holder.mu.Lock()
	defer holder.mu.Unlock()

	rec := &holder.rec
	if rec.BlockedNow(at) {
		return false, nil
	}

	applyBlock(rec, reason, at, until)
	return true, nil
}

func (ms *MemoryStore) Block(_ context.Context, ip, reason string, at, until time.Time) error {
	holder := ms.holderFor(ip, "", at)

	holder.mu.Lock()
	defer holder.mu.Unlock()

	applyBlock(&holder.rec, reason, at, until)
	return nil
}

func (ms *MemoryStore) Unblock(_ context.Context, ip string) error {
	holder := ms.holderFor(ip, "", time.Now())

	holder.mu.Lock()
	defer holder.mu.Unlock()

	clearBlock(&holder.rec)
	return nil
}

func (ms *MemoryStore) Reset(_ context.Context, ip string) error {
	holder := ms.holderFor(ip, "", time.Now())

	holder.mu.Lock()
	defer holder.mu.Unlock()

	rec := &holder.rec
	clearBlock(rec)
	rec.IsSuspicious = false
	rec.BotScore = 0
	rec.TotalRequests = 0
	rec.RequestsToday = 0
	rec.LastRequestAt = nil
	rec.ActivityLog = nil
	rec.SuspicionsLog = nil
	return nil
}

func (ms *MemoryStore) ListBlocked(_ context.Context, now time.Time, limit int) ([]domain.IPActivity, error) {
	out := ms.collect(func(rec *domain.IPActivity) bool {
		return rec.BlockedNow(now)
	})

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].BlockedAt.After(*out[j].BlockedAt)
	})

	return truncate(out, limit), nil
}

func (ms *MemoryStore) ListSuspicious(_ context.Context, limit int) ([]domain.IPActivity, error) {
	out := ms.collect(func(rec *domain.IPActivity) bool {
		return rec.IsSuspicious
	})

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})

	return truncate(out, limit), nil
}

func (ms *MemoryStore) Stats(_ context.Context) (Stats, error) {
	var stats Stats
	now := time.Now()

	ms.mu.RLock()
	holders := make([]*memoryRecord, 0, len(ms.records))
	for _, holder := range ms.records {
		holders = append(holders, holder)
	}
	ms.mu.RUnlock()

	for _, holder := range holders {
		holder.mu.Lock()
		stats.TotalIPs++
		if holder.rec.BlockedNow(now) {
			stats.BlockedIPs++
		}
		if holder.rec.IsSuspicious {
			stats.SuspiciousIPs++
		}
		stats.TotalRequests += holder.rec.TotalRequests
		holder.mu.Unlock()
	}

	return stats, nil
}

func (ms *MemoryStore) ClearExpiredBlocks(_ context.Context, now time.Time) (int64, error) {
	ms.mu.RLock()
	holders := make([]*memoryRecord, 0, len(ms.records))
	for _, holder := range ms.records {
		holders = append(holders, holder)
	}
	ms.mu.RUnlock()

	var cleared int64
	for _, holder := range holders {
		holder.mu.Lock()
		rec := &holder.rec
		if rec.IsBlocked && rec.BlockedUntil != nil && !now.Before(*rec.BlockedUntil) {
			clearBlock(rec)
			cleared++
		}
		holder.mu.Unlock()
	}

	return cleared, nil
}

func (ms *MemoryStore) holderFor(ip, country string, createdAt time.Time) *memoryRecord {
	ms.mu.RLock()
	holder, ok := ms.records[ip]
	ms.mu.RUnlock()
	if ok {
		return holder
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()
	if holder, ok = ms.records[ip]; ok {
		return holder
	}

	holder = &memoryRecord{
		rec: domain.IPActivity{
			IP:        ip,
			Country:   country,
			DayStart:  domain.DayStartUTC(createdAt),
			CreatedAt: createdAt,
			UpdatedAt: createdAt,
		},
	}
	ms.records[ip] = holder
	return holder
}

func (ms *MemoryStore) collect(keep func(*domain.IPActivity) bool) []domain.IPActivity {
	ms.mu.RLock()
	holders := make([]*memoryRecord, 0, len(ms.records))
	for _, holder := range ms.records {
		holders = append(holders, holder)
	}
	ms.mu.RUnlock()

	var out []domain.IPActivity
	for _, holder := range holders {
		holder.mu.Lock()
		if keep(&holder.rec) {
			out = append(out, *cloneRecord(&holder.rec))
		}
		holder.mu.Unlock()
	}
	return out
}

func applyBlock(rec *domain.IPActivity, reason string, at, until time.Time) {
	rec.IsBlocked = true
	blockedAt, blockedUntil := at, until
	rec.BlockedAt = &blockedAt
	rec.BlockedUntil = &blockedUntil
	rec.BlockedReason = reason
	rec.UpdatedAt = at
}

func clearBlock(rec *domain.IPActivity) {
	rec.IsBlocked = false
	rec.BlockedAt = nil
	rec.BlockedUntil = nil
	rec.BlockedReason = ""
}

func cloneRecord(rec *domain.IPActivity) *domain.IPActivity {
	out := *rec
	if rec.BlockedAt != nil {
		v := *rec.BlockedAt
		out.BlockedAt = &v
	}
	if rec.BlockedUntil != nil {
		v := *rec.BlockedUntil
		out.BlockedUntil = &v
	}
	if rec.LastRequestAt != nil {
		v := *rec.LastRequestAt
		out.LastRequestAt = &v
	}
	out.ActivityLog = append(domain.ActivityLog(nil), rec.ActivityLog...)
	out.SuspicionsLog = append(domain.SuspicionLog(nil), rec.SuspicionsLog...)
	return &out
}

func truncate(records []domain.IPActivity, limit int) []domain.IPActivity {
	if limit > 0 && len(records) > limit {
		return records[:limit]
	}
	return records
}
