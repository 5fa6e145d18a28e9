package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"bouncer/internal/activity"
	"bouncer/internal/domain"
)

// IPActivityStore persists per-IP records through gorm. Mutations run
// inside a transaction with a row lock on Postgres, so two writers for
// the same address serialize without a process-wide lock. SQLite has
// no FOR UPDATE; its single-writer model covers the same guarantee in
// tests.
type IPActivityStore struct {
	db *gorm.DB
}

func NewIPActivityStore(db *gorm.DB) *IPActivityStore {
	return &IPActivityStore{db: db}
}

var _ activity.Store = (*IPActivityStore)(nil)

func (s *IPActivityStore) Get(ctx context.Context, ip string) (*domain.IPActivity, error) {
	var rec domain.IPActivity
	err := s.db.WithContext(ctx).Where("ip = ?", ip).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ip activity: get: %w", err)
	}
	return &rec, nil
}

func (s *IPActivityStore) RecordRequest(ctx context.Context, ip, country string, entry domain.ActivityEntry, maxLog int) (*domain.IPActivity, *time.Time, error) {
	var (
		updated domain.IPActivity
		prev    *time.Time
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec, err := s.lockOrCreate(tx, ip, country, entry.Timestamp)
		if err != nil {
			return err
		}

		if rec.LastRequestAt != nil {
			ts := *rec.LastRequestAt
			prev = &ts
		}

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

		if err := tx.Model(&domain.IPActivity{}).
			Where("id = ?", rec.ID).
			Updates(map[string]interface{}{
				"total_requests":  rec.TotalRequests,
				"requests_today":  rec.RequestsToday,
				"day_start":       rec.DayStart,
				"last_request_at": rec.LastRequestAt,
				"activity_log":    rec.ActivityLog,
				"updated_at":      entry.Timestamp,
			}).Error; err != nil {
			return err
		}

		rec.UpdatedAt = entry.Timestamp
		updated = *rec
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("ip activity: record request: %w", err)
	}

	return &updated, prev, nil
}

func (s *IPActivityStore) ApplySuspicion(ctx context.Context, ip string, entry domain.SuspicionEntry, maxLog, suspiciousThreshold int) (*domain.IPActivity, error) {
	var updated domain.IPActivity

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec, err := s.lockOrCreate(tx, ip, "", entry.Timestamp)
		if err != nil {
			return err
		}

		rec.BotScore += entry.Score
		rec.SuspicionsLog = rec.SuspicionsLog.Append(entry, maxLog)
		if suspiciousThreshold > 0 && rec.BotScore >= suspiciousThreshold {
			rec.IsSuspicious = true
		}

		if err := tx.Model(&domain.IPActivity{}).
			Where("id = ?", rec.ID).
			Updates(map[string]interface{}{
				"bot_score":               rec.BotScore,
				"is_suspicious":           rec.IsSuspicious,
				"suspicious_activity_log": rec.SuspicionsLog,
				"updated_at":              entry.Timestamp,
			}).Error; err != nil {
			return err
		}

		rec.UpdatedAt = entry.Timestamp
		updated = *rec
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ip activity: apply suspicion: %w", err)
	}

	return &updated, nil
}

func (s *IPActivityStore) BlockIfUnblocked(ctx context.Context, ip, reason string, at, until time.Time) (bool, error) {
	applied := false

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec, err := s.lockOrCreate(tx, ip, "", at)
		if err != nil {
			return err
		}

		if rec.BlockedNow(at) {
			return nil
		}

		applied = true
		return writeBlock(tx, rec.ID, reason, at, until)
	})
	if err != nil {
		return false, fmt.Errorf("ip activity: block if unblocked: %w", err)
	}

	return applied, nil
}

func (s *IPActivityStore) Block(ctx context.Context, ip, reason string, at, until time.Time) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec, err := s.lockOrCreate(tx, ip, "", at)
		if err != nil {
			return err
		}
		return writeBlock(tx, rec.ID, reason, at, until)
	})
	if err != nil {
		return fmt.Errorf("ip activity: block: %w", err)
	}
	return nil
}

func (s *IPActivityStore) Unblock(ctx context.Context, ip string) error {
	err := s.db.WithContext(ctx).Model(&domain.IPActivity{}).
		Where("ip = ?", ip).
		Updates(map[string]interface{}{
			"is_blocked":     false,
			"blocked_at":     nil,
			"blocked_until":  nil,
			"blocked_reason": "",
		}).Error
	if err != nil {
		return fmt.Errorf("ip activity: unblock: %w", err)
	}
	return nil
}

func (s *IPActivityStore) Reset(ctx context.Context, ip string) error {
	err := s.db.WithContext(ctx).Model(&domain.IPActivity{}).
		Where("ip = ?", ip).
		Updates(map[string]interface{}{
			"is_blocked":              false,
			"blocked_at":              nil,
			"blocked_until":           nil,
			"blocked_reason":          "",
			"is_suspicious":           false,
			"bot_score":               0,
			"total_requests":          0,
			"requests_today":          0,
			"last_request_at":         nil,
			"activity_log":            domain.ActivityLog(nil),
			"suspicious_activity_log": domain.SuspicionLog(nil),
		}).Error
	if err != nil {
		return fmt.Errorf("ip activity: reset: %w", err)
	}
	return nil
}

func (s *IPActivityStore) ListBlocked(ctx context.Context, now time.Time, limit int) ([]domain.IPActivity, error) {
	var records []domain.IPActivity

	query := s.db.WithContext(ctx).
		Where("is_blocked = ? AND blocked_until > ?", true, now).
		Order("blocked_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	if err := query.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("ip activity: list blocked: %w", err)
	}
	return records, nil
}

func (s *IPActivityStore) ListSuspicious(ctx context.Context, limit int) ([]domain.IPActivity, error) {
	var records []domain.IPActivity

	query := s.db.WithContext(ctx).
		Where("is_suspicious = ?", true).
		Order("updated_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	if err := query.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("ip activity: list suspicious: %w", err)
	}
	return records, nil
}

func (s *IPActivityStore) Stats(ctx context.Context) (activity.Stats, error) {
	var stats activity.Stats

	if err := s.db.WithContext(ctx).Model(&domain.IPActivity{}).
		Count(&stats.TotalIPs).Error; err != nil {
		return activity.Stats{}, fmt.Errorf("ip activity: stats: %w", err)
	}
	if err := s.db.WithContext(ctx).Model(&domain.IPActivity{}).
		Where("is_blocked = ? AND blocked_until > ?", true, time.Now()).
		Count(&stats.BlockedIPs).Error; err != nil {
		return activity.Stats{}, fmt.Errorf("ip activity: stats: %w", err)
	}
	if err := s.db.WithContext(ctx).Model(&domain.IPActivity{}).
		Where("is_suspicious = ?", true).
		Count(&stats.SuspiciousIPs).Error; err != nil {
		return activity.Stats{}, fmt.Errorf("ip activity: stats: %w", err)
	}

	var total struct{ Total uint64 }
	if err := s.db.WithContext(ctx).Model(&domain.IPActivity{}).
		Select("COALESCE(SUM(total_requests), 0) AS total").
		Scan(&total).Error; err != nil {
		return activity.Stats{}, fmt.Errorf("ip activity: stats: %w", err)
	}
	stats.TotalRequests = total.Total

	return stats, nil
}

func (s *IPActivityStore) ClearExpiredBlocks(ctx context.Context, now time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Model(&domain.IPActivity{}).
		Where("is_blocked = ? AND blocked_until <= ?", true, now).
		Updates(map[string]interface{}{
			"is_blocked":     false,
			"blocked_at":     nil,
			"blocked_until":  nil,
			"blocked_reason": "",
		})
	if res.Error != nil {
		return 0, fmt.Errorf("ip activity: clear expired blocks: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// lockOrCreate fetches the row for ip under a FOR UPDATE lock,
// creating it first when the address has never been seen. The create
// races with concurrent first requests; the unique index on ip decides
// the winner and the loser re-reads.
func (s *IPActivityStore) lockOrCreate(tx *gorm.DB, ip, country string, at time.Time) (*domain.IPActivity, error) {
	var rec domain.IPActivity

	query := tx.Where("ip = ?", ip)
	if isPostgres(tx) {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	err := query.First(&rec).Error
	if err == nil {
		return &rec, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	fresh := domain.IPActivity{
		IP:       ip,
		Country:  country,
		DayStart: domain.DayStartUTC(at),
	}
	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "ip"}},
		DoNothing: true,
	}).Create(&fresh).Error; err != nil {
		return nil, err
	}

	query = tx.Where("ip = ?", ip)
	if isPostgres(tx) {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	if err := query.First(&rec).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

func writeBlock(tx *gorm.DB, id uint64, reason string, at, until time.Time) error {
	return tx.Model(&domain.IPActivity{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"is_blocked":     true,
			"blocked_at":     at,
			"blocked_until":  until,
			"blocked_reason": reason,
			"updated_at":     at,
		}).Error
}
