package activity

import (
	"context"
	"testing"
	"time"

	"bouncer/internal/domain"
)

var storeNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func entryAt(ts time.Time, endpoint string) domain.ActivityEntry {
	return domain.ActivityEntry{
		Endpoint:  endpoint,
		Method:    "GET",
		Timestamp: ts,
		UserAgent: "Mozilla/5.0",
	}
}

func TestRecordRequestCreatesAndIncrements(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	rec, prev, err := store.RecordRequest(ctx, "203.0.113.7", "Germany", entryAt(storeNow, "/a"), 50)
	if err != nil {
		t.Fatalf("record request: %v", err)
	}
	if prev != nil {
		t.Fatalf("first request should have no previous timestamp, got %v", prev)
	}
	if rec.TotalRequests != 1 || rec.RequestsToday != 1 {
		t.Fatalf("counters = %d/%d, want 1/1", rec.TotalRequests, rec.RequestsToday)
	}
	if rec.Country != "Germany" {
		t.Fatalf("country = %q, want Germany", rec.Country)
	}
	if len(rec.ActivityLog) != 1 {
		t.Fatalf("activity log length = %d, want 1", len(rec.ActivityLog))
	}

	second := storeNow.Add(time.Second)
	rec, prev, err = store.RecordRequest(ctx, "203.0.113.7", "", entryAt(second, "/b"), 50)
	if err != nil {
		t.Fatalf("record request: %v", err)
	}
	if prev == nil || !prev.Equal(storeNow) {
		t.Fatalf("previous timestamp = %v, want %v", prev, storeNow)
	}
	if rec.TotalRequests != 2 {
		t.Fatalf("total = %d, want 2", rec.TotalRequests)
	}
	if rec.Country != "Germany" {
		t.Fatalf("country should survive later requests, got %q", rec.Country)
	}
}

func TestRecordRequestBoundsActivityLog(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 60; i++ {
		ts := storeNow.Add(time.Duration(i) * time.Second)
		if _, _, err := store.RecordRequest(ctx, "203.0.113.7", "", entryAt(ts, "/a"), 50); err != nil {
			t.Fatalf("record request %d: %v", i, err)
		}
	}

	rec, err := store.Get(ctx, "203.0.113.7")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(rec.ActivityLog) != 50 {
		t.Fatalf("activity log length = %d, want 50", len(rec.ActivityLog))
	}
	// Oldest entries were evicted; the newest one is still there.
	last := rec.ActivityLog[len(rec.ActivityLog)-1]
	if !last.Timestamp.Equal(storeNow.Add(59 * time.Second)) {
		t.Fatalf("unexpected newest entry %v", last.Timestamp)
	}
	if rec.TotalRequests != 60 {
		t.Fatalf("eviction must not touch counters, total = %d", rec.TotalRequests)
	}
}

func TestRecordRequestRollsDailyCounter(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if _, _, err := store.RecordRequest(ctx, "203.0.113.7", "", entryAt(storeNow, "/a"), 50); err != nil {
		t.Fatalf("record request: %v", err)
	}

	nextDay := storeNow.Add(24 * time.Hour)
	rec, _, err := store.RecordRequest(ctx, "203.0.113.7", "", entryAt(nextDay, "/a"), 50)
	if err != nil {
		t.Fatalf("record request: %v", err)
	}
	if rec.RequestsToday != 1 {
		t.Fatalf("requestsToday = %d, want 1 after day boundary", rec.RequestsToday)
	}
	if rec.TotalRequests != 2 {
		t.Fatalf("totalRequests = %d, want 2", rec.TotalRequests)
	}
}

func TestApplySuspicionRaisesFlagAtThreshold(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	rec, err := store.ApplySuspicion(ctx, "203.0.113.7", domain.SuspicionEntry{
		Score: 25, Reasons: domain.StringList{"missing_user_agent"}, Timestamp: storeNow,
	}, 20, 50)
	if err != nil {
		t.Fatalf("apply suspicion: %v", err)
	}
	if rec.IsSuspicious {
		t.Fatal("score 25 must not be suspicious at threshold 50")
	}

	rec, err = store.ApplySuspicion(ctx, "203.0.113.7", domain.SuspicionEntry{
		Score: 25, Reasons: domain.StringList{"missing_user_agent"}, Timestamp: storeNow,
	}, 20, 50)
	if err != nil {
		t.Fatalf("apply suspicion: %v", err)
	}
	if rec.BotScore != 50 {
		t.Fatalf("bot score = %d, want 50", rec.BotScore)
	}
	if !rec.IsSuspicious {
		t.Fatal("score 50 must raise the suspicious flag")
	}
	if len(rec.SuspicionsLog) != 2 {
		t.Fatalf("suspicion log length = %d, want 2", len(rec.SuspicionsLog))
	}
}

func TestBlockIfUnblockedAppliesOnce(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	until := storeNow.Add(time.Hour)

	applied, err := store.BlockIfUnblocked(ctx, "203.0.113.7", "score crossing", storeNow, until)
	if err != nil {
		t.Fatalf("block if unblocked: %v", err)
	}
	if !applied {
		t.Fatal("first crossing should apply the block")
	}

	applied, err = store.BlockIfUnblocked(ctx, "203.0.113.7", "second crossing", storeNow.Add(time.Minute), until)
	if err != nil {
		t.Fatalf("block if unblocked: %v", err)
	}
	if applied {
		t.Fatal("active block must not be reapplied")
	}

	rec, _ := store.Get(ctx, "203.0.113.7")
	if rec.BlockedReason != "score crossing" {
		t.Fatalf("reason = %q, original block must be preserved", rec.BlockedReason)
	}
	if !rec.BlockedAt.Equal(storeNow) {
		t.Fatalf("blockedAt = %v, want %v", rec.BlockedAt, storeNow)
	}
}

func TestBlockIfUnblockedReappliesAfterExpiry(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if _, err := store.BlockIfUnblocked(ctx, "203.0.113.7", "first", storeNow, storeNow.Add(time.Hour)); err != nil {
		t.Fatalf("block: %v", err)
	}

	later := storeNow.Add(2 * time.Hour)
	applied, err := store.BlockIfUnblocked(ctx, "203.0.113.7", "second", later, later.Add(time.Hour))
	if err != nil {
		t.Fatalf("block: %v", err)
	}
	if !applied {
		t.Fatal("expired block counts as unblocked")
	}
}

func TestUnblockKeepsScore(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if _, err := store.ApplySuspicion(ctx, "203.0.113.7", domain.SuspicionEntry{Score: 60, Timestamp: storeNow}, 20, 50); err != nil {
		t.Fatalf("apply suspicion: %v", err)
	}
	if err := store.Block(ctx, "203.0.113.7", "manual", storeNow, storeNow.Add(time.Hour)); err != nil {
		t.Fatalf("block: %v", err)
	}

	if err := store.Unblock(ctx, "203.0.113.7"); err != nil {
		t.Fatalf("unblock: %v", err)
	}

	rec, _ := store.Get(ctx, "203.0.113.7")
	if rec.IsBlocked || rec.BlockedAt != nil || rec.BlockedUntil != nil || rec.BlockedReason != "" {
		t.Fatalf("block fields not cleared: %+v", rec)
	}
	if rec.BotScore != 60 || !rec.IsSuspicious {
		t.Fatalf("unblock must keep score and suspicion, got score=%d suspicious=%v", rec.BotScore, rec.IsSuspicious)
	}
}

func TestResetZeroesEverythingButIdentity(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if _, _, err := store.RecordRequest(ctx, "203.0.113.7", "Germany", entryAt(storeNow, "/a"), 50); err != nil {
		t.Fatalf("record request: %v", err)
	}
	if _, err := store.ApplySuspicion(ctx, "203.0.113.7", domain.SuspicionEntry{Score: 120, Timestamp: storeNow}, 20, 50); err != nil {
		t.Fatalf("apply suspicion: %v", err)
	}
	if err := store.Block(ctx, "203.0.113.7", "manual", storeNow, storeNow.Add(time.Hour)); err != nil {
		t.Fatalf("block: %v", err)
	}

	before, _ := store.Get(ctx, "203.0.113.7")

	if err := store.Reset(ctx, "203.0.113.7"); err != nil {
		t.Fatalf("reset: %v", err)
	}

	rec, _ := store.Get(ctx, "203.0.113.7")
	if rec.BotScore != 0 || rec.IsSuspicious || rec.IsBlocked {
		t.Fatalf("reset left state behind: %+v", rec)
	}
	if rec.TotalRequests != 0 || rec.RequestsToday != 0 || rec.LastRequestAt != nil {
		t.Fatalf("reset left counters behind: %+v", rec)
	}
	if len(rec.ActivityLog) != 0 || len(rec.SuspicionsLog) != 0 {
		t.Fatal("reset must clear both logs")
	}
	if rec.IP != "203.0.113.7" || !rec.CreatedAt.Equal(before.CreatedAt) {
		t.Fatal("reset must preserve identity and createdAt")
	}
}

func TestListBlockedSkipsExpiredAndSortsNewestFirst(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Block(ctx, "10.0.0.1", "old", storeNow.Add(-2*time.Hour), storeNow.Add(-time.Hour)); err != nil {
		t.Fatalf("block: %v", err)
	}
	if err := store.Block(ctx, "10.0.0.2", "early", storeNow.Add(-30*time.Minute), storeNow.Add(time.Hour)); err != nil {
		t.Fatalf("block: %v", err)
	}
	if err := store.Block(ctx, "10.0.0.3", "late", storeNow.Add(-10*time.Minute), storeNow.Add(time.Hour)); err != nil {
		t.Fatalf("block: %v", err)
	}

	records, err := store.ListBlocked(ctx, storeNow, 0)
	if err != nil {
		t.Fatalf("list blocked: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 active blocks, got %d", len(records))
	}
	if records[0].IP != "10.0.0.3" || records[1].IP != "10.0.0.2" {
		t.Fatalf("unexpected order: %s, %s", records[0].IP, records[1].IP)
	}

	limited, err := store.ListBlocked(ctx, storeNow, 1)
	if err != nil {
		t.Fatalf("list blocked: %v", err)
	}
	if len(limited) != 1 || limited[0].IP != "10.0.0.3" {
		t.Fatalf("limit should keep the newest block, got %v", limited)
	}
}

func TestStatsCountsLazily(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if _, _, err := store.RecordRequest(ctx, "10.0.0.1", "", entryAt(storeNow, "/a"), 50); err != nil {
		t.Fatalf("record: %v", err)
	}
	if _, _, err := store.RecordRequest(ctx, "10.0.0.2", "", entryAt(storeNow, "/a"), 50); err != nil {
		t.Fatalf("record: %v", err)
	}
	if _, err := store.ApplySuspicion(ctx, "10.0.0.2", domain.SuspicionEntry{Score: 60, Timestamp: storeNow}, 20, 50); err != nil {
		t.Fatalf("apply suspicion: %v", err)
	}
	// Already expired, must not count as blocked.
	if err := store.Block(ctx, "10.0.0.1", "stale", storeNow.Add(-2*time.Hour), storeNow.Add(-time.Hour)); err != nil {
		t.Fatalf("block: %v", err)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalIPs != 2 {
		t.Fatalf("totalIPs = %d, want 2", stats.TotalIPs)
	}
	if stats.BlockedIPs != 0 {
		t.Fatalf("blockedIPs = %d, expired blocks must not count", stats.BlockedIPs)
	}
	if stats.SuspiciousIPs != 1 {
		t.Fatalf("suspiciousIPs = %d, want 1", stats.SuspiciousIPs)
	}
	if stats.TotalRequests != 2 {
		t.Fatalf("totalRequests = %d, want 2", stats.TotalRequests)
	}
}

func TestClearExpiredBlocks(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Block(ctx, "10.0.0.1", "stale", storeNow.Add(-2*time.Hour), storeNow.Add(-time.Hour)); err != nil {
		t.Fatalf("block: %v", err)
	}
	if err := store.Block(ctx, "10.0.0.2", "live", storeNow, storeNow.Add(time.Hour)); err != nil {
		t.Fatalf("block: %v", err)
	}

	cleared, err := store.ClearExpiredBlocks(ctx, storeNow)
	if err != nil {
		t.Fatalf("clear expired: %v", err)
	}
	if cleared != 1 {
		t.Fatalf("cleared = %d, want 1", cleared)
	}

	stale, _ := store.Get(ctx, "10.0.0.1")
	if stale.IsBlocked {
		t.Fatal("expired block should be cleared")
	}
	live, _ := store.Get(ctx, "10.0.0.2")
	if !live.IsBlocked {
		t.Fatal("live block must survive the sweep")
	}
}
