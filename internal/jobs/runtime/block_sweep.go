package runtime

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/log"

	"bouncer/internal/activity"
	"bouncer/internal/config"
	"bouncer/internal/support"
)

const blockSweepLockKey = "bouncer:leader:block_sweep"

// StartBlockSweepRoutine periodically clears expired block rows on one
// elected instance. Expiry stays lazy at read time; the sweep only
// keeps the table and the blocked listing tidy.
func StartBlockSweepRoutine(ctx context.Context, manager *activity.Manager) {
	if ctx == nil {
		ctx = context.Background()
	}

	err := support.RunWithLeader(ctx, blockSweepLockKey, support.DefaultLeadershipTTL, func(leaderCtx context.Context) {
		runBlockSweepLoop(leaderCtx, manager)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Block sweep routine stopped", "error", err)
	}
}

func runBlockSweepLoop(ctx context.Context, manager *activity.Manager) {
	runBlockSweepOnce(ctx, manager)

	ticker := time.NewTicker(config.Get().BlockSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runBlockSweepOnce(ctx, manager)
		}
	}
}

func runBlockSweepOnce(ctx context.Context, manager *activity.Manager) {
	start := time.Now()
	cleared, err := manager.ClearExpiredBlocks(ctx)
	if err != nil {
		log.Error("Failed to clear expired blocks", "error", err)
		return
	}
	if cleared > 0 {
		log.Info("Expired blocks cleared", "count", cleared, "duration", time.Since(start))
	}
}
