package bootstrap

import (
	"context"
	"strings"

	"github.com/charmbracelet/log"

	"bouncer/internal/activity"
	"bouncer/internal/database"
	"bouncer/internal/geolite"
	jobruntime "bouncer/internal/jobs/runtime"
	"bouncer/internal/ratelimit"
	"bouncer/internal/support"
)

// Setup assembles the activity manager from the configured backends
// and launches the background routines that need one.
func Setup() *activity.Manager {
	store := buildStore()
	limiter := buildLimiter()
	geo := geolite.Open(support.GetEnv("GEOIP_DB_PATH", ""))

	manager := activity.NewManager(store, limiter, geo)

	// The sweep is leader-elected through redis; without redis the
	// lazy expiry on reads covers correctness on its own.
	if hasRedis() {
		go jobruntime.StartBlockSweepRoutine(context.Background(), manager)
	}

	return manager
}

func buildStore() activity.Store {
	backend := strings.ToLower(support.GetEnv("STORE_BACKEND", "postgres"))
	if backend == "memory" {
		log.Info("Using in-memory activity store")
		return activity.NewMemoryStore()
	}

	db, err := database.SetupDB()
	if err != nil {
		log.Fatalf("failed to set up database: %v", err)
	}
	return database.NewIPActivityStore(db)
}

func buildLimiter() ratelimit.Limiter {
	backend := strings.ToLower(support.GetEnv("RATE_LIMIT_BACKEND", "memory"))
	if backend == "redis" {
		client, err := support.GetRedisClient()
		if err != nil {
			log.Fatalf("failed to get redis client for rate limiter: %v", err)
		}
		log.Info("Using redis rate limiter")
		return ratelimit.NewRedisLimiter(client)
	}

	return ratelimit.NewMemoryLimiter()
}

func hasRedis() bool {
	_, err := support.GetRedisClient()
	return err == nil
}
