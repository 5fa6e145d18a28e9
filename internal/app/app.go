package app

import (
	"context"
	"flag"
	"os"
	"strconv"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"

	"bouncer/internal/app/bootstrap"
	"bouncer/internal/app/server"
	"bouncer/internal/app/version"
	"bouncer/internal/config"
	"bouncer/internal/jobs/runtime"
	"bouncer/internal/support"
)

const defaultBackendPort = 8082

func Run() error {
	if err := godotenv.Load(); err != nil {
		log.Warn("No .env file found. Falling back to system environment variables.")
	}

	applyLogLevel()
	config.Reload()

	build := version.Get()
	log.Info("Starting bouncer", "version", build.BuildVersion, "builtAt", build.BuiltAt)

	backendPortFlag := flag.Int("backend-port", defaultBackendPort, "Port for API server")
	flag.Parse()

	backendPort := resolvePort("BACKEND_PORT", *backendPortFlag)

	if redisClient, err := support.GetRedisClient(); err == nil {
		heartbeatCancel := runtime.LaunchInstanceHeartbeat(context.Background(), redisClient)
		defer heartbeatCancel()
	} else {
		log.Warn("Redis unavailable, instance heartbeat disabled", "error", err)
	}

	manager := bootstrap.Setup()

	return server.OpenRoutes(backendPort, manager)
}

func applyLogLevel() {
	raw := os.Getenv("LOG_LEVEL")
	if raw == "" {
		log.SetLevel(log.DebugLevel)
		return
	}

	level, err := log.ParseLevel(raw)
	if err != nil {
		log.Warn("invalid log level override", "value", raw)
		log.SetLevel(log.DebugLevel)
		return
	}
	log.SetLevel(level)
}

func resolvePort(envKey string, fallback int) int {
	raw := os.Getenv(envKey)
	if raw == "" {
		return fallback
	}
	port, err := strconv.Atoi(raw)
	if err != nil || port == 0 {
		log.Warn("invalid port override", "env", envKey, "value", raw)
		return fallback
	}
	return port
}
