package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/charmbracelet/log"

	"bouncer/internal/activity"
	"bouncer/internal/app/version"
	"bouncer/internal/auth"
)

// guard is the shared manager behind every handler in this package.
// Set once by OpenRoutes before the server starts accepting requests.
var guard *activity.Manager

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, msg string, status int) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Router wires the admin surface onto a mux. Exposed separately from
// OpenRoutes so tests can drive it through httptest.
func Router(manager *activity.Manager) http.Handler {
	guard = manager

	router := http.NewServeMux()
	router.HandleFunc("GET /health", getHealth)

	router.Handle("GET /ip-stats", auth.IsAdmin(http.HandlerFunc(getIPStats)))
	router.Handle("GET /blocked-ips", auth.IsAdmin(http.HandlerFunc(getBlockedIPs)))
	router.Handle("GET /suspicious-ips", auth.IsAdmin(http.HandlerFunc(getSuspiciousIPs)))
	router.Handle("GET /ip-activity/{ip}", auth.IsAdmin(http.HandlerFunc(getIPActivity)))

	router.Handle("POST /block-ip", auth.IsAdmin(http.HandlerFunc(blockIP)))
	router.Handle("POST /unblock-ip", auth.IsAdmin(http.HandlerFunc(unblockIP)))
	router.Handle("POST /reset-ip-activity", auth.IsAdmin(http.HandlerFunc(resetIPActivity)))
	router.Handle("POST /can-make-request", auth.IsAdmin(http.HandlerFunc(canMakeRequest)))

	return enableCORS(router)
}

func OpenRoutes(port int, manager *activity.Manager) error {
	handler := Router(manager)
	log.Debug("Routes opened")

	server := http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: handler,
	}

	log.Infof("Starting bouncer backend on port :%d", port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server failed: %w", err)
	}
	return nil
}

func getHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": version.Get(),
	})
}
