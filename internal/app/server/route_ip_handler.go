package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"bouncer/internal/activity"
)

type ipRequest struct {
	IP              string `json:"ip"`
	Reason          string `json:"reason,omitempty"`
	DurationMinutes int    `json:"durationMinutes,omitempty"`
}

func getIPStats(w http.ResponseWriter, r *http.Request) {
	stats, err := guard.Stats(r.Context())
	if err != nil {
		writeError(w, "Failed to load stats", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

func getBlockedIPs(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	records, err := guard.ListBlocked(r.Context(), limit)
	if err != nil {
		writeError(w, "Failed to load blocked IPs", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"blockedIPs": records, "count": len(records)})
}

func getSuspiciousIPs(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	records, err := guard.ListSuspicious(r.Context(), limit)
	if err != nil {
		writeError(w, "Failed to load suspicious IPs", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"suspiciousIPs": records, "count": len(records)})
}

func getIPActivity(w http.ResponseWriter, r *http.Request) {
	ip := strings.TrimSpace(r.PathValue("ip"))
	if ip == "" {
		writeError(w, "Missing IP address", http.StatusBadRequest)
		return
	}

	record, err := guard.GetIP(r.Context(), ip)
	if err != nil {
		writeIPError(w, err)
		return
	}
	if record == nil {
		writeError(w, "No activity recorded for this IP", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, record)
}

func blockIP(w http.ResponseWriter, r *http.Request) {
	payload, ok := decodeIPRequest(w, r)
	if !ok {
		return
	}

	record, err := guard.BlockIP(r.Context(), payload.IP, payload.Reason, payload.DurationMinutes)
	if err != nil {
		writeIPError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, record)
}

func unblockIP(w http.ResponseWriter, r *http.Request) {
	payload, ok := decodeIPRequest(w, r)
	if !ok {
		return
	}

	record, err := guard.UnblockIP(r.Context(), payload.IP)
	if err != nil {
		writeIPError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, record)
}

func resetIPActivity(w http.ResponseWriter, r *http.Request) {
	payload, ok := decodeIPRequest(w, r)
	if !ok {
		return
	}

	record, err := guard.ResetIP(r.Context(), payload.IP)
	if err != nil {
		writeIPError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, record)
}

func canMakeRequest(w http.ResponseWriter, r *http.Request) {
	payload, ok := decodeIPRequest(w, r)
	if !ok {
		return
	}

	adm, err := guard.CanMakeRequest(r.Context(), payload.IP)
	if err != nil && !errors.Is(err, activity.ErrStoreUnavailable) {
		writeIPError(w, err)
		return
	}

	// remainingMs is the wait before a retry can succeed: the rest of
	// the block when blocked, the window reset when throttled.
	var retryIn time.Duration
	switch {
	case adm.Blocked:
		retryIn = adm.BlockRemaining
	case !adm.Allowed:
		retryIn = adm.ResetIn
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"allowed":          adm.Allowed,
		"blocked":          adm.Blocked,
		"tier":             adm.Tier,
		"limit":            adm.Limit,
		"remaining":        adm.Remaining,
		"remainingMs":      retryIn.Milliseconds(),
		"resetInMs":        adm.ResetIn.Milliseconds(),
		"blockRemainingMs": adm.BlockRemaining.Milliseconds(),
	})
}

func decodeIPRequest(w http.ResponseWriter, r *http.Request) (ipRequest, bool) {
	var payload ipRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, "Invalid request payload", http.StatusBadRequest)
		return ipRequest{}, false
	}
	if strings.TrimSpace(payload.IP) == "" {
		writeError(w, "Missing IP address", http.StatusBadRequest)
		return ipRequest{}, false
	}
	return payload, true
}

const defaultListingLimit = 50

func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return defaultListingLimit, true
	}

	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		writeError(w, "Invalid limit parameter", http.StatusBadRequest)
		return 0, false
	}
	return limit, true
}

func writeIPError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, activity.ErrInvalidIP):
		writeError(w, "Invalid IP address", http.StatusBadRequest)
	case errors.Is(err, activity.ErrStoreUnavailable):
		writeError(w, "Storage backend unavailable", http.StatusServiceUnavailable)
	default:
		writeError(w, "Internal server error", http.StatusInternalServerError)
	}
}
