package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"bouncer/internal/activity"
	"bouncer/internal/domain"
)

// Guard is the admission middleware for the protected content API:
// block check, tiered rate limit, then activity recording and scoring
// after the inner handler has run. Denied requests are never recorded,
// so a throttled client cannot feed its own score.
func Guard(manager *activity.Manager, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)

		adm, err := manager.CheckRequest(r.Context(), ip)
		if err != nil && errors.Is(err, activity.ErrInvalidIP) {
			writeError(w, "Invalid client address", http.StatusBadRequest)
			return
		}

		setRateHeaders(w, adm)

		switch {
		case adm.Blocked:
			writeError(w, "Access denied", http.StatusForbidden)
			return
		case !adm.Allowed:
			writeError(w, "Too many requests", http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)

		entry := domain.ActivityEntry{
			Endpoint:  r.URL.Path,
			Method:    r.Method,
			Timestamp: time.Now(),
			UserAgent: r.UserAgent(),
		}
		if err := manager.Observe(context.WithoutCancel(r.Context()), ip, entry); err != nil {
			log.Error("Failed to record request activity", "ip", ip, "error", err)
		}
	})
}

// setRateHeaders writes the full header set on every guarded response,
// denials included.
func setRateHeaders(w http.ResponseWriter, adm activity.Admission) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(adm.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(adm.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(adm.ResetIn.Milliseconds(), 10))
	w.Header().Set("X-Blocked", strconv.FormatBool(adm.Blocked))
	w.Header().Set("X-Block-Remaining", strconv.FormatInt(adm.BlockRemaining.Milliseconds(), 10))
}

// clientIP resolves the caller address, preferring proxy headers over
// the socket peer.
func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		if first, _, found := strings.Cut(forwarded, ","); found || first != "" {
			return strings.TrimSpace(first)
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-Ip")); realIP != "" {
		return realIP
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
