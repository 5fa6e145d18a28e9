package scoring

import (
	"strings"
	"time"

	"bouncer/internal/config"
	"bouncer/internal/domain"
)

// Signal labels reported in the reasons list and persisted in the
// suspicious activity log.
const (
	ReasonHighFrequency     = "high_request_frequency"
	ReasonDailyVolume       = "daily_volume_exceeded"
	ReasonEndpointDiversity = "endpoint_diversity"
	ReasonNightTime         = "night_time_activity"
	ReasonMissingUserAgent  = "missing_user_agent"
)

// Signals carries the tunables for one evaluation. Each signal is
// independently configurable and a zero score disables it.
type Signals struct {
	MinRequestInterval      time.Duration
	HighFrequencyScore      int
	DailyRequestThreshold   int
	DailyVolumeScore        int
	UniqueEndpointThreshold int
	EndpointDiversityScore  int
	NightTimeStart          int
	NightTimeEnd            int
	NightTimeScore          int
	MissingUserAgentScore   int
}

// FromConfig extracts the scoring tunables from a config snapshot.
func FromConfig(cfg config.Config) Signals {
	return Signals{
		MinRequestInterval:      cfg.MinRequestInterval,
		HighFrequencyScore:      cfg.HighFrequencyScore,
		DailyRequestThreshold:   cfg.DailyRequestThreshold,
		DailyVolumeScore:        cfg.DailyVolumeScore,
		UniqueEndpointThreshold: cfg.UniqueEndpointThreshold,
		EndpointDiversityScore:  cfg.EndpointDiversityScore,
		NightTimeStart:          cfg.NightTimeStart,
		NightTimeEnd:            cfg.NightTimeEnd,
		NightTimeScore:          cfg.NightTimeScore,
		MissingUserAgentScore:   cfg.MissingUserAgentScore,
	}
}

// Result is the outcome of one evaluation: the score increment and the
// label of every signal that fired.
type Result struct {
	Delta   int
	Reasons []string
}

// placeholder user-agent values commonly sent by naive clients.
var placeholderAgents = map[string]struct{}{
	"":          {},
	"-":         {},
	"null":      {},
	"undefined": {},
	"unknown":   {},
}

// Evaluate inspects one recorded request against the IP's updated
// record and returns the score delta with the triggered signal labels.
// The record is expected to already include the event (counters
// incremented, log appended); prevRequestAt is the timestamp of the
// request before this one, nil for a first-seen IP. Evaluate performs
// no I/O and never mutates its inputs.
func Evaluate(record *domain.IPActivity, event domain.ActivityEntry, prevRequestAt *time.Time, sig Signals) Result {
	var result Result

	if sig.HighFrequencyScore > 0 && prevRequestAt != nil {
		if interval := event.Timestamp.Sub(*prevRequestAt); interval >= 0 && interval < sig.MinRequestInterval {
			result.add(sig.HighFrequencyScore, ReasonHighFrequency)
		}
	}

	if sig.DailyVolumeScore > 0 && sig.DailyRequestThreshold > 0 &&
		record.RequestsToday > uint64(sig.DailyRequestThreshold) {
		result.add(sig.DailyVolumeScore, ReasonDailyVolume)
	}

	if sig.EndpointDiversityScore > 0 && sig.UniqueEndpointThreshold > 0 &&
		record.DistinctEndpointsSince(domain.DayStartUTC(event.Timestamp)) > sig.UniqueEndpointThreshold {
		result.add(sig.EndpointDiversityScore, ReasonEndpointDiversity)
	}

	if sig.NightTimeScore > 0 && inNightWindow(event.Timestamp.UTC().Hour(), sig.NightTimeStart, sig.NightTimeEnd) {
		result.add(sig.NightTimeScore, ReasonNightTime)
	}

	if sig.MissingUserAgentScore > 0 && isPlaceholderAgent(event.UserAgent) {
		result.add(sig.MissingUserAgentScore, ReasonMissingUserAgent)
	}

	return result
}

func (r *Result) add(points int, reason string) {
	r.Delta += points
	r.Reasons = append(r.Reasons, reason)
}

// inNightWindow reports whether hour falls inside [start, end),
// supporting windows that wrap past midnight (e.g. start=22 end=6).
func inNightWindow(hour, start, end int) bool {
	if start == end {
		return false
	}
	if start < end {
		return hour >= start && hour < end
	}
	return hour >= start || hour < end
}

func isPlaceholderAgent(userAgent string) bool {
	_, found := placeholderAgents[strings.ToLower(strings.TrimSpace(userAgent))]
	return found
}
