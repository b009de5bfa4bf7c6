package security

import (
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	minuteWindow = time.Minute
	hourWindow   = time.Hour

	// defaultMaxIdentities caps the number of tracked rate windows.
	// Least-recently-used identities are evicted beyond this.
	defaultMaxIdentities = 10000
)

// Decision is the outcome of one rate-limit check.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

type rateWindow struct {
	stamps []time.Time // ordered, all within [now-1h, now] after purge
}

// RateLimiter tracks per-identity request timestamps over sliding minute
// and hour windows. Purely in-memory; a restart resets all state.
type RateLimiter struct {
	mu        sync.Mutex
	perMinute int
	perHour   int
	windows   *lru.Cache[string, *rateWindow]
}

// NewRateLimiter creates a limiter allowing perMinute requests per 60s and
// perHour per 3600s. Both limits must be positive. maxIdentities bounds the
// number of tracked identities (0 uses the default cap).
func NewRateLimiter(perMinute, perHour, maxIdentities int) *RateLimiter {
	if maxIdentities <= 0 {
		maxIdentities = defaultMaxIdentities
	}
	cache, err := lru.New[string, *rateWindow](maxIdentities)
	if err != nil {
		panic(err) // only fails on non-positive size
	}
	return &RateLimiter{
		perMinute: perMinute,
		perHour:   perHour,
		windows:   cache,
	}
}

// CheckAndRecord purges stale timestamps for identity, checks both windows,
// and records now if the request is admitted. The Nth request within a
// window is allowed, the (N+1)th is rejected with RetryAfter set to the
// time until the oldest timestamp in the violated window expires.
func (rl *RateLimiter) CheckAndRecord(identity string, now time.Time) Decision {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	w, ok := rl.windows.Get(identity)
	if !ok {
		w = &rateWindow{}
		rl.windows.Add(identity, w)
	}

	hourCutoff := now.Add(-hourWindow)
	minuteCutoff := now.Add(-minuteWindow)

	// Drop everything older than the longest window.
	start := 0
	for start < len(w.stamps) && !w.stamps[start].After(hourCutoff) {
		start++
	}
	w.stamps = w.stamps[start:]

	minuteCount := 0
	oldestInMinute := time.Time{}
	for _, t := range w.stamps {
		if t.After(minuteCutoff) {
			if oldestInMinute.IsZero() {
				oldestInMinute = t
			}
			minuteCount++
		}
	}

	if minuteCount >= rl.perMinute {
		retry := oldestInMinute.Add(minuteWindow).Sub(now)
		slog.Warn("security.rate_limited",
			"identity", identity, "window", "minute",
			"count", minuteCount, "limit", rl.perMinute)
		return Decision{RetryAfter: retry}
	}

	if len(w.stamps) >= rl.perHour {
		retry := w.stamps[0].Add(hourWindow).Sub(now)
		slog.Warn("security.rate_limited",
			"identity", identity, "window", "hour",
			"count", len(w.stamps), "limit", rl.perHour)
		return Decision{RetryAfter: retry}
	}

	w.stamps = append(w.stamps, now)
	return Decision{Allowed: true}
}

// SetLimits replaces both limits. Applied on config hot reload; existing
// windows keep their recorded timestamps.
func (rl *RateLimiter) SetLimits(perMinute, perHour int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if perMinute > 0 {
		rl.perMinute = perMinute
	}
	if perHour > 0 {
		rl.perHour = perHour
	}
}

// TrackedIdentities returns the number of identities with a live window.
func (rl *RateLimiter) TrackedIdentities() int {
	return rl.windows.Len()
}
