package security

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// BanThreshold maps a strike count to the temporary ban it triggers.
// A zero Duration means the violation is logged but the identity stays
// admitted (warning tier).
type BanThreshold struct {
	Strikes  int
	Duration time.Duration
}

// DefaultBanThresholds is the illustrative escalation policy: strikes 1-2
// warn only, 3-4 earn a short ban, 5+ a long one.
func DefaultBanThresholds() []BanThreshold {
	return []BanThreshold{
		{Strikes: 1, Duration: 0},
		{Strikes: 3, Duration: 10 * time.Minute},
		{Strikes: 5, Duration: 2 * time.Hour},
	}
}

// DefaultStrikeCooldown is the quiet period after which strikes reset.
const DefaultStrikeCooldown = time.Hour

// StrikeRecord is the per-identity violation state.
type StrikeRecord struct {
	Strikes       int
	LastViolation time.Time
	BanExpiry     time.Time // zero when never banned
}

// StrikeTracker counts policy violations per identity and escalates to
// temporary bans. Strike counts reset lazily after a quiet cooldown period.
type StrikeTracker struct {
	mu         sync.Mutex
	records    *lru.Cache[string, *StrikeRecord]
	thresholds []BanThreshold // sorted ascending by Strikes
	cooldown   time.Duration
}

// NewStrikeTracker creates a tracker with the given escalation thresholds
// and cooldown. Nil or empty thresholds fall back to the defaults; a
// non-positive cooldown falls back to DefaultStrikeCooldown. maxIdentities
// bounds tracked identities (0 uses the default cap).
func NewStrikeTracker(thresholds []BanThreshold, cooldown time.Duration, maxIdentities int) *StrikeTracker {
	if len(thresholds) == 0 {
		thresholds = DefaultBanThresholds()
	}
	sorted := make([]BanThreshold, len(thresholds))
	copy(sorted, thresholds)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Strikes < sorted[j].Strikes })

	if cooldown <= 0 {
		cooldown = DefaultStrikeCooldown
	}
	if maxIdentities <= 0 {
		maxIdentities = defaultMaxIdentities
	}
	cache, err := lru.New[string, *StrikeRecord](maxIdentities)
	if err != nil {
		panic(err)
	}
	return &StrikeTracker{
		records:    cache,
		thresholds: sorted,
		cooldown:   cooldown,
	}
}

// RecordViolation adds one strike for identity and applies the escalation
// policy. Returns a copy of the updated record.
func (st *StrikeTracker) RecordViolation(identity string, category Category, now time.Time) StrikeRecord {
	st.mu.Lock()
	defer st.mu.Unlock()

	rec, ok := st.records.Get(identity)
	if !ok {
		rec = &StrikeRecord{}
		st.records.Add(identity, rec)
	}
	st.heal(identity, rec, now)

	// Lazy cooldown: a quiet period since the last violation resets the
	// count, so this violation starts a fresh sequence at 1.
	if rec.Strikes > 0 && now.Sub(rec.LastViolation) >= st.cooldown {
		rec.Strikes = 0
	}

	rec.Strikes++
	rec.LastViolation = now

	if d := st.banDurationFor(rec.Strikes); d > 0 {
		expiry := now.Add(d)
		// Ban duration is non-decreasing in strikes; never shorten an
		// already-issued ban.
		if expiry.After(rec.BanExpiry) {
			rec.BanExpiry = expiry
		}
		slog.Warn("security.banned",
			"identity", identity, "category", category,
			"strikes", rec.Strikes, "until", rec.BanExpiry)
	} else {
		slog.Warn("security.strike",
			"identity", identity, "category", category, "strikes", rec.Strikes)
	}

	return *rec
}

// IsBanned reports whether identity is under an active ban and, if so,
// when it expires. A lapsed ban is not banned, even if strikes are still
// nonzero pending cooldown.
func (st *StrikeTracker) IsBanned(identity string, now time.Time) (bool, time.Time) {
	st.mu.Lock()
	defer st.mu.Unlock()

	rec, ok := st.records.Get(identity)
	if !ok {
		return false, time.Time{}
	}
	st.heal(identity, rec, now)

	if rec.Strikes > 0 && now.Sub(rec.LastViolation) >= st.cooldown && !now.Before(rec.BanExpiry) {
		rec.Strikes = 0
	}

	if now.Before(rec.BanExpiry) {
		return true, rec.BanExpiry
	}
	return false, time.Time{}
}

// Record returns a copy of the identity's strike record, if any.
func (st *StrikeTracker) Record(identity string) (StrikeRecord, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	rec, ok := st.records.Get(identity)
	if !ok {
		return StrikeRecord{}, false
	}
	return *rec, true
}

// ActiveBans counts identities whose ban has not yet expired.
func (st *StrikeTracker) ActiveBans(now time.Time) int {
	st.mu.Lock()
	defer st.mu.Unlock()
	n := 0
	for _, key := range st.records.Keys() {
		if rec, ok := st.records.Peek(key); ok && now.Before(rec.BanExpiry) {
			n++
		}
	}
	return n
}

// SetPolicy replaces thresholds and cooldown. Applied on config hot reload.
func (st *StrikeTracker) SetPolicy(thresholds []BanThreshold, cooldown time.Duration) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if len(thresholds) > 0 {
		sorted := make([]BanThreshold, len(thresholds))
		copy(sorted, thresholds)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Strikes < sorted[j].Strikes })
		st.thresholds = sorted
	}
	if cooldown > 0 {
		st.cooldown = cooldown
	}
}

// banDurationFor returns the ban duration for the highest threshold at or
// below strikes, 0 if none applies. Must hold st.mu.
func (st *StrikeTracker) banDurationFor(strikes int) time.Duration {
	var d time.Duration
	for _, t := range st.thresholds {
		if strikes >= t.Strikes {
			d = t.Duration
		}
	}
	return d
}

// heal clamps a corrupt record back to a valid state instead of
// propagating the inconsistency: a negative count becomes 0, and a ban
// expiry earlier than the violation that caused it collapses to now
// (lapsed). An active, consistent ban is never touched. Must hold st.mu.
func (st *StrikeTracker) heal(identity string, rec *StrikeRecord, now time.Time) {
	if rec.Strikes < 0 {
		slog.Error("security.state_corruption", "identity", identity,
			"field", "strikes", "value", rec.Strikes)
		rec.Strikes = 0
	}
	if !rec.BanExpiry.IsZero() && rec.BanExpiry.Before(rec.LastViolation) {
		slog.Error("security.state_corruption", "identity", identity,
			"field", "ban_expiry", "value", rec.BanExpiry)
		rec.BanExpiry = now
	}
}
