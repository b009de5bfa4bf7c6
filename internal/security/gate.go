package security

import (
	"errors"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"
)

// Reason classifies a Verdict.
type Reason string

const (
	ReasonOK             Reason = "ok"
	ReasonRateLimited    Reason = "rate_limited"
	ReasonBanned         Reason = "banned"
	ReasonAttackDetected Reason = "attack_detected"
)

// Verdict is the result of one admission evaluation. It is returned
// synchronously and never persisted.
type Verdict struct {
	Allowed    bool
	Reason     Reason
	RetryAfter time.Duration

	// Category is set when Reason is attack_detected. Internal detail for
	// logging and alerting; HTTP responses never surface it beyond the
	// reason category.
	Category Category

	// Strikes is the identity's strike count after this evaluation.
	Strikes int
}

// Event describes one gate decision, published to the configured sink
// (alert dispatcher, tracing collector). Sinks must not block.
type Event struct {
	At         time.Time
	Identity   string
	Reason     Reason
	Category   Category
	Strikes    int
	BanExpiry  time.Time
	RetryAfter time.Duration
}

// EventSink receives gate decision events.
type EventSink func(Event)

// Precondition violations: the caller must never invoke the gate with
// these, so they surface as errors rather than verdicts.
var (
	ErrEmptyIdentity = errors.New("empty identity")
	ErrInvalidTime   = errors.New("invalid evaluation time")
)

// lockShards bounds the gate's lock pool. Identities are hashed onto a
// fixed shard array; a collision serializes two unrelated identities but
// never weakens the per-identity ordering guarantee.
const lockShards = 1024

// Gate is the admission entry point invoked once per inbound message.
// It composes the strike tracker, rate limiter, and pattern matcher into
// a single accept/reject decision, in that order: an active ban
// short-circuits everything, throttled callers skip pattern matching.
type Gate struct {
	limiter  *RateLimiter
	strikes  *StrikeTracker
	patterns inspector

	locks [lockShards]sync.Mutex

	sinkMu sync.RWMutex
	sinks  []EventSink
}

// inspector abstracts PatternMatcher for tests that instrument invocations.
type inspector interface {
	Inspect(text string) Inspection
}

// NewGate wires a gate from its injected components. All per-identity
// state lives in the limiter and tracker; the gate itself holds only a
// fixed pool of shard locks.
func NewGate(limiter *RateLimiter, strikes *StrikeTracker, patterns *PatternMatcher) *Gate {
	return &Gate{limiter: limiter, strikes: strikes, patterns: patterns}
}

// OnEvent registers a sink for gate decisions. Rejections and detected
// attacks are published; plain admissions are not.
func (g *Gate) OnEvent(sink EventSink) {
	g.sinkMu.Lock()
	defer g.sinkMu.Unlock()
	g.sinks = append(g.sinks, sink)
}

// Admit evaluates one inbound message. Concurrent calls for the same
// identity are serialized so that increment-then-compare stays atomic at
// window boundaries; distinct identities proceed in parallel unless they
// land on the same lock shard.
func (g *Gate) Admit(identity, messageText string, now time.Time) (Verdict, error) {
	if identity == "" {
		return Verdict{}, ErrEmptyIdentity
	}
	if now.IsZero() {
		return Verdict{}, ErrInvalidTime
	}

	mu := g.identityLock(identity)
	mu.Lock()
	defer mu.Unlock()

	if banned, until := g.strikes.IsBanned(identity, now); banned {
		v := Verdict{Reason: ReasonBanned, RetryAfter: until.Sub(now)}
		g.publish(Event{At: now, Identity: identity, Reason: ReasonBanned,
			BanExpiry: until, RetryAfter: v.RetryAfter})
		return v, nil
	}

	if dec := g.limiter.CheckAndRecord(identity, now); !dec.Allowed {
		rec := g.strikes.RecordViolation(identity, ViolationRateLimit, now)
		v := Verdict{Reason: ReasonRateLimited, RetryAfter: dec.RetryAfter, Strikes: rec.Strikes}
		g.publish(Event{At: now, Identity: identity, Reason: ReasonRateLimited,
			Category: ViolationRateLimit, Strikes: rec.Strikes,
			BanExpiry: rec.BanExpiry, RetryAfter: dec.RetryAfter})
		return v, nil
	}

	if insp := g.patterns.Inspect(messageText); insp.Matched {
		rec := g.strikes.RecordViolation(identity, insp.Category, now)
		slog.Warn("security.attack_detected",
			"identity", identity, "category", insp.Category, "strikes", rec.Strikes)
		v := Verdict{Reason: ReasonAttackDetected, Category: insp.Category, Strikes: rec.Strikes}
		g.publish(Event{At: now, Identity: identity, Reason: ReasonAttackDetected,
			Category: insp.Category, Strikes: rec.Strikes, BanExpiry: rec.BanExpiry})
		return v, nil
	}

	return Verdict{Allowed: true, Reason: ReasonOK}, nil
}

// Status reports live counters for the security debug endpoint.
func (g *Gate) Status(now time.Time) GateStatus {
	return GateStatus{
		TrackedIdentities: g.limiter.TrackedIdentities(),
		ActiveBans:        g.strikes.ActiveBans(now),
	}
}

// GateStatus is a snapshot of gate-owned state sizes.
type GateStatus struct {
	TrackedIdentities int `json:"tracked_identities"`
	ActiveBans        int `json:"active_bans"`
}

func (g *Gate) identityLock(identity string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(identity))
	return &g.locks[h.Sum32()%lockShards]
}

func (g *Gate) publish(evt Event) {
	g.sinkMu.RLock()
	defer g.sinkMu.RUnlock()
	for _, sink := range g.sinks {
		sink(evt)
	}
}
