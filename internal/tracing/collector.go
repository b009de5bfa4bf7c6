// Package tracing records per-request spans: one span for every message
// that reaches the admission gate, whether it was answered or rejected.
// Spans live in a bounded in-memory ring for the status API and are
// optionally mirrored to an external OTLP backend.
package tracing

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Span kinds.
const (
	KindChat      = "chat"
	KindAdmission = "admission"
)

// Span is one recorded request.
type Span struct {
	ID           uuid.UUID     `json:"id"`
	Kind         string        `json:"kind"`
	SessionID    string        `json:"session_id"`
	Outcome      string        `json:"outcome"`
	Provider     string        `json:"provider,omitempty"`
	Model        string        `json:"model,omitempty"`
	InputTokens  int           `json:"input_tokens,omitempty"`
	OutputTokens int           `json:"output_tokens,omitempty"`
	Start        time.Time     `json:"start"`
	Duration     time.Duration `json:"duration"`
	Error        string        `json:"error,omitempty"`
}

// SpanExporter mirrors spans to an external backend. Keeping this as an
// interface lets the OTel dependency live in a sub-package that is only
// compiled in with the otel build tag.
type SpanExporter interface {
	ExportSpans(ctx context.Context, spans []Span)
	Shutdown(ctx context.Context) error
}

// Collector keeps the most recent spans in a fixed-size ring.
type Collector struct {
	mu   sync.Mutex
	ring []Span
	next int
	full bool

	total    uint64
	exporter SpanExporter
}

const defaultRingSize = 256

// NewCollector creates a collector retaining up to size spans.
func NewCollector(size int) *Collector {
	if size <= 0 {
		size = defaultRingSize
	}
	return &Collector{ring: make([]Span, size)}
}

// SetExporter attaches an external span exporter.
func (c *Collector) SetExporter(exp SpanExporter) {
	c.mu.Lock()
	c.exporter = exp
	c.mu.Unlock()
}

// Record stores one span, assigning it an ID when absent.
func (c *Collector) Record(span Span) {
	if span.ID == uuid.Nil {
		span.ID = uuid.Must(uuid.NewV7())
	}
	if span.Start.IsZero() {
		span.Start = time.Now()
	}

	c.mu.Lock()
	c.ring[c.next] = span
	c.next++
	if c.next == len(c.ring) {
		c.next = 0
		c.full = true
	}
	c.total++
	exp := c.exporter
	c.mu.Unlock()

	if exp != nil {
		exp.ExportSpans(context.Background(), []Span{span})
	}
}

// Recent returns up to n spans, newest first.
func (c *Collector) Recent(n int) []Span {
	c.mu.Lock()
	defer c.mu.Unlock()

	size := c.next
	if c.full {
		size = len(c.ring)
	}
	if n <= 0 || n > size {
		n = size
	}
	out := make([]Span, 0, n)
	idx := c.next
	for i := 0; i < n; i++ {
		idx--
		if idx < 0 {
			idx = len(c.ring) - 1
		}
		out = append(out, c.ring[idx])
	}
	return out
}

// Total reports how many spans were recorded since startup, including
// those already evicted from the ring.
func (c *Collector) Total() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

// Shutdown flushes the exporter if one is attached.
func (c *Collector) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	exp := c.exporter
	c.mu.Unlock()
	if exp != nil {
		return exp.Shutdown(ctx)
	}
	return nil
}
