package tracing

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestCollector_RecentNewestFirst(t *testing.T) {
	c := NewCollector(10)
	for i := 0; i < 3; i++ {
		c.Record(Span{Kind: KindChat, SessionID: fmt.Sprintf("s%d", i)})
	}
	got := c.Recent(0)
	if len(got) != 3 {
		t.Fatalf("len = %d", len(got))
	}
	if got[0].SessionID != "s2" || got[2].SessionID != "s0" {
		t.Errorf("order wrong: %v, %v", got[0].SessionID, got[2].SessionID)
	}
	if got[0].ID.String() == "00000000-0000-0000-0000-000000000000" {
		t.Error("ID not assigned")
	}
}

func TestCollector_RingEviction(t *testing.T) {
	c := NewCollector(4)
	for i := 0; i < 10; i++ {
		c.Record(Span{Kind: KindAdmission, SessionID: fmt.Sprintf("s%d", i)})
	}
	got := c.Recent(0)
	if len(got) != 4 {
		t.Fatalf("ring should cap at 4, got %d", len(got))
	}
	if got[0].SessionID != "s9" || got[3].SessionID != "s6" {
		t.Errorf("eviction kept wrong spans: %v", got)
	}
	if c.Total() != 10 {
		t.Errorf("total = %d, want 10", c.Total())
	}
}

func TestCollector_RecentLimit(t *testing.T) {
	c := NewCollector(10)
	for i := 0; i < 5; i++ {
		c.Record(Span{Kind: KindChat})
	}
	if got := c.Recent(2); len(got) != 2 {
		t.Errorf("len = %d, want 2", len(got))
	}
	if got := c.Recent(50); len(got) != 5 {
		t.Errorf("len = %d, want 5", len(got))
	}
}

type captureExporter struct {
	spans []Span
}

func (e *captureExporter) ExportSpans(ctx context.Context, spans []Span) {
	e.spans = append(e.spans, spans...)
}

func (e *captureExporter) Shutdown(ctx context.Context) error { return nil }

func TestCollector_ExporterMirrors(t *testing.T) {
	c := NewCollector(10)
	exp := &captureExporter{}
	c.SetExporter(exp)

	c.Record(Span{Kind: KindChat, SessionID: "s", Start: time.Now(), Duration: time.Millisecond})
	if len(exp.spans) != 1 || exp.spans[0].SessionID != "s" {
		t.Errorf("exporter saw %v", exp.spans)
	}
	if err := c.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
}
