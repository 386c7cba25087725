package logger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type recordingPublisher struct {
	mu      sync.Mutex
	batches []*LogBatch
	topics  []string
}

func (p *recordingPublisher) PublishMessage(_ context.Context, topic string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := payload.(*LogBatch)
	if !ok {
		return errors.New("unexpected payload")
	}
	p.batches = append(p.batches, b)
	p.topics = append(p.topics, topic)
	return nil
}

func TestCollectorFoldsDuplicates(t *testing.T) {
	pub := &recordingPublisher{}
	c := NewLogCollector(&CollectionConfig{
		TimeInterval:   time.Hour,
		CountThreshold: 100,
		Topic:          "logs",
		Source:         "test",
		Publisher:      pub,
	})

	fields := map[string]interface{}{"source": "quotes"}
	for i := 0; i < 5; i++ {
		c.AddLog("error", "refresh failed", fields, "cache.go:10")
	}
	c.AddLog("error", "other failure", nil, "cache.go:20")

	if got := c.Pending(); got != 2 {
		t.Fatalf("expected 2 distinct entries, got %d", got)
	}

	c.Close()

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.batches) != 1 {
		t.Fatalf("expected one batch on close, got %d", len(pub.batches))
	}
	if pub.topics[0] != "logs" {
		t.Fatalf("unexpected topic %q", pub.topics[0])
	}
	var refresh *AggregatedLogEntry
	for i := range pub.batches[0].Entries {
		if pub.batches[0].Entries[i].Message == "refresh failed" {
			refresh = &pub.batches[0].Entries[i]
		}
	}
	if refresh == nil || refresh.Count != 5 {
		t.Fatalf("expected folded entry with count 5, got %+v", refresh)
	}
}

func TestNamedLoggerSharesCollector(t *testing.T) {
	pub := &recordingPublisher{}
	l := Nop()
	l.AddCollector(&CollectionConfig{TimeInterval: time.Hour, Topic: "logs", Publisher: pub})

	child := l.Named("cache")
	child.Error("boom", String("key", "AAPL"))

	if got := l.sink.get().Pending(); got != 1 {
		t.Fatalf("expected child error to reach parent collector, pending=%d", got)
	}

	l.RemoveCollector()
	child.Error("after removal")
	if l.sink.get() != nil {
		t.Fatalf("collector still attached")
	}
	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.batches) != 1 || pub.batches[0].Entries[0].Caller == "" {
		t.Fatalf("removal should flush the pending entry: %+v", pub.batches)
	}
}

func TestEntryIDIgnoresFieldOrder(t *testing.T) {
	a := entryID("error", "m", "c", map[string]interface{}{"a": 1, "b": "x"})
	b := entryID("error", "m", "c", map[string]interface{}{"b": "x", "a": 1})
	if a != b {
		t.Fatalf("same fields hashed differently")
	}
	if a == entryID("error", "m", "c", map[string]interface{}{"a": 2, "b": "x"}) {
		t.Fatalf("different values share an id")
	}
}

func TestFieldMapFlattensErrors(t *testing.T) {
	m := fieldMap([]Field{String("symbol", "AAPL"), Error(errors.New("timeout")), Duration("took", 1500*time.Millisecond)})
	if m["symbol"] != "AAPL" || m["error"] != "timeout" || m["took"] != int64(1500) {
		t.Fatalf("fields = %v", m)
	}
	if fieldMap(nil) != nil {
		t.Fatalf("empty fields should stay nil")
	}
}
