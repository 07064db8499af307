package audit

import (
	"context"
	"errors"
	"testing"
	"time"
)

// ---------- Memory logger ----------

func TestMemoryLogger_AppendAssignsIDs(t *testing.T) {
	l := NewMemoryLogger()

	for i := 0; i < 3; i++ {
		err := l.Append(context.Background(), &Entry{
			EntityType: "escrow",
			EntityID:   "esc_1",
			Action:     "escrow.released",
		})
		if err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	entries := l.Entries()
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	for i, e := range entries {
		if e.ID != int64(i+1) {
			t.Errorf("entry %d has ID %d, want %d", i, e.ID, i+1)
		}
		if e.CreatedAt.IsZero() {
			t.Errorf("entry %d has zero CreatedAt", i)
		}
	}
}

func TestMemoryLogger_SearchFilters(t *testing.T) {
	l := NewMemoryLogger()
	ctx := context.Background()

	_ = l.Append(ctx, &Entry{EntityType: "escrow", EntityID: "esc_1", Action: "escrow.created", ActorID: "farmer-1"})
	_ = l.Append(ctx, &Entry{EntityType: "escrow", EntityID: "esc_1", Action: "escrow.released", ActorID: "admin-1"})
	_ = l.Append(ctx, &Entry{EntityType: "wallet", EntityID: "transporter-1", Action: "wallet.credited", ActorID: "system"})

	got, err := l.Search(ctx, Query{EntityType: "escrow"})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 escrow entries, got %d", len(got))
	}
	// Descending order: newest first
	if got[0].Action != "escrow.released" {
		t.Errorf("expected newest entry first, got %q", got[0].Action)
	}

	got, err = l.Search(ctx, Query{ActorID: "admin-1"})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(got) != 1 || got[0].Action != "escrow.released" {
		t.Fatalf("actor filter returned wrong entries: %+v", got)
	}

	got, err = l.Search(ctx, Query{Action: "wallet.credited"})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(got) != 1 || got[0].EntityID != "transporter-1" {
		t.Fatalf("action filter returned wrong entries: %+v", got)
	}
}

func TestMemoryLogger_SearchLimit(t *testing.T) {
	l := NewMemoryLogger()
	for i := 0; i < 10; i++ {
		_ = l.Append(context.Background(), &Entry{EntityType: "escrow", EntityID: "esc_1", Action: "a"})
	}
	got, _ := l.Search(context.Background(), Query{Limit: 4})
	if len(got) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(got))
	}
}

func TestMemoryLogger_SearchTimeWindow(t *testing.T) {
	l := NewMemoryLogger()
	ctx := context.Background()

	old := time.Now().Add(-2 * time.Hour)
	_ = l.Append(ctx, &Entry{EntityType: "escrow", EntityID: "a", Action: "x", CreatedAt: old})
	_ = l.Append(ctx, &Entry{EntityType: "escrow", EntityID: "b", Action: "x"})

	got, _ := l.Search(ctx, Query{From: time.Now().Add(-time.Hour)})
	if len(got) != 1 || got[0].EntityID != "b" {
		t.Fatalf("time filter returned wrong entries: %+v", got)
	}
}

// ---------- Recorder ----------

type failingLogger struct{}

func (failingLogger) Append(context.Context, *Entry) error { return errors.New("disk full") }
func (failingLogger) Search(context.Context, Query) ([]*Entry, error) {
	return nil, errors.New("disk full")
}

type recordingNotifier struct {
	entries []*Entry
}

func (n *recordingNotifier) Notify(e *Entry) { n.entries = append(n.entries, e) }

func TestRecorder_FillsActorFromContext(t *testing.T) {
	l := NewMemoryLogger()
	r := NewRecorder(l, nil)

	ctx := WithActor(context.Background(), "admin", "admin-7")
	ctx = WithIP(ctx, "10.0.0.1")
	ctx = WithRequestID(ctx, "req-42")

	r.Record(ctx, &Entry{EntityType: "dispute", EntityID: "dsp_1", Action: "dispute.resolved", Success: true})

	entries := l.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.ActorType != "admin" || e.ActorID != "admin-7" {
		t.Errorf("actor not filled from context: %+v", e)
	}
	if e.IPAddress != "10.0.0.1" || e.RequestID != "req-42" {
		t.Errorf("ip/request id not filled: %+v", e)
	}
}

func TestRecorder_DefaultsToSystemActor(t *testing.T) {
	l := NewMemoryLogger()
	r := NewRecorder(l, nil)

	r.Record(context.Background(), &Entry{EntityType: "escrow", EntityID: "esc_1", Action: "escrow.auto_released"})

	entries := l.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].ActorType != "system" {
		t.Errorf("expected system actor, got %q", entries[0].ActorType)
	}
}

func TestRecorder_SwallowsAppendFailure(t *testing.T) {
	var failures int
	r := NewRecorder(failingLogger{}, nil).WithErrorHook(func() { failures++ })

	// Must not panic or propagate the error.
	r.Record(context.Background(), &Entry{EntityType: "escrow", EntityID: "esc_1", Action: "escrow.released"})

	if failures != 1 {
		t.Fatalf("expected error hook to fire once, got %d", failures)
	}
}

func TestRecorder_NotifierSeesCommittedEntries(t *testing.T) {
	l := NewMemoryLogger()
	n := &recordingNotifier{}
	r := NewRecorder(l, nil).WithNotifier(n)

	r.Record(context.Background(), &Entry{EntityType: "escrow", EntityID: "esc_1", Action: "escrow.released", Success: true})

	if len(n.entries) != 1 {
		t.Fatalf("expected notifier to see 1 entry, got %d", len(n.entries))
	}
}

func TestRecorder_NotifierSkippedOnFailure(t *testing.T) {
	n := &recordingNotifier{}
	r := NewRecorder(failingLogger{}, nil).WithNotifier(n)

	r.Record(context.Background(), &Entry{EntityType: "escrow", EntityID: "esc_1", Action: "escrow.released"})

	if len(n.entries) != 0 {
		t.Fatalf("notifier should not see failed appends, got %d", len(n.entries))
	}
}

func TestRecorder_NilSafe(t *testing.T) {
	var r *Recorder
	r.Record(context.Background(), &Entry{Action: "noop"}) // must not panic

	got, err := r.Search(context.Background(), Query{})
	if err != nil || got != nil {
		t.Fatalf("nil recorder Search should return (nil, nil), got (%v, %v)", got, err)
	}
}

func TestSnapshot(t *testing.T) {
	if got := Snapshot(nil); got != "{}" {
		t.Errorf("Snapshot(nil) = %q, want {}", got)
	}
	got := Snapshot(map[string]string{"status": "HELD"})
	if got != `{"status":"HELD"}` {
		t.Errorf("Snapshot = %q", got)
	}
}
