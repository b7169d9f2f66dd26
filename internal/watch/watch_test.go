package watch

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Iron-Ham/arbiter/internal/digest"
	"github.com/Iron-Ham/arbiter/internal/errors"
	"github.com/Iron-Ham/arbiter/internal/event"
	"github.com/Iron-Ham/arbiter/internal/knowledge"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

// syncBuffer guards a bytes.Buffer read by the test while the service writes.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func pending(id string) knowledge.Proposal {
	return knowledge.Proposal{
		ProposalID:    id,
		AgentID:       "agent-a",
		Path:          "internal/cart/cart.go",
		SemanticScope: "cart",
		Branch:        "agent-a/cart",
		ChangeType:    knowledge.Behavioral,
		SubmittedAt:   t0,
		Status:        knowledge.StatusPending,
	}
}

func TestTick(t *testing.T) {
	dir := t.TempDir()
	store := knowledge.NewFileStore(dir)
	if err := store.Write(t.Context(), &knowledge.Snapshot{Queue: []knowledge.Proposal{pending("prop_20260302_agent-a_001")}}); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	s := New(Config{Dir: dir, Schedule: "0 9 * * *", Digest: digest.Options{TopN: 5, ReviewThreshold: 5}},
		store, &out, WithClock(func() time.Time { return t0 }))
	if err := s.Tick(t.Context()); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}
	if !strings.Contains(out.String(), "prop_20260302_agent-a_001") {
		t.Errorf("digest missing pending proposal:\n%s", out.String())
	}
}

func TestRunRejectsBadSchedule(t *testing.T) {
	s := New(Config{Dir: t.TempDir(), Schedule: "every tuesday"}, knowledge.NewFileStore(t.TempDir()), &bytes.Buffer{})
	if err := s.Run(t.Context()); !errors.IsValidation(err) {
		t.Errorf("Run() error = %v, want validation error", err)
	}
}

func TestRunReportsExternalWrites(t *testing.T) {
	dir := t.TempDir()
	store := knowledge.NewFileStore(dir)
	out := &syncBuffer{}

	bus := event.NewBus(nil)
	changed := make(chan struct{}, 4)
	bus.Subscribe(event.TypeKnowledgeChanged, func(event.Event) { changed <- struct{}{} })

	s := New(Config{Dir: dir, Schedule: "0 9 * * *"}, store, out, WithBus(bus))

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)

	snap := &knowledge.Snapshot{Queue: []knowledge.Proposal{pending("p1"), pending("p2")}}
	if err := store.Write(t.Context(), snap); err != nil {
		t.Fatal(err)
	}

	select {
	case <-changed:
	case <-time.After(3 * time.Second):
		t.Fatal("no change event published")
	}

	deadline := time.After(3 * time.Second)
	for !strings.Contains(out.String(), "2 pending") {
		select {
		case <-deadline:
			t.Fatalf("queue depth not reported:\n%s", out.String())
		case <-time.After(20 * time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}

	// The service leaves the shared bus once it stops.
	before := out.String()
	bus.Publish(event.KnowledgeChanged{Path: dir, Op: "write"})
	if after := out.String(); after != before {
		t.Errorf("stopped service still reporting:\n%s", strings.TrimPrefix(after, before))
	}
}

func TestRunReportsWithoutSharedBus(t *testing.T) {
	dir := t.TempDir()
	store := knowledge.NewFileStore(dir)
	out := &syncBuffer{}
	s := New(Config{Dir: dir, Schedule: "0 9 * * *"}, store, out)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)

	snap := &knowledge.Snapshot{Queue: []knowledge.Proposal{pending("p1")}}
	if err := store.Write(t.Context(), snap); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(3 * time.Second)
	for !strings.Contains(out.String(), "1 pending") {
		select {
		case <-deadline:
			t.Fatalf("queue depth not reported:\n%s", out.String())
		case <-time.After(20 * time.Millisecond):
		}
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run() error = %v", err)
	}
}
