package digest

import (
	"bytes"
	"context"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/Iron-Ham/arbiter/internal/knowledge"
	"github.com/Iron-Ham/arbiter/internal/ui"
)

var now = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func TestScore(t *testing.T) {
	tests := []struct {
		name   string
		record knowledge.StateRecord
		want   int
	}{
		{
			name:   "verified owned record scores zero",
			record: knowledge.StateRecord{Path: "a.go", OwnedBy: "x", UncertaintyLevel: knowledge.LevelVerified},
			want:   0,
		},
		{
			name:   "pending with changes",
			record: knowledge.StateRecord{Path: "a.go", OwnedBy: "x", TestReference: "a_test.go", UncertaintyLevel: knowledge.LevelPending, ChangeCountSinceReview: 4},
			want:   weightPending + 4*weightPerChange,
		},
		{
			name: "contested with invariants and assumptions",
			record: knowledge.StateRecord{
				Path: "auth.go", UncertaintyLevel: knowledge.LevelContested,
				InvariantsTouched: []string{"auth_model"},
				Assumptions:       []knowledge.Assumption{{Shared: true}, {}},
			},
			want: weightContested + weightPerInvariant + weightPerShared + weightPerAssumption + weightUnowned + weightMissingTestLink,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, reasons := Score(tt.record)
			if got != tt.want {
				t.Errorf("Score() = %d, want %d (reasons %v)", got, tt.want, reasons)
			}
			if got > 0 && len(reasons) == 0 {
				t.Error("non-zero score without reasons")
			}
			again, _ := Score(tt.record)
			if again != got {
				t.Errorf("Score() not stable: %d then %d", got, again)
			}
		})
	}
}

func TestRankOrderingIsStable(t *testing.T) {
	records := []knowledge.StateRecord{
		{ID: "state_3", Path: "b.go", OwnedBy: "x", TestReference: "t", UncertaintyLevel: knowledge.LevelPending},
		{ID: "state_1", Path: "z.go", UncertaintyLevel: knowledge.LevelContested},
		{ID: "state_2", Path: "a.go", OwnedBy: "x", TestReference: "t", UncertaintyLevel: knowledge.LevelPending},
		{ID: "state_4", Path: "v.go", OwnedBy: "x", UncertaintyLevel: knowledge.LevelVerified},
	}

	first := Rank(records)
	var paths []string
	for _, e := range first {
		paths = append(paths, e.Record.Path)
	}
	want := []string{"z.go", "a.go", "b.go"}
	if !reflect.DeepEqual(paths, want) {
		t.Fatalf("Rank() paths = %v, want %v", paths, want)
	}

	// Reversed input must produce the same ranking.
	reversed := make([]knowledge.StateRecord, len(records))
	for i, r := range records {
		reversed[len(records)-1-i] = r
	}
	if second := Rank(reversed); !reflect.DeepEqual(first, second) {
		t.Errorf("Rank() depends on input order:\n%v\n%v", first, second)
	}
}

func TestCompose(t *testing.T) {
	snap := &knowledge.Snapshot{
		State: []knowledge.StateRecord{
			{ID: "state_1", Path: "a.go", UncertaintyLevel: knowledge.LevelPending, ChangeCountSinceReview: 6},
			{ID: "state_2", Path: "b.go", UncertaintyLevel: knowledge.LevelPending, ChangeCountSinceReview: 1},
			{ID: "state_3", Path: "c.go", UncertaintyLevel: knowledge.LevelContested},
		},
		Queue: []knowledge.Proposal{
			{ProposalID: "prop_1", Status: knowledge.StatusPending, SubmittedAt: now},
			{ProposalID: "prop_0", Status: knowledge.StatusApproved, SubmittedAt: now},
		},
	}
	resolvedAt := now
	rfcs := []*knowledge.RFC{
		{ID: "RFC-001", Status: knowledge.RFCOpen, SemanticScope: "billing", HumanResponseDeadline: now.Add(-time.Hour)},
		{ID: "RFC-002", Status: knowledge.RFCResolved, ResolvedAt: &resolvedAt, HumanResponseDeadline: now.Add(-time.Hour)},
	}
	sessions := []*knowledge.SessionLog{{ID: "session-0002", StopReason: "queue empty"}, {ID: "session-0001"}}

	d := Compose(snap, rfcs, sessions, now, Options{TopN: 2, ReviewThreshold: 5})

	if len(d.Top) != 2 || d.Top[0].Record.ID != "state_3" {
		t.Errorf("Top = %v, want contested record first and length 2", d.Top)
	}
	if len(d.ReviewDue) != 1 || d.ReviewDue[0].ID != "state_1" {
		t.Errorf("ReviewDue = %v, want [state_1]", d.ReviewDue)
	}
	if len(d.Pending) != 1 {
		t.Errorf("Pending = %d, want 1", len(d.Pending))
	}
	if len(d.OpenRFCs) != 1 || len(d.Overdue) != 1 || d.Overdue[0].ID != "RFC-001" {
		t.Errorf("OpenRFCs = %v, Overdue = %v", d.OpenRFCs, d.Overdue)
	}
	if d.LastSession == nil || d.LastSession.ID != "session-0002" {
		t.Errorf("LastSession = %v, want session-0002", d.LastSession)
	}

	var buf bytes.Buffer
	if err := Render(&buf, d, ui.Plain()); err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	out := buf.String()
	for _, want := range []string{"# arbiter digest", "RFC-001", "c.go", "Due for bulk review", "session-0002", "queue empty"} {
		if !strings.Contains(out, want) {
			t.Errorf("Render() output missing %q:\n%s", want, out)
		}
	}
}

func TestLoadFirstRun(t *testing.T) {
	store := knowledge.NewFileStore(t.TempDir())
	d, err := Load(context.Background(), store, now, Options{TopN: 5, ReviewThreshold: 5})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !d.Empty() {
		t.Errorf("Load() on empty store = %+v, want empty digest", d)
	}

	var buf bytes.Buffer
	if err := Render(&buf, d, ui.Plain()); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "Nothing needs attention") {
		t.Errorf("empty digest output = %q", buf.String())
	}
}
