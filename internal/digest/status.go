package digest

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/Iron-Ham/arbiter/internal/knowledge"
	"github.com/Iron-Ham/arbiter/internal/rfc"
	"github.com/Iron-Ham/arbiter/internal/ui"
)

// Status is a point-in-time count of the knowledge store.
type Status struct {
	Proposals map[knowledge.ProposalStatus]int
	// Levels counts state records per uncertainty level.
	Levels    map[knowledge.UncertaintyLevel]int
	Contested []string
	OpenRFCs  int
	Overdue   []rfc.Overdue
	// LastSession is the most recent handoff log, nil before the first run.
	LastSession *knowledge.SessionLog
}

// Summarize counts proposals by status and records by level.
func Summarize(snap *knowledge.Snapshot, rfcs []*knowledge.RFC, sessions []*knowledge.SessionLog, now time.Time) *Status {
	st := &Status{
		Proposals: make(map[knowledge.ProposalStatus]int),
		Levels:    make(map[knowledge.UncertaintyLevel]int),
	}
	if snap != nil {
		for _, p := range snap.Queue {
			st.Proposals[p.Status]++
		}
		for _, r := range snap.State {
			st.Levels[r.UncertaintyLevel]++
			if r.UncertaintyLevel == knowledge.LevelContested {
				st.Contested = append(st.Contested, r.Path)
			}
		}
	}
	slices.Sort(st.Contested)
	for _, r := range rfcs {
		if r.Status == knowledge.RFCOpen {
			st.OpenRFCs++
		}
	}
	st.Overdue = rfc.OverdueRFCs(rfcs, now)
	for _, l := range sessions {
		if st.LastSession == nil || l.ID > st.LastSession.ID {
			st.LastSession = l
		}
	}
	return st
}

var statusOrder = []knowledge.ProposalStatus{
	knowledge.StatusPending,
	knowledge.StatusAutoApprove,
	knowledge.StatusApproved,
	knowledge.StatusRejected,
	knowledge.StatusEscalated,
	knowledge.StatusRFC,
}

// RenderStatus writes st as a short report.
func RenderStatus(w io.Writer, st *Status, s ui.Styles) error {
	var sb strings.Builder

	sb.WriteString(s.Title.Render("arbiter status") + "\n\n")

	sb.WriteString(s.Section.Render("Queue") + "\n")
	for _, status := range statusOrder {
		fmt.Fprintf(&sb, "  %-13s %d\n", s.Decision(string(status)).Render(string(status)), st.Proposals[status])
	}

	sb.WriteString("\n" + s.Section.Render("State records") + "\n")
	for lvl := knowledge.LevelVerified; lvl <= knowledge.LevelContested; lvl++ {
		fmt.Fprintf(&sb, "  %-13s %d\n", lvl.String(), st.Levels[lvl])
	}
	if len(st.Contested) > 0 {
		fmt.Fprintf(&sb, "  %s %s\n", s.Error.Render("contested:"), strings.Join(st.Contested, ", "))
	}

	sb.WriteString("\n" + s.Section.Render("RFCs") + "\n")
	fmt.Fprintf(&sb, "  open          %d\n", st.OpenRFCs)
	for _, o := range st.Overdue {
		fmt.Fprintf(&sb, "  %s %s overdue by %s, scope %q paused\n", s.Error.Render("!"), o.ID,
			o.OverdueBy.Round(time.Minute), o.Scope)
	}

	if l := st.LastSession; l != nil {
		sb.WriteString("\n" + s.Section.Render("Last session") + "\n")
		fmt.Fprintf(&sb, "  %s ended %s: %s, %d reviewed\n", l.ID, l.EndedAt.Format(time.RFC3339),
			orDash(l.StopReason), l.ProposalsReviewed)
		if l.Emergency {
			fmt.Fprintf(&sb, "  %s %s\n", s.Error.Render("emergency:"), l.Error)
		}
	}

	_, err := io.WriteString(w, sb.String())
	return err
}
