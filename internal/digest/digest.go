package digest

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/Iron-Ham/arbiter/internal/errors"
	"github.com/Iron-Ham/arbiter/internal/knowledge"
	"github.com/Iron-Ham/arbiter/internal/rfc"
	"github.com/Iron-Ham/arbiter/internal/ui"
)

// Options controls composition.
type Options struct {
	TopN            int
	ReviewThreshold int
}

// Digest is the summary of everything waiting on a human.
type Digest struct {
	GeneratedAt time.Time
	Top         []Entry
	ReviewDue   []knowledge.StateRecord
	Pending     []knowledge.Proposal
	OpenRFCs    []*knowledge.RFC
	Overdue     []rfc.Overdue
	// LastSession is the most recent handoff log, read-only context.
	LastSession *knowledge.SessionLog
}

// Empty reports whether the digest has nothing to report.
func (d *Digest) Empty() bool {
	return len(d.Top) == 0 && len(d.ReviewDue) == 0 && len(d.Pending) == 0 && len(d.OpenRFCs) == 0
}

// Compose builds a digest from already-loaded documents.
func Compose(snap *knowledge.Snapshot, rfcs []*knowledge.RFC, sessions []*knowledge.SessionLog, now time.Time, opts Options) *Digest {
	if snap == nil {
		snap = &knowledge.Snapshot{}
	}
	d := &Digest{GeneratedAt: now.UTC()}

	d.Top = Rank(snap.State)
	if opts.TopN > 0 && len(d.Top) > opts.TopN {
		d.Top = d.Top[:opts.TopN]
	}
	if opts.ReviewThreshold > 0 {
		d.ReviewDue = snap.ReviewDue(opts.ReviewThreshold)
	}
	d.Pending = snap.Pending()

	for _, r := range rfcs {
		if r.Status == knowledge.RFCOpen {
			d.OpenRFCs = append(d.OpenRFCs, r)
		}
	}
	d.Overdue = rfc.OverdueRFCs(rfcs, now)

	for _, l := range sessions {
		if d.LastSession == nil || l.ID > d.LastSession.ID {
			d.LastSession = l
		}
	}
	return d
}

// Source is what Load reads from.
type Source interface {
	knowledge.Store
	knowledge.RFCStore
	knowledge.SessionLogStore
}

// Load reads the store and composes a digest. A missing knowledge document
// yields an empty digest.
func Load(ctx context.Context, src Source, now time.Time, opts Options) (*Digest, error) {
	snap, rfcs, sessions, err := read(ctx, src)
	if err != nil {
		return nil, err
	}
	return Compose(snap, rfcs, sessions, now, opts), nil
}

// LoadStatus reads the store and summarizes it.
func LoadStatus(ctx context.Context, src Source, now time.Time) (*Status, error) {
	snap, rfcs, sessions, err := read(ctx, src)
	if err != nil {
		return nil, err
	}
	return Summarize(snap, rfcs, sessions, now), nil
}

func read(ctx context.Context, src Source) (*knowledge.Snapshot, []*knowledge.RFC, []*knowledge.SessionLog, error) {
	snap, err := src.Read(ctx)
	if err != nil {
		if !errors.IsNotFound(err) {
			return nil, nil, nil, err
		}
		snap = &knowledge.Snapshot{}
	}
	rfcs, err := src.ListRFCs(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	sessions, err := src.ListSessionLogs(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	return snap, rfcs, sessions, nil
}

// Render writes d as markdown, styled with s.
func Render(w io.Writer, d *Digest, s ui.Styles) error {
	var sb strings.Builder
	line := func(format string, args ...any) {
		fmt.Fprintf(&sb, format, args...)
		sb.WriteString("\n")
	}

	line("%s", s.Title.Render("# arbiter digest "+d.GeneratedAt.Format("2006-01-02 15:04 MST")))
	if d.Empty() {
		line("")
		line("%s", s.OK.Render("Nothing needs attention."))
	}

	if len(d.Overdue) > 0 {
		line("")
		line("%s", s.Section.Render("## Overdue RFCs (scope paused)"))
		for _, o := range d.Overdue {
			line("- %s scope %q overdue by %s", s.Error.Render(o.ID), o.Scope, o.OverdueBy.Round(time.Minute))
		}
	}

	if len(d.OpenRFCs) > 0 {
		line("")
		line("%s", s.Section.Render("## Open RFCs"))
		for _, r := range d.OpenRFCs {
			line("- %s %s (due %s, %d/%d criteria met)", s.Warning.Render(r.ID), r.DecisionRequired,
				r.HumanResponseDeadline.Format(time.RFC3339),
				len(r.AcceptanceCriteria)-len(r.UnmetCriteria()), len(r.AcceptanceCriteria))
		}
	}

	if len(d.Top) > 0 {
		line("")
		line("%s", s.Section.Render("## Records needing attention"))
		for _, e := range d.Top {
			line("- %s %s %s: %s", s.Accent.Render(fmt.Sprintf("[%d]", e.Score)), e.Record.Path,
				s.Muted.Render("("+e.Record.UncertaintyLevel.String()+")"), strings.Join(e.Reasons, ", "))
		}
	}

	if len(d.ReviewDue) > 0 {
		line("")
		line("%s", s.Section.Render("## Due for bulk review"))
		for _, r := range d.ReviewDue {
			line("- %s (%d changes, owner %s)", r.Path, r.ChangeCountSinceReview, orDash(r.OwnedBy))
		}
	}

	if len(d.Pending) > 0 {
		line("")
		line("%s", s.Section.Render(fmt.Sprintf("## Pending proposals (%d)", len(d.Pending))))
		for _, p := range d.Pending {
			line("- %s %s by %s", p.ProposalID, p.Path, p.AgentID)
		}
	}

	if l := d.LastSession; l != nil {
		line("")
		line("%s", s.Section.Render("## Last session"))
		line("- %s: %d reviewed, stopped: %s", l.ID, l.ProposalsReviewed, orDash(l.StopReason))
		if len(l.TrippedAgents) > 0 {
			line("- tripped agents: %s", s.Error.Render(strings.Join(l.TrippedAgents, ", ")))
		}
		if len(l.Escalations) > 0 {
			line("- escalations: %d", len(l.Escalations))
		}
		if l.Emergency {
			line("- %s %s", s.Error.Render("ended in emergency:"), l.Error)
		}
	}

	_, err := io.WriteString(w, sb.String())
	return err
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
