package rfc

import (
	"context"
	"strings"
	"time"

	"github.com/Iron-Ham/arbiter/internal/errors"
	"github.com/Iron-Ham/arbiter/internal/knowledge"
)

// Resolve records a human's choice on an open RFC. The option must be one
// the RFC offers. Resolved RFCs no longer count as overdue.
func Resolve(ctx context.Context, store knowledge.RFCStore, id, optionID, note string, now time.Time) (*knowledge.RFC, error) {
	r, err := store.ReadRFC(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Status == knowledge.RFCResolved {
		return nil, errors.Wrapf(errors.ErrAlreadyDecided, "%s already resolved as %q", id, r.Resolution)
	}

	var valid []string
	found := false
	for _, o := range r.Options {
		valid = append(valid, o.OptionID)
		if o.OptionID == optionID {
			found = true
		}
	}
	if !found {
		return nil, errors.NewValidationError("rfc resolution",
			"unknown option "+optionID+" (valid: "+strings.Join(valid, ", ")+")")
	}

	resolvedAt := now.UTC()
	r.Status = knowledge.RFCResolved
	r.Resolution = optionID
	r.ResolutionNote = note
	r.ResolvedAt = &resolvedAt
	if err := store.WriteRFC(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}
