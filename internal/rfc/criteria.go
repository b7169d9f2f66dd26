package rfc

import (
	"context"

	"github.com/Iron-Ham/arbiter/internal/knowledge"
	"github.com/Iron-Ham/arbiter/internal/logging"
)

// CheckTypeTest marks criteria satisfied by a CI verification run.
const CheckTypeTest = "test"

// MarkCriteria updates every open RFC's test criteria whose check_reference
// equals testRef to passed or failed, and returns the ids of the RFCs it
// rewrote.
func MarkCriteria(ctx context.Context, store knowledge.RFCStore, testRef string, passed bool, logger *logging.Logger) ([]string, error) {
	if logger == nil {
		logger = logging.NopLogger()
	}
	rfcs, err := store.ListRFCs(ctx)
	if err != nil {
		return nil, err
	}

	status := knowledge.CriterionFailed
	if passed {
		status = knowledge.CriterionPassed
	}

	var updated []string
	for _, r := range rfcs {
		if r.Status != knowledge.RFCOpen {
			continue
		}
		changed := false
		for i := range r.AcceptanceCriteria {
			ac := &r.AcceptanceCriteria[i]
			if ac.CheckType != CheckTypeTest || ac.CheckReference != testRef || ac.Status == status {
				continue
			}
			ac.Status = status
			changed = true
		}
		if !changed {
			continue
		}
		if err := store.WriteRFC(ctx, r); err != nil {
			return updated, err
		}
		logger.Info("acceptance criteria updated", "rfc_id", r.ID, "test_reference", testRef, "status", status)
		updated = append(updated, r.ID)
	}
	return updated, nil
}
