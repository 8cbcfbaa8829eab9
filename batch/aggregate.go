// SPDX-License-Identifier: GPL-3.0-or-later
package batch

import (
	"github.com/mailtriage/go-mail-triage/domain"

	"time"
)

// Aggregate merges per-item outcomes into the response envelope. It is a pure
// function: outcomes are re-keyed by id and emitted in the original input id
// order regardless of completion order, so concurrent runs stay reproducible.
// Duplicate ids are matched positionally.
func Aggregate(ids []string, outcomes []domain.BatchItemOutcome, startedAt, finishedAt time.Time) *domain.BatchResult {
	byID := make(map[string][]domain.BatchItemOutcome, len(outcomes))
	for _, o := range outcomes {
		byID[o.ItemID] = append(byID[o.ItemID], o)
	}

	ordered := make([]domain.BatchItemOutcome, 0, len(ids))
	succeeded, failed := 0, 0
	for _, id := range ids {
		queue := byID[id]
		if len(queue) == 0 {
			// No recorded outcome means the item never ran; the contract
			// still guarantees one outcome per input id.
			ordered = append(ordered, domain.BatchItemOutcome{
				ItemID:    id,
				ErrorKind: domain.KindCancelled,
				Error:     "no outcome recorded for item",
			})
			failed++
			continue
		}

		outcome := queue[0]
		byID[id] = queue[1:]
		ordered = append(ordered, outcome)
		if outcome.Success {
			succeeded++
		} else {
			failed++
		}
	}

	return &domain.BatchResult{
		TotalRequested: len(ids),
		TotalSucceeded: succeeded,
		TotalFailed:    failed,
		Outcomes:       ordered,
		StartedAt:      startedAt,
		FinishedAt:     finishedAt,
	}
}
