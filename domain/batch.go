// SPDX-License-Identifier: GPL-3.0-or-later
package domain

import (
	"encoding/json"
	"time"
)

// BatchItemOutcome is the per-item record of a batch run. Exactly one outcome
// exists per input id regardless of sibling failures.
type BatchItemOutcome struct {
	ItemID    string          `json:"item_id"`
	Success   bool            `json:"success"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	ErrorKind ErrorKind       `json:"error_kind,omitempty"`
	Error     string          `json:"error,omitempty"`
	Duration  time.Duration   `json:"duration_ns"`
}

// BatchResult aggregates a whole batch run. Invariant:
// TotalSucceeded + TotalFailed == TotalRequested == len(Outcomes), with
// Outcomes ordered by the original input id sequence.
type BatchResult struct {
	TotalRequested int                `json:"total_requested"`
	TotalSucceeded int                `json:"total_succeeded"`
	TotalFailed    int                `json:"total_failed"`
	Outcomes       []BatchItemOutcome `json:"outcomes"`
	StartedAt      time.Time          `json:"started_at"`
	FinishedAt     time.Time          `json:"finished_at"`
}
