// SPDX-License-Identifier: GPL-3.0-or-later
package domain

import "context"

type AnalysisType string

const (
	AnalyzeSentiment = AnalysisType("sentiment")
	AnalyzePriority  = AnalysisType("priority")
	AnalyzeCategory  = AnalysisType("category")
	AnalyzeSummary   = AnalysisType("summary")
)

func ValidAnalysisType(t AnalysisType) bool {
	switch t {
	case AnalyzeSentiment, AnalyzePriority, AnalyzeCategory, AnalyzeSummary:
		return true
	}
	return false
}

// AnalysisResult holds per-type values for one message. A nil field means the
// type was either not requested or failed; callers distinguish the two via
// the gateway's per-type error list.
type AnalysisResult struct {
	Category   *string `json:"category,omitempty"`
	Priority   *string `json:"priority,omitempty"`
	Sentiment  *string `json:"sentiment,omitempty"`
	Summary    *string `json:"summary,omitempty"`
	Confidence float64 `json:"confidence"`
}

// Field returns the value the result carries for t, or nil.
func (r *AnalysisResult) Field(t AnalysisType) *string {
	switch t {
	case AnalyzeCategory:
		return r.Category
	case AnalyzePriority:
		return r.Priority
	case AnalyzeSentiment:
		return r.Sentiment
	case AnalyzeSummary:
		return r.Summary
	}
	return nil
}

// SetField stores v as the value for t.
func (r *AnalysisResult) SetField(t AnalysisType, v string) {
	switch t {
	case AnalyzeCategory:
		r.Category = &v
	case AnalyzePriority:
		r.Priority = &v
	case AnalyzeSentiment:
		r.Sentiment = &v
	case AnalyzeSummary:
		r.Summary = &v
	}
}

// Scorer is the opaque analysis backend. A backend may answer a subset of the
// requested types; unanswered types are handled by the gateway.
type Scorer interface {
	Score(ctx context.Context, msg *Message, types []AnalysisType) (*AnalysisResult, error)
}
