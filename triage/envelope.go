// SPDX-License-Identifier: GPL-3.0-or-later
package triage

import (
	"time"

	"github.com/mailtriage/go-mail-triage/analysis"
	"github.com/mailtriage/go-mail-triage/domain"
)

// Wire envelopes for the four tool operations. Field names are the stable
// contract consumed by the dispatcher's callers.

type AnalyzeResponse struct {
	EmailID    string                         `json:"email_id"`
	Subject    string                         `json:"subject"`
	Analysis   domain.AnalysisResult          `json:"analysis"`
	TypeErrors map[domain.AnalysisType]string `json:"partial_errors,omitempty"`
	RuleName   string                         `json:"rule_name,omitempty"`
	Confidence float64                        `json:"confidence"`
	AnalyzedAt time.Time                      `json:"analyzed_at"`
}

type ClassifyResponse struct {
	ClassificationType domain.AnalysisType `json:"classification_type"`
	domain.BatchResult
}

// ClassificationPayload is the per-item payload of a classify outcome.
type ClassificationPayload struct {
	Subject        string  `json:"subject"`
	Classification string  `json:"classification"`
	Confidence     float64 `json:"confidence"`
	RuleName       string  `json:"rule_name,omitempty"`
	LowConfidence  bool    `json:"low_confidence,omitempty"`
}

type ActionResponse struct {
	Action domain.Action `json:"action"`
	domain.BatchResult
}

type SearchResponse struct {
	Query        string               `json:"query"`
	Filters      domain.SearchFilters `json:"filters"`
	TotalResults int                  `json:"total_results"`
	Results      []SearchHit          `json:"results"`
	SearchedAt   time.Time            `json:"searched_at"`
}

type SearchHit struct {
	EmailID        string          `json:"email_id"`
	Subject        string          `json:"subject"`
	Sender         string          `json:"sender"`
	ReceivedAt     time.Time       `json:"received_at"`
	IsUnread       bool            `json:"is_unread"`
	HasAttachments bool            `json:"has_attachments"`
	Analysis       *analysis.Report `json:"analysis,omitempty"`
}
