// SPDX-License-Identifier: GPL-3.0-or-later
package keyword

import (
	"context"
	"strings"

	"github.com/mailtriage/go-mail-triage/domain"
)

const summaryMaxLen = 140

var (
	highPriorityWords = []string{"urgent", "asap", "immediately", "deadline", "action required", "overdue"}
	lowPriorityWords  = []string{"newsletter", "unsubscribe", "no reply", "digest", "fyi"}

	positiveWords = []string{"thank", "great", "congratulations", "appreciate", "glad", "happy"}
	negativeWords = []string{"complaint", "problem", "issue", "unacceptable", "disappointed", "angry", "refund"}

	categoryWords = map[string][]string{
		"finance":    {"invoice", "payment", "billing", "receipt", "statement"},
		"scheduling": {"meeting", "calendar", "appointment", "invite", "reschedule"},
		"newsletter": {"newsletter", "unsubscribe", "digest"},
		"support":    {"ticket", "support", "helpdesk", "incident"},
	}
)

// Scorer is the built-in local analysis backend: keyword heuristics over
// subject and body excerpt. It never fails and answers every requested type,
// which makes it the fallback when no remote scorer is configured.
type Scorer struct{}

func NewScorer() *Scorer {
	return &Scorer{}
}

func (s *Scorer) Score(_ context.Context, msg *domain.Message, types []domain.AnalysisType) (*domain.AnalysisResult, error) {
	text := strings.ToLower(msg.Subject + "\n" + msg.BodyExcerpt)

	result := &domain.AnalysisResult{}
	hits := 0
	for _, t := range types {
		switch t {
		case domain.AnalyzePriority:
			value, hit := pick(text, highPriorityWords, "high", lowPriorityWords, "low", "medium")
			result.SetField(t, value)
			hits += hit
		case domain.AnalyzeSentiment:
			value, hit := pick(text, positiveWords, "positive", negativeWords, "negative", "neutral")
			result.SetField(t, value)
			hits += hit
		case domain.AnalyzeCategory:
			value, hit := category(text)
			result.SetField(t, value)
			hits += hit
		case domain.AnalyzeSummary:
			result.SetField(t, summarize(msg))
		}
	}

	// Confidence grows with the number of keyword signals that actually
	// fired; a run on defaults only stays at the floor.
	confidence := 0.5 + 0.15*float64(hits)
	if confidence > 0.95 {
		confidence = 0.95
	}
	result.Confidence = confidence

	return result, nil
}

func pick(text string, firstWords []string, first string, secondWords []string, second, fallback string) (string, int) {
	if containsAny(text, firstWords) {
		return first, 1
	}
	if containsAny(text, secondWords) {
		return second, 1
	}
	return fallback, 0
}

func category(text string) (string, int) {
	best, bestHits := "general", 0
	for name, words := range categoryWords {
		hitCount := 0
		for _, w := range words {
			if strings.Contains(text, w) {
				hitCount++
			}
		}
		if hitCount > bestHits || (hitCount == bestHits && hitCount > 0 && name < best) {
			best, bestHits = name, hitCount
		}
	}

	if bestHits == 0 {
		return "general", 0
	}
	return best, 1
}

func summarize(msg *domain.Message) string {
	text := strings.TrimSpace(msg.BodyExcerpt)
	if len(text) == 0 {
		text = strings.TrimSpace(msg.Subject)
	}
	text = strings.Join(strings.Fields(text), " ")

	if len(text) > summaryMaxLen {
		text = text[:summaryMaxLen] + "..."
	}
	return text
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}
