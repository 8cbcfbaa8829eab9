// SPDX-License-Identifier: GPL-3.0-or-later
package analysis

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/mailtriage/go-mail-triage/domain"
	"github.com/mailtriage/go-mail-triage/log"

	"github.com/sirupsen/logrus"
)

const (
	MaxAttempts = 3
	baseBackoff = 200 * time.Millisecond
)

// Report is the gateway's best-effort answer for one message. A type missing
// from Result but present in TypeErrors failed; a type missing from both was
// not requested.
type Report struct {
	Result        domain.AnalysisResult          `json:"analysis"`
	TypeErrors    map[domain.AnalysisType]string `json:"partial_errors,omitempty"`
	RuleName      string                         `json:"rule_name,omitempty"`
	LowConfidence bool                           `json:"low_confidence,omitempty"`
}

// Gateway wraps the opaque scorer with retry, normalization and fusion with
// the rule matcher's verdict.
type Gateway struct {
	scorer              domain.Scorer
	confidenceThreshold float64
	sleep               func(ctx context.Context, d time.Duration) error

	l *logrus.Logger
}

func NewGateway(scorer domain.Scorer, confidenceThreshold float64) (*Gateway, error) {
	if scorer == nil {
		return nil, fmt.Errorf("scorer must not be nil")
	}

	return &Gateway{
		scorer:              scorer,
		confidenceThreshold: confidenceThreshold,
		sleep:               sleepCtx,
		l:                   log.Logger(log.LOG_ANALYSIS),
	}, nil
}

// Analyze scores msg for the requested types and fuses the scorer output with
// verdict (nil when no rule fired). Partial scorer output degrades to a
// best-effort report with per-type errors; only a full scorer outage with no
// rule contribution fails the call, with domain.ErrAnalysisUnavailable.
func (g *Gateway) Analyze(ctx context.Context, msg *domain.Message, types []domain.AnalysisType, verdict *domain.RuleVerdict) (*Report, error) {
	if len(types) == 0 {
		return nil, fmt.Errorf("%w: no analysis types requested", domain.ErrValidation)
	}
	for _, t := range types {
		if !domain.ValidAnalysisType(t) {
			return nil, fmt.Errorf("%w: unknown analysis type %q", domain.ErrValidation, t)
		}
	}

	scored, scoreErr := g.scoreWithRetry(ctx, msg, types)

	report := &Report{TypeErrors: map[domain.AnalysisType]string{}}
	if verdict != nil {
		report.RuleName = verdict.RuleName
	}

	// A fired rule only ever contributes the category field, so it carries
	// weight just when that field was actually requested.
	ruleContributes := verdict != nil && wantsCategory(types)

	if scoreErr != nil {
		if !ruleContributes {
			return nil, fmt.Errorf("scorer unavailable for %q: %w", msg.ID, domain.ErrAnalysisUnavailable)
		}

		// The rule matcher still carries the call: category comes from the
		// fired rule at full certainty, everything else is reported failed.
		g.l.WithFields(logrus.Fields{"id": msg.ID, "rule": verdict.RuleName, "error": scoreErr}).Warn("Scorer unavailable, degrading to rule-only result")
		for _, t := range types {
			if t == domain.AnalyzeCategory {
				report.Result.SetField(t, verdict.RuleName)
				continue
			}
			report.TypeErrors[t] = domain.ErrAnalysisUnavailable.Error()
		}
		report.Result.Confidence = 1.0
		return report, nil
	}

	for _, t := range types {
		value := scored.Field(t)
		if value != nil {
			report.Result.SetField(t, *value)
			continue
		}

		// A fired rule backfills the category when the scorer stayed silent.
		if t == domain.AnalyzeCategory && verdict != nil {
			report.Result.SetField(t, verdict.RuleName)
			continue
		}

		report.TypeErrors[t] = "scorer returned no value for requested type"
	}

	report.Result.Confidence = fuseConfidence(ruleContributes, scored.Confidence)
	report.LowConfidence = report.Result.Confidence < g.confidenceThreshold
	if report.LowConfidence {
		g.l.WithFields(logrus.Fields{"id": msg.ID, "confidence": report.Result.Confidence, "threshold": g.confidenceThreshold}).Debug("Confidence below threshold")
	}

	return report, nil
}

func (g *Gateway) scoreWithRetry(ctx context.Context, msg *domain.Message, types []domain.AnalysisType) (*domain.AnalysisResult, error) {
	var lastErr error
	for attempt := 0; attempt < MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := g.sleep(ctx, backoffDelay(attempt)); err != nil {
				return nil, err
			}
		}

		result, err := g.scorer.Score(ctx, msg, types)
		if err == nil && result != nil {
			return result, nil
		}
		if err == nil {
			err = fmt.Errorf("scorer returned no result")
		}

		lastErr = err
		g.l.WithFields(logrus.Fields{"id": msg.ID, "attempt": attempt + 1, "error": err}).Debug("Scorer attempt failed")
	}

	return nil, fmt.Errorf("scorer failed after %d attempts: %w", MaxAttempts, lastErr)
}

// fuseConfidence averages the rule matcher's full certainty with the
// scorer's own confidence when both contributed to the category field. With
// a single contributor the confidence passes through unchanged.
func fuseConfidence(ruleContributed bool, scorerConfidence float64) float64 {
	if !ruleContributed {
		return scorerConfidence
	}

	return (1.0 + scorerConfidence) / 2
}

func wantsCategory(types []domain.AnalysisType) bool {
	for _, t := range types {
		if t == domain.AnalyzeCategory {
			return true
		}
	}
	return false
}

// backoffDelay is exponential with jitter so concurrent retries against a
// struggling scorer don't line up.
func backoffDelay(attempt int) time.Duration {
	backoff := baseBackoff << (attempt - 1)
	jitter := time.Duration(rand.Int63n(int64(backoff) / 2))
	return backoff + jitter
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
