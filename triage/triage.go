// SPDX-License-Identifier: GPL-3.0-or-later
package triage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mailtriage/go-mail-triage/analysis"
	"github.com/mailtriage/go-mail-triage/batch"
	"github.com/mailtriage/go-mail-triage/domain"
	"github.com/mailtriage/go-mail-triage/executor"
	"github.com/mailtriage/go-mail-triage/log"
	"github.com/mailtriage/go-mail-triage/mail"
	"github.com/mailtriage/go-mail-triage/ratelimit"
	"github.com/mailtriage/go-mail-triage/rules"

	"github.com/sirupsen/logrus"
)

var defaultAnalysisTypes = []domain.AnalysisType{
	domain.AnalyzeSentiment,
	domain.AnalyzePriority,
	domain.AnalyzeCategory,
	domain.AnalyzeSummary,
}

// Triage wires the rule matcher, analysis gateway, batch scheduler and
// action executor into the four tool operations the dispatcher exposes.
type Triage struct {
	store     domain.MailStore
	matcher   *rules.Matcher
	gateway   *analysis.Gateway
	scheduler *batch.Scheduler
	executor  *executor.Executor
	budget    *ratelimit.Budget

	configuration *configuration

	l *logrus.Logger
}

func NewTriage(store domain.MailStore, matcher *rules.Matcher, gateway *analysis.Gateway, scheduler *batch.Scheduler, exec *executor.Executor, budget *ratelimit.Budget, configFunc ...ConfigFunc) (*Triage, error) {
	config := &configuration{
		MaxBatchIDs:  DefaultMaxBatchIDs,
		SubBatchSize: DefaultSubBatchSize,
	}
	for _, f := range configFunc {
		err := f(config)
		if err != nil {
			return nil, fmt.Errorf("error applying configuration: %w", err)
		}
	}

	return &Triage{
		store:         store,
		matcher:       matcher,
		gateway:       gateway,
		scheduler:     scheduler,
		executor:      exec,
		budget:        budget,
		configuration: config,
		l:             log.Logger(log.LOG_TRIAGE),
	}, nil
}

// Analyze runs the requested analysis types against a single message.
// An empty type list means all types.
func (t *Triage) Analyze(ctx context.Context, id string, types []domain.AnalysisType) (*AnalyzeResponse, error) {
	if len(id) == 0 {
		return nil, fmt.Errorf("%w: email_id is required", domain.ErrValidation)
	}
	if len(types) == 0 {
		types = defaultAnalysisTypes
	}

	if err := t.budget.Acquire(ctx); err != nil {
		return nil, err
	}
	msg, err := t.store.Fetch(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("could not fetch %q: %w", id, err)
	}

	verdict := t.matcher.Match(ctx, msg)
	report, err := t.gateway.Analyze(ctx, msg, types, verdict)
	if err != nil {
		return nil, err
	}

	t.l.WithFields(logrus.Fields{"id": id, "subject": mail.ShortSubject(msg.Subject), "types": types, "confidence": report.Result.Confidence}).Info("Analyzed mail")
	return &AnalyzeResponse{
		EmailID:    id,
		Subject:    msg.Subject,
		Analysis:   report.Result,
		TypeErrors: report.TypeErrors,
		RuleName:   report.RuleName,
		Confidence: report.Result.Confidence,
		AnalyzedAt: time.Now().UTC(),
	}, nil
}

// Classify runs one classification type over a batch of ids. The whole call
// fails only on malformed input; per-item failures land in the outcome list.
func (t *Triage) Classify(ctx context.Context, ids []string, classificationType domain.AnalysisType, batchSize int) (*ClassifyResponse, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: email_ids list is required", domain.ErrValidation)
	}
	switch classificationType {
	case domain.AnalyzeCategory, domain.AnalyzePriority, domain.AnalyzeSentiment:
	case "":
		classificationType = domain.AnalyzeCategory
	default:
		return nil, fmt.Errorf("%w: unsupported classification type %q", domain.ErrValidation, classificationType)
	}

	if batchSize == 0 {
		batchSize = t.configuration.SubBatchSize
	}

	result, err := t.scheduler.Run(ctx, ids, t.classifyOp(classificationType), batch.Options{
		MaxIDs:       t.configuration.MaxBatchIDs,
		SubBatchSize: batchSize,
	})
	if err != nil {
		return nil, err
	}

	t.l.WithFields(logrus.Fields{"type": classificationType, "requested": result.TotalRequested, "ok": result.TotalSucceeded}).Info("Classified mails")
	return &ClassifyResponse{
		ClassificationType: classificationType,
		BatchResult:        *result,
	}, nil
}

func (t *Triage) classifyOp(classificationType domain.AnalysisType) batch.ItemOp {
	return func(ctx context.Context, id string) (json.RawMessage, error) {
		msg, err := t.store.Fetch(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("could not fetch %q: %w", id, err)
		}

		verdict := t.matcher.Match(ctx, msg)
		report, err := t.gateway.Analyze(ctx, msg, []domain.AnalysisType{classificationType}, verdict)
		if err != nil {
			return nil, err
		}

		value := report.Result.Field(classificationType)
		classification := ""
		if value != nil {
			classification = *value
		}

		return json.Marshal(ClassificationPayload{
			Subject:        msg.Subject,
			Classification: classification,
			Confidence:     report.Result.Confidence,
			RuleName:       report.RuleName,
			LowConfidence:  report.LowConfidence,
		})
	}
}

// Action applies one mutating action to a batch of ids. Parameter
// preconditions are checked before any scheduling so a missing label_ids
// rejects the whole call without remote work.
func (t *Triage) Action(ctx context.Context, ids []string, action domain.Action, params domain.ActionParams) (*ActionResponse, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: email_ids list is required", domain.ErrValidation)
	}
	if err := executor.ValidateAction(action, params); err != nil {
		return nil, err
	}

	op := func(ctx context.Context, id string) (json.RawMessage, error) {
		err := t.executor.Apply(ctx, action, id, params)
		if err != nil {
			return nil, err
		}
		return json.Marshal(map[string]string{"action": string(action)})
	}

	result, err := t.scheduler.Run(ctx, ids, op, batch.Options{
		MaxIDs:       t.configuration.MaxBatchIDs,
		SubBatchSize: t.configuration.SubBatchSize,
	})
	if err != nil {
		return nil, err
	}

	t.l.WithFields(logrus.Fields{"action": action, "requested": result.TotalRequested, "ok": result.TotalSucceeded}).Info("Executed actions")
	return &ActionResponse{
		Action:      action,
		BatchResult: *result,
	}, nil
}

// Search queries the remote store and optionally annotates each hit with a
// best-effort category/priority analysis. Analysis failures are logged and
// leave the hit unannotated rather than failing the search.
func (t *Triage) Search(ctx context.Context, query string, filters domain.SearchFilters, limit int, includeAnalysis bool) (*SearchResponse, error) {
	if limit == 0 {
		limit = DefaultSearchLimit
	}
	if limit < 0 || limit > SearchLimitCeiling {
		return nil, fmt.Errorf("%w: limit must be between 1 and %d", domain.ErrValidation, SearchLimitCeiling)
	}

	if err := t.budget.Acquire(ctx); err != nil {
		return nil, err
	}
	messages, err := t.store.Search(ctx, query, filters, limit)
	if err != nil {
		return nil, fmt.Errorf("could not search mails: %w", err)
	}

	hits := make([]SearchHit, 0, len(messages))
	for _, msg := range messages {
		hit := SearchHit{
			EmailID:        msg.ID,
			Subject:        msg.Subject,
			Sender:         msg.Sender,
			ReceivedAt:     msg.ReceivedAt,
			IsUnread:       msg.IsUnread,
			HasAttachments: msg.HasAttachments,
		}

		if includeAnalysis {
			verdict := t.matcher.Match(ctx, msg)
			report, err := t.gateway.Analyze(ctx, msg, []domain.AnalysisType{domain.AnalyzeCategory, domain.AnalyzePriority}, verdict)
			if err != nil {
				t.l.WithFields(logrus.Fields{"id": msg.ID, "error": err}).Warn("Could not analyze search hit")
			} else {
				hit.Analysis = report
			}
		}

		hits = append(hits, hit)
	}

	t.l.WithFields(logrus.Fields{"query": query, "results": len(hits), "analysis": includeAnalysis}).Info("Searched mails")
	return &SearchResponse{
		Query:        query,
		Filters:      filters,
		TotalResults: len(hits),
		Results:      hits,
		SearchedAt:   time.Now().UTC(),
	}, nil
}
