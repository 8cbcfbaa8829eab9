// SPDX-License-Identifier: GPL-3.0-or-later
package triage

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/mailtriage/go-mail-triage/analysis"
	"github.com/mailtriage/go-mail-triage/analysis/keyword"
	"github.com/mailtriage/go-mail-triage/batch"
	"github.com/mailtriage/go-mail-triage/domain"
	"github.com/mailtriage/go-mail-triage/executor"
	"github.com/mailtriage/go-mail-triage/log"
	"github.com/mailtriage/go-mail-triage/ratelimit"
	"github.com/mailtriage/go-mail-triage/rules"

	"github.com/stretchr/testify/assert"
)

type fakeStore struct {
	mails       map[string]*domain.Message
	searchHits  []*domain.Message
	mutateCalls int
	fetchCalls  int
}

func (f *fakeStore) Fetch(_ context.Context, id string) (*domain.Message, error) {
	f.fetchCalls++
	msg, ok := f.mails[id]
	if !ok {
		return nil, fmt.Errorf("no mail %q: %w", id, domain.ErrNotFound)
	}
	return msg, nil
}

func (f *fakeStore) Mutate(_ context.Context, id string, _ domain.Action, _ domain.ActionParams) error {
	f.mutateCalls++
	if _, ok := f.mails[id]; !ok {
		return fmt.Errorf("no mail %q: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (f *fakeStore) Search(_ context.Context, _ string, _ domain.SearchFilters, limit int) ([]*domain.Message, error) {
	if len(f.searchHits) > limit {
		return f.searchHits[:limit], nil
	}
	return f.searchHits, nil
}

func (f *fakeStore) Close() error {
	return nil
}

func setupTriage(t *testing.T, store *fakeStore, ruleList []domain.ClassificationRule, cfgs ...ConfigFunc) *Triage {
	log.InitLogging("error")

	matcher, err := rules.NewMatcher(ruleList, nil)
	assert.NoError(t, err)

	gateway, err := analysis.NewGateway(keyword.NewScorer(), 0.7)
	assert.NoError(t, err)

	budget, err := ratelimit.NewBudget(10000, time.Second)
	assert.NoError(t, err)

	scheduler, err := batch.NewScheduler(budget, 4)
	assert.NoError(t, err)

	exec, err := executor.NewExecutor(store, false)
	assert.NoError(t, err)

	triage, err := NewTriage(store, matcher, gateway, scheduler, exec, budget, cfgs...)
	assert.NoError(t, err)
	return triage
}

func newsletterRules() []domain.ClassificationRule {
	return []domain.ClassificationRule{
		{
			Name:       "newsletter",
			Conditions: domain.RuleConditions{SubjectKeywords: []string{"newsletter"}},
			Actions:    []string{"archive", "read"},
		},
	}
}

func TestNewTriage(t *testing.T) {
	log.InitLogging("error")
	tests := []struct {
		name string
		cfgs []ConfigFunc
		err  string
	}{
		{"ok", []ConfigFunc{}, ""},
		{"err", []ConfigFunc{MaxBatchIDs(-1)}, "error applying configuration: MaxBatchIDs must be positive"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			triage, err := NewTriage(nil, nil, nil, nil, nil, nil, tc.cfgs...)
			if len(tc.err) == 0 {
				assert.NotNil(t, triage)
				assert.NoError(t, err)
			} else {
				assert.Nil(t, triage)
				assert.EqualError(t, err, tc.err)
			}
		})
	}
}

func TestTriage_Analyze(t *testing.T) {
	store := &fakeStore{mails: map[string]*domain.Message{
		"1": {ID: "1", Subject: "Weekly Newsletter #12", Sender: "news@example.com", BodyExcerpt: "unsubscribe below"},
	}}
	triage := setupTriage(t, store, newsletterRules())

	response, err := triage.Analyze(context.Background(), "1", nil)
	assert.NoError(t, err)
	assert.Equal(t, "1", response.EmailID)
	assert.Equal(t, "Weekly Newsletter #12", response.Subject)
	assert.Equal(t, "newsletter", response.RuleName, "the matching rule should carry into the envelope")
	assert.NotNil(t, response.Analysis.Category)
	assert.NotNil(t, response.Analysis.Priority)
	assert.NotNil(t, response.Analysis.Sentiment)
	assert.NotNil(t, response.Analysis.Summary)
	assert.Equal(t, response.Analysis.Confidence, response.Confidence)
	assert.False(t, response.AnalyzedAt.IsZero())
}

func TestTriage_AnalyzeValidation(t *testing.T) {
	store := &fakeStore{mails: map[string]*domain.Message{}}
	triage := setupTriage(t, store, nil)

	_, err := triage.Analyze(context.Background(), "", nil)
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Equal(t, 0, store.fetchCalls)

	_, err = triage.Analyze(context.Background(), "404", nil)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTriage_Classify(t *testing.T) {
	store := &fakeStore{mails: map[string]*domain.Message{
		"1": {ID: "1", Subject: "Weekly Newsletter #12"},
		"2": {ID: "2", Subject: "Invoice for July", BodyExcerpt: "payment due"},
	}}
	triage := setupTriage(t, store, newsletterRules())

	response, err := triage.Classify(context.Background(), []string{"1", "2", "404"}, domain.AnalyzeCategory, 0)
	assert.NoError(t, err)
	assert.Equal(t, domain.AnalyzeCategory, response.ClassificationType)
	assert.Equal(t, 3, response.TotalRequested)
	assert.Equal(t, 2, response.TotalSucceeded)
	assert.Equal(t, 1, response.TotalFailed)
	assert.Len(t, response.Outcomes, 3)

	var first ClassificationPayload
	assert.NoError(t, json.Unmarshal(response.Outcomes[0].Payload, &first))
	assert.Equal(t, "Weekly Newsletter #12", first.Subject)
	assert.Equal(t, "newsletter", first.RuleName)

	var second ClassificationPayload
	assert.NoError(t, json.Unmarshal(response.Outcomes[1].Payload, &second))
	assert.Equal(t, "finance", second.Classification)

	assert.False(t, response.Outcomes[2].Success)
	assert.Equal(t, domain.KindPermanentRemote, response.Outcomes[2].ErrorKind)
}

func TestTriage_ClassifyDefaultsToCategory(t *testing.T) {
	store := &fakeStore{mails: map[string]*domain.Message{
		"1": {ID: "1", Subject: "hello"},
	}}
	triage := setupTriage(t, store, nil)

	response, err := triage.Classify(context.Background(), []string{"1"}, "", 0)
	assert.NoError(t, err)
	assert.Equal(t, domain.AnalyzeCategory, response.ClassificationType)
}

func TestTriage_ClassifyValidation(t *testing.T) {
	store := &fakeStore{mails: map[string]*domain.Message{}}
	triage := setupTriage(t, store, nil)

	_, err := triage.Classify(context.Background(), nil, domain.AnalyzeCategory, 0)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = triage.Classify(context.Background(), []string{"1"}, domain.AnalyzeSummary, 0)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = triage.Classify(context.Background(), []string{"1"}, domain.AnalyzeCategory, batch.SubBatchSizeCeiling+1)
	assert.ErrorIs(t, err, domain.ErrInvalidBatchSize)
	assert.Equal(t, 0, store.fetchCalls)
}

func TestTriage_ClassifyRejectsOversizedBatch(t *testing.T) {
	store := &fakeStore{mails: map[string]*domain.Message{}}
	triage := setupTriage(t, store, nil, MaxBatchIDs(5))

	ids := []string{"1", "2", "3", "4", "5", "6"}
	_, err := triage.Classify(context.Background(), ids, domain.AnalyzeCategory, 0)
	assert.ErrorIs(t, err, domain.ErrBatchTooLarge)
	assert.Equal(t, 0, store.fetchCalls, "an oversized batch must not start remote work")
}

func TestTriage_Action(t *testing.T) {
	store := &fakeStore{mails: map[string]*domain.Message{
		"1": {ID: "1"},
		"2": {ID: "2"},
	}}
	triage := setupTriage(t, store, nil)

	response, err := triage.Action(context.Background(), []string{"1", "2"}, domain.ActionArchive, domain.ActionParams{})
	assert.NoError(t, err)
	assert.Equal(t, domain.ActionArchive, response.Action)
	assert.Equal(t, 2, response.TotalSucceeded)
	assert.Equal(t, 2, store.mutateCalls)
}

func TestTriage_ActionDeleteIdempotent(t *testing.T) {
	store := &fakeStore{mails: map[string]*domain.Message{}}
	triage := setupTriage(t, store, nil)

	// The delete target is already gone; the outcome is still a success.
	response, err := triage.Action(context.Background(), []string{"404"}, domain.ActionDelete, domain.ActionParams{})
	assert.NoError(t, err)
	assert.Equal(t, 1, response.TotalSucceeded)
	assert.True(t, response.Outcomes[0].Success)
}

func TestTriage_ActionRejectsWholeCallOnBadParams(t *testing.T) {
	store := &fakeStore{mails: map[string]*domain.Message{
		"1": {ID: "1"},
	}}
	triage := setupTriage(t, store, nil)

	_, err := triage.Action(context.Background(), []string{"1"}, domain.ActionLabel, domain.ActionParams{})
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Equal(t, 0, store.mutateCalls, "a missing label_ids rejects the call before any scheduling")

	_, err = triage.Action(context.Background(), nil, domain.ActionRead, domain.ActionParams{})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestTriage_Search(t *testing.T) {
	store := &fakeStore{searchHits: []*domain.Message{
		{ID: "1", Subject: "Invoice", Sender: "billing@example.com", IsUnread: true},
		{ID: "2", Subject: "Newsletter", Sender: "news@example.com", HasAttachments: true},
	}}
	triage := setupTriage(t, store, nil)

	response, err := triage.Search(context.Background(), "from:example.com", domain.SearchFilters{}, 0, false)
	assert.NoError(t, err)
	assert.Equal(t, "from:example.com", response.Query)
	assert.Equal(t, 2, response.TotalResults)
	assert.Len(t, response.Results, 2)
	assert.Equal(t, "1", response.Results[0].EmailID)
	assert.True(t, response.Results[0].IsUnread)
	assert.True(t, response.Results[1].HasAttachments)
	assert.Nil(t, response.Results[0].Analysis)
	assert.False(t, response.SearchedAt.IsZero())
}

func TestTriage_SearchWithAnalysis(t *testing.T) {
	store := &fakeStore{searchHits: []*domain.Message{
		{ID: "1", Subject: "Invoice for July", BodyExcerpt: "payment due"},
	}}
	triage := setupTriage(t, store, nil)

	response, err := triage.Search(context.Background(), "invoice", domain.SearchFilters{}, 10, true)
	assert.NoError(t, err)
	assert.NotNil(t, response.Results[0].Analysis)
	assert.Equal(t, "finance", *response.Results[0].Analysis.Result.Category)
	assert.NotNil(t, response.Results[0].Analysis.Result.Priority)
}

func TestTriage_SearchLimitCeiling(t *testing.T) {
	store := &fakeStore{}
	triage := setupTriage(t, store, nil)

	_, err := triage.Search(context.Background(), "anything", domain.SearchFilters{}, SearchLimitCeiling+1, false)
	assert.ErrorIs(t, err, domain.ErrValidation)
}
