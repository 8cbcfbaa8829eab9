// SPDX-License-Identifier: GPL-3.0-or-later
package rules

import (
	"context"
	"errors"
	"testing"

	"github.com/mailtriage/go-mail-triage/domain"
	"github.com/mailtriage/go-mail-triage/log"

	"github.com/stretchr/testify/assert"
)

type fakeContacts struct {
	known map[string]bool
	err   error
}

func (f *fakeContacts) Known(_ context.Context, sender string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.known[sender], nil
}

func TestNewMatcher(t *testing.T) {
	log.InitLogging("error")
	tests := []struct {
		name  string
		rules []domain.ClassificationRule
		err   string
	}{
		{"empty", []domain.ClassificationRule{}, ""},
		{"ok", []domain.ClassificationRule{
			{Name: "newsletters", Conditions: domain.RuleConditions{SenderPattern: `.*@news\..*`}, Actions: []string{"archive"}},
		}, ""},
		{"badpattern", []domain.ClassificationRule{
			{Name: "broken", Conditions: domain.RuleConditions{SenderPattern: `(`}, Actions: []string{"archive"}},
		}, "could not compile sender pattern of rule \"broken\": error parsing regexp: missing closing ): `(`"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			matcher, err := NewMatcher(tc.rules, nil)
			if len(tc.err) == 0 {
				assert.NotNil(t, matcher)
				assert.NoError(t, err)
			} else {
				assert.Nil(t, matcher)
				assert.EqualError(t, err, tc.err)
			}
		})
	}
}

func TestMatcher_Match(t *testing.T) {
	log.InitLogging("error")

	rules := []domain.ClassificationRule{
		{
			Name: "newsletter",
			Conditions: domain.RuleConditions{
				SubjectKeywords: []string{"newsletter", "digest"},
			},
			Actions: []string{"archive", "read"},
		},
		{
			Name: "invoices",
			Conditions: domain.RuleConditions{
				SenderPattern:   `.*@billing\.example\.com`,
				ContentKeywords: []string{"invoice"},
			},
			Actions: []string{"label"},
		},
		{
			Name: "strangers",
			Conditions: domain.RuleConditions{
				SenderNotInContacts: true,
			},
			Actions: []string{"label"},
		},
	}

	contacts := &fakeContacts{known: map[string]bool{"friend@example.com": true}}
	matcher, err := NewMatcher(rules, contacts)
	assert.NoError(t, err)

	tests := []struct {
		name     string
		msg      *domain.Message
		expected *domain.RuleVerdict
	}{
		{
			"subjectkeyword",
			&domain.Message{ID: "1", Subject: "Weekly Newsletter #12", Sender: "friend@example.com"},
			&domain.RuleVerdict{RuleName: "newsletter", MatchedActions: []string{"archive", "read"}},
		},
		{
			"allconditions",
			&domain.Message{ID: "2", Subject: "Your bill", Sender: "noreply@billing.example.com", BodyExcerpt: "Attached invoice for July"},
			&domain.RuleVerdict{RuleName: "invoices", MatchedActions: []string{"label"}},
		},
		{
			"partialconditionsnomatch",
			&domain.Message{ID: "3", Subject: "Your bill", Sender: "noreply@billing.example.com", BodyExcerpt: "See portal for details"},
			&domain.RuleVerdict{RuleName: "strangers", MatchedActions: []string{"label"}},
		},
		{
			"knowncontact",
			&domain.Message{ID: "4", Subject: "Lunch?", Sender: "friend@example.com"},
			nil,
		},
		{
			"declarationorderwins",
			&domain.Message{ID: "5", Subject: "Monthly digest", Sender: "unknown@example.com"},
			&domain.RuleVerdict{RuleName: "newsletter", MatchedActions: []string{"archive", "read"}},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			verdict := matcher.Match(context.Background(), tc.msg)
			assert.Equal(t, tc.expected, verdict)
		})
	}
}

func TestMatcher_MatchCaseInsensitiveKeywords(t *testing.T) {
	log.InitLogging("error")
	matcher, err := NewMatcher([]domain.ClassificationRule{
		{
			Name:       "urgent",
			Conditions: domain.RuleConditions{SubjectKeywords: []string{"URGENT"}},
			Actions:    []string{"read"},
		},
	}, nil)
	assert.NoError(t, err)

	verdict := matcher.Match(context.Background(), &domain.Message{ID: "1", Subject: "urgent: server down"})
	assert.NotNil(t, verdict)
	assert.Equal(t, "urgent", verdict.RuleName)
}

func TestMatcher_ContactLookupErrorTreatsSenderAsUnknown(t *testing.T) {
	log.InitLogging("error")
	contacts := &fakeContacts{err: errors.New("db locked")}
	matcher, err := NewMatcher([]domain.ClassificationRule{
		{
			Name:       "strangers",
			Conditions: domain.RuleConditions{SenderNotInContacts: true},
			Actions:    []string{"label"},
		},
	}, contacts)
	assert.NoError(t, err)

	verdict := matcher.Match(context.Background(), &domain.Message{ID: "1", Sender: "friend@example.com"})
	assert.NotNil(t, verdict, "lookup failure should leave the sender unknown and let the rule fire")
}

func TestMatcher_NilContactsTreatsSenderAsUnknown(t *testing.T) {
	log.InitLogging("error")
	matcher, err := NewMatcher([]domain.ClassificationRule{
		{
			Name:       "strangers",
			Conditions: domain.RuleConditions{SenderNotInContacts: true},
			Actions:    []string{"label"},
		},
	}, nil)
	assert.NoError(t, err)

	verdict := matcher.Match(context.Background(), &domain.Message{ID: "1", Sender: "anyone@example.com"})
	assert.NotNil(t, verdict)
}
