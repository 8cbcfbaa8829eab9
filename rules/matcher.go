// SPDX-License-Identifier: GPL-3.0-or-later
package rules

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/mailtriage/go-mail-triage/domain"
	"github.com/mailtriage/go-mail-triage/log"

	"github.com/sirupsen/logrus"
)

type compiledRule struct {
	rule          domain.ClassificationRule
	senderPattern *regexp.Regexp
}

// Matcher evaluates a fixed, ordered rule list against messages. The rule
// list is immutable after construction; swapping rules means building a new
// Matcher, which leaves in-flight batches on the old one.
type Matcher struct {
	rules    []compiledRule
	contacts domain.ContactChecker

	l *logrus.Logger
}

// NewMatcher compiles the rule list. Contacts may be nil, in which case every
// sender counts as unknown for sender_not_in_contacts conditions.
func NewMatcher(ruleList []domain.ClassificationRule, contacts domain.ContactChecker) (*Matcher, error) {
	compiled := make([]compiledRule, 0, len(ruleList))
	for _, r := range ruleList {
		cr := compiledRule{rule: r}
		if len(r.Conditions.SenderPattern) > 0 {
			pattern, err := regexp.Compile(r.Conditions.SenderPattern)
			if err != nil {
				return nil, fmt.Errorf("could not compile sender pattern of rule %q: %w", r.Name, err)
			}
			cr.senderPattern = pattern
		}
		compiled = append(compiled, cr)
	}

	return &Matcher{
		rules:    compiled,
		contacts: contacts,
		l:        log.Logger(log.LOG_RULES),
	}, nil
}

// Match returns the verdict of the first rule whose every condition holds,
// or nil when no rule matches. Rules are tried strictly in declaration
// order, so simultaneous full matches resolve to the earlier rule.
func (m *Matcher) Match(ctx context.Context, msg *domain.Message) *domain.RuleVerdict {
	for _, cr := range m.rules {
		if !m.ruleMatches(ctx, cr, msg) {
			continue
		}

		m.l.WithFields(logrus.Fields{"rule": cr.rule.Name, "id": msg.ID}).Debug("Rule matched")
		return &domain.RuleVerdict{
			RuleName:       cr.rule.Name,
			MatchedActions: append([]string{}, cr.rule.Actions...),
		}
	}

	return nil
}

func (m *Matcher) ruleMatches(ctx context.Context, cr compiledRule, msg *domain.Message) bool {
	if cr.senderPattern != nil && !cr.senderPattern.MatchString(msg.Sender) {
		return false
	}

	if len(cr.rule.Conditions.SubjectKeywords) > 0 && !anyKeyword(msg.Subject, cr.rule.Conditions.SubjectKeywords) {
		return false
	}

	if len(cr.rule.Conditions.ContentKeywords) > 0 && !anyKeyword(msg.BodyExcerpt, cr.rule.Conditions.ContentKeywords) {
		return false
	}

	if cr.rule.Conditions.SenderNotInContacts && m.senderKnown(ctx, msg.Sender) {
		return false
	}

	return true
}

// senderKnown falls back to unknown when no contacts store is wired or the
// lookup fails, keeping sender_not_in_contacts rules conservative.
func (m *Matcher) senderKnown(ctx context.Context, sender string) bool {
	if m.contacts == nil {
		return false
	}

	known, err := m.contacts.Known(ctx, sender)
	if err != nil {
		m.l.WithFields(logrus.Fields{"sender": sender, "error": err}).Warn("Contact lookup failed, treating sender as unknown")
		return false
	}

	return known
}

func anyKeyword(text string, keywords []string) bool {
	lowered := strings.ToLower(text)
	for _, kw := range keywords {
		if len(kw) == 0 {
			continue
		}
		if strings.Contains(lowered, strings.ToLower(kw)) {
			return true
		}
	}

	return false
}
