// SPDX-License-Identifier: GPL-3.0-or-later
package domain

import "context"

// RuleConditions combine with AND; a nil/empty condition is not evaluated.
// Keyword lists are satisfied if any keyword matches (case-insensitive
// substring).
type RuleConditions struct {
	SenderPattern       string   `toml:"sender_pattern"`
	SubjectKeywords     []string `toml:"subject_keywords"`
	ContentKeywords     []string `toml:"content_keywords"`
	SenderNotInContacts bool     `toml:"sender_not_in_contacts"`
}

type ClassificationRule struct {
	Name       string         `toml:"name"`
	Conditions RuleConditions `toml:"conditions"`
	Actions    []string       `toml:"actions"`
}

// RuleVerdict is the decision for one message: the first rule in declaration
// order whose every condition held. Ties are resolved by declaration order,
// never by specificity.
type RuleVerdict struct {
	RuleName       string   `json:"rule_name"`
	MatchedActions []string `json:"actions"`
}

// ContactChecker looks up whether a sender address is a known contact.
// Implementations that cannot answer must return false (unknown) rather
// than an error where possible; the matcher treats lookup errors as unknown.
type ContactChecker interface {
	Known(ctx context.Context, sender string) (bool, error)
}
