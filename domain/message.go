// SPDX-License-Identifier: GPL-3.0-or-later
package domain

import (
	"context"
	"time"
)

// Message is a read-only snapshot of a mail as seen in the remote store.
// Mutation happens exclusively through MailStore.Mutate.
type Message struct {
	ID             string    `json:"id"`
	Subject        string    `json:"subject"`
	Sender         string    `json:"sender"`
	ReceivedAt     time.Time `json:"received_at"`
	BodyExcerpt    string    `json:"body_excerpt"`
	HasAttachments bool      `json:"has_attachments"`
	IsUnread       bool      `json:"is_unread"`
	LabelIDs       []string  `json:"label_ids"`
}

type Action string

const (
	ActionRead    = Action("read")
	ActionArchive = Action("archive")
	ActionDelete  = Action("delete")
	ActionLabel   = Action("label")
)

func ValidAction(a Action) bool {
	switch a {
	case ActionRead, ActionArchive, ActionDelete, ActionLabel:
		return true
	}
	return false
}

// ActionParams carries optional per-action parameters. LabelIDs is required
// for ActionLabel and ignored otherwise.
type ActionParams struct {
	LabelIDs []string `json:"label_ids,omitempty"`
}

type SearchFilters struct {
	Sender          string     `json:"sender,omitempty"`
	SubjectContains string     `json:"subject_contains,omitempty"`
	DateFrom        *time.Time `json:"date_from,omitempty"`
	DateTo          *time.Time `json:"date_to,omitempty"`
	HasAttachments  *bool      `json:"has_attachments,omitempty"`
	IsUnread        *bool      `json:"is_unread,omitempty"`
}

// MailStore is the remote mailbox. All calls may be slow or rate-limited;
// errors are classified via ErrorKindOf.
type MailStore interface {
	Fetch(ctx context.Context, id string) (*Message, error)
	Mutate(ctx context.Context, id string, action Action, params ActionParams) error
	Search(ctx context.Context, query string, filters SearchFilters, limit int) ([]*Message, error)

	Close() error
}
