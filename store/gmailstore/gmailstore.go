// SPDX-License-Identifier: GPL-3.0-or-later
package gmailstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/mailtriage/go-mail-triage/domain"
	"github.com/mailtriage/go-mail-triage/log"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const user = "me"

// Store is the Gmail-backed remote mailbox. Authentication is a previously
// obtained oauth token file; interactive flows are out of scope.
type Store struct {
	srv *gmail.Service

	l *logrus.Logger
}

func NewStore(ctx context.Context, credentialsFile, tokenFile string) (*Store, error) {
	b, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("could not read client secret file: %w", err)
	}

	oauthConfig, err := google.ConfigFromJSON(b, gmail.GmailModifyScope)
	if err != nil {
		return nil, fmt.Errorf("could not parse client secret file: %w", err)
	}

	token, err := tokenFromFile(tokenFile)
	if err != nil {
		return nil, fmt.Errorf("could not read oauth token, obtain one out of band first: %w", err)
	}

	srv, err := gmail.NewService(ctx, option.WithHTTPClient(oauthConfig.Client(ctx, token)))
	if err != nil {
		return nil, fmt.Errorf("could not create gmail service: %w", err)
	}

	l := log.Logger(log.LOG_STORE)
	l.WithField("credentials", credentialsFile).Debug("Connected to gmail")

	return &Store{srv: srv, l: l}, nil
}

func tokenFromFile(file string) (*oauth2.Token, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	tok := &oauth2.Token{}
	err = json.NewDecoder(f).Decode(tok)
	return tok, err
}

func (s *Store) Fetch(ctx context.Context, id string) (*domain.Message, error) {
	msg, err := s.srv.Users.Messages.Get(user, id).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, classify(err)
	}

	return mapMessage(msg), nil
}

func (s *Store) Mutate(ctx context.Context, id string, action domain.Action, params domain.ActionParams) error {
	var err error
	switch action {
	case domain.ActionRead:
		_, err = s.srv.Users.Messages.Modify(user, id, &gmail.ModifyMessageRequest{
			RemoveLabelIds: []string{"UNREAD"},
		}).Context(ctx).Do()
	case domain.ActionArchive:
		_, err = s.srv.Users.Messages.Modify(user, id, &gmail.ModifyMessageRequest{
			RemoveLabelIds: []string{"INBOX"},
		}).Context(ctx).Do()
	case domain.ActionDelete:
		_, err = s.srv.Users.Messages.Trash(user, id).Context(ctx).Do()
	case domain.ActionLabel:
		_, err = s.srv.Users.Messages.Modify(user, id, &gmail.ModifyMessageRequest{
			AddLabelIds: params.LabelIDs,
		}).Context(ctx).Do()
	default:
		return fmt.Errorf("%w: unknown action %q", domain.ErrValidation, action)
	}

	if err != nil {
		return classify(err)
	}

	s.l.WithFields(logrus.Fields{"id": id, "action": action}).Debug("Mutated mail")
	return nil
}

func (s *Store) Search(ctx context.Context, query string, filters domain.SearchFilters, limit int) ([]*domain.Message, error) {
	q := buildQuery(query, filters)
	s.l.WithFields(logrus.Fields{"query": q, "limit": limit}).Debug("Searching mails")

	list, err := s.srv.Users.Messages.List(user).Q(q).MaxResults(int64(limit)).Context(ctx).Do()
	if err != nil {
		return nil, classify(err)
	}

	messages := make([]*domain.Message, 0, len(list.Messages))
	for _, stub := range list.Messages {
		msg, err := s.srv.Users.Messages.Get(user, stub.Id).Format("metadata").Context(ctx).Do()
		if err != nil {
			return nil, classify(err)
		}
		messages = append(messages, mapMessage(msg))
	}

	return messages, nil
}

func (s *Store) Close() error {
	return nil
}

// buildQuery renders the structured filters into gmail's search syntax and
// appends them to the free-form query.
func buildQuery(query string, filters domain.SearchFilters) string {
	parts := []string{}
	if len(strings.TrimSpace(query)) > 0 {
		parts = append(parts, query)
	}
	if len(filters.Sender) > 0 {
		parts = append(parts, "from:"+filters.Sender)
	}
	if len(filters.SubjectContains) > 0 {
		parts = append(parts, "subject:"+filters.SubjectContains)
	}
	if filters.DateFrom != nil {
		parts = append(parts, "after:"+filters.DateFrom.Format("2006/01/02"))
	}
	if filters.DateTo != nil {
		parts = append(parts, "before:"+filters.DateTo.Format("2006/01/02"))
	}
	if filters.HasAttachments != nil {
		if *filters.HasAttachments {
			parts = append(parts, "has:attachment")
		} else {
			parts = append(parts, "-has:attachment")
		}
	}
	if filters.IsUnread != nil {
		if *filters.IsUnread {
			parts = append(parts, "is:unread")
		} else {
			parts = append(parts, "is:read")
		}
	}

	return strings.Join(parts, " ")
}

func mapMessage(msg *gmail.Message) *domain.Message {
	mapped := &domain.Message{
		ID:          msg.Id,
		BodyExcerpt: msg.Snippet,
		ReceivedAt:  time.UnixMilli(msg.InternalDate).UTC(),
		LabelIDs:    msg.LabelIds,
	}

	for _, label := range msg.LabelIds {
		if label == "UNREAD" {
			mapped.IsUnread = true
		}
	}

	if msg.Payload != nil {
		for _, header := range msg.Payload.Headers {
			switch header.Name {
			case "Subject":
				mapped.Subject = header.Value
			case "From":
				mapped.Sender = header.Value
			}
		}
		mapped.HasAttachments = hasAttachments(msg.Payload)
	}

	return mapped
}

func hasAttachments(payload *gmail.MessagePart) bool {
	if len(payload.Filename) > 0 {
		return true
	}
	for _, part := range payload.Parts {
		if hasAttachments(part) {
			return true
		}
	}
	return false
}

// classify maps gmail api failures onto the shared error kinds: 404 and 403
// are permanent, 429 and 5xx are worth a retry.
func classify(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusNotFound:
			return fmt.Errorf("%w: %s", domain.ErrNotFound, apiErr.Message)
		case apiErr.Code == http.StatusForbidden:
			return fmt.Errorf("%w: %s", domain.ErrPermissionDenied, apiErr.Message)
		case apiErr.Code == http.StatusTooManyRequests:
			return fmt.Errorf("%w: %s", domain.ErrRateLimited, apiErr.Message)
		case apiErr.Code >= 500:
			return fmt.Errorf("%w: gmail returned status %d", domain.ErrTransient, apiErr.Code)
		}
	}

	return fmt.Errorf("gmail call failed: %w", err)
}
