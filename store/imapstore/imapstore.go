// SPDX-License-Identifier: GPL-3.0-or-later
package imapstore

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"sync"

	"github.com/mailtriage/go-mail-triage/domain"
	"github.com/mailtriage/go-mail-triage/log"
	"github.com/mailtriage/go-mail-triage/mail"

	"github.com/emersion/go-imap"
	move "github.com/emersion/go-imap-move"
	uidplus "github.com/emersion/go-imap-uidplus"
	"github.com/emersion/go-imap/client"
	"github.com/sirupsen/logrus"
)

const mailbox = "INBOX"

// Store is the IMAP-backed remote mailbox. Message ids on the wire are the
// decimal uids of the selected mailbox. The underlying connection runs one
// command at a time, so all calls serialize on a mutex.
type Store struct {
	connection    *client.Client
	uidplusClient *uidplus.Client
	mailDeleter   deleter
	mailMover     mover

	archiveFolder string

	mu sync.Mutex

	l *logrus.Logger
}

func NewStore(server, user, password, archiveFolder string) (*Store, error) {
	imapClient, err := client.DialTLS(server, nil)
	if err != nil {
		return nil, fmt.Errorf("could not dial to imap: %w", err)
	}

	err = imapClient.Login(user, password)
	if err != nil {
		return nil, fmt.Errorf("could not login to imap: %w", err)
	}

	uidPlusClient := uidplus.NewClient(imapClient)
	uidPlusSupported, err := uidPlusClient.SupportUidPlus()
	if err != nil {
		return nil, fmt.Errorf("could not check for UIDPLUS support: %w", err)
	}

	moveClient := move.NewClient(imapClient)
	moveSupported, err := moveClient.SupportMove()
	if err != nil {
		return nil, fmt.Errorf("could not check for MOVE support: %w", err)
	}

	store := &Store{
		connection:    imapClient,
		archiveFolder: archiveFolder,
		l:             log.Logger(log.LOG_STORE),
	}

	baseLogger := store.l.WithFields(logrus.Fields{"server": server})
	baseLogger.Debug("Logged in to server")

	if uidPlusSupported {
		baseLogger.Debug("UIDPLUS supported on server, using UID delete")
		store.uidplusClient = uidPlusClient
		store.mailDeleter = &uidPlusDeleter{
			imapConn: store,
		}
	} else {
		baseLogger.Info("UIDPLUS not supported on server, falling back to flag&expunge")
		store.mailDeleter = &compatibilityDeleter{
			imapConn: store,
		}
	}

	if moveSupported {
		baseLogger.Debug("MOVE supported on server")
		store.mailMover = &moveMover{
			moveClient: moveClient,
		}
	} else {
		baseLogger.Info("MOVE not supported on server, falling back to copy&delete")
		store.mailMover = &compatibilityMover{
			imapConn: &copyDeleteConn{
				deleter: store.mailDeleter,
				Store:   store,
			},
		}
	}

	_, err = imapClient.Select(mailbox, false)
	if err != nil {
		return nil, fmt.Errorf("could not select %s: %w", mailbox, err)
	}

	return store, nil
}

func (s *Store) Fetch(ctx context.Context, id string) (*domain.Message, error) {
	uid, err := parseUID(id)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	messages, err := s.fetchMessages([]uint32{uid})
	if err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return nil, fmt.Errorf("%w: no mail with uid %s", domain.ErrNotFound, id)
	}

	return messages[0], nil
}

func (s *Store) Mutate(ctx context.Context, id string, action domain.Action, params domain.ActionParams) error {
	uid, err := parseUID(id)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch action {
	case domain.ActionRead:
		return s.storeFlags([]uint32{uid}, imap.SeenFlag)
	case domain.ActionLabel:
		flags := make([]interface{}, 0, len(params.LabelIDs))
		for _, label := range params.LabelIDs {
			flags = append(flags, label)
		}
		return s.storeCustomFlags([]uint32{uid}, flags)
	case domain.ActionArchive:
		return s.mailMover.move([]uint32{uid}, s.archiveFolder)
	case domain.ActionDelete:
		return s.mailDeleter.delete([]uint32{uid})
	default:
		return fmt.Errorf("%w: unknown action %q", domain.ErrValidation, action)
	}
}

func (s *Store) Search(ctx context.Context, query string, filters domain.SearchFilters, limit int) ([]*domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	criteria := imap.NewSearchCriteria()
	if len(query) > 0 {
		criteria.Text = []string{query}
	}
	if len(filters.Sender) > 0 {
		criteria.Header.Add("From", filters.Sender)
	}
	if len(filters.SubjectContains) > 0 {
		criteria.Header.Add("Subject", filters.SubjectContains)
	}
	if filters.DateFrom != nil {
		criteria.Since = *filters.DateFrom
	}
	if filters.DateTo != nil {
		criteria.Before = *filters.DateTo
	}
	if filters.IsUnread != nil {
		if *filters.IsUnread {
			criteria.WithoutFlags = append(criteria.WithoutFlags, imap.SeenFlag)
		} else {
			criteria.WithFlags = append(criteria.WithFlags, imap.SeenFlag)
		}
	}

	uids, err := s.connection.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("could not search folder: %w", err)
	}

	// Newest uids first, capped at limit before the expensive body fetch.
	sort.Slice(uids, func(i, j int) bool { return uids[i] > uids[j] })
	if len(uids) > limit {
		uids = uids[:limit]
	}
	if len(uids) == 0 {
		return []*domain.Message{}, nil
	}

	messages, err := s.fetchMessages(uids)
	if err != nil {
		return nil, err
	}

	// HasAttachments is not an IMAP search key, filter after the fetch.
	if filters.HasAttachments != nil {
		filtered := messages[:0]
		for _, m := range messages {
			if m.HasAttachments == *filters.HasAttachments {
				filtered = append(filtered, m)
			}
		}
		messages = filtered
	}

	return messages, nil
}

func (s *Store) Close() error {
	return s.connection.Logout()
}

func (s *Store) fetchMessages(uids []uint32) ([]*domain.Message, error) {
	seqset := &imap.SeqSet{}
	seqset.AddNum(uids...)

	fullBodySection := &imap.BodySectionName{
		Peek: true,
	}
	fetchItems := []imap.FetchItem{fullBodySection.FetchItem(), imap.FetchFlags, imap.FetchUid}

	out := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- s.connection.UidFetch(seqset, fetchItems, out)
	}()

	messages := []*domain.Message{}
	for msg := range out {
		r := msg.GetBody(fullBodySection)
		if r == nil {
			continue
		}
		rawBody, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("could not read mail body: %w", err)
		}

		details, err := mail.ParseDetails(rawBody)
		if err != nil {
			return nil, fmt.Errorf("could not parse mail: %w", err)
		}

		messages = append(messages, &domain.Message{
			ID:             strconv.FormatUint(uint64(msg.Uid), 10),
			Subject:        details.Subject,
			Sender:         details.Sender,
			ReceivedAt:     details.Date,
			BodyExcerpt:    details.Excerpt,
			HasAttachments: details.HasAttachments,
			IsUnread:       !hasFlag(msg.Flags, imap.SeenFlag),
			LabelIDs:       customFlags(msg.Flags),
		})
	}

	err := <-done
	if err != nil {
		return nil, fmt.Errorf("could not fetch mails: %w", err)
	}

	return messages, nil
}

func (s *Store) storeFlags(uids []uint32, flags ...interface{}) error {
	seqset := &imap.SeqSet{}
	seqset.AddNum(uids...)
	err := s.connection.UidStore(seqset, imap.FormatFlagsOp(imap.AddFlags, true), flags, nil)
	if err != nil {
		return fmt.Errorf("could not store flags: %w", err)
	}

	return nil
}

func (s *Store) storeCustomFlags(uids []uint32, flags []interface{}) error {
	if len(flags) == 0 {
		return fmt.Errorf("%w: no flags to store", domain.ErrValidation)
	}
	return s.storeFlags(uids, flags...)
}

// flagDeleted serves the deleter implementations.
func (s *Store) flagDeleted(uids []uint32) (*imap.SeqSet, error) {
	seqset := &imap.SeqSet{}
	seqset.AddNum(uids...)
	err := s.connection.UidStore(seqset, imap.FormatFlagsOp(imap.AddFlags, true), []interface{}{imap.DeletedFlag}, nil)
	if err != nil {
		return nil, fmt.Errorf("could not set delete flag: %w", err)
	}

	return seqset, nil
}

func (s *Store) Expunge(ch chan uint32) error {
	return s.connection.Expunge(ch)
}

func (s *Store) UidExpunge(seqSet *imap.SeqSet, ch chan uint32) error {
	return s.uidplusClient.UidExpunge(seqSet, ch)
}

// copyDeleteConn combines the selected deleter with uid copy for the
// copy&delete move fallback.
type copyDeleteConn struct {
	deleter
	*Store
}

func (s *Store) UidSearch(criteria *imap.SearchCriteria) ([]uint32, error) {
	return s.connection.UidSearch(criteria)
}

func (s *Store) UidCopy(seqset *imap.SeqSet, dest string) error {
	return s.connection.UidCopy(seqset, dest)
}

func parseUID(id string) (uint32, error) {
	uid, err := strconv.ParseUint(id, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a valid imap uid", domain.ErrValidation, id)
	}
	return uint32(uid), nil
}

func hasFlag(flags []string, flag string) bool {
	for _, f := range flags {
		if f == flag {
			return true
		}
	}
	return false
}

// customFlags filters the system flags out, leaving user keywords which map
// onto label ids.
func customFlags(flags []string) []string {
	labels := []string{}
	for _, f := range flags {
		if len(f) > 0 && f[0] != '\\' {
			labels = append(labels, f)
		}
	}
	return labels
}
