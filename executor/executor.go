// SPDX-License-Identifier: GPL-3.0-or-later
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mailtriage/go-mail-triage/domain"
	"github.com/mailtriage/go-mail-triage/log"

	"github.com/sirupsen/logrus"
)

const RetryDelay = 500 * time.Millisecond

// Executor applies one mutating action to one message id. All actions are
// idempotent from the caller's perspective so the scheduler's token-wait
// path can safely retry.
type Executor struct {
	store  domain.MailStore
	dryRun bool
	sleep  func(ctx context.Context, d time.Duration) error

	l *logrus.Logger
}

func NewExecutor(store domain.MailStore, dryRun bool) (*Executor, error) {
	if store == nil {
		return nil, fmt.Errorf("store must not be nil")
	}

	return &Executor{
		store:  store,
		dryRun: dryRun,
		sleep:  sleepCtx,
		l:      log.Logger(log.LOG_EXECUTOR),
	}, nil
}

// Apply validates the action, then mutates id against the remote store.
// Preconditions fail before any remote call; transient remote errors get one
// local retry after a fixed delay; permanent errors surface immediately.
func (e *Executor) Apply(ctx context.Context, action domain.Action, id string, params domain.ActionParams) error {
	if err := ValidateAction(action, params); err != nil {
		return err
	}

	if e.dryRun {
		e.l.WithFields(logrus.Fields{"action": action, "id": id}).Info("Not mutating due to dry-run")
		return nil
	}

	err := e.mutate(ctx, action, id, params)
	if err != nil && domain.Transient(err) && ctx.Err() == nil {
		e.l.WithFields(logrus.Fields{"action": action, "id": id, "error": err}).Debug("Transient store error, retrying once")
		if sleepErr := e.sleep(ctx, RetryDelay); sleepErr != nil {
			return sleepErr
		}
		err = e.mutate(ctx, action, id, params)
	}

	if err != nil {
		return fmt.Errorf("could not apply %s to %q: %w", action, id, err)
	}

	return nil
}

// ValidateAction checks action shape and required parameters without
// touching the remote store.
func ValidateAction(action domain.Action, params domain.ActionParams) error {
	if !domain.ValidAction(action) {
		return fmt.Errorf("%w: unknown action %q", domain.ErrValidation, action)
	}

	if action == domain.ActionLabel && len(params.LabelIDs) == 0 {
		return fmt.Errorf("%w: label_ids required for label action", domain.ErrValidation)
	}

	return nil
}

func (e *Executor) mutate(ctx context.Context, action domain.Action, id string, params domain.ActionParams) error {
	err := e.store.Mutate(ctx, id, action, params)

	// Deleting an id the store no longer has is a success: the desired end
	// state already holds, and retries after a token wait must not flap.
	if action == domain.ActionDelete && errors.Is(err, domain.ErrNotFound) {
		e.l.WithField("id", id).Debug("Delete target already gone, treating as success")
		return nil
	}

	return err
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
