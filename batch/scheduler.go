// SPDX-License-Identifier: GPL-3.0-or-later
package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mailtriage/go-mail-triage/domain"
	"github.com/mailtriage/go-mail-triage/log"
	"github.com/mailtriage/go-mail-triage/ratelimit"

	"github.com/sirupsen/logrus"
)

const (
	DefaultSubBatchSize = 10
	SubBatchSizeCeiling = 20
)

// ItemOp performs the remote work for a single id and returns the payload to
// embed in its outcome. Errors are captured per item, never propagated.
type ItemOp func(ctx context.Context, id string) (json.RawMessage, error)

// Options tune a single Run call.
type Options struct {
	// MaxIDs is the global input ceiling. A larger id list fails the whole
	// call before any remote work starts. Zero disables the check.
	MaxIDs int
	// SubBatchSize bounds each dispatched slice; zero means
	// DefaultSubBatchSize, anything above SubBatchSizeCeiling is rejected.
	SubBatchSize int
}

// Scheduler fans an id list out to per-item operations under a shared
// concurrency limit and the process-wide rate budget. Batch runs are
// fail-soft: a sibling's failure never aborts the rest of the batch.
type Scheduler struct {
	budget         *ratelimit.Budget
	maxConcurrency int

	l *logrus.Logger
}

func NewScheduler(budget *ratelimit.Budget, maxConcurrency int) (*Scheduler, error) {
	if budget == nil {
		return nil, fmt.Errorf("budget must not be nil")
	}
	if maxConcurrency <= 0 {
		return nil, fmt.Errorf("concurrency must be positive, got %d", maxConcurrency)
	}

	return &Scheduler{
		budget:         budget,
		maxConcurrency: maxConcurrency,
		l:              log.Logger(log.LOG_BATCH),
	}, nil
}

// Run executes op once per id and always returns one outcome per input id,
// ordered like the input. Only malformed requests (oversized input, invalid
// sub-batch size) fail the call itself; everything else, including a fully
// failed batch or a mid-flight cancellation, still yields a BatchResult.
func (s *Scheduler) Run(ctx context.Context, ids []string, op ItemOp, opts Options) (*domain.BatchResult, error) {
	if opts.MaxIDs > 0 && len(ids) > opts.MaxIDs {
		return nil, fmt.Errorf("%w: got %d ids, ceiling is %d", domain.ErrBatchTooLarge, len(ids), opts.MaxIDs)
	}

	subBatchSize := opts.SubBatchSize
	if subBatchSize == 0 {
		subBatchSize = DefaultSubBatchSize
	}
	if subBatchSize < 1 || subBatchSize > SubBatchSizeCeiling {
		return nil, fmt.Errorf("%w: got %d, allowed range is 1-%d", domain.ErrInvalidBatchSize, subBatchSize, SubBatchSizeCeiling)
	}

	startedAt := time.Now()
	outcomes := make([]domain.BatchItemOutcome, len(ids))

	// One semaphore across all sub-batches keeps total in-flight work
	// against the remote store at or below maxConcurrency even when
	// sub-batches overlap.
	semaphore := make(chan bool, s.maxConcurrency)

	partitions := partitionIds(ids, subBatchSize)
	s.l.WithFields(logrus.Fields{"ids": len(ids), "subbatches": len(partitions), "subbatchsize": subBatchSize}).Debug("Dispatching batch")

	index := 0
	for _, partition := range partitions {
		subStart := time.Now()
		for range partition {
			i := index
			index++

			if ctx.Err() != nil {
				outcomes[i] = abortedOutcome(ids[i], ctx.Err())
				continue
			}

			select {
			case semaphore <- true:
			case <-ctx.Done():
				outcomes[i] = abortedOutcome(ids[i], ctx.Err())
				continue
			}

			// One token per remote operation; waiting here parks the item
			// until refill instead of dropping it.
			if err := s.budget.Acquire(ctx); err != nil {
				outcomes[i] = abortedOutcome(ids[i], ctx.Err())
				<-semaphore
				continue
			}

			go func(i int) {
				outcomes[i] = s.runItem(ctx, ids[i], op)
				<-semaphore
			}(i)
		}
		s.l.WithFields(logrus.Fields{"subbatchsize": len(partition), "duration": time.Since(subStart)}).Debug("Dispatched sub-batch")
	}

	// In-flight items are allowed to finish; they carry their own ctx and
	// surface a Timeout outcome themselves if it expires.
	for i := 0; i < s.maxConcurrency; i++ {
		semaphore <- true
	}

	result := Aggregate(ids, outcomes, startedAt, time.Now())
	s.l.WithFields(logrus.Fields{"requested": result.TotalRequested, "ok": result.TotalSucceeded, "failed": result.TotalFailed, "duration": result.FinishedAt.Sub(result.StartedAt)}).Info("Completed batch")
	return result, nil
}

func (s *Scheduler) runItem(ctx context.Context, id string, op ItemOp) domain.BatchItemOutcome {
	start := time.Now()
	payload, err := op(ctx, id)
	outcome := domain.BatchItemOutcome{
		ItemID:   id,
		Duration: time.Since(start),
	}

	if err != nil {
		outcome.ErrorKind = domain.ErrorKindOf(err)
		outcome.Error = err.Error()
		s.l.WithFields(logrus.Fields{"id": id, "kind": outcome.ErrorKind, "error": err}).Debug("Item failed")
		return outcome
	}

	outcome.Success = true
	outcome.Payload = payload
	return outcome
}

// abortedOutcome records an item that never reached the remote store because
// the batch was cancelled or timed out first.
func abortedOutcome(id string, ctxErr error) domain.BatchItemOutcome {
	kind := domain.KindCancelled
	if ctxErr != nil {
		kind = domain.ErrorKindOf(ctxErr)
	}

	return domain.BatchItemOutcome{
		ItemID:    id,
		ErrorKind: kind,
		Error:     "batch aborted before item was started",
	}
}

// taken from https://github.com/golang/go/wiki/SliceTricks
func partitionIds(ids []string, partitionSize int) [][]string {
	batches := make([][]string, 0, (len(ids)+partitionSize-1)/partitionSize)

	for partitionSize < len(ids) {
		ids, batches = ids[partitionSize:], append(batches, ids[0:partitionSize:partitionSize])
	}
	batches = append(batches, ids)

	return batches
}
