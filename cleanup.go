package playermail

import (
	"context"
	"fmt"
	"time"

	"github.com/rbaliyan/playermail/store"
)

// reconcileBatchSize is how many converged records are loaded per pass.
const reconcileBatchSize = 100

// ReconcileResult contains the result of a reconciliation sweep.
type ReconcileResult struct {
	// Deleted is the number of records hard-deleted.
	Deleted int
	// Failed is the number of records that could not be removed.
	Failed int
	// Interrupted indicates the sweep stopped because ctx ended.
	Interrupted bool
}

// Reconcile hard-deletes records whose sender and receiver both deleted
// them. Delete normally removes such records immediately; they are only
// left behind when that removal failed.
//
// Call it periodically; see the maintenance package for a cron scheduler.
func (s *service) Reconcile(ctx context.Context) (*ReconcileResult, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	ctx, endSpan := s.otel.startSpan(ctx, "playermail.reconcile")
	result := &ReconcileResult{}
	var sweepErr error
	defer func() { endSpan(sweepErr) }()

	filters := store.DeletedByBoth()
	for {
		if ctx.Err() != nil {
			result.Interrupted = true
			sweepErr = ctx.Err()
			return result, sweepErr
		}

		// Records that failed stay in the result set; skip past them.
		page, err := s.store.Find(ctx, filters, store.ListOptions{
			Limit:     reconcileBatchSize,
			Offset:    result.Failed,
			SortBy:    "id",
			SortOrder: store.SortAsc,
		})
		if err != nil {
			sweepErr = fmt.Errorf("find converged mail: %w", err)
			return result, sweepErr
		}
		if len(page) == 0 {
			break
		}

		for _, m := range page {
			start := time.Now()
			err := s.purge(ctx, m, "")
			s.otel.recordDelete(ctx, time.Since(start), true, err)
			if err != nil {
				result.Failed++
				s.logger.Warn("reconcile failed to remove mail", "mail_id", m.ID, "error", err)
				continue
			}
			result.Deleted++
		}

		if len(page) < reconcileBatchSize {
			break
		}
	}

	if result.Deleted > 0 {
		s.logger.Info("reconciled converged mail", "deleted", result.Deleted, "failed", result.Failed)
	}
	return result, nil
}
