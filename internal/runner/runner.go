package runner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kurihiro0119/devops-activity-snapshot/internal/aggregator"
	"github.com/kurihiro0119/devops-activity-snapshot/internal/collector"
	"github.com/kurihiro0119/devops-activity-snapshot/internal/domain"
	apperrors "github.com/kurihiro0119/devops-activity-snapshot/internal/errors"
	"github.com/kurihiro0119/devops-activity-snapshot/internal/snapshot"
	"github.com/kurihiro0119/devops-activity-snapshot/internal/storage"
)

// Options configures a Runner
type Options struct {
	BaseURI string

	// Ledger records each run; nil disables it
	Ledger storage.Storage
	Logger *slog.Logger

	// Now defaults to time.Now
	Now func() time.Time
}

// Runner executes one collection run and publishes its artifacts
type Runner struct {
	aggregator aggregator.Aggregator
	snapshots  *snapshot.Store
	ledger     storage.Storage
	baseURI    string
	logger     *slog.Logger
	now        func() time.Time
}

// NewRunner creates a new runner
func NewRunner(agg aggregator.Aggregator, snapshots *snapshot.Store, opts Options) *Runner {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Runner{
		aggregator: agg,
		snapshots:  snapshots,
		ledger:     opts.Ledger,
		baseURI:    opts.BaseURI,
		logger:     opts.Logger,
		now:        opts.Now,
	}
}

// Run aggregates every project and writes the artifacts.
//
// On success the data artifact is replaced first and the status artifact second.
// On failure only the status artifact is replaced, leaving the data of the last
// successful run in place. The returned status is the one written; the error is
// the cause of a failed run.
func (r *Runner) Run(ctx context.Context, onProgress collector.ProgressCallback) (*domain.RunStatus, error) {
	run := &domain.CollectionRun{
		ID:        uuid.New().String(),
		BaseURI:   r.baseURI,
		State:     domain.RunStateInProgress,
		StartedAt: r.now().UTC(),
	}
	r.saveRun(ctx, run)

	logger := r.logger.With("run_id", run.ID)
	logger.Info("collection started", "base_uri", r.baseURI)

	records, err := r.aggregator.Aggregate(ctx, onProgress)
	if err == nil {
		err = r.snapshots.WriteActivities(records)
	}
	if err != nil {
		return r.fail(ctx, logger, run, err)
	}

	status := domain.NewSuccessStatus(r.now().UTC(), len(records))
	if err := r.snapshots.WriteStatus(status); err != nil {
		return r.fail(ctx, logger, run, err)
	}
	logger.Info(status.Message, "projects", len(records))

	r.finishRun(ctx, run, domain.RunStateCompleted, status, len(records))
	if r.ledger != nil {
		if err := r.ledger.SaveProjectActivities(context.WithoutCancel(ctx), run.ID, records); err != nil {
			logger.Warn("failed to record project activities", "error", err)
		}
	}
	return status, nil
}

func (r *Runner) fail(ctx context.Context, logger *slog.Logger, run *domain.CollectionRun, cause error) (*domain.RunStatus, error) {
	status := domain.NewFailureStatus(r.now().UTC(), apperrors.Message(cause))
	logger.Error(status.Message, "error", cause)

	if err := r.snapshots.WriteStatus(status); err != nil {
		logger.Error("failed to write status", "error", err)
		cause = fmt.Errorf("%w (status not written: %v)", cause, err)
	}

	r.finishRun(ctx, run, domain.RunStateFailed, status, 0)
	return status, cause
}

func (r *Runner) finishRun(ctx context.Context, run *domain.CollectionRun, state domain.RunState, status *domain.RunStatus, count int) {
	finished := status.Date
	run.State = state
	run.Message = status.Message
	run.ProjectCount = count
	run.FinishedAt = &finished
	r.saveRun(ctx, run)
}

// saveRun writes to the ledger; a ledger failure never fails the run
func (r *Runner) saveRun(ctx context.Context, run *domain.CollectionRun) {
	if r.ledger == nil {
		return
	}
	// the ledger outlives a cancelled collection
	if err := r.ledger.SaveRun(context.WithoutCancel(ctx), run); err != nil {
		r.logger.Warn("failed to record run", "run_id", run.ID, "state", run.State, "error", err)
	}
}
