package storage

import (
	"context"

	"github.com/kurihiro0119/devops-activity-snapshot/internal/domain"
)

// DefaultRunLimit is the number of runs returned when no limit is given
const DefaultRunLimit = 20

// Storage is the abstract interface for the run ledger.
// The collector only writes to it; no run ever reads a previous one back.
type Storage interface {
	// Run operations
	SaveRun(ctx context.Context, run *domain.CollectionRun) error
	GetRun(ctx context.Context, id string) (*domain.CollectionRun, error)
	GetRuns(ctx context.Context, limit int) ([]*domain.CollectionRun, error)

	// Activity records produced by a completed run
	SaveProjectActivities(ctx context.Context, runID string, records []*domain.ProjectActivity) error
	GetProjectActivities(ctx context.Context, runID string) ([]*domain.ProjectActivity, error)

	// Migration
	Migrate(ctx context.Context) error

	// Connection management
	Close() error
}
