package collector

import (
	"context"

	"github.com/kurihiro0119/devops-activity-snapshot/internal/domain"
)

// DefaultMaxProjects caps a full organization scan
const DefaultMaxProjects = 750

// Collector defines the interface for fetching project resources from Azure DevOps.
//
// Every method returns an error with code UNAVAILABLE when the resource could not
// be fetched or decoded; the caller carries on without it. Any other error is fatal
// to the run.
type Collector interface {
	// GetProjects retrieves at most top projects of the organization
	GetProjects(ctx context.Context, top int) ([]*domain.Project, error)

	// GetProperties retrieves the process template properties of a project
	GetProperties(ctx context.Context, projectID string) ([]*domain.Property, error)

	// GetLatestWorkItem retrieves the most recently changed work item, or nil if the project has none
	GetLatestWorkItem(ctx context.Context, projectID string) (*domain.WorkItemReference, error)

	// GetWorkItem retrieves a single work item
	GetWorkItem(ctx context.Context, projectID string, workItemID int) (*domain.WorkItemDetail, error)

	// GetProjectAdmins retrieves the identities in the project administrators group
	GetProjectAdmins(ctx context.Context, projectID string) ([]*domain.Identity, error)

	// GetRepositories retrieves the Git repositories of a project
	GetRepositories(ctx context.Context, projectID string) ([]*domain.Repository, error)

	// GetLatestCommit retrieves the most recent commit of a repository, or nil if it is empty
	GetLatestCommit(ctx context.Context, projectID, repositoryID string) (*domain.Commit, error)
}

// ProgressCallback is a callback function for reporting progress
type ProgressCallback func(project string, progress float64)
