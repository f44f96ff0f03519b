package aggregator

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kurihiro0119/devops-activity-snapshot/internal/collector"
	"github.com/kurihiro0119/devops-activity-snapshot/internal/domain"
	apperrors "github.com/kurihiro0119/devops-activity-snapshot/internal/errors"
)

// DefaultConcurrency is the number of projects processed at the same time
const DefaultConcurrency = 4

// Aggregator defines the interface for building project activity records
type Aggregator interface {
	// Aggregate discovers the projects of the organization and builds one record per project.
	// Records keep the order in which the projects were listed.
	Aggregate(ctx context.Context, onProgress collector.ProgressCallback) ([]*domain.ProjectActivity, error)

	// AggregateProject builds the activity record of a single project
	AggregateProject(ctx context.Context, project *domain.Project) (*domain.ProjectActivity, error)
}

// Options configures the aggregator
type Options struct {
	BaseURI     string
	MaxProjects int
	Concurrency int
	Logger      *slog.Logger
}

// aggregator implements the Aggregator interface
type aggregator struct {
	collector   collector.Collector
	baseURI     string
	maxProjects int
	concurrency int
	logger      *slog.Logger
}

// NewAggregator creates a new aggregator
func NewAggregator(coll collector.Collector, opts Options) Aggregator {
	if opts.MaxProjects <= 0 {
		opts.MaxProjects = collector.DefaultMaxProjects
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &aggregator{
		collector:   coll,
		baseURI:     opts.BaseURI,
		maxProjects: opts.MaxProjects,
		concurrency: opts.Concurrency,
		logger:      opts.Logger,
	}
}

// Aggregate discovers the projects and aggregates them with a bounded worker pool.
// The first fatal error cancels the remaining work and no records are returned.
func (a *aggregator) Aggregate(ctx context.Context, onProgress collector.ProgressCallback) ([]*domain.ProjectActivity, error) {
	projects, err := a.collector.GetProjects(ctx, a.maxProjects)
	if err != nil {
		if apperrors.IsUnavailable(err) {
			a.logger.Warn("project list unavailable", "error", err)
			return []*domain.ProjectActivity{}, nil
		}
		return nil, err
	}

	records := make([]*domain.ProjectActivity, len(projects))
	var done atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)

	for i, project := range projects {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			a.logger.Info("processing project", "project", project.Name)
			record, err := a.AggregateProject(gctx, project)
			if err != nil {
				return fmt.Errorf("project %s: %w", project.Name, err)
			}
			records[i] = record

			if onProgress != nil {
				onProgress(project.Name, float64(done.Add(1))/float64(len(projects)))
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return records, nil
}

// AggregateProject builds one record. Unavailable resources leave their fields at
// the defaults; any other error is returned.
func (a *aggregator) AggregateProject(ctx context.Context, project *domain.Project) (*domain.ProjectActivity, error) {
	record := domain.NewProjectActivity(project, a.projectURL(project))

	var (
		processTemplate string
		workItemDate    time.Time
		owners          []domain.Owner
		commitDate      time.Time
		commitFound     bool
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		processTemplate, err = a.processTemplate(gctx, project)
		return err
	})
	g.Go(func() (err error) {
		workItemDate, err = a.lastWorkItemDate(gctx, project)
		return err
	})
	g.Go(func() (err error) {
		owners, err = a.owners(gctx, project)
		return err
	})
	g.Go(func() (err error) {
		commitDate, commitFound, err = a.lastCommitDate(gctx, project)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	record.ProcessTemplate = processTemplate
	if workItemDate.After(record.LastWorkItemDate) {
		record.LastWorkItemDate = workItemDate
	}
	record.Owners = append(record.Owners, owners...)
	if commitFound {
		record.LastCommitDate = commitDate
	}
	return record, nil
}

// projectURL prefers the web URL supplied by the platform
func (a *aggregator) projectURL(project *domain.Project) string {
	if project.URL != "" {
		return project.URL
	}
	return a.baseURI + "/" + url.PathEscape(project.Name)
}

func (a *aggregator) processTemplate(ctx context.Context, project *domain.Project) (string, error) {
	properties, err := a.collector.GetProperties(ctx, project.ID)
	if err != nil {
		return "", a.tolerate(project, err)
	}

	template := ""
	for _, p := range properties {
		if p.Name == domain.ProcessTemplateProperty {
			template = p.Value
		}
	}
	return template, nil
}

func (a *aggregator) lastWorkItemDate(ctx context.Context, project *domain.Project) (time.Time, error) {
	ref, err := a.collector.GetLatestWorkItem(ctx, project.ID)
	if err != nil || ref == nil {
		return time.Time{}, a.tolerate(project, err)
	}

	detail, err := a.collector.GetWorkItem(ctx, project.ID, ref.ID)
	if err != nil {
		return time.Time{}, a.tolerate(project, err)
	}
	return detail.ChangedDate, nil
}

func (a *aggregator) owners(ctx context.Context, project *domain.Project) ([]domain.Owner, error) {
	identities, err := a.collector.GetProjectAdmins(ctx, project.ID)
	if err != nil {
		return nil, a.tolerate(project, err)
	}

	var owners []domain.Owner
	for _, identity := range identities {
		if identity.IsUser() {
			owners = append(owners, domain.Owner{
				DisplayName: identity.DisplayName,
				MailAddress: identity.MailAddress,
			})
		}
	}
	return owners, nil
}

// lastCommitDate walks the repositories in listed order. Each repository with a
// commit overwrites the result, so the last such repository wins rather than the
// most recent commit.
func (a *aggregator) lastCommitDate(ctx context.Context, project *domain.Project) (time.Time, bool, error) {
	repos, err := a.collector.GetRepositories(ctx, project.ID)
	if err != nil {
		return time.Time{}, false, a.tolerate(project, err)
	}

	var (
		last  time.Time
		found bool
	)
	for _, repo := range repos {
		commit, err := a.collector.GetLatestCommit(ctx, project.ID, repo.ID)
		if err != nil {
			if err := a.tolerate(project, err); err != nil {
				return time.Time{}, false, err
			}
			continue
		}
		if commit == nil {
			continue
		}
		last = commit.CommitterDate
		found = true
	}
	return last, found, nil
}

// tolerate swallows unavailable resources and passes every other error through
func (a *aggregator) tolerate(project *domain.Project, err error) error {
	if err == nil {
		return nil
	}
	if apperrors.IsUnavailable(err) {
		a.logger.Debug("resource unavailable", "project", project.Name, "error", err)
		return nil
	}
	return err
}
