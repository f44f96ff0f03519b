package collector

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/kurihiro0119/devops-activity-snapshot/internal/domain"
	apperrors "github.com/kurihiro0119/devops-activity-snapshot/internal/errors"
)

const (
	adminContributionID = "ms.vss-admin-web.project-admin-overview-delay-load-data-provider"

	latestWorkItemQuery = "SELECT [System.Id] FROM workitems " +
		"WHERE [System.WorkItemType] <> '' AND [System.State] <> '' AND [System.TeamProject] = @project " +
		"ORDER BY [System.ChangedDate] DESC"
)

// devopsCollector implements Collector using the Azure DevOps REST API
type devopsCollector struct {
	client *Client
}

// NewDevOpsCollector creates a new Azure DevOps collector
func NewDevOpsCollector(client *Client) Collector {
	return &devopsCollector{client: client}
}

// GetProjects retrieves at most top projects of the organization
func (c *devopsCollector) GetProjects(ctx context.Context, top int) ([]*domain.Project, error) {
	if top <= 0 {
		top = DefaultMaxProjects
	}

	var resp projectListResponse
	if err := c.client.getJSON(ctx, fmt.Sprintf("/_apis/projects?$top=%d", top), &resp); err != nil {
		return nil, err
	}

	projects := make([]*domain.Project, 0, len(resp.Value))
	for _, p := range resp.Value {
		projects = append(projects, &domain.Project{
			ID:             p.ID,
			Name:           p.Name,
			Description:    p.Description,
			URL:            p.Links.Web.Href,
			LastUpdateTime: p.LastUpdateTime.Time,
		})
	}
	return projects, nil
}

// GetProperties retrieves the process template properties of a project
func (c *devopsCollector) GetProperties(ctx context.Context, projectID string) ([]*domain.Property, error) {
	path := fmt.Sprintf("/_apis/projects/%s/properties?keys=System.CurrentProcessTemplateId,System.Process%%20Template",
		url.PathEscape(projectID))

	var resp propertyListResponse
	if err := c.client.getJSON(ctx, path, &resp); err != nil {
		return nil, err
	}

	properties := make([]*domain.Property, 0, len(resp.Value))
	for _, p := range resp.Value {
		properties = append(properties, &domain.Property{Name: p.Name, Value: p.Value})
	}
	return properties, nil
}

// GetLatestWorkItem retrieves the most recently changed work item of a project
func (c *devopsCollector) GetLatestWorkItem(ctx context.Context, projectID string) (*domain.WorkItemReference, error) {
	path := fmt.Sprintf("/%s/_apis/wit/wiql?$top=1", url.PathEscape(projectID))

	var resp wiqlResponse
	if err := c.client.postJSON(ctx, path, wiqlRequest{Query: latestWorkItemQuery}, &resp); err != nil {
		return nil, err
	}

	if len(resp.WorkItems) == 0 {
		return nil, nil
	}
	item := resp.WorkItems[0]
	return &domain.WorkItemReference{ID: item.ID, URL: item.URL}, nil
}

// GetWorkItem retrieves a single work item
func (c *devopsCollector) GetWorkItem(ctx context.Context, projectID string, workItemID int) (*domain.WorkItemDetail, error) {
	path := fmt.Sprintf("/%s/_apis/wit/workitems/%d", url.PathEscape(projectID), workItemID)

	var resp workItemResponse
	if err := c.client.getJSON(ctx, path, &resp); err != nil {
		return nil, err
	}
	if resp.Fields == nil {
		return nil, apperrors.NewUnavailableError(resourceName(path), errors.New("response has no fields"))
	}

	return &domain.WorkItemDetail{
		ID:          resp.ID,
		Rev:         resp.Rev,
		ChangedDate: resp.Fields.ChangedDate.Time,
	}, nil
}

// GetProjectAdmins retrieves the identities in the project administrators group
func (c *devopsCollector) GetProjectAdmins(ctx context.Context, projectID string) ([]*domain.Identity, error) {
	const path = "/_apis/Contribution/HierarchyQuery"

	req := hierarchyQueryRequest{
		ContributionIDs: []string{adminContributionID},
		DataProviderContext: hierarchyProviderContext{
			Properties: map[string]string{"projectId": projectID},
		},
	}

	var resp hierarchyQueryResponse
	if err := c.client.postJSON(ctx, path, req, &resp); err != nil {
		return nil, err
	}

	if resp.DataProviders == nil || resp.DataProviders.AdminOverview == nil || resp.DataProviders.AdminOverview.ProjectAdmins == nil {
		return nil, apperrors.NewUnavailableError(path, errors.New("response has no project admins"))
	}

	payload := resp.DataProviders.AdminOverview.ProjectAdmins.Identities
	identities := make([]*domain.Identity, 0, len(payload))
	for _, id := range payload {
		identities = append(identities, &domain.Identity{
			SubjectKind: domain.SubjectKind(id.SubjectKind),
			DisplayName: id.DisplayName,
			MailAddress: id.MailAddress,
		})
	}
	return identities, nil
}

// GetRepositories retrieves the Git repositories of a project
func (c *devopsCollector) GetRepositories(ctx context.Context, projectID string) ([]*domain.Repository, error) {
	path := fmt.Sprintf("/%s/_apis/git/repositories", url.PathEscape(projectID))

	var resp repositoryListResponse
	if err := c.client.getJSON(ctx, path, &resp); err != nil {
		return nil, err
	}

	repos := make([]*domain.Repository, 0, len(resp.Value))
	for _, r := range resp.Value {
		repos = append(repos, &domain.Repository{ID: r.ID, Name: r.Name, URL: r.URL})
	}
	return repos, nil
}

// GetLatestCommit retrieves the most recent commit of a repository
func (c *devopsCollector) GetLatestCommit(ctx context.Context, projectID, repositoryID string) (*domain.Commit, error) {
	path := fmt.Sprintf("/%s/_apis/git/repositories/%s/commits?searchCriteria.$top=1",
		url.PathEscape(projectID), url.PathEscape(repositoryID))

	var resp commitListResponse
	if err := c.client.getJSON(ctx, path, &resp); err != nil {
		return nil, err
	}

	if len(resp.Value) == 0 {
		return nil, nil
	}
	commit := resp.Value[0]
	if commit.Committer == nil {
		return nil, apperrors.NewUnavailableError(resourceName(path), errors.New("commit has no committer"))
	}
	return &domain.Commit{CommitterDate: commit.Committer.Date.Time}, nil
}
