package aggregator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurihiro0119/devops-activity-snapshot/internal/domain"
	apperrors "github.com/kurihiro0119/devops-activity-snapshot/internal/errors"
)

type fakeCollector struct {
	projects   []*domain.Project
	properties map[string][]*domain.Property
	workItems  map[string]*domain.WorkItemReference
	details    map[int]*domain.WorkItemDetail
	admins     map[string][]*domain.Identity
	repos      map[string][]*domain.Repository
	commits    map[string]*domain.Commit

	// errs is keyed by "<resource>:<id>", e.g. "properties:P1"
	errs map[string]error

	mu      sync.Mutex
	visited map[string]int
}

func newFakeCollector() *fakeCollector {
	return &fakeCollector{
		properties: make(map[string][]*domain.Property),
		workItems:  make(map[string]*domain.WorkItemReference),
		details:    make(map[int]*domain.WorkItemDetail),
		admins:     make(map[string][]*domain.Identity),
		repos:      make(map[string][]*domain.Repository),
		commits:    make(map[string]*domain.Commit),
		errs:       make(map[string]error),
		visited:    make(map[string]int),
	}
}

func (f *fakeCollector) visit(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.visited[key]++
	return f.errs[key]
}

func (f *fakeCollector) visits(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.visited[key]
}

func (f *fakeCollector) GetProjects(ctx context.Context, top int) ([]*domain.Project, error) {
	if err := f.visit("projects:"); err != nil {
		return nil, err
	}
	if top < len(f.projects) {
		return f.projects[:top], nil
	}
	return f.projects, nil
}

func (f *fakeCollector) GetProperties(ctx context.Context, projectID string) ([]*domain.Property, error) {
	if err := f.visit("properties:" + projectID); err != nil {
		return nil, err
	}
	return f.properties[projectID], nil
}

func (f *fakeCollector) GetLatestWorkItem(ctx context.Context, projectID string) (*domain.WorkItemReference, error) {
	if err := f.visit("workitems:" + projectID); err != nil {
		return nil, err
	}
	return f.workItems[projectID], nil
}

func (f *fakeCollector) GetWorkItem(ctx context.Context, projectID string, workItemID int) (*domain.WorkItemDetail, error) {
	if err := f.visit(fmt.Sprintf("workitem:%d", workItemID)); err != nil {
		return nil, err
	}
	detail, ok := f.details[workItemID]
	if !ok {
		return nil, apperrors.NewUnavailableError("work item", nil)
	}
	return detail, nil
}

func (f *fakeCollector) GetProjectAdmins(ctx context.Context, projectID string) ([]*domain.Identity, error) {
	if err := f.visit("admins:" + projectID); err != nil {
		return nil, err
	}
	return f.admins[projectID], nil
}

func (f *fakeCollector) GetRepositories(ctx context.Context, projectID string) ([]*domain.Repository, error) {
	if err := f.visit("repos:" + projectID); err != nil {
		return nil, err
	}
	return f.repos[projectID], nil
}

func (f *fakeCollector) GetLatestCommit(ctx context.Context, projectID, repositoryID string) (*domain.Commit, error) {
	if err := f.visit("commits:" + repositoryID); err != nil {
		return nil, err
	}
	return f.commits[repositoryID], nil
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// addDemoProject registers a fully populated project
func (f *fakeCollector) addDemoProject(id, name string) {
	f.projects = append(f.projects, &domain.Project{
		ID:             id,
		Name:           name,
		Description:    name + " description",
		LastUpdateTime: date(2024, 1, 1),
	})
	f.properties[id] = []*domain.Property{
		{Name: "System.CurrentProcessTemplateId", Value: "adcc42ab-9882-485e-a3ed-7678f01f66bc"},
		{Name: domain.ProcessTemplateProperty, Value: "Agile"},
	}
	wid := 40 + len(f.projects)
	f.workItems[id] = &domain.WorkItemReference{ID: wid}
	f.details[wid] = &domain.WorkItemDetail{ID: wid, Rev: 1, ChangedDate: date(2024, 3, 1)}
	f.admins[id] = []*domain.Identity{
		{SubjectKind: domain.SubjectKindUser, DisplayName: "Alice", MailAddress: "alice@x.com"},
	}
	repoID := "R-" + id
	f.repos[id] = []*domain.Repository{{ID: repoID, Name: name}}
	f.commits[repoID] = &domain.Commit{CommitterDate: date(2024, 2, 1)}
}

func newTestAggregator(coll *fakeCollector, concurrency int) Aggregator {
	return NewAggregator(coll, Options{
		BaseURI:     "https://dev.azure.com/org",
		Concurrency: concurrency,
	})
}

func TestAggregate_ExampleScenario(t *testing.T) {
	coll := newFakeCollector()
	coll.addDemoProject("P1", "Demo")

	records, err := newTestAggregator(coll, 2).Aggregate(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, records, 1)

	want := &domain.ProjectActivity{
		ProjectID:             "P1",
		Name:                  "Demo",
		Description:           "Demo description",
		URL:                   "https://dev.azure.com/org/Demo",
		Owners:                []domain.Owner{{DisplayName: "Alice", MailAddress: "alice@x.com"}},
		ProcessTemplate:       "Agile",
		LastProjectUpdateTime: date(2024, 1, 1),
		LastCommitDate:        date(2024, 2, 1),
		LastWorkItemDate:      date(2024, 3, 1),
	}
	assert.Equal(t, want, records[0])
	assert.Equal(t, date(2024, 3, 1), records[0].LastKnownActivity())
}

func TestAggregate_OneRecordPerProjectInOrder(t *testing.T) {
	coll := newFakeCollector()
	for i := 1; i <= 12; i++ {
		coll.addDemoProject(fmt.Sprintf("P%d", i), fmt.Sprintf("Project %d", i))
	}

	var (
		mu       sync.Mutex
		progress []float64
	)
	records, err := newTestAggregator(coll, 3).Aggregate(context.Background(), func(project string, p float64) {
		mu.Lock()
		defer mu.Unlock()
		progress = append(progress, p)
	})
	require.NoError(t, err)
	require.Len(t, records, 12)

	for i, r := range records {
		assert.Equal(t, fmt.Sprintf("P%d", i+1), r.ProjectID)
	}
	assert.Len(t, progress, 12)
	assert.Contains(t, progress, 1.0)
}

func TestAggregate_PropertiesUnavailableForOneProject(t *testing.T) {
	coll := newFakeCollector()
	coll.addDemoProject("P1", "One")
	coll.addDemoProject("P2", "Two")
	coll.errs["properties:P2"] = apperrors.NewUnavailableError("properties", errors.New("status 500"))

	records, err := newTestAggregator(coll, 2).Aggregate(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "Agile", records[0].ProcessTemplate)

	two := records[1]
	assert.Equal(t, "P2", two.ProjectID)
	assert.Empty(t, two.ProcessTemplate)
	assert.Equal(t, date(2024, 3, 1), two.LastWorkItemDate)
	assert.Equal(t, date(2024, 2, 1), two.LastCommitDate)
	assert.Len(t, two.Owners, 1)
}

func TestAggregateProject_EverythingUnavailable(t *testing.T) {
	coll := newFakeCollector()
	coll.addDemoProject("P1", "Demo")
	unavailable := apperrors.NewUnavailableError("resource", nil)
	for _, key := range []string{"properties:P1", "workitems:P1", "admins:P1", "repos:P1"} {
		coll.errs[key] = unavailable
	}

	records, err := newTestAggregator(coll, 1).Aggregate(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, records, 1)

	r := records[0]
	assert.Empty(t, r.ProcessTemplate)
	assert.NotNil(t, r.Owners)
	assert.Empty(t, r.Owners)
	assert.True(t, r.LastCommitDate.IsZero())
	assert.True(t, r.LastWorkItemDate.IsZero())
	assert.Equal(t, date(2024, 1, 1), r.LastKnownActivity())
}

func TestAggregateProject_WorkItemDetailUnavailable(t *testing.T) {
	coll := newFakeCollector()
	coll.addDemoProject("P1", "Demo")
	delete(coll.details, coll.workItems["P1"].ID)

	record, err := newTestAggregator(coll, 1).AggregateProject(context.Background(), coll.projects[0])
	require.NoError(t, err)
	assert.True(t, record.LastWorkItemDate.IsZero())
}

func TestAggregateProject_NoWorkItems(t *testing.T) {
	coll := newFakeCollector()
	coll.addDemoProject("P1", "Demo")
	coll.workItems["P1"] = nil

	record, err := newTestAggregator(coll, 1).AggregateProject(context.Background(), coll.projects[0])
	require.NoError(t, err)
	assert.True(t, record.LastWorkItemDate.IsZero())
	assert.Zero(t, coll.visits("workitem:41"))
}

func TestAggregateProject_LastProcessedRepositoryWins(t *testing.T) {
	coll := newFakeCollector()
	coll.addDemoProject("P1", "Demo")
	coll.repos["P1"] = []*domain.Repository{{ID: "R1"}, {ID: "R2"}, {ID: "R3"}, {ID: "R4"}}
	coll.commits["R1"] = &domain.Commit{CommitterDate: date(2024, 5, 1)}
	coll.commits["R2"] = &domain.Commit{CommitterDate: date(2024, 2, 15)}
	// R3 has no commits, R4 is unavailable
	coll.errs["commits:R4"] = apperrors.NewUnavailableError("commits", nil)

	record, err := newTestAggregator(coll, 1).AggregateProject(context.Background(), coll.projects[0])
	require.NoError(t, err)
	assert.Equal(t, date(2024, 2, 15), record.LastCommitDate)
	assert.Equal(t, 1, coll.visits("commits:R4"))
}

func TestAggregateProject_OwnersKeepUsersWithoutDedup(t *testing.T) {
	coll := newFakeCollector()
	coll.addDemoProject("P1", "Demo")
	alice := &domain.Identity{SubjectKind: domain.SubjectKindUser, DisplayName: "Alice", MailAddress: "alice@x.com"}
	coll.admins["P1"] = []*domain.Identity{
		alice,
		{SubjectKind: domain.SubjectKindGroup, DisplayName: "[Demo]\\Project Administrators"},
		{SubjectKind: "servicePrincipal", DisplayName: "pipeline"},
		alice,
	}

	record, err := newTestAggregator(coll, 1).AggregateProject(context.Background(), coll.projects[0])
	require.NoError(t, err)
	assert.Equal(t, []domain.Owner{
		{DisplayName: "Alice", MailAddress: "alice@x.com"},
		{DisplayName: "Alice", MailAddress: "alice@x.com"},
	}, record.Owners)
}

func TestAggregateProject_URL(t *testing.T) {
	coll := newFakeCollector()
	agg := newTestAggregator(coll, 1)

	record, err := agg.AggregateProject(context.Background(), &domain.Project{ID: "P1", Name: "My Project"})
	require.NoError(t, err)
	assert.Equal(t, "https://dev.azure.com/org/My%20Project", record.URL)

	record, err = agg.AggregateProject(context.Background(), &domain.Project{ID: "P2", Name: "Other", URL: "https://dev.azure.com/org/web/Other"})
	require.NoError(t, err)
	assert.Equal(t, "https://dev.azure.com/org/web/Other", record.URL)
}

func TestAggregate_UnauthorizedAbortsRun(t *testing.T) {
	coll := newFakeCollector()
	for i := 1; i <= 10; i++ {
		coll.addDemoProject(fmt.Sprintf("P%d", i), fmt.Sprintf("Project %d", i))
	}
	coll.errs["repos:P1"] = apperrors.NewUnauthorizedError("token expired")

	records, err := newTestAggregator(coll, 1).Aggregate(context.Background(), nil)
	require.Error(t, err)
	assert.Nil(t, records)
	assert.True(t, apperrors.IsUnauthorized(err))

	// queued projects are never started
	for i := 3; i <= 10; i++ {
		assert.Zero(t, coll.visits(fmt.Sprintf("properties:P%d", i)), "P%d", i)
	}
}

func TestAggregate_UnexpectedErrorAbortsRun(t *testing.T) {
	coll := newFakeCollector()
	coll.addDemoProject("P1", "Demo")
	coll.errs["commits:R-P1"] = errors.New("connection reset by peer")

	records, err := newTestAggregator(coll, 1).Aggregate(context.Background(), nil)
	require.Error(t, err)
	assert.Nil(t, records)
	assert.Contains(t, err.Error(), "connection reset by peer")
}

func TestAggregate_ProjectListUnavailable(t *testing.T) {
	coll := newFakeCollector()
	coll.addDemoProject("P1", "Demo")
	coll.errs["projects:"] = apperrors.NewUnavailableError("projects", nil)

	records, err := newTestAggregator(coll, 1).Aggregate(context.Background(), nil)
	require.NoError(t, err)
	assert.NotNil(t, records)
	assert.Empty(t, records)
}

func TestAggregate_ProjectListUnauthorized(t *testing.T) {
	coll := newFakeCollector()
	coll.errs["projects:"] = apperrors.NewUnauthorizedError("token expired")

	_, err := newTestAggregator(coll, 1).Aggregate(context.Background(), nil)
	assert.True(t, apperrors.IsUnauthorized(err))
}

func TestAggregate_HonoursMaxProjects(t *testing.T) {
	coll := newFakeCollector()
	for i := 1; i <= 5; i++ {
		coll.addDemoProject(fmt.Sprintf("P%d", i), fmt.Sprintf("Project %d", i))
	}

	records, err := NewAggregator(coll, Options{MaxProjects: 3}).Aggregate(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, records, 3)
}

func TestAggregate_IdempotentUnderNoChange(t *testing.T) {
	coll := newFakeCollector()
	coll.addDemoProject("P1", "One")
	coll.addDemoProject("P2", "Two")
	agg := newTestAggregator(coll, 2)

	first, err := agg.Aggregate(context.Background(), nil)
	require.NoError(t, err)
	second, err := agg.Aggregate(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}
