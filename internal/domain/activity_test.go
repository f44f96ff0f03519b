package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestLastKnownActivity(t *testing.T) {
	jan, feb, mar := day(2024, 1, 1), day(2024, 2, 1), day(2024, 3, 1)

	tests := []struct {
		name     string
		update   time.Time
		commit   time.Time
		workItem time.Time
		want     time.Time
	}{
		{"work item latest", jan, feb, mar, mar},
		{"commit latest", jan, mar, feb, mar},
		{"update latest", mar, jan, feb, mar},
		{"all zero", time.Time{}, time.Time{}, time.Time{}, time.Time{}},
		{"only update", feb, time.Time{}, time.Time{}, feb},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := ProjectActivity{
				LastProjectUpdateTime: tt.update,
				LastCommitDate:        tt.commit,
				LastWorkItemDate:      tt.workItem,
			}
			assert.Equal(t, tt.want, p.LastKnownActivity())
		})
	}
}

func TestProjectAge(t *testing.T) {
	p := ProjectActivity{LastWorkItemDate: day(2024, 3, 1)}

	assert.InDelta(t, 10.5, p.ProjectAge(day(2024, 3, 11).Add(12*time.Hour)), 1e-9)
	assert.GreaterOrEqual(t, p.ProjectAge(time.Now()), 0.0)
}

func TestNewProjectActivity(t *testing.T) {
	project := &Project{ID: "P1", Name: "Demo", Description: "d", LastUpdateTime: day(2024, 1, 1)}

	record := NewProjectActivity(project, "https://dev.azure.com/org/Demo")
	assert.Equal(t, "P1", record.ProjectID)
	assert.Equal(t, "https://dev.azure.com/org/Demo", record.URL)
	assert.NotNil(t, record.Owners)
	assert.Empty(t, record.Owners)
	assert.Empty(t, record.ProcessTemplate)
	assert.True(t, record.LastCommitDate.IsZero())
	assert.True(t, record.LastWorkItemDate.IsZero())
}

func TestProjectActivity_MarshalJSON(t *testing.T) {
	record := &ProjectActivity{
		ProjectID:             "P1",
		Name:                  "Demo",
		URL:                   "https://dev.azure.com/org/Demo",
		ProcessTemplate:       "Agile",
		LastProjectUpdateTime: day(2024, 1, 1),
		LastCommitDate:        day(2024, 2, 1),
		LastWorkItemDate:      day(2024, 3, 1),
	}

	data, err := json.Marshal(record)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, "P1", decoded["ProjectId"])
	assert.Equal(t, "https://dev.azure.com/org/Demo", decoded["Url"])
	assert.Equal(t, []any{}, decoded["Owners"])
	assert.Equal(t, "2024-03-01T00:00:00Z", decoded["LastKnownActivity"])
	assert.Greater(t, decoded["ProjectAge"].(float64), 0.0)

	var back ProjectActivity
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, record.LastCommitDate, back.LastCommitDate)
}

func TestRunStatus(t *testing.T) {
	now := day(2024, 4, 1)

	ok := NewSuccessStatus(now, 3)
	assert.False(t, ok.Error)
	assert.Equal(t, "3 Projects processed.", ok.Message)

	failed := NewFailureStatus(now, "token expired")
	assert.True(t, failed.Error)
	assert.Equal(t, "token expired", failed.Message)
	assert.Equal(t, now, failed.Date)
}

func TestIdentityIsUser(t *testing.T) {
	assert.True(t, (&Identity{SubjectKind: SubjectKindUser}).IsUser())
	assert.False(t, (&Identity{SubjectKind: SubjectKindGroup}).IsUser())
	assert.False(t, (&Identity{}).IsUser())
}
