package domain

import (
	"encoding/json"
	"time"
)

// ProjectActivity is the aggregated activity record of one project.
//
// The three timestamps stay at the zero time when their source was unavailable.
// A zero value is indistinguishable from a platform-reported zero date and is
// kept as is.
type ProjectActivity struct {
	ProjectID             string    `json:"ProjectId"`
	Name                  string    `json:"Name"`
	Description           string    `json:"Description"`
	URL                   string    `json:"Url"`
	Owners                []Owner   `json:"Owners"`
	ProcessTemplate       string    `json:"ProcessTemplate"`
	LastProjectUpdateTime time.Time `json:"LastProjectUpdateTime"`
	LastCommitDate        time.Time `json:"LastCommitDate"`
	LastWorkItemDate      time.Time `json:"LastWorkItemDate"`
}

// NewProjectActivity initializes a record from a fetched project
func NewProjectActivity(project *Project, url string) *ProjectActivity {
	return &ProjectActivity{
		ProjectID:             project.ID,
		Name:                  project.Name,
		Description:           project.Description,
		URL:                   url,
		Owners:                []Owner{},
		LastProjectUpdateTime: project.LastUpdateTime,
	}
}

// LastKnownActivity returns the most recent of the three activity timestamps
func (p ProjectActivity) LastKnownActivity() time.Time {
	latest := p.LastProjectUpdateTime
	if latest.Before(p.LastCommitDate) {
		latest = p.LastCommitDate
	}
	if latest.Before(p.LastWorkItemDate) {
		latest = p.LastWorkItemDate
	}
	return latest
}

// ProjectAge returns the number of days between the last known activity and now
func (p ProjectActivity) ProjectAge(now time.Time) float64 {
	return now.Sub(p.LastKnownActivity()).Hours() / 24
}

// MarshalJSON adds the derived LastKnownActivity and ProjectAge fields
func (p ProjectActivity) MarshalJSON() ([]byte, error) {
	type record ProjectActivity
	owners := p.Owners
	if owners == nil {
		owners = []Owner{}
	}
	r := record(p)
	r.Owners = owners

	return json.Marshal(struct {
		record
		LastKnownActivity time.Time `json:"LastKnownActivity"`
		ProjectAge        float64   `json:"ProjectAge"`
	}{
		record:            r,
		LastKnownActivity: p.LastKnownActivity(),
		ProjectAge:        p.ProjectAge(time.Now()),
	})
}
