package domain

import "time"

// ProcessTemplateProperty is the project property holding the process template name
const ProcessTemplateProperty = "System.Process Template"

// SubjectKind classifies an identity returned by the platform
type SubjectKind string

const (
	SubjectKindUser  SubjectKind = "user"
	SubjectKindGroup SubjectKind = "group"
)

// Project represents a team project in the Azure DevOps organization
type Project struct {
	ID             string
	Name           string
	Description    string
	URL            string // web URL, empty when the platform does not supply one
	LastUpdateTime time.Time
}

// Property represents a single project property
type Property struct {
	Name  string
	Value string
}

// WorkItemReference points at a work item returned by a WIQL query
type WorkItemReference struct {
	ID  int
	URL string
}

// WorkItemDetail holds the fields of a work item the snapshot cares about
type WorkItemDetail struct {
	ID          int
	Rev         int
	ChangedDate time.Time
}

// Identity represents a project administrator entry
type Identity struct {
	SubjectKind SubjectKind
	DisplayName string
	MailAddress string
}

// IsUser reports whether the identity is a person rather than a group
func (i *Identity) IsUser() bool {
	return i.SubjectKind == SubjectKindUser
}

// Owner is a project administrator that is a user
type Owner struct {
	DisplayName string `json:"DisplayName"`
	MailAddress string `json:"MailAddress"`
}

// Repository represents a Git repository inside a project
type Repository struct {
	ID   string
	Name string
	URL  string
}

// Commit represents the latest commit of a repository
type Commit struct {
	CommitterDate time.Time
}
