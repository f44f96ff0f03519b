package collector

// Response shapes of the Azure DevOps endpoints used by the collector.
// Only the fields the snapshot needs are decoded.

type projectListResponse struct {
	Count int              `json:"count"`
	Value []projectPayload `json:"value"`
}

type projectPayload struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	Description    string  `json:"description"`
	URL            string  `json:"url"`
	State          string  `json:"state"`
	LastUpdateTime apiTime `json:"lastUpdateTime"`
	Links          struct {
		Web struct {
			Href string `json:"href"`
		} `json:"web"`
	} `json:"_links"`
}

type propertyListResponse struct {
	Count int               `json:"count"`
	Value []propertyPayload `json:"value"`
}

type propertyPayload struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type wiqlRequest struct {
	Query string `json:"query"`
}

type wiqlResponse struct {
	QueryType string               `json:"queryType"`
	WorkItems []workItemRefPayload `json:"workItems"`
}

type workItemRefPayload struct {
	ID  int    `json:"id"`
	URL string `json:"url"`
}

type workItemResponse struct {
	ID     int `json:"id"`
	Rev    int `json:"rev"`
	Fields *struct {
		ChangedDate apiTime `json:"System.ChangedDate"`
	} `json:"fields"`
}

type hierarchyQueryRequest struct {
	ContributionIDs     []string                 `json:"contributionIds"`
	DataProviderContext hierarchyProviderContext `json:"dataProviderContext"`
}

type hierarchyProviderContext struct {
	Properties map[string]string `json:"properties"`
}

type hierarchyQueryResponse struct {
	DataProviders *struct {
		AdminOverview *struct {
			ProjectAdmins *struct {
				Identities         []identityPayload `json:"identities"`
				TotalIdentityCount int               `json:"totalIdentityCount"`
			} `json:"projectAdmins"`
		} `json:"ms.vss-admin-web.project-admin-overview-delay-load-data-provider"`
	} `json:"dataProviders"`
}

type identityPayload struct {
	SubjectKind string `json:"subjectKind"`
	DisplayName string `json:"displayName"`
	MailAddress string `json:"mailAddress"`
}

type repositoryListResponse struct {
	Count int                 `json:"count"`
	Value []repositoryPayload `json:"value"`
}

type repositoryPayload struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`
}

type commitListResponse struct {
	Count int             `json:"count"`
	Value []commitPayload `json:"value"`
}

type commitPayload struct {
	CommitID  string `json:"commitId"`
	Committer *struct {
		Name  string  `json:"name"`
		Email string  `json:"email"`
		Date  apiTime `json:"date"`
	} `json:"committer"`
}
