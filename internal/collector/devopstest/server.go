// Package devopstest provides an in-process fake of the Azure DevOps REST endpoints
// used by the collector.
package devopstest

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
)

// Project is a fake team project and everything hanging off it
type Project struct {
	ID             string
	Name           string
	Description    string
	WebURL         string
	LastUpdateTime string

	ProcessTemplate string

	LatestWorkItemID    int
	WorkItemChangedDate string

	Admins []Identity

	Repositories []Repository
}

// Identity is a fake project administrator
type Identity struct {
	SubjectKind string
	DisplayName string
	MailAddress string
}

// Repository is a fake Git repository; an empty LatestCommitDate means no commits
type Repository struct {
	ID               string
	Name             string
	LatestCommitDate string
}

// Server is an httptest server speaking the subset of the Azure DevOps API the collector uses
type Server struct {
	*httptest.Server

	token string

	mu       sync.Mutex
	projects []*Project
	failures map[string]int
	requests []string
}

// NewServer starts a fake server accepting token as the personal access token
func NewServer(t testing.TB, token string, projects ...*Project) *Server {
	t.Helper()

	s := &Server{
		token:    token,
		projects: projects,
		failures: make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /_apis/projects", s.listProjects)
	mux.HandleFunc("GET /_apis/projects/{id}/properties", s.listProperties)
	mux.HandleFunc("POST /{project}/_apis/wit/wiql", s.queryWorkItems)
	mux.HandleFunc("GET /{project}/_apis/wit/workitems/{wid}", s.getWorkItem)
	mux.HandleFunc("POST /_apis/Contribution/HierarchyQuery", s.hierarchyQuery)
	mux.HandleFunc("GET /{project}/_apis/git/repositories", s.listRepositories)
	mux.HandleFunc("GET /{project}/_apis/git/repositories/{rid}/commits", s.listCommits)

	s.Server = httptest.NewServer(s.middleware(mux))
	t.Cleanup(s.Close)
	return s
}

// Fail makes every request to path answer with status
func (s *Server) Fail(path string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[path] = status
}

// Requests returns the paths requested so far
func (s *Server) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

func (s *Server) middleware(next http.Handler) http.Handler {
	want := "Basic " + base64.StdEncoding.EncodeToString([]byte(":"+s.token))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests = append(s.requests, r.URL.Path)
		status, failing := s.failures[r.URL.Path]
		s.mu.Unlock()

		if r.Header.Get("Authorization") != want {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Query().Get("api-version") == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if failing {
			w.WriteHeader(status)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) project(id string) *Project {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.projects {
		if p.ID == id {
			return p
		}
	}
	return nil
}

func (s *Server) listProjects(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	projects := append([]*Project(nil), s.projects...)
	s.mu.Unlock()

	if top, err := strconv.Atoi(r.URL.Query().Get("$top")); err == nil && top < len(projects) {
		projects = projects[:top]
	}

	value := make([]map[string]any, 0, len(projects))
	for _, p := range projects {
		item := map[string]any{
			"id":             p.ID,
			"name":           p.Name,
			"description":    p.Description,
			"url":            s.URL + "/_apis/projects/" + p.ID,
			"state":          "wellFormed",
			"lastUpdateTime": p.LastUpdateTime,
		}
		if p.WebURL != "" {
			item["_links"] = map[string]any{"web": map[string]any{"href": p.WebURL}}
		}
		value = append(value, item)
	}
	writeJSON(w, map[string]any{"count": len(value), "value": value})
}

func (s *Server) listProperties(w http.ResponseWriter, r *http.Request) {
	p := s.project(r.PathValue("id"))
	if p == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	value := []map[string]any{}
	if p.ProcessTemplate != "" {
		value = append(value,
			map[string]any{"name": "System.CurrentProcessTemplateId", "value": "adcc42ab-9882-485e-a3ed-7678f01f66bc"},
			map[string]any{"name": "System.Process Template", "value": p.ProcessTemplate},
		)
	}
	writeJSON(w, map[string]any{"count": len(value), "value": value})
}

func (s *Server) queryWorkItems(w http.ResponseWriter, r *http.Request) {
	p := s.project(r.PathValue("project"))
	if p == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	var body struct {
		Query string `json:"query"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Query == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	items := []map[string]any{}
	if p.LatestWorkItemID != 0 {
		items = append(items, map[string]any{
			"id":  p.LatestWorkItemID,
			"url": s.URL + "/_apis/wit/workItems/" + strconv.Itoa(p.LatestWorkItemID),
		})
	}
	writeJSON(w, map[string]any{"queryType": "flat", "workItems": items})
}

func (s *Server) getWorkItem(w http.ResponseWriter, r *http.Request) {
	p := s.project(r.PathValue("project"))
	wid, _ := strconv.Atoi(r.PathValue("wid"))
	if p == nil || wid == 0 || wid != p.LatestWorkItemID {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	writeJSON(w, map[string]any{
		"id":  wid,
		"rev": 3,
		"fields": map[string]any{
			"System.CreatedDate": p.LastUpdateTime,
			"System.ChangedDate": p.WorkItemChangedDate,
		},
	})
}

func (s *Server) hierarchyQuery(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ContributionIDs     []string `json:"contributionIds"`
		DataProviderContext struct {
			Properties map[string]string `json:"properties"`
		} `json:"dataProviderContext"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || len(body.ContributionIDs) != 1 {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	p := s.project(body.DataProviderContext.Properties["projectId"])
	if p == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	identities := make([]map[string]any, 0, len(p.Admins))
	for _, a := range p.Admins {
		identities = append(identities, map[string]any{
			"subjectKind": a.SubjectKind,
			"displayName": a.DisplayName,
			"mailAddress": a.MailAddress,
		})
	}
	writeJSON(w, map[string]any{
		"dataProviders": map[string]any{
			body.ContributionIDs[0]: map[string]any{
				"projectAdmins": map[string]any{
					"identities":         identities,
					"totalIdentityCount": len(identities),
				},
			},
		},
	})
}

func (s *Server) listRepositories(w http.ResponseWriter, r *http.Request) {
	p := s.project(r.PathValue("project"))
	if p == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	value := make([]map[string]any, 0, len(p.Repositories))
	for _, repo := range p.Repositories {
		value = append(value, map[string]any{
			"id":   repo.ID,
			"name": repo.Name,
			"url":  s.URL + "/_apis/git/repositories/" + repo.ID,
		})
	}
	writeJSON(w, map[string]any{"count": len(value), "value": value})
}

func (s *Server) listCommits(w http.ResponseWriter, r *http.Request) {
	p := s.project(r.PathValue("project"))
	if p == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	for _, repo := range p.Repositories {
		if repo.ID != r.PathValue("rid") {
			continue
		}
		value := []map[string]any{}
		if repo.LatestCommitDate != "" {
			value = append(value, map[string]any{
				"commitId":  "4b825dc642cb6eb9a060e54bf8d69288fbee4904",
				"committer": map[string]any{"name": "build", "email": "build@example.com", "date": repo.LatestCommitDate},
			})
		}
		writeJSON(w, map[string]any{"count": len(value), "value": value})
		return
	}
	w.WriteHeader(http.StatusNotFound)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
