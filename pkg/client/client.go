package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kurihiro0119/devops-activity-snapshot/internal/domain"
)

// Client is the API client for the activity snapshot dashboard
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new API client
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// GetData retrieves the project activity records of the last successful run
func (c *Client) GetData(ctx context.Context) ([]*domain.ProjectActivity, error) {
	var records []*domain.ProjectActivity
	if err := c.get(ctx, "/api/data", nil, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// GetStatus retrieves the outcome of the last run
func (c *Client) GetStatus(ctx context.Context) (*domain.RunStatus, error) {
	var status domain.RunStatus
	if err := c.get(ctx, "/api/status", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// GetRuns retrieves the most recent runs from the run ledger
func (c *Client) GetRuns(ctx context.Context, limit int) ([]*domain.CollectionRun, error) {
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	var response struct {
		Data []*domain.CollectionRun `json:"data"`
	}
	if err := c.get(ctx, "/api/runs", params, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// GetRunProjects retrieves the records produced by one run
func (c *Client) GetRunProjects(ctx context.Context, runID string) ([]*domain.ProjectActivity, error) {
	path := fmt.Sprintf("/api/runs/%s/projects", url.PathEscape(runID))

	var response struct {
		Data []*domain.ProjectActivity `json:"data"`
	}
	if err := c.get(ctx, path, nil, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// HealthCheck checks if the API is healthy
func (c *Client) HealthCheck(ctx context.Context) error {
	var response struct {
		Status string `json:"status"`
	}
	if err := c.get(ctx, "/health", nil, &response); err != nil {
		return err
	}
	if response.Status != "ok" {
		return fmt.Errorf("unhealthy status: %s", response.Status)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, result any) error {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return err
	}
	if len(params) > 0 {
		u.RawQuery = params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API error: %s - %s", resp.Status, strings.TrimSpace(string(body)))
	}

	return json.NewDecoder(resp.Body).Decode(result)
}
