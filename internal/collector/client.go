package collector

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	apperrors "github.com/kurihiro0119/devops-activity-snapshot/internal/errors"
)

const unauthorizedMessage = "Your personal-access-token to Azure DevOps is expired or not valid"

// ClientConfig configures the Azure DevOps transport client
type ClientConfig struct {
	BaseURI     string
	Token       string
	APIVersion  string
	Timeout     time.Duration
	RateLimiter RateLimiter
	Logger      *slog.Logger
}

// Client is the transport to the Azure DevOps REST API.
// The credential and API version are fixed at construction.
type Client struct {
	baseURI     string
	apiVersion  string
	httpClient  *http.Client
	rateLimiter RateLimiter
	logger      *slog.Logger
}

// NewClient creates a new transport client authenticating with a personal access token
func NewClient(cfg ClientConfig) *Client {
	// PATs are sent as basic auth with an empty user name
	credential := base64.StdEncoding.EncodeToString([]byte(":" + cfg.Token))
	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: credential, TokenType: "Basic"},
	)
	httpClient := oauth2.NewClient(context.Background(), ts)
	httpClient.Timeout = cfg.Timeout

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURI:     strings.TrimRight(cfg.BaseURI, "/"),
		apiVersion:  cfg.APIVersion,
		httpClient:  httpClient,
		rateLimiter: cfg.RateLimiter,
		logger:      logger,
	}
}

// BaseURI returns the organization URI the client talks to
func (c *Client) BaseURI() string {
	return c.baseURI
}

// Get performs a GET request and returns the response body
func (c *Client) Get(ctx context.Context, path string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

// Post performs a POST request with payload encoded as JSON and returns the response body
func (c *Client) Post(ctx context.Context, path string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to encode request body", err)
	}
	return c.do(ctx, http.MethodPost, path, body)
}

// getJSON fetches path and decodes the body into out
func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	data, err := c.Get(ctx, path)
	if err != nil {
		return err
	}
	return decode(path, data, out)
}

// postJSON posts payload to path and decodes the body into out
func (c *Client) postJSON(ctx context.Context, path string, payload, out any) error {
	data, err := c.Post(ctx, path, payload)
	if err != nil {
		return err
	}
	return decode(path, data, out)
}

func decode(path string, data []byte, out any) error {
	if err := json.Unmarshal(data, out); err != nil {
		return apperrors.NewUnavailableError(resourceName(path), fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	if c.rateLimiter != nil {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURI+c.withAPIVersion(path), reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, resourceName(path), err)
	}
	defer resp.Body.Close()

	c.observeRetryAfter(resp)

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusNonAuthoritativeInfo:
		return nil, apperrors.NewUnauthorizedError(unauthorizedMessage)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		_, _ = io.Copy(io.Discard, resp.Body)
		c.logger.Debug("resource unavailable", "method", method, "path", resourceName(path), "status", resp.StatusCode)
		return nil, apperrors.NewUnavailableError(resourceName(path), fmt.Errorf("status %d", resp.StatusCode))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, apperrors.NewUnavailableError(resourceName(path), err)
	}
	return data, nil
}

// withAPIVersion appends the api-version query parameter to path
func (c *Client) withAPIVersion(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "api-version=" + url.QueryEscape(c.apiVersion)
}

// observeRetryAfter pauses the rate limiter when the API asks us to slow down
func (c *Client) observeRetryAfter(resp *http.Response) {
	if c.rateLimiter == nil {
		return
	}
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return
	}
	if seconds, err := strconv.Atoi(v); err == nil {
		c.rateLimiter.Pause(time.Duration(seconds) * time.Second)
	}
}

// resourceName strips the query string for logs and error messages
func resourceName(path string) string {
	if i := strings.Index(path, "?"); i >= 0 {
		return path[:i]
	}
	return path
}
