// Package client is the Go client for the trigger-layer HTTP API, used by
// the CLI.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/catalogd/tabload/internal/jobstore"
)

// Client talks to a running trigger server.
type Client struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// SubmitResult is the server's answer to a submission.
type SubmitResult struct {
	Accepted bool   `json:"accepted"`
	JobID    string `json:"job_id,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// ResourceStatus is the per-resource ingestion state.
type ResourceStatus struct {
	Status      string     `json:"status"`
	JobID       string     `json:"job_id"`
	LastUpdated *time.Time `json:"last_updated,omitempty"`
	LogExcerpt  []string   `json:"log_excerpt,omitempty"`
	Error       string     `json:"error,omitempty"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("calling %s: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%s returned status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decoding response from %s (status %d): %w", path, resp.StatusCode, err)
		}
	}
	return nil
}

// Submit asks the server to ingest a resource.
func (c *Client) Submit(ctx context.Context, resourceID string, ignoreHash bool) (*SubmitResult, error) {
	var res SubmitResult
	err := c.do(ctx, http.MethodPost, "/job", map[string]any{
		"resource_id": resourceID,
		"ignore_hash": ignoreHash,
	}, &res)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// Job fetches one job with its logs and metadata.
func (c *Client) Job(ctx context.Context, jobID string) (*jobstore.Job, error) {
	var job jobstore.Job
	if err := c.do(ctx, http.MethodGet, "/job/"+jobID, nil, &job); err != nil {
		return nil, err
	}
	if job.JobID == "" {
		return nil, fmt.Errorf("job %s not found", jobID)
	}
	return &job, nil
}

// Jobs lists recent jobs, newest first.
func (c *Client) Jobs(ctx context.Context) ([]jobstore.Job, error) {
	var jobs []jobstore.Job
	if err := c.do(ctx, http.MethodGet, "/job", nil, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// ResourceStatus fetches the ingestion state of a resource.
func (c *Client) ResourceStatus(ctx context.Context, resourceID string) (*ResourceStatus, error) {
	var status ResourceStatus
	if err := c.do(ctx, http.MethodGet, "/resource/"+resourceID, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Health pings the server.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}
