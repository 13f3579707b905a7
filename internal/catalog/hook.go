package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// HookPayload is the job state delivered to a callback URL.
type HookPayload struct {
	JobID    string          `json:"job_id"`
	Status   string          `json:"status"`
	Metadata map[string]any  `json:"metadata,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// Notifier delivers interim and final job states to a caller-supplied
// callback URL. Delivery failures are logged but never fail the job; the
// job store remains the source of truth.
type Notifier struct {
	http *http.Client
	log  *slog.Logger
}

func NewNotifier(log *slog.Logger) *Notifier {
	return &Notifier{
		http: &http.Client{Timeout: 15 * time.Second},
		log:  log,
	}
}

// Notify posts the payload to url, authenticating with the api key the
// submitter provided. Returns the delivery error for the caller's logging;
// callers must not fail the job on it.
func (n *Notifier) Notify(ctx context.Context, url, apiKey string, payload HookPayload) error {
	if url == "" {
		return nil
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding callback payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building callback request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", apiKey)
	}

	resp, err := n.http.Do(req)
	if err != nil {
		return fmt.Errorf("delivering callback to %s: %w", url, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("callback to %s returned status %d", url, resp.StatusCode)
	}
	n.log.Debug("callback delivered", "url", url, "job_id", payload.JobID, "status", payload.Status)
	return nil
}
