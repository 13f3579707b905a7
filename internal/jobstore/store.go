package jobstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/surrealdb/surrealdb.go"
)

// Status is the lifecycle state of an ingestion job.
type Status string

const (
	StatusPending            Status = "pending"
	StatusRunning            Status = "running"
	StatusRunningButViewable Status = "running_but_viewable"
	StatusComplete           Status = "complete"
	StatusError              Status = "error"
)

// Terminal reports whether the status is a terminal state.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusError
}

// validTransitions is the job state machine. The error-to-pending edge
// exists only for the bounded transient-conflict retry.
var validTransitions = map[Status][]Status{
	StatusPending:            {StatusRunning},
	StatusRunning:            {StatusRunningButViewable, StatusComplete, StatusError},
	StatusRunningButViewable: {StatusComplete, StatusError},
	StatusComplete:           {},
	StatusError:              {StatusPending},
}

// ValidTransition reports whether the state machine allows the edge.
func ValidTransition(from, to Status) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Job is the durable record of one ingestion attempt.
type Job struct {
	JobID     string     `json:"job_id"`
	JobType   string     `json:"job_type"`
	Status    Status     `json:"status"`
	SentData  *string    `json:"sent_data,omitempty"`
	Data      *string    `json:"data,omitempty"`
	Error     *string    `json:"error,omitempty"`
	Requested time.Time  `json:"requested"`
	Finished  *time.Time `json:"finished,omitempty"`
	ResultURL *string    `json:"result_url,omitempty"`
	APIKey    *string    `json:"api_key,omitempty"`

	Metadata []Metadata `json:"metadata,omitempty"`
	Logs     []LogEntry `json:"logs,omitempty"`
}

// Metadata is an immutable key/value pair attached to a job. Type tells the
// reader whether Value is a raw string or a serialized JSON structure.
type Metadata struct {
	JobID string `json:"job_id"`
	Key   string `json:"key"`
	Value string `json:"value"`
	Type  string `json:"type"` // "string" or "json"
}

// JSONValue unmarshals a metadata value flagged as json.
func (m Metadata) JSONValue(v any) error {
	if m.Type != "json" {
		return fmt.Errorf("metadata %q is not json", m.Key)
	}
	return json.Unmarshal([]byte(m.Value), v)
}

// LogEntry is one timestamped log line attached to a job.
type LogEntry struct {
	JobID     string    `json:"job_id"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
	Level     string    `json:"level"`
	Module    *string   `json:"module,omitempty"`
	Function  *string   `json:"function,omitempty"`
	Line      *int      `json:"line,omitempty"`
}

// Update describes a partial job update. Nil fields are left untouched.
type Update struct {
	Status      *Status
	Data        *string
	Error       *string
	Finished    *time.Time
	ClearAPIKey bool
}

// CreatePending persists a new job with status pending. Fails with
// ErrDuplicateJob if the job_id already exists.
func (c *Client) CreatePending(ctx context.Context, jobID, jobType, apiKey, sentData, resultURL string, metadata []Metadata) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		CREATE ONLY type::record("job", $id) CONTENT {
			job_type: $job_type,
			status: "pending",
			sent_data: $sent_data,
			result_url: $result_url,
			api_key: $api_key
		}
	`, map[string]any{
		"id":         jobID,
		"job_type":   jobType,
		"sent_data":  sentData,
		"result_url": resultURL,
		"api_key":    apiKey,
	})
	if err != nil {
		return wrapQueryError(err)
	}

	for _, m := range metadata {
		_, err := surrealdb.Query[any](ctx, c.db, `
			CREATE job_metadata CONTENT {
				job_id: $job_id, key: $key, value: $value, type: $type
			}
		`, map[string]any{
			"job_id": jobID,
			"key":    m.Key,
			"value":  m.Value,
			"type":   metadataType(m.Type),
		})
		if err != nil {
			return wrapQueryError(err)
		}
	}
	return nil
}

func metadataType(t string) string {
	if t == "json" {
		return "json"
	}
	return "string"
}

// AddMetadata attaches one more key/value pair to an existing job. Used by
// the retry path to record the try counter; existing entries are never
// mutated.
func (c *Client) AddMetadata(ctx context.Context, jobID string, m Metadata) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		CREATE job_metadata CONTENT {
			job_id: $job_id, key: $key, value: $value, type: $type
		}
	`, map[string]any{
		"job_id": jobID,
		"key":    m.Key,
		"value":  m.Value,
		"type":   metadataType(m.Type),
	})
	return wrapQueryError(err)
}

// Get returns the full job including joined metadata and logs in emission
// order, or ErrNotFound.
func (c *Client) Get(ctx context.Context, jobID string) (*Job, error) {
	results, err := surrealdb.Query[[]Job](ctx, c.db, `
		SELECT *, record::id(id) AS job_id FROM type::record("job", $id)
	`, map[string]any{"id": jobID})
	if err != nil {
		return nil, wrapQueryError(err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, jobID)
	}
	job := (*results)[0].Result[0]
	job.JobID = jobID

	meta, err := surrealdb.Query[[]Metadata](ctx, c.db, `
		SELECT * FROM job_metadata WHERE job_id = $id ORDER BY key
	`, map[string]any{"id": jobID})
	if err != nil {
		return nil, wrapQueryError(err)
	}
	if meta != nil && len(*meta) > 0 {
		job.Metadata = (*meta)[0].Result
	}

	logs, err := surrealdb.Query[[]LogEntry](ctx, c.db, `
		SELECT * FROM job_log WHERE job_id = $id ORDER BY timestamp ASC
	`, map[string]any{"id": jobID})
	if err != nil {
		return nil, wrapQueryError(err)
	}
	if logs != nil && len(*logs) > 0 {
		job.Logs = (*logs)[0].Result
	}

	return &job, nil
}

// Update applies a partial update to a job. Status writes are checked
// against the state machine and rejected with ErrInvalidTransition, so the
// store stays authoritative over job lifecycles regardless of caller
// discipline. The orchestrator is the only writer; concurrent updates are
// last-write-wins.
func (c *Client) Update(ctx context.Context, jobID string, u Update) error {
	sets := []string{}
	vars := map[string]any{"id": jobID}

	if u.Status != nil {
		current, err := c.currentStatus(ctx, jobID)
		if err != nil {
			return err
		}
		if current != *u.Status && !ValidTransition(current, *u.Status) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, *u.Status)
		}
		sets = append(sets, "status = $status")
		vars["status"] = string(*u.Status)
	}
	if u.Data != nil {
		sets = append(sets, "data = $data")
		vars["data"] = *u.Data
	}
	if u.Error != nil {
		sets = append(sets, "error = $error")
		vars["error"] = *u.Error
	}
	if u.Finished != nil {
		sets = append(sets, "finished = <datetime>$finished")
		vars["finished"] = u.Finished.UTC().Format(time.RFC3339Nano)
	}
	if u.ClearAPIKey {
		sets = append(sets, "api_key = NONE")
	}
	if len(sets) == 0 {
		return nil
	}

	results, err := surrealdb.Query[[]Job](ctx, c.db, fmt.Sprintf(`
		UPDATE type::record("job", $id) SET %s
	`, strings.Join(sets, ", ")), vars)
	if err != nil {
		return wrapQueryError(err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, jobID)
	}
	return nil
}

func (c *Client) currentStatus(ctx context.Context, jobID string) (Status, error) {
	results, err := surrealdb.Query[[]Job](ctx, c.db, `
		SELECT status, record::id(id) AS job_id FROM type::record("job", $id)
	`, map[string]any{"id": jobID})
	if err != nil {
		return "", wrapQueryError(err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return "", fmt.Errorf("%w: %s", ErrNotFound, jobID)
	}
	return (*results)[0].Result[0].Status, nil
}

// AppendLog inserts one log entry for a job. Append-only.
func (c *Client) AppendLog(ctx context.Context, jobID string, entry LogEntry) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		CREATE job_log CONTENT {
			job_id: $job_id,
			message: $message,
			level: $level,
			module: $module,
			function: $function,
			line: $line
		}
	`, map[string]any{
		"job_id":   jobID,
		"message":  entry.Message,
		"level":    entry.Level,
		"module":   entry.Module,
		"function": entry.Function,
		"line":     entry.Line,
	})
	return wrapQueryError(err)
}

// List returns the most recent jobs, newest first.
func (c *Client) List(ctx context.Context, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 50
	}
	results, err := surrealdb.Query[[]Job](ctx, c.db, `
		SELECT *, record::id(id) AS job_id FROM job ORDER BY requested DESC LIMIT $limit
	`, map[string]any{"limit": limit})
	if err != nil {
		return nil, wrapQueryError(err)
	}
	if results == nil || len(*results) == 0 {
		return []Job{}, nil
	}
	return (*results)[0].Result, nil
}

// LatestForResource returns the most recent job whose metadata ties it to the
// given resource, or nil when the resource has never been submitted. Used by
// the duplicate-submission guard.
func (c *Client) LatestForResource(ctx context.Context, resourceID string) (*Job, error) {
	meta, err := surrealdb.Query[[]Metadata](ctx, c.db, `
		SELECT * FROM job_metadata WHERE key = "resource_id" AND value = $value
	`, map[string]any{"value": resourceID})
	if err != nil {
		return nil, wrapQueryError(err)
	}
	if meta == nil || len(*meta) == 0 || len((*meta)[0].Result) == 0 {
		return nil, nil
	}

	var latest *Job
	for _, m := range (*meta)[0].Result {
		job, err := c.Get(ctx, m.JobID)
		if err != nil {
			continue
		}
		if latest == nil || job.Requested.After(latest.Requested) {
			latest = job
		}
	}
	return latest, nil
}
