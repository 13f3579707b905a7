package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/catalogd/tabload/internal/catalog"
	"github.com/catalogd/tabload/internal/detect"
	"github.com/catalogd/tabload/internal/fetch"
	"github.com/catalogd/tabload/internal/jobstore"
	"github.com/catalogd/tabload/internal/loader"
	"github.com/catalogd/tabload/internal/source"
)

// JobStore is the slice of the job store the orchestrator writes to.
type JobStore interface {
	Update(ctx context.Context, jobID string, u jobstore.Update) error
	AppendLog(ctx context.Context, jobID string, entry jobstore.LogEntry) error
	AddMetadata(ctx context.Context, jobID string, m jobstore.Metadata) error
}

// Catalog is the slice of the catalog API the orchestrator consumes.
type Catalog interface {
	ResourceShow(ctx context.Context, id string) (*catalog.Resource, error)
	ResourcePatch(ctx context.Context, id string, patch map[string]any) error
}

// Notifier delivers job state to the submitter's callback URL.
type Notifier interface {
	Notify(ctx context.Context, url, apiKey string, payload catalog.HookPayload) error
}

// Fetcher downloads a resource to a local spool file.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*fetch.Result, error)
}

// Loader populates the tabular store from a spool file.
type Loader interface {
	Load(ctx context.Context, req loader.Request) (*loader.Outcome, error)
}

// Tables is the slice of the datastore engine the orchestrator queries
// directly: existence checks for timeout selection and curated column
// metadata for the inferred schema.
type Tables interface {
	TableExists(ctx context.Context, resourceID string) (bool, error)
	FieldInfo(ctx context.Context, resourceID string) (map[string]*detect.FieldInfo, error)
}

// Options tunes the orchestrator.
type Options struct {
	Workers int
	// JobTimeout bounds a first-time load; JobTimeoutRefresh bounds a reload
	// of a resource already in the tabular store, which is typically just a
	// refresh and may take longer.
	JobTimeout        time.Duration
	JobTimeoutRefresh time.Duration
	// MaxRetries caps the error-to-pending retry edge for transient storage
	// conflicts.
	MaxRetries int
	// MaxTypeGuessLength is the file size ceiling below which the direct
	// bulk path is attempted first.
	MaxTypeGuessLength int64
	ForceTypeCast      bool
	SampleRows         int
	GuessMode          detect.GuessMode
	Policy             detect.TimestampPolicy
}

// Orchestrator executes jobs pulled from the queue through the full
// ingestion sequence.
type Orchestrator struct {
	queue    *Queue
	store    JobStore
	catalog  Catalog
	notifier Notifier
	fetcher  Fetcher
	loader   Loader
	tables   Tables
	opts     Options
	log      *slog.Logger
}

func NewOrchestrator(queue *Queue, store JobStore, cat Catalog, notifier Notifier, fetcher Fetcher, ldr Loader, tables Tables, opts Options, log *slog.Logger) *Orchestrator {
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.SampleRows <= 0 {
		opts.SampleRows = 1000
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = 10 * time.Minute
	}
	if opts.JobTimeoutRefresh <= 0 {
		opts.JobTimeoutRefresh = 2 * opts.JobTimeout
	}
	if opts.MaxTypeGuessLength <= 0 {
		opts.MaxTypeGuessLength = 10 << 20
	}
	return &Orchestrator{
		queue:    queue,
		store:    store,
		catalog:  cat,
		notifier: notifier,
		fetcher:  fetcher,
		loader:   ldr,
		tables:   tables,
		opts:     opts,
		log:      log,
	}
}

// Start launches the worker pool. Workers run until ctx is cancelled; each
// handles one job at a time with no internal parallelism.
func (o *Orchestrator) Start(ctx context.Context) {
	for i := 0; i < o.opts.Workers; i++ {
		go o.worker(ctx, i)
	}
}

func (o *Orchestrator) worker(ctx context.Context, id int) {
	log := o.log.With("worker", id)
	log.Info("worker started")
	for {
		select {
		case <-ctx.Done():
			log.Info("worker stopping")
			return
		case job := <-o.queue.jobs:
			o.execute(ctx, job)
			o.queue.done(job.ID)
		}
	}
}

// execute runs one job under its wall-clock timeout and routes the result
// into the state machine.
func (o *Orchestrator) execute(ctx context.Context, job Job) {
	log := o.log.With("job_id", job.ID, "resource_id", job.ResourceID)

	refresh, err := o.tables.TableExists(ctx, job.ResourceID)
	if err != nil {
		log.Warn("table existence check failed, assuming first load", "error", err)
		refresh = false
	}
	timeout := o.opts.JobTimeout
	if refresh {
		timeout = o.opts.JobTimeoutRefresh
	}
	jobCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err = o.run(jobCtx, job, refresh, log)
	if err == nil {
		return
	}

	if jobstore.IsRetryable(err) && job.Tries < o.opts.MaxRetries {
		o.requeue(ctx, job, err, log)
		return
	}
	o.fail(ctx, job, err, log)
}

// run is the happy path: running, fetch, detect, load, complete. Skips
// (circular resource, unchanged hash) finish as complete without touching
// the store.
func (o *Orchestrator) run(ctx context.Context, job Job, refresh bool, log *slog.Logger) error {
	o.transition(ctx, job, jobstore.StatusRunning, nil, log)
	o.logLine(ctx, job.ID, "INFO", "job started")

	res, err := o.catalog.ResourceShow(ctx, job.ResourceID)
	if err != nil {
		return fmt.Errorf("looking up resource: %w", err)
	}
	if res.DatastoreBacked() {
		o.logLine(ctx, job.ID, "INFO", "resource is served from the tabular store, skipping to avoid a circular load")
		return o.complete(ctx, job, map[string]any{"skipped": "datastore resource"}, log)
	}

	result, err := o.fetcher.Fetch(ctx, res.URL)
	if err != nil {
		return fmt.Errorf("downloading resource: %w", err)
	}
	defer os.Remove(result.Path)
	o.logLine(ctx, job.ID, "INFO", fmt.Sprintf("downloaded %d bytes, hash %s", result.Size, result.SHA256))

	if result.SHA256 == res.Hash && !job.IgnoreHash {
		o.logLine(ctx, job.ID, "INFO", "content unchanged since last load, skipping")
		return o.complete(ctx, job, map[string]any{"skipped": "unchanged hash"}, log)
	}

	format, err := source.NormalizeFormat(res.Format, result.ContentType)
	if err != nil {
		return err
	}

	fields, headerRow, err := o.inferSchema(ctx, job.ResourceID, result.Path, format)
	if err != nil {
		return err
	}
	o.logLine(ctx, job.ID, "INFO", fmt.Sprintf("inferred %d columns, header at row %d", len(fields), headerRow))

	outcome, err := o.loader.Load(ctx, loader.Request{
		ResourceID:     job.ResourceID,
		Path:           result.Path,
		Format:         format,
		Fields:         fields,
		HeaderRow:      headerRow,
		DirectEligible: !refresh && result.Size < o.opts.MaxTypeGuessLength,
		ForceTypeCast:  o.opts.ForceTypeCast,
	})
	if err != nil {
		return err
	}
	o.logLine(ctx, job.ID, "INFO",
		fmt.Sprintf("loaded %d rows via %s strategy", outcome.Records, outcome.Strategy))

	// Data is queryable now; expose it before the final bookkeeping.
	o.transition(ctx, job, jobstore.StatusRunningButViewable, nil, log)

	patch := map[string]any{
		"hash":             result.SHA256,
		"datastore_active": true,
		"datastore_contains_all_records_of_source_file": result.ContainsAllRecords,
	}
	if err := o.catalog.ResourcePatch(ctx, job.ResourceID, patch); err != nil {
		return fmt.Errorf("updating resource after load: %w", err)
	}

	return o.complete(ctx, job, map[string]any{
		"records":              outcome.Records,
		"strategy":             string(outcome.Strategy),
		"contains_all_records": result.ContainsAllRecords,
	}, log)
}

// inferSchema samples the file and runs header and type guessing, merging
// curated column metadata carried in the store.
func (o *Orchestrator) inferSchema(ctx context.Context, resourceID, path string, format source.Format) ([]detect.Field, int, error) {
	r, err := source.Open(path, format)
	if err != nil {
		return nil, 0, err
	}
	defer r.Close()

	sample, err := source.Sample(r, o.opts.SampleRows)
	if err != nil {
		return nil, 0, err
	}

	headerRow, headers, err := detect.GuessHeaders(sample)
	if err != nil {
		return nil, 0, err
	}
	ids := detect.NormalizeFieldIDs(headers)

	types, err := detect.GuessTypes(sample[headerRow+1:], o.opts.GuessMode, o.opts.Policy)
	if err != nil {
		return nil, 0, err
	}

	infos, err := o.tables.FieldInfo(ctx, resourceID)
	if err != nil {
		infos = nil
	}

	fields := make([]detect.Field, len(ids))
	for i, id := range ids {
		t := detect.TypeText
		if i < len(types) {
			t = types[i]
		}
		f := detect.Field{ID: id, Type: t, Info: infos[id]}
		if f.Info != nil && f.Info.TypeOverride != "" {
			f.Type = f.Info.TypeOverride
		}
		fields[i] = f
	}
	return fields, headerRow, nil
}

// complete marks the job finished and delivers the terminal state. The
// submitter's credential is erased once the terminal callback is out.
func (o *Orchestrator) complete(ctx context.Context, job Job, data map[string]any, log *slog.Logger) error {
	raw, _ := json.Marshal(data)
	payload := string(raw)
	now := time.Now().UTC()
	status := jobstore.StatusComplete

	if err := o.store.Update(ctx, job.ID, jobstore.Update{
		Status:      &status,
		Data:        &payload,
		Finished:    &now,
		ClearAPIKey: true,
	}); err != nil {
		return fmt.Errorf("persisting terminal state: %w", err)
	}
	o.notify(ctx, job, catalog.HookPayload{
		JobID:  job.ID,
		Status: string(status),
		Data:   raw,
	}, log)
	log.Info("job complete")
	return nil
}

// fail records an unrecoverable error as the terminal state.
func (o *Orchestrator) fail(ctx context.Context, job Job, cause error, log *slog.Logger) {
	log.Error("job failed", "error", cause)
	o.logLine(ctx, job.ID, "ERROR", cause.Error())

	msg := cause.Error()
	now := time.Now().UTC()
	status := jobstore.StatusError
	if err := o.store.Update(ctx, job.ID, jobstore.Update{
		Status:      &status,
		Error:       &msg,
		Finished:    &now,
		ClearAPIKey: true,
	}); err != nil {
		log.Error("persisting error state failed", "error", err)
	}
	o.notify(ctx, job, catalog.HookPayload{
		JobID:  job.ID,
		Status: string(status),
		Error:  msg,
	}, log)
}

// requeue routes a transient storage conflict back through pending with an
// incremented try counter.
func (o *Orchestrator) requeue(ctx context.Context, job Job, cause error, log *slog.Logger) {
	job.Tries++
	log.Warn("transient storage conflict, requeueing", "error", cause, "try", job.Tries)
	o.logLine(ctx, job.ID, "WARNING",
		fmt.Sprintf("transient storage conflict (try %d of %d): %v", job.Tries, o.opts.MaxRetries, cause))

	if err := o.store.AddMetadata(ctx, job.ID, jobstore.Metadata{
		Key: "tries", Value: strconv.Itoa(job.Tries), Type: "string",
	}); err != nil {
		log.Error("recording try counter failed", "error", err)
	}

	// The state machine only re-enters pending through error.
	errStatus := jobstore.StatusError
	msg := cause.Error()
	if err := o.store.Update(ctx, job.ID, jobstore.Update{Status: &errStatus, Error: &msg}); err != nil {
		log.Error("recording transient error failed", "error", err)
	}
	status := jobstore.StatusPending
	if err := o.store.Update(ctx, job.ID, jobstore.Update{Status: &status}); err != nil {
		log.Error("resetting job to pending failed", "error", err)
		o.fail(ctx, job, cause, log)
		return
	}
	o.notify(ctx, job, catalog.HookPayload{JobID: job.ID, Status: string(status)}, log)

	if err := o.queue.Submit(job); err != nil {
		o.fail(ctx, job, fmt.Errorf("requeueing after conflict: %w", err), log)
	}
}

// transition persists an intermediate status and reports it to the callback
// so duplicate-submission checks elsewhere see the job as in progress.
func (o *Orchestrator) transition(ctx context.Context, job Job, status jobstore.Status, data map[string]any, log *slog.Logger) {
	if err := o.store.Update(ctx, job.ID, jobstore.Update{Status: &status}); err != nil {
		log.Error("persisting status failed", "status", status, "error", err)
	}
	var raw json.RawMessage
	if data != nil {
		raw, _ = json.Marshal(data)
	}
	o.notify(ctx, job, catalog.HookPayload{JobID: job.ID, Status: string(status), Data: raw}, log)
}

// notify delivers state to the callback URL. Delivery failure is logged and
// swallowed: the job store is authoritative regardless.
func (o *Orchestrator) notify(ctx context.Context, job Job, payload catalog.HookPayload, log *slog.Logger) {
	if err := o.notifier.Notify(ctx, job.CallbackURL, job.APIKey, payload); err != nil {
		log.Warn("callback delivery failed", "error", err)
	}
}

func (o *Orchestrator) logLine(ctx context.Context, jobID, level, message string) {
	if err := o.store.AppendLog(ctx, jobID, jobstore.LogEntry{
		Message: message,
		Level:   level,
	}); err != nil {
		o.log.Warn("appending job log failed", "job_id", jobID, "error", err)
	}
}
