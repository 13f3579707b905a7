package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/catalogd/tabload/internal/catalog"
	"github.com/catalogd/tabload/internal/detect"
	"github.com/catalogd/tabload/internal/fetch"
	"github.com/catalogd/tabload/internal/jobstore"
	"github.com/catalogd/tabload/internal/loader"
)

type fakeStore struct {
	mu       sync.Mutex
	statuses []jobstore.Status
	cleared  bool
	errMsg   string
	logs     []jobstore.LogEntry
	metadata []jobstore.Metadata
}

func (s *fakeStore) Update(ctx context.Context, jobID string, u jobstore.Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.Status != nil {
		s.statuses = append(s.statuses, *u.Status)
	}
	if u.ClearAPIKey {
		s.cleared = true
	}
	if u.Error != nil {
		s.errMsg = *u.Error
	}
	return nil
}

func (s *fakeStore) AppendLog(ctx context.Context, jobID string, entry jobstore.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, entry)
	return nil
}

func (s *fakeStore) AddMetadata(ctx context.Context, jobID string, m jobstore.Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metadata = append(s.metadata, m)
	return nil
}

type fakeCatalog struct {
	res     *catalog.Resource
	patches []map[string]any
}

func (c *fakeCatalog) ResourceShow(ctx context.Context, id string) (*catalog.Resource, error) {
	if c.res == nil {
		return nil, fmt.Errorf("resource %s not found", id)
	}
	return c.res, nil
}

func (c *fakeCatalog) ResourcePatch(ctx context.Context, id string, patch map[string]any) error {
	c.patches = append(c.patches, patch)
	return nil
}

type fakeNotifier struct {
	mu       sync.Mutex
	payloads []catalog.HookPayload
}

func (n *fakeNotifier) Notify(ctx context.Context, url, apiKey string, payload catalog.HookPayload) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.payloads = append(n.payloads, payload)
	return nil
}

type fakeLoader struct {
	req     *loader.Request
	outcome *loader.Outcome
	err     error
}

func (l *fakeLoader) Load(ctx context.Context, req loader.Request) (*loader.Outcome, error) {
	l.req = &req
	if l.err != nil {
		return nil, l.err
	}
	if l.outcome != nil {
		return l.outcome, nil
	}
	return &loader.Outcome{Strategy: loader.StrategyDirect, Records: 1, Fields: req.Fields}, nil
}

type fakeTables struct {
	exists bool
	infos  map[string]*detect.FieldInfo
}

func (t *fakeTables) TableExists(ctx context.Context, resourceID string) (bool, error) {
	return t.exists, nil
}

func (t *fakeTables) FieldInfo(ctx context.Context, resourceID string) (map[string]*detect.FieldInfo, error) {
	return t.infos, nil
}

func realFetcher(t *testing.T) *fetch.Fetcher {
	t.Helper()
	f, err := fetch.New(fetch.Options{
		Timeout:            5 * time.Second,
		StillProcessingMax: time.Second,
		SSLVerify:          true,
	}, slog.New(slog.NewTextHandler(os.Stderr, nil)))
	if err != nil {
		t.Fatalf("creating fetcher: %v", err)
	}
	return f
}

func csvServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/csv")
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestOrchestrator(t *testing.T, store *fakeStore, cat *fakeCatalog, notifier *fakeNotifier, ldr *fakeLoader, tables *fakeTables, opts Options) (*Orchestrator, *Queue) {
	t.Helper()
	queue := NewQueue(8)
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	return NewOrchestrator(queue, store, cat, notifier, realFetcher(t), ldr, tables, opts, log), queue
}

func TestQueueSubmitAndContains(t *testing.T) {
	q := NewQueue(2)

	if err := q.Submit(Job{ID: "a"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !q.Contains("a") {
		t.Error("queued job not tracked")
	}
	if q.Contains("b") {
		t.Error("unknown job reported present")
	}

	if err := q.Submit(Job{ID: "b"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := q.Submit(Job{ID: "c"}); err != ErrQueueFull {
		t.Fatalf("error = %v, want ErrQueueFull", err)
	}
	if q.Contains("c") {
		t.Error("rejected job must not be tracked")
	}

	q.done("a")
	if q.Contains("a") {
		t.Error("finished job still tracked")
	}
}

func TestRequeuedJobStaysTracked(t *testing.T) {
	body := "id,name\n1,alice\n"
	srv := csvServer(t, body)

	store := &fakeStore{}
	cat := &fakeCatalog{res: &catalog.Resource{ID: "res-1", URL: srv.URL, Format: "csv"}}
	ldr := &fakeLoader{err: fmt.Errorf("reconciling: %w", jobstore.ErrConflict)}

	o, queue := newTestOrchestrator(t, store, cat, &fakeNotifier{}, ldr, &fakeTables{}, Options{MaxRetries: 2})

	job := Job{ID: "job-1", ResourceID: "res-1"}
	if err := queue.Submit(job); err != nil {
		t.Fatalf("submit: %v", err)
	}
	job = <-queue.jobs

	// The worker sequence: execute (which re-submits on a transient
	// conflict), then done for the run that just finished.
	o.execute(context.Background(), job)
	queue.done(job.ID)

	if queue.Len() != 1 {
		t.Fatalf("queue length = %d, want 1", queue.Len())
	}
	if !queue.Contains(job.ID) {
		t.Error("requeued job no longer tracked, duplicate guard would treat it as stillborn")
	}

	// Only when the re-queued run itself finishes does presence end.
	requeued := <-queue.jobs
	queue.done(requeued.ID)
	if queue.Contains(job.ID) {
		t.Error("finished job still tracked")
	}
}

func TestOrchestratorHappyPath(t *testing.T) {
	body := "id,name,age\n1,alice,30\n2,bob,41\n3,carol,29\n"
	srv := csvServer(t, body)

	store := &fakeStore{}
	cat := &fakeCatalog{res: &catalog.Resource{
		ID: "res-1", URL: srv.URL, Format: "csv", Hash: "stale-hash",
	}}
	notifier := &fakeNotifier{}
	ldr := &fakeLoader{outcome: &loader.Outcome{Strategy: loader.StrategyDirect, Records: 3}}
	tables := &fakeTables{}

	o, _ := newTestOrchestrator(t, store, cat, notifier, ldr, tables, Options{})
	o.execute(context.Background(), Job{
		ID: "job-1", ResourceID: "res-1", APIKey: "k", CallbackURL: "http://cb.local/hook",
	})

	wantStatuses := []jobstore.Status{
		jobstore.StatusRunning,
		jobstore.StatusRunningButViewable,
		jobstore.StatusComplete,
	}
	if len(store.statuses) != len(wantStatuses) {
		t.Fatalf("statuses = %v, want %v", store.statuses, wantStatuses)
	}
	for i, want := range wantStatuses {
		if store.statuses[i] != want {
			t.Errorf("status[%d] = %s, want %s", i, store.statuses[i], want)
		}
	}
	if !store.cleared {
		t.Error("api key not cleared at terminal state")
	}

	if ldr.req == nil {
		t.Fatal("loader never invoked")
	}
	if !ldr.req.DirectEligible {
		t.Error("small first-time load should be direct eligible")
	}
	if len(ldr.req.Fields) != 3 {
		t.Fatalf("inferred fields = %v", ldr.req.Fields)
	}
	if ldr.req.Fields[0].Type != detect.TypeInteger || ldr.req.Fields[1].Type != detect.TypeText {
		t.Errorf("inferred types = %v, %v", ldr.req.Fields[0].Type, ldr.req.Fields[1].Type)
	}

	if len(cat.patches) != 1 {
		t.Fatalf("patches = %d, want 1", len(cat.patches))
	}
	sum := sha256.Sum256([]byte(body))
	if cat.patches[0]["hash"] != hex.EncodeToString(sum[:]) {
		t.Errorf("patched hash = %v", cat.patches[0]["hash"])
	}
	if cat.patches[0]["datastore_active"] != true {
		t.Error("availability flag not set")
	}

	last := notifier.payloads[len(notifier.payloads)-1]
	if last.Status != string(jobstore.StatusComplete) {
		t.Errorf("final callback status = %s", last.Status)
	}
}

func TestOrchestratorSkipsUnchangedHash(t *testing.T) {
	body := "id,name\n1,alice\n"
	srv := csvServer(t, body)
	sum := sha256.Sum256([]byte(body))

	store := &fakeStore{}
	cat := &fakeCatalog{res: &catalog.Resource{
		ID: "res-1", URL: srv.URL, Format: "csv", Hash: hex.EncodeToString(sum[:]),
	}}
	ldr := &fakeLoader{}

	o, _ := newTestOrchestrator(t, store, cat, &fakeNotifier{}, ldr, &fakeTables{exists: true}, Options{})
	o.execute(context.Background(), Job{ID: "job-1", ResourceID: "res-1"})

	if ldr.req != nil {
		t.Error("loader must not run for unchanged content")
	}
	final := store.statuses[len(store.statuses)-1]
	if final != jobstore.StatusComplete {
		t.Errorf("final status = %s, want complete", final)
	}
	if len(cat.patches) != 0 {
		t.Error("skip must not patch the resource")
	}
}

func TestOrchestratorForcedReloadIgnoresHash(t *testing.T) {
	body := "id,name\n1,alice\n"
	srv := csvServer(t, body)
	sum := sha256.Sum256([]byte(body))

	store := &fakeStore{}
	cat := &fakeCatalog{res: &catalog.Resource{
		ID: "res-1", URL: srv.URL, Format: "csv", Hash: hex.EncodeToString(sum[:]),
	}}
	ldr := &fakeLoader{}

	o, _ := newTestOrchestrator(t, store, cat, &fakeNotifier{}, ldr, &fakeTables{exists: true}, Options{})
	o.execute(context.Background(), Job{ID: "job-1", ResourceID: "res-1", IgnoreHash: true})

	if ldr.req == nil {
		t.Fatal("forced reload must run the loader")
	}
	if ldr.req.DirectEligible {
		t.Error("existing table must force the type-converting path")
	}
}

func TestOrchestratorSkipsDatastoreResource(t *testing.T) {
	store := &fakeStore{}
	cat := &fakeCatalog{res: &catalog.Resource{
		ID: "res-1", URL: "http://unreachable.local/x.csv", URLType: "datastore",
	}}
	ldr := &fakeLoader{}

	o, _ := newTestOrchestrator(t, store, cat, &fakeNotifier{}, ldr, &fakeTables{}, Options{})
	o.execute(context.Background(), Job{ID: "job-1", ResourceID: "res-1"})

	if ldr.req != nil {
		t.Error("circular resource must not be loaded")
	}
	final := store.statuses[len(store.statuses)-1]
	if final != jobstore.StatusComplete {
		t.Errorf("final status = %s, want complete", final)
	}
}

func TestOrchestratorFailsOnFetchError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such file", http.StatusNotFound)
	}))
	defer srv.Close()

	store := &fakeStore{}
	cat := &fakeCatalog{res: &catalog.Resource{ID: "res-1", URL: srv.URL, Format: "csv"}}
	notifier := &fakeNotifier{}

	o, _ := newTestOrchestrator(t, store, cat, notifier, &fakeLoader{}, &fakeTables{}, Options{})
	o.execute(context.Background(), Job{ID: "job-1", ResourceID: "res-1"})

	final := store.statuses[len(store.statuses)-1]
	if final != jobstore.StatusError {
		t.Fatalf("final status = %s, want error", final)
	}
	if store.errMsg == "" {
		t.Error("error message not captured")
	}
	if !store.cleared {
		t.Error("api key not cleared after terminal error")
	}
	last := notifier.payloads[len(notifier.payloads)-1]
	if last.Status != string(jobstore.StatusError) || last.Error == "" {
		t.Errorf("final callback = %+v", last)
	}
}

func TestOrchestratorRetriesTransientConflict(t *testing.T) {
	body := "id,name\n1,alice\n"
	srv := csvServer(t, body)

	store := &fakeStore{}
	cat := &fakeCatalog{res: &catalog.Resource{ID: "res-1", URL: srv.URL, Format: "csv"}}
	ldr := &fakeLoader{err: fmt.Errorf("reconciling: %w", jobstore.ErrConflict)}

	o, queue := newTestOrchestrator(t, store, cat, &fakeNotifier{}, ldr, &fakeTables{}, Options{MaxRetries: 2})

	job := Job{ID: "job-1", ResourceID: "res-1"}
	o.execute(context.Background(), job)

	// First conflict: job goes back to pending and onto the queue.
	if queue.Len() != 1 {
		t.Fatalf("queue length = %d, want 1", queue.Len())
	}
	requeued := <-queue.jobs
	if requeued.Tries != 1 {
		t.Errorf("tries = %d, want 1", requeued.Tries)
	}
	if len(store.metadata) != 1 || store.metadata[0].Key != "tries" || store.metadata[0].Value != "1" {
		t.Errorf("metadata = %+v, want tries=1", store.metadata)
	}
	final := store.statuses[len(store.statuses)-1]
	if final != jobstore.StatusPending {
		t.Errorf("status after conflict = %s, want pending", final)
	}

	// Exhaust the retry budget: the last conflict is terminal.
	o.execute(context.Background(), requeued)
	requeued = <-queue.jobs
	o.execute(context.Background(), requeued)

	final = store.statuses[len(store.statuses)-1]
	if final != jobstore.StatusError {
		t.Errorf("final status = %s, want error after retry budget", final)
	}
}
