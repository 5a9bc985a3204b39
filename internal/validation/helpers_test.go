package validation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dharsanguruparan/DataSteward/internal/model"
	"github.com/dharsanguruparan/DataSteward/internal/notify"
	"github.com/dharsanguruparan/DataSteward/internal/storage"
	"github.com/dharsanguruparan/DataSteward/internal/submission"
	"github.com/dharsanguruparan/DataSteward/internal/warehouse"
)

var testNow = time.Date(2024, 3, 10, 17, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubWarehouse struct {
	mu         sync.Mutex
	created    []warehouse.TableRef
	loads      []warehouse.ObjectRef
	jobs       map[string]string
	incomplete map[string]bool
	jobErrors  map[string][]warehouse.JobError
	queryErr   map[string]error
	tables     []string
	queries    []string
}

func newStubWarehouse() *stubWarehouse {
	return &stubWarehouse{
		jobs:       make(map[string]string),
		incomplete: make(map[string]bool),
		jobErrors:  make(map[string][]warehouse.JobError),
		queryErr:   make(map[string]error),
	}
}

func (w *stubWarehouse) CreateTable(_ context.Context, ref warehouse.TableRef, _ []warehouse.Field, _ bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.created = append(w.created, ref)
	return nil
}

func (w *stubWarehouse) LoadCSV(_ context.Context, _ warehouse.TableRef, src warehouse.ObjectRef) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	id := fmt.Sprintf("job-%d", len(w.loads))
	w.loads = append(w.loads, src)
	w.jobs[id] = strings.ToLower(path.Base(src.Name))
	return id, nil
}

func (w *stubWarehouse) Wait(_ context.Context, ids []string) ([]string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	var pending []string
	for _, id := range ids {
		if w.incomplete[w.jobs[id]] {
			pending = append(pending, id)
		}
	}
	return pending, nil
}

func (w *stubWarehouse) JobStatus(_ context.Context, id string) (*warehouse.JobStatus, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	st := &warehouse.JobStatus{ID: id, State: warehouse.JobDone}
	if errs := w.jobErrors[w.jobs[id]]; len(errs) > 0 {
		st.ErrorResult = &errs[0]
		st.Errors = errs
	}
	return st, nil
}

func (w *stubWarehouse) ListTables(context.Context, string) ([]string, error) {
	return w.tables, nil
}

func (w *stubWarehouse) Query(_ context.Context, sql string, _ ...any) ([]model.Row, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.queries = append(w.queries, sql)
	for substr, err := range w.queryErr {
		if strings.Contains(sql, substr) {
			return nil, err
		}
	}
	return []model.Row{{"count": int64(1)}}, nil
}

type stubAnalytics struct {
	runs    int
	exports int
	err     error
}

func (a *stubAnalytics) Run(context.Context, string) error {
	a.runs++
	return a.err
}

func (a *stubAnalytics) Export(context.Context, string, string, string) error {
	a.exports++
	return nil
}

type stubSites map[string]model.Site

func (s stubSites) Site(_ context.Context, hpoID string) (*model.Site, error) {
	site, ok := s[strings.ToLower(hpoID)]
	if !ok {
		return nil, fmt.Errorf("%s is not a valid hpo_id", hpoID)
	}
	return &site, nil
}

func (s stubSites) Sites(context.Context) ([]model.Site, error) {
	var out []model.Site
	for _, site := range s {
		out = append(out, site)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].HPOID < out[j].HPOID })
	return out, nil
}

type stubRenderer struct {
	reports []*model.Report
}

func (r *stubRenderer) Render(report *model.Report) ([]byte, error) {
	r.reports = append(r.reports, report)
	return []byte("<html>" + report.Folder + "</html>"), nil
}

type stubNotifier struct {
	sent []*notify.ReportMessage
}

func (n *stubNotifier) SendReport(_ context.Context, msg *notify.ReportMessage) (string, error) {
	n.sent = append(n.sent, msg)
	return msg.ID, nil
}

type stubRuns struct {
	outcomes map[string]model.RunOutcome
}

func (r *stubRuns) Start(_ context.Context, hpoID string) (string, error) {
	return hpoID, nil
}

func (r *stubRuns) Finish(_ context.Context, id string, outcome model.RunOutcome) error {
	r.outcomes[id] = outcome
	return nil
}

// flakyStore fails every listing of one bucket.
type flakyStore struct {
	*storage.MemoryStore
	bucket string
}

func (f flakyStore) List(ctx context.Context, bucket string) ([]model.BucketItem, error) {
	if bucket == f.bucket {
		return nil, errors.New("service unavailable")
	}
	return f.MemoryStore.List(ctx, bucket)
}

// putSubmission stores every required file under folder, two hours old.
func putSubmission(store *storage.MemoryStore, bucket, folder string, extra ...string) {
	names := append(submission.DefaultPolicy().RequiredFiles(), extra...)
	for _, name := range names {
		store.Put(bucket, folder+name, []byte("person_id\n1\n"), testNow.Add(-2*time.Hour), testNow.Add(-2*time.Hour))
	}
}

type fixture struct {
	store     *storage.MemoryStore
	wh        *stubWarehouse
	analytics *stubAnalytics
	renderer  *stubRenderer
	notifier  *stubNotifier
	runs      *stubRuns
	sites     stubSites
}

func newFixture() *fixture {
	store := storage.NewMemoryStore("drc")
	store.SetClock(func() time.Time { return testNow })
	return &fixture{
		store:     store,
		wh:        newStubWarehouse(),
		analytics: &stubAnalytics{},
		renderer:  &stubRenderer{},
		notifier:  &stubNotifier{},
		runs:      &stubRuns{outcomes: make(map[string]model.RunOutcome)},
		sites: stubSites{
			"hpo1": {HPOID: "hpo1", Name: "Site One", Bucket: "bucket-1", Contacts: []string{"a@site.org"}},
			"hpo2": {HPOID: "hpo2", Name: "Site Two", Bucket: "bucket-2"},
		},
	}
}

func (f *fixture) pipeline(objects ObjectStore) *Pipeline {
	if objects == nil {
		objects = f.store
	}
	return NewPipeline(Config{
		Policy:    submission.DefaultPolicy(),
		Sites:     f.sites,
		Objects:   objects,
		Warehouse: f.wh,
		Analytics: f.analytics,
		Renderer:  f.renderer,
		Notifier:  f.notifier,
		Runs:      f.runs,
		Datasets:  Datasets{EHR: "ehr", RDR: "rdr20240301", Vocabulary: "vocabulary", Lookup: "lookup_tables"},
		DRCBucket: "drc",
		Sender:    "steward@example.org",
		Location:  time.UTC,
		Now:       func() time.Time { return testNow },
		Logger:    discardLogger(),
	})
}
