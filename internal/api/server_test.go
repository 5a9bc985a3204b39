package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/DataSteward/internal/model"
	"github.com/dharsanguruparan/DataSteward/internal/queue"
	"github.com/dharsanguruparan/DataSteward/internal/signing"
)

type stubQueue struct{ tasks []*asynq.Task }

func (q *stubQueue) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	q.tasks = append(q.tasks, task)
	return &asynq.TaskInfo{ID: fmt.Sprintf("task-%d", len(q.tasks))}, nil
}

type stubCopier struct {
	hpoID string
	err   error
}

func (c *stubCopier) CopyFiles(_ context.Context, hpoID string) (int, error) {
	c.hpoID = hpoID
	return 3, c.err
}

type stubRuns struct{ hpoID string }

func (r *stubRuns) Recent(_ context.Context, hpoID string, _ int) ([]model.Run, error) {
	r.hpoID = hpoID
	return []model.Run{{ID: "run-1", HPOID: hpoID, Status: model.RunCompleted}}, nil
}

type fixture struct {
	srv    *Server
	signer *signing.Signer
	queue  *stubQueue
	copier *stubCopier
	runs   *stubRuns
}

func newFixture() *fixture {
	f := &fixture{
		signer: signing.NewSigner([]byte("secret")),
		queue:  &stubQueue{},
		copier: &stubCopier{},
		runs:   &stubRuns{},
	}
	f.srv = New(Config{
		Queue:      f.queue,
		Copier:     f.copier,
		Runs:       f.runs,
		Auth:       f.signer,
		Retraction: queue.RetractionPayload{PIDDataset: "sandbox", PIDTable: "pids", Type: "rdr_and_ehr"},
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return f
}

func (f *fixture) signed(path string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	exp, sig := f.signer.SignFor(signing.Target(req.URL), time.Minute)
	req.Header.Set(signing.HeaderExpires, exp)
	req.Header.Set(signing.HeaderSignature, sig)
	return req
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthIsOpen(t *testing.T) {
	f := newFixture()
	rec := f.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestTriggersRequireSignature(t *testing.T) {
	f := newFixture()
	rec := f.do(httptest.NewRequest(http.MethodGet, Prefix+"ValidateAllHpoFiles", nil))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	if len(f.queue.tasks) != 0 {
		t.Fatalf("unsigned request should not enqueue")
	}

	req := f.signed(Prefix + "ValidateAllHpoFiles")
	req.Header.Set(signing.HeaderSignature, "deadbeef")
	if rec := f.do(req); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for bad signature, got %d", rec.Code)
	}
}

func TestValidateSiteEnqueuesForcedTask(t *testing.T) {
	f := newFixture()
	rec := f.do(f.signed(Prefix + "ValidateHpoFiles/hpo1"))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(f.queue.tasks) != 1 || f.queue.tasks[0].Type() != queue.ValidateSiteTask {
		t.Fatalf("unexpected tasks %v", f.queue.tasks)
	}
	var payload queue.SitePayload
	if err := json.Unmarshal(f.queue.tasks[0].Payload(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.HPOID != "hpo1" || !payload.Force {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestCopyFiles(t *testing.T) {
	f := newFixture()
	rec := f.do(f.signed(Prefix + "CopyFiles/hpo2"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["copy-status"] != "done" || f.copier.hpoID != "hpo2" {
		t.Fatalf("unexpected response %v (copied %q)", body, f.copier.hpoID)
	}

	f.copier.err = &model.BucketNotFoundError{Bucket: "missing"}
	if rec := f.do(f.signed(Prefix + "CopyFiles/hpo2")); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing bucket, got %d", rec.Code)
	}
}

func TestUploadAchillesEnqueuesSiteTask(t *testing.T) {
	f := newFixture()
	rec := f.do(f.signed(Prefix + "UploadAchillesFiles/hpo6"))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	task := f.queue.tasks[0]
	if task.Type() != queue.UploadAchillesTask {
		t.Fatalf("unexpected task %q", task.Type())
	}
	var payload queue.SitePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.HPOID != "hpo6" {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestRetractUsesConfiguredDefaults(t *testing.T) {
	f := newFixture()
	rec := f.do(f.signed(Prefix + "RetractPids?hpo_id=hpo3&submission_folder=all_folders"))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	var payload queue.RetractionPayload
	if err := json.Unmarshal(f.queue.tasks[0].Payload(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.HPOID != "hpo3" || payload.PIDTable != "pids" || payload.Folder != "all_folders" || payload.Type != "rdr_and_ehr" {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestTamperedQueryIsRejected(t *testing.T) {
	f := newFixture()
	signed := f.signed(Prefix + "RetractPids?hpo_id=hpo1")
	req := httptest.NewRequest(http.MethodGet, Prefix+"RetractPids?hpo_id=victim&submission_folder=all_folders", nil)
	req.Header = signed.Header.Clone()
	rec := f.do(req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	if len(f.queue.tasks) != 0 {
		t.Fatalf("tampered request should not enqueue")
	}
}

func TestSubmissions(t *testing.T) {
	f := newFixture()
	rec := f.do(f.signed("/submissions/hpo1"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var runs []model.Run
	if err := json.NewDecoder(rec.Body).Decode(&runs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(runs) != 1 || f.runs.hpoID != "hpo1" {
		t.Fatalf("unexpected runs %+v", runs)
	}
}

func TestChainOrder(t *testing.T) {
	var order []string
	mw := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	h := chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { order = append(order, "handler") }), mw("log"), mw("auth"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if fmt.Sprint(order) != "[log auth handler]" {
		t.Fatalf("unexpected order %v", order)
	}
}
