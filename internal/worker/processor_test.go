package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/DataSteward/internal/analytics"
	"github.com/dharsanguruparan/DataSteward/internal/queue"
	"github.com/dharsanguruparan/DataSteward/internal/retraction"
)

type stubPipeline struct {
	site    string
	force   bool
	all     int
	copied  string
	siteErr error
}

func (s *stubPipeline) ProcessSite(_ context.Context, hpoID string, force bool) error {
	s.site, s.force = hpoID, force
	return s.siteErr
}

func (s *stubPipeline) ProcessAll(context.Context) ([]string, error) {
	s.all++
	return []string{"hpo9"}, nil
}

func (s *stubPipeline) CopyFiles(_ context.Context, hpoID string) (int, error) {
	s.copied = hpoID
	return 4, nil
}

type stubExporter struct {
	hpoID, bucket, prefix string
	err                   error
}

func (s *stubExporter) Export(_ context.Context, hpoID, bucket, folderPrefix string) error {
	s.hpoID, s.bucket, s.prefix = hpoID, bucket, folderPrefix
	return s.err
}

type stubUnion struct{ runs int }

func (s *stubUnion) Run(context.Context) error {
	s.runs++
	return nil
}

type stubRetractor struct{ req *retraction.Request }

func (s *stubRetractor) Run(_ context.Context, req retraction.Request) error {
	s.req = &req
	return nil
}

func newTestProcessor() (*Processor, *stubPipeline, *stubUnion, *stubRetractor) {
	p, pl, _, un, rt := newTestProcessorWithExporter()
	return p, pl, un, rt
}

func newTestProcessorWithExporter() (*Processor, *stubPipeline, *stubExporter, *stubUnion, *stubRetractor) {
	pl, ex, un, rt := &stubPipeline{}, &stubExporter{}, &stubUnion{}, &stubRetractor{}
	return NewProcessor(pl, ex, un, rt, slog.New(slog.NewTextHandler(io.Discard, nil))), pl, ex, un, rt
}

func TestHandlerDispatchesSiteValidation(t *testing.T) {
	p, pl, _, _ := newTestProcessor()
	task, err := queue.NewValidateSiteTask("hpo1", true)
	if err != nil {
		t.Fatalf("task: %v", err)
	}
	if err := p.Handler().ProcessTask(context.Background(), task); err != nil {
		t.Fatalf("process: %v", err)
	}
	if pl.site != "hpo1" || !pl.force {
		t.Fatalf("pipeline not called as expected: %+v", pl)
	}
}

func TestHandlerReturnsSiteError(t *testing.T) {
	p, pl, _, _ := newTestProcessor()
	pl.siteErr = errors.New("warehouse unavailable")
	task, _ := queue.NewValidateSiteTask("hpo1", false)
	if err := p.Handler().ProcessTask(context.Background(), task); !errors.Is(err, pl.siteErr) {
		t.Fatalf("expected site error, got %v", err)
	}
}

func TestHandlerValidateAllAndUnion(t *testing.T) {
	p, pl, un, _ := newTestProcessor()
	mux := p.Handler()
	if err := mux.ProcessTask(context.Background(), queue.NewValidateAllTask()); err != nil {
		t.Fatalf("validate all: %v", err)
	}
	if err := mux.ProcessTask(context.Background(), asynq.NewTask(queue.UnionTask, nil)); err != nil {
		t.Fatalf("union: %v", err)
	}
	if pl.all != 1 || un.runs != 1 {
		t.Fatalf("expected one run each, got all=%d union=%d", pl.all, un.runs)
	}
}

func TestHandlerRetraction(t *testing.T) {
	p, _, _, rt := newTestProcessor()
	payload := []byte(`{"hpo_id":"hpo1","pid_dataset":"sandbox","pid_table":"pids","dataset_ids":["ehr"],"retraction_type":"only_ehr","submission_folder":"none"}`)
	if err := p.Handler().ProcessTask(context.Background(), asynq.NewTask(queue.RetractionTask, payload)); err != nil {
		t.Fatalf("retraction: %v", err)
	}
	if rt.req == nil || rt.req.PIDTable.Table != "pids" || rt.req.Type != retraction.OnlyEHR {
		t.Fatalf("unexpected request %+v", rt.req)
	}

	bad := []byte(`{"pid_dataset":"sandbox","pid_table":"pids","retraction_type":"all"}`)
	err := p.Handler().ProcessTask(context.Background(), asynq.NewTask(queue.RetractionTask, bad))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry for invalid request, got %v", err)
	}
}

func TestHandlerCopyFiles(t *testing.T) {
	p, pl, _, _ := newTestProcessor()
	task := asynq.NewTask(queue.CopyFilesTask, []byte(`{"hpo_id":"hpo4"}`))
	if err := p.Handler().ProcessTask(context.Background(), task); err != nil {
		t.Fatalf("copy files: %v", err)
	}
	if pl.copied != "hpo4" {
		t.Fatalf("expected copy for hpo4, got %q", pl.copied)
	}
}

func TestHandlerUploadAchilles(t *testing.T) {
	p, _, ex, _, _ := newTestProcessorWithExporter()
	task := asynq.NewTask(queue.UploadAchillesTask, []byte(`{"hpo_id":"hpo5"}`))
	if err := p.Handler().ProcessTask(context.Background(), task); err != nil {
		t.Fatalf("upload achilles: %v", err)
	}
	if ex.hpoID != "hpo5" || ex.bucket != "" || ex.prefix != "" {
		t.Fatalf("unexpected export %+v", ex)
	}

	ex.err = analytics.ErrConfiguration
	err := p.Handler().ProcessTask(context.Background(), asynq.NewTask(queue.UploadAchillesTask, []byte(`{}`)))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry for missing site, got %v", err)
	}
}

func TestHandlerRejectsBadPayload(t *testing.T) {
	p, _, _, _ := newTestProcessor()
	err := p.Handler().ProcessTask(context.Background(), asynq.NewTask(queue.CopyFilesTask, []byte("{")))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry, got %v", err)
	}
}
