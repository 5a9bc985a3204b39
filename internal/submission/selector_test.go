package submission

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dharsanguruparan/DataSteward/internal/model"
)

type stubStat struct {
	present map[string]bool
	err     error
	calls   int
}

func (s *stubStat) Stat(_ context.Context, bucket, name string) (*model.BucketItem, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if s.present[bucket+"/"+name] {
		return &model.BucketItem{Name: name}, nil
	}
	return nil, nil
}

func newTestSelector(stat ObjectStat) *Selector {
	return NewSelector(DefaultPolicy(), stat, WithClock(func() time.Time { return testNow }))
}

func TestSelectPicksMostRecentFolder(t *testing.T) {
	p := DefaultPolicy()
	items := append(folder(p, "t1/", 3*time.Hour), folder(p, "t2/", 2*time.Hour)...)
	items = append(items, folder(p, "t0/", 4*time.Hour)...)
	items = append(items, model.BucketItem{Name: "root.csv", TimeCreated: testNow, Updated: testNow})

	got, err := newTestSelector(&stubStat{}).Select(context.Background(), "b", items, false)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if got != "t2/" {
		t.Fatalf("expected t2/, got %q", got)
	}
}

func TestSelectSkipsIgnoredDirectories(t *testing.T) {
	p := DefaultPolicy()
	items := folder(p, "t1/", 3*time.Hour)
	items = append(items, folder(p, "Participant/", time.Hour)...)
	items = append(items, folder(p, "drc-validations-20240301/", time.Hour)...)

	got, err := newTestSelector(&stubStat{}).Select(context.Background(), "b", items, false)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if got != "t1/" {
		t.Fatalf("expected t1/, got %q", got)
	}
}

func TestSelectTieBreaksOnFolderName(t *testing.T) {
	p := DefaultPolicy()
	items := append(folder(p, "b-folder/", time.Hour), folder(p, "a-folder/", time.Hour)...)
	got, err := newTestSelector(&stubStat{}).Select(context.Background(), "b", items, false)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if got != "b-folder/" {
		t.Fatalf("expected b-folder/, got %q", got)
	}
}

func TestSelectProcessedMarker(t *testing.T) {
	p := DefaultPolicy()
	items := folder(p, "t1/", time.Hour)
	stat := &stubStat{present: map[string]bool{"b/t1/" + ProcessedTxt: true}}
	sel := newTestSelector(stat)

	got, err := sel.Select(context.Background(), "b", items, false)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if got != "" {
		t.Fatalf("processed folder should not be selected again, got %q", got)
	}

	got, err = sel.Select(context.Background(), "b", items, true)
	if err != nil {
		t.Fatalf("forced select: %v", err)
	}
	if got != "t1/" {
		t.Fatalf("forced select should return t1/, got %q", got)
	}
}

func TestSelectForceSkipsMarkerLookup(t *testing.T) {
	p := DefaultPolicy()
	stat := &stubStat{err: errors.New("boom")}
	got, err := newTestSelector(stat).Select(context.Background(), "b", folder(p, "t1/", time.Hour), true)
	if err != nil || got != "t1/" {
		t.Fatalf("expected t1/ without error, got %q, %v", got, err)
	}
	if stat.calls != 0 {
		t.Fatalf("forced select should not stat the marker")
	}
}

func TestSelectNoCandidates(t *testing.T) {
	p := DefaultPolicy()
	items := folder(p, "t1/", time.Hour)
	items[0].Updated = testNow.Add(-time.Minute)
	sel := newTestSelector(&stubStat{})
	got, err := sel.Select(context.Background(), "b", items, true)
	if err != nil || got != "" {
		t.Fatalf("expected no folder, got %q, %v", got, err)
	}
	cand, ok := sel.Latest(items)
	if ok {
		t.Fatalf("expected no candidate")
	}
	if cand.Skipped["t1/"] != Settling {
		t.Fatalf("expected t1/ skipped as settling, got %s", cand.Skipped["t1/"])
	}
}

func TestSelectMarkerError(t *testing.T) {
	p := DefaultPolicy()
	boom := errors.New("boom")
	_, err := newTestSelector(&stubStat{err: boom}).Select(context.Background(), "b", folder(p, "t1/", time.Hour), false)
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped stat error, got %v", err)
	}
}
