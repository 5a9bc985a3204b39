package repository

import (
	"context"
	"os"
	"testing"

	"github.com/joho/godotenv"

	"github.com/dharsanguruparan/DataSteward/internal/database"
	"github.com/dharsanguruparan/DataSteward/internal/model"
)

func TestNullable(t *testing.T) {
	if nullable("") != nil {
		t.Fatalf("empty string should be NULL")
	}
	if v := nullable("x"); v == nil || *v != "x" {
		t.Fatalf("expected pointer to x")
	}
}

// TestSiteAndRunRoundTrip needs a Postgres reachable through TEST_DATABASE_URL.
func TestSiteAndRunRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping database test in short mode")
	}
	godotenv.Load("../../.env.test")
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := database.Connect(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer pool.Close()
	if err := database.EnsureSchema(ctx, pool, "lookup_tables_test"); err != nil {
		t.Fatalf("schema: %v", err)
	}

	sites := NewSiteRepository(pool, "lookup_tables_test")
	site := model.Site{HPOID: "fake", Name: "Fake Site", Bucket: "fake-bucket", Contacts: []string{"b@x.org", "a@x.org"}}
	if err := sites.SaveSite(ctx, site); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := sites.Site(ctx, "FAKE")
	if err != nil {
		t.Fatalf("site: %v", err)
	}
	if got.Bucket != "fake-bucket" || len(got.Contacts) != 2 || got.Contacts[0] != "a@x.org" {
		t.Fatalf("unexpected site %+v", got)
	}

	runs := NewRunRepository(pool)
	id, err := runs.Start(ctx, "fake")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := runs.Finish(ctx, id, model.RunOutcome{Status: model.RunCompleted, Folder: "2024-01-01-v1/"}); err != nil {
		t.Fatalf("finish: %v", err)
	}
	recent, err := runs.Recent(ctx, "fake", 1)
	if err != nil || len(recent) != 1 || recent[0].Status != model.RunCompleted {
		t.Fatalf("recent: %+v, %v", recent, err)
	}
}
