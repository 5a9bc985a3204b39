package signing

import (
	"net/url"
	"testing"
	"time"
)

func TestSigner(t *testing.T) {
	s := NewSigner([]byte("topsecret"))
	s.now = func() time.Time { return time.Unix(1700000000, 0) }
	sig := s.Sign("/data_steward/v1/ValidateAllHpoFiles", 1700000060)
	if len(sig) == 0 {
		t.Fatalf("expected signature")
	}
	if !s.Validate("/data_steward/v1/ValidateAllHpoFiles", "1700000060", sig) {
		t.Fatalf("expected signature to validate")
	}
	if s.Validate("/data_steward/v1/UnionEHR", "1700000060", sig) {
		t.Fatalf("expected validation to fail for wrong path")
	}
	if s.Validate("/data_steward/v1/ValidateAllHpoFiles", "1700000061", sig) {
		t.Fatalf("expected validation to fail for wrong expiry")
	}
	if s.Validate("/data_steward/v1/ValidateAllHpoFiles", "soon", sig) {
		t.Fatalf("expected validation to fail for malformed expiry")
	}
}

func TestSignerExpiry(t *testing.T) {
	now := time.Unix(1700000000, 0)
	s := NewSigner([]byte("topsecret"))
	s.now = func() time.Time { return now }
	exp, sig := s.SignFor("/p", time.Minute)
	if !s.Validate("/p", exp, sig) {
		t.Fatalf("fresh signature should validate")
	}
	now = now.Add(2 * time.Minute)
	if s.Validate("/p", exp, sig) {
		t.Fatalf("expired signature should not validate")
	}
}

func TestTargetCoversQuery(t *testing.T) {
	u, _ := url.Parse("http://steward/data_steward/v1/RetractPids?hpo_id=hpo1")
	if got := Target(u); got != "/data_steward/v1/RetractPids?hpo_id=hpo1" {
		t.Fatalf("unexpected target %q", got)
	}
	s := NewSigner([]byte("topsecret"))
	exp, sig := s.SignFor(Target(u), time.Minute)
	u.RawQuery = "hpo_id=victim"
	if s.Validate(Target(u), exp, sig) {
		t.Fatalf("expected validation to fail for a changed query")
	}
	u.RawQuery = ""
	if got := Target(u); got != "/data_steward/v1/RetractPids" {
		t.Fatalf("unexpected target without query %q", got)
	}
}
