package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/dharsanguruparan/DataSteward/internal/model"
)

type stubConn struct {
	subjects []string
	payloads [][]byte
	err      error
	flushes  int
}

func (c *stubConn) Publish(subject string, data []byte) error {
	if c.err != nil {
		return c.err
	}
	c.subjects = append(c.subjects, subject)
	c.payloads = append(c.payloads, data)
	return nil
}

func (c *stubConn) FlushWithContext(context.Context) error {
	c.flushes++
	return nil
}

func TestNewReportMessageWithoutContacts(t *testing.T) {
	if msg := NewReportMessage(model.Site{HPOID: "hpo1", Name: "Site"}, "a@b", nil, "b", "f/"); msg != nil {
		t.Fatalf("expected nil message when site has no contacts")
	}
}

func TestSendReport(t *testing.T) {
	conn := &stubConn{}
	p := NewPublisher(conn, "steward.reports", "steward.alerts")
	site := model.Site{HPOID: "hpo1", Name: "Site One", Contacts: []string{"x@site.org"}}
	msg := NewReportMessage(site, "steward@example.org", []byte("<html></html>"), "bucket", "2024-01-01-v1/")

	id, err := p.SendReport(context.Background(), msg)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if id != msg.ID || conn.subjects[0] != "steward.reports" || conn.flushes != 1 {
		t.Fatalf("unexpected publish state: id=%s subjects=%v flushes=%d", id, conn.subjects, conn.flushes)
	}
	var got ReportMessage
	if err := json.Unmarshal(conn.payloads[0], &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Subject != "EHR Data Submission Report for Site One" || got.ResultsURI != "gs://bucket/2024-01-01-v1/results.html" {
		t.Fatalf("unexpected message %+v", got)
	}
}

func TestAlertError(t *testing.T) {
	boom := errors.New("down")
	p := NewPublisher(&stubConn{err: boom}, "r", "a")
	if err := p.Alert(context.Background(), "hello"); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped publish error, got %v", err)
	}
}
