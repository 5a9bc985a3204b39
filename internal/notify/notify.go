// Package notify publishes submission report e-mails and job alerts onto NATS
// subjects. A mail relay subscribed to the report subject does the delivery.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/dharsanguruparan/DataSteward/internal/model"
)

// Conn is the part of *nats.Conn the publisher needs.
type Conn interface {
	Publish(subject string, data []byte) error
	FlushWithContext(ctx context.Context) error
}

var _ Conn = (*nats.Conn)(nil)

// ReportMessage is the e-mail request sent to a site's contacts after its
// first validation run of a submission.
type ReportMessage struct {
	ID         string    `json:"id"`
	HPOID      string    `json:"hpo_id"`
	SiteName   string    `json:"site_name"`
	Sender     string    `json:"sender"`
	To         []string  `json:"to"`
	Subject    string    `json:"subject"`
	HTML       string    `json:"html"`
	ResultsURI string    `json:"results_uri"`
	Tags       []string  `json:"tags"`
	CreatedAt  time.Time `json:"created_at"`
}

// NewReportMessage builds the message for site, or returns nil when the site
// has no contacts on file.
func NewReportMessage(site model.Site, sender string, html []byte, bucket, folder string) *ReportMessage {
	if len(site.Contacts) == 0 {
		return nil
	}
	return &ReportMessage{
		ID:         uuid.NewString(),
		HPOID:      site.HPOID,
		SiteName:   site.Name,
		Sender:     sender,
		To:         append([]string(nil), site.Contacts...),
		Subject:    fmt.Sprintf("EHR Data Submission Report for %s", site.Name),
		HTML:       string(html),
		ResultsURI: fmt.Sprintf("gs://%s/%sresults.html", bucket, folder),
		Tags:       []string{site.HPOID},
		CreatedAt:  time.Now().UTC(),
	}
}

// Alert is a one-line job notification for the curation channel.
type Alert struct {
	Text   string    `json:"text"`
	SentAt time.Time `json:"sent_at"`
}

const flushTimeout = 10 * time.Second

// Publisher sends messages over NATS.
type Publisher struct {
	conn          Conn
	reportSubject string
	alertSubject  string
}

// NewPublisher constructs a Publisher.
func NewPublisher(conn Conn, reportSubject, alertSubject string) *Publisher {
	return &Publisher{conn: conn, reportSubject: reportSubject, alertSubject: alertSubject}
}

// Connect dials the NATS server at url.
func Connect(url, name string) (*nats.Conn, error) {
	nc, err := nats.Connect(url, nats.Name(name), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return nc, nil
}

// SendReport publishes msg and returns its id once the server has it.
func (p *Publisher) SendReport(ctx context.Context, msg *ReportMessage) (string, error) {
	if err := p.publish(ctx, p.reportSubject, msg); err != nil {
		return "", fmt.Errorf("send report for %s: %w", msg.HPOID, err)
	}
	return msg.ID, nil
}

// Alert publishes a job alert.
func (p *Publisher) Alert(ctx context.Context, text string) error {
	if err := p.publish(ctx, p.alertSubject, Alert{Text: text, SentAt: time.Now().UTC()}); err != nil {
		return fmt.Errorf("send alert: %w", err)
	}
	return nil
}

func (p *Publisher) publish(ctx context.Context, subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	if err := p.conn.Publish(subject, data); err != nil {
		return err
	}
	// nats refuses to flush without a deadline.
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, flushTimeout)
		defer cancel()
	}
	return p.conn.FlushWithContext(ctx)
}

// LogSink writes messages to a logger instead of publishing them. It backs
// local runs without a NATS server.
type LogSink struct {
	Logger *slog.Logger
}

// SendReport logs msg and returns its id.
func (s LogSink) SendReport(_ context.Context, msg *ReportMessage) (string, error) {
	s.Logger.Info("report e-mail", "id", msg.ID, "hpo_id", msg.HPOID, "to", msg.To, "subject", msg.Subject)
	return msg.ID, nil
}

// Alert logs text.
func (s LogSink) Alert(_ context.Context, text string) error {
	s.Logger.Info("alert", "text", text)
	return nil
}
