package validation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dharsanguruparan/DataSteward/internal/model"
	"github.com/dharsanguruparan/DataSteward/internal/notify"
	"github.com/dharsanguruparan/DataSteward/internal/submission"
)

// TimestampLayout formats report and processed-marker timestamps.
const TimestampLayout = "2006-01-02T15:04:05"

// Reporter writes the results page and processed marker back into the site's
// folder and e-mails the site after the first run of a submission.
type Reporter struct {
	objects  ObjectStore
	renderer Renderer
	notifier Notifier
	sender   string
	loc      *time.Location
	now      func() time.Time
	log      *slog.Logger
}

// NewReporter constructs a Reporter stamping reports in loc.
func NewReporter(objects ObjectStore, renderer Renderer, notifier Notifier, sender string, loc *time.Location, now func() time.Time, logger *slog.Logger) *Reporter {
	if now == nil {
		now = time.Now
	}
	return &Reporter{objects: objects, renderer: renderer, notifier: notifier, sender: sender, loc: loc, now: now, log: logger}
}

// Report stamps report, writes results.html and processed.txt under
// folderPrefix, and sends the e-mail when this is the folder's first run.
// folderItems is the folder listing taken before validation.
func (r *Reporter) Report(ctx context.Context, site model.Site, report *model.Report, folderItems []string, bucket, folderPrefix string) error {
	stamp := r.now().In(r.loc).Format(TimestampLayout)
	report.Timestamp = stamp
	html, err := r.renderer.Render(report)
	if err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	if err := r.objects.Write(ctx, bucket, folderPrefix+submission.ResultsHTML, html, "text/html; charset=utf-8"); err != nil {
		return fmt.Errorf("write results: %w", err)
	}
	if err := r.objects.Write(ctx, bucket, folderPrefix+submission.ProcessedTxt, []byte(stamp), "text/plain; charset=utf-8"); err != nil {
		return fmt.Errorf("write processed marker: %w", err)
	}

	if len(folderItems) == 0 || !submission.IsFirstValidationRun(folderItems) {
		return nil
	}
	msg := notify.NewReportMessage(site, r.sender, html, bucket, folderPrefix)
	if msg == nil {
		r.log.Info("no contacts on file, skipping report e-mail", "hpo_id", site.HPOID)
		return nil
	}
	id, err := r.notifier.SendReport(ctx, msg)
	if err != nil {
		// e-mail failures do not fail the run
		r.log.Error("send report e-mail", "hpo_id", site.HPOID, "err", err)
		return nil
	}
	r.log.Info("report e-mail sent", "hpo_id", site.HPOID, "message_id", id)
	return nil
}

// EmptyReport is produced for folders whose name breaks the naming
// convention; nothing in them is loaded.
func EmptyReport(site model.Site, folderPrefix string) *model.Report {
	return &model.Report{
		HPOName: site.Name,
		Folder:  folderPrefix,
		SubmissionError: fmt.Sprintf("Submission folder name %s does not follow the naming convention %s, "+
			"where vN represents the version number for the day, starting at v1 each day. "+
			"Please resubmit the files in a new folder with the correct naming convention.",
			folderPrefix, submission.FolderNamingConvention),
	}
}
