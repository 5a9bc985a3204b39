package warehouse

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Load job states.
const (
	JobPending = "PENDING"
	JobRunning = "RUNNING"
	JobDone    = "DONE"
)

// JobError describes why a load failed.
type JobError struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

// JobStatus is the terminal state of a load job. ErrorResult is set when the
// load failed; Errors lists every problem found.
type JobStatus struct {
	ID          string     `json:"id"`
	State       string     `json:"state"`
	ErrorResult *JobError  `json:"errorResult,omitempty"`
	Errors      []JobError `json:"errors,omitempty"`
	OutputRows  int64      `json:"outputRows"`
}

// LoadCSV starts a job loading the CSV object src into table and returns the
// job id immediately. The table must already exist.
func (w *Warehouse) LoadCSV(ctx context.Context, table TableRef, src ObjectRef) (string, error) {
	id := uuid.NewString()
	_, err := w.pool.Exec(ctx, `
		INSERT INTO steward.load_jobs (id, dataset, table_name, source_uri, state, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, id, table.Dataset, table.Table, src.URI(), JobPending, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("insert load job: %w", err)
	}
	w.jobs.Add(1)
	go func() {
		defer w.jobs.Done()
		w.runLoad(id, table, src)
	}()
	return id, nil
}

// finishTimeout bounds the final job update, which runs after the load's own
// deadline may have passed.
const finishTimeout = 10 * time.Second

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// runLoad is detached from the caller's context; Wait enforces the caller's
// deadline instead.
func (w *Warehouse) runLoad(id string, table TableRef, src ObjectRef) {
	ctx, cancel := context.WithTimeout(context.Background(), w.opts.Timeout)
	defer cancel()
	if _, err := w.pool.Exec(ctx, `UPDATE steward.load_jobs SET state=$1 WHERE id=$2`, JobRunning, id); err != nil {
		w.log.Error("mark load running", "job", id, "err", err)
		return
	}
	rows, jobErrs := w.copyCSV(ctx, table, src)
	if len(jobErrs) > 0 {
		w.log.Warn("load failed", "job", id, "table", table.String(), "source", src.URI(), "errors", len(jobErrs))
	}
	if err := finishLoad(w.pool, id, rows, jobErrs); err != nil {
		w.log.Error("finish load job", "job", id, "err", err)
	}
}

// finishLoad marks the job DONE under a fresh deadline so a load that ran
// out of time does not stay RUNNING.
func finishLoad(db execer, id string, rows int64, jobErrs []JobError) error {
	ctx, cancel := context.WithTimeout(context.Background(), finishTimeout)
	defer cancel()
	var (
		errorResult []byte
		errorList   []byte
	)
	if len(jobErrs) > 0 {
		errorResult, _ = json.Marshal(jobErrs[0])
		errorList, _ = json.Marshal(jobErrs)
	}
	_, err := db.Exec(ctx, `
		UPDATE steward.load_jobs
		SET state=$1, error_result=$2, errors=$3, output_rows=$4, finished_at=$5
		WHERE id=$6
	`, JobDone, errorResult, errorList, rows, time.Now().UTC(), id)
	return err
}

func (w *Warehouse) copyCSV(ctx context.Context, table TableRef, src ObjectRef) (int64, []JobError) {
	columns, err := w.Columns(ctx, table)
	if err != nil {
		return 0, []JobError{{Reason: "notFound", Message: err.Error()}}
	}
	fields, _ := Fields(Kind(table.Table))

	rc, err := w.objects.Open(ctx, src.Bucket, src.Name)
	if err != nil {
		return 0, []JobError{{Reason: "notFound", Message: fmt.Sprintf("Not found: %s", src.URI())}}
	}
	defer rc.Close()
	body := bufio.NewReader(rc)
	header, err := readHeader(body)
	if err != nil {
		return 0, []JobError{{Reason: "invalid", Message: err.Error()}}
	}
	if errs := checkHeader(header, columns, fields); len(errs) > 0 {
		return 0, errs
	}

	conn, err := w.pool.Acquire(ctx)
	if err != nil {
		return 0, []JobError{{Reason: "backendError", Message: err.Error()}}
	}
	defer conn.Release()
	tag, err := conn.Conn().PgConn().CopyFrom(ctx, body, copyStatement(table, header))
	if err != nil {
		return 0, []JobError{copyError(err)}
	}
	return tag.RowsAffected(), nil
}

// readHeader consumes the first CSV line and returns the lower-cased column
// names.
func readHeader(r *bufio.Reader) ([]string, error) {
	line, err := r.ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || line == "") {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("read header: empty file")
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	line = strings.TrimPrefix(line, "\ufeff")
	rec, err := csv.NewReader(strings.NewReader(line)).Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %v", err)
	}
	for i := range rec {
		rec[i] = strings.ToLower(strings.TrimSpace(rec[i]))
	}
	return rec, nil
}

func checkHeader(header, columns []string, fields []Field) []JobError {
	known := make(map[string]bool, len(columns))
	for _, c := range columns {
		known[c] = true
	}
	var errs []JobError
	seen := make(map[string]bool, len(header))
	for _, h := range header {
		switch {
		case !known[h]:
			errs = append(errs, JobError{Reason: "invalid", Message: fmt.Sprintf("No such field: %s", h)})
		case seen[h]:
			errs = append(errs, JobError{Reason: "invalid", Message: fmt.Sprintf("Duplicate field: %s", h)})
		}
		seen[h] = true
	}
	for _, f := range fields {
		if f.Required && !seen[f.Name] {
			errs = append(errs, JobError{Reason: "invalid", Message: fmt.Sprintf("Missing required field: %s", f.Name)})
		}
	}
	return errs
}

func copyStatement(table TableRef, header []string) string {
	cols := make([]string, len(header))
	for i, h := range header {
		cols[i] = pgx.Identifier{h}.Sanitize()
	}
	return fmt.Sprintf("COPY %s (%s) FROM STDIN WITH (FORMAT csv)", table.Sanitize(), strings.Join(cols, ", "))
}

func copyError(err error) JobError {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		msg := pgErr.Message
		if pgErr.Where != "" {
			msg += " (" + pgErr.Where + ")"
		}
		return JobError{Reason: "invalid", Message: msg}
	}
	return JobError{Reason: "backendError", Message: err.Error()}
}

// Wait polls until every job reaches DONE or the load timeout elapses and
// returns the ids still incomplete.
func (w *Warehouse) Wait(ctx context.Context, jobIDs []string) ([]string, error) {
	deadline := time.Now().Add(w.opts.Timeout)
	for {
		rows, err := w.pool.Query(ctx, `
			SELECT id FROM steward.load_jobs WHERE id = ANY($1) AND state <> $2 ORDER BY id
		`, jobIDs, JobDone)
		if err != nil {
			return nil, fmt.Errorf("poll load jobs: %w", err)
		}
		pending, err := pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil {
			return nil, fmt.Errorf("poll load jobs: %w", err)
		}
		if len(pending) == 0 || !time.Now().Before(deadline) {
			return pending, nil
		}
		select {
		case <-ctx.Done():
			return pending, ctx.Err()
		case <-time.After(w.opts.PollInterval):
		}
	}
}

// JobStatus returns the recorded state of a load job.
func (w *Warehouse) JobStatus(ctx context.Context, jobID string) (*JobStatus, error) {
	var (
		st          = JobStatus{ID: jobID}
		errorResult []byte
		errorList   []byte
		outputRows  *int64
	)
	err := w.pool.QueryRow(ctx, `
		SELECT state, error_result, errors, output_rows FROM steward.load_jobs WHERE id=$1
	`, jobID).Scan(&st.State, &errorResult, &errorList, &outputRows)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("load job %s not found: %w", jobID, err)
		}
		return nil, fmt.Errorf("select load job: %w", err)
	}
	if len(errorResult) > 0 {
		st.ErrorResult = &JobError{}
		if err := json.Unmarshal(errorResult, st.ErrorResult); err != nil {
			return nil, fmt.Errorf("decode error result: %w", err)
		}
	}
	if len(errorList) > 0 {
		if err := json.Unmarshal(errorList, &st.Errors); err != nil {
			return nil, fmt.Errorf("decode errors: %w", err)
		}
	}
	if outputRows != nil {
		st.OutputRows = *outputRows
	}
	return &st, nil
}
