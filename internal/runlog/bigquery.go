package runlog

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
)

// BigQueryRecorder writes runs to a BigQuery table. It holds a shared
// client so a batch does not open a connection per document.
type BigQueryRecorder struct {
	client  *bigquery.Client
	dataset string
	table   string
}

// NewBigQueryRecorder connects to the configured project. Application
// Default Credentials must be available.
func NewBigQueryRecorder(ctx context.Context, projectID, dataset, table string) (*BigQueryRecorder, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("runlog: bigquery client: %w", err)
	}
	return &BigQueryRecorder{client: client, dataset: dataset, table: table}, nil
}

// Close closes the underlying BigQuery client.
func (r *BigQueryRecorder) Close() error {
	return r.client.Close()
}

// StartRun implements Recorder.
func (r *BigQueryRecorder) StartRun(ctx context.Context, docID string) (string, error) {
	runID := uuid.NewString()

	q := r.client.Query(fmt.Sprintf(`
		INSERT %s.%s (run_id, doc_id, started_ts, status)
		VALUES (@run_id, @doc_id, @started_ts, @status)
	`, r.dataset, r.table))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "run_id", Value: runID},
		{Name: "doc_id", Value: docID},
		{Name: "started_ts", Value: time.Now()},
		{Name: "status", Value: StatusRunning},
	}

	job, err := q.Run(ctx)
	if err != nil {
		return "", fmt.Errorf("runlog: start run: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return "", fmt.Errorf("runlog: start run wait: %w", err)
	}
	if err := status.Err(); err != nil {
		return "", fmt.Errorf("runlog: start run status: %w", err)
	}
	return runID, nil
}

// FinishRun implements Recorder.
func (r *BigQueryRecorder) FinishRun(ctx context.Context, run Run) error {
	q := r.client.Query(fmt.Sprintf(`
		UPDATE %s.%s
		SET finished_ts = @finished_ts,
		    status = @status,
		    extraction_method = @method,
		    confidence = @confidence,
		    error_message = @error_message
		WHERE run_id = @run_id
	`, r.dataset, r.table))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "finished_ts", Value: time.Now()},
		{Name: "status", Value: run.Status},
		{Name: "method", Value: run.Method},
		{Name: "confidence", Value: run.Confidence},
		{Name: "error_message", Value: run.Error},
		{Name: "run_id", Value: run.RunID},
	}

	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("runlog: finish run: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("runlog: finish run wait: %w", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("runlog: finish run status: %w", err)
	}
	return nil
}

type runRow struct {
	RunID      string               `bigquery:"run_id"`
	DocID      string               `bigquery:"doc_id"`
	Status     string               `bigquery:"status"`
	Method     bigquery.NullString  `bigquery:"extraction_method"`
	Confidence bigquery.NullFloat64 `bigquery:"confidence"`
	Error      bigquery.NullString  `bigquery:"error_message"`
}

// RecentRuns implements Recorder.
func (r *BigQueryRecorder) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	q := r.client.Query(fmt.Sprintf(`
		SELECT run_id, doc_id, status, extraction_method, confidence, error_message
		FROM %s.%s
		ORDER BY started_ts DESC
		LIMIT @limit
	`, r.dataset, r.table))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "limit", Value: int64(limit)},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("runlog: recent runs: %w", err)
	}

	var runs []Run
	for {
		var row runRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("runlog: recent runs iterate: %w", err)
		}
		runs = append(runs, Run{
			RunID:      row.RunID,
			DocID:      row.DocID,
			Status:     row.Status,
			Method:     row.Method.StringVal,
			Confidence: row.Confidence.Float64,
			Error:      row.Error.StringVal,
		})
	}
	return runs, nil
}
