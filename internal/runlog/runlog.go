// Package runlog records extraction run history: one row per document per
// run, with the method and confidence the chain settled on. Recording is
// best-effort telemetry; failures never abort a batch.
package runlog

import "context"

// Run statuses.
const (
	StatusRunning = "RUNNING"
	StatusSuccess = "SUCCESS"
	StatusFailed  = "FAILED"
)

// Run is one recorded extraction attempt.
type Run struct {
	RunID      string
	DocID      string
	Status     string
	Method     string
	Confidence float64
	Error      string
}

// Recorder persists extraction runs.
type Recorder interface {
	// StartRun records that extraction began for a document and returns
	// the run id.
	StartRun(ctx context.Context, docID string) (string, error)

	// FinishRun records the terminal state of a run.
	FinishRun(ctx context.Context, run Run) error

	// RecentRuns lists the most recent runs, newest first.
	RecentRuns(ctx context.Context, limit int) ([]Run, error)

	// Close releases underlying resources.
	Close() error
}

// Noop is the default recorder when no run-log backend is configured.
type Noop struct{}

func (Noop) StartRun(ctx context.Context, docID string) (string, error) { return "", nil }
func (Noop) FinishRun(ctx context.Context, run Run) error               { return nil }
func (Noop) RecentRuns(ctx context.Context, limit int) ([]Run, error)   { return nil, nil }
func (Noop) Close() error                                               { return nil }
