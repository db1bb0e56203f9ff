package extractor

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// BatchStats are the aggregate statistics over one batch run.
type BatchStats struct {
	BatchID                string  `json:"batch_id"`
	Total                  int     `json:"total"`
	Successful             int     `json:"successful"`
	Failed                 int     `json:"failed"`
	SuccessRate            float64 `json:"success_rate"`
	AvgConfidence          float64 `json:"avg_confidence"`
	TotalProcessingTimeSec float64 `json:"total_processing_time_sec"`
	AvgTimePerDocSec       float64 `json:"avg_time_per_doc_sec"`
	TotalCostUSD           float64 `json:"total_cost_usd"`
	ProcessedAt            string  `json:"processed_at"`
}

// BatchReport is the persisted output of a batch run: the stats plus every
// record in input order. Constructed once per run, never mutated afterward.
type BatchReport struct {
	BatchInfo BatchStats `json:"batch_info"`
	Documents []Record   `json:"documents"`
}

// NewBatchReport aggregates the records into a report. An empty batch
// produces zeroed averages rather than a division error.
func NewBatchReport(batchID string, records []Record, processedAt time.Time) *BatchReport {
	stats := BatchStats{
		BatchID:     batchID,
		Total:       len(records),
		ProcessedAt: processedAt.Format(time.RFC3339),
	}

	var confidenceSum float64
	for _, rec := range records {
		if rec.ExtractionMethod == MethodFailed {
			stats.Failed++
		} else {
			stats.Successful++
		}
		confidenceSum += rec.Confidence
		stats.TotalProcessingTimeSec += rec.ProcessingTimeSec
		stats.TotalCostUSD += rec.CostEstimateUSD
	}

	if stats.Total > 0 {
		stats.SuccessRate = float64(stats.Successful) / float64(stats.Total)
		stats.AvgConfidence = confidenceSum / float64(stats.Total)
		stats.AvgTimePerDocSec = stats.TotalProcessingTimeSec / float64(stats.Total)
	}

	return &BatchReport{
		BatchInfo: stats,
		Documents: records,
	}
}

// Write persists the report as JSON. A write failure is fatal to the run
// and must be surfaced to the caller.
func (r *BatchReport) Write(outputPath string) error {
	return writeJSON(outputPath, r)
}

// WriteRecord persists a single extraction record directly, without the
// batch_info wrapper. Used in single-document mode.
func WriteRecord(outputPath string, rec Record) error {
	return writeJSON(outputPath, rec)
}

func writeJSON(outputPath string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	if err := os.WriteFile(outputPath, data, 0o644); err != nil {
		return fmt.Errorf("write output %s: %w", outputPath, err)
	}
	return nil
}
