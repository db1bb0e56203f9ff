package extractor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/adithya11sci/genAi-idfc/internal/runlog"
)

// DocumentExtractor produces one record per document. Satisfied by
// HybridExtractor.
type DocumentExtractor interface {
	Extract(ctx context.Context, doc Document) Record
}

// BatchProcessor drives the extraction chain over an ordered document
// sequence, strictly one at a time. One bad document never aborts the
// batch: load errors and escaped panics become failed records in place.
type BatchProcessor struct {
	extractor DocumentExtractor
	loader    Loader
	recorder  runlog.Recorder
	log       zerolog.Logger
	now       func() time.Time
}

// NewBatch creates a batch processor. recorder may be runlog.Noop.
func NewBatch(extractor DocumentExtractor, loader Loader, recorder runlog.Recorder, log zerolog.Logger) *BatchProcessor {
	return &BatchProcessor{
		extractor: extractor,
		loader:    loader,
		recorder:  recorder,
		log:       log,
		now:       time.Now,
	}
}

// Process extracts every document in input order and aggregates the records
// into a report. Output ordering matches input ordering.
func (b *BatchProcessor) Process(ctx context.Context, inputPaths []string) *BatchReport {
	records := make([]Record, 0, len(inputPaths))

	for i, inputPath := range inputPaths {
		b.log.Info().
			Int("doc", i+1).
			Int("of", len(inputPaths)).
			Str("path", inputPath).
			Msg("processing document")

		rec := b.processOne(ctx, inputPath)
		rec.SourceFile = inputPath
		rec.Timestamp = b.now().Format(time.RFC3339)
		records = append(records, rec)
	}

	return NewBatchReport(uuid.NewString(), records, b.now())
}

// processOne runs one document through the chain, recovering from anything
// that escapes the orchestrator so the batch can continue.
func (b *BatchProcessor) processOne(ctx context.Context, inputPath string) (rec Record) {
	docID := DocID(inputPath)

	runID, err := b.recorder.StartRun(ctx, docID)
	if err != nil {
		b.log.Warn().Err(err).Str("doc_id", docID).Msg("run log unavailable")
	}

	defer func() {
		if r := recover(); r != nil {
			b.log.Error().
				Str("doc_id", docID).
				Interface("panic", r).
				Msg("extraction panicked, recording failure")
			rec = failedRecord(docID, fmt.Sprintf("extraction panic: %v", r))
		}
		b.finishRun(ctx, runID, rec)
	}()

	doc, err := b.loader.Load(ctx, inputPath)
	if err != nil {
		b.log.Warn().Err(err).Str("doc_id", docID).Msg("failed to load document")
		return failedRecord(docID, err.Error())
	}

	return b.extractor.Extract(ctx, doc)
}

func (b *BatchProcessor) finishRun(ctx context.Context, runID string, rec Record) {
	if runID == "" {
		return
	}
	status := runlog.StatusSuccess
	if rec.ExtractionMethod == MethodFailed {
		status = runlog.StatusFailed
	}
	err := b.recorder.FinishRun(ctx, runlog.Run{
		RunID:      runID,
		DocID:      rec.DocID,
		Status:     status,
		Method:     rec.ExtractionMethod,
		Confidence: rec.Confidence,
		Error:      rec.Error,
	})
	if err != nil {
		b.log.Warn().Err(err).Str("run_id", runID).Msg("failed to record run outcome")
	}
}

// failedRecord builds the well-formed all-null record used when a document
// could not be processed at all.
func failedRecord(docID, errMsg string) Record {
	return Record{
		DocID:            docID,
		ExtractionMethod: MethodFailed,
		Error:            errMsg,
	}
}
