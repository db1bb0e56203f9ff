package extractor

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// enrichedConfidence is assigned whenever the local LLM overrides at least
// one OCR-derived field.
const enrichedConfidence = 0.85

// HybridExtractor walks the fixed-priority fallback chain: Gemini Vision
// first, then EasyOCR with optional local LLM enrichment. It emits exactly
// one Record per document no matter which strategy succeeded.
//
// Either image strategy may be nil, which pins the chain to a single
// strategy (the CLI's gemini-only and ocr-only modes).
type HybridExtractor struct {
	vision ImageExtractor
	ocr    ImageExtractor
	llm    TextExtractor

	costPerCall float64
	log         zerolog.Logger
	now         func() time.Time
}

// NewHybrid composes the fallback chain. costPerCall is the fixed charge
// attributed to a successful Gemini extraction.
func NewHybrid(vision, ocr ImageExtractor, llm TextExtractor, costPerCall float64, log zerolog.Logger) *HybridExtractor {
	return &HybridExtractor{
		vision:      vision,
		ocr:         ocr,
		llm:         llm,
		costPerCall: costPerCall,
		log:         log,
		now:         time.Now,
	}
}

// Usable reports whether at least one strategy in the chain can run.
func (h *HybridExtractor) Usable() bool {
	if h.vision != nil && h.vision.Usable() {
		return true
	}
	return h.ocr != nil && h.ocr.Usable()
}

// Extract runs the chain for one document. Adapter errors are absorbed and
// logged; they only mean "this strategy produced no result". Total chain
// exhaustion yields a well-formed failed record, never an error.
func (h *HybridExtractor) Extract(ctx context.Context, doc Document) Record {
	start := h.now()

	res, method := h.runChain(ctx, doc)

	rec := Record{
		DocID:            doc.ID,
		ExtractionMethod: method,
	}
	if res != nil {
		rec.Fields = DocumentFields{
			Fields:    res.Fields,
			Signature: res.Signature,
			Stamp:     res.Stamp,
		}
		rec.Confidence = res.Confidence
	}

	// Elapsed time covers the whole chain, not just the winning strategy.
	rec.ProcessingTimeSec = round2(h.now().Sub(start).Seconds())

	// Cost is charged per Gemini call only, never accumulated across
	// fallback attempts.
	if method == MethodGemini {
		rec.CostEstimateUSD = h.costPerCall
	}

	return rec
}

func (h *HybridExtractor) runChain(ctx context.Context, doc Document) (*Result, string) {
	if h.vision != nil && h.vision.Usable() {
		res, err := h.vision.Extract(ctx, doc)
		switch {
		case err != nil:
			h.log.Warn().Err(err).Str("doc_id", doc.ID).Msg("vision extraction failed, falling through")
		case res != nil && res.Confidence > 0:
			h.log.Info().Str("doc_id", doc.ID).Msg("gemini extraction successful")
			return res, MethodGemini
		}
	}

	if h.ocr != nil && h.ocr.Usable() {
		h.log.Info().Str("doc_id", doc.ID).Msg("falling back to easyocr")
		res, err := h.ocr.Extract(ctx, doc)
		switch {
		case err != nil:
			h.log.Warn().Err(err).Str("doc_id", doc.ID).Msg("ocr extraction failed")
		case res != nil:
			method := MethodEasyOCR
			if h.enrich(ctx, doc.ID, res) {
				res.Confidence = enrichedConfidence
				method = MethodOCRLocalLLM
			}
			return res, method
		}
	}

	return nil, MethodFailed
}

// enrich lets the local LLM override OCR-derived fields, field by field.
// Reports whether at least one field was overridden. Any LLM failure leaves
// the OCR result untouched.
func (h *HybridExtractor) enrich(ctx context.Context, docID string, res *Result) bool {
	if h.llm == nil || !h.llm.Usable() {
		return false
	}
	if strings.TrimSpace(res.RawText) == "" {
		return false
	}

	fields, err := h.llm.Extract(ctx, res.RawText)
	if err != nil {
		h.log.Warn().Err(err).Str("doc_id", docID).Msg("local llm enrichment failed, keeping ocr result")
		return false
	}
	if fields == nil {
		return false
	}

	overridden := false
	if fields.DealerName != nil {
		res.Fields.DealerName = fields.DealerName
		overridden = true
	}
	if fields.ModelName != nil {
		res.Fields.ModelName = fields.ModelName
		overridden = true
	}
	if fields.HorsePower != nil {
		res.Fields.HorsePower = fields.HorsePower
		overridden = true
	}
	if fields.AssetCost != nil {
		res.Fields.AssetCost = fields.AssetCost
		overridden = true
	}
	return overridden
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
