// Package extractor implements the hybrid invoice field extraction engine:
// a Gemini Vision primary strategy, an offline EasyOCR fallback with local
// LLM post-processing, and the batch coordinator that drives them.
package extractor

import "context"

// Extraction methods recorded on every result.
const (
	MethodGemini      = "gemini"
	MethodEasyOCR     = "easyocr"
	MethodOCRLocalLLM = "easyocr+local_llm"
	MethodFailed      = "failed"
)

// Document is one input image handed to the extraction chain.
type Document struct {
	// ID is the stable identifier derived from the source filename
	// without its extension.
	ID string

	// SourcePath is the original path or URI the bytes came from.
	SourcePath string

	// Data is the raw image bytes.
	Data []byte

	// MIMEType is the image content type, e.g. "image/png".
	MIMEType string
}

// Fields are the four scalar invoice fields. Unresolved fields stay nil and
// marshal as JSON null, never omitted.
type Fields struct {
	DealerName *string `json:"dealer_name"`
	ModelName  *string `json:"model_name"`
	HorsePower *string `json:"horse_power"`
	AssetCost  *int64  `json:"asset_cost"`
}

// Mark is a detected signature or stamp. BBox is [x1,y1,x2,y2] in pixel
// space, or null when not located.
type Mark struct {
	Present bool  `json:"present"`
	BBox    []int `json:"bbox"`
}

// DocumentFields is the full field block of an extraction record.
type DocumentFields struct {
	Fields
	Signature Mark `json:"signature"`
	Stamp     Mark `json:"stamp"`
}

// Result is the outcome of a single extraction strategy.
type Result struct {
	Fields    Fields
	Signature Mark
	Stamp     Mark

	// Confidence is a strategy-dependent heuristic in [0,1].
	Confidence float64

	// RawText is the recognized document text, populated only by the
	// OCR strategy and consumed by the local LLM enrichment step.
	RawText string
}

// Record is the canonical per-document output, one per input regardless of
// which strategy succeeded.
type Record struct {
	DocID             string         `json:"doc_id"`
	Fields            DocumentFields `json:"fields"`
	Confidence        float64        `json:"confidence"`
	ProcessingTimeSec float64        `json:"processing_time_sec"`
	CostEstimateUSD   float64        `json:"cost_estimate_usd"`
	ExtractionMethod  string         `json:"extraction_method"`
	SourceFile        string         `json:"source_file,omitempty"`
	Timestamp         string         `json:"timestamp,omitempty"`
	Error             string         `json:"error,omitempty"`
}

// ImageExtractor is a capability that reads structured fields off an image.
// Extract returns (nil, nil) when the engine ran but found nothing usable.
type ImageExtractor interface {
	// Usable reports whether the engine initialized and can be invoked.
	Usable() bool
	Extract(ctx context.Context, doc Document) (*Result, error)
}

// TextExtractor is a capability that reads structured fields off raw text.
type TextExtractor interface {
	Usable() bool
	Extract(ctx context.Context, text string) (*Fields, error)
}
