package extractor

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// OCRExtractor is the offline fallback strategy. It talks to a local
// EasyOCR sidecar service that returns pattern-matched fields plus the raw
// recognized text.
type OCRExtractor struct {
	baseURL     string
	languages   []string
	client      *http.Client
	log         zerolog.Logger
	initialized bool
}

// NewOCR creates the OCR adapter and probes the sidecar's health endpoint
// once. An unreachable sidecar leaves the adapter unusable; the chain skips
// it silently.
func NewOCR(baseURL string, languages []string, timeout time.Duration, log zerolog.Logger) *OCRExtractor {
	o := &OCRExtractor{
		baseURL:   baseURL,
		languages: languages,
		client:    &http.Client{Timeout: timeout},
		log:       log.With().Str("extractor", MethodEasyOCR).Logger(),
	}
	o.initialized = o.ping()
	if !o.initialized {
		o.log.Warn().Str("base_url", baseURL).Msg("OCR sidecar unreachable, extractor disabled")
	}
	return o
}

func (o *OCRExtractor) ping() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Usable implements ImageExtractor.
func (o *OCRExtractor) Usable() bool {
	return o.initialized
}

type ocrRequest struct {
	Image     string   `json:"image"`
	Languages []string `json:"languages,omitempty"`
}

type ocrResponse struct {
	DealerName       *string     `json:"dealer_name"`
	ModelName        *string     `json:"model_name"`
	HorsePower       *string     `json:"horse_power"`
	AssetCost        interface{} `json:"asset_cost"`
	SignaturePresent bool        `json:"signature_present"`
	SignatureBBox    []int       `json:"signature_bbox"`
	StampPresent     bool        `json:"stamp_present"`
	StampBBox        []int       `json:"stamp_bbox"`
	Confidence       float64     `json:"confidence"`
	RawText          string      `json:"raw_text"`
}

// Extract implements ImageExtractor. The sidecar's bounding boxes are
// already in pixel space.
func (o *OCRExtractor) Extract(ctx context.Context, doc Document) (*Result, error) {
	if !o.initialized {
		return nil, nil
	}

	body, err := json.Marshal(ocrRequest{
		Image:     base64.StdEncoding.EncodeToString(doc.Data),
		Languages: o.languages,
	})
	if err != nil {
		return nil, fmt.Errorf("ocr extraction: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/extract", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ocr extraction: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ocr extraction: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ocr extraction: sidecar returned %s", resp.Status)
	}

	var out ocrResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("ocr extraction: decode response: %w", err)
	}

	return &Result{
		Fields: Fields{
			DealerName: out.DealerName,
			ModelName:  out.ModelName,
			HorsePower: out.HorsePower,
			AssetCost:  normalizeAssetCost(out.AssetCost),
		},
		Signature:  Mark{Present: out.SignaturePresent, BBox: out.SignatureBBox},
		Stamp:      Mark{Present: out.StampPresent, BBox: out.StampBBox},
		Confidence: out.Confidence,
		RawText:    out.RawText,
	}, nil
}
