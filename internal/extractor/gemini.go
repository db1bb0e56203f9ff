package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"github.com/adithya11sci/genAi-idfc/internal/keymanager"
)

const geminiPrompt = `Analyze this Indian tractor loan quotation invoice and extract ALL fields.

EXTRACT THESE FIELDS:
1. dealer_name: Business name of dealer/seller (from letterhead)
2. model_name: Tractor model - ONLY brand + number (e.g., "Mahindra 575 DI", "Swaraj 744"). Keep SHORT!
3. horse_power: HP value as number only (e.g., "50")
4. asset_cost: Total price in INR as number (no commas, e.g., 850000)
5. signature_present: true/false - is there a handwritten signature?
6. signature_bbox: [x1,y1,x2,y2] as % of image (0-100), or null
7. stamp_present: true/false - is there an official stamp/seal?
8. stamp_bbox: [x1,y1,x2,y2] as % of image (0-100), or null

Return ONLY JSON (no markdown, no explanation):
{"dealer_name":"string or null","model_name":"string or null","horse_power":"string or null","asset_cost":number or null,"signature_present":true/false,"signature_bbox":[x1,y1,x2,y2] or null,"stamp_present":true/false,"stamp_bbox":[x1,y1,x2,y2] or null,"confidence":0.0-1.0}`

// generateFunc sends a prompt plus image to the model and returns its raw
// text response. Injected so tests can exercise the parsing and rate-limit
// paths without network access.
type generateFunc func(ctx context.Context, apiKey, model string, doc Document) (string, error)

// GeminiExtractor is the primary, high-accuracy Vision strategy. It draws
// API keys from the rotation manager on every call.
type GeminiExtractor struct {
	keys     *keymanager.Manager
	model    string
	log      zerolog.Logger
	generate generateFunc
}

// NewGemini creates the Vision adapter. A nil key manager leaves the
// adapter unusable, which forces the offline fallback chain.
func NewGemini(keys *keymanager.Manager, model string, log zerolog.Logger) *GeminiExtractor {
	return &GeminiExtractor{
		keys:     keys,
		model:    model,
		log:      log.With().Str("extractor", MethodGemini).Logger(),
		generate: generateWithGemini,
	}
}

// Usable implements ImageExtractor.
func (g *GeminiExtractor) Usable() bool {
	return g.keys != nil
}

// Extract implements ImageExtractor. A rate-limit signal from the API marks
// the key used for the call as quarantined before the error is returned.
func (g *GeminiExtractor) Extract(ctx context.Context, doc Document) (*Result, error) {
	if !g.Usable() {
		return nil, nil
	}

	apiKey := g.keys.GetKey()

	raw, err := g.generate(ctx, apiKey, g.model, doc)
	if err != nil {
		if isRateLimitSignal(err) {
			g.keys.MarkRateLimited(apiKey)
		}
		return nil, fmt.Errorf("gemini extraction: %w", err)
	}

	clean := cleanModelJSON(raw)
	if clean == "" {
		g.log.Warn().Str("doc_id", doc.ID).Msg("empty response from model")
		return nil, nil
	}

	var payload geminiPayload
	if err := json.Unmarshal([]byte(clean), &payload); err != nil {
		return nil, fmt.Errorf("gemini extraction: unmarshal model output: %w\nraw response: %s", err, raw)
	}

	width, height := imageSize(doc.Data)

	return &Result{
		Fields: Fields{
			DealerName: payload.DealerName,
			ModelName:  payload.ModelName,
			HorsePower: payload.HorsePower,
			AssetCost:  normalizeAssetCost(payload.AssetCost),
		},
		Signature: Mark{
			Present: payload.SignaturePresent,
			BBox:    percentBBoxToPixels(payload.SignatureBBox, width, height),
		},
		Stamp: Mark{
			Present: payload.StampPresent,
			BBox:    percentBBoxToPixels(payload.StampBBox, width, height),
		},
		Confidence: payload.Confidence,
	}, nil
}

type geminiPayload struct {
	DealerName       *string     `json:"dealer_name"`
	ModelName        *string     `json:"model_name"`
	HorsePower       *string     `json:"horse_power"`
	AssetCost        interface{} `json:"asset_cost"`
	SignaturePresent bool        `json:"signature_present"`
	SignatureBBox    []float64   `json:"signature_bbox"`
	StampPresent     bool        `json:"stamp_present"`
	StampBBox        []float64   `json:"stamp_bbox"`
	Confidence       float64     `json:"confidence"`
}

// generateWithGemini is the real model call. A fresh client is built per
// call because each call may use a different rotated key.
func generateWithGemini(ctx context.Context, apiKey, model string, doc Document) (string, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return "", fmt.Errorf("create genai client: %w", err)
	}

	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{Text: geminiPrompt},
				{
					InlineData: &genai.Blob{
						MIMEType: doc.MIMEType,
						Data:     doc.Data,
					},
				},
			},
		},
	}

	resp, err := client.Models.GenerateContent(ctx, model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}

	return resp.Text(), nil
}

// isRateLimitSignal reports whether an upstream error is a quota or
// rate-limit rejection. The API surfaces these as HTTP 429 /
// RESOURCE_EXHAUSTED.
func isRateLimitSignal(err error) bool {
	s := err.Error()
	return strings.Contains(s, "429") || strings.Contains(s, "RESOURCE_EXHAUSTED")
}

// cleanModelJSON strips Markdown fences and surrounding prose if the model
// ignored the raw-JSON instruction, keeping the outermost JSON object.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			return s
		}
		s = strings.TrimSpace(s)
	}
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	s = strings.TrimSpace(s)

	if !strings.HasPrefix(s, "{") {
		if start := strings.Index(s, "{"); start != -1 {
			if end := strings.LastIndex(s, "}"); end > start {
				s = strings.TrimSpace(s[start : end+1])
			}
		}
	}

	return s
}

// percentBBoxToPixels converts a [x1,y1,x2,y2] box expressed as percentages
// of the image into pixel coordinates. Returns nil for malformed boxes or
// unknown image dimensions.
func percentBBoxToPixels(bbox []float64, width, height int) []int {
	if len(bbox) != 4 || width <= 0 || height <= 0 {
		return nil
	}
	return []int{
		int(bbox[0] * float64(width) / 100),
		int(bbox[1] * float64(height) / 100),
		int(bbox[2] * float64(width) / 100),
		int(bbox[3] * float64(height) / 100),
	}
}

// imageSize decodes just the image header to get pixel dimensions.
func imageSize(data []byte) (int, int) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0
	}
	return cfg.Width, cfg.Height
}
