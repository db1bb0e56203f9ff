package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
)

// minimum raw text length worth sending to the model
const minLLMInputLen = 10

const llmSystemPrompt = `You are a precise document extraction AI.
Your task is to extract specific information from the invoice text provided.
Return the output ONLY as a valid JSON object. Do not add markdown or explanations.`

const llmUserPromptFormat = `Extract the following fields from the text below:
1. "dealer_name": The name of the tractor dealer or agency.
2. "model_name": The model of the tractor (e.g., Swaraj 744, Mahindra 575).
3. "horse_power": The HP of the tractor (e.g., 50 HP).
4. "asset_cost": The total cost or price of the tractor (number only, remove currency symbols).

If a field is not found, set it to null.

Invoice Text:
%s`

// LocalLLMExtractor post-processes OCR text through a llama.cpp server
// exposing an OpenAI-style chat completion endpoint. It runs fully offline.
type LocalLLMExtractor struct {
	baseURL     string
	model       string
	client      *http.Client
	log         zerolog.Logger
	initialized bool
}

// NewLocalLLM creates the local LLM adapter, probing the server's health
// endpoint once at construction.
func NewLocalLLM(baseURL, model string, timeout time.Duration, log zerolog.Logger) *LocalLLMExtractor {
	l := &LocalLLMExtractor{
		baseURL: baseURL,
		model:   model,
		client:  &http.Client{Timeout: timeout},
		log:     log.With().Str("extractor", "local_llm").Logger(),
	}
	l.initialized = l.ping()
	if !l.initialized {
		l.log.Warn().Str("base_url", baseURL).Msg("local LLM server unreachable, post-processing disabled")
	}
	return l
}

func (l *LocalLLMExtractor) ping() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Usable implements TextExtractor.
func (l *LocalLLMExtractor) Usable() bool {
	return l.initialized
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature"`
	MaxTokens      int           `json:"max_tokens"`
	ResponseFormat struct {
		Type string `json:"type"`
	} `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type llmPayload struct {
	DealerName *string     `json:"dealer_name"`
	ModelName  *string     `json:"model_name"`
	HorsePower *string     `json:"horse_power"`
	AssetCost  interface{} `json:"asset_cost"`
}

// Extract implements TextExtractor. Text too short to carry invoice content
// is skipped without an error.
func (l *LocalLLMExtractor) Extract(ctx context.Context, text string) (*Fields, error) {
	if !l.initialized {
		return nil, nil
	}
	if utf8.RuneCountInString(text) < minLLMInputLen {
		l.log.Debug().Msg("input text too short for LLM extraction")
		return nil, nil
	}

	reqBody := chatRequest{
		Model: l.model,
		Messages: []chatMessage{
			{Role: "system", Content: llmSystemPrompt},
			{Role: "user", Content: fmt.Sprintf(llmUserPromptFormat, text)},
		},
		Temperature: 0.1,
		MaxTokens:   512,
	}
	reqBody.ResponseFormat.Type = "json_object"

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("local llm extraction: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("local llm extraction: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("local llm extraction: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("local llm extraction: server returned %s", resp.Status)
	}

	var chat chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		return nil, fmt.Errorf("local llm extraction: decode response: %w", err)
	}
	if len(chat.Choices) == 0 {
		return nil, fmt.Errorf("local llm extraction: no choices in response")
	}

	content := cleanModelJSON(chat.Choices[0].Message.Content)

	var payload llmPayload
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return nil, fmt.Errorf("local llm extraction: unmarshal model output: %w", err)
	}

	return &Fields{
		DealerName: payload.DealerName,
		ModelName:  payload.ModelName,
		HorsePower: payload.HorsePower,
		AssetCost:  normalizeAssetCost(payload.AssetCost),
	}, nil
}
