package extractor

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adithya11sci/genAi-idfc/internal/keymanager"
	"github.com/adithya11sci/genAi-idfc/internal/logger"
)

func pngImage(t *testing.T, width, height int) []byte {
	t.Helper()
	buf := &bytes.Buffer{}
	require.NoError(t, png.Encode(buf, image.NewRGBA(image.Rect(0, 0, width, height))))
	return buf.Bytes()
}

func newGeminiForTest(t *testing.T, keys []string, generate generateFunc) *GeminiExtractor {
	t.Helper()
	km, err := keymanager.New(keys, logger.NewWithWriter(testWriter{t}))
	require.NoError(t, err)
	g := NewGemini(km, "gemini-1.5-flash", logger.NewWithWriter(testWriter{t}))
	g.generate = generate
	return g
}

func TestGeminiExtract_ParsesFencedJSON(t *testing.T) {
	response := "```json\n" +
		`{"dealer_name":"Sharma Tractors","model_name":"Mahindra 575 DI","horse_power":"45",` +
		`"asset_cost":720000,"signature_present":true,"signature_bbox":[10,20,30,40],` +
		`"stamp_present":false,"stamp_bbox":null,"confidence":0.93}` +
		"\n```"

	g := newGeminiForTest(t, []string{"A"}, func(ctx context.Context, apiKey, model string, doc Document) (string, error) {
		return response, nil
	})

	doc := Document{ID: "inv1", Data: pngImage(t, 1000, 500), MIMEType: "image/png"}
	res, err := g.Extract(context.Background(), doc)
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, "Sharma Tractors", *res.Fields.DealerName)
	assert.Equal(t, "Mahindra 575 DI", *res.Fields.ModelName)
	assert.Equal(t, "45", *res.Fields.HorsePower)
	assert.Equal(t, int64(720000), *res.Fields.AssetCost)
	assert.Equal(t, 0.93, res.Confidence)

	// Percent bbox on a 1000x500 image converts into pixel space.
	assert.True(t, res.Signature.Present)
	assert.Equal(t, []int{100, 100, 300, 200}, res.Signature.BBox)
	assert.False(t, res.Stamp.Present)
	assert.Nil(t, res.Stamp.BBox)
}

func TestGeminiExtract_RateLimitMarksKey(t *testing.T) {
	g := newGeminiForTest(t, []string{"A", "B"}, func(ctx context.Context, apiKey, model string, doc Document) (string, error) {
		return "", errors.New("googleapi: Error 429: RESOURCE_EXHAUSTED")
	})

	_, err := g.Extract(context.Background(), Document{ID: "inv1"})
	require.Error(t, err)

	// Key A was used and quarantined; the manager now serves only B.
	assert.Equal(t, "B", g.keys.GetKey())
	assert.Equal(t, "B", g.keys.GetKey())
}

func TestGeminiExtract_NonRateLimitErrorKeepsKey(t *testing.T) {
	g := newGeminiForTest(t, []string{"A", "B"}, func(ctx context.Context, apiKey, model string, doc Document) (string, error) {
		return "", errors.New("network timeout")
	})

	_, err := g.Extract(context.Background(), Document{ID: "inv1"})
	require.Error(t, err)

	// Rotation continues over the full pool.
	assert.Equal(t, "B", g.keys.GetKey())
	assert.Equal(t, "A", g.keys.GetKey())
}

func TestGeminiExtract_EmptyResponse(t *testing.T) {
	g := newGeminiForTest(t, []string{"A"}, func(ctx context.Context, apiKey, model string, doc Document) (string, error) {
		return "", nil
	})

	res, err := g.Extract(context.Background(), Document{ID: "inv1"})
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestGemini_UnusableWithoutKeys(t *testing.T) {
	g := NewGemini(nil, "gemini-1.5-flash", logger.NewWithWriter(testWriter{t}))
	assert.False(t, g.Usable())

	res, err := g.Extract(context.Background(), Document{ID: "inv1"})
	assert.NoError(t, err)
	assert.Nil(t, res)
}

func TestCleanModelJSON(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "plain object",
			raw:  `{"a":1}`,
			want: `{"a":1}`,
		},
		{
			name: "json fence",
			raw:  "```json\n{\"a\":1}\n```",
			want: `{"a":1}`,
		},
		{
			name: "bare fence",
			raw:  "```\n{\"a\":1}\n```",
			want: `{"a":1}`,
		},
		{
			name: "surrounding prose",
			raw:  "Here is the result: {\"a\":1} hope that helps",
			want: `{"a":1}`,
		},
		{
			name: "empty",
			raw:  "   ",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cleanModelJSON(tt.raw))
		})
	}
}

func TestPercentBBoxToPixels(t *testing.T) {
	assert.Equal(t, []int{100, 100, 300, 200}, percentBBoxToPixels([]float64{10, 20, 30, 40}, 1000, 500))
	assert.Nil(t, percentBBoxToPixels(nil, 1000, 500))
	assert.Nil(t, percentBBoxToPixels([]float64{1, 2, 3}, 1000, 500))
	assert.Nil(t, percentBBoxToPixels([]float64{1, 2, 3, 4}, 0, 0))
}

func TestIsRateLimitSignal(t *testing.T) {
	assert.True(t, isRateLimitSignal(errors.New("googleapi: Error 429")))
	assert.True(t, isRateLimitSignal(errors.New("rpc error: RESOURCE_EXHAUSTED")))
	assert.False(t, isRateLimitSignal(errors.New("network timeout")))
}
