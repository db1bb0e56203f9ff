package extractor

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adithya11sci/genAi-idfc/internal/logger"
)

func newOCRSidecar(t *testing.T, extract http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/extract", extract)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestOCRExtract_Success(t *testing.T) {
	var gotReq ocrRequest
	srv := newOCRSidecar(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"dealer_name":       "Patel Agro",
			"model_name":        "Sonalika 745",
			"horse_power":       nil,
			"asset_cost":        "6,80,000",
			"signature_present": true,
			"signature_bbox":    []int{12, 640, 210, 700},
			"stamp_present":     false,
			"confidence":        0.6,
			"raw_text":          "patel agro sonalika 745 total rs 680000",
		})
	})

	ocr := NewOCR(srv.URL, []string{"en", "hi"}, 10*time.Second, logger.NewWithWriter(testWriter{t}))
	require.True(t, ocr.Usable())

	res, err := ocr.Extract(context.Background(), Document{ID: "inv1", Data: []byte("imagebytes")})
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, "Patel Agro", *res.Fields.DealerName)
	assert.Nil(t, res.Fields.HorsePower)
	assert.Equal(t, int64(680000), *res.Fields.AssetCost, "grouped cost string is normalized")
	assert.Equal(t, 0.6, res.Confidence)
	assert.Equal(t, "patel agro sonalika 745 total rs 680000", res.RawText)
	assert.True(t, res.Signature.Present)
	assert.Equal(t, []int{12, 640, 210, 700}, res.Signature.BBox)

	// The request carried the base64 image and configured languages.
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("imagebytes")), gotReq.Image)
	assert.Equal(t, []string{"en", "hi"}, gotReq.Languages)
}

func TestOCRExtract_SidecarError(t *testing.T) {
	srv := newOCRSidecar(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "reader crashed", http.StatusInternalServerError)
	})

	ocr := NewOCR(srv.URL, nil, 10*time.Second, logger.NewWithWriter(testWriter{t}))
	require.True(t, ocr.Usable())

	res, err := ocr.Extract(context.Background(), Document{ID: "inv1"})
	assert.Error(t, err)
	assert.Nil(t, res)
}

func TestOCR_UnreachableSidecarIsUnusable(t *testing.T) {
	ocr := NewOCR("http://127.0.0.1:1", nil, time.Second, logger.NewWithWriter(testWriter{t}))
	assert.False(t, ocr.Usable())

	res, err := ocr.Extract(context.Background(), Document{ID: "inv1"})
	assert.NoError(t, err)
	assert.Nil(t, res)
}
