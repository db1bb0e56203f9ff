package extractor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeAssetCost(t *testing.T) {
	tests := []struct {
		name string
		in   interface{}
		want *int64
	}{
		{name: "nil", in: nil, want: nil},
		{name: "number", in: float64(850000), want: intPtr(850000)},
		{name: "grouped rupee string", in: "₹8,50,000", want: intPtr(850000)},
		{name: "plain digit string", in: "720000", want: intPtr(720000)},
		{name: "rs prefix", in: "Rs. 6,80,000", want: intPtr(680000)},
		{name: "no digits", in: "not a price", want: nil},
		{name: "unexpected type", in: true, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := normalizeAssetCost(tt.in)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, *tt.want, *got)
		})
	}
}
