package yield

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cropscan/cropscan/internal/catalog"
	"github.com/cropscan/cropscan/internal/errors"
)

func TestEstimate(t *testing.T) {
	t.Parallel()

	e := NewEstimator(nil)

	tests := []struct {
		name       string
		disease    string
		confidence float64
		want       float64
	}{
		{"known disease", "TomatoEarlyBlight", 0.8, 16.0},
		{"unknown disease uses default", "LeafCurl", 1.0, 15.0},
		{"classifier label is not a catalog key", "Tomato_Early_blight", 1.0, 15.0},
		{"lowercase name is not a catalog key", "tomato early blight", 1.0, 15.0},
		{"underscored potato label uses default", "Potato___Early_blight", 1.0, 15.0},
		{"highest base loss", "TomatoYellowCurlVirus", 0.333, 16.65},
		{"zero confidence", "PotatoEarlyBlight", 0, 0},
		{"empty disease", "", 0.5, 7.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := e.Estimate(tt.disease, tt.confidence)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got.LossPct, 1e-9)
			assert.Equal(t, tt.disease, got.Disease)
		})
	}
}

func TestEstimateRejectsConfidenceOutsideUnitRange(t *testing.T) {
	t.Parallel()

	e := NewEstimator(nil)
	for _, c := range []float64{-0.1, 1.01, math.NaN()} {
		_, err := e.Estimate("TomatoEarlyBlight", c)
		require.Error(t, err)
		assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
	}
}

func TestEstimateCustomCatalog(t *testing.T) {
	t.Parallel()

	cat, err := catalog.Parse([]byte("version: 1\ndefault_base_loss: 0.1\nbase_loss:\n  Rust: 0.4\n"))
	require.NoError(t, err)

	e := NewEstimator(cat)
	got, err := e.Estimate("Rust", 0.5)
	require.NoError(t, err)
	assert.InDelta(t, 20.0, got.LossPct, 1e-9)
	assert.InDelta(t, 0.4, got.BaseLoss, 1e-9)

	got, err = e.Estimate("rust", 0.5)
	require.NoError(t, err)
	assert.InDelta(t, 5.0, got.LossPct, 1e-9, "lookup is case sensitive")

	got, err = e.Estimate("Blight", 1)
	require.NoError(t, err)
	assert.InDelta(t, 10.0, got.LossPct, 1e-9)
}
