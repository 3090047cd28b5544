package infra

import (
	"testing"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFloatNumericRoundTrip(t *testing.T) {
	tests := []float64{-1.5, 8.5, 0, -11, 2.25, 9.75, -0.5}
	for _, v := range tests {
		n := FloatToNumeric(v)
		got, err := NumericToFloat(n)
		require.NoError(t, err)
		assert.InDelta(t, v, got, 1e-9, "value %v", v)
	}
}

func TestNumericToFloatNull(t *testing.T) {
	_, err := NumericToFloat(pgtype.Numeric{Valid: false})
	assert.Error(t, err)
}

func TestNullableFloatToNumeric(t *testing.T) {
	n := NullableFloatToNumeric(nil)
	assert.False(t, n.Valid)

	v := -1.5
	n = NullableFloatToNumeric(&v)
	require.True(t, n.Valid)
	got, err := NumericToFloat(n)
	require.NoError(t, err)
	assert.InDelta(t, -1.5, got, 1e-9)
}
