package infra

import (
	"fmt"
	"math"
	"math/big"

	"github.com/jackc/pgx/v5/pgtype"
)

// Line values (spreads and totals) are stored as numeric(5,2). Half-point
// lines are exact in that representation.

// FloatToNumeric converts a line value to pgtype.Numeric with two decimal
// digits of scale.
func FloatToNumeric(v float64) pgtype.Numeric {
	scaled := int64(math.Round(v * 100))
	return pgtype.Numeric{
		Int:              big.NewInt(scaled),
		Exp:              -2,
		NaN:              false,
		InfinityModifier: pgtype.Finite,
		Valid:            true,
	}
}

// NumericToFloat converts a pgtype.Numeric line value back to float64.
// Returns an error if the value is NULL or not finite.
func NumericToFloat(n pgtype.Numeric) (float64, error) {
	if !n.Valid {
		return 0, fmt.Errorf("numeric value is NULL")
	}
	if n.NaN || n.InfinityModifier != pgtype.Finite {
		return 0, fmt.Errorf("numeric value is not finite")
	}

	f := new(big.Float).SetInt(n.Int)
	if n.Exp != 0 {
		mult := new(big.Float).SetFloat64(math.Pow10(int(n.Exp)))
		f.Mul(f, mult)
	}
	out, _ := f.Float64()
	return out, nil
}

// NullableFloatToNumeric maps nil to a NULL numeric.
func NullableFloatToNumeric(v *float64) pgtype.Numeric {
	if v == nil {
		return pgtype.Numeric{Valid: false}
	}
	return FloatToNumeric(*v)
}
