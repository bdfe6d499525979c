package domain

import "math"

// Fixed-point scales. Prices carry 6 decimal places, sizes are stored at the
// same scale but rounded to 4 decimal places so venue share quantities stay
// representable.
const (
	PriceScale int64 = 1_000_000
	SizeScale  int64 = 1_000_000

	// sizeQuantum is the smallest representable size step (0.0001 shares).
	sizeQuantum int64 = SizeScale / 10_000
)

// PriceToTicks converts a float price to fixed-point ticks, rounding half up.
func PriceToTicks(p float64) int64 {
	return int64(math.Round(p * float64(PriceScale)))
}

// TicksToPrice converts fixed-point ticks back to a float price.
func TicksToPrice(t int64) float64 {
	return float64(t) / float64(PriceScale)
}

// SizeToUnits converts a float share count to fixed-point units, rounding
// down to the 4-decimal quantum.
func SizeToUnits(s float64) int64 {
	units := int64(math.Floor(s * float64(SizeScale)))
	return units - units%sizeQuantum
}

// UnitsToSize converts fixed-point size units back to a float share count.
func UnitsToSize(u int64) float64 {
	return float64(u) / float64(SizeScale)
}

// TruncateUnits snaps size units down to the 4-decimal quantum.
func TruncateUnits(u int64) int64 {
	return u - u%sizeQuantum
}

// NotionalMicro returns the cost in micro-dollars of buying sizeUnits at
// priceTicks. 1e6 micro-dollars = $1.
func NotionalMicro(priceTicks, sizeUnits int64) int64 {
	return priceTicks * sizeUnits / SizeScale
}

// MicroToDollars converts micro-dollars to a float dollar amount.
func MicroToDollars(m int64) float64 {
	return float64(m) / 1e6
}

// DollarsToMicro converts a float dollar amount to micro-dollars.
func DollarsToMicro(d float64) int64 {
	return int64(math.Round(d * 1e6))
}
