package environment

import "math"

// Fixed point transfer functions from the datasheet. The integer multiply and
// right shift truncate exactly like the sensor vendor's reference code, only
// the final division by 100 is done in floating point.

// TemperatureFromRaw converts a raw temperature word to degrees Celsius.
// T = (((4375 * raw) >> 14) - 4500) / 100
func TemperatureFromRaw(raw uint16) float64 {
	centi := ((4375 * int32(raw)) >> 14) - 4500
	return float64(centi) / 100.0
}

// HumidityFromRaw converts a raw humidity word to %RH.
// RH = ((625 * raw) >> 12) / 100
func HumidityFromRaw(raw uint16) float64 {
	centi := (625 * int32(raw)) >> 12
	return float64(centi) / 100.0
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// RawFromTemperature is the smallest raw word that converts back to t
// rounded to 0.01 degree.
func RawFromTemperature(t float64) uint16 {
	centi := int64(math.Round(t*100)) + 4500
	return clampRaw(ceilDiv(centi<<14, 4375))
}

// RawFromHumidity is the smallest raw word that converts back to h rounded
// to 0.01 %RH.
func RawFromHumidity(h float64) uint16 {
	centi := int64(math.Round(h * 100))
	return clampRaw(ceilDiv(centi<<12, 625))
}

func ceilDiv(a, b int64) int64 {
	if a <= 0 {
		return a / b
	}
	return (a + b - 1) / b
}

func clampRaw(v int64) uint16 {
	switch {
	case v < 0:
		return 0
	case v > math.MaxUint16:
		return math.MaxUint16
	}
	return uint16(v)
}
