package utils

import "math"

type Number interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 | ~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~float32 | ~float64
}

func Clamp[T Number](value, min, max T) T {
	if value < min {
		return min
	}
	if value > max {
		return max
	}

	return value
}

// RoundDiv divides and rounds half away from zero. The denominator must not
// be zero.
func RoundDiv[T Number](numerator, denominator T) int {
	return int(math.Round(float64(numerator) / float64(denominator)))
}
