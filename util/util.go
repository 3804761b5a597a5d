package util

import (
	"github.com/fogleman/ease"
)

// GenerateLut builds a look-up table that rises from 0 to 1 along an
// InOutQuad curve.
func GenerateLut(length int) []float64 {
	if length < 2 {
		return []float64{1}
	}
	lut := make([]float64, length)
	for i := range lut {
		lut[i] = ease.InOutQuad(float64(i) / float64(length-1))
	}
	return lut
}

// Sample reads the table at t, where 0 is the first entry and 1 the last.
func Sample(lut []float64, t float64) float64 {
	if len(lut) == 0 {
		return 1
	}
	if t <= 0 {
		return lut[0]
	}
	if t >= 1 {
		return lut[len(lut)-1]
	}
	return lut[int(t*float64(len(lut)-1))]
}
