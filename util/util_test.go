package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateLutRises(t *testing.T) {
	lut := GenerateLut(16)
	assert.Len(t, lut, 16)
	assert.Equal(t, 0.0, lut[0])
	assert.Equal(t, 1.0, lut[15])
	for i := 1; i < len(lut); i++ {
		assert.GreaterOrEqual(t, lut[i], lut[i-1])
	}
	assert.Equal(t, []float64{1}, GenerateLut(1))
}

func TestSample(t *testing.T) {
	lut := GenerateLut(11)
	assert.Equal(t, 0.0, Sample(lut, -1))
	assert.Equal(t, 1.0, Sample(lut, 2))
	assert.Equal(t, lut[5], Sample(lut, 0.5))
	assert.Equal(t, 1.0, Sample(nil, 0))
}
