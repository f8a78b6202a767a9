package vcodec

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	vec := []float32{0.1, -0.2, 3.14159, 0, -0}
	buf, err := Encode(vec)
	require.NoError(t, err)
	require.Len(t, buf, len(vec)*bytesPerDim)

	got, err := Decode(buf)
	require.NoError(t, err)
	require.Equal(t, vec, got)
}

func TestEncodeRejectsNonFinite(t *testing.T) {
	_, err := Encode([]float32{1, float32(math.NaN())})
	assert.Error(t, err)

	_, err = Encode([]float32{float32(math.Inf(1))})
	assert.Error(t, err)
}

func TestDecodeRejectsMisalignedLength(t *testing.T) {
	_, err := Decode([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestDim(t *testing.T) {
	buf, err := Encode([]float32{1, 2, 3, 4})
	require.NoError(t, err)
	assert.Equal(t, 4, Dim(buf))
}

func TestCosineDistanceIdentical(t *testing.T) {
	v := []float32{1, 2, 3}
	d := CosineDistance(v, v)
	assert.InDelta(t, 0, d, 1e-9)
}

func TestCosineDistanceOrthogonal(t *testing.T) {
	d := CosineDistance([]float32{1, 0}, []float32{0, 1})
	assert.InDelta(t, 1, d, 1e-9)
}

func TestCosineDistanceOpposite(t *testing.T) {
	d := CosineDistance([]float32{1, 0}, []float32{-1, 0})
	assert.InDelta(t, 2, d, 1e-9)
}

func TestCosineDistanceZeroVector(t *testing.T) {
	d := CosineDistance([]float32{0, 0}, []float32{1, 1})
	assert.Equal(t, float64(1), d)
}

func TestCosineDistanceMismatchedLength(t *testing.T) {
	d := CosineDistance([]float32{1, 2}, []float32{1, 2, 3})
	assert.Equal(t, float64(1), d)
}
