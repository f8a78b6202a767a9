// Package vcodec encodes and decodes embedding vectors to and from the
// little-endian float32 byte layout stored in note_embeddings.vector.
package vcodec

import (
	"encoding/binary"
	"fmt"
	"math"
)

const bytesPerDim = 4

// Encode packs a float32 vector into a little-endian byte slice, 4 bytes
// per dimension, with no header. It rejects NaN and Inf components since
// the vector distance function in internal/store cannot compare them
// meaningfully.
func Encode(vec []float32) ([]byte, error) {
	buf := make([]byte, len(vec)*bytesPerDim)
	for i, v := range vec {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return nil, fmt.Errorf("vcodec: encode: component %d is not finite: %v", i, v)
		}
		binary.LittleEndian.PutUint32(buf[i*bytesPerDim:], math.Float32bits(v))
	}
	return buf, nil
}

// Decode unpacks a little-endian byte slice into a float32 vector. The
// dimension is derived from the byte length; an unaligned length is an error.
func Decode(buf []byte) ([]float32, error) {
	if len(buf)%bytesPerDim != 0 {
		return nil, fmt.Errorf("vcodec: decode: byte length %d is not a multiple of %d", len(buf), bytesPerDim)
	}
	dim := len(buf) / bytesPerDim
	vec := make([]float32, dim)
	for i := 0; i < dim; i++ {
		bits := binary.LittleEndian.Uint32(buf[i*bytesPerDim:])
		vec[i] = math.Float32frombits(bits)
	}
	return vec, nil
}

// Dim returns the vector dimension implied by an encoded byte slice.
func Dim(buf []byte) int {
	return len(buf) / bytesPerDim
}

// CosineDistance returns 1 - cosine_similarity(a, b), in [0, 2]. Zero
// vectors are treated as maximally dissimilar (distance 1) rather than
// dividing by zero.
func CosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 1
	}
	var dot, na, nb float64
	for i := range a {
		av, bv := float64(a[i]), float64(b[i])
		dot += av * bv
		na += av * av
		nb += bv * bv
	}
	if na == 0 || nb == 0 {
		return 1
	}
	cos := dot / (math.Sqrt(na) * math.Sqrt(nb))
	if cos > 1 {
		cos = 1
	} else if cos < -1 {
		cos = -1
	}
	return 1 - cos
}
