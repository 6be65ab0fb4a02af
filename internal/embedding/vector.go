package embedding

import "math"

// Dim is the embedding dimensionality used across the engine.
const Dim = 128

// Dot returns the dot product of two equal-length vectors.
func Dot(a, b []float64) float64 {
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// Norm returns the L2 norm of v.
func Norm(v []float64) float64 {
	return math.Sqrt(Dot(v, v))
}

// Normalize scales v to unit length in place and returns whether it was
// possible. A zero vector is left untouched.
func Normalize(v []float64) bool {
	n := Norm(v)
	if n == 0 {
		return false
	}
	for i := range v {
		v[i] /= n
	}
	return true
}

// Cosine returns the cosine similarity of a and b, clamped to [-1, 1] to
// absorb floating-point drift on near-parallel vectors.
func Cosine(a, b []float64) float64 {
	na, nb := Norm(a), Norm(b)
	if na == 0 || nb == 0 {
		return 0
	}
	sim := Dot(a, b) / (na * nb)
	if sim > 1 {
		return 1
	}
	if sim < -1 {
		return -1
	}
	return sim
}

// Scale multiplies v by s in place.
func Scale(v []float64, s float64) {
	for i := range v {
		v[i] *= s
	}
}

// Add accumulates src into dst.
func Add(dst, src []float64) {
	for i := range dst {
		dst[i] += src[i]
	}
}
