package vector

import (
	"math"

	"github.com/viant/vec/search"
)

// NormalizeL2 scales x in place to unit L2 norm and returns the norm it had
// before. A zero vector is left unchanged.
func NormalizeL2(x []float32) float64 {
	norm := L2Norm(x)
	if norm == 0 {
		return 0
	}
	inv := 1.0 / norm
	for i := range x {
		x[i] = float32(float64(x[i]) * inv)
	}
	return norm
}

// InnerProduct returns the inner product of two vectors, accumulated in
// float64. For unit vectors it equals cosine similarity.
func InnerProduct(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

// L2Norm returns the L2 norm of a vector.
func L2Norm(x []float32) float64 {
	var sum float64
	for _, v := range x {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}

// AngularDistance returns sqrt(2 - 2cos(a, b)), the Euclidean distance between
// the unit-normalized vectors. It ranges over [0, 2].
func AngularDistance(a, b []float32) float64 {
	va := search.Float32s(a)
	return angularDistance(va, b, va.Magnitude(), search.Float32s(b).Magnitude())
}

func angularDistance(a search.Float32s, b []float32, ma, mb float32) float64 {
	if ma == 0 || mb == 0 {
		return math.Sqrt2
	}
	cos := InnerProduct(a, b) / (float64(ma) * float64(mb))
	cos = min(max(cos, -1), 1)
	return math.Sqrt(2 - 2*cos)
}
