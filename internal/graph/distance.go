package graph

import "math"

// cosineDistance returns 1 - cos(a, b). Zero vectors are treated as
// maximally distant from everything.
func cosineDistance(a, b []float32) float32 {
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return float32(1 - dot/(math.Sqrt(na)*math.Sqrt(nb)))
}

// Similarity converts a distance produced by the graph into a cosine similarity
func Similarity(dist float32) float32 {
	return 1 - dist
}
