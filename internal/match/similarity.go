package match

import "math"

// Cosine returns the cosine similarity of a and b clamped to [-1,1]. Empty,
// mismatched or zero-magnitude vectors give 0.
func Cosine(a, b []float32) float64 {
	c, _ := cosine(a, b)
	return c
}

// cosine reports false when the vectors carry no direction to compare
func cosine(a, b []float32) (float64, bool) {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0, false
	}
	var dot, na, nb float64
	for i := 0; i < len(a); i++ {
		x := float64(a[i])
		y := float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0, false
	}
	c := dot / (math.Sqrt(na) * math.Sqrt(nb))
	if math.IsNaN(c) {
		return 0, false
	}
	return math.Max(-1, math.Min(1, c)), true
}

// SemanticScore maps a cosine similarity onto [0,1]. Vectors that cannot be
// compared score 0, not the midpoint.
func SemanticScore(a, b []float32) float64 {
	c, ok := cosine(a, b)
	if !ok {
		return 0
	}
	return (c + 1) / 2
}

// Jaccard is |a ∩ b| / |a ∪ b|, 0 when both sets are empty
func Jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := Overlap(a, b)
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// Overlap counts the keys present in both sets
func Overlap(a, b map[string]bool) int {
	if len(b) < len(a) {
		a, b = b, a
	}
	n := 0
	for k := range a {
		if b[k] {
			n++
		}
	}
	return n
}

func capScore(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < 0 {
		return 0
	}
	return v
}
