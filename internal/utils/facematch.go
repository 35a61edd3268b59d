package utils

import "math"

// FaceMatchThreshold is the minimum cosine similarity between a live frame
// embedding and the registered embedding for the frame to count as the
// enrolled student.
const FaceMatchThreshold = 0.85

// CosineSimilarity compares two embeddings over the length of the shorter
// one. A zero-magnitude or empty vector yields 0 rather than NaN.
func CosineSimilarity(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// IsFaceMatch reports whether the frame embedding is close enough to the
// registered embedding to be treated as the enrolled student.
func IsFaceMatch(registered, frame []float64) bool {
	return CosineSimilarity(registered, frame) >= FaceMatchThreshold
}
