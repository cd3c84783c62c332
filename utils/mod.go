package utils

func FindIndex[T comparable](slice []T, item T) int {
	for i, v := range slice {
		if v == item {
			return i
		}
	}
	return -1
}

// MinIndices returns the indices of every occurrence of the minimum.
func MinIndices[T ~int | ~int64 | ~float64](values []T) []int {
	var indices []int
	for i, v := range values {
		switch {
		case len(indices) == 0 || v < values[indices[0]]:
			indices = append(indices[:0], i)
		case v == values[indices[0]]:
			indices = append(indices, i)
		}
	}
	return indices
}
