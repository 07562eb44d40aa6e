package align

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// NeighborSearcher answers k-nearest-neighbor queries against a fixed target
// feature set. BuildAffinity consumes it as a black box, so an index-backed
// implementation can replace the brute-force default without touching the
// pipeline.
type NeighborSearcher interface {
	// Nearest returns the indices of the k target elements closest to query
	// (Euclidean distance over the full feature vector) and their distances,
	// ordered nearest first.
	Nearest(query []float64, k int) (indices []int, distances []float64, err error)
	// Len returns the number of target elements.
	Len() int
}

// bruteForce scans every target row per query. Fine for the cloud sizes the
// registration loop sees; swap in a spatial index for anything larger.
type bruteForce struct {
	target *mat.Dense
}

// NewBruteForce returns a NeighborSearcher over the rows of target.
func NewBruteForce(target *mat.Dense) NeighborSearcher {
	return &bruteForce{target: target}
}

func (b *bruteForce) Len() int {
	r, _ := b.target.Dims()
	return r
}

func (b *bruteForce) Nearest(query []float64, k int) ([]int, []float64, error) {
	n, dim := b.target.Dims()
	if len(query) != dim {
		return nil, nil, fmt.Errorf("%w: query has %d components, target features have %d",
			ErrInvalidArgument, len(query), dim)
	}
	if k < 1 || k > n {
		return nil, nil, fmt.Errorf("%w: k=%d with %d target elements", ErrInvalidArgument, k, n)
	}

	distances := make([]float64, n)
	order := make([]int, n)
	for i := 0; i < n; i++ {
		sum := 0.0
		for j := 0; j < dim; j++ {
			d := b.target.At(i, j) - query[j]
			sum += d * d
		}
		distances[i] = sum
		order[i] = i
	}
	sort.Slice(order, func(a, c int) bool { return distances[order[a]] < distances[order[c]] })

	indices := make([]int, k)
	nearest := make([]float64, k)
	for i := 0; i < k; i++ {
		indices[i] = order[i]
		nearest[i] = math.Sqrt(distances[order[i]])
	}
	return indices, nearest, nil
}
