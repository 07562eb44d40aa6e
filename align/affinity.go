package align

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

const (
	// minNeighborDistance clamps near-zero neighbor distances before the
	// 1/d² weighting, so coincident points produce a large finite weight
	// instead of a division blow-up.
	minNeighborDistance = 0.001
	// minAffinityWeight keeps one near-zero-distance neighbor from
	// collapsing the row during normalization.
	minAffinityWeight = 0.0001
)

// BuildAffinity computes the soft-correspondence matrix from the rows of
// source to the target set behind searcher. Each source row gets k weighted
// entries, weight 1/d² over the clamped neighbor distance, and every row is
// normalized to sum to 1. All non-neighbor entries are exactly zero.
//
// If a source element's k neighbors all sit at the distance floor, its row
// degenerates to uniform 1/k weighting among them. That is the intended
// limit behavior, not an error.
func BuildAffinity(source *mat.Dense, searcher NeighborSearcher, k int) (*mat.Dense, error) {
	numSource, dim := source.Dims()
	numTarget := searcher.Len()
	if k < 1 || k > numTarget {
		return nil, fmt.Errorf("%w: k=%d must be in [1, %d]", ErrInvalidArgument, k, numTarget)
	}

	affinity := mat.NewDense(numSource, numTarget, nil)
	query := make([]float64, dim)
	for i := 0; i < numSource; i++ {
		mat.Row(query, i, source)
		indices, distances, err := searcher.Nearest(query, k)
		if err != nil {
			return nil, fmt.Errorf("nearest neighbors for element %d: %w", i, err)
		}
		for j, idx := range indices {
			distance := distances[j]
			if distance < minNeighborDistance {
				distance = minNeighborDistance
			}
			weight := 1.0 / (distance * distance)
			if weight < minAffinityWeight {
				weight = minAffinityWeight
			}
			affinity.Set(i, idx, weight)
		}
	}

	if err := normalizeRows(affinity); err != nil {
		return nil, err
	}
	return affinity, nil
}

// FuseAffinities symmetrizes two independently computed directional affinity
// matrices: fused = forward + reverseᵀ, row renormalized. reverse must be the
// reverse-direction matrix (shape N_target×N_source), not a transpose of
// forward. Neither input is mutated.
func FuseAffinities(forward, reverse *mat.Dense) (*mat.Dense, error) {
	fr, fc := forward.Dims()
	rr, rc := reverse.Dims()
	if rr != fc || rc != fr {
		return nil, fmt.Errorf("%w: forward is %d×%d but reverse is %d×%d, want %d×%d",
			ErrInvalidArgument, fr, fc, rr, rc, fc, fr)
	}

	fused := mat.NewDense(fr, fc, nil)
	fused.Add(forward, reverse.T())
	if err := normalizeRows(fused); err != nil {
		return nil, err
	}
	return fused, nil
}

// normalizeRows scales each row to sum to 1. A zero row cannot occur for
// affinities built with k≥1 and the weight floor, so one is reported as
// degenerate rather than skipped.
func normalizeRows(m *mat.Dense) error {
	rows, cols := m.Dims()
	for i := 0; i < rows; i++ {
		sum := 0.0
		for j := 0; j < cols; j++ {
			sum += m.At(i, j)
		}
		if sum <= 0 {
			return fmt.Errorf("%w: affinity row %d sums to %g", ErrDegenerate, i, sum)
		}
		for j := 0; j < cols; j++ {
			m.Set(i, j, m.At(i, j)/sum)
		}
	}
	return nil
}
