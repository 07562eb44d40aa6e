package align

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// DefaultFlagThreshold is the binarization cut-off for corresponding flags.
// A source element only counts as matched to valid geometry when more than
// 90% of its soft-correspondence weight lands on valid target elements; this
// suppresses leakage across flagged boundaries.
const DefaultFlagThreshold = 0.9

// Correspondences projects the target features and flags through an affinity
// matrix. Each source row's corresponding feature is the affinity-weighted
// average of all target features. Corresponding flags are blended the same
// way and then binarized with a strict > comparison against flagThreshold: a
// blended flag exactly at the threshold resolves to 0.
func Correspondences(targetFeatures *mat.Dense, targetFlags []float64, affinity *mat.Dense, flagThreshold float64) (*mat.Dense, []float64, error) {
	numTarget, _ := targetFeatures.Dims()
	numSource, cols := affinity.Dims()
	if cols != numTarget {
		return nil, nil, fmt.Errorf("%w: affinity has %d columns for %d target elements",
			ErrInvalidArgument, cols, numTarget)
	}
	if len(targetFlags) != numTarget {
		return nil, nil, fmt.Errorf("%w: %d flags for %d target elements",
			ErrInvalidArgument, len(targetFlags), numTarget)
	}

	var features mat.Dense
	features.Mul(affinity, targetFeatures)

	blended := mat.NewVecDense(numSource, nil)
	blended.MulVec(affinity, mat.NewVecDense(numTarget, targetFlags))

	flags := make([]float64, numSource)
	for i := range flags {
		if blended.AtVec(i) > flagThreshold {
			flags[i] = 1.0
		}
	}
	return &features, flags, nil
}
