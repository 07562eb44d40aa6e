package align

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// DefaultKappa is the sigma cut-off separating the Gaussian inlier model
// from the uniform outlier background.
const DefaultKappa = 3.0

// DetectInliers updates probability in place with three evidence passes:
//
//  1. Flag gate: any element whose corresponding flag is below 0.5 is forced
//     to probability 0 and stays there — flags are hard invalidation, not
//     soft evidence, so later passes never resurrect a gated element.
//  2. Distance mixture: residual distances over the full feature vector are
//     modeled as a zero-mean Gaussian (inliers) against a constant outlier
//     density λ, the Gaussian evaluated at the kappa-sigma cut-off. Sigma is
//     re-estimated once from the current probabilities (a single EM step;
//     iterating to convergence here is deliberately not done, the outer
//     registration loop owns convergence).
//  3. Normal gate: the dot product of each element's unit normal with its
//     correspondence's normal, rescaled from [-1,1] to [0,1], multiplies
//     into the probability.
//
// Sigma being undefined — all probabilities zero, or every residual exactly
// zero under positive weight — is reported as ErrDegenerate with probability
// left untouched beyond the flag gate.
func DetectInliers(features, corresponding *mat.Dense, correspondingFlags []float64, probability []float64, kappa float64) error {
	numElements, dim := features.Dims()
	cr, cc := corresponding.Dims()
	if cr != numElements || cc != dim {
		return fmt.Errorf("%w: features are %d×%d but correspondences are %d×%d",
			ErrInvalidArgument, numElements, dim, cr, cc)
	}
	if dim < FeatureDim {
		return fmt.Errorf("%w: features need %d components for the normal gate, have %d",
			ErrInvalidArgument, FeatureDim, dim)
	}
	if len(correspondingFlags) != numElements || len(probability) != numElements {
		return fmt.Errorf("%w: %d flags and %d probabilities for %d elements",
			ErrInvalidArgument, len(correspondingFlags), len(probability), numElements)
	}

	// Pass 1: flag gate.
	gated := make([]bool, numElements)
	for i, flag := range correspondingFlags {
		if flag < 0.5 {
			gated[i] = true
			probability[i] = 0.0
		}
	}

	// Pass 2: Gaussian/uniform mixture over residual distances, sigma from
	// the probability-weighted RMS residual.
	residuals := make([]float64, numElements)
	sigmaNumerator := 0.0
	sigmaDenominator := 0.0
	for i := 0; i < numElements; i++ {
		sum := 0.0
		for j := 0; j < dim; j++ {
			d := corresponding.At(i, j) - features.At(i, j)
			sum += d * d
		}
		residuals[i] = math.Sqrt(sum)
		sigmaNumerator += probability[i] * sum
		sigmaDenominator += probability[i]
	}
	if sigmaDenominator <= 0 {
		return fmt.Errorf("%w: all inlier probabilities are zero, sigma undefined", ErrDegenerate)
	}
	sigma := math.Sqrt(sigmaNumerator / sigmaDenominator)
	if sigma <= 0 {
		return fmt.Errorf("%w: zero weighted residual variance, sigma undefined", ErrDegenerate)
	}

	// The shared 1/(σ√2π) prefactor of the Gaussian and λ cancels in the
	// responsibility, but both are kept explicit to match the model.
	norm := 1.0 / (sigma * math.Sqrt(2.0*math.Pi))
	lambda := norm * math.Exp(-0.5*kappa*kappa)
	for i := 0; i < numElements; i++ {
		if gated[i] {
			continue
		}
		g := norm * math.Exp(-0.5*(residuals[i]/sigma)*(residuals[i]/sigma))
		probability[i] = g / (g + lambda)
	}

	// Pass 3: normal agreement.
	for i := 0; i < numElements; i++ {
		dot := 0.0
		for j := 3; j < FeatureDim; j++ {
			dot += features.At(i, j) * corresponding.At(i, j)
		}
		probability[i] *= dot/2.0 + 0.5
	}

	for i, p := range probability {
		if math.IsNaN(p) || math.IsInf(p, 0) {
			return fmt.Errorf("%w: non-finite inlier probability at element %d", ErrDegenerate, i)
		}
	}
	return nil
}
