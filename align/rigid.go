package align

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// eigenGapTolerance is the relative separation the dominant eigenvalue of
// the quaternion matrix must have over the runner-up. Anything tighter means
// the rotation estimate is numerically ambiguous.
const eigenGapTolerance = 1e-9

// RigidTransformation computes the weighted similarity transform minimizing
// Σ wᵢ·‖s·R·xᵢ + t − yᵢ‖² over rotation R, optional isotropic scale s and
// translation t, using Horn's closed-form quaternion method. floating (N×3)
// is transformed in place and the composed 4×4 homogeneous matrix (scale
// folded into the rotation block, translation in the last column) is
// returned, so the caller can accumulate it across iterations.
//
// With adjustScale false the scale is exactly 1. A zero weight sum, fewer
// than three positively weighted points, an ambiguous dominant eigenvalue or
// a non-finite result are all reported as ErrDegenerate.
func RigidTransformation(floating, corresponding *mat.Dense, weights []float64, adjustScale bool) (*mat.Dense, error) {
	numPoints, dim := floating.Dims()
	cr, cc := corresponding.Dims()
	if dim != 3 || cc != 3 {
		return nil, fmt.Errorf("%w: positions must be N×3, have %d×%d and %d×%d",
			ErrInvalidArgument, numPoints, dim, cr, cc)
	}
	if cr != numPoints || len(weights) != numPoints {
		return nil, fmt.Errorf("%w: %d floating points, %d correspondences, %d weights",
			ErrInvalidArgument, numPoints, cr, len(weights))
	}

	weightSum := 0.0
	weighted := 0
	for _, w := range weights {
		weightSum += w
		if w > 0 {
			weighted++
		}
	}
	if weightSum <= 0 {
		return nil, fmt.Errorf("%w: total correspondence weight is zero", ErrDegenerate)
	}
	if weighted < 3 {
		return nil, fmt.Errorf("%w: only %d positively weighted points, rotation underdetermined",
			ErrDegenerate, weighted)
	}

	// Weighted centroids.
	var floatingCentroid, correspondingCentroid [3]float64
	for i := 0; i < numPoints; i++ {
		w := weights[i]
		for j := 0; j < 3; j++ {
			floatingCentroid[j] += w * floating.At(i, j)
			correspondingCentroid[j] += w * corresponding.At(i, j)
		}
	}
	for j := 0; j < 3; j++ {
		floatingCentroid[j] /= weightSum
		correspondingCentroid[j] /= weightSum
	}

	// Weighted cross-covariance between the two point sets.
	var cov [3][3]float64
	for i := 0; i < numPoints; i++ {
		w := weights[i]
		for r := 0; r < 3; r++ {
			for c := 0; c < 3; c++ {
				cov[r][c] += w * floating.At(i, r) * corresponding.At(i, c)
			}
		}
	}
	trace := 0.0
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			cov[r][c] = cov[r][c]/weightSum - floatingCentroid[r]*correspondingCentroid[c]
		}
		trace += cov[r][r]
	}

	// The antisymmetric part of the covariance gives the off-diagonal border
	// of Horn's 4×4 quaternion matrix.
	delta := [3]float64{
		cov[1][2] - cov[2][1],
		cov[2][0] - cov[0][2],
		cov[0][1] - cov[1][0],
	}
	q := mat.NewSymDense(4, nil)
	q.SetSym(0, 0, trace)
	for r := 0; r < 3; r++ {
		q.SetSym(0, r+1, delta[r])
		for c := r; c < 3; c++ {
			entry := cov[r][c] + cov[c][r]
			if r == c {
				entry -= trace
			}
			q.SetSym(r+1, c+1, entry)
		}
	}

	rotation, err := dominantQuaternionRotation(q)
	if err != nil {
		return nil, err
	}

	scale := 1.0
	if adjustScale {
		numerator := 0.0
		denominator := 0.0
		for i := 0; i < numPoints; i++ {
			var centered, rotated [3]float64
			for j := 0; j < 3; j++ {
				centered[j] = floating.At(i, j) - floatingCentroid[j]
			}
			for r := 0; r < 3; r++ {
				rotated[r] = rotation[r][0]*centered[0] + rotation[r][1]*centered[1] + rotation[r][2]*centered[2]
			}
			w := weights[i]
			for j := 0; j < 3; j++ {
				numerator += w * (corresponding.At(i, j) - correspondingCentroid[j]) * rotated[j]
				denominator += w * rotated[j] * rotated[j]
			}
		}
		if denominator <= 0 {
			return nil, fmt.Errorf("%w: zero variance in rotated floating positions", ErrDegenerate)
		}
		scale = numerator / denominator
	}

	var translation [3]float64
	for r := 0; r < 3; r++ {
		translation[r] = correspondingCentroid[r] - scale*(rotation[r][0]*floatingCentroid[0]+
			rotation[r][1]*floatingCentroid[1]+rotation[r][2]*floatingCentroid[2])
	}

	transform := mat.NewDense(4, 4, nil)
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			transform.Set(r, c, scale*rotation[r][c])
		}
		transform.Set(r, 3, translation[r])
	}
	transform.Set(3, 3, 1.0)
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			if v := transform.At(r, c); math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("%w: non-finite transform entry [%d,%d]", ErrDegenerate, r, c)
			}
		}
	}

	ApplyTransform(floating, transform)
	return transform, nil
}

// dominantQuaternionRotation finds the eigenvector of q with the eigenvalue
// of largest absolute magnitude and converts it to a rotation matrix. Exact
// magnitude ties would make the winner depend on the eigensolver's internal
// ordering, so a runner-up within eigenGapTolerance of the winner is refused
// as degenerate rather than silently tie-broken.
func dominantQuaternionRotation(q *mat.SymDense) ([3][3]float64, error) {
	var eigen mat.EigenSym
	if !eigen.Factorize(q, true) {
		return [3][3]float64{}, fmt.Errorf("%w: eigendecomposition of quaternion matrix failed", ErrDegenerate)
	}
	values := eigen.Values(nil)

	best := 0
	bestAbs := 0.0
	secondAbs := 0.0
	for i, value := range values {
		abs := math.Abs(value)
		if abs > bestAbs {
			secondAbs = bestAbs
			bestAbs = abs
			best = i
		} else if abs > secondAbs {
			secondAbs = abs
		}
	}
	if bestAbs == 0 {
		return [3][3]float64{}, fmt.Errorf("%w: quaternion matrix is zero", ErrDegenerate)
	}
	if bestAbs-secondAbs <= eigenGapTolerance*bestAbs {
		return [3][3]float64{}, fmt.Errorf("%w: dominant eigenvalue not unique (|λ1|=%g, |λ2|=%g)",
			ErrDegenerate, bestAbs, secondAbs)
	}

	var vectors mat.Dense
	eigen.VectorsTo(&vectors)
	quat := [4]float64{vectors.At(0, best), vectors.At(1, best), vectors.At(2, best), vectors.At(3, best)}

	// Standard quaternion-to-matrix formula; every term is quadratic in the
	// quaternion so the eigenvector's sign ambiguity drops out.
	var rotation [3][3]float64
	rotation[0][0] = quat[0]*quat[0] + quat[1]*quat[1] - quat[2]*quat[2] - quat[3]*quat[3]
	rotation[1][1] = quat[0]*quat[0] + quat[2]*quat[2] - quat[1]*quat[1] - quat[3]*quat[3]
	rotation[2][2] = quat[0]*quat[0] + quat[3]*quat[3] - quat[1]*quat[1] - quat[2]*quat[2]
	rotation[1][0] = 2.0 * (quat[1]*quat[2] + quat[0]*quat[3])
	rotation[0][1] = 2.0 * (quat[1]*quat[2] - quat[0]*quat[3])
	rotation[2][0] = 2.0 * (quat[1]*quat[3] - quat[0]*quat[2])
	rotation[0][2] = 2.0 * (quat[1]*quat[3] + quat[0]*quat[2])
	rotation[2][1] = 2.0 * (quat[2]*quat[3] + quat[0]*quat[1])
	rotation[1][2] = 2.0 * (quat[2]*quat[3] - quat[0]*quat[1])
	return rotation, nil
}
