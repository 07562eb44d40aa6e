package align

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Config holds the tuning knobs for the registration loop.
type Config struct {
	K                 int     // Nearest neighbors per element in the affinity build
	Kappa             float64 // Sigma cut-off between inlier and outlier models
	FlagThreshold     float64 // Binarization limit for corresponding flags
	MaxIterations     int     // Cap on outer iterations
	ConvergenceThresh float64 // Stop when weighted RMS improvement drops below this
	AdjustScale       bool    // Estimate isotropic scale alongside the rotation
}

// DefaultConfig returns sensible defaults for registering surface samples
// whose positions and normals live on comparable numeric scales.
func DefaultConfig() Config {
	return Config{
		K:                 3,
		Kappa:             DefaultKappa,
		FlagThreshold:     DefaultFlagThreshold,
		MaxIterations:     30,
		ConvergenceThresh: 1e-4,
		AdjustScale:       false,
	}
}

// Result describes one completed registration.
type Result struct {
	Transform      *mat.Dense // Accumulated 4×4 transform, floating → target frame
	Error          float64    // Weighted RMS residual of the final iteration
	InlierFraction float64    // Fraction of elements with inlier probability above 0.5
	Iterations     int        // Outer iterations performed
	Converged      bool       // Whether the loop stopped on the improvement threshold
}

// Register aligns floating onto target. Neither input is mutated; the loop
// evolves a private copy of floating and accumulates the composite transform.
//
// Each iteration runs the full pipeline: directional affinities both ways,
// fusion, correspondence resolution, inlier classification, and the weighted
// rigid (or similarity) transform, which is applied to the working positions
// and whose rotation part is applied to the working normals. Iteration stops
// when the weighted RMS residual stops improving by ConvergenceThresh, or at
// MaxIterations.
func Register(floating, target *Cloud, config Config) (Result, error) {
	result := Result{Transform: Identity()}
	if floating.Len() == 0 || target.Len() == 0 {
		return result, fmt.Errorf("%w: empty cloud", ErrInvalidArgument)
	}
	if config.K < 1 || config.K > target.Len() || config.K > floating.Len() {
		return result, fmt.Errorf("%w: k=%d with %d floating and %d target elements",
			ErrInvalidArgument, config.K, floating.Len(), target.Len())
	}
	if config.MaxIterations < 1 {
		return result, fmt.Errorf("%w: MaxIterations=%d", ErrInvalidArgument, config.MaxIterations)
	}

	work := floating.Clone()
	numElements := work.Len()
	targetSearcher := NewBruteForce(target.Features)
	prevError := math.Inf(1)

	for iter := 0; iter < config.MaxIterations; iter++ {
		result.Iterations = iter + 1

		forward, err := BuildAffinity(work.Features, targetSearcher, config.K)
		if err != nil {
			return result, fmt.Errorf("iteration %d: %w", iter, err)
		}
		reverse, err := BuildAffinity(target.Features, NewBruteForce(work.Features), config.K)
		if err != nil {
			return result, fmt.Errorf("iteration %d: %w", iter, err)
		}
		fused, err := FuseAffinities(forward, reverse)
		if err != nil {
			return result, fmt.Errorf("iteration %d: %w", iter, err)
		}

		correspondingFeatures, correspondingFlags, err := Correspondences(
			target.Features, target.Flags, fused, config.FlagThreshold)
		if err != nil {
			return result, fmt.Errorf("iteration %d: %w", iter, err)
		}

		probability := make([]float64, numElements)
		for i := range probability {
			probability[i] = 1.0
		}
		if err := DetectInliers(work.Features, correspondingFeatures, correspondingFlags,
			probability, config.Kappa); err != nil {
			return result, fmt.Errorf("iteration %d: %w", iter, err)
		}

		correspondingPositions := correspondingFeatures.Slice(0, numElements, 0, 3).(*mat.Dense)
		transform, err := RigidTransformation(work.Positions(), correspondingPositions,
			probability, config.AdjustScale)
		if err != nil {
			return result, fmt.Errorf("iteration %d: %w", iter, err)
		}
		// Carry the normals along so the next iteration's normal gate sees
		// the updated orientation.
		RotateRows(work.Normals(), RotationPart(transform))

		result.Transform = Multiply(transform, result.Transform)
		result.Error = weightedRMS(work.Positions(), correspondingPositions, probability)
		result.InlierFraction = inlierFraction(probability)

		improvement := prevError - result.Error
		if improvement >= 0 && improvement < config.ConvergenceThresh {
			result.Converged = true
			break
		}
		prevError = result.Error
	}

	return result, nil
}

// weightedRMS is the probability-weighted RMS distance between transformed
// positions and their correspondences.
func weightedRMS(positions, corresponding *mat.Dense, weights []float64) float64 {
	numPoints, _ := positions.Dims()
	numerator := 0.0
	denominator := 0.0
	for i := 0; i < numPoints; i++ {
		sum := 0.0
		for j := 0; j < 3; j++ {
			d := positions.At(i, j) - corresponding.At(i, j)
			sum += d * d
		}
		numerator += weights[i] * sum
		denominator += weights[i]
	}
	if denominator <= 0 {
		return math.Inf(1)
	}
	return math.Sqrt(numerator / denominator)
}

func inlierFraction(probability []float64) float64 {
	if len(probability) == 0 {
		return 0
	}
	count := 0
	for _, p := range probability {
		if p > 0.5 {
			count++
		}
	}
	return float64(count) / float64(len(probability))
}
