package align

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

// helixCloud returns four points spread along z with small radial offsets
// and +z normals. Rotating it about the z axis displaces every point far
// less than the inter-point spacing, so each point's true rotated
// counterpart stays its unambiguous nearest neighbor.
func helixCloud() *Cloud {
	features := stackRows(
		featureRow(0.10, 0.00, 0.0, 0, 0, 1),
		featureRow(-0.05, 0.08, 1.0, 0, 0, 1),
		featureRow(0.02, -0.09, 2.0, 0, 0, 1),
		featureRow(0.08, 0.05, 3.0, 0, 0, 1),
	)
	return &Cloud{Features: features, Flags: []float64{1, 1, 1, 1}}
}

// rotateCloud returns a copy of the cloud with positions and normals mapped
// through the homogeneous transform.
func rotateCloud(cloud *Cloud, transform *mat.Dense) *Cloud {
	out := cloud.Clone()
	ApplyTransform(out.Positions(), transform)
	RotateRows(out.Normals(), RotationPart(transform))
	return out
}

func TestRegister_NinetyDegreesAboutZ(t *testing.T) {
	floating := helixCloud()
	groundTruth := RotationZ(math.Pi / 2)
	target := rotateCloud(floating, groundTruth)

	config := DefaultConfig()
	config.K = 2

	// The affinity itself should already concentrate on each point's true
	// rotated counterpart for this geometry.
	affinity, err := BuildAffinity(floating.Features, NewBruteForce(target.Features), config.K)
	if err != nil {
		t.Fatalf("BuildAffinity failed: %v", err)
	}
	for i := 0; i < floating.Len(); i++ {
		if affinity.At(i, i) <= 0.9 {
			t.Errorf("affinity for element %d not concentrated on true counterpart: %g", i, affinity.At(i, i))
		}
	}

	result, err := Register(floating, target, config)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if !result.Converged {
		t.Errorf("registration did not converge in %d iterations", result.Iterations)
	}
	if result.InlierFraction < 1.0 {
		t.Errorf("inlier fraction = %g, want 1.0 for noiseless data", result.InlierFraction)
	}

	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			if math.Abs(result.Transform.At(r, c)-groundTruth.At(r, c)) > 1e-3 {
				t.Errorf("transform entry (%d,%d) = %g, want %g",
					r, c, result.Transform.At(r, c), groundTruth.At(r, c))
			}
		}
	}

	// Applying the recovered transform must land the floating positions on
	// the target positions.
	aligned := rotateCloud(floating, result.Transform)
	matApproxEqual(t, aligned.Positions(), target.Positions(), 1e-3, "aligned positions")

	// Register must not mutate its inputs
	matApproxEqual(t, floating.Features, helixCloud().Features, 0, "floating input")
}

func TestRegister_IdenticalCloudsGiveIdentity(t *testing.T) {
	floating := helixCloud()
	target := helixCloud()

	config := DefaultConfig()
	config.K = 2

	result, err := Register(floating, target, config)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if !result.Converged {
		t.Errorf("registration did not converge in %d iterations", result.Iterations)
	}
	matApproxEqual(t, result.Transform, Identity(), 1e-6, "transform")
	if result.Error > 1e-3 {
		t.Errorf("residual error = %g, want near zero", result.Error)
	}
}

func TestRegister_TranslationRecovery(t *testing.T) {
	floating := helixCloud()
	groundTruth := Translation(0.05, -0.03, 0.08)
	target := rotateCloud(floating, groundTruth)

	config := DefaultConfig()
	config.K = 2

	result, err := Register(floating, target, config)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	for r := 0; r < 3; r++ {
		if math.Abs(result.Transform.At(r, 3)-groundTruth.At(r, 3)) > 1e-3 {
			t.Errorf("translation component %d = %g, want %g",
				r, result.Transform.At(r, 3), groundTruth.At(r, 3))
		}
	}
}

func TestRegister_InvalidArguments(t *testing.T) {
	cloud := helixCloud()

	config := DefaultConfig()
	config.K = 0
	if _, err := Register(cloud, helixCloud(), config); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("k=0: got %v, want ErrInvalidArgument", err)
	}

	config.K = 5 // more neighbors than elements
	if _, err := Register(cloud, helixCloud(), config); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("k too large: got %v, want ErrInvalidArgument", err)
	}

	config = DefaultConfig()
	if _, err := Register(&Cloud{}, helixCloud(), config); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("empty cloud: got %v, want ErrInvalidArgument", err)
	}
}
