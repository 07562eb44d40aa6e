package align

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Identity returns a 4×4 identity transform (no rotation, unit scale, zero
// translation).
func Identity() *mat.Dense {
	transform := mat.NewDense(4, 4, nil)
	for i := 0; i < 4; i++ {
		transform.Set(i, i, 1.0)
	}
	return transform
}

// Multiply composes two homogeneous transforms: applying the result is
// equivalent to applying second first, then first.
func Multiply(first, second *mat.Dense) *mat.Dense {
	out := mat.NewDense(4, 4, nil)
	out.Mul(first, second)
	return out
}

// ApplyTransform maps every row of the N×3 position matrix through the
// homogeneous transform, in place.
func ApplyTransform(positions *mat.Dense, transform *mat.Dense) {
	numPoints, _ := positions.Dims()
	for i := 0; i < numPoints; i++ {
		x, y, z := positions.At(i, 0), positions.At(i, 1), positions.At(i, 2)
		positions.Set(i, 0, transform.At(0, 0)*x+transform.At(0, 1)*y+transform.At(0, 2)*z+transform.At(0, 3))
		positions.Set(i, 1, transform.At(1, 0)*x+transform.At(1, 1)*y+transform.At(1, 2)*z+transform.At(1, 3))
		positions.Set(i, 2, transform.At(2, 0)*x+transform.At(2, 1)*y+transform.At(2, 2)*z+transform.At(2, 3))
	}
}

// ScalePart extracts the isotropic scale folded into the rotation block,
// the cube root of its determinant.
func ScalePart(transform *mat.Dense) float64 {
	det := transform.At(0, 0)*(transform.At(1, 1)*transform.At(2, 2)-transform.At(1, 2)*transform.At(2, 1)) -
		transform.At(0, 1)*(transform.At(1, 0)*transform.At(2, 2)-transform.At(1, 2)*transform.At(2, 0)) +
		transform.At(0, 2)*(transform.At(1, 0)*transform.At(2, 1)-transform.At(1, 1)*transform.At(2, 0))
	return math.Cbrt(det)
}

// RotationPart extracts the pure 3×3 rotation from a similarity transform,
// dividing out the isotropic scale.
func RotationPart(transform *mat.Dense) *mat.Dense {
	scale := ScalePart(transform)
	rotation := mat.NewDense(3, 3, nil)
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			rotation.Set(r, c, transform.At(r, c)/scale)
		}
	}
	return rotation
}

// RotateRows maps every row of the N×3 matrix through a 3×3 rotation, in
// place. Used to carry floating normals along with their positions between
// registration iterations.
func RotateRows(rows *mat.Dense, rotation *mat.Dense) {
	numRows, _ := rows.Dims()
	for i := 0; i < numRows; i++ {
		x, y, z := rows.At(i, 0), rows.At(i, 1), rows.At(i, 2)
		rows.Set(i, 0, rotation.At(0, 0)*x+rotation.At(0, 1)*y+rotation.At(0, 2)*z)
		rows.Set(i, 1, rotation.At(1, 0)*x+rotation.At(1, 1)*y+rotation.At(1, 2)*z)
		rows.Set(i, 2, rotation.At(2, 0)*x+rotation.At(2, 1)*y+rotation.At(2, 2)*z)
	}
}

// RotationZ returns the homogeneous transform for a rotation of angle
// radians about the z axis.
func RotationZ(angle float64) *mat.Dense {
	transform := Identity()
	cos, sin := math.Cos(angle), math.Sin(angle)
	transform.Set(0, 0, cos)
	transform.Set(0, 1, -sin)
	transform.Set(1, 0, sin)
	transform.Set(1, 1, cos)
	return transform
}

// Translation returns a translation-only homogeneous transform.
func Translation(tx, ty, tz float64) *mat.Dense {
	transform := Identity()
	transform.Set(0, 3, tx)
	transform.Set(1, 3, ty)
	transform.Set(2, 3, tz)
	return transform
}
