package rectify

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Point2D is a point with sub-pixel precision.
type Point2D struct {
	X, Y float64
}

// Homography is a 3x3 projective transform in row-major order with the
// bottom-right element fixed at 1.
type Homography [9]float64

// Apply maps a point through the transform. ok is false when the point maps
// to infinity.
func (h Homography) Apply(x, y float64) (px, py float64, ok bool) {
	w := h[6]*x + h[7]*y + h[8]
	if w == 0 || math.IsNaN(w) {
		return 0, 0, false
	}
	return (h[0]*x + h[1]*y + h[2]) / w, (h[3]*x + h[4]*y + h[5]) / w, true
}

// ComputeHomography solves for the projective transform that maps each from
// point onto the matching to point.
//
// Build matrix equation from x' = (h0*x + h1*y + h2) / (h6*x + h7*y + 1) and
// the matching y' row, giving an 8x8 system A * h = b for the four
// correspondences.
//
// Returns an error when the system is singular, which happens when three of
// the points are collinear.
func ComputeHomography(from, to [4]Point2D) (Homography, error) {
	A := mat.NewDense(8, 8, nil)
	B := mat.NewVecDense(8, nil)

	for i := 0; i < 4; i++ {
		x, y := from[i].X, from[i].Y
		xp, yp := to[i].X, to[i].Y

		// x' row
		A.Set(i*2, 0, x)
		A.Set(i*2, 1, y)
		A.Set(i*2, 2, 1)
		A.Set(i*2, 6, -x*xp)
		A.Set(i*2, 7, -y*xp)
		B.SetVec(i*2, xp)

		// y' row
		A.Set(i*2+1, 3, x)
		A.Set(i*2+1, 4, y)
		A.Set(i*2+1, 5, 1)
		A.Set(i*2+1, 6, -x*yp)
		A.Set(i*2+1, 7, -y*yp)
		B.SetVec(i*2+1, yp)
	}

	var params mat.VecDense
	if err := params.SolveVec(A, B); err != nil {
		return Homography{}, fmt.Errorf("solving projective system: %w", err)
	}

	var h Homography
	for i := 0; i < 8; i++ {
		v := params.AtVec(i)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Homography{}, fmt.Errorf("projective system has no finite solution")
		}
		h[i] = v
	}
	h[8] = 1
	return h, nil
}
