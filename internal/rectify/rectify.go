package rectify

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"sort"

	"github.com/disintegration/imaging"

	"github.com/ironsheep/omr-grader/internal/detection"
	omrimg "github.com/ironsheep/omr-grader/internal/imaging"
)

// ErrRectificationFailed is returned when a quad cannot be mapped onto the
// canonical frame.
var ErrRectificationFailed = errors.New("rectification failed")

// Config controls the canonical frame geometry.
type Config struct {
	// FrameWidth and FrameHeight are the exact output dimensions. All
	// template coordinates are expressed in this frame. Default 1000x1400.
	FrameWidth  int
	FrameHeight int
}

// DefaultConfig returns the 1000x1400 canonical frame.
func DefaultConfig() Config {
	return Config{
		FrameWidth:  1000,
		FrameHeight: 1400,
	}
}

// Validate reports whether the configuration is usable.
func (c Config) Validate() error {
	if c.FrameWidth < 1 || c.FrameHeight < 1 {
		return fmt.Errorf("frame size must be positive, got %dx%d", c.FrameWidth, c.FrameHeight)
	}
	return nil
}

// Result holds the rectified sheet and the region around it.
type Result struct {
	// Frame is the sheet warped to FrameWidth x FrameHeight.
	Frame *image.NRGBA

	// Outside is a copy of the raw image with the sheet blacked out.
	Outside *image.NRGBA

	// Corners are the quad vertices ordered top-left, top-right,
	// bottom-right, bottom-left.
	Corners detection.Quad

	// WarpWidth and WarpHeight are the intermediate size derived from the
	// quad's edge lengths, before resizing to the frame.
	WarpWidth  int
	WarpHeight int
}

// Rectifier warps located sheets into the canonical frame.
//
// A Rectifier holds only immutable configuration and is safe for concurrent use.
type Rectifier struct {
	cfg Config
}

// NewRectifier validates cfg and returns a Rectifier.
func NewRectifier(cfg Config) (*Rectifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rectifier config: %w", err)
	}
	return &Rectifier{cfg: cfg}, nil
}

// Config returns the rectifier's configuration.
func (r *Rectifier) Config() Config {
	return r.cfg
}

// Rectify orders the quad's vertices, warps the enclosed region of img into
// the canonical frame and derives the outside region.
//
// # Algorithm
//
//  1. Order vertices: top-left and bottom-right minimize and maximize x+y,
//     top-right and bottom-left minimize and maximize y-x, falling back to
//     clockwise order around the centroid when one vertex fills two roles
//  2. Intermediate size: width is the longer of the top and bottom edges,
//     height the longer of the left and right edges, truncated
//  3. Solve the projective mapping from the intermediate rectangle back to
//     the quad and sample the raw image bilinearly; samples outside the raw
//     image are black
//  4. Resize to exactly FrameWidth x FrameHeight
//
// Returns ErrRectificationFailed (wrapped) for degenerate quads: repeated or
// coincident vertices, three collinear vertices, zero area, an intermediate
// size below 2x2, or a singular projective system. The warp stops early with
// ctx.Err() once ctx is done.
func (r *Rectifier) Rectify(ctx context.Context, img image.Image, quad detection.Quad) (*Result, error) {
	ordered, err := OrderCorners(quad)
	if err != nil {
		return nil, err
	}
	tl, tr, br, bl := ordered[0], ordered[1], ordered[2], ordered[3]

	warpW := maxInt(int(pointDistance(br, bl)), int(pointDistance(tr, tl)))
	warpH := maxInt(int(pointDistance(tr, br)), int(pointDistance(tl, bl)))
	if warpW < 2 || warpH < 2 {
		return nil, fmt.Errorf("document %dx%d too small: %w", warpW, warpH, ErrRectificationFailed)
	}

	dst := [4]Point2D{
		{0, 0},
		{float64(warpW - 1), 0},
		{float64(warpW - 1), float64(warpH - 1)},
		{0, float64(warpH - 1)},
	}
	var src [4]Point2D
	for i, p := range ordered {
		src[i] = Point2D{X: float64(p.X), Y: float64(p.Y)}
	}

	h, err := ComputeHomography(dst, src)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrRectificationFailed)
	}

	warped, err := WarpPerspectiveContext(ctx, img, h, warpW, warpH)
	if err != nil {
		return nil, err
	}
	frame := warped
	if warpW != r.cfg.FrameWidth || warpH != r.cfg.FrameHeight {
		frame = imaging.Resize(warped, r.cfg.FrameWidth, r.cfg.FrameHeight, imaging.Linear)
	}

	return &Result{
		Frame:      frame,
		Outside:    omrimg.BlackoutPolygon(img, ordered.Points()),
		Corners:    ordered,
		WarpWidth:  warpW,
		WarpHeight: warpH,
	}, nil
}

// OrderCorners returns the quad's vertices as top-left, top-right,
// bottom-right, bottom-left.
//
// Top-left has the smallest x+y and bottom-right the largest; top-right has
// the smallest y-x and bottom-left the largest. When several vertices tie,
// the first in input order wins. A quad turned near 45 degrees can have one
// vertex fill two of those roles; its vertices are then taken clockwise
// around the centroid starting from the smallest x+y. Quads with coincident
// vertices, with three collinear vertices or with zero area are rejected
// with ErrRectificationFailed.
func OrderCorners(q detection.Quad) (detection.Quad, error) {
	tl, br, tr, bl := 0, 0, 0, 0
	for i := 1; i < 4; i++ {
		sum := q[i].X + q[i].Y
		diff := q[i].Y - q[i].X
		if sum < q[tl].X+q[tl].Y {
			tl = i
		}
		if sum > q[br].X+q[br].Y {
			br = i
		}
		if diff < q[tr].Y-q[tr].X {
			tr = i
		}
		if diff > q[bl].Y-q[bl].X {
			bl = i
		}
	}

	roles := [4]int{tl, tr, br, bl}
	seen := [4]bool{}
	for _, idx := range roles {
		if seen[idx] {
			roles = clockwiseFrom(q, tl)
			break
		}
		seen[idx] = true
	}
	tl, tr, br, bl = roles[0], roles[1], roles[2], roles[3]

	ordered := detection.Quad{q[tl], q[tr], q[br], q[bl]}
	for i := 0; i < 4; i++ {
		for j := i + 1; j < 4; j++ {
			if ordered[i] == ordered[j] {
				return detection.Quad{}, fmt.Errorf("coincident vertices in %v: %w", q, ErrRectificationFailed)
			}
		}
	}

	for i := 0; i < 4; i++ {
		a, b, c := ordered[i], ordered[(i+1)%4], ordered[(i+2)%4]
		if cross(a, b, c) == 0 {
			return detection.Quad{}, fmt.Errorf("collinear vertices %v %v %v: %w", a, b, c, ErrRectificationFailed)
		}
	}

	var area2 int
	for i := 0; i < 4; i++ {
		j := (i + 1) % 4
		area2 += ordered[i].X*ordered[j].Y - ordered[j].X*ordered[i].Y
	}
	if area2 == 0 {
		return detection.Quad{}, fmt.Errorf("zero-area quad %v: %w", q, ErrRectificationFailed)
	}

	return ordered, nil
}

// WarpPerspective renders a width x height image where each output pixel
// (u,v) is sampled from img at h(u,v) with bilinear interpolation.
//
// Coordinates produced by h are in the coordinate space of img. Taps that
// fall outside img contribute opaque black.
func WarpPerspective(img image.Image, h Homography, width, height int) *image.NRGBA {
	out, _ := WarpPerspectiveContext(context.Background(), img, h, width, height)
	return out
}

// WarpPerspectiveContext is WarpPerspective with cancellation. It stops
// between output rows once ctx is done and returns ctx.Err().
func WarpPerspectiveContext(ctx context.Context, img image.Image, h Homography, width, height int) (*image.NRGBA, error) {
	src := imaging.Clone(img)
	origin := img.Bounds().Min
	sw := src.Bounds().Dx()
	sh := src.Bounds().Dy()

	out := image.NewNRGBA(image.Rect(0, 0, width, height))

	// tap returns the RGB of a source pixel, black outside the image.
	tap := func(x, y int) (float64, float64, float64) {
		if x < 0 || y < 0 || x >= sw || y >= sh {
			return 0, 0, 0
		}
		i := y*src.Stride + x*4
		return float64(src.Pix[i]), float64(src.Pix[i+1]), float64(src.Pix[i+2])
	}

	for v := 0; v < height; v++ {
		if err := omrimg.CheckContext(ctx, v); err != nil {
			return nil, err
		}
		for u := 0; u < width; u++ {
			di := v*out.Stride + u*4
			out.Pix[di+3] = 255

			sx, sy, ok := h.Apply(float64(u), float64(v))
			if !ok {
				continue
			}
			sx -= float64(origin.X)
			sy -= float64(origin.Y)
			if sx < -1 || sy < -1 || sx > float64(sw) || sy > float64(sh) {
				continue
			}

			x0 := int(math.Floor(sx))
			y0 := int(math.Floor(sy))
			fx := sx - float64(x0)
			fy := sy - float64(y0)

			r00, g00, b00 := tap(x0, y0)
			r10, g10, b10 := tap(x0+1, y0)
			r01, g01, b01 := tap(x0, y0+1)
			r11, g11, b11 := tap(x0+1, y0+1)

			w00 := (1 - fx) * (1 - fy)
			w10 := fx * (1 - fy)
			w01 := (1 - fx) * fy
			w11 := fx * fy

			out.Pix[di] = toByte(r00*w00 + r10*w10 + r01*w01 + r11*w11)
			out.Pix[di+1] = toByte(g00*w00 + g10*w10 + g01*w01 + g11*w11)
			out.Pix[di+2] = toByte(b00*w00 + b10*w10 + b01*w01 + b11*w11)
		}
	}
	return out, nil
}

// clockwiseFrom returns the indices of q sorted clockwise (in image
// coordinates, y down) around the vertex centroid, rotated to start at first.
func clockwiseFrom(q detection.Quad, first int) [4]int {
	var cx, cy float64
	for _, p := range q {
		cx += float64(p.X) / 4
		cy += float64(p.Y) / 4
	}
	var angle [4]float64
	idx := []int{0, 1, 2, 3}
	for i, p := range q {
		angle[i] = math.Atan2(float64(p.Y)-cy, float64(p.X)-cx)
	}
	sort.SliceStable(idx, func(a, b int) bool { return angle[idx[a]] < angle[idx[b]] })

	start := 0
	for i, v := range idx {
		if v == first {
			start = i
		}
	}
	var out [4]int
	for i := range out {
		out[i] = idx[(start+i)%4]
	}
	return out
}

// cross returns the z component of (b-a) x (c-a).
func cross(a, b, c image.Point) int {
	return (b.X-a.X)*(c.Y-a.Y) - (b.Y-a.Y)*(c.X-a.X)
}

func pointDistance(a, b image.Point) float64 {
	return math.Hypot(float64(a.X-b.X), float64(a.Y-b.Y))
}

func toByte(v float64) uint8 {
	v = math.Round(v)
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
