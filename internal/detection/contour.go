package detection

import (
	"context"
	"image"
	"math"
	"sort"

	omrimg "github.com/ironsheep/omr-grader/internal/imaging"
)

// Contour is the traced outer boundary of one connected group of edge pixels.
type Contour struct {
	// Points is the closed boundary in tracing order. The last point connects
	// back to the first.
	Points []image.Point

	// Area is the enclosed area computed with the shoelace formula.
	Area float64

	// Perimeter is the closed arc length of Points.
	Perimeter float64
}

// moore lists the 8 neighbour offsets in clockwise order starting from west.
var moore = [8]image.Point{
	{-1, 0},  // W
	{-1, -1}, // NW
	{0, -1},  // N
	{1, -1},  // NE
	{1, 0},   // E
	{1, 1},   // SE
	{0, 1},   // S
	{-1, 1},  // SW
}

// edgeMap is a binary view of an edge image with origin (0,0).
type edgeMap struct {
	width, height int
	on            []bool
}

func newEdgeMap(edges *image.Gray) *edgeMap {
	bounds := edges.Bounds()
	m := &edgeMap{
		width:  bounds.Dx(),
		height: bounds.Dy(),
		on:     make([]bool, bounds.Dx()*bounds.Dy()),
	}
	for y := 0; y < m.height; y++ {
		row := edges.Pix[edges.PixOffset(bounds.Min.X, bounds.Min.Y+y):]
		for x := 0; x < m.width; x++ {
			m.on[y*m.width+x] = row[x] != 0
		}
	}
	return m
}

func (m *edgeMap) inside(x, y int) bool {
	return x >= 0 && y >= 0 && x < m.width && y < m.height
}

// FindExternalContours extracts the outer boundaries of the edge components
// that are visible from outside: components that touch the image border or
// the background region reachable from the border.
//
// Parameters:
//   - edges: Binary edge image (non-zero = edge), e.g. from imaging.Canny.
//   - minPixels: Components with fewer pixels are ignored as noise.
//     Typical: 10.
//
// Returns contours sorted by enclosed area, largest first. Contours with equal
// area keep the raster order in which their components were discovered, so
// the result is deterministic.
//
// # Algorithm
//
//  1. Outside region: 4-connected flood fill of non-edge pixels seeded from
//     every border pixel. 4-connectivity keeps the fill from leaking through
//     diagonal steps of an 8-connected boundary.
//  2. Components: 8-connected flood fill of edge pixels in raster order.
//  3. External test: a component is kept when any pixel lies on the image
//     border or is 4-adjacent to the outside region. Everything enclosed by
//     another boundary (bubbles, printed text on the sheet) is dropped.
//  4. Boundary: Moore-neighbour tracing from the first raster pixel of the
//     component.
func FindExternalContours(edges *image.Gray, minPixels int) []Contour {
	contours, _ := FindExternalContoursContext(context.Background(), edges, minPixels)
	return contours
}

// FindExternalContoursContext is FindExternalContours with cancellation. It
// stops between rows of the component scan once ctx is done and returns
// ctx.Err().
func FindExternalContoursContext(ctx context.Context, edges *image.Gray, minPixels int) ([]Contour, error) {
	m := newEdgeMap(edges)
	if m.width == 0 || m.height == 0 {
		return nil, nil
	}

	outside := floodOutside(m)

	label := make([]int32, len(m.on))
	contours := make([]Contour, 0)
	var next int32

	for y := 0; y < m.height; y++ {
		if err := omrimg.CheckContext(ctx, y); err != nil {
			return nil, err
		}
		for x := 0; x < m.width; x++ {
			idx := y*m.width + x
			if !m.on[idx] || label[idx] != 0 {
				continue
			}

			next++
			component := floodFill(m, label, next, x, y)
			if len(component) < minPixels || !touchesOutside(m, outside, component) {
				continue
			}

			points := traceBoundary(m, label, next, image.Point{X: x, Y: y}, len(component))
			contours = append(contours, Contour{
				Points:    points,
				Area:      polygonArea(points),
				Perimeter: arcLength(points, true),
			})
		}
	}

	sort.SliceStable(contours, func(i, j int) bool {
		return contours[i].Area > contours[j].Area
	})

	return contours, nil
}

// floodOutside marks every non-edge pixel 4-connected to the image border.
func floodOutside(m *edgeMap) []bool {
	outside := make([]bool, len(m.on))
	stack := make([]image.Point, 0, 2*(m.width+m.height))

	push := func(x, y int) {
		idx := y*m.width + x
		if m.on[idx] || outside[idx] {
			return
		}
		outside[idx] = true
		stack = append(stack, image.Point{X: x, Y: y})
	}

	for x := 0; x < m.width; x++ {
		push(x, 0)
		push(x, m.height-1)
	}
	for y := 0; y < m.height; y++ {
		push(0, y)
		push(m.width-1, y)
	}

	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		for _, d := range [4]image.Point{{1, 0}, {-1, 0}, {0, 1}, {0, -1}} {
			nx, ny := p.X+d.X, p.Y+d.Y
			if m.inside(nx, ny) {
				push(nx, ny)
			}
		}
	}
	return outside
}

// floodFill performs iterative flood-fill from a starting point, labelling
// every 8-connected edge pixel and returning the component's pixels.
//
// Uses a stack-based approach (not recursive) to avoid stack overflow on
// long document boundaries.
func floodFill(m *edgeMap, label []int32, id int32, startX, startY int) []image.Point {
	component := make([]image.Point, 0, 64)
	stack := []image.Point{{X: startX, Y: startY}}
	label[startY*m.width+startX] = id

	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		component = append(component, p)

		for _, d := range moore {
			nx, ny := p.X+d.X, p.Y+d.Y
			if !m.inside(nx, ny) {
				continue
			}
			idx := ny*m.width + nx
			if !m.on[idx] || label[idx] != 0 {
				continue
			}
			label[idx] = id
			stack = append(stack, image.Point{X: nx, Y: ny})
		}
	}
	return component
}

func touchesOutside(m *edgeMap, outside []bool, component []image.Point) bool {
	for _, p := range component {
		if p.X == 0 || p.Y == 0 || p.X == m.width-1 || p.Y == m.height-1 {
			return true
		}
		for _, d := range [4]image.Point{{1, 0}, {-1, 0}, {0, 1}, {0, -1}} {
			if outside[(p.Y+d.Y)*m.width+p.X+d.X] {
				return true
			}
		}
	}
	return false
}

// traceBoundary walks the outer boundary of a labelled component clockwise
// using Moore-neighbour tracing.
//
// start must be the component's first pixel in raster order, so its west
// neighbour is guaranteed to be background. Tracing stops when the walk is
// about to repeat its first move, or after a bound proportional to the
// component size.
func traceBoundary(m *edgeMap, label []int32, id int32, start image.Point, size int) []image.Point {
	member := func(p image.Point) bool {
		return m.inside(p.X, p.Y) && label[p.Y*m.width+p.X] == id
	}

	points := []image.Point{start}
	p := start
	back := 0 // west
	var firstMove image.Point
	limit := 4*size + 8

	for step := 0; step < limit; step++ {
		found := -1
		for i := 1; i <= 8; i++ {
			d := (back + i) % 8
			if member(p.Add(moore[d])) {
				found = d
				break
			}
		}
		if found < 0 {
			// Isolated pixel
			break
		}

		q := p.Add(moore[found])
		if step == 0 {
			firstMove = q
		} else if p == start && q == firstMove {
			break
		}

		// The neighbour examined just before q is background; it becomes the
		// backtrack point, expressed relative to q.
		prev := p.Add(moore[(found+7)%8])
		back = mooreIndex(prev.Sub(q))

		points = append(points, q)
		p = q
	}

	// Drop the closing duplicate of start
	if len(points) > 1 && points[len(points)-1] == start {
		points = points[:len(points)-1]
	}
	return points
}

// mooreIndex returns the index of a unit offset in the moore table.
func mooreIndex(d image.Point) int {
	for i, o := range moore {
		if o == d {
			return i
		}
	}
	return 0
}

// polygonArea returns the absolute enclosed area of a closed polygon using
// the shoelace formula.
func polygonArea(pts []image.Point) float64 {
	if len(pts) < 3 {
		return 0
	}
	var sum int
	for i := range pts {
		j := (i + 1) % len(pts)
		sum += pts[i].X*pts[j].Y - pts[j].X*pts[i].Y
	}
	return math.Abs(float64(sum)) / 2
}

// arcLength returns the length of the polyline, including the closing segment
// when closed is true.
func arcLength(pts []image.Point, closed bool) float64 {
	if len(pts) < 2 {
		return 0
	}
	var length float64
	for i := 1; i < len(pts); i++ {
		length += distance(pts[i-1], pts[i])
	}
	if closed {
		length += distance(pts[len(pts)-1], pts[0])
	}
	return length
}

func distance(a, b image.Point) float64 {
	dx := float64(a.X - b.X)
	dy := float64(a.Y - b.Y)
	return math.Sqrt(dx*dx + dy*dy)
}
