package detection

import (
	"image"
	"math"
)

// ApproxPolygon simplifies a closed contour with the Douglas-Peucker
// algorithm.
//
// Parameters:
//   - pts: Closed contour (the last point connects back to the first).
//   - epsilon: Maximum distance in pixels between the contour and the
//     simplified polygon. For document detection this is a fraction of the
//     contour perimeter, typically 0.02 * perimeter.
//
// Returns the polygon vertices, a subset of pts in contour order.
//
// # Algorithm
//
// A closed curve has no natural endpoints, so it is split at two extreme
// points first: b is the point farthest from pts[0] and a is the point
// farthest from b. Both lie on the convex hull, which makes them corners of
// any quadrilateral outline. Each of the two arcs between a and b is then
// simplified independently and the results are joined.
func ApproxPolygon(pts []image.Point, epsilon float64) []image.Point {
	n := len(pts)
	if n < 3 {
		out := make([]image.Point, n)
		copy(out, pts)
		return out
	}

	b := farthestFrom(pts, pts[0])
	a := farthestFrom(pts, pts[b])
	if pts[a] == pts[b] {
		return []image.Point{pts[a]}
	}

	first := douglasPeucker(cyclicSlice(pts, a, b), epsilon)
	second := douglasPeucker(cyclicSlice(pts, b, a), epsilon)

	// Both arcs share their endpoints; keep each vertex once
	out := make([]image.Point, 0, len(first)+len(second))
	out = append(out, first...)
	out = append(out, second[1:len(second)-1]...)
	return out
}

// farthestFrom returns the index of the point farthest from p. Ties resolve
// to the lowest index.
func farthestFrom(pts []image.Point, p image.Point) int {
	best := 0
	bestDist := -1
	for i, q := range pts {
		dx := q.X - p.X
		dy := q.Y - p.Y
		if d := dx*dx + dy*dy; d > bestDist {
			best = i
			bestDist = d
		}
	}
	return best
}

// cyclicSlice copies pts[from..to] inclusive, wrapping around the end.
func cyclicSlice(pts []image.Point, from, to int) []image.Point {
	n := len(pts)
	count := (to-from+n)%n + 1
	out := make([]image.Point, count)
	for i := 0; i < count; i++ {
		out[i] = pts[(from+i)%n]
	}
	return out
}

// douglasPeucker simplifies an open polyline, always keeping both endpoints.
func douglasPeucker(pts []image.Point, epsilon float64) []image.Point {
	if len(pts) < 3 {
		out := make([]image.Point, len(pts))
		copy(out, pts)
		return out
	}

	first, last := pts[0], pts[len(pts)-1]
	index := 0
	maxDist := 0.0
	for i := 1; i < len(pts)-1; i++ {
		if d := lineDistance(pts[i], first, last); d > maxDist {
			index = i
			maxDist = d
		}
	}

	if maxDist <= epsilon {
		return []image.Point{first, last}
	}

	left := douglasPeucker(pts[:index+1], epsilon)
	right := douglasPeucker(pts[index:], epsilon)
	return append(left[:len(left)-1], right...)
}

// lineDistance returns the perpendicular distance from p to the line through
// a and b, or the distance to a when a and b coincide.
func lineDistance(p, a, b image.Point) float64 {
	dx := float64(b.X - a.X)
	dy := float64(b.Y - a.Y)
	length := math.Hypot(dx, dy)
	if length == 0 {
		return distance(p, a)
	}
	cross := dx*float64(p.Y-a.Y) - dy*float64(p.X-a.X)
	return math.Abs(cross) / length
}
