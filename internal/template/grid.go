package template

import (
	"errors"
	"fmt"
	"image"
)

// ErrInvalidTemplate is returned for anchor pairs, grids and template files
// that cannot describe a bubble layout.
var ErrInvalidTemplate = errors.New("invalid template")

// AnchorPair is the centre of the first bubble (question 0, choice 0) and of
// the last bubble (question N-1, choice M-1) of a rectangular block, in
// canonical frame coordinates.
type AnchorPair struct {
	Start image.Point
	End   image.Point
}

// Interpolate expands an anchor pair into an n x m grid of bubble centres.
//
// Choice c of question q sits at
//
//	x = Start.X + c*(End.X-Start.X)/(m-1)
//	y = Start.Y + q*(End.Y-Start.Y)/(n-1)
//
// computed in integer arithmetic with the offset rounded down, so the last
// bubble lands exactly on End. When n or m is 1 the corresponding step is
// zero. The result is row-major: result[q][c].
//
// Returns ErrInvalidTemplate (wrapped) when n or m is less than 1.
func Interpolate(pair AnchorPair, n, m int) ([][]image.Point, error) {
	if n < 1 || m < 1 {
		return nil, fmt.Errorf("block needs at least one question and one choice, got %dx%d: %w", n, m, ErrInvalidTemplate)
	}

	dx := pair.End.X - pair.Start.X
	dy := pair.End.Y - pair.Start.Y

	rows := make([][]image.Point, n)
	for q := 0; q < n; q++ {
		y := pair.Start.Y + floorStep(q, dy, n-1)
		row := make([]image.Point, m)
		for c := 0; c < m; c++ {
			row[c] = image.Point{X: pair.Start.X + floorStep(c, dx, m-1), Y: y}
		}
		rows[q] = row
	}
	return rows, nil
}

// floorStep returns floor(i*delta/steps), or 0 when steps is 0.
func floorStep(i, delta, steps int) int {
	if steps == 0 {
		return 0
	}
	v := i * delta
	d := v / steps
	if v%steps != 0 && v < 0 {
		d--
	}
	return d
}

// BubbleGrid is the ordered list of questions, each an ordered list of choice
// centres in canonical frame coordinates.
//
// A BubbleGrid is read-only after construction: inputs are deep-copied and
// accessors never expose internal storage, so one grid can be shared by any
// number of goroutines without locking.
type BubbleGrid struct {
	rows [][]image.Point
}

// NewBubbleGrid validates and copies rows into a grid.
//
// Every question must have at least one choice. Questions may have different
// choice counts.
func NewBubbleGrid(rows [][]image.Point) (*BubbleGrid, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("grid has no questions: %w", ErrInvalidTemplate)
	}
	copied := make([][]image.Point, len(rows))
	for q, row := range rows {
		if len(row) == 0 {
			return nil, fmt.Errorf("question %d has no choices: %w", q, ErrInvalidTemplate)
		}
		copied[q] = append([]image.Point(nil), row...)
	}
	return &BubbleGrid{rows: copied}, nil
}

// GridFromAnchors interpolates each anchor block in order and concatenates
// the questions into a single grid.
func GridFromAnchors(blocks []AnchorBlock) (*BubbleGrid, error) {
	if len(blocks) == 0 {
		return nil, fmt.Errorf("no anchor blocks: %w", ErrInvalidTemplate)
	}
	var rows [][]image.Point
	for i, b := range blocks {
		block, err := b.expand()
		if err != nil {
			return nil, fmt.Errorf("anchor block %d: %w", i, err)
		}
		rows = append(rows, block...)
	}
	return NewBubbleGrid(rows)
}

// NumQuestions returns the number of questions.
func (g *BubbleGrid) NumQuestions() int {
	return len(g.rows)
}

// NumChoices returns the number of choices of question q, or 0 when q is out
// of range.
func (g *BubbleGrid) NumChoices(q int) int {
	if q < 0 || q >= len(g.rows) {
		return 0
	}
	return len(g.rows[q])
}

// Bubble returns the centre of choice c of question q.
func (g *BubbleGrid) Bubble(q, c int) (image.Point, bool) {
	if q < 0 || q >= len(g.rows) || c < 0 || c >= len(g.rows[q]) {
		return image.Point{}, false
	}
	return g.rows[q][c], true
}

// Question returns a copy of the choice centres of question q.
func (g *BubbleGrid) Question(q int) []image.Point {
	if q < 0 || q >= len(g.rows) {
		return nil
	}
	return append([]image.Point(nil), g.rows[q]...)
}

// Rows returns a deep copy of the grid.
func (g *BubbleGrid) Rows() [][]image.Point {
	out := make([][]image.Point, len(g.rows))
	for q, row := range g.rows {
		out[q] = append([]image.Point(nil), row...)
	}
	return out
}

// Bounds returns the smallest rectangle containing every bubble centre.
func (g *BubbleGrid) Bounds() image.Rectangle {
	var r image.Rectangle
	first := true
	for _, row := range g.rows {
		for _, p := range row {
			pr := image.Rectangle{Min: p, Max: p.Add(image.Pt(1, 1))}
			if first {
				r = pr
				first = false
				continue
			}
			r = r.Union(pr)
		}
	}
	return r
}

// transpose swaps questions and choices. Rows must all have the same length.
func transpose(rows [][]image.Point) [][]image.Point {
	if len(rows) == 0 {
		return nil
	}
	out := make([][]image.Point, len(rows[0]))
	for c := range out {
		out[c] = make([]image.Point, len(rows))
		for q := range rows {
			out[c][q] = rows[q][c]
		}
	}
	return out
}
