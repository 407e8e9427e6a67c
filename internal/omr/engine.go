package omr

import (
	"errors"
	"fmt"
	"image"
	"strconv"
	"strings"

	omrimg "github.com/ironsheep/omr-grader/internal/imaging"
	"github.com/ironsheep/omr-grader/internal/template"
)

// Unanswered marks a question with no choice above the ink minimum.
const Unanswered = -1

var (
	// ErrOutOfBoundsBubble describes a bubble whose scan disk leaves the
	// frame. Such bubbles are skipped, never selected, and reported as
	// warnings rather than failures.
	ErrOutOfBoundsBubble = errors.New("bubble outside frame")

	// ErrMalformedGrid is returned when the grid or frame is structurally
	// unusable.
	ErrMalformedGrid = errors.New("malformed bubble grid")
)

// AnswerVector holds one choice index per question, or Unanswered.
type AnswerVector []int

// Digits renders the vector as a digit string, one character per question,
// with "?" for unanswered questions and choices above 9.
func (a AnswerVector) Digits() string {
	var sb strings.Builder
	for _, v := range a {
		if v < 0 || v > 9 {
			sb.WriteByte('?')
			continue
		}
		sb.WriteString(strconv.Itoa(v))
	}
	return sb.String()
}

// Bubble identifies one choice of one question.
type Bubble struct {
	Question int         `json:"question"`
	Choice   int         `json:"choice"`
	At       image.Point `json:"at"`
}

// Decision is the outcome of reading one grid from one frame.
type Decision struct {
	// Answers has one entry per question in grid order.
	Answers AnswerVector `json:"answers"`

	// Counts holds the ink count of every bubble, -1 for skipped bubbles.
	Counts [][]int `json:"counts"`

	// Threshold is the global Otsu level, or -1 under PolicyAdaptive.
	Threshold int `json:"threshold"`

	// Skipped lists bubbles whose scan disk left the frame.
	Skipped []Bubble `json:"skipped,omitempty"`
}

// Warnings returns one ErrOutOfBoundsBubble per skipped bubble.
func (d *Decision) Warnings() []error {
	if len(d.Skipped) == 0 {
		return nil
	}
	warnings := make([]error, len(d.Skipped))
	for i, b := range d.Skipped {
		warnings[i] = fmt.Errorf("question %d choice %d at (%d,%d): %w", b.Question, b.Choice, b.At.X, b.At.Y, ErrOutOfBoundsBubble)
	}
	return warnings
}

// InkMap is a binarized canonical frame: 255 where a pixel counts as ink.
//
// One InkMap can be decided against several grids (answers and student ID)
// without binarizing twice. It is read-only and safe for concurrent use.
type InkMap struct {
	ink       *image.Gray
	threshold int
}

// Image returns the binary image. Callers must not modify it.
func (m *InkMap) Image() *image.Gray {
	return m.ink
}

// Threshold returns the global level used, or -1 for adaptive maps.
func (m *InkMap) Threshold() int {
	return m.threshold
}

// Engine decides which bubbles are marked.
//
// An Engine holds only immutable configuration and is safe for concurrent use.
type Engine struct {
	cfg Config
}

// NewEngine validates cfg and returns an Engine.
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid decision config: %w", err)
	}
	return &Engine{cfg: cfg}, nil
}

// Config returns the engine's configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Binarize converts a canonical frame into an InkMap using the configured
// policy.
func (e *Engine) Binarize(frame image.Image) *InkMap {
	gray := omrimg.ToGray(frame, e.cfg.Gray)
	if e.cfg.Policy == PolicyAdaptive {
		return &InkMap{
			ink:       omrimg.AdaptiveThresholdInverse(gray, e.cfg.AdaptiveRadius, e.cfg.AdaptiveC, e.cfg.AdaptiveMean),
			threshold: -1,
		}
	}
	level := omrimg.OtsuThreshold(gray)
	return &InkMap{
		ink:       omrimg.ThresholdInverse(gray, level),
		threshold: int(level),
	}
}

// Decide binarizes frame and reads grid from it.
func (e *Engine) Decide(frame image.Image, grid *template.BubbleGrid) (*Decision, error) {
	if frame == nil || frame.Bounds().Empty() {
		return nil, fmt.Errorf("empty frame: %w", ErrMalformedGrid)
	}
	return e.DecideInk(e.Binarize(frame), grid)
}

// DecideInk reads grid from an existing InkMap.
//
// # Algorithm
//
// For every bubble the ink pixels inside the disk dx*dx+dy*dy <= r*r around
// its centre are counted. A bubble whose centre lies within r of any frame
// edge is skipped. Per question, the choice with the strictly greatest count
// wins, so among equal counts the lowest index is kept. A winning count below
// MinInk yields Unanswered, as does a tie under TieUnanswered.
//
// Bubble coordinates are relative to the frame's top-left corner. The result
// depends only on the map and the grid.
//
// Returns ErrMalformedGrid (wrapped) for a nil grid or map.
func (e *Engine) DecideInk(ink *InkMap, grid *template.BubbleGrid) (*Decision, error) {
	if ink == nil || ink.ink == nil {
		return nil, fmt.Errorf("nil ink map: %w", ErrMalformedGrid)
	}
	if grid == nil || grid.NumQuestions() == 0 {
		return nil, fmt.Errorf("grid has no questions: %w", ErrMalformedGrid)
	}

	r := e.cfg.ScanRadius
	w, h := ink.ink.Bounds().Dx(), ink.ink.Bounds().Dy()

	d := &Decision{
		Answers:   make(AnswerVector, grid.NumQuestions()),
		Counts:    make([][]int, grid.NumQuestions()),
		Threshold: ink.threshold,
	}

	for q := 0; q < grid.NumQuestions(); q++ {
		choices := grid.Question(q)
		if len(choices) == 0 {
			return nil, fmt.Errorf("question %d has no choices: %w", q, ErrMalformedGrid)
		}

		counts := make([]int, len(choices))
		best, bestCount := Unanswered, -1
		for c, p := range choices {
			if p.X < r || p.X >= w-r || p.Y < r || p.Y >= h-r {
				counts[c] = -1
				d.Skipped = append(d.Skipped, Bubble{Question: q, Choice: c, At: p})
				continue
			}
			counts[c] = diskCount(ink.ink, p.X, p.Y, r)
			if counts[c] > bestCount {
				best, bestCount = c, counts[c]
			}
		}

		switch {
		case best == Unanswered, bestCount < e.cfg.MinInk:
			best = Unanswered
		case e.cfg.Tie == TieUnanswered && tied(counts, best):
			best = Unanswered
		}

		d.Answers[q] = best
		d.Counts[q] = counts
	}

	return d, nil
}

// tied reports whether any choice other than best has best's count.
func tied(counts []int, best int) bool {
	for c, n := range counts {
		if c != best && n == counts[best] {
			return true
		}
	}
	return false
}

// diskCount counts non-zero pixels within radius r of (cx, cy). The disk must
// lie fully inside the image, which has its origin at (0,0).
func diskCount(img *image.Gray, cx, cy, r int) int {
	r2 := r * r
	count := 0
	for dy := -r; dy <= r; dy++ {
		row := img.Pix[(cy+dy)*img.Stride:]
		for dx := -r; dx <= r; dx++ {
			if dx*dx+dy*dy > r2 {
				continue
			}
			if row[cx+dx] != 0 {
				count++
			}
		}
	}
	return count
}
