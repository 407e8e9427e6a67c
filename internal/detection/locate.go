package detection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"

	"github.com/disintegration/imaging"

	omrimg "github.com/ironsheep/omr-grader/internal/imaging"
)

// ErrDocumentNotFound is returned when no external contour simplifies to a
// quadrilateral.
var ErrDocumentNotFound = errors.New("document contour not found")

// Quad is a four-vertex polygon in raw image coordinates.
//
// Vertex order is whatever the contour tracing produced; the rectifier
// establishes the canonical top-left, top-right, bottom-right, bottom-left
// order.
type Quad [4]image.Point

// MarshalJSON encodes the quad as [[x,y],[x,y],[x,y],[x,y]].
func (q Quad) MarshalJSON() ([]byte, error) {
	var pts [4][2]int
	for i, p := range q {
		pts[i] = [2]int{p.X, p.Y}
	}
	return json.Marshal(pts)
}

// UnmarshalJSON decodes the [[x,y],...] form written by MarshalJSON.
func (q *Quad) UnmarshalJSON(data []byte) error {
	var pts [4][2]int
	if err := json.Unmarshal(data, &pts); err != nil {
		return fmt.Errorf("quad must be four [x,y] pairs: %w", err)
	}
	for i, p := range pts {
		q[i] = image.Point{X: p[0], Y: p[1]}
	}
	return nil
}

// Points returns the vertices as a slice.
func (q Quad) Points() []image.Point {
	return []image.Point{q[0], q[1], q[2], q[3]}
}

// Config controls document location.
type Config struct {
	// ProcessingHeight is the height the image is resized to before edge
	// detection. The width follows the aspect ratio. Typical: 800.
	ProcessingHeight int

	// Edge configures the blur and hysteresis thresholds of the edge detector.
	Edge omrimg.EdgeOptions

	// ApproxEpsilon is the polygon approximation tolerance as a fraction of
	// the contour perimeter. Typical: 0.02.
	ApproxEpsilon float64

	// MinContourPixels discards edge components smaller than this.
	MinContourPixels int

	// Gray selects the grayscale conversion applied before edge detection.
	Gray omrimg.GrayMode
}

// DefaultConfig returns the settings tuned for a white answer sheet
// photographed on a darker surface.
func DefaultConfig() Config {
	return Config{
		ProcessingHeight: 800,
		Edge:             omrimg.DefaultEdgeOptions(),
		ApproxEpsilon:    0.02,
		MinContourPixels: 10,
		Gray:             omrimg.GrayLuma,
	}
}

// Validate reports whether the configuration is usable.
func (c Config) Validate() error {
	if c.ProcessingHeight < 1 {
		return fmt.Errorf("processing height must be positive, got %d", c.ProcessingHeight)
	}
	if c.ApproxEpsilon <= 0 || c.ApproxEpsilon >= 1 {
		return fmt.Errorf("approximation epsilon must be in (0,1), got %g", c.ApproxEpsilon)
	}
	if c.MinContourPixels < 0 {
		return fmt.Errorf("minimum contour pixels must not be negative, got %d", c.MinContourPixels)
	}
	if err := c.Edge.Validate(); err != nil {
		return fmt.Errorf("edge options: %w", err)
	}
	return nil
}

// Location is the outcome of a successful document search.
type Location struct {
	// Quad is the document boundary in raw image coordinates.
	Quad Quad `json:"quad"`

	// Area is the enclosed contour area in processing-resolution pixels.
	Area float64 `json:"area"`

	// Candidates is the number of external contours examined.
	Candidates int `json:"candidates"`

	// Rank is the 0-based position of the accepted contour in the
	// area-sorted candidate list.
	Rank int `json:"rank"`

	// ProcessingWidth and ProcessingHeight give the resolution edge detection
	// ran at.
	ProcessingWidth  int `json:"processing_width"`
	ProcessingHeight int `json:"processing_height"`
}

// Locator finds the answer sheet boundary in a raw image.
//
// A Locator holds only immutable configuration and is safe for concurrent use.
type Locator struct {
	cfg Config
}

// NewLocator validates cfg and returns a Locator.
func NewLocator(cfg Config) (*Locator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid locator config: %w", err)
	}
	return &Locator{cfg: cfg}, nil
}

// Config returns the locator's configuration.
func (l *Locator) Config() Config {
	return l.cfg
}

// Locate finds the largest external contour that simplifies to a
// quadrilateral and returns it in raw image coordinates.
//
// # Algorithm
//
//  1. Resize to ProcessingHeight (width = int(ProcessingHeight*w/h))
//  2. Grayscale, Gaussian blur and Canny edge detection
//  3. External contours sorted by area, largest first
//  4. Douglas-Peucker approximation with epsilon = ApproxEpsilon * perimeter
//  5. The first 4-vertex approximation wins; its vertices are scaled back by
//     w/processingWidth and h/ProcessingHeight and truncated
//
// Returns ErrDocumentNotFound (wrapped) when no candidate qualifies. The same
// input always produces the same quad. Edge detection and contour tracing
// stop early with ctx.Err() once ctx is done.
func (l *Locator) Locate(ctx context.Context, img image.Image) (*Location, error) {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	if width == 0 || height == 0 {
		return nil, fmt.Errorf("empty image: %w", ErrDocumentNotFound)
	}

	ph := l.cfg.ProcessingHeight
	pw := int(float64(ph) * float64(width) / float64(height))
	if pw < 1 {
		return nil, fmt.Errorf("image %dx%d too narrow to process: %w", width, height, ErrDocumentNotFound)
	}

	var small image.Image = img
	if pw != width || ph != height {
		small = imaging.Resize(img, pw, ph, imaging.Linear)
	}

	edges, err := omrimg.CannyContext(ctx, omrimg.ToGray(small, l.cfg.Gray), l.cfg.Edge)
	if err != nil {
		return nil, err
	}
	contours, err := FindExternalContoursContext(ctx, edges, l.cfg.MinContourPixels)
	if err != nil {
		return nil, err
	}

	scaleX := float64(width) / float64(pw)
	scaleY := float64(height) / float64(ph)
	for rank, c := range contours {
		approx := ApproxPolygon(c.Points, l.cfg.ApproxEpsilon*c.Perimeter)
		if len(approx) != 4 {
			continue
		}

		var quad Quad
		for i, p := range approx {
			quad[i] = image.Point{
				X: bounds.Min.X + clampInt(int(float64(p.X)*scaleX), 0, width-1),
				Y: bounds.Min.Y + clampInt(int(float64(p.Y)*scaleY), 0, height-1),
			}
		}

		return &Location{
			Quad:             quad,
			Area:             c.Area,
			Candidates:       len(contours),
			Rank:             rank,
			ProcessingWidth:  pw,
			ProcessingHeight: ph,
		}, nil
	}

	return nil, fmt.Errorf("no quadrilateral among %d contours: %w", len(contours), ErrDocumentNotFound)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
