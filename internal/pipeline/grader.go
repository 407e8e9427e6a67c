package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"

	"github.com/ironsheep/omr-grader/internal/detection"
	"github.com/ironsheep/omr-grader/internal/ocr"
	"github.com/ironsheep/omr-grader/internal/omr"
	"github.com/ironsheep/omr-grader/internal/rectify"
	"github.com/ironsheep/omr-grader/internal/scoring"
	"github.com/ironsheep/omr-grader/internal/template"
)

// ErrSheetTimeout is recorded for a sheet that exceeded its time budget.
var ErrSheetTimeout = errors.New("sheet timed out")

// TextReader reads named regions of an image. *ocr.Reader implements it.
type TextReader interface {
	ReadFields(img image.Image, regions map[string]image.Rectangle) (map[string]ocr.Field, error)
}

// SheetResult is everything learned about one graded sheet.
type SheetResult struct {
	// Frame is the rectified sheet; Outside is the raw image with the sheet
	// blacked out.
	Frame   *image.NRGBA `json:"-"`
	Outside *image.NRGBA `json:"-"`

	Location *detection.Location `json:"location"`

	// Corners are ordered top-left, top-right, bottom-right, bottom-left.
	Corners detection.Quad `json:"corners"`

	Decision *omr.Decision `json:"decision"`

	// StudentID is the decided ID with "?" per unreadable digit. Empty when
	// the template has no student ID block.
	StudentID string `json:"student_id,omitempty"`

	// Report is nil when no answer key was supplied.
	Report *scoring.ScoreReport `json:"report,omitempty"`

	Fields map[string]ocr.Field `json:"fields,omitempty"`

	// Warnings collects non-fatal anomalies: skipped bubbles, an empty key,
	// unreadable text regions.
	Warnings []string `json:"warnings,omitempty"`
}

// Grader runs the locate, rectify, decide and score stages for one sheet
// at a time.
//
// A Grader is immutable after construction and safe for concurrent use.
type Grader struct {
	cfg       Config
	locator   *detection.Locator
	rectifier *rectify.Rectifier
	engine    *omr.Engine
	text      TextReader
	logger    *slog.Logger
}

// Option customizes a Grader.
type Option func(*Grader)

// WithTextReader enables reading the template's OCR regions.
func WithTextReader(r TextReader) Option {
	return func(g *Grader) {
		g.text = r
	}
}

// WithLogger sets the logger used for per-sheet events. The default is
// slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(g *Grader) {
		g.logger = l
	}
}

// NewGrader validates cfg and builds every stage.
func NewGrader(cfg Config, opts ...Option) (*Grader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline config: %w", err)
	}

	locator, err := detection.NewLocator(cfg.Locate)
	if err != nil {
		return nil, err
	}
	rectifier, err := rectify.NewRectifier(cfg.Rectify)
	if err != nil {
		return nil, err
	}
	engine, err := omr.NewEngine(cfg.Decide)
	if err != nil {
		return nil, err
	}

	g := &Grader{
		cfg:       cfg,
		locator:   locator,
		rectifier: rectifier,
		engine:    engine,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Config returns the grader's configuration.
func (g *Grader) Config() Config {
	return g.cfg
}

// GradeSheet grades one raw sheet image against layout and key.
//
// Geometry failures (detection.ErrDocumentNotFound,
// rectify.ErrRectificationFailed) and a layout whose declared frame differs
// from the configured one (template.ErrInvalidTemplate) abort the sheet and
// are returned wrapped. Decision and scoring anomalies are recorded as
// warnings on the result instead.
//
// A nil key skips scoring. The context is checked between stages and inside
// the edge, contour and warp loops; a cancelled or expired context aborts
// with its error wrapped.
func (g *Grader) GradeSheet(ctx context.Context, img image.Image, layout *template.Layout, key scoring.AnswerKey) (*SheetResult, error) {
	if layout == nil || layout.Answers == nil {
		return nil, fmt.Errorf("no answer grid: %w", template.ErrInvalidTemplate)
	}
	frame := image.Pt(g.cfg.Rectify.FrameWidth, g.cfg.Rectify.FrameHeight)
	if layout.Frame != (image.Point{}) && layout.Frame != frame {
		return nil, fmt.Errorf("template frame %dx%d does not match configured %dx%d: %w",
			layout.Frame.X, layout.Frame.Y, frame.X, frame.Y, template.ErrInvalidTemplate)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	loc, err := g.locator.Locate(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("failed to locate sheet: %w", err)
	}

	rect, err := g.rectifier.Rectify(ctx, img, loc.Quad)
	if err != nil {
		return nil, fmt.Errorf("failed to rectify sheet: %w", err)
	}

	res := &SheetResult{
		Frame:    rect.Frame,
		Outside:  rect.Outside,
		Location: loc,
		Corners:  rect.Corners,
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ink := g.engine.Binarize(rect.Frame)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res.Decision, err = g.engine.DecideInk(ink, layout.Answers)
	if err != nil {
		return nil, fmt.Errorf("failed to decide answers: %w", err)
	}
	for _, w := range res.Decision.Warnings() {
		res.Warnings = append(res.Warnings, w.Error())
	}

	if layout.StudentID != nil {
		id, err := g.engine.DecideInk(ink, layout.StudentID)
		if err != nil {
			return nil, fmt.Errorf("failed to decide student id: %w", err)
		}
		res.StudentID = id.Answers.Digits()
		for _, w := range id.Warnings() {
			res.Warnings = append(res.Warnings, "student id: "+w.Error())
		}
	}

	if key != nil {
		res.Report, err = scoring.Grade(res.Decision.Answers, key)
		if err != nil {
			res.Warnings = append(res.Warnings, err.Error())
		}
	}

	if g.text != nil && len(layout.OCRRegionNames()) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res.Fields, err = g.text.ReadFields(rect.Outside, layout.OCRRegions())
		if err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("text regions: %v", err))
		}
	}

	return res, nil
}
