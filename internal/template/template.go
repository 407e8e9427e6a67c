package template

import (
	"encoding/json"
	"fmt"
	"image"
	"io"
	"os"
	"sort"
)

const (
	// LayoutRows treats each interpolated row as one question (answer blocks).
	LayoutRows = "rows"

	// LayoutColumns treats each interpolated column as one question. Student
	// ID blocks use it: one column per digit, one row per value 0-9.
	LayoutColumns = "columns"

	defaultQuestionsPerBlock = 20
	defaultChoices           = 4
	defaultDigitValues       = 10
)

// Template is the on-disk description of a sheet layout.
//
// Exactly one of AnchorBlocks, BubbleAnchors or Grid describes the answer
// bubbles. BubbleAnchors is the flat [[x,y],[x,y],...] list written by older
// template tools, where consecutive points pair up into blocks of
// QuestionsPerBlock x ChoicesPerQuestion bubbles.
//
// Example:
//
//	{
//	  "name": "midterm-80",
//	  "frame": {"width": 1000, "height": 1400},
//	  "anchor_blocks": [
//	    {"start": [112, 420], "end": [262, 1280], "questions": 20, "choices": 4},
//	    {"start": [342, 420], "end": [492, 1280], "questions": 20, "choices": 4}
//	  ],
//	  "student_id": {"start": [640, 180], "end": [880, 520], "questions": 6, "choices": 10, "layout": "columns"},
//	  "ocr_regions": {"info_block": [40, 20, 900, 120]}
//	}
type Template struct {
	Name  string     `json:"name,omitempty"`
	Frame *FrameSize `json:"frame,omitempty"`

	AnchorBlocks []AnchorBlock `json:"anchor_blocks,omitempty"`

	BubbleAnchors      [][2]int `json:"bubble_anchors,omitempty"`
	QuestionsPerBlock  int      `json:"questions_per_block,omitempty"`
	ChoicesPerQuestion int      `json:"choices_per_question,omitempty"`

	Grid [][][2]int `json:"grid,omitempty"`

	StudentID *AnchorBlock `json:"student_id,omitempty"`

	// OCRRegions maps a field name to [x, y, width, height] on the outside
	// image.
	OCRRegions map[string][4]int `json:"ocr_regions,omitempty"`
}

// FrameSize is the canonical frame a template's coordinates refer to.
type FrameSize struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// AnchorBlock is one rectangular block of bubbles described by its first and
// last bubble centres.
type AnchorBlock struct {
	Start     [2]int `json:"start"`
	End       [2]int `json:"end"`
	Questions int    `json:"questions"`
	Choices   int    `json:"choices"`
	Layout    string `json:"layout,omitempty"`
}

// Pair returns the block's anchors as an AnchorPair.
func (b AnchorBlock) Pair() AnchorPair {
	return AnchorPair{
		Start: image.Point{X: b.Start[0], Y: b.Start[1]},
		End:   image.Point{X: b.End[0], Y: b.End[1]},
	}
}

// expand interpolates the block and applies its layout.
func (b AnchorBlock) expand() ([][]image.Point, error) {
	switch b.Layout {
	case "", LayoutRows:
		return Interpolate(b.Pair(), b.Questions, b.Choices)
	case LayoutColumns:
		// Columns run left to right, so interpolate choices as rows
		rows, err := Interpolate(b.Pair(), b.Choices, b.Questions)
		if err != nil {
			return nil, err
		}
		return transpose(rows), nil
	default:
		return nil, fmt.Errorf("unknown layout %q: %w", b.Layout, ErrInvalidTemplate)
	}
}

// Layout is a validated, expanded template ready for grading.
//
// Layouts are immutable and safe to share across goroutines.
type Layout struct {
	// Name is the template name, if any.
	Name string

	// Frame is the canonical frame size the template declares. Zero when the
	// template does not declare one.
	Frame image.Point

	// Answers holds the answer bubbles, one question per row.
	Answers *BubbleGrid

	// StudentID holds one question per ID digit with choices 0..9, or nil.
	StudentID *BubbleGrid

	ocrRegions map[string]image.Rectangle
}

// OCRRegion returns the named region on the outside image.
func (l *Layout) OCRRegion(name string) (image.Rectangle, bool) {
	r, ok := l.ocrRegions[name]
	return r, ok
}

// OCRRegions returns a copy of all named regions.
func (l *Layout) OCRRegions() map[string]image.Rectangle {
	out := make(map[string]image.Rectangle, len(l.ocrRegions))
	for name, r := range l.ocrRegions {
		out[name] = r
	}
	return out
}

// OCRRegionNames returns the region names in sorted order.
func (l *Layout) OCRRegionNames() []string {
	names := make([]string, 0, len(l.ocrRegions))
	for name := range l.ocrRegions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build validates the template and expands it into a Layout.
//
// Returns ErrInvalidTemplate (wrapped) when no answer variant or more than
// one is given, a block has a non-positive size, BubbleAnchors has an odd
// number of points, or an OCR region has a non-positive size.
func (t *Template) Build() (*Layout, error) {
	variants := 0
	for _, present := range []bool{len(t.AnchorBlocks) > 0, len(t.BubbleAnchors) > 0, len(t.Grid) > 0} {
		if present {
			variants++
		}
	}
	if variants != 1 {
		return nil, fmt.Errorf("template must define exactly one of anchor_blocks, bubble_anchors or grid, found %d: %w", variants, ErrInvalidTemplate)
	}

	layout := &Layout{
		Name:       t.Name,
		ocrRegions: make(map[string]image.Rectangle, len(t.OCRRegions)),
	}

	if t.Frame != nil {
		if t.Frame.Width < 1 || t.Frame.Height < 1 {
			return nil, fmt.Errorf("frame size %dx%d: %w", t.Frame.Width, t.Frame.Height, ErrInvalidTemplate)
		}
		layout.Frame = image.Point{X: t.Frame.Width, Y: t.Frame.Height}
	}

	var err error
	switch {
	case len(t.AnchorBlocks) > 0:
		layout.Answers, err = GridFromAnchors(t.AnchorBlocks)
	case len(t.BubbleAnchors)%2 != 0:
		err = fmt.Errorf("bubble_anchors needs pairs of points, got %d points: %w", len(t.BubbleAnchors), ErrInvalidTemplate)
	case len(t.BubbleAnchors) > 0:
		layout.Answers, err = GridFromAnchors(t.legacyBlocks())
	default:
		rows := make([][]image.Point, len(t.Grid))
		for q, row := range t.Grid {
			rows[q] = make([]image.Point, len(row))
			for c, p := range row {
				rows[q][c] = image.Point{X: p[0], Y: p[1]}
			}
		}
		layout.Answers, err = NewBubbleGrid(rows)
	}
	if err != nil {
		return nil, fmt.Errorf("answer bubbles: %w", err)
	}

	if t.StudentID != nil {
		block := *t.StudentID
		if block.Layout == "" {
			block.Layout = LayoutColumns
		}
		if block.Choices == 0 {
			block.Choices = defaultDigitValues
		}
		layout.StudentID, err = GridFromAnchors([]AnchorBlock{block})
		if err != nil {
			return nil, fmt.Errorf("student id: %w", err)
		}
	}

	for name, r := range t.OCRRegions {
		if r[2] < 1 || r[3] < 1 {
			return nil, fmt.Errorf("ocr region %q has size %dx%d: %w", name, r[2], r[3], ErrInvalidTemplate)
		}
		layout.ocrRegions[name] = image.Rect(r[0], r[1], r[0]+r[2], r[1]+r[3])
	}

	return layout, nil
}

// legacyBlocks pairs up BubbleAnchors into anchor blocks.
func (t *Template) legacyBlocks() []AnchorBlock {
	questions := t.QuestionsPerBlock
	if questions == 0 {
		questions = defaultQuestionsPerBlock
	}
	choices := t.ChoicesPerQuestion
	if choices == 0 {
		choices = defaultChoices
	}

	blocks := make([]AnchorBlock, 0, len(t.BubbleAnchors)/2)
	for i := 0; i+1 < len(t.BubbleAnchors); i += 2 {
		blocks = append(blocks, AnchorBlock{
			Start:     t.BubbleAnchors[i],
			End:       t.BubbleAnchors[i+1],
			Questions: questions,
			Choices:   choices,
		})
	}
	return blocks
}

// Parse decodes a JSON template and builds its layout.
func Parse(r io.Reader) (*Layout, error) {
	var t Template
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&t); err != nil {
		return nil, fmt.Errorf("failed to decode template: %v: %w", err, ErrInvalidTemplate)
	}
	return t.Build()
}

// LoadFile reads and builds the template at path.
func LoadFile(path string) (*Layout, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open template: %w", err)
	}
	defer f.Close()

	layout, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return layout, nil
}
