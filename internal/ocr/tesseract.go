package ocr

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"sort"

	"github.com/anthonynsimon/bild/effect"
	"github.com/otiai10/gosseract/v2"

	omrimg "github.com/ironsheep/omr-grader/internal/imaging"
)

// Bounds represents a rectangular bounding box in pixel coordinates.
type Bounds struct {
	X1 int `json:"x1"` // Left edge
	Y1 int `json:"y1"` // Top edge
	X2 int `json:"x2"` // Right edge
	Y2 int `json:"y2"` // Bottom edge
}

// Word is one recognized word with its location and OCR confidence.
type Word struct {
	// Text is the recognized word.
	Text string `json:"text"`

	// Confidence is the OCR confidence score (0.0 to 1.0).
	Confidence float64 `json:"confidence"`

	// Bounds is the word's bounding box in the coordinates of the image
	// passed to ReadField.
	Bounds Bounds `json:"bounds"`
}

// Field is the text read from one named region.
type Field struct {
	// Name is the region name from the template.
	Name string `json:"name"`

	// Raw is the text exactly as Tesseract returned it.
	Raw string `json:"raw"`

	// Text is Raw after CleanField.
	Text string `json:"text"`

	// Words holds word-level results. May be empty if bounding box
	// extraction fails; Raw still carries the text.
	Words []Word `json:"words"`
}

// Config controls text recognition.
type Config struct {
	// Language is the Tesseract language code, e.g. "eng" or "vie". The
	// language data must be installed. Default "eng".
	Language string

	// TessdataPrefix overrides the directory Tesseract loads language data
	// from. Empty uses the system default.
	TessdataPrefix string

	// Scale upsamples each region before recognition. Handwriting on a
	// phone photo is often under 20px tall. Default 2.
	Scale float64
}

// DefaultConfig returns English recognition with 2x upsampling.
func DefaultConfig() Config {
	return Config{
		Language: "eng",
		Scale:    2,
	}
}

// Reader recognizes text inside named regions of an image.
//
// A Reader holds only configuration; each call creates its own Tesseract
// client, so a Reader is safe for concurrent use.
type Reader struct {
	cfg Config
}

// NewReader creates a Reader. An empty Language defaults to "eng".
func NewReader(cfg Config) *Reader {
	if cfg.Language == "" {
		cfg.Language = "eng"
	}
	return &Reader{cfg: cfg}
}

// ReadFields reads every region and returns the fields keyed by name.
//
// Regions are processed in sorted name order. The first failure aborts and
// is returned together with the fields read so far.
func (r *Reader) ReadFields(img image.Image, regions map[string]image.Rectangle) (map[string]Field, error) {
	names := make([]string, 0, len(regions))
	for name := range regions {
		names = append(names, name)
	}
	sort.Strings(names)

	fields := make(map[string]Field, len(regions))
	for _, name := range names {
		field, err := r.ReadField(img, name, regions[name])
		if err != nil {
			return fields, err
		}
		fields[name] = field
	}
	return fields, nil
}

// ReadField performs OCR on one rectangular region of an image.
//
// Parameters:
//   - img: The source image, usually the outside region from rectification.
//   - name: The field name. It selects the cleanup applied by CleanField.
//   - region: The region to read, in img's coordinate space.
//
// # Implementation Details
//
// This function:
//  1. Crops the region and upsamples it by Config.Scale
//  2. Binarizes it with an Otsu threshold to black text on white
//  3. Passes the PNG-encoded crop to Tesseract
//  4. Maps word bounding boxes back to img coordinates
//
// An empty region (outside the image) yields an empty field, not an error.
func (r *Reader) ReadField(img image.Image, name string, region image.Rectangle) (Field, error) {
	field := Field{Name: name, Words: []Word{}}

	clipped := region.Canon().Intersect(img.Bounds())
	if clipped.Empty() {
		return field, nil
	}

	scale := r.cfg.Scale
	if scale <= 0 {
		scale = 1
	}
	prepared, err := prepare(img, clipped, scale)
	if err != nil {
		return field, fmt.Errorf("failed to prepare region %q: %w", name, err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, prepared); err != nil {
		return field, fmt.Errorf("failed to encode region %q: %w", name, err)
	}

	client := gosseract.NewClient()
	defer client.Close()

	if r.cfg.TessdataPrefix != "" {
		if err := client.SetTessdataPrefix(r.cfg.TessdataPrefix); err != nil {
			return field, fmt.Errorf("failed to set tessdata path: %w", err)
		}
	}
	if err := client.SetLanguage(r.cfg.Language); err != nil {
		return field, fmt.Errorf("failed to set language: %w", err)
	}
	if err := client.SetPageSegMode(gosseract.PSM_SINGLE_BLOCK); err != nil {
		return field, fmt.Errorf("failed to set page segmentation mode: %w", err)
	}
	if err := client.SetImageFromBytes(buf.Bytes()); err != nil {
		return field, fmt.Errorf("failed to set image: %w", err)
	}

	text, err := client.Text()
	if err != nil {
		return field, fmt.Errorf("OCR failed for region %q: %w", name, err)
	}
	field.Raw = text
	field.Text = CleanField(name, text)

	// Word boxes are best effort
	boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return field, nil
	}
	for _, box := range boxes {
		if box.Word == "" {
			continue
		}
		field.Words = append(field.Words, Word{
			Text:       box.Word,
			Confidence: box.Confidence / 100.0,
			Bounds:     toSource(box.Box, clipped.Min, scale),
		})
	}
	return field, nil
}

// prepare crops, upsamples and binarizes a region to black text on white.
func prepare(img image.Image, region image.Rectangle, scale float64) (image.Image, error) {
	crop, err := omrimg.CropRegion(img, region, scale)
	if err != nil {
		return nil, err
	}
	gray := omrimg.ToGray(crop, omrimg.GrayLuma)
	ink := omrimg.ThresholdInverse(gray, omrimg.OtsuThreshold(gray))
	return effect.Invert(ink), nil
}

// toSource maps a box in the scaled crop back to source image coordinates.
func toSource(box image.Rectangle, origin image.Point, scale float64) Bounds {
	return Bounds{
		X1: origin.X + int(float64(box.Min.X)/scale),
		Y1: origin.Y + int(float64(box.Min.Y)/scale),
		X2: origin.X + int(float64(box.Max.X)/scale),
		Y2: origin.Y + int(float64(box.Max.Y)/scale),
	}
}

// Info contains information about the OCR subsystem.
type Info struct {
	Available bool   `json:"available"`
	Version   string `json:"version,omitempty"`
	Language  string `json:"language"`
	Backend   string `json:"backend"`
}

// Info reports the linked Tesseract version.
func (r *Reader) Info() Info {
	client := gosseract.NewClient()
	defer client.Close()

	version := client.Version()
	return Info{
		Available: version != "",
		Version:   version,
		Language:  r.cfg.Language,
		Backend:   "gosseract",
	}
}
