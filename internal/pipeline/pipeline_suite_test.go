package pipeline

import (
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ironsheep/omr-grader/internal/template"
)

func TestPipeline(t *testing.T) {
	// Disable logging during tests
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))

	RegisterFailHandler(Fail)
	RunSpecs(t, "Pipeline Suite")
}

// The test sheet is a 500x700 canonical frame pasted at (50,50) on a
// 600x800 dark desk.
const (
	sheetOffset = 50
	frameW      = 500
	frameH      = 700
)

const testTemplate = `{
  "name": "pipeline-test",
  "frame": {"width": 500, "height": 700},
  "anchor_blocks": [
    {"start": [100, 100], "end": [250, 670], "questions": 20, "choices": 4}
  ],
  "student_id": {"start": [350, 100], "end": [440, 370], "questions": 4}
}`

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Locate.ProcessingHeight = 400
	cfg.Rectify.FrameWidth = frameW
	cfg.Rectify.FrameHeight = frameH
	cfg.Workers = 2
	return cfg
}

func testLayout() *template.Layout {
	layout, err := template.Parse(strings.NewReader(testTemplate))
	Expect(err).NotTo(HaveOccurred())
	return layout
}

// sheetImage draws a filled sheet: answers[q] is the inked choice of
// question q, id the inked student ID digits.
func sheetImage(layout *template.Layout, answers []int, id string) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, frameW+2*sheetOffset, frameH+2*sheetOffset))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.RGBA{40, 40, 40, 255}), image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(sheetOffset, sheetOffset, sheetOffset+frameW, sheetOffset+frameH), image.White, image.Point{}, draw.Src)

	for q, c := range answers {
		if c < 0 {
			continue
		}
		p, ok := layout.Answers.Bubble(q, c)
		Expect(ok).To(BeTrue())
		fillDisk(img, p.X+sheetOffset, p.Y+sheetOffset, 14)
	}
	for d, r := range id {
		p, ok := layout.StudentID.Bubble(d, int(r-'0'))
		Expect(ok).To(BeTrue())
		fillDisk(img, p.X+sheetOffset, p.Y+sheetOffset, 14)
	}
	return img
}

func fillDisk(img *image.RGBA, cx, cy, r int) {
	for dy := -r; dy <= r; dy++ {
		for dx := -r; dx <= r; dx++ {
			if dx*dx+dy*dy <= r*r {
				img.Set(cx+dx, cy+dy, color.Black)
			}
		}
	}
}

// blankDesk has no sheet at all.
func blankDesk() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 300, 400))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.RGBA{40, 40, 40, 255}), image.Point{}, draw.Src)
	return img
}

func writePNG(path string, img image.Image) {
	f, err := os.Create(path)
	Expect(err).NotTo(HaveOccurred())
	defer f.Close()
	Expect(png.Encode(f, img)).To(Succeed())
}
