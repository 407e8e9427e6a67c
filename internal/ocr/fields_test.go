package ocr

import (
	"image"
	"image/color"
	"image/draw"
	"strings"
	"testing"
)

func TestCleanField(t *testing.T) {
	tests := []struct {
		name  string
		field string
		raw   string
		want  string
	}{
		{"id digits", "student_id", " 12-34 5\n", "12345"},
		{"sbd upper", "SBD", "S8D: 0042", "80042"},
		{"code", "exam_code", "code 101", "101"},
		{"name title", "full_name", "nguyen VAN a.", "Nguyen Van A"},
		{"ten", "ho_ten", "  trần   thị  b ", "Trần Thị B"},
		{"name keeps digits", "name", "class 12a", "Class 12A"},
		{"default collapses", "notes", "  late\n\tsubmission  ", "late submission"},
		{"empty", "student_id", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CleanField(tt.field, tt.raw); got != tt.want {
				t.Errorf("CleanField(%q, %q) = %q, want %q", tt.field, tt.raw, got, tt.want)
			}
		})
	}
}

func TestToSource(t *testing.T) {
	got := toSource(image.Rect(20, 10, 60, 30), image.Pt(100, 50), 2)
	want := Bounds{X1: 110, Y1: 55, X2: 130, Y2: 65}
	if got != want {
		t.Errorf("toSource: got %+v, want %+v", got, want)
	}
}

func TestPrepare(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 100, 60))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.RGBA{200, 200, 200, 255}), image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(20, 20, 40, 30), image.NewUniform(color.RGBA{30, 30, 30, 255}), image.Point{}, draw.Src)

	out, err := prepare(img, image.Rect(10, 10, 60, 40), 2)
	if err != nil {
		t.Fatalf("prepare failed: %v", err)
	}
	if out.Bounds().Dx() != 100 || out.Bounds().Dy() != 60 {
		t.Fatalf("size: got %v, want 100x60", out.Bounds())
	}

	// Paper becomes white, ink becomes black
	if r, _, _, _ := out.At(2, 2).RGBA(); r>>8 != 255 {
		t.Errorf("background: got %d, want 255", r>>8)
	}
	if r, _, _, _ := out.At(40, 30).RGBA(); r>>8 != 0 {
		t.Errorf("ink: got %d, want 0", r>>8)
	}
}

func TestReadField_EmptyRegion(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 50, 50))
	field, err := NewReader(DefaultConfig()).ReadField(img, "student_name", image.Rect(100, 100, 200, 150))
	if err != nil {
		t.Fatalf("ReadField failed: %v", err)
	}
	if field.Name != "student_name" || field.Text != "" {
		t.Errorf("got %+v, want empty field", field)
	}
}

func TestReadField_RenderedDigits(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 400, 120))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)
	drawBlockDigits(img, 40, 30, "1010")

	field, err := NewReader(DefaultConfig()).ReadField(img, "student_id", img.Bounds())
	if err != nil {
		if strings.Contains(err.Error(), "tesseract") ||
			strings.Contains(err.Error(), "language") {
			t.Skip("Tesseract not available")
		}
		t.Fatalf("ReadField failed: %v", err)
	}
	for _, r := range field.Text {
		if r < '0' || r > '9' {
			t.Errorf("cleaned id contains non-digit %q", r)
		}
	}
}

// drawBlockDigits draws 1 as a vertical bar and 0 as a hollow box.
func drawBlockDigits(img *image.RGBA, x, y int, digits string) {
	black := image.NewUniform(color.Black)
	for _, d := range digits {
		switch d {
		case '1':
			draw.Draw(img, image.Rect(x+12, y, x+20, y+60), black, image.Point{}, draw.Src)
		case '0':
			draw.Draw(img, image.Rect(x, y, x+32, y+60), black, image.Point{}, draw.Src)
			draw.Draw(img, image.Rect(x+8, y+8, x+24, y+52), image.White, image.Point{}, draw.Src)
		}
		x += 48
	}
}
