package imaging

import (
	"image"
	"image/color"
	"testing"
)

func TestToGray_Luma(t *testing.T) {
	tests := []struct {
		name string
		c    color.Color
		want uint8
	}{
		{"white", color.White, 255},
		{"black", color.Black, 0},
		{"red", color.RGBA{255, 0, 0, 255}, 76},
		{"green", color.RGBA{0, 255, 0, 255}, 149},
		{"blue", color.RGBA{0, 0, 255, 255}, 29},
		{"transparent", color.RGBA{0, 0, 0, 0}, 255},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gray := ToGray(createTestImage(4, 4, tt.c), GrayLuma)
			if got := gray.GrayAt(1, 1).Y; got != tt.want {
				t.Errorf("intensity: got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestToGray_Lightness(t *testing.T) {
	white := ToGray(createTestImage(2, 2, color.White), GrayLightness)
	black := ToGray(createTestImage(2, 2, color.Black), GrayLightness)
	blue := ToGray(createTestImage(2, 2, color.RGBA{0, 0, 255, 255}), GrayLightness)

	if got := white.GrayAt(0, 0).Y; got != 255 {
		t.Errorf("white: got %d, want 255", got)
	}
	if got := black.GrayAt(0, 0).Y; got != 0 {
		t.Errorf("black: got %d, want 0", got)
	}

	// Saturated blue has L* around 32, well above its BT.601 luma of 29
	if got := blue.GrayAt(0, 0).Y; got < 60 || got > 100 {
		t.Errorf("blue: got %d, want roughly 82", got)
	}
}

func TestToGray_OriginAndFastPath(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 20, 20))
	for i := range src.Pix {
		src.Pix[i] = uint8(i % 251)
	}
	sub := src.SubImage(image.Rect(5, 7, 15, 12)).(*image.Gray)

	gray := ToGray(sub, GrayLuma)
	if gray.Bounds() != image.Rect(0, 0, 10, 5) {
		t.Fatalf("bounds: got %v, want (0,0)-(10,5)", gray.Bounds())
	}
	for y := 0; y < 5; y++ {
		for x := 0; x < 10; x++ {
			if gray.GrayAt(x, y).Y != src.GrayAt(x+5, y+7).Y {
				t.Fatalf("pixel (%d,%d) not copied from source", x, y)
			}
		}
	}

	gray.Pix[0] = 0
	if got := src.GrayAt(5, 7).Y; got != 145 {
		t.Errorf("ToGray must not share pixel storage with its input, source now %d", got)
	}
}

func TestParseGrayMode(t *testing.T) {
	tests := []struct {
		in      string
		want    GrayMode
		wantErr bool
	}{
		{"", GrayLuma, false},
		{"luma", GrayLuma, false},
		{"lightness", GrayLightness, false},
		{"lab", GrayLightness, false},
		{"hsv", GrayLuma, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseGrayMode(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err: got %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("mode: got %v, want %v", got, tt.want)
			}
		})
	}

	if GrayLightness.String() != "lightness" {
		t.Errorf("String: got %s", GrayLightness.String())
	}
}
