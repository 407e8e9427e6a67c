package rectify

import (
	"context"
	"errors"
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/ironsheep/omr-grader/internal/detection"
)

// createTestImage creates a uniformly colored image.
func createTestImage(width, height int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestOrderCorners(t *testing.T) {
	want := detection.Quad{{10, 20}, {110, 15}, {120, 200}, {5, 190}}

	tests := []struct {
		name string
		in   detection.Quad
	}{
		{"already ordered", want},
		{"reversed", detection.Quad{want[3], want[2], want[1], want[0]}},
		{"shuffled", detection.Quad{want[2], want[0], want[3], want[1]}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := OrderCorners(tt.in)
			if err != nil {
				t.Fatalf("OrderCorners failed: %v", err)
			}
			if got != want {
				t.Errorf("got %v, want %v", got, want)
			}
		})
	}
}

func TestOrderCorners_Degenerate(t *testing.T) {
	tests := []struct {
		name string
		in   detection.Quad
	}{
		{"all same point", detection.Quad{{5, 5}, {5, 5}, {5, 5}, {5, 5}}},
		{"duplicate vertex", detection.Quad{{0, 0}, {10, 0}, {10, 0}, {0, 10}}},
		{"duplicate vertex shared roles", detection.Quad{{0, 0}, {10, 0}, {10, 0}, {10, 0}}},
		{"three collinear", detection.Quad{{5, 5}, {0, 10}, {10, 0}, {20, 20}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := OrderCorners(tt.in)
			if !errors.Is(err, ErrRectificationFailed) {
				t.Errorf("got %v, want ErrRectificationFailed", err)
			}
		})
	}
}

func TestOrderCorners_Rotated(t *testing.T) {
	tests := []struct {
		name string
		in   detection.Quad
		want detection.Quad
	}{
		{
			"diamond",
			detection.Quad{{50, 0}, {100, 50}, {50, 100}, {0, 50}},
			detection.Quad{{50, 0}, {100, 50}, {50, 100}, {0, 50}},
		},
		{
			"diamond shuffled",
			detection.Quad{{50, 100}, {0, 50}, {100, 50}, {50, 0}},
			detection.Quad{{0, 50}, {50, 0}, {100, 50}, {50, 100}},
		},
		{
			"near 45 degrees",
			detection.Quad{{320, 40}, {560, 250}, {330, 460}, {90, 240}},
			detection.Quad{{90, 240}, {320, 40}, {560, 250}, {330, 460}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := OrderCorners(tt.in)
			if err != nil {
				t.Fatalf("OrderCorners failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestComputeHomography(t *testing.T) {
	from := [4]Point2D{{0, 0}, {99, 0}, {99, 139}, {0, 139}}
	to := [4]Point2D{{12, 30}, {180, 22}, {200, 260}, {5, 240}}

	h, err := ComputeHomography(from, to)
	if err != nil {
		t.Fatalf("ComputeHomography failed: %v", err)
	}

	for i := range from {
		x, y, ok := h.Apply(from[i].X, from[i].Y)
		if !ok {
			t.Fatalf("point %d mapped to infinity", i)
		}
		if math.Abs(x-to[i].X) > 1e-6 || math.Abs(y-to[i].Y) > 1e-6 {
			t.Errorf("point %d: got (%.4f,%.4f), want (%.1f,%.1f)", i, x, y, to[i].X, to[i].Y)
		}
	}
}

func TestComputeHomography_Singular(t *testing.T) {
	from := [4]Point2D{{0, 0}, {1, 1}, {2, 2}, {3, 3}}
	to := [4]Point2D{{0, 0}, {10, 0}, {10, 10}, {0, 10}}

	if _, err := ComputeHomography(from, to); err == nil {
		t.Error("expected error for collinear source points")
	}
}

func TestRectify_FrameSize(t *testing.T) {
	img := createTestImage(640, 480, color.White)
	rectifier, err := NewRectifier(DefaultConfig())
	if err != nil {
		t.Fatalf("NewRectifier failed: %v", err)
	}

	quads := []detection.Quad{
		{{100, 50}, {500, 60}, {520, 430}, {90, 420}},
		{{0, 0}, {639, 0}, {639, 479}, {0, 479}},
		{{300, 200}, {310, 200}, {310, 212}, {300, 212}},
		{{300, 50}, {500, 250}, {300, 450}, {100, 250}},
		{{300, 50}, {501, 250}, {300, 450}, {100, 249}},
		{{320, 40}, {560, 250}, {330, 460}, {90, 240}},
	}

	for _, q := range quads {
		res, err := rectifier.Rectify(context.Background(), img, q)
		if err != nil {
			t.Fatalf("Rectify(%v) failed: %v", q, err)
		}
		if res.Frame.Bounds() != image.Rect(0, 0, 1000, 1400) {
			t.Errorf("Rectify(%v): frame %v, want 1000x1400", q, res.Frame.Bounds())
		}
		if res.Outside.Bounds().Dx() != 640 || res.Outside.Bounds().Dy() != 480 {
			t.Errorf("Rectify(%v): outside %v, want raw size", q, res.Outside.Bounds())
		}
	}
}

func TestRectify_WarpSize(t *testing.T) {
	img := createTestImage(300, 300, color.White)
	rectifier, _ := NewRectifier(DefaultConfig())

	res, err := rectifier.Rectify(context.Background(), img, detection.Quad{{10, 10}, {110, 10}, {110, 160}, {10, 160}})
	if err != nil {
		t.Fatalf("Rectify failed: %v", err)
	}
	if res.WarpWidth != 100 || res.WarpHeight != 150 {
		t.Errorf("warp size: got %dx%d, want 100x150", res.WarpWidth, res.WarpHeight)
	}
}

func TestRectify_PreservesLayout(t *testing.T) {
	// Sheet occupies (100,100)-(300,380); its left half is red, right half blue
	img := createTestImage(400, 480, color.Black)
	for y := 100; y <= 380; y++ {
		for x := 100; x <= 300; x++ {
			if x < 200 {
				img.Set(x, y, color.RGBA{255, 0, 0, 255})
			} else {
				img.Set(x, y, color.RGBA{0, 0, 255, 255})
			}
		}
	}

	cfg := Config{FrameWidth: 200, FrameHeight: 280}
	rectifier, _ := NewRectifier(cfg)

	// Corners given in scrambled order
	res, err := rectifier.Rectify(context.Background(), img, detection.Quad{{300, 380}, {100, 100}, {100, 380}, {300, 100}})
	if err != nil {
		t.Fatalf("Rectify failed: %v", err)
	}

	if c := res.Frame.NRGBAAt(50, 140); c.R < 200 || c.B > 50 {
		t.Errorf("left half: got %v, want red", c)
	}
	if c := res.Frame.NRGBAAt(150, 140); c.B < 200 || c.R > 50 {
		t.Errorf("right half: got %v, want blue", c)
	}
	if res.Corners != (detection.Quad{{100, 100}, {300, 100}, {300, 380}, {100, 380}}) {
		t.Errorf("Corners: got %v", res.Corners)
	}
}

func TestRectify_OutsideRegion(t *testing.T) {
	img := createTestImage(200, 200, color.White)
	rectifier, _ := NewRectifier(DefaultConfig())

	res, err := rectifier.Rectify(context.Background(), img, detection.Quad{{50, 50}, {150, 50}, {150, 150}, {50, 150}})
	if err != nil {
		t.Fatalf("Rectify failed: %v", err)
	}

	if c := res.Outside.NRGBAAt(100, 100); c.R != 0 || c.G != 0 || c.B != 0 {
		t.Errorf("sheet area: got %v, want black", c)
	}
	if c := res.Outside.NRGBAAt(10, 10); c.R != 255 {
		t.Errorf("surroundings: got %v, want white", c)
	}
}

func TestRectify_Degenerate(t *testing.T) {
	img := createTestImage(100, 100, color.White)
	rectifier, _ := NewRectifier(DefaultConfig())

	tests := []struct {
		name string
		quad detection.Quad
	}{
		{"repeated vertex", detection.Quad{{10, 10}, {10, 10}, {50, 50}, {10, 50}}},
		{"collinear", detection.Quad{{5, 5}, {0, 10}, {10, 0}, {20, 20}}},
		{"too small", detection.Quad{{10, 10}, {11, 10}, {11, 11}, {10, 11}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := rectifier.Rectify(context.Background(), img, tt.quad)
			if !errors.Is(err, ErrRectificationFailed) {
				t.Errorf("got %v, want ErrRectificationFailed", err)
			}
		})
	}
}

func TestRectify_Cancelled(t *testing.T) {
	img := createTestImage(200, 200, color.White)
	rectifier, _ := NewRectifier(DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := rectifier.Rectify(ctx, img, detection.Quad{{10, 10}, {190, 10}, {190, 190}, {10, 190}})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
}

func TestWarpPerspective_OutsideIsBlack(t *testing.T) {
	img := createTestImage(50, 50, color.White)

	// Translate so output (0,0) samples source (-20,-20)
	h := Homography{1, 0, -20, 0, 1, -20, 0, 0, 1}
	out := WarpPerspective(img, h, 60, 60)

	if c := out.NRGBAAt(0, 0); c.R != 0 || c.A != 255 {
		t.Errorf("outside sample: got %v, want opaque black", c)
	}
	if c := out.NRGBAAt(40, 40); c.R != 255 {
		t.Errorf("inside sample: got %v, want white", c)
	}
}

func TestWarpPerspective_Identity(t *testing.T) {
	img := createTestImage(20, 20, color.White)
	img.Set(7, 11, color.Black)

	out := WarpPerspective(img, Homography{1, 0, 0, 0, 1, 0, 0, 0, 1}, 20, 20)
	if c := out.NRGBAAt(7, 11); c.R != 0 {
		t.Errorf("identity warp: got %v at (7,11), want black", c)
	}
	if c := out.NRGBAAt(8, 11); c.R != 255 {
		t.Errorf("identity warp: got %v at (8,11), want white", c)
	}
}

func TestConfig_Validate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
	if _, err := NewRectifier(Config{FrameWidth: 0, FrameHeight: 10}); err == nil {
		t.Error("expected error for zero width")
	}
}
