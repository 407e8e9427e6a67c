package imaging

import (
	"image"

	"github.com/disintegration/imaging"
	"golang.org/x/image/vector"
)

// PolygonMask rasterizes a closed polygon into an alpha mask of the given
// size. Covered pixels have alpha > 0, with anti-aliased coverage along the
// polygon edges.
//
// Points are in mask coordinates (origin at 0,0). Fewer than three points
// produce an empty mask.
func PolygonMask(width, height int, pts []image.Point) *image.Alpha {
	mask := image.NewAlpha(image.Rect(0, 0, width, height))
	if len(pts) < 3 || width <= 0 || height <= 0 {
		return mask
	}

	z := vector.NewRasterizer(width, height)
	z.MoveTo(float32(pts[0].X), float32(pts[0].Y))
	for _, p := range pts[1:] {
		z.LineTo(float32(p.X), float32(p.Y))
	}
	z.ClosePath()
	z.Draw(mask, mask.Bounds(), image.Opaque, image.Point{})
	return mask
}

// BlackoutPolygon returns a copy of img with the filled polygon painted black.
//
// This is how the outside region of a sheet is derived: everything the
// document covers is removed so that only the surrounding area (where
// handwritten names and codes usually sit) remains. Pixels whose coverage is
// at least half are blacked out.
//
// Points are in the coordinate space of img. The returned image has its
// origin at (0,0).
func BlackoutPolygon(img image.Image, pts []image.Point) *image.NRGBA {
	out := imaging.Clone(img)
	bounds := img.Bounds()

	local := make([]image.Point, len(pts))
	for i, p := range pts {
		local[i] = p.Sub(bounds.Min)
	}

	mask := PolygonMask(out.Bounds().Dx(), out.Bounds().Dy(), local)
	for y := 0; y < mask.Rect.Dy(); y++ {
		row := mask.Pix[y*mask.Stride : y*mask.Stride+mask.Rect.Dx()]
		px := out.Pix[y*out.Stride : y*out.Stride+4*len(row)]
		for x, a := range row {
			if a >= 0x80 {
				i := 4 * x
				px[i], px[i+1], px[i+2], px[i+3] = 0, 0, 0, 0xff
			}
		}
	}
	return out
}
