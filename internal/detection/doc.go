// Package detection locates the answer sheet inside a raw photograph or scan.
//
// The sheet is assumed to be the largest roughly quadrilateral outline visible
// from the image border: white paper on a darker desk, or the printed frame of
// a flatbed scan. Nothing here knows about bubbles or templates.
//
// # Pipeline
//
//  1. Downsample to a fixed processing height so thresholds behave the same
//     for 12 MP phone photos and 150 DPI scans
//  2. Canny edge detection (internal/imaging)
//  3. External contours: connected edge components reachable from the image
//     border, traced with Moore-neighbour tracing
//  4. Douglas-Peucker simplification of each contour, largest area first
//  5. The first 4-vertex polygon is the document
//
// # Coordinate System
//
// All coordinates use the standard image convention:
//   - Origin (0, 0) at top-left corner
//   - X increases rightward
//   - Y increases downward
//
// Quads returned by Locate are in the coordinate space of the input image,
// including any non-zero bounds origin.
//
// # Determinism
//
// Contour discovery follows raster order and ties in area keep that order, so
// identical input always yields an identical quad.
package detection
