// Package imaging provides the pixel-level building blocks of the grading
// pipeline: acquisition, grayscale conversion, edge detection, binarization
// and polygon masking.
//
// All operations work with standard Go image.Image types and use a coordinate
// system where (0,0) is at the top-left corner, X increases rightward, and Y
// increases downward. Functions that return a new image always return one
// whose origin is (0,0), so Pix can be indexed directly with y*Stride + x.
//
// # Binary Images
//
// Edge maps and ink masks are *image.Gray values holding only 0 and 255.
// 255 marks an edge (Canny) or ink (ThresholdInverse,
// AdaptiveThresholdInverse).
//
// # Thread Safety
//
// Loader is safe for concurrent use. Every other function is stateless and
// never mutates its inputs, so they can be called concurrently on shared
// images.
//
// # Supported Formats
//
// Loader and Decode accept PNG, JPEG, GIF, BMP, TIFF, HEIC/HEIF and PDF
// (first page only).
package imaging
