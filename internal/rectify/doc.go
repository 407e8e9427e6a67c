// Package rectify removes perspective distortion from a located answer sheet.
//
// Given the four document corners found by package detection, Rectify warps
// the sheet into a fixed canonical frame (1000x1400 by default) in which
// every template coordinate is defined. It also produces the outside region:
// the raw image with the sheet blacked out, used for reading handwriting
// written around the sheet.
//
// The projective mapping is solved as an 8x8 linear system with gonum.
package rectify
