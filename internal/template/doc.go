// Package template turns sheet templates into bubble coordinates.
//
// A template places answer bubbles in the canonical frame produced by package
// rectify. Instead of listing every bubble, a template usually gives two
// anchors per block (the centres of the first and the last bubble) and the
// block's question and choice counts; Interpolate fills in the rest.
//
// The expanded result, a BubbleGrid, is immutable and can be shared across
// goroutines grading a batch. Templates are JSON files; see Template for the
// format.
package template
