// Package omr decides which bubble, if any, is marked for each question.
//
// The canonical frame is binarized once (Otsu or adaptive mean threshold) and
// the ink inside a small disk around every bubble centre is counted. The
// heaviest bubble of a question wins if it carries at least MinInk pixels.
//
// "No mark" is never an error: every question ends up with a choice index or
// Unanswered. Bubbles too close to the frame edge are skipped and reported
// through Decision.Warnings.
package omr
