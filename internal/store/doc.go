// Package store persists batch runs and per-sheet results in a bbolt file.
package store
