// Package scoring loads answer keys and grades answer vectors against them.
package scoring
