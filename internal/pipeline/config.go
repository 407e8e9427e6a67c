package pipeline

import (
	"fmt"
	"runtime"
	"time"

	"github.com/ironsheep/omr-grader/internal/detection"
	"github.com/ironsheep/omr-grader/internal/omr"
	"github.com/ironsheep/omr-grader/internal/rectify"
)

// Config aggregates the per-stage configuration of one grading run.
type Config struct {
	Locate  detection.Config
	Rectify rectify.Config
	Decide  omr.Config

	// Workers bounds the number of sheets graded concurrently by RunBatch.
	// Default runtime.NumCPU().
	Workers int

	// SheetTimeout is the wall-clock budget of one sheet, load included.
	// Default 30s.
	SheetTimeout time.Duration
}

// DefaultConfig returns the default configuration of every stage.
func DefaultConfig() Config {
	return Config{
		Locate:       detection.DefaultConfig(),
		Rectify:      rectify.DefaultConfig(),
		Decide:       omr.DefaultConfig(),
		Workers:      runtime.NumCPU(),
		SheetTimeout: 30 * time.Second,
	}
}

// Validate checks every stage configuration.
func (c Config) Validate() error {
	if err := c.Locate.Validate(); err != nil {
		return fmt.Errorf("locate: %w", err)
	}
	if err := c.Rectify.Validate(); err != nil {
		return fmt.Errorf("rectify: %w", err)
	}
	if err := c.Decide.Validate(); err != nil {
		return fmt.Errorf("decide: %w", err)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.SheetTimeout <= 0 {
		return fmt.Errorf("sheet timeout must be positive, got %s", c.SheetTimeout)
	}
	return nil
}
