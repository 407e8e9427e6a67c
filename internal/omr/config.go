package omr

import (
	"fmt"

	omrimg "github.com/ironsheep/omr-grader/internal/imaging"
)

// Policy selects how the canonical frame is binarized into ink and paper.
type Policy int

const (
	// PolicyGlobal applies one Otsu threshold to the whole frame. It is the
	// default and works well for flatbed scans with even lighting.
	PolicyGlobal Policy = iota

	// PolicyAdaptive compares each pixel against the mean of its
	// neighbourhood. Use it for phone photos with shadows or a light
	// gradient across the sheet.
	PolicyAdaptive
)

// String returns the configuration name of the policy.
func (p Policy) String() string {
	switch p {
	case PolicyGlobal:
		return "global"
	case PolicyAdaptive:
		return "adaptive"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// ParsePolicy converts "global" or "adaptive" to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "global", "otsu":
		return PolicyGlobal, nil
	case "adaptive":
		return PolicyAdaptive, nil
	default:
		return PolicyGlobal, fmt.Errorf("unknown binarization policy %q (want global or adaptive)", s)
	}
}

// TiePolicy decides what happens when two choices share the maximum ink count.
type TiePolicy int

const (
	// TieFirstSeen keeps the lowest choice index among equal maxima.
	TieFirstSeen TiePolicy = iota

	// TieUnanswered records a tied maximum as Unanswered.
	TieUnanswered
)

// String returns the configuration name of the tie policy.
func (t TiePolicy) String() string {
	switch t {
	case TieFirstSeen:
		return "first"
	case TieUnanswered:
		return "unanswered"
	default:
		return fmt.Sprintf("TiePolicy(%d)", int(t))
	}
}

// ParseTiePolicy converts "first" or "unanswered" to a TiePolicy.
func ParseTiePolicy(s string) (TiePolicy, error) {
	switch s {
	case "", "first", "first-seen":
		return TieFirstSeen, nil
	case "unanswered", "none":
		return TieUnanswered, nil
	default:
		return TieFirstSeen, fmt.Errorf("unknown tie policy %q (want first or unanswered)", s)
	}
}

// Config holds the decision parameters. The zero value is not usable; start
// from DefaultConfig.
type Config struct {
	// Policy selects global (Otsu) or adaptive binarization.
	Policy Policy

	// AdaptiveRadius is the neighbourhood radius for PolicyAdaptive.
	// Default 25, a 51x51 block.
	AdaptiveRadius float64

	// AdaptiveC is subtracted from the local mean. Default 10.
	AdaptiveC float64

	// AdaptiveMean selects Gaussian or box weighting for the local mean.
	AdaptiveMean omrimg.LocalMean

	// ScanRadius is the radius in pixels of the disk summed around each
	// bubble centre. Default 12.
	ScanRadius int

	// MinInk is the smallest winning ink count that counts as a mark.
	// Default 150.
	MinInk int

	// Tie selects the behaviour for equal maximum counts.
	Tie TiePolicy

	// Gray selects the grayscale conversion applied before binarizing.
	Gray omrimg.GrayMode
}

// DefaultConfig returns the global-threshold configuration with a 12 px scan
// disk and a 150 pixel minimum.
func DefaultConfig() Config {
	return Config{
		Policy:         PolicyGlobal,
		AdaptiveRadius: 25,
		AdaptiveC:      10,
		AdaptiveMean:   omrimg.MeanGaussian,
		ScanRadius:     12,
		MinInk:         150,
		Tie:            TieFirstSeen,
		Gray:           omrimg.GrayLuma,
	}
}

// Validate reports whether the configuration is usable.
func (c Config) Validate() error {
	switch c.Policy {
	case PolicyGlobal:
	case PolicyAdaptive:
		if c.AdaptiveRadius <= 0 {
			return fmt.Errorf("adaptive radius must be positive, got %v", c.AdaptiveRadius)
		}
	default:
		return fmt.Errorf("unknown policy %v", c.Policy)
	}
	if c.Tie != TieFirstSeen && c.Tie != TieUnanswered {
		return fmt.Errorf("unknown tie policy %v", c.Tie)
	}
	if c.ScanRadius < 1 {
		return fmt.Errorf("scan radius must be at least 1, got %d", c.ScanRadius)
	}
	if c.MinInk < 1 {
		return fmt.Errorf("minimum ink must be at least 1, got %d", c.MinInk)
	}
	return nil
}
