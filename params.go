package chroma

import (
	"errors"
	"fmt"
)

// MaxBlurRadius is the largest supported per-channel blur radius. The GPU
// kernel buffer is sized for this bound, so larger radii are rejected at
// validation time rather than truncated silently.
const MaxBlurRadius = 64

// Parameter validation errors.
var (
	// ErrNegativeRadius is returned when a channel radius is below zero.
	ErrNegativeRadius = errors.New("chroma: blur radius must be >= 0")

	// ErrRadiusTooLarge is returned when a channel radius exceeds MaxBlurRadius.
	ErrRadiusTooLarge = errors.New("chroma: blur radius exceeds maximum")

	// ErrNonPositiveSigma is returned when a channel sigma is zero or negative.
	ErrNonPositiveSigma = errors.New("chroma: blur sigma must be > 0")
)

// BlurParameters holds the per-channel Gaussian blur settings. Index 0 is
// red, 1 is green, 2 is blue, regardless of the capture byte order.
//
// A radius of zero leaves that channel untouched (identity). Sigma controls
// the falloff of the 2*radius+1 kernel taps independently of the radius.
type BlurParameters struct {
	// Radius is the half-width of the blur kernel per channel, in pixels.
	Radius [3]int

	// Sigma is the Gaussian standard deviation per channel.
	Sigma [3]float64
}

// DefaultBlurParameters returns the stock chromatic-blur settings: the red
// channel passes through, green is blurred lightly, blue heavily.
func DefaultBlurParameters() BlurParameters {
	return BlurParameters{
		Radius: [3]int{0, 2, 6},
		Sigma:  [3]float64{0.001, 1.0, 3.0},
	}
}

// Validate checks that every channel's radius and sigma are in range.
func (p BlurParameters) Validate() error {
	for c := 0; c < 3; c++ {
		if p.Radius[c] < 0 {
			return fmt.Errorf("%w: channel %d has radius %d", ErrNegativeRadius, c, p.Radius[c])
		}
		if p.Radius[c] > MaxBlurRadius {
			return fmt.Errorf("%w: channel %d has radius %d, max %d",
				ErrRadiusTooLarge, c, p.Radius[c], MaxBlurRadius)
		}
		if p.Sigma[c] <= 0 {
			return fmt.Errorf("%w: channel %d has sigma %g", ErrNonPositiveSigma, c, p.Sigma[c])
		}
	}
	return nil
}

// Identity reports whether the parameters leave every channel unchanged.
func (p BlurParameters) Identity() bool {
	return p.Radius[0] == 0 && p.Radius[1] == 0 && p.Radius[2] == 0
}
