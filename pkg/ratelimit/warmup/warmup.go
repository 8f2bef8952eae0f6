// Package warmup computes a cold-start threshold ramp.
//
// A freshly started process admits nominal/coldFactor units and ramps
// quadratically to nominal over the warm-up period. The threshold is meant
// to be fed into an algorithm as its maxRequests or capacity, not used as a
// gate of its own.
package warmup

import (
	"math"
	"time"

	"github.com/vnykmshr/goquota/pkg/common/clock"
	gqerrors "github.com/vnykmshr/goquota/pkg/common/errors"
	"github.com/vnykmshr/goquota/pkg/common/validation"
)

// Threshold returns the threshold after elapsed time of a warmup-long ramp
// from nominal/coldFactor to nominal.
func Threshold(elapsed, warmup time.Duration, nominal, coldFactor float64) float64 {
	if elapsed >= warmup {
		return nominal
	}
	if elapsed < 0 {
		elapsed = 0
	}
	progress := float64(elapsed) / float64(warmup)
	cold := nominal / coldFactor
	return cold + (nominal-cold)*progress*progress
}

// Validate checks ramp parameters.
func Validate(warmup time.Duration, nominal int64, coldFactor float64) error {
	if warmup < 0 {
		return gqerrors.NewValidationError("warmup", "warmupDuration", warmup, "cannot be negative")
	}
	if err := validation.ValidatePositive("warmup", "nominal", nominal); err != nil {
		return err
	}
	return validation.ValidateMinFloat("warmup", "coldFactor", coldFactor, 1)
}

// Calculator ramps relative to a fixed process start time.
type Calculator struct {
	start time.Time
	clock clock.Clock
}

// NewCalculator returns a Calculator whose ramp began at start.
func NewCalculator(start time.Time, c clock.Clock) *Calculator {
	if c == nil {
		c = clock.System{}
	}
	return &Calculator{start: start, clock: c}
}

// Start returns the ramp start.
func (c *Calculator) Start() time.Time {
	return c.start
}

// Elapsed returns the time since the ramp start.
func (c *Calculator) Elapsed() time.Duration {
	return clock.Since(c.clock, c.start)
}

// Limit returns the integer threshold for nominal: the floor of the ramp,
// never below 1.
func (c *Calculator) Limit(warmup time.Duration, nominal int64, coldFactor float64) (int64, error) {
	if err := Validate(warmup, nominal, coldFactor); err != nil {
		return 0, err
	}
	v := int64(math.Floor(Threshold(c.Elapsed(), warmup, float64(nominal), coldFactor)))
	if v < 1 {
		v = 1
	}
	if v > nominal {
		v = nominal
	}
	return v, nil
}
