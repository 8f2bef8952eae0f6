package validation

import (
	"math"
	"strconv"
	"time"

	gqerrors "github.com/vnykmshr/goquota/pkg/common/errors"
)

// ValidatePositive validates that an integer value is positive (> 0).
func ValidatePositive(module, field string, value int64) error {
	if value <= 0 {
		return gqerrors.NewValidationError(module, field, value, "must be positive").
			WithHint("value must be greater than 0")
	}
	return nil
}

// ValidateNonNegative validates that an integer value is not negative (>= 0).
func ValidateNonNegative(module, field string, value int64) error {
	if value < 0 {
		return gqerrors.NewValidationError(module, field, value, "cannot be negative").
			WithHint("use 0 or a positive value")
	}
	return nil
}

// ValidatePositiveFloat validates that a float64 value is positive and finite.
func ValidatePositiveFloat(module, field string, value float64) error {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return gqerrors.NewValidationError(module, field, value, "must be finite")
	}
	if value <= 0 {
		return gqerrors.NewValidationError(module, field, value, "must be positive").
			WithHint("value must be greater than 0")
	}
	return nil
}

// ValidateMinFloat validates that a float64 value is finite and at least min.
func ValidateMinFloat(module, field string, value, min float64) error {
	if math.IsNaN(value) || math.IsInf(value, 0) || value < min {
		return gqerrors.NewValidationError(module, field, value, "out of range").
			WithHint("value must be finite and not less than " + strconv.FormatFloat(min, 'g', -1, 64))
	}
	return nil
}

// ValidatePositiveDuration validates that a duration is at least one millisecond,
// the resolution of the store clock.
func ValidatePositiveDuration(module, field string, value time.Duration) error {
	if value < time.Millisecond {
		return gqerrors.NewValidationError(module, field, value, "must be at least 1ms").
			WithHint("durations are tracked with millisecond resolution")
	}
	return nil
}

// ValidateNotNil validates that an interface value is not nil.
func ValidateNotNil(module, field string, value interface{}) error {
	if value == nil {
		return gqerrors.NewValidationError(module, field, nil, "cannot be nil").
			WithHint("provide a valid " + field)
	}
	return nil
}

// ValidateNotEmpty validates that a string value is not empty.
func ValidateNotEmpty(module, field string, value string) error {
	if value == "" {
		return gqerrors.NewValidationError(module, field, value, "cannot be empty").
			WithHint("provide a non-empty " + field)
	}
	return nil
}
