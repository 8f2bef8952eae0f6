// Package model holds the value types exchanged between the rate-limiting
// algorithms, the rule engine and the limiter facade.
package model

import (
	"fmt"
	"math"
	"time"

	gqerrors "github.com/vnykmshr/goquota/pkg/common/errors"
	"github.com/vnykmshr/goquota/pkg/common/validation"
)

// Algorithm identifies a rate-limiting policy.
type Algorithm string

const (
	// SlidingWindow counts units admitted in the trailing window.
	SlidingWindow Algorithm = "sliding_window"

	// TokenBucket refills tokens continuously and permits bursts up to capacity.
	TokenBucket Algorithm = "token_bucket"

	// FixedWindow counts units per calendar-aligned window.
	FixedWindow Algorithm = "fixed_window"

	// LeakyBucket drains a level at a constant rate and sheds overflow.
	LeakyBucket Algorithm = "leaky_bucket"

	// DistributedSlidingWindow bounds both the cluster-wide and the
	// per-instance sliding-window counts.
	DistributedSlidingWindow Algorithm = "distributed_sliding_window"
)

// Algorithms lists every supported algorithm.
func Algorithms() []Algorithm {
	return []Algorithm{SlidingWindow, TokenBucket, FixedWindow, LeakyBucket, DistributedSlidingWindow}
}

// Valid reports whether a is a supported algorithm.
func (a Algorithm) Valid() bool {
	switch a {
	case SlidingWindow, TokenBucket, FixedWindow, LeakyBucket, DistributedSlidingWindow:
		return true
	}
	return false
}

func (a Algorithm) String() string {
	return string(a)
}

// ParseAlgorithm converts a name into an Algorithm.
func ParseAlgorithm(name string) (Algorithm, error) {
	a := Algorithm(name)
	if !a.Valid() {
		return "", gqerrors.NewValidationError("model", "algorithm", name, "unknown algorithm").
			WithHint("use one of sliding_window, token_bucket, fixed_window, leaky_bucket, distributed_sliding_window")
	}
	return a, nil
}

// Params binds an algorithm to its configuration. Which fields are read
// depends on Algorithm:
//
//	SlidingWindow, FixedWindow:  WindowSize, MaxRequests
//	TokenBucket:                 Capacity, Rate (refill, units per second)
//	LeakyBucket:                 Capacity, Rate (leak, units per second)
//	DistributedSlidingWindow:    WindowSize, MaxRequests, InstanceCount,
//	                             InstanceLimit, InstanceID
type Params struct {
	Algorithm   Algorithm     `json:"algorithm"`
	WindowSize  time.Duration `json:"window_size,omitempty"`
	MaxRequests int64         `json:"max_requests,omitempty"`
	Capacity    int64         `json:"capacity,omitempty"`
	Rate        float64       `json:"rate,omitempty"`

	// InstanceCount is the number of instances sharing the global cap.
	// Zero uses the engine default.
	InstanceCount int `json:"instance_count,omitempty"`

	// InstanceLimit caps a single instance. Zero derives
	// ceil(MaxRequests / InstanceCount).
	InstanceLimit int64 `json:"instance_limit,omitempty"`

	// InstanceID overrides the engine's instance identifier.
	InstanceID string `json:"instance_id,omitempty"`
}

// SlidingWindowParams returns sliding-window parameters.
func SlidingWindowParams(windowSize time.Duration, maxRequests int64) Params {
	return Params{Algorithm: SlidingWindow, WindowSize: windowSize, MaxRequests: maxRequests}
}

// TokenBucketParams returns token-bucket parameters; refillRate is in tokens per second.
func TokenBucketParams(capacity int64, refillRate float64) Params {
	return Params{Algorithm: TokenBucket, Capacity: capacity, Rate: refillRate}
}

// FixedWindowParams returns fixed-window parameters.
func FixedWindowParams(windowSize time.Duration, maxRequests int64) Params {
	return Params{Algorithm: FixedWindow, WindowSize: windowSize, MaxRequests: maxRequests}
}

// LeakyBucketParams returns leaky-bucket parameters; leakRate is in units per second.
func LeakyBucketParams(capacity int64, leakRate float64) Params {
	return Params{Algorithm: LeakyBucket, Capacity: capacity, Rate: leakRate}
}

// DistributedParams returns distributed sliding-window parameters. A zero
// instanceLimit derives the per-instance cap from instanceCount.
func DistributedParams(windowSize time.Duration, maxRequests int64, instanceCount int, instanceLimit int64) Params {
	return Params{
		Algorithm:     DistributedSlidingWindow,
		WindowSize:    windowSize,
		MaxRequests:   maxRequests,
		InstanceCount: instanceCount,
		InstanceLimit: instanceLimit,
	}
}

// MaxBucketSpan bounds capacity/rate for the bucket algorithms: the time a
// bucket takes to refill from empty or drain from full. Bucket state is kept
// no longer than this.
const MaxBucketSpan = 365 * 24 * time.Hour

// Validate checks the fields the algorithm reads.
func (p Params) Validate() error {
	const module = "algorithm"

	switch p.Algorithm {
	case SlidingWindow, FixedWindow:
		if err := validation.ValidatePositiveDuration(module, "windowSize", p.WindowSize); err != nil {
			return err
		}
		return validation.ValidatePositive(module, "maxRequests", p.MaxRequests)
	case TokenBucket:
		if err := validation.ValidatePositive(module, "capacity", p.Capacity); err != nil {
			return err
		}
		if err := validation.ValidatePositiveFloat(module, "refillRate", p.Rate); err != nil {
			return err
		}
		return p.validateBucketSpan("refillRate")
	case LeakyBucket:
		if err := validation.ValidatePositive(module, "capacity", p.Capacity); err != nil {
			return err
		}
		if err := validation.ValidatePositiveFloat(module, "leakRate", p.Rate); err != nil {
			return err
		}
		return p.validateBucketSpan("leakRate")
	case DistributedSlidingWindow:
		if err := validation.ValidatePositiveDuration(module, "windowSize", p.WindowSize); err != nil {
			return err
		}
		if err := validation.ValidatePositive(module, "maxRequests", p.MaxRequests); err != nil {
			return err
		}
		if err := validation.ValidateNonNegative(module, "instanceCount", int64(p.InstanceCount)); err != nil {
			return err
		}
		if err := validation.ValidateNonNegative(module, "instanceLimit", p.InstanceLimit); err != nil {
			return err
		}
		if p.InstanceLimit > p.MaxRequests {
			return gqerrors.NewValidationError(module, "instanceLimit", p.InstanceLimit, "exceeds maxRequests").
				WithHint("an instance cannot admit more than the global cap")
		}
		return nil
	default:
		_, err := ParseAlgorithm(string(p.Algorithm))
		return err
	}
}

func (p Params) validateBucketSpan(field string) error {
	if float64(p.Capacity)/p.Rate > MaxBucketSpan.Seconds() {
		return gqerrors.NewValidationError("algorithm", field, p.Rate, "too low for capacity").
			WithHint(fmt.Sprintf("capacity/rate must not exceed %s", MaxBucketSpan))
	}
	return nil
}

// Limit returns the configured cap: MaxRequests for window algorithms and
// Capacity for bucket algorithms.
func (p Params) Limit() int64 {
	switch p.Algorithm {
	case TokenBucket, LeakyBucket:
		return p.Capacity
	default:
		return p.MaxRequests
	}
}

// WithLimit returns a copy of p whose cap is limit. Used to feed a warm-up
// threshold into an algorithm. An explicit distributed instance cap is scaled
// by the same ratio, rounded up and kept within [1, limit].
func (p Params) WithLimit(limit int64) Params {
	switch p.Algorithm {
	case TokenBucket, LeakyBucket:
		p.Capacity = limit
	case DistributedSlidingWindow:
		if p.InstanceLimit > 0 && p.MaxRequests > 0 {
			scaled := int64(math.Ceil(float64(p.InstanceLimit) * float64(limit) / float64(p.MaxRequests)))
			p.InstanceLimit = max(1, min(scaled, limit))
		}
		p.MaxRequests = limit
	default:
		p.MaxRequests = limit
	}
	return p
}

// InstanceCap returns the per-instance cap of a distributed configuration,
// given the engine's default instance count.
func (p Params) InstanceCap(defaultInstanceCount int) int64 {
	if p.InstanceLimit > 0 {
		return p.InstanceLimit
	}
	n := p.InstanceCount
	if n <= 0 {
		n = defaultInstanceCount
	}
	if n <= 1 {
		return p.MaxRequests
	}
	return (p.MaxRequests + int64(n) - 1) / int64(n)
}

func (p Params) String() string {
	switch p.Algorithm {
	case TokenBucket:
		return fmt.Sprintf("%s(capacity=%d, refill=%g/s)", p.Algorithm, p.Capacity, p.Rate)
	case LeakyBucket:
		return fmt.Sprintf("%s(capacity=%d, leak=%g/s)", p.Algorithm, p.Capacity, p.Rate)
	default:
		return fmt.Sprintf("%s(max=%d, window=%s)", p.Algorithm, p.MaxRequests, p.WindowSize)
	}
}
