package model

import (
	"math"
	"time"
)

// Metadata keys set by the engine.
const (
	MetaGlobalQuota   = "globalQuota"
	MetaInstanceQuota = "instanceQuota"
	MetaInstanceID    = "instanceId"
	MetaRule          = "rule"
	MetaUnlimited     = "unlimited"
	MetaDegraded      = "degraded"
	MetaUsed          = "used"
)

// Reasons attached to results.
const (
	ReasonAllowed          = "allowed"
	ReasonUnlimited        = "no rule limits this key"
	ReasonStoreUnavailable = "store-unavailable"
)

// UnlimitedQuota is the remaining quota reported when nothing bounds a key.
const UnlimitedQuota = math.MaxInt64

// Result is the outcome of one evaluation. It is built fresh for every call
// and never mutated after it is returned.
type Result struct {
	Allowed        bool           `json:"allowed"`
	Key            string         `json:"key"`
	Algorithm      Algorithm      `json:"algorithm,omitempty"`
	RequestCount   int64          `json:"request_count"`
	RemainingQuota int64          `json:"remaining_quota"`
	Limit          int64          `json:"limit"`
	ResetTime      time.Time      `json:"reset_time"`
	RetryAfter     time.Duration  `json:"retry_after"`
	Reason         string         `json:"reason"`
	ProcessingTime time.Duration  `json:"processing_time"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// Unlimited returns the allowed sentinel used when no limit applies to key.
func Unlimited(key string, requestCount int64) Result {
	return Result{
		Allowed:        true,
		Key:            key,
		RequestCount:   requestCount,
		RemainingQuota: UnlimitedQuota,
		Limit:          UnlimitedQuota,
		Reason:         ReasonUnlimited,
		Metadata:       map[string]any{MetaUnlimited: true},
	}
}

// Degraded returns the allowed result used when the store is unreachable and
// the engine is configured to fail open.
func Degraded(key string, alg Algorithm, requestCount int64, cause error) Result {
	md := map[string]any{MetaDegraded: true}
	if cause != nil {
		md["error"] = cause.Error()
	}
	return Result{
		Allowed:        true,
		Key:            key,
		Algorithm:      alg,
		RequestCount:   requestCount,
		RemainingQuota: 0,
		Reason:         ReasonStoreUnavailable,
		Metadata:       md,
	}
}

// IsUnlimited reports whether r is the unlimited sentinel.
func (r Result) IsUnlimited() bool {
	v, _ := r.Metadata[MetaUnlimited].(bool)
	return v
}

// IsDegraded reports whether r was produced by fail-open handling.
func (r Result) IsDegraded() bool {
	v, _ := r.Metadata[MetaDegraded].(bool)
	return v
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds, the unit of the
// HTTP Retry-After header. It is zero for allowed results.
func (r Result) RetryAfterSeconds() int64 {
	if r.Allowed || r.RetryAfter <= 0 {
		return 0
	}
	return int64((r.RetryAfter + time.Second - 1) / time.Second)
}

// WithMetadata returns a copy of r with an extra metadata entry. The
// receiver's map is not modified.
func (r Result) WithMetadata(k string, v any) Result {
	md := make(map[string]any, len(r.Metadata)+1)
	for key, val := range r.Metadata {
		md[key] = val
	}
	md[k] = v
	r.Metadata = md
	return r
}
