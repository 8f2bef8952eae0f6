// Package composite combines results from independent rate-limit dimensions.
//
// Combine performs no I/O: callers evaluate each dimension (per sender, per
// recipient, global, ...) first and pass the results in.
package composite

import (
	"time"

	"github.com/vnykmshr/goquota/pkg/ratelimit/model"
)

// MetaDimensions is the metadata key holding the number of combined results.
const MetaDimensions = "dimensions"

// Combine returns the AND of results under key.
//
// The combined result is allowed only when every input is. On rejection it
// carries the first rejecting input's reason, retry-after, reset time and
// algorithm. RemainingQuota is the minimum over the allowed inputs, which on
// full allowance is the binding constraint; it is 0 when no input allowed.
// With no inputs Combine returns the unlimited sentinel.
func Combine(key string, results ...model.Result) model.Result {
	if len(results) == 0 {
		return model.Unlimited(key, 0)
	}

	var (
		firstDenied = -1
		binding     = -1
		processing  time.Duration
		requested   int64
	)
	for i, r := range results {
		processing += r.ProcessingTime
		if r.RequestCount > requested {
			requested = r.RequestCount
		}
		if !r.Allowed {
			if firstDenied < 0 {
				firstDenied = i
			}
			continue
		}
		if binding < 0 || r.RemainingQuota < results[binding].RemainingQuota {
			binding = i
		}
	}

	out := model.Result{
		Key:            key,
		RequestCount:   requested,
		ProcessingTime: processing,
		Metadata:       map[string]any{MetaDimensions: len(results)},
	}
	if binding >= 0 {
		out.RemainingQuota = results[binding].RemainingQuota
	}

	if firstDenied >= 0 {
		denied := results[firstDenied]
		out.Allowed = false
		out.Algorithm = denied.Algorithm
		out.Limit = denied.Limit
		out.ResetTime = denied.ResetTime
		out.RetryAfter = denied.RetryAfter
		out.Reason = denied.Reason
		out.Metadata["deniedKey"] = denied.Key
		return out
	}

	b := results[binding]
	out.Allowed = true
	out.Algorithm = b.Algorithm
	out.Limit = b.Limit
	out.ResetTime = b.ResetTime
	out.Reason = model.ReasonAllowed
	out.Metadata["bindingKey"] = b.Key
	if b.IsUnlimited() {
		out.Metadata[model.MetaUnlimited] = true
	}
	return out
}
