// Package validation provides the parameter checks goquota runs before any
// store round trip.
//
// Every helper returns a *errors.ValidationError that unwraps to
// errors.ErrInvalidConfiguration, so callers can reject malformed window
// sizes, capacities, rates and keys synchronously and uniformly.
package validation
