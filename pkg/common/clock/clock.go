// Package clock abstracts the local time source so warm-up ramps and
// processing-time measurements can be driven by tests.
package clock

import "time"

// Clock provides the current time. It can be mocked for testing.
type Clock interface {
	Now() time.Time
}

// System implements Clock using the system time.
type System struct{}

// Now returns the current system time.
func (System) Now() time.Time {
	return time.Now()
}

// Since returns the time elapsed on c since t.
func Since(c Clock, t time.Time) time.Duration {
	return c.Now().Sub(t)
}
