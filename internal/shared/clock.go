package shared

import "time"

// Clock abstracts wall-clock reads so evaluation and cache expiry are
// controllable in tests.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the real time.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// FixedClock always returns the configured instant.
type FixedClock struct {
	At time.Time
}

// Now returns the configured instant.
func (c FixedClock) Now() time.Time { return c.At }
