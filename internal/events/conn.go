package events

import "time"

// ConnectionAcquire is emitted after a pooled database connection was
// requested. Descriptor is already redacted.
type ConnectionAcquire struct {
	Vendor     string
	Descriptor string
	Identity   string
	NewPool    bool
	Err        error
	Duration   time.Duration
}
