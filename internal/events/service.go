package events

import "time"

// ServiceCallStart is emitted before an outbound HTTP service call. URL is
// redacted.
type ServiceCallStart struct {
	NodeID string
	Method string
	URL    string
}

// ServiceCallFinish is emitted after an outbound HTTP service call.
type ServiceCallFinish struct {
	NodeID   string
	Method   string
	URL      string
	Status   int
	Err      error
	Duration time.Duration
}
