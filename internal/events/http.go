package events

import (
	"net/http"
	"time"
)

// HTTPStart is emitted when a plan execution request is received.
// Context carries the request context.
type HTTPStart struct {
	Request *http.Request
}

// HTTPFinish is emitted after the handler completes. Bytes counts the
// serialized response body.
type HTTPFinish struct {
	Request  *http.Request
	Status   int
	Bytes    int64
	Duration time.Duration
}
