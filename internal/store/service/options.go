package service

import (
	"net/http"
	"time"

	"github.com/hanpama/planexec/internal/conn"
)

// Options configures outbound service calls.
//
// Defaults:
// - Client:         a dedicated http.Client without an overall timeout
// - Timeout:        30s (used only if the execution context has no deadline)
// - StreamCapacity: 256 buffered records for streamed responses
// - StallTimeout:   5m without a record before a streamed response fails
// - MaxErrorBody:   4KiB of an error response kept for the failure message
type Options struct {
	Client         *http.Client
	Resolver       *conn.Resolver
	Timeout        time.Duration
	StreamCapacity int
	StallTimeout   time.Duration
	MaxErrorBody   int64
}

type Option func(*Options)

func defaultOptions() *Options {
	return &Options{
		Client:         &http.Client{},
		Timeout:        30 * time.Second,
		StreamCapacity: 256,
		StallTimeout:   5 * time.Minute,
		MaxErrorBody:   4 << 10,
	}
}

func WithClient(c *http.Client) Option        { return func(o *Options) { o.Client = c } }
func WithTimeout(d time.Duration) Option      { return func(o *Options) { o.Timeout = d } }
func WithStreamCapacity(n int) Option         { return func(o *Options) { o.StreamCapacity = n } }
func WithStallTimeout(d time.Duration) Option { return func(o *Options) { o.StallTimeout = d } }
func WithMaxErrorBody(n int64) Option         { return func(o *Options) { o.MaxErrorBody = n } }

// WithResolver enables auth strategies on service nodes.
func WithResolver(r *conn.Resolver) Option { return func(o *Options) { o.Resolver = r } }
