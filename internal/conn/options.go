package conn

import "time"

// Options configures pools created by the Manager.
//
// Defaults:
// - MaxOpen:         10
// - MaxIdle:         2
// - ConnMaxLifetime: 30m
// - ConnMaxIdleTime: 5m
// - AcquireTimeout:  30s (applied only when the caller context has no deadline)
//
// SQLite pools ignore the pool sizes and keep a single connection.
type Options struct {
	MaxOpen         int
	MaxIdle         int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	AcquireTimeout  time.Duration

	Builders map[string]Builder
}

type Option func(*Options)

func defaultOptions() *Options {
	return &Options{
		MaxOpen:         10,
		MaxIdle:         2,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
		AcquireTimeout:  30 * time.Second,
		Builders:        DefaultBuilders(),
	}
}

func WithMaxOpen(n int) Option                   { return func(o *Options) { o.MaxOpen = n } }
func WithMaxIdle(n int) Option                   { return func(o *Options) { o.MaxIdle = n } }
func WithConnMaxLifetime(d time.Duration) Option { return func(o *Options) { o.ConnMaxLifetime = d } }
func WithConnMaxIdleTime(d time.Duration) Option { return func(o *Options) { o.ConnMaxIdleTime = d } }
func WithAcquireTimeout(d time.Duration) Option  { return func(o *Options) { o.AcquireTimeout = d } }

// WithBuilder registers or replaces the builder for vendor.
func WithBuilder(vendor string, b Builder) Option {
	return func(o *Options) { o.Builders[vendorKey(vendor)] = b }
}
