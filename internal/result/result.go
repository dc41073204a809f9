// Package result defines the values produced by executing plan nodes.
//
// Every Result owns resources (cursors, pooled connections, response bodies,
// nested results) that are released by Close. Close is idempotent and must be
// called on every exit path; serializers close the result they stream.
package result

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
)

// Variant names the concrete shape of a Result.
type Variant string

const (
	VariantConstant    Variant = "constant"
	VariantStream      Variant = "stream"
	VariantJSONStream  Variant = "jsonStream"
	VariantRaw         Variant = "raw"
	VariantMulti       Variant = "multi"
	VariantError       Variant = "error"
	VariantUpdateCount Variant = "updateCount"
	VariantTabular     Variant = "tabular"
)

// ErrAlreadyConsumed is returned when a single-pass result is read twice.
var ErrAlreadyConsumed = errors.New("result already consumed")

type Result interface {
	Variant() Variant
	Status() string
	// Activities reports what the backend did to produce the result, in the
	// order the work happened.
	Activities() []Activity
	AddActivity(Activity)
	GenerationInfo() *GenerationInfo
	// OnClose registers fn to run when the result is closed. Hooks run in
	// reverse registration order.
	OnClose(fn func() error)
	Close() error
}

// Activity records one backend interaction, e.g. the SQL sent to a database.
type Activity struct {
	Type   string `json:"_type"`
	Detail string `json:"detail,omitempty"`
}

// GenerationInfo describes when and for which execution a result was built.
type GenerationInfo struct {
	ExecutionID string
	Started     time.Time
	Finished    time.Time
}

type base struct {
	mu         sync.Mutex
	status     string
	activities []Activity
	info       *GenerationInfo
	children   []Result
	closers    []func() error
	closed     atomic.Bool
}

// Option configures the shared attributes of a Result.
type Option func(*base)

// WithChild attaches a result that is closed together with the new one.
func WithChild(r Result) Option {
	return func(b *base) {
		if r != nil {
			b.children = append(b.children, r)
		}
	}
}

// WithCloser registers a release hook, e.g. returning a pooled connection.
func WithCloser(fn func() error) Option {
	return func(b *base) { b.closers = append(b.closers, fn) }
}

func WithStatus(s string) Option { return func(b *base) { b.status = s } }

func WithActivities(a ...Activity) Option {
	return func(b *base) { b.activities = append(b.activities, a...) }
}

func WithGenerationInfo(gi GenerationInfo) Option {
	return func(b *base) { b.info = &gi }
}

func (b *base) init(opts []Option) {
	for _, o := range opts {
		o(b)
	}
}

func (b *base) Status() string { return b.status }

func (b *base) Activities() []Activity {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.activities)
}

func (b *base) AddActivity(a Activity) {
	b.mu.Lock()
	b.activities = append(b.activities, a)
	b.mu.Unlock()
}

func (b *base) GenerationInfo() *GenerationInfo { return b.info }

func (b *base) OnClose(fn func() error) {
	b.mu.Lock()
	b.closers = append(b.closers, fn)
	b.mu.Unlock()
}

// release runs the release hooks early without closing the result.
func (b *base) release() error {
	b.mu.Lock()
	closers := b.closers
	b.closers = nil
	b.mu.Unlock()
	var err error
	for i := len(closers) - 1; i >= 0; i-- {
		err = errors.CombineErrors(err, closers[i]())
	}
	return err
}

// Closed reports whether Close has been called.
func (b *base) Closed() bool { return b.closed.Load() }

func (b *base) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	b.mu.Lock()
	closers := b.closers
	children := b.children
	b.closers, b.children = nil, nil
	b.mu.Unlock()

	var err error
	for i := len(closers) - 1; i >= 0; i-- {
		err = errors.CombineErrors(err, closers[i]())
	}
	for _, c := range children {
		err = errors.CombineErrors(err, c.Close())
	}
	return err
}

// CloseAll closes every result and joins the failures.
func CloseAll(rs ...Result) error {
	var err error
	for _, r := range rs {
		if r != nil {
			err = errors.CombineErrors(err, r.Close())
		}
	}
	return err
}
