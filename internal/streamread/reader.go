// Package streamread decouples a blocking producer (typically a response
// body decoder) from a pull-based consumer through a bounded buffer.
package streamread

import (
	"context"
	"iter"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

const (
	DefaultCapacity     = 256
	DefaultStallTimeout = 5 * time.Minute
)

// ErrStreamTimeout is returned when the producer delivers nothing for the
// stall timeout.
var ErrStreamTimeout = errors.New("stream read timed out")

// Producer pushes items through emit until exhausted. emit fails once the
// reader is closed; the producer should return that error.
type Producer[T any] func(ctx context.Context, emit func(T) error) error

type options struct {
	capacity int
	stall    time.Duration
}

type Option func(*options)

func WithCapacity(n int) Option { return func(o *options) { o.capacity = n } }

func WithStallTimeout(d time.Duration) Option { return func(o *options) { o.stall = d } }

// Reader is a single-consumer view of a running producer.
type Reader[T any] struct {
	items  chan T
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	stall  time.Duration

	mu   sync.Mutex
	err  error // producer failure, deferred to the consumer
	next T
	has  bool
	eof  bool

	closeOnce sync.Once
}

// Start launches produce in its own goroutine.
func Start[T any](ctx context.Context, produce Producer[T], opts ...Option) *Reader[T] {
	o := &options{capacity: DefaultCapacity, stall: DefaultStallTimeout}
	for _, fn := range opts {
		fn(o)
	}
	if o.capacity <= 0 {
		o.capacity = DefaultCapacity
	}
	ctx, cancel := context.WithCancel(ctx)
	r := &Reader[T]{
		items:  make(chan T, o.capacity),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
		stall:  o.stall,
	}
	go r.run(produce)
	return r
}

func (r *Reader[T]) run(produce Producer[T]) {
	defer close(r.done)
	defer close(r.items)
	err := func() (err error) {
		defer func() {
			if p := recover(); p != nil {
				err = errors.AssertionFailedf("stream producer panicked: %v", p)
			}
		}()
		return produce(r.ctx, func(v T) error {
			select {
			case r.items <- v:
				return nil
			case <-r.ctx.Done():
				return r.ctx.Err()
			}
		})
	}()
	if err != nil {
		r.mu.Lock()
		r.err = err
		r.mu.Unlock()
	}
}

func (r *Reader[T]) producerErr() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// HasNext blocks until an item is available, the producer finishes, or the
// stall timeout elapses. A producer failure is reported as soon as it is
// observed, ahead of any items still buffered.
func (r *Reader[T]) HasNext() (bool, error) {
	if err := r.producerErr(); err != nil {
		return false, err
	}
	if r.has {
		return true, nil
	}
	if r.eof {
		return false, r.producerErr()
	}
	var timeout <-chan time.Time
	if r.stall > 0 {
		t := time.NewTimer(r.stall)
		defer t.Stop()
		timeout = t.C
	}
	select {
	case v, ok := <-r.items:
		if !ok {
			r.eof = true
			<-r.done
			return false, r.producerErr()
		}
		r.next, r.has = v, true
		return true, nil
	case <-timeout:
		r.stop()
		return false, errors.Mark(errors.Newf("no data received for %s", r.stall), ErrStreamTimeout)
	case <-r.ctx.Done():
		// a producer failure that cancelled the stream is more useful than the
		// bare context error
		if err := r.producerErr(); err != nil {
			return false, err
		}
		return false, r.ctx.Err()
	}
}

// Next returns the next item. Like HasNext, it reports a producer failure as
// soon as it is observed, even if items are still buffered.
func (r *Reader[T]) Next() (T, error) {
	var zero T
	ok, err := r.HasNext()
	if err != nil {
		return zero, err
	}
	if !ok {
		return zero, errors.New("stream exhausted")
	}
	v := r.next
	r.next, r.has = zero, false
	return v, nil
}

// All adapts the reader to a range-over-func sequence.
func (r *Reader[T]) All() iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for {
			ok, err := r.HasNext()
			if err != nil {
				var zero T
				yield(zero, err)
				return
			}
			if !ok {
				return
			}
			v, _ := r.Next()
			if !yield(v, nil) {
				return
			}
		}
	}
}

// Close stops the producer and waits for it to exit.
func (r *Reader[T]) Close() error {
	r.stop()
	<-r.done
	return nil
}

func (r *Reader[T]) stop() {
	r.closeOnce.Do(func() {
		r.cancel()
		// drain so a producer blocked on a full buffer observes cancellation
		go func() {
			for range r.items {
			}
		}()
	})
}
