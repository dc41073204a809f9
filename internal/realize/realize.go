// Package realize materializes a Result into memory under a byte ceiling.
package realize

import (
	"bytes"
	"io"

	"github.com/cockroachdb/errors"

	"github.com/hanpama/planexec/internal/result"
	"github.com/hanpama/planexec/internal/serialize"
)

// DefaultLimit is the generation ceiling applied when none is configured.
const DefaultLimit = 1_000_000

// ErrSizeLimitExceeded marks a realization that produced more bytes than
// allowed.
var ErrSizeLimitExceeded = errors.New("size limit exceeded")

type options struct {
	limit  int64
	format serialize.Format
}

type Option func(*options)

// WithLimit overrides DefaultLimit. Non-positive values keep the default.
func WithLimit(n int64) Option {
	return func(o *options) {
		if n > 0 {
			o.limit = n
		}
	}
}

// WithFormat selects DEFAULT (the default) or RAW.
func WithFormat(f serialize.Format) Option { return func(o *options) { o.format = f } }

func defaultOptions() *options {
	return &options{limit: DefaultLimit, format: serialize.Default}
}

// String serializes r and returns the produced text. r is always closed.
func String(r result.Result, opts ...Option) (string, error) {
	var buf bytes.Buffer
	if err := To(nopCloser{&buf}, r, opts...); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// To streams r into sink. When the limit would be exceeded the sink is closed
// and the write fails with ErrSizeLimitExceeded; r is closed on every path.
func To(sink io.WriteCloser, r result.Result, opts ...Option) error {
	o := defaultOptions()
	for _, fn := range opts {
		fn(o)
	}
	switch o.format {
	case serialize.Default, serialize.Raw:
	default:
		return errors.CombineErrors(
			errors.Mark(errors.Newf("realization requires DEFAULT or RAW, got %s", errors.Safe(o.format)),
				serialize.ErrSerializationUnsupported),
			r.Close())
	}
	if err := serialize.Write(Limit(sink, o.limit), r, o.format); err != nil {
		return err
	}
	return nil
}

// Limit wraps w so that a write taking the total past limit bytes fails with
// ErrSizeLimitExceeded. If w is an io.Closer it is closed at that point.
func Limit(w io.Writer, limit int64) io.Writer {
	wc, ok := w.(io.WriteCloser)
	if !ok {
		wc = nopCloser{w}
	}
	return &countingWriter{w: wc, limit: limit}
}

type countingWriter struct {
	w      io.WriteCloser
	limit  int64
	n      int64
	failed bool
}

func (c *countingWriter) Write(p []byte) (int, error) {
	if c.failed {
		return 0, c.exceeded()
	}
	if c.n+int64(len(p)) > c.limit {
		c.failed = true
		return 0, errors.CombineErrors(c.exceeded(), c.w.Close())
	}
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

func (c *countingWriter) exceeded() error {
	return errors.Mark(
		errors.Newf("maximum bytes for generation exceeded: limit %d bytes", c.limit),
		ErrSizeLimitExceeded)
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }
