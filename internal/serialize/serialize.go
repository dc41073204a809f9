// Package serialize writes Results to byte sinks in the supported formats.
package serialize

import (
	"bufio"
	"io"

	"github.com/cockroachdb/errors"

	"github.com/hanpama/planexec/internal/result"
)

// ErrSerializationUnsupported marks a Result variant / format combination
// that has no serializer.
var ErrSerializationUnsupported = errors.New("serialization unsupported")

// Serializer writes one Result. Stream always closes the Result, including
// when writing fails part way.
type Serializer interface {
	Stream(w io.Writer) error
}

type options struct {
	header       bool
	maxCellWidth int
}

type Option func(*options)

// WithoutHeader suppresses the CSV header row.
func WithoutHeader() Option { return func(o *options) { o.header = false } }

// WithMaxCellWidth bounds GRID cells; longer values are truncated.
func WithMaxCellWidth(n int) Option { return func(o *options) { o.maxCellWidth = n } }

func defaultOptions() *options {
	return &options{header: true, maxCellWidth: 40}
}

type streamFunc struct {
	r  result.Result
	fn func(w io.Writer) error
}

func (s *streamFunc) Stream(w io.Writer) (err error) {
	defer func() { err = errors.CombineErrors(err, s.r.Close()) }()
	bw := bufio.NewWriter(w)
	if err := s.fn(bw); err != nil {
		return err
	}
	return bw.Flush()
}

// For selects the serializer for r in format f. It does not close r on
// failure; Write does.
func For(r result.Result, f Format, opts ...Option) (Serializer, error) {
	o := defaultOptions()
	for _, fn := range opts {
		fn(o)
	}
	fn, err := pick(r, f, o)
	if err != nil {
		return nil, err
	}
	return &streamFunc{r: r, fn: fn}, nil
}

// Write serializes r to w and closes r on every path. Raw results are copied
// through unchanged regardless of format.
func Write(w io.Writer, r result.Result, f Format, opts ...Option) error {
	if raw, ok := r.(*result.Raw); ok {
		_, err := raw.WriteTo(w)
		return errors.CombineErrors(err, raw.Close())
	}
	s, err := For(r, f, opts...)
	if err != nil {
		return errors.CombineErrors(err, r.Close())
	}
	return s.Stream(w)
}

func unsupported(r result.Result, f Format) error {
	return errors.Mark(
		errors.Newf("format %s not supported for %s result", errors.Safe(f), errors.Safe(r.Variant())),
		ErrSerializationUnsupported)
}

func pick(r result.Result, f Format, o *options) (func(io.Writer) error, error) {
	switch v := r.(type) {
	case *result.Tabular:
		switch f {
		case Default, Pure:
			return func(w io.Writer) error { return writeTabularJSON(w, v, true) }, nil
		case Raw:
			return func(w io.Writer) error { return writeTabularJSON(w, v, false) }, nil
		case CSV, CSVTransformed:
			return func(w io.Writer) error { return writeCSV(w, v, o.header) }, nil
		case PureTDSObject:
			return func(w io.Writer) error { return writeObjects(w, v) }, nil
		case Grid:
			return func(w io.Writer) error { return writeGrid(w, v, o.maxCellWidth) }, nil
		}

	case *result.Constant:
		switch f {
		case Default, Pure:
			return func(w io.Writer) error {
				return wrapped(w, "json", r, func(w io.Writer) error { return writeJSON(w, v.Value) })
			}, nil
		case Raw:
			return func(w io.Writer) error { return writeJSON(w, v.Value) }, nil
		}

	case *result.Stream:
		switch f {
		case Default, Pure:
			return func(w io.Writer) error {
				return wrapped(w, "json", r, func(w io.Writer) error { return writeRecords(w, v) })
			}, nil
		case Raw:
			return func(w io.Writer) error { return writeRecords(w, v) }, nil
		}

	case *result.JSONStream:
		switch f {
		case Default, Pure:
			return func(w io.Writer) error { return wrapped(w, "json", r, v.Emit) }, nil
		case Raw:
			return v.Emit, nil
		}

	case *result.Multi:
		switch f {
		case Default, Pure:
			return func(w io.Writer) error {
				return wrapped(w, "multi", nil, func(w io.Writer) error { return writeMulti(w, v, o) })
			}, nil
		case Raw:
			return func(w io.Writer) error { return writeMulti(w, v, o) }, nil
		}

	case *result.UpdateCount:
		switch f {
		case Default, Pure:
			return func(w io.Writer) error {
				return wrapped(w, "updateCount", nil, func(w io.Writer) error { return writeJSON(w, v.Count) })
			}, nil
		case Raw:
			return func(w io.Writer) error { return writeJSON(w, v.Count) }, nil
		}

	case *result.Error:
		if err := v.Err(); err != nil {
			return nil, err
		}
		return nil, errors.Newf("%s", v.Message())
	}
	return nil, unsupported(r, f)
}

// wrapped writes {"builder":{"_type":kind},"values":<body>,"activities":[..]}.
// Activities are omitted when r is nil.
func wrapped(w io.Writer, kind string, r result.Result, body func(io.Writer) error) error {
	if _, err := io.WriteString(w, `{"builder":{"_type":`+quote(kind)+`},"values":`); err != nil {
		return err
	}
	if err := body(w); err != nil {
		return err
	}
	if r == nil {
		_, err := io.WriteString(w, "}")
		return err
	}
	if _, err := io.WriteString(w, `,"activities":`); err != nil {
		return err
	}
	if err := writeJSON(w, activities(r)); err != nil {
		return err
	}
	_, err := io.WriteString(w, "}")
	return err
}

func activities(r result.Result) []result.Activity {
	a := r.Activities()
	if a == nil {
		return []result.Activity{}
	}
	return a
}

func writeRecords(w io.Writer, s *result.Stream) error {
	seq, err := s.Records()
	if err != nil {
		return err
	}
	if _, err := io.WriteString(w, "["); err != nil {
		return err
	}
	first := true
	for rec, err := range seq {
		if err != nil {
			return err
		}
		if !first {
			if _, err := io.WriteString(w, ","); err != nil {
				return err
			}
		}
		first = false
		if err := writeJSON(w, rec); err != nil {
			return err
		}
	}
	_, err = io.WriteString(w, "]")
	return err
}

// writeMulti renders each child in RAW format under its key. Children are
// closed by the Multi itself.
func writeMulti(w io.Writer, m *result.Multi, o *options) error {
	if _, err := io.WriteString(w, "{"); err != nil {
		return err
	}
	for i, k := range m.Keys() {
		if i > 0 {
			if _, err := io.WriteString(w, ","); err != nil {
				return err
			}
		}
		if _, err := io.WriteString(w, quote(k)+":"); err != nil {
			return err
		}
		child, _ := m.Get(k)
		if raw, ok := child.(*result.Raw); ok {
			if _, err := raw.WriteTo(w); err != nil {
				return err
			}
			continue
		}
		fn, err := pick(child, Raw, o)
		if err != nil {
			return errors.Wrapf(err, "key %q", k)
		}
		if err := fn(w); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, "}")
	return err
}
