package result

import (
	"encoding/json"
	"io"
	"iter"
	"sync/atomic"

	"github.com/cockroachdb/errors"

	"github.com/hanpama/planexec/internal/plan"
)

// Constant is a fully realized value.
type Constant struct {
	base
	Value any
}

func NewConstant(v any, opts ...Option) *Constant {
	c := &Constant{Value: v}
	c.init(opts)
	return c
}

func (*Constant) Variant() Variant { return VariantConstant }

// Stream is a lazy single-pass sequence of records.
type Stream struct {
	base
	seq      iter.Seq2[any, error]
	consumed atomic.Bool
}

func NewStream(seq iter.Seq2[any, error], opts ...Option) *Stream {
	s := &Stream{seq: seq}
	s.init(opts)
	return s
}

func (*Stream) Variant() Variant { return VariantStream }

// Records hands out the underlying sequence. It succeeds once.
func (s *Stream) Records() (iter.Seq2[any, error], error) {
	if s.consumed.Swap(true) {
		return nil, ErrAlreadyConsumed
	}
	return s.seq, nil
}

// JSONStream writes a JSON document lazily.
type JSONStream struct {
	base
	emit     func(io.Writer) error
	consumed atomic.Bool
}

func NewJSONStream(emit func(io.Writer) error, opts ...Option) *JSONStream {
	s := &JSONStream{emit: emit}
	s.init(opts)
	return s
}

func (*JSONStream) Variant() Variant { return VariantJSONStream }

func (s *JSONStream) Emit(w io.Writer) error {
	if s.consumed.Swap(true) {
		return ErrAlreadyConsumed
	}
	return s.emit(w)
}

// Raw is an opaque byte stream. It can only be copied through as is.
type Raw struct {
	base
	body     io.ReadCloser
	consumed atomic.Bool
}

func NewRaw(body io.ReadCloser, opts ...Option) *Raw {
	r := &Raw{body: body}
	r.init(append([]Option{WithCloser(body.Close)}, opts...))
	return r
}

func (*Raw) Variant() Variant { return VariantRaw }

func (r *Raw) WriteTo(w io.Writer) (int64, error) {
	if r.consumed.Swap(true) {
		return 0, ErrAlreadyConsumed
	}
	return io.Copy(w, r.body)
}

// Multi maps keys to child results, preserving insertion order.
type Multi struct {
	base
	keys []string
	m    map[string]Result
}

func NewMulti(opts ...Option) *Multi {
	m := &Multi{m: map[string]Result{}}
	m.init(opts)
	m.OnClose(m.closeChildren)
	return m
}

func (*Multi) Variant() Variant { return VariantMulti }

// Put adds or replaces the child under key. A replaced child is closed.
func (m *Multi) Put(key string, r Result) error {
	m.mu.Lock()
	prev, ok := m.m[key]
	if !ok {
		m.keys = append(m.keys, key)
	}
	m.m[key] = r
	m.mu.Unlock()
	if ok && prev != r {
		return prev.Close()
	}
	return nil
}

func (m *Multi) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.keys...)
}

func (m *Multi) Get(key string) (Result, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.m[key]
	return r, ok
}

func (m *Multi) closeChildren() error {
	var err error
	for _, k := range m.Keys() {
		r, _ := m.Get(k)
		err = errors.CombineErrors(err, r.Close())
	}
	return err
}

// Error is a terminal failure carried as a value.
type Error struct {
	base
	err error
}

func NewError(err error, opts ...Option) *Error {
	e := &Error{err: err}
	e.init(opts)
	return e
}

func (*Error) Variant() Variant { return VariantError }
func (e *Error) Err() error     { return e.err }
func (e *Error) Message() string {
	if e.err == nil {
		return ""
	}
	return e.err.Error()
}

// UpdateCount reports the number of rows affected by a statement.
type UpdateCount struct {
	base
	Count int64
}

func NewUpdateCount(n int64, opts ...Option) *UpdateCount {
	u := &UpdateCount{Count: n}
	u.init(opts)
	return u
}

func (*UpdateCount) Variant() Variant { return VariantUpdateCount }

// Builder describes the columns of a tabular result.
type Builder struct {
	Columns []plan.Column
}

func (b Builder) MarshalJSON() ([]byte, error) {
	cols := b.Columns
	if cols == nil {
		cols = []plan.Column{}
	}
	return json.Marshal(struct {
		Type    string        `json:"_type"`
		Columns []plan.Column `json:"columns"`
	}{"tdsBuilder", cols})
}

func (b Builder) Names() []string {
	out := make([]string, len(b.Columns))
	for i, c := range b.Columns {
		out[i] = c.Name
	}
	return out
}

// Tabular is a single-pass row set, typically backed by a database cursor.
type Tabular struct {
	base
	Builder  Builder
	rows     iter.Seq2[[]any, error]
	consumed atomic.Bool
}

func NewTabular(b Builder, rows iter.Seq2[[]any, error], opts ...Option) *Tabular {
	t := &Tabular{Builder: b, rows: rows}
	t.init(opts)
	return t
}

// RowsOf adapts literal rows into a Tabular iterator.
func RowsOf(rows [][]any) iter.Seq2[[]any, error] {
	return func(yield func([]any, error) bool) {
		for _, r := range rows {
			if !yield(r, nil) {
				return
			}
		}
	}
}

func (*Tabular) Variant() Variant { return VariantTabular }

func (t *Tabular) Rows() (iter.Seq2[[]any, error], error) {
	if t.consumed.Swap(true) {
		return nil, ErrAlreadyConsumed
	}
	return t.rows, nil
}

// Buffer drains the remaining rows into memory and runs the release hooks,
// returning the cursor and its connection while the rows stay readable.
func (t *Tabular) Buffer() error {
	seq, err := t.Rows()
	if err != nil {
		return err
	}
	var rows [][]any
	for row, err := range seq {
		if err != nil {
			return errors.CombineErrors(err, t.release())
		}
		rows = append(rows, row)
	}
	t.rows = RowsOf(rows)
	t.consumed.Store(false)
	return t.release()
}

var (
	_ Result = (*Constant)(nil)
	_ Result = (*Stream)(nil)
	_ Result = (*JSONStream)(nil)
	_ Result = (*Raw)(nil)
	_ Result = (*Multi)(nil)
	_ Result = (*Error)(nil)
	_ Result = (*UpdateCount)(nil)
	_ Result = (*Tabular)(nil)
)
