package result

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

type countingCloser struct {
	io.Reader
	n int
}

func (c *countingCloser) Close() error { c.n++; return nil }

func TestCloseIsIdempotentForEveryVariant(t *testing.T) {
	hooks := 0
	hook := WithCloser(func() error { hooks++; return nil })
	body := &countingCloser{Reader: strings.NewReader("x")}

	results := map[Variant]Result{
		VariantConstant:    NewConstant(1, hook),
		VariantStream:      NewStream(func(func(any, error) bool) {}, hook),
		VariantJSONStream:  NewJSONStream(func(io.Writer) error { return nil }, hook),
		VariantRaw:         NewRaw(body, hook),
		VariantMulti:       NewMulti(hook),
		VariantError:       NewError(errors.New("boom"), hook),
		VariantUpdateCount: NewUpdateCount(3, hook),
		VariantTabular:     NewTabular(Builder{}, RowsOf(nil), hook),
	}
	for v, r := range results {
		t.Run(string(v), func(t *testing.T) {
			require.Equal(t, v, r.Variant())
			require.NoError(t, r.Close())
			require.NoError(t, r.Close())
		})
	}
	require.Equal(t, len(results), hooks)
	require.Equal(t, 1, body.n)
}

func TestCloseRunsHooksInReverseThenChildren(t *testing.T) {
	var order []string
	child := NewConstant("c", WithCloser(func() error { order = append(order, "child"); return nil }))
	r := NewConstant("p",
		WithChild(child),
		WithCloser(func() error { order = append(order, "first"); return nil }),
	)
	r.OnClose(func() error { order = append(order, "second"); return nil })
	require.NoError(t, r.Close())
	if diff := cmp.Diff([]string{"second", "first", "child"}, order); diff != "" {
		t.Fatalf("close order mismatch (-want +got):\n%s", diff)
	}
}

func TestCloseJoinsFailures(t *testing.T) {
	r := NewConstant(nil,
		WithCloser(func() error { return errors.New("a") }),
		WithCloser(func() error { return errors.New("b") }),
	)
	err := r.Close()
	require.Error(t, err)
	require.Contains(t, err.Error(), "b")
	require.NoError(t, r.Close())
}

func TestMultiKeepsOrderAndClosesChildren(t *testing.T) {
	m := NewMulti()
	a, b := NewConstant(1), NewConstant(2)
	require.NoError(t, m.Put("b", b))
	require.NoError(t, m.Put("a", a))
	require.Equal(t, []string{"b", "a"}, m.Keys())

	replacement := NewConstant(3)
	require.NoError(t, m.Put("b", replacement))
	require.True(t, b.Closed())
	require.Equal(t, []string{"b", "a"}, m.Keys())

	require.NoError(t, m.Close())
	require.True(t, a.Closed())
	require.True(t, replacement.Closed())
}

func TestSinglePass(t *testing.T) {
	s := NewStream(func(yield func(any, error) bool) { yield(1, nil) })
	_, err := s.Records()
	require.NoError(t, err)
	_, err = s.Records()
	require.ErrorIs(t, err, ErrAlreadyConsumed)

	js := NewJSONStream(func(w io.Writer) error { _, err := io.WriteString(w, "[]"); return err })
	var buf bytes.Buffer
	require.NoError(t, js.Emit(&buf))
	require.ErrorIs(t, js.Emit(&buf), ErrAlreadyConsumed)
	require.Equal(t, "[]", buf.String())

	raw := NewRaw(io.NopCloser(strings.NewReader("payload")))
	buf.Reset()
	_, err = raw.WriteTo(&buf)
	require.NoError(t, err)
	_, err = raw.WriteTo(&buf)
	require.ErrorIs(t, err, ErrAlreadyConsumed)

	tab := NewTabular(Builder{}, RowsOf([][]any{{1}}))
	_, err = tab.Rows()
	require.NoError(t, err)
	_, err = tab.Rows()
	require.ErrorIs(t, err, ErrAlreadyConsumed)
}

func TestBufferReleasesEarly(t *testing.T) {
	released := 0
	tab := NewTabular(Builder{}, RowsOf([][]any{{1}, {2}}), WithCloser(func() error { released++; return nil }))
	require.NoError(t, tab.Buffer())
	require.Equal(t, 1, released)
	require.False(t, tab.Closed())

	rows, err := tab.Rows()
	require.NoError(t, err)
	var got [][]any
	for row, err := range rows {
		require.NoError(t, err)
		got = append(got, row)
	}
	if diff := cmp.Diff([][]any{{1}, {2}}, got); diff != "" {
		t.Fatalf("rows mismatch (-want +got):\n%s", diff)
	}

	require.NoError(t, tab.Close())
	require.Equal(t, 1, released)
}

func TestActivitiesPreserveOrder(t *testing.T) {
	r := NewConstant(nil, WithActivities(Activity{Type: "a"}))
	r.AddActivity(Activity{Type: "b"})
	r.AddActivity(Activity{Type: "c", Detail: "select 1"})
	want := []Activity{{Type: "a"}, {Type: "b"}, {Type: "c", Detail: "select 1"}}
	if diff := cmp.Diff(want, r.Activities()); diff != "" {
		t.Fatalf("activities mismatch (-want +got):\n%s", diff)
	}
}
