package serialize

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/apd/v3"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"

	"github.com/hanpama/planexec/internal/plan"
	"github.com/hanpama/planexec/internal/result"
)

func mustDecimal(t *testing.T, s string) *apd.Decimal {
	t.Helper()
	d, _, err := apd.NewFromString(s)
	require.NoError(t, err)
	return d
}

func date(y int, m time.Month, d int) plan.StrictDate {
	return plan.StrictDate{Time: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

func newTable(t *testing.T, opts ...result.Option) *result.Tabular {
	b := result.Builder{Columns: []plan.Column{
		{Name: "stringCol", Type: "String"},
		{Name: "intCol", Type: "Integer"},
		{Name: "floatCol", Type: "Float"},
		{Name: "boolCol", Type: "Boolean"},
		{Name: "decimalCol", Type: "Decimal"},
		{Name: "strictDateCol", Type: "StrictDate"},
		{Name: "dateTimeCol", Type: "DateTime"},
	}}
	rows := [][]any{
		{"Hello", int64(2), 1.23, true, mustDecimal(t, "2.345"), date(2020, 1, 1), time.Date(2020, 1, 1, 1, 1, 1, 0, time.UTC)},
		{"World", int64(3), 2.345, false, 3.456, date(2021, 2, 1), time.Date(2021, 2, 1, 1, 1, 1, 0, time.UTC)},
		{nil, nil, nil, nil, nil, nil, nil},
	}
	return result.NewTabular(b, result.RowsOf(rows), opts...)
}

func stream(t *testing.T, r result.Result, f Format, opts ...Option) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, r, f, opts...))
	return buf.String()
}

func TestTabularFormats(t *testing.T) {
	builder := `{"_type":"tdsBuilder","columns":[` +
		`{"name":"stringCol","type":"String"},{"name":"intCol","type":"Integer"},` +
		`{"name":"floatCol","type":"Float"},{"name":"boolCol","type":"Boolean"},` +
		`{"name":"decimalCol","type":"Decimal"},{"name":"strictDateCol","type":"StrictDate"},` +
		`{"name":"dateTimeCol","type":"DateTime"}]}`
	names := `["stringCol","intCol","floatCol","boolCol","decimalCol","strictDateCol","dateTimeCol"]`
	rows := `[{"values":["Hello",2,1.23,true,2.345,"2020-01-01","2020-01-01T01:01:01Z"]},` +
		`{"values":["World",3,2.345,false,3.456,"2021-02-01","2021-02-01T01:01:01Z"]},` +
		`{"values":[null,null,null,null,null,null,null]}]`

	tests := []struct {
		name   string
		format Format
		opts   []Option
		want   string
	}{
		{
			name:   "default",
			format: Default,
			want:   `{"builder":` + builder + `,"result":{"columns":` + names + `,"rows":` + rows + `},"activities":[]}`,
		},
		{
			name:   "pure",
			format: Pure,
			want:   `{"builder":` + builder + `,"result":{"columns":` + names + `,"rows":` + rows + `},"activities":[]}`,
		},
		{
			name:   "raw",
			format: Raw,
			want:   `{"columns":` + names + `,"rows":` + rows + `}`,
		},
		{
			name:   "csv",
			format: CSV,
			want: "stringCol,intCol,floatCol,boolCol,decimalCol,strictDateCol,dateTimeCol\r\n" +
				"Hello,2,1.23,true,2.345,2020-01-01,2020-01-01T01:01:01Z\r\n" +
				"World,3,2.345,false,3.456,2021-02-01,2021-02-01T01:01:01Z\r\n" +
				",,,,,,\r\n",
		},
		{
			name:   "csv without header",
			format: CSVTransformed,
			opts:   []Option{WithoutHeader()},
			want: "Hello,2,1.23,true,2.345,2020-01-01,2020-01-01T01:01:01Z\r\n" +
				"World,3,2.345,false,3.456,2021-02-01,2021-02-01T01:01:01Z\r\n" +
				",,,,,,\r\n",
		},
		{
			name:   "pure tds object",
			format: PureTDSObject,
			want: `[{"stringCol":"Hello","intCol":2,"floatCol":1.23,"boolCol":true,"decimalCol":2.345,"strictDateCol":"2020-01-01","dateTimeCol":"2020-01-01T01:01:01Z"},` +
				`{"stringCol":"World","intCol":3,"floatCol":2.345,"boolCol":false,"decimalCol":3.456,"strictDateCol":"2021-02-01","dateTimeCol":"2021-02-01T01:01:01Z"},` +
				`{"stringCol":null,"intCol":null,"floatCol":null,"boolCol":null,"decimalCol":null,"strictDateCol":null,"dateTimeCol":null}]`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tab := newTable(t)
			require.Equal(t, tt.want, stream(t, tab, tt.format, tt.opts...))
			require.True(t, tab.Closed())
		})
	}
}

func TestActivitiesAreSerialized(t *testing.T) {
	tab := result.NewTabular(result.Builder{Columns: []plan.Column{{Name: "a", Type: "Integer"}}},
		result.RowsOf([][]any{{1}}),
		result.WithActivities(result.Activity{Type: "relational", Detail: "select 1 as a"}))
	got := stream(t, tab, Default)
	require.True(t, strings.HasSuffix(got, `"activities":[{"_type":"relational","detail":"select 1 as a"}]}`), got)
}

func TestGridTruncates(t *testing.T) {
	tab := result.NewTabular(result.Builder{Columns: []plan.Column{{Name: "text", Type: "String"}}},
		result.RowsOf([][]any{{"abcdefghijklmnop"}, {nil}}))
	got := stream(t, tab, Grid, WithMaxCellWidth(8))
	require.Contains(t, got, "abcde...")
	require.NotContains(t, got, "abcdef")
	require.Contains(t, got, "NULL")

	require.Equal(t, "abc", Truncate("abc", 3))
	require.Equal(t, "ab...", Truncate("abcdef", 5))
	require.Equal(t, "héllo wörld", Truncate("héllo wörld", 0))
}

func TestNonTabularShapes(t *testing.T) {
	m := result.NewMulti()
	require.NoError(t, m.Put("n", result.NewConstant(map[string]any{"d": date(2020, 5, 6)})))
	require.NoError(t, m.Put("u", result.NewUpdateCount(7)))

	tests := []struct {
		name   string
		r      result.Result
		format Format
		want   string
	}{
		{"constant default", result.NewConstant("<x>"), Default, `{"builder":{"_type":"json"},"values":"<x>","activities":[]}`},
		{"constant raw", result.NewConstant([]any{int64(1), "a"}), Raw, `[1,"a"]`},
		{"update count", result.NewUpdateCount(3), Default, `{"builder":{"_type":"updateCount"},"values":3}`},
		{"update count raw", result.NewUpdateCount(3), Raw, `3`},
		{"multi", m, Default, `{"builder":{"_type":"multi"},"values":{"n":{"d":"2020-05-06"},"u":7}}`},
		{"stream", result.NewStream(func(yield func(any, error) bool) {
			_ = yield(map[string]any{"a": 1}, nil) && yield(2, nil)
		}), Default, `{"builder":{"_type":"json"},"values":[{"a":1},2],"activities":[]}`},
		{"json stream default", result.NewJSONStream(func(w io.Writer) error {
			_, err := io.WriteString(w, `{"k":true}`)
			return err
		}), Default, `{"builder":{"_type":"json"},"values":{"k":true},"activities":[]}`},
		{"json stream raw", result.NewJSONStream(func(w io.Writer) error {
			_, err := io.WriteString(w, `[1]`)
			return err
		}), Raw, `[1]`},
		{"raw passthrough", result.NewRaw(io.NopCloser(strings.NewReader("bytes"))), CSV, `bytes`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, stream(t, tt.r, tt.format))
		})
	}
}

func TestUnsupportedCombinations(t *testing.T) {
	raw := result.NewRaw(io.NopCloser(strings.NewReader("x")))
	for _, f := range Formats() {
		_, err := For(raw, f)
		require.True(t, errors.Is(err, ErrSerializationUnsupported), "format %s", f)
	}

	c := result.NewConstant(1)
	err := Write(io.Discard, c, CSV)
	require.True(t, errors.Is(err, ErrSerializationUnsupported))
	require.True(t, c.Closed())

	cause := errors.New("backend exploded")
	e := result.NewError(cause)
	err = Write(io.Discard, e, Default)
	require.True(t, errors.Is(err, cause))
	require.True(t, e.Closed())

	_, err = ParseFormat("xml")
	require.True(t, errors.Is(err, ErrSerializationUnsupported))
	f, err := ParseFormat("csv")
	require.NoError(t, err)
	require.Equal(t, CSV, f)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("sink closed") }

func TestStreamClosesOnWriteFailure(t *testing.T) {
	tab := newTable(t)
	s, err := For(tab, CSV)
	require.NoError(t, err)
	require.Error(t, s.Stream(failingWriter{}))
	require.True(t, tab.Closed())
}
