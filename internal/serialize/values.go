package serialize

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"time"

	"github.com/cockroachdb/apd/v3"

	"github.com/hanpama/planexec/internal/plan"
)

type cellKind int

const (
	cellNull cellKind = iota
	cellString
	cellNumber
	cellBool
)

// cell renders v as text according to the declared logical type of its
// column. The kind tells JSON writers whether the text needs quoting.
func cell(col plan.Column, v any) (string, cellKind) {
	switch x := v.(type) {
	case nil:
		return "", cellNull
	case plan.StrictDate:
		return x.Format(time.DateOnly), cellString
	case plan.DateTime:
		return x.UTC().Format(time.RFC3339Nano), cellString
	case plan.Normalizable:
		return cell(col, x.Normalize())
	case bool:
		return strconv.FormatBool(x), cellBool
	case string:
		return x, cellString
	case []byte:
		return cell(col, string(x))
	case int:
		return strconv.FormatInt(int64(x), 10), cellNumber
	case int8:
		return strconv.FormatInt(int64(x), 10), cellNumber
	case int16:
		return strconv.FormatInt(int64(x), 10), cellNumber
	case int32:
		return strconv.FormatInt(int64(x), 10), cellNumber
	case int64:
		return strconv.FormatInt(x, 10), cellNumber
	case uint:
		return strconv.FormatUint(uint64(x), 10), cellNumber
	case uint8:
		return strconv.FormatUint(uint64(x), 10), cellNumber
	case uint16:
		return strconv.FormatUint(uint64(x), 10), cellNumber
	case uint32:
		return strconv.FormatUint(uint64(x), 10), cellNumber
	case uint64:
		return strconv.FormatUint(x, 10), cellNumber
	case float32:
		return float(col, float64(x), 32), cellNumber
	case float64:
		return float(col, x, 64), cellNumber
	case *apd.Decimal:
		if x == nil {
			return "", cellNull
		}
		return x.Text('f'), cellNumber
	case apd.Decimal:
		return x.Text('f'), cellNumber
	case json.Number:
		return x.String(), cellNumber
	case time.Time:
		switch col.Type {
		case "StrictDate", "Date":
			return x.Format(time.DateOnly), cellString
		}
		return x.Format(time.RFC3339Nano), cellString
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v), cellString
	}
	return string(b), cellString
}

func float(col plan.Column, f float64, bits int) string {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return strconv.FormatFloat(f, 'g', -1, bits)
	}
	switch col.Type {
	case "Integer":
		if f == math.Trunc(f) {
			return strconv.FormatFloat(f, 'f', 0, bits)
		}
	case "Decimal":
		d, _, err := apd.NewFromString(strconv.FormatFloat(f, 'f', -1, bits))
		if err == nil {
			return d.Text('f')
		}
	}
	return strconv.FormatFloat(f, 'f', -1, bits)
}

// appendCell writes the JSON form of a cell.
func appendCell(buf *bytes.Buffer, col plan.Column, v any) {
	text, kind := cell(col, v)
	switch kind {
	case cellNull:
		buf.WriteString("null")
	case cellString:
		buf.WriteString(quote(text))
	default:
		if text == "NaN" || text == "+Inf" || text == "-Inf" {
			buf.WriteString(quote(text))
			return
		}
		buf.WriteString(text)
	}
}

func quote(s string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(s)
	return string(bytes.TrimSuffix(buf.Bytes(), []byte("\n")))
}

// writeJSON encodes an arbitrary value, converting plan values and decimals
// into their wire form first.
func writeJSON(w io.Writer, v any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(plain(v)); err != nil {
		return err
	}
	_, err := w.Write(bytes.TrimSuffix(buf.Bytes(), []byte("\n")))
	return err
}

func plain(v any) any {
	switch x := v.(type) {
	case plan.StrictDate, plan.DateTime:
		s, _ := cell(plan.Column{}, x)
		return s
	case plan.Normalizable:
		return plain(x.Normalize())
	case *apd.Decimal:
		if x == nil {
			return nil
		}
		return json.Number(x.Text('f'))
	case apd.Decimal:
		return json.Number(x.Text('f'))
	case time.Time:
		return x.Format(time.RFC3339Nano)
	case []any:
		out := make([]any, len(x))
		for i := range x {
			out[i] = plain(x[i])
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = plain(e)
		}
		return out
	}
	return v
}
