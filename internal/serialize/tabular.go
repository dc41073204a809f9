package serialize

import (
	"bytes"
	"encoding/csv"
	"io"
	"unicode/utf8"

	"github.com/olekukonko/tablewriter"

	"github.com/hanpama/planexec/internal/plan"
	"github.com/hanpama/planexec/internal/result"
)

// writeTabularJSON emits the row envelope; with wrap it is preceded by the
// builder and followed by the activities.
func writeTabularJSON(w io.Writer, t *result.Tabular, wrap bool) error {
	rows, err := t.Rows()
	if err != nil {
		return err
	}
	cols := t.Builder.Columns
	var buf bytes.Buffer
	if wrap {
		buf.WriteString(`{"builder":`)
		if err := writeJSON(&buf, t.Builder); err != nil {
			return err
		}
		buf.WriteString(`,"result":`)
	}
	buf.WriteString(`{"columns":`)
	if err := writeJSON(&buf, t.Builder.Names()); err != nil {
		return err
	}
	buf.WriteString(`,"rows":[`)
	first := true
	for row, err := range rows {
		if err != nil {
			return err
		}
		if !first {
			buf.WriteByte(',')
		}
		first = false
		buf.WriteString(`{"values":[`)
		for i, v := range row {
			if i > 0 {
				buf.WriteByte(',')
			}
			appendCell(&buf, column(cols, i), v)
		}
		buf.WriteString("]}")
		if _, err := w.Write(buf.Bytes()); err != nil {
			return err
		}
		buf.Reset()
	}
	buf.WriteString("]}")
	if wrap {
		buf.WriteString(`,"activities":`)
		if err := writeJSON(&buf, activities(t)); err != nil {
			return err
		}
		buf.WriteByte('}')
	}
	_, err = w.Write(buf.Bytes())
	return err
}

func writeObjects(w io.Writer, t *result.Tabular) error {
	rows, err := t.Rows()
	if err != nil {
		return err
	}
	cols := t.Builder.Columns
	var buf bytes.Buffer
	buf.WriteByte('[')
	first := true
	for row, err := range rows {
		if err != nil {
			return err
		}
		if !first {
			buf.WriteByte(',')
		}
		first = false
		buf.WriteByte('{')
		for i, v := range row {
			if i > 0 {
				buf.WriteByte(',')
			}
			c := column(cols, i)
			buf.WriteString(quote(c.Name))
			buf.WriteByte(':')
			appendCell(&buf, c, v)
		}
		buf.WriteByte('}')
		if _, err := w.Write(buf.Bytes()); err != nil {
			return err
		}
		buf.Reset()
	}
	buf.WriteByte(']')
	_, err = w.Write(buf.Bytes())
	return err
}

func writeCSV(w io.Writer, t *result.Tabular, header bool) error {
	rows, err := t.Rows()
	if err != nil {
		return err
	}
	cols := t.Builder.Columns
	cw := csv.NewWriter(w)
	cw.UseCRLF = true
	if header {
		if err := cw.Write(t.Builder.Names()); err != nil {
			return err
		}
	}
	record := make([]string, len(cols))
	for row, err := range rows {
		if err != nil {
			return err
		}
		if len(record) != len(row) {
			record = make([]string, len(row))
		}
		for i, v := range row {
			record[i], _ = cell(column(cols, i), v)
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeGrid(w io.Writer, t *result.Tabular, maxWidth int) error {
	rows, err := t.Rows()
	if err != nil {
		return err
	}
	cols := t.Builder.Columns
	table := tablewriter.NewWriter(w)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetHeader(t.Builder.Names())
	for row, err := range rows {
		if err != nil {
			return err
		}
		out := make([]string, len(row))
		for i, v := range row {
			text, kind := cell(column(cols, i), v)
			if kind == cellNull {
				text = "NULL"
			}
			out[i] = Truncate(text, maxWidth)
		}
		table.Append(out)
	}
	table.Render()
	return nil
}

// Truncate shortens s to max runes, replacing the tail with "...".
// A non-positive max disables truncation.
func Truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	if max <= 3 {
		return string([]rune(s)[:max])
	}
	return string([]rune(s)[:max-3]) + "..."
}

func column(cols []plan.Column, i int) plan.Column {
	if i < len(cols) {
		return cols[i]
	}
	return plan.Column{}
}
