package serialize

import (
	"strings"

	"github.com/cockroachdb/errors"
)

// Format selects the wire shape of a serialized Result.
type Format string

const (
	Default        Format = "DEFAULT"
	Raw            Format = "RAW"
	CSV            Format = "CSV"
	CSVTransformed Format = "CSV_TRANSFORMED"
	Pure           Format = "PURE"
	PureTDSObject  Format = "PURE_TDSOBJECT"
	Grid           Format = "GRID"
)

// Formats lists every supported format.
func Formats() []Format {
	return []Format{Default, Raw, CSV, CSVTransformed, Pure, PureTDSObject, Grid}
}

// ParseFormat is case insensitive; the empty string selects Default.
func ParseFormat(s string) (Format, error) {
	if s == "" {
		return Default, nil
	}
	f := Format(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range Formats() {
		if f == known {
			return f, nil
		}
	}
	return "", errors.Mark(errors.Newf("unknown format %q", s), ErrSerializationUnsupported)
}

// ContentType is the HTTP media type for f.
func (f Format) ContentType() string {
	switch f {
	case CSV, CSVTransformed:
		return "text/csv; charset=utf-8"
	case Grid:
		return "text/plain; charset=utf-8"
	}
	return "application/json; charset=utf-8"
}
