package plan

import (
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// LookupPath resolves a dot separated path in a decoded JSON document. Numeric
// segments index arrays. An empty path returns doc itself.
func LookupPath(doc any, path string) (any, error) {
	if path == "" || path == "." {
		return doc, nil
	}
	cur := doc
	for i, seg := range strings.Split(path, ".") {
		switch v := cur.(type) {
		case map[string]any:
			next, ok := v[seg]
			if !ok {
				return nil, errors.Newf("path %s: no field %q", path, seg)
			}
			cur = next
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil, errors.Newf("path %s: index %q out of range for array of %d", path, seg, len(v))
			}
			cur = v[idx]
		default:
			return nil, errors.Newf("path %s: cannot descend into %T at segment %d", path, cur, i)
		}
	}
	return cur, nil
}
