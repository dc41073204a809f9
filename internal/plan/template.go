package plan

import (
	"strings"
)

// Placeholders returns the distinct ${name} references in s in order of first
// appearance.
func Placeholders(s string) []string {
	var out []string
	seen := map[string]struct{}{}
	scan(s, func(_, _ int, name string) {
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		out = append(out, name)
	})
	return out
}

// Expand replaces every ${name} in s with lookup(name). The first lookup error
// aborts the expansion.
func Expand(s string, lookup func(name string) (string, error)) (string, error) {
	var (
		b    strings.Builder
		last int
		err  error
	)
	scan(s, func(start, end int, name string) {
		if err != nil {
			return
		}
		var v string
		v, err = lookup(name)
		b.WriteString(s[last:start])
		b.WriteString(v)
		last = end
	})
	if err != nil {
		return "", err
	}
	b.WriteString(s[last:])
	return b.String(), nil
}

// Bind rewrites each ${name} occurrence into a positional driver placeholder
// produced by mark (1-based) and returns the names in binding order.
// Repeated references bind repeatedly.
func Bind(s string, mark func(i int) string) (string, []string) {
	var (
		b     strings.Builder
		last  int
		names []string
	)
	scan(s, func(start, end int, name string) {
		names = append(names, name)
		b.WriteString(s[last:start])
		b.WriteString(mark(len(names)))
		last = end
	})
	b.WriteString(s[last:])
	return b.String(), names
}

func scan(s string, fn func(start, end int, name string)) {
	for i := 0; i < len(s); {
		j := strings.Index(s[i:], "${")
		if j < 0 {
			return
		}
		start := i + j
		k := strings.IndexByte(s[start+2:], '}')
		if k < 0 {
			return
		}
		end := start + 2 + k + 1
		if name := strings.TrimSpace(s[start+2 : end-1]); name != "" {
			fn(start, end, name)
		}
		i = end
	}
}
