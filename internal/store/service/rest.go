package service

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"

	"github.com/cockroachdb/errors"

	"github.com/hanpama/planexec/internal/executor"
	"github.com/hanpama/planexec/internal/plan"
	"github.com/hanpama/planexec/internal/result"
	"github.com/hanpama/planexec/internal/streamread"
)

func (s *Store) serviceCall(ctx context.Context, n plan.Node, st *executor.State) (result.Result, error) {
	node := n.(*plan.ServiceCall)
	inputs, err := st.Inputs(inputNames(node))
	if err != nil {
		return nil, err
	}
	lookup := func(escape func(string) string) func(string) (string, error) {
		return func(name string) (string, error) {
			v, ok := inputs[name]
			if !ok {
				return "", errors.Mark(errors.Newf("no value published for input %s", errors.Safe(name)), executor.ErrDependencyMismatch)
			}
			return escape(render(v)), nil
		}
	}
	raw := func(s string) string { return s }

	target, err := plan.Expand(node.URL, lookup(url.PathEscape))
	if err != nil {
		return nil, err
	}
	headers := make(map[string]string, len(node.Headers))
	for k, v := range node.Headers {
		if headers[k], err = plan.Expand(v, lookup(raw)); err != nil {
			return nil, err
		}
	}
	var body []byte
	if node.Body != "" {
		b, err := plan.Expand(node.Body, lookup(raw))
		if err != nil {
			return nil, err
		}
		body = []byte(b)
		if _, ok := headers["Content-Type"]; !ok && json.Valid(body) {
			headers["Content-Type"] = "application/json"
		}
	}

	resp, err := s.do(ctx, st, call{
		nodeID:  node.ID,
		method:  node.Method,
		url:     target,
		headers: headers,
		body:    body,
		auth:    node.Auth,
	})
	if err != nil {
		return nil, err
	}

	switch {
	case len(node.Outputs) > 0:
		defer resp.body.Close()
		doc, err := decodeJSON(resp.body)
		if err != nil {
			return nil, executor.BackendFailure(err, node.ID, executor.RedactURL(target))
		}
		if err := publish(st, node.ID, node.Outputs, doc); err != nil {
			return nil, err
		}
		return result.NewConstant(doc, withStatus(resp.status)), nil
	case !isJSON(resp.header.Get("Content-Type")):
		return result.NewRaw(resp.body, withStatus(resp.status)), nil
	case node.Stream:
		rd := streamread.Start(ctx, arrayProducer(resp.body),
			streamread.WithCapacity(s.opts.StreamCapacity),
			streamread.WithStallTimeout(s.opts.StallTimeout))
		// closers run newest first: the body closes before the reader waits
		// for its producer
		return result.NewStream(rd.All(),
			result.WithCloser(rd.Close),
			result.WithCloser(resp.body.Close),
			withStatus(resp.status)), nil
	}
	return result.NewJSONStream(func(w io.Writer) error {
		_, err := io.Copy(w, resp.body)
		return err
	}, result.WithCloser(resp.body.Close), withStatus(resp.status)), nil
}

func withStatus(code int) result.Option { return result.WithStatus(http.StatusText(code)) }

// inputNames lists declared inputs followed by any other template reference.
func inputNames(n *plan.ServiceCall) []string {
	seen := map[string]bool{}
	var out []string
	add := func(names ...string) {
		for _, name := range names {
			if !seen[name] {
				seen[name] = true
				out = append(out, name)
			}
		}
	}
	add(n.Inputs...)
	add(plan.Placeholders(n.URL)...)
	for _, v := range n.Headers {
		add(plan.Placeholders(v)...)
	}
	add(plan.Placeholders(n.Body)...)
	return out
}

// arrayProducer decodes the elements of a top-level JSON array one at a time.
// A non-array document is emitted as a single record.
func arrayProducer(r io.Reader) streamread.Producer[any] {
	return func(ctx context.Context, emit func(any) error) error {
		dec := json.NewDecoder(r)
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		if delim, ok := tok.(json.Delim); !ok || delim != '[' {
			return errors.Newf("streamed response must be a JSON array, found %v", tok)
		}
		for dec.More() {
			var rec any
			if err := dec.Decode(&rec); err != nil {
				return err
			}
			if err := emit(rec); err != nil {
				return err
			}
		}
		_, err = dec.Token()
		return err
	}
}
