// Package service executes serviceCall and graphqlCall nodes over HTTP.
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/hanpama/planexec/internal/conn"
	"github.com/hanpama/planexec/internal/eventbus"
	"github.com/hanpama/planexec/internal/events"
	"github.com/hanpama/planexec/internal/executor"
	"github.com/hanpama/planexec/internal/plan"
	"github.com/hanpama/planexec/internal/result"
)

// ActivityType tags the activity recorded for every outbound call.
const ActivityType = "service"

type Store struct {
	opts *Options
}

func New(opts ...Option) *Store {
	o := defaultOptions()
	for _, f := range opts {
		f(o)
	}
	return &Store{opts: o}
}

func (s *Store) Name() string { return "service" }

func (s *Store) Handlers() map[plan.Kind]executor.Handler {
	return map[plan.Kind]executor.Handler{
		plan.KindServiceCall: executor.HandlerFunc(s.serviceCall),
		plan.KindGraphQLCall: executor.HandlerFunc(s.graphqlCall),
	}
}

// call is one prepared outbound request.
type call struct {
	nodeID  string
	method  string
	url     string
	headers map[string]string
	body    []byte
	auth    *plan.AuthStrategy
}

// response is an open HTTP response with a decoded body.
type response struct {
	status int
	header http.Header
	body   io.ReadCloser
}

// do sends c. On success the caller owns the response body; any non 2xx
// status is reported as a backend failure.
func (s *Store) do(ctx context.Context, st *executor.State, c call) (*response, error) {
	redacted := executor.RedactURL(c.url)
	if _, ok := ctx.Deadline(); !ok && s.opts.Timeout > 0 {
		// released with the response body
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		resp, err := s.send(ctx, st, c, redacted)
		if err != nil {
			cancel()
			return nil, err
		}
		resp.body = closeHook(resp.body, cancel)
		return resp, nil
	}
	return s.send(ctx, st, c, redacted)
}

func (s *Store) send(ctx context.Context, st *executor.State, c call, redacted string) (*response, error) {
	var body io.Reader
	if c.body != nil {
		body = bytes.NewReader(c.body)
	}
	req, err := http.NewRequestWithContext(ctx, c.method, c.url, body)
	if err != nil {
		return nil, executor.BackendFailure(err, c.nodeID, redacted)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Accept-Encoding", "gzip, zstd")
	if c.auth != nil {
		if err := s.authenticate(ctx, st, req, *c.auth); err != nil {
			return nil, err
		}
	}

	start := time.Now()
	eventbus.Publish(ctx, events.ServiceCallStart{NodeID: c.nodeID, Method: c.method, URL: redacted})
	resp, err := s.opts.Client.Do(req)
	fin := events.ServiceCallFinish{NodeID: c.nodeID, Method: c.method, URL: redacted, Err: err}
	if resp != nil {
		fin.Status = resp.StatusCode
	}
	if err != nil {
		fin.Duration = time.Since(start)
		eventbus.Publish(ctx, fin)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, executor.BackendFailure(scrubURL(err), c.nodeID, redacted)
	}
	rc, err := decodeBody(resp)
	switch {
	case err != nil:
		err = executor.BackendFailure(err, c.nodeID, redacted)
	case resp.StatusCode/100 != 2:
		msg, _ := io.ReadAll(io.LimitReader(rc, s.opts.MaxErrorBody))
		_ = rc.Close()
		err = executor.BackendFailure(
			errors.Newf("status %d: %s", errors.Safe(resp.StatusCode), strings.TrimSpace(string(msg))),
			c.nodeID, redacted)
	}
	fin.Err = err
	fin.Duration = time.Since(start)
	eventbus.Publish(ctx, fin)
	if err != nil {
		return nil, err
	}
	st.AddActivity(result.Activity{Type: ActivityType, Detail: c.method + " " + redacted})
	return &response{status: resp.StatusCode, header: resp.Header, body: rc}, nil
}

func (s *Store) authenticate(ctx context.Context, st *executor.State, req *http.Request, auth plan.AuthStrategy) error {
	if auth.Type == "" || auth.Type == plan.AuthTest {
		return nil
	}
	if s.opts.Resolver == nil {
		return errors.Newf("no credential resolver configured for %s authentication", errors.Safe(auth.Type))
	}
	cred, err := s.opts.Resolver.Resolve(ctx, st.Identity, auth)
	if err != nil {
		return err
	}
	applyCredential(req, cred)
	return nil
}

func applyCredential(req *http.Request, cred conn.Credential) {
	switch {
	case cred.Password != "":
		req.SetBasicAuth(cred.User, cred.Password)
	case cred.Token != "" && cred.Header != "":
		req.Header.Set(cred.Header, cred.Token)
	case cred.Token != "":
		req.Header.Set("Authorization", "Bearer "+cred.Token)
	case cred.User != "":
		req.Header.Set("X-Forwarded-User", cred.User)
	}
}

// decodeBody undoes the content encoding negotiated in send.
func decodeBody(resp *http.Response) (io.ReadCloser, error) {
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "", "identity":
		return resp.Body, nil
	case "gzip":
		zr, err := gzip.NewReader(resp.Body)
		if err != nil {
			_ = resp.Body.Close()
			return nil, err
		}
		return readCloser{Reader: zr, close: func() error {
			return errors.CombineErrors(zr.Close(), resp.Body.Close())
		}}, nil
	case "zstd":
		zr, err := zstd.NewReader(resp.Body)
		if err != nil {
			_ = resp.Body.Close()
			return nil, err
		}
		return readCloser{Reader: zr, close: func() error {
			zr.Close()
			return resp.Body.Close()
		}}, nil
	default:
		_ = resp.Body.Close()
		return nil, errors.Newf("unsupported content encoding %q", resp.Header.Get("Content-Encoding"))
	}
}

type readCloser struct {
	io.Reader
	close func() error
}

func (r readCloser) Close() error { return r.close() }

func closeHook(rc io.ReadCloser, fn func()) io.ReadCloser {
	return readCloser{Reader: rc, close: func() error {
		defer fn()
		return rc.Close()
	}}
}

func isJSON(contentType string) bool {
	if contentType == "" {
		return true
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}

// scrubURL drops the request URL from transport errors; it is reported
// separately in redacted form.
func scrubURL(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return errors.Newf("%s: %s", errors.Safe(ue.Op), ue.Err)
	}
	return err
}

// render formats an input value for substitution into a template.
func render(v any) string {
	switch v := plan.Normalize(v).(type) {
	case nil:
		return ""
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(b)
	}
}

// publish stores every declared output of doc in st.
func publish(st *executor.State, nodeID string, outputs []plan.Output, doc any) error {
	for _, o := range outputs {
		v, err := plan.LookupPath(doc, o.Path)
		if err != nil {
			return errors.Mark(
				errors.Wrapf(err, "node %s output %s", errors.Safe(nodeID), errors.Safe(o.Name)),
				executor.ErrDependencyMismatch)
		}
		st.Set(o.Name, result.NewConstant(v))
	}
	return nil
}

func decodeJSON(r io.Reader) (any, error) {
	var doc any
	dec := json.NewDecoder(r)
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	return doc, nil
}
