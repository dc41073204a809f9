package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hanpama/planexec/internal/conn"
	"github.com/hanpama/planexec/internal/eventbus"
	"github.com/hanpama/planexec/internal/events"
	"github.com/hanpama/planexec/internal/executor"
	"github.com/hanpama/planexec/internal/identity"
	"github.com/hanpama/planexec/internal/log"
	"github.com/hanpama/planexec/internal/plan"
	"github.com/hanpama/planexec/internal/realize"
	"github.com/hanpama/planexec/internal/reqid"
	"github.com/hanpama/planexec/internal/result"
	"github.com/hanpama/planexec/internal/serialize"
	"github.com/hanpama/planexec/internal/streamread"
)

const (
	HeaderSession   = "X-Session-ID"
	HeaderIdentity  = "X-Identity"
	HeaderExecution = "X-Execution-ID"

	// statusClientClosed is reported when the execution was cancelled.
	statusClientClosed = 499
)

// Handler is an http.Handler that executes posted plans and streams their
// serialized results.
type Handler struct {
	engine *executor.Engine
	opt    Options
	mux    *http.ServeMux
}

type Options struct {
	// Timeout sets a default timeout if the incoming request context has none.
	// 0 means no default timeout.
	Timeout time.Duration

	// Pretty enables indented JSON error bodies.
	Pretty bool

	// MaxBodyBytes limits the size of the posted plan. 0 means unlimited.
	MaxBodyBytes int64

	// MaxResponseBytes caps the serialized result. 0 means unlimited.
	MaxResponseBytes int64

	// CORS configuration. If AllowedOrigins is empty, CORS is disabled.
	CORS CORSOptions

	// Metrics is mounted on /metrics when set.
	Metrics http.Handler
}

type Option func(*Options)

func WithTimeout(d time.Duration) Option  { return func(o *Options) { o.Timeout = d } }
func WithPretty() Option                  { return func(o *Options) { o.Pretty = true } }
func WithMaxBodyBytes(n int64) Option     { return func(o *Options) { o.MaxBodyBytes = n } }
func WithMaxResponseBytes(n int64) Option { return func(o *Options) { o.MaxResponseBytes = n } }
func WithMetrics(h http.Handler) Option   { return func(o *Options) { o.Metrics = h } }
func WithCORS(origins ...string) Option {
	return func(o *Options) { o.CORS.AllowedOrigins = origins }
}

// CORSOptions holds simple CORS settings.
type CORSOptions struct {
	AllowedOrigins []string
}

// New creates the handler and enables session tracking on the engine's
// registry.
func New(engine *executor.Engine, opts ...Option) *Handler {
	op := Options{Timeout: 5 * time.Minute}
	for _, f := range opts {
		f(&op)
	}
	engine.Registry().Register()
	h := &Handler{engine: engine, opt: op, mux: http.NewServeMux()}
	h.mux.HandleFunc("POST /execute", h.execute)
	h.mux.HandleFunc("GET /sessions/{id}", h.session)
	h.mux.HandleFunc("DELETE /sessions/{id}", h.cancelSession)
	h.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "kinds": h.engine.Kinds()}, op.Pretty)
	})
	if op.Metrics != nil {
		h.mux.Handle("GET /metrics", op.Metrics)
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := ctx.Deadline(); !ok && h.opt.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.opt.Timeout)
		defer cancel()
	}
	var rid string
	if id := r.Header.Get(HeaderExecution); id != "" {
		ctx, rid = reqid.WithID(ctx, id), id
	} else {
		ctx, rid = reqid.NewContext(ctx)
	}
	w.Header().Set(HeaderExecution, rid)

	rec := &recorder{ResponseWriter: w}
	start := time.Now()
	eventbus.Publish(ctx, events.HTTPStart{Request: r})
	defer func() {
		eventbus.Publish(ctx, events.HTTPFinish{Request: r, Status: rec.status(), Bytes: rec.bytes, Duration: time.Since(start)})
	}()

	if len(h.opt.CORS.AllowedOrigins) > 0 {
		setCORSHeaders(w, r, h.opt.CORS)
	}
	if r.Method == http.MethodOptions {
		rec.WriteHeader(http.StatusNoContent)
		return
	}
	h.mux.ServeHTTP(rec, r.WithContext(ctx))
}

func (h *Handler) execute(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	format, err := serialize.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		h.fail(w, err)
		return
	}
	body, err := readBody(r, h.opt.MaxBodyBytes)
	if err != nil {
		h.fail(w, err)
		return
	}
	root, err := plan.Decode(body)
	if err != nil {
		h.fail(w, err)
		return
	}

	caller := identity.Anonymous()
	if name := r.Header.Get(HeaderIdentity); name != "" {
		caller = identity.Identity{Name: name}
	}
	session := r.Header.Get(HeaderSession)
	if session == "" {
		session = uuid.NewString()
	}
	ctx = identity.NewContext(ctx, caller)
	st := executor.NewState(caller, session)

	res, err := h.engine.Run(ctx, root, st)
	if err != nil {
		h.fail(w, err)
		return
	}
	stream, err := serializer(res, format)
	if err != nil {
		h.fail(w, errors.CombineErrors(err, res.Close()))
		return
	}

	lw := &lazyWriter{w: w, header: func(hdr http.Header) {
		hdr.Set("Content-Type", contentType(res, format))
		hdr.Set(HeaderSession, session)
	}}
	var out io.Writer = lw
	if h.opt.MaxResponseBytes > 0 {
		out = realize.Limit(lw, h.opt.MaxResponseBytes)
	}
	if err := stream(out); err != nil {
		if !lw.started {
			h.fail(w, err)
			return
		}
		// Headers are already sent.
		log.Warn("result stream failed", zap.String("session", session), zap.Error(err))
		panic(http.ErrAbortHandler)
	}
	if !lw.started {
		lw.start()
	}
}

func serializer(r result.Result, f serialize.Format) (func(io.Writer) error, error) {
	if _, ok := r.(*result.Raw); ok {
		return func(w io.Writer) error { return serialize.Write(w, r, f) }, nil
	}
	s, err := serialize.For(r, f)
	if err != nil {
		return nil, err
	}
	return s.Stream, nil
}

func contentType(r result.Result, f serialize.Format) string {
	if _, ok := r.(*result.Raw); ok {
		return "application/octet-stream"
	}
	return f.ContentType()
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	writeJSON(w, http.StatusOK, map[string]any{"session": id, "running": h.engine.Registry().Running(id)}, h.opt.Pretty)
}

func (h *Handler) cancelSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	n, err := h.engine.Registry().CancelAll(r.Context(), id)
	resp := map[string]any{"session": id, "cancelled": n}
	if err != nil {
		resp["error"] = err.Error()
	}
	writeJSON(w, http.StatusOK, resp, h.opt.Pretty)
}

// ------------------ Request parsing ------------------

var errBodyTooLarge = errors.New("body too large")

func readBody(r *http.Request, maxBody int64) ([]byte, error) {
	defer r.Body.Close()
	reader := io.Reader(r.Body)
	if maxBody > 0 {
		reader = io.LimitReader(r.Body, maxBody+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "read body"), plan.ErrInvalidPlan)
	}
	if maxBody > 0 && int64(len(body)) > maxBody {
		return nil, errors.Wrapf(errBodyTooLarge, "limit %d bytes", maxBody)
	}
	if len(body) == 0 {
		return nil, errors.Mark(errors.New("empty plan"), plan.ErrInvalidPlan)
	}
	return body, nil
}

// ------------------ Response formatting ------------------

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Message   string `json:"message"`
	Kind      string `json:"kind"`
	Retryable bool   `json:"retryable"`
}

// classify maps the error taxonomy onto HTTP statuses.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		return http.StatusRequestEntityTooLarge, "requestTooLarge"
	case errors.Is(err, realize.ErrSizeLimitExceeded):
		return http.StatusRequestEntityTooLarge, "sizeLimitExceeded"
	case errors.Is(err, plan.ErrInvalidPlan):
		return http.StatusBadRequest, "invalidPlan"
	case errors.Is(err, executor.ErrUnsupportedNode):
		return http.StatusBadRequest, "unsupportedNode"
	case errors.Is(err, serialize.ErrSerializationUnsupported):
		return http.StatusBadRequest, "serializationUnsupported"
	case errors.Is(err, executor.ErrDependencyMismatch):
		return http.StatusBadRequest, "dependencyMismatch"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, streamread.ErrStreamTimeout):
		return http.StatusGatewayTimeout, "timeout"
	case errors.Is(err, conn.ErrConnectionUnavailable):
		return http.StatusBadGateway, "connectionUnavailable"
	case errors.Is(err, executor.ErrBackendFailure):
		return http.StatusBadGateway, "backendFailure"
	case errors.Is(err, context.Canceled):
		return statusClientClosed, "cancelled"
	}
	return http.StatusInternalServerError, "internal"
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	status, kind := classify(err)
	if status >= http.StatusInternalServerError {
		log.Error("plan execution failed", zap.String("kind", kind), zap.Error(err))
	}
	writeJSON(w, status, errorBody{Error: errorDetail{
		Message:   err.Error(),
		Kind:      kind,
		Retryable: executor.Retryable(err),
	}}, h.opt.Pretty)
}

func writeJSON(w http.ResponseWriter, status int, v any, pretty bool) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	_ = enc.Encode(v)
}

// lazyWriter defers the 200 header until the serializer produces its first
// byte, so failures before that can still be reported with a status.
type lazyWriter struct {
	w       http.ResponseWriter
	header  func(http.Header)
	started bool
}

func (l *lazyWriter) start() {
	l.started = true
	l.header(l.w.Header())
	l.w.WriteHeader(http.StatusOK)
}

func (l *lazyWriter) Write(p []byte) (int, error) {
	if !l.started {
		l.start()
	}
	return l.w.Write(p)
}

// recorder captures the status and body size for HTTPFinish.
type recorder struct {
	http.ResponseWriter
	code  int
	bytes int64
}

func (r *recorder) WriteHeader(code int) {
	if r.code == 0 {
		r.code = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *recorder) Write(p []byte) (int, error) {
	if r.code == 0 {
		r.code = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(p)
	r.bytes += int64(n)
	return n, err
}

func (r *recorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *recorder) status() int {
	if r.code == 0 {
		return http.StatusOK
	}
	return r.code
}

func setCORSHeaders(w http.ResponseWriter, r *http.Request, opts CORSOptions) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}
	if !slices.Contains(opts.AllowedOrigins, "*") && !slices.Contains(opts.AllowedOrigins, origin) {
		return
	}
	if slices.Contains(opts.AllowedOrigins, "*") {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	} else {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Add("Vary", "Origin")
	}
	w.Header().Set("Access-Control-Expose-Headers", strings.Join([]string{HeaderSession, HeaderExecution}, ","))
	if r.Method == http.MethodOptions {
		if hdr := r.Header.Get("Access-Control-Request-Headers"); hdr != "" {
			w.Header().Set("Access-Control-Allow-Headers", hdr)
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,DELETE,OPTIONS")
	}
}
