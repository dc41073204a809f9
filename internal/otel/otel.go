// Package otel turns execution events into OpenTelemetry spans.
package otel

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/hanpama/planexec/internal/eventbus"
	"github.com/hanpama/planexec/internal/events"
	"github.com/hanpama/planexec/internal/reqid"
)

// Setup configures an OTLP exporter and attaches the span subscriber.
// If endpoint is empty, no telemetry is configured.
func Setup(endpoint, service string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	exp, err := otlptracegrpc.New(context.Background(),
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure())
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(service),
		)),
	)
	otel.SetTracerProvider(tp)
	unsubscribe := Subscribe(otel.Tracer("planexec"))

	return func(ctx context.Context) error {
		unsubscribe()
		return tp.Shutdown(ctx)
	}, nil
}

// spans tracks the open spans of one execution. Traversal is depth-first
// and single threaded, so node spans form a stack.
type spans struct {
	http  trace.Span
	plan  trace.Span
	nodes []trace.Span
	call  trace.Span
}

type subscriber struct {
	tracer trace.Tracer

	mu   sync.Mutex
	byID map[string]*spans
}

// Subscribe registers span handlers with the global bus.
func Subscribe(tracer trace.Tracer) (unsubscribe func()) {
	s := &subscriber{tracer: tracer, byID: map[string]*spans{}}
	return s.register()
}

func (s *subscriber) get(ctx context.Context) (string, *spans) {
	rid, _ := reqid.FromContext(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	sp := s.byID[rid]
	if sp == nil {
		sp = &spans{}
		s.byID[rid] = sp
	}
	return rid, sp
}

func (s *subscriber) drop(rid string) {
	s.mu.Lock()
	delete(s.byID, rid)
	s.mu.Unlock()
}

// parent returns ctx carrying the innermost open span.
func (sp *spans) parent(ctx context.Context) context.Context {
	switch {
	case len(sp.nodes) > 0:
		return trace.ContextWithSpan(ctx, sp.nodes[len(sp.nodes)-1])
	case sp.plan != nil:
		return trace.ContextWithSpan(ctx, sp.plan)
	case sp.http != nil:
		return trace.ContextWithSpan(ctx, sp.http)
	}
	return ctx
}

func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (s *subscriber) register() func() {
	unsubs := []func(){
		eventbus.Subscribe(func(ctx context.Context, e events.HTTPStart) {
			_, sp := s.get(ctx)
			_, sp.http = s.tracer.Start(ctx, "http.request", trace.WithAttributes(
				semconv.HTTPMethodKey.String(e.Request.Method),
				attribute.String("http.target", e.Request.URL.Path),
			))
		}),
		eventbus.Subscribe(func(ctx context.Context, e events.HTTPFinish) {
			rid, sp := s.get(ctx)
			defer s.drop(rid)
			if sp.http == nil {
				return
			}
			sp.http.SetAttributes(semconv.HTTPStatusCodeKey.Int(e.Status), attribute.Int64("http.response_bytes", e.Bytes))
			sp.http.End()
		}),
		eventbus.Subscribe(func(ctx context.Context, e events.PlanStart) {
			_, sp := s.get(ctx)
			_, sp.plan = s.tracer.Start(sp.parent(ctx), "plan.execute", trace.WithAttributes(
				attribute.String("plan.execution_id", e.ExecutionID),
				attribute.String("plan.session", e.Session),
				attribute.String("plan.root", e.RootKind),
			))
		}),
		eventbus.Subscribe(func(ctx context.Context, e events.PlanFinish) {
			rid, sp := s.get(ctx)
			if sp.plan != nil {
				finish(sp.plan, e.Err)
				sp.plan = nil
			}
			sp.nodes = nil
			if sp.http == nil {
				s.drop(rid)
			}
		}),
		eventbus.Subscribe(func(ctx context.Context, e events.NodeStart) {
			_, sp := s.get(ctx)
			_, span := s.tracer.Start(sp.parent(ctx), "node."+e.Kind, trace.WithAttributes(
				attribute.String("node.id", e.NodeID),
			))
			sp.nodes = append(sp.nodes, span)
		}),
		eventbus.Subscribe(func(ctx context.Context, e events.NodeFinish) {
			_, sp := s.get(ctx)
			if len(sp.nodes) == 0 {
				return
			}
			span := sp.nodes[len(sp.nodes)-1]
			sp.nodes = sp.nodes[:len(sp.nodes)-1]
			span.SetAttributes(attribute.String("result.variant", e.Variant))
			finish(span, e.Err)
		}),
		eventbus.Subscribe(func(ctx context.Context, e events.ServiceCallStart) {
			_, sp := s.get(ctx)
			_, sp.call = s.tracer.Start(sp.parent(ctx), "http.client", trace.WithAttributes(
				semconv.HTTPMethodKey.String(e.Method),
				semconv.HTTPURLKey.String(e.URL),
			))
		}),
		eventbus.Subscribe(func(ctx context.Context, e events.ServiceCallFinish) {
			_, sp := s.get(ctx)
			if sp.call == nil {
				return
			}
			sp.call.SetAttributes(semconv.HTTPStatusCodeKey.Int(e.Status))
			finish(sp.call, e.Err)
			sp.call = nil
		}),
		eventbus.Subscribe(func(ctx context.Context, e events.GRPCClientStart) {
			_, sp := s.get(ctx)
			_, sp.call = s.tracer.Start(sp.parent(ctx), "grpc.client", trace.WithAttributes(
				semconv.RPCServiceKey.String(e.Service),
				semconv.RPCMethodKey.String(e.Method),
				attribute.String("net.peer.name", e.Target),
			))
		}),
		eventbus.Subscribe(func(ctx context.Context, e events.GRPCClientFinish) {
			_, sp := s.get(ctx)
			if sp.call == nil {
				return
			}
			sp.call.SetAttributes(attribute.String("grpc.code", e.Code.String()))
			finish(sp.call, e.Err)
			sp.call = nil
		}),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}
