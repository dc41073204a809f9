package otel

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"google.golang.org/grpc/codes"

	"github.com/hanpama/planexec/internal/eventbus"
	"github.com/hanpama/planexec/internal/events"
	"github.com/hanpama/planexec/internal/reqid"
)

func TestSpansNestPerExecution(t *testing.T) {
	bus := eventbus.New()
	prev := eventbus.Current()
	eventbus.Use(bus)
	defer eventbus.Use(prev)

	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	unsubscribe := Subscribe(tp.Tracer("test"))
	defer unsubscribe()

	ctx := reqid.WithID(context.Background(), "exec-1")
	req := httptest.NewRequest("POST", "/execute", nil)
	eventbus.Publish(ctx, events.HTTPStart{Request: req})
	eventbus.Publish(ctx, events.PlanStart{ExecutionID: "exec-1", RootKind: "sequence"})
	eventbus.Publish(ctx, events.NodeStart{Kind: "sequence", NodeID: "root"})
	eventbus.Publish(ctx, events.NodeStart{Kind: "serviceCall", NodeID: "people"})
	eventbus.Publish(ctx, events.ServiceCallStart{NodeID: "people", Method: "GET", URL: "http://people/1"})
	eventbus.Publish(ctx, events.ServiceCallFinish{NodeID: "people", Status: 200})
	eventbus.Publish(ctx, events.NodeFinish{Kind: "serviceCall", NodeID: "people", Variant: "constant"})
	eventbus.Publish(ctx, events.NodeStart{Kind: "grpcCall", NodeID: "g"})
	eventbus.Publish(ctx, events.GRPCClientStart{NodeID: "g", Service: "people.PersonService", Method: "GetPerson"})
	eventbus.Publish(ctx, events.GRPCClientFinish{NodeID: "g", Code: codes.Unavailable, Err: errors.New("down")})
	eventbus.Publish(ctx, events.NodeFinish{Kind: "grpcCall", NodeID: "g", Err: errors.New("down")})
	eventbus.Publish(ctx, events.NodeFinish{Kind: "sequence", NodeID: "root", Err: errors.New("down")})
	eventbus.Publish(ctx, events.PlanFinish{ExecutionID: "exec-1", Err: errors.New("down")})
	eventbus.Publish(ctx, events.HTTPFinish{Request: req, Status: 502, Bytes: 10})

	byName := map[string]sdktrace.ReadOnlySpan{}
	for _, s := range rec.Ended() {
		byName[s.Name()] = s
	}
	require.Len(t, byName, 7)
	parentOf := func(child, parent string) {
		t.Helper()
		require.Equal(t, byName[parent].SpanContext().SpanID(), byName[child].Parent().SpanID(), "%s under %s", child, parent)
	}
	parentOf("plan.execute", "http.request")
	parentOf("node.sequence", "plan.execute")
	parentOf("node.serviceCall", "node.sequence")
	parentOf("http.client", "node.serviceCall")
	parentOf("node.grpcCall", "node.sequence")
	parentOf("grpc.client", "node.grpcCall")

	require.Equal(t, "Error", byName["grpc.client"].Status().Code.String())
	require.Equal(t, "Unset", byName["http.client"].Status().Code.String())

	require.Equal(t, byName["http.request"].SpanContext().TraceID(), byName["grpc.client"].SpanContext().TraceID())
}

func TestExecutionsDoNotShareSpans(t *testing.T) {
	bus := eventbus.New()
	prev := eventbus.Current()
	eventbus.Use(bus)
	defer eventbus.Use(prev)

	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	unsubscribe := Subscribe(tp.Tracer("test"))

	a := reqid.WithID(context.Background(), "a")
	b := reqid.WithID(context.Background(), "b")
	eventbus.Publish(a, events.PlanStart{ExecutionID: "a"})
	eventbus.Publish(b, events.PlanStart{ExecutionID: "b"})
	eventbus.Publish(b, events.PlanFinish{ExecutionID: "b"})
	eventbus.Publish(a, events.PlanFinish{ExecutionID: "a"})

	ended := rec.Ended()
	require.Len(t, ended, 2)
	require.NotEqual(t, ended[0].SpanContext().TraceID(), ended[1].SpanContext().TraceID())

	unsubscribe()
	eventbus.Publish(a, events.PlanStart{ExecutionID: "a"})
	require.Zero(t, eventbus.Len[events.PlanStart](bus))
}

func TestSetupWithoutEndpoint(t *testing.T) {
	shutdown, err := Setup("", "planexec")
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}
