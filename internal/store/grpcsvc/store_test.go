package grpcsvc

import (
	"context"
	"net"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/hanpama/planexec/internal/eventbus"
	"github.com/hanpama/planexec/internal/events"
	"github.com/hanpama/planexec/internal/executor"
	"github.com/hanpama/planexec/internal/identity"
	"github.com/hanpama/planexec/internal/plan"
	"github.com/hanpama/planexec/internal/result"
)

func stringField(name string, number int32) *descriptorpb.FieldDescriptorProto {
	return &descriptorpb.FieldDescriptorProto{
		Name:     proto.String(name),
		JsonName: proto.String(name),
		Number:   proto.Int32(number),
		Label:    descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
		Type:     descriptorpb.FieldDescriptorProto_TYPE_STRING.Enum(),
	}
}

// personSet describes
//
//	package people;
//	message GetPersonRequest { string id = 1; }
//	message Person { string id = 1; string name = 2; }
//	service PersonService { rpc GetPerson(GetPersonRequest) returns (Person); }
func personSet(t *testing.T) []byte {
	t.Helper()
	file := &descriptorpb.FileDescriptorProto{
		Name:    proto.String("people.proto"),
		Package: proto.String("people"),
		MessageType: []*descriptorpb.DescriptorProto{
			{Name: proto.String("GetPersonRequest"), Field: []*descriptorpb.FieldDescriptorProto{stringField("id", 1)}},
			{Name: proto.String("Person"), Field: []*descriptorpb.FieldDescriptorProto{stringField("id", 1), stringField("name", 2)}},
		},
		Service: []*descriptorpb.ServiceDescriptorProto{{
			Name: proto.String("PersonService"),
			Method: []*descriptorpb.MethodDescriptorProto{{
				Name:       proto.String("GetPerson"),
				InputType:  proto.String(".people.GetPersonRequest"),
				OutputType: proto.String(".people.Person"),
			}},
		}},
		Syntax: proto.String("proto3"),
	}
	b, err := protojson.Marshal(&descriptorpb.FileDescriptorSet{File: []*descriptorpb.FileDescriptorProto{file}})
	require.NoError(t, err)
	return b
}

func person(md protoreflect.MethodDescriptor, id, name string) protoreflect.Message {
	out := dynamicpb.NewMessage(md.Output())
	out.Set(md.Output().Fields().ByName("id"), protoreflect.ValueOfString(id))
	out.Set(md.Output().Fields().ByName("name"), protoreflect.ValueOfString(name))
	return out
}

func TestDescriptorsMethod(t *testing.T) {
	set := personSet(t)
	d := NewDescriptors()
	for _, name := range []string{"people.PersonService/GetPerson", "/people.PersonService/GetPerson", "people.PersonService.GetPerson"} {
		md, err := d.Method(set, name)
		require.NoError(t, err, name)
		require.Equal(t, "/people.PersonService/GetPerson", FullMethod(md))
	}
	for _, name := range []string{"people.PersonService/Missing", "people.Person/GetPerson", "nope", "people.Nope/X"} {
		_, err := d.Method(set, name)
		require.Error(t, err, name)
	}
	_, err := d.Method([]byte(`{"file":[{"name":`), "a.B/C")
	require.Error(t, err)
	require.Len(t, d.files, 1)
}

func TestGRPCCallWithMockTransport(t *testing.T) {
	set := personSet(t)
	md, err := NewDescriptors().Method(set, "people.PersonService/GetPerson")
	require.NoError(t, err)
	mt := NewMockTransport(person(md, "42", "Ada"))

	bus := eventbus.New()
	prev := eventbus.Current()
	eventbus.Use(bus)
	defer eventbus.Use(prev)
	var finished []events.GRPCClientFinish
	eventbus.On(bus, func(_ context.Context, e events.GRPCClientFinish) { finished = append(finished, e) })

	e, err := executor.New([]executor.Store{New(mt, WithEndpointProvider(NewStaticEndpoints(map[string][]string{
		"people.PersonService": {"people:9000"},
	})))})
	require.NoError(t, err)
	st := executor.NewState(identity.Identity{Name: "ada"}, "s1")
	defer st.Close()
	st.Set("personId", result.NewConstant("42"))

	r, err := e.Execute(context.Background(), &plan.GRPCCall{
		ID:          "g",
		Method:      "people.PersonService/GetPerson",
		Descriptors: set,
		Request:     `{"id": ${personId}}`,
		Outputs:     []plan.Output{{Name: "personName", Path: "name"}},
	}, st)
	require.NoError(t, err)
	if diff := cmp.Diff(map[string]any{"id": "42", "name": "Ada"}, r.(*result.Constant).Value); diff != "" {
		t.Fatalf("response mismatch (-want +got):\n%s", diff)
	}
	name, err := st.Constant("personName")
	require.NoError(t, err)
	require.Equal(t, "Ada", name.Value)

	calls := mt.Calls()
	require.Len(t, calls, 1)
	require.Equal(t, "people:9000", calls[0].Endpoint)
	require.Equal(t, "/people.PersonService/GetPerson", calls[0].FullMethod)
	require.Equal(t, "42", calls[0].Request.ProtoReflect().Get(md.Input().Fields().ByName("id")).String())

	require.Len(t, finished, 1)
	require.Equal(t, "g", finished[0].NodeID)
	require.Equal(t, codes.OK, finished[0].Code)
}

type emptyProvider struct{}

func (emptyProvider) Endpoints(context.Context, string) ([]string, error) { return nil, nil }

func TestEmptyProviderAnswerIsNoEndpoints(t *testing.T) {
	e, err := executor.New([]executor.Store{New(NewMockTransport(), WithEndpointProvider(emptyProvider{}))})
	require.NoError(t, err)
	st := executor.NewState(identity.Anonymous(), "")
	defer st.Close()

	_, err = e.Execute(context.Background(), &plan.GRPCCall{ID: "g", Method: "people.PersonService/GetPerson", Descriptors: personSet(t)}, st)
	require.True(t, errors.Is(err, ErrNoEndpoints))
}

func TestGRPCCallFailures(t *testing.T) {
	set := personSet(t)
	mt := NewMockTransportWithErrors(nil, []error{status.Error(codes.Unavailable, "connection refused")})
	e, err := executor.New([]executor.Store{New(mt)})
	require.NoError(t, err)
	st := executor.NewState(identity.Anonymous(), "")
	defer st.Close()

	node := &plan.GRPCCall{ID: "g", Endpoint: "people:9000", Method: "people.PersonService/GetPerson", Descriptors: set}
	_, err = e.Execute(context.Background(), node, st)
	require.True(t, errors.Is(err, executor.ErrBackendFailure))
	require.True(t, executor.Retryable(err))

	_, err = e.Execute(context.Background(), &plan.GRPCCall{Method: "people.PersonService/GetPerson", Descriptors: set}, st)
	require.True(t, errors.Is(err, ErrNoEndpoints))

	_, err = e.Execute(context.Background(), &plan.GRPCCall{
		Endpoint: "people:9000", Method: "people.PersonService/GetPerson", Descriptors: set, Request: `{"id": ${missing}}`,
	}, st)
	require.True(t, errors.Is(err, executor.ErrDependencyMismatch))

	_, err = e.Execute(context.Background(), &plan.GRPCCall{
		Endpoint: "people:9000", Method: "people.PersonService/GetPerson", Descriptors: set, Request: `{"unknown": 1}`,
	}, st)
	require.Error(t, err)
	require.Len(t, mt.Calls(), 1)
}

func TestPooledTransportAgainstServer(t *testing.T) {
	set := personSet(t)
	md, err := NewDescriptors().Method(set, "people.PersonService/GetPerson")
	require.NoError(t, err)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := grpc.NewServer(grpc.UnknownServiceHandler(func(_ any, stream grpc.ServerStream) error {
		fullMethod, _ := grpc.MethodFromServerStream(stream)
		if fullMethod != FullMethod(md) {
			return status.Errorf(codes.Unimplemented, "unknown method %s", fullMethod)
		}
		req := dynamicpb.NewMessage(md.Input())
		if err := stream.RecvMsg(req); err != nil {
			return err
		}
		id := req.Get(md.Input().Fields().ByName("id")).String()
		return stream.SendMsg(person(md, id, "Person "+id))
	}))
	go func() { _ = srv.Serve(lis) }()
	defer srv.Stop()

	tp := NewPooledTransport(WithMaxConnsPerEndpoint(1))
	defer tp.Close()
	e, err := executor.New([]executor.Store{New(tp)})
	require.NoError(t, err)
	st := executor.NewState(identity.Anonymous(), "")
	defer st.Close()

	for _, id := range []string{"1", "2"} {
		st.Set("id", result.NewConstant(id))
		r, err := e.Execute(context.Background(), &plan.GRPCCall{
			Endpoint:    lis.Addr().String(),
			Method:      "people.PersonService/GetPerson",
			Descriptors: set,
			Request:     `{"id": ${id}}`,
		}, st)
		require.NoError(t, err)
		require.Equal(t, map[string]any{"id": id, "name": "Person " + id}, r.(*result.Constant).Value)
	}
	require.Len(t, tp.pools, 1)

	require.NoError(t, tp.Close())
	_, err = tp.Call(context.Background(), lis.Addr().String(), md, dynamicpb.NewMessage(md.Input()))
	require.Error(t, err)
}

func TestStaticEndpoints(t *testing.T) {
	m, err := ParseBackends([]string{"people.PersonService=a:1", "people.PersonService = b:2", "*=fallback:3"})
	require.NoError(t, err)
	if diff := cmp.Diff(map[string][]string{
		"people.PersonService": {"a:1", "b:2"},
		"*":                    {"fallback:3"},
	}, m); diff != "" {
		t.Fatalf("backends mismatch (-want +got):\n%s", diff)
	}
	p := NewStaticEndpoints(m)
	eps, err := p.Endpoints(context.Background(), "people.PersonService")
	require.NoError(t, err)
	require.Equal(t, []string{"a:1", "b:2"}, eps)
	eps, err = p.Endpoints(context.Background(), "billing.InvoiceService")
	require.NoError(t, err)
	require.Equal(t, []string{"fallback:3"}, eps)

	_, err = NewStaticEndpoints(nil).Endpoints(context.Background(), "x.Y")
	require.True(t, errors.Is(err, ErrNoEndpoints))

	for _, bad := range []string{"noequals", "=a:1", "svc="} {
		_, err := ParseBackends([]string{bad})
		require.Error(t, err, bad)
	}
}
