// Package grpcsvc executes grpcCall nodes against gRPC services described by
// descriptor sets embedded in the plan.
package grpcsvc

import (
	"context"
	"encoding/json"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/cockroachdb/errors"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/hanpama/planexec/internal/eventbus"
	"github.com/hanpama/planexec/internal/events"
	"github.com/hanpama/planexec/internal/executor"
	"github.com/hanpama/planexec/internal/plan"
	"github.com/hanpama/planexec/internal/result"
)

// ActivityType tags the activity recorded for every gRPC call.
const ActivityType = "grpc"

type Store struct {
	transport   Transport
	provider    EndpointProvider
	descriptors *Descriptors
}

type StoreOption func(*Store)

// WithEndpointProvider resolves endpoints for nodes that do not name one.
func WithEndpointProvider(p EndpointProvider) StoreOption {
	return func(s *Store) { s.provider = p }
}

func WithDescriptors(d *Descriptors) StoreOption { return func(s *Store) { s.descriptors = d } }

func New(t Transport, opts ...StoreOption) *Store {
	s := &Store{transport: t, descriptors: NewDescriptors()}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) Name() string { return "grpc" }

func (s *Store) Handlers() map[plan.Kind]executor.Handler {
	return map[plan.Kind]executor.Handler{plan.KindGRPCCall: executor.HandlerFunc(s.execute)}
}

func (s *Store) execute(ctx context.Context, n plan.Node, st *executor.State) (result.Result, error) {
	node := n.(*plan.GRPCCall)
	md, err := s.descriptors.Method(node.Descriptors, node.Method)
	if err != nil {
		return nil, errors.Wrapf(err, "grpcCall %s", errors.Safe(node.ID))
	}
	req, err := request(node, md, st)
	if err != nil {
		return nil, err
	}
	service := string(md.Parent().FullName())
	endpoint, err := s.endpoint(ctx, node.Endpoint, service)
	if err != nil {
		return nil, executor.BackendFailure(err, node.ID, service)
	}

	start := time.Now()
	eventbus.Publish(ctx, events.GRPCClientStart{NodeID: node.ID, Service: service, Method: string(md.Name()), Target: endpoint})
	resp, err := s.transport.Call(ctx, endpoint, md, req)
	eventbus.Publish(ctx, events.GRPCClientFinish{
		NodeID:   node.ID,
		Service:  service,
		Method:   string(md.Name()),
		Target:   endpoint,
		Code:     status.Code(err),
		Err:      err,
		Duration: time.Since(start),
	})
	if err != nil {
		if status.Code(err) == codes.Canceled && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, executor.BackendFailure(err, node.ID, endpoint+FullMethod(md))
	}
	if resp == nil {
		return nil, errors.AssertionFailedf("transport returned no response for %s", errors.Safe(FullMethod(md)))
	}
	st.AddActivity(result.Activity{Type: ActivityType, Detail: endpoint + FullMethod(md)})

	b, err := protojson.MarshalOptions{EmitUnpopulated: true}.Marshal(resp.Interface())
	if err != nil {
		return nil, err
	}
	var doc any
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, err
	}
	for _, o := range node.Outputs {
		v, err := plan.LookupPath(doc, o.Path)
		if err != nil {
			return nil, errors.Mark(
				errors.Wrapf(err, "node %s output %s", errors.Safe(node.ID), errors.Safe(o.Name)),
				executor.ErrDependencyMismatch)
		}
		st.Set(o.Name, result.NewConstant(v))
	}
	return result.NewConstant(doc), nil
}

// request expands the JSON request template. Inputs are substituted as JSON
// literals, so placeholders must not be quoted in the template.
func request(node *plan.GRPCCall, md protoreflect.MethodDescriptor, st *executor.State) (*dynamicpb.Message, error) {
	names := append([]string(nil), node.Inputs...)
	for _, p := range plan.Placeholders(node.Request) {
		if !slices.Contains(names, p) {
			names = append(names, p)
		}
	}
	inputs, err := st.Inputs(names)
	if err != nil {
		return nil, err
	}
	body, err := plan.Expand(node.Request, func(name string) (string, error) {
		b, err := json.Marshal(plan.Normalize(inputs[name]))
		return string(b), err
	})
	if err != nil {
		return nil, err
	}
	msg := dynamicpb.NewMessage(md.Input())
	if body == "" {
		return msg, nil
	}
	if err := protojson.Unmarshal([]byte(body), msg); err != nil {
		return nil, errors.Wrapf(err, "grpcCall %s request", errors.Safe(node.ID))
	}
	return msg, nil
}

func (s *Store) endpoint(ctx context.Context, endpoint, service string) (string, error) {
	if endpoint != "" {
		return endpoint, nil
	}
	if s.provider == nil {
		return "", errors.Wrapf(ErrNoEndpoints, "service %s", errors.Safe(service))
	}
	eps, err := s.provider.Endpoints(ctx, service)
	if err != nil {
		return "", err
	}
	if len(eps) == 0 {
		return "", errors.Wrapf(ErrNoEndpoints, "service %s", errors.Safe(service))
	}
	return eps[rand.IntN(len(eps))], nil
}
