package grpcsvc

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// CallRecord captures a single Call invocation for assertions.
type CallRecord struct {
	Endpoint string
	// FullMethod is "/<service full name>/<method>".
	FullMethod string
	// Request is a deep-cloned snapshot of the input.
	Request proto.Message
}

// MockTransport returns pre-seeded responses in order and records every
// call.
type MockTransport struct {
	mu        sync.Mutex
	responses []protoreflect.Message
	errs      []error
	idx       int
	calls     []CallRecord
}

func NewMockTransport(responses ...protoreflect.Message) *MockTransport {
	return &MockTransport{responses: append([]protoreflect.Message(nil), responses...)}
}

// NewMockTransportWithErrors seeds per-call errors alongside responses. For
// call i a non-nil errs[i] takes precedence over responses[i].
func NewMockTransportWithErrors(responses []protoreflect.Message, errs []error) *MockTransport {
	return &MockTransport{
		responses: append([]protoreflect.Message(nil), responses...),
		errs:      append([]error(nil), errs...),
	}
}

func (m *MockTransport) Call(_ context.Context, endpoint string, method protoreflect.MethodDescriptor, request protoreflect.Message) (protoreflect.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var reqClone proto.Message
	if request != nil {
		reqClone = proto.Clone(request.Interface())
	}
	m.calls = append(m.calls, CallRecord{Endpoint: endpoint, FullMethod: FullMethod(method), Request: reqClone})

	if m.idx >= len(m.responses) && m.idx >= len(m.errs) {
		return nil, errors.New("mock transport: no more responses")
	}
	i := m.idx
	m.idx++
	if i < len(m.errs) && m.errs[i] != nil {
		return nil, m.errs[i]
	}
	if i < len(m.responses) {
		return m.responses[i], nil
	}
	return nil, nil
}

// Calls returns a snapshot of recorded invocations.
func (m *MockTransport) Calls() []CallRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]CallRecord(nil), m.calls...)
}
