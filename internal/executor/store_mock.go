package executor

import (
	"context"
	"sync"

	"github.com/hanpama/planexec/internal/plan"
	"github.com/hanpama/planexec/internal/result"
)

// MockHandler handles a node for a MockStore.
type MockHandler func(ctx context.Context, n plan.Node, st *State) (result.Result, error)

// NewMockValueHandler returns a MockHandler that always returns a Constant
// holding val.
func NewMockValueHandler(val any) MockHandler {
	return func(ctx context.Context, n plan.Node, st *State) (result.Result, error) {
		return result.NewConstant(val), nil
	}
}

// NewMockErrorHandler returns a MockHandler that always fails with err.
func NewMockErrorHandler(err error) MockHandler {
	return func(ctx context.Context, n plan.Node, st *State) (result.Result, error) {
		return nil, err
	}
}

// MockCall records one handler invocation.
type MockCall struct {
	Kind   plan.Kind
	NodeID string
}

// MockStore implements Store with a handler per kind and a call log.
type MockStore struct {
	name string

	mu       sync.Mutex
	handlers map[plan.Kind]MockHandler
	calls    []MockCall
}

func NewMockStore(name string, handlers map[plan.Kind]MockHandler) *MockStore {
	m := &MockStore{name: name, handlers: make(map[plan.Kind]MockHandler, len(handlers))}
	for k, h := range handlers {
		m.handlers[k] = h
	}
	return m
}

func (m *MockStore) Name() string { return m.name }

func (m *MockStore) Handlers() map[plan.Kind]Handler {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[plan.Kind]Handler, len(m.handlers))
	for k, h := range m.handlers {
		h := h
		out[k] = HandlerFunc(func(ctx context.Context, n plan.Node, st *State) (result.Result, error) {
			m.mu.Lock()
			m.calls = append(m.calls, MockCall{Kind: n.Kind(), NodeID: n.NodeID()})
			m.mu.Unlock()
			return h(ctx, n, st)
		})
	}
	return out
}

// GetCalls returns a copy of the call log.
func (m *MockStore) GetCalls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockCall(nil), m.calls...)
}
