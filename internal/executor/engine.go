package executor

import (
	"context"
	"sort"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/hanpama/planexec/internal/eventbus"
	"github.com/hanpama/planexec/internal/events"
	"github.com/hanpama/planexec/internal/executable"
	"github.com/hanpama/planexec/internal/plan"
	"github.com/hanpama/planexec/internal/reqid"
	"github.com/hanpama/planexec/internal/result"
)

// Handler executes one node kind.
type Handler interface {
	Handle(ctx context.Context, n plan.Node, st *State) (result.Result, error)
}

type HandlerFunc func(ctx context.Context, n plan.Node, st *State) (result.Result, error)

func (f HandlerFunc) Handle(ctx context.Context, n plan.Node, st *State) (result.Result, error) {
	return f(ctx, n, st)
}

// Store is a backend adapter claiming a set of node kinds.
type Store interface {
	Name() string
	Handlers() map[plan.Kind]Handler
}

// Engine dispatches plan nodes to handlers.
type Engine struct {
	handlers map[plan.Kind]Handler
	owners   map[plan.Kind]string
	registry *executable.Registry
}

type Option func(*Engine)

// WithRegistry tracks executions started by Run in r.
func WithRegistry(r *executable.Registry) Option { return func(e *Engine) { e.registry = r } }

const coreStore = "core"

// New builds an engine with the core handlers plus those of stores.
func New(stores []Store, opts ...Option) (*Engine, error) {
	e := &Engine{
		handlers: map[plan.Kind]Handler{},
		owners:   map[plan.Kind]string{},
	}
	for _, o := range opts {
		o(e)
	}
	if e.registry == nil {
		e.registry = executable.New()
	}
	if err := e.claim(coreStore, e.coreHandlers()); err != nil {
		return nil, err
	}
	for _, s := range stores {
		if err := e.claim(s.Name(), s.Handlers()); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func (e *Engine) claim(owner string, hs map[plan.Kind]Handler) error {
	for k, h := range hs {
		if prev, ok := e.owners[k]; ok {
			return errors.Newf("node kind %s claimed by both %s and %s", k, prev, owner)
		}
		e.handlers[k] = h
		e.owners[k] = owner
	}
	return nil
}

// Registry returns the executable registry used by Run.
func (e *Engine) Registry() *executable.Registry { return e.registry }

// Unclaimed lists the known kinds without a handler.
func (e *Engine) Unclaimed() []plan.Kind {
	var out []plan.Kind
	for _, k := range plan.Kinds() {
		if _, ok := e.handlers[k]; !ok {
			out = append(out, k)
		}
	}
	return out
}

// Owners reports which store handles each claimed kind.
func (e *Engine) Owners() map[plan.Kind]string {
	out := make(map[plan.Kind]string, len(e.owners))
	for k, v := range e.owners {
		out[k] = v
	}
	return out
}

func (e *Engine) Kinds() []plan.Kind {
	out := make([]plan.Kind, 0, len(e.handlers))
	for k := range e.handlers {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Execute runs n and returns its result. On failure every result tracked by
// st is still open; Run closes them.
func (e *Engine) Execute(ctx context.Context, n plan.Node, st *State) (result.Result, error) {
	if n == nil {
		return nil, errors.AssertionFailedf("nil node")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h, ok := e.handlers[n.Kind()]
	if !ok {
		return nil, unsupportedNode(n)
	}
	start := time.Now()
	eventbus.Publish(ctx, events.NodeStart{Kind: string(n.Kind()), NodeID: n.NodeID()})
	r, err := h.Handle(ctx, n, st)
	if err == nil && r == nil {
		err = errors.AssertionFailedf("handler for %s returned no result", errors.Safe(n.Kind()))
	}
	if r != nil {
		st.Track(r)
	}
	fin := events.NodeFinish{Kind: string(n.Kind()), NodeID: n.NodeID(), Err: err, Duration: time.Since(start)}
	if r != nil {
		fin.Variant = string(r.Variant())
	}
	eventbus.Publish(ctx, fin)
	if err != nil {
		if n.NodeID() != "" {
			err = errors.WithDetailf(err, "node %s (%s)", n.NodeID(), n.Kind())
		}
		return nil, err
	}
	return r, nil
}

// Run executes root as a top-level request: it assigns an execution id,
// registers the execution under the state's session and ties the lifetime of
// the execution to the returned Result.
func (e *Engine) Run(ctx context.Context, root plan.Node, st *State) (result.Result, error) {
	execID, ok := reqid.FromContext(ctx)
	if !ok {
		ctx, execID = reqid.NewContext(ctx)
	}
	ctx, cancel := context.WithCancel(ctx)
	h := e.registry.Add(st.Session, executable.CancelFunc(cancel))
	started := time.Now()
	rootKind := ""
	if root != nil {
		rootKind = string(root.Kind())
	}
	eventbus.Publish(ctx, events.PlanStart{ExecutionID: execID, Session: st.Session, Identity: st.Identity.Name, RootKind: rootKind})

	r, err := e.Execute(ctx, root, st)
	eventbus.Publish(ctx, events.PlanFinish{
		ExecutionID: execID,
		Session:     st.Session,
		Identity:    st.Identity.Name,
		RootKind:    rootKind,
		Err:         err,
		Duration:    time.Since(started),
	})
	if err != nil {
		cancel()
		e.registry.Remove(h)
		if cerr := st.Close(); cerr != nil {
			err = errors.WithSecondaryError(err, cerr)
		}
		return nil, err
	}
	r.OnClose(func() error {
		cancel()
		e.registry.Remove(h)
		return st.Close()
	})
	return r, nil
}
