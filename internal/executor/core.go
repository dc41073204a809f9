package executor

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/hanpama/planexec/internal/plan"
	"github.com/hanpama/planexec/internal/result"
)

func (e *Engine) coreHandlers() map[plan.Kind]Handler {
	return map[plan.Kind]Handler{
		plan.KindSequence:    HandlerFunc(e.sequence),
		plan.KindMultiResult: HandlerFunc(e.multiResult),
		plan.KindAllocation:  HandlerFunc(e.allocation),
		plan.KindConstant:    HandlerFunc(constant),
		plan.KindVariable:    HandlerFunc(variable),
		plan.KindError:       HandlerFunc(errorNode),
	}
}

func (e *Engine) sequence(ctx context.Context, n plan.Node, st *State) (result.Result, error) {
	seq := n.(*plan.Sequence)
	if len(seq.Nodes) == 0 {
		return nil, errors.Newf("sequence %s has no nodes", errors.Safe(seq.ID))
	}
	var last result.Result
	for i, child := range seq.Nodes {
		r, err := e.Execute(ctx, child, st)
		if err != nil {
			return nil, err
		}
		if errRes, ok := r.(*result.Error); ok {
			return errRes, nil
		}
		if i == len(seq.Nodes)-1 {
			last = r
			break
		}
		if err := r.Close(); err != nil {
			return nil, err
		}
	}
	return last, nil
}

func (e *Engine) multiResult(ctx context.Context, n plan.Node, st *State) (result.Result, error) {
	mr := n.(*plan.MultiResult)
	m := result.NewMulti()
	for i, entry := range mr.Entries {
		r, err := e.Execute(ctx, entry.Node, st)
		if err != nil {
			return nil, errors.CombineErrors(err, m.Close())
		}
		// Entries are read after the whole map is built, so earlier ones
		// must not keep connections checked out.
		if i < len(mr.Entries)-1 {
			if err := detach(r); err != nil {
				return nil, errors.CombineErrors(err, errors.CombineErrors(r.Close(), m.Close()))
			}
		}
		if err := m.Put(entry.Key, r); err != nil {
			return nil, errors.CombineErrors(err, m.Close())
		}
	}
	return m, nil
}

func (e *Engine) allocation(ctx context.Context, n plan.Node, st *State) (result.Result, error) {
	a := n.(*plan.Allocation)
	r, err := e.Execute(ctx, a.Node, st)
	if err != nil {
		return nil, err
	}
	if err := detach(r); err != nil {
		return nil, errors.CombineErrors(err, r.Close())
	}
	st.Set(a.Name, r)
	return result.NewConstant("success"), nil
}

// detach buffers tabular results, including those nested in a Multi, so
// they no longer hold their backend connection.
func detach(r result.Result) error {
	switch r := r.(type) {
	case *result.Tabular:
		return r.Buffer()
	case *result.Multi:
		for _, k := range r.Keys() {
			child, _ := r.Get(k)
			if err := detach(child); err != nil {
				return err
			}
		}
	}
	return nil
}

func constant(_ context.Context, n plan.Node, _ *State) (result.Result, error) {
	return result.NewConstant(n.(*plan.Constant).Value), nil
}

// variable returns a copy so that closing it never affects the published
// value.
func variable(_ context.Context, n plan.Node, st *State) (result.Result, error) {
	c, err := st.Constant(n.(*plan.Variable).Name)
	if err != nil {
		return nil, err
	}
	return result.NewConstant(c.Value), nil
}

func errorNode(_ context.Context, n plan.Node, _ *State) (result.Result, error) {
	return result.NewError(errors.Newf("%s", n.(*plan.Error).Message)), nil
}
