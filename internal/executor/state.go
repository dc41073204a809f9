package executor

import (
	"slices"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/hanpama/planexec/internal/identity"
	"github.com/hanpama/planexec/internal/result"
)

// State is the mutable context shared by the nodes of one execution.
type State struct {
	Identity identity.Identity
	Session  string

	mu         sync.Mutex
	vars       map[string]result.Result
	produced   []result.Result
	activities []result.Activity
}

func NewState(id identity.Identity, session string) *State {
	return &State{Identity: id, Session: session, vars: map[string]result.Result{}}
}

// Set publishes r under name. A previously published result is kept alive
// until the state closes since earlier readers may still hold it.
func (s *State) Set(name string, r result.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vars[name] = r
	s.produced = append(s.produced, r)
}

func (s *State) Get(name string) (result.Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.vars[name]
	return r, ok
}

// Constant returns the published constant named name.
func (s *State) Constant(name string) (*result.Constant, error) {
	r, ok := s.Get(name)
	if !ok {
		return nil, errors.Mark(errors.Newf("no value published for input %s", errors.Safe(name)), ErrDependencyMismatch)
	}
	c, ok := r.(*result.Constant)
	if !ok {
		return nil, errors.Mark(
			errors.Newf("expected constant result for input %s, found variant %s", errors.Safe(name), errors.Safe(r.Variant())),
			ErrDependencyMismatch)
	}
	return c, nil
}

// Inputs resolves names to constant values.
func (s *State) Inputs(names []string) (map[string]any, error) {
	out := make(map[string]any, len(names))
	for _, n := range names {
		c, err := s.Constant(n)
		if err != nil {
			return nil, err
		}
		out[n] = c.Value
	}
	return out, nil
}

// Track registers r for release when the execution fails.
func (s *State) Track(r result.Result) {
	if r == nil {
		return
	}
	s.mu.Lock()
	s.produced = append(s.produced, r)
	s.mu.Unlock()
}

func (s *State) AddActivity(a result.Activity) {
	s.mu.Lock()
	s.activities = append(s.activities, a)
	s.mu.Unlock()
}

func (s *State) Activities() []result.Activity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.activities)
}

// Close releases every tracked and published result, newest first.
func (s *State) Close() error {
	s.mu.Lock()
	produced := s.produced
	s.produced = nil
	s.mu.Unlock()
	var err error
	for i := len(produced) - 1; i >= 0; i-- {
		err = errors.CombineErrors(err, produced[i].Close())
	}
	return err
}
