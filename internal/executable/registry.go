// Package executable tracks in-flight plan executions per session so that a
// session teardown can cancel everything it started.
package executable

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hanpama/planexec/internal/eventbus"
	"github.com/hanpama/planexec/internal/events"
	"github.com/hanpama/planexec/internal/log"
)

// Executable is something that can be asked to stop.
type Executable interface {
	Cancel() error
}

// CancelFunc adapts a function, typically a context.CancelFunc, to
// Executable.
type CancelFunc func()

func (f CancelFunc) Cancel() error { f(); return nil }

// Handle identifies one registered execution.
type Handle struct {
	ID      uuid.UUID
	Session string
	Started time.Time

	exec Executable
}

// Registry maps sessions to running executions. A Registry does nothing
// until Register is called; before that every method is a no-op.
type Registry struct {
	mu         sync.Mutex
	registered bool
	sessions   map[string]map[uuid.UUID]*Handle
}

func New() *Registry {
	return &Registry{sessions: map[string]map[uuid.UUID]*Handle{}}
}

// Register enables tracking.
func (r *Registry) Register() {
	r.mu.Lock()
	r.registered = true
	r.mu.Unlock()
}

func (r *Registry) Registered() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registered
}

// Add tracks e under session. It returns nil when the registry is not
// registered; Remove accepts that nil handle.
func (r *Registry) Add(session string, e Executable) *Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.registered || e == nil {
		return nil
	}
	h := &Handle{ID: uuid.New(), Session: session, Started: time.Now(), exec: e}
	hs := r.sessions[session]
	if hs == nil {
		hs = map[uuid.UUID]*Handle{}
		r.sessions[session] = hs
	}
	hs[h.ID] = h
	return h
}

// Remove forgets h after its execution completed.
func (r *Registry) Remove(h *Handle) {
	if h == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	hs := r.sessions[h.Session]
	delete(hs, h.ID)
	if len(hs) == 0 {
		delete(r.sessions, h.Session)
	}
}

// Running counts executions tracked for session.
func (r *Registry) Running(session string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions[session])
}

// CancelAll cancels every execution of session and forgets them. Individual
// failures, including panics, do not stop the sweep; they are logged and
// returned joined. It returns how many executions were cancelled.
func (r *Registry) CancelAll(ctx context.Context, session string) (int, error) {
	r.mu.Lock()
	if !r.registered {
		r.mu.Unlock()
		return 0, nil
	}
	hs := r.sessions[session]
	delete(r.sessions, session)
	r.mu.Unlock()

	var (
		err error
		n   int
	)
	for _, h := range hs {
		if cerr := cancel(h); cerr != nil {
			log.Warn("cancel failed", zap.String("session", session), zap.Stringer("execution", h.ID), zap.Error(cerr))
			err = errors.CombineErrors(err, cerr)
			continue
		}
		n++
	}
	eventbus.Publish(ctx, events.SessionCancel{Session: session, Cancelled: n, Err: err})
	return n, err
}

func cancel(h *Handle) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = errors.Newf("cancel panicked: %v", p)
		}
	}()
	return errors.Wrapf(h.exec.Cancel(), "execution %s", h.ID)
}

// Reset drops every tracked execution without cancelling and disables the
// registry.
func (r *Registry) Reset() {
	r.mu.Lock()
	r.sessions = map[string]map[uuid.UUID]*Handle{}
	r.registered = false
	r.mu.Unlock()
}
