package executable

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

type mockExecutable struct {
	calls atomic.Int32
	err   error
	panic bool
}

func (m *mockExecutable) Cancel() error {
	m.calls.Add(1)
	if m.panic {
		panic("driver crashed")
	}
	return m.err
}

func TestUnregisteredIsNoop(t *testing.T) {
	r := New()
	e := &mockExecutable{}
	h := r.Add("s", e)
	require.Nil(t, h)
	r.Remove(h)
	require.Equal(t, 0, r.Running("s"))
	n, err := r.CancelAll(context.Background(), "s")
	require.NoError(t, err)
	require.Zero(t, n)
	require.Zero(t, e.calls.Load())
}

func TestCancelAllIsIdempotent(t *testing.T) {
	r := New()
	r.Register()
	a, b := &mockExecutable{}, &mockExecutable{}
	r.Add("s1", a)
	r.Add("s1", b)
	other := &mockExecutable{}
	r.Add("s2", other)
	require.Equal(t, 2, r.Running("s1"))

	n, err := r.CancelAll(context.Background(), "s1")
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, 0, r.Running("s1"))

	n, err = r.CancelAll(context.Background(), "s1")
	require.NoError(t, err)
	require.Zero(t, n)
	require.EqualValues(t, 1, a.calls.Load())
	require.EqualValues(t, 1, b.calls.Load())
	require.Zero(t, other.calls.Load())
	require.Equal(t, 1, r.Running("s2"))
}

func TestCancelAllContinuesPastFailures(t *testing.T) {
	r := New()
	r.Register()
	bad := &mockExecutable{err: errors.New("already gone")}
	crash := &mockExecutable{panic: true}
	good := &mockExecutable{}
	for _, e := range []Executable{bad, crash, good} {
		r.Add("s", e)
	}
	n, err := r.CancelAll(context.Background(), "s")
	require.Error(t, err)
	require.Contains(t, err.Error(), "already gone")
	require.Equal(t, 1, n)
	require.EqualValues(t, 1, good.calls.Load())
	require.Equal(t, 0, r.Running("s"))
}

func TestRemoveAfterCompletion(t *testing.T) {
	r := New()
	r.Register()
	ctx, cancel := context.WithCancel(context.Background())
	h := r.Add("s", CancelFunc(cancel))
	r.Remove(h)
	r.Remove(h)
	_, _ = r.CancelAll(context.Background(), "s")
	require.NoError(t, ctx.Err())
}

func TestConcurrentSessions(t *testing.T) {
	r := New()
	r.Register()
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s := string(rune('a' + i%4))
			h := r.Add(s, &mockExecutable{})
			if i%2 == 0 {
				r.Remove(h)
			} else {
				_, _ = r.CancelAll(context.Background(), s)
			}
		}(i)
	}
	wg.Wait()
	r.Reset()
	require.False(t, r.Registered())
}
