package eventbus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type ping struct{ N int }
type pong struct{}

func TestDispatchByType(t *testing.T) {
	b := New()
	var got []int
	unsubA := On(b, func(_ context.Context, p ping) { got = append(got, p.N) })
	On(b, func(_ context.Context, p ping) { got = append(got, p.N*10) })
	On(b, func(context.Context, pong) { t.Fatal("pong handler called for ping") })

	Emit(context.Background(), b, ping{N: 1})
	require.Equal(t, []int{1, 10}, got)

	unsubA()
	unsubA()
	require.Equal(t, 1, Len[ping](b))
	Emit(context.Background(), b, ping{N: 2})
	require.Equal(t, []int{1, 10, 20}, got)
}

func TestGlobalBus(t *testing.T) {
	Use(nil)
	Publish(context.Background(), ping{N: 1})
	require.NotNil(t, Subscribe(func(context.Context, ping) {}))

	b := New()
	Use(b)
	defer Use(nil)
	var n int
	unsub := Subscribe(func(_ context.Context, p ping) { n += p.N })
	Publish(context.Background(), ping{N: 3})
	unsub()
	Publish(context.Background(), ping{N: 3})
	require.Equal(t, 3, n)
}
