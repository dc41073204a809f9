package log

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/hanpama/planexec/internal/eventbus"
	"github.com/hanpama/planexec/internal/events"
)

func TestEventLogging(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	prev := Logger()
	SetLogger(zap.New(core))
	defer SetLogger(prev)

	eventbus.Use(eventbus.New())
	defer eventbus.Use(nil)
	unsub := Subscribe()
	defer unsub()

	ctx := context.Background()
	eventbus.Publish(ctx, events.PlanFinish{ExecutionID: "e1", Session: "s1"})
	eventbus.Publish(ctx, events.ConnectionAcquire{Vendor: "SQLite", NewPool: true})
	eventbus.Publish(ctx, events.SessionCancel{Session: "s1", Cancelled: 2, Err: errors.New("driver hung")})

	entries := logs.AllUntimed()
	require.Len(t, entries, 3)
	require.Equal(t, "plan executed", entries[0].Message)
	require.Equal(t, "e1", entries[0].ContextMap()["execution"])
	require.Equal(t, "connection pool created", entries[1].Message)
	require.Equal(t, "session cancelled with failures", entries[2].Message)
}

func TestSetup(t *testing.T) {
	prev := Logger()
	defer SetLogger(prev)
	require.NoError(t, Setup("warn", "json"))
	require.False(t, Logger().Core().Enabled(zap.InfoLevel))
	require.Error(t, Setup("loud", "json"))
}
