package log

import (
	"context"

	"go.uber.org/zap"

	"github.com/hanpama/planexec/internal/eventbus"
	"github.com/hanpama/planexec/internal/events"
	"github.com/hanpama/planexec/internal/reqid"
)

// Subscribe logs execution events from the global bus. The returned func
// removes the subscriptions.
func Subscribe() (unsubscribe func()) {
	unsubs := []func(){
		eventbus.Subscribe(func(ctx context.Context, e events.PlanStart) {
			Debug("plan started", execution(ctx, e.ExecutionID),
				zap.String("session", e.Session), zap.String("identity", e.Identity), zap.String("root", e.RootKind))
		}),
		eventbus.Subscribe(func(ctx context.Context, e events.PlanFinish) {
			fields := []zap.Field{
				execution(ctx, e.ExecutionID),
				zap.String("session", e.Session),
				zap.Duration("duration", e.Duration),
			}
			if e.Err != nil {
				Warn("plan failed", append(fields, zap.Error(e.Err))...)
				return
			}
			Info("plan executed", fields...)
		}),
		eventbus.Subscribe(func(ctx context.Context, e events.NodeFinish) {
			if e.Err == nil {
				return
			}
			rid, _ := reqid.FromContext(ctx)
			Debug("node failed", zap.String("execution", rid), zap.String("kind", e.Kind),
				zap.String("node", e.NodeID), zap.Error(e.Err))
		}),
		eventbus.Subscribe(func(ctx context.Context, e events.ConnectionAcquire) {
			fields := []zap.Field{
				zap.String("vendor", e.Vendor),
				zap.String("datasource", e.Descriptor),
				zap.String("identity", e.Identity),
				zap.Duration("duration", e.Duration),
			}
			switch {
			case e.Err != nil:
				Warn("connection unavailable", append(fields, zap.Error(e.Err))...)
			case e.NewPool:
				Info("connection pool created", fields...)
			default:
				Debug("connection acquired", fields...)
			}
		}),
		eventbus.Subscribe(func(ctx context.Context, e events.SessionCancel) {
			fields := []zap.Field{zap.String("session", e.Session), zap.Int("cancelled", e.Cancelled)}
			if e.Err != nil {
				Warn("session cancelled with failures", append(fields, zap.Error(e.Err))...)
				return
			}
			Info("session cancelled", fields...)
		}),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

func execution(ctx context.Context, id string) zap.Field {
	if id == "" {
		id, _ = reqid.FromContext(ctx)
	}
	return zap.String("execution", id)
}
