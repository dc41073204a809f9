package main

import (
	"github.com/cockroachdb/errors"

	"github.com/hanpama/planexec/internal/config"
	"github.com/hanpama/planexec/internal/conn"
	"github.com/hanpama/planexec/internal/executor"
	"github.com/hanpama/planexec/internal/store/grpcsvc"
	"github.com/hanpama/planexec/internal/store/inmemory"
	"github.com/hanpama/planexec/internal/store/relational"
	"github.com/hanpama/planexec/internal/store/service"
	"github.com/hanpama/planexec/internal/vault"
)

// app owns the long-lived resources behind an engine.
type app struct {
	conns     *conn.Manager
	transport *grpcsvc.PooledTransport
	engine    *executor.Engine
}

func newApp(cfg *config.Config) (*app, error) {
	backends, err := grpcsvc.ParseBackends(cfg.GRPC.Backends)
	if err != nil {
		return nil, errors.Wrap(err, "grpc.backends")
	}
	conns := conn.NewManager(vault.NewStatic(cfg.Vault.Secrets),
		conn.WithMaxOpen(cfg.Pool.MaxOpen),
		conn.WithMaxIdle(cfg.Pool.MaxIdle),
		conn.WithConnMaxLifetime(cfg.Pool.ConnMaxLifetime),
		conn.WithAcquireTimeout(cfg.Pool.AcquireTimeout),
	)
	transport := grpcsvc.NewPooledTransport(
		grpcsvc.WithMaxConnsPerEndpoint(cfg.GRPC.MaxConnsPerEndpoint),
		grpcsvc.WithRPCTimeout(cfg.GRPC.RPCTimeout),
	)
	stores := []executor.Store{
		relational.New(conns),
		service.New(
			service.WithResolver(conns.Resolver()),
			service.WithTimeout(cfg.HTTP.Timeout),
			service.WithStallTimeout(cfg.Execution.StreamStallTimeout),
		),
		grpcsvc.New(transport, grpcsvc.WithEndpointProvider(grpcsvc.NewStaticEndpoints(backends))),
		inmemory.New(),
	}
	engine, err := executor.New(stores)
	if err != nil {
		return nil, errors.CombineErrors(err, errors.CombineErrors(conns.Close(), transport.Close()))
	}
	engine.Registry().Register()
	return &app{conns: conns, transport: transport, engine: engine}, nil
}

func (a *app) Close() error {
	return errors.CombineErrors(a.conns.Close(), a.transport.Close())
}
