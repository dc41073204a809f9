package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hanpama/planexec/internal/log"
	"github.com/hanpama/planexec/internal/metrics"
	"github.com/hanpama/planexec/internal/otel"
	"github.com/hanpama/planexec/internal/server"
)

const shutdownTimeout = 10 * time.Second

func (c *cli) serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve plan execution over HTTP",
		Long: `Serve POST /execute?format=<format> with the plan as body.
X-Session-ID groups executions; DELETE /sessions/{id} cancels them.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.serve(cmd.Context())
		},
	}
	cmd.Flags().String("addr", "", "listen address (overrides server.addr)")
	_ = c.v.BindPFlag("server.addr", cmd.Flags().Lookup("addr"))
	return cmd
}

func (c *cli) serve(ctx context.Context) error {
	cfg := c.cfg
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	shutdown, err := otel.Setup(cfg.Otel.Endpoint, cfg.Otel.Service)
	if err != nil {
		return errors.Wrap(err, "otel setup")
	}
	defer func() { _ = shutdown(context.Background()) }()

	opts := []server.Option{
		server.WithTimeout(cfg.Server.Timeout),
		server.WithMaxBodyBytes(cfg.Server.MaxBodyBytes),
		server.WithMaxResponseBytes(cfg.Execution.MaxGenerationBytes),
	}
	if cfg.Metrics.Enabled {
		m := metrics.New()
		defer m.Subscribe()()
		opts = append(opts, server.WithMetrics(m.Handler()))
	}

	lis, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: server.New(a.engine, opts...), ReadHeaderTimeout: 10 * time.Second}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("plan executor listening", zap.String("addr", lis.Addr().String()))
		if err := srv.Serve(lis); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		log.Info("shutting down")
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}
