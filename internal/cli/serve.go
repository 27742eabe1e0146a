package cli

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	httpAdapter "github.com/cwygoda/haul/internal/adapter/http"
	"github.com/cwygoda/haul/internal/domain"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP submission and status server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				a.cfg.Server.Addr = addr
			}
			return a.serve(cmd.Context(), false)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

func newWorkerCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the worker loop that downloads, archives and uploads jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			b, err := openBackends(ctx, a.cfg, a.log)
			if err != nil {
				return err
			}
			defer b.Close()

			w, err := newWorker(ctx, a.cfg, b, a.log)
			if err != nil {
				return err
			}
			w.Run(ctx)
			return nil
		},
	}
}

func newRunCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the HTTP server and a worker in one process",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				a.cfg.Server.Addr = addr
			}
			return a.serve(cmd.Context(), true)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

// serve runs the HTTP surface and, when withWorker is set, a worker sharing
// the same store and queue.
func (a *app) serve(ctx context.Context, withWorker bool) error {
	b, err := openBackends(ctx, a.cfg, a.log)
	if err != nil {
		return err
	}
	defer b.Close()

	workerCtx, stopWorker := context.WithCancel(ctx)
	defer stopWorker()

	var wg sync.WaitGroup
	if withWorker {
		w, err := newWorker(ctx, a.cfg, b, a.log)
		if err != nil {
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Run(workerCtx)
		}()
	}

	svc := domain.NewJobService(b.store, b.queue)
	srv := httpAdapter.NewServer(svc, a.cfg.Server.Addr, httpAdapter.Options{
		SubmitRate:  a.cfg.Server.SubmitRate,
		SubmitBurst: a.cfg.Server.SubmitBurst,
	}, a.log.Named("http"))

	err = listen(ctx, srv, a.log)
	if err != nil {
		a.log.Error("http server stopped", zap.Error(err))
	}
	stopWorker()
	wg.Wait()
	a.log.Info("shutdown complete")
	return err
}

// listen serves until ctx is done, then shuts the server down gracefully.
func listen(ctx context.Context, srv *httpAdapter.Server, log *zap.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.String("addr", srv.Addr()))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
