package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 30 * time.Second

// newServeCmd creates the 'serve' subcommand.
func newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Starts the HTTP API and crawl coordinator",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if addr == "" {
				addr = fmt.Sprintf(":%d", appInstance.Config.Server.Port)
			}
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("listen on %s: %w", addr, err)
			}
			return runServer(ctx, ln, appInstance.Coordinator, appInstance.Server.Handler(), appInstance.Logger)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to :server.port)")
	return cmd
}

// coordinator is the part of *session.Coordinator the server loop manages.
type coordinator interface {
	Start(ctx context.Context)
	Stop(ctx context.Context) error
}

// runServer serves handler on ln until ctx ends, then drains the HTTP server
// and the coordinator.
func runServer(ctx context.Context, ln net.Listener, coord coordinator, handler http.Handler, logger *zap.Logger) error {
	coord.Start(context.WithoutCancel(ctx))

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-serveErr:
		if err != nil {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	if err := coord.Stop(shutdownCtx); err != nil {
		logger.Error("coordinator shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
	return runErr
}
