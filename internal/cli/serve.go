package cli

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

	"smartbox/internal/config"
)

const shutdownTimeout = 5 * time.Second

// NewServeCommand runs the host until SIGINT, SIGTERM or an exit action.
func NewServeCommand(root *RootOptions) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the UI bridge server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env := root.env
			if listen != "" {
				env.ListenAddr = listen
			}

			log, level, err := newLogger(env.Dev)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			defer log.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, env, log, stop)
			if err != nil {
				return err
			}

			applyLevel(level, a.store.Snapshot().Application.LogLevel(), log)
			a.store.OnChange(func(m *config.Model) { applyLevel(level, m.Application.LogLevel(), log) })

			ln, err := net.Listen("tcp", env.ListenAddr)
			if err != nil {
				return fmt.Errorf("listen on %s: %w", env.ListenAddr, err)
			}
			return a.serve(ctx, ln)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides SMARTBOX_LISTEN_ADDR)")
	return cmd
}

// serve runs until ctx ends or the listener fails, then shuts everything
// down in reverse order.
func (a *app) serve(ctx context.Context, ln net.Listener) error {
	go a.hub.Run(ctx)

	if err := a.retention.Start(); err != nil {
		return fmt.Errorf("start retention: %w", err)
	}
	defer a.retention.Stop()

	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("Starting server",
			zap.String("addr", ln.Addr().String()),
			zap.String("config", a.store.Path()),
			zap.String("version", a.env.Version),
		)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	a.log.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	a.hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("Server forced to shutdown", zap.Error(err))
	}
	a.bridge.Wait()

	a.log.Info("Server stopped")
	return serveErr
}
