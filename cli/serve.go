package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/nijaru/yt-transcript/handlers"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func (a *app) serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the authenticated transcript gateway",
		Args:  argsBetween(0, 0),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(a.stdout); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
}

// serve runs the gateway until ctx is done, then shuts it down gracefully.
func (a *app) serve(ctx context.Context) error {
	server := handlers.NewServer(a.cfg, handlers.WithLogger(a.logger))

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return errors.Wrap(err, "could not start server")
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "server shutdown")
	}
	a.logger.Info("Server stopped")
	return nil
}
