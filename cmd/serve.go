package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/tender-watch/internal/api"
	"github.com/JakeFAU/tender-watch/internal/app"
	"github.com/JakeFAU/tender-watch/internal/logging"
)

const shutdownTimeout = 10 * time.Second

// newServeCmd starts the read-only status API for one purpose's database.
func newServeCmd(root *rootOptions) *cobra.Command {
	var purpose string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve run, pending and notification state over HTTP",
		Long: `Starts a read-only HTTP server exposing /healthz, /readyz, /metrics
and /api/{runs,pending,stats,notifications} for the purpose's store. Runs
keep being triggered by 'tenderwatch run' (cron or a scheduler).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			if strings.TrimSpace(purpose) == "" {
				return &app.ConfigError{Err: errors.New("--purpose is required")}
			}
			logger, err := logging.New(cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("logger init: %w", err)
			}
			defer logger.Sync() //nolint:errcheck
			logger = logger.With(zap.String("purpose", purpose))

			ctx := cmd.Context()
			st, err := app.OpenStore(ctx, cfg, cfg.Purpose(purpose), logger)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := st.Close(); cerr != nil {
					logger.Warn("close store failed", zap.Error(cerr))
				}
			}()

			apiServer := api.NewServer(st, api.Config{
				Purpose:        purpose,
				APIKey:         cfg.Server.APIKey,
				RequestTimeout: cfg.HTTP.Timeout,
			}, logger.Named("api"))
			srv := &http.Server{
				Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
				Handler:           apiServer.Handler(),
				ReadHeaderTimeout: 5 * time.Second,
			}
			return serve(ctx, srv, logger)
		},
	}
	cmd.Flags().StringVarP(&purpose, "purpose", "p", "", "purpose name, required")
	return cmd
}

// serve runs srv until ctx is cancelled, then drains it.
func serve(ctx context.Context, srv *http.Server, logger *zap.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}
