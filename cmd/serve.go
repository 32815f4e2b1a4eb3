package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/warpaintvision/shopsite/internal/api"
	"github.com/warpaintvision/shopsite/internal/config"
)

var (
	servePort    int
	serveSources sourceFlags
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve layer listings and suitability results over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		e, err := newEnv(ctx, cfg, serveSources)
		if err != nil {
			return err
		}
		defer e.Close()

		handler, err := buildHandler(ctx, e)
		if err != nil {
			return err
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server",
			zap.Int("port", port),
			zap.String("source", describeSource(serveSources)),
			zap.Strings("areas", cfg.AreaNames()))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// buildHandler wires the API server from e.
func buildHandler(ctx context.Context, e *env) (http.Handler, error) {
	cache, err := e.responseCache(ctx)
	if err != nil {
		return nil, err
	}
	srv := api.NewServer(e.source, e.engine(ctx), e.filter, areaBoxes(e.cfg),
		api.WithCache(cache),
		api.WithSuitabilityConfig(suitabilityConfig(e.cfg)),
		api.WithProjection(e.kernel.Projection()),
		api.WithListingLimit(e.cfg.Server.ListingLimit),
		api.WithRequestTimeout(requestTimeout(e.cfg)),
	)
	return srv.Router(), nil
}

func requestTimeout(c *config.Config) time.Duration {
	return time.Duration(c.Server.RequestTimeoutSecs) * time.Second
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	addSourceFlags(serveCmd, &serveSources)
	rootCmd.AddCommand(serveCmd)
}
