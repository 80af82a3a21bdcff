package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/crag-crawler/internal/api"
	"github.com/JakeFAU/crag-crawler/internal/config"
	"github.com/JakeFAU/crag-crawler/internal/metrics"
)

// newServeCmd creates the 'serve' subcommand, which exposes runs over HTTP.
func newServeCmd(root *rootOptions) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API (POST /v1/runs, /healthz, /metrics)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), root, port)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides server.port)")
	return cmd
}

func serve(parent context.Context, root *rootOptions, port int) error {
	// Each run request names its own config file; --config only sets the port and logging.
	cfg, err := serverConfig(root.cfgFile)
	if err != nil {
		return err
	}
	if port > 0 {
		cfg.Server.Port = port
	}

	logger, err := root.buildLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	metrics.Init()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	apiServer := api.NewServer(loadConfig, api.AppRunner(logger), logger)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}

func serverConfig(path string) (config.Config, error) {
	cfg := config.Config{Server: config.ServerConfig{Port: config.DefaultPort}}
	if path == "" {
		return cfg, nil
	}
	loaded, err := loadConfig(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return loaded, nil
}
