package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"treemirror/internal/api"
	"treemirror/internal/config"
	"treemirror/internal/logging"
	"treemirror/internal/metrics"
	"treemirror/internal/workspace"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 5 * time.Second
)

type serveOptions struct {
	listen         string
	token          string
	allowedOrigins []string
	streamRate     float64
}

func newServeCommand(global *globalOptions) *cobra.Command {
	options := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve [dir...]",
		Short: "Mirror directories and serve them over HTTP",
		Long: `Mirror every configured root plus any directories given as arguments,
watch them for changes and serve the trees on the listen address.

Routes:
  GET  /api/roots                     list roots
  GET  /api/roots/{id}/tree           nested tree
  GET  /api/roots/{id}/content?path=  consistent file read
  PUT  /api/roots/{id}/filters        replace filters
  POST /api/roots/{id}/refresh        reconcile against disk
  GET  /api/roots/{id}/snapshot       zstd snapshot download
  GET  /api/events                    websocket change stream
  GET  /metrics                       prometheus metrics`,
		RunE: func(cmd *cobra.Command, args []string) error {
			overrides := config.Overrides{}
			if cmd.Flags().Changed("listen") {
				overrides.Listen = &options.listen
			}
			if cmd.Flags().Changed("token") {
				overrides.Token = &options.token
			}
			cfg, err := global.loadConfig(cmd, overrides, args)
			if err != nil {
				return err
			}
			logger := newLogger(cfg, cmd.ErrOrStderr())

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			signals := make(chan os.Signal, 2)
			signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(signals)
			stopSignals := watchShutdownSignals(logger, cancel, signals)
			defer stopSignals()

			return runServer(ctx, cfg, serverDeps{
				logger:   logger,
				registry: metrics.Default,
				api: api.Options{
					AllowedOrigins: options.allowedOrigins,
					StreamRate:     options.streamRate,
				},
				ready: func(addr net.Addr) {
					fmt.Fprintf(cmd.OutOrStdout(), "%s http://%s (%d roots)\n", headerStyle.Sprint("treemirror listening on"), addr, len(cfg.Roots))
				},
			})
		},
	}
	cmd.Flags().StringVarP(&options.listen, "listen", "l", config.DefaultListen, "listen address")
	cmd.Flags().StringVar(&options.token, "token", "", "bearer token required by the API")
	cmd.Flags().StringSliceVar(&options.allowedOrigins, "allow-origin", nil, "extra websocket origins to accept")
	cmd.Flags().Float64Var(&options.streamRate, "stream-rate", 0, "max websocket messages per second per connection (0 uses the default)")
	return cmd
}

type serverDeps struct {
	logger   *logging.Logger
	registry *metrics.Registry
	api      api.Options
	// ready is called once the listener is bound.
	ready func(net.Addr)
}

// runServer opens the workspace and serves it until ctx is cancelled or the
// server fails. The workspace is closed after the server has shut down.
func runServer(ctx context.Context, cfg config.Config, deps serverDeps) error {
	logger := deps.logger
	if logger == nil {
		logger = logging.Discard()
	}
	ws, err := workspace.FromConfig(cfg, logger, deps.registry)
	if err != nil {
		return err
	}
	defer ws.Close()

	apiOptions := deps.api
	apiOptions.Token = cfg.Server.Token
	apiOptions.Logger = logger
	apiOptions.Metrics = deps.registry
	mux := http.NewServeMux()
	api.RegisterRoutes(mux, ws, apiOptions)

	listener, err := net.Listen("tcp", cfg.Server.Listen)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Server.Listen, err)
	}
	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	logger.Info("server listening", map[string]string{
		"addr":  listener.Addr().String(),
		"roots": strconv.Itoa(len(cfg.Roots)),
	})
	if deps.ready != nil {
		deps.ready(listener.Addr())
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("server shutdown failed", map[string]string{
				logging.FieldError: err.Error(),
			})
			return err
		}
		logger.Info("server stopped", nil)
		return nil
	})
	return group.Wait()
}
