package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"labos/internal/api"
	"labos/internal/core"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	Long: `Starts the JSON API with /metrics, /debug/vars, and /openapi.json.
Module jobs posted to the API are drained by a worker pool sized from
the worker config section. Ctrl-C shuts down gracefully.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		rt, err := openRuntime(ctx)
		if err != nil {
			return err
		}
		worker := core.NewWorker(rt.service, cfg.Worker.Count, cfg.Worker.Queue, logger)
		worker.Start()
		defer func() {
			if err := worker.Stop(context.Background()); err != nil {
				logger.Warn("worker shutdown incomplete", "error", err.Error())
			}
		}()

		router := api.NewRouter(api.Config{
			Service:  rt.service,
			Registry: rt.metrics.Registry(),
			Logger:   logger,
		})
		addr := serveAddr
		if addr == "" {
			addr = cfg.API.Addr
		}
		fmt.Fprintf(cmd.OutOrStdout(), "listening on %s\n", addr)
		return api.Serve(ctx, addr, router, logger)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default from config, :8080)")
}
