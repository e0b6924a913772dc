package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/omochice/wirechat/internal/config"
	"github.com/omochice/wirechat/internal/observability"
	"github.com/omochice/wirechat/internal/server"
	"github.com/omochice/wirechat/internal/store"
)

func serverCmd() *cobra.Command {
	var (
		configPath string
		listen     string
		wsListen   string
		grace      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the chat relay server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			if configPath != "" {
				loaded, err := config.Load(configPath)
				if err != nil {
					return err
				}
				cfg = loaded
			}
			if cmd.Flags().Changed("listen") {
				cfg.Server.Listen = listen
			}
			if cmd.Flags().Changed("ws-listen") {
				cfg.Server.WSListen = wsListen
			}
			if cmd.Flags().Changed("grace") {
				cfg.Server.GracePeriod = grace
			}

			logger := observability.InitLogger("wirechat-server")
			metrics := observability.NewMetrics(prometheus.DefaultRegisterer)

			srv := server.New(server.Config{
				Listen:        cfg.Server.Listen,
				WSListen:      cfg.Server.WSListen,
				QueueCapacity: cfg.Server.QueueCapacity,
				GracePeriod:   cfg.Server.GracePeriod,
				Store:         store.NewMemory(cfg.Server.StoreCapacity),
				Metrics:       metrics,
				Logger:        logger,
			})
			if err := srv.Start(); err != nil {
				return err
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			sig := <-sigCh
			logger.Info().Str("signal", sig.String()).Msg("shutting down")

			ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracePeriod)
			defer cancel()
			return srv.Shutdown(ctx)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to TOML config file")
	cmd.Flags().StringVarP(&listen, "listen", "l", ":8080", "TCP listen address")
	cmd.Flags().StringVar(&wsListen, "ws-listen", "", "WebSocket listen address (empty disables)")
	cmd.Flags().DurationVar(&grace, "grace", 5*time.Second, "Drain and shutdown grace period")
	return cmd
}
