package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"pkt.systems/orderpush"
	"pkt.systems/orderpush/internal/appconfig"
	"pkt.systems/pslog"
)

func newServeCmd() *cobra.Command {
	var cfgPath string
	var addr string
	var enablePublish bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the order event stream server",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := pslog.Ctx(cmd.Context())
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.HTTP.Addr = addr
			}
			if cmd.Flags().Changed("enable-publish") {
				cfg.HTTP.EnablePublish = enablePublish
			}

			serverCfg := orderpush.ConfigFromApp(cfg)
			server, err := orderpush.New(serverCfg, orderpush.ServerDeps{Logger: logger})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				stopCtx, cancel := context.WithTimeout(context.Background(), serverCfg.HTTP.ShutdownTimeout+serverCfg.HTTP.ShutdownTimeout/2)
				defer cancel()
				if err := server.Stop(stopCtx); err != nil {
					logger.Warn("server stop failed", "err", err)
				}
			}()
			logger.Info("http server listening", "addr", serverCfg.HTTP.Addr)
			if serverCfg.MetricsEnabled && serverCfg.MetricsAddr != "" {
				logger.Info("metrics server listening", "addr", serverCfg.MetricsAddr, "path", serverCfg.MetricsPath)
			}
			if err := server.Start(ctx); err != nil {
				return err
			}
			return server.Wait()
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVar(&addr, "addr", "", "override http.addr")
	cmd.Flags().BoolVar(&enablePublish, "enable-publish", false, "expose the publish endpoint")
	return cmd
}
