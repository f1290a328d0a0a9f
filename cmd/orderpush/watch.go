package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"pkt.systems/orderpush/client"
	"pkt.systems/orderpush/internal/appconfig"
	"pkt.systems/orderpush/schema"
	"pkt.systems/pslog"
)

func newWatchCmd() *cobra.Command {
	var cfgPath string
	var channel string
	var streamURL string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print events from a channel as JSON lines",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := pslog.Ctx(cmd.Context())
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			if streamURL != "" {
				cfg.Client.URL = streamURL
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runWatch(ctx, clientOptions(cfg, logger), channel, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVar(&channel, "channel", "", "channel to watch (user id; empty for global)")
	cmd.Flags().StringVar(&streamURL, "url", "", "override client.url")
	return cmd
}

func clientOptions(cfg appconfig.Config, logger pslog.Logger) client.Options {
	opts := client.DefaultOptions(cfg.Client.URL)
	opts.GlobalChannel = schema.ChannelID(cfg.Stream.GlobalChannel)
	opts.MaxReconnectAttempts = cfg.Client.MaxReconnectAttempts
	opts.BaseDelay = cfg.Client.BaseDelay()
	opts.MaxDelay = cfg.Client.MaxDelay()
	opts.IdleTimeout = cfg.Client.IdleTimeout()
	opts.Logger = logger
	return opts
}

// runWatch streams envelopes to out until ctx ends or the manager gives up.
func runWatch(ctx context.Context, opts client.Options, channel string, out io.Writer) error {
	factory := client.NewFactory(opts)
	defer factory.Close()
	m := factory.Get(channel)

	var mu sync.Mutex
	encoder := json.NewEncoder(out)
	failed := make(chan schema.Envelope, 1)
	for _, eventType := range schema.EventTypes {
		m.On(eventType, func(env schema.Envelope) {
			mu.Lock()
			_ = encoder.Encode(env)
			mu.Unlock()
			if env.Type == schema.EventConnectionError {
				select {
				case failed <- env:
				default:
				}
			}
		})
	}

	log := pslog.Ctx(ctx).With("channel", m.Channel())
	if err := m.Connect(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		log.Warn("watch initial connect failed", "err", err)
	}
	select {
	case <-ctx.Done():
		return nil
	case env := <-failed:
		return errors.New("stream unavailable: " + env.String("reason"))
	}
}
