package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/GoldenTiger720/secondkeeper/internal/config"
	"github.com/GoldenTiger720/secondkeeper/internal/notify"
	"github.com/GoldenTiger720/secondkeeper/internal/viewer"
	"github.com/GoldenTiger720/secondkeeper/pkg/logging"
	"github.com/GoldenTiger720/secondkeeper/pkg/redis"
)

func newAlertsCmd(root *rootOptions) *cobra.Command {
	var (
		addrs   []string
		channel string
	)
	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "Print viewer notifications published on the alert channel",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, _ := config.Load()
			if len(addrs) > 0 {
				cfg.Redis.Addrs = addrs
			}
			if channel != "" {
				cfg.AlertChannel = channel
			}
			return runAlerts(ctx, &lockedWriter{w: cmd.OutOrStdout()}, root.logger(cmd), cfg)
		},
	}
	cmd.Flags().StringSliceVar(&addrs, "redis", nil, "redis addresses (default $REDIS_ADDRS)")
	cmd.Flags().StringVar(&channel, "channel", "", "alert channel (default $ALERT_CHANNEL)")
	return cmd
}

func runAlerts(ctx context.Context, out io.Writer, logger logging.Logger, cfg config.Config) error {
	if !cfg.RedisEnabled() {
		return errors.New("REDIS_ADDRS is required")
	}
	client, err := redis.NewUniversalClient(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer client.Close()

	bus := notify.NewRedisNotifier(client, cfg.AlertChannel, logger)
	defer bus.Close()

	logger.WithField("channel", bus.Channel()).Info("Listening for alerts")
	enc := json.NewEncoder(out)
	return bus.Subscribe(ctx, func(n viewer.Notification) {
		if err := enc.Encode(n); err != nil {
			logger.WithError(err).Warn("Failed to print alert")
		}
	})
}
