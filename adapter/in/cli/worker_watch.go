package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"vitalred_worker/adapter/out/messaging"
	"vitalred_worker/infra/database"
	"vitalred_worker/pkg/apperr"
	"vitalred_worker/pkg/logger"

	"github.com/spf13/cobra"
)

func watchCmd(opts *rootOptions) *cobra.Command {
	var group string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow detected referrals on the Redis stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.cfg.RedisURL == "" {
				return apperr.ConfigError("REDIS_URL is required for watch")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			client, err := database.NewRedis(ctx, opts.cfg.RedisURL, nil)
			if err != nil {
				return err
			}
			defer client.Close()

			host, _ := os.Hostname()
			consumer := messaging.NewConsumer(client, &messaging.ConsumerConfig{
				Group:    group,
				Consumer: fmt.Sprintf("%s-%d", host, os.Getpid()),
				Handler:  printReferral(cmd),
				Logger:   logger.Component("watch"),
			})
			err = consumer.Run(ctx)
			if ctx.Err() != nil {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&group, "group", "vitalred-watch", "consumer group name")
	return cmd
}

func printReferral(cmd *cobra.Command) messaging.ReferralHandler {
	return func(_ context.Context, ev messaging.ReferralEvent) error {
		specialty := ev.Specialty
		if specialty == "" {
			specialty = "-"
		}
		_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s  %-8s %-14s %-20s %s <%s>\n",
			ev.Date.Format("2006-01-02 15:04"), ev.Urgency, ev.ReferralType, specialty, ev.Subject, ev.Sender)
		return err
	}
}
