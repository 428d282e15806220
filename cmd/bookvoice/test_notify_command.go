package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"bookvoice/internal/apiclient"
	"bookvoice/internal/logging"
	"bookvoice/internal/notifications"
)

func newTestNotifyCommand(ctx *commandContext) *cobra.Command {
	var local bool
	cmd := &cobra.Command{
		Use:   "test-notify",
		Short: "Send a test notification",
		Long:  "Send a test notification through the daemon, or directly from this process when the daemon is not reachable (or with --local).",
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			if !local {
				client, err := apiclient.New(ctx.apiBind(), ctx.apiToken())
				if err != nil {
					return err
				}
				ack, err := client.TestNotification(cmd.Context())
				if err == nil {
					fmt.Fprintln(out, ack.Message)
					return nil
				}
				if !apiclient.IsAPIUnavailable(err) {
					return err
				}
			}

			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if cfg.Notifications.NtfyTopic == "" {
				fmt.Fprintln(out, "Notification not sent: notifications.ntfy_topic is empty")
				return nil
			}
			notifier := notifications.NewService(cfg, logging.NewNop())
			if err := notifier.Publish(cmd.Context(), notifications.EventTest, notifications.Payload{
				"message": "bookvoice test notification",
			}); err != nil {
				return fmt.Errorf("send test notification: %w", err)
			}
			fmt.Fprintln(out, "Test notification sent")
			return nil
		},
	}
	cmd.Flags().BoolVar(&local, "local", false, "Send from this process instead of the daemon")
	return cmd
}
