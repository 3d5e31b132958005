package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newWebhooksCommand() *cobra.Command {
	webhooksCmd := &cobra.Command{
		Use:     "webhooks",
		Aliases: []string{"webhook"},
		Short:   "Manage delivery webhooks",
	}
	webhooksCmd.AddCommand(
		newWebhooksListCommand(),
		newWebhooksAddCommand(),
		newWebhooksTestCommand(),
	)
	return webhooksCmd
}

func newWebhooksListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List webhooks with delivery counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireAuth()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			hooks, err := app.API.ListWebhooks(ctx)
			if err != nil {
				return err
			}
			if wantsJSON() {
				return printJSON(cmd, hooks)
			}
			if len(hooks) == 0 {
				color.New(color.FgYellow).Fprintln(cmd.OutOrStdout(), "No webhooks found.")
				return nil
			}

			tw := newTable(cmd.OutOrStdout(), "ID", "NAME", "URL", "ACTIVE", "OK/FAILED", "LAST USED")
			for _, h := range hooks {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d/%d\t%s\n",
					h.ID, h.Name, h.URL, yesNo(h.IsActive), h.SuccessfulDeliveries, h.FailedDeliveries, formatTime(h.LastUsed))
			}
			return tw.Flush()
		},
	}
}

func newWebhooksAddCommand() *cobra.Command {
	var name, target string

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a webhook and print its signing secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" || target == "" {
				return errors.New("--name and --url are required")
			}
			app, err := requireAuth()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			resp, err := app.API.CreateWebhook(ctx, name, target)
			if err != nil {
				return err
			}
			if wantsJSON() {
				return printJSON(cmd, resp)
			}

			out := cmd.OutOrStdout()
			color.New(color.FgGreen).Fprintf(out, "✅ Created webhook %s (%s)\n", resp.Webhook.Name, resp.Webhook.ID)
			fmt.Fprintf(out, "Signing secret (shown once): %s\n", resp.Secret)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "webhook name")
	cmd.Flags().StringVar(&target, "url", "", "endpoint URL")
	return cmd
}

func newWebhooksTestCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "test <webhook-id>",
		Short: "Send a test payload to a webhook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireAuth()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
			defer cancel()

			result, err := app.API.TestWebhook(ctx, args[0])
			if err != nil {
				return err
			}
			if wantsJSON() {
				return printJSON(cmd, result)
			}

			out := cmd.OutOrStdout()
			if result.Success {
				color.New(color.FgGreen).Fprintf(out, "✅ %d in %dms\n", result.StatusCode, result.ResponseTime)
				return nil
			}
			color.New(color.FgRed).Fprintf(out, "❌ %s (status %d, %dms)\n", result.Error, result.StatusCode, result.ResponseTime)
			return fmt.Errorf("webhook test failed")
		},
	}
}
