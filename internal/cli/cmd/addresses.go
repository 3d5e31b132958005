package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newAddressesCommand() *cobra.Command {
	addressesCmd := &cobra.Command{
		Use:     "addresses",
		Aliases: []string{"address"},
		Short:   "Manage receiving addresses",
	}
	addressesCmd.AddCommand(
		newAddressesListCommand(),
		newAddressesAddCommand(),
		newAddressesDeleteCommand(),
	)
	return addressesCmd
}

func newAddressesListCommand() *cobra.Command {
	var domainID string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List addresses",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireAuth()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			addresses, err := app.API.ListAddresses(ctx, domainID)
			if err != nil {
				return err
			}
			if wantsJSON() {
				return printJSON(cmd, addresses)
			}
			if len(addresses) == 0 {
				color.New(color.FgYellow).Fprintln(cmd.OutOrStdout(), "No addresses found.")
				return nil
			}

			tw := newTable(cmd.OutOrStdout(), "ID", "ADDRESS", "ACTIVE", "WEBHOOK", "RULE")
			for _, a := range addresses {
				webhook := "-"
				if a.WebhookID != nil {
					webhook = *a.WebhookID
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", a.ID, a.Address, yesNo(a.IsActive), webhook, yesNo(a.IsReceiptRuleConfigured))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&domainID, "domain-id", "", "only list addresses of this domain")
	return cmd
}

func newAddressesAddCommand() *cobra.Command {
	var webhookID string

	cmd := &cobra.Command{
		Use:   "add <address>",
		Short: "Add an address on a verified domain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireAuth()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
			defer cancel()

			resp, err := app.API.CreateAddress(ctx, args[0], webhookID)
			if err != nil {
				return err
			}
			if wantsJSON() {
				return printJSON(cmd, resp)
			}

			out := cmd.OutOrStdout()
			color.New(color.FgGreen).Fprintf(out, "✅ Added %s (%s)\n", resp.EmailAddress.Address, resp.EmailAddress.ID)
			if resp.Warning != "" {
				color.New(color.FgYellow).Fprintf(out, "⚠️  %s\n", resp.Warning)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&webhookID, "webhook", "", "webhook id that receives this address's mail")
	return cmd
}

func newAddressesDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <address-id>",
		Short: "Delete an address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireAuth()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
			defer cancel()

			if err := app.API.DeleteAddress(ctx, args[0]); err != nil {
				return err
			}
			color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "🗑️  Deleted address %s\n", args[0])
			return nil
		},
	}
}
