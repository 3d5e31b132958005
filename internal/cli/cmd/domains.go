package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"inbound-backend/internal/cli/api"
)

func newDomainsCommand() *cobra.Command {
	domainsCmd := &cobra.Command{
		Use:     "domains",
		Aliases: []string{"domain"},
		Short:   "Manage receiving domains",
	}
	domainsCmd.AddCommand(
		newDomainsListCommand(),
		newDomainsAddCommand(),
		newDomainsCheckCommand(),
		newDomainsDeleteCommand(),
		newDomainsSyncCommand(),
	)
	return domainsCmd
}

func newDomainsListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List domains",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireAuth()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			domains, err := app.API.ListDomains(ctx)
			if err != nil {
				return err
			}
			if wantsJSON() {
				return printJSON(cmd, domains)
			}
			if len(domains) == 0 {
				color.New(color.FgYellow).Fprintln(cmd.OutOrStdout(), "No domains found. Add one with `inbound domains add <domain>`.")
				return nil
			}

			tw := newTable(cmd.OutOrStdout(), "ID", "DOMAIN", "STATUS", "RECEIVING", "CATCH-ALL", "LAST CHECK")
			for _, d := range domains {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
					d.ID, d.Domain, statusColor(d.Status).Sprint(d.Status),
					yesNo(d.CanReceiveEmails), yesNo(d.IsCatchAllEnabled), formatTime(d.LastDNSCheck))
			}
			return tw.Flush()
		},
	}
}

func newDomainsAddCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "add <domain>",
		Short: "Register a domain and print the DNS records to publish",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireAuth()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
			defer cancel()

			resp, err := app.API.CreateDomain(ctx, args[0])
			if err != nil {
				return err
			}
			if wantsJSON() {
				return printJSON(cmd, resp)
			}

			out := cmd.OutOrStdout()
			color.New(color.FgGreen).Fprintf(out, "✅ Added %s (%s)\n", resp.Domain.Domain, resp.Domain.ID)
			for _, w := range resp.Warnings {
				color.New(color.FgYellow).Fprintf(out, "⚠️  %s\n", w)
			}
			fmt.Fprintln(out, "\nPublish these DNS records, then run `inbound domains check "+resp.Domain.ID+"`:")
			return printRecords(cmd, resp.DNSRecords)
		},
	}
}

func newDomainsCheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check <domain-id>",
		Short: "Re-verify a domain's DNS records and SES identity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireAuth()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
			defer cancel()

			detail, err := app.API.GetDomain(ctx, args[0], true)
			if err != nil {
				return err
			}
			if wantsJSON() {
				return printJSON(cmd, detail)
			}

			out := cmd.OutOrStdout()
			status := detail.Domain.Status
			fmt.Fprintf(out, "%s: ", detail.Domain.Domain)
			statusColor(status).Fprintln(out, status)

			records := detail.DNSRecords
			if check := detail.VerificationCheck; check != nil {
				records = check.DNSRecords
				fmt.Fprintf(out, "SES: %s\n", check.SESStatus)
				if check.SESError != "" {
					color.New(color.FgYellow).Fprintf(out, "SES error: %s\n", check.SESError)
				}
			}
			return printRecords(cmd, records)
		},
	}
}

func newDomainsDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <domain-id>",
		Short: "Delete a domain with its addresses and receipt rules",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireAuth()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
			defer cancel()

			if err := app.API.DeleteDomain(ctx, args[0]); err != nil {
				return err
			}
			color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "🗑️  Deleted domain %s\n", args[0])
			return nil
		},
	}
}

func newDomainsSyncCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Refresh every domain's SES verification status",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireAuth()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
			defer cancel()

			results, err := app.API.SyncDomains(ctx)
			if err != nil {
				return err
			}
			if wantsJSON() {
				return printJSON(cmd, results)
			}

			tw := newTable(cmd.OutOrStdout(), "DOMAIN", "SES", "STATUS", "CHANGED")
			for _, r := range results {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Domain, r.SESStatus, statusColor(r.Status).Sprint(r.Status), yesNo(r.Updated))
			}
			return tw.Flush()
		},
	}
}

func printRecords(cmd *cobra.Command, records []api.DNSRecord) error {
	tw := newTable(cmd.OutOrStdout(), "TYPE", "NAME", "VALUE", "VERIFIED")
	for _, r := range records {
		verified := color.New(color.FgRed).Sprint("no")
		if r.IsVerified {
			verified = color.New(color.FgGreen).Sprint("yes")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Type, r.Name, r.Value, verified)
	}
	return tw.Flush()
}
