package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"inbound-backend/internal/cli/api"
)

func newMailCommand() *cobra.Command {
	mailCmd := &cobra.Command{
		Use:   "mail",
		Short: "Browse received email",
	}
	mailCmd.AddCommand(newMailListCommand(), newMailGetCommand())
	return mailCmd
}

func newMailListCommand() *cobra.Command {
	var filter api.MailFilter

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List received email, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireAuth()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			list, err := app.API.ListMail(ctx, filter)
			if err != nil {
				return err
			}
			if wantsJSON() {
				return printJSON(cmd, list)
			}
			if len(list.Emails) == 0 {
				color.New(color.FgYellow).Fprintln(cmd.OutOrStdout(), "No email found.")
				return nil
			}

			tw := newTable(cmd.OutOrStdout(), "ID", "RECEIVED", "FROM", "TO", "SUBJECT", "STATUS")
			for _, e := range list.Emails {
				received := e.ReceivedAt
				subject := e.Subject
				if !e.IsRead {
					subject = "* " + subject
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
					e.ID, formatTime(&received), e.From, e.Recipient, subject, statusColor(e.Status).Sprint(e.Status))
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			p := list.Pagination
			fmt.Fprintf(cmd.OutOrStdout(), "\nShowing %d-%d of %d\n", p.Offset+1, p.Offset+len(list.Emails), p.Total)
			return nil
		},
	}

	cmd.Flags().StringVar(&filter.Domain, "domain", "", "domain id or name")
	cmd.Flags().StringVar(&filter.Status, "status", "", "received|forwarded|failed")
	cmd.Flags().BoolVar(&filter.Unread, "unread", false, "only unread email")
	cmd.Flags().IntVar(&filter.Limit, "limit", 20, "page size")
	cmd.Flags().IntVar(&filter.Offset, "offset", 0, "page offset")
	return cmd
}

func newMailGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get <email-id>",
		Short: "Print the structured view of one email as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireAuth()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			raw, err := app.API.GetMail(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, raw)
		},
	}
}
