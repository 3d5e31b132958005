package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"inbound-backend/internal/cli/api"
	"inbound-backend/internal/cli/config"
)

func newLoginCommand() *cobra.Command {
	var email, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate with email and password and cache the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := MustApp()
			reader := bufio.NewReader(cmd.InOrStdin())

			if email == "" {
				fmt.Fprint(cmd.OutOrStdout(), "Email: ")
				line, err := reader.ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read email: %w", err)
				}
				email = strings.TrimSpace(line)
			}
			if password == "" {
				password = os.Getenv("INBOUND_PASSWORD")
			}
			if password == "" {
				fmt.Fprint(cmd.OutOrStdout(), "Password: ")
				line, err := reader.ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read password: %w", err)
				}
				password = strings.TrimRight(line, "\r\n")
			}
			if email == "" || password == "" {
				return errors.New("email and password are required")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			defer cancel()

			resp, err := app.API.Login(ctx, email, password)
			if err != nil {
				return err
			}

			if err := app.Sessions.Save(&config.Session{
				Token:      resp.Token,
				Email:      resp.User.Email,
				UserID:     resp.User.ID,
				APIBaseURL: app.API.BaseURL(),
				ExpiresAt:  resp.ExpiresAt,
			}); err != nil {
				return err
			}

			color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "✅ Logged in as %s\n", resp.User.Email)
			return nil
		},
	}

	cmd.Flags().StringVarP(&email, "email", "e", "", "account email")
	cmd.Flags().StringVarP(&password, "password", "p", "", "account password (or INBOUND_PASSWORD)")
	return cmd
}

func newLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear the cached session",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := MustApp()

			sess, err := app.Sessions.Load()
			if err != nil {
				return err
			}
			if sess == nil {
				color.New(color.FgYellow).Fprintln(cmd.OutOrStdout(), "No active session.")
				return nil
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			defer cancel()

			if err := app.API.Logout(ctx); err != nil {
				var apiErr *api.APIError
				if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
					return err
				}
			}
			if err := app.Sessions.Clear(); err != nil {
				return err
			}

			color.New(color.FgGreen).Fprintln(cmd.OutOrStdout(), "🔒 Logged out.")
			return nil
		},
	}
}

func newWhoamiCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the authenticated account",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireAuth()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			defer cancel()

			profile, err := app.API.Profile(ctx)
			if err != nil {
				return err
			}
			if wantsJSON() {
				return printJSON(cmd, profile)
			}

			out := cmd.OutOrStdout()
			color.New(color.FgCyan, color.Bold).Fprintf(out, "Logged in as: %s\n", profile.User.Email)
			fmt.Fprintf(out, "  User ID: %s\n", profile.User.ID)
			fmt.Fprintf(out, "  Auth: %s\n", profile.AuthMethod)
			fmt.Fprintf(out, "  API: %s\n", app.API.BaseURL())

			if sess, err := app.Sessions.Load(); err == nil && sess != nil && !sess.ExpiresAt.IsZero() {
				switch {
				case sess.Expired(0):
					color.New(color.FgRed).Fprintf(out, "  Expired: %s\n", sess.ExpiresAt.Format(time.RFC3339))
				case sess.Expired(24 * time.Hour):
					color.New(color.FgYellow).Fprintf(out, "  Expires: %s (soon)\n", sess.ExpiresAt.Format(time.RFC3339))
				default:
					fmt.Fprintf(out, "  Expires: %s\n", sess.ExpiresAt.Format(time.RFC3339))
				}
			}
			return nil
		},
	}
}

func newHealthCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check API health",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := MustApp()
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			health, err := app.API.Health(ctx)
			if err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			if wantsJSON() {
				return printJSON(cmd, health)
			}

			status, _ := health["status"].(string)
			out := cmd.OutOrStdout()
			if strings.EqualFold(status, "healthy") {
				color.New(color.FgGreen, color.Bold).Fprintf(out, "✅ API Status: %s\n", status)
			} else {
				color.New(color.FgRed, color.Bold).Fprintf(out, "❌ API Status: %s\n", status)
			}
			for key, value := range health {
				if key != "status" {
					fmt.Fprintf(out, "  %s: %v\n", key, value)
				}
			}
			return nil
		},
	}
}
