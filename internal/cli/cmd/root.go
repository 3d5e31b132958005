// Package cmd implements the inbound command-line client.
package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"inbound-backend/internal/cli/api"
	"inbound-backend/internal/cli/config"
)

var version = "dev"

// App carries global CLI state shared across commands.
type App struct {
	Config       *config.Config
	Sessions     *config.SessionStore
	API          *api.Client
	OutputFormat string
	Debug        bool
}

type rootOptions struct {
	cfgFile     string
	profile     string
	overrideAPI string
	format      string
	debug       bool
}

var app *App

var errNotAuthenticated = errors.New("not authenticated: run `inbound login` or set INBOUND_API_KEY")

// Execute runs the root command.
func Execute() error {
	return NewRootCommand().Execute()
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "inbound",
		Short:         "Manage inbound email domains, addresses, webhooks and mail",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return initApp(cmd, opts)
		},
	}
	rootCmd.SetVersionTemplate("{{.Name}} version {{.Version}}\n")

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.cfgFile, "config", "", "config file (default is $INBOUND_HOME/config.yaml)")
	flags.StringVar(&opts.profile, "profile", "default", "configuration profile")
	flags.StringVar(&opts.overrideAPI, "api-url", "", "override API base URL")
	flags.StringVarP(&opts.format, "format", "o", "", "output format (table|json)")
	flags.BoolVar(&opts.debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(
		newLoginCommand(),
		newLogoutCommand(),
		newWhoamiCommand(),
		newHealthCommand(),
		newDomainsCommand(),
		newAddressesCommand(),
		newWebhooksCommand(),
		newMailCommand(),
	)
	return rootCmd
}

// MustApp returns the initialized application context.
func MustApp() *App {
	if app == nil {
		panic("cli not initialized")
	}
	return app
}

func initApp(cmd *cobra.Command, opts *rootOptions) error {
	cfgPath := opts.cfgFile
	if cfgPath == "" {
		home := os.Getenv("INBOUND_HOME")
		if home == "" {
			var err error
			if home, err = config.DefaultHomeDir(); err != nil {
				return fmt.Errorf("determine config directory: %w", err)
			}
		}
		cfgPath = filepath.Join(home, "config.yaml")
	}

	cfg, err := config.Load(cfgPath, opts.profile)
	if err != nil {
		return err
	}
	if opts.format != "" {
		cfg.OutputFormat = opts.format
	}
	if err := os.MkdirAll(cfg.HomeDir, 0o700); err != nil {
		return fmt.Errorf("ensure inbound home: %w", err)
	}

	sessions := config.NewSessionStore(filepath.Join(cfg.HomeDir, "session.json"))

	token := cfg.APIKey
	if opts.overrideAPI != "" {
		cfg.APIBaseURL = strings.TrimRight(opts.overrideAPI, "/")
	}
	if token == "" && cmd.Name() != "login" {
		sess, err := sessions.Load()
		if err != nil {
			return err
		}
		if sess != nil {
			// the session belongs to the API that issued it
			if opts.overrideAPI == "" && sess.APIBaseURL != "" {
				cfg.APIBaseURL = sess.APIBaseURL
			}
			token = sess.Token
		}
	}

	client, err := api.NewClient(cfg.APIBaseURL,
		api.WithTimeout(30*time.Second),
		api.WithUserAgent("inbound-cli/"+version),
		api.WithDebug(opts.debug),
	)
	if err != nil {
		return err
	}
	client.SetToken(token)

	app = &App{
		Config:       cfg,
		Sessions:     sessions,
		API:          client,
		OutputFormat: strings.ToLower(cfg.OutputFormat),
		Debug:        opts.debug,
	}
	printDebug("using API %s (profile %s)", client.BaseURL(), cfg.Profile)
	return nil
}

func requireAuth() (*App, error) {
	a := MustApp()
	if a.API.Token() == "" {
		return nil, errNotAuthenticated
	}
	return a, nil
}

func printDebug(format string, args ...interface{}) {
	if app != nil && app.Debug {
		color.New(color.FgHiBlack).Fprintln(os.Stderr, "[debug]", fmt.Sprintf(format, args...))
	}
}
