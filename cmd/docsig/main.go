// Command docsig sends one signed request to the document API and prints the
// response body.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/amwolff/docsig"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

type rootFlags struct {
	settings    string
	credentials string
	profile     string
	logLevel    string
}

func newRootCmd() *cobra.Command {
	var f rootFlags

	root := &cobra.Command{
		Use:          "docsig",
		Short:        "Signed client for the document API",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&f.settings, "config", "", "YAML settings file")
	root.PersistentFlags().StringVar(&f.credentials, "credentials", "", "INI credentials file (default ~/.docsig/credentials.cfg)")
	root.PersistentFlags().StringVar(&f.profile, "profile", "default", "credentials file section")
	root.PersistentFlags().StringVar(&f.logLevel, "log-level", "", "log level override")

	root.AddCommand(newRequestCmd(&f))

	return root
}

func newRequestCmd(f *rootFlags) *cobra.Command {
	var body string

	cmd := &cobra.Command{
		Use:   "request METHOD PATH",
		Short: "Send a signed request relative to api_endpoint",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			overrides := map[string]any{}
			if f.logLevel != "" {
				overrides["log.level"] = f.logLevel
			}

			cfg, err := docsig.LoadConfig(docsig.LoadOptions{
				SettingsFile:    f.settings,
				CredentialsFile: f.credentials,
				Profile:         f.profile,
				Overrides:       overrides,
			})
			if err != nil {
				return err
			}
			if cfg.APIEndpoint == "" {
				return fmt.Errorf("%w: missing api_endpoint", docsig.ErrInvalidConfig)
			}

			log := docsig.NewLogger(cfg.Log.Level, cfg.Log.Pretty)
			e := docsig.NewExecutorFromConfig(cfg, log)

			var b []byte
			if body != "" {
				b = []byte(body)
			}
			url := endpointURL(cfg.APIEndpoint, args[1])

			resp, err := e.Do(cmd.Context(), docsig.NewRequest(strings.ToUpper(args[0]), url, b))
			if err != nil {
				return err
			}

			_, err = cmd.OutOrStdout().Write(append(resp.Body, '\n'))
			return err
		},
	}
	cmd.Flags().StringVar(&body, "body", "", "JSON request body")

	return cmd
}

func endpointURL(endpoint, path string) string {
	if !strings.Contains(endpoint, "://") {
		endpoint = "https://" + endpoint
	}
	return strings.TrimSuffix(endpoint, "/") + "/" + strings.TrimPrefix(path, "/")
}
