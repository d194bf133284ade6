package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/rs/zerolog/log"
	"github.com/sabarim/cnmusage/internal/auth"
	"github.com/sabarim/cnmusage/internal/config"
	"github.com/sabarim/cnmusage/internal/performance"
	"github.com/spf13/cobra"
)

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Store client credentials and query parameters in the config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Merge(configFile, inlineConfig(cmd, ""))
			if err != nil && !errors.Is(err, config.ErrConfigNotFound) {
				return err
			}
			if cfg.ClientID == "" || cfg.ClientSecret == "" {
				return &config.ConfigError{
					Path: configFile,
					Err:  fmt.Errorf("%w: --client-id and --client-secret are both needed", config.ErrMissingField),
				}
			}
			return config.Save(configFile, cfg)
		},
	}
	addQueryFlags(cmd)
	return cmd
}

func newTokenCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "token [HOST]",
		Short: "Generate and validate an API access token",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Resolve(configFile, inlineConfig(cmd, firstArg(args)))
			if err != nil {
				return err
			}

			ctx, stop := signalContext()
			defer stop()

			manager := newSessionManager(cfg)
			session, err := manager.Acquire(ctx)
			if err != nil {
				return err
			}

			until := manager.Now().Add(time.Duration(session.ValidatedExpiresIn) * time.Second)
			fmt.Fprintf(cmd.OutOrStdout(), "access token %s valid for %d seconds (until %s)\n",
				auth.Mask(session.AccessToken), session.ValidatedExpiresIn, until.Format(time.RFC3339))
			return nil
		},
	}
}

func newPerformanceCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "performance [HOST]",
		Short: "Fetch device performance records for a time window",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Resolve(configFile, inlineConfig(cmd, firstArg(args)))
			if err != nil {
				return err
			}
			params, err := cfg.Query(time.Now())
			if err != nil {
				return err
			}

			ctx, stop := signalContext()
			defer stop()

			client, err := performance.NewClient(ctx, newSessionManager(cfg), params)
			if err != nil {
				return err
			}

			result, err := fetch(ctx, client)
			if err != nil {
				return err
			}

			if parquetFile != "" {
				if _, err := performance.WriteParquet(parquetFile, result); err != nil {
					return err
				}
			}
			return printJSON(cmd.OutOrStdout(), result.Raw)
		},
	}
	addQueryFlags(cmd)
	cmd.Flags().StringVar(&parquetFile, "parquet", "", "Also write the records to this parquet file")
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			figure.Write(out, figure.NewFigure("cnmusage", "cybermedium", true))
			fmt.Fprintf(out, "\ncnmusage version %s\n", versionString)
		},
	}
}

// addQueryFlags registers the query parameters. Their defaults only apply
// when the config file does not set the parameter either.
func addQueryFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&fields, "fields", "f", config.DefaultFields, "Comma-separated list of fields to return")
	cmd.Flags().StringVarP(&startTime, "start", "a", config.DefaultStartTime,
		"Start of the window: days ago (0-7, midnight) or an RFC 3339 timestamp")
	cmd.Flags().StringVarP(&stopTime, "stop", "o", config.DefaultStopTime,
		"End of the window: days ago (0-7, 23:00) or an RFC 3339 timestamp")
}

// fetch runs the query. A token the appliance rejects is refreshed once
// before giving up.
func fetch(ctx context.Context, client *performance.Client) (*performance.Result, error) {
	result, err := client.FetchPerformance(ctx)

	var apiErr *performance.APIError
	if err == nil || !errors.As(err, &apiErr) || !apiErr.Unauthorized() {
		return result, err
	}

	log.Warn().Int("status", apiErr.Status).Msg("Access token rejected, requesting a new one")
	if err := client.Refresh(ctx); err != nil {
		return nil, err
	}
	return client.FetchPerformance(ctx)
}

// inlineConfig collects the values given on the command line. Query flags
// left at their defaults are not inline values.
func inlineConfig(cmd *cobra.Command, host string) config.Config {
	if host == "" {
		host = hostIP
	}
	cfg := config.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		HostIP:       host,
	}
	if cmd.Flags().Changed("fields") {
		cfg.Params.Fields = fields
	}
	if cmd.Flags().Changed("start") {
		cfg.Params.StartTime = startTime
	}
	if cmd.Flags().Changed("stop") {
		cfg.Params.StopTime = stopTime
	}
	return cfg
}

func newSessionManager(cfg config.Config) *auth.SessionManager {
	return auth.NewSessionManager(
		cfg.HostIP,
		cfg.Credentials(),
		auth.WithHTTPClient(auth.NewHTTPClient(timeout, insecure)),
	)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func firstArg(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return ""
}

func printJSON(w io.Writer, raw json.RawMessage) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return fmt.Errorf("failed to format response: %w", err)
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(w)
	return err
}
