package main

import (
	"errors"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sabarim/cnmusage/internal/auth"
	"github.com/sabarim/cnmusage/internal/config"
	"github.com/sabarim/cnmusage/internal/performance"
	"github.com/spf13/cobra"
)

var (
	configFile   string
	clientID     string
	clientSecret string
	hostIP       string
	fields       string
	startTime    string
	stopTime     string
	parquetFile  string
	timeout      time.Duration
	insecure     bool
	verbose      bool
)

var versionString = "0.1.0"

// Exit codes
const (
	exitOK      = 0
	exitFailure = 1
	exitConfig  = 2
	exitAuth    = 3
	exitAPI     = 4
)

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("cnmusage failed")
		os.Exit(exitCode(err))
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "cnmusage",
		Short: "Fetch device performance data from a cnMaestro appliance",
		Long: `A command-line client that authenticates against the cnMaestro API with
client credentials and downloads device performance records for a time window.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging(verbose)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&clientID, "client-id", "i", "", "Client ID for the cnMaestro API")
	flags.StringVarP(&clientSecret, "client-secret", "s", "", "Client secret for the cnMaestro API")
	flags.StringVarP(&configFile, "config-file", "c", config.DefaultPath, "Path to the JSON config file")
	flags.StringVar(&hostIP, "host", "", "cnMaestro host or IP (overrides host_ip from the config file)")
	flags.DurationVar(&timeout, "timeout", auth.DefaultTimeout, "Timeout for each request to the appliance")
	flags.BoolVar(&insecure, "insecure", false, "Skip TLS certificate verification (self-signed appliances)")
	flags.BoolVar(&verbose, "verbose", false, "Enable verbose logging")

	rootCmd.AddCommand(
		newConfigCommand(),
		newTokenCommand(),
		newPerformanceCommand(),
		newVersionCommand(),
	)
	return rootCmd
}

func setupLogging(verbose bool) {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).
		With().
		Timestamp().
		Str("run_id", uuid.NewString()).
		Logger()
}

// exitCode maps an error to the process exit status
func exitCode(err error) int {
	var (
		configErr     *config.ConfigError
		validationErr *performance.ValidationError
		authErr       *auth.AuthError
		apiErr        *performance.APIError
	)
	switch {
	case err == nil:
		return exitOK
	case errors.As(err, &configErr), errors.As(err, &validationErr):
		return exitConfig
	case errors.As(err, &authErr), errors.Is(err, auth.ErrNoSession):
		return exitAuth
	case errors.As(err, &apiErr):
		return exitAPI
	default:
		return exitFailure
	}
}
