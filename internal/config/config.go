package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"github.com/sabarim/cnmusage/internal/auth"
	"github.com/sabarim/cnmusage/internal/performance"
	"github.com/spf13/viper"
)

// DefaultPath is where credentials and query parameters are kept
const DefaultPath = "./.auth.json"

// Query parameters used when neither the command line nor the file sets them.
// Start and stop are days ago.
const (
	DefaultFields    = "name,timestamp,radio.dl_kbits,radio.ul_kbits"
	DefaultStartTime = "7"
	DefaultStopTime  = "1"
)

var (
	ErrConfigNotFound  = errors.New("config file not found")
	ErrMalformedConfig = errors.New("malformed config file")
	ErrMissingField    = errors.New("missing required field")
)

// ConfigError reports a config file that is missing, malformed or incomplete
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %v", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Config mirrors the config file:
// {client_id, client_secret, host_ip, params: {fields, start_time, stop_time}}
type Config struct {
	ClientID     string       `mapstructure:"client_id"     validate:"required"`
	ClientSecret string       `mapstructure:"client_secret" validate:"required"`
	HostIP       string       `mapstructure:"host_ip"       validate:"required"`
	Params       ParamsConfig `mapstructure:"params"`
}

// ParamsConfig holds the performance query parameters in their textual form
type ParamsConfig struct {
	Fields    string `mapstructure:"fields"`
	StartTime string `mapstructure:"start_time"`
	StopTime  string `mapstructure:"stop_time"`
}

// Credentials returns the client credentials of the config
func (c Config) Credentials() auth.Credentials {
	return auth.Credentials{ClientID: c.ClientID, ClientSecret: c.ClientSecret}
}

// Query parses the params section into performance query parameters. Day
// offsets are resolved against now.
func (c Config) Query(now time.Time) (performance.QueryParameters, error) {
	return performance.ParseQuery(c.Params.Fields, c.Params.StartTime, c.Params.StopTime, now)
}

// envBindings maps config keys to environment variables
var envBindings = map[string]string{
	"client_id":         "CNM_CLIENT_ID",
	"client_secret":     "CNM_CLIENT_SECRET",
	"host_ip":           "CNM_HOST_IP",
	"params.fields":     "CNM_PARAMS_FIELDS",
	"params.start_time": "CNM_PARAMS_START_TIME",
	"params.stop_time":  "CNM_PARAMS_STOP_TIME",
}

// Load reads the JSON config file at path. Environment variables override
// values from the file.
func Load(path string) (Config, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Config{}, &ConfigError{Path: path, Err: ErrConfigNotFound}
		}
		return Config{}, &ConfigError{Path: path, Err: err}
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return Config{}, &ConfigError{Path: path, Err: err}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		return Config{}, &ConfigError{Path: path, Err: fmt.Errorf("%w: %v", ErrMalformedConfig, err)}
	}
	log.Debug().Str("file", v.ConfigFileUsed()).Msg("Loaded config file")

	// Environment variables take precedence over file values
	v.SetEnvPrefix("CNM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, &ConfigError{Path: path, Err: fmt.Errorf("error unmarshaling config: %w", err)}
	}

	return cfg, nil
}

// Save writes cfg to path as JSON, readable by the owner only
func Save(path string, cfg Config) error {
	if !strings.EqualFold(filepath.Ext(path), ".json") {
		return &ConfigError{Path: path, Err: errors.New("config file name must end in .json")}
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return &ConfigError{Path: path, Err: fmt.Errorf("failed to create config directory: %w", err)}
		}
	}

	v := viper.New()
	v.SetConfigType("json")
	v.SetConfigPermissions(0600)

	v.Set("client_id", cfg.ClientID)
	v.Set("client_secret", cfg.ClientSecret)
	v.Set("host_ip", cfg.HostIP)
	v.Set("params.fields", cfg.Params.Fields)
	v.Set("params.start_time", cfg.Params.StartTime)
	v.Set("params.stop_time", cfg.Params.StopTime)

	if err := v.WriteConfigAs(path); err != nil {
		return &ConfigError{Path: path, Err: fmt.Errorf("failed to write config file: %w", err)}
	}
	if err := os.Chmod(path, 0600); err != nil {
		return &ConfigError{Path: path, Err: err}
	}

	log.Info().Str("file", path).Msg("Configuration saved")
	return nil
}

// Resolve merges inline values with the config file at path and checks that
// the result is usable.
func Resolve(path string, inline Config) (Config, error) {
	cfg, err := Merge(path, inline)
	if err != nil {
		return Config{}, err
	}
	if err := Validate(cfg); err != nil {
		return Config{}, &ConfigError{Path: path, Err: err}
	}
	return cfg, nil
}

// Merge combines inline values with the config file at path.
//
// Inline credentials replace the file's only when client id and secret are
// both given; otherwise the file is authoritative for credentials and has to
// exist and parse. A non-empty inline host or query parameter overrides the
// file value. Query parameters set nowhere take the defaults.
func Merge(path string, inline Config) (Config, error) {
	inlineCredentials := inline.ClientID != "" && inline.ClientSecret != ""

	cfg, err := Load(path)
	switch {
	case err == nil:
	case inlineCredentials && errors.Is(err, ErrConfigNotFound):
		log.Debug().Str("file", path).Msg("No config file, using inline values only")
		cfg = Config{}
	case inlineCredentials && errors.Is(err, ErrMalformedConfig):
		log.Warn().Err(err).Msg("Ignoring unreadable config file, using inline values only")
		cfg = Config{}
	default:
		return Config{}, err
	}

	if inlineCredentials {
		cfg.ClientID = inline.ClientID
		cfg.ClientSecret = inline.ClientSecret
	} else if inline.ClientID != "" || inline.ClientSecret != "" {
		log.Warn().Msg("Both client id and client secret are needed inline; using credentials from the config file")
	}

	if inline.HostIP != "" {
		cfg.HostIP = inline.HostIP
	}
	if inline.Params.Fields != "" {
		cfg.Params.Fields = inline.Params.Fields
	}
	if inline.Params.StartTime != "" {
		cfg.Params.StartTime = inline.Params.StartTime
	}
	if inline.Params.StopTime != "" {
		cfg.Params.StopTime = inline.Params.StopTime
	}

	if cfg.Params.Fields == "" {
		cfg.Params.Fields = DefaultFields
	}
	if cfg.Params.StartTime == "" {
		cfg.Params.StartTime = DefaultStartTime
	}
	if cfg.Params.StopTime == "" {
		cfg.Params.StopTime = DefaultStopTime
	}

	return cfg, nil
}

// Validate checks that credentials and host are present
func Validate(cfg Config) error {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		return fld.Tag.Get("mapstructure")
	})

	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("config validation failed: %w", err)
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Field())
	}
	return fmt.Errorf("%w: %s", ErrMissingField, strings.Join(fields, ", "))
}
