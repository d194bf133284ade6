package main

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sabarim/cnmusage/internal/appliancetest"
	"github.com/sabarim/cnmusage/internal/auth"
	"github.com/sabarim/cnmusage/internal/config"
	"github.com/sabarim/cnmusage/internal/performance"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func window() (string, string) {
	now := time.Now().UTC()
	return now.Add(-24 * time.Hour).Format(time.RFC3339), now.Format(time.RFC3339)
}

func TestPerformanceCommand(t *testing.T) {
	a := appliancetest.New(t)
	a.PerformanceBody = `{"data":[{"mac":"00:04:56:AA:BB:CC","name":"ap-1"}]}`
	start, stop := window()
	parquetPath := filepath.Join(t.TempDir(), "perf.parquet")

	out, err := run(t, "performance", a.Host(),
		"--insecure",
		"--config-file", filepath.Join(t.TempDir(), "missing.json"),
		"-i", appliancetest.ClientID,
		"-s", appliancetest.ClientSecret,
		"--fields", "mac,name",
		"--start", start,
		"--stop", stop,
		"--parquet", parquetPath,
	)
	require.NoError(t, err)
	require.JSONEq(t, a.PerformanceBody, out)
	require.FileExists(t, parquetPath)
	require.Equal(t, "mac,name", a.LastQuery().Get("fields"))
	require.Equal(t, []string{"Bearer tok-1"}, a.Authorizations())
}

func TestPerformanceCommand_QueryDefaults(t *testing.T) {
	a := appliancetest.New(t)

	_, err := run(t, "performance", a.Host(), "--insecure",
		"-c", filepath.Join(t.TempDir(), "missing.json"),
		"-i", appliancetest.ClientID, "-s", appliancetest.ClientSecret)
	require.NoError(t, err)

	q := a.LastQuery()
	require.Equal(t, config.DefaultFields, q.Get("fields"))
	start, err := time.Parse(time.RFC3339, q.Get("start_time"))
	require.NoError(t, err)
	require.True(t, start.After(time.Now().Add(-performance.MaxLookback)))
	require.Contains(t, q.Get("stop_time"), "T23:00:00")

	yesterday := time.Now().AddDate(0, 0, -1).Format("2006-01-02")
	require.Contains(t, q.Get("stop_time"), yesterday)
}

func TestPerformanceCommand_DayOffsets(t *testing.T) {
	a := appliancetest.New(t)

	_, err := run(t, "performance", a.Host(), "--insecure",
		"-c", filepath.Join(t.TempDir(), "missing.json"),
		"-i", appliancetest.ClientID, "-s", appliancetest.ClientSecret,
		"-f", "mac", "-a", "2", "-o", "0")
	require.NoError(t, err)

	q := a.LastQuery()
	require.Equal(t, "mac", q.Get("fields"))
	require.Contains(t, q.Get("start_time"), time.Now().AddDate(0, 0, -2).Format("2006-01-02")+"T00:00:00")
	require.Contains(t, q.Get("stop_time"), time.Now().Format("2006-01-02")+"T23:00:00")

	t.Run("more than seven days", func(t *testing.T) {
		_, err := run(t, "performance", a.Host(), "--insecure",
			"-c", filepath.Join(t.TempDir(), "missing.json"),
			"-i", appliancetest.ClientID, "-s", appliancetest.ClientSecret,
			"--start", "8")
		require.Equal(t, exitConfig, exitCode(err))
	})
}

func TestPerformanceCommand_RefreshesRejectedToken(t *testing.T) {
	a := appliancetest.New(t)
	start, stop := window()

	cfgPath := filepath.Join(t.TempDir(), "auth.json")
	require.NoError(t, config.Save(cfgPath, config.Config{
		ClientID:     appliancetest.ClientID,
		ClientSecret: appliancetest.ClientSecret,
		HostIP:       a.Host(),
		Params:       config.ParamsConfig{Fields: "name", StartTime: start, StopTime: stop},
	}))

	// the data endpoint keeps rejecting every token
	a.Configure(func(a *appliancetest.Appliance) { a.PerformanceStatus = http.StatusUnauthorized })

	_, err := run(t, "performance", "--insecure", "-c", cfgPath)
	var apiErr *performance.APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, exitAPI, exitCode(err))
	require.Equal(t, 2, a.Exchanges(), "one refresh after the rejection")
	require.Equal(t, 2, a.PerformanceCalls())
}

func TestPerformanceCommand_WindowTooOld(t *testing.T) {
	a := appliancetest.New(t)
	old := time.Now().Add(-8 * 24 * time.Hour).UTC().Format(time.RFC3339)

	_, err := run(t, "performance", a.Host(), "--insecure",
		"-c", filepath.Join(t.TempDir(), "missing.json"),
		"-i", appliancetest.ClientID, "-s", appliancetest.ClientSecret,
		"--start", old, "--stop", time.Now().UTC().Format(time.RFC3339))

	var ve *performance.ValidationError
	require.True(t, errors.As(err, &ve))
	require.Equal(t, exitConfig, exitCode(err))
	require.Equal(t, 0, a.Exchanges())
}

func TestTokenCommand(t *testing.T) {
	t.Run("prints remaining lifetime", func(t *testing.T) {
		a := appliancetest.New(t)

		out, err := run(t, "token", a.Host(), "--insecure",
			"-c", filepath.Join(t.TempDir(), "missing.json"),
			"-i", appliancetest.ClientID, "-s", appliancetest.ClientSecret)
		require.NoError(t, err)
		require.Contains(t, out, "valid for 3600 seconds")
		require.NotContains(t, out, "tok-1", "token is masked")
		require.Equal(t, 1, a.Validations())
	})

	t.Run("prints lifetime reported by validation", func(t *testing.T) {
		a := appliancetest.New(t)
		remaining := int64(1200)
		a.ValidateExpiresIn = &remaining

		out, err := run(t, "token", a.Host(), "--insecure",
			"-c", filepath.Join(t.TempDir(), "missing.json"),
			"-i", appliancetest.ClientID, "-s", appliancetest.ClientSecret)
		require.NoError(t, err)
		require.Contains(t, out, "valid for 1200 seconds")
	})

	t.Run("rejected credentials", func(t *testing.T) {
		a := appliancetest.New(t)

		_, err := run(t, "token", a.Host(), "--insecure",
			"-c", filepath.Join(t.TempDir(), "missing.json"),
			"-i", appliancetest.ClientID, "-s", "wrong")
		require.True(t, auth.IsAuthError(err, auth.PhaseTokenExchange))
		require.Equal(t, exitAuth, exitCode(err))
	})

	t.Run("no config and no credentials", func(t *testing.T) {
		_, err := run(t, "token", "10.0.0.1", "-c", filepath.Join(t.TempDir(), "missing.json"))
		require.ErrorIs(t, err, config.ErrConfigNotFound)
		require.Equal(t, exitConfig, exitCode(err))
	})
}

func TestConfigCommand(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "auth.json")

	_, err := run(t, "config", "-c", cfgPath,
		"-i", "abc123", "-s", "xyz789",
		"--host", "10.0.0.1",
		"--fields", "name,timestamp",
		"--start", "2024-01-01T00:00:00-05:00",
		"--stop", "2024-01-02T23:00:00-05:00")
	require.NoError(t, err)

	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)
	require.Equal(t, config.Config{
		ClientID:     "abc123",
		ClientSecret: "xyz789",
		HostIP:       "10.0.0.1",
		Params: config.ParamsConfig{
			Fields:    "name,timestamp",
			StartTime: "2024-01-01T00:00:00-05:00",
			StopTime:  "2024-01-02T23:00:00-05:00",
		},
	}, cfg)

	t.Run("credentials are required", func(t *testing.T) {
		_, err := run(t, "config", "-c", filepath.Join(t.TempDir(), "auth.json"), "-i", "only-id")
		require.ErrorIs(t, err, config.ErrMissingField)
	})
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	require.Contains(t, out, "cnmusage version "+versionString)
	require.Greater(t, len(strings.Split(out, "\n")), 3, "banner is written to the command output")
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, exitOK},
		{errors.New("boom"), exitFailure},
		{&config.ConfigError{Path: "x", Err: config.ErrConfigNotFound}, exitConfig},
		{&performance.ValidationError{Field: "start_time", Reason: "bad"}, exitConfig},
		{fmt.Errorf("wrapped: %w", &auth.AuthError{Phase: auth.PhaseValidation, Status: 401}), exitAuth},
		{auth.ErrNoSession, exitAuth},
		{&performance.APIError{Status: 500}, exitAPI},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, exitCode(tt.err), "%v", tt.err)
	}
}

func TestMain(m *testing.M) {
	setupLogging(false)
	os.Exit(m.Run())
}
