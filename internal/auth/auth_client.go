package auth

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	tokenPath    = "/api/v1/access/token"
	validatePath = "/api/v1/access/validate_token"

	// DefaultTimeout bounds every request made against the appliance
	DefaultTimeout = 30 * time.Second
)

// NewHTTPClient builds the client used for all appliance calls.
// cnMaestro appliances commonly ship self-signed certificates, so certificate
// verification can be switched off explicitly with insecureSkipVerify.
func NewHTTPClient(timeout time.Duration, insecureSkipVerify bool) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if insecureSkipVerify {
		log.Warn().Msg("TLS certificate verification is disabled")
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

// BaseURL returns the https base URL for an appliance host
func BaseURL(host string) string {
	host = strings.TrimSuffix(strings.TrimSpace(host), "/")
	if strings.HasPrefix(host, "https://") || strings.HasPrefix(host, "http://") {
		return host
	}
	return "https://" + host
}

// AuthClient talks to the access endpoints of a single appliance
type AuthClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewAuthClient creates a new auth client for host
func NewAuthClient(host string, httpClient *http.Client) *AuthClient {
	if httpClient == nil {
		httpClient = NewHTTPClient(DefaultTimeout, false)
	}
	return &AuthClient{
		baseURL:    BaseURL(host),
		httpClient: httpClient,
	}
}

// TokenURL is the client-credentials token endpoint
func (ac *AuthClient) TokenURL() string {
	return ac.baseURL + tokenPath
}

// HTTPClient returns the underlying HTTP client
func (ac *AuthClient) HTTPClient() *http.Client {
	return ac.httpClient
}

// ValidateToken asks the appliance how long the access token has left
func (ac *AuthClient) ValidateToken(ctx context.Context, accessToken string) (int64, error) {
	url := ac.baseURL + validatePath

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create validation request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	log.Debug().Str("url", url).Str("token", Mask(accessToken)).Msg("Validating access token")
	resp, err := ac.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to connect to %s: %w", url, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("failed to read validation response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return 0, &AuthError{Phase: PhaseValidation, Status: resp.StatusCode, Body: string(bodyBytes)}
	}

	var vr validateResponse
	if err := json.Unmarshal(bodyBytes, &vr); err != nil {
		return 0, fmt.Errorf("failed to parse validation response: %w", err)
	}

	return vr.ExpiresIn, nil
}
