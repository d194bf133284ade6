package performance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/rs/zerolog/log"
	"github.com/sabarim/cnmusage/internal/auth"
)

const performancePath = "/api/v1/devices/performance"

// Client runs authenticated performance queries against one appliance.
// It holds exactly one session and one set of query parameters.
type Client struct {
	manager *auth.SessionManager
	session *auth.Session
	params  QueryParameters
	baseURL string
}

// NewClient validates params and acquires the initial session. No client is
// returned when the token exchange fails.
func NewClient(ctx context.Context, manager *auth.SessionManager, params QueryParameters) (*Client, error) {
	if err := params.Validate(manager.Now()); err != nil {
		return nil, err
	}

	session, err := manager.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	return &Client{
		manager: manager,
		session: session,
		params:  params,
		baseURL: auth.BaseURL(manager.Host()),
	}, nil
}

// Session returns the held session, nil once it has been discarded
func (c *Client) Session() *auth.Session {
	return c.session
}

// Params returns the query parameters the client was built with
func (c *Client) Params() QueryParameters {
	return c.params
}

// Refresh forces a new token exchange and replaces the held session
func (c *Client) Refresh(ctx context.Context) error {
	c.session = nil
	session, err := c.manager.Acquire(ctx)
	if err != nil {
		return err
	}
	c.session = session
	return nil
}

// FetchPerformance returns one page of device performance records for the
// client's query window
func (c *Client) FetchPerformance(ctx context.Context) (*Result, error) {
	if err := c.params.Validate(c.manager.Now()); err != nil {
		return nil, err
	}
	if c.session == nil {
		return nil, auth.ErrNoSession
	}

	session, err := c.manager.EnsureValid(ctx, c.session)
	if err != nil {
		if auth.IsAuthError(err, "") {
			c.session = nil
		}
		return nil, err
	}
	c.session = session

	body, err := c.get(ctx, performancePath, c.params.Values())
	if err != nil {
		return nil, err
	}

	result, err := decodeResult(body)
	if err != nil {
		return nil, err
	}
	log.Info().Int("records", len(result.Records())).Msg("Performance data received")
	return result, nil
}

// get issues an authenticated GET against path on the appliance
func (c *Client) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	apiURL := c.baseURL + path
	if len(query) > 0 {
		apiURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", c.session.AuthorizationHeader())
	req.Header.Set("Accept", "application/json")

	log.Debug().Str("url", apiURL).Msg("Calling API")
	resp, err := c.manager.HTTPClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", c.baseURL+path, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read API response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{URL: c.baseURL + path, Status: resp.StatusCode, Body: string(bodyBytes)}
		if apiErr.Unauthorized() {
			log.Warn().Int("status", resp.StatusCode).Msg("Access token rejected, session discarded")
			c.session = nil
		}
		return nil, apiErr
	}

	return bodyBytes, nil
}

func decodeResult(body []byte) (*Result, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse API response: %w", err)
	}

	return &Result{Raw: json.RawMessage(body), Document: doc}, nil
}
