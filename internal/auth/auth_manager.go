package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// ErrNoSession is returned when an operation needs a session that was never
// acquired or has been discarded after an authorization failure.
var ErrNoSession = errors.New("no valid session; refresh required")

// Option configures a SessionManager
type Option func(*SessionManager)

// WithHTTPClient sets the HTTP client used for the access endpoints
func WithHTTPClient(c *http.Client) Option {
	return func(sm *SessionManager) {
		sm.httpClient = c
	}
}

// WithClock replaces time.Now, mostly for tests
func WithClock(now func() time.Time) Option {
	return func(sm *SessionManager) {
		sm.now = now
	}
}

// SessionManager exchanges client credentials for access tokens against one
// appliance and decides when a token has to be re-issued.
// It is not safe for concurrent use.
type SessionManager struct {
	host        string
	credentials Credentials
	httpClient  *http.Client
	authClient  *AuthClient
	now         func() time.Time
}

// NewSessionManager creates a session manager for host and credentials
func NewSessionManager(host string, credentials Credentials, opts ...Option) *SessionManager {
	sm := &SessionManager{
		host:        host,
		credentials: credentials,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(sm)
	}
	if sm.httpClient == nil {
		sm.httpClient = NewHTTPClient(DefaultTimeout, false)
	}
	sm.authClient = NewAuthClient(host, sm.httpClient)
	return sm
}

// Host returns the appliance host this manager authenticates against
func (sm *SessionManager) Host() string {
	return sm.host
}

// HTTPClient returns the HTTP client shared with downstream API calls
func (sm *SessionManager) HTTPClient() *http.Client {
	return sm.httpClient
}

// Now returns the manager's notion of the current time
func (sm *SessionManager) Now() time.Time {
	return sm.now()
}

// Acquire performs the client-credentials exchange and then calls the
// validation endpoint once so authorization problems surface before any data
// call is made. There is no retry.
func (sm *SessionManager) Acquire(ctx context.Context) (*Session, error) {
	log.Debug().Str("host", sm.host).Str("client_id", sm.credentials.ClientID).Msg("Retrieving access parameters")

	session, err := sm.exchange(ctx)
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("token", Mask(session.AccessToken)).
		Int64("expires_in", session.ExpiresIn).
		Msg("Access token issued")

	remaining, err := sm.Validate(ctx, session)
	if err != nil {
		return nil, err
	}
	session.ValidatedExpiresIn = remaining
	log.Info().Int64("expires_in", remaining).Msg("Access token validated")

	return session, nil
}

// exchange posts grant_type=client_credentials with HTTP Basic credentials
func (sm *SessionManager) exchange(ctx context.Context) (*Session, error) {
	cc := &clientcredentials.Config{
		ClientID:     sm.credentials.ClientID,
		ClientSecret: sm.credentials.ClientSecret,
		TokenURL:     sm.authClient.TokenURL(),
		AuthStyle:    oauth2.AuthStyleInHeader,
	}

	issuedAt := sm.now()
	tok, err := cc.Token(context.WithValue(ctx, oauth2.HTTPClient, sm.tokenHTTPClient()))
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			status := 0
			if re.Response != nil {
				status = re.Response.StatusCode
			}
			return nil, &AuthError{Phase: PhaseTokenExchange, Status: status, Body: string(re.Body)}
		}
		return nil, fmt.Errorf("token exchange with %s: %w", sm.host, err)
	}

	expiresIn := expiresInSeconds(tok, issuedAt)
	if expiresIn <= 0 {
		return nil, fmt.Errorf("token exchange with %s: response carries no positive expires_in", sm.host)
	}

	return &Session{
		AccessToken: tok.AccessToken,
		TokenType:   tok.TokenType,
		IssuedAt:    issuedAt,
		ExpiresIn:   expiresIn,
	}, nil
}

// tokenHTTPClient is the manager's client with Basic credentials set on every
// request. oauth2 query-escapes id and secret in the header; the appliance
// expects base64(client_id:client_secret) of the raw values.
func (sm *SessionManager) tokenHTTPClient() *http.Client {
	c := *sm.httpClient
	base := c.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	c.Transport = &basicAuthTransport{credentials: sm.credentials, base: base}
	return &c
}

type basicAuthTransport struct {
	credentials Credentials
	base        http.RoundTripper
}

func (t *basicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.SetBasicAuth(t.credentials.ClientID, t.credentials.ClientSecret)
	return t.base.RoundTrip(r)
}

// Validate returns the remaining token lifetime in seconds as reported by the server
func (sm *SessionManager) Validate(ctx context.Context, session *Session) (int64, error) {
	if session == nil {
		return 0, ErrNoSession
	}
	return sm.authClient.ValidateToken(ctx, session.AccessToken)
}

// EnsureValid returns session unchanged while it is still valid, or a freshly
// acquired one once it has expired locally or the server reports no lifetime left.
func (sm *SessionManager) EnsureValid(ctx context.Context, session *Session) (*Session, error) {
	if session == nil {
		return sm.Acquire(ctx)
	}

	if session.Expired(sm.now()) {
		log.Info().Time("expired_at", session.ExpiresAt()).Msg("Access token expired, re-issuing")
		return sm.Acquire(ctx)
	}

	remaining, err := sm.Validate(ctx, session)
	if err != nil {
		return nil, err
	}
	if remaining <= 0 {
		log.Info().Int64("expires_in", remaining).Msg("Server reports token lifetime exhausted, re-issuing")
		return sm.Acquire(ctx)
	}

	return session, nil
}

// expiresInSeconds reads expires_in from the raw token response, falling back
// to the expiry oauth2 derived from it.
func expiresInSeconds(tok *oauth2.Token, now time.Time) int64 {
	switch v := tok.Extra("expires_in").(type) {
	case float64:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	}
	if !tok.Expiry.IsZero() {
		return int64(tok.Expiry.Sub(now).Round(time.Second) / time.Second)
	}
	return 0
}
