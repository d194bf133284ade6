// Package appliancetest provides an in-process fake cnMaestro appliance for tests.
package appliancetest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
)

const (
	ClientID     = "abc1234567890def"
	ClientSecret = "xyz789xyz789xyz789xyz789xyz789"
)

// Appliance serves the access and performance endpoints over TLS.
// Zero status fields mean HTTP 200.
type Appliance struct {
	Server *httptest.Server

	mu sync.Mutex

	// token endpoint
	Secret      string // accepted client secret, ClientSecret by default
	TokenStatus int
	TokenBody   string
	ExpiresIn   int64

	// validate_token endpoint
	ValidateStatus    int
	ValidateExpiresIn *int64

	// devices/performance endpoint
	PerformanceStatus int
	PerformanceBody   string

	issued           []string
	revoked          map[string]bool
	exchanges        int
	validations      int
	performanceCalls int
	grantTypes       []string
	basicAuths       []string
	authorizations   []string
	lastQuery        url.Values
}

// New starts a fake appliance that is closed when the test ends
func New(t *testing.T) *Appliance {
	t.Helper()

	a := &Appliance{
		Secret:          ClientSecret,
		ExpiresIn:       3600,
		PerformanceBody: `{"records":[]}`,
		revoked:         make(map[string]bool),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/access/token", a.handleToken)
	mux.HandleFunc("/api/v1/access/validate_token", a.handleValidate)
	mux.HandleFunc("/api/v1/devices/performance", a.handlePerformance)

	a.Server = httptest.NewTLSServer(mux)
	t.Cleanup(a.Server.Close)
	return a
}

// Host is the host:port of the fake appliance
func (a *Appliance) Host() string {
	return strings.TrimPrefix(a.Server.URL, "https://")
}

// Client trusts the fake appliance's certificate
func (a *Appliance) Client() *http.Client {
	return a.Server.Client()
}

// Configure changes the appliance behaviour while requests may be in flight
func (a *Appliance) Configure(fn func(a *Appliance)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	fn(a)
}

// Revoke invalidates every token issued so far
func (a *Appliance) Revoke() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, tok := range a.issued {
		a.revoked[tok] = true
	}
}

func (a *Appliance) Exchanges() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.exchanges
}

func (a *Appliance) Validations() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.validations
}

func (a *Appliance) PerformanceCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.performanceCalls
}

// GrantTypes lists the grant_type form values received by the token endpoint
func (a *Appliance) GrantTypes() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.grantTypes...)
}

// BasicAuths lists the Authorization headers received by the token endpoint
func (a *Appliance) BasicAuths() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.basicAuths...)
}

// Authorizations lists the Authorization headers received by the performance endpoint
func (a *Appliance) Authorizations() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.authorizations...)
}

// LastQuery is the query string of the latest performance request
func (a *Appliance) LastQuery() url.Values {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastQuery
}

func (a *Appliance) handleToken(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.exchanges++
	a.basicAuths = append(a.basicAuths, r.Header.Get("Authorization"))

	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err == nil {
		a.grantTypes = append(a.grantTypes, r.PostForm.Get("grant_type"))
	}

	if a.TokenStatus != 0 && a.TokenStatus != http.StatusOK {
		writeJSON(w, a.TokenStatus, a.TokenBody)
		return
	}

	id, secret, ok := r.BasicAuth()
	if !ok || id != ClientID || secret != a.Secret {
		writeJSON(w, http.StatusUnauthorized, `{"error":"invalid_client"}`)
		return
	}

	if a.TokenBody != "" {
		writeJSON(w, http.StatusOK, a.TokenBody)
		return
	}

	tok := fmt.Sprintf("tok-%d", len(a.issued)+1)
	a.issued = append(a.issued, tok)
	body, _ := json.Marshal(map[string]any{
		"access_token": tok,
		"token_type":   "Bearer",
		"expires_in":   a.ExpiresIn,
	})
	writeJSON(w, http.StatusOK, string(body))
}

func (a *Appliance) handleValidate(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.validations++

	if a.ValidateStatus != 0 && a.ValidateStatus != http.StatusOK {
		writeJSON(w, a.ValidateStatus, `{"error":"validation failed"}`)
		return
	}
	if !a.authorized(r) {
		writeJSON(w, http.StatusUnauthorized, `{"error":"invalid_token"}`)
		return
	}

	expiresIn := a.ExpiresIn
	if a.ValidateExpiresIn != nil {
		expiresIn = *a.ValidateExpiresIn
	}
	writeJSON(w, http.StatusOK, fmt.Sprintf(`{"expires_in":%d}`, expiresIn))
}

func (a *Appliance) handlePerformance(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.performanceCalls++
	a.authorizations = append(a.authorizations, r.Header.Get("Authorization"))
	a.lastQuery = r.URL.Query()

	if a.PerformanceStatus != 0 && a.PerformanceStatus != http.StatusOK {
		writeJSON(w, a.PerformanceStatus, `{"error":"request failed"}`)
		return
	}
	if !a.authorized(r) {
		writeJSON(w, http.StatusUnauthorized, `{"error":"invalid_token"}`)
		return
	}
	writeJSON(w, http.StatusOK, a.PerformanceBody)
}

// authorized must be called with mu held
func (a *Appliance) authorized(r *http.Request) bool {
	tok, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || a.revoked[tok] {
		return false
	}
	for _, issued := range a.issued {
		if issued == tok {
			return true
		}
	}
	// tokens handed out through a fixed TokenBody are accepted as-is
	return a.TokenBody != ""
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}
