// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/json"
	"encoding/pem"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"net/url"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	sdkHttp "github.com/hashicorp/cap-desktop/sdk/http"
	"github.com/stretchr/testify/require"
)

const testProviderKeyID = "test-provider-key"

// TestProvider is a local TLS server which implements the provider side of
// the authorization code + PKCE flow, which makes writing tests much easier.
// It serves:
//
//	/.well-known/openid-configuration (discovery)
//	/auth   (authorization endpoint; redirects to the loopback redirect_uri)
//	/token  (token endpoint; verifies the PKCE code_verifier)
//	/certs  (JWKS used to verify its id_tokens)
//
// Authorization codes are single-use and bound to the code_challenge,
// redirect_uri and client_id of the authorization request.
type TestProvider struct {
	httpServer *httptest.Server
	caCert     string

	privKey *ecdsa.PrivateKey
	jwks    *jose.JSONWebKeySet

	mu                  sync.Mutex
	clientID            string
	allowedRedirectURIs []string
	subject             string
	codes               map[string]testAuthRequest
	authError           *LoginError
	tokenError          *RejectedError
	tokenMalformed      bool
	tokenRedirect       string
	omitIDToken         bool
	customAudience      string
	forgedState         string
	tokenRequests       int
	lastAuthRequest     url.Values

	t testing.TB
}

// testAuthRequest is what the provider remembers about an issued code.
type testAuthRequest struct {
	clientID    string
	redirectURI string
	challenge   string
	nonce       string
}

// StartTestProvider creates a disposable TestProvider, which is stopped when
// the test completes.
func StartTestProvider(t testing.TB) *TestProvider {
	t.Helper()
	require := require.New(t)

	p := &TestProvider{
		clientID: "test-client-id",
		subject:  "alice@example.com",
		codes:    map[string]testAuthRequest{},
		t:        t,
	}
	pub, priv := TestGenerateKeys(t)
	p.privKey = priv
	p.jwks = &jose.JSONWebKeySet{
		Keys: []jose.JSONWebKey{
			{Key: pub, KeyID: testProviderKeyID, Algorithm: string(jose.ES256), Use: "sig"},
		},
	}

	p.httpServer = httptest.NewUnstartedServer(p)
	p.httpServer.Config.ErrorLog = log.New(io.Discard, "", 0)
	p.httpServer.StartTLS()
	t.Cleanup(p.httpServer.Close)

	p.caCert = string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: p.httpServer.Certificate().Raw}))
	require.NotEmpty(p.caCert)
	return p
}

// Stop stops the running TestProvider.
func (p *TestProvider) Stop() {
	p.httpServer.Close()
}

// Addr returns the current base URL for the test provider's running webserver,
// which is also its issuer.
func (p *TestProvider) Addr() string { return p.httpServer.URL }

// AuthURL returns the provider's authorization endpoint.
func (p *TestProvider) AuthURL() string { return p.Addr() + "/auth" }

// TokenURL returns the provider's token endpoint.
func (p *TestProvider) TokenURL() string { return p.Addr() + "/token" }

// CACert returns the pem-encoded CA certificate used by the test provider's
// HTTPS server.
func (p *TestProvider) CACert() string { return p.caCert }

// ClientID returns the client id the provider accepts.
func (p *TestProvider) ClientID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.clientID
}

// HTTPClient returns a client which trusts the provider's CA and doesn't
// follow redirects.
func (p *TestProvider) HTTPClient() *http.Client {
	c, err := sdkHttp.NewClient(p.caCert)
	require.NoError(p.t, err)
	return c
}

// SetClientID configures the client id the provider accepts.
func (p *TestProvider) SetClientID(clientID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clientID = clientID
}

// SetAllowedRedirectURIs restricts the redirect URIs the provider accepts.  By
// default any loopback http redirect URI is accepted.
func (p *TestProvider) SetAllowedRedirectURIs(uris ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.allowedRedirectURIs = uris
}

// SetAuthError makes /auth redirect with an authorization error instead of a
// code.  Pass nil to reset.
func (p *TestProvider) SetAuthError(e *LoginError) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.authError = e
}

// SetTokenError makes /token answer with an error response.  Pass nil to
// reset.
func (p *TestProvider) SetTokenError(e *RejectedError) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokenError = e
}

// SetMalformedTokenResponse makes /token answer 200 with a body that isn't a
// token response.
func (p *TestProvider) SetMalformedTokenResponse(malformed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokenMalformed = malformed
}

// SetTokenRedirect makes /token answer with a redirect to location.
func (p *TestProvider) SetTokenRedirect(location string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokenRedirect = location
}

// OmitIDTokens makes /token answer without an id_token.
func (p *TestProvider) OmitIDTokens() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitIDToken = true
}

// SetCustomAudience configures what audience value to embed in the id_token.
func (p *TestProvider) SetCustomAudience(aud string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customAudience = aud
}

// SetForgedState makes the test browser replace the redirect's state with
// state, simulating a forged redirect.
func (p *TestProvider) SetForgedState(state string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.forgedState = state
}

// TokenRequests returns the number of requests received by /token.
func (p *TestProvider) TokenRequests() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tokenRequests
}

// LastAuthRequest returns the query of the last request received by /auth.
func (p *TestProvider) LastAuthRequest() url.Values {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastAuthRequest
}

// Browser returns a BrowserFunc which plays the part of the user's browser:
// it follows the authorization URL to the provider and then delivers the
// provider's redirect to the loopback listener.  It returns right away and
// does its work in a go routine.
func (p *TestProvider) Browser() BrowserFunc {
	return func(ctx context.Context, authURL string) error {
		go p.follow(ctx, authURL)
		return nil
	}
}

func (p *TestProvider) follow(ctx context.Context, authURL string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, authURL, nil)
	if err != nil {
		return
	}
	resp, err := p.HTTPClient().Do(req)
	if err != nil {
		return
	}
	resp.Body.Close()
	location := resp.Header.Get("Location")
	if location == "" {
		return
	}

	p.mu.Lock()
	forged := p.forgedState
	p.mu.Unlock()
	if forged != "" {
		u, err := url.Parse(location)
		if err != nil {
			return
		}
		q := u.Query()
		q.Set("state", forged)
		u.RawQuery = q.Encode()
		location = u.String()
	}

	cbReq, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return
	}
	if cbResp, err := http.DefaultClient.Do(cbReq); err == nil {
		_, _ = io.Copy(io.Discard, cbResp.Body)
		cbResp.Body.Close()
	}
}

func (p *TestProvider) writeJSON(w http.ResponseWriter, status int, out interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(out)
}

func (p *TestProvider) writeAuthErrorResponse(w http.ResponseWriter, req *http.Request, redirectURI, state, errorCode, errorMessage string) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_request", "bad redirect_uri")
		return
	}
	q := u.Query()
	q.Set("state", state)
	q.Set("error", errorCode)
	if errorMessage != "" {
		q.Set("error_description", errorMessage)
	}
	u.RawQuery = q.Encode()
	http.Redirect(w, req, u.String(), http.StatusFound)
}

func (p *TestProvider) writeTokenErrorResponse(w http.ResponseWriter, statusCode int, errorCode, errorMessage string) {
	body := struct {
		Code string `json:"error"`
		Desc string `json:"error_description,omitempty"`
	}{
		Code: errorCode,
		Desc: errorMessage,
	}
	p.writeJSON(w, statusCode, &body)
}

// ServeHTTP implements the test provider's http.Handler.
func (p *TestProvider) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch req.URL.Path {
	case "/.well-known/openid-configuration":
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		reply := struct {
			Issuer                   string   `json:"issuer"`
			AuthEndpoint             string   `json:"authorization_endpoint"`
			TokenEndpoint            string   `json:"token_endpoint"`
			JWKSURI                  string   `json:"jwks_uri"`
			ResponseTypes            []string `json:"response_types_supported"`
			CodeChallengeMethods     []string `json:"code_challenge_methods_supported"`
			IDTokenSigningAlgs       []string `json:"id_token_signing_alg_values_supported"`
			TokenEndpointAuthMethods []string `json:"token_endpoint_auth_methods_supported"`
			SubjectTypesSupported    []string `json:"subject_types_supported"`
			ScopesSupported          []string `json:"scopes_supported"`
		}{
			Issuer:                   p.Addr(),
			AuthEndpoint:             p.AuthURL(),
			TokenEndpoint:            p.TokenURL(),
			JWKSURI:                  p.Addr() + "/certs",
			ResponseTypes:            []string{"code"},
			CodeChallengeMethods:     []string{string(S256)},
			IDTokenSigningAlgs:       []string{string(jose.ES256)},
			TokenEndpointAuthMethods: []string{"none"},
			SubjectTypesSupported:    []string{"public"},
			ScopesSupported:          []string{"openid", "email", "profile"},
		}
		p.writeJSON(w, http.StatusOK, &reply)

	case "/auth":
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		p.handleAuth(w, req)

	case "/certs":
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		p.writeJSON(w, http.StatusOK, p.jwks)

	case "/token":
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		p.tokenRequests++
		p.handleToken(w, req)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// handleAuth must be called with p.mu held.
func (p *TestProvider) handleAuth(w http.ResponseWriter, req *http.Request) {
	qv := req.URL.Query()
	p.lastAuthRequest = qv

	redirectURI := qv.Get("redirect_uri")
	if !p.redirectAllowed(redirectURI) {
		// never redirect to an unverified uri
		p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_request", "redirect_uri is not allowed")
		return
	}
	state := qv.Get("state")
	switch {
	case state == "":
		p.writeAuthErrorResponse(w, req, redirectURI, state, "invalid_request", "missing state parameter")
		return
	case qv.Get("response_type") != "code":
		p.writeAuthErrorResponse(w, req, redirectURI, state, "unsupported_response_type", "")
		return
	case qv.Get("client_id") != p.clientID:
		p.writeAuthErrorResponse(w, req, redirectURI, state, "unauthorized_client", "unknown client_id")
		return
	case !slices.Contains(strings.Fields(qv.Get("scope")), "openid"):
		p.writeAuthErrorResponse(w, req, redirectURI, state, "invalid_scope", "openid scope is required")
		return
	case qv.Get("code_challenge_method") != string(S256) || qv.Get("code_challenge") == "":
		p.writeAuthErrorResponse(w, req, redirectURI, state, "invalid_request", "S256 code challenge is required")
		return
	case p.authError != nil:
		p.writeAuthErrorResponse(w, req, redirectURI, state, p.authError.Code, p.authError.Description)
		return
	}

	code := rand.Text()
	p.codes[code] = testAuthRequest{
		clientID:    p.clientID,
		redirectURI: redirectURI,
		challenge:   qv.Get("code_challenge"),
		nonce:       qv.Get("nonce"),
	}
	u, _ := url.Parse(redirectURI)
	q := u.Query()
	q.Set("code", code)
	q.Set("state", state)
	u.RawQuery = q.Encode()
	http.Redirect(w, req, u.String(), http.StatusFound)
}

// handleToken must be called with p.mu held.
func (p *TestProvider) handleToken(w http.ResponseWriter, req *http.Request) {
	switch {
	case p.tokenRedirect != "":
		http.Redirect(w, req, p.tokenRedirect, http.StatusTemporaryRedirect)
		return
	case p.tokenError != nil:
		p.writeTokenErrorResponse(w, p.tokenError.StatusCode, p.tokenError.Code, p.tokenError.Description)
		return
	case p.tokenMalformed:
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token": `)
		return
	}

	if err := req.ParseForm(); err != nil {
		p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_request", "unable to parse form")
		return
	}
	code := req.PostForm.Get("code")
	authReq, ok := p.codes[code]
	// codes are single-use, even when the request fails
	delete(p.codes, code)

	switch {
	case req.PostForm.Get("grant_type") != "authorization_code":
		p.writeTokenErrorResponse(w, http.StatusBadRequest, "unsupported_grant_type", "bad grant_type")
		return
	case req.PostForm.Get("client_secret") != "":
		p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_request", "public clients don't have a secret")
		return
	case !ok:
		p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "unknown or already used code")
		return
	case req.PostForm.Get("client_id") != authReq.clientID:
		p.writeTokenErrorResponse(w, http.StatusUnauthorized, "invalid_client", "client_id doesn't match")
		return
	case req.PostForm.Get("redirect_uri") != authReq.redirectURI:
		p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "redirect_uri doesn't match")
		return
	case s256Challenge(req.PostForm.Get("code_verifier")) != authReq.challenge:
		p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "code_verifier doesn't match")
		return
	}

	reply := struct {
		AccessToken  string `json:"access_token"`
		TokenType    string `json:"token_type"`
		ExpiresIn    int    `json:"expires_in"`
		RefreshToken string `json:"refresh_token"`
		IDToken      string `json:"id_token,omitempty"`
	}{
		AccessToken:  "at_" + rand.Text(),
		TokenType:    "Bearer",
		ExpiresIn:    3600,
		RefreshToken: "rt_" + rand.Text(),
	}
	if !p.omitIDToken {
		idToken, err := p.idToken(authReq)
		if err != nil {
			p.writeTokenErrorResponse(w, http.StatusInternalServerError, "server_error", "unable to sign id_token")
			return
		}
		reply.IDToken = idToken
	}
	w.Header().Set("Cache-Control", "no-store")
	p.writeJSON(w, http.StatusOK, &reply)
}

func (p *TestProvider) idToken(authReq testAuthRequest) (string, error) {
	now := time.Now()
	claims := jwt.Claims{
		Issuer:    p.Addr(),
		Subject:   p.subject,
		Audience:  jwt.Audience{authReq.clientID},
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now.Add(-5 * time.Second)),
		Expiry:    jwt.NewNumericDate(now.Add(5 * time.Minute)),
	}
	if p.customAudience != "" {
		claims.Audience = jwt.Audience{p.customAudience}
	}
	var private interface{}
	if authReq.nonce != "" {
		private = map[string]interface{}{"nonce": authReq.nonce}
	}
	return signJWT(p.privKey, testProviderKeyID, claims, private)
}

// redirectAllowed must be called with p.mu held.
func (p *TestProvider) redirectAllowed(redirectURI string) bool {
	if len(p.allowedRedirectURIs) > 0 {
		return slices.Contains(p.allowedRedirectURIs, redirectURI)
	}
	_, _, _, err := parseLoopbackRedirect(redirectURI)
	return err == nil
}
