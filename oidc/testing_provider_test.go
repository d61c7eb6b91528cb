// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTestProvider_Discovery(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	tp := StartTestProvider(t)
	client := tp.HTTPClient()

	resp, err := client.Get(tp.Addr() + "/.well-known/openid-configuration")
	require.NoError(err)
	defer resp.Body.Close()
	require.Equal(http.StatusOK, resp.StatusCode)
	var doc map[string]interface{}
	require.NoError(json.NewDecoder(resp.Body).Decode(&doc))
	assert.Equal(tp.Addr(), doc["issuer"])
	assert.Equal(tp.AuthURL(), doc["authorization_endpoint"])
	assert.Equal(tp.TokenURL(), doc["token_endpoint"])

	certs, err := client.Get(tp.Addr() + "/certs")
	require.NoError(err)
	defer certs.Body.Close()
	var jwks jose.JSONWebKeySet
	require.NoError(json.NewDecoder(certs.Body).Decode(&jwks))
	require.Len(jwks.Key(testProviderKeyID), 1)
	assert.Equal(string(jose.ES256), jwks.Key(testProviderKeyID)[0].Algorithm)

	resp404, err := client.Get(tp.Addr() + "/nope")
	require.NoError(err)
	defer resp404.Body.Close()
	assert.Equal(http.StatusNotFound, resp404.StatusCode)
}

func TestTestProvider_Auth(t *testing.T) {
	t.Parallel()
	tp := StartTestProvider(t)
	v := NewCodeVerifier()
	c, err := NewConfig(tp.ClientID(), tp.AuthURL(), tp.TokenURL())
	require.NoError(t, err)

	tests := []struct {
		name         string
		redirect     string
		allowed      []string
		mutate       func(q url.Values)
		wantStatus   int
		wantError    string
		wantNoLocate bool
	}{
		{
			name:       "valid",
			redirect:   testRedirect,
			wantStatus: http.StatusFound,
		},
		{
			name:         "non-loopback-redirect",
			redirect:     "https://evil.example.com/callback",
			wantStatus:   http.StatusBadRequest,
			wantNoLocate: true,
		},
		{
			name:         "not-registered",
			redirect:     testRedirect,
			allowed:      []string{"http://127.0.0.1:9999/callback"},
			wantStatus:   http.StatusBadRequest,
			wantNoLocate: true,
		},
		{
			name:       "plain-challenge",
			redirect:   testRedirect,
			mutate:     func(q url.Values) { q.Set("code_challenge_method", "plain") },
			wantStatus: http.StatusFound,
			wantError:  "invalid_request",
		},
		{
			name:       "unknown-client",
			redirect:   testRedirect,
			mutate:     func(q url.Values) { q.Set("client_id", "someone-else") },
			wantStatus: http.StatusFound,
			wantError:  "unauthorized_client",
		},
		{
			name:       "no-openid-scope",
			redirect:   testRedirect,
			mutate:     func(q url.Values) { q.Set("scope", "email") },
			wantStatus: http.StatusFound,
			wantError:  "invalid_scope",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			tp.SetAllowedRedirectURIs(tt.allowed...)
			authURL, err := BuildAuthURL(c, tt.redirect, "state-value", v)
			require.NoError(err)
			u, err := url.Parse(authURL)
			require.NoError(err)
			if tt.mutate != nil {
				q := u.Query()
				tt.mutate(q)
				u.RawQuery = q.Encode()
			}

			resp, err := tp.HTTPClient().Get(u.String())
			require.NoError(err)
			defer resp.Body.Close()
			assert.Equal(tt.wantStatus, resp.StatusCode)
			location := resp.Header.Get("Location")
			if tt.wantNoLocate {
				assert.Empty(location)
				return
			}
			require.True(strings.HasPrefix(location, tt.redirect))
			loc, err := url.Parse(location)
			require.NoError(err)
			assert.Equal("state-value", loc.Query().Get("state"))
			if tt.wantError != "" {
				assert.Equal(tt.wantError, loc.Query().Get("error"))
				assert.Empty(loc.Query().Get("code"))
				return
			}
			assert.NotEmpty(loc.Query().Get("code"))
		})
	}
}

func TestTestProvider_Token(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	tp := StartTestProvider(t)
	v := NewCodeVerifier()
	code := testAuthorize(t, tp, testRedirect, v)

	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"client_id":     {tp.ClientID()},
		"redirect_uri":  {testRedirect},
		"code_verifier": {v.Verifier()},
	}
	resp, err := tp.HTTPClient().PostForm(tp.TokenURL(), form)
	require.NoError(err)
	defer resp.Body.Close()
	require.Equal(http.StatusOK, resp.StatusCode)
	assert.Equal("no-store", resp.Header.Get("Cache-Control"))
	var reply map[string]interface{}
	require.NoError(json.NewDecoder(resp.Body).Decode(&reply))
	assert.Equal("Bearer", reply["token_type"])
	assert.NotEmpty(reply["access_token"])
	assert.NotEmpty(reply["id_token"])

	// the same code can't be redeemed twice
	again, err := tp.HTTPClient().PostForm(tp.TokenURL(), form)
	require.NoError(err)
	defer again.Body.Close()
	assert.Equal(http.StatusBadRequest, again.StatusCode)
	var errReply map[string]interface{}
	require.NoError(json.NewDecoder(again.Body).Decode(&errReply))
	assert.Equal("invalid_grant", errReply["error"])
	assert.Equal(2, tp.TokenRequests())

	get, err := tp.HTTPClient().Get(tp.TokenURL())
	require.NoError(err)
	defer get.Body.Close()
	assert.Equal(http.StatusMethodNotAllowed, get.StatusCode)
}

func TestTestProvider_TokenSigningFailure(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	tp := StartTestProvider(t)
	// ES256 can't sign with a P-384 key
	wrongCurve, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	require.NoError(err)
	tp.mu.Lock()
	tp.privKey = wrongCurve
	tp.mu.Unlock()

	v := NewCodeVerifier()
	code := testAuthorize(t, tp, testRedirect, v)
	resp, err := tp.HTTPClient().PostForm(tp.TokenURL(), url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"client_id":     {tp.ClientID()},
		"redirect_uri":  {testRedirect},
		"code_verifier": {v.Verifier()},
	})
	require.NoError(err)
	defer resp.Body.Close()
	assert.Equal(http.StatusInternalServerError, resp.StatusCode)
	var errReply map[string]interface{}
	require.NoError(json.NewDecoder(resp.Body).Decode(&errReply))
	assert.Equal("server_error", errReply["error"])
}
