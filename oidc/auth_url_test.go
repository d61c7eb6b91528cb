// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"errors"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
)

func TestBuildAuthURL(t *testing.T) {
	t.Parallel()
	const (
		redirect = "http://localhost:8400/callback"
		csrf     = "csrf-token-value"
	)
	c, err := NewConfig("desktop-app", "https://idp.example.com/oauth2/authorize?audience=api", "https://idp.example.com/oauth2/token",
		WithScopes("email", "openid", " ", "email", "offline_access"))
	require.NoError(t, err)
	v := NewCodeVerifier()

	t.Run("parameters", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		got, err := BuildAuthURL(c, redirect, csrf, v)
		require.NoError(err)

		u, err := url.Parse(got)
		require.NoError(err)
		assert.Equal("https", u.Scheme)
		assert.Equal("idp.example.com", u.Host)
		assert.Equal("/oauth2/authorize", u.Path)

		q := u.Query()
		assert.Equal("api", q.Get("audience"))
		assert.Equal("desktop-app", q.Get("client_id"))
		assert.Equal("code", q.Get("response_type"))
		assert.Equal(redirect, q.Get("redirect_uri"))
		assert.Equal(csrf, q.Get("state"))
		assert.Equal(v.Challenge(), q.Get("code_challenge"))
		assert.Equal("S256", q.Get("code_challenge_method"))
		assert.Equal("openid email offline_access", q.Get("scope"))
		assert.False(q.Has("nonce"))
		assert.False(q.Has("ui_locales"))
		// the verifier itself never leaves the process in the auth url
		assert.NotContains(got, v.Verifier())
	})
	t.Run("deterministic", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		u1, err := BuildAuthURL(c, redirect, csrf, v)
		require.NoError(err)
		u2, err := BuildAuthURL(c, redirect, csrf, v.Copy())
		require.NoError(err)
		assert.Equal(u1, u2)
	})
	t.Run("options", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		got, err := BuildAuthURL(c, redirect, csrf, v, WithNonce("n-123"), WithUILocales(language.CanadianFrench, language.English))
		require.NoError(err)
		u, err := url.Parse(got)
		require.NoError(err)
		assert.Equal("n-123", u.Query().Get("nonce"))
		assert.Equal("fr-CA en", u.Query().Get("ui_locales"))
	})
	t.Run("errors", func(t *testing.T) {
		badAuth := *c
		badAuth.AuthURL = "not-a-url"
		tests := []struct {
			name      string
			config    *Config
			redirect  string
			csrf      string
			verifier  CodeVerifier
			wantIsErr error
		}{
			{name: "nil-config", redirect: redirect, csrf: csrf, verifier: v, wantIsErr: ErrNilParameter},
			{name: "nil-verifier", config: c, redirect: redirect, csrf: csrf, wantIsErr: ErrNilParameter},
			{name: "empty-csrf", config: c, redirect: redirect, verifier: v, wantIsErr: ErrInvalidParameter},
			{name: "empty-redirect", config: c, csrf: csrf, verifier: v, wantIsErr: ErrInvalidParameter},
			{name: "bad-auth-url", config: &badAuth, redirect: redirect, csrf: csrf, verifier: v, wantIsErr: ErrInvalidConfig},
			{name: "plain-method", config: c, redirect: redirect, csrf: csrf, verifier: &S256Verifier{verifier: "v", challenge: "v", method: "plain"}, wantIsErr: ErrUnsupportedChallengeMethod},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				assert, require := assert.New(t), require.New(t)
				got, err := BuildAuthURL(tt.config, tt.redirect, tt.csrf, tt.verifier)
				require.Error(err)
				assert.Empty(got)
				assert.Truef(errors.Is(err, tt.wantIsErr), "wanted \"%s\" but got \"%s\"", tt.wantIsErr, err)
			})
		}
	})
}
