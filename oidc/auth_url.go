// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"fmt"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
	"golang.org/x/text/language"
)

// BuildAuthURL builds the provider authorization URL the user's browser is
// sent to.  The URL is deterministic for a fixed set of inputs and contains:
// client_id, response_type=code, redirect_uri, scope (always including
// "openid"), state, code_challenge and code_challenge_method=S256.
//
// See: https://www.rfc-editor.org/rfc/rfc7636#section-4.3
//
// Supported options: WithNonce, WithUILocales
func BuildAuthURL(c *Config, redirectURL, csrfToken string, v CodeVerifier, opt ...Option) (string, error) {
	const op = "BuildAuthURL"
	switch {
	case c == nil:
		return "", fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter)
	case v == nil:
		return "", fmt.Errorf("%s: code verifier is nil: %w", op, ErrNilParameter)
	case csrfToken == "":
		return "", fmt.Errorf("%s: csrf token is empty: %w", op, ErrInvalidParameter)
	case redirectURL == "":
		return "", fmt.Errorf("%s: redirect url is empty: %w", op, ErrInvalidParameter)
	}
	if err := validateEndpoint(c.AuthURL); err != nil {
		return "", fmt.Errorf("%s: auth url: %w", op, err)
	}
	if v.Method() != S256 {
		return "", fmt.Errorf("%s: %s: %w", op, v.Method(), ErrUnsupportedChallengeMethod)
	}
	opts := getAuthURLOpts(opt...)

	oauth2Config := oauth2.Config{
		ClientID:    c.ClientID,
		RedirectURL: redirectURL,
		Endpoint:    oauth2.Endpoint{AuthURL: c.AuthURL},
		Scopes:      requestedScopes(c.Scopes),
	}
	authCodeOpts := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("code_challenge", v.Challenge()),
		oauth2.SetAuthURLParam("code_challenge_method", string(v.Method())),
	}
	if opts.withNonce != "" {
		authCodeOpts = append(authCodeOpts, oidc.Nonce(opts.withNonce))
	}
	if len(opts.withUILocales) > 0 {
		locales := make([]string, 0, len(opts.withUILocales))
		for _, l := range opts.withUILocales {
			locales = append(locales, l.String())
		}
		authCodeOpts = append(authCodeOpts, oauth2.SetAuthURLParam("ui_locales", strings.Join(locales, " ")))
	}
	return oauth2Config.AuthCodeURL(csrfToken, authCodeOpts...), nil
}

// requestedScopes returns "openid" followed by the configured scopes, without
// duplicates or empty entries.
func requestedScopes(scopes []string) []string {
	out := []string{oidc.ScopeOpenID}
	seen := map[string]struct{}{oidc.ScopeOpenID: {}}
	for _, s := range scopes {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// authURLOptions is the set of available options for BuildAuthURL
type authURLOptions struct {
	withNonce     string
	withUILocales []language.Tag
}

// authURLDefaults is a handy way to get the defaults at runtime and during
// unit tests.
func authURLDefaults() authURLOptions {
	return authURLOptions{}
}

// getAuthURLOpts gets the defaults and applies the opt overrides passed in.
func getAuthURLOpts(opt ...Option) authURLOptions {
	opts := authURLDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithNonce provides an optional OIDC nonce for: BuildAuthURL.  See:
// https://openid.net/specs/openid-connect-core-1_0.html#AuthRequest
func WithNonce(nonce string) Option {
	return func(o interface{}) {
		if o, ok := o.(*authURLOptions); ok {
			o.withNonce = nonce
		}
	}
}

// WithUILocales provides optional preferred languages for the provider's
// login UI for: BuildAuthURL, Authenticator.  See:
// https://openid.net/specs/openid-connect-core-1_0.html#AuthRequest
func WithUILocales(locales ...language.Tag) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *authURLOptions:
			v.withUILocales = locales
		case *authenticatorOptions:
			v.withUILocales = locales
		}
	}
}
