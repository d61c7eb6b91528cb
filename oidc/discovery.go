// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"fmt"
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"
)

// discover fetches the issuer's discovery document and returns a copy of the
// config whose empty endpoints are filled from it, along with a verifier for
// the issuer's id_tokens.
//
// See: https://openid.net/specs/openid-connect-discovery-1_0.html
func discover(ctx context.Context, c *Config, client *http.Client) (*Config, *oidc.IDTokenVerifier, error) {
	const op = "discover"
	// the provider's key set keeps using the client carried by this context
	p, err := oidc.NewProvider(HttpClientContext(ctx, client), c.Issuer)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: unable to discover issuer %q: %w: %w", op, c.Issuer, ErrInvalidConfig, err)
	}
	discovered := *c
	ep := p.Endpoint()
	if discovered.AuthURL == "" {
		discovered.AuthURL = ep.AuthURL
	}
	if discovered.TokenURL == "" {
		discovered.TokenURL = ep.TokenURL
	}
	if err := discovered.Validate(); err != nil {
		return nil, nil, fmt.Errorf("%s: discovered endpoints: %w", op, err)
	}
	return &discovered, p.Verifier(&oidc.Config{ClientID: c.ClientID}), nil
}

// verifyIDToken verifies the id_token's signature, issuer, audience, expiry
// and nonce.
func verifyIDToken(ctx context.Context, v *oidc.IDTokenVerifier, client *http.Client, raw IDToken, nonce string) error {
	const op = "verifyIDToken"
	if raw == "" {
		return fmt.Errorf("%s: id_token is missing: %w", op, ErrIDTokenVerificationFailed)
	}
	idToken, err := v.Verify(HttpClientContext(ctx, client), string(raw))
	if err != nil {
		return fmt.Errorf("%s: %w: %w", op, ErrIDTokenVerificationFailed, err)
	}
	if !stateMatches(idToken.Nonce, nonce) {
		return fmt.Errorf("%s: nonce doesn't match: %w", op, ErrIDTokenVerificationFailed)
	}
	return nil
}
