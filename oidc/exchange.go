// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/oauth2"
)

// Exchanger exchanges an authorization code for a Token.
type Exchanger interface {
	Exchange(ctx context.Context, code string, v CodeVerifier, redirectURL string) (*Token, error)
}

// TokenExchanger performs the authorization code grant against the
// provider's token endpoint, as a public client with PKCE.  It implements the
// Exchanger interface.
type TokenExchanger struct {
	clientID string
	tokenURL string
	client   *http.Client
	logger   hclog.Logger
	scopes   []string
}

// ensure that TokenExchanger implements the Exchanger interface
var _ Exchanger = (*TokenExchanger)(nil)

// NewTokenExchanger creates a new TokenExchanger for the config's token
// endpoint.  Unless WithHTTPClient is provided, it uses the config's http
// client, which doesn't follow redirects.
//
// Supported options: WithLogger, WithHTTPClient
func NewTokenExchanger(c *Config, opt ...Option) (*TokenExchanger, error) {
	const op = "NewTokenExchanger"
	if c == nil {
		return nil, fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter)
	}
	if err := validateEndpoint(c.TokenURL); err != nil {
		return nil, fmt.Errorf("%s: token url: %w", op, err)
	}
	opts := getExchangerOpts(opt...)
	client := opts.withHTTPClient
	if client == nil {
		var err error
		if client, err = c.HttpClient(); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	return &TokenExchanger{
		clientID: c.ClientID,
		tokenURL: c.TokenURL,
		client:   client,
		logger:   opts.withLogger,
		scopes:   requestedScopes(c.Scopes),
	}, nil
}

// Exchange sends the authorization code, redirect URL and PKCE verifier to the
// token endpoint.  It never retries.  Errors are:
//
//   - ErrExchangeNetwork when the endpoint can't be reached;
//   - *RejectedError (ErrExchangeRejected) when the endpoint answers with a
//     non-2xx status, including a redirect which isn't followed;
//   - ErrMalformedTokenResponse when a 2xx response can't be used;
//   - ErrCanceled when ctx is done.
//
// See: https://www.rfc-editor.org/rfc/rfc7636#section-4.5
func (e *TokenExchanger) Exchange(ctx context.Context, code string, v CodeVerifier, redirectURL string) (*Token, error) {
	const op = "TokenExchanger.Exchange"
	switch {
	case code == "":
		return nil, fmt.Errorf("%s: code is empty: %w", op, ErrInvalidParameter)
	case v == nil:
		return nil, fmt.Errorf("%s: code verifier is nil: %w", op, ErrNilParameter)
	case redirectURL == "":
		return nil, fmt.Errorf("%s: redirect url is empty: %w", op, ErrInvalidParameter)
	}
	oauth2Config := oauth2.Config{
		ClientID:    e.clientID,
		RedirectURL: redirectURL,
		Endpoint: oauth2.Endpoint{
			TokenURL:  e.tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
		Scopes: e.scopes,
	}
	oauth2Token, err := oauth2Config.Exchange(HttpClientContext(ctx, e.client), code, oauth2.VerifierOption(v.Verifier()))
	if err != nil {
		err = exchangeError(ctx, err)
		e.logger.Debug("token exchange failed", "error", err)
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	tk, err := NewToken(oauth2Token)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	e.logger.Debug("token exchange succeeded", "token_type", tk.TokenType, "expiry", tk.Expiry)
	return tk, nil
}

// exchangeError maps an oauth2 exchange error to the exchange error taxonomy.
func exchangeError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %w", ErrCanceled, ctx.Err())
	}
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		rejected := &RejectedError{
			Code:        retrieveErr.ErrorCode,
			Description: retrieveErr.ErrorDescription,
			URI:         retrieveErr.ErrorURI,
		}
		if retrieveErr.Response != nil {
			rejected.StatusCode = retrieveErr.Response.StatusCode
		}
		return rejected
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return fmt.Errorf("%w: %w", ErrExchangeNetwork, err)
	}
	return fmt.Errorf("%w: %w", ErrMalformedTokenResponse, err)
}

// exchangerOptions is the set of available options for TokenExchanger
type exchangerOptions struct {
	withLogger     hclog.Logger
	withHTTPClient *http.Client
}

// exchangerDefaults is a handy way to get the defaults at runtime and during
// unit tests.
func exchangerDefaults() exchangerOptions {
	return exchangerOptions{
		withLogger: hclog.NewNullLogger(),
	}
}

// getExchangerOpts gets the defaults and applies the opt overrides passed in.
func getExchangerOpts(opt ...Option) exchangerOptions {
	opts := exchangerDefaults()
	ApplyOpts(&opts, opt...)
	opts.withLogger = opts.withLogger.Named("exchanger")
	return opts
}
