// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/cap-desktop/oidc/callback"
	"github.com/hashicorp/cap-desktop/util"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/text/language"
)

// BrowserFunc opens the authorization URL in the user's browser.  It must not
// block until the user finishes logging in.
type BrowserFunc func(ctx context.Context, authURL string) error

// Authenticator runs browser-delegated authorization code + PKCE attempts
// for a desktop application.  An Authenticator runs at most one attempt at a
// time.
//
// Done() must be called when the Authenticator is no longer needed, which
// cancels any pending attempt.
type Authenticator struct {
	config        *Config
	exchanger     Exchanger
	client        *http.Client
	idTokenVerify *oidc.IDTokenVerifier
	browser       BrowserFunc
	hook          func(Transition)
	uiLocales     []language.Tag
	logger        hclog.Logger

	inFlight atomic.Bool

	backgroundCtx       context.Context
	backgroundCtxCancel context.CancelFunc
}

// NewAuthenticator creates and initializes an Authenticator.  When the config
// has an Issuer, the issuer is discovered (filling any missing endpoints) and
// id_tokens returned by the token endpoint are verified.
//
// Supported options:
//
//	WithLogger
//	WithHTTPClient
//	WithBrowser
//	WithExchanger
//	WithTransitionHook
//	WithUILocales
func NewAuthenticator(c *Config, opt ...Option) (*Authenticator, error) {
	const op = "NewAuthenticator"
	if c == nil {
		return nil, fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	opts := getAuthenticatorOpts(opt...)

	client := opts.withHTTPClient
	if client == nil {
		var err error
		if client, err = c.HttpClient(); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &Authenticator{
		config:              c,
		client:              client,
		browser:             opts.withBrowser,
		hook:                opts.withTransitionHook,
		uiLocales:           opts.withUILocales,
		logger:              opts.withLogger,
		backgroundCtx:       ctx,
		backgroundCtxCancel: cancel,
	}
	if c.Issuer != "" {
		discovered, verifier, err := discover(ctx, c, client)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		a.config, a.idTokenVerify = discovered, verifier
		a.logger.Debug("issuer discovered", "issuer", c.Issuer, "auth_url", discovered.AuthURL, "token_url", discovered.TokenURL)
	}

	a.exchanger = opts.withExchanger
	if a.exchanger == nil {
		e, err := NewTokenExchanger(a.config, WithHTTPClient(client), WithLogger(a.logger))
		if err != nil {
			cancel()
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		a.exchanger = e
	}
	return a, nil
}

// Done with the authenticator's background resources; any pending attempt is
// canceled.  It's safe to call more than once.
func (a *Authenticator) Done() {
	if a.backgroundCtxCancel != nil {
		a.backgroundCtxCancel()
	}
}

// Config returns the authenticator's config, including any discovered
// endpoints.
func (a *Authenticator) Config() *Config { return a.config }

// Authenticate runs a single authentication attempt: it binds the callback
// listener, opens the browser to the provider's authorization URL, waits for
// the redirect, validates it and exchanges the authorization code.  Exactly
// one outcome is returned: a Token, or an error which ReasonOf classifies.
//
// Authenticate returns ErrAttemptInProgress when an attempt is already
// pending, ErrTimeout when no redirect arrives within the config's timeout,
// and ErrCanceled when ctx is done or the authenticator is Done.  The callback
// listener is released before Authenticate returns.
func (a *Authenticator) Authenticate(ctx context.Context) (*Token, error) {
	const op = "Authenticator.Authenticate"
	if ctx == nil {
		return nil, fmt.Errorf("%s: context is nil: %w", op, ErrNilParameter)
	}
	if !a.inFlight.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("%s: %w", op, ErrAttemptInProgress)
	}
	defer a.inFlight.Store(false)
	if a.backgroundCtx.Err() != nil {
		return nil, fmt.Errorf("%s: authenticator is done: %w", op, ErrCanceled)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(a.backgroundCtx, cancel)
	defer stop()

	attempt, err := newAttempt(a.logger, a.hook)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	tk, err := a.run(ctx, attempt)
	if err != nil {
		err = attempt.fail(err)
		attempt.logger.Error("authentication failed", "reason", attempt.Reason(), "error", err)
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	attempt.logger.Info("authentication succeeded")
	return tk, nil
}

func (a *Authenticator) run(ctx context.Context, attempt *Attempt) (*Token, error) {
	host, ports, path := a.config.listenerParams()
	l, err := callback.Listen(host, ports, path, callback.WithLogger(a.logger))
	if err != nil {
		if errors.Is(err, callback.ErrInvalidParameter) {
			return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
		return nil, err
	}
	defer l.Close()
	attempt.redirectURL = a.redirectURL(l)

	var urlOpts []Option
	if a.idTokenVerify != nil {
		urlOpts = append(urlOpts, WithNonce(attempt.nonce))
	}
	urlOpts = append(urlOpts, WithUILocales(a.uiLocales...))
	authURL, err := BuildAuthURL(a.config, attempt.redirectURL, attempt.csrfToken, attempt.verifier, urlOpts...)
	if err != nil {
		return nil, err
	}

	if err := a.browser(ctx, authURL); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBrowserLaunch, err)
	}
	if err := attempt.transition(AwaitingCallback); err != nil {
		return nil, err
	}
	attempt.logger.Info("waiting for browser redirect", "port", l.Port(), "timeout", a.config.Timeout)

	rawURL, err := a.await(ctx, l)
	if err != nil {
		return nil, err
	}
	// one redirect per attempt; release the port right away
	_ = l.Close()

	if err := attempt.transition(Validating); err != nil {
		return nil, err
	}
	q, err := ValidateCallback(rawURL, attempt.csrfToken)
	if err != nil {
		if errors.Is(err, ErrCSRFMismatch) {
			attempt.logger.Warn("callback state doesn't match, possible forged redirect")
		}
		return nil, err
	}

	if err := attempt.transition(Exchanging); err != nil {
		return nil, err
	}
	tk, err := a.exchanger.Exchange(ctx, q.Code, attempt.verifier, attempt.redirectURL)
	if err != nil {
		return nil, err
	}
	if a.idTokenVerify != nil {
		if err := verifyIDToken(ctx, a.idTokenVerify, a.client, tk.IDToken, attempt.nonce); err != nil {
			return nil, err
		}
	}

	if err := attempt.transition(Succeeded); err != nil {
		return nil, err
	}
	return tk, nil
}

// await waits for the listener's redirect, the config's timeout or ctx,
// whichever comes first.
func (a *Authenticator) await(ctx context.Context, l *callback.Listener) (string, error) {
	timeout := a.config.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case rawURL := <-l.Result():
		return rawURL, nil
	case <-timer.C:
		return "", fmt.Errorf("no redirect after %s: %w", timeout, ErrTimeout)
	case <-ctx.Done():
		return "", fmt.Errorf("%w: %w", ErrCanceled, ctx.Err())
	}
}

// redirectURL returns the configured fixed redirect URL when it names a port,
// otherwise the URL the listener serves.
func (a *Authenticator) redirectURL(l *callback.Listener) string {
	if a.config.RedirectURL != "" {
		if _, port, _, err := parseLoopbackRedirect(a.config.RedirectURL); err == nil && port == l.Port() {
			return a.config.RedirectURL
		}
	}
	return l.RedirectURL()
}

// authenticatorOptions is the set of available options for Authenticator
type authenticatorOptions struct {
	withLogger         hclog.Logger
	withHTTPClient     *http.Client
	withBrowser        BrowserFunc
	withExchanger      Exchanger
	withTransitionHook func(Transition)
	withUILocales      []language.Tag
}

// authenticatorDefaults is a handy way to get the defaults at runtime and
// during unit tests.
func authenticatorDefaults() authenticatorOptions {
	return authenticatorOptions{
		withLogger: hclog.NewNullLogger(),
		withBrowser: func(_ context.Context, authURL string) error {
			return util.OpenURL(authURL)
		},
	}
}

// getAuthenticatorOpts gets the defaults and applies the opt overrides passed
// in.
func getAuthenticatorOpts(opt ...Option) authenticatorOptions {
	opts := authenticatorDefaults()
	ApplyOpts(&opts, opt...)
	opts.withLogger = opts.withLogger.Named("authenticator")
	return opts
}

// WithBrowser provides an optional BrowserFunc for: Authenticator.  The
// default opens the system browser.
func WithBrowser(fn BrowserFunc) Option {
	return func(o interface{}) {
		if o, ok := o.(*authenticatorOptions); ok && fn != nil {
			o.withBrowser = fn
		}
	}
}

// WithExchanger provides an optional Exchanger for: Authenticator.  The
// default is a TokenExchanger for the config's token endpoint.
func WithExchanger(e Exchanger) Option {
	return func(o interface{}) {
		if o, ok := o.(*authenticatorOptions); ok && e != nil {
			o.withExchanger = e
		}
	}
}

// WithTransitionHook provides an optional hook for: Authenticator, which is
// called synchronously for every state transition of an attempt.
func WithTransitionHook(fn func(Transition)) Option {
	return func(o interface{}) {
		if o, ok := o.(*authenticatorOptions); ok {
			o.withTransitionHook = fn
		}
	}
}
