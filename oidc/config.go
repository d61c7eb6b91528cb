// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/cap-desktop/oidc/callback"
	sdkHttp "github.com/hashicorp/cap-desktop/sdk/http"
)

// DefaultTimeout is how long an attempt waits for the browser redirect when
// no timeout is configured.
const DefaultTimeout = 2 * time.Minute

// Config represents the configuration of a public (secret-less) oauth client
// which uses the authorization code flow with PKCE.  A Config is immutable once
// an attempt has started.
type Config struct {
	// ClientID is the oauth client id registered with the provider.
	ClientID string

	// AuthURL is the provider's authorization endpoint.  It may be empty when
	// Issuer is set, in which case it's discovered.
	AuthURL string

	// TokenURL is the provider's token endpoint.  It may be empty when Issuer
	// is set, in which case it's discovered.
	TokenURL string

	// RedirectURL is an optional fixed loopback redirect URL
	// (http://localhost:<port>/<path>).  When it's empty, the redirect URL is
	// derived from the bound callback listener.
	RedirectURL string

	// Issuer is an optional OIDC issuer.  When set, the provider's endpoints
	// are discovered and returned id_tokens are verified.
	Issuer string

	// Scopes is a list of additional scopes to request of the provider. The
	// "openid" scope is always requested.
	Scopes []string

	// ProviderCA is an optional CA cert PEM to use when sending requests to
	// the provider.
	ProviderCA string

	// CallbackPorts is the ordered set of loopback ports the callback listener
	// tries.  Empty means an ephemeral port chosen by the OS.
	CallbackPorts []int

	// CallbackPath is the callback listener's path (default: /callback)
	CallbackPath string

	// Timeout is how long an attempt waits for the browser redirect.
	Timeout time.Duration
}

// NewConfig composes a new config for a public oauth client.  authURL and
// tokenURL may be empty only when an issuer is provided with WithIssuer.
//
// Supported options:
//
//	WithRedirectURL
//	WithIssuer
//	WithScopes
//	WithProviderCA
//	WithCallbackPorts
//	WithCallbackPortRange
//	WithCallbackPath
//	WithTimeout
func NewConfig(clientID, authURL, tokenURL string, opt ...Option) (*Config, error) {
	const op = "NewConfig"
	opts := getConfigOpts(opt...)
	c := &Config{
		ClientID:      clientID,
		AuthURL:       authURL,
		TokenURL:      tokenURL,
		RedirectURL:   opts.withRedirectURL,
		Issuer:        opts.withIssuer,
		Scopes:        opts.withScopes,
		ProviderCA:    opts.withProviderCA,
		CallbackPorts: opts.withCallbackPorts,
		CallbackPath:  opts.withCallbackPath,
		Timeout:       opts.withTimeout,
	}
	if c.CallbackPath == "" {
		c.CallbackPath = callback.DefaultPath
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if opts.withPortRangeErr != nil {
		return nil, fmt.Errorf("%s: %w", op, opts.withPortRangeErr)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return c, nil
}

// Validate the client configuration.  It doesn't verify that the endpoints
// are reachable.
func (c *Config) Validate() error {
	const op = "Config.Validate"
	if c == nil {
		return fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter)
	}
	if c.ClientID == "" {
		return fmt.Errorf("%s: client id is empty: %w", op, ErrInvalidConfig)
	}
	if c.Issuer != "" {
		if err := validateEndpoint(c.Issuer); err != nil {
			return fmt.Errorf("%s: issuer: %w", op, err)
		}
	}
	endpoints := []struct{ name, url string }{
		{"auth", c.AuthURL},
		{"token", c.TokenURL},
	}
	for _, ep := range endpoints {
		switch {
		case ep.url == "" && c.Issuer != "":
			// discovered
		case ep.url == "":
			return fmt.Errorf("%s: %s url is empty and no issuer was provided: %w", op, ep.name, ErrInvalidConfig)
		default:
			if err := validateEndpoint(ep.url); err != nil {
				return fmt.Errorf("%s: %s url: %w", op, ep.name, err)
			}
		}
	}
	if c.RedirectURL != "" {
		if _, _, _, err := parseLoopbackRedirect(c.RedirectURL); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	for _, p := range c.CallbackPorts {
		if p < 0 || p > 65535 {
			return fmt.Errorf("%s: callback port %d is out of range: %w", op, p, ErrInvalidConfig)
		}
	}
	if !strings.HasPrefix(c.CallbackPath, "/") {
		return fmt.Errorf("%s: callback path %q must start with /: %w", op, c.CallbackPath, ErrInvalidConfig)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("%s: timeout %s is negative: %w", op, c.Timeout, ErrInvalidConfig)
	}
	if c.ProviderCA != "" {
		if _, err := c.HttpClient(); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	return nil
}

// HttpClient is a helper function that creates a new http client for the
// provider configured.  The client doesn't follow redirects.
func (c *Config) HttpClient() (*http.Client, error) {
	const op = "Config.HttpClient"
	client, err := sdkHttp.NewClient(c.ProviderCA)
	if err != nil {
		if errors.Is(err, sdkHttp.ErrInvalidCertificatePem) {
			return nil, fmt.Errorf("%s: could not parse CA PEM value: %w", op, ErrInvalidCACert)
		}
		return nil, fmt.Errorf("%s: could not get an http client: %w", op, err)
	}
	return client, nil
}

// listenerParams returns the host, ports and path the callback listener binds.
// A fixed RedirectURL overrides CallbackPath, and CallbackPorts too when it
// has an explicit port.
func (c *Config) listenerParams() (host string, ports []int, path string) {
	host, ports, path = callback.DefaultHost, c.CallbackPorts, c.CallbackPath
	if c.RedirectURL == "" {
		return host, ports, path
	}
	h, p, rPath, err := parseLoopbackRedirect(c.RedirectURL)
	if err != nil {
		return host, ports, path
	}
	host = h
	if p != 0 {
		ports = []int{p}
	}
	path = rPath
	if path == "" {
		path = "/"
	}
	return host, ports, path
}

// HttpClientContext is a helper function that returns a new Context that
// carries the provided HTTP client. This method sets the same context key used
// by the github.com/coreos/go-oidc and golang.org/x/oauth2 packages, so the
// returned context works for those packages as well.
func HttpClientContext(ctx context.Context, client *http.Client) context.Context {
	return sdkHttp.OidcClientContext(ctx, client)
}

// validateEndpoint verifies a provider endpoint is an absolute http(s) URL
// without a fragment.
func validateEndpoint(ep string) error {
	u, err := url.Parse(ep)
	if err != nil {
		return fmt.Errorf("%q is invalid: %w: %w", ep, ErrInvalidConfig, err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("%q scheme is not http or https: %w", ep, ErrInvalidConfig)
	}
	if u.Host == "" {
		return fmt.Errorf("%q has no host: %w", ep, ErrInvalidConfig)
	}
	if u.Fragment != "" {
		return fmt.Errorf("%q must not contain a fragment: %w", ep, ErrInvalidConfig)
	}
	return nil
}

// parseLoopbackRedirect parses a fixed redirect URL, which must be an http URL
// for a loopback host.
func parseLoopbackRedirect(redirectURL string) (host string, port int, path string, err error) {
	u, err := url.Parse(redirectURL)
	if err != nil {
		return "", 0, "", fmt.Errorf("redirect url %q is invalid: %w: %w", redirectURL, ErrInvalidConfig, err)
	}
	if u.Scheme != "http" {
		return "", 0, "", fmt.Errorf("redirect url %q scheme must be http: %w", redirectURL, ErrInvalidConfig)
	}
	host = u.Hostname()
	if host != "localhost" {
		if ip := net.ParseIP(host); ip == nil || !ip.IsLoopback() {
			return "", 0, "", fmt.Errorf("redirect url %q is not a loopback address: %w", redirectURL, ErrInvalidConfig)
		}
		if strings.Contains(host, ":") {
			host = "[" + host + "]"
		}
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return "", 0, "", fmt.Errorf("redirect url %q must not contain a query or fragment: %w", redirectURL, ErrInvalidConfig)
	}
	if ps := u.Port(); ps != "" {
		port, err = strconv.Atoi(ps)
		if err != nil || port < 1 || port > 65535 {
			return "", 0, "", fmt.Errorf("redirect url %q port is invalid: %w", redirectURL, ErrInvalidConfig)
		}
	}
	return host, port, u.Path, nil
}

// configOptions is the set of available options for Config
type configOptions struct {
	withRedirectURL   string
	withIssuer        string
	withScopes        []string
	withProviderCA    string
	withCallbackPorts []int
	withCallbackPath  string
	withTimeout       time.Duration
	withPortRangeErr  error
}

// configDefaults is a handy way to get the defaults at runtime and during unit
// tests.
func configDefaults() configOptions {
	return configOptions{}
}

// getConfigOpts gets the defaults and applies the opt overrides passed in.
func getConfigOpts(opt ...Option) configOptions {
	opts := configDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithRedirectURL provides an optional fixed loopback redirect URL for the
// config.
func WithRedirectURL(u string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withRedirectURL = u
		}
	}
}

// WithIssuer provides an optional OIDC issuer for the config.
func WithIssuer(issuer string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withIssuer = issuer
		}
	}
}

// WithScopes provides an optional list of scopes for the config.
func WithScopes(scopes ...string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withScopes = scopes
		}
	}
}

// WithProviderCA provides an optional CA cert PEM for the config.
func WithProviderCA(cert string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withProviderCA = cert
		}
	}
}

// WithCallbackPorts provides an optional ordered set of callback ports for the
// config.
func WithCallbackPorts(ports ...int) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withCallbackPorts = slices.Clone(ports)
		}
	}
}

// WithCallbackPortRange provides an optional inclusive range of callback ports
// for the config.
func WithCallbackPortRange(first, last int) Option {
	return func(o interface{}) {
		co, ok := o.(*configOptions)
		if !ok {
			return
		}
		if first > last {
			co.withPortRangeErr = fmt.Errorf("callback port range %d-%d is empty: %w", first, last, ErrInvalidConfig)
			return
		}
		co.withCallbackPorts = make([]int, 0, last-first+1)
		for p := first; p <= last; p++ {
			co.withCallbackPorts = append(co.withCallbackPorts, p)
		}
	}
}

// WithCallbackPath provides an optional callback path for the config.
func WithCallbackPath(p string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withCallbackPath = p
		}
	}
}

// WithTimeout provides an optional callback timeout for the config.
func WithTimeout(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withTimeout = d
		}
	}
}
