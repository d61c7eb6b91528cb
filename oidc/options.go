// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"net/http"

	"github.com/hashicorp/go-hclog"
)

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option func(interface{})

// ApplyOpts takes a pointer to the options struct as a set of default options
// and applies the slice of opts as overrides.
func ApplyOpts(opts interface{}, opt ...Option) {
	for _, o := range opt {
		if o == nil { // ignore any nil Options
			continue
		}
		o(opts)
	}
}

// WithLogger provides an optional logger for: Authenticator, TokenExchanger
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if l == nil {
			return
		}
		switch v := o.(type) {
		case *authenticatorOptions:
			v.withLogger = l
		case *exchangerOptions:
			v.withLogger = l
		}
	}
}

// WithHTTPClient provides an optional http client for: Authenticator,
// TokenExchanger.  The client is used as-is, so callers are responsible for
// disabling redirects on it (see sdk/http.NewClient).
func WithHTTPClient(c *http.Client) Option {
	return func(o interface{}) {
		if c == nil {
			return
		}
		switch v := o.(type) {
		case *authenticatorOptions:
			v.withHTTPClient = c
		case *exchangerOptions:
			v.withHTTPClient = c
		}
	}
}
