// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package callback

import "github.com/hashicorp/go-hclog"

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option func(interface{})

// applyOpts takes a pointer to the options struct as a set of default options
// and applies the slice of opts as overrides.
func applyOpts(opts interface{}, opt ...Option) {
	for _, o := range opt {
		if o == nil {
			continue
		}
		o(opts)
	}
}

// listenerOptions is the set of available options for Listen
type listenerOptions struct {
	withLogger       hclog.Logger
	withResponseFunc ResponseFunc
}

// listenerDefaults is a handy way to get the defaults at runtime and during
// unit tests.
func listenerDefaults() listenerOptions {
	return listenerOptions{
		withLogger:       hclog.NewNullLogger(),
		withResponseFunc: SuccessResponse,
	}
}

// getListenerOpts gets the listener defaults and applies the opt overrides
// passed in
func getListenerOpts(opt ...Option) listenerOptions {
	opts := listenerDefaults()
	applyOpts(&opts, opt...)
	return opts
}

// WithLogger provides an optional logger for the Listener
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*listenerOptions); ok && l != nil {
			o.withLogger = l.Named("callback-listener")
		}
	}
}

// WithResponseFunc provides an optional ResponseFunc used to answer the
// browser when the redirect is received.
func WithResponseFunc(fn ResponseFunc) Option {
	return func(o interface{}) {
		if o, ok := o.(*listenerOptions); ok && fn != nil {
			o.withResponseFunc = fn
		}
	}
}
