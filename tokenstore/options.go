// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package tokenstore

import "github.com/hashicorp/go-hclog"

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option func(interface{})

// storeOptions is the set of available options for FileStore
type storeOptions struct {
	withDir    string
	withLogger hclog.Logger
}

func storeDefaults() storeOptions {
	return storeOptions{
		withDir:    DefaultRoot(),
		withLogger: hclog.NewNullLogger(),
	}
}

func getStoreOpts(opt ...Option) storeOptions {
	opts := storeDefaults()
	for _, o := range opt {
		if o != nil {
			o(&opts)
		}
	}
	opts.withLogger = opts.withLogger.Named("token-store")
	return opts
}

// WithDir provides an optional directory for: FileStore.  The default is the
// XDG data home's cap-desktop/tokens.
func WithDir(dir string) Option {
	return func(o interface{}) {
		if o, ok := o.(*storeOptions); ok && dir != "" {
			o.withDir = dir
		}
	}
}

// WithLogger provides an optional logger for: FileStore.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*storeOptions); ok && l != nil {
			o.withLogger = l
		}
	}
}
